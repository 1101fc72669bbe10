package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供后端与缓存键字段，供各缓存后端的 fetch/put 日志复用。
func CacheFields(backend, key string) logrus.Fields {
	return logrus.Fields{
		"backend":   backend,
		"cache_key": key,
	}
}

// RequestFields 提供归档服务端的访问日志字段。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}
