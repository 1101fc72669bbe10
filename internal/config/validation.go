package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

var supportedBackends = map[string]struct{}{
	"directory": {},
	"http":      {},
	"none":      {},
}

const supportedBackendList = "directory|http|none"

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate 先做结构体标签校验，再针对语义级别做进一步校验，防止非法配置进入运行期。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := structValidator.Struct(c); err != nil {
		return translateValidationError(err)
	}

	g := &c.Global
	backend := strings.ToLower(strings.TrimSpace(g.Backend))
	if _, ok := supportedBackends[backend]; !ok {
		return newFieldError("Global.Backend", "仅支持 "+supportedBackendList)
	}
	g.Backend = backend

	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", fmt.Sprintf("无法识别的日志级别: %s", g.LogLevel))
	}
	if g.RemoteTimeout.DurationValue() <= 0 {
		return newFieldError("Global.RemoteTimeout", "必须大于 0")
	}

	switch backend {
	case "http":
		if err := validateRemote(g.RemoteURL); err != nil {
			return newFieldError("Global.RemoteURL", err.Error())
		}
	case "directory":
		if g.CacheDir == "" {
			return newFieldError("Global.CacheDir", "无法确定缓存目录")
		}
	}

	return nil
}

// translateValidationError 将 validator 的错误转换为 FieldError，只报告第一个字段。
func translateValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	reason := fmt.Sprintf("校验失败 (%s)", fe.Tag())
	switch fe.Tag() {
	case "required":
		reason = "不能为空"
	case "url":
		reason = "不是合法的 URL"
	case "gte", "lte":
		reason = fmt.Sprintf("超出范围 (%s=%s)", fe.Tag(), fe.Param())
	case "excludesall":
		reason = "不能包含路径分隔符"
	}
	return newFieldError(field, reason)
}

func validateRemote(raw string) error {
	if raw == "" {
		return errors.New("缺少远端地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，远端: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("远端缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" {
		return fmt.Errorf("远端地址不应包含查询参数: %s", raw)
	}
	return nil
}
