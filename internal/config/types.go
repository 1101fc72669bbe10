package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述客户端侧的缓存后端与日志行为。
type GlobalConfig struct {
	Backend       string   `mapstructure:"Backend" validate:"required"`
	Name          string   `mapstructure:"Name" validate:"required,excludesall=/\\"`
	CacheDir      string   `mapstructure:"CacheDir"`
	RemoteURL     string   `mapstructure:"RemoteURL" validate:"omitempty,url"`
	RemoteKey     string   `mapstructure:"RemoteKey"`
	RemoteTimeout Duration `mapstructure:"RemoteTimeout"`
	LogLevel      string   `mapstructure:"LogLevel" validate:"required"`
	LogFilePath   string   `mapstructure:"LogFilePath"`
	LogMaxSize    int      `mapstructure:"LogMaxSize" validate:"gte=0"`
	LogMaxBackups int      `mapstructure:"LogMaxBackups" validate:"gte=0"`
	LogCompress   bool     `mapstructure:"LogCompress"`
}

// ServerConfig 描述归档服务端（serve 子命令）的监听与存储参数。
type ServerConfig struct {
	ListenPort  int    `mapstructure:"ListenPort" validate:"gte=1,lte=65535"`
	StoragePath string `mapstructure:"StoragePath" validate:"required"`
	WriteKey    string `mapstructure:"WriteKey"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Server ServerConfig `mapstructure:"Server"`
}

// HasRemoteKey 表示是否配置了远端写入令牌。
func (g GlobalConfig) HasRemoteKey() bool {
	return g.RemoteKey != ""
}

// AuthMode 输出 `keyed` 或 `anonymous`，供日志字段使用，避免把令牌本身写进日志。
func (g GlobalConfig) AuthMode() string {
	if g.HasRemoteKey() {
		return "keyed"
	}
	return "anonymous"
}

// AuthMode 输出服务端写入鉴权模式：`keyed` 或 `anonymous`。
func (s ServerConfig) AuthMode() string {
	if s.WriteKey != "" {
		return "keyed"
	}
	return "anonymous"
}
