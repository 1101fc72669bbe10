package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultName 是默认缓存根目录下的子目录名。
const DefaultName = "catchy"

// EnvPrefix 是所有配置项环境变量的前缀，例如 CATCHY_BACKEND、CATCHY_SERVER_LISTENPORT。
const EnvPrefix = "CATCHY"

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides 与 Load 相同，但 overrides（通常来自 CLI 标志）优先级最高：
// overrides > 环境变量 > 配置文件 > 默认值。
func LoadWithOverrides(path string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if strings.EqualFold(strings.TrimSpace(cfg.Global.Backend), "directory") {
		root, err := ResolveCacheRoot(cfg.Global.CacheDir, cfg.Global.Name)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.CacheDir = root
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Server.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析归档存储目录: %w", err)
	}
	cfg.Server.StoragePath = absStorage

	return &cfg, nil
}

// ResolveCacheRoot 按优先级确定本地缓存根目录：
//  1. explicit 非空时直接使用（转为绝对路径）；
//  2. $XDG_CACHE_HOME/<name>（仅接受绝对路径）；
//  3. ~/.cache/<name>。
func ResolveCacheRoot(explicit, name string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}
	if name == "" {
		name = DefaultName
	}

	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, name), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", name), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Backend", "directory")
	v.SetDefault("Name", DefaultName)
	v.SetDefault("CacheDir", "")
	v.SetDefault("RemoteURL", "")
	v.SetDefault("RemoteKey", "")
	v.SetDefault("RemoteTimeout", "30s")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Server.ListenPort", 5080)
	v.SetDefault("Server.StoragePath", "./storage")
	v.SetDefault("Server.WriteKey", "")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if strings.TrimSpace(g.Name) == "" {
		g.Name = DefaultName
	}
	if g.RemoteTimeout.DurationValue() == 0 {
		g.RemoteTimeout = Duration(30 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
