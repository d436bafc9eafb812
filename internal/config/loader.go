package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultNamespace 与历史部署保持一致的键前缀。
const DefaultNamespace = "httpstore:"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyStoreDefaults(&cfg.Store)
	applyBackendDefaults(&cfg.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Backend.Type == BackendLevelDB {
		absPath, err := filepath.Abs(cfg.Backend.Path)
		if err != nil {
			return nil, fmt.Errorf("无法解析 LevelDB 目录: %w", err)
		}
		cfg.Backend.Path = absPath
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Store.Namespace", DefaultNamespace)
	v.SetDefault("Store.LockTTL", "30s")
	v.SetDefault("Store.LockWait", "5s")
	v.SetDefault("Store.LockRetryInterval", "50ms")
	v.SetDefault("Backend.Type", BackendMemory)
	v.SetDefault("Backend.DialTimeout", "5s")
	v.SetDefault("Backend.ReadTimeout", "3s")
	v.SetDefault("Backend.WriteTimeout", "3s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5080
	}
	if strings.TrimSpace(g.LogLevel) == "" {
		g.LogLevel = "info"
	}
}

// applyStoreDefaults 按原有部署约定，从命名空间派生各类键前缀。
func applyStoreDefaults(s *StoreConfig) {
	if s.Namespace == "" {
		s.Namespace = DefaultNamespace
	}
	if s.MetadataKeyPrefix == "" {
		s.MetadataKeyPrefix = s.Namespace + "m"
	}
	if s.DigestKeyPrefix == "" {
		s.DigestKeyPrefix = s.Namespace + "d"
	}
	if s.LockKey == "" {
		s.LockKey = s.Namespace + "l"
	}
	if s.LockTTL.DurationValue() == 0 {
		s.LockTTL = Duration(30 * time.Second)
	}
	if s.LockRetryInterval.DurationValue() == 0 {
		s.LockRetryInterval = Duration(50 * time.Millisecond)
	}
}

func applyBackendDefaults(b *BackendConfig) {
	b.Type = strings.ToLower(strings.TrimSpace(b.Type))
	if b.Type == "" {
		b.Type = BackendMemory
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
