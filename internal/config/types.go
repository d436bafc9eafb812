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

// 支持的后端类型。
const (
	BackendRedis    = "redis"
	BackendLevelDB  = "leveldb"
	BackendMemory   = "memory"
	BackendDisabled = "disabled"
)

// GlobalConfig 描述进程级参数：管理端口与日志输出。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// StoreConfig 控制键命名空间与锁租约行为。
// 未显式配置的前缀由 Namespace 派生：<ns>m / <ns>d / <ns>l。
type StoreConfig struct {
	Namespace         string   `mapstructure:"Namespace"`
	MetadataKeyPrefix string   `mapstructure:"MetadataKeyPrefix"`
	DigestKeyPrefix   string   `mapstructure:"DigestKeyPrefix"`
	LockKey           string   `mapstructure:"LockKey"`
	LockTTL           Duration `mapstructure:"LockTTL"`
	LockWait          Duration `mapstructure:"LockWait"`
	LockRetryInterval Duration `mapstructure:"LockRetryInterval"`
}

// BackendConfig 选择键值后端并携带其连接参数，不同类型只读取各自字段。
type BackendConfig struct {
	Type         string   `mapstructure:"Type"`
	Addr         string   `mapstructure:"Addr"`
	Username     string   `mapstructure:"Username"`
	Password     string   `mapstructure:"Password"`
	DB           int      `mapstructure:"DB"`
	PoolSize     int      `mapstructure:"PoolSize"`
	DialTimeout  Duration `mapstructure:"DialTimeout"`
	ReadTimeout  Duration `mapstructure:"ReadTimeout"`
	WriteTimeout Duration `mapstructure:"WriteTimeout"`
	Path         string   `mapstructure:"Path"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Store   StoreConfig   `mapstructure:"Store"`
	Backend BackendConfig `mapstructure:"Backend"`
}

// HasCredentials 表示 Redis 是否配置了密码。
func (b BackendConfig) HasCredentials() bool {
	return b.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用，避免泄露密码。
func (b BackendConfig) AuthMode() string {
	if b.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// Describe 返回不含敏感信息的后端摘要，例如 redis:127.0.0.1:6379/0。
func (b BackendConfig) Describe() string {
	switch b.Type {
	case BackendRedis:
		return fmt.Sprintf("%s:%s/%d", b.Type, b.Addr, b.DB)
	case BackendLevelDB:
		return fmt.Sprintf("%s:%s", b.Type, b.Path)
	default:
		return b.Type
	}
}
