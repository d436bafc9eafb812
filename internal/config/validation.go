package config

import (
	"errors"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
)

const supportedBackendList = "redis|leveldb|memory|disabled"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxSize/LogMaxBackups", "不能为负数")
	}

	if err := validateStore(c.Store); err != nil {
		return err
	}
	return validateBackend(&c.Backend)
}

func validateStore(s StoreConfig) error {
	prefixes := map[string]string{
		"Store.MetadataKeyPrefix": s.MetadataKeyPrefix,
		"Store.DigestKeyPrefix":   s.DigestKeyPrefix,
		"Store.LockKey":           s.LockKey,
	}
	for field, value := range prefixes {
		if strings.TrimSpace(value) == "" {
			return newFieldError(field, "不能为空")
		}
	}
	// 元数据与摘要共用同一前缀时，两类键可能互相覆盖。
	if s.MetadataKeyPrefix == s.DigestKeyPrefix {
		return newFieldError("Store.DigestKeyPrefix", "不能与 MetadataKeyPrefix 相同")
	}
	if s.LockKey == s.MetadataKeyPrefix || s.LockKey == s.DigestKeyPrefix {
		return newFieldError("Store.LockKey", "不能与键前缀相同")
	}
	if s.LockTTL.DurationValue() <= 0 {
		return newFieldError("Store.LockTTL", "必须大于 0")
	}
	if s.LockWait.DurationValue() < 0 {
		return newFieldError("Store.LockWait", "不能为负数")
	}
	if s.LockRetryInterval.DurationValue() <= 0 {
		return newFieldError("Store.LockRetryInterval", "必须大于 0")
	}
	return nil
}

func validateBackend(b *BackendConfig) error {
	b.Type = strings.ToLower(strings.TrimSpace(b.Type))
	switch b.Type {
	case BackendRedis:
		if err := validateAddr(b.Addr); err != nil {
			return newFieldError("Backend.Addr", err.Error())
		}
		if b.DB < 0 {
			return newFieldError("Backend.DB", "不能为负数")
		}
		if b.PoolSize < 0 {
			return newFieldError("Backend.PoolSize", "不能为负数")
		}
		if b.DialTimeout.DurationValue() < 0 || b.ReadTimeout.DurationValue() < 0 || b.WriteTimeout.DurationValue() < 0 {
			return newFieldError("Backend.*Timeout", "不能为负数")
		}
	case BackendLevelDB:
		if strings.TrimSpace(b.Path) == "" {
			return newFieldError("Backend.Path", "leveldb 后端需要数据目录")
		}
	case BackendMemory, BackendDisabled:
	case "":
		return newFieldError("Backend.Type", "不能为空")
	default:
		return newFieldError("Backend.Type", "仅支持 "+supportedBackendList)
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("不能为空")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.New("必须是 host:port 形式")
	}
	if host == "" || port == "" {
		return errors.New("必须是 host:port 形式")
	}
	return nil
}
