package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/httpstore/internal/config"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// StoreFields 提供缓存操作名与存储键字段，供 store 日志复用。
func StoreFields(op, key string) logrus.Fields {
	fields := logrus.Fields{"action": op}
	if key != "" {
		fields["key"] = key
	}
	return fields
}

// BackendFields 输出后端类型与脱敏后的连接描述。
func BackendFields(cfg config.BackendConfig) logrus.Fields {
	return logrus.Fields{
		"backend":      cfg.Type,
		"backend_addr": cfg.Describe(),
		"auth_mode":    cfg.AuthMode(),
	}
}
