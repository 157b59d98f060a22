package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if strings.TrimSpace(c.Host) == "" {
		return newFieldError("Host", "不能为空")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return newFieldError("Port", "必须在 1-65535")
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return newFieldError("LogLevel", "无法识别的日志级别")
		}
	}
	if c.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if c.CorePoolSize <= 0 {
		return newFieldError("CorePoolSize", "必须大于 0")
	}
	if c.ShutdownTimeout.DurationValue() < 0 {
		return newFieldError("ShutdownTimeout", "不能为负数")
	}
	if c.CacheExpiryMinutes <= 0 {
		return newFieldError("CacheExpiryMinutes", "必须大于 0")
	}
	if c.CacheMaxSizeMb <= 0 {
		return newFieldError("CacheMaxSizeMb", "必须大于 0")
	}
	if c.KeyLength <= 1 {
		return newFieldError("KeyLength", "必须大于 1")
	}
	if c.ModificationKeyLength <= 1 {
		return newFieldError("ModificationKeyLength", "必须大于 1")
	}
	if c.MaxContentLengthMb <= 0 {
		return newFieldError("MaxContentLengthMb", "必须大于 0")
	}
	if c.LifetimeMinutes <= 0 {
		return newFieldError("LifetimeMinutes", "必须大于 0")
	}
	for agent, minutes := range c.LifetimeMinutesByUserAgent {
		if minutes <= 0 {
			return newFieldError(mapField("LifetimeMinutesByUserAgent", agent), "必须大于 0")
		}
	}

	limits := []struct {
		name  string
		limit RateLimit
	}{
		{"Post", c.PostLimit()},
		{"Update", c.UpdateLimit()},
		{"Read", c.ReadLimit()},
	}
	for _, l := range limits {
		if l.limit.PeriodMinutes <= 0 {
			return newFieldError(l.name+"RateLimitPeriodMins", "必须大于 0")
		}
		if l.limit.Limit <= 0 {
			return newFieldError(l.name+"RateLimit", "必须大于 0")
		}
	}

	return nil
}
