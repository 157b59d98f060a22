package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wastebin/wastebin/internal/content"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 解析 "30s"、"5m" 或纯数字秒值等写法，字符串配置经 decode hook 交由它处理。
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

	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
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

// RateLimit 描述一类操作的固定窗口限流参数。
type RateLimit struct {
	PeriodMinutes int
	Limit         int
}

// Config 是配置文件映射的整体结构，键名与原服务保持一致。
type Config struct {
	Host            string   `mapstructure:"Host"`
	Port            int      `mapstructure:"Port"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	CorePoolSize    int      `mapstructure:"CorePoolSize"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
	IndexPagePath   string   `mapstructure:"IndexPagePath"`

	CacheExpiryMinutes int `mapstructure:"CacheExpiryMinutes"`
	CacheMaxSizeMb     int `mapstructure:"CacheMaxSizeMb"`

	KeyLength             int `mapstructure:"KeyLength"`
	ModificationKeyLength int `mapstructure:"ModificationKeyLength"`
	MaxContentLengthMb    int `mapstructure:"MaxContentLengthMb"`

	LifetimeMinutes            int            `mapstructure:"LifetimeMinutes"`
	LifetimeMinutesByUserAgent map[string]int `mapstructure:"LifetimeMinutesByUserAgent"`

	PostRateLimitPeriodMins   int `mapstructure:"PostRateLimitPeriodMins"`
	PostRateLimit             int `mapstructure:"PostRateLimit"`
	UpdateRateLimitPeriodMins int `mapstructure:"UpdateRateLimitPeriodMins"`
	UpdateRateLimit           int `mapstructure:"UpdateRateLimit"`
	ReadRateLimitPeriodMins   int `mapstructure:"ReadRateLimitPeriodMins"`
	ReadRateLimit             int `mapstructure:"ReadRateLimit"`
}

// Address 返回 Fiber 监听地址。
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheExpiry 返回缓存空闲淘汰时长，同时用作过期清理的周期。
func (c *Config) CacheExpiry() time.Duration {
	return time.Duration(c.CacheExpiryMinutes) * time.Minute
}

// CacheMaxWeight 返回缓存可常驻的正文字节数。
func (c *Config) CacheMaxWeight() int64 {
	return int64(c.CacheMaxSizeMb) * content.MegabyteLength
}

// MaxContentLength 返回单个条目（压缩后）的字节上限。
func (c *Config) MaxContentLength() int {
	return c.MaxContentLengthMb * content.MegabyteLength
}

// Lifetime 按 User-Agent、其次 Origin 查找专属存活时长，都未命中时回退到 LifetimeMinutes。
// 配置键在加载时已统一转为小写，查找时大小写不敏感。
func (c *Config) Lifetime(userAgent, origin string) time.Duration {
	for _, candidate := range []string{userAgent, origin} {
		if candidate == "" {
			continue
		}
		if minutes, ok := c.LifetimeMinutesByUserAgent[strings.ToLower(candidate)]; ok {
			return time.Duration(minutes) * time.Minute
		}
	}
	return time.Duration(c.LifetimeMinutes) * time.Minute
}

// PostLimit 返回创建接口的限流参数。
func (c *Config) PostLimit() RateLimit {
	return RateLimit{PeriodMinutes: c.PostRateLimitPeriodMins, Limit: c.PostRateLimit}
}

// UpdateLimit 返回修改接口的限流参数。
func (c *Config) UpdateLimit() RateLimit {
	return RateLimit{PeriodMinutes: c.UpdateRateLimitPeriodMins, Limit: c.UpdateRateLimit}
}

// ReadLimit 返回读取接口的限流参数。
func (c *Config) ReadLimit() RateLimit {
	return RateLimit{PeriodMinutes: c.ReadRateLimitPeriodMins, Limit: c.ReadRateLimit}
}
