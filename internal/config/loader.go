package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// keyDelimiter 替换 viper 默认的 "."，避免 User-Agent 中的版本号被拆成嵌套键。
const keyDelimiter = "::"

// Load 读取并解析配置文件（按扩展名识别 TOML/JSON/YAML），同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	return decode(v)
}

// Default 返回不读取任何文件时的默认配置。
func Default() (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析内容目录: %w", err)
	}
	cfg.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Host", "127.0.0.1")
	v.SetDefault("Port", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./content")
	v.SetDefault("CorePoolSize", 16)
	v.SetDefault("ShutdownTimeout", "30s")
	v.SetDefault("IndexPagePath", "")
	v.SetDefault("CacheExpiryMinutes", 10)
	v.SetDefault("CacheMaxSizeMb", 200)
	v.SetDefault("KeyLength", 7)
	v.SetDefault("ModificationKeyLength", 32)
	v.SetDefault("MaxContentLengthMb", 10)
	v.SetDefault("LifetimeMinutes", 1440)
	v.SetDefault("PostRateLimitPeriodMins", 10)
	v.SetDefault("PostRateLimit", 30)
	v.SetDefault("UpdateRateLimitPeriodMins", 2)
	v.SetDefault("UpdateRateLimit", 26)
	v.SetDefault("ReadRateLimitPeriodMins", 2)
	v.SetDefault("ReadRateLimit", 30)
}

func applyDefaults(c *Config) {
	if c.ShutdownTimeout.DurationValue() == 0 {
		c.ShutdownTimeout = Duration(30 * time.Second)
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	// viper 对键大小写不敏感，这里统一为小写，Lifetime 查找时也按小写匹配。
	normalized := make(map[string]int, len(c.LifetimeMinutesByUserAgent))
	for agent, minutes := range c.LifetimeMinutesByUserAgent {
		normalized[strings.ToLower(agent)] = minutes
	}
	c.LifetimeMinutesByUserAgent = normalized
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return nil, fmt.Errorf("无法解析 Duration 字段: %w", err)
			}
			return d, nil
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
