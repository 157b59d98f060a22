package config

import (
	"testing"
	"time"
)

func TestLoadFailsWithMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "absent.toml")); err == nil {
		t.Fatalf("不存在的配置文件应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
ShutdownTimeout = "boom"
`
	path := writeTempConfig(t, "config.toml", cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsIntegerSeconds(t *testing.T) {
	cfg := `
ShutdownTimeout = 12
`
	path := writeTempConfig(t, "config.toml", cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.ShutdownTimeout.DurationValue() != 12*time.Second {
		t.Fatalf("整数秒应被解析: %v", loaded.ShutdownTimeout.DurationValue())
	}
}

func TestLoadParsesDurationStrings(t *testing.T) {
	cases := map[string]time.Duration{
		`"45s"`:  45 * time.Second,
		`"2m"`:   2 * time.Minute,
		`"15"`:   15 * time.Second,
		`"0x10"`: 16 * time.Second,
		`"1.5"`:  1500 * time.Millisecond,
	}
	for raw, want := range cases {
		path := writeTempConfig(t, "config.toml", "ShutdownTimeout = "+raw+"\n")
		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("%s: Load 返回错误: %v", raw, err)
		}
		if got := loaded.ShutdownTimeout.DurationValue(); got != want {
			t.Fatalf("%s: 期望 %v，得到 %v", raw, want, got)
		}
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte(" ")); err != nil || d != 0 {
		t.Fatalf("空值应解析为 0: %v %v", d, err)
	}
	if err := d.UnmarshalText([]byte("boom")); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadDetectsYAML(t *testing.T) {
	cfg := `
Port: 8181
LifetimeMinutesByUserAgent:
  "Mozilla/5.0": 30
`
	path := writeTempConfig(t, "config.yaml", cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Port != 8181 {
		t.Fatalf("YAML 端口解析错误: %d", loaded.Port)
	}
	if loaded.Lifetime("mozilla/5.0", "") != 30*time.Minute {
		t.Fatalf("YAML map 解析错误: %v", loaded.LifetimeMinutesByUserAgent)
	}
}
