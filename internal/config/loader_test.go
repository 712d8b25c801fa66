package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shelfkeeper/photocache/internal/version"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsPlainSecondsDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = 45
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("纯秒值应解析为 45s，得到 %s", loaded.Global.UpstreamTimeout.DurationValue())
	}
}

func TestLoadAppliesDefaultsToMinimalFile(t *testing.T) {
	path := writeTempConfig(t, `StoragePath = "./data"`)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	g := loaded.Global
	if g.ListenPort != DefaultListenPort {
		t.Fatalf("ListenPort 默认值错误: %d", g.ListenPort)
	}
	if g.MaxMemoryEntries != DefaultMaxMemoryEntries || g.MaxMemoryCache != DefaultMaxMemoryCache {
		t.Fatalf("内存缓存默认值错误: %d/%d", g.MaxMemoryEntries, g.MaxMemoryCache)
	}
	if g.JPEGQuality != DefaultJPEGQuality {
		t.Fatalf("JPEGQuality 默认值错误: %d", g.JPEGQuality)
	}
	if g.MaxImagePixels != DefaultMaxImagePixels {
		t.Fatalf("MaxImagePixels 默认值错误: %d", g.MaxImagePixels)
	}
	if g.UserAgent != version.UserAgent() {
		t.Fatalf("UserAgent 默认值错误: %s", g.UserAgent)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "does-not-exist.toml")); err == nil {
		t.Fatalf("不存在的配置文件应返回错误")
	}
}

func TestLoadRejectsNegativeRateLimit(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamRateLimit = -1
`
	path := writeTempConfig(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("负数限速应被拒绝")
	}
	if !strings.Contains(err.Error(), "Global.UpstreamRateLimit") {
		t.Fatalf("错误应指出字段，得到 %v", err)
	}
}

func TestLoadAcceptsFractionalRateLimit(t *testing.T) {
	path := writeTempConfig(t, "StoragePath = \"./data\"\nUpstreamRateLimit = 2.5\n")
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.UpstreamRateLimit != 2.5 {
		t.Fatalf("UpstreamRateLimit 解析错误: %v", loaded.Global.UpstreamRateLimit)
	}
}
