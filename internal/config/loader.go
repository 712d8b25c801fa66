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

	"github.com/shelfkeeper/photocache/internal/version"
)

// 默认值与内存/磁盘缓存的推荐区间保持一致：150 张、64 MiB、JPEG 质量 88。
const (
	DefaultListenPort         = 5080
	DefaultMaxMemoryEntries   = 150
	DefaultMaxMemoryCache     = 64 * 1024 * 1024
	DefaultJPEGQuality        = 88
	DefaultMaxImageBytes      = 20 * 1024 * 1024
	DefaultMaxImagePixels     = 40_000_000
	DefaultDiskWriteWorkers   = 2
	DefaultDiskWriteQueue     = 256
	DefaultPreloadConcurrency = 8
)

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
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", DefaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("MaxMemoryEntries", DefaultMaxMemoryEntries)
	v.SetDefault("MaxMemoryCacheSize", DefaultMaxMemoryCache)
	v.SetDefault("JPEGQuality", DefaultJPEGQuality)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxImageBytes", DefaultMaxImageBytes)
	v.SetDefault("MaxImagePixels", DefaultMaxImagePixels)
	v.SetDefault("UserAgent", version.UserAgent())
	v.SetDefault("UpstreamRateLimit", 0)
	v.SetDefault("DiskWriteWorkers", DefaultDiskWriteWorkers)
	v.SetDefault("DiskWriteQueue", DefaultDiskWriteQueue)
	v.SetDefault("PreloadConcurrency", DefaultPreloadConcurrency)
}

// applyGlobalDefaults 兜底处理被显式写成 0 的字段，避免 Validate 之前出现无意义的零值。
func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = DefaultListenPort
	}
	if g.MaxMemoryEntries == 0 {
		g.MaxMemoryEntries = DefaultMaxMemoryEntries
	}
	if g.MaxMemoryCache == 0 {
		g.MaxMemoryCache = DefaultMaxMemoryCache
	}
	if g.JPEGQuality == 0 {
		g.JPEGQuality = DefaultJPEGQuality
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MaxImageBytes == 0 {
		g.MaxImageBytes = DefaultMaxImageBytes
	}
	if g.MaxImagePixels == 0 {
		g.MaxImagePixels = DefaultMaxImagePixels
	}
	if strings.TrimSpace(g.UserAgent) == "" {
		g.UserAgent = version.UserAgent()
	}
	if g.DiskWriteWorkers == 0 {
		g.DiskWriteWorkers = DefaultDiskWriteWorkers
	}
	if g.DiskWriteQueue == 0 {
		g.DiskWriteQueue = DefaultDiskWriteQueue
	}
	if g.PreloadConcurrency == 0 {
		g.PreloadConcurrency = DefaultPreloadConcurrency
	}
	for i, host := range g.AllowedHosts {
		g.AllowedHosts[i] = strings.ToLower(strings.TrimSpace(host))
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
