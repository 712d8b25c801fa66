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

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
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

// GlobalConfig 描述运行时行为：监听端口、日志、磁盘/内存缓存上限与回源参数。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoragePath        string   `mapstructure:"StoragePath"`
	MaxMemoryEntries   int      `mapstructure:"MaxMemoryEntries"`
	MaxMemoryCache     int64    `mapstructure:"MaxMemoryCacheSize"`
	JPEGQuality        int      `mapstructure:"JPEGQuality"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	MaxImageBytes      int64    `mapstructure:"MaxImageBytes"`
	MaxImagePixels     int64    `mapstructure:"MaxImagePixels"`
	UserAgent          string   `mapstructure:"UserAgent"`
	UpstreamRateLimit  float64  `mapstructure:"UpstreamRateLimit"`
	DiskWriteWorkers   int      `mapstructure:"DiskWriteWorkers"`
	DiskWriteQueue     int      `mapstructure:"DiskWriteQueue"`
	PreloadConcurrency int      `mapstructure:"PreloadConcurrency"`
	AllowedHosts       []string `mapstructure:"AllowedHosts"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// HostAllowed 判断图片来源 host 是否在白名单内；未配置白名单时放行全部。
func (g GlobalConfig) HostAllowed(host string) bool {
	if len(g.AllowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(strings.TrimSpace(host))
	for _, allowed := range g.AllowedHosts {
		if strings.EqualFold(strings.TrimSpace(allowed), host) {
			return true
		}
	}
	return false
}
