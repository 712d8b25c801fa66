package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxMemoryEntries <= 0 {
		return newFieldError("Global.MaxMemoryEntries", "必须大于 0")
	}
	if g.MaxMemoryCache <= 0 {
		return newFieldError("Global.MaxMemoryCacheSize", "必须大于 0")
	}
	if g.JPEGQuality < 1 || g.JPEGQuality > 100 {
		return newFieldError("Global.JPEGQuality", "必须在 1-100")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxImageBytes <= 0 {
		return newFieldError("Global.MaxImageBytes", "必须大于 0")
	}
	if g.MaxImagePixels <= 0 {
		return newFieldError("Global.MaxImagePixels", "必须大于 0")
	}
	if g.UpstreamRateLimit < 0 {
		return newFieldError("Global.UpstreamRateLimit", "不能为负数（0 表示不限速）")
	}
	if g.DiskWriteWorkers <= 0 {
		return newFieldError("Global.DiskWriteWorkers", "必须大于 0")
	}
	if g.DiskWriteQueue < 0 {
		return newFieldError("Global.DiskWriteQueue", "不能为负数")
	}
	if g.PreloadConcurrency <= 0 {
		return newFieldError("Global.PreloadConcurrency", "必须大于 0")
	}

	for i, host := range g.AllowedHosts {
		if err := validateHost(host); err != nil {
			return fmt.Errorf("%s: %w", indexedField("Global.AllowedHosts", i), err)
		}
	}

	return nil
}

func validateHost(host string) error {
	if host == "" {
		return errors.New("Host 不能为空")
	}
	if strings.Contains(host, "/") {
		return errors.New("Host 不允许包含路径")
	}
	if strings.Contains(host, " ") {
		return errors.New("Host 不允许包含空格")
	}
	if strings.HasPrefix(host, "http") && strings.Contains(host, ":") {
		return errors.New("Host 不应包含协议头")
	}
	return nil
}
