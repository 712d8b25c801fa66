package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ImageFields 提供 url/key/命中层级字段，供图片缓存链路日志复用。
func ImageFields(action, url, key string) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"image_url": url,
		"cache_key": key,
	}
}
