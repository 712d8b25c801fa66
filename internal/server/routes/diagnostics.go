package routes

import (
	"context"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/shelfkeeper/photocache/internal/imagecache"
	"github.com/shelfkeeper/photocache/internal/metrics"
	"github.com/shelfkeeper/photocache/internal/server"
)

// MaxPreloadURLs 限制单次预加载请求携带的 URL 数量。
const MaxPreloadURLs = 500

// CacheAdmin 是诊断接口依赖的缓存管理能力。
type CacheAdmin interface {
	Preload(ctx context.Context, urls []string)
	InvalidateAll(ctx context.Context) error
	TrimMemory()
	DiskSize(ctx context.Context) (int64, error)
	Stats() imagecache.Stats
}

// DiagnosticsOptions 汇总 /-/ 诊断路由所需依赖，HostAllowed 为空时放行全部 host。
type DiagnosticsOptions struct {
	Cache       CacheAdmin
	Metrics     *metrics.Metrics
	Logger      *logrus.Logger
	HostAllowed func(host string) bool
}

type preloadRequest struct {
	URLs []string `json:"urls"`
}

type statsPayload struct {
	imagecache.Stats
	DiskBytes int64 `json:"disk_bytes"`
}

// RegisterDiagnosticsRoutes 暴露预加载、清空、内存修剪、统计与 Prometheus 指标接口。
func RegisterDiagnosticsRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil || opts.Cache == nil || opts.Logger == nil {
		return
	}
	allowed := opts.HostAllowed
	if allowed == nil {
		allowed = func(string) bool { return true }
	}

	app.Post("/-/preload", func(c fiber.Ctx) error {
		var req preloadRequest
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		urls, rejected := filterPreloadURLs(req.URLs, allowed)
		if len(urls) == 0 && rejected == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "urls_required"})
		}
		if len(urls) > MaxPreloadURLs {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "too_many_urls"})
		}

		opts.Cache.Preload(c.Context(), urls)

		opts.Logger.WithFields(logrus.Fields{
			"action":     "preload",
			"requested":  len(urls),
			"rejected":   rejected,
			"request_id": server.RequestID(c),
		}).Info("preload_request_done")
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"requested": len(urls),
			"rejected":  rejected,
		})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		if err := opts.Cache.InvalidateAll(c.Context()); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "invalidate_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/trim", func(c fiber.Ctx) error {
		opts.Cache.TrimMemory()
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/stats", func(c fiber.Ctx) error {
		payload := statsPayload{Stats: opts.Cache.Stats(), DiskBytes: -1}
		size, err := opts.Cache.DiskSize(c.Context())
		if err != nil {
			opts.Logger.WithError(err).WithField("action", "stats").Warn("disk_size_failed")
		} else {
			payload.DiskBytes = size
		}
		return c.JSON(payload)
	})

	if opts.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}
}

// filterPreloadURLs 去掉空白、重复以及不在白名单中的 URL；无法解析的 URL 原样保留，由缓存层按 miss 处理。
func filterPreloadURLs(raw []string, allowed func(string) bool) ([]string, int) {
	seen := make(map[string]struct{}, len(raw))
	result := make([]string, 0, len(raw))
	rejected := 0
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		if parsed, err := url.Parse(u); err == nil && parsed.Host != "" && !allowed(parsed.Hostname()) {
			rejected++
			continue
		}
		result = append(result, u)
	}
	return result, rejected
}
