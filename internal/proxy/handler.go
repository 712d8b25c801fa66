package proxy

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/shelfkeeper/photocache/internal/cache"
	"github.com/shelfkeeper/photocache/internal/config"
	"github.com/shelfkeeper/photocache/internal/fetcher"
	"github.com/shelfkeeper/photocache/internal/imagecache"
	"github.com/shelfkeeper/photocache/internal/logging"
	"github.com/shelfkeeper/photocache/internal/server"
)

// ImageSource 是 Handler 依赖的缓存消费契约：同步命中或异步回源后返回解码结果。
type ImageSource interface {
	Cached(url string) (*imagecache.Image, bool)
	Fetch(ctx context.Context, url string) (*imagecache.Image, bool)
}

// Handler 负责 “校验 URL → 同步命中 → 去重回源 → JPEG 输出” 的全流程，
// 对外暴露 Fiber handler；缓存层只返回 present/absent，失败统一映射为 404。
type Handler struct {
	images      ImageSource
	logger      *logrus.Logger
	quality     int
	hostAllowed func(host string) bool
}

// NewHandler constructs an image handler bound to the shared cache facade.
func NewHandler(images ImageSource, logger *logrus.Logger, cfg config.GlobalConfig) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	quality := cfg.JPEGQuality
	if quality <= 0 {
		quality = config.DefaultJPEGQuality
	}
	return &Handler{
		images:      images,
		logger:      logger,
		quality:     quality,
		hostAllowed: cfg.HostAllowed,
	}
}

// Handle 处理 GET /image?url=...，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		return h.writeError(c, fiber.StatusBadRequest, "url_required")
	}

	// 非法 URL 视为立即 miss，与缓存层的二值契约保持一致。
	if target, err := fetcher.ParseImageURL(rawURL); err == nil && !h.hostAllowed(target.Hostname()) {
		h.logResult(rawURL, requestID, fiber.StatusBadRequest, false, started, nil)
		return h.writeError(c, fiber.StatusBadRequest, "host_not_allowed")
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	img, hit := h.images.Cached(rawURL)
	if !hit {
		var ok bool
		img, ok = h.images.Fetch(ctx, rawURL)
		if !ok {
			h.logResult(rawURL, requestID, fiber.StatusNotFound, false, started, nil)
			return h.writeError(c, fiber.StatusNotFound, "image_unavailable")
		}
	}

	body, err := img.JPEG(h.quality)
	if err != nil {
		h.logResult(rawURL, requestID, fiber.StatusInternalServerError, hit, started, err)
		return h.writeError(c, fiber.StatusInternalServerError, "encode_failed")
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set("X-Photocache-Cache-Hit", strconv.FormatBool(hit))
	c.Set("X-Photocache-Dimensions", strconv.Itoa(img.Width)+"x"+strconv.Itoa(img.Height))
	h.logResult(rawURL, requestID, fiber.StatusOK, hit, started, nil)
	return c.Status(fiber.StatusOK).Send(body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	rawURL string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.ImageFields("serve_image", rawURL, cache.KeyFor(rawURL))
	fields["status"] = status
	fields["cache_hit"] = cacheHit
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("serve_failed")
		return
	}
	if status >= fiber.StatusBadRequest {
		h.logger.WithFields(fields).Warn("serve_miss")
		return
	}
	h.logger.WithFields(fields).Info("serve_completed")
}
