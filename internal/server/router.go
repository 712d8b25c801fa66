package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ImageHandler describes the component serving GET /image. It allows
// injecting fake handlers during tests.
type ImageHandler interface {
	Handle(fiber.Ctx) error
}

// ImageHandlerFunc adapts a function to the ImageHandler interface.
type ImageHandlerFunc func(fiber.Ctx) error

// Handle makes ImageHandlerFunc satisfy ImageHandler.
func (f ImageHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Images     ImageHandler
	ListenPort int
}

const contextKeyRequestID = "_photocache_request_id"

// ImagePath is the consumer-facing lookup endpoint.
const ImagePath = "/image"

// NewApp builds a Fiber application with request-id middleware, panic
// recovery and a JSON 404 for unknown paths. Diagnostics under /-/ are
// registered separately by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Images == nil {
		return nil, errors.New("image handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get(ImagePath, func(c fiber.Ctx) error {
		return opts.Images.Handle(c)
	})

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return renderRouteNotFound(c, opts.Logger, opts.ListenPort)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，写入 Locals 与响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderRouteNotFound(c fiber.Ctx, logger *logrus.Logger, port int) error {
	logger.WithFields(logrus.Fields{
		"action":     "route_lookup",
		"path":       string(c.Request().URI().Path()),
		"method":     c.Method(),
		"port":       port,
		"request_id": RequestID(c),
	}).Debug("route not found")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "route_not_found",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
