package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterDispatchesImageRequests(t *testing.T) {
	app := newTestApp(t, 5080)

	req := httptest.NewRequest("GET", "/image?url=https://x/img1.jpg", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}

	if app.recorder.lastURL != "https://x/img1.jpg" {
		t.Fatalf("expected url query to reach handler, got %q", app.recorder.lastURL)
	}
	if app.recorder.requestID == "" {
		t.Fatalf("expected request id in handler locals")
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID != app.recorder.requestID {
		t.Fatalf("expected X-Request-ID header %q, got %q", app.recorder.requestID, reqID)
	}
}

func TestRouterReturns404ForUnknownPath(t *testing.T) {
	app := newTestApp(t, 5080)

	resp, err := app.Test(httptest.NewRequest("GET", "/v2/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"route_not_found"`)) {
		t.Fatalf("expected route_not_found error, got %s", string(body))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header on 404")
	}
}

func TestRouterLeavesDiagnosticsToLaterRoutes(t *testing.T) {
	app := newTestApp(t, 5080)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("expected diagnostics route to answer, got %d %s", resp.StatusCode, string(body))
	}
}

func TestRouterRecoversFromPanics(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app, err := NewApp(AppOptions{
		Logger: logger,
		Images: ImageHandlerFunc(func(fiber.Ctx) error {
			panic("decoder exploded")
		}),
		ListenPort: 5080,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/image?url=https://x/a.jpg", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	handler := ImageHandlerFunc(func(c fiber.Ctx) error { return nil })

	cases := []AppOptions{
		{Images: handler, ListenPort: 5080},
		{Logger: logger, ListenPort: 5080},
		{Logger: logger, Images: handler},
	}
	for i, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

type testApp struct {
	*fiber.App
	recorder *imageRecorder
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &imageRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Images:     recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

type imageRecorder struct {
	lastURL   string
	requestID string
}

func (r *imageRecorder) Handle(c fiber.Ctx) error {
	r.lastURL = c.Query("url")
	r.requestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}
