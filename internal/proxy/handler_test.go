package proxy

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/shelfkeeper/photocache/internal/config"
	"github.com/shelfkeeper/photocache/internal/imagecache"
	"github.com/shelfkeeper/photocache/internal/logging"
	"github.com/shelfkeeper/photocache/internal/server"
)

func TestHandlerServesCachedImage(t *testing.T) {
	src := &fakeSource{cached: map[string]*imagecache.Image{
		"https://x/img1.jpg": testImage(12, 8),
	}}
	app := newHandlerApp(t, src, config.GlobalConfig{})

	resp := doGet(t, app, "https://x/img1.jpg")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("期望 200，得到 %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("Content-Type 错误: %s", ct)
	}
	if hit := resp.Header.Get("X-Photocache-Cache-Hit"); hit != "true" {
		t.Fatalf("缓存命中头应为 true，得到 %s", hit)
	}
	body, _ := io.ReadAll(resp.Body)
	decoded, err := jpeg.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("响应应为合法 JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 12 || decoded.Bounds().Dy() != 8 {
		t.Fatalf("尺寸不一致: %v", decoded.Bounds())
	}
	if src.fetches != 0 {
		t.Fatalf("命中缓存时不应回源")
	}
}

func TestHandlerFetchesOnMiss(t *testing.T) {
	src := &fakeSource{fetched: map[string]*imagecache.Image{
		"https://x/new.jpg": testImage(4, 4),
	}}
	app := newHandlerApp(t, src, config.GlobalConfig{})

	resp := doGet(t, app, "https://x/new.jpg")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("期望 200，得到 %d", resp.StatusCode)
	}
	if hit := resp.Header.Get("X-Photocache-Cache-Hit"); hit != "false" {
		t.Fatalf("回源结果的命中头应为 false，得到 %s", hit)
	}
	if src.fetches != 1 {
		t.Fatalf("应回源一次，得到 %d", src.fetches)
	}
}

func TestHandlerMapsAbsentTo404(t *testing.T) {
	app := newHandlerApp(t, &fakeSource{}, config.GlobalConfig{})

	resp := doGet(t, app, "https://x/missing.jpg")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("期望 404，得到 %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"image_unavailable"`)) {
		t.Fatalf("错误码不符: %s", string(body))
	}
}

func TestHandlerRequiresURL(t *testing.T) {
	app := newHandlerApp(t, &fakeSource{}, config.GlobalConfig{})

	resp, err := app.Test(httptest.NewRequest("GET", "/image", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("缺少 url 应返回 400，得到 %d", resp.StatusCode)
	}
}

func TestHandlerEnforcesHostAllowList(t *testing.T) {
	src := &fakeSource{fetched: map[string]*imagecache.Image{
		"https://img.example.com/a.jpg":  testImage(2, 2),
		"https://evil.example.net/a.jpg": testImage(2, 2),
	}}
	app := newHandlerApp(t, src, config.GlobalConfig{AllowedHosts: []string{"IMG.example.com"}})

	resp := doGet(t, app, "https://evil.example.net/a.jpg")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("非白名单 host 应返回 400，得到 %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"host_not_allowed"`)) {
		t.Fatalf("错误码不符: %s", string(body))
	}

	resp = doGet(t, app, "https://img.example.com/a.jpg")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("白名单 host 应放行，得到 %d", resp.StatusCode)
	}
	if src.fetches != 1 {
		t.Fatalf("被拒绝的 host 不应回源，fetches=%d", src.fetches)
	}
}

func newHandlerApp(t *testing.T, src ImageSource, cfg config.GlobalConfig) *fiber.App {
	t.Helper()
	app, err := server.NewApp(server.AppOptions{
		Logger:     logging.Discard(),
		Images:     NewHandler(src, logging.Discard(), cfg),
		ListenPort: 5080,
	})
	if err != nil {
		t.Fatalf("创建 app 失败: %v", err)
	}
	return app
}

func doGet(t *testing.T, app *fiber.App, imageURL string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("GET", "/image?url="+url.QueryEscape(imageURL), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func testImage(w, h int) *imagecache.Image {
	return &imagecache.Image{
		Bitmap: image.NewRGBA(image.Rect(0, 0, w, h)),
		Format: "png",
		Width:  w,
		Height: h,
	}
}

type fakeSource struct {
	cached  map[string]*imagecache.Image
	fetched map[string]*imagecache.Image
	fetches int
}

func (f *fakeSource) Cached(url string) (*imagecache.Image, bool) {
	img, ok := f.cached[url]
	return img, ok
}

func (f *fakeSource) Fetch(_ context.Context, url string) (*imagecache.Image, bool) {
	f.fetches++
	img, ok := f.fetched[url]
	return img, ok
}
