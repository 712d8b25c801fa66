// Package fetcher implements the byte-level remote fetch used to populate the
// image cache: one HTTP GET per call, typed failures, no retries.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/ratelimit"

	"github.com/shelfkeeper/photocache/internal/config"
	"github.com/shelfkeeper/photocache/internal/version"
)

// Fetcher 是 “给定 URL 返回原始字节或失败” 的最小回源能力，测试中可注入假实现。
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, rawURL string) ([]byte, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f(ctx, rawURL)
}

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回共享 http.Client，用于所有图片回源请求。
func NewHTTPClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// Options 控制单次回源的附加行为。
// RequestsPerSecond <= 0 表示不限速。
type Options struct {
	UserAgent         string
	MaxImageBytes     int64
	RequestsPerSecond float64
}

// OptionsFromConfig 从全局配置提取回源参数。
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		UserAgent:         cfg.Global.UserAgent,
		MaxImageBytes:     cfg.Global.MaxImageBytes,
		RequestsPerSecond: cfg.Global.UpstreamRateLimit,
	}
}

// HTTPFetcher 通过共享 http.Client 执行单次 GET，不做任何重试。
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	limiter   *ratelimit.Bucket
}

// NewHTTPFetcher constructs a fetcher; a nil client falls back to NewHTTPClient(nil).
func NewHTTPFetcher(client *http.Client, opts Options) *HTTPFetcher {
	if client == nil {
		client = NewHTTPClient(nil)
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	maxBytes := opts.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxImageBytes
	}
	var limiter *ratelimit.Bucket
	if opts.RequestsPerSecond > 0 {
		burst := int64(math.Ceil(opts.RequestsPerSecond))
		limiter = ratelimit.NewBucketWithRate(opts.RequestsPerSecond, max(burst, 1))
	}
	return &HTTPFetcher{
		client:    client,
		userAgent: userAgent,
		maxBytes:  maxBytes,
		limiter:   limiter,
	}
}

// Fetch 校验 URL 后发起 GET；传输失败返回 *NetworkError，非 2xx 返回 *ServerError。
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := ParseImageURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := f.waitForToken(ctx); err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &InvalidURLError{URL: rawURL, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/jpeg,image/png,image/webp,image/gif;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &ServerError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	if resp.ContentLength > f.maxBytes {
		return nil, &NetworkError{URL: rawURL, Err: ErrBodyTooLarge}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &NetworkError{URL: rawURL, Err: ErrBodyTooLarge}
	}
	return body, nil
}

// waitForToken 在配置了限速时占用一个令牌；等待期间 ctx 结束则放弃本次回源。
func (f *HTTPFetcher) waitForToken(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	wait := f.limiter.Take(1)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParseImageURL 仅接受带 Host 的 http/https 绝对地址。
func ParseImageURL(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, &InvalidURLError{URL: rawURL, Reason: "empty"}
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, &InvalidURLError{URL: rawURL, Reason: err.Error()}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &InvalidURLError{URL: rawURL, Reason: fmt.Sprintf("unsupported scheme %q", parsed.Scheme)}
	}
	if parsed.Host == "" {
		return nil, &InvalidURLError{URL: rawURL, Reason: "missing host"}
	}
	return parsed, nil
}
