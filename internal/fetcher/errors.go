package fetcher

import (
	"errors"
	"fmt"
)

// ErrBodyTooLarge 表示上游正文超过 MaxImageBytes 上限。
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Failure kinds reported by Kind, used as log fields and metric labels.
const (
	KindInvalidURL = "invalid_url"
	KindNetwork    = "network"
	KindServer     = "server"
	KindUnknown    = "unknown"
)

// InvalidURLError 表示 URL 无法解析或不是 http/https，属于立即 miss，不做重试。
type InvalidURLError struct {
	URL    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid image url %q: %s", e.URL, e.Reason)
}

// NetworkError 包装传输层错误（超时、DNS、连接重置、正文超限等）。
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError 表示上游返回了 2xx 以外的状态码。
type ServerError struct {
	URL        string
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Kind 将 Fetch 返回的错误归类，供日志与指标使用；nil 返回空字符串。
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var invalid *InvalidURLError
	var network *NetworkError
	var server *ServerError
	switch {
	case errors.As(err, &invalid):
		return KindInvalidURL
	case errors.As(err, &server):
		return KindServer
	case errors.As(err, &network):
		return KindNetwork
	default:
		return KindUnknown
	}
}
