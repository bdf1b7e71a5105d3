// Package backend 提供外部测验生成 API 的客户端
package backend

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"quiz-wizard-api/internal/config"
)

// Transport 发送单个 HTTP 请求。*http.Client 满足该接口，测试中可替换为假实现。
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// TransportFunc 函数适配器
type TransportFunc func(req *http.Request) (*http.Response, error)

// Do 实现 Transport
func (f TransportFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// NewHTTPTransport 创建带链路追踪的 HTTP 客户端
func NewHTTPTransport(cfg *config.BackendConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return fmt.Sprintf("backend %s %s", r.Method, r.URL.Path)
			}),
		),
	}
}

// HTTPError 非 2xx 响应，实现 service.StatusError
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

// Error 实现 error 接口
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status=%d", e.Method, e.Path, e.Status)
}

// StatusCode 响应状态码
func (e *HTTPError) StatusCode() int {
	return e.Status
}

// ResponseBody 原始响应体
func (e *HTTPError) ResponseBody() []byte {
	return e.Body
}
