package middleware

import (
	"strconv"
	"time"

	"quiz-wizard-api/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// unmatchedRoute 未命中路由的统一标签，避免原始路径撑爆标签基数
const unmatchedRoute = "unmatched"

// Metrics HTTP 指标采集中间件，按路由模板打标签；skipPaths 不计入
func Metrics(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if _, skipped := skip[route]; skipped {
			c.Next()
			return
		}
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		start := time.Now()

		if size := c.Request.ContentLength; size > 0 {
			metrics.HTTPRequestSize.WithLabelValues(method, route).Observe(float64(size))
		}

		c.Next()

		metrics.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size > 0 {
			metrics.HTTPResponseSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
