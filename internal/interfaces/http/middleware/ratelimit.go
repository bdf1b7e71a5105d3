// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"
	"math"
	"strconv"
	"time"

	"quiz-wizard-api/internal/config"
	"quiz-wizard-api/internal/interfaces/http/dto"
	"quiz-wizard-api/pkg/logger"
	"quiz-wizard-api/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitKeyFunc 由请求构建限流键
type RateLimitKeyFunc func(clientIP, route string) string

// RateLimit 按客户端地址与路由限流。
// 窗口内允许 Burst 个请求，窗口长度为 Burst/RequestsPerSecond 秒。
func RateLimit(cfg config.RateLimitConfig, limiter RateLimiter, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	limit, window := rateWindow(cfg)
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}

		allowed, err := limiter.Allow(c.Request.Context(), keyFunc(c.ClientIP(), route), limit, window)
		if err != nil {
			// 限流器故障时放行
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err.Error())
			c.Next()
			return
		}

		if !allowed {
			metrics.RateLimitedTotal.WithLabelValues(route).Inc()
			c.Header("Retry-After", retryAfter)
			dto.TooManyRequests(c, "rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

func rateWindow(cfg config.RateLimitConfig) (int, time.Duration) {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 100
	}
	burst := cfg.Burst
	if burst < rps {
		burst = rps
	}
	return burst, time.Duration(float64(burst) / float64(rps) * float64(time.Second))
}
