// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// HealthChecker 依赖的健康检查
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SessionCounter 会话数量与上限
type SessionCounter interface {
	Len() int
	Capacity() int
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	redis    HealthChecker
	sessions SessionCounter
}

// NewHealthHandler 创建健康检查处理器；未启用限流时 redis 为 nil
func NewHealthHandler(redisClient HealthChecker, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{
		redis:    redisClient,
		sessions: sessions,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status string `json:"status"`
}

type checkResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

type sessionUsage struct {
	Active   int  `json:"active"`
	Capacity int  `json:"capacity,omitempty"`
	Full     bool `json:"full"`
}

// ReadinessResponse 就绪检查响应
type ReadinessResponse struct {
	Status   string                  `json:"status"`
	Sessions sessionUsage            `json:"sessions"`
	Checks   map[string]*checkResult `json:"checks"`
}

// Health 健康检查接口
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready 就绪检查接口。
// 会话只存在于本进程内，会话数满时仍保持就绪，避免已有会话被摘流；只在 full 字段中体现。
// @Summary 就绪检查
// @Tags System
// @Produce json
// @Success 200 {object} ReadinessResponse
// @Failure 503 {object} ReadinessResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	resp := ReadinessResponse{
		Status: "ok",
		Checks: map[string]*checkResult{
			// Redis 只用于限流，未启用时不参与就绪判断
			"redis": runCheck(ctx, h.redis),
		},
	}
	if h.sessions != nil {
		resp.Sessions.Active = h.sessions.Len()
		resp.Sessions.Capacity = h.sessions.Capacity()
		resp.Sessions.Full = resp.Sessions.Capacity > 0 && resp.Sessions.Active >= resp.Sessions.Capacity
	}

	for _, check := range resp.Checks {
		if check.Status == "error" {
			resp.Status = "not_ready"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func runCheck(ctx context.Context, checker HealthChecker) *checkResult {
	if checker == nil {
		return &checkResult{Status: "disabled"}
	}
	start := time.Now()
	err := checker.HealthCheck(ctx)
	result := &checkResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
	}
	return result
}

// Live 存活检查接口
// @Summary 存活检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
