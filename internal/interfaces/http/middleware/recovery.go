// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"io"
	"runtime/debug"

	"quiz-wizard-api/internal/interfaces/http/dto"
	"quiz-wizard-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Recovery 捕获 handler panic，记录堆栈并返回统一错误响应。
// 断开的连接由 gin 自行处理，不再写响应体。
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.Error(c.Request.Context(), "panic recovered",
			fmt.Errorf("%v", recovered),
			"stack", string(debug.Stack()),
			"route", c.FullPath(),
			"method", c.Request.Method,
		)
		dto.InternalError(c, "internal server error")
		c.Abort()
	})
}
