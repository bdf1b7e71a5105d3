// Package router 提供 HTTP 路由配置
package router

import (
	"quiz-wizard-api/internal/interfaces/http/handler"

	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, wizardHandler *handler.WizardHandler) {
	sessions := v1.Group("/wizard/sessions")
	{
		sessions.POST("", wizardHandler.CreateSession)
		sessions.GET("/:sid", wizardHandler.GetSession)
		sessions.DELETE("/:sid", wizardHandler.DeleteSession)

		// 步骤切换
		sessions.POST("/:sid/method", wizardHandler.SelectMethod)
		sessions.POST("/:sid/back", wizardHandler.Back)
		sessions.POST("/:sid/submit", wizardHandler.Submit)
		sessions.POST("/:sid/cancel", wizardHandler.Cancel)
		sessions.POST("/:sid/finish", wizardHandler.Finish)

		// 草稿与生成配置
		sessions.PUT("/:sid/draft", wizardHandler.UpdateDraft)
		sessions.PUT("/:sid/config", wizardHandler.UpdateConfig)
		sessions.PUT("/:sid/config/questions/:type", wizardHandler.SetQuestionCount)
		sessions.POST("/:sid/document", wizardHandler.UploadDocument)
		sessions.GET("/:sid/estimate", wizardHandler.GetEstimate)
	}
}
