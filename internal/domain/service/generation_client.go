package service

import (
	"context"

	"quiz-wizard-api/internal/domain/entity"
)

// GenerationJobClient 外部生成任务 API 的端口。
// 约定：返回的错误均已分类（*errors.ClassifiedError），调用方不接触原始传输错误。
type GenerationJobClient interface {
	// Submit 提交生成请求，成功时任务状态为 PENDING 或 PROCESSING
	Submit(ctx context.Context, cfg entity.GenerationConfig) (*entity.GenerationJob, error)

	// GetStatus 查询任务状态，可重复调用，不改变服务端状态
	GetStatus(ctx context.Context, jobID string) (*entity.GenerationJob, error)

	// Cancel 取消任务；调用方应把错误视为非致命
	Cancel(ctx context.Context, jobID string) (*entity.GenerationJob, error)

	// FetchResultID 状态中未携带结果时，查询生成出的测验 ID
	FetchResultID(ctx context.Context, jobID string) (string, error)
}

// QuizCreator 手动创建方式下的同步建测验
type QuizCreator interface {
	CreateQuiz(ctx context.Context, draft entity.QuizDraft) (string, error)
}
