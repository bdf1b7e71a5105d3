package service

import (
	"context"

	"quiz-wizard-api/internal/domain/entity"
	"quiz-wizard-api/pkg/errors"
)

// WatchState 任务跟踪状态
type WatchState string

const (
	WatchIdle      WatchState = "IDLE"
	WatchPolling   WatchState = "POLLING"
	WatchSucceeded WatchState = "SUCCEEDED"
	WatchFailed    WatchState = "FAILED"
	WatchCancelled WatchState = "CANCELLED"
)

// IsTerminal 是否已结束
func (s WatchState) IsTerminal() bool {
	return s == WatchSucceeded || s == WatchFailed || s == WatchCancelled
}

// JobUpdate 一次状态推送
type JobUpdate struct {
	State WatchState
	Job   *entity.GenerationJob
	// ResourceID 仅在 SUCCEEDED 时有值
	ResourceID string
	// Err 终态失败（NOT_FOUND 等）或轮询中的临时告警
	Err *errors.ClassifiedError
	// Transient 为 true 时 Err 只是告警，跟踪仍在继续
	Transient bool
	// Overdue 任务已超过软截止时间，仅提示，跟踪继续
	Overdue bool
}

// JobListener 接收状态推送。
// 约定：回调中不得同步调用同一 JobWatcher 的 Start/Cancel。
type JobListener func(JobUpdate)

// JobWatcher 跟踪一个生成任务直到终态。
// 说明：当前实现为轮询，若服务端提供推送通道可替换实现而不影响向导。
type JobWatcher interface {
	Start(ctx context.Context, jobID string, listener JobListener)
	Cancel(ctx context.Context)
	// Stop 只停止本地跟踪，不取消服务端任务
	Stop(ctx context.Context)
	State() WatchState
}
