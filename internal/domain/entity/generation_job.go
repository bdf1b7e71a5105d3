// Package entity 定义领域实体
package entity

import (
	"time"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Valid 是否为已知状态
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal 终态之后不会再发生状态迁移
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive 任务仍在排队或执行
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// GenerationJob 服务端跟踪的生成任务快照。
// 字段只来自服务端响应，客户端不在本地推进进度。
type GenerationJob struct {
	ID                       string    `json:"id"`
	Status                   JobStatus `json:"status"`
	Message                  string    `json:"message,omitempty"`
	Progress                 *int      `json:"progress,omitempty"` // nil 表示进度未知
	EstimatedDurationSeconds int       `json:"estimated_duration_seconds,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
	ResultResourceID         string    `json:"result_resource_id,omitempty"`
}

// IsTerminal 检查任务是否已结束
func (j *GenerationJob) IsTerminal() bool {
	return j != nil && j.Status.IsTerminal()
}

// ProgressKnown 服务端是否给出了进度
func (j *GenerationJob) ProgressKnown() bool {
	return j != nil && j.Progress != nil
}

// HasResult 已完成且带有结果 ID
func (j *GenerationJob) HasResult() bool {
	return j != nil && j.Status == JobStatusCompleted && j.ResultResourceID != ""
}

// Clone 深拷贝，避免调用方修改共享快照
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Progress != nil {
		p := *j.Progress
		cp.Progress = &p
	}
	return &cp
}

// NormalizeProgress 把服务端进度限制在 0-100
func NormalizeProgress(progress *int) *int {
	if progress == nil {
		return nil
	}
	p := *progress
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return &p
}
