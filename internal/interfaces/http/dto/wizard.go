package dto

import (
	"fmt"
	"time"

	"quiz-wizard-api/internal/application/wizard"
	"quiz-wizard-api/internal/domain/entity"
	"quiz-wizard-api/pkg/errors"
)

// SessionResponse 向导会话快照
type SessionResponse struct {
	SessionID string                `json:"session_id"`
	Step      StepResponse          `json:"step"`
	Method    entity.CreationMethod `json:"method,omitempty"`
	Draft     entity.QuizDraft      `json:"draft"`
	Config    *ConfigResponse       `json:"config,omitempty"`
	Estimate  *entity.TokenEstimate `json:"estimate,omitempty"`
	UpdatedAt string                `json:"updated_at"`
}

// StepResponse 当前步骤，字段按步骤取值
type StepResponse struct {
	Name        wizard.StepName         `json:"name"`
	Method      entity.CreationMethod   `json:"method,omitempty"`
	FieldErrors map[string]string       `json:"field_errors,omitempty"`
	Error       *errors.ClassifiedError `json:"error,omitempty"`
	JobFailure  string                  `json:"job_failure,omitempty"`
	Job         *JobResponse            `json:"job,omitempty"`
	Estimate    *entity.TokenEstimate   `json:"estimate,omitempty"`
	Warning     *errors.ClassifiedError `json:"warning,omitempty"`
	Overdue     bool                    `json:"overdue,omitempty"`
	QuizID      string                  `json:"quiz_id,omitempty"`
}

// JobResponse 生成任务
type JobResponse struct {
	ID                       string           `json:"id"`
	Status                   entity.JobStatus `json:"status"`
	Message                  string           `json:"message,omitempty"`
	Progress                 *int             `json:"progress,omitempty"`
	EstimatedDurationSeconds int              `json:"estimated_duration_seconds,omitempty"`
	CreatedAt                string           `json:"created_at,omitempty"`
	UpdatedAt                string           `json:"updated_at,omitempty"`
}

// ConfigResponse 生成配置，文档只返回元信息
type ConfigResponse struct {
	Method           entity.CreationMethod       `json:"method"`
	SourceText       string                      `json:"source_text,omitempty"`
	Language         string                      `json:"language,omitempty"`
	Document         *DocumentResponse           `json:"document,omitempty"`
	QuestionCounts   map[entity.QuestionType]int `json:"question_counts"`
	TotalQuestions   int                         `json:"total_questions"`
	Difficulty       entity.Difficulty           `json:"difficulty"`
	ChunkingStrategy entity.ChunkingStrategy     `json:"chunking_strategy"`
	MaxChunkSize     int                         `json:"max_chunk_size"`
}

// DocumentResponse 已上传文档的元信息
type DocumentResponse struct {
	FileName     string `json:"file_name"`
	ContentType  string `json:"content_type,omitempty"`
	SizeBytes    int    `json:"size_bytes"`
	Pages        string `json:"pages,omitempty"`
	ChunkIndices []int  `json:"chunk_indices,omitempty"`
}

// ToSessionResponse 快照转响应
func ToSessionResponse(s wizard.Snapshot) *SessionResponse {
	return &SessionResponse{
		SessionID: s.SessionID,
		Step:      ToStepResponse(s.Step),
		Method:    s.Method,
		Draft:     s.Draft,
		Config:    ToConfigResponse(s.Config),
		Estimate:  s.Estimate,
		UpdatedAt: formatTime(s.UpdatedAt),
	}
}

// ToStepResponse 步骤转响应
func ToStepResponse(step wizard.Step) StepResponse {
	resp := StepResponse{Name: step.Name()}
	switch st := step.(type) {
	case wizard.MethodSelection:
	case wizard.Configuring:
		resp.Method = st.Method
		resp.FieldErrors = st.FieldErrors
		resp.Error = st.Error
		resp.JobFailure = st.JobFailure
	case wizard.Generating:
		resp.Job = ToJobResponse(st.Job)
		resp.Estimate = st.Estimate
		resp.Warning = st.Warning
		resp.Overdue = st.Overdue
	case wizard.AddingQuestions:
		resp.Method = entity.CreationManual
		resp.QuizID = st.QuizID
	case wizard.Complete:
		resp.Method = st.Method
		resp.QuizID = st.QuizID
	default:
		panic(fmt.Sprintf("dto: unhandled wizard step %T", step))
	}
	return resp
}

// ToJobResponse 任务转响应
func ToJobResponse(job *entity.GenerationJob) *JobResponse {
	if job == nil {
		return nil
	}
	return &JobResponse{
		ID:                       job.ID,
		Status:                   job.Status,
		Message:                  job.Message,
		Progress:                 job.Progress,
		EstimatedDurationSeconds: job.EstimatedDurationSeconds,
		CreatedAt:                formatTime(job.CreatedAt),
		UpdatedAt:                formatTime(job.UpdatedAt),
	}
}

// ToConfigResponse 生成配置转响应，MANUAL 返回 nil
func ToConfigResponse(cfg entity.GenerationConfig) *ConfigResponse {
	if cfg == nil {
		return nil
	}
	resp := &ConfigResponse{
		Method:         cfg.Method(),
		QuestionCounts: cfg.Counts().Map(),
		TotalQuestions: cfg.Counts().Total(),
		Difficulty:     cfg.GetDifficulty(),
	}
	switch c := cfg.(type) {
	case *entity.TextGenerationConfig:
		resp.SourceText = c.SourceText
		resp.Language = c.Language
		resp.ChunkingStrategy = c.ChunkingStrategy
		resp.MaxChunkSize = c.MaxChunkSize
	case *entity.DocumentGenerationConfig:
		resp.Document = toDocumentResponse(c.Document)
		resp.ChunkingStrategy = c.ChunkingStrategy
		resp.MaxChunkSize = c.MaxChunkSize
	default:
		panic(fmt.Sprintf("dto: unhandled generation config %T", cfg))
	}
	return resp
}

func toDocumentResponse(doc *entity.SourceDocument) *DocumentResponse {
	if doc == nil {
		return nil
	}
	resp := &DocumentResponse{
		FileName:     doc.FileName,
		ContentType:  doc.ContentType,
		SizeBytes:    doc.Size(),
		ChunkIndices: doc.ChunkIndices,
	}
	for i, r := range doc.PageRanges {
		if i > 0 {
			resp.Pages += ","
		}
		resp.Pages += r.String()
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
