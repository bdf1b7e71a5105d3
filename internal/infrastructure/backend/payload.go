package backend

import (
	"encoding/json"
	"strings"
	"time"

	"quiz-wizard-api/internal/domain/entity"
)

type generateFromTextRequest struct {
	Text             string                      `json:"text"`
	QuestionsPerType map[entity.QuestionType]int `json:"questionsPerType"`
	Difficulty       entity.Difficulty           `json:"difficulty"`
	Language         string                      `json:"language,omitempty"`
	ChunkingStrategy entity.ChunkingStrategy     `json:"chunkingStrategy,omitempty"`
	MaxChunkSize     int                         `json:"maxChunkSize,omitempty"`
}

type generateFromUploadRequest struct {
	QuestionsPerType map[entity.QuestionType]int `json:"questionsPerType"`
	Difficulty       entity.Difficulty           `json:"difficulty"`
	ChunkingStrategy entity.ChunkingStrategy     `json:"chunkingStrategy,omitempty"`
	MaxChunkSize     int                         `json:"maxChunkSize,omitempty"`
	PageRanges       string                      `json:"pageRanges,omitempty"`
	ChunkIndices     []int                       `json:"chunkIndices,omitempty"`
}

// jobResponse 提交、查询与取消共用的任务响应
type jobResponse struct {
	JobID                string       `json:"jobId"`
	Status               string       `json:"status"`
	Message              string       `json:"message"`
	Progress             *int         `json:"progress"`
	EstimatedTimeSeconds *int         `json:"estimatedTimeSeconds"`
	CreatedAt            flexibleTime `json:"createdAt"`
	UpdatedAt            flexibleTime `json:"updatedAt"`
	GeneratedQuizID      string       `json:"generatedQuizId"`
}

type generatedQuizResponse struct {
	ID     string `json:"id"`
	QuizID string `json:"quizId"`
}

type createQuizRequest struct {
	Title               string            `json:"title"`
	Description         string            `json:"description,omitempty"`
	Difficulty          entity.Difficulty `json:"difficulty"`
	Visibility          entity.Visibility `json:"visibility"`
	EstimatedTime       int               `json:"estimatedTime"`
	TimerEnabled        bool              `json:"timerEnabled"`
	TimerDuration       int               `json:"timerDuration,omitempty"`
	IsRepetitionEnabled bool              `json:"isRepetitionEnabled"`
	CategoryID          *string           `json:"categoryId,omitempty"`
	TagIDs              []string          `json:"tagIds,omitempty"`
}

type createQuizResponse struct {
	QuizID string `json:"quizId"`
	ID     string `json:"id"`
}

func newCreateQuizRequest(d entity.QuizDraft) createQuizRequest {
	req := createQuizRequest{
		Title:               d.Title,
		Description:         d.Description,
		Difficulty:          d.Difficulty,
		Visibility:          d.Visibility,
		EstimatedTime:       d.EstimatedTimeMinutes,
		TimerEnabled:        d.Timer.Enabled,
		IsRepetitionEnabled: d.RepetitionAllowed,
		CategoryID:          d.CategoryID,
		TagIDs:              d.TagIDs,
	}
	if d.Timer.Enabled {
		req.TimerDuration = d.Timer.DurationMinutes
	}
	return req
}

// flexibleTime 兼容带时区与不带时区的时间戳，无法解析时为零值
type flexibleTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *flexibleTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

// toJob 转换为领域快照；未知状态返回 false
func (r *jobResponse) toJob(fallbackID string, fallbackStatus entity.JobStatus) (*entity.GenerationJob, bool) {
	status := entity.JobStatus(strings.ToUpper(strings.TrimSpace(r.Status)))
	if status == "" {
		status = fallbackStatus
	}
	if !status.Valid() {
		return nil, false
	}

	id := r.JobID
	if id == "" {
		id = fallbackID
	}

	job := &entity.GenerationJob{
		ID:        id,
		Status:    status,
		Message:   r.Message,
		Progress:  entity.NormalizeProgress(r.Progress),
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
	if r.EstimatedTimeSeconds != nil && *r.EstimatedTimeSeconds > 0 {
		job.EstimatedDurationSeconds = *r.EstimatedTimeSeconds
	}
	if status == entity.JobStatusCompleted {
		job.ResultResourceID = strings.TrimSpace(r.GeneratedQuizID)
	}
	return job, true
}
