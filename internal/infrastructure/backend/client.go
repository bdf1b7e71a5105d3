package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"quiz-wizard-api/internal/config"
	"quiz-wizard-api/internal/domain/entity"
	"quiz-wizard-api/internal/domain/service"
	"quiz-wizard-api/pkg/errors"
	"quiz-wizard-api/pkg/logger"
	"quiz-wizard-api/pkg/metrics"
	"quiz-wizard-api/pkg/tracer"
)

const (
	pathGenerateFromText   = "/quizzes/generate-from-text"
	pathGenerateFromUpload = "/quizzes/generate-from-upload"
	pathGenerationStatus   = "/quizzes/generation-status/"
	pathGeneratedQuiz      = "/quizzes/generated-quiz/"
	pathQuizzes            = "/quizzes"

	maxResponseBytes = 1 << 20
	maxTrackedJobs   = 1024
)

// Client 生成任务 API 客户端，实现 service.GenerationJobClient 与 service.QuizCreator。
// 每次调用只做一次网络往返，本地只保留每个任务最近一次的快照。
type Client struct {
	baseURL        string
	apiToken       string
	maxUploadBytes int64
	transport      Transport
	classifier     service.ErrorClassifier

	mu       sync.RWMutex
	lastSeen map[string]*entity.GenerationJob

	results singleflight.Group
}

var (
	_ service.GenerationJobClient = (*Client)(nil)
	_ service.QuizCreator         = (*Client)(nil)
)

// NewClient 创建客户端
func NewClient(cfg *config.BackendConfig, transport Transport, classifier service.ErrorClassifier) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:       cfg.APIToken,
		maxUploadBytes: cfg.MaxUploadBytes,
		transport:      transport,
		classifier:     classifier,
		lastSeen:       make(map[string]*entity.GenerationJob),
	}
}

// Submit 按配置类型提交文本或文档生成请求
func (c *Client) Submit(ctx context.Context, cfg entity.GenerationConfig) (*entity.GenerationJob, error) {
	switch gc := cfg.(type) {
	case *entity.TextGenerationConfig:
		return c.submitText(ctx, gc)
	case *entity.DocumentGenerationConfig:
		return c.submitDocument(ctx, gc)
	case nil:
		return nil, errors.New(errors.KindValidation, "Invalid request: generation config is required")
	default:
		panic(fmt.Sprintf("backend: unhandled generation config %T", cfg))
	}
}

func (c *Client) submitText(ctx context.Context, cfg *entity.TextGenerationConfig) (*entity.GenerationJob, error) {
	body, err := json.Marshal(&generateFromTextRequest{
		Text:             cfg.SourceText,
		QuestionsPerType: cfg.QuestionCounts.Map(),
		Difficulty:       cfg.Difficulty,
		Language:         cfg.Language,
		ChunkingStrategy: cfg.ChunkingStrategy,
		MaxChunkSize:     cfg.MaxChunkSize,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnknown, "failed to encode generation request")
	}

	var resp jobResponse
	if err := c.do(ctx, "submit_text", http.MethodPost, pathGenerateFromText, "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return c.acceptSubmitted(ctx, &resp)
}

func (c *Client) submitDocument(ctx context.Context, cfg *entity.DocumentGenerationConfig) (*entity.GenerationJob, error) {
	doc := cfg.Document
	if doc == nil || doc.Size() == 0 {
		return nil, errors.New(errors.KindValidation, "Invalid request: document is required")
	}
	if c.maxUploadBytes > 0 && int64(doc.Size()) > c.maxUploadBytes {
		return nil, errors.New(errors.KindValidation,
			fmt.Sprintf("Invalid request: document is %d bytes, limit is %d", doc.Size(), c.maxUploadBytes))
	}

	body, contentType, err := encodeUpload(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnknown, "failed to encode upload")
	}

	var resp jobResponse
	if err := c.do(ctx, "submit_document", http.MethodPost, pathGenerateFromUpload, contentType, body, &resp); err != nil {
		return nil, err
	}
	return c.acceptSubmitted(ctx, &resp)
}

func encodeUpload(cfg *entity.DocumentGenerationConfig) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fileType := cfg.Document.ContentType
	if fileType == "" {
		fileType = "application/octet-stream"
	}
	fh := make(textproto.MIMEHeader)
	fh.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(cfg.Document.FileName)))
	fh.Set("Content-Type", fileType)
	part, err := w.CreatePart(fh)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(cfg.Document.Data); err != nil {
		return nil, "", err
	}

	ranges := make([]string, 0, len(cfg.Document.PageRanges))
	for _, r := range cfg.Document.PageRanges {
		ranges = append(ranges, r.String())
	}
	meta, err := json.Marshal(&generateFromUploadRequest{
		QuestionsPerType: cfg.QuestionCounts.Map(),
		Difficulty:       cfg.Difficulty,
		ChunkingStrategy: cfg.ChunkingStrategy,
		MaxChunkSize:     cfg.MaxChunkSize,
		PageRanges:       strings.Join(ranges, ","),
		ChunkIndices:     cfg.Document.ChunkIndices,
	})
	if err != nil {
		return nil, "", err
	}
	rh := make(textproto.MIMEHeader)
	rh.Set("Content-Disposition", `form-data; name="request"`)
	rh.Set("Content-Type", "application/json")
	part, err = w.CreatePart(rh)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(meta); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func (c *Client) acceptSubmitted(ctx context.Context, resp *jobResponse) (*entity.GenerationJob, error) {
	if strings.TrimSpace(resp.JobID) == "" {
		return nil, errors.New(errors.KindUnknown, "generation service returned no job id")
	}
	job, ok := resp.toJob("", entity.JobStatusPending)
	if !ok {
		return nil, errors.New(errors.KindUnknown, fmt.Sprintf("unexpected job status %q", resp.Status))
	}
	c.remember(job)
	logger.Info(ctx, "generation job submitted",
		"job_id", job.ID,
		"status", job.Status,
		"estimated_seconds", job.EstimatedDurationSeconds,
	)
	return job.Clone(), nil
}

// GetStatus 查询任务状态
func (c *Client) GetStatus(ctx context.Context, jobID string) (*entity.GenerationJob, error) {
	var resp jobResponse
	if err := c.do(ctx, "get_status", http.MethodGet, pathGenerationStatus+url.PathEscape(jobID), "", nil, &resp); err != nil {
		return nil, err
	}
	job, ok := resp.toJob(jobID, "")
	if !ok {
		return nil, errors.New(errors.KindUnknown, fmt.Sprintf("unexpected job status %q", resp.Status))
	}
	c.remember(job)
	return job.Clone(), nil
}

// Cancel 请求服务端取消任务，响应体缺省时视为已取消
func (c *Client) Cancel(ctx context.Context, jobID string) (*entity.GenerationJob, error) {
	var resp jobResponse
	if err := c.do(ctx, "cancel", http.MethodDelete, pathGenerationStatus+url.PathEscape(jobID), "", nil, &resp); err != nil {
		return nil, err
	}
	job, ok := resp.toJob(jobID, entity.JobStatusCancelled)
	if !ok {
		return nil, errors.New(errors.KindUnknown, fmt.Sprintf("unexpected job status %q", resp.Status))
	}
	c.remember(job)
	return job.Clone(), nil
}

// FetchResultID 查询已完成任务生成的测验 ID，并发调用合并为一次请求
func (c *Client) FetchResultID(ctx context.Context, jobID string) (string, error) {
	v, err, _ := c.results.Do(jobID, func() (interface{}, error) {
		var resp generatedQuizResponse
		if err := c.do(ctx, "fetch_result", http.MethodGet, pathGeneratedQuiz+url.PathEscape(jobID), "", nil, &resp); err != nil {
			return "", err
		}
		id := strings.TrimSpace(resp.ID)
		if id == "" {
			id = strings.TrimSpace(resp.QuizID)
		}
		if id == "" {
			return "", errors.New(errors.KindUnknown, "generated quiz has no id")
		}
		return id, nil
	})
	if err != nil {
		return "", err
	}

	id := v.(string)
	c.mu.Lock()
	if job, ok := c.lastSeen[jobID]; ok && job.Status == entity.JobStatusCompleted {
		job.ResultResourceID = id
	}
	c.mu.Unlock()
	return id, nil
}

// CreateQuiz 手动创建方式下同步创建测验
func (c *Client) CreateQuiz(ctx context.Context, draft entity.QuizDraft) (string, error) {
	body, err := json.Marshal(newCreateQuizRequest(draft))
	if err != nil {
		return "", errors.Wrap(err, errors.KindUnknown, "failed to encode quiz")
	}

	var resp createQuizResponse
	if err := c.do(ctx, "create_quiz", http.MethodPost, pathQuizzes, "application/json", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	id := strings.TrimSpace(resp.QuizID)
	if id == "" {
		id = strings.TrimSpace(resp.ID)
	}
	if id == "" {
		return "", errors.New(errors.KindUnknown, "quiz service returned no quiz id")
	}
	logger.Info(ctx, "quiz created", "quiz_id", id)
	return id, nil
}

// LastSeen 最近一次观察到的任务快照
func (c *Client) LastSeen(jobID string) (*entity.GenerationJob, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	job, ok := c.lastSeen[jobID]
	return job.Clone(), ok
}

func (c *Client) remember(job *entity.GenerationJob) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lastSeen[job.ID]; !ok && len(c.lastSeen) >= maxTrackedJobs {
		for id, j := range c.lastSeen {
			if j.IsTerminal() {
				delete(c.lastSeen, id)
			}
		}
	}
	c.lastSeen[job.ID] = job.Clone()
}

// do 执行一次请求；所有失败都经过分类
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	ctx, span := tracer.Start(ctx, "backend."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("backend.path", path),
	)

	start := time.Now()
	err := c.roundTrip(ctx, method, path, contentType, body, out)
	metrics.BackendRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		ce := c.classifier.Classify(err)
		metrics.BackendRequestsTotal.WithLabelValues(op, string(ce.Kind)).Inc()
		span.RecordError(ce)
		span.SetStatus(codes.Error, string(ce.Kind))
		logger.Warn(ctx, "backend request failed",
			"operation", op,
			"kind", ce.Kind,
			"message", ce.Message,
		)
		return ce
	}
	metrics.BackendRequestsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if rid := logger.RequestID(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.transport.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Method: method, Path: path, Status: resp.StatusCode, Body: data}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, errors.KindUnknown, "malformed response from generation service")
	}
	return nil
}
