// Package wizard 实现测验创建向导的状态机
package wizard

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"quiz-wizard-api/internal/application/estimate"
	"quiz-wizard-api/internal/domain/entity"
	"quiz-wizard-api/internal/domain/service"
	"quiz-wizard-api/internal/validator"
	"quiz-wizard-api/pkg/errors"
	"quiz-wizard-api/pkg/logger"
	"quiz-wizard-api/pkg/metrics"
)

const defaultSubmitTimeout = time.Minute

var (
	// ErrInvalidStep 当前步骤不允许该操作
	ErrInvalidStep = stderrors.New("operation not allowed in current step")
	// ErrBusy 提交进行中
	ErrBusy = stderrors.New("a submission is already in progress")
)

// Snapshot 向导状态的一致性快照
type Snapshot struct {
	SessionID string
	Step      Step
	Method    entity.CreationMethod
	Draft     entity.QuizDraft
	Config    entity.GenerationConfig
	Estimate  *entity.TokenEstimate
	UpdatedAt time.Time
}

// Controller 一次创建会话的向导。
// 锁约定：op 串行化含网络调用的操作（提交、取消、放弃），mu 保护状态；
// 任务回调只获取 mu，因此持有 op 调用 JobWatcher 不会死锁，持有 mu 时不得调用 JobWatcher。
type Controller struct {
	client    service.GenerationJobClient
	creator   service.QuizCreator
	watcher   service.JobWatcher
	validate  *validator.Validator
	sessionID string
	// submitTimeout 提交请求脱离调用方 context 后的上限
	submitTimeout time.Duration

	op sync.Mutex

	mu         sync.Mutex
	step       Step
	method     entity.CreationMethod
	draft      entity.QuizDraft
	config     entity.GenerationConfig
	quizID     string
	jobID      string
	generation uint64
	submitting bool
	updatedAt  time.Time
}

// Option 控制器选项
type Option func(*Controller)

// WithSessionID 设置会话 ID，用于日志
func WithSessionID(id string) Option {
	return func(c *Controller) {
		c.sessionID = id
	}
}

// WithSubmitTimeout 设置提交请求的超时，非正值保持默认
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.submitTimeout = d
		}
	}
}

// WithValidator 替换字段校验器
func WithValidator(v *validator.Validator) Option {
	return func(c *Controller) {
		if v != nil {
			c.validate = v
		}
	}
}

// NewController 创建向导，初始步骤为 MethodSelection
func NewController(client service.GenerationJobClient, creator service.QuizCreator, watcher service.JobWatcher, opts ...Option) *Controller {
	c := &Controller{
		client:        client,
		creator:       creator,
		watcher:       watcher,
		validate:      validator.Default(),
		submitTimeout: defaultSubmitTimeout,
		step:          MethodSelection{},
		draft:         entity.NewQuizDraft(),
		updatedAt:     time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID 会话 ID
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Step 当前步骤
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneStep(c.step)
}

// Draft 当前草稿
func (c *Controller) Draft() entity.QuizDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft.Clone()
}

// Estimate 按当前配置估算 token，不可估算时返回 nil
func (c *Controller) Estimate() *entity.TokenEstimate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return estimate.EstimateConfig(c.config)
}

// Result 完成后的测验 ID
func (c *Controller) Result() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if done, ok := c.step.(Complete); ok {
		return done.QuizID, true
	}
	return "", false
}

// UpdatedAt 最近一次状态变化时间
func (c *Controller) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// Snapshot 返回完整快照
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionID: c.sessionID,
		Step:      cloneStep(c.step),
		Method:    c.method,
		Draft:     c.draft.Clone(),
		Config:    entity.CloneConfig(c.config),
		Estimate:  estimate.EstimateConfig(c.config),
		UpdatedAt: c.updatedAt,
	}
}

// SelectMethod MethodSelection -> Configuring，不做校验。
// 重新选择同一方式时保留之前的配置。
func (c *Controller) SelectMethod(ctx context.Context, method entity.CreationMethod) error {
	if !method.Valid() {
		return errors.NewValidationError(map[string]string{"method": "unknown creation method"})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitting {
		return ErrBusy
	}
	if _, ok := c.step.(MethodSelection); !ok {
		return fmt.Errorf("%w: select method from %s", ErrInvalidStep, c.step.Name())
	}

	if method != c.method || (method.UsesGeneration() && c.config == nil) {
		c.config = entity.NewGenerationConfig(method, c.draft.Difficulty)
	}
	c.method = method
	c.setStep(c.logCtx(ctx), Configuring{Method: method})
	return nil
}

// Back Configuring -> MethodSelection，只丢弃本步骤的校验提示，保留草稿与配置
func (c *Controller) Back(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitting {
		return ErrBusy
	}
	if _, ok := c.step.(Configuring); !ok {
		return fmt.Errorf("%w: back from %s", ErrInvalidStep, c.step.Name())
	}
	c.setStep(c.logCtx(ctx), MethodSelection{})
	return nil
}

// SetDraft 替换草稿，难度同步到生成配置
func (c *Controller) SetDraft(d entity.QuizDraft) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	d.Normalize()
	c.draft = d.Clone()
	if c.config != nil && d.Difficulty.Valid() {
		c.config.SetDifficulty(d.Difficulty)
	}
	c.touchLocked()
	return nil
}

// SetDifficulty 同时修改草稿与生成配置的难度
func (c *Controller) SetDifficulty(d entity.Difficulty) error {
	if !d.Valid() {
		return errors.NewValidationError(map[string]string{"difficulty": "difficulty must be one of [EASY MEDIUM HARD]"})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	c.draft.Difficulty = d
	if c.config != nil {
		c.config.SetDifficulty(d)
	}
	c.touchLocked()
	return nil
}

// SetSourceText 设置文本生成的源文本
func (c *Controller) SetSourceText(text string) error {
	return c.withTextConfig(func(cfg *entity.TextGenerationConfig) {
		cfg.SourceText = text
	})
}

// SetLanguage 设置文本生成的语言
func (c *Controller) SetLanguage(lang string) error {
	return c.withTextConfig(func(cfg *entity.TextGenerationConfig) {
		cfg.Language = lang
	})
}

// SetDocument 设置文档生成的源文档
func (c *Controller) SetDocument(doc *entity.SourceDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := c.configLocked()
	if err != nil {
		return err
	}
	dc, ok := cfg.(*entity.DocumentGenerationConfig)
	if !ok {
		return fmt.Errorf("%w: documents apply to %s only", ErrInvalidStep, entity.CreationFromDocument)
	}
	dc.Document = doc
	c.touchLocked()
	return nil
}

// SetQuestionCount 设置单个题型数量，返回截断后实际保存的值
func (c *Controller) SetQuestionCount(t entity.QuestionType, n int) (int, error) {
	if !t.Valid() {
		return 0, errors.NewValidationError(map[string]string{"questionsPerType": "unknown question type " + string(t)})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := c.configLocked()
	if err != nil {
		return 0, err
	}
	stored := cfg.Counts().Set(t, n)
	c.touchLocked()
	return stored, nil
}

// SetQuestionCounts 整体替换题型数量，逐项截断
func (c *Controller) SetQuestionCounts(counts map[entity.QuestionType]int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := c.configLocked()
	if err != nil {
		return err
	}
	*cfg.Counts() = entity.NewQuestionCounts(counts)
	c.touchLocked()
	return nil
}

// SetChunking 设置切分方式；maxChunkSize 为 0 时保持不变
func (c *Controller) SetChunking(strategy entity.ChunkingStrategy, maxChunkSize int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := c.configLocked()
	if err != nil {
		return err
	}
	switch gc := cfg.(type) {
	case *entity.TextGenerationConfig:
		if strategy != "" {
			gc.ChunkingStrategy = strategy
		}
		if maxChunkSize != 0 {
			gc.MaxChunkSize = maxChunkSize
		}
	case *entity.DocumentGenerationConfig:
		if strategy != "" {
			gc.ChunkingStrategy = strategy
		}
		if maxChunkSize != 0 {
			gc.MaxChunkSize = maxChunkSize
		}
	default:
		panic(fmt.Sprintf("wizard: unhandled generation config %T", cfg))
	}
	c.touchLocked()
	return nil
}

func (c *Controller) withTextConfig(fn func(cfg *entity.TextGenerationConfig)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := c.configLocked()
	if err != nil {
		return err
	}
	tc, ok := cfg.(*entity.TextGenerationConfig)
	if !ok {
		return fmt.Errorf("%w: text settings apply to %s only", ErrInvalidStep, entity.CreationFromText)
	}
	fn(tc)
	c.touchLocked()
	return nil
}

func (c *Controller) editableLocked() error {
	if c.submitting {
		return ErrBusy
	}
	switch c.step.(type) {
	case MethodSelection, Configuring:
		return nil
	default:
		return fmt.Errorf("%w: edit in %s", ErrInvalidStep, c.step.Name())
	}
}

func (c *Controller) configLocked() (entity.GenerationConfig, error) {
	if c.submitting {
		return nil, ErrBusy
	}
	if _, ok := c.step.(Configuring); !ok || c.config == nil {
		return nil, fmt.Errorf("%w: generation settings need an AI creation method", ErrInvalidStep)
	}
	return c.config, nil
}

// Submit Configuring -> Generating | AddingQuestions。
// 校验失败时停留在 Configuring 并返回 *errors.ValidationError；远端失败返回 *errors.ClassifiedError。
func (c *Controller) Submit(ctx context.Context) error {
	ctx = c.logCtx(ctx)
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return ErrBusy
	}
	if _, ok := c.step.(Configuring); !ok {
		name := c.step.Name()
		c.mu.Unlock()
		return fmt.Errorf("%w: submit from %s", ErrInvalidStep, name)
	}
	method := c.method
	if fields := c.validateLocked(); len(fields) > 0 {
		c.setStep(ctx, Configuring{Method: method, FieldErrors: fields})
		c.mu.Unlock()
		metrics.WizardSubmitsTotal.WithLabelValues(string(method), "invalid").Inc()
		logger.Debug(ctx, "wizard submit rejected by validation", "fields", len(fields))
		return errors.NewValidationError(fields)
	}
	draft := c.draft.Clone()
	cfg := entity.CloneConfig(c.config)
	c.submitting = true
	c.mu.Unlock()

	// 服务端受理后即扣费，调用方断开不能中止请求，否则任务成为孤儿
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.submitTimeout)
	defer cancel()

	if method.UsesGeneration() {
		return c.submitGeneration(sctx, method, cfg)
	}
	return c.submitManual(sctx, draft)
}

func (c *Controller) submitManual(ctx context.Context, draft entity.QuizDraft) error {
	quizID, err := c.creator.CreateQuiz(ctx, draft)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
	if err != nil {
		return c.submitFailedLocked(ctx, entity.CreationManual, err)
	}
	c.quizID = quizID
	c.setStep(ctx, AddingQuestions{QuizID: quizID})
	metrics.WizardSubmitsTotal.WithLabelValues(string(entity.CreationManual), "ok").Inc()
	return nil
}

func (c *Controller) submitGeneration(ctx context.Context, method entity.CreationMethod, cfg entity.GenerationConfig) error {
	est := estimate.EstimateConfig(cfg)
	if est != nil {
		metrics.EstimatedTokens.WithLabelValues(string(method)).Observe(float64(est.TotalEstimatedTokens))
		logger.Info(ctx, "submitting generation request",
			"method", method,
			"questions", cfg.Counts().Total(),
			"estimated_tokens", est.TotalEstimatedTokens,
		)
	}

	job, err := c.client.Submit(ctx, cfg)

	c.mu.Lock()
	c.submitting = false
	if err != nil {
		err = c.submitFailedLocked(ctx, method, err)
		c.mu.Unlock()
		return err
	}
	c.generation++
	gen := c.generation
	c.jobID = job.ID
	c.setStep(ctx, Generating{Job: job.Clone(), Estimate: est})
	c.mu.Unlock()

	metrics.WizardSubmitsTotal.WithLabelValues(string(method), "ok").Inc()
	c.watcher.Start(ctx, job.ID, c.jobListener(context.WithoutCancel(ctx), gen))
	return nil
}

func (c *Controller) submitFailedLocked(ctx context.Context, method entity.CreationMethod, err error) error {
	ce := errors.AsClassified(err)
	c.setStep(ctx, Configuring{Method: method, Error: ce})
	metrics.WizardSubmitsTotal.WithLabelValues(string(method), string(ce.Kind)).Inc()
	logger.Warn(ctx, "wizard submit failed",
		"method", method,
		"kind", ce.Kind,
		"message", ce.Message,
	)
	return ce
}

// jobListener 把任务推送转为步骤变化；generation 变化后的推送一律丢弃
func (c *Controller) jobListener(ctx context.Context, gen uint64) service.JobListener {
	return func(u service.JobUpdate) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation != gen {
			return
		}
		cur, ok := c.step.(Generating)
		if !ok {
			return
		}

		switch u.State {
		case service.WatchPolling:
			if u.Job != nil {
				cur.Job = u.Job.Clone()
			}
			if u.Transient {
				cur.Warning = u.Err
			} else if !u.Overdue {
				cur.Warning = nil
			}
			cur.Overdue = cur.Overdue || u.Overdue
			c.step = cur
			c.touchLocked()
		case service.WatchSucceeded:
			c.quizID = u.ResourceID
			c.jobID = ""
			method := c.method
			c.discardDraftLocked()
			c.setStep(ctx, Complete{QuizID: u.ResourceID, Method: method})
		case service.WatchFailed:
			next := Configuring{Method: c.method, Error: u.Err}
			if u.Job != nil && u.Job.Status == entity.JobStatusFailed {
				next.JobFailure = u.Job.Message
				if next.JobFailure == "" {
					next.JobFailure = "Quiz generation failed"
				}
			}
			c.jobID = ""
			c.setStep(ctx, next)
		case service.WatchCancelled:
			msg := "Quiz generation was cancelled"
			if u.Job != nil && u.Job.Message != "" {
				msg = u.Job.Message
			}
			c.jobID = ""
			c.setStep(ctx, Configuring{Method: c.method, JobFailure: msg})
		default:
			logger.Warn(ctx, "ignoring job update", "state", u.State)
		}
	}
}

// Cancel Generating -> MethodSelection：停止轮询并丢弃全部草稿
func (c *Controller) Cancel(ctx context.Context) error {
	ctx = c.logCtx(ctx)
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if _, ok := c.step.(Generating); !ok {
		name := c.step.Name()
		c.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", ErrInvalidStep, name)
	}
	jobID := c.jobID
	c.generation++
	c.resetLocked(ctx)
	c.mu.Unlock()

	c.watcher.Cancel(ctx)
	logger.Info(ctx, "wizard generation cancelled", "job_id", jobID)
	return nil
}

// FinishAuthoring AddingQuestions -> Complete
func (c *Controller) FinishAuthoring(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	adding, ok := c.step.(AddingQuestions)
	if !ok {
		return fmt.Errorf("%w: finish from %s", ErrInvalidStep, c.step.Name())
	}
	c.discardDraftLocked()
	c.setStep(c.logCtx(ctx), Complete{QuizID: adding.QuizID, Method: entity.CreationManual})
	return nil
}

// Abandon 放弃会话：任何步骤都回到初始状态，生成中的任务会被取消
func (c *Controller) Abandon(ctx context.Context) {
	ctx = c.logCtx(ctx)
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	_, generating := c.step.(Generating)
	c.generation++
	c.resetLocked(ctx)
	c.mu.Unlock()

	if generating {
		c.watcher.Cancel(ctx)
	}
}

// Detach 进程退出时使用：停止本地轮询，服务端任务继续执行，步骤保持不变
func (c *Controller) Detach(ctx context.Context) {
	ctx = c.logCtx(ctx)
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	_, generating := c.step.(Generating)
	jobID := c.jobID
	c.generation++
	c.mu.Unlock()

	if generating {
		c.watcher.Stop(ctx)
		logger.Info(ctx, "wizard session detached from running job", "job_id", jobID)
	}
}

func (c *Controller) validateLocked() map[string]string {
	fields := make(map[string]string)
	for k, v := range c.validate.Struct(c.draft) {
		fields[k] = v
	}
	if !c.method.UsesGeneration() {
		return fields
	}
	if c.config == nil {
		fields["method"] = "generation settings are missing"
		return fields
	}
	for k, v := range c.validate.Struct(c.config) {
		fields[k] = v
	}
	if dc, ok := c.config.(*entity.DocumentGenerationConfig); ok && dc.Document != nil {
		if _, bad := fields["document"]; !bad && dc.ContentLength() < entity.DocumentMinCharacters {
			fields["document"] = fmt.Sprintf("document must contain at least %d characters", entity.DocumentMinCharacters)
		}
	}
	return fields
}

func (c *Controller) resetLocked(ctx context.Context) {
	c.method = ""
	c.quizID = ""
	c.discardDraftLocked()
	c.setStep(ctx, MethodSelection{})
}

func (c *Controller) discardDraftLocked() {
	c.draft = entity.NewQuizDraft()
	c.config = nil
	c.jobID = ""
}

func (c *Controller) setStep(ctx context.Context, next Step) {
	prev := c.step
	c.step = next
	c.touchLocked()
	if prev.Name() == next.Name() {
		return
	}
	metrics.WizardTransitionsTotal.WithLabelValues(string(prev.Name()), string(next.Name())).Inc()
	logger.Info(ctx, "wizard step changed", "from", prev.Name(), "to", next.Name())
}

func (c *Controller) touchLocked() {
	c.updatedAt = time.Now()
}

func (c *Controller) logCtx(ctx context.Context) context.Context {
	if c.sessionID == "" {
		return ctx
	}
	return logger.WithSession(ctx, c.sessionID)
}
