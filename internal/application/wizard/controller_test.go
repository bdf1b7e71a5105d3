package wizard_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-wizard-api/internal/application/poller"
	"quiz-wizard-api/internal/application/wizard"
	"quiz-wizard-api/internal/config"
	"quiz-wizard-api/internal/domain/entity"
	"quiz-wizard-api/internal/domain/service"
	"quiz-wizard-api/pkg/errors"
)

type fakeJobClient struct {
	submitJob *entity.GenerationJob
	submitErr error
	status    func(call int) (*entity.GenerationJob, error)
	// submitGate 非 nil 时 Submit 阻塞到放行或 ctx 结束，模拟慢速后端
	submitGate chan struct{}

	submits   atomic.Int32
	polls     atomic.Int32
	cancelled atomic.Int32
}

func (f *fakeJobClient) Submit(ctx context.Context, _ entity.GenerationConfig) (*entity.GenerationJob, error) {
	f.submits.Add(1)
	if f.submitGate != nil {
		select {
		case <-f.submitGate:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.KindUnknown, "request cancelled")
		}
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submitJob.Clone(), nil
}

func (f *fakeJobClient) GetStatus(ctx context.Context, _ string) (*entity.GenerationJob, error) {
	n := int(f.polls.Add(1))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.status(n)
}

func (f *fakeJobClient) Cancel(_ context.Context, jobID string) (*entity.GenerationJob, error) {
	f.cancelled.Add(1)
	return &entity.GenerationJob{ID: jobID, Status: entity.JobStatusCancelled}, nil
}

func (f *fakeJobClient) FetchResultID(context.Context, string) (string, error) {
	return "", errors.New(errors.KindNotFound, "no result")
}

type fakeCreator struct {
	id    string
	err   error
	calls atomic.Int32
}

func (f *fakeCreator) CreateQuiz(context.Context, entity.QuizDraft) (string, error) {
	f.calls.Add(1)
	return f.id, f.err
}

type fakeWatcher struct {
	mu       sync.Mutex
	started  []string
	listener service.JobListener
	cancels  int
	stops    int
}

func (w *fakeWatcher) Start(_ context.Context, jobID string, l service.JobListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = append(w.started, jobID)
	w.listener = l
}

func (w *fakeWatcher) Cancel(context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancels++
}

func (w *fakeWatcher) Stop(context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
}

func (w *fakeWatcher) State() service.WatchState { return service.WatchIdle }

func (w *fakeWatcher) push(u service.JobUpdate) {
	w.mu.Lock()
	l := w.listener
	w.mu.Unlock()
	l(u)
}

func intPtr(n int) *int { return &n }

func validDraft() entity.QuizDraft {
	d := entity.NewQuizDraft()
	d.Title = "Photosynthesis basics"
	d.Description = "Light and dark reactions"
	return d
}

// configureText 进入 FROM_TEXT 配置步骤并填好合法输入
func configureText(t *testing.T, c *wizard.Controller, text string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.SelectMethod(ctx, entity.CreationFromText))
	require.NoError(t, c.SetDraft(validDraft()))
	require.NoError(t, c.SetSourceText(text))
	_, err := c.SetQuestionCount(entity.QuestionMCQSingle, 3)
	require.NoError(t, err)
}

func pendingJob() *entity.GenerationJob {
	return &entity.GenerationJob{ID: "job-1", Status: entity.JobStatusPending, Message: "queued"}
}

func newPoller(client service.GenerationJobClient) *poller.Poller {
	return poller.New(client, &config.PollerConfig{Interval: 5 * time.Millisecond, CancelTimeout: time.Second})
}

func waitStep(t *testing.T, c *wizard.Controller, name wizard.StepName) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Step().Name() == name }, 2*time.Second, 2*time.Millisecond,
		"never reached %s", name)
}

func TestController_ShortTextFailsValidationWithoutSubmitting(t *testing.T) {
	client := &fakeJobClient{submitJob: pendingJob()}
	c := wizard.NewController(client, &fakeCreator{}, &fakeWatcher{})
	configureText(t, c, "123456789")

	err := c.Submit(context.Background())

	ve, ok := errors.AsValidation(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Contains(t, ve.Fields, "text")
	assert.Zero(t, client.submits.Load())

	step, ok := c.Step().(wizard.Configuring)
	require.True(t, ok)
	assert.Contains(t, step.FieldErrors, "text")
}

func TestController_FieldInvariants(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(d *entity.QuizDraft)
		field string
	}{
		{"short title", func(d *entity.QuizDraft) { d.Title = "ab" }, "title"},
		{"estimated time too long", func(d *entity.QuizDraft) { d.EstimatedTimeMinutes = 181 }, "estimatedTime"},
		{"estimated time zero", func(d *entity.QuizDraft) { d.EstimatedTimeMinutes = 0 }, "estimatedTime"},
		{"timer enabled without duration", func(d *entity.QuizDraft) {
			d.Timer = entity.TimerSettings{Enabled: true, DurationMinutes: 0}
		}, "timer.durationMinutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeJobClient{submitJob: pendingJob()}
			c := wizard.NewController(client, &fakeCreator{}, &fakeWatcher{})
			configureText(t, c, strings.Repeat("a", 300))

			d := validDraft()
			tt.edit(&d)
			require.NoError(t, c.SetDraft(d))

			ve, ok := errors.AsValidation(c.Submit(context.Background()))
			require.True(t, ok)
			assert.Contains(t, ve.Fields, tt.field)
			assert.Zero(t, client.submits.Load())
		})
	}
}

func TestController_TimerDurationIgnoredWhenDisabled(t *testing.T) {
	client := &fakeJobClient{submitJob: pendingJob()}
	c := wizard.NewController(client, &fakeCreator{}, &fakeWatcher{})
	configureText(t, c, strings.Repeat("a", 300))

	d := validDraft()
	d.Timer = entity.TimerSettings{Enabled: false, DurationMinutes: 0}
	require.NoError(t, c.SetDraft(d))

	require.NoError(t, c.Submit(context.Background()))
	assert.EqualValues(t, 1, client.submits.Load())
}

func TestController_RequiresAtLeastOneQuestion(t *testing.T) {
	client := &fakeJobClient{submitJob: pendingJob()}
	c := wizard.NewController(client, &fakeCreator{}, &fakeWatcher{})
	configureText(t, c, strings.Repeat("a", 300))
	require.NoError(t, c.SetQuestionCounts(nil))

	ve, ok := errors.AsValidation(c.Submit(context.Background()))
	require.True(t, ok)
	assert.Contains(t, ve.Fields, "questionsPerType")
	assert.Zero(t, client.submits.Load())
}

func TestController_QuestionCountsClampedOnEveryMutation(t *testing.T) {
	c := wizard.NewController(&fakeJobClient{}, &fakeCreator{}, &fakeWatcher{})
	require.NoError(t, c.SelectMethod(context.Background(), entity.CreationFromText))

	stored, err := c.SetQuestionCount(entity.QuestionMCQSingle, 25)
	require.NoError(t, err)
	assert.Equal(t, 10, stored)

	stored, err = c.SetQuestionCount(entity.QuestionOrdering, -3)
	require.NoError(t, err)
	assert.Equal(t, 0, stored)

	require.NoError(t, c.SetQuestionCounts(map[entity.QuestionType]int{entity.QuestionMCQMulti: 9}))
	assert.Equal(t, 5, c.Snapshot().Config.Counts().Get(entity.QuestionMCQMulti))
}

func TestController_EndToEndSuccess(t *testing.T) {
	client := &fakeJobClient{
		submitJob: pendingJob(),
		status: func(call int) (*entity.GenerationJob, error) {
			switch call {
			case 1:
				return &entity.GenerationJob{ID: "job-1", Status: entity.JobStatusPending}, nil
			case 2:
				return &entity.GenerationJob{ID: "job-1", Status: entity.JobStatusProcessing, Progress: intPtr(40)}, nil
			default:
				return &entity.GenerationJob{ID: "job-1", Status: entity.JobStatusCompleted, ResultResourceID: "quiz-9"}, nil
			}
		},
	}
	c := wizard.NewController(client, &fakeCreator{}, newPoller(client))
	configureText(t, c, strings.Repeat("a", 300))

	require.NoError(t, c.Submit(context.Background()))
	gen, ok := c.Step().(wizard.Generating)
	if ok {
		require.NotNil(t, gen.Estimate)
		assert.Equal(t, 435, gen.Estimate.TotalEstimatedTokens)
	}

	waitStep(t, c, wizard.StepComplete)
	id, done := c.Result()
	assert.True(t, done)
	assert.Equal(t, "quiz-9", id)
	assert.EqualValues(t, 1, client.submits.Load())
}

func TestController_EndToEndJobFailure(t *testing.T) {
	client := &fakeJobClient{
		submitJob: pendingJob(),
		status: func(call int) (*entity.GenerationJob, error) {
			if call == 1 {
				return &entity.GenerationJob{ID: "job-1", Status: entity.JobStatusProcessing, Progress: intPtr(10)}, nil
			}
			return &entity.GenerationJob{ID: "job-1", Status: entity.JobStatusFailed, Message: "document too large"}, nil
		},
	}
	c := wizard.NewController(client, &fakeCreator{}, newPoller(client))
	configureText(t, c, strings.Repeat("a", 300))

	require.NoError(t, c.Submit(context.Background()))
	waitStep(t, c, wizard.StepConfiguring)

	step := c.Step().(wizard.Configuring)
	assert.Equal(t, "document too large", step.JobFailure)
	assert.Equal(t, entity.CreationFromText, step.Method)
	_, done := c.Result()
	assert.False(t, done)

	// 草稿保留，可以直接重新提交
	assert.Equal(t, "Photosynthesis basics", c.Draft().Title)
	client.submitErr = errors.New(errors.KindServer, "down")
	assert.Error(t, c.Submit(context.Background()))
	assert.EqualValues(t, 2, client.submits.Load())
}

func TestController_CancelWhileProcessing(t *testing.T) {
	client := &fakeJobClient{
		submitJob: pendingJob(),
		status: func(int) (*entity.GenerationJob, error) {
			return &entity.GenerationJob{ID: "job-1", Status: entity.JobStatusProcessing, Progress: intPtr(55)}, nil
		},
	}
	c := wizard.NewController(client, &fakeCreator{}, newPoller(client))
	configureText(t, c, strings.Repeat("a", 300))
	require.NoError(t, c.Submit(context.Background()))

	require.Eventually(t, func() bool {
		gen, ok := c.Step().(wizard.Generating)
		return ok && gen.Job.Progress != nil && *gen.Job.Progress == 55
	}, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, c.Cancel(context.Background()))
	polls := client.polls.Load()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, polls, client.polls.Load(), "status polled after cancel")
	assert.EqualValues(t, 1, client.cancelled.Load())

	assert.Equal(t, wizard.MethodSelection{}, c.Step())
	snap := c.Snapshot()
	assert.Equal(t, entity.NewQuizDraft(), snap.Draft)
	assert.Nil(t, snap.Config)
	assert.Empty(t, snap.Method)
}

func TestController_SubmitFailuresReturnToConfiguring(t *testing.T) {
	required, available := int64(6), int64(0)
	tests := []struct {
		name string
		err  error
		kind errors.ErrorKind
	}{
		{"balance", errors.New(errors.KindInsufficientBalance, "Insufficient tokens").WithTokens(&required, &available), errors.KindInsufficientBalance},
		{"server validation", errors.New(errors.KindValidation, "Invalid request: language not supported"), errors.KindValidation},
		{"server down", errors.New(errors.KindServer, "bad gateway"), errors.KindServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeJobClient{submitErr: tt.err}
			w := &fakeWatcher{}
			c := wizard.NewController(client, &fakeCreator{}, w)
			configureText(t, c, strings.Repeat("a", 300))

			err := c.Submit(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.AsClassified(err).Kind)

			step, ok := c.Step().(wizard.Configuring)
			require.True(t, ok)
			require.NotNil(t, step.Error)
			assert.Equal(t, tt.kind, step.Error.Kind)
			assert.Empty(t, w.started)
		})
	}
}

func TestController_ManualPath(t *testing.T) {
	client := &fakeJobClient{}
	creator := &fakeCreator{id: "quiz-1"}
	w := &fakeWatcher{}
	c := wizard.NewController(client, creator, w)
	ctx := context.Background()

	require.NoError(t, c.SelectMethod(ctx, entity.CreationManual))
	require.NoError(t, c.SetDraft(validDraft()))
	_, err := c.SetQuestionCount(entity.QuestionMCQSingle, 1)
	assert.ErrorIs(t, err, wizard.ErrInvalidStep, "manual quizzes have no generation settings")

	require.NoError(t, c.Submit(ctx))
	assert.Equal(t, wizard.AddingQuestions{QuizID: "quiz-1"}, c.Step())
	assert.Zero(t, client.submits.Load())
	assert.Empty(t, w.started)

	require.NoError(t, c.FinishAuthoring(ctx))
	id, done := c.Result()
	assert.True(t, done)
	assert.Equal(t, "quiz-1", id)
}

func TestController_BackKeepsDraftAndClearsErrors(t *testing.T) {
	c := wizard.NewController(&fakeJobClient{}, &fakeCreator{}, &fakeWatcher{})
	ctx := context.Background()
	configureText(t, c, "short")

	require.Error(t, c.Submit(ctx))
	require.NotEmpty(t, c.Step().(wizard.Configuring).FieldErrors)

	require.NoError(t, c.Back(ctx))
	assert.Equal(t, wizard.MethodSelection{}, c.Step())

	require.NoError(t, c.SelectMethod(ctx, entity.CreationFromText))
	step := c.Step().(wizard.Configuring)
	assert.Empty(t, step.FieldErrors)
	assert.Equal(t, "Photosynthesis basics", c.Draft().Title)
	text := c.Snapshot().Config.(*entity.TextGenerationConfig)
	assert.Equal(t, "short", text.SourceText)
	assert.Equal(t, 3, text.QuestionCounts.Get(entity.QuestionMCQSingle))
}

func TestController_InvalidTransitions(t *testing.T) {
	c := wizard.NewController(&fakeJobClient{}, &fakeCreator{}, &fakeWatcher{})
	ctx := context.Background()

	assert.ErrorIs(t, c.Back(ctx), wizard.ErrInvalidStep)
	assert.ErrorIs(t, c.Submit(ctx), wizard.ErrInvalidStep)
	assert.ErrorIs(t, c.Cancel(ctx), wizard.ErrInvalidStep)
	assert.ErrorIs(t, c.FinishAuthoring(ctx), wizard.ErrInvalidStep)

	_, ok := errors.AsValidation(c.SelectMethod(ctx, "CARRIER_PIGEON"))
	assert.True(t, ok)
}

func TestController_StaleUpdatesAfterCancelAreDiscarded(t *testing.T) {
	client := &fakeJobClient{submitJob: pendingJob()}
	w := &fakeWatcher{}
	c := wizard.NewController(client, &fakeCreator{}, w)
	configureText(t, c, strings.Repeat("a", 300))
	require.NoError(t, c.Submit(context.Background()))
	require.Equal(t, []string{"job-1"}, w.started)

	require.NoError(t, c.Cancel(context.Background()))
	assert.Equal(t, 1, w.cancels)

	w.push(service.JobUpdate{
		State:      service.WatchSucceeded,
		Job:        &entity.GenerationJob{ID: "job-1", Status: entity.JobStatusCompleted, ResultResourceID: "quiz-9"},
		ResourceID: "quiz-9",
	})
	assert.Equal(t, wizard.MethodSelection{}, c.Step())
	_, done := c.Result()
	assert.False(t, done)
}

func TestController_TransientWarningsAndOverdue(t *testing.T) {
	w := &fakeWatcher{}
	c := wizard.NewController(&fakeJobClient{submitJob: pendingJob()}, &fakeCreator{}, w)
	configureText(t, c, strings.Repeat("a", 300))
	require.NoError(t, c.Submit(context.Background()))

	w.push(service.JobUpdate{State: service.WatchPolling, Err: errors.New(errors.KindServer, "timeout"), Transient: true})
	gen := c.Step().(wizard.Generating)
	require.NotNil(t, gen.Warning)
	assert.Equal(t, errors.KindServer, gen.Warning.Kind)
	assert.Equal(t, "job-1", gen.Job.ID, "warning keeps the last snapshot")

	w.push(service.JobUpdate{State: service.WatchPolling, Overdue: true})
	gen = c.Step().(wizard.Generating)
	assert.True(t, gen.Overdue)

	w.push(service.JobUpdate{State: service.WatchPolling, Job: &entity.GenerationJob{ID: "job-1", Status: entity.JobStatusProcessing}})
	gen = c.Step().(wizard.Generating)
	assert.Nil(t, gen.Warning)
	assert.True(t, gen.Overdue, "overdue notice sticks")
	assert.Nil(t, gen.Job.Progress, "missing progress stays indeterminate")
}

func TestController_NotFoundWhilePollingEndsJob(t *testing.T) {
	w := &fakeWatcher{}
	c := wizard.NewController(&fakeJobClient{submitJob: pendingJob()}, &fakeCreator{}, w)
	configureText(t, c, strings.Repeat("a", 300))
	require.NoError(t, c.Submit(context.Background()))

	w.push(service.JobUpdate{State: service.WatchFailed, Err: errors.New(errors.KindNotFound, "job not found")})

	step := c.Step().(wizard.Configuring)
	require.NotNil(t, step.Error)
	assert.Equal(t, errors.KindNotFound, step.Error.Kind)
	assert.Empty(t, step.JobFailure)
}

func TestController_DocumentNeedsMinimumContent(t *testing.T) {
	client := &fakeJobClient{submitJob: pendingJob()}
	c := wizard.NewController(client, &fakeCreator{}, &fakeWatcher{})
	ctx := context.Background()

	require.NoError(t, c.SelectMethod(ctx, entity.CreationFromDocument))
	require.NoError(t, c.SetDraft(validDraft()))
	_, err := c.SetQuestionCount(entity.QuestionTrueFalse, 4)
	require.NoError(t, err)
	assert.ErrorIs(t, c.SetSourceText("text belongs to FROM_TEXT"), wizard.ErrInvalidStep)

	ve, ok := errors.AsValidation(c.Submit(ctx))
	require.True(t, ok)
	assert.Contains(t, ve.Fields, "document")

	require.NoError(t, c.SetDocument(&entity.SourceDocument{FileName: "tiny.txt", Data: []byte("too small")}))
	ve, ok = errors.AsValidation(c.Submit(ctx))
	require.True(t, ok)
	assert.Contains(t, ve.Fields, "document")

	require.NoError(t, c.SetDocument(&entity.SourceDocument{FileName: "notes.txt", Data: []byte(strings.Repeat("x", 500))}))
	require.NoError(t, c.Submit(ctx))
	assert.EqualValues(t, 1, client.submits.Load())
}

func TestController_SubmitSurvivesCallerDisconnect(t *testing.T) {
	client := &fakeJobClient{submitJob: pendingJob(), submitGate: make(chan struct{})}
	watcher := &fakeWatcher{}
	c := wizard.NewController(client, &fakeCreator{}, watcher)
	configureText(t, c, strings.Repeat("photosynthesis ", 10))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Submit(ctx) }()

	require.Eventually(t, func() bool { return client.submits.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(client.submitGate)

	require.NoError(t, <-errCh)
	gen, ok := c.Step().(wizard.Generating)
	require.True(t, ok, "step is %T", c.Step())
	assert.Equal(t, "job-1", gen.Job.ID)
	assert.Equal(t, []string{"job-1"}, watcher.started)
}

func TestController_SubmitTimeoutReturnsToConfiguring(t *testing.T) {
	client := &fakeJobClient{submitJob: pendingJob(), submitGate: make(chan struct{})}
	c := wizard.NewController(client, &fakeCreator{}, &fakeWatcher{}, wizard.WithSubmitTimeout(20*time.Millisecond))
	configureText(t, c, strings.Repeat("photosynthesis ", 10))

	err := c.Submit(context.Background())

	ce := errors.AsClassified(err)
	require.NotNil(t, ce)
	assert.Equal(t, errors.KindUnknown, ce.Kind)
	cfg, ok := c.Step().(wizard.Configuring)
	require.True(t, ok, "step is %T", c.Step())
	assert.Equal(t, ce, cfg.Error)
}

func TestController_DetachKeepsStepAndDropsLateUpdates(t *testing.T) {
	client := &fakeJobClient{submitJob: pendingJob()}
	watcher := &fakeWatcher{}
	c := wizard.NewController(client, &fakeCreator{}, watcher)
	configureText(t, c, strings.Repeat("photosynthesis ", 10))
	require.NoError(t, c.Submit(context.Background()))

	c.Detach(context.Background())

	watcher.push(service.JobUpdate{State: service.WatchSucceeded, ResourceID: "quiz-late"})
	assert.Equal(t, wizard.StepGenerating, c.Step().Name())
	assert.Equal(t, 1, watcher.stops)
	assert.Zero(t, watcher.cancels)
	assert.Zero(t, client.cancelled.Load())
}
