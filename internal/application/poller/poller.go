// Package poller 通过定时查询跟踪生成任务直到终态
package poller

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"quiz-wizard-api/internal/config"
	"quiz-wizard-api/internal/domain/entity"
	"quiz-wizard-api/internal/domain/service"
	"quiz-wizard-api/pkg/errors"
	"quiz-wizard-api/pkg/logger"
	"quiz-wizard-api/pkg/metrics"
	"quiz-wizard-api/pkg/tracer"
)

const (
	defaultInterval      = 2 * time.Second
	defaultCancelTimeout = 5 * time.Second
)

// Poller 实现 service.JobWatcher。
// 同一时刻最多一个轮询协程；每次 Start/Cancel 递增 epoch，旧协程的结果一律丢弃。
type Poller struct {
	client        service.GenerationJobClient
	interval      time.Duration
	softDeadline  time.Duration
	cancelTimeout time.Duration

	mu     sync.Mutex
	state  service.WatchState
	epoch  uint64
	jobID  string
	last   *entity.GenerationJob
	cancel context.CancelFunc
	done   chan struct{}
}

var _ service.JobWatcher = (*Poller)(nil)

// New 创建轮询器
func New(client service.GenerationJobClient, cfg *config.PollerConfig) *Poller {
	p := &Poller{
		client:        client,
		interval:      cfg.Interval,
		softDeadline:  cfg.SoftDeadline,
		cancelTimeout: cfg.CancelTimeout,
		state:         service.WatchIdle,
	}
	if p.interval <= 0 {
		p.interval = defaultInterval
	}
	if p.cancelTimeout <= 0 {
		p.cancelTimeout = defaultCancelTimeout
	}
	return p
}

// Start 开始跟踪任务，已有的轮询会先被停止。
// 轮询协程不继承 ctx 的取消，只有 Cancel 或终态能结束它。
func (p *Poller) Start(ctx context.Context, jobID string, listener service.JobListener) {
	p.stopLoop()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	loopCtx = logger.WithJob(loopCtx, jobID)
	done := make(chan struct{})

	p.mu.Lock()
	p.epoch++
	epoch := p.epoch
	p.state = service.WatchPolling
	p.jobID = jobID
	p.last = nil
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	metrics.ActivePollers.Inc()
	logger.Info(loopCtx, "job polling started", "interval", p.interval.String())
	go p.run(loopCtx, epoch, jobID, listener, done)
}

// Cancel 停止轮询并尽力取消服务端任务。
// 返回后不会再有 GetStatus 调用，也不会再有回调。
func (p *Poller) Cancel(ctx context.Context) {
	p.mu.Lock()
	wasPolling := p.state == service.WatchPolling
	jobID := p.jobID
	p.mu.Unlock()

	p.stopLoop()

	if !wasPolling {
		return
	}

	p.mu.Lock()
	cancelled := p.jobID == jobID && p.state == service.WatchPolling
	if cancelled {
		p.state = service.WatchCancelled
	}
	p.mu.Unlock()
	if !cancelled {
		return
	}
	metrics.JobOutcomesTotal.WithLabelValues(string(service.WatchCancelled)).Inc()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cancelTimeout)
	defer cancel()
	if _, err := p.client.Cancel(cctx, jobID); err != nil {
		logger.Warn(ctx, "server-side job cancel failed",
			"job_id", jobID,
			"kind", errors.AsClassified(err).Kind,
		)
		return
	}
	logger.Info(ctx, "job cancelled", "job_id", jobID)
}

// Stop 停止本地轮询但保留服务端任务，用于进程退出。
// 返回后不会再有 GetStatus 调用，也不会再有回调。
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	wasPolling := p.state == service.WatchPolling
	jobID := p.jobID
	p.mu.Unlock()

	p.stopLoop()

	if !wasPolling {
		return
	}
	p.mu.Lock()
	if p.jobID == jobID && p.state == service.WatchPolling {
		p.state = service.WatchIdle
	}
	p.mu.Unlock()
	logger.Info(ctx, "job polling detached, server job left running", "job_id", jobID)
}

// State 当前跟踪状态
func (p *Poller) State() service.WatchState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot 最近一次推送的任务快照
func (p *Poller) Snapshot() *entity.GenerationJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last.Clone()
}

// stopLoop 使当前协程失效并等待其退出
func (p *Poller) stopLoop() {
	p.mu.Lock()
	p.epoch++
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context, epoch uint64, jobID string, listener service.JobListener, done chan struct{}) {
	defer close(done)
	defer metrics.ActivePollers.Dec()

	started := time.Now()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var overdue <-chan time.Time
	if p.softDeadline > 0 {
		timer := time.NewTimer(p.softDeadline)
		defer timer.Stop()
		overdue = timer.C
	}

	if p.poll(ctx, epoch, jobID, listener, started) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-overdue:
			overdue = nil
			metrics.JobsOverdueTotal.Inc()
			logger.Warn(ctx, "job exceeded soft deadline, still polling",
				"elapsed", time.Since(started).Round(time.Second).String(),
			)
			p.emit(epoch, listener, service.JobUpdate{
				State:   service.WatchPolling,
				Job:     p.Snapshot(),
				Overdue: true,
			})
		case <-ticker.C:
			if p.poll(ctx, epoch, jobID, listener, started) {
				return
			}
		}
	}
}

// terminalPollError 任务已不存在或凭据失效时重试没有意义，其余错误按瞬时处理
func terminalPollError(ce *errors.ClassifiedError) bool {
	return ce.Kind == errors.KindNotFound || ce.Kind == errors.KindAuth
}

// poll 执行一次查询，返回 true 表示轮询结束
func (p *Poller) poll(ctx context.Context, epoch uint64, jobID string, listener service.JobListener, started time.Time) bool {
	ctx, span := tracer.Start(ctx, "poller.poll")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	job, err := p.client.GetStatus(ctx, jobID)
	if ctx.Err() != nil {
		metrics.JobPollsTotal.WithLabelValues("discarded").Inc()
		return true
	}
	if err != nil {
		metrics.JobPollsTotal.WithLabelValues("error").Inc()
		ce := errors.AsClassified(err)
		if terminalPollError(ce) {
			return p.finish(ctx, epoch, listener, started, service.JobUpdate{
				State: service.WatchFailed,
				Job:   p.Snapshot(),
				Err:   ce,
			})
		}
		logger.Warn(ctx, "job status poll failed, will retry", "kind", ce.Kind, "message", ce.Message)
		p.emit(epoch, listener, service.JobUpdate{
			State:     service.WatchPolling,
			Job:       p.Snapshot(),
			Err:       ce,
			Transient: true,
		})
		return false
	}
	metrics.JobPollsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.String("job.status", string(job.Status)))

	switch job.Status {
	case entity.JobStatusCompleted:
		if job.ResultResourceID == "" {
			id, err := p.client.FetchResultID(ctx, jobID)
			if ctx.Err() != nil {
				return true
			}
			if err != nil {
				ce := errors.AsClassified(err)
				if terminalPollError(ce) {
					return p.finish(ctx, epoch, listener, started, service.JobUpdate{
						State: service.WatchFailed,
						Job:   job,
						Err:   ce,
					})
				}
				logger.Warn(ctx, "generated quiz lookup failed, will retry", "kind", ce.Kind)
				p.emit(epoch, listener, service.JobUpdate{
					State:     service.WatchPolling,
					Job:       job,
					Err:       ce,
					Transient: true,
				})
				return false
			}
			job.ResultResourceID = id
		}
		return p.finish(ctx, epoch, listener, started, service.JobUpdate{
			State:      service.WatchSucceeded,
			Job:        job,
			ResourceID: job.ResultResourceID,
		})
	case entity.JobStatusFailed:
		return p.finish(ctx, epoch, listener, started, service.JobUpdate{
			State: service.WatchFailed,
			Job:   job,
		})
	case entity.JobStatusCancelled:
		return p.finish(ctx, epoch, listener, started, service.JobUpdate{
			State: service.WatchCancelled,
			Job:   job,
		})
	default:
		return !p.emit(epoch, listener, service.JobUpdate{
			State: service.WatchPolling,
			Job:   job,
		})
	}
}

func (p *Poller) finish(ctx context.Context, epoch uint64, listener service.JobListener, started time.Time, u service.JobUpdate) bool {
	if !p.emit(epoch, listener, u) {
		return true
	}
	metrics.JobOutcomesTotal.WithLabelValues(string(u.State)).Inc()
	metrics.JobTrackDuration.WithLabelValues(string(u.State)).Observe(time.Since(started).Seconds())
	logger.Info(ctx, "job polling finished",
		"state", u.State,
		"resource_id", u.ResourceID,
	)
	return true
}

// emit 在 epoch 仍有效时更新状态并回调，过期时返回 false
func (p *Poller) emit(epoch uint64, listener service.JobListener, u service.JobUpdate) bool {
	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		metrics.JobPollsTotal.WithLabelValues("discarded").Inc()
		return false
	}
	if u.Job != nil {
		p.last = u.Job.Clone()
	}
	if u.State.IsTerminal() {
		p.state = u.State
	}
	p.mu.Unlock()

	if listener != nil {
		listener(u)
	}
	return true
}
