// Package session 管理网关进程内的向导会话
package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-wizard-api/internal/application/poller"
	"quiz-wizard-api/internal/application/wizard"
	"quiz-wizard-api/internal/config"
	"quiz-wizard-api/internal/domain/service"
	"quiz-wizard-api/pkg/logger"
	"quiz-wizard-api/pkg/metrics"
)

const (
	defaultSessionTTL      = 2 * time.Hour
	defaultJanitorInterval = time.Minute
)

var (
	// ErrNotFound 会话不存在或已过期
	ErrNotFound = stderrors.New("wizard session not found")
	// ErrTooManySessions 会话数达到上限
	ErrTooManySessions = stderrors.New("too many active wizard sessions")
)

// Factory 为新会话创建控制器
type Factory func(sessionID string) *wizard.Controller

// NewFactory 每个会话独占一个轮询器，opts 应用于每个控制器
func NewFactory(client service.GenerationJobClient, creator service.QuizCreator, cfg *config.PollerConfig, opts ...wizard.Option) Factory {
	return func(sessionID string) *wizard.Controller {
		all := append([]wizard.Option{wizard.WithSessionID(sessionID)}, opts...)
		return wizard.NewController(client, creator, poller.New(client, cfg), all...)
	}
}

// Registry 按 ID 保存会话；空闲超过 TTL 的会话由清理协程放弃
type Registry struct {
	factory     Factory
	ttl         time.Duration
	interval    time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*wizard.Controller
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewRegistry 创建会话注册表
func NewRegistry(factory Factory, cfg *config.WizardConfig) *Registry {
	r := &Registry{
		factory:     factory,
		ttl:         cfg.SessionTTL,
		interval:    cfg.JanitorInterval,
		maxSessions: cfg.MaxSessions,
		now:         time.Now,
		sessions:    make(map[string]*wizard.Controller),
	}
	if r.ttl <= 0 {
		r.ttl = defaultSessionTTL
	}
	if r.interval <= 0 {
		r.interval = defaultJanitorInterval
	}
	return r
}

// Capacity 会话上限，0 表示不限
func (r *Registry) Capacity() int {
	return r.maxSessions
}

// Create 新建会话，初始步骤为 MethodSelection
func (r *Registry) Create(ctx context.Context) (*wizard.Controller, error) {
	id := uuid.NewString()

	r.mu.Lock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		logger.Warn(ctx, "wizard session limit reached", "max_sessions", r.maxSessions)
		return nil, ErrTooManySessions
	}
	ctrl := r.factory(id)
	r.sessions[id] = ctrl
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.WizardSessionsActive.Set(float64(count))
	logger.Info(logger.WithSession(ctx, id), "wizard session created")
	return ctrl, nil
}

// Get 查找会话
func (r *Registry) Get(id string) (*wizard.Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctrl, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ctrl, nil
}

// Delete 放弃并移除会话，生成中的任务会被取消
func (r *Registry) Delete(ctx context.Context, id string) error {
	ctrl := r.remove(id)
	if ctrl == nil {
		return ErrNotFound
	}
	ctrl.Abandon(ctx)
	logger.Info(logger.WithSession(ctx, id), "wizard session deleted")
	return nil
}

// Len 当前会话数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep 放弃所有空闲超过 TTL 的会话，返回清理数量
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.RLock()
	var stale []string
	for id, ctrl := range r.sessions {
		if ctrl.UpdatedAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		ctrl := r.removeIf(id, func(c *wizard.Controller) bool {
			return c.UpdatedAt().Before(cutoff)
		})
		if ctrl == nil {
			continue
		}
		ctrl.Abandon(logger.WithSession(ctx, id))
		removed++
	}
	if removed > 0 {
		logger.Info(ctx, "expired wizard sessions", "count", removed, "remaining", r.Len())
	}
	return removed
}

// Start 启动清理协程
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	go r.run(ctx, stopCh, doneCh)
}

// Stop 停止清理协程并释放全部会话。
// 进程退出不代表用户放弃，已提交的任务在服务端继续执行，只停止本地轮询。
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		close(r.stopCh)
		r.running = false
	}
	doneCh := r.doneCh
	sessions := r.sessions
	r.sessions = make(map[string]*wizard.Controller)
	r.mu.Unlock()

	if doneCh != nil {
		<-doneCh
	}
	for id, ctrl := range sessions {
		ctrl.Detach(logger.WithSession(ctx, id))
	}
	metrics.WizardSessionsActive.Set(0)
	logger.Info(ctx, "wizard session registry stopped", "released", len(sessions))
}

func (r *Registry) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	logger.Info(ctx, "wizard session janitor started", "ttl", r.ttl.String(), "interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if r.stopCh == stopCh {
				r.running = false
			}
			r.mu.Unlock()
			logger.Info(ctx, "wizard session janitor stopped by context")
			return
		case <-stopCh:
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *Registry) remove(id string) *wizard.Controller {
	return r.removeIf(id, nil)
}

// removeIf 在锁内复查条件，扫描之后又被使用的会话保留
func (r *Registry) removeIf(id string, cond func(*wizard.Controller) bool) *wizard.Controller {
	r.mu.Lock()
	ctrl, ok := r.sessions[id]
	if ok && cond != nil && !cond(ctrl) {
		ok = false
	}
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	metrics.WizardSessionsActive.Set(float64(count))
	return ctrl
}
