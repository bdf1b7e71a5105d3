package wire

import (
	"context"

	"quiz-wizard-api/internal/application/classify"
	"quiz-wizard-api/internal/application/session"
	"quiz-wizard-api/internal/application/wizard"
	"quiz-wizard-api/internal/config"
	"quiz-wizard-api/internal/domain/service"
	"quiz-wizard-api/internal/infrastructure/backend"
	"quiz-wizard-api/internal/infrastructure/persistence/redis"
	"quiz-wizard-api/internal/interfaces/http/handler"
	"quiz-wizard-api/internal/interfaces/http/middleware"
	"quiz-wizard-api/internal/interfaces/http/router"
	"quiz-wizard-api/pkg/logger"
)

// App 网关运行所需的顶层对象
type App struct {
	Router   *router.Router
	Sessions *session.Registry
}

// ProvideBackendConfig 提供外部服务配置
func ProvideBackendConfig(cfg *config.Config) *config.BackendConfig {
	return &cfg.Backend
}

// ProvidePollerConfig 提供轮询配置
func ProvidePollerConfig(cfg *config.Config) *config.PollerConfig {
	return &cfg.Poller
}

// ProvideWizardConfig 提供向导会话配置
func ProvideWizardConfig(cfg *config.Config) *config.WizardConfig {
	return &cfg.Wizard
}

// ProvideErrorClassifier 提供错误分类器
func ProvideErrorClassifier() service.ErrorClassifier {
	return classify.New()
}

// ProvideTransport 提供带追踪的 HTTP 传输
func ProvideTransport(cfg *config.BackendConfig) backend.Transport {
	return backend.NewHTTPTransport(cfg)
}

// ProvideSessionFactory 每个会话使用同一个外部客户端和独立的轮询器；提交超时沿用后端超时
func ProvideSessionFactory(client *backend.Client, pollerCfg *config.PollerConfig, backendCfg *config.BackendConfig) session.Factory {
	return session.NewFactory(client, client, pollerCfg, wizard.WithSubmitTimeout(backendCfg.Timeout))
}

// ProvideRedisClient 提供 Redis 客户端；未启用限流时返回 nil
func ProvideRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Security.RateLimit.Enabled {
		logger.Info(ctx, "rate limiting disabled, redis not connected")
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(ctx, &cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRateLimiter 提供限流器；nil 客户端对应 nil 接口，避免包装空指针
func ProvideRateLimiter(client *redis.Client) middleware.RateLimiter {
	if client == nil {
		return nil
	}
	return redis.NewRateLimiter(client)
}

// ProvideHealthChecker 提供 Redis 健康检查
func ProvideHealthChecker(client *redis.Client) handler.HealthChecker {
	if client == nil {
		return nil
	}
	return client
}
