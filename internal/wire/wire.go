//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"quiz-wizard-api/internal/application/session"
	"quiz-wizard-api/internal/config"
	"quiz-wizard-api/internal/infrastructure/backend"
	"quiz-wizard-api/internal/interfaces/http/handler"
	"quiz-wizard-api/internal/interfaces/http/router"
)

// InitializeApp 初始化网关（路由器与会话注册表）
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		ConfigSet,
		BackendSet,
		RedisSet,
		SessionSet,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// ConfigSet 配置分段提供者集合
var ConfigSet = wire.NewSet(
	ProvideBackendConfig,
	ProvidePollerConfig,
	ProvideWizardConfig,
)

// BackendSet 外部生成服务提供者集合
var BackendSet = wire.NewSet(
	ProvideErrorClassifier,
	ProvideTransport,
	backend.NewClient,
)

// RedisSet Redis 提供者集合（仅限流使用）
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	ProvideRateLimiter,
	ProvideHealthChecker,
)

// SessionSet 向导会话提供者集合
var SessionSet = wire.NewSet(
	ProvideSessionFactory,
	session.NewRegistry,
	wire.Bind(new(handler.SessionStore), new(*session.Registry)),
	wire.Bind(new(handler.SessionCounter), new(*session.Registry)),
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	handler.NewHealthHandler,
	handler.NewWizardHandler,
	wire.Struct(new(router.RouterHandlers), "*"),
	router.New,
)
