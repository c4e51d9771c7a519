package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/accounts"
	"github.com/BaSui01/chatrelay/api"
	"github.com/BaSui01/chatrelay/api/handlers"
	"github.com/BaSui01/chatrelay/bridge"
	"github.com/BaSui01/chatrelay/bridge/gate"
	"github.com/BaSui01/chatrelay/bridge/login"
	"github.com/BaSui01/chatrelay/bridge/sessionpool"
	"github.com/BaSui01/chatrelay/browser"
	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/BaSui01/chatrelay/internal/server"
	"github.com/BaSui01/chatrelay/providers"
	"github.com/BaSui01/chatrelay/providers/glm"
	"github.com/BaSui01/chatrelay/providers/kimi"
	"github.com/BaSui01/chatrelay/providers/qwen"
)

// =============================================================================
// 🏗️ 服务装配
// =============================================================================

// NewServer 按配置装配整套服务：浏览器引擎、会话池、编排器、
// HTTP 路由与关闭钩子。
func NewServer(cfg *config.Config, logger *zap.Logger) (*server.Manager, error) {
	// 指标
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	// 数据库：登录会话 + 账号目录共用一个 SQLite 库
	dir, db, err := accounts.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logins, err := login.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to init login store: %w", err)
	}

	// 浏览器引擎与会话池
	engine := browser.NewChromeEngine(cfg.Browser.ToBrowser(), logger)
	var poolOpts []sessionpool.Option
	if collector != nil {
		poolOpts = append(poolOpts, sessionpool.WithRecreateHook(collector.RecordSessionRecreation))
	}
	pool := sessionpool.New(engine, cfg.Pool.ToPool(), logger, poolOpts...)

	// 站点驱动注册
	registry := buildRegistry(cfg, logger)

	// 并发闸门
	g := gate.New(logger)

	// 编排器
	b := bridge.New(bridge.Deps{
		Registry:  registry,
		Pool:      pool,
		Gate:      g,
		Logins:    logins,
		Accounts:  dir,
		Reconcile: cfg.Reconcile.ToReconcile(),
		Metrics:   collector,
		Logger:    logger,
	})

	// HTTP 层
	health := handlers.NewHealthHandler(Version, logger)
	health.RegisterCheck(handlers.HealthCheckFunc{
		CheckName: "database",
		Fn: func(ctx context.Context) error {
			sqlDB, derr := db.DB()
			if derr != nil {
				return derr
			}
			return sqlDB.PingContext(ctx)
		},
	})

	router := api.NewRouter(api.RouterDeps{
		Chat:      handlers.NewChatHandler(b, logger),
		Models:    handlers.NewModelsHandler(registry, logger),
		Health:    health,
		Directory: dir,
		Metrics:   collector,
		Logger:    logger,
	})

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	srvCfg.ReadTimeout = cfg.Server.ReadTimeout
	srvCfg.WriteTimeout = cfg.Server.WriteTimeout
	srvCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	mgr := server.NewManager(router, srvCfg, logger)
	mgr.OnShutdown(pool.Shutdown)
	mgr.OnShutdown(func() {
		if cerr := engine.Close(); cerr != nil {
			logger.Warn("browser engine close failed", zap.Error(cerr))
		}
	})
	mgr.OnShutdown(func() {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
	})

	return mgr, nil
}

// buildRegistry 注册全部站点驱动，应用配置覆盖。
// 缺省全部启用；显式配置过的站点以配置为准。
func buildRegistry(cfg *config.Config, logger *zap.Logger) *providers.Registry {
	registry := providers.NewRegistry()

	register := func(id string, build func(entryURL string) providers.SiteDriver) {
		override, configured := cfg.Providers[id]
		if configured && !override.Enabled {
			logger.Info("provider disabled by config", zap.String("provider", id))
			return
		}
		registry.Register(build(override.EntryURL))
	}

	register("qwen", func(u string) providers.SiteDriver { return qwen.New(u, logger) })
	register("kimi", func(u string) providers.SiteDriver { return kimi.New(u, logger) })
	register("glm", func(u string) providers.SiteDriver { return glm.New(u, logger) })

	return registry
}
