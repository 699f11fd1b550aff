package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yk970217-wq/cleanbear/internal/config"
	"github.com/yk970217-wq/cleanbear/internal/database"
	"github.com/yk970217-wq/cleanbear/internal/handler"
	"github.com/yk970217-wq/cleanbear/internal/metrics"
	"github.com/yk970217-wq/cleanbear/internal/notify"
	"github.com/yk970217-wq/cleanbear/internal/repository"
	"github.com/yk970217-wq/cleanbear/internal/roster"
	"github.com/yk970217-wq/cleanbear/internal/routing"
	"github.com/yk970217-wq/cleanbear/pkg/logger"
)

// app 按配置组装的各个组件
type app struct {
	cfg     *config.Config
	service *handler.Service
	metrics *metrics.Metrics
	roster  *roster.Store
	db      *database.DB

	closers []func()
}

// loadConfig 读取配置并初始化日志
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Format: cfg.App.LogFormat,
		Output: "stderr",
	})
	return cfg, nil
}

// newApp 组装服务；withInfra 为 false 时不连接数据库、Redis、MQTT，也不注册指标
func newApp(ctx context.Context, cfg *config.Config, withInfra bool) (*app, error) {
	a := &app{cfg: cfg}
	var opts []handler.ServiceOption

	var (
		routeObserver routing.Observer
		cache         routing.Cache
	)
	if withInfra && cfg.Metrics.Enabled {
		m, err := metrics.New(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("注册监控指标失败: %w", err)
		}
		a.metrics = m
		routeObserver = m
		opts = append(opts, handler.WithObserver(m), handler.WithBatchRecorder(m))
	}

	if withInfra && cfg.Redis.Enabled {
		client, err := routing.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		cache = routing.NewRedisCache(client)
	}

	if withInfra && cfg.Database.Enabled {
		db, err := database.New(ctx, &cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, func() { _ = db.Close() })

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				a.Close()
				return nil, err
			}
		}

		a.roster = roster.NewStore(repository.NewTechnicianRepository(db))
		if err := a.roster.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("加载技师名册失败，先以空名册启动")
		}
		opts = append(opts,
			handler.WithRoster(a.roster),
			handler.WithStateStore(repository.NewTechnicianStateRepository(db)),
			handler.WithHistoryStore(repository.NewAssignmentRepository(db)),
		)
	}

	if withInfra && cfg.MQTT.Enabled {
		pub, err := notify.NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, handler.WithPublisher(pub))
	}

	travel := routing.New(cfg.Routing, cache, routeObserver)
	a.service = handler.NewService(cfg, travel, opts...)

	logger.Info().
		Str("routing", cfg.Routing.Provider).
		Bool("kakao", cfg.Routing.UseKakao()).
		Bool("database", a.db != nil).
		Bool("route_cache", cache != nil).
		Bool("metrics", a.metrics != nil).
		Str("tie_break", cfg.Dispatch.TieBreak).
		Msg("服务组件已就绪")
	return a, nil
}

// Close 按创建的逆序释放资源
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
