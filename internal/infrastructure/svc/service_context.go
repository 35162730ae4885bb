package svc

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"tokenbar/internal/application/container"
	"tokenbar/internal/application/port"
	"tokenbar/internal/application/service"
	"tokenbar/internal/application/usecase/aggregator"
	"tokenbar/internal/application/usecase/monitor"
	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/config"
	infracontainer "tokenbar/internal/infrastructure/container"
	"tokenbar/internal/infrastructure/factory"
	"tokenbar/internal/interfaces/console"
)

// ServiceContext 组合根：存储、治理、聚合、渲染
type ServiceContext struct {
	Config *config.Config
	Sink   port.Sink

	infra      *infracontainer.Container
	app        *container.Container
	governor   *service.Governor
	aggregator *aggregator.Service
	monitor    *monitor.Service
}

// New 不建立任何行情连接，Start 时才连接
func New(cfg *config.Config, sink port.Sink) (*ServiceContext, error) {
	if sink == nil {
		sink = console.NewSink()
	}

	infra, err := infracontainer.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("storage initialization failed: %w", err)
	}

	sc := &ServiceContext{
		Config:   cfg,
		Sink:     sink,
		infra:    infra,
		app:      container.New(infra.Repository()),
		governor: service.NewGovernor(cfg.Governor.MaxConnections, cfg.Governor.MaxSubscriptions),
	}

	sc.aggregator = aggregator.New(aggregatorConfig(cfg), aggregator.Deps{
		NewPrimary: func(settings domain.Settings) (port.MarketFeed, error) {
			return factory.NewPrimaryFactory(sc.Config)(settings)
		},
		NewFX: func() port.FXFeed {
			return factory.NewFXFactory(sc.Config)()
		},
		Governor: sc.governor,
	})

	sc.monitor = monitor.NewService(monitor.ServiceDeps{
		Source:        sc.aggregator,
		Status:        sc.governor,
		Sink:          sink,
		Prices:        sc.app.PriceService(),
		RenderEvery:   cfg.RenderEvery(),
		PersistEvery:  cfg.PersistEvery(),
		SnapshotEvery: cfg.SnapshotEvery(),
		Color:         !cfg.App.NoColor,
	})

	log.Info().Msg("service context initialized")
	return sc, nil
}

func aggregatorConfig(cfg *config.Config) aggregator.Config {
	return aggregator.Config{
		WatchdogInterval:   cfg.WatchdogInterval(),
		StaleThreshold:     cfg.StaleThreshold(),
		StaleConfirmations: cfg.Aggregator.StaleConfirmations,
		SparklineWindow:    cfg.SparklineWindow(),
		SparklineMaxPoints: cfg.Sparkline.MaxPoints,
		MaxFXDeviation:     cfg.MaxFXDeviation(),
	}
}

func (sc *ServiceContext) Aggregator() *aggregator.Service { return sc.aggregator }
func (sc *ServiceContext) Governor() *service.Governor     { return sc.governor }
func (sc *ServiceContext) Monitor() *monitor.Service       { return sc.monitor }

// Start 按当前配置的 token 与 settings 启动聚合
func (sc *ServiceContext) Start(ctx context.Context) error {
	return sc.aggregator.Start(ctx, sc.Config.TokenList(), sc.Config.UserSettings())
}

// Reload 数据源或范围变化需要重启聚合；只有 token / quote 变化时增量更新订阅。
// 上一次 Start 失败（没有会话）时直接重新 Start。
func (sc *ServiceContext) Reload(ctx context.Context, next *config.Config) error {
	prev := sc.aggregator.Settings()
	settings := next.UserSettings()
	sc.Config = next

	if !sc.aggregator.Running() {
		log.Info().Msg("aggregator not running, starting")
		return sc.Start(ctx)
	}
	if prev.DataSource != settings.DataSource || prev.Scope != settings.Scope {
		log.Info().
			Str("source", string(settings.DataSource)).
			Str("scope", string(settings.Scope)).
			Msg("data source changed, restarting aggregator")
		return sc.Start(ctx)
	}
	return sc.aggregator.UpdateSubscriptions(ctx, next.TokenList(), settings.QuoteMode)
}

// Close 停止聚合并释放存储连接
func (sc *ServiceContext) Close() error {
	sc.aggregator.Stop()
	sc.aggregator.Wait()
	return sc.infra.Close()
}
