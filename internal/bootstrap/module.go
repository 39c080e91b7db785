package bootstrap

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"ordersync/internal/bootstrap/config"
	"ordersync/internal/bootstrap/database"
	"ordersync/internal/bootstrap/logging"
	"ordersync/internal/infrastructure/metrics"
	"ordersync/internal/infrastructure/persistence/gormdb/repository"
	"ordersync/internal/infrastructure/persistence/gormdb/uow"
	"ordersync/internal/ports"
	"ordersync/internal/usecase/pipeline"
	"ordersync/internal/usecase/reconcile"
)

// Module wires persistence and use cases. Broker adapters are constructed only
// when a command asks for them.
var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		repository.NewOrderRepository,
		func(r *repository.OrderRepository) ports.OrderStore { return r },
		func(r *repository.OrderRepository) ports.OrderReader { return r },
	),
	fx.Provide(
		repository.NewDeadLetterRepository,
		func(r *repository.DeadLetterRepository) ports.DeadLetterReader { return r },
	),
	fx.Provide(
		fx.Annotate(
			uow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(provideEngine),
	fx.Provide(func(e *reconcile.Engine) pipeline.Reconciler { return e }),
	fx.Provide(pipeline.NewBatchApplier),
	fx.Provide(newBrokers),
	fx.Provide(provideEventSource),
	fx.Provide(provideEventPublisher),
	fx.Provide(provideDeadLetterSink),
	fx.Provide(provideRegistry),
	fx.Provide(providePipelineMetrics),
	fx.Provide(provideCoordinator),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

type appParams struct {
	fx.In

	Config      config.Config
	DB          *gorm.DB
	Orders      ports.OrderReader
	DeadLetters ports.DeadLetterReader
	Engine      *reconcile.Engine
	Batch       *pipeline.BatchApplier
}

func provideApp(p appParams) *App {
	return &App{
		Config:      p.Config,
		DB:          p.DB,
		Orders:      p.Orders,
		DeadLetters: p.DeadLetters,
		Engine:      p.Engine,
		Batch:       p.Batch,
	}
}

func provideEngine(cfg config.Config, store ports.OrderStore) *reconcile.Engine {
	return reconcile.NewEngine(store, reconcile.WithStoreTimeout(cfg.Pipeline.StoreTimeout))
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func providePipelineMetrics(reg *prometheus.Registry) (*metrics.PipelineMetrics, error) {
	return metrics.NewPipelineMetrics(reg)
}

type coordinatorParams struct {
	fx.In

	Config      config.Config
	Source      ports.EventSource
	Engine      pipeline.Reconciler
	DeadLetters ports.DeadLetterSink
	Metrics     *metrics.PipelineMetrics
}

func provideCoordinator(p coordinatorParams) *pipeline.Coordinator {
	return pipeline.NewCoordinator(p.Source, p.Engine, p.DeadLetters, pipeline.Config{
		Workers: p.Config.Pipeline.Workers,
		Retry: pipeline.RetryPolicy{
			MaxAttempts:     p.Config.Pipeline.Retry.MaxAttempts,
			InitialInterval: p.Config.Pipeline.Retry.InitialInterval,
			MaxInterval:     p.Config.Pipeline.Retry.MaxInterval,
		},
		StoreTimeout: p.Config.Pipeline.StoreTimeout,
	}, pipeline.WithObserver(p.Metrics))
}
