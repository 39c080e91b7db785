package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"ordersync/internal/bootstrap/config"
	"ordersync/internal/bootstrap/logging"
	"ordersync/internal/errs"
	"ordersync/internal/infrastructure/persistence/gormdb/model"
	"ordersync/internal/ports"
	"ordersync/internal/usecase/pipeline"
	"ordersync/internal/usecase/reconcile"
)

type App struct {
	Config      config.Config
	DB          *gorm.DB
	Orders      ports.OrderReader
	DeadLetters ports.DeadLetterReader
	Engine      *reconcile.Engine
	Batch       *pipeline.BatchApplier
}

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	if err := a.DB.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	logging.Info(logCtx, "schema migration completed")
	return nil
}

// Ping checks the store is reachable.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return errs.Wrap(err, "get sql db")
	}
	return sqlDB.PingContext(ctx)
}
