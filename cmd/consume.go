package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"ordersync/internal/bootstrap"
	"ordersync/internal/bootstrap/logging"
	"ordersync/internal/errs"
	"ordersync/internal/infrastructure/metrics"
	"ordersync/internal/usecase/pipeline"
)

func newConsumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume order events and reconcile them into the store",
	}
	cmd.Flags().String("http-addr", "", "Admin listen address (overrides http.addr; \"off\" disables)")
	cmd.Flags().Bool("init-db", false, "Migrate the schema before consuming")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var (
			coordinator *pipeline.Coordinator
			registry    *prometheus.Registry
		)
		return withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithAttrs(ctx, slog.String("component", "cmd.consume"))

			if migrate, _ := cmd.Flags().GetBool("init-db"); migrate {
				if err := app.InitSchema(ctx); err != nil {
					return errs.Wrap(err, "initialize schema")
				}
			}

			addr := app.Config.HTTP.Addr
			if override, _ := cmd.Flags().GetString("http-addr"); override != "" {
				addr = override
			}
			if addr != "" && addr != "off" {
				srv := &http.Server{
					Addr: addr,
					Handler: newAdminRouter(adminDeps{
						orders:  app.Orders,
						ping:    app.Ping,
						metrics: metrics.Handler(registry),
					}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					logging.Info(ctx, "admin server listening", slog.String("addr", addr))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logging.Error(ctx, "admin server failed", slog.Any("err", errs.Loggable(err)))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if err := coordinator.Run(ctx); err != nil {
				return errs.Wrap(err, "run pipeline")
			}
			return nil
		}, fx.Populate(&coordinator, &registry))(cmd, args)
	}
	return cmd
}

func init() {
	rootCmd.AddCommand(newConsumeCmd())
}
