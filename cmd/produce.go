package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"ordersync/internal/bootstrap"
	"ordersync/internal/bootstrap/logging"
	"ordersync/internal/errs"
	"ordersync/internal/ports"
	"ordersync/internal/usecase/generator"
)

func newProduceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Publish synthetic order events keyed by order id",
	}
	cmd.Flags().Int("count", 100, "Number of events to publish (0 runs until interrupted)")
	cmd.Flags().Duration("interval", 0, "Pause between events")
	cmd.Flags().Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	cmd.Flags().Int64("max-id", 5000, "Largest order id to generate")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var publisher ports.EventPublisher
		return withApp(func(cmd *cobra.Command, _ *bootstrap.App) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithAttrs(ctx, slog.String("component", "cmd.produce"))

			count, _ := cmd.Flags().GetInt("count")
			interval, _ := cmd.Flags().GetDuration("interval")
			seed, _ := cmd.Flags().GetUint64("seed")
			maxID, _ := cmd.Flags().GetInt64("max-id")

			logging.Info(ctx, "producing events", slog.Int("count", count), slog.Uint64("seed", seed))
			sent, err := generator.NewSeeded(seed, maxID).Produce(ctx, publisher, count, interval)
			if err != nil {
				return errs.Wrap(err, "produce events")
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "published %d events (seed %d)\n", sent, seed); err != nil {
				return errs.Wrap(err, "write produce output")
			}
			return nil
		}, fx.Populate(&publisher))(cmd, args)
	}
	return cmd
}

func init() {
	rootCmd.AddCommand(newProduceCmd())
}
