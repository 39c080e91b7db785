package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ordersync/internal/bootstrap"
	"ordersync/internal/domain/order"
	"ordersync/internal/errs"
	"ordersync/internal/ports"
)

func newOrdersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect reconciled orders",
	}
	cmd.PersistentFlags().StringP("output", "o", "text", "Output format: text, json or yaml")
	cmd.AddCommand(newOrdersListCmd(), newOrdersGetCmd())
	return cmd
}

func newOrdersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders with a given status",
		RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
			rawStatus, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			format, _ := cmd.Flags().GetString("output")

			status, err := order.ParseStatus(rawStatus)
			if err != nil {
				return err
			}
			items, err := app.Orders.ListByStatus(cmd.Context(), status, limit)
			if err != nil {
				return errs.Wrap(err, "list orders")
			}
			views := toOrderViews(items)
			return render(cmd.OutOrStdout(), format, views, orderTable(views))
		}),
	}
	cmd.Flags().String("status", "DRAFT", "Status to filter by (APPROVED, CANCELLED, DONE, DRAFT)")
	cmd.Flags().Int("limit", defaultListLimit, "Maximum rows (0 for all)")
	return cmd
}

func newOrdersGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
			format, _ := cmd.Flags().GetString("output")
			id, err := strconv.ParseInt(cmd.Flags().Arg(0), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid order id %q", cmd.Flags().Arg(0))
			}

			item, err := app.Orders.FindByID(cmd.Context(), id)
			if errors.Is(err, ports.ErrOrderNotFound) {
				return fmt.Errorf("order %d not found", id)
			}
			if err != nil {
				return errs.Wrap(err, "get order")
			}
			view := toOrderView(item)
			return render(cmd.OutOrStdout(), format, view, orderTable([]orderView{view}))
		}),
	}
}

func init() {
	rootCmd.AddCommand(newOrdersCmd())
}
