package cmd

import (
	"github.com/spf13/cobra"

	"ordersync/internal/bootstrap"
	"ordersync/internal/errs"
)

func newDeadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Inspect events routed to the dead-letter table",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent dead letters",
		RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
			limit, _ := cmd.Flags().GetInt("limit")
			format, _ := cmd.Flags().GetString("output")

			items, err := app.DeadLetters.ListDeadLetters(cmd.Context(), limit)
			if err != nil {
				return errs.Wrap(err, "list dead letters")
			}
			views := toDeadLetterViews(items)
			return render(cmd.OutOrStdout(), format, views, deadLetterTable(views))
		}),
	}
	list.Flags().Int("limit", 50, "Maximum rows (0 for all)")
	list.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
	cmd.AddCommand(list)
	return cmd
}

func init() {
	rootCmd.AddCommand(newDeadLettersCmd())
}
