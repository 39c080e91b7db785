package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ordersync/internal/bootstrap"
	"ordersync/internal/domain/order"
	"ordersync/internal/errs"
	"ordersync/internal/usecase/pipeline"
)

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile newline-delimited JSON events from a file or stdin",
		RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
			file, _ := cmd.Flags().GetString("file")
			atomic, _ := cmd.Flags().GetBool("atomic")

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return errs.Wrap(err, "open events file")
				}
				defer f.Close()
				in = f
			}

			report, err := app.Batch.Apply(cmd.Context(), in, atomic)
			if err != nil {
				return errs.Wrap(err, "apply events")
			}
			if err := writeBatchReport(cmd.OutOrStdout(), report); err != nil {
				return errs.Wrap(err, "write apply output")
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d of %d events rejected", len(report.Failures), report.Lines)
			}
			return nil
		}),
	}
	cmd.Flags().StringP("file", "f", "", "Events file, one JSON object per line (default stdin)")
	cmd.Flags().Bool("atomic", false, "Apply the whole file in one transaction; any failure rolls back")
	return cmd
}

func writeBatchReport(w io.Writer, report pipeline.BatchReport) error {
	_, err := fmt.Fprintf(w, "events=%d inserted=%d updated=%d unchanged=%d rejected=%d\n",
		report.Lines,
		report.Outcomes[order.OutcomeInserted],
		report.Outcomes[order.OutcomeUpdated],
		report.Outcomes[order.OutcomeUnchanged],
		len(report.Failures),
	)
	if err != nil {
		return err
	}
	var errsOut []error
	for _, f := range report.Failures {
		if _, err := fmt.Fprintf(w, "line %d: %s: %v\n", f.Line, f.Reason, f.Err); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	return errors.Join(errsOut...)
}

func init() {
	rootCmd.AddCommand(newApplyCmd())
}
