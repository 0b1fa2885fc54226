package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"vpool/internal/model"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

func newWorkersCommand(clientFor func() *Client, jsonOutput func() bool) *cobra.Command {
	workersCmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect and stop pool workers",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every worker record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, raw, err := clientFor().ListWorkers(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput() {
				printJSON(cmd.OutOrStdout(), raw)
				return nil
			}
			printWorkers(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	stopAllCmd := &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every active worker",
		Long: `Stop every worker that is warm, starting, or assigned to a stage.
Workers that fail to stop are listed; the rest are marked STOPPED.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, raw, err := clientFor().StopAllWorkers(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput() {
				printJSON(cmd.OutOrStdout(), raw)
				return nil
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Found: %d  Stopped: %d  Failed: %d\n", resp.TotalFound, resp.SuccessfulStops, resp.FailedStops)
			for _, r := range resp.Results {
				if !r.Success {
					fmt.Fprintf(out, "  %s (task %s): %s\n", r.WorkerID, r.TaskID, r.Error)
				}
			}
			return nil
		},
	}

	workersCmd.AddCommand(listCmd, stopAllCmd)
	return workersCmd
}

func printWorkers(out io.Writer, resp *model.ListWorkersResponse) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTAGE\tTASK\tRUNNING\tUPDATED")
	for _, w := range resp.Workers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			w.ID, w.Status, w.AssignedStageArn, w.TaskID, w.Running, w.UpdatedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "\nTotal: %d\n", resp.TotalCount)
}

func printJSON(out io.Writer, raw []byte) {
	_, _ = out.Write(pretty.Pretty(raw))
}
