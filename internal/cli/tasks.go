package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mycelium/internal/app"
	"mycelium/internal/task/clock"
	"mycelium/internal/task/ledger"
	"mycelium/pkg/humandur"
)

func newTasksCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and cancel pending deferred tasks",
	}
	cmd.AddCommand(newTasksListCmd(opts), newTasksCancelCmd(opts))
	return cmd
}

func newTasksListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending tasks with their remaining time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := app.OpenStorage(opts.cfgFile, opts.logger())
			if err != nil {
				return err
			}
			defer st.Close()

			clk := clock.Real()
			rows, err := ledger.New(st, clk, opts.logger()).AllPending(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading tasks: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No pending tasks.")
				return nil
			}

			now := clk.Now()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "ID\tKIND\tSCOPE\tTARGET\tHANDLER\tDUE\tIN\n")
			for _, t := range rows {
				in := "overdue"
				if rem := t.Remaining(now); rem > 0 {
					in = humandur.Format(int64(rem / time.Second))
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.Kind, t.GuildScope, t.TargetID, t.Handler, t.DueAt.UTC().Format(time.RFC3339), in)
			}
			return w.Flush()
		},
	}
}

func newTasksCancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Delete a pending task; a running bot skips it at fire time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := app.OpenStorage(opts.cfgFile, opts.logger())
			if err != nil {
				return err
			}
			defer st.Close()

			ok, err := ledger.New(st, clock.Real(), opts.logger()).DeleteByID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("cancel %s: %w", args[0], err)
			}
			if !ok {
				return fmt.Errorf("no pending task %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s.\n", args[0])
			return nil
		},
	}
}
