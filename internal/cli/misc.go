package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mycelium/internal/app"
	"mycelium/internal/storage"
	"mycelium/pkg/humandur"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the storage schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, cfg, err := app.OpenStorage(opts.cfgFile, opts.logger())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			where := cfg.Storage.Path
			if st.Dialect() != storage.DialectSQLite {
				where = "dsn"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s, %s).\n", st.Dialect(), where)
			return nil
		},
	}
}

func newDurationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duration <text>",
		Short: "Parse a duration like 1h30m and print it back",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := strings.Join(args, " ")
			secs, err := humandur.ParseStrict(in)
			if err != nil {
				return fmt.Errorf("%q: %w", in, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d seconds (%s)\n", secs, humandur.Format(secs))
			return nil
		},
	}
}
