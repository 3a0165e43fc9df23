// Package cli is the mycelium command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	logx "mycelium/pkg/logx"
)

const defaultConfig = "./config.yaml"

type options struct {
	cfgFile  string
	logLevel string
}

// NewRoot builds the command tree.
func NewRoot() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "mycelium",
		Short:         "Chat bot with durable deferred actions (reminders, temporary bans)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", defaultConfig, "config file path (.yaml or .json)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for offline commands: debug | info | warn | error")

	root.AddCommand(
		newRunCmd(opts),
		newTasksCmd(opts),
		newMigrateCmd(opts),
		newDurationCmd(),
	)
	return root
}

// Execute is the entry point called from cmd/mycelium.
func Execute() {
	if err := NewRoot().Execute(); err != nil {
		logx.NewConsole("error").Error("command failed", logx.Err(err))
		os.Exit(1)
	}
}

func (o *options) logger() logx.Logger {
	return logx.NewConsole(o.logLevel).With(logx.String("comp", "cli"))
}
