// Package cmd implements the backflow command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/types"
)

// app carries state shared by all subcommands of one command tree.
type app struct {
	v      *viper.Viper
	logger types.Logger
	flush  func()
}

// NewRootCmd builds the command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: logging.NewNop(), flush: func() {}}

	root := &cobra.Command{
		Use:   "backflow",
		Short: "Adaptive, idempotent batch consumer on NATS JetStream",
		Long: `Backflow pulls task records from a JetStream stream in batches, skips tasks
already resolved today, invokes a worker per task and adapts the batch size
to how slow or failing the worker is.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.flush()
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (YAML)")
	flags.String("nats-url", defaultNATSURL, "NATS server URL")
	flags.Bool("embedded", false, "run an in-process NATS server with JetStream instead of connecting")
	flags.Bool("debug", false, "enable debug logging")

	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag(keyNATSURL, flags.Lookup("nats-url"))
	_ = a.v.BindPFlag("embedded", flags.Lookup("embedded"))
	_ = a.v.BindPFlag("debug", flags.Lookup("debug"))

	root.AddCommand(
		newRunCmd(a),
		newWorkerCmd(a),
		newProduceCmd(a),
		newBindingCmd(a),
	)

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) init() error {
	if err := a.readConfig(); err != nil {
		return err
	}

	logger, flush, err := logging.NewZap(a.v.GetBool("debug"))
	if err != nil {
		return err
	}
	a.logger = logger
	a.flush = flush

	return nil
}
