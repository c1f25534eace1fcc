package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/arloliu/backflow"
	"github.com/arloliu/backflow/producer"
)

func newProduceCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		count    int
		runID    string
	)

	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Publish synthetic task records onto the stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sent, err := a.produce(ctx, producer.Config{Interval: interval, Count: count, RunID: runID})
			fmt.Fprintf(cmd.OutOrStdout(), "published %d records\n", sent)

			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", producer.DefaultInterval, "delay between records")
	cmd.Flags().IntVar(&count, "count", 0, "number of records to publish (0 runs until interrupted)")
	cmd.Flags().StringVar(&runID, "run-id", "", "task ID prefix (random UUID if empty)")

	return cmd
}

func (a *app) produce(ctx context.Context, pcfg producer.Config) (int, error) {
	cfg, err := a.config()
	if err != nil {
		return 0, err
	}

	nc, closeConn, err := a.connect()
	if err != nil {
		return 0, err
	}
	defer closeConn()

	js, err := jetstream.New(nc)
	if err != nil {
		return 0, err
	}
	if _, err := backflow.Provision(ctx, js, &cfg); err != nil {
		return 0, err
	}

	pcfg.Subject = cfg.StreamSubject
	pcfg.Logger = a.logger

	p, err := producer.NewJS(js, pcfg)
	if err != nil {
		return 0, err
	}

	return p.Run(ctx)
}
