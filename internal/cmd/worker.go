package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/backflow/worker"
)

type workerFlags struct {
	slowPercentage  float64
	errorPercentage float64
	slowDelay       time.Duration
	queueGroup      string
	maxInFlight     int
	seed            uint64
}

func newWorkerCmd(a *app) *cobra.Command {
	var f workerFlags

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve the chaos worker on the worker subject",
		Long: `Answer worker requests with a synthetic worker. Each call is slow with
--slow-percentage probability (sleeping --slow-delay, then succeeding);
otherwise it fails with --error-percentage probability.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.serveWorker(ctx, f)
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&f.slowPercentage, "slow-percentage", 0, "percentage of calls that are slow (0-100)")
	flags.Float64Var(&f.errorPercentage, "error-percentage", 0, "percentage of fast calls that fail (0-100)")
	flags.DurationVar(&f.slowDelay, "slow-delay", worker.DefaultSlowDelay, "delay of a slow call")
	flags.StringVar(&f.queueGroup, "queue-group", worker.DefaultQueueGroup, "NATS queue group")
	flags.IntVar(&f.maxInFlight, "max-in-flight", worker.DefaultMaxInFlight, "maximum concurrent calls")
	flags.Uint64Var(&f.seed, "seed", 0, "random seed (0 picks one)")

	return cmd
}

func (a *app) serveWorker(ctx context.Context, f workerFlags) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}

	chaos, err := worker.NewChaos(worker.ChaosConfig{
		SlowProbability:  f.slowPercentage / 100,
		ErrorProbability: f.errorPercentage / 100,
		SlowDelay:        f.slowDelay,
		Seed:             f.seed,
	})
	if err != nil {
		return fmt.Errorf("invalid worker flags: %w", err)
	}

	nc, closeConn, err := a.connect()
	if err != nil {
		return err
	}
	defer closeConn()

	srv, err := worker.Serve(nc, chaos, worker.ServerConfig{
		Subject:     cfg.WorkerSubject,
		QueueGroup:  f.queueGroup,
		MaxInFlight: f.maxInFlight,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	<-ctx.Done()

	return srv.Close()
}
