package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/arloliu/backflow"
	"github.com/arloliu/backflow/internal/metrics"
	"github.com/arloliu/backflow/mapping"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		metricsAddr string
		initBinding bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the batch consumer",
		Long: `Provision the stream and buckets, then pull batches for the binding until
interrupted. The binding must exist unless --init-binding is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.run(ctx, metricsAddr, initBinding)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address of the /metrics and /health endpoints (empty disables)")
	cmd.Flags().BoolVar(&initBinding, "init-binding", false, "create the binding enabled at max batch size if missing")

	return cmd
}

func (a *app) run(ctx context.Context, metricsAddr string, initBinding bool) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}

	nc, closeConn, err := a.connect()
	if err != nil {
		return err
	}
	defer closeConn()

	if initBinding {
		js, err := jetstream.New(nc)
		if err != nil {
			return err
		}
		res, err := backflow.Provision(ctx, js, &cfg)
		if err != nil {
			return err
		}
		err = backflow.InitBinding(ctx, mapping.NewKVStore(res.Mappings, nil), &cfg)
		if err != nil && !errors.Is(err, backflow.ErrBindingExists) {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := backflow.NewService(&cfg, nc,
		backflow.WithLogger(a.logger),
		backflow.WithMetrics(metrics.NewPrometheus(reg, "")),
	)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	if metricsAddr != "" {
		srv := metrics.NewServer(metricsAddr, reg, a.logger)
		if err := srv.Listen(); err != nil {
			return err
		}
		wg.Go(func() {
			if err := srv.Start(runCtx); err != nil {
				a.logger.Error("metrics server stopped", "error", err)
			}
		})
	}

	err = svc.Run(runCtx)
	cancel()
	wg.Wait()

	return err
}
