package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/arloliu/backflow"
	"github.com/arloliu/backflow/mapping"
)

func newBindingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "binding",
		Short: "Provision and inspect the consumer binding",
	}

	var batchSize int
	enable := &cobra.Command{
		Use:   "enable",
		Short: "Enable the binding, optionally setting its batch size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withBinding(cmd.Context(), func(ctx context.Context, store *mapping.KVStore, cfg backflow.Config) error {
				state, err := store.Get(ctx, cfg.BindingID)
				if err != nil {
					return err
				}
				if batchSize > 0 {
					state.BatchSize = batchSize
				}
				if state.BatchSize > cfg.MaxBatchSize {
					return fmt.Errorf("%w: %d exceeds max batch size %d", backflow.ErrInvalidBatchSize, state.BatchSize, cfg.MaxBatchSize)
				}
				if err := store.Update(ctx, cfg.BindingID, state.BatchSize, true); err != nil {
					return err
				}

				return printState(ctx, cmd.OutOrStdout(), store, cfg.BindingID)
			})
		},
	}
	enable.Flags().IntVar(&batchSize, "batch-size", 0, "batch size to set (keeps the current one if zero)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create the binding enabled at max batch size",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withBinding(cmd.Context(), func(ctx context.Context, store *mapping.KVStore, cfg backflow.Config) error {
					if err := backflow.InitBinding(ctx, store, &cfg); err != nil {
						return err
					}

					return printState(ctx, cmd.OutOrStdout(), store, cfg.BindingID)
				})
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the binding state as JSON",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withBinding(cmd.Context(), func(ctx context.Context, store *mapping.KVStore, cfg backflow.Config) error {
					return printState(ctx, cmd.OutOrStdout(), store, cfg.BindingID)
				})
			},
		},
		enable,
		&cobra.Command{
			Use:   "watch",
			Short: "Print every change of the binding until interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				return a.withBinding(ctx, func(ctx context.Context, store *mapping.KVStore, cfg backflow.Config) error {
					updates, err := store.Watch(ctx, cfg.BindingID)
					if err != nil {
						return err
					}
					for state := range updates {
						fmt.Fprintf(cmd.OutOrStdout(), "%s batchSize=%d enabled=%t\n",
							time.Now().Format(time.RFC3339), state.BatchSize, state.Enabled)
					}

					return nil
				}, true)
			},
		},
	)

	return cmd
}

// withBinding provisions the buckets and calls fn with the binding store.
// fn runs under OperationTimeout unless unbounded is set.
func (a *app) withBinding(ctx context.Context, fn func(context.Context, *mapping.KVStore, backflow.Config) error, unbounded ...bool) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}

	nc, closeConn, err := a.connect()
	if err != nil {
		return err
	}
	defer closeConn()

	js, err := jetstream.New(nc)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancel()

	res, err := backflow.Provision(opCtx, js, &cfg)
	if err != nil {
		return err
	}
	if len(unbounded) > 0 && unbounded[0] {
		opCtx = ctx
	}

	return fn(opCtx, mapping.NewKVStore(res.Mappings, nil), cfg)
}

func printState(ctx context.Context, w io.Writer, store *mapping.KVStore, bindingID string) error {
	state, err := store.Get(ctx, bindingID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))

	return err
}
