// Package backflow provides an adaptive, idempotent batch consumer for NATS JetStream.
//
// A Service pulls task records from a stream in batches, skips tasks already
// resolved within the current dedup partition, invokes a worker per pending
// task, records the outcomes, and adjusts how many records the binding may
// receive per batch. Slow or failing batches shrink the batch size and
// eventually pause intake; healthy batches grow it back. A scheduled tick
// re-enables a paused binding.
//
// # Quick Start
//
//	cfg := backflow.DefaultConfig()
//	cfg.BindingID = "orders"
//	cfg.StreamSubject = "orders.tasks"
//
//	svc, err := backflow.NewService(&cfg, nc, backflow.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := svc.Start(ctx); err != nil {
//	    return err
//	}
//	defer svc.Stop(context.Background())
//
// # Batch Flow
//
//	fetch(batchSize) → dedup filter → execute (bounded) → record outcomes → adjust → ack | nak
//
// A batch with any failed task is NAKed as a whole. Redelivered tasks that
// already succeeded are filtered out, and a task that failed three times in a
// partition is not executed again in it.
//
// # Components
//
//   - mapping: binding state (batch size, enabled) and the Controller adjusting it
//   - idempotency: outcome records and the pending-task filter
//   - executor: bounded parallel worker invocation
//   - orchestrator: the batch and scheduled entry points
//   - consumer: JetStream pull loop feeding the orchestrator
//   - worker: NATS request/reply worker client, server and chaos worker
//   - producer: synthetic task publisher
package backflow
