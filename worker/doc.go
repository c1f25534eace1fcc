// Package worker connects executor.Worker implementations to NATS.
//
// Client invokes a remote worker with a request/reply round trip, Serve exposes
// any Worker on a subject behind a queue group, and Chaos is a synthetic worker
// that injects latency and failures for load experiments.
//
// Wire format: the request body is the JSON encoded executor.WorkerRequest. A
// reply without the Backflow-Error header is a success; otherwise the header
// carries the failure message.
package worker
