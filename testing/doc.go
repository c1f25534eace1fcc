// Package testing provides test utilities for Backflow.
//
// It follows Go's convention of shipping testing helpers in a dedicated package
// (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: In-process NATS server with JetStream
//   - CreateJetStreamKV: KV bucket for outcome and mapping stores
//   - CreateStream: Work stream for consumer tests
//   - NewTestLogger / NewRecordingLogger: Loggers for test output and assertions
//
// Example usage:
//
//	import (
//	    "testing"
//	    bftest "github.com/arloliu/backflow/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := bftest.StartEmbeddedNATS(t)
//	    kv := bftest.CreateJetStreamKV(t, nc, "outcomes")
//	}
package testing
