package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/backflow/executor"
	"github.com/arloliu/backflow/types"
)

// ErrorHeader carries the failure message of a worker reply.
const ErrorHeader = "Backflow-Error"

// DefaultTimeout bounds a worker call when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// ErrRemote is wrapped by errors reported by a remote worker.
var ErrRemote = errors.New("worker reported failure")

// Client invokes a remote worker over NATS request/reply.
type Client struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

var _ executor.Worker = (*Client)(nil)

// NewClient creates a Client for subject.
//
// Parameters:
//   - conn: NATS connection
//   - subject: Worker subject
//   - timeout: Per-call timeout used when ctx has no deadline (DefaultTimeout if zero)
//
// Returns:
//   - *Client: Client ready for use
//   - error: Missing connection or subject
func NewClient(conn *nats.Conn, subject string, timeout time.Duration) (*Client, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: worker subject is required", types.ErrInvalidConfig)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{conn: conn, subject: subject, timeout: timeout}, nil
}

// Invoke sends req and waits for the reply.
func (c *Client) Invoke(ctx context.Context, req executor.WorkerRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode worker request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reply, err := c.conn.RequestMsgWithContext(ctx, &nats.Msg{Subject: c.subject, Data: data})
	if err != nil {
		return fmt.Errorf("worker request for %s failed: %w", req.ID, err)
	}

	if msg := reply.Header.Get(ErrorHeader); msg != "" {
		return fmt.Errorf("%w: %s: %s", ErrRemote, req.ID, msg)
	}

	return nil
}
