// Package producer publishes synthetic task records onto the work stream.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/types"
)

// DefaultInterval is the delay between two published records.
const DefaultInterval = 10 * time.Millisecond

// Config configures a Producer.
type Config struct {
	// Subject is the stream subject records are published to.
	Subject string
	// Interval between records (DefaultInterval if zero).
	Interval time.Duration
	// Count stops the producer after that many records; zero runs until canceled.
	Count int
	// RunID prefixes every task ID; a random UUID is used when empty.
	RunID string

	Logger types.Logger
}

// Producer publishes `{"id": "<runID>-<seq>"}` records at a fixed interval.
type Producer struct {
	js     jetstream.JetStream
	cfg    Config
	logger types.Logger
}

// New creates a Producer on conn.
func New(conn *nats.Conn, cfg Config) (*Producer, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return NewJS(js, cfg)
}

// NewJS creates a Producer on an existing JetStream context.
func NewJS(js jetstream.JetStream, cfg Config) (*Producer, error) {
	if js == nil {
		return nil, types.ErrNATSConnectionRequired
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("%w: producer subject is required", types.ErrInvalidConfig)
	}
	if cfg.Count < 0 {
		return nil, fmt.Errorf("%w: producer count must be >= 0", types.ErrInvalidConfig)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	return &Producer{js: js, cfg: cfg, logger: logging.OrNop(cfg.Logger)}, nil
}

// RunID returns the prefix of the IDs this producer publishes.
func (p *Producer) RunID() string {
	return p.cfg.RunID
}

// TaskID returns the ID of the seq-th record.
func (p *Producer) TaskID(seq int) string {
	return p.cfg.RunID + "-" + strconv.Itoa(seq)
}

// Run publishes records until ctx is canceled or Count records were sent.
//
// Returns:
//   - int: Number of records acknowledged by the stream
//   - error: Publish failure; nil on cancellation or when Count is reached
func (p *Producer) Run(ctx context.Context) (int, error) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("producer started", "runID", p.cfg.RunID, "subject", p.cfg.Subject, "interval", p.cfg.Interval)

	sent := 0
	for p.cfg.Count == 0 || sent < p.cfg.Count {
		if err := p.publish(ctx, sent); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}

			return sent, err
		}
		sent++

		if p.cfg.Count > 0 && sent == p.cfg.Count {
			break
		}

		select {
		case <-ctx.Done():
			p.logger.Info("producer stopped", "sent", sent)
			return sent, nil
		case <-ticker.C:
		}
	}

	p.logger.Info("producer stopped", "sent", sent)

	return sent, nil
}

func (p *Producer) publish(ctx context.Context, seq int) error {
	data, err := json.Marshal(types.Task{ID: p.TaskID(seq)})
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	if _, err := p.js.Publish(ctx, p.cfg.Subject, data); err != nil {
		return fmt.Errorf("failed to publish record %d: %w", seq, err)
	}
	p.logger.Debug("published record", "id", p.TaskID(seq))

	return nil
}
