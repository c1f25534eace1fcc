package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/sourcegraph/conc/pool"

	"github.com/arloliu/backflow/executor"
	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/types"
)

// DefaultQueueGroup is the queue group servers join when none is configured.
const DefaultQueueGroup = "backflow-workers"

// DefaultMaxInFlight bounds concurrent requests per server.
const DefaultMaxInFlight = 64

// ServerConfig configures Serve.
type ServerConfig struct {
	Subject     string
	QueueGroup  string
	MaxInFlight int

	Logger types.Logger
}

// Server answers worker requests on a subject.
type Server struct {
	sub    *nats.Subscription
	pool   *pool.Pool
	worker executor.Worker
	logger types.Logger

	ctx    context.Context //nolint:containedctx // lifetime of in-flight requests
	cancel context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// ErrServerClosed is replied to requests that arrive while the server closes.
var ErrServerClosed = errors.New("worker server closed")

// Serve subscribes w on cfg.Subject within a queue group.
//
// Requests run concurrently up to MaxInFlight; beyond that the subscription
// callback blocks, which leaves further requests queued in the client.
//
// Parameters:
//   - conn: NATS connection
//   - w: Worker to expose
//   - cfg: Subject, queue group and concurrency
//
// Returns:
//   - *Server: Running server; call Close to stop it
//   - error: Configuration or subscription error
func Serve(conn *nats.Conn, w executor.Worker, cfg ServerConfig) (*Server, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}
	if w == nil {
		return nil, types.ErrWorkerRequired
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("%w: worker subject is required", types.ErrInvalidConfig)
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = DefaultQueueGroup
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		pool:   pool.New().WithMaxGoroutines(cfg.MaxInFlight),
		worker: w,
		logger: logging.OrNop(cfg.Logger),
		ctx:    ctx,
		cancel: cancel,
	}

	sub, err := conn.QueueSubscribe(cfg.Subject, cfg.QueueGroup, s.dispatch)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe worker on %s: %w", cfg.Subject, err)
	}
	s.sub = sub

	s.logger.Info("worker serving", "subject", cfg.Subject, "queue", cfg.QueueGroup, "maxInFlight", cfg.MaxInFlight)

	return s, nil
}

// dispatch hands msg to the pool unless Close has started.
func (s *Server) dispatch(msg *nats.Msg) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.respond(msg, ErrServerClosed, "")
		return
	}
	s.pool.Go(func() { s.handle(msg) })
}

func (s *Server) handle(msg *nats.Msg) {
	var req executor.WorkerRequest
	err := json.Unmarshal(msg.Data, &req)
	if err == nil && req.ID == "" {
		err = types.ErrMalformedRecord
	}
	if err == nil {
		err = s.invoke(req)
	}
	if err != nil {
		s.logger.Debug("worker request failed", "id", req.ID, "error", err)
	}

	s.respond(msg, err, req.ID)
}

func (s *Server) respond(msg *nats.Msg, result error, id string) {
	if msg.Reply == "" {
		return
	}

	reply := nats.NewMsg(msg.Reply)
	if result != nil {
		reply.Header.Set(ErrorHeader, result.Error())
	}
	if err := msg.RespondMsg(reply); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.logger.Warn("failed to send worker reply", "id", id, "error", err)
	}
}

func (s *Server) invoke(req executor.WorkerRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()

	return s.worker.Invoke(s.ctx, req)
}

// Close stops accepting requests and waits for in-flight ones.
//
// Requests the subscription delivers after Close started get an
// ErrServerClosed reply; nothing is handed to the pool once it is being waited on.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.sub.Unsubscribe()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.pool.Wait()
		s.cancel()
	})

	return err
}
