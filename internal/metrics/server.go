package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/types"
)

const shutdownTimeout = 10 * time.Second

// Server exposes /metrics and /health over HTTP.
type Server struct {
	addr     string
	gatherer prometheus.Gatherer
	logger   types.Logger
	server   *http.Server
	listener net.Listener
}

// NewServer creates a metrics server.
//
// Parameters:
//   - addr: Listen address, e.g. ":9090"; ":0" picks a free port
//   - gatherer: Source of metric families (uses prometheus.DefaultGatherer if nil)
//   - logger: Logger for lifecycle messages (nil disables logging)
//
// Returns:
//   - *Server: Server ready to Start
func NewServer(addr string, gatherer prometheus.Gatherer, logger types.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{addr: addr, gatherer: gatherer, logger: logging.OrNop(logger)}
}

// Listen binds the listen address so Addr reports the real port before serving.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.addr
}

// Start serves until ctx is canceled, then shuts the server down.
//
// Parameters:
//   - ctx: Lifetime of the server
//
// Returns:
//   - error: Listen or shutdown error
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting metrics server", "addr", s.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down metrics server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK\n")
}
