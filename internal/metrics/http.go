package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PathMetrics is the HTTP path of the metrics handler.
const PathMetrics = "/metrics"

// readHeaderTimeout is the timeout for reading the request headers.
const readHeaderTimeout = 10 * time.Second

// ServerConfig is the configuration of the metrics HTTP server.
type ServerConfig struct {
	// Logger is used for logging the operation of the server.  It must not be
	// nil.
	Logger *slog.Logger

	// Gatherer is the source of the metrics.  It must not be nil.
	Gatherer prometheus.Gatherer

	// Addr is the address to listen on.
	Addr netip.AddrPort
}

// Server serves the metrics over HTTP.
type Server struct {
	logger *slog.Logger
	http   *http.Server

	// mu protects addr.
	mu   *sync.Mutex
	addr net.Addr
}

// NewServer returns a new metrics server.  conf must not be nil.
func NewServer(conf *ServerConfig) (s *Server) {
	mux := http.NewServeMux()
	mux.Handle(PathMetrics, promhttp.HandlerFor(conf.Gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(conf.Logger.Handler(), slog.LevelError),
	}))

	return &Server{
		logger: conf.Logger,
		http: &http.Server{
			Addr:              conf.Addr.String(),
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		mu: &sync.Mutex{},
	}
}

// type check
var _ service.Interface = (*Server)(nil)

// Start implements the [service.Interface] interface for *Server.
func (s *Server) Start(ctx context.Context) (err error) {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.http.Addr, err)
	}

	s.mu.Lock()
	s.addr = l.Addr()
	s.mu.Unlock()

	go s.serve(context.WithoutCancel(ctx), l)

	s.logger.InfoContext(ctx, "started", "addr", l.Addr())

	return nil
}

// serve serves the requests until the server is shut down.  It is intended to
// be used as a goroutine.
func (s *Server) serve(ctx context.Context, l net.Listener) {
	defer slogutil.RecoverAndLog(ctx, s.logger)

	err := s.http.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.ErrorContext(ctx, "serving", slogutil.KeyError, err)
	}
}

// LocalAddr returns the address the server listens on, if it's started.
func (s *Server) LocalAddr() (addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addr
}

// Shutdown implements the [service.Interface] interface for *Server.
func (s *Server) Shutdown(ctx context.Context) (err error) {
	err = s.http.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutting down metrics server: %w", err)
	}

	s.logger.InfoContext(ctx, "stopped")

	return nil
}
