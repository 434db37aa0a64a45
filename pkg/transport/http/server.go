package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	defaultAddr            = ":8000"
	defaultReadTimeout     = 30 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Server runs an Adapter until its context ends and then drains it.
type Server struct {
	httpServer      *http.Server
	adapter         *Adapter
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.httpServer.Addr = addr }
}

// WithTimeouts sets the read and write timeouts. A zero write timeout
// leaves streamed answers unbounded.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.httpServer.ReadTimeout = read
		s.httpServer.WriteTimeout = write
	}
}

// WithShutdownTimeout bounds how long shutdown waits for buffered requests.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.shutdownTimeout = d }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server for adapter. When shutdown begins every open
// stream is cancelled, so long answers do not eat the shutdown budget.
func NewServer(adapter *Adapter, opts ...ServerOption) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:              defaultAddr,
			Handler:           adapter.Handler(),
			ReadTimeout:       defaultReadTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		adapter:         adapter,
		shutdownTimeout: defaultShutdownTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer.RegisterOnShutdown(func() {
		if n := adapter.InFlight().CancelAll(); n > 0 {
			s.logger.Info("cancelled open streams", "count", n)
		}
	})
	return s
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. It returns early if the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down", "timeout", s.shutdownTimeout)
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown incomplete", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown stops accepting connections and waits for active requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
