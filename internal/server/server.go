package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"brokerd/internal/config"
	"brokerd/internal/ledger"
)

// Server accepts client connections and runs one session per connection.
// Sessions share nothing but the ledger; a weighted semaphore bounds how
// many run at once, so load cannot grow goroutines without limit.
type Server struct {
	cfg    config.Server
	logger *zap.Logger
	ledger *ledger.Service
	sem    *semaphore.Weighted
	ln     net.Listener
}

// New creates a server for the given ledger.
func New(cfg config.Server, logger *zap.Logger, svc *ledger.Service) *Server {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 256
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		ledger: svc,
		sem:    semaphore.NewWeighted(maxConns),
	}
}

// Listen binds the configured endpoint. Serve calls it implicitly; tests
// call it first to learn the bound address when the port is 0.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.logger.Info("Server listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled. Cancellation closes
// the listener only; in-flight sessions keep running until their peers
// disconnect.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		// Take a session slot before accepting; at capacity the loop
		// blocks here until a session finishes.
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.logger.Info("Listener stopped")
			return nil
		}

		conn, err := s.ln.Accept()
		if err != nil {
			s.sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("Listener stopped")
				return nil
			}
			s.logger.Error("Failed to accept connection", zap.Error(err))
			continue
		}

		// Sessions outlive listener shutdown and drain on their own.
		sctx := context.WithoutCancel(ctx)
		go func() {
			defer s.sem.Release(1)
			s.handleConn(sctx, conn)
		}()
	}
}
