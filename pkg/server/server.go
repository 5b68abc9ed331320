package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Common errors
var (
	ErrBind           = errors.New("failed to bind listener")
	ErrAlreadyStarted = errors.New("server already started")
)

// Server is one HTTP listener. New only prepares it; nothing is bound until
// Start is called, so building a Server has no side effects.
type Server struct {
	name   string
	addr   string
	logger zerolog.Logger
	http   *http.Server

	mu       sync.Mutex
	listener net.Listener
	done     chan error
}

// New creates a server that will listen on addr and serve handler
func New(name, addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		name:   name,
		addr:   addr,
		logger: logger.With().Str("server", name).Logger(),
		http: &http.Server{
			Addr:     addr,
			Handler:  handler,
			ErrorLog: newErrorLog(logger, name),
		},
	}
}

// Name returns the server name used in logs
func (s *Server) Name() string {
	return s.name
}

// Start binds the listener and serves in the background. A bind failure is
// returned immediately and is never retried.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, s.name)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w %s on %s: %w", ErrBind, s.name, s.addr, err)
	}
	s.listener = ln
	s.done = make(chan error, 1)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Listening")

	go func(done chan<- error) {
		err := s.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("Server stopped unexpectedly")
		}
		done <- err
		close(done)
	}(s.done)

	return nil
}

// Addr returns the bound address once started, otherwise the configured one
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Done delivers the result of the serve loop: nil after a clean Shutdown.
// It returns nil if the server was never started.
func (s *Server) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires, then closes what is left. The port is free when it returns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.listener != nil
	done := s.done
	s.mu.Unlock()

	if !started {
		return nil
	}

	s.logger.Info().Msg("Shutting down")
	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Graceful shutdown incomplete, closing connections")
		if cerr := s.http.Close(); cerr != nil {
			s.logger.Error().Err(cerr).Msg("Close failed")
		}
	}
	<-done
	s.logger.Info().Msg("Stopped")
	return err
}
