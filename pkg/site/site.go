package site

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/niels/staticserve/pkg/config"
	"github.com/niels/staticserve/pkg/logging"
	"github.com/niels/staticserve/pkg/metrics"
	"github.com/niels/staticserve/pkg/router"
	"github.com/niels/staticserve/pkg/server"
	"github.com/niels/staticserve/pkg/version"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var errServerStopped = errors.New("server stopped")

// Site is the static site: the public listener with its router, and the
// optional admin listener exposing metrics and health.
type Site struct {
	cfg     config.Config
	logger  zerolog.Logger
	router  *router.Router
	metrics *metrics.Metrics
	handler http.Handler
	public  *server.Server
	admin   *server.Server
}

// Build assembles the site from cfg. It validates the configuration and
// wires handlers but opens no sockets and reads no files.
func Build(cfg config.Config, logger zerolog.Logger) (*Site, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := metrics.New()
	r := router.New(router.Options{
		StaticDir:  cfg.Server.StaticDir,
		IndexPath:  cfg.Server.IndexPath(),
		Logger:     logging.WithComponent(logger, "router"),
		Instrument: m.Instrument,
	})

	accessLogger := logging.WithComponent(logger, "access")
	handler := server.Chain(r,
		server.RequestID(),
		server.Recover(logging.WithComponent(logger, "recover")),
		server.Header("Server", version.ServerHeader()),
		server.AccessLog(accessLogger, cfg.Server.AccessLogEnabled()),
	)

	s := &Site{
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "site"),
		router:  r,
		metrics: m,
		handler: handler,
		public:  server.New("public", cfg.Server.Addr(), handler, logger),
	}

	if cfg.Admin.Enabled {
		s.admin = server.New("admin", cfg.Admin.Addr(), s.adminHandler(), logger)
	}

	return s, nil
}

func (s *Site) adminHandler() http.Handler {
	m := mux.NewRouter()
	m.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	m.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}).Methods(http.MethodGet, http.MethodHead)
	return server.Chain(m, server.Recover(s.logger))
}

// Handler returns the public handler with its middleware
func (s *Site) Handler() http.Handler {
	return s.handler
}

// Rules returns the route rules in priority order
func (s *Site) Rules() []router.Rule {
	return s.router.Rules()
}

// Config returns the configuration the site was built from
func (s *Site) Config() config.Config {
	return s.cfg
}

// Metrics returns the collectors fed by the public handler
func (s *Site) Metrics() *metrics.Metrics {
	return s.metrics
}

// Addr returns the public address, the bound one once started
func (s *Site) Addr() string {
	return s.public.Addr()
}

// AdminAddr returns the admin address, or "" when the admin server is disabled
func (s *Site) AdminAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr()
}

func (s *Site) servers() []*server.Server {
	if s.admin == nil {
		return []*server.Server{s.public}
	}
	return []*server.Server{s.public, s.admin}
}

// Start binds every listener. If any bind fails, listeners already bound
// are released before the error is returned.
func (s *Site) Start() error {
	var started []*server.Server
	for _, srv := range s.servers() {
		if err := srv.Start(); err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
			for _, prev := range started {
				_ = prev.Shutdown(ctx)
			}
			cancel()
			return err
		}
		started = append(started, srv)
	}
	return nil
}

// Run starts the site and blocks until ctx is cancelled or a listener
// fails, then shuts everything down gracefully.
func (s *Site) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	return s.Wait(ctx)
}

// Wait blocks on a started site until ctx is cancelled or a listener
// fails, then shuts everything down gracefully.
func (s *Site) Wait(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range s.servers() {
		g.Go(func() error {
			select {
			case err := <-srv.Done():
				if err != nil {
					return fmt.Errorf("%s server: %w", srv.Name(), err)
				}
				return fmt.Errorf("%s: %w", srv.Name(), errServerStopped)
			case <-gctx.Done():
				return nil
			}
		})
	}

	runErr := g.Wait()
	if errors.Is(runErr, errServerStopped) {
		s.logger.Warn().Err(runErr).Msg("Listener stopped, shutting down")
		runErr = nil
	} else if ctx.Err() != nil {
		s.logger.Info().Msg("Shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	return errors.Join(runErr, s.Shutdown(shutdownCtx))
}

// Shutdown stops all listeners, waiting for in-flight requests until ctx expires
func (s *Site) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range s.servers() {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s server: %w", srv.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Site) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.cfg.Server.ShutdownTimeout) * time.Second
}
