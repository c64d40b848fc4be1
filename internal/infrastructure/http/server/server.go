package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"3tcapital/ms_facturacion_sunat/internal/infrastructure/config"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/http/middleware"
)

// Server exposes the submission API, health and metrics endpoints.
type Server struct {
	log             *slog.Logger
	httpServer      *http.Server
	shutdownTimeout time.Duration
	auth            *middleware.JWTAuthenticator
}

// Options configures the server. HealthHandler is required; the rest are optional.
type Options struct {
	Config         config.AppConfig
	Logger         *slog.Logger
	Authenticator  *middleware.JWTAuthenticator
	HealthHandler  http.Handler
	MetricsHandler http.Handler
	// APIRoutes mounts the versioned API under /v1 behind authentication.
	APIRoutes func(r chi.Router)
}

// New builds the router and the underlying http.Server.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.HealthHandler == nil {
		return nil, errors.New("health handler is required")
	}

	httpCfg := opts.Config.HTTP

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, "/health", opts.HealthHandler)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	if opts.APIRoutes != nil {
		r.Route("/v1", func(api chi.Router) {
			if opts.Authenticator != nil {
				api.Use(opts.Authenticator.Middleware)
			}
			api.Use(middleware.Deadline(httpCfg.SubmitTimeout))
			opts.APIRoutes(api)
		})
	}

	// Submit and poll routes hold the connection up to SubmitTimeout.
	writeTimeout := httpCfg.WriteTimeout
	if httpCfg.SubmitTimeout > 0 && writeTimeout < httpCfg.SubmitTimeout+5*time.Second {
		writeTimeout = httpCfg.SubmitTimeout + 5*time.Second
	}

	shutdownTimeout := httpCfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	srv := &http.Server{
		Addr:         httpCfg.Address(),
		Handler:      r,
		ReadTimeout:  httpCfg.ReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  httpCfg.IdleTimeout,
	}

	return &Server{
		log:             opts.Logger,
		httpServer:      srv,
		shutdownTimeout: shutdownTimeout,
		auth:            opts.Authenticator,
	}, nil
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		s.log.Info("HTTP server shutting down", "timeout", s.shutdownTimeout)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP server shutdown failed", "error", err)
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the authenticator's background JWKS refresher.
func (s *Server) Close() {
	if s.auth != nil {
		s.auth.Close()
	}
}
