// Package httpserver exposes the activation backend over HTTP.
package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/chainpass/checkout/internal/config"
	"github.com/chainpass/checkout/internal/entitlement"
	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/metrics"
	"github.com/chainpass/checkout/internal/payconfig"
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	resolver *payconfig.Resolver
	service  *entitlement.Service
	logger   zerolog.Logger
}

// New builds the HTTP server with its router configured.
func New(cfg *config.Config, resolver *payconfig.Resolver, service *entitlement.Service, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			resolver: resolver,
			service:  service,
			logger:   appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router)
	return s
}

func (s *Server) configureRouter(router chi.Router) {
	if len(s.cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   s.cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(metrics.Middleware)

	if s.cfg.RateLimit.Enabled {
		router.Use(httprate.LimitByIP(s.cfg.RateLimit.Limit, s.cfg.RateLimit.Window.Duration))
		router.Use(httprate.Limit(s.cfg.RateLimit.GlobalLimit, s.cfg.RateLimit.Window.Duration,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) { return "global", nil })))
	}

	router.Get("/healthz", s.health)
	router.Handle("/metrics", metrics.Handler())

	router.Route("/api/v1/pay", func(r chi.Router) {
		r.Get("/config", s.payConfig)
		r.Post("/activate/{plan}", s.activate)
		r.Get("/entitlement", s.entitlementStatus)
	})
}

// Start begins serving and blocks until the listener fails or closes.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("httpserver.listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
