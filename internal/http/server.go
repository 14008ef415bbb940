package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexandernizov/accounts/internal/pkg/logger/sl"
)

type Server struct {
	log *slog.Logger

	httpAddr       string
	requestTimeout time.Duration
	secureCookie   bool
	prometheus     bool
	registry       *prometheus.Registry

	accounts AccountProvider
	verifier TokenVerifier

	server    *http.Server
	isRunning bool
}

func New(options ...func(*Server)) *Server {
	server := &Server{log: slog.Default()}
	for _, option := range options {
		option(server)
	}
	return server
}

func WithLogger(log *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.log = log
	}
}

func WithHttpAddr(httpAddr string) func(*Server) {
	return func(s *Server) {
		s.httpAddr = httpAddr
	}
}

func WithRequestTimeout(timeout time.Duration) func(*Server) {
	return func(s *Server) {
		s.requestTimeout = timeout
	}
}

func WithSecureCookies() func(*Server) {
	return func(s *Server) {
		s.secureCookie = true
	}
}

func WithPrometheus() func(*Server) {
	return func(s *Server) {
		s.prometheus = true
	}
}

func WithAccounts(provider AccountProvider, verifier TokenVerifier) func(*Server) {
	return func(s *Server) {
		s.accounts = provider
		s.verifier = verifier
	}
}

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if s.prometheus {
		s.registry = prometheus.NewRegistry()
		r.Use(newMetrics(s.registry).middleware)
	}
	if s.requestTimeout > 0 {
		r.Use(middleware.Timeout(s.requestTimeout))
	}

	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Get("/healthz", Handle(s.log, func(w http.ResponseWriter, r *http.Request) error {
		return respond(w, http.StatusOK, "OK", "Health check passed")
	}))

	if s.accounts != nil {
		h := &accountsHandler{provider: s.accounts, secureCookie: s.secureCookie}

		r.Route("/api/v1/users", func(r chi.Router) {
			r.Post("/register", Handle(s.log, h.register))
			r.Post("/login", Handle(s.log, h.login))
			r.Post("/refresh-token", Handle(s.log, h.refresh))

			r.Group(func(r chi.Router) {
				r.Use(authenticate(s.verifier))

				r.Post("/logout", Handle(s.log, h.logout))
				r.Post("/change-password", Handle(s.log, h.changePassword))
				r.Get("/me", Handle(s.log, h.current))
				r.Patch("/me", Handle(s.log, h.updateProfile))
				r.Get("/history", Handle(s.log, h.watchHistory))
				r.Post("/history", Handle(s.log, h.addToWatchHistory))
			})
		})
	}

	r.NotFound(Handle(s.log, func(w http.ResponseWriter, r *http.Request) error {
		return NewAPIError(http.StatusNotFound, "Route not found")
	}))

	return r
}

// Start blocks until the server is stopped.
func (s *Server) Start() {
	const op = "http.Start"
	log := s.log.With(slog.String("op", op))

	if s.isRunning {
		log.Error("http server is already running")
		return
	}

	s.server = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.isRunning = true

	log.Info("http server is running", slog.String("addr", s.httpAddr))

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("error during start http server", sl.Err(err))
	}
}

func (s *Server) Stop(ctx context.Context) {
	const op = "http.Stop"
	log := s.log.With(slog.String("op", op))

	log.Info("http is stopping")

	if s.server == nil {
		return
	}
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("error during shutdown http server", sl.Err(err))
	}
	s.isRunning = false
}
