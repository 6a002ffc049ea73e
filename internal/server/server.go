package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/moneta-app/moneta/internal/database"
	"github.com/moneta-app/moneta/internal/importer"
	"github.com/moneta-app/moneta/internal/ledger"
	"github.com/moneta-app/moneta/internal/services"
	"github.com/moneta-app/moneta/internal/taxlot"
)

// Config holds server wiring.
type Config struct {
	Port     int
	Log      zerolog.Logger
	DB       *database.DB
	Store    *ledger.Store
	Engine   *taxlot.Engine
	Recorder *services.Recorder
	Importer *importer.Importer
	DevMode  bool
}

// Server is the HTTP query/command surface over the ledger core. It is thin
// on purpose: presentation layers live outside this repository and talk to
// these endpoints.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	db       *database.DB
	store    *ledger.Store
	engine   *taxlot.Engine
	recorder *services.Recorder
	importer *importer.Importer
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		db:       cfg.DB,
		store:    cfg.Store,
		engine:   cfg.Engine,
		recorder: cfg.Recorder,
		importer: cfg.Importer,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)
			r.Get("/{id}", s.handleGetAccount)
			r.Put("/{id}", s.handleUpdateAccount)
			r.Delete("/{id}", s.handleDeleteAccount)
			r.Get("/{id}/register", s.handleRegister)
			r.Get("/{id}/balance", s.handleBalance)
			r.Post("/{id}/import", s.handleImport)
		})

		r.Route("/assets", func(r chi.Router) {
			r.Get("/", s.handleListAssets)
			r.Post("/", s.handleCreateAsset)
			r.Get("/{id}", s.handleGetAsset)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", s.handleRecordTransaction)
			r.Get("/{id}", s.handleGetTransaction)
			r.Delete("/{id}", s.handleDeleteTransaction)
		})

		r.Route("/lots", func(r chi.Router) {
			r.Get("/unsold", s.handleUnsoldLots)
			r.Get("/realized", s.handleRealized)
		})

		r.Post("/assignments/{id}/pin", s.handlePin)
		r.Post("/prices", s.handleAddPrice)
		r.Get("/networth", s.handleNetWorth)
		r.Get("/configuration", s.handleGetConfiguration)
		r.Put("/configuration", s.handleSaveConfiguration)
	})
}

// Start begins serving; it blocks until shutdown or failure.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("encode response failed")
	}
}

// writeError maps the core's error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validation *ledger.ValidationError
		constraint *ledger.ConstraintViolationError
		shortfall  *taxlot.ShortfallError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &constraint):
		status = http.StatusConflict
	case errors.As(err, &shortfall):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
