// Package server exposes the pipeline over HTTP: intake, job status,
// decision review, and dead-letter inspection. Identity comes from the
// X-User-ID header set by the upstream gateway; the server does no
// authentication of its own.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sightline-analytics/costlens/internal/config"
	"github.com/sightline-analytics/costlens/internal/decision"
	"github.com/sightline-analytics/costlens/internal/ingest"
	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/store"
)

const userIDHeader = "X-User-ID"

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	manager   *ingest.Manager
	decisions *decision.Engine
	store     store.Store
	cfg       config.ServerConfig
}

// New builds the server.
func New(manager *ingest.Manager, decisions *decision.Engine, st store.Store, cfg config.ServerConfig) *Server {
	return &Server{manager: manager, decisions: decisions, store: st, cfg: cfg}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", userIDHeader},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{jobID}", s.handleGetJob)
			r.Post("/{jobID}/cancel", s.handleCancelJob)
		})

		r.Route("/decisions", func(r chi.Router) {
			r.Get("/", s.handleListDecisions)
			r.Get("/stats", s.handleDecisionStats)
			r.Get("/{decisionID}", s.handleGetDecision)
			r.Get("/{decisionID}/deliveries", s.handleListDeliveries)
			r.Post("/{decisionID}/approve", s.handleApproveDecision)
			r.Post("/{decisionID}/dismiss", s.handleDismissDecision)
		})

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", s.handleListDeadLetters)
			r.Delete("/{id}", s.handleRemoveDeadLetter)
		})
	})

	return r
}

// requireUser rejects requests without a caller identity.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(userIDHeader) == "" {
			writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return r.Header.Get(userIDHeader)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps error kinds to HTTP statuses. Untyped errors are
// internal and never surfaced raw.
func writeDomainError(w http.ResponseWriter, err error) {
	switch model.KindOf(err) {
	case model.KindValidation:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case model.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case model.KindInvalidState:
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
