package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/store"
)

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	filter := store.DecisionFilter{
		UserID:         userID(r),
		Status:         model.DecisionStatus(r.URL.Query().Get("status")),
		Recommendation: r.URL.Query().Get("recommendation"),
		JobID:          r.URL.Query().Get("job_id"),
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	}
	decisions, err := s.decisions.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions, "count": len(decisions)})
}

func (s *Server) handleDecisionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.decisions.Stats(r.Context(), userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.decisions.Get(r.Context(), chi.URLParam(r, "decisionID"), userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleApproveDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.decisions.Approve(r.Context(), chi.URLParam(r, "decisionID"), userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDismissDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.decisions.Dismiss(r.Context(), chi.URLParam(r, "decisionID"), userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleListDeliveries returns the append-only attempt log for a decision.
func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "decisionID")
	if _, err := s.decisions.Get(r.Context(), id, userID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	logs, err := s.store.ListWebhookLogs(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": logs, "count": len(logs)})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := s.store.ListDeadLetters(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters, "count": len(letters)})
}

func (s *Server) handleRemoveDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveDeadLetter(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
