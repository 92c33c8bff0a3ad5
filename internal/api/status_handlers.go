package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-status-stream/internal/projector"
	"github.com/JakeFAU/realtime-status-stream/internal/status"
)

const maxHistoryLimit = 1000

type statusResponse struct {
	State             string        `json:"state"`
	ScopeID           string        `json:"scope_id,omitempty"`
	ReconnectAttempts int           `json:"reconnect_attempts"`
	HistorySize       int           `json:"history_size"`
	Latest            *status.Event `json:"latest,omitempty"`
}

// getStatus handles GET /v1/status.
func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		State:             string(s.mgr.State()),
		ScopeID:           s.mgr.ScopeID(),
		ReconnectAttempts: s.mgr.Attempts(),
		HistorySize:       len(s.mgr.History()),
	}
	if latest, ok := s.mgr.Latest(); ok {
		resp.Latest = &latest
	}
	writeJSON(w, http.StatusOK, resp)
}

// getHistory handles GET /v1/history?entity_id=&limit=. Events are returned
// oldest first; limit keeps the newest N after filtering.
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entityID := strings.TrimSpace(r.URL.Query().Get("entity_id"))

	events := s.mgr.History()
	if entityID != "" {
		filtered := events[:0]
		for _, evt := range events {
			if evt.EntityID == entityID {
				filtered = append(filtered, evt)
			}
		}
		events = filtered
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []status.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// clearHistory handles DELETE /v1/history.
func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	s.mgr.ClearHistory()
	s.logger.Info("history cleared via api", zap.String("request_id", RequestID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

// connect handles POST /v1/connect. The dial is asynchronous; callers poll
// /v1/status for the outcome. Bursts beyond the limiter get 429.
func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if !s.connectLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "connect rate limited")
		return
	}
	s.mgr.Connect()
	s.logger.Info("connect requested via api", zap.String("request_id", RequestID(r.Context())))
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(s.mgr.State())})
}

// disconnect handles POST /v1/disconnect.
func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	s.mgr.Disconnect()
	s.logger.Info("disconnect requested via api", zap.String("request_id", RequestID(r.Context())))
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.mgr.State())})
}

// getEntity handles GET /v1/entities/{entity_id}. It folds the buffered
// history with the projector rules.
func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	entityID := strings.TrimSpace(chi.URLParam(r, "entity_id"))
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "entity_id required")
		return
	}
	writeJSON(w, http.StatusOK, projector.Fold(entityID, s.mgr.History()))
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
