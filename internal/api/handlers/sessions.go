package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/farmxpert/farmxpert/orchestrator/internal/orchestrator"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

type createSessionRequest struct {
	Farm models.FarmContext `json:"farm"`
}

// CreateSession starts an empty conversation for a farm.
// POST /api/v1/sessions
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	sess, err := h.Orchestrator.CreateSession(r.Context(), req.Farm)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// GetSession returns a session with its full history.
// GET /api/v1/sessions/{sessionId}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Orchestrator.Session(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// ListMessages returns the session's history, optionally the last ?limit=n.
// GET /api/v1/sessions/{sessionId}/messages
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := h.Orchestrator.History(r.Context(), chi.URLParam(r, "sessionId"), limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

// DeleteSession cancels the session's running workflow and forgets it.
// DELETE /api/v1/sessions/{sessionId}
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if err := h.Orchestrator.DeleteSession(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	log.Info().Str("session_id", id).Msg("🗑️ Session deleted")
	w.WriteHeader(http.StatusNoContent)
}

// ── Queries ─────────────────────────────────────────────────

type queryRequest struct {
	SessionID string              `json:"session_id,omitempty"` // chat only
	Farm      *models.FarmContext `json:"farm,omitempty"`       // chat only, for new sessions
	Query     string              `json:"query"`
	Hint      string              `json:"hint,omitempty"`
}

type queryResponse struct {
	SessionID  string   `json:"session_id"`
	WorkflowID string   `json:"workflow_id,omitempty"`
	StreamID   string   `json:"stream_id"`
	Mode       string   `json:"mode,omitempty"`
	Adapters   []string `json:"adapters,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func newQueryResponse(res *orchestrator.AskResult) queryResponse {
	out := queryResponse{
		SessionID:  res.SessionID,
		WorkflowID: res.WorkflowID,
		Error:      res.Rejection,
	}
	if res.Stream != nil {
		out.StreamID = res.Stream.ID()
	}
	if res.WorkflowID != "" {
		out.Mode = string(res.Plan.Mode)
		out.Adapters = res.Plan.Adapters()
		out.Reason = res.Plan.Reason
	}
	return out
}

// SubmitQuery admits a query into an existing session and returns as soon
// as its workflow is running. Results are read from the events endpoint.
// POST /api/v1/sessions/{sessionId}/queries
func (h *Handlers) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.Orchestrator.Ask(r.Context(), orchestrator.AskRequest{
		SessionID: chi.URLParam(r, "sessionId"),
		Query:     req.Query,
		Hint:      req.Hint,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	if res.Rejection != "" {
		respondJSON(w, http.StatusUnprocessableEntity, newQueryResponse(res))
		return
	}
	respondJSON(w, http.StatusAccepted, newQueryResponse(res))
}
