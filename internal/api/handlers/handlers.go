// Package handlers implements the HTTP handlers for the FarmXpert
// orchestrator. Every handler delegates to the Orchestrator; none of them
// touch sessions, workflows or streams directly.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/farmxpert/farmxpert/orchestrator/internal/orchestrator"
	"github.com/farmxpert/farmxpert/orchestrator/internal/sessions"
	"github.com/farmxpert/farmxpert/orchestrator/internal/workflow"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// maxBodyBytes bounds request bodies; queries themselves are capped far
// lower by the guardrails.
const maxBodyBytes = 64 << 10

// Handlers holds all handler dependencies.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
}

// New creates the handler set.
func New(o *orchestrator.Orchestrator) *Handlers {
	return &Handlers{Orchestrator: o}
}

// ── Adapters ────────────────────────────────────────────────

// ListAdapters describes every registered advisory service.
// GET /api/v1/adapters
func (h *Handlers) ListAdapters(w http.ResponseWriter, r *http.Request) {
	infos := h.Orchestrator.Adapters()
	if infos == nil {
		infos = []models.AdapterInfo{}
	}
	respondJSON(w, http.StatusOK, infos)
}

// ── Workflows ───────────────────────────────────────────────

type workflowView struct {
	*models.Workflow
	Outcome string `json:"outcome,omitempty"`
}

// GetWorkflow returns a workflow snapshot with its tasks.
// GET /api/v1/workflows/{workflowId}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.Orchestrator.Workflow(chi.URLParam(r, "workflowId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	view := workflowView{Workflow: wf}
	if wf.Status == models.WorkflowCompleted {
		view.Outcome = workflow.Outcome(wf)
	}
	respondJSON(w, http.StatusOK, view)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelWorkflow cancels a running workflow. Its stream still ends with a
// complete event carrying whatever answered before the cancel.
// POST /api/v1/workflows/{workflowId}/cancel
func (h *Handlers) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowId")

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	if !h.Orchestrator.Cancel(id, req.Reason) {
		if _, err := h.Orchestrator.Workflow(id); err != nil {
			respondErr(w, err)
			return
		}
		respondError(w, http.StatusConflict, fmt.Sprintf("workflow '%s' already finished", id))
		return
	}

	log.Info().Str("workflow_id", id).Str("reason", req.Reason).Msg("🛑 Workflow cancel requested")
	respondJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": id,
		"status":      "canceling",
	})
}

// ── Helpers ─────────────────────────────────────────────────

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sessions.ErrNotFound), errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
