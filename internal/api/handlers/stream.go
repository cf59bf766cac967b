package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/farmxpert/farmxpert/orchestrator/internal/delivery"
	"github.com/farmxpert/farmxpert/orchestrator/internal/orchestrator"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// StreamSessionEvents streams the session's latest workflow (or a specific
// one via ?workflow_id=) as Server-Sent Events. A reconnect replays the
// stream from its first event.
// GET /api/v1/sessions/{sessionId}/events
func (h *Handlers) StreamSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if _, err := h.Orchestrator.Session(r.Context(), sessionID); err != nil {
		respondErr(w, err)
		return
	}

	var (
		stream *delivery.Stream
		ok     bool
	)
	if wfID := r.URL.Query().Get("workflow_id"); wfID != "" {
		stream, ok = h.Orchestrator.StreamByID(wfID)
		ok = ok && stream.SessionID() == sessionID
	} else {
		stream, ok = h.Orchestrator.Stream(sessionID)
	}
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no event stream for session '%s'", sessionID))
		return
	}

	streamEvents(w, r, stream)
}

// Chat creates or loads a session, starts the query's workflow and streams
// its events in one call. Rejections arrive as a single error event.
// POST /api/v1/chat
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ask := orchestrator.AskRequest{
		SessionID: req.SessionID,
		Query:     req.Query,
		Hint:      req.Hint,
	}
	if req.Farm != nil {
		ask.Farm = *req.Farm
	}
	res, err := h.Orchestrator.Ask(r.Context(), ask)
	if err != nil {
		respondErr(w, err)
		return
	}

	streamEvents(w, r, res.Stream)
}

// streamEvents writes every event of stream as an SSE frame until the
// terminal event or until the client goes away.
func streamEvents(w http.ResponseWriter, r *http.Request, stream *delivery.Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, err := stream.Subscribe()
	if err != nil {
		if errors.Is(err, delivery.ErrAlreadySubscribed) {
			respondError(w, http.StatusConflict, "stream already has a subscriber")
			return
		}
		respondErr(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Session-Id", stream.SessionID())
	if wfID := stream.WorkflowID(); wfID != "" {
		w.Header().Set("X-Workflow-Id", wfID)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, delivery.ErrClosed) {
				log.Debug().Err(err).Str("stream_id", stream.ID()).Msg("SSE client went away")
			}
			return
		}
		if err := writeEvent(w, ev); err != nil {
			log.Debug().Err(err).Str("stream_id", stream.ID()).Msg("SSE write failed")
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
