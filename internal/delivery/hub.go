package delivery

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/farmxpert/farmxpert/orchestrator/internal/metrics"
)

// Hub owns every live stream, keyed by stream id, and remembers the latest
// stream of each session.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	latest  map[string]string // session id → stream id
	metrics *metrics.Metrics
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		streams: make(map[string]*Stream),
		latest:  make(map[string]string),
		metrics: m,
	}
}

// Open creates the stream for a workflow, or returns the existing one. An
// empty workflowID opens a stream for a query that never produced a
// workflow (rejected or unroutable); it gets a generated id.
func (h *Hub) Open(sessionID, workflowID string) *Stream {
	id := workflowID
	if id == "" {
		id = "req-" + uuid.NewString()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.streams[id]; ok {
		return s
	}
	s := newStream(id, sessionID, workflowID, h.metrics)
	h.streams[id] = s
	h.latest[sessionID] = id
	log.Debug().Str("stream_id", id).Str("session_id", sessionID).Msg("Delivery stream opened")
	return s
}

// Get returns a stream by id.
func (h *Hub) Get(id string) (*Stream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.streams[id]
	return s, ok
}

// Latest returns the most recently opened stream of a session.
func (h *Hub) Latest(sessionID string) (*Stream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.latest[sessionID]
	if !ok {
		return nil, false
	}
	s, ok := h.streams[id]
	return s, ok
}

// Forget drops every stream belonging to a session.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.streams {
		if s.sessionID == sessionID {
			delete(h.streams, id)
		}
	}
	delete(h.latest, sessionID)
}

// Prune removes closed streams that ended before cutoff. Returns their ids.
func (h *Hub) Prune(cutoff time.Time) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var pruned []string
	for id, s := range h.streams {
		s.mu.Lock()
		old := s.closed && s.closedAt.Before(cutoff)
		s.mu.Unlock()
		if !old {
			continue
		}
		delete(h.streams, id)
		if h.latest[s.sessionID] == id {
			delete(h.latest, s.sessionID)
		}
		pruned = append(pruned, id)
	}
	sort.Strings(pruned)
	return pruned
}

// Len returns the number of streams held.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}
