package models

import "time"

// ══════════════════════════════════════════════════════════════
// ── Aggregation & Delivery ──────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ScoredRecommendation is a recommendation with its attribution.
type ScoredRecommendation struct {
	Text       string  `json:"text"`
	Adapter    string  `json:"adapter"`
	Confidence float64 `json:"confidence"`
}

// AggregatedResponse is the merged answer built from task outputs.
type AggregatedResponse struct {
	Answer               string                 `json:"answer"`
	Recommendations      []ScoredRecommendation `json:"recommendations"`
	Warnings             []string               `json:"warnings"`
	Blockers             []string               `json:"blockers"`
	Withheld             []ScoredRecommendation `json:"withheld,omitempty"` // suppressed by a blocker
	ContributingAdapters []string               `json:"contributing_adapters"`
	FailedAdapters       []string               `json:"failed_adapters,omitempty"`
	PendingAdapters      []string               `json:"pending_adapters,omitempty"`
	Complete             bool                   `json:"complete"`
}

// EventType is the kind of a delivery event.
type EventType string

const (
	EventPartial  EventType = "partial"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Terminal reports whether the event ends its stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one frame on a workflow's delivery stream.
type Event struct {
	Seq                  int                 `json:"seq"`
	Type                 EventType           `json:"type"`
	SessionID            string              `json:"session_id"`
	WorkflowID           string              `json:"workflow_id,omitempty"`
	Answer               string              `json:"answer"`
	ContributingAdapters []string            `json:"contributing_adapters"`
	Blockers             []string            `json:"blockers"`
	PendingAdapters      []string            `json:"pending_adapters,omitempty"`
	Error                string              `json:"error,omitempty"`
	Response             *AggregatedResponse `json:"response,omitempty"`
	Timestamp            time.Time           `json:"timestamp"`
}
