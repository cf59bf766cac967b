package models

import "time"

// ══════════════════════════════════════════════════════════════
// ── Sessions & Conversations ────────────────────────────────
// ══════════════════════════════════════════════════════════════

// FarmContext is the immutable snapshot of the caller's farm that travels
// with every query. It is supplied by the session/UI layer.
type FarmContext struct {
	Location string  `json:"location,omitempty"`
	LandSize float64 `json:"land_size,omitempty"`
	LandUnit string  `json:"land_unit,omitempty"` // defaults to "acres" when empty
	Season   string  `json:"season,omitempty"`    // e.g. "kharif", "rabi", "zaid"
	Crop     string  `json:"crop,omitempty"`
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a session's history. Immutable once appended.
type Message struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id,omitempty"`
}

// Session is one ongoing conversation.
type Session struct {
	ID               string      `json:"id"`
	Farm             FarmContext `json:"farm"`
	Messages         []Message   `json:"messages"`
	ActiveWorkflowID string      `json:"active_workflow_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Clone returns a deep copy so callers can never mutate store-owned history.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}

// Recent returns the last n messages (all of them when n <= 0 or n exceeds the history).
func (s *Session) Recent(n int) []Message {
	total := len(s.Messages)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]Message, n)
	copy(out, s.Messages[total-n:])
	return out
}
