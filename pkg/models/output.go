package models

// ══════════════════════════════════════════════════════════════
// ── Adapter Contract ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// OutputStatus is the outcome an advisory service reports.
type OutputStatus string

const (
	OutputOK      OutputStatus = "ok"
	OutputBlocked OutputStatus = "blocked" // safety block, not an error
	OutputError   OutputStatus = "error"
)

// Provenance describes how specific the underlying data match was.
type Provenance string

const (
	ProvenanceExact    Provenance = "exact"
	ProvenanceCategory Provenance = "category"
	ProvenanceGeneric  Provenance = "generic"
)

// AgentOutput is the uniform value every adapter returns.
type AgentOutput struct {
	Status          OutputStatus `json:"status"`
	Confidence      float64      `json:"confidence"`
	Recommendations []string     `json:"recommendations"`
	Warnings        []string     `json:"warnings"`
	Blockers        []string     `json:"blockers"`
	Provenance      Provenance   `json:"provenance"`

	// Concerns tags the topics this output speaks to (e.g. "fertilizer",
	// "irrigation"). A blocked output suppresses ok recommendations that
	// share a concern with it.
	Concerns []string `json:"concerns,omitempty"`

	// Summary is an optional one-line natural-language digest.
	Summary string `json:"summary,omitempty"`
}

// AdapterInput is what the engine hands an adapter for one invocation.
type AdapterInput struct {
	Query     string                  `json:"query"`
	SessionID string                  `json:"session_id,omitempty"`
	Farm      FarmContext             `json:"farm"`
	Upstream  map[string]*AgentOutput `json:"upstream,omitempty"` // adapter name → output of a dependency
	History   []Message               `json:"history,omitempty"`
}

// AdapterInfo describes an adapter to the router and to clients.
type AdapterInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Concerns    []string `json:"concerns,omitempty"`
	Requires    []string `json:"requires,omitempty"` // upstream adapters whose output this one consumes
}

// ── Routing ─────────────────────────────────────────────────

// RouteMode is the shape of a routing decision.
type RouteMode string

const (
	RouteSingle   RouteMode = "single"
	RouteParallel RouteMode = "parallel"
	RoutePipeline RouteMode = "pipeline"
)

// RouteStep is one adapter invocation in a plan.
type RouteStep struct {
	Adapter   string   `json:"adapter"`
	DependsOn []string `json:"depends_on,omitempty"` // adapter names
}

// RoutePlan is the router's decision for one query.
type RoutePlan struct {
	Mode   RouteMode   `json:"mode"`
	Steps  []RouteStep `json:"steps"`
	Reason string      `json:"reason,omitempty"`
}

// Adapters returns the adapter names of the plan in invocation order.
func (p RoutePlan) Adapters() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Adapter
	}
	return names
}
