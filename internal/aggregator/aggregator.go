// Package aggregator folds adapter outputs into one response.
//
// Aggregation rules:
//   - blockers from every contributing output are kept verbatim and deduplicated
//   - an output carrying blockers is blocked, whatever its status
//   - a blocked output suppresses ok recommendations that share one of its
//     concerns; a blocker without concerns suppresses all of them
//   - recommendations are ordered by descending confidence, ties broken by
//     adapter invocation order and then by the adapter's own order
//   - failed adapters are named in a "could not be reached" notice
//
// An Aggregator is recomputed incrementally: every Add or Fail is followed
// by a Snapshot that the delivery layer publishes as a partial answer.
package aggregator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// Aggregator accumulates the outputs of one workflow.
type Aggregator struct {
	mu      sync.Mutex
	order   []string
	rank    map[string]int
	outputs map[string]*models.AgentOutput
	failed  map[string]string
}

// New creates an aggregator for adapters invoked in the given order.
func New(order []string) *Aggregator {
	a := &Aggregator{
		rank:    make(map[string]int, len(order)),
		outputs: make(map[string]*models.AgentOutput),
		failed:  make(map[string]string),
	}
	for _, name := range order {
		a.ensure(name)
	}
	return a
}

func (a *Aggregator) ensure(name string) {
	if _, ok := a.rank[name]; ok {
		return
	}
	a.rank[name] = len(a.order)
	a.order = append(a.order, name)
}

// Add records a completed adapter's output. A later Add for the same
// adapter replaces the earlier one.
func (a *Aggregator) Add(adapter string, out *models.AgentOutput) {
	if out == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensure(adapter)
	delete(a.failed, adapter)
	cp := *out
	a.outputs[adapter] = &cp
}

// Fail records that an adapter produced no usable output.
func (a *Aggregator) Fail(adapter, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensure(adapter)
	if _, ok := a.outputs[adapter]; ok {
		return
	}
	a.failed[adapter] = detail
}

// Failures returns the failure detail per adapter.
func (a *Aggregator) Failures() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.failed))
	for k, v := range a.failed {
		out[k] = v
	}
	return out
}

// Snapshot builds the response from everything recorded so far. pending
// lists adapters still running; an empty pending set marks the response
// complete.
func (a *Aggregator) Snapshot(pending []string) *models.AggregatedResponse {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp := &models.AggregatedResponse{
		Recommendations:      []models.ScoredRecommendation{},
		Warnings:             []string{},
		Blockers:             []string{},
		ContributingAdapters: []string{},
		Complete:             len(pending) == 0,
	}

	blockedConcerns := map[string]bool{}
	blockAll := false
	seenBlocker := map[string]bool{}
	seenWarning := map[string]bool{}

	// first pass: blockers and warnings in invocation order
	for _, name := range a.order {
		out, ok := a.outputs[name]
		if !ok {
			continue
		}
		resp.ContributingAdapters = append(resp.ContributingAdapters, name)
		for _, w := range out.Warnings {
			if key := normKey(w); key != "" && !seenWarning[key] {
				seenWarning[key] = true
				resp.Warnings = append(resp.Warnings, w)
			}
		}
		if !blocking(out) {
			continue
		}
		for _, b := range out.Blockers {
			if b != "" && !seenBlocker[b] {
				seenBlocker[b] = true
				resp.Blockers = append(resp.Blockers, b)
			}
		}
		if len(out.Concerns) == 0 {
			blockAll = true
		}
		for _, c := range out.Concerns {
			blockedConcerns[normKey(c)] = true
		}
	}

	// second pass: recommendations, split into actionable and withheld
	var candidates []models.ScoredRecommendation
	for _, name := range a.order {
		out, ok := a.outputs[name]
		if !ok {
			continue
		}
		suppressed := blocking(out) || blockAll || touches(out.Concerns, blockedConcerns)
		for _, text := range out.Recommendations {
			rec := models.ScoredRecommendation{Text: text, Adapter: name, Confidence: out.Confidence}
			if suppressed {
				resp.Withheld = append(resp.Withheld, rec)
				continue
			}
			candidates = append(candidates, rec)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	seenRec := map[string]bool{}
	for _, rec := range candidates {
		key := normKey(rec.Text)
		if key == "" || seenRec[key] {
			continue
		}
		seenRec[key] = true
		resp.Recommendations = append(resp.Recommendations, rec)
	}

	for _, name := range a.order {
		if _, ok := a.failed[name]; ok {
			resp.FailedAdapters = append(resp.FailedAdapters, name)
		}
	}
	resp.PendingAdapters = a.sortByRank(pending)

	resp.Answer = synthesize(resp, a.summaries())
	return resp
}

// blocking reports whether an output vetoes anything. Blockers count even
// when the service reported status ok.
func blocking(out *models.AgentOutput) bool {
	return out.Status == models.OutputBlocked || len(out.Blockers) > 0
}

func (a *Aggregator) sortByRank(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := append([]string(nil), names...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := a.rank[out[i]]
		rj, jok := a.rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// summaries returns the non-empty summaries of ok outputs in invocation order.
func (a *Aggregator) summaries() []string {
	var out []string
	for _, name := range a.order {
		o, ok := a.outputs[name]
		if ok && o.Status == models.OutputOK && strings.TrimSpace(o.Summary) != "" {
			out = append(out, strings.TrimSpace(o.Summary))
		}
	}
	return out
}

func touches(concerns []string, blocked map[string]bool) bool {
	for _, c := range concerns {
		if blocked[normKey(c)] {
			return true
		}
	}
	return false
}

func normKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ── Synthesis ───────────────────────────────────────────────

// UnreachableNotice names adapters that produced nothing.
func UnreachableNotice(failed []string) string {
	if len(failed) == 0 {
		return ""
	}
	return fmt.Sprintf("The following services could not be reached: %s.", strings.Join(failed, ", "))
}

func synthesize(resp *models.AggregatedResponse, summaries []string) string {
	var parts []string

	if len(resp.ContributingAdapters) == 0 {
		switch {
		case !resp.Complete:
			parts = append(parts, fmt.Sprintf("Consulting %s.", strings.Join(resp.PendingAdapters, ", ")))
		default:
			parts = append(parts, "No advisory service could be reached for this question. Please try again shortly.")
		}
		if n := UnreachableNotice(resp.FailedAdapters); n != "" {
			parts = append(parts, n)
		}
		return strings.Join(parts, "\n\n")
	}

	if len(resp.Blockers) > 0 {
		var b strings.Builder
		b.WriteString("Do not proceed:")
		for _, s := range resp.Blockers {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
		parts = append(parts, b.String())
	}

	if len(resp.Recommendations) > 0 {
		var b strings.Builder
		b.WriteString("Recommendations:")
		for _, r := range resp.Recommendations {
			b.WriteString("\n- ")
			b.WriteString(r.Text)
		}
		parts = append(parts, b.String())
	} else if len(summaries) > 0 {
		parts = append(parts, strings.Join(summaries, " "))
	}

	if len(resp.Warnings) > 0 {
		var b strings.Builder
		b.WriteString("Warnings:")
		for _, w := range resp.Warnings {
			b.WriteString("\n- ")
			b.WriteString(w)
		}
		parts = append(parts, b.String())
	}

	if n := len(resp.Withheld); n > 0 {
		noun := "recommendations were"
		if n == 1 {
			noun = "recommendation was"
		}
		parts = append(parts, fmt.Sprintf("%d %s withheld because of the blockers above.", n, noun))
	}

	if n := UnreachableNotice(resp.FailedAdapters); n != "" {
		parts = append(parts, n)
	}
	if !resp.Complete {
		parts = append(parts, fmt.Sprintf("Still waiting on: %s.", strings.Join(resp.PendingAdapters, ", ")))
	}
	if len(parts) == 0 {
		parts = append(parts, "The consulted services had no specific advice for this question.")
	}
	return strings.Join(parts, "\n\n")
}
