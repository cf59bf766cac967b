// Package retention bounds the orchestrator's in-memory state. A janitor
// periodically:
//   - evicts sessions idle for longer than the session TTL (archived copies
//     in the session archive are kept)
//   - drops finished workflows and their delivery streams once they are
//     older than the workflow retention window
//
// When a transcript archiver is configured, finished workflows are written
// to it before they are dropped. Archive failures are fail-safe: nothing is
// dropped if archiving fails.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/farmxpert/farmxpert/orchestrator/internal/delivery"
	"github.com/farmxpert/farmxpert/orchestrator/internal/sessions"
	"github.com/farmxpert/farmxpert/orchestrator/internal/workflow"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// DefaultWorkflowRetention applies when no window is configured.
const DefaultWorkflowRetention = time.Hour

// TranscriptArchiver stores finished workflows before they are forgotten.
type TranscriptArchiver interface {
	Kind() string
	ArchiveWorkflows(ctx context.Context, records []Transcript) (string, error)
}

// Transcript is one archived workflow with the events it streamed.
type Transcript struct {
	Workflow *models.Workflow `json:"workflow"`
	Events   []models.Event   `json:"events"`
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	SessionsEvicted   int
	WorkflowsArchived int
	WorkflowsPruned   int
	StreamsPruned     int
	ArchiveURI        string
	Errors            []error
}

// Options configures a Janitor.
type Options struct {
	Interval          time.Duration
	SessionIdleTTL    time.Duration // 0 keeps sessions for the process lifetime
	WorkflowRetention time.Duration
	Archiver          TranscriptArchiver // optional
}

// Janitor periodically evicts idle sessions and prunes finished workflows.
type Janitor struct {
	sessions *sessions.MemorySessionStore
	engine   *workflow.Engine
	hub      *delivery.Hub
	opts     Options
	now      func() time.Time
}

// NewJanitor creates a janitor. Intervals under a second fall back to one
// minute.
func NewJanitor(s *sessions.MemorySessionStore, e *workflow.Engine, h *delivery.Hub, opts Options) *Janitor {
	if opts.Interval < time.Second {
		opts.Interval = time.Minute
	}
	if opts.WorkflowRetention <= 0 {
		opts.WorkflowRetention = DefaultWorkflowRetention
	}
	return &Janitor{
		sessions: s,
		engine:   e,
		hub:      h,
		opts:     opts,
		now:      time.Now,
	}
}

// Start runs the janitor until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	archiver := "none"
	if j.opts.Archiver != nil {
		archiver = j.opts.Archiver.Kind()
	}
	log.Info().
		Dur("interval", j.opts.Interval).
		Dur("session_idle_ttl", j.opts.SessionIdleTTL).
		Dur("workflow_retention", j.opts.WorkflowRetention).
		Str("archiver", archiver).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := j.now()
	var stats CycleStats

	if j.opts.SessionIdleTTL > 0 {
		evicted := j.sessions.EvictIdle(j.opts.SessionIdleTTL)
		for _, id := range evicted {
			j.hub.Forget(id)
		}
		stats.SessionsEvicted = len(evicted)
	}

	cutoff := start.Add(-j.opts.WorkflowRetention)
	if j.pruneWorkflows(ctx, cutoff, &stats) {
		stats.StreamsPruned = len(j.hub.Prune(cutoff))
	}

	for _, err := range stats.Errors {
		log.Warn().Err(err).Msg("Retention cycle error")
	}
	if stats.SessionsEvicted > 0 || stats.WorkflowsPruned > 0 || stats.StreamsPruned > 0 {
		log.Info().
			Int("sessions_evicted", stats.SessionsEvicted).
			Int("workflows_archived", stats.WorkflowsArchived).
			Int("workflows_pruned", stats.WorkflowsPruned).
			Int("streams_pruned", stats.StreamsPruned).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

// pruneWorkflows reports false when archiving failed and nothing may be dropped.
func (j *Janitor) pruneWorkflows(ctx context.Context, cutoff time.Time, stats *CycleStats) bool {
	if j.opts.Archiver == nil {
		stats.WorkflowsPruned = len(j.engine.Prune(cutoff))
		return true
	}

	finished := j.engine.Finished(cutoff)
	if len(finished) == 0 {
		return true
	}
	records := make([]Transcript, 0, len(finished))
	for _, wf := range finished {
		rec := Transcript{Workflow: wf}
		if s, ok := j.hub.Get(wf.ID); ok {
			rec.Events = s.Events()
		}
		records = append(records, rec)
	}

	uri, err := j.opts.Archiver.ArchiveWorkflows(ctx, records)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		log.Warn().Err(err).Str("archiver", j.opts.Archiver.Kind()).Msg("Archive failed, skipping prune")
		return false
	}
	stats.ArchiveURI = uri
	stats.WorkflowsArchived = len(records)
	for _, wf := range finished {
		if j.engine.Forget(wf.ID) {
			stats.WorkflowsPruned++
		}
	}
	return true
}
