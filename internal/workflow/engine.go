// Package workflow implements the task-graph execution engine.
//
// The engine turns a routing plan into a workflow of tasks, one per adapter
// invocation, and drives each task through its state machine:
//
//  1. Every task whose dependencies have all completed is dispatched at once
//  2. Independent tasks run concurrently, bounded by a shared semaphore
//  3. Transient adapter errors are retried with exponential backoff inside
//     the task's deadline; permanent errors fail the task immediately
//  4. A task whose upstream failed is failed without being started
//  5. A failed task never fails the workflow; it completes degraded
//  6. Cancel (or the workflow deadline) fails every unfinished task
//
// A single coordinator goroutine per workflow owns all state changes, so
// observer callbacks for one workflow are sequential and in order.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/farmxpert/farmxpert/orchestrator/internal/adapters"
	"github.com/farmxpert/farmxpert/orchestrator/internal/config"
	"github.com/farmxpert/farmxpert/orchestrator/internal/metrics"
	"github.com/farmxpert/farmxpert/orchestrator/internal/telemetry"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// ErrNotFound is returned for unknown workflow ids.
var ErrNotFound = errors.New("workflow not found")

// Cancel reasons used by the engine itself.
const (
	ReasonDeadline = "workflow deadline exceeded"
	ReasonShutdown = "shutdown"
)

// Workflow outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

// AdapterSource resolves adapter names. *adapters.Registry satisfies it.
type AdapterSource interface {
	Get(name string) (contracts.Adapter, error)
}

var _ contracts.WorkflowService = (*Engine)(nil)

// run is the engine's bookkeeping for one workflow.
type run struct {
	mu     sync.RWMutex
	wf     *models.Workflow
	reason string // set by Cancel before ctx is canceled

	cancel context.CancelFunc
	done   chan struct{}
}

func (r *run) snapshot() *models.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneWorkflow(r.wf)
}

// Engine executes workflows.
type Engine struct {
	adapters AdapterSource
	cfg      config.EngineConfig
	metrics  *metrics.Metrics
	sem      *semaphore.Weighted

	// All workflows, running and finished: workflowID → run
	runsMu sync.RWMutex
	runs   map[string]*run
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records task and workflow metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a workflow engine. Zero config values fall back to the
// defaults in config.Load.
func NewEngine(src AdapterSource, cfg config.EngineConfig, opts ...Option) *Engine {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	if cfg.Overhead <= 0 {
		cfg.Overhead = 5 * time.Second
	}
	e := &Engine{
		adapters: src,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxParallel)),
		runs:     make(map[string]*run),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start validates the plan, creates the workflow and runs it in the
// background. The returned snapshot has every task pending.
// ctx only carries trace context; cancelling it does not stop the workflow.
func (e *Engine) Start(ctx context.Context, req contracts.StartRequest) (*models.Workflow, error) {
	if len(req.Plan.Steps) == 0 {
		return nil, errors.New("workflow: plan has no steps")
	}

	wfID := req.WorkflowID
	if wfID == "" {
		wfID = uuid.NewString()
	} else if _, exists := e.lookup(wfID); exists {
		return nil, fmt.Errorf("workflow: id %s already in use", wfID)
	}
	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:        wfID,
		SessionID: req.SessionID,
		Query:     req.Query,
		Mode:      req.Plan.Mode,
		Status:    models.WorkflowRunning,
		CreatedAt: now,
	}

	taskByAdapter := make(map[string]string, len(req.Plan.Steps))
	for i, step := range req.Plan.Steps {
		if _, dup := taskByAdapter[step.Adapter]; dup {
			return nil, fmt.Errorf("workflow: adapter %q appears twice in plan", step.Adapter)
		}
		if _, err := e.adapters.Get(step.Adapter); err != nil {
			return nil, fmt.Errorf("workflow: %w", err)
		}
		task := models.Task{
			ID:         uuid.NewString(),
			WorkflowID: wfID,
			Adapter:    step.Adapter,
			Order:      i,
			Status:     models.TaskPending,
		}
		for _, dep := range step.DependsOn {
			depID, ok := taskByAdapter[dep]
			if !ok {
				return nil, fmt.Errorf("workflow: %s depends on %s, which is not an earlier step", step.Adapter, dep)
			}
			task.DependsOn = append(task.DependsOn, depID)
		}
		taskByAdapter[step.Adapter] = task.ID
		wf.Tasks = append(wf.Tasks, task)
		wf.TaskIDs = append(wf.TaskIDs, task.ID)
	}

	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{wf: wf, cancel: cancel, done: make(chan struct{})}

	e.runsMu.Lock()
	e.runs[wfID] = r
	e.runsMu.Unlock()

	deadline := e.Deadline(req.Plan)
	timer := time.AfterFunc(deadline, func() { e.cancelRun(r, ReasonDeadline) })

	e.metrics.WorkflowStarted()
	log.Info().
		Str("workflow_id", wfID).
		Str("session_id", req.SessionID).
		Str("mode", string(req.Plan.Mode)).
		Int("tasks", len(wf.Tasks)).
		Dur("deadline", deadline).
		Msg("🌱 Workflow started")

	snap := cloneWorkflow(wf)
	go func() {
		defer timer.Stop()
		e.execute(execCtx, r, req)
	}()
	return snap, nil
}

// Deadline is the longest a plan may run: each dependency level may take a
// full task timeout per wave of MaxParallel tasks, plus a fixed overhead.
func (e *Engine) Deadline(plan models.RoutePlan) time.Duration {
	depth := make(map[string]int, len(plan.Steps))
	perLevel := map[int]int{}
	maxDepth := 0
	for _, s := range plan.Steps {
		d := 1
		for _, dep := range s.DependsOn {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[s.Adapter] = d
		perLevel[d]++
		if d > maxDepth {
			maxDepth = d
		}
	}
	var total time.Duration
	for level := 1; level <= maxDepth; level++ {
		waves := (perLevel[level] + e.cfg.MaxParallel - 1) / e.cfg.MaxParallel
		total += time.Duration(waves) * e.cfg.TaskTimeout
	}
	return total + e.cfg.Overhead
}

// Get returns a snapshot of the workflow.
func (e *Engine) Get(id string) (*models.Workflow, error) {
	r, ok := e.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.snapshot(), nil
}

// Tasks returns snapshots of the workflow's tasks in invocation order.
func (e *Engine) Tasks(id string) ([]models.Task, error) {
	wf, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	return wf.Tasks, nil
}

// Wait blocks until the workflow completes or ctx is done.
func (e *Engine) Wait(ctx context.Context, id string) (*models.Workflow, error) {
	r, ok := e.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops a running workflow: unfinished tasks fail with a
// cancellation detail and the workflow completes. Results of abandoned
// adapter calls are discarded. Returns false if the workflow is unknown or
// already complete.
func (e *Engine) Cancel(id, reason string) bool {
	r, ok := e.lookup(id)
	if !ok {
		return false
	}
	return e.cancelRun(r, reason)
}

func (e *Engine) cancelRun(r *run, reason string) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	r.mu.Lock()
	if r.reason == "" {
		r.reason = reason
	}
	r.mu.Unlock()
	r.cancel()
	return true
}

// SetResult attaches the aggregated response to a workflow.
func (e *Engine) SetResult(id string, res *models.AggregatedResponse) error {
	r, ok := e.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.mu.Lock()
	r.wf.Result = res
	r.mu.Unlock()
	return nil
}

// Running returns the ids of workflows that have not completed, sorted.
func (e *Engine) Running() []string {
	e.runsMu.RLock()
	defer e.runsMu.RUnlock()
	var ids []string
	for id, r := range e.runs {
		select {
		case <-r.done:
		default:
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Forget drops a completed workflow's state. Running workflows are kept.
func (e *Engine) Forget(id string) bool {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	r, ok := e.runs[id]
	if !ok {
		return false
	}
	select {
	case <-r.done:
		delete(e.runs, id)
		return true
	default:
		return false
	}
}

// Finished returns snapshots of workflows that completed before cutoff,
// oldest first.
func (e *Engine) Finished(cutoff time.Time) []*models.Workflow {
	e.runsMu.RLock()
	defer e.runsMu.RUnlock()
	var out []*models.Workflow
	for _, r := range e.runs {
		select {
		case <-r.done:
		default:
			continue
		}
		snap := r.snapshot()
		if snap.CompletedAt != nil && snap.CompletedAt.Before(cutoff) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	return out
}

// Prune forgets workflows that completed before cutoff. Returns their ids.
func (e *Engine) Prune(cutoff time.Time) []string {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	var pruned []string
	for id, r := range e.runs {
		select {
		case <-r.done:
		default:
			continue
		}
		r.mu.RLock()
		old := r.wf.CompletedAt != nil && r.wf.CompletedAt.Before(cutoff)
		r.mu.RUnlock()
		if old {
			delete(e.runs, id)
			pruned = append(pruned, id)
		}
	}
	sort.Strings(pruned)
	return pruned
}

// Shutdown cancels every running workflow and waits for them to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.runsMu.RLock()
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.runsMu.RUnlock()

	for _, r := range runs {
		e.cancelRun(r, ReasonShutdown)
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("workflow engine shutdown: %w", ctx.Err())
		}
	}
	return nil
}

func (e *Engine) lookup(id string) (*run, bool) {
	e.runsMu.RLock()
	defer e.runsMu.RUnlock()
	r, ok := e.runs[id]
	return r, ok
}

// ── Coordinator ─────────────────────────────────────────────

type eventKind int

const (
	evStarted eventKind = iota
	evFinished
)

type taskEvent struct {
	kind     eventKind
	idx      int
	output   *models.AgentOutput
	err      error
	detail   string
	attempts int
}

func (e *Engine) execute(ctx context.Context, r *run, req contracts.StartRequest) {
	ctx, span := telemetry.Tracer().Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", r.wf.ID),
		attribute.String("session.id", req.SessionID),
		attribute.String("workflow.mode", string(req.Plan.Mode)),
		attribute.Int("workflow.tasks", len(r.wf.Tasks)),
	))
	defer span.End()

	obs := req.Observer
	n := len(r.wf.Tasks)
	index := make(map[string]int, n)
	for i, t := range r.wf.Tasks {
		index[t.ID] = i
	}

	// every task sends at most one started and one finished event
	events := make(chan taskEvent, 2*n)
	inflight := 0
	start := time.Now()

	for {
		inflight += e.dispatchReady(ctx, r, req, index, events, obs)
		if inflight == 0 {
			break
		}

		select {
		case ev := <-events:
			switch ev.kind {
			case evStarted:
				e.markRunning(r, ev.idx, obs)
			case evFinished:
				inflight--
				e.markFinished(r, ev, obs)
			}
		case <-ctx.Done():
			r.mu.RLock()
			reason := r.reason
			r.mu.RUnlock()
			if reason == "" {
				reason = "canceled"
			}
			e.failUnfinished(r, "canceled: "+reason, obs)
			r.mu.Lock()
			r.wf.Canceled = true
			r.mu.Unlock()
			span.AddEvent("canceled", trace.WithAttributes(attribute.String("reason", reason)))
			inflight = 0
		}
		if inflight == 0 && ctx.Err() != nil {
			break
		}
	}

	// A pending task can only remain if its dependencies never resolved.
	e.failUnfinished(r, "unsatisfiable dependency", obs)

	now := time.Now().UTC()
	r.mu.Lock()
	r.wf.Status = models.DeriveStatus(r.wf.Tasks)
	r.wf.CompletedAt = &now
	outcome := outcomeOf(r.wf)
	snap := cloneWorkflow(r.wf)
	r.mu.Unlock()

	if obs != nil {
		obs.WorkflowFinished(snap)
	}
	e.metrics.WorkflowFinished(outcome)
	span.SetAttributes(attribute.String("workflow.outcome", outcome))
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, "all tasks failed")
	}

	close(r.done)
	r.cancel()

	log.Info().
		Str("workflow_id", snap.ID).
		Str("session_id", snap.SessionID).
		Str("outcome", outcome).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("🌾 Workflow completed")
}

// dispatchReady fails tasks whose upstream failed and launches tasks whose
// upstreams all completed. Returns how many tasks were launched.
func (e *Engine) dispatchReady(ctx context.Context, r *run, req contracts.StartRequest, index map[string]int, events chan<- taskEvent, obs contracts.WorkflowObserver) int {
	if ctx.Err() != nil {
		return 0
	}
	launched := 0
	for progress := true; progress; {
		progress = false
		for i := range r.wf.Tasks {
			r.mu.Lock()
			task := &r.wf.Tasks[i]
			if task.Status != models.TaskPending || task.Input != nil {
				r.mu.Unlock()
				continue
			}

			ready := true
			failedDep := ""
			upstream := map[string]*models.AgentOutput{}
			for _, depID := range task.DependsOn {
				dep := r.wf.Tasks[index[depID]]
				switch dep.Status {
				case models.TaskCompleted:
					upstream[dep.Adapter] = dep.Output
				case models.TaskFailed:
					failedDep = dep.Adapter
				default:
					ready = false
				}
				if failedDep != "" {
					break
				}
			}

			if failedDep != "" {
				r.mu.Unlock()
				e.failTask(r, i, fmt.Sprintf("upstream %s failed", failedDep), obs)
				progress = true
				continue
			}
			if !ready {
				r.mu.Unlock()
				continue
			}

			input := &models.AdapterInput{
				Query:     req.Query,
				SessionID: req.SessionID,
				Farm:      req.Farm,
				History:   req.History,
			}
			if len(upstream) > 0 {
				input.Upstream = upstream
			}
			task.Input = input
			t := *task
			r.mu.Unlock()

			launched++
			go e.runTask(ctx, t, i, input, events)
		}
	}
	return launched
}

func (e *Engine) markRunning(r *run, idx int, obs contracts.WorkflowObserver) {
	r.mu.Lock()
	task := &r.wf.Tasks[idx]
	if err := transition(task, models.TaskRunning); err != nil {
		r.mu.Unlock()
		log.Debug().Err(err).Str("workflow_id", r.wf.ID).Msg("Discarding start of finished task")
		return
	}
	now := time.Now().UTC()
	task.StartedAt = &now
	wfSnap, taskSnap := cloneWorkflow(r.wf), *task
	r.mu.Unlock()

	log.Debug().
		Str("workflow_id", wfSnap.ID).
		Str("task_id", taskSnap.ID).
		Str("adapter", taskSnap.Adapter).
		Msg("Task running")
	if obs != nil {
		obs.TaskStarted(wfSnap, &taskSnap)
	}
}

func (e *Engine) markFinished(r *run, ev taskEvent, obs contracts.WorkflowObserver) {
	r.mu.Lock()
	task := &r.wf.Tasks[ev.idx]
	if task.Status.Terminal() {
		// canceled while in flight; the late result is discarded
		r.mu.Unlock()
		return
	}
	if task.Status == models.TaskPending {
		// finished before its start event was seen (failed semaphore acquire)
		if ev.err == nil {
			_ = transition(task, models.TaskRunning)
		}
	}

	to := models.TaskCompleted
	if ev.err != nil {
		to = models.TaskFailed
	}
	if err := transition(task, to); err != nil {
		r.mu.Unlock()
		log.Error().Err(err).Str("workflow_id", r.wf.ID).Msg("Task state machine violation")
		return
	}
	now := time.Now().UTC()
	task.EndedAt = &now
	task.Attempts = ev.attempts
	if ev.err == nil {
		task.Output = ev.output
	} else {
		task.Error = ev.detail
	}
	var dur time.Duration
	if task.StartedAt != nil {
		dur = now.Sub(*task.StartedAt)
	}
	wfSnap, taskSnap := cloneWorkflow(r.wf), *task
	r.mu.Unlock()

	e.metrics.TaskFinished(taskSnap.Adapter, string(taskSnap.Status), dur)
	if ev.err == nil {
		log.Info().
			Str("workflow_id", wfSnap.ID).
			Str("task_id", taskSnap.ID).
			Str("adapter", taskSnap.Adapter).
			Str("status", string(taskSnap.Output.Status)).
			Int("attempt", taskSnap.Attempts).
			Int64("duration_ms", dur.Milliseconds()).
			Msg("✅ Task completed")
	} else {
		log.Warn().
			Str("workflow_id", wfSnap.ID).
			Str("task_id", taskSnap.ID).
			Str("adapter", taskSnap.Adapter).
			Int("attempt", taskSnap.Attempts).
			Int64("duration_ms", dur.Milliseconds()).
			Str("error", taskSnap.Error).
			Msg("❌ Task failed")
	}
	if obs != nil {
		obs.TaskFinished(wfSnap, &taskSnap)
	}
}

// failTask moves a non-terminal task straight to failed.
func (e *Engine) failTask(r *run, idx int, detail string, obs contracts.WorkflowObserver) {
	r.mu.Lock()
	task := &r.wf.Tasks[idx]
	if err := transition(task, models.TaskFailed); err != nil {
		r.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	task.EndedAt = &now
	task.Error = detail
	wfSnap, taskSnap := cloneWorkflow(r.wf), *task
	r.mu.Unlock()

	e.metrics.TaskFinished(taskSnap.Adapter, string(models.TaskFailed), 0)
	log.Warn().
		Str("workflow_id", wfSnap.ID).
		Str("task_id", taskSnap.ID).
		Str("adapter", taskSnap.Adapter).
		Str("error", detail).
		Msg("❌ Task failed")
	if obs != nil {
		obs.TaskFinished(wfSnap, &taskSnap)
	}
}

func (e *Engine) failUnfinished(r *run, detail string, obs contracts.WorkflowObserver) {
	for i := range r.wf.Tasks {
		r.mu.RLock()
		terminal := r.wf.Tasks[i].Status.Terminal()
		r.mu.RUnlock()
		if !terminal {
			e.failTask(r, i, detail, obs)
		}
	}
}

// ── Task execution ──────────────────────────────────────────

// runTask executes one task in its own goroutine and reports back on events.
func (e *Engine) runTask(ctx context.Context, task models.Task, idx int, input *models.AdapterInput, events chan<- taskEvent) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		events <- taskEvent{kind: evFinished, idx: idx, err: err, detail: "canceled before start"}
		return
	}
	defer e.sem.Release(1)
	events <- taskEvent{kind: evStarted, idx: idx}

	adapter, err := e.adapters.Get(task.Adapter)
	if err != nil {
		events <- taskEvent{kind: evFinished, idx: idx, err: err, detail: err.Error()}
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
	defer cancel()

	attempts := 0
	op := func() (*models.AgentOutput, error) {
		attempts++
		out, err := e.invokeOnce(taskCtx, adapter, task, input, attempts)
		if err == nil {
			return out, nil
		}
		if taskCtx.Err() != nil || adapters.IsPermanent(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	out, err := backoff.RetryNotifyWithData(op, e.newBackOff(taskCtx), func(err error, wait time.Duration) {
		e.metrics.TaskRetried(task.Adapter)
		log.Info().
			Str("workflow_id", task.WorkflowID).
			Str("task_id", task.ID).
			Str("adapter", task.Adapter).
			Int("attempt", attempts+1).
			Dur("delay", wait).
			Err(err).
			Msg("Retrying task")
	})

	ev := taskEvent{kind: evFinished, idx: idx, output: out, err: err, attempts: attempts}
	if err != nil {
		ev.detail = e.failureDetail(ctx, taskCtx, err)
	}
	events <- ev
}

func (e *Engine) invokeOnce(ctx context.Context, adapter contracts.Adapter, task models.Task, input *models.AdapterInput, attempt int) (out *models.AgentOutput, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "task.invoke", trace.WithAttributes(
		attribute.String("workflow.id", task.WorkflowID),
		attribute.String("task.id", task.ID),
		attribute.String("adapter", task.Adapter),
		attribute.Int("attempt", attempt),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("output.status", string(out.Status)),
				attribute.Float64("output.confidence", out.Confidence),
			)
		}
		span.End()
	}()

	// An adapter that ignores ctx is abandoned once ctx expires.
	results := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				results <- invokeResult{err: adapters.Permanent(task.Adapter, fmt.Errorf("adapter panicked: %v", p))}
			}
		}()
		o, err := adapter.Invoke(ctx, input)
		results <- invokeResult{out: o, err: err}
	}()

	select {
	case res := <-results:
		out, err = res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return adapters.Normalize(task.Adapter, out)
}

type invokeResult struct {
	out *models.AgentOutput
	err error
}

func (e *Engine) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.MaxElapsedTime = 0 // the task deadline bounds retries
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxRetries)), ctx)
}

func (e *Engine) failureDetail(wfCtx, taskCtx context.Context, err error) string {
	switch {
	case wfCtx.Err() != nil:
		return "canceled"
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("timeout after %s", e.cfg.TaskTimeout)
	default:
		return err.Error()
	}
}

// ── Helpers ─────────────────────────────────────────────────

func outcomeOf(wf *models.Workflow) string {
	if wf.Canceled {
		return OutcomeCanceled
	}
	failed := 0
	for _, t := range wf.Tasks {
		if t.Status == models.TaskFailed {
			failed++
		}
	}
	switch {
	case failed == 0:
		return OutcomeOK
	case failed == len(wf.Tasks):
		return OutcomeFailed
	default:
		return OutcomeDegraded
	}
}

// Outcome returns the outcome label of a completed workflow.
func Outcome(wf *models.Workflow) string { return outcomeOf(wf) }

func cloneWorkflow(wf *models.Workflow) *models.Workflow {
	cp := *wf
	cp.TaskIDs = append([]string(nil), wf.TaskIDs...)
	cp.Tasks = make([]models.Task, len(wf.Tasks))
	for i, t := range wf.Tasks {
		t.DependsOn = append([]string(nil), t.DependsOn...)
		cp.Tasks[i] = t
	}
	return &cp
}
