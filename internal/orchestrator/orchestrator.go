// Package orchestrator turns one farmer query into one workflow and one
// delivery stream:
//
//	guardrails → session → busy policy → user message → route →
//	start workflow → partial per finished task → complete →
//	assistant message
//
// A query that fails guardrails or cannot be routed never creates a
// workflow; its stream carries a single error event instead.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/farmxpert/farmxpert/orchestrator/internal/adapters"
	"github.com/farmxpert/farmxpert/orchestrator/internal/config"
	"github.com/farmxpert/farmxpert/orchestrator/internal/delivery"
	"github.com/farmxpert/farmxpert/orchestrator/internal/guardrails"
	"github.com/farmxpert/farmxpert/orchestrator/internal/notify"
	"github.com/farmxpert/farmxpert/orchestrator/internal/router"
	"github.com/farmxpert/farmxpert/orchestrator/internal/sessions"
	"github.com/farmxpert/farmxpert/orchestrator/internal/workflow"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// ErrSessionBusy is returned under the reject policy when the session
// already has a running workflow.
var ErrSessionBusy = errors.New("session has a workflow in progress")

// ReasonSuperseded is the cancel reason used by the cancel busy policy.
const ReasonSuperseded = "superseded by a newer query"

// AskRequest is one incoming query.
type AskRequest struct {
	SessionID string             // empty creates a new session
	Farm      models.FarmContext // used when a session is created
	Query     string
	Hint      string // explicit adapter name or strategy alias
}

// AskResult describes what Ask set in motion.
type AskResult struct {
	SessionID      string
	SessionCreated bool
	WorkflowID     string // empty when the query was rejected
	Plan           models.RoutePlan
	Stream         *delivery.Stream

	// Rejection is the error event's message when no workflow was started.
	Rejection string
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Sessions  *sessions.MemorySessionStore
	Registry  *adapters.Registry
	Router    *router.Router
	Engine    *workflow.Engine
	Hub       *delivery.Hub
	Validator *guardrails.Validator
	Notifier  *notify.Service // optional
}

// Orchestrator coordinates sessions, routing, execution and delivery.
type Orchestrator struct {
	sessions  *sessions.MemorySessionStore
	registry  *adapters.Registry
	router    *router.Router
	engine    *workflow.Engine
	hub       *delivery.Hub
	validator *guardrails.Validator
	notifier  *notify.Service
	cfg       config.SessionConfig
}

// New creates an orchestrator. A nil Validator uses the default limits.
func New(d Deps, cfg config.SessionConfig) *Orchestrator {
	if d.Validator == nil {
		d.Validator = guardrails.New()
	}
	if cfg.BusyPolicy == "" {
		cfg.BusyPolicy = config.BusyCancel
	}
	return &Orchestrator{
		sessions:  d.Sessions,
		registry:  d.Registry,
		router:    d.Router,
		engine:    d.Engine,
		hub:       d.Hub,
		validator: d.Validator,
		notifier:  d.Notifier,
		cfg:       cfg,
	}
}

// Ask admits a query and returns once its workflow is running (or its
// rejection has been published). Results arrive on the returned stream.
//
// Flow:
//  1. Load or create the session and take its admission lock
//  2. Validate the query; a rejection publishes an error event
//  3. Apply the busy policy to any in-flight workflow
//  4. Append the user message and route the query
//  5. Start the workflow with an observer that aggregates and publishes
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	sess, created, err := o.sessions.GetOrCreate(ctx, req.SessionID, req.Farm)
	if err != nil {
		return nil, err
	}
	unlock, err := o.sessions.Lock(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := &AskResult{SessionID: sess.ID, SessionCreated: created}

	if err := o.validator.Validate(req.Query); err != nil {
		o.reject(ctx, res, err.Error())
		return res, nil
	}

	if err := o.admit(ctx, sess.ID); err != nil {
		return nil, err
	}

	if _, err := o.sessions.AppendMessage(ctx, sess.ID, models.Message{Role: models.RoleUser, Content: req.Query}); err != nil {
		return nil, err
	}

	plan, err := o.router.Route(req.Query, o.registry.Names(), req.Hint)
	if err != nil {
		o.reject(ctx, res, err.Error())
		return res, nil
	}
	res.Plan = plan

	history, err := o.sessions.History(ctx, sess.ID, o.cfg.HistoryWindow)
	if err != nil {
		return nil, err
	}

	wfID := uuid.NewString()
	if err := o.sessions.SetActiveWorkflow(ctx, sess.ID, wfID); err != nil {
		return nil, err
	}
	res.WorkflowID = wfID
	res.Stream = o.hub.Open(sess.ID, wfID)

	obs := &progress{
		o:         o,
		sessionID: sess.ID,
		stream:    res.Stream,
		agg:       newAggregator(plan),
	}
	_, err = o.engine.Start(ctx, contracts.StartRequest{
		WorkflowID: wfID,
		SessionID:  sess.ID,
		Query:      req.Query,
		Farm:       sess.Farm,
		History:    history,
		Plan:       plan,
		Observer:   obs,
	})
	if err != nil {
		o.sessions.ClearActiveWorkflow(ctx, sess.ID, wfID)
		msg := fmt.Sprintf("could not start workflow: %v", err)
		_ = res.Stream.Fail(msg)
		o.appendSystem(ctx, sess.ID, msg)
		res.WorkflowID, res.Rejection = "", msg
		return res, nil
	}

	log.Info().
		Str("session_id", sess.ID).
		Str("workflow_id", wfID).
		Str("route", router.Describe(plan)).
		Str("reason", plan.Reason).
		Msg("🧭 Query routed")
	return res, nil
}

// admit applies the busy policy. It runs under the session's admission
// lock, so a queued query also holds back the queries behind it.
func (o *Orchestrator) admit(ctx context.Context, sessionID string) error {
	active, err := o.sessions.ActiveWorkflow(ctx, sessionID)
	if err != nil || active == "" {
		return err
	}

	switch o.cfg.BusyPolicy {
	case config.BusyReject:
		return fmt.Errorf("%w: %s", ErrSessionBusy, active)
	case config.BusyConcurrent:
		return nil
	case config.BusyQueue:
		log.Info().Str("session_id", sessionID).Str("workflow_id", active).Msg("Query queued behind running workflow")
	default:
		o.engine.Cancel(active, ReasonSuperseded)
	}

	if _, err := o.engine.Wait(ctx, active); err != nil && !errors.Is(err, workflow.ErrNotFound) {
		return err
	}
	return nil
}

func (o *Orchestrator) reject(ctx context.Context, res *AskResult, msg string) {
	res.Rejection = msg
	res.Stream = o.hub.Open(res.SessionID, "")
	_ = res.Stream.Fail(msg)
	o.appendSystem(ctx, res.SessionID, msg)
	o.notifier.Notify(notify.Event{Type: notify.EventQueryRejected, SessionID: res.SessionID, Error: msg})
	log.Warn().Str("session_id", res.SessionID).Str("reason", msg).Msg("⛔ Query rejected")
}

func (o *Orchestrator) appendSystem(ctx context.Context, sessionID, content string) {
	if _, err := o.sessions.AppendMessage(ctx, sessionID, models.Message{Role: models.RoleSystem, Content: content}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to record system message")
	}
}

// ── Queries ─────────────────────────────────────────────────

// Cancel cancels a workflow by id.
func (o *Orchestrator) Cancel(workflowID, reason string) bool {
	if strings.TrimSpace(reason) == "" {
		reason = "canceled by client"
	}
	return o.engine.Cancel(workflowID, reason)
}

// CancelSession cancels the session's active workflow, if any, and
// returns its id.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID, reason string) (string, error) {
	active, err := o.sessions.ActiveWorkflow(ctx, sessionID)
	if err != nil || active == "" {
		return "", err
	}
	o.Cancel(active, reason)
	return active, nil
}

// Workflow returns a workflow snapshot.
func (o *Orchestrator) Workflow(id string) (*models.Workflow, error) {
	return o.engine.Get(id)
}

// WaitWorkflow blocks until the workflow completes.
func (o *Orchestrator) WaitWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return o.engine.Wait(ctx, id)
}

// Session returns a session snapshot.
func (o *Orchestrator) Session(ctx context.Context, id string) (*models.Session, error) {
	return o.sessions.Get(ctx, id)
}

// CreateSession starts an empty conversation for a farm.
func (o *Orchestrator) CreateSession(ctx context.Context, farm models.FarmContext) (*models.Session, error) {
	return o.sessions.Create(ctx, farm)
}

// History returns the last n messages of a session.
func (o *Orchestrator) History(ctx context.Context, id string, n int) ([]models.Message, error) {
	return o.sessions.History(ctx, id, n)
}

// DeleteSession cancels any running workflow and drops the session and
// its streams.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	if _, err := o.CancelSession(ctx, id, "session deleted"); err != nil {
		return err
	}
	if err := o.sessions.Delete(ctx, id); err != nil {
		return err
	}
	o.hub.Forget(id)
	return nil
}

// Stream returns the session's latest delivery stream.
func (o *Orchestrator) Stream(sessionID string) (*delivery.Stream, bool) {
	return o.hub.Latest(sessionID)
}

// StreamByID returns a stream by workflow (or rejection) id.
func (o *Orchestrator) StreamByID(id string) (*delivery.Stream, bool) {
	return o.hub.Get(id)
}

// Adapters describes every registered adapter.
func (o *Orchestrator) Adapters() []models.AdapterInfo {
	return o.registry.Infos()
}
