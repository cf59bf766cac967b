// Package contracts defines the service interfaces for the FarmXpert orchestrator.
//
// These interfaces form the boundary between the orchestration core and its
// collaborators: the advisory services (behind Adapter), the language model
// (behind Completer) and durable storage (behind SessionArchive). The wiring
// in pkg/server picks concrete implementations; everything else depends on
// these interfaces so each piece can be replaced in tests.
package contracts

import (
	"context"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// ── Service Adapter ─────────────────────────────────────────

// Adapter presents one advisory service behind the uniform call contract.
// Implementations translate their service's native response into an
// AgentOutput and must never call other adapters.
type Adapter interface {
	// Name is the registry key (e.g. "soil_health").
	Name() string

	// Describe returns routing metadata for the adapter.
	Describe() models.AdapterInfo

	// Invoke runs one call. Errors should be classified with
	// adapters.Transient / adapters.Permanent so the engine knows
	// whether to retry.
	Invoke(ctx context.Context, input *models.AdapterInput) (*models.AgentOutput, error)
}

// ── Language Model ──────────────────────────────────────────

// Completer is a long-lived language-generation handle. One instance is
// created at startup and injected wherever generation is needed.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ── Session Archive ─────────────────────────────────────────

// SessionArchive is the durable backing store for sessions. The in-process
// session store writes through to it and reads from it on a miss.
// OSS implementations: store.MemoryArchive, store.PostgresArchive.
type SessionArchive interface {
	SaveSession(ctx context.Context, session *models.Session) error
	LoadSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	Close() error
}

// ── Workflow Service ────────────────────────────────────────

// WorkflowObserver receives task and workflow state changes. Calls for one
// workflow are made sequentially, in state-change order.
type WorkflowObserver interface {
	TaskStarted(wf *models.Workflow, task *models.Task)
	TaskFinished(wf *models.Workflow, task *models.Task)
	WorkflowFinished(wf *models.Workflow)
}

// StartRequest is everything the engine needs to run one query's plan.
type StartRequest struct {
	WorkflowID string // optional; generated when empty
	SessionID  string
	Query      string
	Farm       models.FarmContext
	History    []models.Message
	Plan       models.RoutePlan
	Observer   WorkflowObserver // may be nil
}

// WorkflowService executes task graphs.
// Implementation: internal/workflow.Engine
type WorkflowService interface {
	// Start creates the workflow and returns its initial snapshot; execution
	// continues in the background.
	Start(ctx context.Context, req StartRequest) (*models.Workflow, error)
	Get(id string) (*models.Workflow, error)
	Cancel(id, reason string) bool
	Wait(ctx context.Context, id string) (*models.Workflow, error)
}
