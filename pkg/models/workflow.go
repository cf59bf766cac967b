package models

import "time"

// ══════════════════════════════════════════════════════════════
// ── Workflows & Tasks ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status can never change again.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is one adapter invocation within a workflow.
type Task struct {
	ID         string        `json:"id"`
	WorkflowID string        `json:"workflow_id"`
	Adapter    string        `json:"adapter"`
	Order      int           `json:"order"` // invocation order within the workflow
	Status     TaskStatus    `json:"status"`
	Input      *AdapterInput `json:"input,omitempty"`
	Output     *AgentOutput  `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	DependsOn  []string      `json:"depends_on,omitempty"` // task IDs
	Attempts   int           `json:"attempts"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
}

// WorkflowStatus is derived from the statuses of a workflow's tasks.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
)

// Workflow is the execution unit for one query.
type Workflow struct {
	ID          string              `json:"id"`
	SessionID   string              `json:"session_id"`
	Query       string              `json:"query"`
	Mode        RouteMode           `json:"mode"`
	TaskIDs     []string            `json:"task_ids"`
	Tasks       []Task              `json:"tasks,omitempty"`
	Status      WorkflowStatus      `json:"status"`
	Canceled    bool                `json:"canceled,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Result      *AggregatedResponse `json:"result,omitempty"`
}

// DeriveStatus computes the aggregate status from task statuses:
// running while any task is pending or running, completed otherwise.
func DeriveStatus(tasks []Task) WorkflowStatus {
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return WorkflowRunning
		}
	}
	return WorkflowCompleted
}
