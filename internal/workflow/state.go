package workflow

import (
	"fmt"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// allowedTransitions is the task state machine. Terminal states have no
// outgoing edges. pending→failed covers cancellation and failed upstreams.
var allowedTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskPending: {models.TaskRunning, models.TaskFailed},
	models.TaskRunning: {models.TaskCompleted, models.TaskFailed},
}

// IsAllowedTransition reports whether from → to is a legal task transition.
func IsAllowedTransition(from, to models.TaskStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves t to status `to`, refusing illegal moves.
func transition(t *models.Task, to models.TaskStatus) error {
	if !IsAllowedTransition(t.Status, to) {
		return fmt.Errorf("task %s (%s): illegal transition %s -> %s", t.ID, t.Adapter, t.Status, to)
	}
	t.Status = to
	return nil
}
