package orchestrator

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/farmxpert/farmxpert/orchestrator/internal/aggregator"
	"github.com/farmxpert/farmxpert/orchestrator/internal/delivery"
	"github.com/farmxpert/farmxpert/orchestrator/internal/notify"
	"github.com/farmxpert/farmxpert/orchestrator/internal/workflow"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

var _ contracts.WorkflowObserver = (*progress)(nil)

// progress folds one workflow's task results into its aggregator and
// publishes them on the stream opened by Ask. The engine calls it
// sequentially per workflow.
type progress struct {
	o         *Orchestrator
	sessionID string
	stream    *delivery.Stream
	agg       *aggregator.Aggregator
}

func newAggregator(plan models.RoutePlan) *aggregator.Aggregator {
	return aggregator.New(plan.Adapters())
}

func (p *progress) TaskStarted(wf *models.Workflow, task *models.Task) {
	log.Debug().
		Str("workflow_id", wf.ID).
		Str("adapter", task.Adapter).
		Msg("Adapter consulted")
}

func (p *progress) TaskFinished(wf *models.Workflow, task *models.Task) {
	if task.Status == models.TaskCompleted {
		p.agg.Add(task.Adapter, p.withConcerns(task.Adapter, task.Output))
	} else {
		p.agg.Fail(task.Adapter, task.Error)
	}
	if err := p.stream.Partial(p.agg.Snapshot(pending(wf))); err != nil {
		log.Debug().Err(err).Str("workflow_id", wf.ID).Msg("Partial not published")
	}
}

func (p *progress) WorkflowFinished(wf *models.Workflow) {
	ctx := context.Background()
	resp := p.agg.Snapshot(nil)
	if err := p.o.engine.SetResult(wf.ID, resp); err != nil {
		log.Warn().Err(err).Str("workflow_id", wf.ID).Msg("Failed to attach result")
	}

	if err := p.stream.Complete(resp); err != nil {
		log.Warn().Err(err).Str("workflow_id", wf.ID).Msg("Complete not published")
	}

	msg := models.Message{Role: models.RoleAssistant, Content: resp.Answer, WorkflowID: wf.ID}
	if wf.Canceled {
		msg.Role = models.RoleSystem
		msg.Content = "Request canceled before all advisory services answered.\n\n" + resp.Answer
	}
	if _, err := p.o.sessions.AppendMessage(ctx, p.sessionID, msg); err != nil {
		log.Warn().Err(err).Str("session_id", p.sessionID).Msg("Failed to record answer")
	}
	p.o.sessions.ClearActiveWorkflow(ctx, p.sessionID, wf.ID)

	outcome := workflow.Outcome(wf)
	p.o.notifier.Notify(notify.Event{
		Type:       notify.EventAnswerDelivered,
		SessionID:  p.sessionID,
		WorkflowID: wf.ID,
		Outcome:    outcome,
		Response:   resp,
	})

	log.Info().
		Str("session_id", p.sessionID).
		Str("workflow_id", wf.ID).
		Str("outcome", outcome).
		Int("recommendations", len(resp.Recommendations)).
		Int("blockers", len(resp.Blockers)).
		Strs("failed", resp.FailedAdapters).
		Msg("📬 Answer delivered")
}

// withConcerns falls back to the adapter's descriptor when the output
// carries no concern tags of its own.
func (p *progress) withConcerns(adapter string, out *models.AgentOutput) *models.AgentOutput {
	if out == nil || len(out.Concerns) > 0 {
		return out
	}
	a, err := p.o.registry.Get(adapter)
	if err != nil {
		return out
	}
	cp := *out
	cp.Concerns = a.Describe().Concerns
	return &cp
}

// pending lists adapters whose tasks are not yet terminal.
func pending(wf *models.Workflow) []string {
	var out []string
	for _, t := range wf.Tasks {
		if !t.Status.Terminal() {
			out = append(out, t.Adapter)
		}
	}
	return out
}
