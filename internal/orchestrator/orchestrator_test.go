package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/internal/adapters"
	"github.com/farmxpert/farmxpert/orchestrator/internal/config"
	"github.com/farmxpert/farmxpert/orchestrator/internal/delivery"
	"github.com/farmxpert/farmxpert/orchestrator/internal/notify"
	"github.com/farmxpert/farmxpert/orchestrator/internal/orchestrator"
	"github.com/farmxpert/farmxpert/orchestrator/internal/router"
	"github.com/farmxpert/farmxpert/orchestrator/internal/sessions"
	"github.com/farmxpert/farmxpert/orchestrator/internal/workflow"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var farm = models.FarmContext{Location: "Nashik", LandSize: 4, LandUnit: "acres", Season: "rabi", Crop: "onion"}

func newOrchestrator(t *testing.T, policy config.BusyPolicy, list ...contracts.Adapter) *orchestrator.Orchestrator {
	t.Helper()
	reg := adapters.NewRegistry(list...)
	engine := workflow.NewEngine(reg, config.EngineConfig{
		TaskTimeout:    150 * time.Millisecond,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MaxParallel:    4,
		Overhead:       time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})
	return orchestrator.New(orchestrator.Deps{
		Sessions: sessions.NewMemorySessionStore(),
		Registry: reg,
		Router:   router.New(reg.Infos(), router.Options{}),
		Engine:   engine,
		Hub:      delivery.NewHub(nil),
	}, config.SessionConfig{BusyPolicy: policy, HistoryWindow: 10})
}

func fixed(name string, keywords, concerns []string, out models.AgentOutput) *adapters.Func {
	return adapters.NewFunc(
		models.AdapterInfo{Name: name, Keywords: keywords, Concerns: concerns},
		func(context.Context, *models.AdapterInput) (*models.AgentOutput, error) {
			cp := out
			return &cp, nil
		})
}

// gated blocks until release is closed or its context ends.
func gated(name string, keywords []string, release <-chan struct{}) *adapters.Func {
	return adapters.NewFunc(
		models.AdapterInfo{Name: name, Keywords: keywords},
		func(ctx context.Context, _ *models.AdapterInput) (*models.AgentOutput, error) {
			select {
			case <-release:
				return &models.AgentOutput{Status: models.OutputOK, Confidence: 0.7, Recommendations: []string{name + " answered"}}, nil
			case <-ctx.Done():
				return nil, adapters.Transient(name, ctx.Err())
			}
		})
}

func events(t *testing.T, s *delivery.Stream) []models.Event {
	t.Helper()
	sub, err := s.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []models.Event
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, delivery.ErrClosed) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func last(evs []models.Event) models.Event { return evs[len(evs)-1] }

func TestSingleAdapterAnswerIsStreamed(t *testing.T) {
	o := newOrchestrator(t, config.BusyCancel,
		fixed("fertilizer_advisor", []string{"urea", "fertilizer"}, []string{"fertilizer"}, models.AgentOutput{
			Status: models.OutputOK, Confidence: 0.85, Recommendations: []string{"Apply 20kg urea"}, Blockers: []string{},
		}),
		adapters.NewGeneralAdapter(nil),
	)

	res, err := o.Ask(context.Background(), orchestrator.AskRequest{Farm: farm, Query: "How much urea should I apply?"})
	require.NoError(t, err)
	assert.True(t, res.SessionCreated)
	require.NotEmpty(t, res.WorkflowID)
	assert.Equal(t, models.RouteSingle, res.Plan.Mode)

	evs := events(t, res.Stream)
	require.Len(t, evs, 2)
	assert.Equal(t, models.EventPartial, evs[0].Type)
	assert.Equal(t, models.EventComplete, evs[1].Type)
	assert.Contains(t, evs[1].Answer, "Apply 20kg urea")
	assert.Equal(t, []string{"fertilizer_advisor"}, evs[1].ContributingAdapters)

	wf, err := o.WaitWorkflow(context.Background(), res.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, wf.Result)
	assert.Equal(t, evs[1].Answer, wf.Result.Answer)

	require.Eventually(t, func() bool {
		msgs, _ := o.History(context.Background(), res.SessionID, 0)
		return len(msgs) == 2
	}, time.Second, 5*time.Millisecond)
	msgs, _ := o.History(context.Background(), res.SessionID, 0)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, res.WorkflowID, msgs[1].WorkflowID)

	sess, err := o.Session(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Empty(t, sess.ActiveWorkflowID)
	assert.Equal(t, farm, sess.Farm)
}

func TestBlockedOutputOverridesConflictingAdvice(t *testing.T) {
	o := newOrchestrator(t, config.BusyCancel,
		fixed("soil_health", []string{"soil"}, []string{"soil", "fertilizer"}, models.AgentOutput{
			Status:   models.OutputBlocked,
			Blockers: []string{"soil moisture too high for fertilizer application"},
		}),
		fixed("fertilizer_advisor", []string{"fertilizer"}, []string{"fertilizer"}, models.AgentOutput{
			Status: models.OutputOK, Confidence: 0.9, Recommendations: []string{"Apply 50kg DAP this week"},
		}),
	)

	res, err := o.Ask(context.Background(), orchestrator.AskRequest{Farm: farm, Query: "check my soil and fertilizer plan"})
	require.NoError(t, err)
	assert.Equal(t, models.RouteParallel, res.Plan.Mode)

	final := last(events(t, res.Stream))
	assert.Equal(t, models.EventComplete, final.Type)
	assert.Contains(t, final.Blockers, "soil moisture too high for fertilizer application")
	assert.NotContains(t, final.Answer, "Apply 50kg DAP this week")
	require.NotNil(t, final.Response)
	require.Len(t, final.Response.Withheld, 1)
}

func TestUnreachableAdapterIsNamed(t *testing.T) {
	never := make(chan struct{})
	o := newOrchestrator(t, config.BusyCancel,
		fixed("weather_watcher", []string{"weather"}, nil, models.AgentOutput{
			Status: models.OutputOK, Confidence: 0.8, Recommendations: []string{"Rain expected Thursday"},
		}),
		gated("market_intelligence", []string{"market"}, never),
		fixed("soil_health", []string{"soil"}, nil, models.AgentOutput{
			Status: models.OutputOK, Confidence: 0.7, Recommendations: []string{"Add lime before sowing"},
		}),
	)

	res, err := o.Ask(context.Background(), orchestrator.AskRequest{Farm: farm, Query: "weather, market and soil outlook"})
	require.NoError(t, err)
	require.Len(t, res.Plan.Steps, 3)

	evs := events(t, res.Stream)
	final := last(evs)
	assert.Equal(t, models.EventComplete, final.Type)
	assert.ElementsMatch(t, []string{"weather_watcher", "soil_health"}, final.ContributingAdapters)
	assert.Equal(t, []string{"market_intelligence"}, final.Response.FailedAdapters)
	assert.Contains(t, final.Answer, "could not be reached: market_intelligence")
	assert.Contains(t, final.Answer, "Rain expected Thursday")

	// partials only ever grow
	for i := 1; i < len(evs); i++ {
		assert.Subset(t, evs[i].ContributingAdapters, evs[i-1].ContributingAdapters)
	}

	wf, err := o.WaitWorkflow(context.Background(), res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCompleted, wf.Status)
}

func TestNoRouteWithoutGeneralFallback(t *testing.T) {
	o := newOrchestrator(t, config.BusyCancel,
		fixed("weather_watcher", []string{"weather"}, nil, models.AgentOutput{Status: models.OutputOK}),
	)

	res, err := o.Ask(context.Background(), orchestrator.AskRequest{Query: "tell me a joke"})
	require.NoError(t, err)
	assert.Empty(t, res.WorkflowID)
	assert.NotEmpty(t, res.Rejection)

	evs := events(t, res.Stream)
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventError, evs[0].Type)
	assert.Equal(t, res.SessionID, evs[0].SessionID)

	msgs, err := o.History(context.Background(), res.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleSystem, msgs[1].Role)

	sess, _ := o.Session(context.Background(), res.SessionID)
	assert.Empty(t, sess.ActiveWorkflowID)
}

func TestGeneralFallbackAnswers(t *testing.T) {
	o := newOrchestrator(t, config.BusyCancel,
		fixed("weather_watcher", []string{"weather"}, nil, models.AgentOutput{Status: models.OutputOK}),
		adapters.NewGeneralAdapter(nil),
	)
	res, err := o.Ask(context.Background(), orchestrator.AskRequest{Query: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, []string{adapters.GeneralAdapterName}, res.Plan.Adapters())

	final := last(events(t, res.Stream))
	assert.Equal(t, models.EventComplete, final.Type)
	assert.Equal(t, []string{adapters.GeneralAdapterName}, final.ContributingAdapters)
	assert.NotEmpty(t, final.Answer)
}

func TestGuardrailRejectionCreatesNoWorkflow(t *testing.T) {
	o := newOrchestrator(t, config.BusyCancel, adapters.NewGeneralAdapter(nil))
	res, err := o.Ask(context.Background(), orchestrator.AskRequest{Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, res.WorkflowID)

	evs := events(t, res.Stream)
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventError, evs[0].Type)
}

func TestUnknownSession(t *testing.T) {
	o := newOrchestrator(t, config.BusyCancel, adapters.NewGeneralAdapter(nil))
	_, err := o.Ask(context.Background(), orchestrator.AskRequest{SessionID: "made-up", Query: "hi"})
	assert.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestBusyCancelSupersedesRunningWorkflow(t *testing.T) {
	never := make(chan struct{})
	o := newOrchestrator(t, config.BusyCancel,
		gated("market_intelligence", []string{"market"}, never),
		fixed("fertilizer_advisor", []string{"urea"}, nil, models.AgentOutput{Status: models.OutputOK, Recommendations: []string{"Apply 20kg urea"}}),
	)
	ctx := context.Background()

	first, err := o.Ask(ctx, orchestrator.AskRequest{Query: "market prices?"})
	require.NoError(t, err)
	second, err := o.Ask(ctx, orchestrator.AskRequest{SessionID: first.SessionID, Query: "urea dose?"})
	require.NoError(t, err)

	wf1, err := o.WaitWorkflow(ctx, first.WorkflowID)
	require.NoError(t, err)
	assert.True(t, wf1.Canceled)
	assert.Equal(t, "canceled: "+orchestrator.ReasonSuperseded, wf1.Tasks[0].Error)

	final := last(events(t, second.Stream))
	assert.Contains(t, final.Answer, "Apply 20kg urea")
}

func TestBusyRejectRefusesSecondQuery(t *testing.T) {
	release := make(chan struct{})
	o := newOrchestrator(t, config.BusyReject, gated("market_intelligence", []string{"market"}, release))
	ctx := context.Background()

	first, err := o.Ask(ctx, orchestrator.AskRequest{Query: "market prices?"})
	require.NoError(t, err)
	_, err = o.Ask(ctx, orchestrator.AskRequest{SessionID: first.SessionID, Query: "market again"})
	assert.ErrorIs(t, err, orchestrator.ErrSessionBusy)

	close(release)
	_, err = o.WaitWorkflow(ctx, first.WorkflowID)
	require.NoError(t, err)
}

func TestBusyQueueWaitsForRunningWorkflow(t *testing.T) {
	release := make(chan struct{})
	o := newOrchestrator(t, config.BusyQueue,
		gated("market_intelligence", []string{"market"}, release),
		fixed("fertilizer_advisor", []string{"urea"}, nil, models.AgentOutput{Status: models.OutputOK, Recommendations: []string{"Apply 20kg urea"}}),
	)
	ctx := context.Background()

	first, err := o.Ask(ctx, orchestrator.AskRequest{Query: "market prices?"})
	require.NoError(t, err)

	admitted := make(chan *orchestrator.AskResult, 1)
	go func() {
		res, _ := o.Ask(ctx, orchestrator.AskRequest{SessionID: first.SessionID, Query: "urea dose?"})
		admitted <- res
	}()

	select {
	case <-admitted:
		t.Fatal("second query admitted while the first was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	var second *orchestrator.AskResult
	select {
	case second = <-admitted:
	case <-time.After(2 * time.Second):
		t.Fatal("queued query never admitted")
	}
	require.NotNil(t, second)

	wf1, err := o.Workflow(first.WorkflowID)
	require.NoError(t, err)
	assert.False(t, wf1.Canceled)
	_, err = o.WaitWorkflow(ctx, second.WorkflowID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, _ := o.History(ctx, first.SessionID, 0)
		return len(msgs) == 4
	}, time.Second, 5*time.Millisecond)
	msgs, _ := o.History(ctx, first.SessionID, 0)
	roles := []models.Role{msgs[0].Role, msgs[1].Role, msgs[2].Role, msgs[3].Role}
	assert.Equal(t, []models.Role{models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant}, roles)
}

func TestBusyConcurrentRunsBoth(t *testing.T) {
	release := make(chan struct{})
	o := newOrchestrator(t, config.BusyConcurrent,
		gated("market_intelligence", []string{"market"}, release),
		fixed("fertilizer_advisor", []string{"urea"}, nil, models.AgentOutput{Status: models.OutputOK, Recommendations: []string{"x"}}),
	)
	ctx := context.Background()

	first, err := o.Ask(ctx, orchestrator.AskRequest{Query: "market prices?"})
	require.NoError(t, err)
	second, err := o.Ask(ctx, orchestrator.AskRequest{SessionID: first.SessionID, Query: "urea dose?"})
	require.NoError(t, err)

	wf2, err := o.WaitWorkflow(ctx, second.WorkflowID)
	require.NoError(t, err)
	assert.False(t, wf2.Canceled)

	wf1, err := o.Workflow(first.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRunning, wf1.Status)

	close(release)
	wf1, err = o.WaitWorkflow(ctx, first.WorkflowID)
	require.NoError(t, err)
	assert.False(t, wf1.Canceled)
}

func TestCancelSession(t *testing.T) {
	never := make(chan struct{})
	o := newOrchestrator(t, config.BusyCancel, gated("market_intelligence", []string{"market"}, never))
	ctx := context.Background()

	res, err := o.Ask(ctx, orchestrator.AskRequest{Query: "market prices?"})
	require.NoError(t, err)

	id, err := o.CancelSession(ctx, res.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, res.WorkflowID, id)

	final := last(events(t, res.Stream))
	assert.Equal(t, models.EventComplete, final.Type)
	wf, _ := o.WaitWorkflow(ctx, res.WorkflowID)
	assert.True(t, wf.Canceled)
	assert.Equal(t, "canceled: canceled by client", wf.Tasks[0].Error)
}

func TestDeleteSession(t *testing.T) {
	o := newOrchestrator(t, config.BusyCancel, adapters.NewGeneralAdapter(nil))
	ctx := context.Background()
	res, err := o.Ask(ctx, orchestrator.AskRequest{Query: "hello"})
	require.NoError(t, err)
	_, err = o.WaitWorkflow(ctx, res.WorkflowID)
	require.NoError(t, err)

	require.NoError(t, o.DeleteSession(ctx, res.SessionID))
	_, err = o.Session(ctx, res.SessionID)
	assert.ErrorIs(t, err, sessions.ErrNotFound)
	_, ok := o.Stream(res.SessionID)
	assert.False(t, ok)
}

func TestDeleteSessionWhileRunningLeavesNoStream(t *testing.T) {
	never := make(chan struct{})
	o := newOrchestrator(t, config.BusyCancel, gated("market_intelligence", []string{"market"}, never))
	ctx := context.Background()
	res, err := o.Ask(ctx, orchestrator.AskRequest{Query: "market prices?"})
	require.NoError(t, err)

	require.NoError(t, o.DeleteSession(ctx, res.SessionID))
	wf, err := o.WaitWorkflow(ctx, res.WorkflowID)
	require.NoError(t, err)
	assert.True(t, wf.Canceled)

	_, ok := o.Stream(res.SessionID)
	assert.False(t, ok)
	_, ok = o.StreamByID(res.WorkflowID)
	assert.False(t, ok)
	assert.Equal(t, models.EventComplete, last(events(t, res.Stream)).Type)
}

func TestBlockerUsesDescriptorConcerns(t *testing.T) {
	o := newOrchestrator(t, config.BusyCancel,
		fixed("pest_disease_diagnostic", []string{"pest"}, []string{"pesticide"}, models.AgentOutput{
			Status: models.OutputBlocked, Blockers: []string{"chlorpyrifos is not approved for onion"},
		}),
		fixed("market_intelligence", []string{"market"}, []string{"market"}, models.AgentOutput{
			Status: models.OutputOK, Confidence: 0.7, Recommendations: []string{"Hold stock until prices recover"},
		}),
	)
	res, err := o.Ask(context.Background(), orchestrator.AskRequest{Query: "pest spray and market timing"})
	require.NoError(t, err)

	final := last(events(t, res.Stream))
	assert.Equal(t, []string{"chlorpyrifos is not approved for onion"}, final.Blockers)
	assert.Contains(t, final.Answer, "Hold stock until prices recover")
	assert.Empty(t, final.Response.Withheld)
}

func TestWebhookNotifications(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []notify.Event
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev notify.Event
		if json.NewDecoder(r.Body).Decode(&ev) == nil {
			mu.Lock()
			seen = append(seen, ev)
			mu.Unlock()
		}
	}))
	defer hook.Close()

	reg := adapters.NewRegistry(adapters.NewGeneralAdapter(nil))
	engine := workflow.NewEngine(reg, config.EngineConfig{TaskTimeout: time.Second})
	notifier := notify.NewService([]notify.Channel{{URL: hook.URL}})
	o := orchestrator.New(orchestrator.Deps{
		Sessions: sessions.NewMemorySessionStore(),
		Registry: reg,
		Router:   router.New(reg.Infos(), router.Options{}),
		Engine:   engine,
		Hub:      delivery.NewHub(nil),
		Notifier: notifier,
	}, config.SessionConfig{})

	ctx := context.Background()
	res, err := o.Ask(ctx, orchestrator.AskRequest{Query: "hello there"})
	require.NoError(t, err)
	_, err = o.WaitWorkflow(ctx, res.WorkflowID)
	require.NoError(t, err)
	_, err = o.Ask(ctx, orchestrator.AskRequest{SessionID: res.SessionID, Query: "  "})
	require.NoError(t, err)

	require.NoError(t, notifier.Close(ctx))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	byType := map[string]notify.Event{}
	for _, ev := range seen {
		byType[ev.Type] = ev
	}
	delivered := byType[notify.EventAnswerDelivered]
	assert.Equal(t, res.WorkflowID, delivered.WorkflowID)
	assert.Equal(t, workflow.OutcomeOK, delivered.Outcome)
	require.NotNil(t, delivered.Response)
	assert.True(t, delivered.Response.Complete)
	assert.NotEmpty(t, byType[notify.EventQueryRejected].Error)
}
