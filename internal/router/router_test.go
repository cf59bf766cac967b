package router_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/farmxpert/farmxpert/orchestrator/internal/adapters"
	"github.com/farmxpert/farmxpert/orchestrator/internal/catalog"
	"github.com/farmxpert/farmxpert/orchestrator/internal/router"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

func newTestRouter(t *testing.T) (*router.Router, []string) {
	t.Helper()
	infos := catalog.Descriptors()
	names := make([]string, 0, len(infos)+1)
	for _, i := range infos {
		names = append(names, i.Name)
	}
	names = append(names, adapters.GeneralAdapterName)
	return router.New(infos, router.Options{}), names
}

func TestKeywordRoutingSingle(t *testing.T) {
	r, avail := newTestRouter(t)

	plan, err := r.Route("What are mandi prices for onion this week?", avail, "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if plan.Mode != models.RouteSingle {
		t.Errorf("Mode = %s, want single", plan.Mode)
	}
	if got := plan.Adapters(); !reflect.DeepEqual(got, []string{catalog.MarketIntelligence}) {
		t.Errorf("Adapters() = %v", got)
	}
}

func TestKeywordsUseWordBoundaries(t *testing.T) {
	r, avail := newTestRouter(t)

	// "rainbow" must not match "rain", "storming" must not match "storm"
	plan, err := r.Route("tell me about rainbow storming", avail, "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if got := plan.Adapters(); !reflect.DeepEqual(got, []string{adapters.GeneralAdapterName}) {
		t.Errorf("Adapters() = %v, want general fallback", got)
	}
}

func TestKeywordBoundariesOutsideASCII(t *testing.T) {
	infos := []models.AdapterInfo{
		{Name: "crop_selector", Keywords: []string{"गेहूं"}},
		{Name: "weather_watcher", Keywords: []string{"बारिश"}},
	}
	avail := []string{"crop_selector", "weather_watcher", adapters.GeneralAdapterName}
	r := router.New(infos, router.Options{})

	plan, err := r.Route("क्या मुझे गेहूं बोना चाहिए?", avail, "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if got := plan.Adapters(); !reflect.DeepEqual(got, []string{"crop_selector"}) {
		t.Errorf("Adapters() = %v, want [crop_selector]", got)
	}

	// a keyword inside a longer word does not match
	plan, err = r.Route("बारिशें", avail, "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if got := plan.Adapters(); !reflect.DeepEqual(got, []string{adapters.GeneralAdapterName}) {
		t.Errorf("Adapters() = %v, want general fallback", got)
	}
}

func TestRequiredUpstreamBecomesPipeline(t *testing.T) {
	r, avail := newTestRouter(t)

	plan, err := r.Route("how much urea should I apply?", avail, "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if plan.Mode != models.RoutePipeline {
		t.Errorf("Mode = %s, want pipeline", plan.Mode)
	}
	want := []models.RouteStep{
		{Adapter: catalog.SoilHealth},
		{Adapter: catalog.FertilizerAdvisor, DependsOn: []string{catalog.SoilHealth}},
	}
	if !reflect.DeepEqual(plan.Steps, want) {
		t.Errorf("Steps = %+v, want %+v", plan.Steps, want)
	}
}

func TestUnavailableUpstreamIsDropped(t *testing.T) {
	r, _ := newTestRouter(t)

	plan, err := r.Route("apply urea?", []string{catalog.FertilizerAdvisor, adapters.GeneralAdapterName}, "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if plan.Mode != models.RouteSingle || len(plan.Steps[0].DependsOn) != 0 {
		t.Errorf("plan = %+v, want single fertilizer_advisor without edges", plan)
	}
}

func TestParallelBatch(t *testing.T) {
	r, avail := newTestRouter(t)

	plan, err := r.Route("Will rain affect market price?", avail, "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if plan.Mode != models.RouteParallel {
		t.Errorf("Mode = %s, want parallel", plan.Mode)
	}
	if got := plan.Adapters(); !reflect.DeepEqual(got, []string{catalog.WeatherWatcher, catalog.MarketIntelligence}) {
		t.Errorf("Adapters() = %v", got)
	}
}

func TestHintSelectsAdapter(t *testing.T) {
	r, avail := newTestRouter(t)

	plan, err := r.Route("anything at all", avail, "Task_Scheduler")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	want := []string{catalog.GrowthStageMonitor, catalog.TaskScheduler}
	if got := plan.Adapters(); !reflect.DeepEqual(got, want) {
		t.Errorf("Adapters() = %v, want %v", got, want)
	}
	if plan.Mode != models.RoutePipeline {
		t.Errorf("Mode = %s, want pipeline", plan.Mode)
	}
}

func TestStrategyAlias(t *testing.T) {
	r, avail := newTestRouter(t)

	plan, err := r.Route("how is my farm doing", avail, "comprehensive_analysis")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	got := plan.Adapters()
	if len(got) != 5 {
		t.Fatalf("Adapters() = %v, want 5 adapters", got)
	}
	// soil_health is required by fertilizer_advisor and must come first
	idx := map[string]int{}
	for i, n := range got {
		idx[n] = i
	}
	if idx[catalog.SoilHealth] > idx[catalog.FertilizerAdvisor] {
		t.Errorf("soil_health after fertilizer_advisor: %v", got)
	}
	if idx[catalog.WeatherWatcher] > idx[catalog.IrrigationPlanner] {
		t.Errorf("weather_watcher after irrigation_planner: %v", got)
	}

	single, _ := r.Route("x", avail, "weather_only")
	if !reflect.DeepEqual(single.Adapters(), []string{catalog.WeatherWatcher}) {
		t.Errorf("weather_only = %v", single.Adapters())
	}
}

func TestUnknownHintFallsThroughToKeywords(t *testing.T) {
	r, avail := newTestRouter(t)

	plan, _ := r.Route("aphids on my chilli", avail, "no-such-thing")
	if !reflect.DeepEqual(plan.Adapters(), []string{catalog.PestDiseaseDiagnostic}) {
		t.Errorf("Adapters() = %v", plan.Adapters())
	}
}

func TestCapKeepsRequiredUpstreams(t *testing.T) {
	r := router.New(catalog.Descriptors(), router.Options{MaxAdapters: 3})
	avail := []string{}
	for _, i := range catalog.Descriptors() {
		avail = append(avail, i.Name)
	}

	// matches weather, soil, fertilizer (needs soil), irrigation (needs weather), market
	plan, err := r.Route("weather soil urea irrigation market", avail, "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(plan.Steps) > 3 {
		t.Fatalf("plan has %d steps, cap is 3: %v", len(plan.Steps), plan.Adapters())
	}
	in := map[string]bool{}
	for _, s := range plan.Steps {
		in[s.Adapter] = true
	}
	for _, s := range plan.Steps {
		for _, dep := range s.DependsOn {
			if !in[dep] {
				t.Errorf("%s depends on %s which was trimmed", s.Adapter, dep)
			}
		}
	}
}

func TestNoRouteWithoutGeneral(t *testing.T) {
	r, _ := newTestRouter(t)

	_, err := r.Route("tell me a joke", []string{catalog.WeatherWatcher}, "")
	if !errors.Is(err, router.ErrNoRoute) {
		t.Fatalf("Route() error = %v, want ErrNoRoute", err)
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	r, avail := newTestRouter(t)
	a, _ := r.Route("rain forecast and pest check and sell price", avail, "")
	b, _ := r.Route("rain forecast and pest check and sell price", avail, "")
	if !reflect.DeepEqual(a, b) {
		t.Errorf("plans differ: %+v vs %+v", a, b)
	}
}

func TestDescribe(t *testing.T) {
	got := router.Describe(models.RoutePlan{
		Mode: models.RoutePipeline,
		Steps: []models.RouteStep{
			{Adapter: "soil_health"},
			{Adapter: "fertilizer_advisor", DependsOn: []string{"soil_health"}},
		},
	})
	if got != "pipeline[soil_health, fertilizer_advisor<-soil_health]" {
		t.Errorf("Describe() = %q", got)
	}
}
