// Package router decides which advisory services answer a query.
//
// Routing is a pure function of the query text, the names of the adapters
// currently available and an optional selection hint. Rules are evaluated
// in order and the first that selects anything wins:
//
//  1. hint naming an available adapter, or a strategy alias ("weather",
//     "comprehensive", ...) expanding to a batch;
//  2. word-boundary keyword matching over adapter descriptors, in
//     registration order;
//  3. the "general" fallback adapter.
//
// Upstream services a selected adapter requires are added ahead of it and
// become dependency edges, turning the plan into a pipeline.
package router

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/farmxpert/farmxpert/orchestrator/internal/adapters"
	"github.com/farmxpert/farmxpert/orchestrator/internal/catalog"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// ErrNoRoute is returned when nothing matches and no general adapter is available.
var ErrNoRoute = errors.New("router: no adapter matches the query and no general fallback is registered")

// DefaultMaxAdapters caps how many adapters one plan may invoke.
const DefaultMaxAdapters = 5

// nonWord matches a keyword boundary in any script. RE2's \b is ASCII-only.
const nonWord = `[^\p{L}\p{M}\p{N}_]`

// DefaultAliases maps strategy names to adapter batches.
var DefaultAliases = map[string][]string{
	"weather":       {catalog.WeatherWatcher},
	"growth":        {catalog.GrowthStageMonitor},
	"irrigation":    {catalog.IrrigationPlanner},
	"fertilizer":    {catalog.FertilizerAdvisor},
	"soil":          {catalog.SoilHealth},
	"soil_health":   {catalog.SoilHealth},
	"pest":          {catalog.PestDiseaseDiagnostic},
	"market":        {catalog.MarketIntelligence},
	"schedule":      {catalog.TaskScheduler},
	"crop_planning": {catalog.CropSelector, catalog.SeedSelection, catalog.YieldPredictor},
	"comprehensive": {
		catalog.WeatherWatcher,
		catalog.GrowthStageMonitor,
		catalog.IrrigationPlanner,
		catalog.FertilizerAdvisor,
		catalog.SoilHealth,
	},
}

// Options configures a Router.
type Options struct {
	MaxAdapters int                 // 0 = DefaultMaxAdapters
	Aliases     map[string][]string // nil = DefaultAliases
}

// Router holds the compiled routing table.
type Router struct {
	infos       []models.AdapterInfo
	byName      map[string]models.AdapterInfo
	patterns    map[string][]*regexp.Regexp
	aliases     map[string][]string
	maxAdapters int
}

// New compiles keyword patterns for the given descriptors. Descriptor order
// is the keyword-match priority.
func New(infos []models.AdapterInfo, opts Options) *Router {
	r := &Router{
		infos:       make([]models.AdapterInfo, 0, len(infos)),
		byName:      make(map[string]models.AdapterInfo, len(infos)),
		patterns:    make(map[string][]*regexp.Regexp, len(infos)),
		aliases:     opts.Aliases,
		maxAdapters: opts.MaxAdapters,
	}
	if r.aliases == nil {
		r.aliases = DefaultAliases
	}
	if r.maxAdapters <= 0 {
		r.maxAdapters = DefaultMaxAdapters
	}
	for _, info := range infos {
		if _, dup := r.byName[info.Name]; dup {
			continue
		}
		r.infos = append(r.infos, info)
		r.byName[info.Name] = info
		for _, kw := range info.Keywords {
			kw = strings.TrimSpace(strings.ToLower(kw))
			if kw == "" {
				continue
			}
			r.patterns[info.Name] = append(r.patterns[info.Name],
				regexp.MustCompile(`(?:^|`+nonWord+`)`+regexp.QuoteMeta(kw)+`(?:$|`+nonWord+`)`))
		}
	}
	return r
}

// Route returns the plan for query. available lists the adapter names that
// may be used; hint is an optional adapter name or strategy alias.
func (r *Router) Route(query string, available []string, hint string) (models.RoutePlan, error) {
	avail := make(map[string]bool, len(available))
	for _, name := range available {
		avail[name] = true
	}

	selected, reason := r.fromHint(hint, avail)
	if len(selected) == 0 {
		selected, reason = r.fromKeywords(query, avail)
	}
	if len(selected) == 0 {
		if !avail[adapters.GeneralAdapterName] {
			return models.RoutePlan{}, ErrNoRoute
		}
		return models.RoutePlan{
			Mode:   models.RouteSingle,
			Steps:  []models.RouteStep{{Adapter: adapters.GeneralAdapterName}},
			Reason: "no specialist matched; general fallback",
		}, nil
	}

	steps := r.expand(selected, avail)
	return models.RoutePlan{Mode: modeOf(steps), Steps: steps, Reason: reason}, nil
}

func (r *Router) fromHint(hint string, avail map[string]bool) ([]string, string) {
	h := strings.TrimSpace(strings.ToLower(hint))
	if h == "" {
		return nil, ""
	}
	if avail[h] {
		return []string{h}, "explicit selection: " + h
	}
	key := strings.TrimSuffix(h, "_only")
	if key == "both" || key == "comprehensive_analysis" {
		key = "comprehensive"
	}
	members, ok := r.aliases[key]
	if !ok {
		return nil, ""
	}
	var out []string
	for _, name := range members {
		if avail[name] {
			out = append(out, name)
		}
	}
	return out, "strategy: " + key
}

func (r *Router) fromKeywords(query string, avail map[string]bool) ([]string, string) {
	q := strings.ToLower(query)
	var (
		out     []string
		matched []string
	)
	for _, info := range r.infos {
		if !avail[info.Name] || info.Name == adapters.GeneralAdapterName {
			continue
		}
		for _, re := range r.patterns[info.Name] {
			if re.MatchString(q) {
				out = append(out, info.Name)
				matched = append(matched, info.Name)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, ""
	}
	return out, "keywords matched: " + strings.Join(matched, ", ")
}

// expand adds required upstreams ahead of each selected adapter and caps the
// plan at maxAdapters. An adapter is only admitted together with all of its
// available upstreams; the first selection is always admitted.
func (r *Router) expand(selected []string, avail map[string]bool) []models.RouteStep {
	included := map[string]bool{}
	var order []string

	for i, name := range selected {
		closure := r.closure(name, avail, included)
		if i > 0 && len(order)+len(closure) > r.maxAdapters {
			continue
		}
		for _, n := range closure {
			included[n] = true
			order = append(order, n)
		}
	}

	steps := make([]models.RouteStep, 0, len(order))
	for _, name := range order {
		step := models.RouteStep{Adapter: name}
		for _, req := range r.byName[name].Requires {
			if included[req] {
				step.DependsOn = append(step.DependsOn, req)
			}
		}
		steps = append(steps, step)
	}
	return steps
}

// closure returns name and its transitive available upstreams that are not
// yet included, upstreams first.
func (r *Router) closure(name string, avail, included map[string]bool) []string {
	var out []string
	visiting := map[string]bool{}
	var visit func(n string)
	visit = func(n string) {
		if included[n] || visiting[n] {
			return
		}
		visiting[n] = true
		for _, req := range r.byName[n].Requires {
			if avail[req] {
				visit(req)
			}
		}
		out = append(out, n)
	}
	visit(name)
	return out
}

func modeOf(steps []models.RouteStep) models.RouteMode {
	if len(steps) == 1 {
		return models.RouteSingle
	}
	for _, s := range steps {
		if len(s.DependsOn) > 0 {
			return models.RoutePipeline
		}
	}
	return models.RouteParallel
}

// Describe renders a plan for logs.
func Describe(p models.RoutePlan) string {
	parts := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		if len(s.DependsOn) > 0 {
			parts[i] = fmt.Sprintf("%s<-%s", s.Adapter, strings.Join(s.DependsOn, "+"))
		} else {
			parts[i] = s.Adapter
		}
	}
	return fmt.Sprintf("%s[%s]", p.Mode, strings.Join(parts, ", "))
}
