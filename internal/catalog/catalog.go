// Package catalog holds the descriptors of the FarmXpert advisory services.
//
// Each descriptor carries the routing keywords, the concern tags used by the
// aggregator's conflict policy and the upstream services whose output the
// service consumes. The router reads these; Build turns the configured
// endpoint list into HTTP adapters that carry the matching descriptor.
package catalog

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/farmxpert/farmxpert/orchestrator/internal/adapters"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
	"github.com/rs/zerolog/log"
)

// Service names.
const (
	WeatherWatcher        = "weather_watcher"
	GrowthStageMonitor    = "growth_stage_monitor"
	SoilHealth            = "soil_health"
	FertilizerAdvisor     = "fertilizer_advisor"
	IrrigationPlanner     = "irrigation_planner"
	PestDiseaseDiagnostic = "pest_disease_diagnostic"
	MarketIntelligence    = "market_intelligence"
	TaskScheduler         = "task_scheduler"
	CropSelector          = "crop_selector"
	SeedSelection         = "seed_selection"
	YieldPredictor        = "yield_predictor"
	CropInsuranceRisk     = "crop_insurance_risk"
)

// builtin is ordered: the router prefers earlier entries when it has to
// trim a keyword match down to the adapter cap.
var builtin = []models.AdapterInfo{
	{
		Name:        WeatherWatcher,
		Description: "Forecasts and weather alerts for the farm location",
		Keywords:    []string{"weather", "rain", "rainfall", "temperature", "forecast", "humidity", "cold", "wind", "storm", "drought", "frost", "monsoon"},
		Concerns:    []string{"weather"},
	},
	{
		Name:        GrowthStageMonitor,
		Description: "Detects the crop's growth stage and stage-specific care",
		Keywords:    []string{"growth", "stage", "crop health", "seedling", "flowering", "vegetative", "maturity"},
		Concerns:    []string{"growth"},
	},
	{
		Name:        SoilHealth,
		Description: "Soil test interpretation, pH and fertility assessment",
		Keywords:    []string{"soil", "soil health", "soil test", "soil ph", "ph", "organic matter", "salinity", "soil fertility"},
		Concerns:    []string{"soil", "fertilizer"},
	},
	{
		Name:        FertilizerAdvisor,
		Description: "Fertilizer type, dose and timing",
		Keywords:    []string{"fertilizer", "fertiliser", "fertilize", "nutrient", "nitrogen", "phosphorus", "potassium", "npk", "urea", "dap", "mop", "compost", "manure"},
		Concerns:    []string{"fertilizer"},
		Requires:    []string{SoilHealth},
	},
	{
		Name:        IrrigationPlanner,
		Description: "Irrigation schedule and water requirement",
		Keywords:    []string{"irrigation", "irrigate", "watering", "water", "sprinkler", "drip", "canal", "pump"},
		Concerns:    []string{"irrigation"},
		Requires:    []string{WeatherWatcher},
	},
	{
		Name:        PestDiseaseDiagnostic,
		Description: "Pest and disease identification with treatment options",
		Keywords:    []string{"pest", "pests", "disease", "insect", "fungus", "fungal", "blight", "aphid", "aphids", "spray", "pesticide", "leaf spot", "wilt"},
		Concerns:    []string{"pest", "spraying"},
	},
	{
		Name:        MarketIntelligence,
		Description: "Mandi prices, demand and selling advice",
		Keywords:    []string{"market", "price", "prices", "sell", "mandi", "apmc", "commodity", "profit", "revenue", "income"},
		Concerns:    []string{"market"},
	},
	{
		Name:        TaskScheduler,
		Description: "Daily and weekly farm task plans",
		Keywords:    []string{"task", "tasks", "schedule", "today", "tomorrow", "weekly", "daily", "reminder", "to do"},
		Concerns:    []string{"schedule"},
		Requires:    []string{GrowthStageMonitor},
	},
	{
		Name:        CropSelector,
		Description: "Which crop to grow for the season, land and location",
		Keywords:    []string{"which crop", "what crop", "crop selection", "crop choice", "what to grow", "what should i grow", "best crop"},
		Concerns:    []string{"crop_choice"},
	},
	{
		Name:        SeedSelection,
		Description: "Seed variety and seed rate recommendations",
		Keywords:    []string{"seed", "seeds", "variety", "varieties", "hybrid", "seed rate"},
		Concerns:    []string{"seed"},
		Requires:    []string{CropSelector},
	},
	{
		Name:        YieldPredictor,
		Description: "Expected yield estimates for the farm",
		Keywords:    []string{"yield", "production", "output per acre", "harvest estimate"},
		Concerns:    []string{"yield"},
	},
	{
		Name:        CropInsuranceRisk,
		Description: "Crop insurance options and risk assessment",
		Keywords:    []string{"insurance", "pmfby", "risk", "claim", "compensation"},
		Concerns:    []string{"insurance"},
	},
}

var byName = func() map[string]int {
	m := make(map[string]int, len(builtin))
	for i, info := range builtin {
		m[info.Name] = i
	}
	return m
}()

// Descriptors returns copies of all built-in descriptors in catalog order.
func Descriptors() []models.AdapterInfo {
	out := make([]models.AdapterInfo, len(builtin))
	for i, info := range builtin {
		out[i] = clone(info)
	}
	return out
}

// Lookup returns the built-in descriptor for name.
func Lookup(name string) (models.AdapterInfo, bool) {
	i, ok := byName[name]
	if !ok {
		return models.AdapterInfo{}, false
	}
	return clone(builtin[i]), true
}

// Build creates one HTTP adapter per configured endpoint. Known services get
// their catalog descriptor; unknown names get a bare descriptor keyed only
// on their own name. Adapters are returned in catalog order followed by
// unknown names sorted alphabetically.
func Build(endpoints map[string]string, client *http.Client) ([]contracts.Adapter, error) {
	names := make([]string, 0, len(endpoints))
	for name, url := range endpoints {
		if url == "" {
			return nil, fmt.Errorf("adapter %q: empty endpoint", name)
		}
		if name == adapters.GeneralAdapterName {
			return nil, fmt.Errorf("adapter name %q is reserved for the fallback adapter", name)
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, iKnown := byName[names[i]]
		rj, jKnown := byName[names[j]]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return names[i] < names[j]
		}
	})

	out := make([]contracts.Adapter, 0, len(names))
	for _, name := range names {
		info, ok := Lookup(name)
		if !ok {
			log.Warn().Str("adapter", name).Msg("Adapter not in catalog; registering without routing keywords")
			info = models.AdapterInfo{Name: name, Keywords: []string{name}}
		}
		out = append(out, adapters.NewHTTPAdapter(info, endpoints[name], client))
	}
	return out, nil
}

func clone(info models.AdapterInfo) models.AdapterInfo {
	info.Keywords = append([]string(nil), info.Keywords...)
	info.Concerns = append([]string(nil), info.Concerns...)
	info.Requires = append([]string(nil), info.Requires...)
	return info
}
