package adapters

import (
	"fmt"
	"strings"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// Normalize validates and cleans an adapter output in place and returns it.
// An output with status "error" (or no output at all) becomes a permanent
// adapter error. An output with blockers is blocked, and a blocked output
// always carries at least one blocker.
func Normalize(adapter string, out *models.AgentOutput) (*models.AgentOutput, error) {
	if out == nil {
		return nil, Permanent(adapter, fmt.Errorf("empty output"))
	}

	switch out.Status {
	case models.OutputOK, models.OutputBlocked:
	case "":
		out.Status = models.OutputOK
	case models.OutputError:
		detail := firstNonEmpty(out.Summary, strings.Join(out.Warnings, "; "), "service reported an error")
		return nil, Permanent(adapter, fmt.Errorf("%s", detail))
	default:
		return nil, Permanent(adapter, fmt.Errorf("unknown output status %q", out.Status))
	}

	switch out.Provenance {
	case models.ProvenanceExact, models.ProvenanceCategory, models.ProvenanceGeneric:
	default:
		out.Provenance = models.ProvenanceGeneric
	}

	out.Confidence = clamp01(out.Confidence)
	out.Recommendations = dedupe(out.Recommendations)
	out.Warnings = dedupe(out.Warnings)
	out.Blockers = dedupe(out.Blockers)
	out.Concerns = dedupe(out.Concerns)

	if len(out.Blockers) > 0 {
		out.Status = models.OutputBlocked
	}
	if out.Status == models.OutputBlocked && len(out.Blockers) == 0 {
		out.Blockers = []string{adapter + " blocked this action"}
	}
	return out, nil
}

// dedupe drops empty and repeated entries, keeping first-seen order.
// Entries are compared after trimming but kept verbatim.
func dedupe(items []string) []string {
	if len(items) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.TrimSpace(item)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
