package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
	"github.com/rs/zerolog/log"
)

const generalSystemPrompt = `You are FarmXpert, an agricultural advisor for smallholder farmers.
Answer the farmer's question in 3 to 5 short, practical sentences.
Use the farm details provided. If you are unsure, say what local data would help.
Do not invent pesticide doses or chemical quantities.`

// GeneralConfidence is the fixed confidence of a language-model answer.
const GeneralConfidence = 0.5

// fallbackConfidence is used for the canned answer when no model is reachable.
const fallbackConfidence = 0.3

// GeneralAdapter is the always-available fallback. It answers with the
// language model when one is configured and a canned best-effort reply
// otherwise. It never blocks and never fails.
type GeneralAdapter struct {
	completer contracts.Completer
}

// NewGeneralAdapter creates the fallback adapter. completer may be nil.
func NewGeneralAdapter(completer contracts.Completer) *GeneralAdapter {
	return &GeneralAdapter{completer: completer}
}

func (g *GeneralAdapter) Name() string { return GeneralAdapterName }

func (g *GeneralAdapter) Describe() models.AdapterInfo {
	return models.AdapterInfo{
		Name:        GeneralAdapterName,
		Description: "General farming conversation and best-effort answers when no specialist matches",
		Concerns:    []string{"general"},
	}
}

func (g *GeneralAdapter) Invoke(ctx context.Context, input *models.AdapterInput) (*models.AgentOutput, error) {
	if input == nil {
		input = &models.AdapterInput{}
	}
	if g.completer != nil {
		answer, err := g.completer.Complete(ctx, generalSystemPrompt, buildGeneralPrompt(input))
		if err == nil && strings.TrimSpace(answer) != "" {
			return &models.AgentOutput{
				Status:          models.OutputOK,
				Confidence:      DeriveConfidence(GeneralConfidence, models.ProvenanceGeneric),
				Recommendations: []string{strings.TrimSpace(answer)},
				Warnings:        []string{},
				Blockers:        []string{},
				Provenance:      models.ProvenanceGeneric,
				Concerns:        []string{"general"},
			}, nil
		}
		if err != nil {
			log.Warn().Err(err).Str("session_id", input.SessionID).Msg("General adapter falling back to canned answer")
		}
	}
	return cannedAnswer(input), nil
}

func buildGeneralPrompt(input *models.AdapterInput) string {
	var b strings.Builder
	b.WriteString("Farm details:\n")
	b.WriteString(describeFarm(input.Farm))
	if len(input.History) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range input.History {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", input.Query)
	return b.String()
}

func describeFarm(f models.FarmContext) string {
	var parts []string
	if f.Location != "" {
		parts = append(parts, "location "+f.Location)
	}
	if f.LandSize > 0 {
		unit := f.LandUnit
		if unit == "" {
			unit = "acres"
		}
		parts = append(parts, fmt.Sprintf("%.1f %s", f.LandSize, unit))
	}
	if f.Season != "" {
		parts = append(parts, f.Season+" season")
	}
	if f.Crop != "" {
		parts = append(parts, "growing "+f.Crop)
	}
	if len(parts) == 0 {
		return "not provided\n"
	}
	return strings.Join(parts, ", ") + "\n"
}

func cannedAnswer(input *models.AdapterInput) *models.AgentOutput {
	recs := []string{
		"Share your crop, location and season so the specialist advisors can give field-specific guidance.",
	}
	if input.Farm.Crop != "" {
		recs = append(recs, fmt.Sprintf("Keep a weekly log of %s growth, rainfall and inputs applied.", input.Farm.Crop))
	} else {
		recs = append(recs, "Keep a weekly log of crop growth, rainfall and inputs applied.")
	}
	return &models.AgentOutput{
		Status:          models.OutputOK,
		Confidence:      fallbackConfidence,
		Recommendations: recs,
		Warnings:        []string{},
		Blockers:        []string{},
		Provenance:      models.ProvenanceGeneric,
		Concerns:        []string{"general"},
		Summary:         "General guidance; no specialist advisor matched this question.",
	}
}
