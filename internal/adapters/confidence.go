package adapters

import "github.com/farmxpert/farmxpert/orchestrator/pkg/models"

// DefaultBaseConfidence is used when a service reports no confidence.
const DefaultBaseConfidence = 0.9

// Fixed deductions per provenance: exact ≥ category ≥ generic.
var provenanceDeduction = map[models.Provenance]float64{
	models.ProvenanceExact:    0,
	models.ProvenanceCategory: 0.15,
	models.ProvenanceGeneric:  0.35,
}

// Deduction returns the fixed confidence deduction for a provenance.
// Unknown provenance is treated as generic.
func Deduction(p models.Provenance) float64 {
	if d, ok := provenanceDeduction[p]; ok {
		return d
	}
	return provenanceDeduction[models.ProvenanceGeneric]
}

// DefaultConfidence is the confidence of an output whose service reported
// none: DefaultBaseConfidence minus the provenance deduction.
func DefaultConfidence(p models.Provenance) float64 {
	return clamp01(DefaultBaseConfidence - Deduction(p))
}

// DeriveConfidence caps a reported confidence at 1 minus the provenance
// deduction. A reported zero stays zero.
func DeriveConfidence(base float64, p models.Provenance) float64 {
	if ceiling := 1 - Deduction(p); base > ceiling {
		return ceiling
	}
	return clamp01(base)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
