// Package moderation implements category-threshold evaluation against
// a dual-provider fallback, plus a single-attempt rewrite loop.
package moderation

import "github.com/lokutor-ai/stream-commentator/pkg/domain"

// standardThresholds is the baseline table every other safety level is
// derived from.
var standardThresholds = domain.ThresholdTable{
	domain.CategoryHate:       0.7,
	domain.CategoryHarassment: 0.7,
	domain.CategorySelfHarm:   0.8,
	domain.CategorySexual:     0.7,
	domain.CategoryViolence:   0.7,
	domain.CategoryIllegal:    0.8,
	domain.CategoryGraphic:    0.8,
}

// BuildThresholds derives the full category table for level, then
// layers any custom overrides on top.
func BuildThresholds(level domain.SafetyLevel, overrides domain.ThresholdTable) domain.ThresholdTable {
	table := make(domain.ThresholdTable, len(standardThresholds))
	for cat, base := range standardThresholds {
		table[cat] = adjust(base, level)
	}
	for cat, v := range overrides {
		table[cat] = v
	}
	return table
}

func adjust(base float64, level domain.SafetyLevel) float64 {
	switch level {
	case domain.SafetyStrict:
		v := base - 0.2
		if v < 0 {
			v = 0
		}
		return v
	case domain.SafetyRelaxed:
		v := base + 0.2
		if v > 0.9 {
			v = 0.9
		}
		return v
	default:
		return base
	}
}
