package model

import "time"

// ExperimentResult holds real laboratory measurements submitted as feedback
// for a recommendation.
type ExperimentResult struct {
	IsLiquidFormed bool           `json:"is_liquid_formed"`
	Solubility     *float64       `json:"solubility"`
	SolubilityUnit string         `json:"solubility_unit,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`
	Experimenter   string         `json:"experimenter,omitempty"`
	ExperimentDate *time.Time     `json:"experiment_date,omitempty"`
	Notes          string         `json:"notes,omitempty"`
}

// Performance score shape: a failed synthesis scores 0. A formed liquid
// starts at the base score and approaches 10 as solubility grows, with the
// half-gain point at solubilityHalfGain.
const (
	performanceScoreMax = 10.0
	performanceBase     = 2.0
	solubilityHalfGain  = 25.0
)

// PerformanceScore maps the measurements to a 0-10 scalar. It is a pure
// function: 0 when no liquid formed, otherwise monotonically non-decreasing
// in solubility and saturating at 10.
func (r *ExperimentResult) PerformanceScore() float64 {
	if !r.IsLiquidFormed {
		return 0
	}

	s := 0.0
	if r.Solubility != nil && *r.Solubility > 0 {
		s = *r.Solubility
	}

	score := performanceBase + (performanceScoreMax-performanceBase)*s/(s+solubilityHalfGain)
	if score > performanceScoreMax {
		score = performanceScoreMax
	}
	return score
}
