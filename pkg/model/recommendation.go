package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type RecommendationID string

// NewRecommendationID generates a time and task derived, globally unique ID,
// e.g. REC_20251016_123456_task001_a1b2c3d4
func NewRecommendationID(taskID string, now time.Time) RecommendationID {
	task := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, taskID)
	if task == "" {
		task = "task"
	}

	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return RecommendationID(fmt.Sprintf("REC_%s_%s_%s", now.Format("20060102_150405"), task, suffix))
}

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Validate checks if the status is a known value
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return nil
	default:
		return goerr.New("invalid status", goerr.T(TagValidation), goerr.V("status", s))
	}
}

// Terminal reports whether no further feedback processing can start from the
// status. COMPLETED and FAILED records still accept re-submission, which is
// why only CANCELLED is unconditionally final; see CanTransit.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransit validates a status transition. Re-submission of feedback for an
// already COMPLETED or FAILED recommendation re-enters PROCESSING; everything
// else is monotonic. Nothing leaves CANCELLED.
func (s Status) CanTransit(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return next == StatusProcessing
	default:
		return false
	}
}

// Task describes what a recommendation was generated for
type Task struct {
	ID             string `json:"id"`
	TargetMaterial string `json:"target_material"`
	Description    string `json:"description,omitempty"`
}

// Recommendation is a persisted formulation proposal awaiting or holding
// experimental feedback.
type Recommendation struct {
	ID               RecommendationID  `json:"id"`
	Task             Task              `json:"task"`
	Formulation      map[string]any    `json:"formulation"`
	Confidence       float64           `json:"confidence"`
	Status           Status            `json:"status"`
	ExperimentResult *ExperimentResult `json:"experiment_result,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IndexEntry is the compact projection of a Recommendation stored separately
// from the full record so that listing and filtering never deserialize full
// records. Every field must match the full record after each mutation.
type IndexEntry struct {
	ID                 RecommendationID `json:"id"`
	Status             Status           `json:"status"`
	TargetMaterial     string           `json:"target_material"`
	FormulationSummary string           `json:"formulation_summary"`
	Formulation        map[string]any   `json:"formulation"`
	Confidence         float64          `json:"confidence"`
	PerformanceScore   *float64         `json:"performance_score"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NewIndexEntry derives the index projection from a full record
func NewIndexEntry(rec *Recommendation) *IndexEntry {
	entry := &IndexEntry{
		ID:                 rec.ID,
		Status:             rec.Status,
		TargetMaterial:     rec.Task.TargetMaterial,
		FormulationSummary: FormulationSummary(rec.Formulation),
		Formulation:        rec.Formulation,
		Confidence:         rec.Confidence,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
	if rec.ExperimentResult != nil {
		score := rec.ExperimentResult.PerformanceScore()
		entry.PerformanceScore = &score
	}
	return entry
}

// FormulationSummary renders a human-readable one-liner of a formulation.
// A "components" list of {name, ratio} maps becomes "ChCl:Urea (1:2)";
// anything else falls back to a sorted key=value join.
func FormulationSummary(formulation map[string]any) string {
	if components, ok := formulation["components"].([]any); ok && len(components) > 0 {
		var names, ratios []string
		for _, c := range components {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
			switch r := m["ratio"].(type) {
			case string:
				ratios = append(ratios, r)
			case float64:
				ratios = append(ratios, strconv.FormatFloat(r, 'f', -1, 64))
			}
		}
		if len(names) > 0 {
			summary := strings.Join(names, ":")
			if len(ratios) == len(names) {
				summary += " (" + strings.Join(ratios, ":") + ")"
			}
			return summary
		}
	}

	keys := make([]string, 0, len(formulation))
	for k := range formulation {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, formulation[k]))
	}
	return strings.Join(parts, ", ")
}
