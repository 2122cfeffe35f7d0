package models

import "time"

// PatternKind classifies a recurring behavior
type PatternKind string

const (
	PatternSuccess      PatternKind = "success"
	PatternFailure      PatternKind = "failure"
	PatternOptimization PatternKind = "optimization"
)

// Valid reports whether k is a known pattern kind.
func (k PatternKind) Valid() bool {
	switch k {
	case PatternSuccess, PatternFailure, PatternOptimization:
		return true
	}
	return false
}

// ContextFeature is one extracted feature of a pattern together with its
// heuristic weights.
type ContextFeature struct {
	Name        string      `json:"name"`
	Value       interface{} `json:"value"`
	Importance  float64     `json:"importance"`
	Correlation float64     `json:"correlation"`
	Stability   float64     `json:"stability"`
}

// OutcomeMetrics aggregates the outcomes observed in a pattern's records
type OutcomeMetrics struct {
	Performance      float64 `json:"performance"`
	Quality          float64 `json:"quality"`
	Efficiency       float64 `json:"efficiency"`
	UserSatisfaction float64 `json:"user_satisfaction"`
	GoalAchievement  float64 `json:"goal_achievement"`
}

// LearningPattern is a summarized recurring behavior derived from a window
// of performance records. Patterns are never modified after creation; a newer
// pattern of the same kind supersedes the older one.
type LearningPattern struct {
	ID              string           `json:"id"`
	AgentID         string           `json:"agent_id"`
	AgentType       string           `json:"agent_type"`
	Kind            PatternKind      `json:"kind"`
	ContextFeatures []ContextFeature `json:"context_features"`
	Outcome         OutcomeMetrics   `json:"outcome"`
	Confidence      float64          `json:"confidence"`
	Frequency       float64          `json:"frequency"`
	PredictivePower float64          `json:"predictive_power"`
	SampleSize      int              `json:"sample_size"`
	Source          string           `json:"source"` // "detector" or "external"
	LastSeen        time.Time        `json:"last_seen"`
}

// PredictiveModelDescriptor is static metadata describing how predictions are
// weighted. No model is trained.
type PredictiveModelDescriptor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Features  []string  `json:"features"`
	Accuracy  float64   `json:"accuracy"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	TrainedAt time.Time `json:"trained_at"`
}
