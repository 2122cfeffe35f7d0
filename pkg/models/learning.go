package models

import "time"

// LearningParams are the global knobs set through configure-learning.
type LearningParams struct {
	AdaptationRate   float64 `json:"adaptation_rate" yaml:"adaptation_rate"`
	ExplorationRate  float64 `json:"exploration_rate" yaml:"exploration_rate"`
	MemoryRetention  float64 `json:"memory_retention" yaml:"memory_retention"`
	ForgettingFactor float64 `json:"forgetting_factor" yaml:"forgetting_factor"`
	TransferLearning bool    `json:"transfer_learning" yaml:"transfer_learning"`
}

// DefaultLearningParams returns the parameters used until configure-learning is called.
func DefaultLearningParams() LearningParams {
	return LearningParams{
		AdaptationRate:   0.1,
		ExplorationRate:  0.2,
		MemoryRetention:  0.9,
		ForgettingFactor: 0.05,
		TransferLearning: true,
	}
}

// Validate checks every rate is within [0,1].
func (p LearningParams) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"adaptation_rate", p.AdaptationRate},
		{"exploration_rate", p.ExplorationRate},
		{"memory_retention", p.MemoryRetention},
		{"forgetting_factor", p.ForgettingFactor},
	} {
		if err := ValidateProbability(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

// LearningMetrics are the aggregates recomputed by the slow tick.
type LearningMetrics struct {
	LearningVelocity        float64   `json:"learning_velocity"` // patterns per minute over the trailing hour
	KnowledgeAccumulation   float64   `json:"knowledge_accumulation"`
	GeneralizationAbility   float64   `json:"generalization_ability"`
	AdaptationEffectiveness float64   `json:"adaptation_effectiveness"`
	StabilityScore          float64   `json:"stability_score"`
	TotalPatterns           int       `json:"total_patterns"`
	TotalAdaptations        int       `json:"total_adaptations"`
	ComputedAt              time.Time `json:"computed_at"`
}

// Prediction is the response of predict-performance.
type Prediction struct {
	AgentID              string          `json:"agent_id"`
	TaskType             string          `json:"task_type,omitempty"`
	Horizon              time.Duration   `json:"horizon"`
	ExpectedSuccessRate  float64         `json:"expected_success_rate"`
	ExpectedQuality      float64         `json:"expected_quality"`
	ExpectedResponseTime float64         `json:"expected_response_time_ms"`
	Confidence           float64         `json:"confidence"`
	Basis                PredictionBasis `json:"basis"`
}

// PredictionBasis explains what a prediction was computed from.
type PredictionBasis struct {
	ModelID    string    `json:"model_id"`
	Version    string    `json:"version"`
	Method     string    `json:"method"`
	SampleSize int       `json:"sample_size"`
	Accuracy   float64   `json:"accuracy"`
	From       time.Time `json:"from,omitempty"`
	To         time.Time `json:"to,omitempty"`
}

// ProgressSnapshot answers get-learning-progress.
type ProgressSnapshot struct {
	AgentID            string             `json:"agent_id,omitempty"`
	Phase              BehaviorPhase      `json:"phase,omitempty"`
	Progress           LearningProgress   `json:"progress"`
	Stability          StabilityMetrics   `json:"stability"`
	ActiveRules        int                `json:"active_rules"`
	RecordCount        int                `json:"record_count"`
	PatternCount       int                `json:"pattern_count"`
	AgentCount         int                `json:"agent_count,omitempty"`
	Metrics            *LearningMetrics   `json:"metrics,omitempty"`
	PatternsByKind     map[string]int     `json:"patterns_by_kind,omitempty"`
	ParameterOverrides map[string]float64 `json:"parameter_overrides,omitempty"`

	// CurrentPatterns is the newest pattern per kind for one agent.
	CurrentPatterns map[PatternKind]LearningPattern `json:"current_patterns,omitempty"`
	// PatternsSeen and InsightsGenerated count everything ever logged,
	// including entries past retention. Global summary only.
	PatternsSeen      int64 `json:"patterns_seen,omitempty"`
	InsightsGenerated int64 `json:"insights_generated,omitempty"`
}

// SnapshotVersion is the format version of IntelligenceSnapshot.
const SnapshotVersion = "1.0"

// SnapshotCounts are always present in an export, regardless of include flags.
type SnapshotCounts struct {
	Patterns  int `json:"patterns"`
	Models    int `json:"models"`
	Behaviors int `json:"behaviors"`
	Insights  int `json:"insights"`
}

// IntelligenceSnapshot is the versioned export of everything learned.
type IntelligenceSnapshot struct {
	ID         string                      `json:"id"`
	Version    string                      `json:"version"`
	ExportedAt time.Time                   `json:"exported_at"`
	Params     LearningParams              `json:"params"`
	Metrics    LearningMetrics             `json:"metrics"`
	Counts     SnapshotCounts              `json:"counts"`
	Patterns   []LearningPattern           `json:"patterns,omitempty"`
	Models     []PredictiveModelDescriptor `json:"models,omitempty"`
	Behaviors  []*AdaptiveBehaviorState    `json:"behaviors,omitempty"`
	Insights   []Insight                   `json:"insights,omitempty"`
}
