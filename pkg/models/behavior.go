package models

import (
	"fmt"
	"time"
)

// BehaviorPhase is the lifecycle state of an agent's adaptive behavior
type BehaviorPhase string

const (
	PhaseUninitialized BehaviorPhase = "uninitialized"
	PhaseIdle          BehaviorPhase = "idle"
	PhaseEvaluating    BehaviorPhase = "evaluating"
	PhaseApplying      BehaviorPhase = "applying_adaptation"
)

// Comparator is the operator of a trigger condition
type Comparator string

const (
	CompareLess     Comparator = "<"
	CompareGreater  Comparator = ">"
	CompareEqual    Comparator = "=="
	CompareNotEqual Comparator = "!="
)

// Valid reports whether c is a known comparator.
func (c Comparator) Valid() bool {
	switch c {
	case CompareLess, CompareGreater, CompareEqual, CompareNotEqual:
		return true
	}
	return false
}

// Compare applies the operator as value <op> threshold.
func (c Comparator) Compare(value, threshold float64) bool {
	switch c {
	case CompareLess:
		return value < threshold
	case CompareGreater:
		return value > threshold
	case CompareEqual:
		return value == threshold
	case CompareNotEqual:
		return value != threshold
	}
	return false
}

// TriggerCondition gates adaptation evaluation for an agent.
type TriggerCondition struct {
	Metric     string        `json:"metric"`
	Comparator Comparator    `json:"comparator"`
	Threshold  float64       `json:"threshold"`
	Weight     float64       `json:"weight"`
	Window     time.Duration `json:"window"`
}

// ActionKind tags the variant of an AdaptationAction
type ActionKind string

const (
	ActionParameterAdjustment  ActionKind = "parameter_adjustment"
	ActionStrategyChange       ActionKind = "strategy_change"
	ActionResourceReallocation ActionKind = "resource_reallocation"
	ActionContextModification  ActionKind = "context_modification"
)

// ParameterAdjustment changes named policy parameters.
type ParameterAdjustment struct {
	Parameters map[string]float64 `json:"parameters"`
}

// StrategyChange switches an agent to a different strategy.
type StrategyChange struct {
	Strategy string `json:"strategy"`
	Avoid    string `json:"avoid,omitempty"`
}

// ResourceReallocation moves resource budget toward or away from an agent.
type ResourceReallocation struct {
	Resource string  `json:"resource"`
	Delta    float64 `json:"delta"`
}

// ContextModification edits the context an agent works with.
type ContextModification struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AdaptationAction is a tagged variant: Kind selects which payload is set.
type AdaptationAction struct {
	Kind      ActionKind            `json:"kind"`
	Parameter *ParameterAdjustment  `json:"parameter,omitempty"`
	Strategy  *StrategyChange       `json:"strategy,omitempty"`
	Resource  *ResourceReallocation `json:"resource,omitempty"`
	Context   *ContextModification  `json:"context,omitempty"`
}

// Validate checks that the payload matching Kind is present.
func (a AdaptationAction) Validate() error {
	var ok bool
	switch a.Kind {
	case ActionParameterAdjustment:
		ok = a.Parameter != nil
	case ActionStrategyChange:
		ok = a.Strategy != nil
	case ActionResourceReallocation:
		ok = a.Resource != nil
	case ActionContextModification:
		ok = a.Context != nil
	default:
		return NewValidationError("action.kind", fmt.Sprintf("unknown action kind %q", a.Kind))
	}
	if !ok {
		return NewValidationError("action", fmt.Sprintf("missing payload for %s", a.Kind))
	}
	return nil
}

// AdaptationRule is an immutable template plus monotonic application counters.
type AdaptationRule struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	SourcePatternKind  PatternKind      `json:"source_pattern_kind"`
	SourcePatternID    string           `json:"source_pattern_id"`
	Condition          string           `json:"condition"`
	Action             AdaptationAction `json:"action"`
	Priority           int              `json:"priority"`
	Cooldown           time.Duration    `json:"cooldown"`
	MaxApplications    int              `json:"max_applications"`
	RequiresValidation bool             `json:"requires_validation"`

	Applications int       `json:"applications"`
	LastApplied  time.Time `json:"last_applied"`
	SuccessRate  float64   `json:"success_rate"`
}

// Eligible reports whether the rule may be applied at now.
func (r *AdaptationRule) Eligible(now time.Time) bool {
	if r.Applications >= r.MaxApplications {
		return false
	}
	if !r.LastApplied.IsZero() && now.Sub(r.LastApplied) < r.Cooldown {
		return false
	}
	return true
}

// AdaptationRecord is one entry of an agent's recent adaptation log.
type AdaptationRecord struct {
	RuleID      string     `json:"rule_id"`
	Action      ActionKind `json:"action"`
	AppliedAt   time.Time  `json:"applied_at"`
	Success     bool       `json:"success"`
	Error       string     `json:"error,omitempty"`
	Performance float64    `json:"performance"` // agent performance observed when applied
}

// Trend is the direction of recent performance
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// StabilityMetrics summarize the agent's recent performance history
type StabilityMetrics struct {
	Variance    float64 `json:"variance"`
	Trend       Trend   `json:"trend"`
	Consistency float64 `json:"consistency"`
	Volatility  float64 `json:"volatility"`
}

// LearningProgress counts what the engine has done for an agent
type LearningProgress struct {
	TotalAdaptations      int     `json:"total_adaptations"`
	SuccessfulAdaptations int     `json:"successful_adaptations"`
	LearningVelocity      float64 `json:"learning_velocity"`
	Plateau               bool    `json:"plateau"`
	ExplorationRate       float64 `json:"exploration_rate"`
}

// PerformanceSnapshot is one entry of an agent's bounded performance history
type PerformanceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	Performance float64   `json:"performance"`
	Quality     float64   `json:"quality"`
}

// AdaptiveBehaviorState is the per-agent adaptation state. It is created on
// the first pattern observed for the agent and never deleted.
type AdaptiveBehaviorState struct {
	AgentID            string                `json:"agent_id"`
	Category           string                `json:"category"`
	Phase              BehaviorPhase         `json:"phase"`
	Triggers           []TriggerCondition    `json:"triggers"`
	Rules              []*AdaptationRule     `json:"rules"`
	ParameterOverrides map[string]float64    `json:"parameter_overrides"`
	RecentAdaptations  []AdaptationRecord    `json:"recent_adaptations"`
	PerformanceHistory []PerformanceSnapshot `json:"performance_history"`
	Stability          StabilityMetrics      `json:"stability"`
	Progress           LearningProgress      `json:"progress"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out to readers.
func (s *AdaptiveBehaviorState) Clone() *AdaptiveBehaviorState {
	if s == nil {
		return nil
	}
	out := *s
	out.Triggers = append([]TriggerCondition(nil), s.Triggers...)
	out.Rules = make([]*AdaptationRule, len(s.Rules))
	for i, r := range s.Rules {
		rc := *r
		out.Rules[i] = &rc
	}
	out.ParameterOverrides = make(map[string]float64, len(s.ParameterOverrides))
	for k, v := range s.ParameterOverrides {
		out.ParameterOverrides[k] = v
	}
	out.RecentAdaptations = append([]AdaptationRecord(nil), s.RecentAdaptations...)
	out.PerformanceHistory = append([]PerformanceSnapshot(nil), s.PerformanceHistory...)
	return &out
}
