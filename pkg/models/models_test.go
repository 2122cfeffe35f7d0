package models

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

// TestPerformanceRecord_Validate tests the range invariants of a record
func TestPerformanceRecord_Validate(t *testing.T) {
	valid := func() PerformanceRecord {
		return PerformanceRecord{
			AgentID:        "a1",
			AgentType:      "coder",
			SuccessRate:    0.5,
			ResponseTimeMs: 100,
			QualityScore:   0.5,
		}
	}

	tests := []struct {
		name   string
		mutate func(*PerformanceRecord)
		field  string
	}{
		{"valid", func(*PerformanceRecord) {}, ""},
		{"missing agent", func(r *PerformanceRecord) { r.AgentID = "" }, "agent_id"},
		{"bad complexity", func(r *PerformanceRecord) { r.Complexity = "extreme" }, "complexity"},
		{"success above one", func(r *PerformanceRecord) { r.SuccessRate = 1.01 }, "success_rate"},
		{"quality negative", func(r *PerformanceRecord) { r.QualityScore = -0.1 }, "quality_score"},
		{"context NaN", func(r *PerformanceRecord) { r.ContextUtilization = math.NaN() }, "context_utilization"},
		{"cpu above one", func(r *PerformanceRecord) { r.ResourceUsage.CPU = 2 }, "resource_usage.cpu"},
		{"zero response time", func(r *PerformanceRecord) { r.ResponseTimeMs = 0 }, "response_time_ms"},
		{"NaN response time", func(r *PerformanceRecord) { r.ResponseTimeMs = math.NaN() }, "response_time_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			err := r.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestPerformanceRecord_Metric(t *testing.T) {
	r := PerformanceRecord{SuccessRate: 0.1, ResponseTimeMs: 200, QualityScore: 0.3, ContextUtilization: 0.4}
	want := map[string]float64{
		MetricSuccessRate:        0.1,
		MetricResponseTime:       200,
		MetricQualityScore:       0.3,
		MetricContextUtilization: 0.4,
	}
	for name, v := range want {
		got, ok := r.Metric(name)
		if !ok || got != v {
			t.Errorf("Metric(%q) = %v, %v; want %v, true", name, got, ok, v)
		}
	}
	if _, ok := r.Metric("latency"); ok {
		t.Error("Metric(latency) should be unknown")
	}
}

func TestComplexity_Weight(t *testing.T) {
	cases := map[Complexity]float64{
		ComplexityLow:    1,
		ComplexityMedium: 2,
		ComplexityHigh:   3,
		"":               2,
	}
	for c, want := range cases {
		if got := c.Weight(); got != want {
			t.Errorf("%q.Weight() = %v, want %v", c, got, want)
		}
	}
}

func TestComparator_Compare(t *testing.T) {
	tests := []struct {
		c    Comparator
		v, t float64
		want bool
	}{
		{CompareLess, 0.5, 0.7, true},
		{CompareLess, 0.7, 0.7, false},
		{CompareGreater, 0.8, 0.7, true},
		{CompareEqual, 0.7, 0.7, true},
		{CompareNotEqual, 0.7, 0.7, false},
		{"~", 0.7, 0.7, false},
	}
	for _, tt := range tests {
		if got := tt.c.Compare(tt.v, tt.t); got != tt.want {
			t.Errorf("%v %s %v = %v, want %v", tt.v, tt.c, tt.t, got, tt.want)
		}
	}
	if Comparator("~").Valid() {
		t.Error("unknown comparator reported valid")
	}
}

func TestAdaptationAction_Validate(t *testing.T) {
	ok := AdaptationAction{Kind: ActionStrategyChange, Strategy: &StrategyChange{Strategy: "conservative"}}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	missing := AdaptationAction{Kind: ActionParameterAdjustment}
	if !IsValidation(missing.Validate()) {
		t.Error("missing payload should be a validation error")
	}
	unknown := AdaptationAction{Kind: "teleport"}
	if !IsValidation(unknown.Validate()) {
		t.Error("unknown kind should be a validation error")
	}
}

// TestAdaptationRule_Eligible tests cooldown and application cap
func TestAdaptationRule_Eligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &AdaptationRule{Cooldown: 30 * time.Minute, MaxApplications: 2}

	if !r.Eligible(now) {
		t.Error("never-applied rule should be eligible")
	}
	r.Applications, r.LastApplied = 1, now.Add(-10*time.Minute)
	if r.Eligible(now) {
		t.Error("rule inside cooldown should not be eligible")
	}
	if !r.Eligible(now.Add(20 * time.Minute)) {
		t.Error("rule at cooldown boundary should be eligible")
	}
	r.Applications = 2
	if r.Eligible(now.Add(time.Hour)) {
		t.Error("rule at its cap should not be eligible")
	}
}

func TestAdaptiveBehaviorState_CloneIsDeep(t *testing.T) {
	s := &AdaptiveBehaviorState{
		AgentID:            "a1",
		Triggers:           []TriggerCondition{{Metric: MetricSuccessRate}},
		Rules:              []*AdaptationRule{{ID: "r1", Applications: 1}},
		ParameterOverrides: map[string]float64{"temperature": 0.2},
		RecentAdaptations:  []AdaptationRecord{{RuleID: "r1"}},
	}
	c := s.Clone()
	c.Rules[0].Applications = 5
	c.ParameterOverrides["temperature"] = 0.9
	c.Triggers[0].Metric = MetricQualityScore

	if s.Rules[0].Applications != 1 {
		t.Error("clone shares rules with the original")
	}
	if s.ParameterOverrides["temperature"] != 0.2 {
		t.Error("clone shares overrides with the original")
	}
	if s.Triggers[0].Metric != MetricSuccessRate {
		t.Error("clone shares triggers with the original")
	}
	if (*AdaptiveBehaviorState)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestLearningParams_Validate(t *testing.T) {
	if err := DefaultLearningParams().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	p := DefaultLearningParams()
	p.ExplorationRate = 1.2
	var verr *ValidationError
	if err := p.Validate(); !errors.As(err, &verr) || verr.Field != "exploration_rate" {
		t.Errorf("Validate() = %v, want exploration_rate error", err)
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	wrapped := fmt.Errorf("ingest: %w", NewValidationError("x", "bad"))
	if !errors.Is(wrapped, ErrValidation) {
		t.Error("wrapped ValidationError should match ErrValidation")
	}
	cause := errors.New("timeout")
	execErr := &ExecutorError{AgentID: "a1", Action: ActionStrategyChange, Err: cause}
	if !errors.Is(execErr, ErrExecutor) || !errors.Is(execErr, cause) {
		t.Error("ExecutorError should match ErrExecutor and its cause")
	}
	if IsValidation(execErr) {
		t.Error("ExecutorError is not a validation error")
	}
}

func TestInsightEnums(t *testing.T) {
	if !InsightAnomaly.Valid() || InsightType("gossip").Valid() {
		t.Error("InsightType.Valid mismatch")
	}
	if !SeverityCritical.Valid() || Severity("dire").Valid() {
		t.Error("Severity.Valid mismatch")
	}
	i := Insight{Tags: []string{"trend", "decline"}}
	if !i.HasTag("decline") || i.HasTag("growth") {
		t.Error("HasTag mismatch")
	}
}
