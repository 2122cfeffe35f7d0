package models

import "time"

// Complexity is the difficulty tier of a task
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Weight maps the tier onto the 1/2/3 scale used by feature extraction.
func (c Complexity) Weight() float64 {
	switch c {
	case ComplexityLow:
		return 1
	case ComplexityHigh:
		return 3
	default:
		return 2
	}
}

// Valid reports whether c is one of the known tiers.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	}
	return false
}

// ResourceUsage is a point-in-time snapshot of what a task consumed.
// CPU and Memory are utilization ratios in [0,1].
type ResourceUsage struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Tokens int64   `json:"tokens,omitempty"`
}

// Intensity is the mean of CPU and memory utilization.
func (r ResourceUsage) Intensity() float64 {
	return (r.CPU + r.Memory) / 2
}

// PerformanceRecord is one task execution reported by an agent.
// Records are immutable once ingested.
type PerformanceRecord struct {
	AgentID            string        `json:"agent_id"`
	AgentType          string        `json:"agent_type"`
	SessionID          string        `json:"session_id,omitempty"`
	TaskType           string        `json:"task_type"`
	Complexity         Complexity    `json:"complexity"`
	SuccessRate        float64       `json:"success_rate"`
	ResponseTimeMs     float64       `json:"response_time_ms"`
	QualityScore       float64       `json:"quality_score"`
	ContextUtilization float64       `json:"context_utilization"`
	ResourceUsage      ResourceUsage `json:"resource_usage"`
	ErrorTags          []string      `json:"error_tags,omitempty"`
	Improvement        float64       `json:"improvement"` // SuccessRate minus the previous record's SuccessRate
	Timestamp          time.Time     `json:"timestamp"`
}

// Metric names understood by trigger conditions.
const (
	MetricSuccessRate        = "successRate"
	MetricResponseTime       = "responseTime"
	MetricQualityScore       = "qualityScore"
	MetricContextUtilization = "contextUtilization"
)

// Metric returns the named metric of the record and whether the name is known.
func (r PerformanceRecord) Metric(name string) (float64, bool) {
	switch name {
	case MetricSuccessRate:
		return r.SuccessRate, true
	case MetricResponseTime:
		return r.ResponseTimeMs, true
	case MetricQualityScore:
		return r.QualityScore, true
	case MetricContextUtilization:
		return r.ContextUtilization, true
	}
	return 0, false
}

// Validate checks the range invariants of a record before it is stored.
func (r *PerformanceRecord) Validate() error {
	if r.AgentID == "" {
		return NewValidationError("agent_id", "is required")
	}
	if r.Complexity != "" && !r.Complexity.Valid() {
		return NewValidationError("complexity", "must be low, medium or high")
	}
	probabilities := []struct {
		field string
		value float64
	}{
		{"success_rate", r.SuccessRate},
		{"quality_score", r.QualityScore},
		{"context_utilization", r.ContextUtilization},
		{"resource_usage.cpu", r.ResourceUsage.CPU},
		{"resource_usage.memory", r.ResourceUsage.Memory},
	}
	for _, p := range probabilities {
		if err := ValidateProbability(p.field, p.value); err != nil {
			return err
		}
	}
	if !(r.ResponseTimeMs > 0) {
		return NewValidationError("response_time_ms", "must be greater than 0")
	}
	return nil
}
