package models

import "time"

// InsightType classifies a derived finding
type InsightType string

const (
	InsightPerformance InsightType = "performance"
	InsightPattern     InsightType = "pattern"
	InsightAnomaly     InsightType = "anomaly"
	InsightOpportunity InsightType = "opportunity"
	InsightRisk        InsightType = "risk"
)

// Valid reports whether t is a known insight type.
func (t InsightType) Valid() bool {
	switch t {
	case InsightPerformance, InsightPattern, InsightAnomaly, InsightOpportunity, InsightRisk:
		return true
	}
	return false
}

// Severity of an insight
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ImpactVector estimates the effect of an insight on each outcome dimension.
type ImpactVector struct {
	Performance      float64 `json:"performance"`
	Quality          float64 `json:"quality"`
	Efficiency       float64 `json:"efficiency"`
	UserSatisfaction float64 `json:"user_satisfaction"`
}

// Insight is an immutable finding appended to the insight log.
type Insight struct {
	ID              string       `json:"id"`
	Type            InsightType  `json:"type"`
	Severity        Severity     `json:"severity"`
	Confidence      float64      `json:"confidence"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	AgentID         string       `json:"agent_id,omitempty"`
	Evidence        []string     `json:"evidence"`
	Recommendations []string     `json:"recommendations"`
	Impact          ImpactVector `json:"impact"`
	Tags            []string     `json:"tags"`
	CreatedAt       time.Time    `json:"created_at"`
}

// HasTag reports whether the insight carries tag.
func (i Insight) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
