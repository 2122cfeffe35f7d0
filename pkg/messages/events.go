package messages

import (
	"time"

	"github.com/jordanhubbard/loomlearn/pkg/models"
)

// EventMessage represents a learning-loop event published via NATS
type EventMessage struct {
	Type          string                 `json:"type"`   // "insight.generated", "adaptation.applied", "pattern.detected", "metrics.computed"
	Source        string                 `json:"source"` // Service that generated the event
	AgentID       string                 `json:"agent_id,omitempty"`
	EntityID      string                 `json:"entity_id,omitempty"` // Insight ID, rule ID, pattern ID
	Event         EventData              `json:"event"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// EventData contains the event-specific information
type EventData struct {
	Action      string      `json:"action"`   // "generated", "applied", "detected", "computed"
	Category    string      `json:"category"` // "insight", "adaptation", "pattern", "metrics"
	Description string      `json:"description,omitempty"`
	Data        interface{} `json:"data,omitempty"`
}

// Subject returns the subject suffix used to publish the event.
func (m *EventMessage) Subject() string {
	return m.Type
}

// InsightGenerated creates an insight.generated event carrying the insight
func InsightGenerated(insight models.Insight, source string) *EventMessage {
	return &EventMessage{
		Type:     "insight.generated",
		Source:   source,
		AgentID:  insight.AgentID,
		EntityID: insight.ID,
		Event: EventData{
			Action:      "generated",
			Category:    "insight",
			Description: insight.Title,
			Data:        insight,
		},
		Timestamp: time.Now(),
	}
}

// AdaptationApplied creates an adaptation.applied event for one rule application
func AdaptationApplied(agentID string, rec models.AdaptationRecord, source string) *EventMessage {
	return &EventMessage{
		Type:     "adaptation.applied",
		Source:   source,
		AgentID:  agentID,
		EntityID: rec.RuleID,
		Event: EventData{
			Action:   "applied",
			Category: "adaptation",
			Data:     rec,
		},
		Timestamp: time.Now(),
	}
}

// PatternDetected creates a pattern.detected event
func PatternDetected(pattern models.LearningPattern, source string) *EventMessage {
	return &EventMessage{
		Type:     "pattern.detected",
		Source:   source,
		AgentID:  pattern.AgentID,
		EntityID: pattern.ID,
		Event: EventData{
			Action:   "detected",
			Category: "pattern",
			Data:     pattern,
		},
		Timestamp: time.Now(),
	}
}

// MetricsComputed creates a metrics.computed event for the slow tick aggregates
func MetricsComputed(m models.LearningMetrics, source string) *EventMessage {
	return &EventMessage{
		Type:   "metrics.computed",
		Source: source,
		Event: EventData{
			Action:   "computed",
			Category: "metrics",
			Data:     m,
		},
		Timestamp: time.Now(),
	}
}
