package models

import "time"

// DecisionOption is one candidate in a decision catalogue.
type DecisionOption struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	ExpectedOutcome OutcomeMetrics `json:"expected_outcome"`
	Risk            float64        `json:"risk"`
	Cost            float64        `json:"cost"`
	Timeline        time.Duration  `json:"timeline"`
}

// Alternative records a losing option and why it lost.
type Alternative struct {
	Option   DecisionOption `json:"option"`
	Score    float64        `json:"score"`
	Tradeoff string         `json:"tradeoff"`
}

// Decision is the result of a make-decision request. It is not persisted.
type Decision struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Objectives   []string               `json:"objectives"`
	Constraints  map[string]interface{} `json:"constraints,omitempty"`
	Selected     DecisionOption         `json:"selected"`
	Score        float64                `json:"score"`
	Confidence   float64                `json:"confidence"`
	Reasoning    string                 `json:"reasoning"`
	Alternatives []Alternative          `json:"alternatives"`
	DecidedAt    time.Time              `json:"decided_at"`
}
