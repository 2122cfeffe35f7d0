package messages

import (
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/loomlearn/pkg/models"
)

// ActionRequest asks a remote executor to perform an adaptation action.
type ActionRequest struct {
	RequestID string                  `json:"request_id"`
	AgentID   string                  `json:"agent_id"`
	RuleID    string                  `json:"rule_id,omitempty"`
	Action    models.AdaptationAction `json:"action"`
	Deadline  time.Time               `json:"deadline,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// ActionReply is the executor's answer to an ActionRequest
type ActionReply struct {
	RequestID string                 `json:"request_id"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewActionRequest creates a request with a fresh id.
func NewActionRequest(agentID, ruleID string, action models.AdaptationAction, deadline time.Time) *ActionRequest {
	return &ActionRequest{
		RequestID: uuid.New().String(),
		AgentID:   agentID,
		RuleID:    ruleID,
		Action:    action,
		Deadline:  deadline,
		Timestamp: time.Now(),
	}
}
