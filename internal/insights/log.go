package insights

import (
	"sync"

	"github.com/jordanhubbard/loomlearn/pkg/models"
)

// DefaultRetention bounds the insight log.
const DefaultRetention = 10000

// Filter selects insights. Zero fields match everything; Limit <= 0 means no limit.
type Filter struct {
	Type     models.InsightType `json:"type,omitempty"`
	AgentID  string             `json:"agent_id,omitempty"`
	Severity models.Severity    `json:"severity,omitempty"`
	Limit    int                `json:"limit,omitempty"`
}

// Validate rejects unknown types and severities and negative limits.
func (f Filter) Validate() error {
	if f.Type != "" && !f.Type.Valid() {
		return models.NewValidationError("type", "unknown insight type")
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return models.NewValidationError("severity", "unknown severity")
	}
	if f.Limit < 0 {
		return models.NewValidationError("limit", "must not be negative")
	}
	return nil
}

func (f Filter) matches(i models.Insight) bool {
	if f.Type != "" && i.Type != f.Type {
		return false
	}
	if f.Severity != "" && i.Severity != f.Severity {
		return false
	}
	if f.AgentID != "" && i.AgentID != f.AgentID && !i.HasTag(f.AgentID) {
		return false
	}
	return true
}

// Log is the append-only insight log. The oldest insights are dropped once
// the retention bound is reached.
type Log struct {
	mu        sync.RWMutex
	insights  []models.Insight
	retention int
	total     int64
}

// NewLog creates a log keeping at most retention insights.
func NewLog(retention int) *Log {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Log{retention: retention}
}

// Append adds insights in order.
func (l *Log) Append(insights ...models.Insight) {
	if len(insights) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.insights = append(l.insights, insights...)
	l.total += int64(len(insights))
	if over := len(l.insights) - l.retention; over > 0 {
		l.insights = append([]models.Insight(nil), l.insights[over:]...)
	}
}

// Query returns the first matching insights in insertion order.
func (l *Log) Query(f Filter) []models.Insight {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Insight, 0)
	for _, i := range l.insights {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		if f.matches(i) {
			out = append(out, i)
		}
	}
	return out
}

// All returns a copy of the retained insights.
func (l *Log) All() []models.Insight {
	return l.Query(Filter{})
}

// Len returns the number of retained insights.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.insights)
}

// Total returns the number of insights ever appended.
func (l *Log) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
