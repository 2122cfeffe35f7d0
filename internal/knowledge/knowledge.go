// Package knowledge holds what the learning loop has accumulated: the
// append-only pattern log, per-agent behavior states and predictive model
// descriptors. A single Base is owned by the coordinator and handed to the
// detector, behavior engine and insight generator.
package knowledge

import (
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/jordanhubbard/loomlearn/pkg/models"
)

// DefaultPatternRetention bounds the pattern log.
const DefaultPatternRetention = 50000

// Table is a keyed get/put/iterate store.
type Table[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// NewTable creates an empty table
func NewTable[V any]() *Table[V] {
	return &Table[V]{items: make(map[string]V)}
}

// Get returns the value stored under key.
func (t *Table[V]) Get(key string) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.items[key]
	return v, ok
}

// Put stores v under key, replacing any previous value.
func (t *Table[V]) Put(key string, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[key] = v
}

// Len returns the number of keys.
func (t *Table[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Keys returns all keys sorted.
func (t *Table[V]) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All iterates over a sorted snapshot of the table.
func (t *Table[V]) All() iter.Seq2[string, V] {
	keys := t.Keys()
	return func(yield func(string, V) bool) {
		for _, k := range keys {
			v, ok := t.Get(k)
			if !ok {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

// PatternLog is the append-only history of detected and learned patterns.
// Once the retention bound is reached the oldest patterns are pruned.
type PatternLog struct {
	mu        sync.RWMutex
	patterns  []models.LearningPattern
	retention int
	total     int64
}

// NewPatternLog creates a log keeping at most retention patterns.
func NewPatternLog(retention int) *PatternLog {
	if retention <= 0 {
		retention = DefaultPatternRetention
	}
	return &PatternLog{retention: retention}
}

// Append adds patterns in order.
func (l *PatternLog) Append(patterns ...models.LearningPattern) {
	if len(patterns) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patterns = append(l.patterns, patterns...)
	l.total += int64(len(patterns))
	if over := len(l.patterns) - l.retention; over > 0 {
		l.patterns = append([]models.LearningPattern(nil), l.patterns[over:]...)
	}
}

// Len returns the number of retained patterns.
func (l *PatternLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.patterns)
}

// Total returns the number of patterns ever appended.
func (l *PatternLog) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// All returns a copy of the retained patterns in insertion order.
func (l *PatternLog) All() []models.LearningPattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.LearningPattern(nil), l.patterns...)
}

// ForAgent returns the agent's retained patterns in insertion order.
func (l *PatternLog) ForAgent(agentID string) []models.LearningPattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.LearningPattern
	for _, p := range l.patterns {
		if p.AgentID == agentID {
			out = append(out, p)
		}
	}
	return out
}

// Since returns patterns last seen at or after t.
func (l *PatternLog) Since(t time.Time) []models.LearningPattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.LearningPattern
	for _, p := range l.patterns {
		if !p.LastSeen.Before(t) {
			out = append(out, p)
		}
	}
	return out
}

// Current returns, per agent and kind, the newest pattern. Older patterns of
// the same kind are superseded but stay in the log.
func (l *PatternLog) Current(agentID string) map[models.PatternKind]models.LearningPattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[models.PatternKind]models.LearningPattern)
	for _, p := range l.patterns {
		if p.AgentID == agentID {
			out[p.Kind] = p
		}
	}
	return out
}

// Base bundles the shared knowledge tables.
type Base struct {
	Patterns  *PatternLog
	Behaviors *Table[*models.AdaptiveBehaviorState]
	Models    *Table[models.PredictiveModelDescriptor]
}

// BaselineModelID identifies the built-in averaging descriptor.
const BaselineModelID = "baseline-averaging"

// NewBase creates an empty knowledge base with the baseline model descriptor registered.
func NewBase(patternRetention int) *Base {
	b := &Base{
		Patterns:  NewPatternLog(patternRetention),
		Behaviors: NewTable[*models.AdaptiveBehaviorState](),
		Models:    NewTable[models.PredictiveModelDescriptor](),
	}
	b.Models.Put(BaselineModelID, models.PredictiveModelDescriptor{
		ID:        BaselineModelID,
		Name:      "Historical success averaging",
		Version:   "1.0.0",
		Features:  []string{"success_rate", "quality_score", "response_time_ms", "task_type"},
		Accuracy:  0.75,
		Precision: 0.72,
		Recall:    0.7,
	})
	return b
}
