package performance

import (
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/jordanhubbard/loomlearn/pkg/models"
)

// DefaultCapacity is the number of records retained per agent.
const DefaultCapacity = 10000

// Window selects a slice of an agent's history. The zero Window selects
// everything retained.
type Window struct {
	Since time.Time // only records at or after Since
	Limit int       // only the newest Limit records, applied after Since
}

// LastN returns a window over the newest n records.
func LastN(n int) Window {
	return Window{Limit: n}
}

// history is a fixed-capacity ring of one agent's records, oldest first.
type history struct {
	mu      sync.RWMutex
	records []models.PerformanceRecord
	start   int
	size    int
	evicted int64
}

func newHistory(capacity int) *history {
	return &history{records: make([]models.PerformanceRecord, capacity)}
}

func (h *history) at(i int) models.PerformanceRecord {
	return h.records[(h.start+i)%len(h.records)]
}

func (h *history) last() (models.PerformanceRecord, bool) {
	if h.size == 0 {
		return models.PerformanceRecord{}, false
	}
	return h.at(h.size - 1), true
}

func (h *history) push(rec models.PerformanceRecord) {
	if h.size < len(h.records) {
		h.records[(h.start+h.size)%len(h.records)] = rec
		h.size++
		return
	}
	// full: overwrite the oldest slot and advance
	h.records[h.start] = rec
	h.start = (h.start + 1) % len(h.records)
	h.evicted++
}

// snapshot copies the records selected by w, oldest first.
func (h *history) snapshot(w Window) []models.PerformanceRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	first := 0
	if !w.Since.IsZero() {
		first = sort.Search(h.size, func(i int) bool {
			return !h.at(i).Timestamp.Before(w.Since)
		})
	}
	if w.Limit > 0 && h.size-first > w.Limit {
		first = h.size - w.Limit
	}
	out := make([]models.PerformanceRecord, 0, h.size-first)
	for i := first; i < h.size; i++ {
		out = append(out, h.at(i))
	}
	return out
}

// Store is the append-only, per-agent bounded telemetry history.
// Ingestion for distinct agents proceeds concurrently.
type Store struct {
	mu       sync.RWMutex
	agents   map[string]*history
	capacity int
	now      func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithCapacity overrides the per-agent record bound.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock overrides the timestamp source used for records without one.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		agents:   make(map[string]*history),
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) historyFor(agentID string, create bool) *history {
	s.mu.RLock()
	h, ok := s.agents[agentID]
	s.mu.RUnlock()
	if ok || !create {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.agents[agentID]; !ok {
		h = newHistory(s.capacity)
		s.agents[agentID] = h
	}
	return h
}

// Ingest validates rec, computes its improvement over the agent's previous
// record and appends it. Invalid records are rejected with a
// *models.ValidationError and nothing is stored.
func (s *Store) Ingest(rec models.PerformanceRecord) (models.PerformanceRecord, error) {
	if err := rec.Validate(); err != nil {
		return models.PerformanceRecord{}, err
	}
	if rec.Complexity == "" {
		rec.Complexity = models.ComplexityMedium
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.ErrorTags = append([]string(nil), rec.ErrorTags...)

	h := s.historyFor(rec.AgentID, true)
	h.mu.Lock()
	defer h.mu.Unlock()

	rec.Improvement = 0
	if prev, ok := h.last(); ok {
		rec.Improvement = rec.SuccessRate - prev.SuccessRate
		// keep the history ordered even if a caller supplies an older timestamp
		if rec.Timestamp.Before(prev.Timestamp) {
			rec.Timestamp = prev.Timestamp
		}
	}
	h.push(rec)
	return rec, nil
}

// Query returns a lazy sequence over the agent's records selected by w,
// oldest first. The selection is fixed when Query is called; ranging over
// the sequence again replays the same records. Unknown agents yield nothing.
func (s *Store) Query(agentID string, w Window) iter.Seq[models.PerformanceRecord] {
	records := s.Records(agentID, w)
	return func(yield func(models.PerformanceRecord) bool) {
		for _, r := range records {
			if !yield(r) {
				return
			}
		}
	}
}

// Records is Query materialized as a slice.
func (s *Store) Records(agentID string, w Window) []models.PerformanceRecord {
	h := s.historyFor(agentID, false)
	if h == nil {
		return nil
	}
	return h.snapshot(w)
}

// Latest returns the newest record for the agent.
func (s *Store) Latest(agentID string) (models.PerformanceRecord, bool) {
	h := s.historyFor(agentID, false)
	if h == nil {
		return models.PerformanceRecord{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last()
}

// Count returns the number of retained records for the agent.
func (s *Store) Count(agentID string) int {
	h := s.historyFor(agentID, false)
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Evicted returns how many records were dropped for the agent due to capacity.
func (s *Store) Evicted(agentID string) int64 {
	h := s.historyFor(agentID, false)
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.evicted
}

// Agents returns the known agent ids in sorted order.
func (s *Store) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether any record was ever ingested for the agent.
func (s *Store) Has(agentID string) bool {
	return s.historyFor(agentID, false) != nil
}
