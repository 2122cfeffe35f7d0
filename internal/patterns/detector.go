package patterns

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/loomlearn/internal/knowledge"
	"github.com/jordanhubbard/loomlearn/internal/performance"
	"github.com/jordanhubbard/loomlearn/pkg/models"
)

const (
	// DefaultMinRecords is the per-agent history needed before a scheduled pass looks at it.
	DefaultMinRecords = 10
	// DefaultWindowSize is how many of the newest records a scheduled pass examines.
	DefaultWindowSize = 100

	// UserSatisfactionStub is reported for every pattern until satisfaction is measured.
	UserSatisfactionStub = 0.8
)

// kindRule describes how one pattern kind is carved out of a window.
type kindRule struct {
	kind            models.PatternKind
	minSamples      int // subset size must be strictly greater
	confidence      float64
	predictivePower float64
	skipFirst       bool
	match           func(models.PerformanceRecord) bool
}

var kindRules = []kindRule{
	{
		kind:            models.PatternSuccess,
		minSamples:      5,
		confidence:      0.85,
		predictivePower: 0.75,
		match:           func(r models.PerformanceRecord) bool { return r.SuccessRate > 0.8 },
	},
	{
		kind:            models.PatternFailure,
		minSamples:      3,
		confidence:      0.8,
		predictivePower: 0.7,
		match:           func(r models.PerformanceRecord) bool { return r.SuccessRate < 0.5 },
	},
	{
		kind:            models.PatternOptimization,
		minSamples:      3,
		confidence:      0.75,
		predictivePower: 0.65,
		skipFirst:       true,
		match:           func(r models.PerformanceRecord) bool { return r.Improvement > 0.1 },
	},
}

// KindDefaults returns the fixed confidence and predictive power for kind.
func KindDefaults(kind models.PatternKind) (confidence, predictivePower float64, ok bool) {
	for _, rule := range kindRules {
		if rule.kind == kind {
			return rule.confidence, rule.predictivePower, true
		}
	}
	return 0, 0, false
}

// RecordSource is the read side of the telemetry store.
type RecordSource interface {
	Agents() []string
	Records(agentID string, w performance.Window) []models.PerformanceRecord
}

// Detector derives success, failure and optimization patterns from telemetry.
type Detector struct {
	source     RecordSource
	log        *knowledge.PatternLog
	minRecords int
	windowSize int
	now        func() time.Time
}

// Option configures a Detector
type Option func(*Detector)

// WithMinRecords sets the per-agent gate used by DetectAll.
func WithMinRecords(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.minRecords = n
		}
	}
}

// WithWindowSize sets how many recent records DetectAll examines per agent.
func WithWindowSize(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.windowSize = n
		}
	}
}

// WithClock sets the source of LastSeen timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDetector creates a detector reading from source and appending to patternLog.
func NewDetector(source RecordSource, patternLog *knowledge.PatternLog, opts ...Option) *Detector {
	d := &Detector{
		source:     source,
		log:        patternLog,
		minRecords: DefaultMinRecords,
		windowSize: DefaultWindowSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DetectAll runs detection for every agent with enough history and appends
// the new patterns to the pattern log. Agents below the gate are skipped.
func (d *Detector) DetectAll(ctx context.Context) ([]models.LearningPattern, error) {
	var found []models.LearningPattern
	for _, agentID := range d.source.Agents() {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		records := d.source.Records(agentID, performance.LastN(d.windowSize))
		if len(records) < d.minRecords {
			continue
		}
		patterns := d.Detect(agentID, records)
		if len(patterns) > 0 {
			log.Printf("[Patterns] Agent %s: %d pattern(s) from %d records", agentID, len(patterns), len(records))
		}
		found = append(found, patterns...)
	}
	if d.log != nil {
		d.log.Append(found...)
	}
	return found, nil
}

// Detect derives patterns from one agent's window of records. It applies
// no minimum-history gate and does not touch the pattern log.
func (d *Detector) Detect(agentID string, records []models.PerformanceRecord) []models.LearningPattern {
	if len(records) == 0 {
		return nil
	}
	agentType := records[len(records)-1].AgentType
	now := d.now()

	var out []models.LearningPattern
	for _, rule := range kindRules {
		candidates := records
		if rule.skipFirst {
			candidates = records[1:]
		}
		var subset []models.PerformanceRecord
		for _, r := range candidates {
			if rule.match(r) {
				subset = append(subset, r)
			}
		}
		if len(subset) <= rule.minSamples {
			continue
		}
		out = append(out, models.LearningPattern{
			ID:              uuid.New().String(),
			AgentID:         agentID,
			AgentType:       agentType,
			Kind:            rule.kind,
			ContextFeatures: ExtractFeatures(subset),
			Outcome:         Outcome(subset),
			Confidence:      rule.confidence,
			Frequency:       float64(len(subset)) / float64(len(records)),
			PredictivePower: rule.predictivePower,
			SampleSize:      len(subset),
			Source:          "detector",
			LastSeen:        now,
		})
	}
	return out
}

// ExtractFeatures computes the dominant task type, mean complexity and mean
// resource intensity of records, each with its fixed heuristic weights.
func ExtractFeatures(records []models.PerformanceRecord) []models.ContextFeature {
	if len(records) == 0 {
		return nil
	}
	return []models.ContextFeature{
		{
			Name:        "task_type",
			Value:       dominantTaskType(records),
			Importance:  0.3,
			Correlation: 0.6,
			Stability:   0.8,
		},
		{
			Name:        "complexity",
			Value:       mean(records, func(r models.PerformanceRecord) float64 { return r.Complexity.Weight() }),
			Importance:  0.25,
			Correlation: -0.5,
			Stability:   0.7,
		},
		{
			Name:        "resource_intensity",
			Value:       mean(records, func(r models.PerformanceRecord) float64 { return r.ResourceUsage.Intensity() }),
			Importance:  0.2,
			Correlation: -0.4,
			Stability:   0.75,
		},
	}
}

// Outcome aggregates the outcome metrics of records.
func Outcome(records []models.PerformanceRecord) models.OutcomeMetrics {
	if len(records) == 0 {
		return models.OutcomeMetrics{}
	}
	achieved := 0
	for _, r := range records {
		if r.SuccessRate > 0.7 {
			achieved++
		}
	}
	return models.OutcomeMetrics{
		Performance: mean(records, func(r models.PerformanceRecord) float64 { return r.SuccessRate }),
		Quality:     mean(records, func(r models.PerformanceRecord) float64 { return r.QualityScore }),
		Efficiency: mean(records, func(r models.PerformanceRecord) float64 {
			return 1000 / max(r.ResponseTimeMs, 1)
		}),
		UserSatisfaction: UserSatisfactionStub,
		GoalAchievement:  float64(achieved) / float64(len(records)),
	}
}

// dominantTaskType returns the most frequent task type; ties go to the one
// seen first.
func dominantTaskType(records []models.PerformanceRecord) string {
	counts := make(map[string]int)
	var order []string
	for _, r := range records {
		if _, seen := counts[r.TaskType]; !seen {
			order = append(order, r.TaskType)
		}
		counts[r.TaskType]++
	}
	best, bestCount := "", -1
	for _, t := range order {
		if counts[t] > bestCount {
			best, bestCount = t, counts[t]
		}
	}
	return best
}

func mean(records []models.PerformanceRecord, f func(models.PerformanceRecord) float64) float64 {
	if len(records) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range records {
		sum += f(r)
	}
	return sum / float64(len(records))
}
