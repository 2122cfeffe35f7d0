package learning

import (
	"time"

	"github.com/jordanhubbard/loomlearn/internal/knowledge"
	"github.com/jordanhubbard/loomlearn/pkg/models"
)

const (
	velocityWindow      = time.Hour
	effectivenessSample = 10
)

// computeLearningMetrics aggregates the knowledge base into the slow tick metrics.
func computeLearningMetrics(patternLog *knowledge.PatternLog, states []*models.AdaptiveBehaviorState, now time.Time) models.LearningMetrics {
	all := patternLog.All()
	m := models.LearningMetrics{
		TotalPatterns: len(all),
		ComputedAt:    now,
	}

	// patterns per minute over the trailing hour
	recent := patternLog.Since(now.Add(-velocityWindow))
	m.LearningVelocity = float64(len(recent)) / velocityWindow.Minutes()

	if len(all) > 0 {
		kinds := make(map[models.PatternKind]struct{})
		for _, p := range all {
			kinds[p.Kind] = struct{}{}
		}
		m.KnowledgeAccumulation = float64(len(kinds)) / float64(len(all))
	}

	successful := 0
	effectiveness, effectiveAgents := 0.0, 0
	consistency := 0.0
	for _, s := range states {
		m.TotalAdaptations += s.Progress.TotalAdaptations
		successful += s.Progress.SuccessfulAdaptations
		consistency += s.Stability.Consistency

		if n := len(s.RecentAdaptations); n > 0 {
			last := s.RecentAdaptations[max(0, n-effectivenessSample):]
			sum := 0.0
			for _, rec := range last {
				sum += rec.Performance
			}
			effectiveness += sum / float64(len(last))
			effectiveAgents++
		}
	}
	if m.TotalAdaptations > 0 {
		m.GeneralizationAbility = float64(successful) / float64(m.TotalAdaptations)
	}
	if effectiveAgents > 0 {
		m.AdaptationEffectiveness = effectiveness / float64(effectiveAgents)
	}
	if len(states) > 0 {
		m.StabilityScore = consistency / float64(len(states))
	}
	return m
}
