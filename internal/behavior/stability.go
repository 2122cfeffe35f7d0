package behavior

import "github.com/jordanhubbard/loomlearn/pkg/models"

const (
	stabilityWindow     = 10
	stabilityMinEntries = 5
	trendThreshold      = 0.05
	volatilityFloor     = 0.1
	plateauVariance     = 0.01
)

// computeStability summarizes the newest history entries. ok is false when
// there are too few entries, in which case the previous metrics stand.
func computeStability(history []models.PerformanceSnapshot) (models.StabilityMetrics, bool) {
	if len(history) < stabilityMinEntries {
		return models.StabilityMetrics{}, false
	}
	if len(history) > stabilityWindow {
		history = history[len(history)-stabilityWindow:]
	}

	values := make([]float64, len(history))
	for i, h := range history {
		values[i] = h.Performance
	}
	variance := populationVariance(values)

	m := models.StabilityMetrics{
		Variance:    variance,
		Trend:       trendOf(values),
		Consistency: 1 - min(1, variance),
	}
	if variance > volatilityFloor {
		m.Volatility = variance
	}
	return m, true
}

// trendOf compares the second half mean to the first half mean.
func trendOf(values []float64) models.Trend {
	first, second := halves(values)
	switch {
	case second > first*(1+trendThreshold):
		return models.TrendImproving
	case second < first*(1-trendThreshold):
		return models.TrendDeclining
	}
	return models.TrendStable
}

// velocity is the change between the half means, in performance units.
func velocity(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	first, second := halves(values)
	return second - first
}

func halves(values []float64) (float64, float64) {
	mid := len(values) / 2
	return meanOf(values[:mid]), meanOf(values[mid:])
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationVariance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := meanOf(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

// updateProgress recomputes velocity, plateau and exploration from history.
func updateProgress(s *models.AdaptiveBehaviorState, params models.LearningParams) {
	history := s.PerformanceHistory
	if len(history) > stabilityWindow {
		history = history[len(history)-stabilityWindow:]
	}
	values := make([]float64, len(history))
	for i, h := range history {
		values[i] = h.Performance
	}

	s.Progress.LearningVelocity = velocity(values)
	s.Progress.Plateau = len(values) >= stabilityMinEntries &&
		s.Stability.Trend == models.TrendStable &&
		s.Stability.Variance < plateauVariance
	s.Progress.ExplorationRate = params.ExplorationRate
	if s.Progress.Plateau {
		// explore more to get off a plateau
		s.Progress.ExplorationRate = min(1, 2*params.ExplorationRate)
	}
}
