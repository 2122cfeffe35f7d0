package insights

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/loomlearn/internal/performance"
	"github.com/jordanhubbard/loomlearn/pkg/models"
)

const (
	// TrendMinRecords is the history an agent needs before trends are considered.
	TrendMinRecords = 20
	trendBlock      = 20

	trendSignificance   = 0.7
	trendHighPercent    = 20.0
	trendConfidence     = 0.8
	anomalyMinFrequency = 0.3
)

// anomalyImpact is the fixed impact attached to failure anomalies.
var anomalyImpact = models.ImpactVector{
	Performance:      -0.3,
	Quality:          -0.2,
	Efficiency:       -0.1,
	UserSatisfaction: -0.25,
}

// RecordSource is the telemetry the generator reads.
type RecordSource interface {
	Agents() []string
	Records(agentID string, w performance.Window) []models.PerformanceRecord
}

// Generator derives trend and anomaly insights
type Generator struct {
	source RecordSource
	now    func() time.Time
}

// NewGenerator creates a generator reading from source.
func NewGenerator(source RecordSource) *Generator {
	return &Generator{source: source, now: time.Now}
}

// Generate returns trend insights for every agent plus anomaly insights for
// the failure patterns detected this tick.
func (g *Generator) Generate(ctx context.Context, patterns []models.LearningPattern) ([]models.Insight, error) {
	insights := make([]models.Insight, 0)

	for _, agentID := range g.source.Agents() {
		if err := ctx.Err(); err != nil {
			return insights, err
		}
		if insight := g.checkTrend(agentID); insight != nil {
			insights = append(insights, *insight)
		}
	}

	for _, p := range patterns {
		if insight := g.checkAnomaly(p); insight != nil {
			insights = append(insights, *insight)
		}
	}

	for _, insight := range insights {
		log.Printf("[Insights] %s (%s, agent %s): %s", insight.Type, insight.Severity, insight.AgentID, insight.Title)
	}
	return insights, nil
}

// checkTrend compares the mean success rate of the newest 20 records with
// the up to 20 records before them.
func (g *Generator) checkTrend(agentID string) *models.Insight {
	records := g.source.Records(agentID, performance.LastN(2*trendBlock))
	n := len(records)
	if n < TrendMinRecords {
		return nil
	}
	recent := records[n-trendBlock:]
	previous := records[:n-trendBlock]
	if len(previous) == 0 {
		return nil
	}

	recentMean := meanSuccess(recent)
	previousMean := meanSuccess(previous)
	if previousMean == 0 {
		return nil
	}
	change := (recentMean - previousMean) / previousMean * 100
	if math.Abs(change)/100 <= trendSignificance {
		return nil
	}

	severity := models.SeverityMedium
	if math.Abs(change) > trendHighPercent {
		severity = models.SeverityHigh
	}
	direction := "improved"
	recommendation := fmt.Sprintf("Reinforce the behaviors behind agent %s's improvement and share them with agents of the same type", agentID)
	if change < 0 {
		direction = "declined"
		recommendation = fmt.Sprintf("Review recent changes affecting agent %s and consider rolling back its latest adaptations", agentID)
	}

	return &models.Insight{
		ID:          uuid.New().String(),
		Type:        models.InsightPerformance,
		Severity:    severity,
		Confidence:  trendConfidence,
		Title:       fmt.Sprintf("Success rate %s by %.1f%%", direction, math.Abs(change)),
		Description: fmt.Sprintf("Agent %s mean success rate moved from %.3f to %.3f over the last %d records", agentID, previousMean, recentMean, len(recent)),
		AgentID:     agentID,
		Evidence: []string{
			fmt.Sprintf("previous %d records mean success rate %.3f", len(previous), previousMean),
			fmt.Sprintf("recent %d records mean success rate %.3f", len(recent), recentMean),
		},
		Recommendations: []string{recommendation},
		Impact:          models.ImpactVector{Performance: math.Max(-1, math.Min(1, change/100))},
		Tags:            []string{"trend", direction, agentID},
		CreatedAt:       g.now(),
	}
}

// checkAnomaly flags failure patterns that cover a large share of an agent's window.
func (g *Generator) checkAnomaly(p models.LearningPattern) *models.Insight {
	if p.Kind != models.PatternFailure || p.Frequency <= anomalyMinFrequency {
		return nil
	}
	return &models.Insight{
		ID:          uuid.New().String(),
		Type:        models.InsightAnomaly,
		Severity:    models.SeverityHigh,
		Confidence:  p.Confidence,
		Title:       fmt.Sprintf("Recurring failures for agent %s", p.AgentID),
		Description: fmt.Sprintf("%.0f%% of agent %s's recent records fall below a 0.5 success rate", p.Frequency*100, p.AgentID),
		AgentID:     p.AgentID,
		Evidence: []string{
			fmt.Sprintf("failure pattern %s", p.ID),
			fmt.Sprintf("frequency %.2f over %d samples", p.Frequency, p.SampleSize),
			fmt.Sprintf("mean success rate %.3f", p.Outcome.Performance),
		},
		Recommendations: []string{
			fmt.Sprintf("CRITICAL: investigate the failure pattern for agent %s before further adaptations", p.AgentID),
		},
		Impact:    anomalyImpact,
		Tags:      []string{"anomaly", "failure", p.AgentID},
		CreatedAt: g.now(),
	}
}

func meanSuccess(records []models.PerformanceRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range records {
		sum += r.SuccessRate
	}
	return sum / float64(len(records))
}
