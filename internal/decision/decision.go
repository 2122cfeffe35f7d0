package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/loomlearn/pkg/models"
)

// ErrUnknownDecisionType is wrapped by the validation error returned for a
// decision type the catalogue does not know.
var ErrUnknownDecisionType = errors.New("unknown decision type")

// Score weights. They sum to 1 so a score over [0,1] inputs stays in [0,1].
const (
	weightPerformance = 0.3
	weightQuality     = 0.25
	weightEfficiency  = 0.2
	weightCost        = 0.15
	weightRisk        = 0.1

	maxConfidence = 0.95
)

// Request is a make-decision request
type Request struct {
	Type        string                 `json:"decision_type"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Objectives  []string               `json:"objectives"`
	Constraints map[string]interface{} `json:"constraints,omitempty"`
}

// Validate checks the request shape; the decision type is checked against
// the catalogue by the engine.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return models.NewValidationError("decision_type", "is required")
	}
	if len(r.Objectives) == 0 {
		return models.NewValidationError("objectives", "at least one objective is required")
	}
	return nil
}

// Catalogue supplies the candidate options for a decision type. Options are
// returned in a stable order; that order breaks score ties.
type Catalogue interface {
	Options(ctx context.Context, decisionType string) ([]models.DecisionOption, bool)
}

// StaticCatalogue is a fixed in-memory catalogue
type StaticCatalogue map[string][]models.DecisionOption

// Options returns a copy of the options registered for decisionType.
func (c StaticCatalogue) Options(_ context.Context, decisionType string) ([]models.DecisionOption, bool) {
	opts, ok := c[decisionType]
	if !ok {
		return nil, false
	}
	return append([]models.DecisionOption(nil), opts...), true
}

// DefaultCatalogue returns the baseline catalogue.
func DefaultCatalogue() StaticCatalogue {
	return StaticCatalogue{
		"agent_selection": {
			{
				ID:          "specialized-agent",
				Name:        "specialized agent",
				Description: "Route the task to an agent specialized for its task type",
				ExpectedOutcome: models.OutcomeMetrics{
					Performance: 0.9, Quality: 0.85, Efficiency: 0.7, UserSatisfaction: 0.85, GoalAchievement: 0.9,
				},
				Risk:     0.4,
				Cost:     0.9,
				Timeline: 30 * time.Minute,
			},
			{
				ID:          "general-agent",
				Name:        "general agent",
				Description: "Route the task to a general purpose agent",
				ExpectedOutcome: models.OutcomeMetrics{
					Performance: 0.75, Quality: 0.7, Efficiency: 0.8, UserSatisfaction: 0.75, GoalAchievement: 0.75,
				},
				Risk:     0.4,
				Cost:     0.5,
				Timeline: 15 * time.Minute,
			},
		},
		"strategy_selection": {
			{
				ID:          "conservative-strategy",
				Name:        "conservative strategy",
				Description: "Keep proven behavior and change one parameter at a time",
				ExpectedOutcome: models.OutcomeMetrics{
					Performance: 0.7, Quality: 0.8, Efficiency: 0.6, UserSatisfaction: 0.8, GoalAchievement: 0.75,
				},
				Risk:     0.1,
				Cost:     0.3,
				Timeline: time.Hour,
			},
			{
				ID:          "aggressive-strategy",
				Name:        "aggressive strategy",
				Description: "Explore new behavior with several simultaneous changes",
				ExpectedOutcome: models.OutcomeMetrics{
					Performance: 0.85, Quality: 0.7, Efficiency: 0.75, UserSatisfaction: 0.7, GoalAchievement: 0.8,
				},
				Risk:     0.5,
				Cost:     0.6,
				Timeline: 20 * time.Minute,
			},
		},
		"resource_allocation": {
			{
				ID:          "balanced-allocation",
				Name:        "balanced allocation",
				Description: "Spread resources evenly across active agents",
				ExpectedOutcome: models.OutcomeMetrics{
					Performance: 0.75, Quality: 0.75, Efficiency: 0.75, UserSatisfaction: 0.75, GoalAchievement: 0.75,
				},
				Risk:     0.2,
				Cost:     0.4,
				Timeline: 10 * time.Minute,
			},
			{
				ID:          "focused-allocation",
				Name:        "focused allocation",
				Description: "Concentrate resources on the highest performing agents",
				ExpectedOutcome: models.OutcomeMetrics{
					Performance: 0.85, Quality: 0.8, Efficiency: 0.6, UserSatisfaction: 0.7, GoalAchievement: 0.8,
				},
				Risk:     0.35,
				Cost:     0.7,
				Timeline: 10 * time.Minute,
			},
		},
	}
}

// ScoreOption computes the weighted score of an option.
func ScoreOption(o models.DecisionOption) float64 {
	return o.ExpectedOutcome.Performance*weightPerformance +
		o.ExpectedOutcome.Quality*weightQuality +
		o.ExpectedOutcome.Efficiency*weightEfficiency +
		(1-o.Cost)*weightCost +
		(1-o.Risk)*weightRisk
}

// Engine makes stateless weighted decisions over a catalogue
type Engine struct {
	catalogue Catalogue
	now       func() time.Time
}

// NewEngine creates a decision engine. A nil catalogue uses DefaultCatalogue.
func NewEngine(catalogue Catalogue) *Engine {
	if catalogue == nil {
		catalogue = DefaultCatalogue()
	}
	return &Engine{catalogue: catalogue, now: time.Now}
}

// MakeDecision scores every catalogue option for the request type and picks
// the highest; ties go to the option listed first.
func (e *Engine) MakeDecision(ctx context.Context, req Request) (*models.Decision, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	options, ok := e.catalogue.Options(ctx, req.Type)
	if !ok || len(options) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrUnknownDecisionType,
			models.NewValidationError("decision_type", fmt.Sprintf("unknown decision type %q", req.Type)))
	}

	best, runnerUp := -1, -1
	scores := make([]float64, len(options))
	for i, o := range options {
		scores[i] = ScoreOption(o)
		switch {
		case best < 0 || scores[i] > scores[best]:
			runnerUp, best = best, i
		case runnerUp < 0 || scores[i] > scores[runnerUp]:
			runnerUp = i
		}
	}

	selected := options[best]
	d := &models.Decision{
		ID:          uuid.New().String(),
		Type:        req.Type,
		Context:     req.Context,
		Objectives:  append([]string(nil), req.Objectives...),
		Constraints: req.Constraints,
		Selected:    selected,
		Score:       scores[best],
		Confidence:  min(maxConfidence, scores[best]),
		DecidedAt:   e.now(),
	}
	d.Reasoning = fmt.Sprintf("Selected %s with weighted score %.4f for objectives [%s]",
		selected.Name, scores[best], strings.Join(req.Objectives, ", "))

	if runnerUp >= 0 {
		alt := options[runnerUp]
		d.Alternatives = []models.Alternative{{
			Option:   alt,
			Score:    scores[runnerUp],
			Tradeoff: fmt.Sprintf("Scores %.4f below %s; trades expected outcome against cost and risk differently", scores[best]-scores[runnerUp], selected.Name),
		}}
	}
	return d, nil
}
