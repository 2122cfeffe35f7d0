package behavior

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/loomlearn/pkg/models"
)

// ruleTemplate holds the fixed bounds of the rule synthesized for a pattern kind.
type ruleTemplate struct {
	name               string
	priority           int
	cooldown           time.Duration
	maxApplications    int
	requiresValidation bool
}

var ruleTemplates = map[models.PatternKind]ruleTemplate{
	models.PatternSuccess:      {name: "reinforce-success", priority: 8, cooldown: 5 * time.Minute, maxApplications: 10},
	models.PatternFailure:      {name: "avoid-failure", priority: 9, cooldown: 10 * time.Minute, maxApplications: 5, requiresValidation: true},
	models.PatternOptimization: {name: "reallocate-for-optimization", priority: 7, cooldown: 15 * time.Minute, maxApplications: 3},
}

// synthesizeRule builds the rule a pattern implies. The learning params
// weight the synthesized action; the bounds come from the kind's template.
func synthesizeRule(p models.LearningPattern, params models.LearningParams) (*models.AdaptationRule, error) {
	tmpl, ok := ruleTemplates[p.Kind]
	if !ok {
		return nil, models.NewValidationError("pattern_type", fmt.Sprintf("unknown pattern kind %q", p.Kind))
	}

	rule := &models.AdaptationRule{
		ID:                 uuid.New().String(),
		Name:               tmpl.name,
		SourcePatternKind:  p.Kind,
		SourcePatternID:    p.ID,
		Priority:           tmpl.priority,
		Cooldown:           tmpl.cooldown,
		MaxApplications:    tmpl.maxApplications,
		RequiresValidation: tmpl.requiresValidation,
	}

	switch p.Kind {
	case models.PatternSuccess:
		rule.Condition = "success pattern observed"
		rule.SuccessRate = p.Confidence
		rule.Action = models.AdaptationAction{
			Kind: models.ActionParameterAdjustment,
			Parameter: &models.ParameterAdjustment{Parameters: map[string]float64{
				"reinforcement_weight": p.Confidence * (1 + params.AdaptationRate),
				"exploration_rate":     params.ExplorationRate * (1 - params.AdaptationRate),
			}},
		}
	case models.PatternFailure:
		rule.Condition = "failure pattern observed"
		rule.SuccessRate = 0
		rule.Action = models.AdaptationAction{
			Kind:     models.ActionStrategyChange,
			Strategy: &models.StrategyChange{Strategy: "conservative", Avoid: featureString(p, "task_type")},
		}
	case models.PatternOptimization:
		rule.Condition = "optimization pattern observed"
		rule.SuccessRate = p.Confidence
		rule.Action = models.AdaptationAction{
			Kind:     models.ActionResourceReallocation,
			Resource: &models.ResourceReallocation{Resource: "compute", Delta: params.AdaptationRate},
		}
	}
	return rule, nil
}

// transferRule copies a rule template learned by another agent. Counters
// start fresh; the observed success rate is carried over discounted by
// memory retention.
func transferRule(src *models.AdaptationRule, params models.LearningParams) *models.AdaptationRule {
	r := *src
	r.ID = uuid.New().String()
	r.Applications = 0
	r.LastApplied = time.Time{}
	r.SuccessRate = src.SuccessRate * params.MemoryRetention
	r.Action = cloneAction(src.Action)
	return &r
}

func cloneAction(a models.AdaptationAction) models.AdaptationAction {
	out := a
	if a.Parameter != nil {
		params := make(map[string]float64, len(a.Parameter.Parameters))
		for k, v := range a.Parameter.Parameters {
			params[k] = v
		}
		out.Parameter = &models.ParameterAdjustment{Parameters: params}
	}
	if a.Strategy != nil {
		s := *a.Strategy
		out.Strategy = &s
	}
	if a.Resource != nil {
		r := *a.Resource
		out.Resource = &r
	}
	if a.Context != nil {
		c := *a.Context
		out.Context = &c
	}
	return out
}

func featureString(p models.LearningPattern, name string) string {
	for _, f := range p.ContextFeatures {
		if f.Name == name && f.Value != nil {
			return fmt.Sprint(f.Value)
		}
	}
	return ""
}

func ruleForKind(s *models.AdaptiveBehaviorState, kind models.PatternKind) *models.AdaptationRule {
	for _, r := range s.Rules {
		if r.SourcePatternKind == kind {
			return r
		}
	}
	return nil
}
