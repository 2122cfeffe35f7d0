package behavior

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/jordanhubbard/loomlearn/internal/executor"
	"github.com/jordanhubbard/loomlearn/internal/knowledge"
	"github.com/jordanhubbard/loomlearn/internal/performance"
	"github.com/jordanhubbard/loomlearn/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultAdaptationLogSize bounds each agent's recent-adaptation log.
	DefaultAdaptationLogSize = 50
	// DefaultHistorySize bounds each agent's performance history.
	DefaultHistorySize = 100
	// triggerSampleSize is how many of the newest in-window records a trigger averages.
	triggerSampleSize = 10
	// evaluateConcurrency limits how many agents EvaluateAll works on at once.
	evaluateConcurrency = 8
)

// ErrUnknownAgent is returned for mutations on an agent with no behavior state.
var ErrUnknownAgent = errors.New("unknown agent")

// DefaultTrigger is attached to every new behavior state.
func DefaultTrigger() models.TriggerCondition {
	return models.TriggerCondition{
		Metric:     models.MetricSuccessRate,
		Comparator: models.CompareLess,
		Threshold:  0.7,
		Weight:     0.5,
		Window:     time.Hour,
	}
}

// RecordSource is the telemetry the engine reads triggers and snapshots from.
type RecordSource interface {
	Records(agentID string, w performance.Window) []models.PerformanceRecord
	Latest(agentID string) (models.PerformanceRecord, bool)
}

// EvaluationResult reports one evaluation pass for an agent.
type EvaluationResult struct {
	AgentID string                    `json:"agent_id"`
	Fired   []string                  `json:"fired_triggers,omitempty"`
	Applied []models.AdaptationRecord `json:"applied,omitempty"`
	Skipped int                       `json:"skipped_rules"` // rules not eligible because of cooldown or cap
}

// Observer is told about every adaptation attempt after it is recorded.
type Observer func(agentID string, rec models.AdaptationRecord)

// Engine runs the per-agent adaptation control loop. States in the table are
// never mutated in place: a mutation clones the state under the agent's
// ownership token and stores the clone, so readers never block on a slow
// executor.
type Engine struct {
	states   *knowledge.Table[*models.AdaptiveBehaviorState]
	records  RecordSource
	executor executor.ActionExecutor
	clock    clock.Clock
	owners   *ownership

	paramsMu sync.RWMutex
	params   models.LearningParams

	timeout     time.Duration
	logSize     int
	historySize int
	observer    Observer
}

// Option configures an Engine
type Option func(*Engine)

// WithClock injects the clock used for cooldowns, windows and timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithExecutorTimeout bounds each action dispatch.
func WithExecutorTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogSizes overrides the adaptation log and performance history bounds.
func WithLogSizes(adaptations, history int) Option {
	return func(e *Engine) {
		if adaptations > 0 {
			e.logSize = adaptations
		}
		if history > 0 {
			e.historySize = history
		}
	}
}

// WithObserver registers a callback for adaptation attempts.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithParams sets the initial learning params.
func WithParams(p models.LearningParams) Option {
	return func(e *Engine) {
		e.params = p
	}
}

// NewEngine creates a behavior engine storing states in states. A nil
// executor falls back to the logging executor.
func NewEngine(states *knowledge.Table[*models.AdaptiveBehaviorState], records RecordSource, exec executor.ActionExecutor, opts ...Option) *Engine {
	if exec == nil {
		exec = executor.NewLoggingExecutor()
	}
	e := &Engine{
		states:      states,
		records:     records,
		executor:    exec,
		clock:       clock.New(),
		owners:      newOwnership(),
		params:      models.DefaultLearningParams(),
		timeout:     executor.DefaultTimeout,
		logSize:     DefaultAdaptationLogSize,
		historySize: DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Params returns the current learning params.
func (e *Engine) Params() models.LearningParams {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	return e.params
}

// SetParams replaces the learning params used for future synthesis and
// success-rate updates.
func (e *Engine) SetParams(p models.LearningParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.paramsMu.Lock()
	e.params = p
	e.paramsMu.Unlock()
	return nil
}

// State returns a deep copy of the agent's state.
func (e *Engine) State(agentID string) (*models.AdaptiveBehaviorState, bool) {
	s, ok := e.states.Get(agentID)
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// States returns deep copies of every state, sorted by agent id.
func (e *Engine) States() []*models.AdaptiveBehaviorState {
	var out []*models.AdaptiveBehaviorState
	for _, s := range e.states.All() {
		out = append(out, s.Clone())
	}
	return out
}

// ObservePattern creates the agent's state on its first pattern and
// synthesizes or refreshes the rule for the pattern's kind. There is one
// rule per agent and kind; a newer pattern updates the rule's source but
// never resets its counters.
func (e *Engine) ObservePattern(ctx context.Context, p models.LearningPattern) error {
	if p.AgentID == "" {
		return models.NewValidationError("agent_id", "is required")
	}
	if !p.Kind.Valid() {
		return models.NewValidationError("pattern_type", fmt.Sprintf("unknown pattern kind %q", p.Kind))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	release := e.owners.acquire(p.AgentID)
	defer release()

	params := e.Params()
	s := e.loadOrInit(p.AgentID, p.AgentType, params)

	if existing := ruleForKind(s, p.Kind); existing != nil {
		existing.SourcePatternID = p.ID
	} else {
		rule, err := synthesizeRule(p, params)
		if err != nil {
			return err
		}
		s.Rules = append(s.Rules, rule)
		log.Printf("[Behavior] Agent %s: synthesized %s rule from %s pattern", p.AgentID, rule.Name, p.Kind)
	}
	s.UpdatedAt = e.clock.Now()
	e.states.Put(p.AgentID, s)
	return nil
}

// loadOrInit returns a private clone of the agent's state, creating the
// default state if there is none. The caller must hold the agent's token.
func (e *Engine) loadOrInit(agentID, category string, params models.LearningParams) *models.AdaptiveBehaviorState {
	if s, ok := e.states.Get(agentID); ok {
		c := s.Clone()
		if c.Category == "" {
			c.Category = category
		}
		return c
	}

	now := e.clock.Now()
	s := &models.AdaptiveBehaviorState{
		AgentID:            agentID,
		Category:           category,
		Phase:              models.PhaseIdle,
		Triggers:           []models.TriggerCondition{DefaultTrigger()},
		ParameterOverrides: make(map[string]float64),
		Stability:          models.StabilityMetrics{Trend: models.TrendStable, Consistency: 1},
		Progress:           models.LearningProgress{ExplorationRate: params.ExplorationRate},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if params.TransferLearning && category != "" {
		e.transferInto(s, params)
	}
	log.Printf("[Behavior] Agent %s: behavior state initialized (category %q, %d transferred rules)", agentID, category, len(s.Rules))
	return s
}

// transferInto copies rule templates from other agents of the same category.
func (e *Engine) transferInto(s *models.AdaptiveBehaviorState, params models.LearningParams) {
	for id, other := range e.states.All() {
		if id == s.AgentID || other.Category != s.Category {
			continue
		}
		for _, r := range other.Rules {
			if ruleForKind(s, r.SourcePatternKind) != nil {
				continue
			}
			s.Rules = append(s.Rules, transferRule(r, params))
		}
	}
}

// RequestAdaptation adds the caller's target metrics as "below target"
// triggers, then evaluates the agent. The state is created if the agent has
// none yet.
func (e *Engine) RequestAdaptation(ctx context.Context, agentID, behaviorType string, targets map[string]float64) (EvaluationResult, error) {
	if agentID == "" {
		return EvaluationResult{}, models.NewValidationError("agent_id", "is required")
	}
	if behaviorType == "" {
		return EvaluationResult{}, models.NewValidationError("behavior_type", "is required")
	}
	names := make([]string, 0, len(targets))
	for name, v := range targets {
		if _, ok := (models.PerformanceRecord{}).Metric(name); !ok {
			return EvaluationResult{}, models.NewValidationError("target_metrics", fmt.Sprintf("unknown metric %q", name))
		}
		if name != models.MetricResponseTime {
			if err := models.ValidateProbability("target_metrics."+name, v); err != nil {
				return EvaluationResult{}, err
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	release := e.owners.acquire(agentID)
	category := behaviorType
	if rec, ok := e.records.Latest(agentID); ok && rec.AgentType != "" {
		category = rec.AgentType
	}
	s := e.loadOrInit(agentID, category, e.Params())
	for _, name := range names {
		setTrigger(s, models.TriggerCondition{
			Metric:     name,
			Comparator: models.CompareLess,
			Threshold:  targets[name],
			Weight:     1,
			Window:     time.Hour,
		})
	}
	s.UpdatedAt = e.clock.Now()
	e.states.Put(agentID, s)
	log.Printf("[Behavior] Agent %s: adaptation requested (%s, %d target metric(s))", agentID, behaviorType, len(names))
	release()

	return e.Evaluate(ctx, agentID)
}

// setTrigger replaces the trigger with the same metric and comparator, or appends it.
func setTrigger(s *models.AdaptiveBehaviorState, t models.TriggerCondition) {
	for i, existing := range s.Triggers {
		if existing.Metric == t.Metric && existing.Comparator == t.Comparator {
			s.Triggers[i] = t
			return
		}
	}
	s.Triggers = append(s.Triggers, t)
}

// EvaluateAll evaluates every agent with a behavior state. Distinct agents
// are evaluated concurrently.
func (e *Engine) EvaluateAll(ctx context.Context) ([]EvaluationResult, error) {
	ids := e.states.Keys()
	results := make([]EvaluationResult, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(evaluateConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := e.Evaluate(ctx, id)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Evaluate runs one idle → evaluating → applying → idle pass for the agent.
// Unknown agents return ErrUnknownAgent.
func (e *Engine) Evaluate(ctx context.Context, agentID string) (EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return EvaluationResult{}, err
	}
	release := e.owners.acquire(agentID)
	defer release()

	current, ok := e.states.Get(agentID)
	if !ok {
		return EvaluationResult{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	s := current.Clone()
	params := e.Params()
	now := e.clock.Now()
	result := EvaluationResult{AgentID: agentID}

	s.Phase = models.PhaseEvaluating
	e.states.Put(agentID, s.Clone())

	currentPerf := e.recordSnapshot(s, now)
	result.Fired = e.firedTriggers(s, now)

	if len(result.Fired) > 0 {
		s.Phase = models.PhaseApplying
		e.states.Put(agentID, s.Clone())
		result.Applied, result.Skipped = e.applyRules(ctx, s, currentPerf, params)
	}

	if m, ok := computeStability(s.PerformanceHistory); ok {
		s.Stability = m
	}
	updateProgress(s, params)
	s.Phase = models.PhaseIdle
	s.UpdatedAt = e.clock.Now()
	e.states.Put(agentID, s)

	for _, rec := range result.Applied {
		if e.observer != nil {
			e.observer(agentID, rec)
		}
	}
	return result, nil
}

// recordSnapshot appends the agent's latest performance to its bounded
// history and returns that performance.
func (e *Engine) recordSnapshot(s *models.AdaptiveBehaviorState, now time.Time) float64 {
	latest, ok := e.records.Latest(s.AgentID)
	if !ok {
		if n := len(s.PerformanceHistory); n > 0 {
			return s.PerformanceHistory[n-1].Performance
		}
		return 0
	}
	s.PerformanceHistory = append(s.PerformanceHistory, models.PerformanceSnapshot{
		Timestamp:   now,
		Performance: latest.SuccessRate,
		Quality:     latest.QualityScore,
	})
	if over := len(s.PerformanceHistory) - e.historySize; over > 0 {
		s.PerformanceHistory = append([]models.PerformanceSnapshot(nil), s.PerformanceHistory[over:]...)
	}
	return latest.SuccessRate
}

// firedTriggers returns the metric names of triggers whose condition holds.
// A trigger's value is the mean over the newest in-window records; with no
// records in the window it does not fire.
func (e *Engine) firedTriggers(s *models.AdaptiveBehaviorState, now time.Time) []string {
	var fired []string
	for _, t := range s.Triggers {
		records := e.records.Records(s.AgentID, performance.Window{Since: now.Add(-t.Window), Limit: triggerSampleSize})
		if len(records) == 0 {
			continue
		}
		sum, n := 0.0, 0
		for _, r := range records {
			if v, ok := r.Metric(t.Metric); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		if t.Comparator.Compare(sum/float64(n), t.Threshold) {
			fired = append(fired, t.Metric)
		}
	}
	return fired
}

// applyRules dispatches every eligible rule in priority order. Counters are
// consumed whether or not the executor succeeds.
func (e *Engine) applyRules(ctx context.Context, s *models.AdaptiveBehaviorState, perf float64, params models.LearningParams) ([]models.AdaptationRecord, int) {
	rules := append([]*models.AdaptationRule(nil), s.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	var applied []models.AdaptationRecord
	skipped := 0
	for _, rule := range rules {
		now := e.clock.Now()
		if !rule.Eligible(now) {
			skipped++
			continue
		}

		err := e.dispatch(ctx, s.AgentID, rule)
		rule.Applications++
		rule.LastApplied = now
		s.Progress.TotalAdaptations++

		rec := models.AdaptationRecord{
			RuleID:      rule.ID,
			Action:      rule.Action.Kind,
			AppliedAt:   now,
			Success:     err == nil,
			Performance: perf,
		}
		if err != nil {
			rec.Error = err.Error()
			rule.SuccessRate += params.AdaptationRate * (0 - rule.SuccessRate)
			log.Printf("[Behavior] Agent %s: rule %s failed: %v", s.AgentID, rule.Name, err)
		} else {
			s.Progress.SuccessfulAdaptations++
			rule.SuccessRate += params.AdaptationRate * (1 - rule.SuccessRate)
			applyOverrides(s, rule.Action)
		}

		s.RecentAdaptations = append(s.RecentAdaptations, rec)
		if over := len(s.RecentAdaptations) - e.logSize; over > 0 {
			s.RecentAdaptations = append([]models.AdaptationRecord(nil), s.RecentAdaptations[over:]...)
		}
		applied = append(applied, rec)
	}
	return applied, skipped
}

// dispatch sends one action to the executor under the engine's timeout.
func (e *Engine) dispatch(ctx context.Context, agentID string, rule *models.AdaptationRule) (err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
		if err != nil {
			err = &models.ExecutorError{AgentID: agentID, Action: rule.Action.Kind, Err: err}
		}
	}()

	outcome, err := e.executor.Execute(ctx, agentID, rule.Action)
	if err != nil {
		return err
	}
	if !outcome.Success {
		return errors.New("executor reported failure")
	}
	return nil
}

// applyOverrides records the parameters a successful adjustment set.
func applyOverrides(s *models.AdaptiveBehaviorState, action models.AdaptationAction) {
	if action.Kind != models.ActionParameterAdjustment || action.Parameter == nil {
		return
	}
	if s.ParameterOverrides == nil {
		s.ParameterOverrides = make(map[string]float64)
	}
	for k, v := range action.Parameter.Parameters {
		s.ParameterOverrides[k] = v
	}
}
