package behavior

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/jordanhubbard/loomlearn/internal/executor"
	"github.com/jordanhubbard/loomlearn/internal/knowledge"
	"github.com/jordanhubbard/loomlearn/internal/performance"
	"github.com/jordanhubbard/loomlearn/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine *Engine
	store  *performance.Store
	clock  *clock.Mock
}

func newFixture(t *testing.T, exec executor.ActionExecutor, opts ...Option) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Add(24 * time.Hour)
	store := performance.NewStore(performance.WithClock(mock.Now))
	opts = append([]Option{WithClock(mock)}, opts...)
	engine := NewEngine(knowledge.NewTable[*models.AdaptiveBehaviorState](), store, exec, opts...)
	return &fixture{engine: engine, store: store, clock: mock}
}

func (f *fixture) ingest(t *testing.T, agentID string, n int, successRate float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.store.Ingest(models.PerformanceRecord{
			AgentID:        agentID,
			AgentType:      "coder",
			TaskType:       "refactor",
			SuccessRate:    successRate,
			ResponseTimeMs: 200,
			QualityScore:   0.7,
		})
		require.NoError(t, err)
	}
}

func pattern(agentID string, kind models.PatternKind, confidence float64) models.LearningPattern {
	return models.LearningPattern{
		ID:         string(kind) + "-" + agentID,
		AgentID:    agentID,
		AgentType:  "coder",
		Kind:       kind,
		Confidence: confidence,
		ContextFeatures: []models.ContextFeature{
			{Name: "task_type", Value: "refactor"},
		},
	}
}

func TestObservePattern_CreatesStateAndRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, ok := f.engine.State("A")
	assert.False(t, ok)

	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternFailure, 0.8)))
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternSuccess, 0.85)))
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternOptimization, 0.75)))

	s, ok := f.engine.State("A")
	require.True(t, ok)
	assert.Equal(t, models.PhaseIdle, s.Phase)
	assert.Equal(t, "coder", s.Category)
	require.Len(t, s.Triggers, 1)
	assert.Equal(t, DefaultTrigger(), s.Triggers[0])
	require.Len(t, s.Rules, 3)

	failure := ruleForKind(s, models.PatternFailure)
	require.NotNil(t, failure)
	assert.Equal(t, 9, failure.Priority)
	assert.Equal(t, 10*time.Minute, failure.Cooldown)
	assert.Equal(t, 5, failure.MaxApplications)
	assert.True(t, failure.RequiresValidation)
	assert.Zero(t, failure.SuccessRate)
	assert.Equal(t, models.ActionStrategyChange, failure.Action.Kind)
	assert.Equal(t, "refactor", failure.Action.Strategy.Avoid)

	success := ruleForKind(s, models.PatternSuccess)
	require.NotNil(t, success)
	assert.Equal(t, 8, success.Priority)
	assert.Equal(t, 5*time.Minute, success.Cooldown)
	assert.Equal(t, 10, success.MaxApplications)
	assert.InDelta(t, 0.85, success.SuccessRate, 1e-9)
	assert.Equal(t, models.ActionParameterAdjustment, success.Action.Kind)

	opt := ruleForKind(s, models.PatternOptimization)
	require.NotNil(t, opt)
	assert.Equal(t, 7, opt.Priority)
	assert.Equal(t, 15*time.Minute, opt.Cooldown)
	assert.Equal(t, 3, opt.MaxApplications)
	assert.Equal(t, models.ActionResourceReallocation, opt.Action.Kind)
}

func TestObservePattern_Validation(t *testing.T) {
	f := newFixture(t, nil)
	err := f.engine.ObservePattern(context.Background(), models.LearningPattern{AgentID: "A", Kind: "lucky"})
	assert.True(t, models.IsValidation(err))
	err = f.engine.ObservePattern(context.Background(), models.LearningPattern{Kind: models.PatternSuccess})
	assert.True(t, models.IsValidation(err))
	assert.Empty(t, f.engine.States())
}

func TestObservePattern_SupersedeKeepsCounters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.ingest(t, "A", 5, 0.3)

	first := pattern("A", models.PatternFailure, 0.8)
	require.NoError(t, f.engine.ObservePattern(ctx, first))
	res, err := f.engine.Evaluate(ctx, "A")
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)

	second := first
	second.ID = "failure-A-newer"
	require.NoError(t, f.engine.ObservePattern(ctx, second))

	s, _ := f.engine.State("A")
	require.Len(t, s.Rules, 1)
	assert.Equal(t, "failure-A-newer", s.Rules[0].SourcePatternID)
	assert.Equal(t, 1, s.Rules[0].Applications)
}

func TestEvaluate_CooldownAndCap(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.ingest(t, "A", 5, 0.3)
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternFailure, 0.8)))

	var appliedAt []time.Time
	evaluate := func() int {
		res, err := f.engine.Evaluate(ctx, "A")
		require.NoError(t, err)
		require.Equal(t, []string{models.MetricSuccessRate}, res.Fired)
		for _, rec := range res.Applied {
			appliedAt = append(appliedAt, rec.AppliedAt)
		}
		return len(res.Applied)
	}

	assert.Equal(t, 1, evaluate())
	assert.Equal(t, 0, evaluate(), "cooldown blocks immediate reapplication")
	f.clock.Add(9 * time.Minute)
	assert.Equal(t, 0, evaluate())
	f.clock.Add(time.Minute)
	assert.Equal(t, 1, evaluate())

	for i := 0; i < 3; i++ {
		f.clock.Add(10 * time.Minute)
		assert.Equal(t, 1, evaluate())
	}
	f.clock.Add(10 * time.Minute)
	assert.Equal(t, 0, evaluate(), "max applications reached")

	s, _ := f.engine.State("A")
	rule := s.Rules[0]
	assert.Equal(t, rule.MaxApplications, rule.Applications)
	assert.Equal(t, 5, s.Progress.TotalAdaptations)
	assert.Equal(t, 5, s.Progress.SuccessfulAdaptations)
	require.Len(t, appliedAt, 5)
	for i := 1; i < len(appliedAt); i++ {
		assert.GreaterOrEqual(t, appliedAt[i].Sub(appliedAt[i-1]), rule.Cooldown)
	}
}

func TestEvaluate_NoTriggerNoAdaptation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.ingest(t, "A", 5, 0.9)
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternSuccess, 0.85)))

	res, err := f.engine.Evaluate(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, res.Fired)
	assert.Empty(t, res.Applied)

	s, _ := f.engine.State("A")
	assert.Len(t, s.PerformanceHistory, 1)
	assert.Zero(t, s.Progress.TotalAdaptations)
}

func TestEvaluate_TriggerIgnoresRecordsOutsideWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.ingest(t, "A", 5, 0.3)
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternFailure, 0.8)))

	f.clock.Add(2 * time.Hour)
	res, err := f.engine.Evaluate(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, res.Fired)
}

func TestEvaluate_ExecutorFailureConsumesCounters(t *testing.T) {
	failing := executor.Func(func(ctx context.Context, agentID string, action models.AdaptationAction) (executor.Outcome, error) {
		return executor.Outcome{}, errors.New("executor offline")
	})
	var observed []models.AdaptationRecord
	f := newFixture(t, failing, WithObserver(func(agentID string, rec models.AdaptationRecord) {
		observed = append(observed, rec)
	}))
	ctx := context.Background()
	f.ingest(t, "A", 5, 0.3)
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternSuccess, 0.85)))

	res, err := f.engine.Evaluate(ctx, "A")
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.False(t, res.Applied[0].Success)
	assert.Contains(t, res.Applied[0].Error, "executor offline")
	assert.Len(t, observed, 1)

	s, _ := f.engine.State("A")
	rule := s.Rules[0]
	assert.Equal(t, 1, rule.Applications)
	assert.Equal(t, f.clock.Now(), rule.LastApplied)
	assert.InDelta(t, 0.85-0.1*0.85, rule.SuccessRate, 1e-9)
	assert.Equal(t, 1, s.Progress.TotalAdaptations)
	assert.Zero(t, s.Progress.SuccessfulAdaptations)
	assert.Empty(t, s.ParameterOverrides)
}

func TestEvaluate_ExecutorTimeout(t *testing.T) {
	blocking := executor.Func(func(ctx context.Context, agentID string, action models.AdaptationAction) (executor.Outcome, error) {
		<-ctx.Done()
		return executor.Outcome{}, ctx.Err()
	})
	f := newFixture(t, blocking, WithExecutorTimeout(20*time.Millisecond))
	ctx := context.Background()
	f.ingest(t, "A", 5, 0.3)
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternFailure, 0.8)))

	res, err := f.engine.Evaluate(ctx, "A")
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.False(t, res.Applied[0].Success)
	assert.Contains(t, res.Applied[0].Error, context.DeadlineExceeded.Error())
}

func TestEvaluate_SuccessfulAdjustmentSetsOverrides(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.ingest(t, "A", 5, 0.3)
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternSuccess, 0.85)))

	_, err := f.engine.Evaluate(ctx, "A")
	require.NoError(t, err)

	s, _ := f.engine.State("A")
	assert.InDelta(t, 0.85*1.1, s.ParameterOverrides["reinforcement_weight"], 1e-9)
	assert.InDelta(t, 0.85+0.1*0.15, s.Rules[0].SuccessRate, 1e-9)
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	var order []models.ActionKind
	recording := executor.Func(func(ctx context.Context, agentID string, action models.AdaptationAction) (executor.Outcome, error) {
		order = append(order, action.Kind)
		return executor.Outcome{Success: true}, nil
	})
	f := newFixture(t, recording)
	ctx := context.Background()
	f.ingest(t, "A", 5, 0.3)
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternOptimization, 0.75)))
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternSuccess, 0.85)))
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternFailure, 0.8)))

	_, err := f.engine.Evaluate(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []models.ActionKind{
		models.ActionStrategyChange,
		models.ActionParameterAdjustment,
		models.ActionResourceReallocation,
	}, order)
}

func TestEvaluate_UnknownAgent(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Evaluate(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestEvaluate_SameAgentIsSerialized(t *testing.T) {
	var inFlight, maxInFlight, calls atomic.Int32
	slow := executor.Func(func(ctx context.Context, agentID string, action models.AdaptationAction) (executor.Outcome, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		calls.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		return executor.Outcome{Success: true}, nil
	})
	f := newFixture(t, slow)
	ctx := context.Background()
	f.ingest(t, "A", 5, 0.3)
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternFailure, 0.8)))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Evaluate(ctx, "A")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int32(1), calls.Load(), "second pass sees the first pass's cooldown")

	s, _ := f.engine.State("A")
	assert.Equal(t, 1, s.Rules[0].Applications)
	assert.Len(t, s.RecentAdaptations, 1)
	assert.Len(t, s.PerformanceHistory, 2)
}

func TestEvaluateAll_DistinctAgentsRunConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()
	barrier := executor.Func(func(ctx context.Context, agentID string, action models.AdaptationAction) (executor.Outcome, error) {
		arrived.Done()
		select {
		case <-both:
			return executor.Outcome{Success: true}, nil
		case <-time.After(2 * time.Second):
			return executor.Outcome{}, errors.New("other agent never started")
		}
	})
	f := newFixture(t, barrier)
	ctx := context.Background()
	for _, id := range []string{"A", "B"} {
		f.ingest(t, id, 5, 0.3)
		require.NoError(t, f.engine.ObservePattern(ctx, pattern(id, models.PatternFailure, 0.8)))
	}

	results, err := f.engine.EvaluateAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.Len(t, res.Applied, 1, res.AgentID)
		assert.True(t, res.Applied[0].Success, res.AgentID)
	}
}

func TestTransferLearning(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternSuccess, 0.9)))

	require.NoError(t, f.engine.ObservePattern(ctx, pattern("B", models.PatternFailure, 0.8)))
	b, _ := f.engine.State("B")
	require.Len(t, b.Rules, 2)
	transferred := ruleForKind(b, models.PatternSuccess)
	require.NotNil(t, transferred)
	a, _ := f.engine.State("A")
	assert.NotEqual(t, a.Rules[0].ID, transferred.ID)
	assert.Zero(t, transferred.Applications)
	assert.InDelta(t, 0.9*0.9, transferred.SuccessRate, 1e-9)

	params := models.DefaultLearningParams()
	params.TransferLearning = false
	require.NoError(t, f.engine.SetParams(params))
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("C", models.PatternFailure, 0.8)))
	c, _ := f.engine.State("C")
	assert.Len(t, c.Rules, 1)
}

func TestRequestAdaptation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.ingest(t, "A", 5, 0.9)
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternSuccess, 0.85)))

	res, err := f.engine.RequestAdaptation(ctx, "A", "quality_improvement", map[string]float64{
		models.MetricQualityScore: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{models.MetricQualityScore}, res.Fired)
	assert.Len(t, res.Applied, 1)

	s, _ := f.engine.State("A")
	assert.Len(t, s.Triggers, 2)

	_, err = f.engine.RequestAdaptation(ctx, "A", "quality_improvement", map[string]float64{"happiness": 1})
	assert.True(t, models.IsValidation(err))
	_, err = f.engine.RequestAdaptation(ctx, "A", "", nil)
	assert.True(t, models.IsValidation(err))
	_, err = f.engine.RequestAdaptation(ctx, "A", "x", map[string]float64{models.MetricSuccessRate: 1.5})
	assert.True(t, models.IsValidation(err))
}

func TestRequestAdaptation_CreatesState(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.engine.RequestAdaptation(context.Background(), "new", "performance_optimization", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)

	s, ok := f.engine.State("new")
	require.True(t, ok)
	assert.Equal(t, "performance_optimization", s.Category)
}

func TestEvaluate_HistoryBounded(t *testing.T) {
	f := newFixture(t, nil, WithLogSizes(2, 3))
	ctx := context.Background()
	f.ingest(t, "A", 1, 0.9)
	require.NoError(t, f.engine.ObservePattern(ctx, pattern("A", models.PatternSuccess, 0.85)))

	for i := 0; i < 5; i++ {
		_, err := f.engine.Evaluate(ctx, "A")
		require.NoError(t, err)
	}
	s, _ := f.engine.State("A")
	assert.Len(t, s.PerformanceHistory, 3)
}

func TestState_ReturnsCopy(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.ObservePattern(context.Background(), pattern("A", models.PatternSuccess, 0.85)))

	s, _ := f.engine.State("A")
	s.Rules[0].Applications = 99
	s.ParameterOverrides["x"] = 1

	again, _ := f.engine.State("A")
	assert.Zero(t, again.Rules[0].Applications)
	assert.NotContains(t, again.ParameterOverrides, "x")
}

func TestSetParams_Validates(t *testing.T) {
	f := newFixture(t, nil)
	params := models.DefaultLearningParams()
	params.AdaptationRate = 2
	assert.True(t, models.IsValidation(f.engine.SetParams(params)))
	assert.Equal(t, models.DefaultLearningParams(), f.engine.Params())
}
