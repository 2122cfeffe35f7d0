// Package learning is the continuous learning coordinator. It owns the
// telemetry store, the knowledge base and every engine of the loop, runs the
// fast and slow ticks, and exposes the operation catalogue to transports.
package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/jordanhubbard/loomlearn/internal/behavior"
	"github.com/jordanhubbard/loomlearn/internal/cache"
	"github.com/jordanhubbard/loomlearn/internal/decision"
	"github.com/jordanhubbard/loomlearn/internal/executor"
	"github.com/jordanhubbard/loomlearn/internal/insights"
	"github.com/jordanhubbard/loomlearn/internal/knowledge"
	"github.com/jordanhubbard/loomlearn/internal/messagebus"
	"github.com/jordanhubbard/loomlearn/internal/metrics"
	"github.com/jordanhubbard/loomlearn/internal/patterns"
	"github.com/jordanhubbard/loomlearn/internal/performance"
	"github.com/jordanhubbard/loomlearn/internal/scheduler"
	"github.com/jordanhubbard/loomlearn/internal/storage"
	"github.com/jordanhubbard/loomlearn/internal/telemetry"
	"github.com/jordanhubbard/loomlearn/pkg/config"
	"github.com/jordanhubbard/loomlearn/pkg/messages"
	"github.com/jordanhubbard/loomlearn/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Tick names registered with the scheduler.
const (
	FastTick = "fast"
	SlowTick = "slow"
)

// Storage keys.
const (
	KeyLearningConfig  = "config/learning"
	KeyLearningMetrics = "metrics/learning"
	ExportKeyPrefix    = "export/"
)

const (
	eventSource    = "loomlearn"
	publishTimeout = 2 * time.Second
)

// Coordinator runs the learning loop
type Coordinator struct {
	cfg   config.LearningConfig
	clock clock.Clock

	store       *performance.Store
	kb          *knowledge.Base
	detector    *patterns.Detector
	engine      *behavior.Engine
	decisions   *decision.Engine
	generator   *insights.Generator
	insightLog  *insights.Log
	scheduler   *scheduler.Scheduler
	storage     storage.Storage
	publisher   messagebus.EventPublisher
	predictions *cache.Cache
	metrics     *metrics.Metrics

	executor    executor.ActionExecutor
	catalogue   decision.Catalogue
	cacheConfig *cache.Config

	mu              sync.RWMutex
	learningMetrics models.LearningMetrics
	cancelCleanup   context.CancelFunc
}

// Option configures a Coordinator's collaborators
type Option func(*Coordinator)

// WithClock injects the clock used for ticks, cooldowns and timestamps.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

// WithExecutor sets the action executor. The default only logs.
func WithExecutor(e executor.ActionExecutor) Option {
	return func(co *Coordinator) {
		co.executor = e
	}
}

// WithStorage sets the key/value store. The default is in memory.
func WithStorage(s storage.Storage) Option {
	return func(co *Coordinator) {
		if s != nil {
			co.storage = s
		}
	}
}

// WithPublisher publishes insight, pattern, adaptation and metrics events.
func WithPublisher(p messagebus.EventPublisher) Option {
	return func(co *Coordinator) {
		co.publisher = p
	}
}

// WithCatalogue replaces the baseline decision catalogue.
func WithCatalogue(c decision.Catalogue) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.catalogue = c
		}
	}
}

// WithCacheConfig configures the prediction cache.
func WithCacheConfig(c *cache.Config) Option {
	return func(co *Coordinator) {
		co.cacheConfig = c
	}
}

// New builds a coordinator from the learning section of the configuration.
func New(cfg config.LearningConfig, opts ...Option) (*Coordinator, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:       cfg,
		clock:     clock.New(),
		storage:   storage.NewMemory(),
		catalogue: decision.DefaultCatalogue(),
		metrics:   metrics.NewMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.store = performance.NewStore(
		performance.WithCapacity(cfg.RecordCapacity),
		performance.WithClock(c.clock.Now),
	)
	c.kb = knowledge.NewBase(cfg.PatternRetention)
	c.detector = patterns.NewDetector(c.store, c.kb.Patterns,
		patterns.WithMinRecords(cfg.MinRecords),
		patterns.WithWindowSize(cfg.WindowSize),
		patterns.WithClock(c.clock.Now),
	)
	c.engine = behavior.NewEngine(c.kb.Behaviors, c.store, c.executor,
		behavior.WithClock(c.clock),
		behavior.WithExecutorTimeout(cfg.ExecutorTimeout),
		behavior.WithParams(cfg.Params),
		behavior.WithObserver(c.adaptationObserved),
	)
	c.decisions = decision.NewEngine(c.catalogue)
	c.generator = insights.NewGenerator(c.store)
	c.insightLog = insights.NewLog(cfg.InsightRetention)
	c.predictions = cache.New(c.cacheConfig).WithClock(c.clock.Now)

	c.scheduler = scheduler.New(
		scheduler.WithClock(c.clock),
		scheduler.WithShutdownTimeout(cfg.ShutdownTimeout),
		scheduler.WithObserver(c.metrics),
	)
	tasks := []scheduler.Task{
		{Name: FastTick, Interval: cfg.FastInterval, Run: c.fastTick},
		{Name: SlowTick, Interval: cfg.SlowInterval, Run: c.slowTick},
	}
	for _, t := range tasks {
		if err := c.scheduler.Add(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Start restores persisted learning params and begins both ticks.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.restoreParams(ctx); err != nil {
		log.Printf("[Learning] Could not restore learning params: %v", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelCleanup = cancel
	c.mu.Unlock()
	go c.predictions.Run(cleanupCtx)

	if err := c.scheduler.Start(ctx); err != nil {
		cancel()
		return err
	}
	log.Printf("[Learning] Coordinator started (fast tick %s, slow tick %s)", c.cfg.FastInterval, c.cfg.SlowInterval)
	return nil
}

// Stop halts tick scheduling and drains in-flight ticks, bounded by the
// shutdown timeout.
func (c *Coordinator) Stop(ctx context.Context) error {
	err := c.scheduler.Stop(ctx)

	c.mu.Lock()
	if c.cancelCleanup != nil {
		c.cancelCleanup()
	}
	c.mu.Unlock()

	if err != nil {
		log.Printf("[Learning] Coordinator stopped with error: %v", err)
		return err
	}
	log.Printf("[Learning] Coordinator stopped")
	return nil
}

func (c *Coordinator) restoreParams(ctx context.Context) error {
	data, err := c.storage.Get(ctx, KeyLearningConfig)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var params models.LearningParams
	if err := json.Unmarshal(data, &params); err != nil {
		return fmt.Errorf("decode %s: %w", KeyLearningConfig, err)
	}
	if err := c.engine.SetParams(params); err != nil {
		return err
	}
	log.Printf("[Learning] Restored learning params from %s", KeyLearningConfig)
	return nil
}

// RunFastTick runs the fast tick now. It returns scheduler.ErrTickInProgress
// if a fast tick is already running.
func (c *Coordinator) RunFastTick(ctx context.Context) error {
	return c.scheduler.RunNow(ctx, FastTick)
}

// RunSlowTick runs the slow tick now, under the same single-flight guard.
func (c *Coordinator) RunSlowTick(ctx context.Context) error {
	return c.scheduler.RunNow(ctx, SlowTick)
}

// TickStats reports what both ticks have done so far.
func (c *Coordinator) TickStats() []scheduler.TaskStats {
	return c.scheduler.Stats()
}

// LearningMetrics returns the aggregates computed by the latest slow tick.
func (c *Coordinator) LearningMetrics() models.LearningMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.learningMetrics
}

// fastTick detects patterns, feeds them to the behavior engine, evaluates
// every agent and derives insights.
func (c *Coordinator) fastTick(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "learning.fast_tick")
	start := c.clock.Now()
	defer func() {
		telemetry.TickLatency.Record(ctx, float64(c.clock.Now().Sub(start).Milliseconds()),
			metric.WithAttributes(attribute.String("tick", FastTick)))
		telemetry.EndSpan(span, err)
	}()

	found, err := c.detector.DetectAll(ctx)
	if err != nil {
		return fmt.Errorf("detect patterns: %w", err)
	}
	span.SetAttributes(attribute.Int("patterns", len(found)))

	var errs []error
	for _, p := range found {
		c.patternRecorded(ctx, p)
		if err := c.engine.ObservePattern(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("observe pattern %s: %w", p.ID, err))
		}
	}

	results, err := c.engine.EvaluateAll(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("evaluate behaviors: %w", err))
	}
	applied := 0
	for _, r := range results {
		applied += len(r.Applied)
	}

	generated, err := c.generator.Generate(ctx, found)
	if err != nil {
		errs = append(errs, fmt.Errorf("generate insights: %w", err))
	}
	c.insightLog.Append(generated...)
	for _, i := range generated {
		c.metrics.RecordInsight(i)
		telemetry.InsightsGenerated.Add(ctx, 1)
		c.publish(ctx, messages.InsightGenerated(i, eventSource))
	}

	c.metrics.ActiveBehaviors.Set(float64(c.kb.Behaviors.Len()))
	log.Printf("[Learning] Fast tick: %d pattern(s), %d adaptation(s), %d insight(s)", len(found), applied, len(generated))
	return errors.Join(errs...)
}

// slowTick recomputes and persists the aggregate learning metrics.
func (c *Coordinator) slowTick(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "learning.slow_tick")
	start := c.clock.Now()
	defer func() {
		telemetry.TickLatency.Record(ctx, float64(c.clock.Now().Sub(start).Milliseconds()),
			metric.WithAttributes(attribute.String("tick", SlowTick)))
		telemetry.EndSpan(span, err)
	}()

	m := computeLearningMetrics(c.kb.Patterns, c.engine.States(), c.clock.Now())

	c.mu.Lock()
	c.learningMetrics = m
	c.mu.Unlock()
	c.metrics.SetLearningMetrics(m)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := c.storage.Put(ctx, KeyLearningMetrics, data); err != nil {
		return fmt.Errorf("persist learning metrics: %w", err)
	}
	c.publish(ctx, messages.MetricsComputed(m, eventSource))
	log.Printf("[Learning] Slow tick: velocity %.3f/min, stability %.3f, %d adaptation(s)",
		m.LearningVelocity, m.StabilityScore, m.TotalAdaptations)
	return nil
}

func (c *Coordinator) patternRecorded(ctx context.Context, p models.LearningPattern) {
	c.metrics.RecordPattern(p)
	telemetry.PatternsDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(p.Kind))))
	c.publish(ctx, messages.PatternDetected(p, eventSource))
}

// adaptationObserved is the behavior engine observer.
func (c *Coordinator) adaptationObserved(agentID string, rec models.AdaptationRecord) {
	c.metrics.RecordAdaptation(rec)
	telemetry.AdaptationsApplied.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("action", string(rec.Action)), attribute.Bool("success", rec.Success)))
	c.publish(context.Background(), messages.AdaptationApplied(agentID, rec, eventSource))
}

// publish sends an event if a publisher is configured. Failures are logged,
// never returned: events are a side channel of the loop.
func (c *Coordinator) publish(ctx context.Context, event *messages.EventMessage) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := c.publisher.PublishEvent(ctx, event); err != nil {
		log.Printf("[Learning] Failed to publish %s: %v", event.Type, err)
		return
	}
	c.metrics.EventsPublished.WithLabelValues(event.Type).Inc()
}
