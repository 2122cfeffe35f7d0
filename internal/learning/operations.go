package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/loomlearn/internal/behavior"
	"github.com/jordanhubbard/loomlearn/internal/cache"
	"github.com/jordanhubbard/loomlearn/internal/decision"
	"github.com/jordanhubbard/loomlearn/internal/insights"
	"github.com/jordanhubbard/loomlearn/internal/knowledge"
	"github.com/jordanhubbard/loomlearn/internal/patterns"
	"github.com/jordanhubbard/loomlearn/internal/performance"
	"github.com/jordanhubbard/loomlearn/internal/storage"
	"github.com/jordanhubbard/loomlearn/internal/telemetry"
	"github.com/jordanhubbard/loomlearn/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultHorizon is used when a prediction request names none.
	DefaultHorizon = time.Hour
	// predictionSample is how many of the newest records a prediction averages.
	predictionSample = 20
	// defaultResponseTimeMs stands in for a missing response time; it maps to
	// an efficiency of exactly 1.
	defaultResponseTimeMs = 1000
)

// IngestRequest is an ingest-performance request. Metrics are pointers so an
// absent value can be told apart from zero.
type IngestRequest struct {
	AgentID            string                `json:"agent_id"`
	AgentType          string                `json:"agent_type"`
	SessionID          string                `json:"session_id,omitempty"`
	TaskType           string                `json:"task_type"`
	Complexity         models.Complexity     `json:"complexity,omitempty"`
	SuccessRate        *float64              `json:"success_rate"`
	ResponseTimeMs     *float64              `json:"response_time_ms,omitempty"`
	QualityScore       *float64              `json:"quality_score,omitempty"`
	ContextUtilization *float64              `json:"context_utilization,omitempty"`
	ResourceUsage      *models.ResourceUsage `json:"resource_usage,omitempty"`
	ErrorTags          []string              `json:"error_tags,omitempty"`
	Timestamp          time.Time             `json:"timestamp,omitempty"`
}

// Record fills the defaults for missing optional metrics: response time
// 1000ms, quality equal to the success rate, no context or resource usage.
func (r IngestRequest) Record() models.PerformanceRecord {
	rec := models.PerformanceRecord{
		AgentID:        r.AgentID,
		AgentType:      r.AgentType,
		SessionID:      r.SessionID,
		TaskType:       r.TaskType,
		Complexity:     r.Complexity,
		ResponseTimeMs: defaultResponseTimeMs,
		ErrorTags:      r.ErrorTags,
		Timestamp:      r.Timestamp,
	}
	if r.SuccessRate != nil {
		rec.SuccessRate = *r.SuccessRate
		rec.QualityScore = *r.SuccessRate
	}
	if r.ResponseTimeMs != nil {
		rec.ResponseTimeMs = *r.ResponseTimeMs
	}
	if r.QualityScore != nil {
		rec.QualityScore = *r.QualityScore
	}
	if r.ContextUtilization != nil {
		rec.ContextUtilization = *r.ContextUtilization
	}
	if r.ResourceUsage != nil {
		rec.ResourceUsage = *r.ResourceUsage
	}
	return rec
}

// validateRequired checks the fields that have no default. Range checks are
// left to the store.
func (r IngestRequest) validateRequired() error {
	switch {
	case r.AgentID == "":
		return models.NewValidationError("agent_id", "is required")
	case r.AgentType == "":
		return models.NewValidationError("agent_type", "is required")
	case r.SuccessRate == nil:
		return models.NewValidationError("success_rate", "is required")
	}
	return nil
}

// IngestPerformance validates and stores one record. The agent's cached
// predictions are dropped.
func (c *Coordinator) IngestPerformance(ctx context.Context, req IngestRequest) (models.PerformanceRecord, error) {
	if err := req.validateRequired(); err != nil {
		c.metrics.RecordsRejected.Inc()
		return models.PerformanceRecord{}, err
	}
	evictedBefore := c.store.Evicted(req.AgentID)
	rec, err := c.store.Ingest(req.Record())
	if err != nil {
		c.metrics.RecordsRejected.Inc()
		return models.PerformanceRecord{}, err
	}
	c.predictions.InvalidateAgent(ctx, rec.AgentID)
	c.metrics.RecordIngest(rec.AgentType, c.store.Evicted(rec.AgentID) > evictedBefore)
	return rec, nil
}

// LearnRequest is a learn-from-pattern request.
type LearnRequest struct {
	AgentID         string                  `json:"agent_id"`
	PatternType     models.PatternKind      `json:"pattern_type"`
	ContextFeatures []models.ContextFeature `json:"context_features,omitempty"`
	Confidence      *float64                `json:"confidence,omitempty"`
}

// Validate checks the request before anything is recorded.
func (r LearnRequest) Validate() error {
	if r.AgentID == "" {
		return models.NewValidationError("agent_id", "is required")
	}
	if !r.PatternType.Valid() {
		return models.NewValidationError("pattern_type", fmt.Sprintf("unknown pattern type %q", r.PatternType))
	}
	if r.Confidence != nil {
		if err := models.ValidateProbability("confidence", *r.Confidence); err != nil {
			return err
		}
	}
	for i, f := range r.ContextFeatures {
		if strings.TrimSpace(f.Name) == "" {
			return models.NewValidationError(fmt.Sprintf("context_features[%d].name", i), "is required")
		}
		if err := models.ValidateProbability(fmt.Sprintf("context_features[%d].importance", i), f.Importance); err != nil {
			return err
		}
		if err := models.ValidateProbability(fmt.Sprintf("context_features[%d].stability", i), f.Stability); err != nil {
			return err
		}
		if f.Correlation < -1 || f.Correlation > 1 || math.IsNaN(f.Correlation) {
			return models.NewValidationError(fmt.Sprintf("context_features[%d].correlation", i), "must be within [-1,1]")
		}
	}
	return nil
}

// LearnFromPattern records an externally observed pattern and feeds it to
// the behavior engine exactly like a detected one. Missing confidence and
// features are filled from the kind defaults and the agent's recent records.
func (c *Coordinator) LearnFromPattern(ctx context.Context, req LearnRequest) (models.LearningPattern, error) {
	if err := req.Validate(); err != nil {
		return models.LearningPattern{}, err
	}
	ctx, span := telemetry.StartSpan(ctx, "learning.learn_from_pattern",
		attribute.String("agent_id", req.AgentID), attribute.String("kind", string(req.PatternType)))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	confidence, predictivePower, _ := patterns.KindDefaults(req.PatternType)
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	records := c.store.Records(req.AgentID, performance.LastN(c.cfg.WindowSize))
	p := models.LearningPattern{
		ID:              uuid.New().String(),
		AgentID:         req.AgentID,
		Kind:            req.PatternType,
		ContextFeatures: append([]models.ContextFeature(nil), req.ContextFeatures...),
		Confidence:      confidence,
		PredictivePower: predictivePower,
		Source:          "external",
		LastSeen:        c.clock.Now(),
	}
	if len(records) > 0 {
		p.AgentType = records[len(records)-1].AgentType
		p.Outcome = patterns.Outcome(records)
		p.SampleSize = len(records)
		if len(p.ContextFeatures) == 0 {
			p.ContextFeatures = patterns.ExtractFeatures(records)
		}
	}

	if err = c.engine.ObservePattern(ctx, p); err != nil {
		return models.LearningPattern{}, err
	}
	c.kb.Patterns.Append(p)
	c.patternRecorded(ctx, p)
	log.Printf("[Learning] Agent %s: learned external %s pattern %s", p.AgentID, p.Kind, p.ID)
	return p, nil
}

// MakeDecision scores the catalogue options for the request.
func (c *Coordinator) MakeDecision(ctx context.Context, req decision.Request) (*models.Decision, error) {
	ctx, span := telemetry.StartSpan(ctx, "learning.make_decision", attribute.String("decision_type", req.Type))
	d, err := c.decisions.MakeDecision(ctx, req)
	c.metrics.RecordDecision(req.Type, err)
	telemetry.EndSpan(span, err)
	return d, err
}

// AdaptRequest is an adapt-behavior request.
type AdaptRequest struct {
	AgentID       string             `json:"agent_id"`
	BehaviorType  string             `json:"behavior_type"`
	TargetMetrics map[string]float64 `json:"target_metrics,omitempty"`
}

// AdaptBehavior turns the target metrics into triggers and evaluates the
// agent immediately.
func (c *Coordinator) AdaptBehavior(ctx context.Context, req AdaptRequest) (behavior.EvaluationResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "learning.adapt_behavior", attribute.String("agent_id", req.AgentID))
	res, err := c.engine.RequestAdaptation(ctx, req.AgentID, req.BehaviorType, req.TargetMetrics)
	telemetry.EndSpan(span, err)
	if err == nil {
		c.metrics.ActiveBehaviors.Set(float64(c.kb.Behaviors.Len()))
	}
	return res, err
}

// GetInsights returns logged insights matching f, in insertion order.
func (c *Coordinator) GetInsights(ctx context.Context, f insights.Filter) ([]models.Insight, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return c.insightLog.Query(f), nil
}

// PredictRequest is a predict-performance request.
type PredictRequest struct {
	AgentID  string        `json:"agent_id"`
	TaskType string        `json:"task_type,omitempty"`
	Horizon  time.Duration `json:"horizon,omitempty"`
}

// PredictPerformance averages the agent's newest records, optionally only
// those of one task type. The baseline model's accuracy scales the
// confidence. Unknown agents get an empty prediction with a zero sample size.
func (c *Coordinator) PredictPerformance(ctx context.Context, req PredictRequest) (models.Prediction, error) {
	if req.AgentID == "" {
		return models.Prediction{}, models.NewValidationError("agent_id", "is required")
	}
	if req.Horizon < 0 {
		return models.Prediction{}, models.NewValidationError("horizon", "must not be negative")
	}
	if req.Horizon == 0 {
		req.Horizon = DefaultHorizon
	}

	model, _ := c.kb.Models.Get(knowledge.BaselineModelID)
	out := models.Prediction{
		AgentID:  req.AgentID,
		TaskType: req.TaskType,
		Horizon:  req.Horizon,
		Basis: models.PredictionBasis{
			ModelID:  model.ID,
			Version:  model.Version,
			Method:   "historical_average",
			Accuracy: model.Accuracy,
		},
	}
	if !c.store.Has(req.AgentID) {
		return out, nil
	}

	key := cache.Key(req.AgentID, req.TaskType, req.Horizon)
	gen := c.predictions.Generation(req.AgentID)
	if p, ok := c.predictions.Get(ctx, key); ok {
		c.metrics.PredictionCacheHits.Inc()
		return p, nil
	}
	c.metrics.PredictionCacheMisses.Inc()

	var sample []models.PerformanceRecord
	for rec := range c.store.Query(req.AgentID, performance.Window{}) {
		if req.TaskType == "" || rec.TaskType == req.TaskType {
			sample = append(sample, rec)
		}
	}
	if len(sample) > predictionSample {
		sample = sample[len(sample)-predictionSample:]
	}
	if len(sample) == 0 {
		return out, nil
	}

	n := float64(len(sample))
	var success, quality, responseTime float64
	for _, rec := range sample {
		success += rec.SuccessRate
		quality += rec.QualityScore
		responseTime += rec.ResponseTimeMs
	}
	out.ExpectedSuccessRate = success / n
	out.ExpectedQuality = quality / n
	out.ExpectedResponseTime = responseTime / n
	out.Confidence = model.Accuracy * math.Min(1, n/predictionSample)
	out.Basis.SampleSize = len(sample)
	out.Basis.From = sample[0].Timestamp
	out.Basis.To = sample[len(sample)-1].Timestamp

	c.predictions.Set(ctx, key, out, 0, gen)
	return out, nil
}

// GetLearningProgress returns one agent's progress, or a global summary when
// agentID is empty. Unknown agents get an empty snapshot.
func (c *Coordinator) GetLearningProgress(ctx context.Context, agentID string) (models.ProgressSnapshot, error) {
	if agentID == "" {
		return c.globalProgress(), nil
	}

	snap := models.ProgressSnapshot{
		AgentID:      agentID,
		RecordCount:  c.store.Count(agentID),
		PatternCount: len(c.kb.Patterns.ForAgent(agentID)),
	}
	if current := c.kb.Patterns.Current(agentID); len(current) > 0 {
		snap.CurrentPatterns = current
	}
	s, ok := c.engine.State(agentID)
	if !ok {
		if snap.RecordCount > 0 {
			snap.Phase = models.PhaseUninitialized
		}
		return snap, nil
	}
	snap.Phase = s.Phase
	snap.Progress = s.Progress
	snap.Stability = s.Stability
	snap.ActiveRules = activeRules(s)
	snap.ParameterOverrides = s.ParameterOverrides
	return snap, nil
}

func (c *Coordinator) globalProgress() models.ProgressSnapshot {
	states := c.engine.States()
	all := c.kb.Patterns.All()
	metrics := c.LearningMetrics()

	snap := models.ProgressSnapshot{
		AgentCount:        len(c.store.Agents()),
		PatternCount:      len(all),
		PatternsSeen:      c.kb.Patterns.Total(),
		InsightsGenerated: c.insightLog.Total(),
		PatternsByKind:    make(map[string]int),
		Metrics:           &metrics,
	}
	for _, p := range all {
		snap.PatternsByKind[string(p.Kind)]++
	}
	for _, agentID := range c.store.Agents() {
		snap.RecordCount += c.store.Count(agentID)
	}

	consistency := 0.0
	for _, s := range states {
		snap.Progress.TotalAdaptations += s.Progress.TotalAdaptations
		snap.Progress.SuccessfulAdaptations += s.Progress.SuccessfulAdaptations
		snap.Progress.LearningVelocity += s.Progress.LearningVelocity
		snap.ActiveRules += activeRules(s)
		consistency += s.Stability.Consistency
	}
	snap.Progress.ExplorationRate = c.engine.Params().ExplorationRate
	if len(states) > 0 {
		snap.Progress.LearningVelocity /= float64(len(states))
		snap.Stability.Consistency = consistency / float64(len(states))
	}
	return snap
}

// activeRules counts rules that have not exhausted their applications.
func activeRules(s *models.AdaptiveBehaviorState) int {
	n := 0
	for _, r := range s.Rules {
		if r.Applications < r.MaxApplications {
			n++
		}
	}
	return n
}

// ConfigureLearning validates and persists new learning params, then applies
// them to future rule synthesis and success-rate updates. The detector's
// heuristic constants are not affected.
func (c *Coordinator) ConfigureLearning(ctx context.Context, params models.LearningParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	if err := c.storage.Put(ctx, KeyLearningConfig, data); err != nil {
		return fmt.Errorf("persist learning params: %w", err)
	}
	if err := c.engine.SetParams(params); err != nil {
		return err
	}
	log.Printf("[Learning] Learning params updated: adaptation %.2f, exploration %.2f, retention %.2f, forgetting %.2f, transfer %t",
		params.AdaptationRate, params.ExplorationRate, params.MemoryRetention, params.ForgettingFactor, params.TransferLearning)
	return nil
}

// Params returns the learning params currently in effect.
func (c *Coordinator) Params() models.LearningParams {
	return c.engine.Params()
}

// ExportRequest selects the sections of an export. Counts are always included.
type ExportRequest struct {
	IncludePatterns  bool `json:"include_patterns"`
	IncludeModels    bool `json:"include_models"`
	IncludeBehaviors bool `json:"include_behaviors"`
	IncludeInsights  bool `json:"include_insights"`
}

// ExportIntelligence builds a versioned snapshot of everything learned and
// persists it under export/<id>.
func (c *Coordinator) ExportIntelligence(ctx context.Context, req ExportRequest) (*models.IntelligenceSnapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, "learning.export_intelligence")
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	patternList := c.kb.Patterns.All()
	behaviors := c.engine.States()
	insightList := c.insightLog.All()
	modelList := make([]models.PredictiveModelDescriptor, 0, c.kb.Models.Len())
	for _, m := range c.kb.Models.All() {
		modelList = append(modelList, m)
	}

	snap := &models.IntelligenceSnapshot{
		ID:         uuid.New().String(),
		Version:    models.SnapshotVersion,
		ExportedAt: c.clock.Now(),
		Params:     c.engine.Params(),
		Metrics:    c.LearningMetrics(),
		Counts: models.SnapshotCounts{
			Patterns:  len(patternList),
			Models:    len(modelList),
			Behaviors: len(behaviors),
			Insights:  len(insightList),
		},
	}
	if req.IncludePatterns {
		snap.Patterns = patternList
	}
	if req.IncludeModels {
		snap.Models = modelList
	}
	if req.IncludeBehaviors {
		snap.Behaviors = behaviors
	}
	if req.IncludeInsights {
		snap.Insights = insightList
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if err = c.storage.Put(ctx, ExportKeyPrefix+snap.ID, data); err != nil {
		return nil, fmt.Errorf("persist export: %w", err)
	}
	log.Printf("[Learning] Exported intelligence %s (%d patterns, %d behaviors, %d insights)",
		snap.ID, snap.Counts.Patterns, snap.Counts.Behaviors, snap.Counts.Insights)
	return snap, nil
}

// Exports lists the ids of persisted exports.
func (c *Coordinator) Exports(ctx context.Context) ([]string, error) {
	keys, err := c.storage.List(ctx, ExportKeyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, ExportKeyPrefix)
	}
	return ids, nil
}

// LoadExport reads a persisted export back.
func (c *Coordinator) LoadExport(ctx context.Context, id string) (*models.IntelligenceSnapshot, error) {
	data, err := c.storage.Get(ctx, ExportKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	var snap models.IntelligenceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode export %s: %w", id, err)
	}
	return &snap, nil
}

// PredictionCacheStats reports the prediction cache counters.
func (c *Coordinator) PredictionCacheStats(ctx context.Context) cache.Stats {
	return c.predictions.GetStats(ctx)
}

// CheckStorage pings the persistence backend.
func (c *Coordinator) CheckStorage(ctx context.Context) error {
	return storage.Ping(ctx, c.storage)
}
