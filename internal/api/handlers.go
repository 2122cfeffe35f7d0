package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jordanhubbard/loomlearn/internal/decision"
	"github.com/jordanhubbard/loomlearn/internal/insights"
	"github.com/jordanhubbard/loomlearn/internal/learning"
	"github.com/jordanhubbard/loomlearn/pkg/models"
)

// handleIngestPerformance handles POST /api/v1/performance
func (s *Server) handleIngestPerformance(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req learning.IngestRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	rec, err := s.learner.IngestPerformance(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":      "accepted",
		"agent_id":    rec.AgentID,
		"improvement": rec.Improvement,
		"timestamp":   rec.Timestamp,
	})
}

// handleLearnPattern handles POST /api/v1/patterns
func (s *Server) handleLearnPattern(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req learning.LearnRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	p, err := s.learner.LearnFromPattern(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, p)
}

// handleDecisions handles POST /api/v1/decisions
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req decision.Request
	if err := s.parseJSON(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	d, err := s.learner.MakeDecision(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

// handleAdaptBehavior handles POST /api/v1/behaviors/adapt
func (s *Server) handleAdaptBehavior(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req learning.AdaptRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	res, err := s.learner.AdaptBehavior(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

// handleInsights handles GET /api/v1/insights?type=&agent_id=&severity=&limit=
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	filter := insights.Filter{
		Type:     models.InsightType(q.Get("type")),
		AgentID:  q.Get("agent_id"),
		Severity: models.Severity(q.Get("severity")),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			s.respondErr(w, models.NewValidationError("limit", "must be an integer"))
			return
		}
		filter.Limit = limit
	}
	list, err := s.learner.GetInsights(r.Context(), filter)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"insights": list,
		"count":    len(list),
	})
}

// handlePredictions handles GET /api/v1/predictions?agent_id=&task_type=&horizon=
func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	req := learning.PredictRequest{
		AgentID:  q.Get("agent_id"),
		TaskType: q.Get("task_type"),
	}
	if v := q.Get("horizon"); v != "" {
		horizon, err := time.ParseDuration(v)
		if err != nil {
			s.respondErr(w, models.NewValidationError("horizon", "must be a duration such as 30m"))
			return
		}
		req.Horizon = horizon
	}
	p, err := s.learner.PredictPerformance(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

// handleLearningProgress handles GET /api/v1/learning/progress?agent_id=
func (s *Server) handleLearningProgress(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := s.learner.GetLearningProgress(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// handleConfigureLearning handles GET and POST /api/v1/learning/configure
func (s *Server) handleConfigureLearning(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, s.learner.Params())
	case http.MethodPost:
		params := s.learner.Params()
		if err := s.parseJSON(r, &params); err != nil {
			s.respondErr(w, err)
			return
		}
		if err := s.learner.ConfigureLearning(r.Context(), params); err != nil {
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, params)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTicks handles GET /api/v1/learning/ticks
func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticks":   s.learner.TickStats(),
		"metrics": s.learner.LearningMetrics(),
	})
}

// handleRunTick handles POST /api/v1/learning/ticks/{fast|slow}
func (s *Server) handleRunTick(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var err error
	switch name := s.extractID(r.URL.Path, "/api/v1/learning/ticks/"); name {
	case learning.FastTick:
		err = s.learner.RunFastTick(r.Context())
	case learning.SlowTick:
		err = s.learner.RunSlowTick(r.Context())
	default:
		s.respondError(w, http.StatusNotFound, "unknown tick "+name)
		return
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// handleExport handles POST /api/v1/intelligence/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req learning.ExportRequest
	if r.ContentLength != 0 {
		if err := s.parseJSON(r, &req); err != nil {
			s.respondErr(w, err)
			return
		}
	}
	snap, err := s.learner.ExportIntelligence(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, snap)
}

// handleListExports handles GET /api/v1/intelligence/exports
func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	ids, err := s.learner.Exports(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"exports": ids, "count": len(ids)})
}

// handleGetExport handles GET /api/v1/intelligence/exports/{id}
func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id := s.extractID(r.URL.Path, "/api/v1/intelligence/exports/")
	if id == "" {
		s.respondError(w, http.StatusNotFound, "export id required")
		return
	}
	snap, err := s.learner.LoadExport(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}
