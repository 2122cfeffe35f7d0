// Package api exposes the learning loop's operation catalogue over HTTP/JSON.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jordanhubbard/loomlearn/internal/learning"
	"github.com/jordanhubbard/loomlearn/internal/metrics"
	"github.com/jordanhubbard/loomlearn/internal/scheduler"
	"github.com/jordanhubbard/loomlearn/internal/storage"
	"github.com/jordanhubbard/loomlearn/pkg/config"
	"github.com/jordanhubbard/loomlearn/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HealthChecker is implemented by optional dependencies such as the event bus.
type HealthChecker interface {
	Health() error
}

// Server represents the HTTP API server
type Server struct {
	learner *learning.Coordinator
	config  *config.Config
	metrics *metrics.Metrics
	bus     HealthChecker
}

// NewServer creates a new API server
func NewServer(learner *learning.Coordinator, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Server{
		learner: learner,
		config:  cfg,
		metrics: metrics.NewMetrics(),
	}
}

// SetEventBus adds the event bus to the health report.
func (s *Server) SetEventBus(bus HealthChecker) {
	s.bus = bus
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/health/live", s.handleHealthLive)
	mux.Handle("/metrics", promhttp.Handler())

	// Telemetry
	mux.HandleFunc("/api/v1/performance", s.handleIngestPerformance)
	mux.HandleFunc("/api/v1/predictions", s.handlePredictions)

	// Patterns and behaviors
	mux.HandleFunc("/api/v1/patterns", s.handleLearnPattern)
	mux.HandleFunc("/api/v1/behaviors/adapt", s.handleAdaptBehavior)

	// Decisions
	mux.HandleFunc("/api/v1/decisions", s.handleDecisions)

	// Insights
	mux.HandleFunc("/api/v1/insights", s.handleInsights)

	// Learning loop
	mux.HandleFunc("/api/v1/learning/progress", s.handleLearningProgress)
	mux.HandleFunc("/api/v1/learning/configure", s.handleConfigureLearning)
	mux.HandleFunc("/api/v1/learning/ticks", s.handleTicks)
	mux.HandleFunc("/api/v1/learning/ticks/", s.handleRunTick)

	// Intelligence export
	mux.HandleFunc("/api/v1/intelligence/export", s.handleExport)
	mux.HandleFunc("/api/v1/intelligence/exports", s.handleListExports)
	mux.HandleFunc("/api/v1/intelligence/exports/", s.handleGetExport)

	// Apply middleware
	handler := s.metricsMiddleware(mux)
	handler = s.corsMiddleware(handler)
	handler = s.authMiddleware(handler)
	return otelhttp.NewHandler(handler, "loomlearn-http-server")
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// metricsMiddleware counts requests and observes their latency
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := routeLabel(r.URL.Path)
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses id-bearing paths so label cardinality stays bounded.
func routeLabel(path string) string {
	for _, prefix := range []string{"/api/v1/intelligence/exports/", "/api/v1/learning/ticks/"} {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + ":id"
		}
	}
	return path
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.Server.AllowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			for _, allowedOrigin := range s.config.Server.AllowedOrigins {
				if allowedOrigin == "*" || allowedOrigin == origin {
					w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks the X-API-Key header when keys are configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/v1/health") || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if len(s.config.Server.APIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			s.respondError(w, http.StatusUnauthorized, "Missing API key")
			return
		}
		for _, key := range s.config.Server.APIKeys {
			if key == apiKey {
				next.ServeHTTP(w, r)
				return
			}
		}
		s.respondError(w, http.StatusUnauthorized, "Invalid API key")
	})
}

// Helper functions

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps an operation error onto a status code: validation errors
// are the caller's fault, everything else is ours.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrTickInProgress):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseJSON parses JSON request body
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.NewValidationError("body", err.Error())
	}
	return nil
}

// extractID extracts ID from URL path
func (s *Server) extractID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimPrefix(id, "/")
	id = strings.TrimSuffix(id, "/")
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i]
	}
	return id
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
