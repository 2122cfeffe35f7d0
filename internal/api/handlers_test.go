package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jordanhubbard/loomlearn/internal/learning"
	"github.com/jordanhubbard/loomlearn/pkg/config"
	"github.com/jordanhubbard/loomlearn/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (http.Handler, *learning.Coordinator) {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	coord, err := learning.New(cfg.Learning)
	require.NoError(t, err)
	return NewServer(coord, cfg).SetupRoutes(), coord
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIngestPerformance(t *testing.T) {
	h, _ := newTestServer(t, nil)

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
	}{
		{
			name:           "valid record",
			body:           map[string]interface{}{"agent_id": "a1", "agent_type": "coder", "task_type": "review", "success_rate": 0.9},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "success rate out of range",
			body:           map[string]interface{}{"agent_id": "a1", "agent_type": "coder", "success_rate": 1.5},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown field",
			body:           map[string]interface{}{"agent_id": "a1", "agent_type": "coder", "bogus": true},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			body:           "{not json",
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/performance", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}

	w := do(t, h, http.MethodGet, "/api/v1/performance", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestValidationErrorNamesField(t *testing.T) {
	h, coord := newTestServer(t, nil)

	tests := []struct {
		name  string
		path  string
		body  map[string]interface{}
		field string
	}{
		{"unknown pattern type", "/api/v1/patterns", map[string]interface{}{"agent_id": "a1", "pattern_type": "mystery"}, "pattern_type"},
		{"missing success rate", "/api/v1/performance", map[string]interface{}{"agent_id": "a1", "agent_type": "coder", "task_type": "x"}, "success_rate"},
		{"feature stability out of range", "/api/v1/patterns", map[string]interface{}{
			"agent_id": "a1", "pattern_type": "success",
			"context_features": []map[string]interface{}{{"name": "task_type", "stability": 2}},
		}, "context_features[0].stability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.field, body["field"])
		})
	}

	snap, err := coord.GetLearningProgress(context.Background(), "a1")
	require.NoError(t, err)
	assert.Zero(t, snap.RecordCount)
}

func TestLearningFlowOverHTTP(t *testing.T) {
	h, _ := newTestServer(t, nil)
	for i := 0; i < 12; i++ {
		w := do(t, h, http.MethodPost, "/api/v1/performance",
			map[string]interface{}{"agent_id": "B", "agent_type": "coder", "task_type": "build", "success_rate": 0.3})
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	w := do(t, h, http.MethodPost, "/api/v1/learning/ticks/fast", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/v1/insights?type=anomaly&agent_id=B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Insights []models.Insight `json:"insights"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)

	w = do(t, h, http.MethodGet, "/api/v1/learning/progress?agent_id=B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.ProgressSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, 1, snap.Progress.TotalAdaptations)

	w = do(t, h, http.MethodGet, "/api/v1/predictions?agent_id=B&horizon=30m", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p models.Prediction
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.InDelta(t, 0.3, p.ExpectedSuccessRate, 1e-9)
	assert.Equal(t, 12, p.Basis.SampleSize)

	w = do(t, h, http.MethodPost, "/api/v1/learning/ticks/sideways", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInsightsBadLimit(t *testing.T) {
	h, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/insights?limit=x", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/insights?severity=dire", nil).Code)
}

func TestPredictionsBadHorizon(t *testing.T) {
	h, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/predictions?agent_id=a&horizon=soon", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/predictions", nil).Code)
}

func TestDecisions(t *testing.T) {
	h, _ := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/decisions",
		map[string]interface{}{"decision_type": "agent_selection", "objectives": []string{"quality"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var d models.Decision
	require.NoError(t, json.NewDecoder(w.Body).Decode(&d))
	assert.NotEmpty(t, d.Selected.ID)
	assert.GreaterOrEqual(t, d.Score, 0.0)
	assert.LessOrEqual(t, d.Score, 1.0)

	w = do(t, h, http.MethodPost, "/api/v1/decisions",
		map[string]interface{}{"decision_type": "horoscope", "objectives": []string{"quality"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigureLearning(t *testing.T) {
	h, coord := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/learning/configure", map[string]interface{}{"exploration_rate": 0.4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0.4, coord.Params().ExplorationRate)
	assert.Equal(t, 0.1, coord.Params().AdaptationRate)

	w = do(t, h, http.MethodPost, "/api/v1/learning/configure", map[string]interface{}{"memory_retention": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0.9, coord.Params().MemoryRetention)

	w = do(t, h, http.MethodGet, "/api/v1/learning/configure", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var params models.LearningParams
	require.NoError(t, json.NewDecoder(w.Body).Decode(&params))
	assert.Equal(t, coord.Params(), params)
}

func TestExportRoundTrip(t *testing.T) {
	h, _ := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/intelligence/export", map[string]bool{"include_models": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var snap models.IntelligenceSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, 1, snap.Counts.Models)
	assert.Len(t, snap.Models, 1)

	w = do(t, h, http.MethodGet, "/api/v1/intelligence/exports/"+snap.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var loaded models.IntelligenceSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&loaded))
	assert.Equal(t, snap.Counts, loaded.Counts)

	w = do(t, h, http.MethodGet, "/api/v1/intelligence/exports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, nil)
	w := do(t, h, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Dependencies["storage"].Status)
	assert.Equal(t, "healthy", status.Dependencies["scheduler"].Status)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t, nil)
	do(t, h, http.MethodGet, "/api/v1/health/live", nil)

	w := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "loomlearn_http_requests_total")
}

func TestAPIKeyAuth(t *testing.T) {
	h, _ := newTestServer(t, func(c *config.Config) { c.Server.APIKeys = []string{"secret"} })

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/v1/insights", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/health/live", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/insights", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/insights", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/api/v1/intelligence/exports/:id", routeLabel("/api/v1/intelligence/exports/abc"))
	assert.Equal(t, "/api/v1/insights", routeLabel("/api/v1/insights"))
}
