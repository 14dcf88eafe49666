package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/backend"
	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/features"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/monitoring"
	"github.com/Sanidhya1398/uw-decision-support/internal/registry"
	"github.com/Sanidhya1398/uw-decision-support/internal/service"
	"github.com/Sanidhya1398/uw-decision-support/internal/store"
	"github.com/Sanidhya1398/uw-decision-support/internal/training"
)

type idleRunner struct{}

func (idleRunner) Train(context.Context, models.ModelType, bool) (*models.TrainingResult, error) {
	return &models.TrainingResult{Status: models.TrainingStatusCompleted}, nil
}

type staticSource struct{}

func (staticSource) CasesForTraining(context.Context, int) []backend.Case { return nil }

func (staticSource) OverridesForTraining(_ context.Context, overrideType string, _ int, _ bool) []backend.Override {
	if overrideType != backend.OverrideComplexityTier {
		return nil
	}
	return []backend.Override{
		{Direction: backend.DirectionAdd, Validated: true, ReasoningTags: []string{"cardiac"}},
		{Direction: backend.DirectionRemove},
	}
}

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T, mutate func(*config.Config)) *gin.Engine {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.ML.ModelDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	blobs, err := store.NewFilesystem(cfg.ML.ModelDir, zap.NewNop())
	require.NoError(t, err)
	metrics := monitoring.NewMetrics()
	engineer := features.NewEngineer(features.DefaultKeywords())
	manager := registry.NewManager(cfg, blobs, zap.NewNop(), registry.WithMetrics(metrics))
	// Workers are never started, so submitted jobs stay pending.
	engine := training.NewEngine(cfg, idleRunner{}, zap.NewNop())
	loader := training.NewDataLoader(cfg, engineer, zap.NewNop())
	overrides := training.NewOverrideLearningService(cfg, staticSource{}, loader, metrics, zap.NewNop())

	svc := service.NewInferenceService(cfg, engineer, manager, engine, overrides, zap.NewNop(), service.WithMetrics(metrics))
	return SetupRouter(cfg, zap.NewNop(), svc, metrics)
}

func do(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst))
}

func TestHealthAndModels(t *testing.T) {
	router := setupRouter(t, nil)

	t.Run("Root", func(t *testing.T) {
		w := do(router, http.MethodGet, "/", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "/api/v1/health")
	})

	t.Run("Health", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/v1/health", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var health service.Health
		decode(t, w, &health)
		assert.Equal(t, "healthy", health.Status)
		assert.False(t, health.ModelsLoaded["complexity"])
		assert.Contains(t, health.ModelsLoaded, "test_yield_hba1c")
	})

	t.Run("Request ID", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/v1/health", nil)
		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	})

	t.Run("Model Info", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/v1/models/info", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var info map[string]models.ModelInfo
		decode(t, w, &info)
		assert.Equal(t, "rule_based", info["complexity"].Version)
		assert.Len(t, info, 1+len(models.SupportedTests))
	})

	t.Run("Loaded Models", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/v1/models/loaded", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var loaded map[string]bool
		decode(t, w, &loaded)
		assert.False(t, loaded["complexity"])
	})

	t.Run("Versions", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/v1/models/versions", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"versions":[]}`, w.Body.String())
	})

	t.Run("Reload Without Body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/models/reload", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Version      string          `json:"version"`
			ModelsLoaded map[string]bool `json:"models_loaded"`
		}
		decode(t, w, &resp)
		assert.Equal(t, "latest", resp.Version)
		assert.False(t, resp.ModelsLoaded["complexity"])
	})

	t.Run("Prometheus", func(t *testing.T) {
		w := do(router, http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPredictionEndpoints(t *testing.T) {
	router := setupRouter(t, nil)

	t.Run("Classify Complexity", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/v1/classify-complexity", gin.H{
			"case_id":     "case-1",
			"applicant":   gin.H{"age": 58, "smoking_status": "current"},
			"sum_assured": 12_000_000,
			"medical_disclosures": []gin.H{
				{"disclosure_type": "condition", "condition_name": "Type 2 Diabetes"},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var pred models.ComplexityPrediction
		decode(t, w, &pred)
		assert.Equal(t, models.TierComplex, pred.Tier)
		assert.Equal(t, 0.7, pred.Confidence)
		assert.Equal(t, "rule_based", pred.ModelVersion)
		assert.NotEmpty(t, pred.Contributions)
	})

	t.Run("Missing Case ID", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/v1/classify-complexity", gin.H{"applicant": gin.H{}, "sum_assured": 1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Out Of Range Applicant", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/v1/classify-complexity", gin.H{
			"case_id":     "case-1",
			"applicant":   gin.H{"age": 150},
			"sum_assured": 1,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Negative Sum Assured", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/v1/classify-complexity", gin.H{"case_id": "case-1", "sum_assured": -5})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Predict Test Yield", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/v1/predict-test-yield", gin.H{
			"case_id":     "case-1",
			"test_code":   "HBA1C",
			"applicant":   gin.H{"age": 50},
			"sum_assured": 3_000_000,
			"medical_disclosures": []gin.H{
				{"disclosure_type": "condition", "condition_name": "Diabetes"},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var pred models.TestYieldPrediction
		decode(t, w, &pred)
		assert.Equal(t, models.TestHBA1C, pred.TestCode)
		assert.GreaterOrEqual(t, pred.PredictedYield, 0.0)
		assert.LessOrEqual(t, pred.PredictedYield, 1.0)
	})

	t.Run("Disclosure Type Is Case Insensitive", func(t *testing.T) {
		request := func(disclosureType string) gin.H {
			return gin.H{
				"case_id":     "case-1",
				"applicant":   gin.H{"age": 50},
				"sum_assured": 3_000_000,
				"medical_disclosures": []gin.H{
					{"disclosure_type": disclosureType, "condition_name": "Coronary artery disease"},
				},
			}
		}

		var lower, mixed models.ComplexityPrediction
		w := do(router, http.MethodPost, "/api/v1/classify-complexity", request("condition"))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		decode(t, w, &lower)
		w = do(router, http.MethodPost, "/api/v1/classify-complexity", request(" Condition "))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		decode(t, w, &mixed)

		assert.Equal(t, lower, mixed)
		assert.Equal(t, models.TierModerate, mixed.Tier)
	})

	t.Run("Unknown Disclosure Type", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/v1/classify-complexity", gin.H{
			"case_id": "case-1",
			"medical_disclosures": []gin.H{
				{"disclosure_type": "allergy", "condition_name": "Peanuts"},
			},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unsupported Test Code", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/v1/predict-test-yield", gin.H{
			"case_id":   "case-1",
			"test_code": "XRAY",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "XRAY")
	})
}

func TestTrainingEndpoints(t *testing.T) {
	router := setupRouter(t, func(cfg *config.Config) { cfg.ML.Training.QueueSize = 2 })

	var job models.TrainingJob
	t.Run("Trigger", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/v1/training/trigger", gin.H{"model_type": "complexity", "force": true})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		decode(t, w, &job)
		assert.Equal(t, models.TrainingStatusPending, job.Status)
		assert.Equal(t, models.ModelTypeComplexity, job.ModelType)
		assert.True(t, job.Force)
	})

	t.Run("Status", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/v1/training/status/"+job.ID.String(), nil)
		require.Equal(t, http.StatusOK, w.Code)
		var got models.TrainingJob
		decode(t, w, &got)
		assert.Equal(t, job.ID, got.ID)
	})

	t.Run("Unknown Job", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/v1/training/status/00000000-0000-0000-0000-000000000000", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = do(router, http.MethodGet, "/api/v1/training/status/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Invalid Model Type", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/v1/training/trigger", gin.H{"model_type": "risk"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Queue Full", func(t *testing.T) {
		w := do(router, http.MethodPost, "/api/v1/training/trigger", gin.H{"model_type": "test_yield"})
		require.Equal(t, http.StatusAccepted, w.Code)
		w = do(router, http.MethodPost, "/api/v1/training/trigger", gin.H{"model_type": "test_yield"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("List Jobs", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/v1/training/jobs", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Jobs []models.TrainingJob `json:"jobs"`
		}
		decode(t, w, &resp)
		require.Len(t, resp.Jobs, 3)
		statuses := map[models.TrainingStatus]int{}
		for _, j := range resp.Jobs {
			statuses[j.Status]++
		}
		assert.Equal(t, map[models.TrainingStatus]int{models.TrainingStatusPending: 2, models.TrainingStatusFailed: 1}, statuses)
	})

	t.Run("Override Metrics", func(t *testing.T) {
		w := do(router, http.MethodGet, "/api/v1/overrides/metrics", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var report map[string]training.LearningMetrics
		decode(t, w, &report)
		assert.Equal(t, 2, report["combined"].TotalOverrides)
		assert.Equal(t, 0.5, report[backend.OverrideComplexityTier].ValidationRate)
		assert.Equal(t, 1, report[backend.OverrideComplexityTier].DirectionDistribution["ADD"])
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("Rate Limit", func(t *testing.T) {
		router := setupRouter(t, func(cfg *config.Config) {
			cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
		})
		body := gin.H{"case_id": "case-1", "sum_assured": 1}
		assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/classify-complexity", body).Code)
		assert.Equal(t, http.StatusTooManyRequests, do(router, http.MethodPost, "/api/v1/classify-complexity", body).Code)
		// Non-prediction routes are not limited.
		assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/health", nil).Code)
	})

	t.Run("CORS Preflight", func(t *testing.T) {
		router := setupRouter(t, nil)
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/classify-complexity", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
