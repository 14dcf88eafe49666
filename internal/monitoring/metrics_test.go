package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("Prediction Counters", func(t *testing.T) {
		m := NewMetrics()
		m.RecordPrediction("complexity", "rule_based", true, time.Millisecond)
		m.RecordPrediction("complexity", "rule_based", true, time.Millisecond)
		m.RecordPrediction("test_yield_ecg", "v20240101_000000", false, time.Millisecond)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.predictions.WithLabelValues("complexity", "rule_based")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("complexity")))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("test_yield_ecg")))
	})

	t.Run("Model Gauges", func(t *testing.T) {
		m := NewMetrics()
		m.SetModelLoaded("complexity", true)
		m.RecordSwap("complexity")
		assert.Equal(t, 1.0, testutil.ToFloat64(m.modelLoaded.WithLabelValues("complexity")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.modelSwaps.WithLabelValues("complexity")))

		m.SetModelLoaded("complexity", false)
		assert.Equal(t, 0.0, testutil.ToFloat64(m.modelLoaded.WithLabelValues("complexity")))
	})

	t.Run("Training Jobs", func(t *testing.T) {
		m := NewMetrics()
		m.JobStarted()
		assert.Equal(t, 1.0, testutil.ToFloat64(m.activeJobs))
		m.JobFinished("test_yield", "completed", time.Second)
		assert.Equal(t, 0.0, testutil.ToFloat64(m.activeJobs))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.trainingJobs.WithLabelValues("test_yield", "completed")))
	})

	t.Run("Nil Metrics", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.RecordPrediction("complexity", "v1", false, time.Millisecond)
			m.SetModelLoaded("complexity", true)
			m.JobStarted()
			m.JobFinished("complexity", "failed", time.Second)
			m.SetOverrideMetrics(3, 0.5)
			m.RecordHTTP("GET", "/health", 200, time.Millisecond)
		})
	})

	t.Run("Scrape Handler", func(t *testing.T) {
		m := NewMetrics()
		m.SetOverrideMetrics(12, 0.25)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "uw_ml_overrides_total 12")
		assert.Contains(t, rec.Body.String(), "uw_ml_override_validation_rate 0.25")
	})
}
