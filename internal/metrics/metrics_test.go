package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("COMPLETED", "manual", time.Second)
		m.StepFinished("SCRIPT", true, time.Millisecond)
		m.TriggerEvaluated("API", true)
		m.SetScheduledJobs(3)
		m.ScheduleFired("submitted")
	})
}

func TestRunAndStepCounters(t *testing.T) {
	m := New()

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsActive))
	m.RunFinished("FAILED", "schedule", 20*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("FAILED", "schedule")))

	m.StepFinished("HTTP_REQUEST", true, time.Millisecond)
	m.StepFinished("HTTP_REQUEST", false, time.Millisecond)
	m.StepFinished("HTTP_REQUEST", true, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("HTTP_REQUEST", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("HTTP_REQUEST", "failed")))

	m.TriggerEvaluated("FILE_EVENT", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.triggersTotal.WithLabelValues("FILE_EVENT", "false")))

	m.SetScheduledJobs(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.scheduledJobs))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ScheduleFired("submitted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "autoflow_schedule_fires_total")
}
