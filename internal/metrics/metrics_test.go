package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveRequest("POST", "/webhook/:testId", 200, 15*time.Millisecond)
	m.ObserveRequest("POST", "/webhook/:testId", 404, time.Millisecond)
	m.ObserveCallback(CallbackCompleted)
	m.ObserveCallback(CallbackUnmatched)
	m.ObserveCallback(CallbackUnmatched)
	m.ObserveSweep(3, 7)
	m.ObserveSweep(0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("POST", "/webhook/:testId", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.callbacks.WithLabelValues(CallbackUnmatched)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweeps))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepExpired))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.sweepPurged))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveCallback(CallbackFailed)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `hookwait_callbacks_total{outcome="failed"} 1`))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveSweep(1, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.sweepExpired))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("GET", "/", 200, time.Millisecond)
	m.ObserveCallback(CallbackCompleted)
	m.ObserveSweep(1, 1)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
