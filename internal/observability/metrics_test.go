package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.RecordDelivery(true)
		m.RecordTransition("destroyed")
		m.RecordSweep(time.Second, 1)
		m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)
	})
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveConnections))

	m.RecordDelivery(true)
	m.RecordDelivery(false)
	m.RecordDelivery(false)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Deliveries.WithLabelValues("failed")))

	m.RecordTransition("verification_pending")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Transitions.WithLabelValues("verification_pending")))

	m.RecordSweep(10*time.Millisecond, 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SweepItemFailures))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordTransition("destroyed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `relay_session_transitions_total{transition="destroyed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
