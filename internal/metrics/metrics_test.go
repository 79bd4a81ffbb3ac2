package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestMetrics_Counters verifies the counters move as expected.
func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New()

	m.Published("created")
	m.Published("created")
	m.Delivered(3)
	m.Dropped(ReasonFull)
	m.Ingested("http", "created")
	m.Mirrored("ok")
	m.ObserveDispatch(time.Millisecond)

	require.InDelta(t, 2, testutil.ToFloat64(m.published.WithLabelValues("created")), 0)
	require.InDelta(t, 3, testutil.ToFloat64(m.delivered), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.dropped.WithLabelValues(ReasonFull)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.ingested.WithLabelValues("http", "created")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.mirrored.WithLabelValues("ok")), 0)
}

// TestMetrics_Handler verifies gauges and counters are served.
func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.RegisterGauge("sessions", "Open sessions.", func() float64 { return 7 })
	m.Delivered(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.True(t, strings.Contains(body, "alarm_stream_sessions 7"))
	require.True(t, strings.Contains(body, "alarm_stream_deliveries_total 1"))
}
