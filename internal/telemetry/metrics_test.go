package telemetry

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.RunFinished("light", 10, 1.5, nil)
	m.RunFinished("dark", 5, 0.5, nil)
	m.RunFinished("light", 10, 0, errors.New("boom"))
	m.ScanFinished("completed")
	m.CleanupFailed()
	m.SetDelay(1e6)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("light", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("light", "failed")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.events.WithLabelValues("light")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.events.WithLabelValues("dark")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cleanupFailures))
	assert.Equal(t, 1e6, testutil.ToFloat64(m.delay))
}

func TestMetrics_SetState(t *testing.T) {
	m := NewMetrics()
	all := []string{"idle", "running"}

	m.SetState("running", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("idle")))

	m.SetState("idle", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("running")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RunFinished("light", 1, 1, nil)
	m.ScanFinished("failed")
	m.CleanupFailed()
	m.SetState("idle", []string{"idle"})
	m.SetDelay(1)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ScanFinished("interrupted")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `pumpprobe_scans_total{outcome="interrupted"} 1`))
}
