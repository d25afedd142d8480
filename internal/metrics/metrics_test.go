package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/bddtriage/internal/triage"
)

func newMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestMetrics_Observer(t *testing.T) {
	m := newMetrics(t)

	m.Dispatched()
	m.Skipped(triage.SkipAlreadyDisplayed)
	m.Skipped(triage.SkipAlreadyDisplayed)
	m.Skipped(triage.SkipNotConfigured)
	m.Completed(2 * time.Second)
	m.Failed(time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Skips.WithLabelValues("already_displayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Skips.WithLabelValues("not_configured")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.AnalysisSeconds))
}

func TestMetrics_Pipeline(t *testing.T) {
	m := newMetrics(t)

	m.FailureSeen(true)
	m.FailureSeen(false)
	m.Parsed(3 * time.Millisecond)
	m.Resolved("scenario", true)
	m.Resolved("step_definition", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FailuresSeen))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresInScope))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ParseSeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("scenario", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("step_definition", "miss")))
}

func TestMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.ErrorContains(t, err, "registering metrics")
}

func TestMetrics_Handler(t *testing.T) {
	m := newMetrics(t)
	m.FailureSeen(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bddtriage_failures_in_scope_total 1")
}
