package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordJob(t *testing.T) {
	c := NewCollector()

	c.RecordJob("overdue_check", 3, 1, 20*time.Millisecond, ResultSuccess)
	c.RecordJob("overdue_check", 2, 0, 10*time.Millisecond, ResultPartial)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobRuns.WithLabelValues("overdue_check", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobRuns.WithLabelValues("overdue_check", ResultPartial)))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.jobProcessed.WithLabelValues("overdue_check")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobItemErrors.WithLabelValues("overdue_check")))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordJob("x", 1, 1, time.Second, ResultFailure)
	c.RecordTransition("loan_approved")
	c.RecordEffectFailure("notify")
	c.RecordConflict()
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordTransition("loan_disbursed")
	c.RecordEffectFailure("notify")
	c.RecordConflict()

	ts := httptest.NewServer(c.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.True(t, strings.Contains(text, `loanoffice_loan_transitions_total{action="loan_disbursed"} 1`), text)
	assert.True(t, strings.Contains(text, `loanoffice_effect_failures_total{effect="notify"} 1`), text)
	assert.True(t, strings.Contains(text, `loanoffice_loan_version_conflicts_total 1`), text)
}
