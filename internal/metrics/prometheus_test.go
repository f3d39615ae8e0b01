package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	reg := prometheus.NewRegistry()
	return New(reg, reg)
}

func TestRecordPass(t *testing.T) {
	r := newTestRegistry()
	end := time.Unix(1_700_000_000, 0)

	r.RecordPass(PassCompleted, 2*time.Second, end)
	r.RecordPass(PassDisabled, 0, end)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.PassesTotal.WithLabelValues(PassCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PassesTotal.WithLabelValues(PassDisabled)))
	assert.Equal(t, float64(end.Unix()), testutil.ToFloat64(r.LastPassEnded))
	assert.Equal(t, 1, testutil.CollectAndCount(r.PassDuration))
}

func TestRecordSetQuery(t *testing.T) {
	r := newTestRegistry()

	r.RecordSetQuery("block_ip_set", 3, nil)
	r.RecordSetQuery("block_ip_set6", 0, errors.New("exit status 1"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.SetQueries.WithLabelValues("block_ip_set", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SetQueries.WithLabelValues("block_ip_set6", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.SetSize.WithLabelValues("block_ip_set")))
}

func TestRecordOutcomes(t *testing.T) {
	r := newTestRegistry()

	r.RecordOutcome(OutcomeDrift)
	r.RecordOutcome(OutcomeDrift)
	r.RecordDrift("ip")
	r.RecordReenforce(nil)
	r.RecordReenforce(errors.New("busy"))
	r.RecordDomainLookup(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.PolicyOutcomes.WithLabelValues(OutcomeDrift)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.DriftTotal.WithLabelValues("ip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ReenforceTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ReenforceTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.DomainLookups.WithLabelValues("ok")))
}

func TestHandler(t *testing.T) {
	r := newTestRegistry()
	r.RecordDrift("domain")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `rulecheck_drift_total{type="domain"} 1`))
}

func TestGetIsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
