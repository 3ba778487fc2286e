package observability_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/registration-service/internal/observability"
)

func TestDispatchRunCounters(t *testing.T) {
	m := observability.NewMetrics()
	m.RecordDispatchRun("CAPPED", map[string]int{"sent": 2, "capped": 0, "errors": 1}, time.Second)
	m.RecordDispatchRun("CAPPED", map[string]int{"sent": 1}, time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, `registration_service_dispatch_runs_total{mode="CAPPED"} 2`)
	assert.Contains(t, body, `registration_service_dispatch_entries_total{mode="CAPPED",outcome="sent"} 3`)
	assert.Contains(t, body, `registration_service_dispatch_entries_total{mode="CAPPED",outcome="errors"} 1`)
	assert.NotContains(t, body, `outcome="capped"`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *observability.Metrics
	m.RecordRequest("/x", "GET", 200, time.Millisecond)
	m.RecordError("/x", "GET", "NOT_FOUND")
	m.RecordReviewEvent("registration_created")
	m.RecordDispatchRun("FULL", nil, 0)
}

func TestRequestCounters(t *testing.T) {
	m := observability.NewMetrics()
	m.RecordRequest("/registrations/:id", "GET", 200, time.Millisecond)
	m.RecordReviewEvent("dimension_passed")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "registration_service_http_requests_total" {
			found = true
			assert.Len(t, mf.GetMetric(), 1)
		}
	}
	assert.True(t, found)

	body := scrape(t, m)
	assert.Contains(t, body, `registration_service_http_requests_total{method="GET",route="/registrations/:id",status="200"} 1`)
	assert.Contains(t, body, `registration_service_review_events_total{event="dimension_passed"} 1`)
}

func scrape(t *testing.T, m *observability.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
