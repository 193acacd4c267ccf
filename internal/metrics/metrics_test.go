package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterValue(t *testing.T) {
	before := CounterValue(EvidenceFallbacks)
	EvidenceFallbacks.Inc()
	assert.Equal(t, before+1, CounterValue(EvidenceFallbacks))

	c := DocIssueUpserts.WithLabelValues("created")
	start := CounterValue(c)
	c.Add(2)
	assert.Equal(t, start+2, CounterValue(c))
}

func TestHandlerExposesCollectors(t *testing.T) {
	Notifications.WithLabelValues("notify").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "impactgraph_notify_decisions_total"))
}
