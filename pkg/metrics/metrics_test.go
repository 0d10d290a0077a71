package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCarryServiceLabel(t *testing.T) {
	m := NewMetrics(Config{ServiceName: "mediaindex", Namespace: "media"})
	assert.Equal(t, DefaultMetricsAddress, m.Server.Addr)

	c := m.CreateCounter("ingest_transitions_total", "State transitions.", "from", "to")
	c.WithLabelValues("PENDING", "PROCESSING").Inc()
	c.WithLabelValues("PENDING", "PROCESSING").Inc()

	h := m.CreateHistogram("ingest_extract_seconds", "Extraction latency.", nil)
	h.WithLabelValues().Observe(0.2)

	g := m.CreateGauge("queue_depth", "Queue depth.", "backend")
	g.WithLabelValues("rabbit").Set(3)

	rec := httptest.NewRecorder()
	m.Server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(body, `media_ingest_transitions_total{from="PENDING",service="mediaindex",to="PROCESSING"} 2`), body)
	assert.Contains(t, body, `media_queue_depth{backend="rabbit",service="mediaindex"} 3`)
	assert.Contains(t, body, "media_ingest_extract_seconds_count")
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	m := NewMetrics(Config{ServiceName: "mediaindex"})
	m.CreateCounter("dup_total", "dup")
	assert.Panics(t, func() { m.CreateCounter("dup_total", "dup") })
}
