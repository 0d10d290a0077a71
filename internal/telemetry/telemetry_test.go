package telemetry

import (
	"testing"
	"time"

	"github.com/Aleph-Alpha/mediaindex/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineSeriesAreRegistered(t *testing.T) {
	m := metrics.NewMetrics(metrics.Config{ServiceName: "mediaindex", Namespace: "mediaindex"})
	p := New(m)

	p.Transition("PENDING", "PROCESSING")
	p.Failure("transient")
	p.ObserveExtract(250 * time.Millisecond)
	p.Finding("orphan_vector")
	p.Search("semantic", 10*time.Millisecond)
	p.Quarantined("rabbit")

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"mediaindex_ingest_transitions_total",
		"mediaindex_ingest_failures_total",
		"mediaindex_ingest_extract_seconds",
		"mediaindex_reconcile_findings_total",
		"mediaindex_search_requests_total",
		"mediaindex_search_seconds",
		"mediaindex_queue_quarantined_total",
	} {
		assert.True(t, names[want], want)
	}
}

func TestNewNopIsIndependent(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop().Failure("capacity")
		NewNop().Failure("capacity")
	})
}
