package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	traceSpan "go.opentelemetry.io/otel/trace"
)

type nopLogger struct{}

func (nopLogger) Info(string, error, ...map[string]interface{}) {}
func (nopLogger) Warn(string, error, ...map[string]interface{}) {}

func TestCarrierRoundTrip(t *testing.T) {
	tr, err := NewClient(Config{ServiceName: "mediaindex-test", AppEnv: "test"}, nopLogger{})
	require.NoError(t, err)
	defer func() { _ = tr.Shutdown(context.Background()) }()

	ctx, span := tr.StartSpan(context.Background(), "submit")
	tr.SetAttributes(span, map[string]interface{}{"media.id": "m1", "attempt": 1, "other": []int{1}})
	tr.RecordErrorOnSpan(span, errors.New("boom"))
	tr.RecordErrorOnSpan(span, nil)
	defer span.End()

	carrier := tr.GetCarrier(ctx)
	require.Contains(t, carrier, "traceparent")

	restored := tr.SetCarrierOnContext(context.Background(), carrier)
	got := traceSpan.SpanContextFromContext(restored)
	assert.True(t, got.IsRemote())
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())

	_, child := tr.StartSpan(restored, "process")
	defer child.End()
	assert.Equal(t, span.SpanContext().TraceID(), child.SpanContext().TraceID())
}

func TestSetCarrierOnContextIgnoresEmpty(t *testing.T) {
	tr, err := NewClient(Config{ServiceName: "mediaindex-test"}, nopLogger{})
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, ctx, tr.SetCarrierOnContext(ctx, nil))
}
