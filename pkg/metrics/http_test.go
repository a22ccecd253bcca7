package metrics

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func sampledContext() (context.Context, trace.SpanContext) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{9, 8, 7, 6, 5, 4, 3, 2},
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), spanCtx), spanCtx
}

// chatDuration returns the gathered duration histogram for POST /chat.
func chatDuration(t *testing.T, m *Manager) *dto.Histogram {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != namespace+"_http_request_duration_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == "POST" && labels["path"] == "/chat" {
				return metric.GetHistogram()
			}
		}
	}
	t.Fatal("chat duration histogram not gathered")
	return nil
}

func exemplars(h *dto.Histogram) []*dto.Exemplar {
	var out []*dto.Exemplar
	for _, b := range h.GetBucket() {
		if ex := b.GetExemplar(); ex != nil {
			out = append(out, ex)
		}
	}
	return out
}

func TestTraceExemplarLabels(t *testing.T) {
	ctx, spanCtx := sampledContext()

	labels, ok := traceExemplarLabels(ctx)
	require.True(t, ok)
	assert.Equal(t, spanCtx.TraceID().String(), labels["trace_id"])
	assert.Equal(t, spanCtx.SpanID().String(), labels["span_id"])

	labels, ok = traceExemplarLabels(context.Background())
	assert.False(t, ok, "no span gives no labels: %v", labels)
}

func TestRecordHTTPRequest_AttachesTraceExemplar(t *testing.T) {
	m := NewManager(Config{Enabled: true})
	ctx, spanCtx := sampledContext()

	m.RecordHTTPRequest(ctx, "POST", "/chat", "200", 40*time.Millisecond)

	h := chatDuration(t, m)
	assert.EqualValues(t, 1, h.GetSampleCount())
	found := exemplars(h)
	require.Len(t, found, 1)

	labels := map[string]string{}
	for _, lp := range found[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, spanCtx.TraceID().String(), labels["trace_id"])
	assert.Equal(t, spanCtx.SpanID().String(), labels["span_id"])
	assert.InDelta(t, 0.04, found[0].GetValue(), 1e-9)
}

func TestRecordHTTPRequest_NoExemplarWithoutTrace(t *testing.T) {
	m := NewManager(Config{Enabled: true})

	m.RecordHTTPRequest(context.Background(), "POST", "/chat", "500", 5*time.Millisecond)

	h := chatDuration(t, m)
	assert.EqualValues(t, 1, h.GetSampleCount())
	assert.Empty(t, exemplars(h))
}
