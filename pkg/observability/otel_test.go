package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, nil)

	assert.NoError(t, err)
	assert.Nil(t, providers)
}

func TestInitOTel_MissingEndpoint(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: true}, nil)

	assert.ErrorContains(t, err, "endpoint is required")
	assert.Nil(t, providers)
}

// OTLP exporters connect lazily, so initialization succeeds without a
// collector.
func TestInitOTel_Enabled(t *testing.T) {
	prevTP := otel.GetTracerProvider()
	prevMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	providers, err := InitOTel(context.Background(), OTelConfig{
		Enabled:        true,
		Endpoint:       "localhost:4317",
		ServiceName:    "heatmap-test",
		ServiceVersion: "0.0.1",
		Insecure:       true,
		SampleRatio:    0.5,
	}, NopLogger())
	require.NoError(t, err)
	require.NotNil(t, providers)
	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.MeterProvider)
	assert.Equal(t, providers.TracerProvider, otel.GetTracerProvider())

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Flushing to an absent collector with a dead context may error; it
	// must not hang or panic.
	_ = ShutdownOTel(ctx, providers, NopLogger())
}

func TestShutdownOTel_Nil(t *testing.T) {
	assert.NoError(t, ShutdownOTel(context.Background(), nil, nil))
	assert.NoError(t, ShutdownOTel(context.Background(), &OTelProviders{}, nil))
}

func TestShutdownOTel_TracerOnly(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	assert.NoError(t, ShutdownOTel(context.Background(), &OTelProviders{TracerProvider: tp}, NopLogger()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestTracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var sawSpan bool
	handler := TracingMiddleware("heatmap")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		UpdateLoggerWithTraceContext(r.Context(), NewLogger(InfoLevel, &buf)).Info("inside")
		var entry map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &entry); err == nil {
			_, sawSpan = entry["trace_id"]
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/analytics/crm/heatmap", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, sawSpan, "logger should carry trace_id inside a traced request")
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/analytics/crm/heatmap", spans[0].Name())
}

func TestUpdateLoggerWithTraceContext_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	UpdateLoggerWithTraceContext(context.Background(), logger).Info("no span")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestUpdateLoggerWithTraceContext_NonRecordingSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
	ctx, span := tp.Tracer("test").Start(context.Background(), "unsampled")
	defer span.End()

	var buf bytes.Buffer
	UpdateLoggerWithTraceContext(ctx, NewLogger(InfoLevel, &buf)).Info("unsampled")

	assert.NotContains(t, buf.String(), "trace_id")
}

func TestUpdateLoggerWithTraceContext_PreservesFields(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "sampled")
	defer span.End()

	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf).WithField("application_id", "crm")
	UpdateLoggerWithTraceContext(ctx, logger).Info("sampled")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "crm", entry["application_id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}
