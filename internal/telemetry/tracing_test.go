package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return &Tracer{provider: tp, tracer: tp.Tracer("test"), logger: testLogger()}, sr
}

func TestTraceGraphRunSetsGraphAttributes(t *testing.T) {
	tracer, sr := newRecordingTracer(t)

	_, span := tracer.TraceGraphRun(context.Background(), "edge", 3)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)

	attrs := spans[0].Attributes()
	var gotName, gotRunID string
	var gotCPU int64
	var sawCPU bool
	for _, a := range attrs {
		switch a.Key {
		case "graph.name":
			gotName = a.Value.AsString()
		case "graph.cpu":
			gotCPU = a.Value.AsInt64()
			sawCPU = true
		case "graph.run_id":
			gotRunID = a.Value.AsString()
		}
	}
	require.Equal(t, "edge", gotName)
	require.True(t, sawCPU)
	require.Equal(t, int64(3), gotCPU)
	require.NotEmpty(t, gotRunID)
}

func TestTraceGraphRunRunIDUniquePerCall(t *testing.T) {
	tracer, sr := newRecordingTracer(t)

	_, span1 := tracer.TraceGraphRun(context.Background(), "edge", 0)
	span1.End()
	_, span2 := tracer.TraceGraphRun(context.Background(), "edge", 0)
	span2.End()

	spans := sr.Ended()
	require.Len(t, spans, 2)

	runID := func(i int) string {
		for _, a := range spans[i].Attributes() {
			if a.Key == "graph.run_id" {
				return a.Value.AsString()
			}
		}
		return ""
	}
	require.NotEqual(t, runID(0), runID(1))
}

func TestTracerShutdownNilProviderIsNoop(t *testing.T) {
	tracer := &Tracer{logger: testLogger()}
	require.NoError(t, tracer.Shutdown(context.Background()))
}
