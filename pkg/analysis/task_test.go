package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
)

func recordSpans(t *testing.T) (*tracetest.SpanRecorder, Option) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec, WithTracer(tp.Tracer("test"))
}

func spanNamed(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func TestRunEmitsNestedSpans(t *testing.T) {
	c := circuit.New("divider")
	addV(t, c, "V1", "in", "0", 10)
	addR(t, c, "R1", "in", "out", 1e3)
	addR(t, c, "R2", "out", "0", 1e3)

	rec, opt := recordSpans(t)
	sim := NewSimulation(c, config.Default(), opt)
	require.NoError(t, sim.Run(context.Background(), NewOP()))

	spans := rec.Ended()
	run := spanNamed(spans, "analysis.op")
	require.NotNil(t, run)
	inner := spanNamed(spans, "analysis.operating_point")
	require.NotNil(t, inner)

	assert.Equal(t, run.SpanContext().SpanID(), inner.Parent().SpanID())
	assert.Equal(t, codes.Ok, run.Status().Code)

	attrs := map[string]string{}
	for _, kv := range run.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, sim.ID, attrs["analysis.run_id"])
	assert.Equal(t, "divider", attrs["circuit.name"])
}

func TestFailedRunMarksSpanError(t *testing.T) {
	c := circuit.New("ganged")
	addV(t, c, "V1", "a", "0", 1)
	addV(t, c, "V2", "a", "0", 2)

	rec, opt := recordSpans(t)
	sim := NewSimulation(c, config.Default(), opt)
	require.Error(t, sim.Run(context.Background(), NewOP()))

	run := spanNamed(rec.Ended(), "analysis.op")
	require.NotNil(t, run)
	assert.Equal(t, codes.Error, run.Status().Code)
	assert.Contains(t, run.Status().Description, "singular matrix")
}

func TestSimulationIDsAreUnique(t *testing.T) {
	c := circuit.New("ids")
	a := NewSimulation(c, config.Default())
	b := NewSimulation(c, config.Default())
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, PhaseNotStarted, a.Phase())
}
