package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
	"github.com/edp1096/spicecore/pkg/device"
)

func divider(t *testing.T) (*circuit.Circuit, *device.VoltageSource) {
	c := circuit.New("divider")
	src := addV(t, c, "V1", "in", "0", 10)
	addR(t, c, "R1", "in", "out", 1e3)
	addR(t, c, "R2", "out", "0", 1e3)
	return c, src
}

func TestDCSweepSingleSource(t *testing.T) {
	c, src := divider(t)
	sim := NewSimulation(c, config.Default())
	dc, err := NewDCSweep([]string{"V1"}, []float64{0}, []float64{5}, []float64{1})
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), dc))

	res := dc.GetResults()
	require.Len(t, res["SWEEP1"], 6)
	assert.Equal(t, 5.0, res["SWEEP1"][5])
	for i, v := range res["SWEEP1"] {
		assert.InDelta(t, v/2, res["V(out)"][i], 1e-9)
	}
	assert.Equal(t, 10.0, src.DCValue())

	// every point after the first is warm started
	warm := 0
	for _, step := range sim.Stats.Trace {
		if step.Kind == KindWarmStep {
			warm++
			assert.True(t, step.Converged)
		}
	}
	assert.Equal(t, 5, warm)
}

func TestDCSweepNested(t *testing.T) {
	c := circuit.New("nested")
	addV(t, c, "V1", "a", "0", 1)
	addV(t, c, "V2", "b", "0", 1)
	addR(t, c, "R1", "a", "out", 1e3)
	addR(t, c, "R2", "b", "out", 1e3)

	sim := NewSimulation(c, config.Default())
	dc, err := NewDCSweep([]string{"V1", "V2"}, []float64{0, 0}, []float64{2, 1}, []float64{1, 0.5})
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), dc))

	res := dc.GetResults()
	require.Len(t, res["SWEEP1"], 9)
	require.Len(t, res["SWEEP2"], 9)
	assert.Equal(t, []float64{0, 0, 0, 1, 1, 1, 2, 2, 2}, res["SWEEP1"])
	for i := range res["SWEEP1"] {
		assert.InDelta(t, (res["SWEEP1"][i]+res["SWEEP2"][i])/2, res["V(out)"][i], 1e-9)
	}
}

func TestDCSweepUnknownSource(t *testing.T) {
	c, _ := divider(t)
	sim := NewSimulation(c, config.Default())
	dc, err := NewDCSweep([]string{"V9"}, []float64{0}, []float64{1}, []float64{1})
	require.NoError(t, err)
	assert.Error(t, sim.Run(context.Background(), dc))
	assert.Equal(t, PhaseFailed, sim.Phase())
}

func TestSweepValues(t *testing.T) {
	vals, err := sweepValues(0, 1, 0.1)
	require.NoError(t, err)
	assert.Len(t, vals, 11)
	assert.InDelta(t, 1.0, vals[10], 1e-12)

	vals, err = sweepValues(5, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 4, 3, 2, 1, 0}, vals)

	_, err = sweepValues(0, 1, -1)
	assert.Error(t, err)
	_, err = sweepValues(0, 1, 0)
	assert.Error(t, err)

	_, err = NewDCSweep([]string{"V1", "V2", "V3"}, make([]float64, 3), make([]float64, 3), make([]float64, 3))
	assert.Error(t, err)
}
