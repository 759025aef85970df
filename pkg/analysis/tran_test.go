package analysis

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
	"github.com/edp1096/spicecore/pkg/device"
)

// pulsedRC ramps V1 up between t=1 and t=1.5 and down between t=2 and
// t=2.5 into a 1 ms RC low-pass.
func pulsedRC(t *testing.T) *circuit.Circuit {
	c := circuit.New("pulse")
	src, err := device.NewVoltageSource("V1", []string{"in", "0"}, device.PulseWave(0, 1, 1, 0.5, 0.5, 0.5, 0))
	require.NoError(t, err)
	require.NoError(t, c.AddInstance("", src))
	addR(t, c, "R1", "in", "out", 1e3)
	addC(t, c, "C1", "out", "0", 1e-6)
	return c
}

func TestTransientLandsOnBreakpoints(t *testing.T) {
	c := pulsedRC(t)
	sim := NewSimulation(c, config.Default())
	tr, err := NewTransient(0, 3, 0.01, 0, false)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), tr))

	for _, b := range []float64{1, 1.5, 2, 2.5, 3} {
		assert.NotEqual(t, -1, indexOf(tr.Timepoints, b), "missing breakpoint %g", b)
	}
	for i := 1; i < len(tr.Timepoints); i++ {
		require.Greater(t, tr.Timepoints[i], tr.Timepoints[i-1])
	}
	assert.Equal(t, 3.0, tr.Timepoints[len(tr.Timepoints)-1])
	assert.Equal(t, PhaseDone, sim.Phase())
	assert.Positive(t, sim.Stats.Accepted)

	res := tr.GetResults()
	i := indexOf(res["TIME"], 1.5)
	require.NotEqual(t, -1, i)
	assert.InDelta(t, 1.0, res["V(out)"][i], 0.01)
	i = indexOf(res["TIME"], 2.5)
	require.NotEqual(t, -1, i)
	assert.InDelta(t, 0.0, res["V(out)"][i], 0.01)
}

func TestTransientStepsNeverCrossBreakpoints(t *testing.T) {
	c := pulsedRC(t)
	sim := NewSimulation(c, config.Default())
	tr, err := NewTransient(0, 3, 0.05, 0, false)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), tr))

	breaks := []float64{1, 1.5, 2, 2.5, 3}
	for i := 1; i < len(tr.Timepoints); i++ {
		from, to := tr.Timepoints[i-1], tr.Timepoints[i]
		for _, b := range breaks {
			assert.False(t, from < b && to > b, "step %g..%g crosses %g", from, to, b)
		}
	}
}

func TestTransientIsDeterministic(t *testing.T) {
	run := func() map[string][]float64 {
		sim := NewSimulation(pulsedRC(t), config.Default())
		tr, err := NewTransient(0, 3, 0.02, 0, false)
		require.NoError(t, err)
		require.NoError(t, sim.Run(context.Background(), tr))
		return tr.GetResults()
	}
	a, b := run(), run()
	assert.Equal(t, a["TIME"], b["TIME"])
	assert.Equal(t, a["V(out)"], b["V(out)"])
}

func TestTransientUseInitialConditions(t *testing.T) {
	c := circuit.New("rc")
	addR(t, c, "R1", "out", "0", 1e3)
	cp := addC(t, c, "C1", "out", "0", 1e-6)
	cp.SetIC(1)

	sim := NewSimulation(c, config.Default())
	tr, err := NewTransient(0, 5e-3, 50e-6, 0, true)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), tr))

	res := tr.GetResults()
	times, v := res["TIME"], res["V(out)"]
	require.Greater(t, len(times), 10)
	for i, tm := range times {
		if tm == 0 {
			continue
		}
		assert.InDelta(t, math.Exp(-tm/1e-3), v[i], 0.02, "t=%g", tm)
	}
	assert.Equal(t, 5e-3, times[len(times)-1])
	// no operating point was solved
	for _, step := range sim.Stats.Trace {
		assert.NotEqual(t, KindDirect, step.Kind)
	}
}

func TestTransientInductorCurrentRise(t *testing.T) {
	c := circuit.New("rl")
	addV(t, c, "V1", "in", "0", 1)
	addR(t, c, "R1", "in", "out", 1e3)
	l, err := device.NewInductor("L1", []string{"out", "0"}, 1e-3)
	require.NoError(t, err)
	l.SetIC(0)
	require.NoError(t, c.AddInstance("", l))

	sim := NewSimulation(c, config.Default())
	tr, err := NewTransient(0, 5e-6, 50e-9, 0, true)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), tr))

	res := tr.GetResults()
	times, v := res["TIME"], res["V(out)"]
	require.Greater(t, len(times), 10)
	for i, tm := range times {
		if tm == 0 {
			continue
		}
		assert.InDelta(t, math.Exp(-tm/1e-6), v[i], 0.02, "t=%g", tm)
	}
	assert.InDelta(t, 1e-3*(1-math.Exp(-5)), math.Abs(res["I(L1)"][len(times)-1]), 2e-5)
	// every reactive step needs a second solve to confirm the states
	assert.GreaterOrEqual(t, sim.Stats.NewtonIterations, 2*sim.Stats.Accepted)
}

func TestTransientPauseAndResume(t *testing.T) {
	c := pulsedRC(t)
	sim := NewSimulation(c, config.Default())
	tr, err := NewTransient(0, 3, 0.05, 0, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sim.Run(ctx, tr)
	require.ErrorIs(t, err, ErrPaused)
	assert.Equal(t, PhaseStepping, sim.Phase())
	assert.Equal(t, []float64{0}, tr.GetResults()["TIME"])

	require.NoError(t, sim.Run(context.Background(), tr))
	times := tr.GetResults()["TIME"]
	assert.Equal(t, 3.0, times[len(times)-1])
	assert.NotEqual(t, -1, indexOf(times, 2.0))
}

func TestTransientStartTimeSkipsEarlyResults(t *testing.T) {
	sim := NewSimulation(pulsedRC(t), config.Default())
	tr, err := NewTransient(1.5, 3, 0.05, 0, false)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), tr))

	times := tr.GetResults()["TIME"]
	require.NotEmpty(t, times)
	assert.GreaterOrEqual(t, times[0], 1.5)
	assert.Less(t, tr.Timepoints[1], 1.5)
}

func TestTransientGear(t *testing.T) {
	cfg := config.Default()
	cfg.Method = "gear"
	cfg.MaxOrder = 3
	sim := NewSimulation(pulsedRC(t), cfg)
	tr, err := NewTransient(0, 3, 0.02, 0, false)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), tr))

	res := tr.GetResults()
	i := indexOf(res["TIME"], 1.5)
	require.NotEqual(t, -1, i)
	assert.InDelta(t, 1.0, res["V(out)"][i], 0.01)
}

func TestNewTransientValidates(t *testing.T) {
	_, err := NewTransient(0, 0, 1e-3, 0, false)
	assert.Error(t, err)
	_, err = NewTransient(2, 1, 1e-3, 0, false)
	assert.Error(t, err)
}

func TestTransientHalvesStepAfterNewtonFailure(t *testing.T) {
	c := pulsedRC(t)
	f := addFlaky(t, c, "out", 0.5, 1e-3)

	sim := NewSimulation(c, config.Default())
	tr, err := NewTransient(0, 3, 0.01, 0, false)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), tr))
	require.NotEmpty(t, f.attempts)
	assert.GreaterOrEqual(t, sim.Stats.Rejected, len(f.attempts))

	halved := false
	for i, a := range f.attempts {
		// a rejected point leaves the history at the last accepted one
		assert.NotEqual(t, -1, indexOf(tr.Timepoints, a.from), "t=%g", a.time)
		assert.Less(t, a.from, a.time)
		if i == 0 || f.attempts[i-1].from != a.from {
			continue
		}
		prev := f.attempts[i-1].step
		assert.LessOrEqual(t, a.step, prev/2*(1+1e-12))
		if math.Abs(a.step-prev/2) <= 1e-12*prev {
			halved = true
		}
	}
	assert.True(t, halved, "no retry at half the failed step")

	for i := 1; i < len(tr.Timepoints); i++ {
		if tr.Timepoints[i-1] >= 0.5 {
			assert.LessOrEqual(t, tr.Timepoints[i]-tr.Timepoints[i-1], 1e-3*(1+1e-9))
		}
	}
	assert.Equal(t, 3.0, tr.Timepoints[len(tr.Timepoints)-1])
}

func TestTransientGivesUpBelowMinimumStep(t *testing.T) {
	c := pulsedRC(t)
	f := addFlaky(t, c, "out", 0, 0)

	sim := NewSimulation(c, config.Default())
	tr, err := NewTransient(0, 3, 0.01, 0, false)
	require.NoError(t, err)
	err = sim.Run(context.Background(), tr)
	require.ErrorIs(t, err, ErrTimestepTooSmall)

	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Zero(t, serr.Time)
	assert.Equal(t, []float64{0}, tr.Timepoints)
	assert.Zero(t, sim.Stats.Accepted)
	assert.Equal(t, PhaseFailed, sim.Phase())

	for i := 1; i < len(f.attempts)-1; i++ {
		assert.Equal(t, f.attempts[i-1].step/2, f.attempts[i].step)
	}
	// the minimum step, 1e-11 of the maximum, is tried once
	final := f.attempts[len(f.attempts)-1]
	assert.InEpsilon(t, 1e-13, final.step, 1e-9)
	assert.Zero(t, final.from)
	assert.Greater(t, len(f.attempts), 20)
}
