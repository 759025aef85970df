package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
)

func TestResistiveNetworkConvergesInOneIteration(t *testing.T) {
	c := circuit.New("divider")
	addV(t, c, "V1", "in", "0", 10)
	addR(t, c, "R1", "in", "out", 1e3)
	addR(t, c, "R2", "out", "0", 1e3)

	sim := NewSimulation(c, config.Default())
	op := NewOP()
	require.NoError(t, sim.Run(context.Background(), op))

	assert.Equal(t, 1, sim.Stats.NewtonIterations)
	assert.Zero(t, sim.Stats.GminSteps)
	assert.Zero(t, sim.Stats.SrcSteps)
	assert.Equal(t, PhaseDone, sim.Phase())
	assert.Equal(t, "success", sim.Message())

	res := op.GetResults()
	assert.InDelta(t, 5.0, res["V(out)"][0], 1e-9)
	assert.InDelta(t, 5e-3, res["I(V1)"][0], 1e-12)
}

func TestSingularVoltageLoopNamesSources(t *testing.T) {
	c := circuit.New("ganged")
	addV(t, c, "V1", "a", "0", 1)
	addV(t, c, "V2", "a", "0", 2)

	sim := NewSimulation(c, config.Default())
	err := sim.Run(context.Background(), NewOP())
	require.Error(t, err)

	var serr *SingularError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.ElementsMatch(t, []string{"V1", "V2"}, serr.Devices)
	assert.Zero(t, sim.Stats.GminSteps)
	assert.Zero(t, sim.Stats.SrcSteps)
	assert.Equal(t, PhaseFailed, sim.Phase())
	assert.Contains(t, sim.Message(), "singular matrix")
	assert.Contains(t, sim.Message(), "V1")
}

func TestDynamicGminSteppingReachesTarget(t *testing.T) {
	c, _ := stiffCircuit(t)
	cfg := testConfig()

	sim := NewSimulation(c, cfg)
	op := NewOP()
	require.NoError(t, sim.Run(context.Background(), op))

	require.NotEmpty(t, sim.Stats.Trace)
	assert.Equal(t, KindDirect, sim.Stats.Trace[0].Kind)
	assert.False(t, sim.Stats.Trace[0].Converged)

	var gmins []float64
	for _, step := range sim.Stats.Trace {
		if step.Kind == KindGmin && step.Converged {
			gmins = append(gmins, step.Gmin)
		}
	}
	require.NotEmpty(t, gmins)
	for i := 1; i < len(gmins); i++ {
		assert.Less(t, gmins[i], gmins[i-1])
		assert.GreaterOrEqual(t, gmins[i], cfg.Gmin)
	}
	assert.InEpsilon(t, cfg.Gmin, gmins[len(gmins)-1], 1e-9)

	last := sim.Stats.Trace[len(sim.Stats.Trace)-1]
	assert.Equal(t, KindFinal, last.Kind)
	assert.True(t, last.Converged)
	assert.InDelta(t, 5.0, op.GetResults()["V(a)"][0], 1e-3)
	assert.Zero(t, c.Status.DiagGmin)
}

func TestGminRollbackRestoresSnapshot(t *testing.T) {
	c, x := stiffCircuit(t)
	x.failBelow, x.failAbove = 5e-7, 5e-5

	var lastGood, goodAtFailure [2][]float64
	var seen [2][]float64
	x.onRetry = func(solution, state []float64) {
		seen = [2][]float64{solution, state}
	}

	sim := NewSimulation(c, testConfig())
	sim.OnContinuation = func(step ContinuationStep) {
		if step.Kind != KindGmin {
			return
		}
		st := c.Status
		if step.Converged {
			lastGood = [2][]float64{
				append([]float64(nil), st.Solution...),
				append([]float64(nil), st.States.State(0)...),
			}
			return
		}
		goodAtFailure = lastGood
	}
	require.NoError(t, sim.Run(context.Background(), NewOP()))

	require.True(t, x.failed)
	require.True(t, x.retried)
	require.NotNil(t, goodAtFailure[0])
	assert.Equal(t, goodAtFailure[0], seen[0])
	assert.Equal(t, goodAtFailure[1], seen[1])
}

func TestClassicGminSchedule(t *testing.T) {
	c, _ := stiffCircuit(t)
	cfg := testConfig()
	cfg.NoOpIter = true
	cfg.NumGminSteps = 3

	sim := NewSimulation(c, cfg)
	require.NoError(t, sim.Run(context.Background(), NewOP()))

	var gmins []float64
	for _, step := range sim.Stats.Trace {
		if step.Kind == KindGmin {
			gmins = append(gmins, step.Gmin)
		}
	}
	require.Len(t, gmins, 4)
	for i, want := range []float64{1e-9, 1e-10, 1e-11, 1e-12} {
		assert.InEpsilon(t, want, gmins[i], 1e-9)
	}
	assert.Equal(t, KindFinal, sim.Stats.Trace[len(sim.Stats.Trace)-1].Kind)
}

func TestDynamicSourceStepping(t *testing.T) {
	c, _ := stiffCircuit(t)
	cfg := testConfig()
	cfg.NoOpIter = true
	cfg.NumGminSteps = -1

	sim := NewSimulation(c, cfg)
	op := NewOP()
	require.NoError(t, sim.Run(context.Background(), op))

	var facts []float64
	for _, step := range sim.Stats.Trace {
		if step.Kind == KindSource && step.Converged {
			facts = append(facts, step.SrcFact)
		}
	}
	require.NotEmpty(t, facts)
	assert.Equal(t, 0.0, facts[0])
	assert.Equal(t, 1.0, facts[len(facts)-1])
	for i := 1; i < len(facts); i++ {
		assert.Greater(t, facts[i], facts[i-1])
	}
	// the zero-source circuit is reached through one gmin pass
	assert.Positive(t, sim.Stats.GminSteps)
	for _, step := range sim.Stats.Trace {
		if step.Kind == KindGmin {
			assert.Zero(t, step.SrcFact)
		}
	}
	assert.Equal(t, 1.0, c.Status.SrcFact)
	assert.InDelta(t, 5.0, op.GetResults()["V(a)"][0], 1e-3)
}

func TestClassicSourceSchedule(t *testing.T) {
	c, _ := stiffCircuit(t)
	cfg := testConfig()
	cfg.NoOpIter = true
	cfg.GminFirst = false
	cfg.NumSrcSteps = 4

	sim := NewSimulation(c, cfg)
	require.NoError(t, sim.Run(context.Background(), NewOP()))

	var facts []float64
	for _, step := range sim.Stats.Trace {
		if step.Kind == KindSource {
			facts = append(facts, step.SrcFact)
		}
	}
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, facts)
	assert.Zero(t, sim.Stats.GminSteps)
}

func TestDirectSolveWhenBothFamiliesSkipped(t *testing.T) {
	c, _ := stiffCircuit(t)
	cfg := config.Default()
	cfg.NoOpIter = true
	cfg.NumGminSteps = -1
	cfg.NumSrcSteps = -1

	sim := NewSimulation(c, cfg)
	require.NoError(t, sim.Run(context.Background(), NewOP()))
	require.Len(t, sim.Stats.Trace, 1)
	assert.Equal(t, KindDirect, sim.Stats.Trace[0].Kind)
}

func TestOverflowIsMathException(t *testing.T) {
	build := func() *circuit.Circuit {
		c := circuit.New("overflow")
		addV(t, c, "V1", "a", "0", 1e300)
		addR(t, c, "R1", "a", "0", 1e-10)
		return c
	}

	cfg := config.Default()
	cfg.NumGminSteps = -1
	cfg.NumSrcSteps = -1
	sim := NewSimulation(build(), cfg)
	err := sim.Run(context.Background(), NewOP())
	require.ErrorIs(t, err, ErrMathException)
	var serr *SingularError
	assert.False(t, errors.As(err, &serr))

	// recoverable, so continuation takes over before giving up
	sim = NewSimulation(build(), config.Default())
	err = sim.Run(context.Background(), NewOP())
	require.ErrorIs(t, err, ErrNoConvergence)
	assert.False(t, errors.As(err, &serr))
	assert.Positive(t, sim.Stats.GminSteps)
	assert.Positive(t, sim.Stats.SrcSteps)
}

func TestNoConvergenceWhenSteppingFails(t *testing.T) {
	c, x := stiffCircuit(t)
	x.limit = 1e-3
	cfg := testConfig()
	cfg.GminMaxIter = 5
	cfg.NumSrcSteps = -1

	sim := NewSimulation(c, cfg)
	err := sim.Run(context.Background(), NewOP())
	require.ErrorIs(t, err, ErrNoConvergence)
	assert.Equal(t, "no convergence, stepping failed", sim.Message())
	assert.Equal(t, PhaseFailed, sim.Phase())
}

func TestParallelLoadMatchesSequential(t *testing.T) {
	build := func() *circuit.Circuit {
		c := circuit.New("chain")
		addV(t, c, "V1", "n0", "0", 5)
		prev := "n0"
		for i := 1; i <= 6; i++ {
			n := fmt.Sprintf("n%d", i)
			addR(t, c, "R"+n, prev, n, 1e3)
			addD(t, c, "D"+n, n, "0")
			prev = n
		}
		return c
	}

	seq := NewOP()
	require.NoError(t, NewSimulation(build(), config.Default()).Run(context.Background(), seq))

	cfg := config.Default()
	cfg.Threads = 3
	par := NewOP()
	require.NoError(t, NewSimulation(build(), cfg).Run(context.Background(), par))

	for name, v := range seq.GetResults() {
		assert.InDelta(t, v[0], par.GetResults()[name][0], 1e-9, name)
	}
}

func TestInterruptPausesBeforeSolving(t *testing.T) {
	c, _ := stiffCircuit(t)
	sim := NewSimulation(c, config.Default())
	sim.Interrupt()

	err := sim.Run(context.Background(), NewOP())
	require.ErrorIs(t, err, ErrPaused)
	assert.Equal(t, "paused", sim.Message())
	assert.NotEqual(t, PhaseFailed, sim.Phase())
	assert.Zero(t, sim.Stats.NewtonIterations)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "success", Describe(nil))
	assert.Equal(t, "paused", Describe(ErrPaused))
	assert.Equal(t, "no convergence, stepping failed", Describe(ErrNoConvergence))
	assert.Equal(t, "iteration error: timestep too small", Describe(ErrTimestepTooSmall))
	assert.Equal(t, "singular matrix: check node a; voltage loop through V1, V2",
		Describe(&SingularError{Nodes: []string{"a"}, Devices: []string{"V1", "V2"}}))
}
