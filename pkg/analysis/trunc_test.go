package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
)

func TestTruncationErrorScalesWithOrder(t *testing.T) {
	cases := []struct {
		method string
		order  int
	}{
		{"trap", 1},
		{"trap", 2},
		{"gear", 1},
		{"gear", 2},
		{"gear", 3},
	}
	for _, tc := range cases {
		c := circuit.New("rc")
		addR(t, c, "R1", "out", "0", 1e3)
		addC(t, c, "C1", "out", "0", 1e-6)
		cfg := config.Default()
		cfg.Method = tc.method
		cfg.MaxOrder = max(tc.order, 2)
		sim := NewSimulation(c, cfg)
		require.NoError(t, sim.prepare())

		st := c.Status
		st.Order = tc.order
		slot := st.States.Charges()[0]

		// a smooth charge q(t) = exp(t) sampled at a fixed step
		estimate := func(h float64) (float64, float64) {
			st.TimeStep = h
			for i := range st.DeltaOld {
				st.DeltaOld[i] = h
			}
			for i := 0; i < tc.order+2; i++ {
				tm := 1 - float64(i)*h
				st.States.State(i)[slot] = math.Exp(tm)
				st.States.State(i)[slot+1] = math.Exp(tm)
			}
			lte, _ := sim.slotError(slot)
			return lte, sim.slotStep(slot)
		}

		coarse, step := estimate(1e-2)
		fine, _ := estimate(5e-3)
		assert.InEpsilon(t, math.Pow(2, float64(tc.order+1)), coarse/fine, 0.05,
			"%s order %d", tc.method, tc.order)
		assert.Positive(t, step)
	}
}
