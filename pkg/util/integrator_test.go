package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCoeffsTrapezoidal(t *testing.T) {
	ag := make([]float64, MaxOrder+1)
	steps := []float64{1e-3, 1e-3, 1e-3}

	require.NoError(t, ComputeCoeffs(TrapezoidalMethod, 1, steps, ag))
	assert.InDelta(t, 1e3, ag[0], 1e-9)
	assert.InDelta(t, -1e3, ag[1], 1e-9)

	require.NoError(t, ComputeCoeffs(TrapezoidalMethod, 2, steps, ag))
	assert.InDelta(t, 2e3, ag[0], 1e-9)
	assert.InDelta(t, 1.0, ag[1], 1e-12)

	assert.Error(t, ComputeCoeffs(TrapezoidalMethod, 3, steps, ag))
}

func TestGearMatchesBDFTableOnUniformSteps(t *testing.T) {
	h := 2e-6
	for order := 1; order <= MaxOrder; order++ {
		steps := make([]float64, MaxOrder+1)
		for i := range steps {
			steps[i] = h
		}
		ag := make([]float64, MaxOrder+1)
		gearCoeffs(order, steps, ag)

		want := GetBDFcoeffs(order, h)
		for i := 0; i <= order; i++ {
			assert.InEpsilon(t, want[i], ag[i], 1e-8, "order %d coeff %d", order, i)
		}
	}
}

func TestGearVariableStepIsExactForPolynomials(t *testing.T) {
	// q(t) = 3t^2 + 2t + 1 sampled at t0=0 going backwards; q'(0) = 2.
	q := func(t float64) float64 { return 3*t*t + 2*t + 1 }
	steps := []float64{1e-3, 3e-3, 2e-3}
	ag := make([]float64, MaxOrder+1)
	require.NoError(t, ComputeCoeffs(GearMethod, 2, steps, ag))

	times := []float64{0, -steps[0], -steps[0] - steps[1]}
	deriv := 0.0
	for i, ti := range times {
		deriv += ag[i] * q(ti)
	}
	assert.InDelta(t, 2.0, deriv, 1e-9)
}

func TestDividedDifferenceOfCubic(t *testing.T) {
	// Third divided difference of t^3 is 1 regardless of spacing.
	steps := []float64{0.1, 0.25, 0.05}
	times := []float64{1, 0.9, 0.65, 0.6}
	q := make([]float64, len(times))
	for i, ti := range times {
		q[i] = ti * ti * ti
	}
	assert.InDelta(t, 1.0, DividedDifference(q, steps, 2), 1e-9)
}

func TestLTEScalesWithOrder(t *testing.T) {
	sample := func(order int, h float64) ([]float64, []float64) {
		q := make([]float64, order+2)
		steps := make([]float64, order+1)
		for i := range q {
			q[i] = math.Exp(1 - float64(i)*h)
		}
		for i := range steps {
			steps[i] = h
		}
		return q, steps
	}

	cases := []struct {
		method IntegrationMethod
		order  int
	}{
		{TrapezoidalMethod, 1},
		{TrapezoidalMethod, 2},
		{GearMethod, 1},
		{GearMethod, 2},
		{GearMethod, 3},
	}
	for _, tc := range cases {
		q1, s1 := sample(tc.order, 1e-2)
		q2, s2 := sample(tc.order, 5e-3)
		ratio := EstimateLTE(tc.method, tc.order, q1, s1) / EstimateLTE(tc.method, tc.order, q2, s2)
		assert.InEpsilon(t, math.Pow(2, float64(tc.order+1)), ratio, 0.05,
			"%v order %d", tc.method, tc.order)
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("Gear")
	require.NoError(t, err)
	assert.Equal(t, GearMethod, m)

	m, err = ParseMethod("trap")
	require.NoError(t, err)
	assert.Equal(t, TrapezoidalMethod, m)

	_, err = ParseMethod("euler")
	assert.Error(t, err)
}
