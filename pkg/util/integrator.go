package util

import (
	"fmt"
	"math"
	"strings"
)

type IntegrationMethod int

const (
	GearMethod IntegrationMethod = iota
	TrapezoidalMethod
)

// MaxOrder is the highest Gear order supported by the coefficient tables.
const MaxOrder = 6

func (m IntegrationMethod) String() string {
	if m == TrapezoidalMethod {
		return "trap"
	}
	return "gear"
}

func ParseMethod(s string) (IntegrationMethod, error) {
	switch strings.ToLower(s) {
	case "trap", "trapezoidal", "":
		return TrapezoidalMethod, nil
	case "gear", "bdf":
		return GearMethod, nil
	}
	return TrapezoidalMethod, fmt.Errorf("unknown integration method %q", s)
}

type BackwardDifferentialFormula struct {
	coefficients []float64
	beta         float64
}

var BdfCoefficients = [MaxOrder]BackwardDifferentialFormula{
	{[]float64{1.0}, 1.0},
	{[]float64{4.0 / 3.0, -1.0 / 3.0}, 2.0 / 3.0},
	{[]float64{18.0 / 11.0, -9.0 / 11.0, 2.0 / 11.0}, 6.0 / 11.0},
	{[]float64{48.0 / 25.0, -36.0 / 25.0, 16.0 / 25.0, -3.0 / 25.0}, 12.0 / 25.0},
	{[]float64{300.0 / 137.0, -300.0 / 137.0, 200.0 / 137.0, -75.0 / 137.0, 12.0 / 137.0}, 60.0 / 137.0},
	{[]float64{360.0 / 147.0, -450.0 / 147.0, 400.0 / 147.0, -225.0 / 147.0, 72.0 / 147.0, -10.0 / 147.0}, 60.0 / 147.0},
}

// Local truncation error constants, indexed by order-1.
var (
	gearTruncCoeff = [MaxOrder]float64{.5, .2222222222, .1363636364, .096, .07299270073, .05830903790}
	trapTruncCoeff = [2]float64{.5, .08333333333}
)

// GetBDFcoeffs returns the fixed-step BDF derivative weights for the current
// and the previous order points.
func GetBDFcoeffs(order int, dt float64) []float64 {
	if order < 1 || order > MaxOrder {
		order = 1
	}

	bdf := BdfCoefficients[order-1]
	coeffs := make([]float64, order+1)
	scale := 1.0 / (bdf.beta * dt)
	coeffs[0] = scale

	for i := 1; i <= order; i++ {
		coeffs[i] = -bdf.coefficients[i-1] * scale
	}

	return coeffs
}

// ComputeCoeffs fills ag with the integration coefficients for the step
// deltaOld[0], given the history of previous step sizes in deltaOld[1:].
func ComputeCoeffs(method IntegrationMethod, order int, deltaOld []float64, ag []float64) error {
	delta := deltaOld[0]
	if delta <= 0 {
		return fmt.Errorf("integration step %g is not positive", delta)
	}
	for i := range ag {
		ag[i] = 0
	}

	switch method {
	case TrapezoidalMethod:
		switch order {
		case 1:
			ag[0] = 1 / delta
			ag[1] = -1 / delta
		case 2:
			const xmu = 0.5
			ag[0] = 1 / delta / (1 - xmu)
			ag[1] = xmu / (1 - xmu)
		default:
			return fmt.Errorf("trapezoidal order %d not supported", order)
		}
	case GearMethod:
		if order < 1 || order > MaxOrder {
			return fmt.Errorf("gear order %d not supported", order)
		}
		if uniformSteps(deltaOld, order) {
			copy(ag, GetBDFcoeffs(order, delta))
			return nil
		}
		gearCoeffs(order, deltaOld, ag)
	}
	return nil
}

func uniformSteps(deltaOld []float64, order int) bool {
	for i := 1; i < order; i++ {
		if math.Abs(deltaOld[i]-deltaOld[0]) > 1e-12*deltaOld[0] {
			return false
		}
	}
	return true
}

// gearCoeffs solves the variable-step Vandermonde system by an unpivoted LU.
func gearCoeffs(order int, deltaOld []float64, ag []float64) {
	var mat [MaxOrder + 1][MaxOrder + 1]float64
	delta := deltaOld[0]
	ag[1] = -1 / delta

	for i := 0; i <= order; i++ {
		mat[0][i] = 1
	}
	arg := 0.0
	for i := 1; i <= order; i++ {
		arg += deltaOld[i-1]
		arg1 := 1.0
		for j := 1; j <= order; j++ {
			arg1 *= arg / delta
			mat[j][i] = arg1
		}
	}

	for i := 1; i <= order; i++ {
		for j := i + 1; j <= order; j++ {
			mat[j][i] /= mat[i][i]
			for k := i + 1; k <= order; k++ {
				mat[j][k] -= mat[j][i] * mat[i][k]
			}
		}
	}
	for i := 1; i <= order; i++ {
		for j := i + 1; j <= order; j++ {
			ag[j] -= mat[j][i] * ag[i]
		}
	}
	ag[order] /= mat[order][order]
	for i := order - 1; i >= 0; i-- {
		for j := i + 1; j <= order; j++ {
			ag[i] -= mat[i][j] * ag[j]
		}
		ag[i] /= mat[i][i]
	}
}

// TruncCoeff is the error constant of the method at the given order.
func TruncCoeff(method IntegrationMethod, order int) float64 {
	if method == TrapezoidalMethod {
		return trapTruncCoeff[min(max(order, 1), 2)-1]
	}
	return gearTruncCoeff[min(max(order, 1), MaxOrder)-1]
}

// DividedDifference returns the (order+1)-th divided difference of the
// samples q (newest first, order+2 values) over the step history steps
// (newest first, order+1 values).
func DividedDifference(q []float64, steps []float64, order int) float64 {
	var diff [MaxOrder + 2]float64
	var deltmp [MaxOrder + 2]float64
	copy(diff[:order+2], q[:order+2])
	copy(deltmp[:order+1], steps[:order+1])

	for j := order; ; {
		for i := 0; i <= j; i++ {
			diff[i] = (diff[i] - diff[i+1]) / deltmp[i]
		}
		j--
		if j < 0 {
			break
		}
		for i := 0; i <= j; i++ {
			deltmp[i] = deltmp[i+1] + steps[i]
		}
	}
	return diff[0]
}

// EstimateLTE approximates the local truncation error committed by the
// last step (steps[0]) for the samples q.
func EstimateLTE(method IntegrationMethod, order int, q []float64, steps []float64) float64 {
	dd := DividedDifference(q, steps, order)
	return TruncCoeff(method, order) * math.Abs(dd) * math.Pow(steps[0], float64(order+1))
}
