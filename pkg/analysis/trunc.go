package analysis

import (
	"math"

	"github.com/edp1096/spicecore/pkg/util"
)

// truncation returns the step the truncation error of every charge slot
// allows, never more than twice the current step.
func (s *Simulation) truncation(delta float64) float64 {
	st := s.Circuit.Status
	next := math.Inf(1)
	for _, slot := range st.States.Charges() {
		next = math.Min(next, s.slotStep(slot))
	}
	return math.Min(2*delta, next)
}

// slotStep estimates the largest step for one charge slot from the local
// truncation error of the last step.
func (s *Simulation) slotStep(qcap int) float64 {
	st := s.Circuit.Status
	cfg := s.Config
	order := st.Order

	lte, tol := s.slotError(qcap)
	rate := lte / math.Pow(st.DeltaOld[0], float64(order+1))
	del := cfg.Trtol * tol / math.Max(cfg.Abstol, rate)
	switch {
	case order == 2:
		del = math.Sqrt(del)
	case order > 2:
		del = math.Exp(math.Log(del) / float64(order))
	}
	return del
}

// slotError returns the truncation error estimate of one charge slot and the
// tolerance it is held to. The tolerance mixes the derivative stored in the
// next slot with the charge itself.
func (s *Simulation) slotError(qcap int) (float64, float64) {
	st := s.Circuit.Status
	cfg := s.Config
	order := st.Order
	s0 := st.States.State(0)
	s1 := st.States.State(1)
	ccap := qcap + 1

	volttol := cfg.Abstol + cfg.Reltol*math.Max(math.Abs(s0[ccap]), math.Abs(s1[ccap]))
	chargetol := math.Max(math.Abs(s0[qcap]), math.Abs(s1[qcap]))
	chargetol = cfg.Reltol * math.Max(chargetol, cfg.Chgtol) / st.TimeStep
	tol := math.Max(volttol, chargetol)

	var buf [util.MaxOrder + 2]float64
	q := st.States.Sample(qcap, order+2, buf[:0])
	return util.EstimateLTE(st.Method, order, q, st.DeltaOld[:order+1]), tol
}

// predict extrapolates the solution and the state vectors from the last two
// accepted points.
func (s *Simulation) predict(x1, x2 []float64) {
	st := s.Circuit.Status
	r := st.DeltaOld[0] / st.DeltaOld[1]
	a, b := 1+r, -r

	x := st.Solution
	for i := range x {
		x[i] = a*x1[i] + b*x2[i]
	}
	s0, s1, s2 := st.States.State(0), st.States.State(1), st.States.State(2)
	for i := range s0 {
		s0[i] = a*s1[i] + b*s2[i]
	}
}
