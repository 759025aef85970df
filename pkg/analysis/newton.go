package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// iterate runs Newton-Raphson at the current mode until the solution
// converges or maxIter iterations are spent. st.Solution holds the initial
// guess on entry and the converged solution on success.
func (s *Simulation) iterate(maxIter int) (int, error) {
	ckt := s.Circuit
	st := ckt.Status
	mat := ckt.Matrix()

	// Transient operating point with initial conditions: states only.
	if st.Mode.Is(device.TransientOP) && st.Mode.Is(device.UseIC) {
		if err := ckt.Load(); err != nil {
			return 0, s.loadError(err)
		}
		return 0, nil
	}

	ipass := false
	iter := 0
	for {
		reordered := false
		if s.shouldReorder {
			if err := mat.Reorder(); err != nil {
				return iter, err
			}
			s.shouldReorder = false
			reordered = true
		}

		st.ResetNonConverged()
		if err := ckt.Load(); err != nil {
			return iter, s.loadError(err)
		}
		iter++
		s.Stats.NewtonIterations++
		s.metrics.NewtonIteration(s.analysis)

		x, err := mat.Solve()
		if errors.Is(err, matrix.ErrSingular) {
			s.metrics.Singular()
			if !reordered {
				s.shouldReorder = true
				s.logger.Debug("singular matrix, reordering", "iter", iter)
				continue
			}
			return iter, s.diagnoseSingular()
		}
		if errors.Is(err, matrix.ErrNotFinite) {
			return iter, fmt.Errorf("%w: %w", ErrMathException, err)
		}
		if err != nil {
			return iter, err
		}

		// A linear DC system is solved exactly by one load. Transient loads
		// also compute the reactive states, which must be reloaded at the
		// solution before they are accepted.
		converged := false
		switch {
		case ckt.Linear() && st.Mode.Is(device.DCMode) && !s.forcing():
			converged = true
		case !st.NonConverged() && iter != 1:
			converged = s.converged(st.Solution, x)
			if converged {
				if err := ckt.ConvTest(); err != nil {
					return iter, err
				}
				converged = !st.NonConverged()
			}
		}
		copy(st.Solution, x)

		if ckt.Linear() && converged {
			return iter, nil
		}

		switch st.Init {
		case device.InitFloat:
			if converged {
				if st.Mode.Is(device.DCMode) && s.hasNodeSet && ipass {
					ipass = false
					break
				}
				return iter, nil
			}
		case device.InitJct:
			st.Init = device.InitFix
			s.shouldReorder = true
		case device.InitFix:
			if converged {
				st.Init = device.InitFloat
			}
			ipass = true
		case device.InitTran:
			if iter <= 1 {
				s.shouldReorder = true
			}
			st.Init = device.InitFloat
		case device.InitPred, device.InitSmSig:
			st.Init = device.InitFloat
		}

		if iter >= maxIter {
			return iter, fmt.Errorf("%w after %d iterations", ErrIterationLimit, iter)
		}
	}
}

// forcing reports whether node forcing stamps depend on the init phase.
func (s *Simulation) forcing() bool {
	st := s.Circuit.Status
	return s.hasNodeSet && st.Mode.Is(device.DCMode) &&
		(st.Init == device.InitJct || st.Init == device.InitFix)
}

// converged compares two iterates unknown by unknown. Voltages use vntol
// and currents abstol as the absolute part of the tolerance.
func (s *Simulation) converged(old, x []float64) bool {
	st := s.Circuit.Status
	for i := 1; i < len(x); i++ {
		tol := st.Reltol * math.Max(math.Abs(old[i]), math.Abs(x[i]))
		if s.isCurrent[i] {
			tol += st.Abstol
		} else {
			tol += st.Vntol
		}
		if math.Abs(x[i]-old[i]) > tol {
			return false
		}
	}
	return true
}

func (s *Simulation) loadError(err error) error {
	if errors.Is(err, device.ErrMath) {
		return fmt.Errorf("%w: %w", ErrMathException, err)
	}
	return err
}

// diagnoseSingular reloads the system and locates the offending row and
// any loop of voltage-defined elements.
func (s *Simulation) diagnoseSingular() error {
	ckt := s.Circuit
	serr := &SingularError{Devices: firstLoop(ckt.VoltageLoops())}
	if err := ckt.Load(); err == nil {
		serr.Row, serr.Col = ckt.Matrix().WhereSingular()
		for _, idx := range []int{serr.Row, serr.Col} {
			if idx <= 0 {
				continue
			}
			name := ckt.Nodes.NameOf(idx)
			if len(serr.Nodes) == 0 || serr.Nodes[0] != name {
				serr.Nodes = append(serr.Nodes, name)
			}
		}
	}
	s.logger.Debug("singular matrix", "row", serr.Row, "col", serr.Col, "loop", serr.Devices)
	return serr
}

func firstLoop(loops [][]string) []string {
	if len(loops) == 0 {
		return nil
	}
	return loops[0]
}
