package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/edp1096/spicecore/pkg/device"
)

const (
	gminStart     = 1e-2
	gminFloor     = 1e-15
	factorFloor   = 1.00005
	raiseStart    = 1e-3
	raiseCap      = 1e-2
	raiseFloor    = 1e-7
	srcFactorTiny = 1e-8
)

// operatingPoint solves the DC system in the given mode: a direct Newton
// solve first, then the gmin and source stepping families in the configured
// order.
func (s *Simulation) operatingPoint(ctx context.Context, mode device.Mode, maxIter int) error {
	_, span := s.tracer.Start(ctx, "analysis.operating_point",
		trace.WithAttributes(attribute.Int("op.max_iter", maxIter)))
	defer span.End()

	err := s.solveOperatingPoint(mode, maxIter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Simulation) solveOperatingPoint(mode device.Mode, maxIter int) error {
	cfg := s.Config
	st := s.Circuit.Status
	st.Mode = mode
	st.Init = device.InitJct
	st.DiagGmin = 0
	st.SrcFact = 1

	skipAll := cfg.NumGminSteps < 0 && cfg.NumSrcSteps < 0
	if !cfg.NoOpIter || skipAll {
		iters, err := s.iterate(maxIter)
		s.record(ContinuationStep{Kind: KindDirect, SrcFact: 1, Iterations: iters, Converged: err == nil})
		if err == nil || !recoverable(err) {
			return err
		}
		s.logger.Warn("direct operating point failed, trying continuation", "error", err)
	}

	families := []func(int) error{s.gminStepping, s.sourceStepping}
	if !cfg.GminFirst {
		families[0], families[1] = families[1], families[0]
	}

	var last error
	for _, run := range families {
		err := run(maxIter)
		if err == nil {
			return nil
		}
		if !recoverable(err) && !errors.Is(err, ErrNoConvergence) {
			return err
		}
		last = err
	}
	st.DiagGmin = 0
	st.SrcFact = 1
	if last == nil {
		return ErrNoConvergence
	}
	return fmt.Errorf("%w: %w", ErrNoConvergence, last)
}

// gminStepping picks the dynamic or classic variant from the step count.
// A negative count skips the family.
func (s *Simulation) gminStepping(maxIter int) error {
	n := s.Config.NumGminSteps
	switch {
	case n < 0:
		return ErrNoConvergence
	case n == 0:
		return s.dynamicGmin(maxIter)
	}
	return s.classicGmin(maxIter, n)
}

func (s *Simulation) sourceStepping(maxIter int) error {
	n := s.Config.NumSrcSteps
	switch {
	case n < 0:
		return ErrNoConvergence
	case n == 0:
		return s.dynamicSource(maxIter)
	}
	return s.classicSource(maxIter, n)
}

// resetGuess starts a continuation run from a zero solution and zero state.
func (s *Simulation) resetGuess() {
	st := s.Circuit.Status
	clear(st.Solution)
	clear(st.States.State(0))
	st.Init = device.InitJct
}

func (s *Simulation) gminTarget() float64 {
	return math.Max(s.Config.Gmin, gminFloor)
}

// dynamicGmin walks the diagonal shunt from gminStart down to the target,
// growing the step after easy solves and shrinking it after failures.
func (s *Simulation) dynamicGmin(maxIter int) error {
	s.logger.Info("starting dynamic gmin stepping")
	s.resetGuess()
	if err := s.gminLoop(s.Config.GminMaxIter); err != nil {
		return err
	}
	return s.finalSolve(maxIter)
}

// gminLoop is the body of dynamic gmin stepping. It leaves the circuit at
// the target shunt with a converged solution, or fails.
func (s *Simulation) gminLoop(stepIter int) error {
	st := s.Circuit.Status
	factor := s.Config.GminFactor
	oldGmin := gminStart
	target := s.gminTarget()
	st.DiagGmin = oldGmin / factor

	s.snapshot()
	for {
		iters, err := s.iterate(stepIter)
		s.record(ContinuationStep{Kind: KindGmin, Gmin: st.DiagGmin, SrcFact: st.SrcFact,
			Iterations: iters, Converged: err == nil})
		if err != nil && !recoverable(err) {
			return err
		}

		if err == nil {
			st.Init = device.InitFloat
			s.logger.Debug("gmin step converged", "gmin", st.DiagGmin, "iter", iters)
			if st.DiagGmin <= target {
				return nil
			}
			s.snapshot()

			if iters <= stepIter/4 {
				factor *= math.Sqrt(factor)
				factor = math.Min(factor, s.Config.GminFactor)
			}
			if iters > 3*stepIter/4 {
				factor = math.Sqrt(factor)
			}
			oldGmin = st.DiagGmin
			if st.DiagGmin < factor*target {
				factor = st.DiagGmin / target
				st.DiagGmin = target
			} else {
				st.DiagGmin = math.Max(st.DiagGmin/factor, target)
			}
			continue
		}

		s.logger.Debug("gmin step failed", "gmin", st.DiagGmin, "error", err)
		if factor < factorFloor {
			st.DiagGmin = 0
			s.logger.Warn("dynamic gmin stepping failed", "gmin", oldGmin)
			return fmt.Errorf("%w: gmin stuck at %g", ErrNoConvergence, oldGmin)
		}
		factor = math.Sqrt(math.Sqrt(factor))
		st.DiagGmin = oldGmin / factor
		s.restore()
	}
}

// classicGmin solves at gmin*factor^n and divides by factor after each
// success. Any failure ends the schedule.
func (s *Simulation) classicGmin(maxIter, steps int) error {
	s.logger.Info("starting gmin stepping", "steps", steps)
	st := s.Circuit.Status
	st.Init = device.InitJct

	st.DiagGmin = s.Config.Gmin
	for range steps {
		st.DiagGmin *= s.Config.GminFactor
	}
	for i := 0; i <= steps; i++ {
		iters, err := s.iterate(s.Config.GminMaxIter)
		s.record(ContinuationStep{Kind: KindGmin, Gmin: st.DiagGmin, SrcFact: st.SrcFact,
			Iterations: iters, Converged: err == nil})
		if err != nil {
			st.DiagGmin = 0
			if !recoverable(err) {
				return err
			}
			s.logger.Warn("gmin stepping failed", "step", i, "error", err)
			return fmt.Errorf("%w: gmin step %d: %w", ErrNoConvergence, i, err)
		}
		st.DiagGmin /= s.Config.GminFactor
		st.Init = device.InitFloat
	}
	return s.finalSolve(maxIter)
}

// finalSolve removes the shunt and solves the true circuit.
func (s *Simulation) finalSolve(maxIter int) error {
	st := s.Circuit.Status
	st.DiagGmin = 0
	iters, err := s.iterate(maxIter)
	s.record(ContinuationStep{Kind: KindFinal, SrcFact: st.SrcFact, Iterations: iters, Converged: err == nil})
	if err != nil {
		if recoverable(err) {
			return fmt.Errorf("%w: final solve without gmin: %w", ErrNoConvergence, err)
		}
		return err
	}
	s.logger.Info("gmin stepping completed")
	return nil
}

// dynamicSource ramps every independent source from zero with an adaptive
// raise. The zero-source circuit is first brought to convergence by one pass
// of dynamic gmin stepping.
func (s *Simulation) dynamicSource(maxIter int) error {
	s.logger.Info("starting source stepping")
	st := s.Circuit.Status
	stepIter := s.Config.SrcMaxIter
	s.resetGuess()
	st.SrcFact = 0

	if err := s.gminLoop(stepIter); err != nil {
		st.DiagGmin = 0
		st.SrcFact = 1
		return err
	}
	st.DiagGmin = 0
	iters, err := s.iterate(maxIter)
	s.record(ContinuationStep{Kind: KindSource, Iterations: iters, Converged: err == nil})
	if err != nil {
		st.SrcFact = 1
		if !recoverable(err) {
			return err
		}
		return fmt.Errorf("%w: zero-source solve: %w", ErrNoConvergence, err)
	}

	st.Init = device.InitFloat
	s.snapshot()
	raise := raiseStart
	convFact := 0.0
	st.SrcFact = raise

	for raise >= raiseFloor && convFact < 1 {
		iters, err := s.iterate(stepIter)
		s.record(ContinuationStep{Kind: KindSource, SrcFact: st.SrcFact, Iterations: iters, Converged: err == nil})
		st.Init = device.InitFloat
		if err != nil && !recoverable(err) {
			st.SrcFact = 1
			return err
		}

		if err == nil {
			convFact = st.SrcFact
			s.snapshot()
			s.logger.Debug("source step converged", "srcfact", convFact, "iter", iters)
			if iters <= stepIter/4 {
				raise *= 1.5
			}
			if iters > 3*stepIter/4 {
				raise *= 0.5
			}
		} else {
			if st.SrcFact-convFact < srcFactorTiny {
				break
			}
			raise = math.Min(raise/10, raiseCap)
			s.restore()
			s.logger.Debug("source step failed", "srcfact", st.SrcFact, "raise", raise)
		}
		st.SrcFact = math.Min(convFact+raise, 1)
	}

	st.SrcFact = 1
	if convFact < 1 {
		s.logger.Warn("source stepping failed", "srcfact", convFact)
		return fmt.Errorf("%w: source factor stuck at %g", ErrNoConvergence, convFact)
	}
	s.logger.Info("source stepping completed")
	return nil
}

// classicSource solves at i/steps of the source values for i = 0..steps.
func (s *Simulation) classicSource(maxIter, steps int) error {
	s.logger.Info("starting source stepping", "steps", steps)
	st := s.Circuit.Status
	st.Init = device.InitJct
	st.DiagGmin = 0
	defer func() { st.SrcFact = 1 }()

	for i := 0; i <= steps; i++ {
		st.SrcFact = float64(i) / float64(steps)
		iters, err := s.iterate(s.Config.SrcMaxIter)
		s.record(ContinuationStep{Kind: KindSource, SrcFact: st.SrcFact, Iterations: iters, Converged: err == nil})
		st.Init = device.InitFloat
		if err != nil {
			if !recoverable(err) {
				return err
			}
			s.logger.Warn("source stepping failed", "step", i, "error", err)
			return fmt.Errorf("%w: source step %d: %w", ErrNoConvergence, i, err)
		}
	}
	return nil
}
