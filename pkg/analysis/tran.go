package analysis

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/util"
)

const (
	growthLimit    = 0.9  // reject when the error allows less than this share of the step
	orderRaiseGain = 1.05 // a higher order must allow a step this much longer
)

type Transient struct {
	BaseAnalysis
	startTime float64
	stopTime  float64
	timeStep  float64
	maxStep   float64
	useUIC    bool

	delta     float64
	saveDelta float64
	delmin    float64
	firstStep bool
	started   bool

	x1, x2   []float64 // last two accepted solutions
	progress *rate.Sometimes
	// Timepoints lists every accepted time, including points before startTime.
	Timepoints []float64
}

func NewTransient(tStart, tStop, tStep, tMax float64, uic bool) (*Transient, error) {
	if tStep <= 0 || tStop <= 0 {
		return nil, fmt.Errorf("transient needs positive step and stop time")
	}
	if tStart < 0 || tStart >= tStop {
		return nil, fmt.Errorf("transient start time %g outside [0, %g)", tStart, tStop)
	}
	if tMax <= 0 {
		tMax = math.Min(tStep, (tStop-tStart)/50)
	}

	return &Transient{
		BaseAnalysis: *NewBaseAnalysis(),
		startTime:    tStart,
		stopTime:     tStop,
		timeStep:     tStep,
		maxStep:      tMax,
		useUIC:       uic,
		progress:     &rate.Sometimes{Interval: 2 * time.Second},
	}, nil
}

func (tr *Transient) Name() string { return "tran" }

// Execute runs the transient. A paused run resumes from its last accepted
// point when executed again.
func (tr *Transient) Execute(ctx context.Context) error {
	s := tr.sim
	if !tr.started {
		if err := tr.begin(ctx); err != nil {
			return err
		}
	}
	s.setPhase(PhaseStepping)

	st := s.Circuit.Status
	for st.Time < tr.stopTime {
		if err := s.checkInterrupt(ctx); err != nil {
			return err
		}
		if err := tr.step(); err != nil {
			return err
		}
		tr.progress.Do(func() {
			s.logger.Info("transient progress", "time", st.Time, "stop", tr.stopTime,
				"accepted", s.Stats.Accepted, "rejected", s.Stats.Rejected)
		})
	}
	return nil
}

// begin computes the initial point and arms the step controller.
func (tr *Transient) begin(ctx context.Context) error {
	s := tr.sim
	ckt := s.Circuit
	st := ckt.Status
	cfg := s.Config

	minBreak := cfg.MinBreak
	if minBreak <= 0 {
		minBreak = 5e-5 * tr.maxStep
	}
	ckt.Breaks.Reset(minBreak)
	st.Time = 0
	st.Step = tr.timeStep
	st.FinalTime = tr.stopTime
	if err := ckt.Breaks.Set(0, tr.stopTime); err != nil {
		return err
	}

	tr.delta = math.Min(tr.stopTime/100, tr.timeStep) / 10
	tr.saveDelta = tr.delta
	tr.delmin = 1e-11 * tr.maxStep

	s.setPhase(PhaseOperatingPoint)
	if tr.useUIC {
		if err := ckt.GetIC(); err != nil {
			return err
		}
		st.Mode = device.TransientOP | device.UseIC
		st.Init = device.InitJct
		if _, err := s.iterate(1); err != nil {
			return fmt.Errorf("initial conditions: %w", err)
		}
	} else {
		if err := s.operatingPoint(ctx, device.TransientOP, cfg.DCIter); err != nil {
			return fmt.Errorf("transient operating point: %w", err)
		}
	}

	st.Mode = device.TransientAnalysis
	if tr.useUIC {
		st.Mode |= device.UseIC
	}
	st.ResetMaxStep()
	if err := ckt.Accept(); err != nil {
		return err
	}
	if tr.startTime <= 0 {
		tr.StoreTimeResult(0, ckt.GetSolution())
	}
	tr.Timepoints = append(tr.Timepoints, 0)

	st.States.Copy(1, 0)
	st.Init = device.InitTran
	st.Order = 1
	for i := range st.DeltaOld {
		st.DeltaOld[i] = tr.maxStep
	}
	st.TimeStep = tr.delta

	tr.x1 = append(tr.x1[:0], st.Solution...)
	tr.x2 = append(tr.x2[:0], st.Solution...)
	tr.firstStep = true
	tr.started = true
	return nil
}

// nextDelta bounds the step for the next point by breakpoints, the maximum
// step and device hints, and returns it with the time to land on. A step
// ending on a breakpoint lands on it exactly.
func (tr *Transient) nextDelta() (float64, float64) {
	st := tr.sim.Circuit.Status
	breaks := tr.sim.Circuit.Breaks
	now := st.Time

	if hint, ok := st.MaxStepHint(); ok {
		tr.delta = math.Min(tr.delta, hint)
	}
	st.ResetMaxStep()

	atBreak := breaks.Consume(now)
	next := breaks.Next(now)
	if atBreak || tr.firstStep {
		st.Order = 1
		tr.delta = math.Min(tr.delta, 0.1*math.Min(tr.saveDelta, next-now))
		if tr.firstStep {
			tr.delta /= 10
		}
		tr.delta = math.Max(tr.delta, 2*tr.delmin)
	}

	tr.delta = math.Min(tr.delta, tr.maxStep)
	if now+tr.delta > next-breaks.MinBreak() {
		tr.saveDelta = tr.delta
		tr.delta = next - now
		return tr.delta, next
	}
	return tr.delta, now + tr.delta
}

// step advances to the next accepted point, retrying with smaller steps
// after Newton failures and truncation error rejections.
func (tr *Transient) step() error {
	s := tr.sim
	ckt := s.Circuit
	st := ckt.Status
	cfg := s.Config
	now := st.Time

	copy(st.DeltaOld[1:], st.DeltaOld[:len(st.DeltaOld)-1])
	delta, newTime := tr.nextDelta()

	for {
		st.DeltaOld[0] = delta
		st.TimeStep = delta
		if err := util.ComputeCoeffs(st.Method, st.Order, st.DeltaOld[:], st.Ag[:]); err != nil {
			return err
		}
		st.Time = newTime
		if !tr.firstStep && cfg.Predictor {
			s.predict(tr.x1, tr.x2)
		}

		_, err := s.iterate(cfg.TranIter)
		if err != nil {
			if !recoverable(err) {
				st.Time = now
				return &StepError{Time: newTime, Delta: delta, Err: err}
			}
			s.logger.Debug("timepoint rejected", "time", newTime, "delta", delta, "error", err)
			tr.reject(now, true)
			if err := tr.shrink(delta/2, delta); err != nil {
				return err
			}
			delta, newTime = tr.delta, now+tr.delta
			continue
		}

		if tr.firstStep {
			st.States.Fill(1, 2)
			tr.firstStep = false
			return tr.accept(delta)
		}

		next, err := tr.allowedStep(delta)
		if err != nil {
			return err
		}
		if next > growthLimit*delta {
			if st.Order < st.MaxOrder {
				st.Order++
				raised, err := tr.allowedStep(delta)
				if err != nil {
					return err
				}
				if raised <= orderRaiseGain*delta {
					st.Order--
				} else {
					next = raised
				}
			}
			tr.delta = next
			return tr.accept(delta)
		}

		s.logger.Debug("truncation error too large", "time", newTime, "delta", delta, "next", next, "order", st.Order)
		tr.reject(now, false)
		if err := tr.shrink(next, delta); err != nil {
			return err
		}
		delta, newTime = tr.delta, now+tr.delta
	}
}

// allowedStep combines the truncation error estimate with device limits.
func (tr *Transient) allowedStep(delta float64) (float64, error) {
	next := tr.sim.truncation(delta)
	if err := tr.sim.Circuit.Trunc(&next); err != nil {
		return 0, err
	}
	return next, nil
}

// shrink sets the step after a rejection. The minimum step is tried once
// before the analysis gives up.
func (tr *Transient) shrink(delta, old float64) error {
	st := tr.sim.Circuit.Status
	tr.delta = delta
	if tr.delta <= tr.delmin {
		if old > tr.delmin {
			tr.delta = tr.delmin
			tr.sim.logger.Warn("timestep cut to minimum", "time", st.Time, "delta", tr.delta)
			return nil
		}
		return &StepError{Time: st.Time, Delta: tr.delta, Err: ErrTimestepTooSmall}
	}
	return nil
}

// reject restores the last accepted point without touching the history.
func (tr *Transient) reject(now float64, newtonFailed bool) {
	s := tr.sim
	st := s.Circuit.Status
	s.Stats.Rejected++
	s.metrics.Timepoint(false)
	st.Time = now
	if newtonFailed {
		st.Order = 1
	}
	copy(st.Solution, tr.x1)
	if tr.firstStep {
		st.Init = device.InitTran
	} else {
		st.Init = device.InitPred
	}
}

func (tr *Transient) accept(delta float64) error {
	s := tr.sim
	ckt := s.Circuit
	st := ckt.Status

	s.Stats.Accepted++
	s.metrics.Timepoint(true)
	if err := ckt.Accept(); err != nil {
		return err
	}
	if st.Time >= tr.startTime {
		tr.StoreTimeResult(st.Time, ckt.GetSolution())
	}
	tr.Timepoints = append(tr.Timepoints, st.Time)
	s.logger.Debug("timepoint accepted", "time", st.Time, "delta", delta, "order", st.Order)

	st.States.Rotate()
	tr.x1, tr.x2 = tr.x2, tr.x1
	copy(tr.x1, st.Solution)
	st.Init = device.InitPred
	return nil
}
