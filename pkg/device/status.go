package device

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/edp1096/spicecore/pkg/breakpoint"
	"github.com/edp1096/spicecore/pkg/matrix"
	"github.com/edp1096/spicecore/pkg/state"
	"github.com/edp1096/spicecore/pkg/util"
)

// Mode is a set of analysis flags.
type Mode uint32

const (
	OperatingPointAnalysis Mode = 1 << iota
	TransientOP
	DCSweep
	TransientAnalysis
	ACAnalysis
	UseIC
)

// DCMode covers every analysis that solves without time derivatives.
const DCMode = OperatingPointAnalysis | TransientOP | DCSweep

func (m Mode) Is(bits Mode) bool { return m&bits != 0 }

// InitMode selects how devices pick their linearization point.
type InitMode int

const (
	InitFloat InitMode = iota // use the previous iterate
	InitJct                   // junctions start at their critical voltage
	InitFix                   // like InitFloat, devices marked off stay off
	InitSmSig                 // compute small-signal parameters only
	InitTran                  // first transient point
	InitPred                  // first iteration of a later transient point
)

func (m InitMode) String() string {
	switch m {
	case InitJct:
		return "initjct"
	case InitFix:
		return "initfix"
	case InitSmSig:
		return "initsmsig"
	case InitTran:
		return "inittran"
	case InitPred:
		return "initpred"
	}
	return "initfloat"
}

// CircuitStatus is the run state visible to devices. Load may run on several
// goroutines at once: the non-convergence flag and the step hint are the only
// fields a load may write.
type CircuitStatus struct {
	Mode Mode
	Init InitMode

	Time      float64
	TimeStep  float64
	DeltaOld  [util.MaxOrder + 1]float64
	Step      float64
	FinalTime float64

	Method   util.IntegrationMethod
	Order    int
	MaxOrder int
	Ag       [util.MaxOrder + 1]float64

	Gmin     float64
	DiagGmin float64
	SrcFact  float64

	Temp      float64 // K
	Tnom      float64 // K
	Frequency float64

	Reltol float64
	Abstol float64
	Vntol  float64

	// Solution is the previous Newton iterate, read-only during load.
	Solution []float64
	States   *state.History
	Matrix   matrix.DeviceMatrix
	Breaks   *breakpoint.Table

	noncon  atomic.Bool
	maxStep atomic.Uint64
}

func (st *CircuitStatus) Omega() float64 { return 2 * math.Pi * st.Frequency }

// Voltage reads unknown n from the previous iterate; ground reads 0.
func (st *CircuitStatus) Voltage(n int) float64 {
	if n <= 0 {
		return 0
	}
	return st.Solution[n]
}

func (st *CircuitStatus) SetNonConverged()   { st.noncon.Store(true) }
func (st *CircuitStatus) NonConverged() bool { return st.noncon.Load() }
func (st *CircuitStatus) ResetNonConverged() { st.noncon.Store(false) }

// RequestMaxStep lowers the step hint for the next transient step.
func (st *CircuitStatus) RequestMaxStep(h float64) {
	if h <= 0 {
		return
	}
	for {
		old := st.maxStep.Load()
		if old != 0 && math.Float64frombits(old) <= h {
			return
		}
		if st.maxStep.CompareAndSwap(old, math.Float64bits(h)) {
			return
		}
	}
}

// MaxStepHint returns the smallest step requested since the last reset.
func (st *CircuitStatus) MaxStepHint() (float64, bool) {
	bits := st.maxStep.Load()
	if bits == 0 {
		return 0, false
	}
	return math.Float64frombits(bits), true
}

func (st *CircuitStatus) ResetMaxStep() { st.maxStep.Store(0) }

// SetBreak registers a breakpoint if the run has a breakpoint table.
func (st *CircuitStatus) SetBreak(at float64) error {
	if st.Breaks == nil || at <= st.Time {
		return nil
	}
	return st.Breaks.Set(st.Time, at)
}

// Integrate applies the integration formula to the charge in slot qcap,
// writes its derivative into qcap+1 and returns the companion conductance
// and current for capacitance capValue.
func (st *CircuitStatus) Integrate(capValue float64, qcap int) (geq, ceq float64, err error) {
	s0 := st.States.State(0)
	s1 := st.States.State(1)
	ccap := qcap + 1

	switch st.Method {
	case util.TrapezoidalMethod:
		switch st.Order {
		case 1:
			s0[ccap] = st.Ag[0]*s0[qcap] + st.Ag[1]*s1[qcap]
		case 2:
			s0[ccap] = -s1[ccap]*st.Ag[1] + st.Ag[0]*(s0[qcap]-s1[qcap])
		default:
			return 0, 0, fmt.Errorf("trapezoidal order %d", st.Order)
		}
	case util.GearMethod:
		s0[ccap] = 0
		for i := 0; i <= st.Order; i++ {
			s0[ccap] += st.Ag[i] * st.States.State(i)[qcap]
		}
	default:
		return 0, 0, fmt.Errorf("unknown integration method %d", st.Method)
	}

	ceq = s0[ccap] - st.Ag[0]*s0[qcap]
	geq = st.Ag[0] * capValue
	return geq, ceq, nil
}
