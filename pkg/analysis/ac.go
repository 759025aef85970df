package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/edp1096/spicecore/pkg/device"
)

type ACAnalysis struct {
	BaseAnalysis
	startFreq   float64
	stopFreq    float64
	numPoints   int
	pointsType  string // "DEC", "OCT", "LIN"
	frequencies []float64
}

func NewAC(fStart, fStop float64, nPoints int, pType string) (*ACAnalysis, error) {
	ac := &ACAnalysis{
		BaseAnalysis: *NewBaseAnalysis(),
		startFreq:    fStart,
		stopFreq:     fStop,
		numPoints:    nPoints,
		pointsType:   strings.ToUpper(pType),
	}
	if err := ac.generateFrequencyPoints(); err != nil {
		return nil, err
	}
	return ac, nil
}

func (ac *ACAnalysis) Name() string { return "ac" }

func (ac *ACAnalysis) Execute(ctx context.Context) (err error) {
	s := ac.sim
	ckt := s.Circuit
	st := ckt.Status
	mat := ckt.Matrix()

	s.setPhase(PhaseOperatingPoint)
	if err := s.operatingPoint(ctx, device.OperatingPointAnalysis, s.Config.DCIter); err != nil {
		return fmt.Errorf("operating point: %w", err)
	}

	// Small-signal parameters at the operating point.
	st.Init = device.InitSmSig
	if err := ckt.Load(); err != nil {
		return fmt.Errorf("small-signal load: %w", err)
	}

	if err := mat.SetComplex(true); err != nil {
		return err
	}
	defer func() {
		if rerr := mat.SetComplex(false); rerr != nil && err == nil {
			err = fmt.Errorf("restoring real matrix: %w", rerr)
		}
	}()

	s.setPhase(PhaseStepping)
	st.Mode = device.ACAnalysis
	for _, freq := range ac.frequencies {
		if err := s.checkInterrupt(ctx); err != nil {
			return err
		}
		st.Frequency = freq
		if err := ckt.ACLoad(); err != nil {
			return fmt.Errorf("f=%g: %w", freq, err)
		}
		if _, err := mat.SolveComplex(); err != nil {
			s.metrics.Singular()
			return fmt.Errorf("f=%g: %w", freq, err)
		}
		ac.StoreACResult(freq, ckt.ACSolution())
	}
	return nil
}

func (ac *ACAnalysis) generateFrequencyPoints() error {
	if ac.startFreq <= 0 || ac.stopFreq < ac.startFreq {
		return fmt.Errorf("invalid frequency range %g..%g", ac.startFreq, ac.stopFreq)
	}
	if ac.numPoints < 1 {
		return fmt.Errorf("invalid number of points %d", ac.numPoints)
	}

	// Points per decade or octave, total points for linear sweeps
	var n int
	switch ac.pointsType {
	case "DEC":
		n = int(math.Floor(math.Log10(ac.stopFreq/ac.startFreq)*float64(ac.numPoints)+1e-9)) + 1
	case "OCT":
		n = int(math.Floor(math.Log2(ac.stopFreq/ac.startFreq)*float64(ac.numPoints)+1e-9)) + 1
	case "LIN":
		n = ac.numPoints
	default:
		return fmt.Errorf("unknown sweep type %q", ac.pointsType)
	}

	ac.frequencies = make([]float64, n)
	for i := range n {
		switch ac.pointsType {
		case "DEC":
			ac.frequencies[i] = ac.startFreq * math.Pow(10, float64(i)/float64(ac.numPoints))
		case "OCT":
			ac.frequencies[i] = ac.startFreq * math.Pow(2, float64(i)/float64(ac.numPoints))
		case "LIN":
			if n == 1 {
				ac.frequencies[i] = ac.startFreq
			} else {
				ac.frequencies[i] = ac.startFreq + float64(i)*(ac.stopFreq-ac.startFreq)/float64(n-1)
			}
		}
	}
	return nil
}
