package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/device"
)

type DCSweep struct {
	BaseAnalysis
	sourceNames []string    // Names of voltage/current sources to sweep
	startVals   []float64   // Start values for each source
	stopVals    []float64   // Stop values for each source
	increments  []float64   // Incremental value of steps for each source
	sweepVals   [][]float64 // Generated sweep values for each source
	origVals    []float64   // Original values of the sources
	sources     []device.Sweepable
	warm        bool
}

func NewDCSweep(sources []string, starts, stops, increments []float64) (*DCSweep, error) {
	if len(sources) != len(starts) || len(sources) != len(stops) || len(sources) != len(increments) {
		return nil, fmt.Errorf("inconsistent parameter lengths")
	}
	if len(sources) == 0 || len(sources) > 2 {
		return nil, fmt.Errorf("unsupported number of sweep sources: %d", len(sources))
	}

	dc := &DCSweep{
		BaseAnalysis: *NewBaseAnalysis(),
		sourceNames:  sources,
		startVals:    starts,
		stopVals:     stops,
		increments:   increments,
		sweepVals:    make([][]float64, len(sources)),
		origVals:     make([]float64, len(sources)),
	}

	// Generate sweep values for each source
	for i := range sources {
		vals, err := sweepValues(starts[i], stops[i], increments[i])
		if err != nil {
			return nil, fmt.Errorf("sweep of %s: %w", sources[i], err)
		}
		dc.sweepVals[i] = vals
	}
	return dc, nil
}

// sweepValues computes the points by index so the stop value is not lost to
// accumulated rounding.
func sweepValues(start, stop, step float64) ([]float64, error) {
	if step == 0 {
		if start != stop {
			return nil, fmt.Errorf("zero increment")
		}
		return []float64{start}, nil
	}
	if (stop-start)/step < 0 {
		return nil, fmt.Errorf("increment %g does not lead from %g to %g", step, start, stop)
	}
	n := int(math.Floor((stop-start)/step+1e-9)) + 1
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = start + float64(i)*step
	}
	return vals, nil
}

func (dc *DCSweep) Name() string { return "dc" }

func (dc *DCSweep) Setup(sim *Simulation) error {
	dc.sim = sim
	dc.sources = make([]device.Sweepable, len(dc.sourceNames))

	// Store original source values
	for i, name := range dc.sourceNames {
		inst, ok := sim.Circuit.Instance(name)
		if !ok {
			return fmt.Errorf("source %s not found", name)
		}
		src, ok := inst.(device.Sweepable)
		if !ok {
			return fmt.Errorf("%s is not an independent source", name)
		}
		dc.sources[i] = src
		dc.origVals[i] = src.DCValue()
	}
	return nil
}

func (dc *DCSweep) Execute(ctx context.Context) error {
	s := dc.sim
	defer func() {
		for i, src := range dc.sources {
			src.SetDCValue(dc.origVals[i])
		}
	}()
	s.setPhase(PhaseOperatingPoint)
	dc.warm = false

	// Single source sweep
	if len(dc.sources) == 1 {
		for _, val := range dc.sweepVals[0] {
			if err := dc.point(ctx, val); err != nil {
				return err
			}
		}
		return nil
	}

	// Nested sweep: the first source is the outer loop
	for _, val1 := range dc.sweepVals[0] {
		dc.sources[0].SetDCValue(val1)
		for _, val2 := range dc.sweepVals[1] {
			if err := dc.point(ctx, val1, val2); err != nil {
				return err
			}
		}
	}
	return nil
}

// point solves one sweep point. After the first point the previous
// solution seeds Newton; the full operating point sequence is the fallback.
func (dc *DCSweep) point(ctx context.Context, vals ...float64) error {
	s := dc.sim
	if err := s.checkInterrupt(ctx); err != nil {
		return err
	}
	for i, v := range vals {
		dc.sources[i].SetDCValue(v)
	}

	st := s.Circuit.Status
	var err error
	if dc.warm {
		st.Mode = device.DCSweep
		st.Init = device.InitFloat
		st.DiagGmin = 0
		iters, ierr := s.iterate(s.Config.SweepIter)
		s.record(ContinuationStep{Kind: KindWarmStep, SrcFact: st.SrcFact, Iterations: iters, Converged: ierr == nil})
		err = ierr
		if err != nil && recoverable(err) {
			s.logger.Warn("warm start failed, solving operating point", "sweep", vals)
			err = s.operatingPoint(ctx, device.DCSweep, s.Config.DCIter)
		}
	} else {
		err = s.operatingPoint(ctx, device.DCSweep, s.Config.DCIter)
	}
	if err != nil {
		return fmt.Errorf("sweep point %v: %w", vals, err)
	}
	dc.warm = true
	dc.StoreSweepResult(vals, s.Circuit.GetSolution())
	return nil
}
