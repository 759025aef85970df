package analysis

import (
	"context"

	"github.com/edp1096/spicecore/pkg/device"
)

type OperatingPoint struct{ BaseAnalysis }

func NewOP() *OperatingPoint {
	return &OperatingPoint{
		BaseAnalysis: *NewBaseAnalysis(),
	}
}

func (op *OperatingPoint) Name() string { return "op" }

func (op *OperatingPoint) Execute(ctx context.Context) error {
	s := op.sim
	if err := s.checkInterrupt(ctx); err != nil {
		return err
	}
	s.setPhase(PhaseOperatingPoint)

	err := s.operatingPoint(ctx, device.OperatingPointAnalysis, s.Config.DCIter)
	if err != nil {
		return err
	}
	op.storeResults(s.Circuit.GetSolution())
	return nil
}

func (op *OperatingPoint) storeResults(solution map[string]float64) {
	for name, value := range solution {
		op.results[name] = []float64{value}
	}
}
