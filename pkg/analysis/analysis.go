package analysis

import (
	"context"
	"math"
	"math/cmplx"
)

type Analysis interface {
	Name() string
	Setup(sim *Simulation) error
	Execute(ctx context.Context) error
	GetResults() map[string][]float64
}

type BaseAnalysis struct {
	sim     *Simulation
	results map[string][]float64 // key: variable name, value: result by point
}

func NewBaseAnalysis() *BaseAnalysis {
	return &BaseAnalysis{results: make(map[string][]float64)}
}

func (a *BaseAnalysis) Setup(sim *Simulation) error {
	a.sim = sim
	return nil
}

func (a *BaseAnalysis) StoreTimeResult(time float64, solution map[string]float64) {
	// Ignore same time
	if n := len(a.results["TIME"]); n > 0 && a.results["TIME"][n-1] == time {
		return
	}
	a.results["TIME"] = append(a.results["TIME"], time)

	for name, value := range solution {
		a.results[name] = append(a.results[name], value)
	}
}

func (a *BaseAnalysis) StoreSweepResult(values []float64, solution map[string]float64) {
	for i, v := range values {
		key := "SWEEP1"
		if i == 1 {
			key = "SWEEP2"
		}
		a.results[key] = append(a.results[key], v)
	}
	for name, value := range solution {
		a.results[name] = append(a.results[name], value)
	}
}

func (a *BaseAnalysis) StoreACResult(freq float64, solution map[string]complex128) {
	a.results["FREQ"] = append(a.results["FREQ"], freq)

	for name, value := range solution {
		a.results[name+"_MAG"] = append(a.results[name+"_MAG"], cmplx.Abs(value))
		// degree
		phase := cmplx.Phase(value) * 180.0 / math.Pi
		a.results[name+"_PHASE"] = append(a.results[name+"_PHASE"], phase)
	}
}

func (a *BaseAnalysis) GetResults() map[string][]float64 {
	return a.results
}
