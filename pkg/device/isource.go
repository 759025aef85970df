package device

import (
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/matrix"
)

// CurrentSource drives its value from the positive node, through the
// source, into the negative node.
type CurrentSource struct {
	BaseDevice
	Waveform
	acMag   float64
	acPhase float64
}

func NewCurrentSource(name string, nodeNames []string, wave Waveform) (*CurrentSource, error) {
	base, err := newBaseDevice(name, nodeNames, wave.DCValue(), 2)
	if err != nil {
		return nil, err
	}
	return &CurrentSource{BaseDevice: base, Waveform: wave}, nil
}

func NewDCCurrentSource(name string, nodeNames []string, value float64) (*CurrentSource, error) {
	return NewCurrentSource(name, nodeNames, DCWave(value))
}

func (i *CurrentSource) GetType() string { return "I" }

func (i *CurrentSource) SetAC(mag, phase float64) {
	i.acMag, i.acPhase = mag, phase
}

func (i *CurrentSource) DCValue() float64       { return i.Waveform.DCValue() }
func (i *CurrentSource) SetDCValue(val float64) { i.Waveform.SetDCValue(val); i.Value = val }

type CurrentSourceModel struct {
	BaseModel[*CurrentSource]
}

func init() {
	Register("I", 5, func(name string) Model {
		return &CurrentSourceModel{BaseModel[*CurrentSource]{Name: name, Type: "I"}}
	})
}

func (m *CurrentSourceModel) Setup(ckt Binder, states *int) error { return nil }

func (m *CurrentSourceModel) Resetup(mat matrix.DeviceMatrix) error { return nil }

func (m *CurrentSourceModel) Load(inst Instance, st *CircuitStatus) error {
	i := inst.(*CurrentSource)
	value := sourceValue(&i.Waveform, st)
	st.Matrix.AddRHS(i.Nodes[0], -value)
	st.Matrix.AddRHS(i.Nodes[1], value)
	return nil
}

func (m *CurrentSourceModel) ACLoad(st *CircuitStatus) error {
	for _, i := range m.Items {
		phase := i.acPhase * math.Pi / 180.0
		re, im := i.acMag*math.Cos(phase), i.acMag*math.Sin(phase)
		st.Matrix.AddComplexRHS(i.Nodes[0], -re, -im)
		st.Matrix.AddComplexRHS(i.Nodes[1], re, im)
	}
	return nil
}

func (m *CurrentSourceModel) Accept(st *CircuitStatus) error {
	for _, i := range m.Items {
		if err := i.setBreakpoints(st); err != nil {
			return fmt.Errorf("current source %s: %w", i.Name, err)
		}
	}
	return nil
}
