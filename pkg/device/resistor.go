package device

import (
	"fmt"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/matrix"
)

type Resistor struct {
	BaseDevice
	Tc1  float64
	Tc2  float64
	Tnom float64 // K, 0 uses the circuit nominal temperature

	g float64
	conductance
}

func NewResistor(name string, nodeNames []string, value float64) (*Resistor, error) {
	base, err := newBaseDevice(name, nodeNames, value, 2)
	if err != nil {
		return nil, err
	}
	if value == 0 {
		return nil, fmt.Errorf("resistor %s: zero resistance", name)
	}
	return &Resistor{BaseDevice: base}, nil
}

func (r *Resistor) GetType() string { return "R" }

func (r *Resistor) temperatureAdjustedValue(temp, tnom float64) float64 {
	if r.Tnom > 0 {
		tnom = r.Tnom
	}
	dt := temp - tnom
	factor := 1.0 + r.Tc1*dt + r.Tc2*dt*dt
	return r.Value * factor
}

type ResistorModel struct {
	BaseModel[*Resistor]
}

func init() {
	Register("R", 0, func(name string) Model {
		return &ResistorModel{BaseModel[*Resistor]{Name: name, Type: "R"}}
	})
}

func (m *ResistorModel) Setup(ckt Binder, states *int) error {
	return m.Resetup(ckt.Matrix())
}

func (m *ResistorModel) Resetup(mat matrix.DeviceMatrix) error {
	for _, r := range m.Items {
		r.bind(mat, r.Nodes[0], r.Nodes[1])
	}
	return nil
}

func (m *ResistorModel) Temperature(st *CircuitStatus) error {
	for _, r := range m.Items {
		value := r.temperatureAdjustedValue(st.Temp, st.Tnom)
		if value == 0 {
			return fmt.Errorf("resistor %s: zero resistance at %.2f C", r.Name, st.Temp-consts.KELVIN)
		}
		r.g = 1.0 / value
	}
	return nil
}

func (m *ResistorModel) Load(inst Instance, st *CircuitStatus) error {
	r := inst.(*Resistor)
	r.stamp(st.Matrix, r.g)
	return nil
}

func (m *ResistorModel) ACLoad(st *CircuitStatus) error {
	for _, r := range m.Items {
		r.stampComplex(st.Matrix, r.g, 0)
	}
	return nil
}
