package device

import (
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/matrix"
)

type VoltageSource struct {
	BaseDevice
	Waveform
	acMag     float64
	acPhase   float64
	branchIdx int
	branch
}

func NewVoltageSource(name string, nodeNames []string, wave Waveform) (*VoltageSource, error) {
	base, err := newBaseDevice(name, nodeNames, wave.DCValue(), 2)
	if err != nil {
		return nil, err
	}
	return &VoltageSource{BaseDevice: base, Waveform: wave}, nil
}

func NewDCVoltageSource(name string, nodeNames []string, value float64) (*VoltageSource, error) {
	return NewVoltageSource(name, nodeNames, DCWave(value))
}

func (v *VoltageSource) GetType() string { return "V" }

// SetAC sets the small-signal magnitude and phase (degrees).
func (v *VoltageSource) SetAC(mag, phase float64) {
	v.acMag, v.acPhase = mag, phase
}

func (v *VoltageSource) BranchIndex() int       { return v.branchIdx }
func (v *VoltageSource) LoopNodes() (int, int)  { return v.Nodes[0], v.Nodes[1] }
func (v *VoltageSource) DCValue() float64       { return v.Waveform.DCValue() }
func (v *VoltageSource) SetDCValue(val float64) { v.Waveform.SetDCValue(val); v.Value = val }

// sourceValue is shared by voltage and current sources.
func sourceValue(w *Waveform, st *CircuitStatus) float64 {
	if st.Mode.Is(DCMode) {
		return w.DCValue() * st.SrcFact
	}
	return w.At(st.Time, st.Step)
}

type VoltageSourceModel struct {
	BaseModel[*VoltageSource]
}

func init() {
	Register("V", 4, func(name string) Model {
		return &VoltageSourceModel{BaseModel[*VoltageSource]{Name: name, Type: "V"}}
	})
}

func (m *VoltageSourceModel) Setup(ckt Binder, states *int) error {
	for _, v := range m.Items {
		br, err := ckt.Branch(v.Name)
		if err != nil {
			return fmt.Errorf("voltage source %s: %w", v.Name, err)
		}
		v.branchIdx = br
	}
	return m.Resetup(ckt.Matrix())
}

func (m *VoltageSourceModel) Resetup(mat matrix.DeviceMatrix) error {
	for _, v := range m.Items {
		v.bind(mat, v.Nodes[0], v.Nodes[1], v.branchIdx)
	}
	return nil
}

func (m *VoltageSourceModel) Load(inst Instance, st *CircuitStatus) error {
	v := inst.(*VoltageSource)
	v.stamp(st.Matrix)
	st.Matrix.AddRHS(v.branchIdx, sourceValue(&v.Waveform, st))
	return nil
}

func (m *VoltageSourceModel) ACLoad(st *CircuitStatus) error {
	for _, v := range m.Items {
		v.stampComplex(st.Matrix)
		phase := v.acPhase * math.Pi / 180.0
		st.Matrix.AddComplexRHS(v.branchIdx, v.acMag*math.Cos(phase), v.acMag*math.Sin(phase))
	}
	return nil
}

func (m *VoltageSourceModel) Accept(st *CircuitStatus) error {
	for _, v := range m.Items {
		if err := v.setBreakpoints(st); err != nil {
			return fmt.Errorf("voltage source %s: %w", v.Name, err)
		}
	}
	return nil
}
