package device

import (
	"fmt"

	"github.com/edp1096/spicecore/pkg/matrix"
)

type Capacitor struct {
	BaseDevice
	IC      float64
	ICGiven bool

	qcap int // state slot: charge, then current
	conductance
}

func NewCapacitor(name string, nodeNames []string, value float64) (*Capacitor, error) {
	base, err := newBaseDevice(name, nodeNames, value, 2)
	if err != nil {
		return nil, err
	}
	if value < 0 {
		return nil, fmt.Errorf("capacitor %s: negative capacitance %g", name, value)
	}
	return &Capacitor{BaseDevice: base}, nil
}

func (c *Capacitor) GetType() string { return "C" }

func (c *Capacitor) SetIC(v float64) {
	c.IC, c.ICGiven = v, true
}

type CapacitorModel struct {
	BaseModel[*Capacitor]
}

func init() {
	Register("C", 1, func(name string) Model {
		return &CapacitorModel{BaseModel[*Capacitor]{Name: name, Type: "C"}}
	})
}

func (m *CapacitorModel) Setup(ckt Binder, states *int) error {
	for _, c := range m.Items {
		c.qcap = *states
		*states += 2
		ckt.MarkCharge(c.qcap)
	}
	return m.Resetup(ckt.Matrix())
}

func (m *CapacitorModel) Resetup(mat matrix.DeviceMatrix) error {
	for _, c := range m.Items {
		c.bind(mat, c.Nodes[0], c.Nodes[1])
	}
	return nil
}

func (m *CapacitorModel) Load(inst Instance, st *CircuitStatus) error {
	c := inst.(*Capacitor)
	s0 := st.States.State(0)

	var vcap float64
	if (st.Mode.Is(DCMode) && st.Init == InitJct) || (st.Mode.Is(UseIC) && st.Init == InitTran) {
		vcap = c.IC
	} else {
		vcap = st.Voltage(c.Nodes[0]) - st.Voltage(c.Nodes[1])
	}
	s0[c.qcap] = c.Value * vcap

	if !st.Mode.Is(TransientAnalysis) {
		// open circuit at DC
		return nil
	}

	s1 := st.States.State(1)
	if st.Init == InitTran {
		s1[c.qcap] = s0[c.qcap]
	}
	geq, ceq, err := st.Integrate(c.Value, c.qcap)
	if err != nil {
		return fmt.Errorf("capacitor %s: %w", c.Name, err)
	}
	if st.Init == InitTran {
		s1[c.qcap+1] = s0[c.qcap+1]
	}

	c.stamp(st.Matrix, geq)
	st.Matrix.AddRHS(c.Nodes[0], -ceq)
	st.Matrix.AddRHS(c.Nodes[1], ceq)
	return nil
}

func (m *CapacitorModel) ACLoad(st *CircuitStatus) error {
	omega := st.Omega()
	for _, c := range m.Items {
		c.stampComplex(st.Matrix, 0, omega*c.Value)
	}
	return nil
}

// GetIC takes the node initial conditions already placed in the solution
// for capacitors without an explicit ic=.
func (m *CapacitorModel) GetIC(st *CircuitStatus) error {
	for _, c := range m.Items {
		if !c.ICGiven {
			c.IC = st.Voltage(c.Nodes[0]) - st.Voltage(c.Nodes[1])
		}
	}
	return nil
}
