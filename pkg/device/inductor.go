package device

import (
	"fmt"

	"github.com/edp1096/spicecore/pkg/matrix"
)

type Inductor struct {
	BaseDevice
	IC      float64
	ICGiven bool

	branchIdx int
	flux      int // state slot: flux, then voltage

	// mutFlux collects M*i contributions from coupling elements; it is
	// consumed and reset by the inductor's own load.
	mutFlux float64

	branch
	ibrIbr *matrix.Entry
}

func NewInductor(name string, nodeNames []string, value float64) (*Inductor, error) {
	base, err := newBaseDevice(name, nodeNames, value, 2)
	if err != nil {
		return nil, err
	}
	if value <= 0 {
		return nil, fmt.Errorf("inductor %s: inductance must be positive, got %g", name, value)
	}
	return &Inductor{BaseDevice: base}, nil
}

func (l *Inductor) GetType() string { return "L" }

func (l *Inductor) SetIC(v float64) {
	l.IC, l.ICGiven = v, true
}

func (l *Inductor) BranchIndex() int { return l.branchIdx }

func (l *Inductor) LoopNodes() (int, int) { return l.Nodes[0], l.Nodes[1] }

type InductorModel struct {
	BaseModel[*Inductor]
}

func init() {
	Register("L", 3, func(name string) Model {
		return &InductorModel{BaseModel[*Inductor]{Name: name, Type: "L"}}
	})
}

func (m *InductorModel) Setup(ckt Binder, states *int) error {
	for _, l := range m.Items {
		br, err := ckt.Branch(l.Name)
		if err != nil {
			return fmt.Errorf("inductor %s: %w", l.Name, err)
		}
		l.branchIdx = br
		l.flux = *states
		*states += 2
		ckt.MarkCharge(l.flux)
	}
	return m.Resetup(ckt.Matrix())
}

func (m *InductorModel) Resetup(mat matrix.DeviceMatrix) error {
	for _, l := range m.Items {
		l.bind(mat, l.Nodes[0], l.Nodes[1], l.branchIdx)
		l.ibrIbr = mat.Entry(l.branchIdx, l.branchIdx)
	}
	return nil
}

func (m *InductorModel) Load(inst Instance, st *CircuitStatus) error {
	l := inst.(*Inductor)
	s0 := st.States.State(0)
	mutFlux := l.mutFlux
	l.mutFlux = 0

	if !st.Mode.Is(DCMode) {
		if st.Mode.Is(UseIC) && st.Init == InitTran {
			s0[l.flux] = l.Value * l.IC
		} else {
			s0[l.flux] = l.Value*st.Voltage(l.branchIdx) + mutFlux
		}
	}

	var req, veq float64
	if !st.Mode.Is(DCMode) {
		s1 := st.States.State(1)
		if st.Init == InitTran {
			s1[l.flux] = s0[l.flux]
		}
		geq, ceq, err := st.Integrate(l.Value, l.flux)
		if err != nil {
			return fmt.Errorf("inductor %s: %w", l.Name, err)
		}
		req, veq = geq, ceq
		if st.Init == InitTran {
			s1[l.flux+1] = s0[l.flux+1]
		}
	}

	st.Matrix.AddRHS(l.branchIdx, veq)
	l.stamp(st.Matrix)
	st.Matrix.Add(l.ibrIbr, -req)
	return nil
}

func (m *InductorModel) ACLoad(st *CircuitStatus) error {
	omega := st.Omega()
	for _, l := range m.Items {
		l.stampComplex(st.Matrix)
		st.Matrix.AddComplex(l.ibrIbr, 0, -omega*l.Value)
	}
	return nil
}

func (m *InductorModel) GetIC(st *CircuitStatus) error {
	for _, l := range m.Items {
		if !l.ICGiven {
			l.IC = st.Voltage(l.branchIdx)
		}
	}
	return nil
}
