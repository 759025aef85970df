package device

import (
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/matrix"
)

// Mutual couples two or more inductors with one coupling coefficient.
type Mutual struct {
	BaseDevice
	names       []string
	coefficient float64

	inductors []*Inductor
	pairs     []mutualPair
}

type mutualPair struct {
	a, b   *Inductor
	m      float64
	ab, ba *matrix.Entry
}

func NewMutual(name string, indNames []string, k float64) (*Mutual, error) {
	if len(indNames) < 2 {
		return nil, fmt.Errorf("mutual coupling %s requires at least two inductors", name)
	}
	if k < -1 || k > 1 || k == 0 {
		return nil, fmt.Errorf("mutual coupling %s: coefficient %g out of range", name, k)
	}
	return &Mutual{
		BaseDevice:  BaseDevice{Name: name, Value: k},
		names:       indNames,
		coefficient: k,
	}, nil
}

func (k *Mutual) GetType() string            { return "K" }
func (k *Mutual) GetCoefficient() float64    { return k.coefficient }
func (k *Mutual) GetInductorNames() []string { return k.names }

type MutualModel struct {
	BaseModel[*Mutual]
}

func init() {
	Register("K", 2, func(name string) Model {
		return &MutualModel{BaseModel[*Mutual]{Name: name, Type: "K"}}
	})
}

// Ordered is true: coupling loads write flux into the inductors, which must
// see the complete sum when they load.
func (m *MutualModel) Ordered() bool { return true }

func (m *MutualModel) Setup(ckt Binder, states *int) error {
	for _, k := range m.Items {
		k.inductors = k.inductors[:0]
		for _, name := range k.names {
			inst, ok := ckt.Instance(name)
			if !ok {
				return fmt.Errorf("mutual coupling %s: inductor %s not found", k.Name, name)
			}
			l, ok := inst.(*Inductor)
			if !ok {
				return fmt.Errorf("mutual coupling %s: %s is not an inductor", k.Name, name)
			}
			k.inductors = append(k.inductors, l)
		}
		k.pairs = k.pairs[:0]
		for i := 0; i < len(k.inductors); i++ {
			for j := i + 1; j < len(k.inductors); j++ {
				k.pairs = append(k.pairs, mutualPair{a: k.inductors[i], b: k.inductors[j]})
			}
		}
	}
	return m.Resetup(ckt.Matrix())
}

func (m *MutualModel) Resetup(mat matrix.DeviceMatrix) error {
	for _, k := range m.Items {
		for i := range k.pairs {
			p := &k.pairs[i]
			p.ab = mat.Entry(p.a.branchIdx, p.b.branchIdx)
			p.ba = mat.Entry(p.b.branchIdx, p.a.branchIdx)
		}
	}
	return nil
}

func (m *MutualModel) Temperature(st *CircuitStatus) error {
	for _, k := range m.Items {
		for i := range k.pairs {
			p := &k.pairs[i]
			p.m = k.coefficient * math.Sqrt(p.a.Value*p.b.Value)
		}
	}
	return nil
}

func (m *MutualModel) Load(inst Instance, st *CircuitStatus) error {
	if st.Mode.Is(DCMode) {
		// inductors are shorts at DC, nothing couples
		return ErrSkip
	}
	k := inst.(*Mutual)
	for i := range k.pairs {
		p := &k.pairs[i]
		p.a.mutFlux += p.m * st.Voltage(p.b.branchIdx)
		p.b.mutFlux += p.m * st.Voltage(p.a.branchIdx)
		st.Matrix.Add(p.ab, -p.m*st.Ag[0])
		st.Matrix.Add(p.ba, -p.m*st.Ag[0])
	}
	return nil
}

func (m *MutualModel) ACLoad(st *CircuitStatus) error {
	omega := st.Omega()
	for _, k := range m.Items {
		for _, p := range k.pairs {
			st.Matrix.AddComplex(p.ab, 0, -omega*p.m)
			st.Matrix.AddComplex(p.ba, 0, -omega*p.m)
		}
	}
	return nil
}
