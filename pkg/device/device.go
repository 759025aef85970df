package device

import (
	"fmt"

	"github.com/edp1096/spicecore/pkg/matrix"
)

// Instance is one element of a circuit. The engine never looks inside an
// instance; it only hands it back to the model that owns it.
type Instance interface {
	GetName() string
	GetType() string
	GetNodeNames() []string
	GetNodes() []int
	SetNodes(nodes []int)
}

// Binder exposes the circuit structure to models during setup.
type Binder interface {
	Matrix() matrix.DeviceMatrix
	// Branch creates the current unknown owned by a voltage-defined element.
	Branch(device string) (int, error)
	// Internal creates a private voltage node such as a series-resistance node.
	Internal(device, suffix string) (int, error)
	Instance(name string) (Instance, bool)
	// MarkCharge registers a state slot whose next slot holds its derivative.
	MarkCharge(slot int)
}

// Model owns every instance of one device type and model card. All hooks
// except Load act on the whole instance list.
type Model interface {
	GetName() string
	GetType() string
	Instances() []Instance
	AddInstance(inst Instance) error
	DeleteInstance(name string) error
	SetParams(params map[string]float64) error

	Setup(ckt Binder, states *int) error
	Resetup(m matrix.DeviceMatrix) error
	Temperature(st *CircuitStatus) error
	// Load stamps one instance. ErrSkip stops the remaining instances of
	// this model for the current pass.
	Load(inst Instance, st *CircuitStatus) error
	ACLoad(st *CircuitStatus) error
	Accept(st *CircuitStatus) error
	Trunc(st *CircuitStatus, timeStep *float64) error
	ConvTest(st *CircuitStatus) error
	GetIC(st *CircuitStatus) error
	Destroy()

	Nonlinear() bool
	// Ordered models write into other instances during load and must run
	// before everything else, on one goroutine.
	Ordered() bool
}

// LoopBranch is implemented by elements that fix the voltage across their
// terminals at DC (voltage sources, inductors).
type LoopBranch interface {
	Instance
	LoopNodes() (int, int)
}

// Sweepable is implemented by independent sources a DC sweep can drive.
type Sweepable interface {
	Instance
	DCValue() float64
	SetDCValue(v float64)
}

type BaseDevice struct {
	Name      string
	Nodes     []int
	Value     float64
	NodeNames []string
}

func (d *BaseDevice) GetName() string        { return d.Name }
func (d *BaseDevice) GetNodes() []int        { return d.Nodes }
func (d *BaseDevice) GetNodeNames() []string { return d.NodeNames }
func (d *BaseDevice) GetValue() float64      { return d.Value }
func (d *BaseDevice) SetNodes(nodes []int)   { d.Nodes = nodes }

func newBaseDevice(name string, nodeNames []string, value float64, want int) (BaseDevice, error) {
	if len(nodeNames) != want {
		return BaseDevice{}, fmt.Errorf("%s: requires exactly %d nodes, got %d", name, want, len(nodeNames))
	}
	return BaseDevice{
		Name:      name,
		Nodes:     make([]int, len(nodeNames)),
		NodeNames: nodeNames,
		Value:     value,
	}, nil
}

// ModelParam is a parsed .model card.
type ModelParam struct {
	Type   string
	Name   string
	Params map[string]float64
}

// BaseModel carries the instance list and no-op hooks shared by all models.
type BaseModel[T Instance] struct {
	Name  string
	Type  string
	Items []T
}

func (b *BaseModel[T]) GetName() string { return b.Name }
func (b *BaseModel[T]) GetType() string { return b.Type }

func (b *BaseModel[T]) Instances() []Instance {
	out := make([]Instance, len(b.Items))
	for i, it := range b.Items {
		out[i] = it
	}
	return out
}

func (b *BaseModel[T]) AddInstance(inst Instance) error {
	it, ok := inst.(T)
	if !ok {
		return fmt.Errorf("model %s (%s): cannot hold %s instance %s", b.Name, b.Type, inst.GetType(), inst.GetName())
	}
	b.Items = append(b.Items, it)
	return nil
}

func (b *BaseModel[T]) DeleteInstance(name string) error {
	for i, it := range b.Items {
		if it.GetName() == name {
			b.Items = append(b.Items[:i], b.Items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("model %s: no instance %s", b.Name, name)
}

func (b *BaseModel[T]) SetParams(params map[string]float64) error {
	if len(params) > 0 {
		return fmt.Errorf("model %s: type %s takes no parameters", b.Name, b.Type)
	}
	return nil
}

func (b *BaseModel[T]) Temperature(st *CircuitStatus) error        { return nil }
func (b *BaseModel[T]) ACLoad(st *CircuitStatus) error             { return nil }
func (b *BaseModel[T]) Accept(st *CircuitStatus) error             { return nil }
func (b *BaseModel[T]) Trunc(st *CircuitStatus, ts *float64) error { return nil }
func (b *BaseModel[T]) ConvTest(st *CircuitStatus) error           { return nil }
func (b *BaseModel[T]) GetIC(st *CircuitStatus) error              { return nil }
func (b *BaseModel[T]) Destroy()                                   { b.Items = nil }
func (b *BaseModel[T]) Nonlinear() bool                            { return false }
func (b *BaseModel[T]) Ordered() bool                              { return false }

// conductance holds the four entries of a two-terminal admittance.
type conductance struct {
	pp, pn, np, nn *matrix.Entry
}

func (c *conductance) bind(m matrix.DeviceMatrix, p, n int) {
	c.pp = m.Entry(p, p)
	c.pn = m.Entry(p, n)
	c.np = m.Entry(n, p)
	c.nn = m.Entry(n, n)
}

func (c *conductance) stamp(m matrix.DeviceMatrix, g float64) {
	m.Add(c.pp, g)
	m.Add(c.nn, g)
	m.Add(c.pn, -g)
	m.Add(c.np, -g)
}

func (c *conductance) stampComplex(m matrix.DeviceMatrix, g, b float64) {
	m.AddComplex(c.pp, g, b)
	m.AddComplex(c.nn, g, b)
	m.AddComplex(c.pn, -g, -b)
	m.AddComplex(c.np, -g, -b)
}

// branch holds the incidence entries of a branch current unknown.
type branch struct {
	pb, nb, bp, bn *matrix.Entry
}

func (b *branch) bind(m matrix.DeviceMatrix, p, n, br int) {
	b.pb = m.Entry(p, br)
	b.nb = m.Entry(n, br)
	b.bp = m.Entry(br, p)
	b.bn = m.Entry(br, n)
}

func (b *branch) stamp(m matrix.DeviceMatrix) {
	m.Add(b.pb, 1)
	m.Add(b.nb, -1)
	m.Add(b.bp, 1)
	m.Add(b.bn, -1)
}

func (b *branch) stampComplex(m matrix.DeviceMatrix) {
	m.AddComplex(b.pb, 1, 0)
	m.AddComplex(b.nb, -1, 0)
	m.AddComplex(b.bp, 1, 0)
	m.AddComplex(b.bn, -1, 0)
}
