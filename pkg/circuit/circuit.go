package circuit

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/edp1096/spicecore/pkg/breakpoint"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/matrix"
	"github.com/edp1096/spicecore/pkg/node"
	"github.com/edp1096/spicecore/pkg/state"
)

// TopologyError reports a node that no element connects to an equation.
type TopologyError struct {
	Node string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("bad topology: node %s has no matrix entries", e.Node)
}

type Circuit struct {
	name  string
	Nodes *node.Table

	models      []device.Model
	modelByName map[string]device.Model
	defaults    map[string]device.Model
	instances   map[string]device.Instance
	owner       map[string]device.Model

	matrix *matrix.CircuitMatrix
	Status *device.CircuitStatus
	States *state.History
	Breaks *breakpoint.Table

	numStates int
	charges   []int
	diag      []*matrix.Entry
	linear    bool
	isSetup   bool

	threads int
	pool    *workerPool
	batches [][]loadItem
	ordered []device.Model

	logger *slog.Logger
}

func New(name string) *Circuit {
	return &Circuit{
		name:        name,
		Nodes:       node.NewTable(),
		modelByName: make(map[string]device.Model),
		defaults:    make(map[string]device.Model),
		instances:   make(map[string]device.Instance),
		owner:       make(map[string]device.Model),
		Status:      &device.CircuitStatus{SrcFact: 1},
		Breaks:      breakpoint.New(0),
		logger:      slog.Default(),
	}
}

func (c *Circuit) Name() string { return c.name }

func (c *Circuit) WithLogger(l *slog.Logger) *Circuit {
	c.logger = l
	return c
}

// AddModel registers a model card. Instances refer to it by name.
func (c *Circuit) AddModel(m device.Model) error {
	if c.isSetup {
		return errors.New("circuit is already set up")
	}
	key := strings.ToLower(m.GetName())
	if _, dup := c.modelByName[key]; dup {
		return fmt.Errorf("model %s defined twice", m.GetName())
	}
	if _, ok := device.TypeIndex(m.GetType()); !ok {
		return fmt.Errorf("model %s: unregistered device type %s", m.GetName(), m.GetType())
	}
	c.modelByName[key] = m
	c.models = append(c.models, m)
	c.sortModels()
	return nil
}

func (c *Circuit) sortModels() {
	sort.SliceStable(c.models, func(i, j int) bool {
		a, _ := device.TypeIndex(c.models[i].GetType())
		b, _ := device.TypeIndex(c.models[j].GetType())
		return a < b
	})
}

func (c *Circuit) Model(name string) (device.Model, bool) {
	m, ok := c.modelByName[strings.ToLower(name)]
	return m, ok
}

func (c *Circuit) Models() []device.Model { return c.models }

// AddInstance numbers the instance's nodes and hands it to the named model,
// or to the default model of its type when modelName is empty.
func (c *Circuit) AddInstance(modelName string, inst device.Instance) error {
	if c.isSetup {
		return errors.New("circuit is already set up")
	}
	name := inst.GetName()
	if _, dup := c.instances[strings.ToLower(name)]; dup {
		return fmt.Errorf("instance %s defined twice", name)
	}

	var m device.Model
	if modelName == "" {
		var err error
		if m, err = c.defaultModel(inst.GetType()); err != nil {
			return err
		}
	} else {
		var ok bool
		if m, ok = c.Model(modelName); !ok {
			return fmt.Errorf("instance %s: model %s not found", name, modelName)
		}
		if !strings.EqualFold(m.GetType(), inst.GetType()) {
			return fmt.Errorf("instance %s: model %s is of type %s", name, modelName, m.GetType())
		}
	}

	nodeNames := inst.GetNodeNames()
	nodes := make([]int, len(nodeNames))
	for i, n := range nodeNames {
		nodes[i] = c.Nodes.Voltage(n).Number
	}
	inst.SetNodes(nodes)

	if err := m.AddInstance(inst); err != nil {
		return err
	}
	c.instances[strings.ToLower(name)] = inst
	c.owner[strings.ToLower(name)] = m
	return nil
}

func (c *Circuit) defaultModel(typ string) (device.Model, error) {
	typ = strings.ToUpper(typ)
	if m, ok := c.defaults[typ]; ok {
		return m, nil
	}
	m, err := device.NewModel(typ, "default"+typ)
	if err != nil {
		return nil, err
	}
	c.defaults[typ] = m
	c.models = append(c.models, m)
	c.sortModels()
	return m, nil
}

func (c *Circuit) Instance(name string) (device.Instance, bool) {
	inst, ok := c.instances[strings.ToLower(name)]
	return inst, ok
}

// DeleteInstance removes an instance before setup.
func (c *Circuit) DeleteInstance(name string) error {
	if c.isSetup {
		return errors.New("circuit is already set up")
	}
	key := strings.ToLower(name)
	m, ok := c.owner[key]
	if !ok {
		return fmt.Errorf("no instance %s", name)
	}
	if err := m.DeleteInstance(c.instances[key].GetName()); err != nil {
		return err
	}
	delete(c.instances, key)
	delete(c.owner, key)
	return nil
}

// Setup binds every model to the matrix and the state history. maxOrder
// sizes the history ring.
func (c *Circuit) Setup(maxOrder int) error {
	if c.isSetup {
		return errors.New("circuit is already set up")
	}

	rec := &recorder{entries: make(map[[2]int]struct{})}
	b := &binder{ckt: c, mat: rec}
	c.numStates = 0
	for _, m := range c.models {
		if err := m.Setup(b, &c.numStates); err != nil {
			return fmt.Errorf("setup of model %s: %w", m.GetName(), err)
		}
	}

	size := c.Nodes.Len()
	for _, n := range c.Nodes.Unknowns() {
		if _, ok := rec.rows[n.Number]; !ok {
			return &TopologyError{Node: n.Name}
		}
	}

	mat, err := matrix.NewMatrix(size, false)
	if err != nil {
		return err
	}
	c.matrix = mat
	for _, key := range rec.order {
		mat.Entry(key[0], key[1])
	}
	c.diag = make([]*matrix.Entry, size+1)
	for _, n := range c.Nodes.Unknowns() {
		if n.Kind == node.Voltage {
			c.diag[n.Number] = mat.Entry(n.Number, n.Number)
		}
	}
	if err := c.Resetup(); err != nil {
		return err
	}
	mat.AckAddressChange()

	c.States = state.New(c.numStates, maxOrder+2)
	for _, slot := range c.charges {
		c.States.MarkCharge(slot)
	}

	c.linear = true
	for _, m := range c.models {
		if m.Nonlinear() && len(m.Instances()) > 0 {
			c.linear = false
		}
	}

	st := c.Status
	st.Matrix = mat
	st.States = c.States
	st.Breaks = c.Breaks
	st.Solution = make([]float64, size+1)
	st.MaxOrder = maxOrder

	c.isSetup = true
	c.buildBatches()

	s := mat.Summary()
	c.logger.Debug("circuit set up", "circuit", c.name, "unknowns", size,
		"entries", s.Entries, "states", c.numStates, "linear", c.linear)
	return nil
}

// Resetup re-fetches every model's matrix handles.
func (c *Circuit) Resetup() error {
	for _, m := range c.models {
		if err := m.Resetup(c.matrix); err != nil {
			return fmt.Errorf("resetup of model %s: %w", m.GetName(), err)
		}
	}
	for i := range c.diag {
		if c.diag[i] != nil {
			c.diag[i] = c.matrix.Entry(i, i)
		}
	}
	return nil
}

func (c *Circuit) Matrix() *matrix.CircuitMatrix { return c.matrix }
func (c *Circuit) Linear() bool                  { return c.linear }
func (c *Circuit) NumStates() int                { return c.numStates }
func (c *Circuit) IsSetup() bool                 { return c.isSetup }

// HasNodeSet reports whether any node carries a .nodeset value.
func (c *Circuit) HasNodeSet() bool {
	for _, n := range c.Nodes.Unknowns() {
		if n.HasNodeSet {
			return true
		}
	}
	return false
}

// Temperature refreshes temperature dependent constants of every model.
func (c *Circuit) Temperature() error {
	for _, m := range c.models {
		if err := m.Temperature(c.Status); err != nil {
			return fmt.Errorf("temperature update of model %s: %w", m.GetName(), err)
		}
	}
	return nil
}

func (c *Circuit) Accept() error {
	for _, m := range c.models {
		if err := m.Accept(c.Status); err != nil {
			return fmt.Errorf("accept of model %s: %w", m.GetName(), err)
		}
	}
	return nil
}

// Trunc lets every model shrink the proposed step.
func (c *Circuit) Trunc(timeStep *float64) error {
	for _, m := range c.models {
		if err := m.Trunc(c.Status, timeStep); err != nil {
			return fmt.Errorf("truncation check of model %s: %w", m.GetName(), err)
		}
	}
	return nil
}

// ConvTest runs the device convergence checks. It stops at the first model
// that flags non-convergence.
func (c *Circuit) ConvTest() error {
	for _, m := range c.models {
		if err := m.ConvTest(c.Status); err != nil {
			return fmt.Errorf("convergence test of model %s: %w", m.GetName(), err)
		}
		if c.Status.NonConverged() {
			return nil
		}
	}
	return nil
}

// GetIC places the node initial conditions in the solution and lets models
// pick up their own.
func (c *Circuit) GetIC() error {
	sol := c.Status.Solution
	clear(sol)
	for _, n := range c.Nodes.Unknowns() {
		if n.HasIC {
			sol[n.Number] = n.IC
		}
	}
	for _, m := range c.models {
		if err := m.GetIC(c.Status); err != nil {
			return fmt.Errorf("initial conditions of model %s: %w", m.GetName(), err)
		}
	}
	return nil
}

// ACLoad stamps the small-signal system into a complex matrix.
func (c *Circuit) ACLoad() error {
	if err := c.catchUpAddresses(); err != nil {
		return err
	}
	c.matrix.Clear()
	for _, m := range c.models {
		if err := m.ACLoad(c.Status); err != nil {
			return fmt.Errorf("ac load of model %s: %w", m.GetName(), err)
		}
	}
	return nil
}

func (c *Circuit) catchUpAddresses() error {
	if !c.matrix.DataAddressChanged() {
		return nil
	}
	if err := c.Resetup(); err != nil {
		return err
	}
	c.matrix.AckAddressChange()
	return nil
}

// GetSolution maps result names to the values of the last solution.
func (c *Circuit) GetSolution() map[string]float64 {
	solution := make(map[string]float64)
	x := c.Status.Solution

	for _, n := range c.Nodes.Unknowns() {
		switch {
		case n.Kind == node.Current:
			dev := strings.TrimSuffix(n.Name, "#branch")
			solution[fmt.Sprintf("I(%s)", dev)] = -x[n.Number]
		case n.Phase:
			solution[fmt.Sprintf("P(%s)", n.Name)] = x[n.Number]
		case !strings.Contains(n.Name, "#"):
			solution[fmt.Sprintf("V(%s)", n.Name)] = x[n.Number]
		}
	}

	for _, m := range c.models {
		if m.GetType() != "R" {
			continue
		}
		for _, inst := range m.Instances() {
			r := inst.(*device.Resistor)
			nodes := r.GetNodes()
			v := c.Status.Voltage(nodes[0]) - c.Status.Voltage(nodes[1])
			solution[fmt.Sprintf("I(%s)", r.GetName())] = v / r.GetValue()
		}
	}
	return solution
}

// ACSolution maps result names to the phasors of the last complex solve.
func (c *Circuit) ACSolution() map[string]complex128 {
	solution := make(map[string]complex128)
	for _, n := range c.Nodes.Unknowns() {
		re, im := c.matrix.ComplexSolution(n.Number)
		switch {
		case n.Kind == node.Current:
			dev := strings.TrimSuffix(n.Name, "#branch")
			solution[fmt.Sprintf("I(%s)", dev)] = complex(-re, -im)
		case !strings.Contains(n.Name, "#"):
			solution[fmt.Sprintf("V(%s)", n.Name)] = complex(re, im)
		}
	}
	return solution
}

func (c *Circuit) Destroy() {
	if c.pool != nil {
		c.pool.close()
		c.pool = nil
	}
	for _, m := range c.models {
		m.Destroy()
	}
	if c.matrix != nil {
		c.matrix.Destroy()
	}
}

// recorder collects the matrix structure requested during setup, before the
// number of unknowns is final.
type recorder struct {
	entries map[[2]int]struct{}
	rows    map[int]struct{}
	order   [][2]int
}

func (r *recorder) Entry(row, col int) *matrix.Entry {
	if row <= 0 || col <= 0 {
		return nil
	}
	key := [2]int{row, col}
	if _, ok := r.entries[key]; !ok {
		r.entries[key] = struct{}{}
		r.order = append(r.order, key)
		if r.rows == nil {
			r.rows = make(map[int]struct{})
		}
		r.rows[row] = struct{}{}
	}
	return nil
}

func (r *recorder) Add(e *matrix.Entry, value float64)             {}
func (r *recorder) AddComplex(e *matrix.Entry, real, imag float64) {}
func (r *recorder) AddRHS(i int, value float64)                    {}
func (r *recorder) AddComplexRHS(i int, real, imag float64)        {}

type binder struct {
	ckt *Circuit
	mat matrix.DeviceMatrix
}

func (b *binder) Matrix() matrix.DeviceMatrix { return b.mat }

func (b *binder) Branch(dev string) (int, error) {
	n, err := b.ckt.Nodes.Branch(dev)
	if err != nil {
		return 0, err
	}
	return n.Number, nil
}

func (b *binder) Internal(dev, suffix string) (int, error) {
	name := dev + "#" + suffix
	if _, ok := b.ckt.Nodes.Find(name); ok {
		return 0, fmt.Errorf("internal node %s already exists", name)
	}
	return b.ckt.Nodes.Voltage(name).Number, nil
}

func (b *binder) Instance(name string) (device.Instance, bool) {
	return b.ckt.Instance(name)
}

func (b *binder) MarkCharge(slot int) {
	b.ckt.charges = append(b.ckt.charges, slot)
}
