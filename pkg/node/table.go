// Package node numbers the unknowns of a circuit: node voltages and the
// branch currents introduced by voltage-defined elements.
package node

import (
	"fmt"
	"strings"
)

type Kind int

const (
	Voltage Kind = iota
	Current
)

func (k Kind) String() string {
	if k == Current {
		return "current"
	}
	return "voltage"
}

type Node struct {
	Number int
	Name   string
	Kind   Kind

	NodeSet    float64
	HasNodeSet bool
	IC         float64
	HasIC      bool

	// Phase marks an unknown that is a junction phase rather than a voltage.
	Phase bool
}

// Table owns every node of a circuit. Number 0 is ground and is never an unknown.
type Table struct {
	nodes  []*Node
	byName map[string]*Node
}

func NewTable() *Table {
	gnd := &Node{Number: 0, Name: "0", Kind: Voltage}
	return &Table{
		nodes:  []*Node{gnd},
		byName: map[string]*Node{"0": gnd},
	}
}

func IsGround(name string) bool {
	return name == "0" || strings.EqualFold(name, "gnd")
}

// Voltage returns the voltage node called name, creating it if needed.
func (t *Table) Voltage(name string) *Node {
	if IsGround(name) {
		return t.nodes[0]
	}
	if n, ok := t.byName[name]; ok {
		return n
	}
	return t.add(name, Voltage)
}

// Branch creates the current unknown of a voltage-defined element.
func (t *Table) Branch(device string) (*Node, error) {
	name := device + "#branch"
	if _, ok := t.byName[name]; ok {
		return nil, fmt.Errorf("branch for %s already exists", device)
	}
	return t.add(name, Current), nil
}

func (t *Table) add(name string, kind Kind) *Node {
	n := &Node{Number: len(t.nodes), Name: name, Kind: kind}
	t.nodes = append(t.nodes, n)
	t.byName[name] = n
	return n
}

func (t *Table) Find(name string) (*Node, bool) {
	if IsGround(name) {
		return t.nodes[0], true
	}
	n, ok := t.byName[name]
	return n, ok
}

func (t *Table) ByNumber(num int) *Node {
	if num < 0 || num >= len(t.nodes) {
		return nil
	}
	return t.nodes[num]
}

// Len is the number of unknowns, ground excluded.
func (t *Table) Len() int { return len(t.nodes) - 1 }

// Unknowns returns the nodes 1..Len in numbering order.
func (t *Table) Unknowns() []*Node { return t.nodes[1:] }

func (t *Table) NameOf(num int) string {
	if n := t.ByNumber(num); n != nil {
		return n.Name
	}
	return fmt.Sprintf("#%d", num)
}

func (t *Table) SetNodeSet(name string, v float64) error {
	n, err := t.voltageNode(name)
	if err != nil {
		return err
	}
	n.NodeSet, n.HasNodeSet = v, true
	return nil
}

func (t *Table) SetIC(name string, v float64) error {
	n, err := t.voltageNode(name)
	if err != nil {
		return err
	}
	n.IC, n.HasIC = v, true
	return nil
}

func (t *Table) SetPhase(name string) error {
	n, err := t.voltageNode(name)
	if err != nil {
		return err
	}
	n.Phase = true
	return nil
}

func (t *Table) voltageNode(name string) (*Node, error) {
	n, ok := t.Find(name)
	if !ok {
		return nil, fmt.Errorf("unknown node %q", name)
	}
	if n.Number == 0 {
		return nil, fmt.Errorf("node %q is ground", name)
	}
	if n.Kind != Voltage {
		return nil, fmt.Errorf("node %q is not a voltage node", name)
	}
	return n, nil
}
