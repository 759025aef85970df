package circuit

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/edp1096/spicecore/pkg/device"
)

// Conductance used to pin nodes to their .nodeset and .ic values.
const forceConductance = 1e10

type loadItem struct {
	model int
	inst  device.Instance
}

// SetThreads selects parallel loading with n worker goroutines; 0 loads
// sequentially on the caller.
func (c *Circuit) SetThreads(n int) {
	n = max(n, 0)
	if n == c.threads && (n == 0 || c.pool != nil) {
		return
	}
	if c.pool != nil {
		c.pool.close()
		c.pool = nil
	}
	c.threads = n
	if n > 0 {
		c.pool = newWorkerPool(n)
	}
	if c.isSetup {
		c.buildBatches()
	}
}

func (c *Circuit) Threads() int { return c.threads }

// buildBatches deals the instances of all unordered models round-robin into
// threads+1 batches, interleaving types so every batch gets a similar mix.
func (c *Circuit) buildBatches() {
	c.ordered = c.ordered[:0]
	c.batches = nil
	if c.threads == 0 {
		return
	}

	var lists [][]loadItem
	for i, m := range c.models {
		if m.Ordered() {
			c.ordered = append(c.ordered, m)
			continue
		}
		var items []loadItem
		for _, inst := range m.Instances() {
			items = append(items, loadItem{model: i, inst: inst})
		}
		if len(items) > 0 {
			lists = append(lists, items)
		}
	}

	n := c.threads + 1
	c.batches = make([][]loadItem, n)
	k := 0
	for pos := 0; ; pos++ {
		dealt := false
		for _, items := range lists {
			if pos < len(items) {
				c.batches[k%n] = append(c.batches[k%n], items[pos])
				k++
				dealt = true
			}
		}
		if !dealt {
			break
		}
	}
}

// Load builds the Jacobian and RHS at the current solution.
func (c *Circuit) Load() error {
	if err := c.catchUpAddresses(); err != nil {
		return err
	}
	c.matrix.Clear()

	var err error
	if c.threads > 0 {
		err = c.loadParallel()
	} else {
		err = c.loadModels(c.models)
	}
	if err != nil {
		return err
	}

	c.loadShunts()
	c.loadNodeForcing()
	return nil
}

func (c *Circuit) loadModels(models []device.Model) error {
	st := c.Status
	for _, m := range models {
		for _, inst := range m.Instances() {
			err := m.Load(inst, st)
			if errors.Is(err, device.ErrSkip) {
				break
			}
			if err != nil {
				return fmt.Errorf("stamping device %s: %w", inst.GetName(), err)
			}
		}
	}
	return nil
}

func (c *Circuit) loadParallel() error {
	if err := c.loadModels(c.ordered); err != nil {
		return err
	}

	st := c.Status
	skipped := make([]atomic.Bool, len(c.models))
	var abort atomic.Bool
	run := func(batch []loadItem) error {
		for _, it := range batch {
			if abort.Load() {
				return nil
			}
			if skipped[it.model].Load() {
				continue
			}
			err := c.models[it.model].Load(it.inst, st)
			if errors.Is(err, device.ErrSkip) {
				skipped[it.model].Store(true)
				continue
			}
			if err != nil {
				abort.Store(true)
				return fmt.Errorf("stamping device %s: %w", it.inst.GetName(), err)
			}
		}
		return nil
	}
	return c.pool.fanOut(c.batches, run)
}

func (c *Circuit) loadShunts() {
	g := c.Status.DiagGmin
	if g <= 0 {
		return
	}
	for _, e := range c.diag {
		c.matrix.Add(e, g)
	}
}

// loadNodeForcing pins nodes with a .nodeset during the first DC iterations
// and nodes with a .ic during the transient operating point.
func (c *Circuit) loadNodeForcing() {
	st := c.Status
	if !st.Mode.Is(device.DCMode) {
		return
	}
	initPhase := st.Init == device.InitJct || st.Init == device.InitFix
	tranIC := st.Mode.Is(device.TransientOP) && !st.Mode.Is(device.UseIC)
	if !initPhase && !tranIC {
		return
	}
	for _, n := range c.Nodes.Unknowns() {
		var v float64
		switch {
		case tranIC && n.HasIC:
			v = n.IC
		case initPhase && n.HasNodeSet:
			v = n.NodeSet
		default:
			continue
		}
		c.matrix.Add(c.diag[n.Number], forceConductance)
		c.matrix.AddRHS(n.Number, forceConductance*v)
	}
}
