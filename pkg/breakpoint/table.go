// Package breakpoint holds the simulated times a transient run must land on.
package breakpoint

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

type lattice struct {
	offset, period float64
}

// Table is a sorted set of one-shot breakpoints plus at most one periodic
// lattice. Devices may add points concurrently from accept hooks.
type Table struct {
	mu       sync.Mutex
	points   []float64
	lattice  *lattice
	minBreak float64
}

func New(minBreak float64) *Table {
	return &Table{minBreak: minBreak}
}

func (t *Table) MinBreak() float64 { return t.minBreak }

// Reset drops every point and sets the merge tolerance.
func (t *Table) Reset(minBreak float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = t.points[:0]
	t.lattice = nil
	t.minBreak = minBreak
}

// Set adds a one-shot breakpoint. Points closer than minBreak to an existing
// point are merged into the earlier one.
func (t *Table) Set(now, at float64) error {
	if at < now {
		return fmt.Errorf("breakpoint %g is in the past (now %g)", at, now)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.SearchFloat64s(t.points, at)
	if i > 0 && at-t.points[i-1] < t.minBreak {
		return nil
	}
	if i < len(t.points) && t.points[i]-at < t.minBreak {
		t.points[i] = at
		return nil
	}
	t.points = append(t.points, 0)
	copy(t.points[i+1:], t.points[i:])
	t.points[i] = at
	return nil
}

// SetLattice installs the periodic breakpoints offset + k*period, k >= 0.
func (t *Table) SetLattice(offset, period float64) error {
	if period <= 0 {
		return fmt.Errorf("breakpoint lattice period %g is not positive", period)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lattice = &lattice{offset: offset, period: period}
	return nil
}

func (t *Table) ClearLattice() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lattice = nil
}

// Consume removes the one-shot points at or before now (within minBreak) and
// reports whether now sits on a breakpoint.
func (t *Table) Consume(now float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	hit := false
	n := 0
	for n < len(t.points) && t.points[n] <= now+t.minBreak {
		if math.Abs(t.points[n]-now) <= t.minBreak {
			hit = true
		}
		n++
	}
	t.points = t.points[n:]

	if l := t.lattice; l != nil && now >= l.offset-t.minBreak {
		k := math.Round((now - l.offset) / l.period)
		if math.Abs(l.offset+k*l.period-now) <= t.minBreak {
			hit = true
		}
	}
	return hit
}

// Next returns the first breakpoint strictly after now+minBreak, or +Inf.
func (t *Table) Next(now float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := math.Inf(1)
	i := sort.SearchFloat64s(t.points, now+t.minBreak)
	for ; i < len(t.points); i++ {
		if t.points[i] > now+t.minBreak {
			next = t.points[i]
			break
		}
	}
	if l := t.lattice; l != nil {
		p := l.offset
		if now+t.minBreak >= l.offset {
			k := math.Floor((now+t.minBreak-l.offset)/l.period) + 1
			p = l.offset + k*l.period
		}
		next = math.Min(next, p)
	}
	return next
}

// Points returns a copy of the pending one-shot breakpoints.
func (t *Table) Points() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.points...)
}
