// Package state keeps per-device scalar state at the current and previous
// accepted time points.
package state

import "fmt"

// History is a ring of equally sized state vectors. State(0) is the point
// being computed, State(1) the last accepted one, and so on.
type History struct {
	arena   [][]float64
	head    int
	size    int
	charges []int
}

// New allocates depth vectors of size slots each. depth must cover
// maxOrder+2 points for the truncation error estimate.
func New(size, depth int) *History {
	if depth < 2 {
		depth = 2
	}
	arena := make([][]float64, depth)
	for i := range arena {
		arena[i] = make([]float64, size)
	}
	return &History{arena: arena, size: size}
}

func (h *History) Len() int   { return h.size }
func (h *History) Depth() int { return len(h.arena) }

// State returns the vector i points back in time.
func (h *History) State(i int) []float64 {
	if i < 0 || i >= len(h.arena) {
		panic(fmt.Sprintf("state: history index %d out of range [0,%d)", i, len(h.arena)))
	}
	return h.arena[(h.head+i)%len(h.arena)]
}

// Rotate shifts every vector one point back. The oldest vector is reused as
// the new State(0) and seeded with a copy of the new State(1).
func (h *History) Rotate() {
	h.head = (h.head + len(h.arena) - 1) % len(h.arena)
	copy(h.State(0), h.State(1))
}

// Fill copies State(src) into every older vector from dst on.
func (h *History) Fill(src, dst int) {
	for i := dst; i < len(h.arena); i++ {
		copy(h.State(i), h.State(src))
	}
}

func (h *History) Copy(dst, src int) {
	copy(h.State(dst), h.State(src))
}

func (h *History) Reset() {
	for _, v := range h.arena {
		clear(v)
	}
	h.head = 0
}

// MarkCharge registers slot as an integrated quantity. The slot after it
// holds its time derivative. Marked slots drive the truncation error check.
func (h *History) MarkCharge(slot int) {
	h.charges = append(h.charges, slot)
}

func (h *History) Charges() []int { return h.charges }

// Sample gathers slot from the n most recent vectors, newest first.
func (h *History) Sample(slot, n int, dst []float64) []float64 {
	dst = dst[:0]
	for i := 0; i < n; i++ {
		dst = append(dst, h.State(i)[slot])
	}
	return dst
}
