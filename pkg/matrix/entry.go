package matrix

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/edp1096/sparse"
)

// Entry is a handle on one (row, col) element of the matrix. It stays valid
// until the matrix storage is rebuilt; after that it is stale and must be
// fetched again with CircuitMatrix.Entry.
type Entry struct {
	elem     *sparse.Element
	row, col int
	version  uint64
}

func (e *Entry) Row() int { return e.row }
func (e *Entry) Col() int { return e.col }

func atomicAdd(addr *float64, v float64) {
	p := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(p)
		sum := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(p, old, sum) {
			return
		}
	}
}

func (m *CircuitMatrix) check(e *Entry) {
	if e.version != m.version {
		panic(fmt.Sprintf("matrix: stale entry (%d,%d) from version %d, matrix is at %d",
			e.row, e.col, e.version, m.version))
	}
}

func (m *CircuitMatrix) Add(e *Entry, value float64) {
	if e == nil {
		return
	}
	m.check(e)
	atomicAdd(&e.elem.Real, value)
}

func (m *CircuitMatrix) AddComplex(e *Entry, real, imag float64) {
	if e == nil {
		return
	}
	m.check(e)
	atomicAdd(&e.elem.Real, real)
	atomicAdd(&e.elem.Imag, imag)
}

func (m *CircuitMatrix) AddRHS(i int, value float64) {
	if i <= 0 {
		return
	}
	if i > m.Size {
		panic(fmt.Sprintf("matrix: RHS index %d out of range (size %d)", i, m.Size))
	}
	if m.isComplex {
		atomicAdd(&m.rhs[2*i], value)
		return
	}
	atomicAdd(&m.rhs[i], value)
}

func (m *CircuitMatrix) AddComplexRHS(i int, real, imag float64) {
	if i <= 0 {
		return
	}
	if !m.isComplex {
		panic("matrix: complex RHS write on a real matrix")
	}
	if i > m.Size {
		panic(fmt.Sprintf("matrix: RHS index %d out of range (size %d)", i, m.Size))
	}
	atomicAdd(&m.rhs[2*i], real)
	atomicAdd(&m.rhs[2*i+1], imag)
}
