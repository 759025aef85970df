package matrix

import (
	"errors"
	"fmt"
	"math"

	"github.com/edp1096/sparse"
)

// ErrSingular is returned when the matrix cannot be factored.
var ErrSingular = errors.New("singular matrix")

// ErrNotFinite is returned when a factored system yields an overflowed or
// NaN solution.
var ErrNotFinite = errors.New("non-finite solution")

type CircuitMatrix struct {
	Size      int
	matrix    *sparse.Matrix
	config    *sparse.Configuration
	isComplex bool

	rhs      []float64
	solution []float64

	entries map[[2]int]*Entry
	keys    [][2]int

	version        uint64
	addressChanged bool
}

func newConfig(isComplex bool) *sparse.Configuration {
	return &sparse.Configuration{
		Real:                    true,
		Complex:                 isComplex,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               false,
		ModifiedNodal:           true,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}
}

func NewMatrix(size int, isComplex bool) (*CircuitMatrix, error) {
	if size <= 0 {
		return nil, fmt.Errorf("matrix size %d: circuit has no unknowns", size)
	}
	m := &CircuitMatrix{
		Size:    size,
		entries: make(map[[2]int]*Entry),
		version: 1,
	}
	if err := m.build(isComplex); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CircuitMatrix) build(isComplex bool) error {
	config := newConfig(isComplex)
	mat, err := sparse.Create(int64(m.Size), config)
	if err != nil {
		return fmt.Errorf("creating sparse matrix: %w", err)
	}
	m.matrix = mat
	m.config = config
	m.isComplex = isComplex

	vectorSize := m.Size + 1 // 1-based
	if isComplex {
		vectorSize *= 2 // interleaved real/imag
	}
	m.rhs = make([]float64, vectorSize)
	m.solution = make([]float64, vectorSize)
	return nil
}

// Entry returns the handle for (row, col), allocating the element on first
// use. Ground rows and columns yield nil.
func (m *CircuitMatrix) Entry(row, col int) *Entry {
	if row <= 0 || col <= 0 {
		return nil
	}
	if row > m.Size || col > m.Size {
		panic(fmt.Sprintf("matrix: index (%d,%d) out of range (size %d)", row, col, m.Size))
	}
	key := [2]int{row, col}
	if e, ok := m.entries[key]; ok {
		return e
	}
	e := &Entry{
		elem:    m.matrix.GetElement(int64(row), int64(col)),
		row:     row,
		col:     col,
		version: m.version,
	}
	m.entries[key] = e
	m.keys = append(m.keys, key)
	return e
}

// Reorder discards the current pivot order by rebuilding the storage. Every
// handed out Entry becomes stale.
func (m *CircuitMatrix) Reorder() error {
	return m.rebuild(m.isComplex)
}

// SetComplex switches between real and complex storage.
func (m *CircuitMatrix) SetComplex(isComplex bool) error {
	if isComplex == m.isComplex {
		return nil
	}
	return m.rebuild(isComplex)
}

func (m *CircuitMatrix) IsComplex() bool { return m.isComplex }

func (m *CircuitMatrix) rebuild(isComplex bool) error {
	old := m.matrix
	if err := m.build(isComplex); err != nil {
		m.matrix = old
		return err
	}
	m.version++
	entries := make(map[[2]int]*Entry, len(m.keys))
	for _, key := range m.keys {
		entries[key] = &Entry{
			elem:    m.matrix.GetElement(int64(key[0]), int64(key[1])),
			row:     key[0],
			col:     key[1],
			version: m.version,
		}
	}
	m.entries = entries
	m.addressChanged = true
	if old != nil {
		old.Destroy()
	}
	return nil
}

func (m *CircuitMatrix) Version() uint64 { return m.version }

// DataAddressChanged reports a rebuild that devices have not caught up with.
func (m *CircuitMatrix) DataAddressChanged() bool { return m.addressChanged }

func (m *CircuitMatrix) AckAddressChange() { m.addressChanged = false }

func (m *CircuitMatrix) Clear() {
	m.matrix.Clear()
	clear(m.rhs)
}

// Solve factors the loaded matrix and solves against the RHS. The returned
// slice is owned by the matrix and overwritten by the next solve.
func (m *CircuitMatrix) Solve() ([]float64, error) {
	if m.isComplex {
		return nil, errors.New("matrix: real solve on a complex matrix")
	}
	if err := m.matrix.Factor(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	x, err := m.matrix.Solve(m.rhs)
	if err != nil {
		return nil, fmt.Errorf("matrix solve failed: %w", err)
	}
	copy(m.solution, x)
	m.solution[0] = 0
	for i := 1; i <= m.Size; i++ {
		if math.IsNaN(m.solution[i]) || math.IsInf(m.solution[i], 0) {
			return nil, fmt.Errorf("%w at row %d", ErrNotFinite, i)
		}
	}
	return m.solution, nil
}

// SolveComplex is Solve for complex storage. The result is interleaved:
// unknown i is at [2i] (real) and [2i+1] (imaginary).
func (m *CircuitMatrix) SolveComplex() ([]float64, error) {
	if !m.isComplex {
		return nil, errors.New("matrix: complex solve on a real matrix")
	}
	if err := m.matrix.Factor(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	x, _, err := m.matrix.SolveComplex(m.rhs, nil)
	if err != nil {
		return nil, fmt.Errorf("matrix solve failed: %w", err)
	}
	copy(m.solution, x)
	return m.solution, nil
}

func (m *CircuitMatrix) ComplexSolution(i int) (float64, float64) {
	if !m.isComplex || i <= 0 || i > m.Size {
		return 0, 0
	}
	return m.solution[2*i], m.solution[2*i+1]
}

func (m *CircuitMatrix) RHS() []float64 { return m.rhs }

// Value reads the current content of (row, col). Before a factorization this
// is the loaded Jacobian entry; afterwards it is the LU factor.
func (m *CircuitMatrix) Value(row, col int) float64 {
	e, ok := m.entries[[2]int{row, col}]
	if !ok {
		return 0
	}
	return e.elem.Real
}

// Values copies every allocated element, keyed by (row, col).
func (m *CircuitMatrix) Values() map[[2]int]float64 {
	out := make(map[[2]int]float64, len(m.entries))
	for key, e := range m.entries {
		out[key] = e.elem.Real
	}
	return out
}

func (m *CircuitMatrix) LargestMagnitude() float64 {
	largest := 0.0
	for _, e := range m.entries {
		largest = math.Max(largest, magnitude(e.elem))
	}
	return largest
}

// SmallestMagnitude is the smallest non-zero element magnitude, 0 if every
// element is zero.
func (m *CircuitMatrix) SmallestMagnitude() float64 {
	smallest := math.Inf(1)
	for _, e := range m.entries {
		if v := magnitude(e.elem); v > 0 && v < smallest {
			smallest = v
		}
	}
	if math.IsInf(smallest, 1) {
		return 0
	}
	return smallest
}

func magnitude(el *sparse.Element) float64 {
	return math.Abs(el.Real) + math.Abs(el.Imag)
}

// WhereSingular points at the row and column most likely responsible for a
// singular loaded matrix: an all-zero row, else an all-zero column, else the
// smallest diagonal. Call it on a freshly loaded, unfactored matrix.
func (m *CircuitMatrix) WhereSingular() (int, int) {
	rowSum := make([]float64, m.Size+1)
	colSum := make([]float64, m.Size+1)
	for key, e := range m.entries {
		v := magnitude(e.elem)
		rowSum[key[0]] += v
		colSum[key[1]] += v
	}
	for i := 1; i <= m.Size; i++ {
		if rowSum[i] == 0 {
			return i, 0
		}
	}
	for j := 1; j <= m.Size; j++ {
		if colSum[j] == 0 {
			return 0, j
		}
	}
	best, smallest := 0, math.Inf(1)
	for i := 1; i <= m.Size; i++ {
		v := 0.0
		if e, ok := m.entries[[2]int{i, i}]; ok {
			v = magnitude(e.elem)
		}
		if v < smallest {
			best, smallest = i, v
		}
	}
	return best, best
}

// Summary describes the allocated structure of the matrix.
type Summary struct {
	Size     int
	Entries  int
	Largest  float64
	Smallest float64
	Density  float64
}

func (m *CircuitMatrix) Summary() Summary {
	return Summary{
		Size:     m.Size,
		Entries:  len(m.entries),
		Largest:  m.LargestMagnitude(),
		Smallest: m.SmallestMagnitude(),
		Density:  float64(len(m.entries)) * 100 / float64(m.Size*m.Size),
	}
}

func (m *CircuitMatrix) Destroy() {
	if m.matrix != nil {
		m.matrix.Destroy()
		m.matrix = nil
	}
}
