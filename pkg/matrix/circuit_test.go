package matrix

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDivider(m *CircuitMatrix) {
	m.Clear()
	m.Add(m.Entry(1, 1), 2)
	m.Add(m.Entry(1, 2), -1)
	m.Add(m.Entry(2, 1), -1)
	m.Add(m.Entry(2, 2), 2)
	m.AddRHS(1, 1)
}

func TestSolveReal(t *testing.T) {
	m, err := NewMatrix(2, false)
	require.NoError(t, err)
	defer m.Destroy()

	loadDivider(m)
	x, err := m.Solve()
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, x[1], 1e-12)
	assert.InDelta(t, 1.0/3.0, x[2], 1e-12)
}

func TestGroundEntriesAbsorbWrites(t *testing.T) {
	m, err := NewMatrix(1, false)
	require.NoError(t, err)
	defer m.Destroy()

	assert.Nil(t, m.Entry(0, 1))
	assert.Nil(t, m.Entry(1, 0))
	assert.NotPanics(t, func() {
		m.Add(nil, 1)
		m.AddRHS(0, 1)
	})
}

func TestReorderInvalidatesEntries(t *testing.T) {
	m, err := NewMatrix(2, false)
	require.NoError(t, err)
	defer m.Destroy()

	stale := m.Entry(1, 1)
	assert.False(t, m.DataAddressChanged())
	v := m.Version()

	require.NoError(t, m.Reorder())
	assert.True(t, m.DataAddressChanged())
	assert.Greater(t, m.Version(), v)
	assert.Panics(t, func() { m.Add(stale, 1) })

	fresh := m.Entry(1, 1)
	assert.NotSame(t, stale, fresh)
	m.AckAddressChange()
	assert.False(t, m.DataAddressChanged())

	loadDivider(m)
	x, err := m.Solve()
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, x[1], 1e-12)
}

func TestConcurrentAccumulation(t *testing.T) {
	m, err := NewMatrix(1, false)
	require.NoError(t, err)
	defer m.Destroy()

	e := m.Entry(1, 1)
	m.Clear()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				m.Add(e, 1)
				m.AddRHS(1, 0.5)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000.0, m.Value(1, 1))
	assert.Equal(t, 4000.0, m.RHS()[1])
}

func TestSolveComplex(t *testing.T) {
	m, err := NewMatrix(1, false)
	require.NoError(t, err)
	defer m.Destroy()

	e := m.Entry(1, 1)
	require.NoError(t, m.SetComplex(true))
	assert.True(t, m.DataAddressChanged())
	assert.Panics(t, func() { m.Add(e, 1) })

	m.Clear()
	m.AddComplex(m.Entry(1, 1), 1, 1)
	m.AddComplexRHS(1, 1, 0)
	_, err = m.SolveComplex()
	require.NoError(t, err)
	re, im := m.ComplexSolution(1)
	assert.InDelta(t, 0.5, re, 1e-12)
	assert.InDelta(t, -0.5, im, 1e-12)
}

func TestDiagnostics(t *testing.T) {
	m, err := NewMatrix(3, false)
	require.NoError(t, err)
	defer m.Destroy()

	m.Clear()
	m.Add(m.Entry(1, 1), 4)
	m.Add(m.Entry(2, 2), 1e-3)
	m.Entry(3, 3)
	assert.Equal(t, 4.0, m.LargestMagnitude())
	assert.Equal(t, 1e-3, m.SmallestMagnitude())

	row, col := m.WhereSingular()
	assert.Equal(t, 3, row)
	assert.Equal(t, 0, col)

	s := m.Summary()
	assert.Equal(t, 3, s.Entries)
}

func TestSolveOverflowIsNotSingular(t *testing.T) {
	m, err := NewMatrix(1, false)
	require.NoError(t, err)
	defer m.Destroy()

	m.Clear()
	m.Add(m.Entry(1, 1), 1e-10)
	m.AddRHS(1, 1e300)
	_, err = m.Solve()
	require.ErrorIs(t, err, ErrNotFinite)
	assert.NotErrorIs(t, err, ErrSingular)
}
