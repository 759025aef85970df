package breakpoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetKeepsOrderAndMerges(t *testing.T) {
	tbl := New(1e-9)
	require.NoError(t, tbl.Set(0, 2))
	require.NoError(t, tbl.Set(0, 1))
	require.NoError(t, tbl.Set(0, 3))
	require.NoError(t, tbl.Set(0, 1+1e-12))
	assert.Equal(t, []float64{1, 2, 3}, tbl.Points())

	assert.Error(t, tbl.Set(2, 1))
}

func TestNextAndConsume(t *testing.T) {
	tbl := New(1e-9)
	require.NoError(t, tbl.Set(0, 1))
	require.NoError(t, tbl.Set(0, 2))

	assert.Equal(t, 1.0, tbl.Next(0))
	assert.False(t, tbl.Consume(0.5))
	assert.Equal(t, 1.0, tbl.Next(0.5))

	assert.True(t, tbl.Consume(1.0))
	assert.Equal(t, 2.0, tbl.Next(1.0))
	assert.Equal(t, []float64{2}, tbl.Points())

	// a point skipped over is dropped without a hit
	assert.False(t, tbl.Consume(2.5))
	assert.True(t, math.IsInf(tbl.Next(2.5), 1))
}

func TestLattice(t *testing.T) {
	tbl := New(1e-9)
	require.NoError(t, tbl.SetLattice(0.5, 1))
	require.NoError(t, tbl.Set(0, 0.8))

	assert.Equal(t, 0.5, tbl.Next(0))
	assert.True(t, tbl.Consume(0.5))
	assert.Equal(t, 0.8, tbl.Next(0.5))
	assert.Equal(t, 1.5, tbl.Next(0.8))
	assert.True(t, tbl.Consume(2.5))
	assert.Equal(t, 3.5, tbl.Next(2.5))

	assert.Error(t, tbl.SetLattice(0, 0))
	tbl.ClearLattice()
	assert.True(t, math.IsInf(tbl.Next(3), 1))
}
