package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableNumbering(t *testing.T) {
	tbl := NewTable()
	in := tbl.Voltage("in")
	out := tbl.Voltage("out")
	assert.Equal(t, 1, in.Number)
	assert.Equal(t, 2, out.Number)
	assert.Same(t, in, tbl.Voltage("in"))
	assert.Equal(t, 0, tbl.Voltage("gnd").Number)
	assert.Equal(t, 0, tbl.Voltage("0").Number)

	br, err := tbl.Branch("V1")
	require.NoError(t, err)
	assert.Equal(t, 3, br.Number)
	assert.Equal(t, Current, br.Kind)
	_, err = tbl.Branch("V1")
	assert.Error(t, err)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, "out", tbl.NameOf(2))
	assert.Len(t, tbl.Unknowns(), 3)
}

func TestTableNodeSetAndIC(t *testing.T) {
	tbl := NewTable()
	tbl.Voltage("a")
	_, _ = tbl.Branch("L1")

	require.NoError(t, tbl.SetNodeSet("a", 0.7))
	require.NoError(t, tbl.SetIC("a", 1.2))
	n, ok := tbl.Find("a")
	require.True(t, ok)
	assert.True(t, n.HasNodeSet)
	assert.Equal(t, 0.7, n.NodeSet)
	assert.True(t, n.HasIC)
	assert.Equal(t, 1.2, n.IC)

	assert.Error(t, tbl.SetIC("missing", 1))
	assert.Error(t, tbl.SetIC("0", 1))
	assert.Error(t, tbl.SetNodeSet("L1#branch", 1))

	require.NoError(t, tbl.SetPhase("a"))
	assert.True(t, n.Phase)
}
