package codeview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

func TestAddTypeThenGetType(t *testing.T) {
	m, ctx := newTestContext()
	p := m.NewPointer(nil, 4)

	require.True(t, ctx.AddType(0x1005, p))
	assert.Same(t, p, ctx.GetType(0x1005, true))
	assert.Nil(t, ctx.GetType(0x1004, true))
	assert.Nil(t, ctx.GetType(0x2000, true))
	assert.Equal(t, 1, ctx.Count())

	var seen []uint32
	ctx.Each(func(idx uint32, typ symt.Type) {
		seen = append(seen, idx)
		assert.Same(t, p, typ)
	})
	assert.Equal(t, []uint32{0x1005}, seen)

	assert.False(t, ctx.AddType(T_INT4, p))
	assert.False(t, ctx.AddType(0x01000000, p))
	assert.False(t, ctx.AddType(0x02000fff, p))
	assert.Equal(t, 1, ctx.Count())
}

func TestGetTypeAcrossModules(t *testing.T) {
	m, ctx := newTestContext()
	u := m.NewUDT(symt.UDTStruct, "imported", 4)

	require.NoError(t, ctx.SelectModule(2))
	ctx.AddType(0x1000, u)
	require.NoError(t, ctx.SelectModule(0))

	assert.Nil(t, ctx.GetType(0x1000, true))
	assert.Same(t, u, ctx.GetType(0x02001000, true))
	assert.Nil(t, ctx.GetType(0x05001000, true), "slot never selected")
	assert.Error(t, ctx.SelectModule(MaxModules))

	ctx.Reset()
	assert.Nil(t, ctx.GetType(0x02001000, true))
	assert.Equal(t, 0, ctx.Current())
}

func TestSelfSlotResolvesToMainTypes(t *testing.T) {
	m, ctx := newTestContext()
	p := m.NewPointer(nil, 4)
	require.True(t, ctx.AddType(0x1001, p))

	assert.Nil(t, ctx.GetType(0x03001001, true))
	require.NoError(t, ctx.SetSelfSlot(3))
	assert.Same(t, p, ctx.GetType(0x03001001, true))
	assert.Nil(t, ctx.GetType(0x04001001, true))

	assert.Error(t, ctx.SetSelfSlot(0))
	assert.Error(t, ctx.SetSelfSlot(MaxModules))

	ctx.Reset()
	assert.Nil(t, ctx.GetType(0x03001001, true))
}

func TestBasicTypesAreStable(t *testing.T) {
	m, ctx := newTestContext()

	i := ctx.GetType(T_INT4, true)
	require.IsType(t, &symt.Basic{}, i)
	assert.Equal(t, "int", i.TypeName())
	assert.Equal(t, uint64(4), i.Size())
	assert.Equal(t, symt.BasicInt, i.(*symt.Basic).Kind)

	require.NoError(t, ctx.SelectModule(3))
	assert.Same(t, i, ctx.GetType(T_INT4, true))

	p := ctx.GetType(TM_NPTR32<<8|T_INT4, true)
	require.IsType(t, &symt.Pointer{}, p)
	assert.Same(t, i, p.(*symt.Pointer).To)
	assert.Equal(t, uint64(4), p.Size())

	assert.Equal(t, uint64(8), ctx.GetType(TM_NPTR64<<8|T_UCHAR, true).Size())
	assert.Nil(t, ctx.GetType(T_NOTYPE, true))
	assert.Nil(t, ctx.GetType(0x00ff, true))

	// A second pass over another sink resolves to the same semantic type.
	_, other := newTestContext()
	j := other.GetType(T_INT4, true)
	assert.Equal(t, i.TypeName(), j.TypeName())
	assert.Equal(t, i.Size(), j.Size())
	assert.NotSame(t, i, j)

	assert.Len(t, m.Types, 4)
	assert.Equal(t, "int *", symt.Format(p))
}

func TestTypeTableRecord(t *testing.T) {
	a := leaf(LF_POINTER_V2, uint32(T_INT4), uint32(0x1000a))
	b := leaf(LF_ARGLIST_V2, uint32(0))
	table := typeTable(a, b)

	assert.Equal(t, 2, table.Len())
	rec, ok := table.Record(0x1001)
	require.True(t, ok)
	assert.Equal(t, b, rec)

	_, ok = table.Record(0x0fff)
	assert.False(t, ok)
	_, ok = table.Record(0x1002)
	assert.False(t, ok)

	// Offsets pointing past the data are rejected.
	bad := NewOffsetTypeTable(a, FirstDefinableType, []uint32{0, uint32(len(a) - 2)})
	_, ok = bad.Record(0x1001)
	assert.False(t, ok)
}
