package codeview

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// member is a comparable projection of symt.Member.
type member struct {
	Name      string
	Type      string
	BitOffset uint32
	BitSize   uint32
}

func members(u *symt.UDT) []member {
	var out []member
	for _, m := range u.Members {
		out = append(out, member{m.Name, symt.Format(m.Type), m.BitOffset, m.BitSize})
	}
	return out
}

func TestForwardReferencedStruct(t *testing.T) {
	m, ctx := newTestContext()
	table := typeTable(
		// 0x1000: members of A
		leaf(LF_FIELDLIST_V2, uint16(LF_MEMBER_V2), uint16(3), uint32(0x1001), uint16(0), pstr("b")),
		// 0x1001: B *
		leaf(LF_POINTER_V2, uint32(0x1003), uint32(0x0a|4<<13)),
		// 0x1002: struct A
		leaf(LF_STRUCTURE_V2, uint16(1), uint16(0), uint32(0x1000), uint32(0), uint32(0), uint16(4), pstr("A")),
		// 0x1003: struct B, after its first use
		leaf(LF_STRUCTURE_V2, uint16(1), uint16(0), uint32(0x1004), uint32(0), uint32(0), uint16(4), pstr("B")),
		// 0x1004: members of B
		leaf(LF_FIELDLIST_V2, uint16(LF_MEMBER_V3), uint16(3), uint32(T_INT4), uint16(0), cstr("x")),
	)

	stats := ParseTypeTable(ctx, table)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Unsupported)

	a, ok := ctx.GetType(0x1002, true).(*symt.UDT)
	require.True(t, ok)
	b, ok := ctx.GetType(0x1003, true).(*symt.UDT)
	require.True(t, ok)

	require.Len(t, a.Members, 1)
	ptr, ok := a.Members[0].Type.(*symt.Pointer)
	require.True(t, ok)
	assert.Same(t, b, ptr.To)
	assert.Same(t, ptr, ctx.GetType(0x1001, true))

	assert.Len(t, udtsNamed(m, "B"), 1)
	if diff := cmp.Diff([]member{{"x", "int", 0, 32}}, members(b)); diff != "" {
		t.Errorf("members of B mismatch (-want +got):\n%s", diff)
	}
}

func TestForwardDeclarationMerge(t *testing.T) {
	m, ctx := newTestContext()
	table := typeTable(
		// 0x1000: struct S, forward
		leaf(LF_STRUCTURE_V3, uint16(0), uint16(propForwardRef), uint32(0), uint32(0), uint32(0), uint16(0), cstr("S")),
		// 0x1001: S *
		leaf(LF_POINTER_V2, uint32(0x1000), uint32(0x0c)),
		// 0x1002: members of S
		leaf(LF_FIELDLIST_V2,
			uint16(LF_MEMBER_V3), uint16(3), uint32(T_INT4), uint16(0), cstr("a"),
			uint16(LF_MEMBER_V3), uint16(3), uint32(0x1001), uint16(4), cstr("next")),
		// 0x1003: struct S, complete
		leaf(LF_STRUCTURE_V3, uint16(2), uint16(0), uint32(0x1002), uint32(0), uint32(0), uint16(12), cstr("S")),
	)
	ParseTypeTable(ctx, table)

	all := udtsNamed(m, "S")
	require.Len(t, all, 1)
	s := all[0]
	assert.Same(t, s, ctx.GetType(0x1000, true))
	assert.Same(t, s, ctx.GetType(0x1003, true))
	assert.Equal(t, uint64(12), s.ByteSize)
	assert.Equal(t, uint64(8), ctx.GetType(0x1001, true).Size())

	want := []member{{"a", "int", 0, 32}, {"next", "struct S *", 32, 64}}
	if diff := cmp.Diff(want, members(s)); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestBitfieldMembers(t *testing.T) {
	_, ctx := newTestContext()
	table := typeTable(
		leaf(LF_BITFIELD_V2, uint32(T_UINT4), uint8(3), uint8(0)),
		leaf(LF_BITFIELD_V2, uint32(T_UINT4), uint8(5), uint8(3)),
		leaf(LF_FIELDLIST_V2,
			uint16(LF_MEMBER_V3), uint16(3), uint32(0x1000), uint16(0), cstr("lo"),
			uint16(LF_MEMBER_V3), uint16(3), uint32(0x1001), uint16(0), cstr("hi"),
			uint16(LF_MEMBER_V3), uint16(3), uint32(T_INT4), uint16(4), cstr("n")),
		leaf(LF_STRUCTURE_V3, uint16(3), uint16(0), uint32(0x1002), uint32(0), uint32(0), uint16(8), cstr("Bits")),
	)
	ParseTypeTable(ctx, table)

	u, ok := ctx.GetType(0x1003, true).(*symt.UDT)
	require.True(t, ok)
	want := []member{
		{"lo", "unsigned int", 0, 3},
		{"hi", "unsigned int", 3, 5},
		{"n", "int", 32, 32},
	}
	if diff := cmp.Diff(want, members(u)); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumValuesFollowIndex(t *testing.T) {
	m, ctx := newTestContext()
	table := typeTable(
		leaf(LF_FIELDLIST_V2,
			uint16(LF_ENUMERATE_V3), uint16(3), uint16(0), cstr("RED"),
			uint16(LF_ENUMERATE_V3), uint16(3), uint16(LF_LONG), int32(70000), cstr("BIG"),
			uint16(LF_INDEX_V2), uint16(0), uint32(0x1001)),
		leaf(LF_FIELDLIST_V2,
			uint16(LF_ENUMERATE_V3), uint16(3), uint16(LF_CHAR), int8(-1), cstr("NEG")),
		leaf(LF_ENUM_V3, uint16(3), uint16(0), uint32(T_INT4), uint32(0x1000), cstr("Color")),
	)
	ParseTypeTable(ctx, table)

	e, ok := ctx.GetType(0x1002, true).(*symt.Enum)
	require.True(t, ok)
	assert.Equal(t, "Color", e.Name)
	assert.Same(t, ctx.GetType(T_INT4, true), e.Base)
	want := []symt.Enumerator{{Name: "RED", Value: 0}, {Name: "BIG", Value: 70000}, {Name: "NEG", Value: -1}}
	if diff := cmp.Diff(want, e.Values); diff != "" {
		t.Errorf("enumerators mismatch (-want +got):\n%s", diff)
	}

	// A second pass must not append the values again.
	ParseTypeTable(ctx, table)
	assert.Len(t, e.Values, 3)
	n := 0
	for _, typ := range m.Types {
		if _, ok := typ.(*symt.Enum); ok {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestSignature(t *testing.T) {
	_, ctx := newTestContext()
	table := typeTable(
		leaf(LF_ARGLIST_V2, uint32(2), uint32(T_INT4), uint32(T_INT4)),
		leaf(LF_PROCEDURE_V2, uint32(T_VOID), uint8(symt.CallNearStd), uint8(0), uint16(2), uint32(0x1000)),
		leaf(LF_POINTER_V2, uint32(0x1001), uint32(0x0a)),
	)
	stats := ParseTypeTable(ctx, table)
	assert.Zero(t, stats.Failed)

	sig, ok := ctx.GetType(0x1001, true).(*symt.FuncSignature)
	require.True(t, ok)
	assert.Equal(t, "void", sig.Return.TypeName())
	assert.Equal(t, symt.CallNearStd, sig.Conv)
	require.Len(t, sig.Params, 2)
	assert.Same(t, ctx.GetType(T_INT4, true), sig.Params[0])
	assert.Same(t, ctx.GetType(T_INT4, true), sig.Params[1])
	assert.Equal(t, "void (*) (int, int)", symt.Format(ctx.GetType(0x1002, true)))
}

func TestArrayElementCount(t *testing.T) {
	_, ctx := newTestContext()
	table := typeTable(
		leaf(LF_ARRAY_V3, uint32(T_INT4), uint32(T_ULONG), uint16(12), cstr("")),
		leaf(LF_ARRAY_V3, uint32(0x1007), uint32(T_ULONG), uint16(12), cstr("")),
		leaf(LF_ARRAY_V2, uint32(T_CHAR), uint32(T_ULONG), uint16(LF_ULONG), uint32(0x10000), pstr("")),
	)
	ParseTypeTable(ctx, table)

	tests := []struct {
		idx   uint32
		count uint32
		size  uint64
	}{
		{0x1000, 3, 12},
		{0x1001, 0, 0},
		{0x1002, 0x10000, 0x10000},
	}
	for _, tt := range tests {
		a, ok := ctx.GetType(tt.idx, true).(*symt.Array)
		require.True(t, ok, "0x%x", tt.idx)
		assert.Equal(t, tt.count, a.Count, "0x%x", tt.idx)
		assert.Equal(t, tt.size, a.Size(), "0x%x", tt.idx)
	}
}

func TestApproximatedNumericLeafIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctx := NewTypeContext(symt.NewModule("test"), zap.New(core))
	table := typeTable(
		leaf(LF_ARRAY_V3, uint32(T_INT4), uint32(T_ULONG), uint16(LF_REAL32), float32(1.5), cstr("")),
		leaf(LF_ARRAY_V3, uint32(T_INT4), uint32(T_ULONG), uint16(8), cstr("")),
	)
	stats := ParseTypeTable(ctx, table)
	assert.Equal(t, 2, stats.Decoded)

	a, ok := ctx.GetType(0x1000, true).(*symt.Array)
	require.True(t, ok)
	assert.Zero(t, a.Size())

	warned := logs.FilterMessage("approximated numeric leaf").All()
	require.Len(t, warned, 1)
	assert.Equal(t, uint16(LF_REAL32), warned[0].ContextMap()["leaf"])
}

func TestModifierAndUnsupportedLeaves(t *testing.T) {
	m, ctx := newTestContext()
	table := typeTable(
		leaf(LF_MODIFIER_V2, uint32(T_INT4), uint16(1)),
		leaf(LF_LABEL_V1, uint16(0)),
		leaf(LF_UNION_V3, uint16(0), uint16(0), uint32(0), uint16(4), cstr("<unnamed-tag>")),
		leaf(LF_VTSHAPE_V1, uint16(0)),
	)
	stats := ParseTypeTable(ctx, table)

	assert.Same(t, ctx.GetType(T_INT4, true), ctx.GetType(0x1000, true))
	assert.Nil(t, ctx.GetType(0x1001, true))
	assert.Equal(t, 1, stats.Unsupported)

	u, ok := ctx.GetType(0x1002, true).(*symt.UDT)
	require.True(t, ok)
	assert.Equal(t, "", u.Name)
	assert.Equal(t, symt.UDTUnion, u.Kind)

	assert.Len(t, udtsNamed(m, "__internal_vt_shape_1003"), 1)
}

func TestFetchOutOfTable(t *testing.T) {
	_, ctx := newTestContext()
	d := NewTypeDecoder(ctx, typeTable(leaf(LF_POINTER_V2, uint32(0x1005), uint32(0x0a))))

	assert.Nil(t, d.Fetch(0, true))
	assert.Nil(t, d.Fetch(0x1005, true))
	p, ok := d.Fetch(0x1000, true).(*symt.Pointer)
	require.True(t, ok)
	assert.Nil(t, p.To)
	assert.Equal(t, uint64(4), p.Size())
}

func TestParseTableSkipsShortRecords(t *testing.T) {
	_, ctx := newTestContext()
	ptr := leaf(LF_POINTER_V2, uint32(T_INT4), uint32(0x1000a))
	for _, short := range [][]byte{encode(uint16(0)), encode(uint16(1), uint8(0))} {
		ctx.Reset()
		data := append(append([]byte(nil), short...), ptr...)
		stats := ParseTypeTable(ctx, NewTypeTable(data, FirstDefinableType, 2))
		assert.Equal(t, 1, stats.Decoded)
		assert.Nil(t, ctx.GetType(0x1000, true))
		assert.IsType(t, &symt.Pointer{}, ctx.GetType(0x1001, true))
	}
}

func TestParseTableRejectsSlotFirst(t *testing.T) {
	_, ctx := newTestContext()
	ptr := leaf(LF_POINTER_V2, uint32(T_INT4), uint32(0x1000a))

	for _, first := range []uint32{0x01000000, 0x0800, 0x02001000} {
		stats := ParseTypeTable(ctx, NewTypeTable(ptr, first, 1))
		assert.Equal(t, TypeStats{}, stats, "first %#x", first)
	}
	assert.Zero(t, ctx.Count())
}
