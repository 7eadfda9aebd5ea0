package codeview

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

func snarf(t *testing.T, ctx *TypeContext, opts SymbolOptions, lines LineTable, recs ...[]byte) *SymbolDecoder {
	t.Helper()
	data := bytes.Join(recs, nil)
	d := NewSymbolDecoder(ctx, mapper{0x401000, 0x402000, 0x403000}, opts)
	d.Snarf(data, 0, len(data), lines)
	return d
}

func gdata(name string, off uint32) []byte {
	return sym(S_GDATA_V3, uint32(T_INT4), off, uint16(2), cstr(name))
}

func TestSnarfSkipsUnknownRecord(t *testing.T) {
	m, ctx := newTestContext()
	d := snarf(t, ctx, SymbolOptions{}, nil,
		gdata("first", 0x10),
		sym(0x7777, uint32(0xdeadbeef), uint32(0xcafef00d), cstr("ignored")),
		gdata("second", 0x20),
	)

	require.Len(t, m.Variables, 2)
	assert.Equal(t, "first", m.Variables[0].Name)
	assert.Equal(t, "second", m.Variables[1].Name)
	assert.Equal(t, uint64(0x402020), m.Variables[1].Address)
	assert.Same(t, ctx.GetType(T_INT4, true), m.Variables[1].Type)
	assert.Equal(t, 3, d.Stats.Records)
	assert.Equal(t, 1, d.Stats.Unknown)
}

func TestSnarfSkipsProcRefTrailingName(t *testing.T) {
	m, ctx := newTestContext()
	ref := sym(S_PROCREF_V1, uint32(0), uint32(0x40), uint16(1))
	name := encode(pstr("main"), []byte{0, 0, 0})
	require.Len(t, name, 8)

	d := snarf(t, ctx, SymbolOptions{}, nil, ref, name, gdata("after", 0x30))

	require.Len(t, m.Variables, 1)
	assert.Equal(t, "after", m.Variables[0].Name)
	assert.Equal(t, uint64(0x402030), m.Variables[0].Address)
	assert.Zero(t, d.Stats.Unknown)
	assert.Equal(t, 2, d.Stats.Records)
}

func TestSnarfCountsUnpaddedRecord(t *testing.T) {
	m, ctx := newTestContext()
	odd := encode(uint16(4), uint16(S_COMPILE3), uint16(0))
	require.Len(t, odd, 6)

	d := snarf(t, ctx, SymbolOptions{}, nil, gdata("before", 0x10), odd, gdata("after", 0x20))

	require.Len(t, m.Variables, 2)
	assert.Equal(t, "after", m.Variables[1].Name)
	assert.Equal(t, uint64(0x402020), m.Variables[1].Address)
	assert.Equal(t, 3, d.Stats.Records)
	assert.Equal(t, 1, d.Stats.Unpadded)
	assert.Zero(t, d.Stats.Unknown)
}

func TestSnarfStopsAtBadLength(t *testing.T) {
	m, ctx := newTestContext()
	// The second record claims more bytes than remain.
	data := append(gdata("kept", 0), encode(uint16(0x40), uint16(S_GDATA_V3), uint32(0))...)
	d := NewSymbolDecoder(ctx, nil, SymbolOptions{})
	d.Snarf(data, 0, len(data), nil)

	require.Len(t, m.Variables, 1)
	assert.Equal(t, uint64(0), m.Variables[0].Address)
	assert.Equal(t, 1, d.Stats.Records)
}

func TestProcedureLines(t *testing.T) {
	m, ctx := newTestContext()
	src := m.NewSource("f.c")
	lines := LineTable{{
		Segment: 3,
		Start:   0x100,
		End:     0x200,
		Source:  src,
		Offsets: []uint32{0x100, 0x140, 0x150, 0x160, 0x19f, 0x1a0, 0x1c0},
		Lines:   []uint32{1, 2, 3, 4, 5, 6, 7},
	}}
	proc := sym(S_GPROC_V3,
		uint32(0), uint32(0), uint32(0), // parent, end, next
		uint32(0x50), uint32(4), uint32(0x4c),
		uint32(0), uint32(0x150), uint16(3), uint8(0), cstr("f"))

	snarf(t, ctx, SymbolOptions{}, lines, proc, sym(S_END_V1))

	require.Len(t, m.Functions, 1)
	f := m.Functions[0]
	assert.Equal(t, uint64(0x403150), f.Address)
	assert.Equal(t, uint64(0x50), f.Length)
	assert.True(t, f.Normalized)

	want := []symt.Line{
		{Source: src, Line: 3, Offset: 0},
		{Source: src, Line: 4, Offset: 0x10},
		{Source: src, Line: 5, Offset: 0x4f},
	}
	if diff := cmp.Diff(want, f.Lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	wantPoints := []symt.Point{
		{Kind: symt.PointDebugStart, Offset: 4},
		{Kind: symt.PointDebugEnd, Offset: 0x4c},
	}
	if diff := cmp.Diff(wantPoints, f.Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalsBlocksAndLabels(t *testing.T) {
	m, ctx := newTestContext()
	snarf(t, ctx, SymbolOptions{}, nil,
		sym(S_GPROC_V3, uint32(0), uint32(0), uint32(0), uint32(0x40), uint32(0), uint32(0x40),
			uint32(0), uint32(0x10), uint16(1), uint8(0), cstr("f")),
		sym(S_BPREL_V3, int32(8), uint32(T_INT4), cstr("a")),
		sym(S_BPREL_V3, int32(-4), uint32(T_INT4), cstr("x")),
		sym(S_BLOCK_V3, uint32(0), uint32(0), uint32(0x10), uint32(0x20), uint16(1), cstr("")),
		sym(S_REGISTER_V3, uint32(T_INT4), uint16(17), cstr("r")),
		sym(S_REGREL_V3, int32(-8), uint32(T_INT4), uint16(335), cstr("y")),
		sym(S_END_V1),
		sym(S_LABEL_V3, uint32(0x30), uint16(1), uint8(0), cstr("retry")),
		sym(S_END_V1),
		sym(S_BPREL_V3, int32(8), uint32(T_INT4), cstr("orphan")),
	)

	require.Len(t, m.Functions, 1)
	f := m.Functions[0]
	assert.Equal(t, uint64(0x401010), f.Address)
	assert.Nil(t, f.Type)

	require.Len(t, f.Locals, 2)
	assert.Equal(t, "a", f.Locals[0].Name)
	assert.True(t, f.Locals[0].Param)
	assert.Equal(t, "x", f.Locals[1].Name)
	assert.False(t, f.Locals[1].Param)
	assert.Equal(t, symt.Location{Kind: symt.LocFrameRelative, Offset: -4}, f.Locals[1].Location)

	require.Len(t, f.Blocks, 1)
	b := f.Blocks[0]
	assert.Equal(t, uint32(0x10), b.Offset)
	assert.Equal(t, uint32(0x10), b.Length)
	require.Len(t, b.Locals, 2)
	assert.Equal(t, symt.Location{Kind: symt.LocRegister, Register: 17}, b.Locals[0].Location)
	assert.False(t, b.Locals[0].Param)
	assert.Equal(t, symt.Location{Kind: symt.LocRegisterRelative, Register: 335, Offset: -8}, b.Locals[1].Location)

	require.Len(t, f.Points, 3)
	assert.Equal(t, symt.Point{Kind: symt.PointLabel, Offset: 0x20, Name: "retry"}, f.Points[2])
	assert.True(t, f.Normalized)
}

func TestNestedFunctionReplacesOpenOne(t *testing.T) {
	m, ctx := newTestContext()
	proc := func(name string, off uint32) []byte {
		return sym(S_LPROC_V3, uint32(0), uint32(0), uint32(0), uint32(0x10), uint32(0), uint32(0),
			uint32(0), off, uint16(1), uint8(0), cstr(name))
	}
	snarf(t, ctx, SymbolOptions{}, nil,
		proc("outer", 0),
		proc("inner", 0x20),
		sym(S_BPREL_V3, int32(8), uint32(T_INT4), cstr("p")),
	)

	require.Len(t, m.Functions, 2)
	assert.Empty(t, m.Functions[0].Locals)
	require.Len(t, m.Functions[1].Locals, 1)
	assert.True(t, m.Functions[1].Normalized, "open function is closed at end of stream")
}

func TestPublicsAndThunks(t *testing.T) {
	recs := [][]byte{
		sym(S_PUB_V3, uint32(2), uint32(0x100), uint16(1), cstr("_main")),
		sym(S_PUB_V3, uint32(0), uint32(0x40), uint16(2), cstr("_gv")),
		sym(S_PUB_V1, uint32(0x44), uint16(2), uint16(0), pstr("_old")),
		sym(S_THUNK_V3, uint32(0), uint32(0), uint32(0), uint32(0x200), uint16(1), uint16(6), uint8(0), cstr("thunk")),
	}

	m, ctx := newTestContext()
	snarf(t, ctx, SymbolOptions{}, nil, recs...)
	want := []symt.Public{
		{Name: "_main", Address: 0x401100, Function: true},
		{Name: "_gv", Address: 0x402040},
		{Name: "_old", Address: 0x402044},
	}
	var got []symt.Public
	for _, p := range m.Publics {
		got = append(got, *p)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("publics mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, m.Thunks, 1)
	assert.Equal(t, symt.Thunk{Name: "thunk", Address: 0x401200, Length: 6}, *m.Thunks[0])

	m, ctx = newTestContext()
	snarf(t, ctx, SymbolOptions{NoPublics: true}, nil, recs...)
	assert.Empty(t, m.Publics)
	assert.Len(t, m.Thunks, 1)
}

func TestDataThreadsAndCompilands(t *testing.T) {
	m, ctx := newTestContext()
	recs := bytes.Join([][]byte{
		sym(S_OBJNAME_V3, uint32(0), cstr(`c:\build\a.obj`)),
		sym(S_LDATA_V3, uint32(T_INT4), uint32(4), uint16(2), cstr("counter")),
		sym(S_GTHREAD_V3, uint32(T_INT4), uint32(8), uint16(3), cstr("tls")),
		sym(S_LDATA_V2, uint32(T_INT4), uint32(12), uint16(2), pstr("")),
		sym(S_GDATA_V1, uint32(16), uint16(2), uint16(T_CHAR), pstr("old")),
	}, nil)

	d := NewSymbolDecoder(ctx, mapper{0x1000, 0x2000, 0x3000}, SymbolOptions{})
	d.Snarf(recs, 0, len(recs), nil)
	require.Len(t, m.Variables, 3)
	counter, tls, old := m.Variables[0], m.Variables[1], m.Variables[2]

	assert.True(t, counter.Static)
	assert.False(t, counter.ThreadLocal)
	assert.Equal(t, uint64(0x2004), counter.Address)
	require.NotNil(t, counter.Compiland)
	assert.Equal(t, `c:\build\a.obj`, counter.Compiland.Name)

	assert.True(t, tls.ThreadLocal)
	assert.False(t, tls.Static)
	assert.Equal(t, uint64(0x3008), tls.Address)

	assert.Equal(t, "char", old.Type.TypeName())

	// The same records seen again from another stream add nothing.
	d.Snarf(recs, 0, len(recs), nil)
	assert.Len(t, m.Variables, 3)
	assert.Len(t, m.Compilands, 2)
}

func TestTypedefsAndConstants(t *testing.T) {
	m, ctx := newTestContext()
	u := m.NewUDT(symt.UDTStruct, "S", 4)
	ctx.AddType(0x1000, u)

	snarf(t, ctx, SymbolOptions{}, nil,
		sym(S_UDT_V3, uint32(0x1000), cstr("S_t")),
		sym(S_UDT_V3, uint32(0), cstr("nothing")),
		sym(S_UDT_V3, uint32(0x1001), cstr("unresolved")),
		sym(S_UDT_V1, uint16(T_INT4), pstr("INT")),
		sym(S_CONSTANT_V2, uint32(T_INT4), uint16(LF_LONG), int32(100000), pstr("K")),
		sym(S_CONSTANT_V1, uint16(T_INT4), uint16(7), pstr("SEVEN")),
		sym(S_CONSTANT_V3, uint32(T_INT4), uint16(1), cstr("V3")),
	)

	var typedefs []string
	for _, typ := range m.Types {
		if td, ok := typ.(*symt.Typedef); ok {
			typedefs = append(typedefs, td.Name+"="+symt.Format(td.Type))
		}
	}
	assert.Equal(t, []string{"S_t=struct S", "INT=int"}, typedefs)

	require.Len(t, m.Constants, 2)
	assert.Equal(t, "K", m.Constants[0].Name)
	assert.Equal(t, int64(100000), m.Constants[0].Value)
	assert.Equal(t, "SEVEN", m.Constants[1].Name)
	assert.Equal(t, int64(7), m.Constants[1].Value)
	assert.Same(t, ctx.GetType(T_INT4, true), m.Constants[1].Type)
}

func TestSnarfSkipsAdvisoryRecords(t *testing.T) {
	m, ctx := newTestContext()
	d := snarf(t, ctx, SymbolOptions{}, nil,
		sym(S_COMPILE3, uint32(0), uint16(0x14c)),
		sym(S_BUILDINFO, uint32(0x1000)),
		sym(S_PROCREF_V3, uint32(0), uint32(0x40), uint16(1), cstr("main")),
		gdata("g", 0),
	)
	assert.Len(t, m.Variables, 1)
	assert.Zero(t, d.Stats.Unknown)
	assert.Equal(t, 2, d.Stats.Skipped)
}
