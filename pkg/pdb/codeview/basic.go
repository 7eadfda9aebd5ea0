package codeview

import "github.com/jtang613/cvsym/pkg/pdb/symt"

// FirstDefinableType is the first type index that names a record of the
// types table. Lower indices are built-in types.
const FirstDefinableType = 0x1000

// Built-in type indices. Bits 8-11 of an index below FirstDefinableType
// carry a pointer mode.
const (
	T_NOTYPE  = 0x0000
	T_ABS     = 0x0001
	T_VOID    = 0x0003
	T_HRESULT = 0x0008

	T_CHAR  = 0x0010
	T_SHORT = 0x0011
	T_LONG  = 0x0012
	T_QUAD  = 0x0013

	T_UCHAR  = 0x0020
	T_USHORT = 0x0021
	T_ULONG  = 0x0022
	T_UQUAD  = 0x0023

	T_BOOL08 = 0x0030
	T_BOOL16 = 0x0031
	T_BOOL32 = 0x0032
	T_BOOL64 = 0x0033

	T_REAL32 = 0x0040
	T_REAL64 = 0x0041
	T_REAL80 = 0x0042

	T_INT1   = 0x0068
	T_UINT1  = 0x0069
	T_RCHAR  = 0x0070
	T_WCHAR  = 0x0071
	T_INT2   = 0x0072
	T_UINT2  = 0x0073
	T_INT4   = 0x0074
	T_UINT4  = 0x0075
	T_INT8   = 0x0076
	T_UINT8  = 0x0077
	T_CHAR16 = 0x007a
	T_CHAR32 = 0x007b
)

// Pointer modes.
const (
	TM_DIRECT  = 0
	TM_NPTR    = 1
	TM_FPTR    = 2
	TM_HPTR    = 3
	TM_NPTR32  = 4
	TM_FPTR32  = 5
	TM_NPTR64  = 6
	TM_NPTR128 = 7
)

type basicDef struct {
	kind symt.BasicKind
	name string
	size uint64
}

var basicDefs = map[uint32]basicDef{
	T_VOID:    {symt.BasicVoid, "void", 0},
	T_HRESULT: {symt.BasicHresult, "HRESULT", 4},
	T_CHAR:    {symt.BasicChar, "char", 1},
	T_SHORT:   {symt.BasicInt, "short int", 2},
	T_LONG:    {symt.BasicLong, "long int", 4},
	T_QUAD:    {symt.BasicInt, "long long int", 8},
	T_UCHAR:   {symt.BasicUInt, "unsigned char", 1},
	T_USHORT:  {symt.BasicUInt, "unsigned short", 2},
	T_ULONG:   {symt.BasicULong, "unsigned long", 4},
	T_UQUAD:   {symt.BasicUInt, "unsigned long long", 8},
	T_BOOL08:  {symt.BasicBool, "BOOL08", 1},
	T_BOOL16:  {symt.BasicBool, "BOOL16", 2},
	T_BOOL32:  {symt.BasicBool, "BOOL32", 4},
	T_BOOL64:  {symt.BasicBool, "BOOL64", 8},
	T_REAL32:  {symt.BasicFloat, "float", 4},
	T_REAL64:  {symt.BasicFloat, "double", 8},
	T_REAL80:  {symt.BasicFloat, "long double", 10},
	T_INT1:    {symt.BasicInt, "int8", 1},
	T_UINT1:   {symt.BasicUInt, "uint8", 1},
	T_RCHAR:   {symt.BasicInt, "signed char", 1},
	T_WCHAR:   {symt.BasicWChar, "wchar_t", 2},
	T_INT2:    {symt.BasicInt, "int16", 2},
	T_UINT2:   {symt.BasicUInt, "uint16", 2},
	T_INT4:    {symt.BasicInt, "int", 4},
	T_UINT4:   {symt.BasicUInt, "unsigned int", 4},
	T_INT8:    {symt.BasicInt, "int64", 8},
	T_UINT8:   {symt.BasicUInt, "uint64", 8},
	T_CHAR16:  {symt.BasicWChar, "char16_t", 2},
	T_CHAR32:  {symt.BasicUInt, "char32_t", 4},
}

// pointerModeSize is the pointer width of each mode.
var pointerModeSize = [...]uint64{
	TM_NPTR:    2,
	TM_FPTR:    4,
	TM_HPTR:    4,
	TM_NPTR32:  4,
	TM_FPTR32:  6,
	TM_NPTR64:  8,
	TM_NPTR128: 16,
}

// basicTypes lazily materializes built-in types in a sink. A given index
// always yields the same handle.
type basicTypes struct {
	sink  symt.Sink
	cache map[uint32]symt.Type
}

func newBasicTypes(sink symt.Sink) *basicTypes {
	return &basicTypes{sink: sink, cache: make(map[uint32]symt.Type)}
}

// get returns the built-in type for idx, or nil for T_NOTYPE, T_ABS and
// unknown indices.
func (b *basicTypes) get(idx uint32) symt.Type {
	if idx >= FirstDefinableType {
		return nil
	}
	if t, ok := b.cache[idx]; ok {
		return t
	}

	base := idx & 0xff
	mode := (idx >> 8) & 0xf
	def, ok := basicDefs[base]
	if !ok || mode >= uint32(len(pointerModeSize)) {
		return nil
	}

	var t symt.Type
	if mode == TM_DIRECT {
		t = b.sink.NewBasic(def.kind, def.name, def.size)
	} else {
		to := b.get(base)
		t = b.sink.NewPointer(to, pointerModeSize[mode])
	}
	b.cache[idx] = t
	return t
}
