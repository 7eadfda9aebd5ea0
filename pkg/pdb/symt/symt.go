// Package symt holds the symbol-table entities produced by the CodeView
// decoders and the Sink interface the decoders feed.
package symt

// Tag identifies the kind of a type entity.
type Tag int

const (
	TagBasic Tag = iota
	TagPointer
	TagArray
	TagUDT
	TagEnum
	TagFuncSignature
	TagTypedef
)

var tagNames = map[Tag]string{
	TagBasic:         "basic",
	TagPointer:       "pointer",
	TagArray:         "array",
	TagUDT:           "udt",
	TagEnum:          "enum",
	TagFuncSignature: "function",
	TagTypedef:       "typedef",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return "unknown"
}

// Type is any type entity owned by a Sink.
type Type interface {
	Tag() Tag
	Size() uint64
	TypeName() string
}

// BasicKind classifies built-in types.
type BasicKind int

const (
	BasicVoid BasicKind = iota
	BasicChar
	BasicWChar
	BasicInt
	BasicUInt
	BasicFloat
	BasicBool
	BasicLong
	BasicULong
	BasicHresult
)

// Basic is a built-in scalar type.
type Basic struct {
	Kind     BasicKind
	Name     string
	ByteSize uint64
}

func (b *Basic) Tag() Tag         { return TagBasic }
func (b *Basic) Size() uint64     { return b.ByteSize }
func (b *Basic) TypeName() string { return b.Name }

// Pointer points at another type. To may be nil for an unresolved pointee.
type Pointer struct {
	To       Type
	ByteSize uint64
}

func (p *Pointer) Tag() Tag         { return TagPointer }
func (p *Pointer) Size() uint64     { return p.ByteSize }
func (p *Pointer) TypeName() string { return "" }

// Array is a fixed-length array. Count is zero when the element size
// could not be determined.
type Array struct {
	Element Type
	Index   Type
	Count   uint32
}

func (a *Array) Tag() Tag { return TagArray }

func (a *Array) Size() uint64 {
	if a.Element == nil {
		return 0
	}
	return uint64(a.Count) * a.Element.Size()
}

func (a *Array) TypeName() string { return "" }

// UDTKind distinguishes structures, classes and unions.
type UDTKind int

const (
	UDTStruct UDTKind = iota
	UDTClass
	UDTUnion
)

func (k UDTKind) String() string {
	switch k {
	case UDTClass:
		return "class"
	case UDTUnion:
		return "union"
	default:
		return "struct"
	}
}

// Member is a data member of a UDT. BitSize is the member width in bits;
// BitOffset is counted from the start of the UDT.
type Member struct {
	Name      string
	Type      Type
	BitOffset uint32
	BitSize   uint32
}

// UDT is a user-defined structure, class or union.
type UDT struct {
	Kind     UDTKind
	Name     string
	ByteSize uint64
	Members  []*Member
}

func (u *UDT) Tag() Tag         { return TagUDT }
func (u *UDT) Size() uint64     { return u.ByteSize }
func (u *UDT) TypeName() string { return u.Name }

// Enumerator is one named value of an Enum.
type Enumerator struct {
	Name  string
	Value int64
}

// Enum is an enumeration over an integral base type.
type Enum struct {
	Name   string
	Base   Type
	Values []Enumerator
}

func (e *Enum) Tag() Tag { return TagEnum }

func (e *Enum) Size() uint64 {
	if e.Base == nil {
		return 4
	}
	return e.Base.Size()
}

func (e *Enum) TypeName() string { return e.Name }

// CallConv is the CodeView calling convention byte of a signature.
type CallConv uint8

const (
	CallNearC       CallConv = 0x00
	CallFarC        CallConv = 0x01
	CallNearPascal  CallConv = 0x02
	CallFarPascal   CallConv = 0x03
	CallNearFast    CallConv = 0x04
	CallFarFast     CallConv = 0x05
	CallNearStd     CallConv = 0x07
	CallFarStd      CallConv = 0x08
	CallNearSys     CallConv = 0x09
	CallFarSys      CallConv = 0x0a
	CallThis        CallConv = 0x0b
	CallMips        CallConv = 0x0c
	CallGeneric     CallConv = 0x0d
	CallAlpha       CallConv = 0x0e
	CallPPC         CallConv = 0x0f
	CallSH          CallConv = 0x10
	CallARM         CallConv = 0x11
	CallAM33        CallConv = 0x12
	CallTriCore     CallConv = 0x13
	CallSH5         CallConv = 0x14
	CallM32R        CallConv = 0x15
	CallClrCall     CallConv = 0x16
	CallInline      CallConv = 0x17
	CallNearVector  CallConv = 0x18
	CallSwift       CallConv = 0x19
)

func (c CallConv) String() string {
	switch c {
	case CallNearC, CallFarC:
		return "__cdecl"
	case CallNearPascal, CallFarPascal:
		return "__pascal"
	case CallNearFast, CallFarFast:
		return "__fastcall"
	case CallNearStd, CallFarStd:
		return "__stdcall"
	case CallNearSys, CallFarSys:
		return "__syscall"
	case CallThis:
		return "__thiscall"
	case CallClrCall:
		return "__clrcall"
	case CallNearVector:
		return "__vectorcall"
	default:
		return ""
	}
}

// FuncSignature is a function type. Params holds the ordered, unnamed
// parameter types; an entry is nil when its type did not resolve.
type FuncSignature struct {
	Return Type
	Conv   CallConv
	Params []Type
}

func (f *FuncSignature) Tag() Tag         { return TagFuncSignature }
func (f *FuncSignature) Size() uint64     { return 0 }
func (f *FuncSignature) TypeName() string { return "" }

// Typedef names another type.
type Typedef struct {
	Name string
	Type Type
}

func (t *Typedef) Tag() Tag { return TagTypedef }

func (t *Typedef) Size() uint64 {
	if t.Type == nil {
		return 0
	}
	return t.Type.Size()
}

func (t *Typedef) TypeName() string { return t.Name }

// SourceID identifies a source file registered with a Sink.
type SourceID int

// NoSource is returned when no source file applies.
const NoSource SourceID = -1

// Compiland is a compilation unit (object file).
type Compiland struct {
	Name   string
	Source SourceID
}

// Variable is a global or file-static variable.
type Variable struct {
	Compiland   *Compiland
	Name        string
	Static      bool
	ThreadLocal bool
	Address     uint64
	Type        Type
}

// LocationKind says how a local is addressed.
type LocationKind int

const (
	LocFrameRelative LocationKind = iota
	LocRegister
	LocRegisterRelative
)

// Location is where a local lives: a frame offset, a register, or a
// register plus offset.
type Location struct {
	Kind     LocationKind
	Register uint16
	Offset   int32
}

// Local is a parameter or local variable of a function.
type Local struct {
	Name     string
	Param    bool
	Location Location
	Type     Type
}

// Block is a lexical scope inside a function. Offset is relative to the
// function start.
type Block struct {
	Offset uint32
	Length uint32
	Parent *Block
	Locals []*Local
	Blocks []*Block
}

// PointKind classifies a named code point inside a function.
type PointKind int

const (
	PointDebugStart PointKind = iota
	PointDebugEnd
	PointLabel
)

// Point is a code location inside a function, relative to its start.
type Point struct {
	Kind   PointKind
	Offset uint32
	Name   string
}

// Line maps a function-relative code offset to a source line.
type Line struct {
	Source SourceID
	Line   uint32
	Offset uint32
}

// Function is a procedure with its scopes and line information.
type Function struct {
	Compiland  *Compiland
	Name       string
	Address    uint64
	Length     uint64
	Type       Type
	Locals     []*Local
	Blocks     []*Block
	Points     []Point
	Lines      []Line
	Normalized bool
}

// Thunk is an adjustor, vcall or PCODE trampoline.
type Thunk struct {
	Compiland *Compiland
	Name      string
	Ordinal   uint8
	Address   uint64
	Length    uint64
}

// Public is an entry from the public symbol table.
type Public struct {
	Compiland *Compiland
	Name      string
	Address   uint64
	Function  bool
}

// Constant is a named compile-time constant.
type Constant struct {
	Compiland *Compiland
	Name      string
	Type      Type
	Value     int64
}

// Sink receives every entity the decoders produce. The sink owns the
// returned entities; decoders only keep them as handles.
type Sink interface {
	NewBasic(kind BasicKind, name string, size uint64) *Basic
	NewPointer(to Type, size uint64) *Pointer
	NewArray(elem, index Type, count uint32) *Array
	NewUDT(kind UDTKind, name string, size uint64) *UDT
	SetUDTSize(u *UDT, size uint64)
	FindUDT(name string) *UDT
	AddUDTElement(u *UDT, name string, t Type, bitOffset, bitSize uint32)
	NewEnum(name string, base Type) *Enum
	AddEnumElement(e *Enum, name string, value int64)
	NewFuncSignature(ret Type, conv CallConv) *FuncSignature
	SetFuncSignatureReturn(sig *FuncSignature, ret Type)
	AddFuncSignatureParam(sig *FuncSignature, param Type)
	NewTypedef(t Type, name string) *Typedef

	NewSource(name string) SourceID
	NewCompiland(name string, source SourceID) *Compiland
	NewGlobalVariable(comp *Compiland, name string, static, threadLocal bool, addr uint64, t Type) *Variable
	NewFunction(comp *Compiland, name string, addr, length uint64, t Type) *Function
	AddFuncLine(f *Function, source SourceID, line, offset uint32)
	AddFuncLocal(f *Function, block *Block, local *Local)
	AddFuncPoint(f *Function, kind PointKind, offset uint32, name string)
	OpenBlock(f *Function, parent *Block, offset, length uint32) *Block
	CloseBlock(f *Function, b *Block) *Block
	NormalizeFunction(f *Function)
	NewThunk(comp *Compiland, name string, ordinal uint8, addr, length uint64) *Thunk
	NewPublic(comp *Compiland, name string, addr uint64, function bool) *Public
	NewConstant(comp *Compiland, name string, t Type, value int64) *Constant
}
