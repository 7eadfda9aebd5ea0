package codeview

import (
	"go.uber.org/zap"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// recReader reads record fields and keeps the first error, so a record
// decoder can read every field and check once. With a logger, numeric
// leaves approximated to zero are reported.
type recReader struct {
	c   *cursor.Cursor
	err error
	log *zap.Logger
}

func newRecReader(c *cursor.Cursor) *recReader { return &recReader{c: c} }

func (r *recReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.U8()
	r.err = err
	return v
}

func (r *recReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.U16()
	r.err = err
	return v
}

func (r *recReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.U32()
	r.err = err
	return v
}

func (r *recReader) i32() int32 { return int32(r.u32()) }

// index reads a 16-bit (V1) or 32-bit type index.
func (r *recReader) index(wide bool) uint32 {
	if wide {
		return r.u32()
	}
	return uint32(r.u16())
}

func (r *recReader) numeric() Numeric {
	if r.err != nil {
		return Numeric{}
	}
	n, err := readNumeric(r.c)
	r.err = err
	if err == nil && !n.Exact && r.log != nil {
		r.log.Warn("approximated numeric leaf", zap.Uint16("leaf", n.Kind))
	}
	return n
}

func (r *recReader) name(pascal bool) string {
	if r.err != nil {
		return ""
	}
	s, err := r.c.String(pascal)
	r.err = err
	return s
}

func (r *recReader) skip(n int) {
	if r.err == nil {
		r.err = r.c.Skip(n)
	}
}

// Canonical shapes of the type records. Each reader accepts every
// generation of its record kind.

type modifierRec struct {
	typ  uint32
	attr uint16
}

func readModifier(id uint16, r *recReader) modifierRec {
	var m modifierRec
	if id == LF_MODIFIER_V1 {
		m.attr = r.u16()
		m.typ = uint32(r.u16())
	} else {
		m.typ = r.u32()
		m.attr = r.u16()
	}
	return m
}

type pointerRec struct {
	pointee uint32
	attr    uint32
}

// size returns the pointer width the attributes encode, or 0 when they
// leave it to the context.
func (p pointerRec) size() uint64 {
	if s := (p.attr >> 13) & 0x3f; s != 0 {
		return uint64(s)
	}
	switch p.attr & 0x1f {
	case 0x0c:
		return 8
	case 0x0a, 0x0b:
		return 4
	}
	return 0
}

func readPointer(id uint16, r *recReader) pointerRec {
	var p pointerRec
	if id == LF_POINTER_V1 {
		p.attr = uint32(r.u16())
		p.pointee = uint32(r.u16())
		// V1 attributes have no size field.
		p.attr &= 0x1fff
	} else {
		p.pointee = r.u32()
		p.attr = r.u32()
	}
	return p
}

type arrayRec struct {
	elem   uint32
	index  uint32
	length int64
	name   string
}

func readArray(id uint16, r *recReader) arrayRec {
	var a arrayRec
	wide := id != LF_ARRAY_V1
	a.elem = r.index(wide)
	a.index = r.index(wide)
	a.length = r.numeric().Value
	a.name = r.name(id != LF_ARRAY_V3)
	return a
}

// Property bits shared by struct, union and enum records.
const (
	propForwardRef = 0x80
)

type udtRec struct {
	kind      symt.UDTKind
	fieldList uint32
	property  uint16
	size      int64
	name      string
}

func (u udtRec) forward() bool { return u.property&propForwardRef != 0 }

func readUDT(id uint16, r *recReader) udtRec {
	var u udtRec
	switch id {
	case LF_CLASS_V1, LF_CLASS_V2, LF_CLASS_V3:
		u.kind = symt.UDTClass
	case LF_UNION_V1, LF_UNION_V2, LF_UNION_V3:
		u.kind = symt.UDTUnion
	default:
		u.kind = symt.UDTStruct
	}

	r.u16() // member count
	switch id {
	case LF_STRUCTURE_V1, LF_CLASS_V1:
		u.fieldList = uint32(r.u16())
		u.property = r.u16()
		r.skip(4) // derived, vshape
	case LF_UNION_V1:
		u.fieldList = uint32(r.u16())
		u.property = r.u16()
	case LF_UNION_V2, LF_UNION_V3:
		u.property = r.u16()
		u.fieldList = r.u32()
	default:
		u.property = r.u16()
		u.fieldList = r.u32()
		r.skip(8) // derived, vshape
	}
	u.size = r.numeric().Value

	pascal := true
	switch id {
	case LF_STRUCTURE_V3, LF_CLASS_V3, LF_UNION_V3:
		pascal = false
	}
	u.name = normalizeUDTName(r.name(pascal))
	return u
}

func normalizeUDTName(name string) string {
	switch name {
	case "__unnamed", "<unnamed-tag>":
		return ""
	}
	return name
}

type enumRec struct {
	base      uint32
	fieldList uint32
	property  uint16
	name      string
}

func readEnum(id uint16, r *recReader) enumRec {
	var e enumRec
	r.u16() // count
	if id == LF_ENUM_V1 {
		e.base = uint32(r.u16())
		e.fieldList = uint32(r.u16())
		e.property = r.u16()
	} else {
		e.property = r.u16()
		e.base = r.u32()
		e.fieldList = r.u32()
	}
	e.name = r.name(id != LF_ENUM_V3)
	return e
}

type procRec struct {
	ret     uint32
	conv    symt.CallConv
	params  uint16
	argList uint32
}

func readProc(id uint16, r *recReader) procRec {
	var p procRec
	wide := id == LF_PROCEDURE_V2 || id == LF_MFUNCTION_V2
	p.ret = r.index(wide)
	if id == LF_MFUNCTION_V1 || id == LF_MFUNCTION_V2 {
		r.index(wide) // class
		r.index(wide) // this
	}
	p.conv = symt.CallConv(r.u8())
	r.u8()
	p.params = r.u16()
	p.argList = r.index(wide)
	return p
}
