package codeview

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// ValidFirstType reports whether idx can start a types table: at least
// FirstDefinableType and free of a module slot byte.
func ValidFirstType(idx uint32) bool {
	return idx >= FirstDefinableType && idx>>24 == 0
}

// maxFetchDepth bounds nested on-demand decoding of referenced records.
const maxFetchDepth = 64

// TypeStats counts the outcome of decoding a types table.
type TypeStats struct {
	Decoded     int
	Unsupported int
	Failed      int
}

// TypeDecoder decodes the records of one types table into the sink of its
// context, registering each under its own index. Records referenced before
// their turn are decoded on demand.
type TypeDecoder struct {
	Stats TypeStats

	ctx   *TypeContext
	table *TypeTable
	log   *zap.Logger
	depth int
}

// NewTypeDecoder returns a decoder over table registering into ctx's
// current module.
func NewTypeDecoder(ctx *TypeContext, table *TypeTable) *TypeDecoder {
	return &TypeDecoder{ctx: ctx, table: table, log: ctx.log}
}

// ParseTable decodes every record that can be referenced from symbols.
// Lists, bitfields and numeric leaves are only decoded through the records
// that use them.
func (d *TypeDecoder) ParseTable() {
	for i := 0; i < d.table.Len(); i++ {
		idx := d.table.First() + uint32(i)
		rec, ok := d.table.Record(idx)
		if !ok {
			d.log.Debug("type record out of range", zap.Uint32("index", idx))
			continue
		}
		if !IsTopLevelLeaf(binary.LittleEndian.Uint16(rec[2:])) {
			continue
		}
		d.depth = 0
		d.parseOne(idx, rec, true)
	}
}

// Fetch resolves idx, decoding its record when it is not registered yet.
// With details, the member lists of the decoded record are walked too.
func (d *TypeDecoder) Fetch(idx uint32, details bool) symt.Type {
	if idx == 0 {
		return nil
	}
	if t := d.ctx.GetType(idx, true); t != nil {
		return t
	}
	rec, ok := d.table.Record(idx)
	if !ok {
		d.log.Warn("cannot locate type", zap.Uint32("index", idx))
		return nil
	}
	if d.depth >= maxFetchDepth {
		d.log.Warn("type references nest too deeply", zap.Uint32("index", idx))
		return nil
	}
	d.depth++
	defer func() { d.depth-- }()

	t := d.parseOne(idx, rec, details)
	if t == nil {
		d.log.Warn("could not load forward type", zap.Uint32("index", idx))
	}
	return t
}

func (d *TypeDecoder) reader(c *cursor.Cursor) *recReader {
	return &recReader{c: c, log: d.log}
}

func (d *TypeDecoder) parseOne(idx uint32, rec []byte, details bool) symt.Type {
	c := cursor.New(rec)
	c.Skip(2)
	id, err := c.U16()
	if err != nil {
		d.Stats.Failed++
		return nil
	}
	r := d.reader(c)
	existing := d.ctx.GetType(idx, true)

	var t symt.Type
	switch id {
	case LF_MODIFIER_V1, LF_MODIFIER_V2:
		m := readModifier(id, r)
		if r.err == nil {
			d.log.Debug("dropping type modifier", zap.Uint32("index", idx), zap.Uint16("attr", m.attr))
			t = d.Fetch(m.typ, details)
		}

	case LF_POINTER_V1, LF_POINTER_V2:
		p := readPointer(id, r)
		if r.err == nil {
			t, err = d.pointer(existing, p)
		}

	case LF_ARRAY_V1, LF_ARRAY_V2, LF_ARRAY_V3:
		if existing != nil {
			t, err = cast[*symt.Array](existing)
			break
		}
		a := readArray(id, r)
		if r.err == nil {
			t = d.array(a)
		}

	case LF_STRUCTURE_V1, LF_STRUCTURE_V2, LF_STRUCTURE_V3,
		LF_CLASS_V1, LF_CLASS_V2, LF_CLASS_V3,
		LF_UNION_V1, LF_UNION_V2, LF_UNION_V3:
		u := readUDT(id, r)
		if r.err == nil {
			t, err = d.udt(idx, existing, u, details)
		}

	case LF_ENUM_V1, LF_ENUM_V2, LF_ENUM_V3:
		e := readEnum(id, r)
		if r.err == nil {
			t, err = d.enum(idx, existing, e, details)
		}

	case LF_PROCEDURE_V1, LF_PROCEDURE_V2, LF_MFUNCTION_V1, LF_MFUNCTION_V2:
		p := readProc(id, r)
		if r.err == nil {
			t, err = d.signature(idx, existing, p, details)
		}

	case LF_VTSHAPE_V1:
		if existing != nil {
			t, err = cast[*symt.UDT](existing)
			break
		}
		t = d.ctx.sink.NewUDT(symt.UDTStruct, fmt.Sprintf("__internal_vt_shape_%x", idx), 0)

	default:
		d.Stats.Unsupported++
		d.log.Warn("unsupported type leaf",
			zap.Uint32("index", idx),
			zap.String("leaf", LeafKindName(id)),
			zap.String("dump", Dump(rec)))
		return nil
	}

	if r.err != nil {
		err = r.err
	}
	if err != nil {
		d.Stats.Failed++
		d.log.Warn("failed to decode type record",
			zap.Uint32("index", idx),
			zap.String("leaf", LeafKindName(id)),
			zap.Error(err))
		return nil
	}
	if t == nil {
		return nil
	}
	d.ctx.AddType(idx, t)
	d.Stats.Decoded++
	return t
}

func cast[T symt.Type](t symt.Type) (T, error) {
	v, ok := t.(T)
	if !ok {
		var zero T
		return zero, errors.Errorf("index already holds a %s, wanted %T", t.Tag(), zero)
	}
	return v, nil
}

func (d *TypeDecoder) pointer(existing symt.Type, p pointerRec) (symt.Type, error) {
	if existing != nil {
		return cast[*symt.Pointer](existing)
	}
	size := p.size()
	if size == 0 {
		size = d.ctx.PointerSize
	}
	return d.ctx.sink.NewPointer(d.Fetch(p.pointee, false), size), nil
}

func (d *TypeDecoder) array(a arrayRec) symt.Type {
	elem := d.Fetch(a.elem, false)
	index := d.Fetch(a.index, false)
	var count uint32
	if elem != nil && elem.Size() > 0 && a.length > 0 {
		count = uint32(uint64(a.length) / elem.Size())
	}
	return d.ctx.sink.NewArray(elem, index, count)
}

// udt reuses the UDT registered under idx, or one of the same name when
// this record completes a forward declaration, and creates one otherwise.
func (d *TypeDecoder) udt(idx uint32, existing symt.Type, u udtRec, details bool) (symt.Type, error) {
	sink := d.ctx.sink
	var udt *symt.UDT
	if existing != nil {
		var err error
		if udt, err = cast[*symt.UDT](existing); err != nil {
			return nil, err
		}
		if !u.forward() && udt.ByteSize == 0 && u.size > 0 {
			sink.SetUDTSize(udt, uint64(u.size))
		}
	} else if prev := sink.FindUDT(u.name); prev != nil && prev.Kind == u.kind {
		switch {
		case u.forward():
			udt = prev
		case prev.ByteSize == 0:
			sink.SetUDTSize(prev, uint64(u.size))
			udt = prev
		}
	}
	if udt == nil {
		udt = sink.NewUDT(u.kind, u.name, uint64(max(u.size, 0)))
	}

	if details {
		d.ctx.AddType(idx, udt)
		if !u.forward() && d.ctx.markDetailed(idx) {
			d.addStructFields(udt, u.fieldList)
		}
	}
	return udt, nil
}

func (d *TypeDecoder) enum(idx uint32, existing symt.Type, e enumRec, details bool) (symt.Type, error) {
	var enum *symt.Enum
	if existing != nil {
		var err error
		if enum, err = cast[*symt.Enum](existing); err != nil {
			return nil, err
		}
	} else {
		enum = d.ctx.sink.NewEnum(e.name, d.Fetch(e.base, false))
	}
	if details {
		d.ctx.AddType(idx, enum)
		if e.property&propForwardRef == 0 && d.ctx.markDetailed(idx) {
			d.addEnumValues(enum, e.fieldList)
		}
	}
	return enum, nil
}

// signature creates the function type. Return and parameter types are
// only resolved with details, so lazily decoded signatures never recurse
// through their own argument lists.
func (d *TypeDecoder) signature(idx uint32, existing symt.Type, p procRec, details bool) (symt.Type, error) {
	var sig *symt.FuncSignature
	if existing != nil {
		var err error
		if sig, err = cast[*symt.FuncSignature](existing); err != nil {
			return nil, err
		}
	} else {
		sig = d.ctx.sink.NewFuncSignature(nil, p.conv)
	}
	if !details {
		return sig, nil
	}

	d.ctx.AddType(idx, sig)
	if !d.ctx.markDetailed(idx) {
		return sig, nil
	}
	d.ctx.sink.SetFuncSignatureReturn(sig, d.Fetch(p.ret, false))
	if p.argList == 0 {
		return sig, nil
	}
	rec, ok := d.table.Record(p.argList)
	if !ok {
		d.log.Warn("cannot locate argument list", zap.Uint32("index", p.argList))
		return sig, nil
	}
	c := cursor.New(rec)
	c.Skip(2)
	id, _ := c.U16()
	r := d.reader(c)
	var count uint32
	switch id {
	case LF_ARGLIST_V1:
		count = uint32(r.u16())
	case LF_ARGLIST_V2:
		count = r.u32()
	default:
		d.log.Warn("unexpected leaf for signature parameters",
			zap.Uint32("index", p.argList), zap.String("leaf", LeafKindName(id)))
		return sig, nil
	}
	for i := uint32(0); i < count; i++ {
		arg := r.index(id == LF_ARGLIST_V2)
		if r.err != nil {
			d.log.Warn("truncated argument list", zap.Uint32("index", p.argList), zap.Error(r.err))
			break
		}
		d.ctx.sink.AddFuncSignatureParam(sig, d.Fetch(arg, false))
	}
	return sig, nil
}

// ParseTypeTable decodes a whole types table into ctx's current module and
// returns the decoder's counters. A table whose first index is not a plain
// definable index is not decoded.
func ParseTypeTable(ctx *TypeContext, table *TypeTable) TypeStats {
	if !ValidFirstType(table.First()) {
		ctx.log.Warn("types table starts outside the definable range", zap.Uint32("first", table.First()))
		return TypeStats{}
	}
	d := NewTypeDecoder(ctx, table)
	d.ParseTable()
	return d.Stats
}
