package codeview

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// maxListChain bounds LF_INDEX continuations of one member list.
const maxListChain = 256

// openFieldList positions a cursor after the header of a field list.
func (d *TypeDecoder) openFieldList(idx uint32) (*cursor.Cursor, error) {
	rec, ok := d.table.Record(idx)
	if !ok {
		return nil, errors.Errorf("cannot locate field list 0x%x", idx)
	}
	c := cursor.New(rec)
	c.Skip(2)
	id, _ := c.U16()
	if id != LF_FIELDLIST_V1 && id != LF_FIELDLIST_V2 {
		return nil, errors.Errorf("type 0x%x is %s, not a field list", idx, LeafKindName(id))
	}
	return c, nil
}

// skipPadding consumes LF_PAD bytes and reports whether a member follows.
func skipPadding(c *cursor.Cursor) bool {
	for c.Remaining() > 0 {
		b := c.Data()[c.Offset()]
		if b < LF_PAD0 {
			return c.Remaining() >= 2
		}
		n := int(b & 0x0f)
		if n == 0 {
			n = 1
		}
		if c.Skip(n) != nil {
			return false
		}
	}
	return false
}

func (d *TypeDecoder) addStructFields(u *symt.UDT, list uint32) {
	for chain := 0; list != 0; chain++ {
		if chain == maxListChain {
			d.log.Warn("field list chain too long", zap.String("udt", u.Name))
			return
		}
		next, err := d.walkStructFields(u, list)
		if err != nil {
			d.log.Warn("failed to walk field list",
				zap.String("udt", u.Name), zap.Uint32("index", list), zap.Error(err))
			return
		}
		list = next
	}
}

// walkStructFields adds the data members of one field list record and
// returns its continuation, if any. Members the sink does not model are
// decoded only far enough to be skipped.
func (d *TypeDecoder) walkStructFields(u *symt.UDT, list uint32) (uint32, error) {
	c, err := d.openFieldList(list)
	if err != nil {
		return 0, err
	}
	r := d.reader(c)
	for skipPadding(c) {
		start := c.Offset()
		id := r.u16()
		switch id {
		case LF_MEMBER_V1, LF_MEMBER_V2, LF_MEMBER_V3:
			r.u16() // attributes
			typ := r.index(id != LF_MEMBER_V1)
			off := r.numeric().Value
			name := r.name(id != LF_MEMBER_V3)
			if r.err == nil {
				d.addMember(u, name, off, typ)
			}

		case LF_BCLASS_V1, LF_BCLASS_V2:
			r.u16()
			r.index(id == LF_BCLASS_V2)
			r.numeric()

		case LF_VBCLASS_V1, LF_IVBCLASS_V1, LF_VBCLASS_V2, LF_IVBCLASS_V2:
			wide := id == LF_VBCLASS_V2 || id == LF_IVBCLASS_V2
			r.u16()
			r.index(wide)
			r.index(wide)
			r.numeric()
			r.numeric()

		case LF_STMEMBER_V1, LF_STMEMBER_V2, LF_STMEMBER_V3:
			r.u16()
			r.index(id != LF_STMEMBER_V1)
			r.name(id != LF_STMEMBER_V3)

		case LF_METHOD_V1, LF_METHOD_V2, LF_METHOD_V3:
			r.u16() // overload count
			r.index(id != LF_METHOD_V1)
			r.name(id != LF_METHOD_V3)

		case LF_NESTTYPE_V1:
			r.u16()
			r.name(true)
		case LF_NESTTYPE_V2, LF_NESTTYPE_V3:
			r.skip(2)
			r.u32()
			r.name(id == LF_NESTTYPE_V2)

		case LF_VFUNCTAB_V1, LF_FRIENDCLS_V1:
			r.u16()
		case LF_VFUNCTAB_V2, LF_FRIENDCLS_V2:
			r.skip(2)
			r.u32()

		case LF_FRIENDFCN_V1:
			r.u16()
			r.name(true)
		case LF_FRIENDFCN_V2:
			r.skip(2)
			r.u32()
			r.name(true)

		case LF_VFUNCOFF_V1:
			r.u16()
			r.u32()
		case LF_VFUNCOFF_V2:
			r.skip(2)
			r.u32()
			r.u32()

		case LF_ONEMETHOD_V1, LF_ONEMETHOD_V2, LF_ONEMETHOD_V3:
			attr := r.u16()
			r.index(id != LF_ONEMETHOD_V1)
			// Introducing virtuals carry their vtable offset.
			if mprop := (attr >> 2) & 7; mprop == 4 || mprop == 6 {
				r.u32()
			}
			r.name(id != LF_ONEMETHOD_V3)

		case LF_INDEX_V1:
			next := uint32(r.u16())
			return next, r.err
		case LF_INDEX_V2:
			r.skip(2)
			next := r.u32()
			return next, r.err

		default:
			return 0, errors.Errorf("unhandled member %s in field list 0x%x: %s",
				LeafKindName(id), list, Dump(c.Data()[start:]))
		}
		if r.err != nil {
			return 0, errors.Wrapf(r.err, "member %s at offset %d", LeafKindName(id), start)
		}
	}
	return 0, nil
}

// addMember adds one data member. A member typed by a bitfield record
// takes its position and width from it; otherwise the width is the size of
// the member type. Members whose type cannot be resolved are kept untyped.
func (d *TypeDecoder) addMember(u *symt.UDT, name string, off int64, typ uint32) {
	sink := d.ctx.sink
	if rec, ok := d.table.Record(typ); ok {
		c := cursor.New(rec)
		c.Skip(2)
		id, _ := c.U16()
		r := d.reader(c)
		var base uint32
		var nbits, bitoff uint8
		switch id {
		case LF_BITFIELD_V1:
			nbits, bitoff = r.u8(), r.u8()
			base = uint32(r.u16())
		case LF_BITFIELD_V2:
			base = r.u32()
			nbits, bitoff = r.u8(), r.u8()
		}
		if id == LF_BITFIELD_V1 || id == LF_BITFIELD_V2 {
			if r.err != nil {
				d.log.Warn("truncated bitfield", zap.Uint32("index", typ), zap.Error(r.err))
			}
			sink.AddUDTElement(u, name, d.Fetch(base, false), uint32(off<<3)+uint32(bitoff), uint32(nbits))
			return
		}
	}

	sub := d.Fetch(typ, false)
	var size uint64
	if sub != nil {
		size = sub.Size()
	}
	sink.AddUDTElement(u, name, sub, uint32(off<<3), uint32(size<<3))
}

func (d *TypeDecoder) addEnumValues(e *symt.Enum, list uint32) {
	for chain := 0; list != 0; chain++ {
		if chain == maxListChain {
			d.log.Warn("enumerator list chain too long", zap.String("enum", e.Name))
			return
		}
		next, err := d.walkEnumValues(e, list)
		if err != nil {
			d.log.Warn("failed to walk enumerator list",
				zap.String("enum", e.Name), zap.Uint32("index", list), zap.Error(err))
			return
		}
		list = next
	}
}

func (d *TypeDecoder) walkEnumValues(e *symt.Enum, list uint32) (uint32, error) {
	c, err := d.openFieldList(list)
	if err != nil {
		return 0, err
	}
	r := d.reader(c)
	for skipPadding(c) {
		start := c.Offset()
		id := r.u16()
		switch id {
		case LF_ENUMERATE_V1, LF_ENUMERATE_V3:
			r.u16()
			v := r.numeric()
			name := r.name(id == LF_ENUMERATE_V1)
			if r.err == nil {
				d.ctx.sink.AddEnumElement(e, name, v.Value)
			}
		case LF_INDEX_V1:
			next := uint32(r.u16())
			return next, r.err
		case LF_INDEX_V2:
			r.skip(2)
			next := r.u32()
			return next, r.err
		default:
			return 0, errors.Errorf("unhandled member %s in enumerator list 0x%x: %s",
				LeafKindName(id), list, Dump(c.Data()[start:]))
		}
		if r.err != nil {
			return 0, errors.Wrapf(r.err, "member %s at offset %d", LeafKindName(id), start)
		}
	}
	return 0, nil
}
