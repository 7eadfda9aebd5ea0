package codeview

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
)

// Numeric is a decoded numeric leaf.
type Numeric struct {
	Value int64
	Len   int    // bytes consumed, including the leading tag
	Kind  uint16 // leaf tag, or the literal value when below LF_NUMERIC
	Exact bool   // false when a real, complex or string leaf was read as zero
}

// numericPayload is the payload size following each wide numeric leaf.
var numericPayload = map[uint16]int{
	LF_CHAR:       1,
	LF_SHORT:      2,
	LF_USHORT:     2,
	LF_LONG:       4,
	LF_ULONG:      4,
	LF_REAL32:     4,
	LF_REAL48:     6,
	LF_REAL64:     8,
	LF_REAL80:     10,
	LF_REAL128:    16,
	LF_QUADWORD:   8,
	LF_UQUADWORD:  8,
	LF_COMPLEX32:  8,
	LF_COMPLEX64:  16,
	LF_COMPLEX80:  20,
	LF_COMPLEX128: 32,
}

// ParseNumeric decodes the numeric leaf at the start of data. Values below
// LF_NUMERIC are the tag itself. Real, complex and string leaves decode to
// zero with Exact unset; their length is still honored so the caller stays
// in sync.
func ParseNumeric(data []byte) (Numeric, error) {
	if len(data) < 2 {
		return Numeric{}, errors.Wrap(cursor.ErrOutOfRange, "numeric leaf tag")
	}
	tag := binary.LittleEndian.Uint16(data)
	if tag < LF_NUMERIC {
		return Numeric{Value: int64(tag), Len: 2, Kind: tag, Exact: true}, nil
	}

	n := Numeric{Kind: tag, Len: 2, Exact: true}
	p := data[2:]
	if tag == LF_VARSTRING {
		if len(p) < 2 {
			return n, errors.Wrap(cursor.ErrOutOfRange, "varstring length")
		}
		n.Len += 2 + int(binary.LittleEndian.Uint16(p))
		n.Exact = false
		if n.Len > len(data) {
			return n, errors.Wrap(cursor.ErrOutOfRange, "varstring")
		}
		return n, nil
	}

	size, ok := numericPayload[tag]
	if !ok {
		return n, errors.Errorf("unknown numeric leaf 0x%04x", tag)
	}
	if len(p) < size {
		return n, errors.Wrapf(cursor.ErrOutOfRange, "numeric leaf 0x%04x", tag)
	}
	n.Len += size

	switch tag {
	case LF_CHAR:
		n.Value = int64(int8(p[0]))
	case LF_SHORT:
		n.Value = int64(int16(binary.LittleEndian.Uint16(p)))
	case LF_USHORT:
		n.Value = int64(binary.LittleEndian.Uint16(p))
	case LF_LONG:
		n.Value = int64(int32(binary.LittleEndian.Uint32(p)))
	case LF_ULONG:
		n.Value = int64(binary.LittleEndian.Uint32(p))
	case LF_QUADWORD, LF_UQUADWORD:
		n.Value = int64(binary.LittleEndian.Uint64(p))
	default:
		n.Exact = false
	}
	return n, nil
}

// readNumeric decodes a numeric leaf at the cursor and advances past it.
func readNumeric(c *cursor.Cursor) (Numeric, error) {
	n, err := ParseNumeric(c.Data()[c.Offset():])
	if err != nil {
		return n, err
	}
	return n, c.Skip(n.Len)
}
