package codeview

import (
	"bytes"
	"encoding/binary"

	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// pstr and cstr select the string encoding put writes.
type (
	pstr string
	cstr string
)

func put(buf *bytes.Buffer, vals ...interface{}) {
	for _, v := range vals {
		switch s := v.(type) {
		case pstr:
			buf.WriteByte(byte(len(s)))
			buf.WriteString(string(s))
		case cstr:
			buf.WriteString(string(s))
			buf.WriteByte(0)
		case []byte:
			buf.Write(s)
		default:
			if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
				panic(err)
			}
		}
	}
}

func encode(vals ...interface{}) []byte {
	var buf bytes.Buffer
	put(&buf, vals...)
	return buf.Bytes()
}

// record builds a length-prefixed record padded to 4 bytes. Type records
// pad with LF_PAD bytes, symbol records with zeros.
func record(id uint16, typePad bool, vals ...interface{}) []byte {
	body := encode(vals...)
	for (len(body)+4)%4 != 0 {
		if typePad {
			body = append(body, byte(LF_PAD0+(4-(len(body)+4)%4)))
		} else {
			body = append(body, 0)
		}
	}
	return encode(uint16(len(body)+2), id, body)
}

func leaf(id uint16, vals ...interface{}) []byte { return record(id, true, vals...) }

func sym(id uint16, vals ...interface{}) []byte { return record(id, false, vals...) }

// typeTable indexes recs from FirstDefinableType on.
func typeTable(recs ...[]byte) *TypeTable {
	return NewTypeTable(bytes.Join(recs, nil), FirstDefinableType, len(recs))
}

func newTestContext() (*symt.Module, *TypeContext) {
	m := symt.NewModule("test")
	return m, NewTypeContext(m, nil)
}

// mapper places segment n at bases[n-1].
type mapper []uint64

func (m mapper) Address(seg uint16, off uint32) uint64 {
	if seg == 0 || int(seg) > len(m) {
		return 0
	}
	return m[seg-1] + uint64(off)
}

func udtsNamed(m *symt.Module, name string) []*symt.UDT {
	var out []*symt.UDT
	for _, t := range m.Types {
		if u, ok := t.(*symt.UDT); ok && u.Name == name {
			out = append(out, u)
		}
	}
	return out
}
