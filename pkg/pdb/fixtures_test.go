package pdb

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jtang613/cvsym/pkg/pdb/codeview"
	"github.com/jtang613/cvsym/pkg/pdb/msf"
	"github.com/jtang613/cvsym/pkg/pdb/msf/msftest"
)

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

func align4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func sym(id uint16, vals ...interface{}) []byte {
	body := align4(append(encode(uint16(0), id), encode(vals...)...))
	binary.LittleEndian.PutUint16(body, uint16(len(body)-2))
	return body
}

func leaf(id uint16, vals ...interface{}) []byte {
	body := encode(uint16(0), id, encode(vals...))
	for len(body)%4 != 0 {
		body = append(body, byte(codeview.LF_PAD0+4-len(body)%4))
	}
	binary.LittleEndian.PutUint16(body, uint16(len(body)-2))
	return body
}

// namedStreams encodes a root-stream name map with every entry present.
func namedStreams(names map[string]uint32) []byte {
	var strs bytes.Buffer
	var entries [][2]uint32
	for name, idx := range names {
		entries = append(entries, [2]uint32{uint32(strs.Len()), idx})
		put(&strs, cstr(name))
	}
	var buf bytes.Buffer
	put(&buf, uint32(strs.Len()), strs.Bytes(), uint32(len(entries)), uint32(len(entries)))
	put(&buf, uint32(1), uint32(1<<len(entries)-1), uint32(0))
	for _, e := range entries {
		put(&buf, e[0], e[1])
	}
	return buf.Bytes()
}

func dsRoot(guid [16]byte, age uint32, names map[string]uint32) []byte {
	return encode(uint32(20000404), uint32(0x5f000000), age, guid[:], namedStreams(names))
}

func jgRoot(stamp, age uint32) []byte {
	return encode(uint32(19970604), stamp, age, namedStreams(nil))
}

// typesStream lays out a new-style types header over recs.
func typesStream(recs ...[]byte) []byte {
	data := bytes.Join(recs, nil)
	return encode(uint32(20040203), uint32(56), uint32(0x1000), uint32(0x1000+len(recs)), uint32(len(data)),
		uint16(0xffff), uint16(0xffff), make([]byte, 32), data)
}

// oldTypesStream lays out the compact header used by JG files.
func oldTypesStream(recs ...[]byte) []byte {
	data := bytes.Join(recs, nil)
	return encode(uint32(19950410), uint16(0x1000), uint16(0x1000+len(recs)), uint32(len(data)),
		uint16(0xffff), uint16(0), data)
}

type module struct {
	name    string
	stream  uint16
	symbols int
	c11     int
	c13     int
}

// moduleStream prefixes the CodeView signature and reports the sizes the
// module record must carry.
func moduleStream(symbols []byte, c11, c13 []byte) ([]byte, int) {
	syms := append(encode(uint32(4)), symbols...)
	return bytes.Join([][]byte{syms, c11, c13}, nil), len(syms)
}

type dbiLayout struct {
	machine  uint16
	gsym     uint16
	modules  []module
	imports  []streamsImport
	debugHdr map[int]uint16
}

type streamsImport struct {
	stamp, age uint32
	name       string
}

func dbiStream(l dbiLayout) []byte {
	var mods bytes.Buffer
	for _, m := range l.modules {
		put(&mods, uint32(0), make([]byte, 28), uint16(0), m.stream, uint32(m.symbols), uint32(m.c11),
			uint32(m.c13), uint16(0), uint16(0), uint32(0), uint32(0), uint32(0), cstr(m.name), cstr(m.name))
		for mods.Len()%4 != 0 {
			mods.WriteByte(0)
		}
	}
	var imps bytes.Buffer
	for _, imp := range l.imports {
		put(&imps, uint32(0), uint32(0), imp.stamp, imp.age, cstr(imp.name), cstr(""))
		for imps.Len()%4 != 0 {
			imps.WriteByte(0)
		}
	}
	var dbg bytes.Buffer
	if l.debugHdr != nil {
		for i := 0; i < 11; i++ {
			idx, ok := l.debugHdr[i]
			if !ok {
				idx = 0xffff
			}
			put(&dbg, idx)
		}
	}

	var buf bytes.Buffer
	put(&buf, int32(-1), uint32(19990903), uint32(1), uint16(0xffff), uint16(0), uint16(0xffff), uint16(0),
		l.gsym, uint16(0), int32(mods.Len()), int32(0), int32(0), int32(0), int32(imps.Len()), uint32(0),
		int32(dbg.Len()), int32(0), uint16(0), l.machine, uint32(0))
	put(&buf, mods.Bytes(), imps.Bytes(), dbg.Bytes())
	return buf.Bytes()
}

// oldDBIStream lays out the JG symbols header with old module records.
func oldDBIStream(gsym uint16, modules []module) []byte {
	var mods bytes.Buffer
	for _, m := range modules {
		put(&mods, uint32(0), make([]byte, 20), uint16(0), m.stream, uint32(m.symbols), uint32(m.c11),
			uint32(0), uint32(0), uint32(0), cstr(m.name), cstr(m.name))
		for mods.Len()%4 != 0 {
			mods.WriteByte(0)
		}
	}
	return encode(uint16(0), uint16(0), gsym, uint16(0), int32(mods.Len()), int32(0), int32(0), int32(0),
		mods.Bytes())
}

func sectionHeaders(vas ...uint32) []byte {
	var buf bytes.Buffer
	for i, va := range vas {
		var name [8]byte
		copy(name[:], []string{".text", ".data", ".rdata"}[i%3])
		put(&buf, name[:], uint32(0x1000), va, uint32(0x200), uint32(0), uint32(0), uint32(0),
			uint16(0), uint16(0), uint32(0))
	}
	return buf.Bytes()
}

func container(t *testing.T, img []byte) *msf.Container {
	t.Helper()
	c, err := msf.NewContainer(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)
	return c
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

var testGUID = [16]byte{0x33, 0x22, 0x11, 0x00, 0x55, 0x44, 0x77, 0x66, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

func rsds(guid [16]byte, age uint32, name string) []byte {
	return encode([]byte(codeview.SignatureRSDS), guid[:], age, cstr(name))
}

func nb10(stamp, age uint32, name string) []byte {
	return encode([]byte(codeview.SignatureNB10), uint32(0), stamp, age, cstr(name))
}

// scenarioPDB is a DS file with one compiland holding a global int and a
// function taking two ints. Sections start at 0x1000 and 0x3000.
func scenarioPDB() []byte {
	types := typesStream(
		leaf(codeview.LF_ARGLIST_V2, uint32(2), uint32(codeview.T_INT4), uint32(codeview.T_INT4)),
		leaf(codeview.LF_PROCEDURE_V2, uint32(codeview.T_INT4), uint8(0), uint8(0), uint16(2), uint32(0x1000)),
	)
	symbols := bytes.Join([][]byte{
		sym(codeview.S_OBJNAME_V3, uint32(0), cstr("main.obj")),
		sym(codeview.S_GDATA_V3, uint32(codeview.T_INT4), uint32(0x10), uint16(2), cstr("counter")),
		sym(codeview.S_GPROC_V3, uint32(0), uint32(0), uint32(0), uint32(0x20), uint32(0), uint32(0x1f),
			uint32(0x1001), uint32(0x40), uint16(1), uint8(0), cstr("add")),
		sym(codeview.S_END_V1),
	}, nil)
	modData, symSize := moduleStream(symbols, nil, nil)
	gsym := sym(codeview.S_PUB_V3, uint32(2), uint32(0x40), uint16(1), cstr("_add"))

	return msftest.New(msf.FormatDS, 512).
		Set(1, dsRoot(testGUID, 1, nil)).
		Set(2, types).
		Set(3, dbiStream(dbiLayout{
			machine:  0x14c,
			gsym:     5,
			modules:  []module{{name: "main.obj", stream: 6, symbols: symSize}},
			debugHdr: map[int]uint16{5: 7},
		})).
		Set(5, gsym).
		Set(6, modData).
		Set(7, sectionHeaders(0x1000, 0x3000)).
		Bytes()
}
