package streams

import (
	"debug/pe"

	"github.com/pkg/errors"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
)

const namesSignature = 0xEFFEEFFE

// NamesStreamName is the named stream holding the string table used by C13
// file checksums.
const NamesStreamName = "/names"

// StringTable is the "/names" stream: a buffer of NUL-terminated strings
// addressed by byte offset.
type StringTable struct {
	Version uint32
	buf     []byte
}

// ReadStringTable parses the "/names" stream header and keeps its buffer.
func ReadStringTable(data []byte) (*StringTable, error) {
	c := cursor.New(data)
	sig, err := c.U32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read string table signature")
	}
	if sig != namesSignature {
		return nil, errors.Errorf("invalid string table signature 0x%08x", sig)
	}
	st := &StringTable{}
	if st.Version, err = c.U32(); err != nil {
		return nil, errors.Wrap(err, "failed to read string table version")
	}
	size, err := c.U32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read string table size")
	}
	if st.buf, err = c.Bytes(int(size)); err != nil {
		return nil, errors.Wrap(err, "failed to read string table")
	}
	return st, nil
}

// String returns the string at offset, or "" when the offset is invalid.
func (st *StringTable) String(offset uint32) string {
	if st == nil || int(offset) >= len(st.buf) {
		return ""
	}
	return extractCString(st.buf[offset:])
}

// OMAPEntry maps an address range starting at From to To. A To of zero
// marks a range that has no counterpart.
type OMAPEntry struct {
	From uint32
	To   uint32
}

// ReadOMAP decodes an OMAP stream into its sorted entries.
func ReadOMAP(data []byte) []OMAPEntry {
	c := cursor.New(data)
	entries := make([]OMAPEntry, 0, len(data)/8)
	for c.Remaining() >= 8 {
		from, _ := c.U32()
		to, _ := c.U32()
		entries = append(entries, OMAPEntry{From: from, To: to})
	}
	return entries
}

const sectionHeaderSize = 40

// ReadSectionHeaders decodes a stream of PE section headers.
func ReadSectionHeaders(data []byte) []pe.SectionHeader32 {
	c := cursor.New(data)
	var headers []pe.SectionHeader32
	for c.Remaining() >= sectionHeaderSize {
		var sh pe.SectionHeader32
		name, _ := c.Bytes(8)
		copy(sh.Name[:], name)
		sh.VirtualSize, _ = c.U32()
		sh.VirtualAddress, _ = c.U32()
		sh.SizeOfRawData, _ = c.U32()
		sh.PointerToRawData, _ = c.U32()
		sh.PointerToRelocations, _ = c.U32()
		sh.PointerToLineNumbers, _ = c.U32()
		sh.NumberOfRelocations, _ = c.U16()
		sh.NumberOfLineNumbers, _ = c.U16()
		sh.Characteristics, _ = c.U32()
		headers = append(headers, sh)
	}
	return headers
}
