package pdb

import (
	"debug/pe"
	"sort"

	"github.com/jtang613/cvsym/pkg/pdb/streams"
)

// Section is the part of a section header needed to place symbols.
type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
}

// SectionsFromHeaders converts raw section headers, as stored in a PDB's
// section header stream.
func SectionsFromHeaders(hdrs []pe.SectionHeader32) []Section {
	out := make([]Section, len(hdrs))
	for i, h := range hdrs {
		out[i] = Section{
			Name:           sectionName(h.Name),
			VirtualAddress: h.VirtualAddress,
			VirtualSize:    h.VirtualSize,
		}
	}
	return out
}

func sectionName(raw [8]uint8) string {
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

// AddressMap places segment:offset pairs in the loaded image. Segment n is
// Sections[n-1]. When OMAP is set, section-relative addresses are
// translated through it before the base is added.
type AddressMap struct {
	Base     uint64
	Sections []Section
	OMAP     []streams.OMAPEntry
}

// Address implements codeview.AddressMapper. It returns 0 for segment 0, for
// segments past the section table and for addresses the OMAP drops.
func (m *AddressMap) Address(seg uint16, off uint32) uint64 {
	if seg == 0 || int(seg) > len(m.Sections) {
		return 0
	}
	rva := m.Sections[seg-1].VirtualAddress + off
	if len(m.OMAP) > 0 {
		var ok bool
		if rva, ok = m.translate(rva); !ok {
			return 0
		}
	}
	return m.Base + uint64(rva)
}

// translate maps rva through the OMAP. The entry covering rva is the last
// one starting at or below it; the final entry only terminates the table.
func (m *AddressMap) translate(rva uint32) (uint32, bool) {
	i := sort.Search(len(m.OMAP), func(i int) bool { return m.OMAP[i].From > rva }) - 1
	if i < 0 || i >= len(m.OMAP)-1 {
		return 0, false
	}
	e := m.OMAP[i]
	if e.To == 0 {
		return 0, false
	}
	return e.To + (rva - e.From), true
}
