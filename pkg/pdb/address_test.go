package pdb

import (
	"debug/pe"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/cvsym/pkg/pdb/msf"
	"github.com/jtang613/cvsym/pkg/pdb/msf/msftest"
	"github.com/jtang613/cvsym/pkg/pdb/streams"
	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

func TestSectionsFromHeaders(t *testing.T) {
	var h pe.SectionHeader32
	copy(h.Name[:], ".textbss")
	h.VirtualAddress = 0x1000
	h.VirtualSize = 0x234

	got := SectionsFromHeaders(append([]pe.SectionHeader32{h}, pe.SectionHeader32{Name: [8]uint8{'.', 'd'}}))
	want := []Section{
		{Name: ".textbss", VirtualAddress: 0x1000, VirtualSize: 0x234},
		{Name: ".d"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestAddressMap(t *testing.T) {
	sections := []Section{
		{VirtualAddress: 0x1000},
		{VirtualAddress: 0x3000},
		{VirtualAddress: 0x800},
		{VirtualAddress: 0x4000},
	}
	omap := []streams.OMAPEntry{
		{From: 0x1000, To: 0x5000},
		{From: 0x1100, To: 0},
		{From: 0x2000, To: 0x6000},
		{From: 0x4000, To: 0},
	}

	tests := []struct {
		name string
		omap []streams.OMAPEntry
		seg  uint16
		off  uint32
		want uint64
	}{
		{name: "segment zero", seg: 0, off: 0x10, want: 0},
		{name: "past sections", seg: 5, off: 0x10, want: 0},
		{name: "first section", seg: 1, off: 0x10, want: 0x401010},
		{name: "second section", seg: 2, off: 0x24, want: 0x403024},
		{name: "omap moved", omap: omap, seg: 1, off: 0x10, want: 0x405010},
		{name: "omap dropped range", omap: omap, seg: 1, off: 0x100, want: 0},
		{name: "omap later range", omap: omap, seg: 2, off: 0x10, want: 0x407010},
		{name: "omap before first entry", omap: omap, seg: 3, off: 0, want: 0},
		{name: "omap terminator", omap: omap, seg: 4, off: 0x10, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &AddressMap{Base: 0x400000, Sections: sections, OMAP: tt.omap}
			assert.Equal(t, tt.want, m.Address(tt.seg, tt.off))
		})
	}
}

func TestLoadAddressMapPrefersOriginalSections(t *testing.T) {
	data := msftest.New(msf.FormatDS, 512).
		Set(1, dsRoot(testGUID, 1, nil)).
		Set(3, dbiStream(dbiLayout{gsym: 0xffff, debugHdr: map[int]uint16{
			streams.DbgOmapFromSrc:    4,
			streams.DbgSectionHdr:     5,
			streams.DbgSectionHdrOrig: 6,
		}})).
		Set(4, encode(uint32(0x1000), uint32(0x8000), uint32(0x2000), uint32(0))).
		Set(5, sectionHeaders(0x7000)).
		Set(6, sectionHeaders(0x1000)).
		Bytes()
	c := container(t, data)
	stream, err := c.Stream(streams.StreamSymbols)
	require.NoError(t, err)
	dbi, err := streams.ReadDBIStream(stream)
	require.NoError(t, err)

	p := newPass(&Image{Base: 0x400000}, symt.NewModule("x"), Options{Locator: isolatedLocator(t)}, &Report{})
	p.loadAddressMap(c, dbi)

	assert.Equal(t, []streams.OMAPEntry{{From: 0x1000, To: 0x8000}, {From: 0x2000, To: 0}}, p.mapper.OMAP)
	require.Len(t, p.mapper.Sections, 1)
	assert.Equal(t, uint32(0x1000), p.mapper.Sections[0].VirtualAddress)
	assert.Equal(t, uint64(0x408010), p.mapper.Address(1, 0x10))
	assert.NoError(t, p.report.Skipped)
}

func TestLoadAddressMapKeepsImageSections(t *testing.T) {
	data := msftest.New(msf.FormatDS, 512).
		Set(1, dsRoot(testGUID, 1, nil)).
		Set(3, dbiStream(dbiLayout{gsym: 0xffff, debugHdr: map[int]uint16{streams.DbgSectionHdr: 4}})).
		Set(4, sectionHeaders(0x7000)).
		Bytes()
	c := container(t, data)
	stream, err := c.Stream(streams.StreamSymbols)
	require.NoError(t, err)
	dbi, err := streams.ReadDBIStream(stream)
	require.NoError(t, err)

	img := &Image{Sections: []Section{{Name: ".text", VirtualAddress: 0x2000}}}
	p := newPass(img, symt.NewModule("x"), Options{Locator: isolatedLocator(t)}, &Report{})
	p.loadAddressMap(c, dbi)
	assert.Equal(t, uint64(0x2010), p.mapper.Address(1, 0x10))
	assert.Empty(t, p.mapper.OMAP)
}
