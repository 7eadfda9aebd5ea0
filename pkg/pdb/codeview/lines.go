package codeview

import (
	"github.com/pkg/errors"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// LineSegment maps the code of one source file within one segment range
// to line numbers. Offsets and Lines are parallel; offsets are segment
// relative.
type LineSegment struct {
	Segment uint16
	Start   uint32
	End     uint32
	Source  symt.SourceID
	Offsets []uint32
	Lines   []uint32
}

// Contains reports whether off in seg falls in the segment's range.
func (s *LineSegment) Contains(seg uint16, off uint32) bool {
	return s.Segment == seg && off >= s.Start && off < s.End
}

// LineTable is the flat list of line segments of one compiland.
type LineTable []LineSegment

// Find returns the segments containing (seg, off) in table order.
func (lt LineTable) Find(seg uint16, off uint32) []*LineSegment {
	var out []*LineSegment
	for i := range lt {
		if lt[i].Contains(seg, off) {
			out = append(out, &lt[i])
		}
	}
	return out
}

// ParseLineTable decodes an old-style CodeView line table: a file table
// whose entries list per-segment ranges, each pointing at parallel offset
// and line arrays. File names are Pascal strings when pascal is set, C
// strings otherwise. Sources are registered with sink.
func ParseLineTable(data []byte, pascal bool, sink symt.Sink) (LineTable, error) {
	c := cursor.New(data)
	nfile, err := c.U16()
	if err != nil {
		return nil, errors.Wrap(err, "line table header")
	}
	c.Skip(2)
	files := make([]uint32, nfile)
	for i := range files {
		if files[i], err = c.U32(); err != nil {
			return nil, errors.Wrap(err, "line table file offsets")
		}
	}

	var table LineTable
	for i, foff := range files {
		segs, err := parseLineFile(data, foff, pascal, sink)
		if err != nil {
			return table, errors.Wrapf(err, "line table file %d", i)
		}
		table = append(table, segs...)
	}
	return table, nil
}

func parseLineFile(data []byte, foff uint32, pascal bool, sink symt.Sink) ([]LineSegment, error) {
	c := cursor.New(data)
	if err := c.Seek(int(foff)); err != nil {
		return nil, err
	}
	r := newRecReader(c)
	nseg := int(r.u16())
	r.skip(2)
	segOffsets := make([]uint32, 0, nseg)
	for k := 0; k < nseg; k++ {
		segOffsets = append(segOffsets, r.u32())
	}
	ranges := make([][2]uint32, 0, nseg)
	for k := 0; k < nseg; k++ {
		ranges = append(ranges, [2]uint32{r.u32(), r.u32()})
	}
	name := r.name(pascal)
	if r.err != nil {
		return nil, r.err
	}
	source := sink.NewSource(name)

	segs := make([]LineSegment, 0, nseg)
	for k, soff := range segOffsets {
		sc := cursor.New(data)
		if err := sc.Seek(int(soff)); err != nil {
			return segs, err
		}
		sr := newRecReader(sc)
		seg := LineSegment{
			Segment: sr.u16(),
			Start:   ranges[k][0],
			End:     ranges[k][1],
			Source:  source,
		}
		nline := int(sr.u16())
		if sr.err == nil && sc.Remaining() < nline*6 {
			return segs, errors.Wrapf(cursor.ErrOutOfRange, "segment %d declares %d lines", k, nline)
		}
		seg.Offsets = make([]uint32, nline)
		seg.Lines = make([]uint32, nline)
		for j := range seg.Offsets {
			seg.Offsets[j] = sr.u32()
		}
		for j := range seg.Lines {
			seg.Lines[j] = uint32(sr.u16())
		}
		if sr.err != nil {
			return segs, sr.err
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// C13 debug subsection kinds.
const (
	DEBUG_S_IGNORE      = 0x80000000
	DEBUG_S_SYMBOLS     = 0xf1
	DEBUG_S_LINES       = 0xf2
	DEBUG_S_STRINGTABLE = 0xf3
	DEBUG_S_FILECHKSMS  = 0xf4
)

// StringLookup resolves an offset into a string table.
type StringLookup interface {
	String(offset uint32) string
}

// ParseC13Lines decodes the line subsections of a module stream. File ids
// are resolved through the checksums subsection and names. The result has
// the same shape as an old-style line table, one segment per file block.
func ParseC13Lines(data []byte, names StringLookup, sink symt.Sink) (LineTable, error) {
	subs, err := c13Subsections(data)
	if err != nil && len(subs) == 0 {
		return nil, err
	}

	var checksums []byte
	for _, s := range subs {
		if s.kind == DEBUG_S_FILECHKSMS {
			checksums = s.data
		}
	}
	sources := make(map[uint32]symt.SourceID)
	source := func(fileID uint32) symt.SourceID {
		if id, ok := sources[fileID]; ok {
			return id
		}
		id := symt.NoSource
		if int(fileID)+4 <= len(checksums) {
			c := cursor.New(checksums[fileID:])
			off, _ := c.U32()
			id = sink.NewSource(names.String(off))
		}
		sources[fileID] = id
		return id
	}

	var table LineTable
	for _, s := range subs {
		if s.kind != DEBUG_S_LINES {
			continue
		}
		segs, lerr := parseC13Lines(s.data, source)
		table = append(table, segs...)
		if lerr != nil {
			return table, lerr
		}
	}
	return table, err
}

type c13Subsection struct {
	kind uint32
	data []byte
}

func c13Subsections(data []byte) ([]c13Subsection, error) {
	var subs []c13Subsection
	c := cursor.New(data)
	for c.Remaining() >= 8 {
		kind, _ := c.U32()
		size, _ := c.U32()
		body, err := c.Bytes(int(size))
		if err != nil {
			return subs, errors.Wrapf(err, "subsection 0x%x", kind)
		}
		c.Align(4)
		if kind&DEBUG_S_IGNORE != 0 {
			continue
		}
		subs = append(subs, c13Subsection{kind: kind, data: body})
	}
	return subs, nil
}

func parseC13Lines(data []byte, source func(uint32) symt.SourceID) ([]LineSegment, error) {
	c := cursor.New(data)
	r := newRecReader(c)
	offCon := r.u32()
	segCon := r.u16()
	r.u16() // flags; column records are skipped with the rest of each block
	cbCon := r.u32()
	if r.err != nil {
		return nil, errors.Wrap(r.err, "lines header")
	}

	var segs []LineSegment
	for c.Remaining() >= 12 {
		start := c.Offset()
		fileID := r.u32()
		nline := r.u32()
		cbBlock := r.u32()
		if cbBlock < 12 || int(cbBlock) > c.Len()-start {
			return segs, errors.Errorf("line block at %d declares %d bytes", start, cbBlock)
		}
		if uint64(nline)*8 > uint64(cbBlock-12) {
			return segs, errors.Errorf("line block at %d declares %d lines in %d bytes", start, nline, cbBlock)
		}
		seg := LineSegment{
			Segment: segCon,
			Start:   offCon,
			End:     offCon + cbCon,
			Source:  source(fileID),
			Offsets: make([]uint32, 0, nline),
			Lines:   make([]uint32, 0, nline),
		}
		for i := uint32(0); i < nline; i++ {
			off := r.u32()
			lf := r.u32()
			seg.Offsets = append(seg.Offsets, offCon+off)
			seg.Lines = append(seg.Lines, lf&0x00ffffff)
		}
		if r.err != nil {
			return segs, r.err
		}
		segs = append(segs, seg)
		if err := c.Seek(start + int(cbBlock)); err != nil {
			return segs, err
		}
	}
	return segs, nil
}
