package codeview

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
)

// CodeView debug directory signatures.
const (
	SignatureNB09 = "NB09"
	SignatureNB10 = "NB10"
	SignatureNB11 = "NB11"
	SignatureRSDS = "RSDS"
)

// OMF subsection kinds.
const (
	sstModule      = 0x120
	sstTypes       = 0x121
	sstPublic      = 0x122
	sstPublicSym   = 0x123
	sstSymbols     = 0x124
	sstAlignSym    = 0x125
	sstSrcLnSeg    = 0x126
	sstSrcModule   = 0x127
	sstLibraries   = 0x128
	sstGlobalSym   = 0x129
	sstGlobalPub   = 0x12a
	sstGlobalTypes = 0x12b
	sstMPC         = 0x12c
	sstSegMap      = 0x12d
	sstSegName     = 0x12e
	sstPreComp     = 0x12f
	sstFileIndex   = 0x133
	sstStaticSym   = 0x134
)

var subsectionNames = map[uint16]string{
	sstModule: "sstModule", sstTypes: "sstTypes", sstPublic: "sstPublic",
	sstPublicSym: "sstPublicSym", sstSymbols: "sstSymbols", sstAlignSym: "sstAlignSym",
	sstSrcLnSeg: "sstSrcLnSeg", sstSrcModule: "sstSrcModule", sstLibraries: "sstLibraries",
	sstGlobalSym: "sstGlobalSym", sstGlobalPub: "sstGlobalPub", sstGlobalTypes: "sstGlobalTypes",
	sstMPC: "sstMPC", sstSegMap: "sstSegMap", sstSegName: "sstSegName", sstPreComp: "sstPreComp",
	sstFileIndex: "sstFileIndex", sstStaticSym: "sstStaticSym",
}

// OMFDirEntry locates one subsection. Offsets are relative to the start
// of the CodeView blob.
type OMFDirEntry struct {
	SubSection uint16
	Module     uint16
	Offset     int32
	Size       uint32
}

// Kind returns the subsection kind name.
func (e OMFDirEntry) Kind() string {
	if s, ok := subsectionNames[e.SubSection]; ok {
		return s
	}
	return "sst?"
}

// OMFDirectory is the subsection directory of an NB09/NB11 blob.
type OMFDirectory struct {
	Signature string
	Entries   []OMFDirEntry
}

// ParseOMFDirectory reads the signature, the directory header and its
// entries from blob.
func ParseOMFDirectory(blob []byte) (*OMFDirectory, error) {
	c := cursor.New(blob)
	sig, err := c.Bytes(4)
	if err != nil {
		return nil, errors.Wrap(err, "codeview signature")
	}
	dir := &OMFDirectory{Signature: string(sig)}
	if dir.Signature != SignatureNB09 && dir.Signature != SignatureNB11 {
		return nil, errors.Errorf("not an OMF directory: %q", dir.Signature)
	}
	filepos, err := c.I32()
	if err != nil {
		return nil, errors.Wrap(err, "directory position")
	}
	if err := c.Seek(int(filepos)); err != nil {
		return nil, errors.Wrap(err, "directory header")
	}
	r := newRecReader(c)
	cbDirHeader := int(r.u16())
	cbDirEntry := int(r.u16())
	cDir := int(r.u32())
	if r.err != nil {
		return nil, errors.Wrap(r.err, "directory header")
	}
	if cbDirEntry < 12 {
		return nil, errors.Errorf("directory entry size %d too small", cbDirEntry)
	}
	if cDir > (len(blob)-int(filepos))/cbDirEntry {
		return nil, errors.Errorf("directory declares %d entries beyond the blob", cDir)
	}

	base := int(filepos) + cbDirHeader
	for i := 0; i < cDir; i++ {
		if err := c.Seek(base + i*cbDirEntry); err != nil {
			return dir, errors.Wrapf(err, "directory entry %d", i)
		}
		var e OMFDirEntry
		e.SubSection = r.u16()
		e.Module = r.u16()
		e.Offset = r.i32()
		e.Size = r.u32()
		if r.err != nil {
			return dir, errors.Wrapf(r.err, "directory entry %d", i)
		}
		dir.Entries = append(dir.Entries, e)
	}
	return dir, nil
}

// Data returns the bytes of entry i, or nil when they fall outside blob.
func (d *OMFDirectory) Data(blob []byte, i int) []byte {
	e := d.Entries[i]
	start := int(e.Offset)
	end := start + int(e.Size)
	if start < 0 || end < start || end > len(blob) {
		return nil
	}
	return blob[start:end]
}

// lineTableFor finds the source-module subsection paired with the symbols
// at entry i: the next entry, or failing that the previous one, when it
// belongs to the same module.
func (d *OMFDirectory) lineTableFor(i int) int {
	mod := d.Entries[i].Module
	if j := i + 1; j < len(d.Entries) && d.Entries[j].Module == mod && d.Entries[j].SubSection == sstSrcModule {
		return j
	}
	if j := i - 1; j >= 0 && d.Entries[j].Module == mod && d.Entries[j].SubSection == sstSrcModule {
		return j
	}
	return -1
}

// ParseOMFGlobalTypes indexes an sstGlobalTypes subsection. Its record
// offsets are relative to the record area that follows them.
func ParseOMFGlobalTypes(data []byte) (*TypeTable, error) {
	c := cursor.New(data)
	c.Skip(4) // flags
	count, err := c.U32()
	if err != nil {
		return nil, errors.Wrap(err, "global types header")
	}
	if int(count) > c.Remaining()/4 {
		return nil, errors.Errorf("global types declares %d offsets", count)
	}
	offsets := make([]uint32, count)
	for i := range offsets {
		offsets[i], _ = c.U32()
	}
	return NewOffsetTypeTable(data[c.Offset():], FirstDefinableType, offsets), nil
}

// OMFStats summarizes one ProcessOMF pass.
type OMFStats struct {
	Types   TypeStats
	Symbols SymbolStats
	Modules int
}

// ProcessOMF decodes an NB09/NB11 blob embedded in an image: the global
// types first, then each aligned-symbols subsection with the line table
// of its module. The type registrations of ctx are dropped afterwards.
func ProcessOMF(blob []byte, ctx *TypeContext, addr AddressMapper, opts SymbolOptions) (OMFStats, error) {
	var stats OMFStats
	dir, err := ParseOMFDirectory(blob)
	if err != nil {
		return stats, err
	}
	defer ctx.Reset()
	if err := ctx.SelectModule(0); err != nil {
		return stats, err
	}
	log := ctx.log.With(zap.String("format", dir.Signature))

	for i, e := range dir.Entries {
		if e.SubSection != sstGlobalTypes {
			continue
		}
		table, err := ParseOMFGlobalTypes(dir.Data(blob, i))
		if err != nil {
			log.Warn("failed to parse global types", zap.Error(err))
			break
		}
		stats.Types = ParseTypeTable(ctx, table)
		break
	}

	dec := NewSymbolDecoder(ctx, addr, opts)
	for i, e := range dir.Entries {
		if e.SubSection != sstAlignSym {
			continue
		}
		data := dir.Data(blob, i)
		if data == nil {
			log.Warn("symbol subsection outside the blob", zap.Uint16("module", e.Module))
			continue
		}
		var lines LineTable
		if j := dir.lineTableFor(i); j >= 0 {
			lines, err = ParseLineTable(dir.Data(blob, j), true, ctx.sink)
			if err != nil {
				log.Warn("failed to parse line table", zap.Uint16("module", e.Module), zap.Error(err))
			}
		}
		dec.Snarf(data, 4, len(data), lines)
		stats.Modules++
	}
	stats.Symbols = dec.Stats
	return stats, nil
}
