package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
)

// Symbols stream versions.
const (
	DBIStreamVersionVC41 = 0
	DBIStreamVersionV50  = 19960307
	DBIStreamVersionV60  = 19970606
	DBIStreamVersionV70  = 19990903
)

// KnownDBIVersion reports whether v is a recognized symbols header version.
func KnownDBIVersion(v uint32) bool {
	switch v {
	case DBIStreamVersionVC41, DBIStreamVersionV50, DBIStreamVersionV60, DBIStreamVersionV70:
		return true
	}
	return false
}

// Machine types
const (
	MachineUnknown = 0x0000
	MachineI386    = 0x014c
	MachineIA64    = 0x0200
	MachineAMD64   = 0x8664
	MachineARM     = 0x01c0
	MachineARM64   = 0xAA64
)

const (
	dbiNewHeaderSize = 64
	dbiOldHeaderSize = 24

	moduleOldSize = 48
	moduleNewSize = 64

	noStreamIndex = 0xFFFF
)

// DBIHeader is the fixed header of the new-style symbols stream.
type DBIHeader struct {
	VersionSignature        int32 // Always -1
	VersionHeader           uint32
	Age                     uint32
	GlobalStreamIndex       uint16
	BuildNumber             uint16
	PublicStreamIndex       uint16
	PdbDllVersion           uint16
	SymRecordStream         uint16 // global symbol records
	PdbDllRbld              uint16
	ModInfoSize             int32
	SectionContributionSize int32
	SectionMapSize          int32
	SourceInfoSize          int32
	TypeServerMapSize       int32 // import table
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   int32
	ECSubstreamSize         int32
	Flags                   uint16
	Machine                 uint16
	Padding                 uint32
}

type dbiHeaderOld struct {
	Hash1File       uint16
	Hash2File       uint16
	SymRecordStream uint16
	Pad             uint16
	ModInfoSize     int32
	SectionContrib  int32
	HashSize        int32
	SourceInfoSize  int32
}

// DBIStream is the parsed symbols stream. Old-style headers are converted
// into the new layout, with the fields they lack left zero.
type DBIStream struct {
	Header          DBIHeader
	Old             bool
	HeaderSize      int
	Modules         []ModuleInfo
	SectionContribs []SectionContrib
	Imports         []Import
	DebugHeader     *OptionalDebugHeader
}

// ModuleInfo describes one compiland of the symbols stream.
type ModuleInfo struct {
	SectionContrib  SectionContrib
	Flags           uint16
	ModuleSymStream uint16 // stream with this module's symbols, 0xFFFF if none
	SymByteSize     uint32 // includes the leading 4-byte signature
	C11ByteSize     uint32 // old-style line table
	C13ByteSize     uint32 // C13 line subsections
	SourceFileCount uint32
	ModuleName      string
	ObjFileName     string
}

// SectionContrib describes a section contribution from a module.
type SectionContrib struct {
	Section         uint16
	Offset          int32
	Size            int32
	Characteristics uint32
	ModuleIndex     uint16
	DataCrc         uint32
	RelocCrc        uint32
}

// Import is an entry of the PDB import table: a sibling PDB whose type
// information this one references.
type Import struct {
	TimeDateStamp uint32
	Age           uint32
	Filename      string
	Extra         string
}

// MatchesFile reports whether the import names the given PDB file,
// ignoring case and directories.
func (imp *Import) MatchesFile(name string) bool {
	return strings.EqualFold(baseName(imp.Filename), baseName(name))
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Optional debug header slots.
const (
	DbgFPO = iota
	DbgException
	DbgFixup
	DbgOmapToSrc
	DbgOmapFromSrc
	DbgSectionHdr
	DbgTokenRidMap
	DbgXdata
	DbgPdata
	DbgNewFPO
	DbgSectionHdrOrig
	dbgSlots
)

// OptionalDebugHeader lists the streams holding auxiliary debug data.
// Absent slots hold 0xFFFF.
type OptionalDebugHeader struct {
	Streams [dbgSlots]uint16
}

// Stream returns the stream index in slot, or -1 when absent.
func (h *OptionalDebugHeader) Stream(slot int) int {
	if h == nil || slot < 0 || slot >= dbgSlots || h.Streams[slot] == noStreamIndex {
		return -1
	}
	return int(h.Streams[slot])
}

// ReadDBIStream parses the symbols stream header and the substreams the
// decoders need.
func ReadDBIStream(data []byte) (*DBIStream, error) {
	if len(data) < 4 {
		return nil, errors.Errorf("DBI stream too small: %d bytes", len(data))
	}

	dbi := &DBIStream{}
	if int32(binary.LittleEndian.Uint32(data)) == -1 {
		if len(data) < dbiNewHeaderSize {
			return nil, errors.Errorf("DBI stream too small: %d bytes", len(data))
		}
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &dbi.Header); err != nil {
			return nil, errors.Wrap(err, "failed to read DBI header")
		}
		dbi.HeaderSize = dbiNewHeaderSize
	} else {
		var old dbiHeaderOld
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &old); err != nil {
			return nil, errors.Wrap(err, "failed to read DBI header")
		}
		dbi.Old = true
		dbi.HeaderSize = dbiOldHeaderSize
		dbi.Header = DBIHeader{
			VersionSignature:        -1,
			GlobalStreamIndex:       old.Hash1File,
			PublicStreamIndex:       old.Hash2File,
			SymRecordStream:         old.SymRecordStream,
			ModInfoSize:             old.ModInfoSize,
			SectionContributionSize: old.SectionContrib,
			SectionMapSize:          old.HashSize,
			SourceInfoSize:          old.SourceInfoSize,
		}
	}

	h := &dbi.Header
	sizes := []int32{
		h.ModInfoSize, h.SectionContributionSize, h.SectionMapSize, h.SourceInfoSize,
		h.TypeServerMapSize, h.ECSubstreamSize, h.OptionalDbgHeaderSize,
	}
	off := dbi.HeaderSize
	var bounds [][2]int
	for _, s := range sizes {
		if s < 0 {
			return nil, errors.Errorf("negative DBI substream size %d", s)
		}
		bounds = append(bounds, [2]int{off, off + int(s)})
		off += int(s)
	}
	sub := func(i int) []byte {
		b := bounds[i]
		if b[1] > len(data) || b[0] == b[1] {
			return nil
		}
		return data[b[0]:b[1]]
	}

	var err error
	if dbi.Modules, err = parseModuleInfo(sub(0), dbi.Old); err != nil {
		return nil, errors.Wrap(err, "failed to parse module info")
	}
	if !dbi.Old {
		dbi.SectionContribs = parseSectionContribs(sub(1))
	}
	dbi.Imports = parseImports(sub(4))
	if hdr := sub(6); hdr != nil {
		dbi.DebugHeader = parseDebugHeader(hdr)
	}
	return dbi, nil
}

// parseModuleInfo walks the module records. Each fixed record is followed
// by the module and object names and padded to 4 bytes.
func parseModuleInfo(data []byte, old bool) ([]ModuleInfo, error) {
	var modules []ModuleInfo
	c := cursor.New(data)
	recSize := moduleNewSize
	if old {
		recSize = moduleOldSize
	}

	for c.Remaining() >= recSize {
		var mod ModuleInfo
		fixed, _ := c.Bytes(recSize)
		fc := cursor.New(fixed)

		fc.Skip(4)
		mod.SectionContrib = readSectionContrib(fc, old)
		mod.Flags, _ = fc.U16()
		mod.ModuleSymStream, _ = fc.U16()
		mod.SymByteSize, _ = fc.U32()
		mod.C11ByteSize, _ = fc.U32()
		if old {
			fc.Skip(4)
			mod.SourceFileCount, _ = fc.U32()
		} else {
			mod.C13ByteSize, _ = fc.U32()
			count, _ := fc.U16()
			mod.SourceFileCount = uint32(count)
		}

		var err error
		if mod.ModuleName, err = c.CString(); err != nil {
			return modules, errors.Wrapf(err, "module %d name", len(modules))
		}
		if mod.ObjFileName, err = c.CString(); err != nil {
			return modules, errors.Wrapf(err, "module %d object name", len(modules))
		}
		c.Align(4)

		modules = append(modules, mod)
	}
	return modules, nil
}

// readSectionContrib reads the 20-byte old or 28-byte new contribution.
func readSectionContrib(c *cursor.Cursor, old bool) SectionContrib {
	var sc SectionContrib
	sc.Section, _ = c.U16()
	c.Skip(2)
	sc.Offset, _ = c.I32()
	sc.Size, _ = c.I32()
	sc.Characteristics, _ = c.U32()
	sc.ModuleIndex, _ = c.U16()
	c.Skip(2)
	if !old {
		sc.DataCrc, _ = c.U32()
		sc.RelocCrc, _ = c.U32()
	}
	return sc
}

const sectionContribV2 = 0xeffe0000 + 20140516

// parseSectionContribs parses the section contribution substream.
func parseSectionContribs(data []byte) []SectionContrib {
	c := cursor.New(data)
	version, err := c.U32()
	if err != nil {
		return nil
	}
	extra := 0
	if version == sectionContribV2 {
		extra = 4
	}

	var contribs []SectionContrib
	for c.Remaining() >= 28+extra {
		contribs = append(contribs, readSectionContrib(c, false))
		c.Skip(extra)
	}
	return contribs
}

// parseImports walks the import table. Entries are a 16-byte header and
// two strings, padded to 4 bytes.
func parseImports(data []byte) []Import {
	var imports []Import
	c := cursor.New(data)
	for c.Remaining() >= 16 {
		var imp Import
		c.Skip(8)
		imp.TimeDateStamp, _ = c.U32()
		imp.Age, _ = c.U32()
		var err error
		if imp.Filename, err = c.CString(); err != nil {
			break
		}
		if imp.Extra, err = c.CString(); err != nil {
			break
		}
		c.Align(4)
		imports = append(imports, imp)
	}
	return imports
}

func parseDebugHeader(data []byte) *OptionalDebugHeader {
	h := &OptionalDebugHeader{}
	c := cursor.New(data)
	for i := range h.Streams {
		v, err := c.U16()
		if err != nil {
			v = noStreamIndex
		}
		h.Streams[i] = v
	}
	return h
}

// MachineTypeName returns the human-readable name for a machine type.
func MachineTypeName(machine uint16) string {
	switch machine {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineARM:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineIA64:
		return "IA64"
	default:
		return fmt.Sprintf("0x%04x", machine)
	}
}

// HasSymbols returns true if the module has symbol information.
func (m *ModuleInfo) HasSymbols() bool {
	return m.ModuleSymStream != noStreamIndex && m.SymByteSize > 0
}
