package pdb

import (
	"debug/pe"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
	"github.com/jtang613/cvsym/pkg/pdb/streams"
)

// Image is what the dispatcher needs from a loaded binary: where it sits,
// its sections and the CodeView blob its debug directory points at.
type Image struct {
	Path     string // its directory is searched for the PDB
	Base     uint64
	Machine  uint16
	Sections []Section
	OMAP     []streams.OMAPEntry
	CodeView []byte
}

// Debug directory entry types.
const (
	debugTypeCodeView    = 2
	debugTypeOMAPToSrc   = 7
	debugTypeOMAPFromSrc = 8
)

const debugDirEntrySize = 28

// DebugDirEntry is one IMAGE_DEBUG_DIRECTORY record.
type DebugDirEntry struct {
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// ParseDebugDirectory splits the raw debug directory into its entries.
func ParseDebugDirectory(data []byte) []DebugDirEntry {
	var out []DebugDirEntry
	c := cursor.New(data)
	for c.Remaining() >= debugDirEntrySize {
		var e DebugDirEntry
		c.Skip(12) // characteristics, timestamp, version
		e.Type, _ = c.U32()
		e.SizeOfData, _ = c.U32()
		e.AddressOfRawData, _ = c.U32()
		e.PointerToRawData, _ = c.U32()
		out = append(out, e)
	}
	return out
}

// ReadImage loads the sections, load base and debug directory payloads of
// a PE file.
func ReadImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	pf, err := pe.NewFile(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse PE headers")
	}
	img := &Image{Path: path, Machine: pf.FileHeader.Machine}

	var debugDir pe.DataDirectory
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.Base = uint64(oh.ImageBase)
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_DEBUG {
			debugDir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_DEBUG]
		}
	case *pe.OptionalHeader64:
		img.Base = oh.ImageBase
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_DEBUG {
			debugDir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_DEBUG]
		}
	}

	for _, s := range pf.Sections {
		img.Sections = append(img.Sections, Section{
			Name:           s.Name,
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
		})
	}
	if debugDir.Size == 0 {
		return img, nil
	}

	raw, err := readRVA(pf, debugDir.VirtualAddress, debugDir.Size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read debug directory")
	}
	for _, e := range ParseDebugDirectory(raw) {
		if e.SizeOfData == 0 {
			continue
		}
		data := make([]byte, e.SizeOfData)
		if _, err := f.ReadAt(data, int64(e.PointerToRawData)); err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "failed to read debug data of type %d", e.Type)
		}
		switch e.Type {
		case debugTypeCodeView:
			if img.CodeView == nil {
				img.CodeView = data
			}
		case debugTypeOMAPFromSrc:
			img.OMAP = streams.ReadOMAP(data)
		}
	}
	return img, nil
}

// readRVA reads size bytes at rva from the section containing it.
func readRVA(pf *pe.File, rva, size uint32) ([]byte, error) {
	for _, s := range pf.Sections {
		if rva < s.VirtualAddress || rva-s.VirtualAddress >= s.Size {
			continue
		}
		buf := make([]byte, size)
		n, err := s.ReadAt(buf, int64(rva-s.VirtualAddress))
		if err != nil && err != io.EOF {
			return nil, err
		}
		return buf[:n], nil
	}
	return nil, errors.Errorf("RVA 0x%x is outside every section", rva)
}
