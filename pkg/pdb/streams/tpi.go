package streams

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
)

// Types stream versions.
const (
	TypesVersion40  = 19950410
	TypesVersion41  = 19951122
	TypesVersion50  = 19961031
	TypesVersionV70 = 19990903
	TypesVersionV80 = 20040203
)

// Headers older than this use the compact 16-byte layout.
const typesNewHeaderVersion = 19960000

const (
	typesOldHeaderSize = 16
	typesNewHeaderSize = 56
)

// KnownTypesVersion reports whether v is a recognized types header version.
func KnownTypesVersion(v uint32) bool {
	switch v {
	case TypesVersion40, TypesVersion41, TypesVersion50, TypesVersionV70, TypesVersionV80:
		return true
	}
	return false
}

// TypesHeader is the normalized header of the types stream.
type TypesHeader struct {
	Version    uint32
	HeaderSize uint32 // offset of the first record
	First      uint32 // first type index
	Last       uint32 // one past the last type index
	TypeSize   uint32 // bytes of record data
	HashStream uint16
}

type typesHeaderNew struct {
	Version                 uint32
	HeaderSize              uint32
	TypeIndexBegin          uint32
	TypeIndexEnd            uint32
	TypeRecordBytes         uint32
	HashStreamIndex         uint16
	HashAuxStreamIndex      uint16
	HashKeySize             uint32
	NumHashBuckets          uint32
	HashValueBufferOffset   int32
	HashValueBufferLength   uint32
	IndexOffsetBufferOffset int32
	IndexOffsetBufferLength uint32
	HashAdjBufferOffset     int32
	HashAdjBufferLength     uint32
}

// ReadTypesHeader parses either header layout, keyed on the version field.
func ReadTypesHeader(data []byte) (*TypesHeader, error) {
	c := cursor.New(data)
	version, err := c.U32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read types version")
	}

	if version < typesNewHeaderVersion {
		h := &TypesHeader{Version: version, HeaderSize: typesOldHeaderSize}
		first, err := c.U16()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read types header")
		}
		last, err := c.U16()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read types header")
		}
		if h.TypeSize, err = c.U32(); err != nil {
			return nil, errors.Wrap(err, "failed to read types header")
		}
		if h.HashStream, err = c.U16(); err != nil {
			return nil, errors.Wrap(err, "failed to read types header")
		}
		h.First, h.Last = uint32(first), uint32(last)
		return h, nil
	}

	var hdr typesHeaderNew
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "failed to read types header")
	}
	if hdr.HeaderSize < typesNewHeaderSize {
		hdr.HeaderSize = typesNewHeaderSize
	}
	return &TypesHeader{
		Version:    hdr.Version,
		HeaderSize: hdr.HeaderSize,
		First:      hdr.TypeIndexBegin,
		Last:       hdr.TypeIndexEnd,
		TypeSize:   hdr.TypeRecordBytes,
		HashStream: hdr.HashStreamIndex,
	}, nil
}

// Count returns the number of type records the header declares.
func (h *TypesHeader) Count() int {
	if h.Last <= h.First {
		return 0
	}
	return int(h.Last - h.First)
}

// Records returns the record area of the stream, clamped to the data
// actually present.
func (h *TypesHeader) Records(data []byte) []byte {
	start := int(h.HeaderSize)
	if start > len(data) {
		return nil
	}
	end := start + int(h.TypeSize)
	if end > len(data) || end < start {
		end = len(data)
	}
	return data[start:end]
}
