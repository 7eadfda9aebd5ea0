// Package msf reads the block-based container underneath PDB files. Both
// generations are supported: the PDB 2.00 "JG" layout with 16-bit block
// numbers and the MSF 7.00 "DS" layout with 32-bit block numbers.
package msf

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
)

// Format is the on-disk generation of a PDB container.
type Format int

const (
	FormatJG Format = iota + 1
	FormatDS
)

func (f Format) String() string {
	switch f {
	case FormatJG:
		return "JG"
	case FormatDS:
		return "DS"
	default:
		return "unknown"
	}
}

// Magic signatures, bit exact.
var (
	MagicJG = []byte("Microsoft C/C++ program database 2.00\r\n\x1aJG\x00\x00")
	MagicDS = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")
)

// ErrUnsupportedFormat is returned when a file carries neither magic.
var ErrUnsupportedFormat = errors.New("unsupported PDB format")

// ValidBlockSizes are the block sizes accepted in either header.
var ValidBlockSizes = []uint32{512, 1024, 2048, 4096, 8192, 16384, 32768}

const (
	jgHeaderSize = 60 // up to and excluding the TOC block list
	dsHeaderSize = 56
)

// Header is the fixed container header common to both generations.
type Header struct {
	Format       Format
	BlockSize    uint32
	FreeBlockMap uint32 // free-list block (JG) or active FPM block (DS)
	NumBlocks    uint32 // total allocated blocks
	TOCSize      uint32 // size of the stream directory in bytes
	Unknown      uint32
	BlockMapAddr uint32   // DS only: block holding the directory block list
	TOCBlocks    []uint32 // blocks holding the stream directory, in order
}

// NumTOCBlocks returns the number of blocks spanned by the stream directory.
func (h *Header) NumTOCBlocks() uint32 {
	return blockCount(h.TOCSize, h.BlockSize)
}

func blockCount(size, blockSize uint32) uint32 {
	if size == 0 || size == 0xFFFFFFFF {
		return 0
	}
	return (size + blockSize - 1) / blockSize
}

// DetectFormat identifies the container generation from the leading bytes.
func DetectFormat(head []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(head, MagicJG):
		return FormatJG, nil
	case bytes.HasPrefix(head, MagicDS):
		return FormatDS, nil
	default:
		return 0, ErrUnsupportedFormat
	}
}

// ReadHeader reads and validates the container header, including the list
// of blocks holding the stream directory.
func ReadHeader(r io.ReaderAt, size int64) (*Header, error) {
	head := make([]byte, jgHeaderSize)
	n, err := r.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to read header")
	}
	format, err := DetectFormat(head[:n])
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJG:
		return readJGHeader(r, size, head)
	default:
		return readDSHeader(r, size)
	}
}

func readJGHeader(r io.ReaderAt, size int64, head []byte) (*Header, error) {
	c := cursor.New(head)
	if err := c.Seek(len(MagicJG)); err != nil {
		return nil, err
	}

	h := &Header{Format: FormatJG}
	var (
		freeList, totalAlloc uint16
		err                  error
	)
	if h.BlockSize, err = c.U32(); err != nil {
		return nil, errors.Wrap(err, "failed to read BlockSize")
	}
	if freeList, err = c.U16(); err != nil {
		return nil, errors.Wrap(err, "failed to read free list block")
	}
	if totalAlloc, err = c.U16(); err != nil {
		return nil, errors.Wrap(err, "failed to read total alloc")
	}
	if h.TOCSize, err = c.U32(); err != nil {
		return nil, errors.Wrap(err, "failed to read TOC size")
	}
	if h.Unknown, err = c.U32(); err != nil {
		return nil, errors.Wrap(err, "failed to read TOC unknown")
	}
	h.FreeBlockMap = uint32(freeList)
	h.NumBlocks = uint32(totalAlloc)

	if !isValidBlockSize(h.BlockSize) {
		return nil, errors.Errorf("invalid block size: %d", h.BlockSize)
	}

	// The TOC block list follows the header as 16-bit block numbers.
	raw := make([]byte, 2*h.NumTOCBlocks())
	if err := readFull(r, size, raw, jgHeaderSize); err != nil {
		return nil, errors.Wrap(err, "failed to read TOC block list")
	}
	lc := cursor.New(raw)
	for i := uint32(0); i < h.NumTOCBlocks(); i++ {
		b, _ := lc.U16()
		h.TOCBlocks = append(h.TOCBlocks, uint32(b))
	}
	return h, nil
}

func readDSHeader(r io.ReaderAt, size int64) (*Header, error) {
	raw := make([]byte, dsHeaderSize)
	if err := readFull(r, size, raw, 0); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}
	c := cursor.New(raw)
	magic := make([]byte, len(MagicDS))
	if _, err := c.Read(magic, len(magic), 0); err != nil {
		return nil, errors.Wrap(err, "failed to read signature")
	}
	if !bytes.Equal(magic, MagicDS) {
		return nil, errors.New("invalid MSF 7.00 signature")
	}

	h := &Header{Format: FormatDS}
	fields := []*uint32{&h.BlockSize, &h.FreeBlockMap, &h.NumBlocks, &h.TOCSize, &h.Unknown, &h.BlockMapAddr}
	for _, f := range fields {
		v, err := c.U32()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read header field")
		}
		*f = v
	}

	if !isValidBlockSize(h.BlockSize) {
		return nil, errors.Errorf("invalid block size: %d", h.BlockSize)
	}
	if h.FreeBlockMap != 1 && h.FreeBlockMap != 2 {
		return nil, errors.Errorf("invalid FreeBlockMapBlock: %d (must be 1 or 2)", h.FreeBlockMap)
	}

	// The block map holds the 32-bit block numbers of the directory.
	raw = make([]byte, 4*h.NumTOCBlocks())
	if err := readFull(r, size, raw, int64(h.BlockMapAddr)*int64(h.BlockSize)); err != nil {
		return nil, errors.Wrap(err, "failed to read block map")
	}
	lc := cursor.New(raw)
	for i := uint32(0); i < h.NumTOCBlocks(); i++ {
		b, _ := lc.U32()
		h.TOCBlocks = append(h.TOCBlocks, b)
	}
	return h, nil
}

// readFull reads exactly len(p) bytes at off, refusing ranges past size.
func readFull(r io.ReaderAt, size int64, p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > size {
		return &cursor.DecodeError{Offset: int(off), Count: len(p), Size: int(size)}
	}
	if len(p) == 0 {
		return nil
	}
	_, err := r.ReadAt(p, off)
	if err == io.EOF {
		err = nil
	}
	return err
}

func isValidBlockSize(size uint32) bool {
	for _, valid := range ValidBlockSizes {
		if size == valid {
			return true
		}
	}
	return false
}
