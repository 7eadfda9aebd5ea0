package msf

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
)

// noStream marks a deleted or unused stream in the directory.
const noStream = 0xFFFFFFFF

// Container is an opened PDB container.
type Container struct {
	r         io.ReaderAt
	size      int64
	closer    io.Closer
	header    *Header
	directory *StreamDirectory
}

// Open maps a PDB file read-only and parses its header and directory.
func Open(path string) (*Container, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to map file")
	}

	c, err := NewContainer(ra, int64(ra.Len()))
	if err != nil {
		ra.Close()
		return nil, err
	}
	c.closer = ra
	return c, nil
}

// NewContainer parses a container held by r. The caller keeps ownership
// of r.
func NewContainer(r io.ReaderAt, size int64) (*Container, error) {
	c := &Container{r: r, size: size}

	var err error
	if c.header, err = ReadHeader(r, size); err != nil {
		return nil, err
	}
	if err := c.readStreamDirectory(); err != nil {
		return nil, errors.Wrap(err, "failed to read stream directory")
	}
	return c, nil
}

// Close releases the file mapping, if the container owns one.
func (c *Container) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

// Header returns the container header.
func (c *Container) Header() *Header { return c.header }

// Format returns the container generation.
func (c *Container) Format() Format { return c.header.Format }

// BlockSize returns the block size used by this container.
func (c *Container) BlockSize() uint32 { return c.header.BlockSize }

// NumStreams returns the number of streams in the directory.
func (c *Container) NumStreams() int { return int(c.directory.NumStreams) }

// StreamSize returns the size of stream index, or false if the stream is
// absent.
func (c *Container) StreamSize(index int) (uint32, bool) {
	if index < 0 || index >= c.NumStreams() {
		return 0, false
	}
	size := c.directory.StreamSizes[index]
	if size == noStream || size == 0 {
		return 0, false
	}
	return size, true
}

// Stream returns a freshly allocated copy of stream index. An out-of-range
// index, an empty stream and a deleted stream all yield a nil buffer and
// no error.
func (c *Container) Stream(index int) ([]byte, error) {
	s := c.stream(index)
	if s == nil {
		return nil, nil
	}
	data, err := s.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read stream %d", index)
	}
	return data, nil
}

func (c *Container) stream(index int) *Stream {
	size, ok := c.StreamSize(index)
	if !ok {
		return nil
	}
	return &Stream{c: c, size: size, blocks: c.directory.StreamBlocks[index]}
}

// readBlock copies len(p) bytes starting at off inside block.
func (c *Container) readBlock(p []byte, block uint32, off int) error {
	pos := int64(block)*int64(c.header.BlockSize) + int64(off)
	return readFull(c.r, c.size, p, pos)
}

// readStreamDirectory gathers the directory blocks and parses them.
func (c *Container) readStreamDirectory() error {
	blockSize := int(c.header.BlockSize)
	dirData := make([]byte, c.header.TOCSize)
	read := 0
	for _, block := range c.header.TOCBlocks {
		toRead := blockSize
		if read+toRead > len(dirData) {
			toRead = len(dirData) - read
		}
		if err := c.readBlock(dirData[read:read+toRead], block, 0); err != nil {
			return errors.Wrapf(err, "failed to read directory block %d", block)
		}
		read += toRead
	}

	dir, err := ParseStreamDirectory(dirData, c.header.Format, c.header.BlockSize)
	if err != nil {
		return err
	}
	c.directory = dir
	return nil
}

// ParseStreamDirectory decodes a stream directory. JG directories pair
// each size with an unused word and list 16-bit block numbers; DS
// directories list bare sizes and 32-bit block numbers. Block lists are
// laid out back to back, so a stream's list starts after the block counts
// of every preceding stream.
func ParseStreamDirectory(data []byte, format Format, blockSize uint32) (*StreamDirectory, error) {
	r := cursor.New(data)

	numStreams, err := r.U32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read NumStreams")
	}
	entry := 4
	if format == FormatJG {
		entry = 8
	}
	if int(numStreams) > r.Remaining()/entry {
		return nil, errors.Errorf("stream count %d exceeds directory size %d", numStreams, len(data))
	}

	sizes := make([]uint32, numStreams)
	for i := range sizes {
		if sizes[i], err = r.U32(); err != nil {
			return nil, errors.Wrapf(err, "failed to read stream size %d", i)
		}
		if format == FormatJG {
			if err := r.Skip(4); err != nil {
				return nil, errors.Wrapf(err, "failed to read stream entry %d", i)
			}
		}
	}

	blocks := make([][]uint32, numStreams)
	for i, size := range sizes {
		n := blockCount(size, blockSize)
		list := make([]uint32, n)
		for j := range list {
			if format == FormatJG {
				var b uint16
				b, err = r.U16()
				list[j] = uint32(b)
			} else {
				list[j], err = r.U32()
			}
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read block index for stream %d", i)
			}
		}
		blocks[i] = list
	}

	return &StreamDirectory{
		NumStreams:   numStreams,
		StreamSizes:  sizes,
		StreamBlocks: blocks,
	}, nil
}
