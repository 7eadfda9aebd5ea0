package msf

import (
	"io"
)

// Stream is a single stream within a container, composed of possibly
// non-contiguous blocks.
type Stream struct {
	c      *Container
	size   uint32
	blocks []uint32
}

// Size returns the size of the stream in bytes.
func (s *Stream) Size() uint32 {
	return s.size
}

// Blocks returns the block indices that make up this stream.
func (s *Stream) Blocks() []uint32 {
	return s.blocks
}

// ReadAll concatenates the stream's blocks into a new buffer.
func (s *Stream) ReadAll() ([]byte, error) {
	data := make([]byte, s.size)
	if _, err := io.ReadFull(NewStreamReader(s), data); err != nil {
		return nil, err
	}
	return data, nil
}

// StreamReader provides sequential read access to a stream, hiding the
// block layout.
type StreamReader struct {
	stream     *Stream
	offset     int64
	blockIndex int
	posInBlock int
}

// NewStreamReader creates a reader positioned at the start of s.
func NewStreamReader(s *Stream) *StreamReader {
	return &StreamReader{stream: s}
}

// Read implements io.Reader.
func (sr *StreamReader) Read(p []byte) (int, error) {
	size := int64(sr.stream.size)
	if sr.offset >= size {
		return 0, io.EOF
	}

	total := 0
	blockSize := int(sr.stream.c.header.BlockSize)
	for len(p) > 0 && sr.offset < size {
		if sr.blockIndex >= len(sr.stream.blocks) {
			return total, io.ErrUnexpectedEOF
		}
		toRead := blockSize - sr.posInBlock
		if toRead > len(p) {
			toRead = len(p)
		}
		if rem := size - sr.offset; int64(toRead) > rem {
			toRead = int(rem)
		}

		if err := sr.stream.c.readBlock(p[:toRead], sr.stream.blocks[sr.blockIndex], sr.posInBlock); err != nil {
			return total, err
		}

		total += toRead
		sr.offset += int64(toRead)
		sr.posInBlock += toRead
		p = p[toRead:]

		if sr.posInBlock >= blockSize {
			sr.blockIndex++
			sr.posInBlock = 0
		}
	}
	return total, nil
}

// StreamDirectory lists every stream's size and blocks.
type StreamDirectory struct {
	NumStreams   uint32
	StreamSizes  []uint32
	StreamBlocks [][]uint32
}
