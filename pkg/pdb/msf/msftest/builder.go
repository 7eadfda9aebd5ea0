// Package msftest synthesizes PDB containers in memory for tests.
package msftest

import (
	"bytes"
	"encoding/binary"

	"github.com/jtang613/cvsym/pkg/pdb/msf"
)

// Builder lays out streams in a container image. Stream data blocks are
// handed out from the end of the file backwards, so every multi-block
// stream is stored non-contiguously and in descending block order.
type Builder struct {
	Format    msf.Format
	BlockSize uint32
	// Streams holds stream contents by index. A nil entry is written as a
	// deleted stream.
	Streams [][]byte
}

// New returns a builder for the given format.
func New(format msf.Format, blockSize uint32) *Builder {
	return &Builder{Format: format, BlockSize: blockSize}
}

// Set stores data as stream index, growing the stream table as needed.
func (b *Builder) Set(index int, data []byte) *Builder {
	for len(b.Streams) <= index {
		b.Streams = append(b.Streams, nil)
	}
	b.Streams[index] = data
	return b
}

// Layout is the block assignment chosen by Bytes.
type Layout struct {
	StreamBlocks [][]uint32
	TOCBlocks    []uint32
}

// Bytes renders the container image.
func (b *Builder) Bytes() []byte {
	img, _ := b.Build()
	return img
}

// Build renders the container image and reports the block layout.
func (b *Builder) Build() ([]byte, *Layout) {
	bs := int(b.BlockSize)
	next := 1
	if b.Format == msf.FormatDS {
		next = 3 // header and two free page maps
	}

	counts := make([]int, len(b.Streams))
	total := 0
	for i, s := range b.Streams {
		counts[i] = (len(s) + bs - 1) / bs
		total += counts[i]
	}
	last := next + total - 1
	next += total

	layout := &Layout{StreamBlocks: make([][]uint32, len(b.Streams))}
	for i := range b.Streams {
		for j := 0; j < counts[i]; j++ {
			layout.StreamBlocks[i] = append(layout.StreamBlocks[i], uint32(last))
			last--
		}
	}

	dir := b.directory(layout)
	numDir := (len(dir) + bs - 1) / bs
	for i := 0; i < numDir; i++ {
		layout.TOCBlocks = append(layout.TOCBlocks, uint32(next))
		next++
	}
	blockMap := 0
	if b.Format == msf.FormatDS {
		blockMap = next
		next++
	}

	img := make([]byte, next*bs)
	for i, s := range b.Streams {
		for j, blk := range layout.StreamBlocks[i] {
			copy(img[int(blk)*bs:], s[j*bs:min((j+1)*bs, len(s))])
		}
	}
	for i, blk := range layout.TOCBlocks {
		copy(img[int(blk)*bs:], dir[i*bs:min((i+1)*bs, len(dir))])
	}

	var hdr bytes.Buffer
	le := binary.LittleEndian
	if b.Format == msf.FormatJG {
		hdr.Write(msf.MagicJG)
		binary.Write(&hdr, le, b.BlockSize)
		binary.Write(&hdr, le, uint16(0))
		binary.Write(&hdr, le, uint16(next))
		binary.Write(&hdr, le, uint32(len(dir)))
		binary.Write(&hdr, le, uint32(0))
		for _, blk := range layout.TOCBlocks {
			binary.Write(&hdr, le, uint16(blk))
		}
	} else {
		hdr.Write(msf.MagicDS)
		binary.Write(&hdr, le, b.BlockSize)
		binary.Write(&hdr, le, uint32(1))
		binary.Write(&hdr, le, uint32(next))
		binary.Write(&hdr, le, uint32(len(dir)))
		binary.Write(&hdr, le, uint32(0))
		binary.Write(&hdr, le, uint32(blockMap))

		var bm bytes.Buffer
		for _, blk := range layout.TOCBlocks {
			binary.Write(&bm, le, blk)
		}
		copy(img[blockMap*bs:], bm.Bytes())
	}
	copy(img, hdr.Bytes())
	return img, layout
}

func (b *Builder) directory(layout *Layout) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&buf, le, uint32(len(b.Streams)))
	for _, s := range b.Streams {
		size := uint32(len(s))
		if s == nil {
			size = 0xFFFFFFFF
		}
		binary.Write(&buf, le, size)
		if b.Format == msf.FormatJG {
			binary.Write(&buf, le, uint32(0))
		}
	}
	for _, list := range layout.StreamBlocks {
		for _, blk := range list {
			if b.Format == msf.FormatJG {
				binary.Write(&buf, le, uint16(blk))
			} else {
				binary.Write(&buf, le, blk)
			}
		}
	}
	return buf.Bytes()
}
