// Package streams decodes the fixed-layout PDB streams: the root stream,
// the types stream header, the symbols (DBI) stream and its substreams,
// and a few auxiliary streams.
package streams

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
	"github.com/jtang613/cvsym/pkg/pdb/msf"
)

// Well-known stream indices.
const (
	StreamRoot    = 1
	StreamTypes   = 2
	StreamSymbols = 3
)

// Root stream versions.
const (
	RootVersionVC4  = 19950623
	RootVersionVC41 = 19950814
	RootVersionVC50 = 19960307
	RootVersionVC98 = 19970604
	RootVersionVC70 = 20000404
)

var knownRootVersions = []uint32{
	RootVersionVC4, RootVersionVC41, RootVersionVC50, RootVersionVC98, RootVersionVC70,
}

// KnownRootVersion reports whether v is a root stream version this package
// was written against. Other versions still decode.
func KnownRootVersion(v uint32) bool {
	for _, k := range knownRootVersions {
		if v == k {
			return true
		}
	}
	return false
}

// Root is the PDB root stream: the version and match key of the file and
// its named-stream map.
type Root struct {
	Version       uint32
	TimeDateStamp uint32
	Age           uint32
	GUID          [16]byte // DS only
	NamedStreams  map[string]uint32
}

type rootHeaderJG struct {
	Version       uint32
	TimeDateStamp uint32
	Age           uint32
}

type rootHeaderDS struct {
	Version       uint32
	TimeDateStamp uint32
	Age           uint32
	GUID          [16]byte
}

// ReadRoot parses the root stream. The layout differs by container
// generation: only DS files carry a GUID.
func ReadRoot(data []byte, format msf.Format) (*Root, error) {
	r := bytes.NewReader(data)
	root := &Root{NamedStreams: make(map[string]uint32)}

	var hdrSize int
	if format == msf.FormatJG {
		var h rootHeaderJG
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			return nil, errors.Wrap(err, "failed to read root header")
		}
		root.Version, root.TimeDateStamp, root.Age = h.Version, h.TimeDateStamp, h.Age
		hdrSize = 12
	} else {
		var h rootHeaderDS
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			return nil, errors.Wrap(err, "failed to read root header")
		}
		root.Version, root.TimeDateStamp, root.Age, root.GUID = h.Version, h.TimeDateStamp, h.Age, h.GUID
		hdrSize = 28
	}

	// The named-stream map is optional in old files; a damaged map leaves
	// the header usable.
	root.NamedStreams = readNamedStreams(cursor.New(data[hdrSize:]))
	return root, nil
}

// readNamedStreams decodes the string buffer and hash table that map
// stream names to indices.
func readNamedStreams(c *cursor.Cursor) map[string]uint32 {
	named := make(map[string]uint32)

	strBufSize, err := c.U32()
	if err != nil {
		return named
	}
	strBuf, err := c.Bytes(int(strBufSize))
	if err != nil {
		return named
	}
	if _, err := c.U32(); err != nil { // entry count
		return named
	}
	capacity, err := c.U32()
	if err != nil {
		return named
	}
	present, err := readBitVector(c)
	if err != nil {
		return named
	}
	if _, err := readBitVector(c); err != nil { // deleted
		return named
	}

	for i := uint32(0); i < capacity; i++ {
		if !isBitSet(present, i) {
			continue
		}
		keyOffset, err := c.U32()
		if err != nil {
			break
		}
		streamIndex, err := c.U32()
		if err != nil {
			break
		}
		if keyOffset < strBufSize {
			named[extractCString(strBuf[keyOffset:])] = streamIndex
		}
	}
	return named
}

func readBitVector(c *cursor.Cursor) ([]uint32, error) {
	n, err := c.U32()
	if err != nil {
		return nil, err
	}
	if int(n) > c.Remaining()/4 {
		return nil, errors.Errorf("bit vector of %d words exceeds stream", n)
	}
	words := make([]uint32, n)
	for i := range words {
		words[i], _ = c.U32()
	}
	return words, nil
}

// isBitSet checks if bit n is set in the bit vector.
func isBitSet(words []uint32, n uint32) bool {
	wordIdx := n / 32
	if wordIdx >= uint32(len(words)) {
		return false
	}
	return words[wordIdx]&(1<<(n%32)) != 0
}

// extractCString extracts a null-terminated string from bytes.
func extractCString(data []byte) string {
	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return string(data)
	}
	return string(data[:idx])
}
