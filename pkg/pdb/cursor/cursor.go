// Package cursor provides a bounds-checked little-endian reader over an
// in-memory byte buffer. Every read is range checked; a read past the end
// yields a DecodeError instead of touching adjacent memory.
package cursor

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// NoSeek tells Read to use the current position instead of an absolute offset.
const NoSeek = -1

// ErrOutOfRange is the cause of every DecodeError.
var ErrOutOfRange = errors.New("cursor: read out of range")

// DecodeError describes a read that did not fit in the buffer.
type DecodeError struct {
	Offset int // Absolute offset of the failed read
	Count  int // Number of bytes requested
	Size   int // Size of the underlying buffer
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cursor: cannot read %d bytes at offset 0x%x (buffer size 0x%x)", e.Count, e.Offset, e.Size)
}

// Unwrap lets errors.Is match ErrOutOfRange.
func (e *DecodeError) Unwrap() error { return ErrOutOfRange }

// Cursor borrows a byte slice and tracks a read position in it.
type Cursor struct {
	data []byte
	off  int
}

// New returns a cursor positioned at the start of data.
func New(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Len returns the size of the underlying buffer.
func (c *Cursor) Len() int { return len(c.data) }

// Offset returns the current read position.
func (c *Cursor) Offset() int { return c.off }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	if c.off >= len(c.data) {
		return 0
	}
	return len(c.data) - c.off
}

// Data returns the whole underlying buffer.
func (c *Cursor) Data() []byte { return c.data }

func (c *Cursor) fail(off, count int) error {
	return &DecodeError{Offset: off, Count: count, Size: len(c.data)}
}

// Seek moves the read position to an absolute offset. Seeking to the end
// of the buffer is allowed, seeking beyond it is not.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.data) {
		return c.fail(off, 0)
	}
	c.off = off
	return nil
}

// Skip advances the read position by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return c.fail(c.off, n)
	}
	c.off += n
	return nil
}

// Align rounds the read position up to a multiple of n, clamped to the end.
func (c *Cursor) Align(n int) {
	if n <= 1 {
		return
	}
	c.off = (c.off + n - 1) &^ (n - 1)
	if c.off > len(c.data) {
		c.off = len(c.data)
	}
}

// Read copies count bytes into dst, either from the absolute offset off or
// from the current position when off is NoSeek, and advances past them.
// It returns the number of bytes actually copied. A short read copies what
// remains and reports a DecodeError; an offset outside the buffer copies
// nothing.
func (c *Cursor) Read(dst []byte, count int, off int) (int, error) {
	if off != NoSeek {
		if err := c.Seek(off); err != nil {
			return 0, err
		}
	}
	if count < 0 || count > len(dst) {
		return 0, errors.Errorf("cursor: invalid read of %d bytes into %d byte buffer", count, len(dst))
	}
	start := c.off
	n := copy(dst[:count], c.data[c.off:])
	c.off += n
	if n < count {
		return n, c.fail(start, count)
	}
	return n, nil
}

// Bytes returns the next n bytes without copying them.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, c.fail(c.off, n)
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

// Sub returns a cursor over the n bytes at absolute offset off. The parent
// cursor does not move.
func (c *Cursor) Sub(off, n int) (*Cursor, error) {
	if off < 0 || n < 0 || off > len(c.data) || n > len(c.data)-off {
		return nil, c.fail(off, n)
	}
	return New(c.data[off : off+n]), nil
}

func (c *Cursor) U8() (uint8, error) {
	if c.Remaining() < 1 {
		return 0, c.fail(c.off, 1)
	}
	v := c.data[c.off]
	c.off++
	return v, nil
}

func (c *Cursor) U16() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, c.fail(c.off, 2)
	}
	v := binary.LittleEndian.Uint16(c.data[c.off:])
	c.off += 2
	return v, nil
}

func (c *Cursor) U32() (uint32, error) {
	if c.Remaining() < 4 {
		return 0, c.fail(c.off, 4)
	}
	v := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v, nil
}

func (c *Cursor) U64() (uint64, error) {
	if c.Remaining() < 8 {
		return 0, c.fail(c.off, 8)
	}
	v := binary.LittleEndian.Uint64(c.data[c.off:])
	c.off += 8
	return v, nil
}

func (c *Cursor) I8() (int8, error) {
	v, err := c.U8()
	return int8(v), err
}

func (c *Cursor) I16() (int16, error) {
	v, err := c.U16()
	return int16(v), err
}

func (c *Cursor) I32() (int32, error) {
	v, err := c.U32()
	return int32(v), err
}

// PeekU16 reads a 16-bit value without advancing.
func (c *Cursor) PeekU16() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, c.fail(c.off, 2)
	}
	return binary.LittleEndian.Uint16(c.data[c.off:]), nil
}

// PString reads a length-prefixed (Pascal) string: one length byte followed
// by that many characters.
func (c *Cursor) PString() (string, error) {
	n, err := c.U8()
	if err != nil {
		return "", err
	}
	b, err := c.Bytes(int(n))
	if err != nil {
		c.off--
		return "", err
	}
	return string(b), nil
}

// CString reads a NUL-terminated string and consumes the terminator.
func (c *Cursor) CString() (string, error) {
	rest := c.data[min(c.off, len(c.data)):]
	idx := bytes.IndexByte(rest, 0)
	if idx == -1 {
		return "", c.fail(c.off, len(rest)+1)
	}
	s := string(rest[:idx])
	c.off += idx + 1
	return s, nil
}

// String reads a Pascal string when pascal is set, else a C string.
func (c *Cursor) String(pascal bool) (string, error) {
	if pascal {
		return c.PString()
	}
	return c.CString()
}
