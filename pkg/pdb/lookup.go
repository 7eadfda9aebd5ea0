package pdb

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jtang613/cvsym/pkg/pdb/codeview"
	"github.com/jtang613/cvsym/pkg/pdb/cursor"
	"github.com/jtang613/cvsym/pkg/pdb/msf"
	"github.com/jtang613/cvsym/pkg/pdb/streams"
)

// Lookup identifies the PDB an image refers to: its recorded file name,
// its container kind and the key a candidate file must carry. JG files are
// keyed by timestamp and age, DS files by GUID and age.
type Lookup struct {
	Filename      string
	Format        msf.Format
	TimeDateStamp uint32
	GUID          uuid.UUID
	Age           uint32
}

// ParseCodeViewInfo decodes an NB10 or RSDS CodeView blob from an image's
// debug directory.
func ParseCodeViewInfo(blob []byte) (*Lookup, error) {
	c := cursor.New(blob)
	sig, err := c.Bytes(4)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CodeView signature")
	}

	l := &Lookup{}
	switch string(sig) {
	case codeview.SignatureNB10:
		l.Format = msf.FormatJG
		c.Skip(4) // offset, always 0
		if l.TimeDateStamp, err = c.U32(); err != nil {
			return nil, errors.Wrap(err, "truncated NB10 info")
		}
	case codeview.SignatureRSDS:
		l.Format = msf.FormatDS
		raw, err := c.Bytes(16)
		if err != nil {
			return nil, errors.Wrap(err, "truncated RSDS info")
		}
		var guid [16]byte
		copy(guid[:], raw)
		l.GUID = GUIDFromBytes(guid)
	default:
		return nil, errors.Wrapf(ErrNoDebugInfo, "unexpected CodeView signature %q", sig)
	}

	if l.Age, err = c.U32(); err != nil {
		return nil, errors.Wrap(err, "truncated CodeView info")
	}
	if l.Filename, err = c.CString(); err != nil {
		return nil, errors.Wrap(err, "unterminated PDB file name")
	}
	return l, nil
}

// GUIDFromBytes converts an on-disk GUID, whose first three fields are
// little endian, to a uuid.UUID.
func GUIDFromBytes(b [16]byte) uuid.UUID {
	u := uuid.UUID(b)
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	return u
}

// Key returns the directory name a symbol store files this PDB under.
func (l *Lookup) Key() string {
	if l.Format == msf.FormatDS {
		return fmt.Sprintf("%s%X", strings.ToUpper(strings.ReplaceAll(l.GUID.String(), "-", "")), l.Age)
	}
	return fmt.Sprintf("%08X%X", l.TimeDateStamp, l.Age)
}

// Base returns the file name without the directories the linker recorded.
func (l *Lookup) Base() string {
	return baseName(l.Filename)
}

func (l *Lookup) String() string {
	return fmt.Sprintf("%s (%s %s)", l.Filename, l.Format, l.Key())
}

// Match checks that a container's root stream carries the key of l. A DS
// key needs a DS container with the same GUID; a JG key only compares the
// timestamp, which both generations record. Ages are left to the caller.
func (l *Lookup) Match(format msf.Format, root *streams.Root) error {
	if l.Format == msf.FormatDS {
		if format != msf.FormatDS {
			return errors.Wrapf(ErrMismatch, "%s: expected a DS container, found %s", l.Filename, format)
		}
		if got := GUIDFromBytes(root.GUID); got != l.GUID {
			return errors.Wrapf(ErrMismatch, "%s: GUID %s, expected %s", l.Filename, got, l.GUID)
		}
		return nil
	}
	if root.TimeDateStamp != l.TimeDateStamp {
		return errors.Wrapf(ErrMismatch, "%s: timestamp 0x%08x, expected 0x%08x",
			l.Filename, root.TimeDateStamp, l.TimeDateStamp)
	}
	return nil
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
