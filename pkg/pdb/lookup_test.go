package pdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/cvsym/pkg/pdb/msf"
	"github.com/jtang613/cvsym/pkg/pdb/msf/msftest"
	"github.com/jtang613/cvsym/pkg/pdb/streams"
)

func TestParseCodeViewInfo(t *testing.T) {
	l, err := ParseCodeViewInfo(rsds(testGUID, 3, `c:\build\app.pdb`))
	require.NoError(t, err)
	assert.Equal(t, msf.FormatDS, l.Format)
	assert.Equal(t, uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff"), l.GUID)
	assert.Equal(t, uint32(3), l.Age)
	assert.Equal(t, `c:\build\app.pdb`, l.Filename)
	assert.Equal(t, "app.pdb", l.Base())
	assert.Equal(t, "00112233445566778899AABBCCDDEEFF3", l.Key())

	l, err = ParseCodeViewInfo(nb10(0x3a5b1c2d, 0x1f, "obj/app.pdb"))
	require.NoError(t, err)
	assert.Equal(t, msf.FormatJG, l.Format)
	assert.Equal(t, uint32(0x3a5b1c2d), l.TimeDateStamp)
	assert.Equal(t, "3A5B1C2D1F", l.Key())
	assert.Equal(t, "app.pdb", l.Base())
}

func TestParseCodeViewInfoErrors(t *testing.T) {
	_, err := ParseCodeViewInfo([]byte("NB09\x00\x00\x00\x00"))
	assert.True(t, errors.Is(err, ErrNoDebugInfo), "got %v", err)

	_, err = ParseCodeViewInfo([]byte("RSDS\x01\x02"))
	assert.Error(t, err)

	blob := rsds(testGUID, 1, "app.pdb")
	_, err = ParseCodeViewInfo(blob[:len(blob)-1])
	assert.Error(t, err)
}

func TestLookupMatch(t *testing.T) {
	ds := &Lookup{Filename: "a.pdb", Format: msf.FormatDS, GUID: GUIDFromBytes(testGUID), Age: 1}
	jg := &Lookup{Filename: "a.pdb", Format: msf.FormatJG, TimeDateStamp: 0x1234, Age: 1}
	other := testGUID
	other[0]++

	tests := []struct {
		name   string
		lookup *Lookup
		format msf.Format
		root   *streams.Root
		ok     bool
	}{
		{name: "ds match", lookup: ds, format: msf.FormatDS, root: &streams.Root{GUID: testGUID, Age: 7}, ok: true},
		{name: "ds guid", lookup: ds, format: msf.FormatDS, root: &streams.Root{GUID: other}},
		{name: "ds in jg", lookup: ds, format: msf.FormatJG, root: &streams.Root{TimeDateStamp: 0x1234}},
		{name: "jg match", lookup: jg, format: msf.FormatJG, root: &streams.Root{TimeDateStamp: 0x1234, Age: 9}, ok: true},
		{name: "jg in ds", lookup: jg, format: msf.FormatDS, root: &streams.Root{TimeDateStamp: 0x1234}, ok: true},
		{name: "jg stamp", lookup: jg, format: msf.FormatJG, root: &streams.Root{TimeDateStamp: 0x1235}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.lookup.Match(tt.format, tt.root)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrMismatch), "got %v", err)
			}
		})
	}
}

func TestLocatorSymbolStore(t *testing.T) {
	store := t.TempDir()
	lookup := &Lookup{Filename: `c:\build\app.pdb`, Format: msf.FormatDS, GUID: GUIDFromBytes(testGUID), Age: 1}
	path := writeFile(t, store, filepath.Join("app.pdb", lookup.Key(), "app.pdb"), scenarioPDB())

	loc := isolatedLocator(t, store)
	got, err := loc.Locate(lookup)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	require.NoError(t, os.Remove(path))
	got, err = loc.Locate(lookup)
	require.NoError(t, err, "second lookup is served from the cache")
	assert.Equal(t, path, got)

	_, err = NewLocator([]string{store}, 1, nil).Locate(lookup)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestLocatorSkipsMismatchedCandidates(t *testing.T) {
	flat, store := t.TempDir(), t.TempDir()
	lookup := &Lookup{Filename: "app.pdb", Format: msf.FormatDS, GUID: GUIDFromBytes(testGUID), Age: 1}

	stale := testGUID
	stale[9] = 0
	writeFile(t, flat, "app.pdb", msftest.New(msf.FormatDS, 512).Set(1, dsRoot(stale, 1, nil)).Bytes())
	want := writeFile(t, store, filepath.Join("app.pdb", lookup.Key(), "app.pdb"), scenarioPDB())

	got, err := isolatedLocator(t, store).Locate(lookup, flat)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLocatorEnvironment(t *testing.T) {
	t.Setenv(SymbolPathEnv, ` ;c:\symbols; /srv/symbols ;`)
	loc := NewLocator([]string{"/opt/pdb"}, 0, nil)
	assert.Equal(t, []string{"/opt/pdb", `c:\symbols`, "/srv/symbols"}, loc.Paths())
	assert.Empty(t, SplitSymbolPath(";;"))
}

func TestParseDebugDirectory(t *testing.T) {
	data := encode(
		uint32(0), uint32(0x5f000000), uint32(0), uint32(debugTypeCodeView), uint32(0x40), uint32(0x2000), uint32(0x1200),
		uint32(0), uint32(0), uint32(0), uint32(debugTypeOMAPFromSrc), uint32(0x10), uint32(0), uint32(0x1400),
		[]byte{1, 2, 3},
	)
	got := ParseDebugDirectory(data)
	assert.Equal(t, []DebugDirEntry{
		{Type: debugTypeCodeView, SizeOfData: 0x40, AddressOfRawData: 0x2000, PointerToRawData: 0x1200},
		{Type: debugTypeOMAPFromSrc, SizeOfData: 0x10, PointerToRawData: 0x1400},
	}, got)
}
