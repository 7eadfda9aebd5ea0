// Package pdb decodes the CodeView debug information of an image, whether
// it is embedded (NB09, NB11) or kept in a separate PDB file (NB10, RSDS),
// into a symt.Sink.
package pdb

import (
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jtang613/cvsym/pkg/pdb/codeview"
	"github.com/jtang613/cvsym/pkg/pdb/msf"
	"github.com/jtang613/cvsym/pkg/pdb/streams"
	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

var (
	// ErrNoDebugInfo is returned when an image carries no CodeView data
	// this package understands.
	ErrNoDebugInfo = errors.New("no CodeView debug information")
	// ErrMismatch is returned when a PDB file does not carry the key the
	// image expects.
	ErrMismatch = errors.New("PDB does not match the image")
	// ErrNotFound is returned when no matching PDB file can be located.
	ErrNotFound = errors.New("PDB file not found")
)

// Options control a decode pass.
type Options struct {
	// NoPublics drops the public symbol table.
	NoPublics bool
	// SearchPaths are searched for PDB files when Locator is nil.
	SearchPaths []string
	// IndexTypes keeps the index of every type of a PDB in
	// Report.TypeIndex.
	IndexTypes bool
	Logger     *zap.Logger
	Locator    *Locator
}

func (o *Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Report summarizes a decode pass.
type Report struct {
	Format  string // NB09, NB11, JG or DS
	PDB     string
	Lookup  *Lookup
	Machine uint16
	Imports []string
	Modules int
	Types   codeview.TypeStats
	Symbols codeview.SymbolStats
	// TypeIndex maps the type indices of the main PDB to their types when
	// Options.IndexTypes is set.
	TypeIndex map[uint32]symt.Type
	// Skipped collects the streams that could not be decoded. They do not
	// fail the pass.
	Skipped error
}

func (r *Report) addTypes(s codeview.TypeStats) {
	r.Types.Decoded += s.Decoded
	r.Types.Unsupported += s.Unsupported
	r.Types.Failed += s.Failed
}

func (r *Report) skip(err error) {
	r.Skipped = multierr.Append(r.Skipped, err)
}

// ProcessDebugInfo decodes the debug information img refers to into sink.
// The first four bytes of img.CodeView select the source: NB09 and NB11
// blobs are decoded in place, NB10 and RSDS name a PDB file that is
// located, verified and decoded.
func ProcessDebugInfo(img *Image, sink symt.Sink, opts Options) (*Report, error) {
	log := opts.logger()
	if len(img.CodeView) < 4 {
		return nil, errors.Wrap(ErrNoDebugInfo, "CodeView blob too small")
	}
	sig := string(img.CodeView[:4])
	report := &Report{Format: sig, Machine: img.Machine}

	switch sig {
	case codeview.SignatureNB09, codeview.SignatureNB11:
		ctx := newTypeContext(sink, log, img.Machine)
		stats, err := codeview.ProcessOMF(img.CodeView, ctx, imageAddressMap(img), symbolOptions(opts))
		if err != nil {
			log.Error("failed to decode embedded CodeView", zap.String("format", sig), zap.Error(err))
			return nil, errors.Wrapf(err, "%s", sig)
		}
		report.addTypes(stats.Types)
		report.Symbols = stats.Symbols
		report.Modules = stats.Modules
		return report, nil

	case codeview.SignatureNB10, codeview.SignatureRSDS:
		lookup, err := ParseCodeViewInfo(img.CodeView)
		if err != nil {
			return nil, err
		}
		report.Lookup = lookup
		if opts.Locator == nil {
			opts.Locator = NewLocator(opts.SearchPaths, 0, log)
		}
		var dirs []string
		if img.Path != "" {
			dirs = append(dirs, filepath.Dir(img.Path))
		}
		path, err := opts.Locator.Locate(lookup, dirs...)
		if err != nil {
			return nil, err
		}
		if err := newPass(img, sink, opts, report).processFile(path, lookup, 0); err != nil {
			log.Error("failed to decode PDB", zap.String("pdb", path), zap.Error(err))
			return nil, err
		}
		return report, nil
	}
	return nil, errors.Wrapf(ErrNoDebugInfo, "unknown CodeView signature %q", sig)
}

// Open decodes a standalone PDB file with a load base of 0, placing
// symbols with the section headers the PDB itself records.
func Open(path string, sink symt.Sink, opts Options) (*Report, error) {
	report := &Report{}
	if err := newPass(&Image{Path: path}, sink, opts, report).processFile(path, nil, 0); err != nil {
		return nil, err
	}
	return report, nil
}

// Decode is Open over a container already in memory.
func Decode(c *msf.Container, name string, sink symt.Sink, opts Options) (*Report, error) {
	report := &Report{}
	if err := newPass(&Image{Path: name}, sink, opts, report).process(c, name, nil, 0); err != nil {
		return nil, err
	}
	return report, nil
}

func newTypeContext(sink symt.Sink, log *zap.Logger, machine uint16) *codeview.TypeContext {
	ctx := codeview.NewTypeContext(sink, log)
	if is64Bit(machine) {
		ctx.PointerSize = 8
	}
	return ctx
}

func is64Bit(machine uint16) bool {
	switch machine {
	case streams.MachineAMD64, streams.MachineARM64, streams.MachineIA64:
		return true
	}
	return false
}

func imageAddressMap(img *Image) *AddressMap {
	return &AddressMap{Base: img.Base, Sections: img.Sections, OMAP: img.OMAP}
}

func symbolOptions(opts Options) codeview.SymbolOptions {
	return codeview.SymbolOptions{NoPublics: opts.NoPublics}
}
