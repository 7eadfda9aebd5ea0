package pdb

import (
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jtang613/cvsym/pkg/pdb/codeview"
	"github.com/jtang613/cvsym/pkg/pdb/msf"
	"github.com/jtang613/cvsym/pkg/pdb/streams"
	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// pass is one decode of a PDB and the PDBs it imports. Slot 0 holds the
// types of the main file; imported files fill the slots their position in
// the import table selects.
type pass struct {
	img     *Image
	sink    symt.Sink
	opts    Options
	report  *Report
	log     *zap.Logger
	ctx     *codeview.TypeContext
	mapper  *AddressMap
	locator *Locator
}

func newPass(img *Image, sink symt.Sink, opts Options, report *Report) *pass {
	log := opts.logger()
	loc := opts.Locator
	if loc == nil {
		loc = NewLocator(opts.SearchPaths, 0, log)
	}
	return &pass{
		img:     img,
		sink:    sink,
		opts:    opts,
		report:  report,
		log:     log,
		ctx:     newTypeContext(sink, log, img.Machine),
		mapper:  imageAddressMap(img),
		locator: loc,
	}
}

func (p *pass) processFile(path string, lookup *Lookup, slot int) error {
	c, err := msf.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer c.Close()
	return p.process(c, path, lookup, slot)
}

// process decodes one container. The main file (slot 0) contributes its
// imports, types, global symbols and module streams; an imported file
// only contributes its types.
func (p *pass) process(c *msf.Container, name string, lookup *Lookup, slot int) error {
	log := p.log.With(zap.String("pdb", name), zap.Stringer("format", c.Format()))

	data, err := requireStream(c, streams.StreamRoot, "root")
	if err != nil {
		return err
	}
	root, err := streams.ReadRoot(data, c.Format())
	if err != nil {
		return errors.Wrapf(err, "%s", name)
	}
	if !streams.KnownRootVersion(root.Version) {
		log.Warn("unknown root stream version", zap.Uint32("version", root.Version))
	}
	if lookup != nil {
		if err := lookup.Match(c.Format(), root); err != nil {
			return err
		}
	}

	if slot != 0 {
		if err := p.ctx.SelectModule(slot); err != nil {
			return err
		}
		p.processTypes(c, log)
		return nil
	}

	defer p.ctx.Reset()
	p.report.Format = c.Format().String()
	p.report.PDB = name

	data, err = requireStream(c, streams.StreamSymbols, "symbols")
	if err != nil {
		return err
	}
	dbi, err := streams.ReadDBIStream(data)
	if err != nil {
		return errors.Wrapf(err, "%s", name)
	}
	if !streams.KnownDBIVersion(dbi.Header.VersionHeader) {
		log.Warn("unknown symbols stream version", zap.Uint32("version", dbi.Header.VersionHeader))
	}
	if lookup != nil && lookup.Age != root.Age && (dbi.Old || lookup.Age != dbi.Header.Age) {
		log.Warn("age mismatch", zap.Uint32("expected", lookup.Age), zap.Uint32("root", root.Age))
	}
	if p.report.Machine == 0 {
		p.report.Machine = dbi.Header.Machine
		if is64Bit(dbi.Header.Machine) {
			p.ctx.PointerSize = 8
		}
	}

	p.processImports(dbi, name)
	if err := p.ctx.SelectModule(0); err != nil {
		return err
	}
	p.processTypes(c, log)
	p.loadAddressMap(c, dbi)

	dec := codeview.NewSymbolDecoder(p.ctx, p.mapper, symbolOptions(p.opts))
	if idx := dbi.Header.SymRecordStream; idx != 0xffff {
		if data, err := c.Stream(int(idx)); err != nil {
			p.report.skip(errors.Wrap(err, "global symbols"))
		} else {
			dec.Snarf(data, 0, len(data), nil)
		}
	}

	names := p.stringTable(c, root)
	pascal := c.Format() == msf.FormatJG
	for i := range dbi.Modules {
		mod := &dbi.Modules[i]
		if !mod.HasSymbols() {
			continue
		}
		data, err := c.Stream(int(mod.ModuleSymStream))
		if err != nil {
			p.report.skip(errors.Wrapf(err, "module %s", mod.ModuleName))
			continue
		}
		lines := p.moduleLines(data, mod, pascal, names, log)
		dec.Snarf(data, 4, int(mod.SymByteSize), lines)
		p.report.Modules++
	}
	p.report.Symbols = dec.Stats

	if p.opts.IndexTypes {
		p.report.TypeIndex = make(map[uint32]symt.Type)
		p.ctx.Each(func(idx uint32, t symt.Type) { p.report.TypeIndex[idx] = t })
	}
	return nil
}

// processImports decodes the types of every PDB the import table lists,
// other than the file itself, into the slot of its table position. The
// position of the file itself is aliased to slot 0.
func (p *pass) processImports(dbi *streams.DBIStream, name string) {
	dir := filepath.Dir(name)
	for i := range dbi.Imports {
		imp := &dbi.Imports[i]
		if imp.MatchesFile(name) {
			if i != 0 {
				if err := p.ctx.SetSelfSlot(i); err != nil {
					p.log.Warn("cannot alias own import position", zap.Int("position", i), zap.Error(err))
				}
			}
			continue
		}
		if i == 0 || i >= codeview.MaxModules {
			p.log.Warn("import has no module slot", zap.String("import", imp.Filename), zap.Int("position", i))
			continue
		}
		lookup := &Lookup{
			Filename:      imp.Filename,
			Format:        msf.FormatJG,
			TimeDateStamp: imp.TimeDateStamp,
			Age:           imp.Age,
		}
		path, err := p.locator.Locate(lookup, dir)
		if err != nil {
			p.report.skip(errors.Wrapf(err, "import %s", imp.Filename))
			continue
		}
		if err := p.processFile(path, lookup, i); err != nil {
			p.report.skip(errors.Wrapf(err, "import %s", imp.Filename))
			continue
		}
		p.report.Imports = append(p.report.Imports, path)
	}
}

func (p *pass) processTypes(c *msf.Container, log *zap.Logger) {
	data, err := requireStream(c, streams.StreamTypes, "types")
	if err != nil {
		p.report.skip(err)
		return
	}
	hdr, err := streams.ReadTypesHeader(data)
	if err != nil {
		p.report.skip(err)
		return
	}
	if !streams.KnownTypesVersion(hdr.Version) {
		log.Warn("unknown types stream version", zap.Uint32("version", hdr.Version))
	}
	if !codeview.ValidFirstType(hdr.First) {
		p.report.skip(errors.Errorf("types stream starts at invalid index %#x", hdr.First))
		return
	}
	table := codeview.NewTypeTable(hdr.Records(data), hdr.First, hdr.Count())
	p.report.addTypes(codeview.ParseTypeTable(p.ctx, table))
}

// loadAddressMap completes the image's placement data from the PDB: the
// OMAP when the image has none, and the section headers. With an OMAP the
// pre-optimization headers are preferred, since symbol offsets refer to
// them.
func (p *pass) loadAddressMap(c *msf.Container, dbi *streams.DBIStream) {
	m := p.mapper
	dbg := dbi.DebugHeader
	if len(m.OMAP) == 0 {
		if data := p.debugStream(c, dbg, streams.DbgOmapFromSrc, "OMAP"); data != nil {
			m.OMAP = streams.ReadOMAP(data)
		}
	}
	if len(m.OMAP) > 0 {
		if data := p.debugStream(c, dbg, streams.DbgSectionHdrOrig, "original section headers"); data != nil {
			m.Sections = SectionsFromHeaders(streams.ReadSectionHeaders(data))
			return
		}
	}
	if len(m.Sections) == 0 {
		if data := p.debugStream(c, dbg, streams.DbgSectionHdr, "section headers"); data != nil {
			m.Sections = SectionsFromHeaders(streams.ReadSectionHeaders(data))
		}
	}
}

func (p *pass) debugStream(c *msf.Container, dbg *streams.OptionalDebugHeader, slot int, what string) []byte {
	idx := dbg.Stream(slot)
	if idx < 0 {
		return nil
	}
	data, err := c.Stream(idx)
	if err != nil {
		p.report.skip(errors.Wrap(err, what))
		return nil
	}
	return data
}

func (p *pass) stringTable(c *msf.Container, root *streams.Root) *streams.StringTable {
	idx, ok := root.NamedStreams[streams.NamesStreamName]
	if !ok {
		return nil
	}
	data, err := c.Stream(int(idx))
	if err != nil || data == nil {
		return nil
	}
	names, err := streams.ReadStringTable(data)
	if err != nil {
		p.report.skip(errors.Wrap(err, streams.NamesStreamName))
		return nil
	}
	return names
}

// moduleLines decodes the line information following a module's symbols:
// an old-style table when present, else the C13 subsections.
func (p *pass) moduleLines(data []byte, mod *streams.ModuleInfo, pascal bool, names *streams.StringTable, log *zap.Logger) codeview.LineTable {
	start := int(mod.SymByteSize)
	c11 := int(mod.C11ByteSize)
	c13 := int(mod.C13ByteSize)
	var (
		lines codeview.LineTable
		err   error
	)
	switch {
	case c11 > 0 && start+c11 <= len(data):
		lines, err = codeview.ParseLineTable(data[start:start+c11], pascal, p.sink)
	case c13 > 0 && start+c11+c13 <= len(data):
		lines, err = codeview.ParseC13Lines(data[start+c11:start+c11+c13], names, p.sink)
	}
	if err != nil {
		log.Warn("failed to parse line table", zap.String("module", mod.ModuleName), zap.Error(err))
	}
	return lines
}

// requireStream reads a stream that must be present.
func requireStream(c *msf.Container, idx int, what string) ([]byte, error) {
	data, err := c.Stream(idx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.Errorf("missing %s stream", what)
	}
	return data, nil
}
