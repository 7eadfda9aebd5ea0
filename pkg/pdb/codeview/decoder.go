package codeview

import (
	"go.uber.org/zap"

	"github.com/jtang613/cvsym/pkg/pdb/cursor"
	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// AddressMapper turns a segment:offset pair into an absolute address.
// Segments are 1-based section numbers; 0 means no address.
type AddressMapper interface {
	Address(seg uint16, off uint32) uint64
}

// SymbolOptions tune what the symbol decoder emits.
type SymbolOptions struct {
	NoPublics bool
}

// SymbolStats counts the records seen by a SymbolDecoder.
type SymbolStats struct {
	Records  int
	Unknown  int
	Failed   int
	Skipped  int
	Emitted  int
	Unpadded int
}

// SymbolDecoder walks symbol record streams, emitting entities into the
// sink of its type context and resolving their types through it.
type SymbolDecoder struct {
	Stats SymbolStats

	ctx  *TypeContext
	addr AddressMapper
	opts SymbolOptions
	log  *zap.Logger
}

// NewSymbolDecoder returns a decoder resolving addresses through addr.
func NewSymbolDecoder(ctx *TypeContext, addr AddressMapper, opts SymbolOptions) *SymbolDecoder {
	return &SymbolDecoder{ctx: ctx, addr: addr, opts: opts, log: ctx.log}
}

// snarfState is the running state of one symbol stream.
type snarfState struct {
	compiland *symt.Compiland
	fn        *symt.Function
	block     *symt.Block
	lines     LineTable
}

// Snarf decodes the records of data from offset up to size. Procedures
// take their line numbers from lines. A function still open at the end of
// the stream is normalized as if it had been closed.
func (d *SymbolDecoder) Snarf(data []byte, offset, size int, lines LineTable) {
	size = min(size, len(data))
	st := &snarfState{lines: lines}

	for i := offset; i+4 <= size; {
		c := cursor.New(data[i:size])
		reclen, _ := c.U16()
		id, _ := c.U16()
		length := int(reclen) + 2
		if i+length > size || id == 0 || length < 4 {
			break
		}
		if length&3 != 0 {
			d.Stats.Unpadded++
			d.log.Debug("unpadded symbol record", zap.Int("offset", i), zap.Int("length", length))
		}
		d.Stats.Records++

		rec := data[i : i+length]
		d.record(st, id, rec)

		// Reference records are followed by a Pascal name their length
		// does not cover.
		switch id {
		case S_PROCREF_V1, S_DATAREF_V1, S_LPROCREF_V1:
			if i+length < size {
				length += (int(data[i+length]) + 1 + 3) &^ 3
			}
		}
		i += length
	}

	if st.fn != nil {
		d.ctx.sink.NormalizeFunction(st.fn)
	}
}

func (d *SymbolDecoder) record(st *snarfState, id uint16, rec []byte) {
	sink := d.ctx.sink
	c := cursor.New(rec)
	c.Skip(4)
	r := newRecReader(c)

	switch id {
	case S_GDATA_V1, S_GDATA_V2, S_GDATA_V3, S_LDATA_V1, S_LDATA_V2, S_LDATA_V3:
		s := readDataSym(id, r)
		if r.err == nil {
			static := id == S_LDATA_V1 || id == S_LDATA_V2 || id == S_LDATA_V3
			d.addVariable(st, s, static, false)
		}

	case S_GTHREAD_V1, S_GTHREAD_V2, S_GTHREAD_V3, S_LTHREAD_V1, S_LTHREAD_V2, S_LTHREAD_V3:
		s := readDataSym(id, r)
		if r.err == nil {
			static := id == S_LTHREAD_V1 || id == S_LTHREAD_V2 || id == S_LTHREAD_V3
			d.addVariable(st, s, static, true)
		}

	case S_PUB_V1, S_PUB_V2, S_PUB_V3:
		s := readDataSym(id, r)
		if r.err == nil && !d.opts.NoPublics {
			// The V3 type slot holds flags; bit 1 marks functions.
			function := id == S_PUB_V3 && s.typ&0x2 != 0
			sink.NewPublic(st.compiland, s.name, d.address(s.segment, s.offset), function)
			d.Stats.Emitted++
		}

	case S_THUNK_V1, S_THUNK_V3:
		t := readThunkSym(id, r)
		if r.err == nil {
			sink.NewThunk(st.compiland, t.name, t.ordinal, d.address(t.segment, t.offset), uint64(t.length))
			d.Stats.Emitted++
		}

	case S_GPROC_V1, S_GPROC_V2, S_GPROC_V3, S_LPROC_V1, S_LPROC_V2, S_LPROC_V3,
		S_GPROC_ID, S_LPROC_ID:
		p := readProcSym(id, r)
		if r.err == nil {
			d.openFunction(st, id, p)
		}

	case S_BPREL_V1, S_BPREL_V2, S_BPREL_V3, S_REGREL_V1, S_REGREL_V2, S_REGREL_V3,
		S_REGISTER_V1, S_REGISTER_V2, S_REGISTER_V3:
		l := readLocalSym(id, r)
		if r.err == nil {
			d.addLocal(st, l)
		}

	case S_BLOCK_V1, S_BLOCK_V3:
		r.skip(8) // parent, end
		length := r.u32()
		off := r.u32()
		seg := r.u16()
		r.name(id == S_BLOCK_V1)
		if r.err != nil {
			break
		}
		if st.fn == nil {
			d.log.Warn("block outside of a function", zap.Uint32("offset", off))
			break
		}
		if st.block != nil {
			d.log.Debug("nested block", zap.String("function", st.fn.Name))
		}
		rel := d.address(seg, off) - st.fn.Address
		st.block = sink.OpenBlock(st.fn, st.block, uint32(rel), length)

	case S_END_V1, S_PROC_ID_END:
		switch {
		case st.block != nil:
			st.block = sink.CloseBlock(st.fn, st.block)
		case st.fn != nil:
			sink.NormalizeFunction(st.fn)
			st.fn = nil
		default:
			d.log.Debug("end marker with nothing open")
		}

	case S_LABEL_V1, S_LABEL_V3:
		off := r.u32()
		seg := r.u16()
		r.u8() // flags
		name := r.name(id == S_LABEL_V1)
		if r.err != nil {
			break
		}
		if st.fn == nil {
			d.log.Debug("label outside of a function", zap.String("label", name))
			break
		}
		rel := d.address(seg, off) - st.fn.Address
		sink.AddFuncPoint(st.fn, symt.PointLabel, uint32(rel), name)

	case S_OBJNAME_V1, S_OBJNAME_V3:
		r.u32() // signature
		name := r.name(id == S_OBJNAME_V1)
		if r.err == nil {
			d.log.Debug("object file", zap.String("name", name))
			st.compiland = sink.NewCompiland(name, sink.NewSource(name))
		}

	case S_COMPILAND_V1, S_COMPILAND_V2, S_COMPILAND_V3, S_COMPILE3:
		d.log.Debug("compiland marker", zap.String("kind", SymbolKindName(id)))

	case S_CONSTANT_V1, S_CONSTANT_V2, S_CONSTANT_V3:
		typ := r.index(id != S_CONSTANT_V1)
		v := r.numeric()
		name := r.name(id != S_CONSTANT_V3)
		if r.err != nil {
			break
		}
		if !v.Exact {
			d.log.Warn("approximated constant value", zap.String("name", name), zap.Uint16("leaf", v.Kind))
		}
		if id == S_CONSTANT_V3 {
			d.log.Debug("constant not registered", zap.String("name", name), zap.Int64("value", v.Value))
			break
		}
		sink.NewConstant(st.compiland, name, d.ctx.GetType(typ, false), v.Value)
		d.Stats.Emitted++

	case S_UDT_V1, S_UDT_V2, S_UDT_V3:
		typ := r.index(id != S_UDT_V1)
		name := r.name(id != S_UDT_V3)
		if r.err != nil || typ == 0 {
			break
		}
		t := d.ctx.GetType(typ, false)
		if t == nil {
			d.log.Warn("typedef of unresolved type", zap.String("name", name), zap.Uint32("index", typ))
			break
		}
		sink.NewTypedef(t, name)
		d.Stats.Emitted++

	case S_PROCREF_V1, S_DATAREF_V1, S_LPROCREF_V1:
		// Only the trailing name matters, and Snarf skips it.

	default:
		if isAdvisory(id) {
			d.Stats.Skipped++
			return
		}
		d.Stats.Unknown++
		d.log.Warn("unsupported symbol record",
			zap.String("kind", SymbolKindName(id)),
			zap.Int("length", len(rec)),
			zap.String("dump", Dump(rec)))
		return
	}

	if r.err != nil {
		d.Stats.Failed++
		d.log.Warn("failed to decode symbol record",
			zap.String("kind", SymbolKindName(id)), zap.Error(r.err))
	}
}

func (d *SymbolDecoder) address(seg uint16, off uint32) uint64 {
	if d.addr == nil {
		return 0
	}
	return d.addr.Address(seg, off)
}

func (d *SymbolDecoder) addVariable(st *snarfState, s dataSym, static, threadLocal bool) {
	if s.name == "" {
		return
	}
	d.ctx.sink.NewGlobalVariable(st.compiland, s.name, static, threadLocal,
		d.address(s.segment, s.offset), d.ctx.GetType(s.typ, false))
	d.Stats.Emitted++
}

func (d *SymbolDecoder) openFunction(st *snarfState, id uint16, p procSym) {
	sink := d.ctx.sink
	if st.fn != nil {
		d.log.Warn("nested function", zap.String("open", st.fn.Name), zap.String("new", p.name))
	}
	var t symt.Type
	// The ID variants reference the item table, which is not decoded.
	if id != S_GPROC_ID && id != S_LPROC_ID {
		t = d.ctx.GetType(p.typ, false)
	}
	st.fn = sink.NewFunction(st.compiland, p.name, d.address(p.segment, p.offset), uint64(p.length), t)
	st.block = nil
	d.Stats.Emitted++

	d.addFuncLines(st.fn, st.lines, p.segment, p.offset, p.length)
	sink.AddFuncPoint(st.fn, symt.PointDebugStart, p.debugStart, "")
	sink.AddFuncPoint(st.fn, symt.PointDebugEnd, p.debugEnd, "")
}

// addFuncLines attaches the lines of every segment covering the function
// start whose offsets fall inside [off, off+length), relative to off.
func (d *SymbolDecoder) addFuncLines(fn *symt.Function, lines LineTable, seg uint16, off, length uint32) {
	for _, s := range lines.Find(seg, off) {
		for j, o := range s.Offsets {
			if o >= off && o-off < length {
				d.ctx.sink.AddFuncLine(fn, s.Source, s.Lines[j], o-off)
			}
		}
	}
}

// addLocal attaches a local to the innermost open block. Frame and
// register relative locals at positive offsets are taken as parameters.
func (d *SymbolDecoder) addLocal(st *snarfState, l localSym) {
	if st.fn == nil {
		d.log.Warn("local outside of a function", zap.String("name", l.name))
		return
	}
	local := &symt.Local{
		Name:     l.name,
		Param:    l.loc.Kind != symt.LocRegister && l.loc.Offset > 0,
		Location: l.loc,
		Type:     d.ctx.GetType(l.typ, false),
	}
	d.ctx.sink.AddFuncLocal(st.fn, st.block, local)
	d.Stats.Emitted++
}
