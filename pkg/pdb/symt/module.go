package symt

import "sort"

// Module is the in-memory Sink. Entities are kept in creation order.
type Module struct {
	Name       string
	Types      []Type
	Sources    []string
	Compilands []*Compiland
	Variables  []*Variable
	Functions  []*Function
	Thunks     []*Thunk
	Publics    []*Public
	Constants  []*Constant

	sources map[string]SourceID
	udts    map[string]*UDT
	globals map[globalKey]*Variable
}

type globalKey struct {
	name string
	addr uint64
}

var _ Sink = (*Module)(nil)

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:    name,
		sources: make(map[string]SourceID),
		udts:    make(map[string]*UDT),
		globals: make(map[globalKey]*Variable),
	}
}

func (m *Module) NewBasic(kind BasicKind, name string, size uint64) *Basic {
	b := &Basic{Kind: kind, Name: name, ByteSize: size}
	m.Types = append(m.Types, b)
	return b
}

func (m *Module) NewPointer(to Type, size uint64) *Pointer {
	p := &Pointer{To: to, ByteSize: size}
	m.Types = append(m.Types, p)
	return p
}

func (m *Module) NewArray(elem, index Type, count uint32) *Array {
	a := &Array{Element: elem, Index: index, Count: count}
	m.Types = append(m.Types, a)
	return a
}

func (m *Module) NewUDT(kind UDTKind, name string, size uint64) *UDT {
	u := &UDT{Kind: kind, Name: name, ByteSize: size}
	m.Types = append(m.Types, u)
	if name != "" {
		if _, ok := m.udts[name]; !ok {
			m.udts[name] = u
		}
	}
	return u
}

func (m *Module) SetUDTSize(u *UDT, size uint64) {
	u.ByteSize = size
}

// FindUDT returns the first UDT registered under name, or nil.
func (m *Module) FindUDT(name string) *UDT {
	if name == "" {
		return nil
	}
	return m.udts[name]
}

func (m *Module) AddUDTElement(u *UDT, name string, t Type, bitOffset, bitSize uint32) {
	u.Members = append(u.Members, &Member{Name: name, Type: t, BitOffset: bitOffset, BitSize: bitSize})
}

func (m *Module) NewEnum(name string, base Type) *Enum {
	e := &Enum{Name: name, Base: base}
	m.Types = append(m.Types, e)
	return e
}

func (m *Module) AddEnumElement(e *Enum, name string, value int64) {
	e.Values = append(e.Values, Enumerator{Name: name, Value: value})
}

func (m *Module) NewFuncSignature(ret Type, conv CallConv) *FuncSignature {
	f := &FuncSignature{Return: ret, Conv: conv}
	m.Types = append(m.Types, f)
	return f
}

func (m *Module) SetFuncSignatureReturn(sig *FuncSignature, ret Type) {
	sig.Return = ret
}

func (m *Module) AddFuncSignatureParam(sig *FuncSignature, param Type) {
	sig.Params = append(sig.Params, param)
}

func (m *Module) NewTypedef(t Type, name string) *Typedef {
	td := &Typedef{Name: name, Type: t}
	m.Types = append(m.Types, td)
	return td
}

// NewSource registers a source file name, returning the existing id when
// the name is already known.
func (m *Module) NewSource(name string) SourceID {
	if id, ok := m.sources[name]; ok {
		return id
	}
	id := SourceID(len(m.Sources))
	m.Sources = append(m.Sources, name)
	m.sources[name] = id
	return id
}

// SourceName returns the file name of id, or "" when unknown.
func (m *Module) SourceName(id SourceID) string {
	if id < 0 || int(id) >= len(m.Sources) {
		return ""
	}
	return m.Sources[id]
}

func (m *Module) NewCompiland(name string, source SourceID) *Compiland {
	c := &Compiland{Name: name, Source: source}
	m.Compilands = append(m.Compilands, c)
	return c
}

// NewGlobalVariable registers a variable. A variable seen again under the
// same name at the same nonzero address (the global stream and a module
// stream both carry it) is returned as is, completed with the type and
// compiland the earlier record lacked.
func (m *Module) NewGlobalVariable(comp *Compiland, name string, static, threadLocal bool, addr uint64, t Type) *Variable {
	key := globalKey{name, addr}
	if v, ok := m.globals[key]; ok && addr != 0 {
		if v.Type == nil {
			v.Type = t
		}
		if v.Compiland == nil {
			v.Compiland = comp
		}
		return v
	}
	v := &Variable{Compiland: comp, Name: name, Static: static, ThreadLocal: threadLocal, Address: addr, Type: t}
	m.Variables = append(m.Variables, v)
	if addr != 0 {
		m.globals[key] = v
	}
	return v
}

func (m *Module) NewFunction(comp *Compiland, name string, addr, length uint64, t Type) *Function {
	f := &Function{Compiland: comp, Name: name, Address: addr, Length: length, Type: t}
	m.Functions = append(m.Functions, f)
	return f
}

func (m *Module) AddFuncLine(f *Function, source SourceID, line, offset uint32) {
	f.Lines = append(f.Lines, Line{Source: source, Line: line, Offset: offset})
}

// AddFuncLocal attaches local to block, or to the function itself when
// block is nil.
func (m *Module) AddFuncLocal(f *Function, block *Block, local *Local) {
	if block != nil {
		block.Locals = append(block.Locals, local)
		return
	}
	f.Locals = append(f.Locals, local)
}

func (m *Module) AddFuncPoint(f *Function, kind PointKind, offset uint32, name string) {
	f.Points = append(f.Points, Point{Kind: kind, Offset: offset, Name: name})
}

func (m *Module) OpenBlock(f *Function, parent *Block, offset, length uint32) *Block {
	b := &Block{Offset: offset, Length: length, Parent: parent}
	if parent != nil {
		parent.Blocks = append(parent.Blocks, b)
	} else {
		f.Blocks = append(f.Blocks, b)
	}
	return b
}

// CloseBlock ends b and returns the enclosing block, if any.
func (m *Module) CloseBlock(f *Function, b *Block) *Block {
	if b == nil {
		return nil
	}
	return b.Parent
}

// NormalizeFunction sorts the line table by offset and drops duplicate
// entries.
func (m *Module) NormalizeFunction(f *Function) {
	sort.SliceStable(f.Lines, func(i, j int) bool {
		return f.Lines[i].Offset < f.Lines[j].Offset
	})
	out := f.Lines[:0]
	for i, l := range f.Lines {
		if i > 0 && l == out[len(out)-1] {
			continue
		}
		out = append(out, l)
	}
	f.Lines = out
	f.Normalized = true
}

func (m *Module) NewThunk(comp *Compiland, name string, ordinal uint8, addr, length uint64) *Thunk {
	t := &Thunk{Compiland: comp, Name: name, Ordinal: ordinal, Address: addr, Length: length}
	m.Thunks = append(m.Thunks, t)
	return t
}

func (m *Module) NewPublic(comp *Compiland, name string, addr uint64, function bool) *Public {
	p := &Public{Compiland: comp, Name: name, Address: addr, Function: function}
	m.Publics = append(m.Publics, p)
	return p
}

func (m *Module) NewConstant(comp *Compiland, name string, t Type, value int64) *Constant {
	c := &Constant{Compiland: comp, Name: name, Type: t, Value: value}
	m.Constants = append(m.Constants, c)
	return c
}
