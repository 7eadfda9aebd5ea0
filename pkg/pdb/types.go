package pdb

import (
	"sort"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/jtang613/cvsym/pkg/pdb/streams"
	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// PDBInfo summarizes a decode pass.
type PDBInfo struct {
	Format   string   `json:"format"`
	Path     string   `json:"path,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Key      string   `json:"key,omitempty"`
	GUID     string   `json:"guid,omitempty"`
	Age      uint32   `json:"age,omitempty"`
	Machine  string   `json:"machine"`
	Modules  int      `json:"modules"`
	Types    int      `json:"types"`
	Records  int      `json:"symbol_records"`
	Unknown  int      `json:"unknown_records"`
	Imports  []string `json:"imports,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
}

// NewPDBInfo flattens a report.
func NewPDBInfo(r *Report) *PDBInfo {
	info := &PDBInfo{
		Format:  r.Format,
		Path:    r.PDB,
		Machine: streams.MachineTypeName(r.Machine),
		Modules: r.Modules,
		Types:   r.Types.Decoded,
		Records: r.Symbols.Records,
		Unknown: r.Symbols.Unknown,
		Imports: r.Imports,
	}
	if l := r.Lookup; l != nil {
		info.Filename = l.Filename
		info.Key = l.Key()
		info.Age = l.Age
		if l.GUID != uuid.Nil {
			info.GUID = l.GUID.String()
		}
	}
	for _, err := range multierr.Errors(r.Skipped) {
		info.Skipped = append(info.Skipped, err.Error())
	}
	return info
}

// Function represents a function/procedure symbol.
type Function struct {
	Name      string  `json:"name"`
	Address   uint64  `json:"address"`
	Length    uint64  `json:"length"`
	Signature string  `json:"signature"`
	Compiland string  `json:"compiland,omitempty"`
	Params    []Local `json:"params,omitempty"`
	Locals    []Local `json:"locals,omitempty"`
}

// Local is a parameter or local variable.
type Local struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name"`
	Register uint16 `json:"register,omitempty"`
	Offset   int32  `json:"offset"`
}

// Variable represents a data/variable symbol.
type Variable struct {
	Name        string `json:"name"`
	Address     uint64 `json:"address"`
	TypeName    string `json:"type_name"`
	Static      bool   `json:"static,omitempty"`
	ThreadLocal bool   `json:"thread_local,omitempty"`
	Compiland   string `json:"compiland,omitempty"`
}

// TypeInfo represents a decoded type.
type TypeInfo struct {
	Index     uint32      `json:"index,omitempty"`
	Kind      string      `json:"kind"`
	Name      string      `json:"name"`
	Size      uint64      `json:"size,omitempty"`
	Signature string      `json:"signature"`
	Members   []Member    `json:"members,omitempty"`
	Values    []EnumValue `json:"values,omitempty"`
}

// Member represents a struct/class/union member.
type Member struct {
	Name      string `json:"name"`
	TypeName  string `json:"type_name"`
	Offset    uint32 `json:"offset"`
	BitOffset uint32 `json:"bit_offset,omitempty"`
	BitSize   uint32 `json:"bit_size,omitempty"`
}

// EnumValue is one enumerator.
type EnumValue struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// PublicSymbol represents an entry of the public symbol table.
type PublicSymbol struct {
	Name     string `json:"name"`
	Address  uint64 `json:"address"`
	Function bool   `json:"function,omitempty"`
}

// LineInfo maps an address to a source line.
type LineInfo struct {
	Function string `json:"function"`
	Source   string `json:"source"`
	Line     uint32 `json:"line"`
	Address  uint64 `json:"address"`
}

func compilandName(c *symt.Compiland) string {
	if c == nil {
		return ""
	}
	return c.Name
}

// Functions lists the functions of m.
func Functions(m *symt.Module) []Function {
	out := make([]Function, 0, len(m.Functions))
	for _, f := range m.Functions {
		fn := Function{
			Name:      f.Name,
			Address:   f.Address,
			Length:    f.Length,
			Signature: symt.Format(f.Type),
			Compiland: compilandName(f.Compiland),
		}
		for _, l := range f.Locals {
			v := Local{Name: l.Name, TypeName: symt.Format(l.Type), Register: l.Location.Register, Offset: l.Location.Offset}
			if l.Param {
				fn.Params = append(fn.Params, v)
			} else {
				fn.Locals = append(fn.Locals, v)
			}
		}
		out = append(out, fn)
	}
	return out
}

// Variables lists the global and static variables of m.
func Variables(m *symt.Module) []Variable {
	out := make([]Variable, 0, len(m.Variables))
	for _, v := range m.Variables {
		out = append(out, Variable{
			Name:        v.Name,
			Address:     v.Address,
			TypeName:    symt.Format(v.Type),
			Static:      v.Static,
			ThreadLocal: v.ThreadLocal,
			Compiland:   compilandName(v.Compiland),
		})
	}
	return out
}

// PublicSymbols lists the public symbols of m.
func PublicSymbols(m *symt.Module) []PublicSymbol {
	out := make([]PublicSymbol, 0, len(m.Publics))
	for _, p := range m.Publics {
		out = append(out, PublicSymbol{Name: p.Name, Address: p.Address, Function: p.Function})
	}
	return out
}

// Types lists the named structures, unions, enumerations and typedefs of m.
func Types(m *symt.Module) []TypeInfo {
	var out []TypeInfo
	for _, t := range m.Types {
		switch t.(type) {
		case *symt.UDT, *symt.Enum, *symt.Typedef:
			if t.TypeName() != "" {
				out = append(out, *DescribeType(0, t))
			}
		}
	}
	return out
}

// DescribeType renders t, with its members or values.
func DescribeType(index uint32, t symt.Type) *TypeInfo {
	ti := &TypeInfo{
		Index:     index,
		Kind:      t.Tag().String(),
		Name:      t.TypeName(),
		Size:      t.Size(),
		Signature: symt.Format(t),
	}
	switch t := t.(type) {
	case *symt.UDT:
		ti.Kind = t.Kind.String()
		for _, m := range t.Members {
			ti.Members = append(ti.Members, Member{
				Name:      m.Name,
				TypeName:  symt.Format(m.Type),
				Offset:    m.BitOffset / 8,
				BitOffset: m.BitOffset % 8,
				BitSize:   bitfieldSize(m),
			})
		}
	case *symt.Enum:
		for _, v := range t.Values {
			ti.Values = append(ti.Values, EnumValue{Name: v.Name, Value: v.Value})
		}
	}
	return ti
}

// bitfieldSize returns the width of a bitfield member, or 0 for a member
// spanning its whole type.
func bitfieldSize(m *symt.Member) uint32 {
	if m.Type != nil && uint64(m.BitSize) == m.Type.Size()*8 {
		return 0
	}
	return m.BitSize
}

// Lines lists the line numbers of every function of m by address.
func Lines(m *symt.Module) []LineInfo {
	var out []LineInfo
	for _, f := range m.Functions {
		for _, l := range f.Lines {
			out = append(out, LineInfo{
				Function: f.Name,
				Source:   m.SourceName(l.Source),
				Line:     l.Line,
				Address:  f.Address + uint64(l.Offset),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
