// Package codeview decodes CodeView type and symbol records, and the line
// tables that go with them, into a symt.Sink.
package codeview

import (
	"fmt"

	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// Symbol record kinds. As with type leaves, V1 records use 16-bit type
// indices and Pascal names, V2 widens type indices and V3 uses C strings.
const (
	S_COMPILAND_V1 = 0x0001
	S_REGISTER_V1  = 0x0002
	S_CONSTANT_V1  = 0x0003
	S_UDT_V1       = 0x0004
	S_SSEARCH_V1   = 0x0005
	S_END_V1       = 0x0006
	S_SKIP_V1      = 0x0007
	S_CVRESERVE_V1 = 0x0008
	S_OBJNAME_V1   = 0x0009
	S_ENDARG_V1    = 0x000a
	S_RETURN_V1    = 0x000d
	S_ENTRYTHIS_V1 = 0x000e

	S_BPREL_V1    = 0x0200
	S_LDATA_V1    = 0x0201
	S_GDATA_V1    = 0x0202
	S_PUB_V1      = 0x0203
	S_LPROC_V1    = 0x0204
	S_GPROC_V1    = 0x0205
	S_THUNK_V1    = 0x0206
	S_BLOCK_V1    = 0x0207
	S_WITH_V1     = 0x0208
	S_LABEL_V1    = 0x0209
	S_CEXMODEL_V1 = 0x020a
	S_VFTPATH_V1  = 0x020b
	S_REGREL_V1   = 0x020c
	S_LTHREAD_V1  = 0x020d
	S_GTHREAD_V1  = 0x020e

	S_PROCREF_V1  = 0x0400
	S_DATAREF_V1  = 0x0401
	S_ALIGN_V1    = 0x0402
	S_LPROCREF_V1 = 0x0403

	S_REGISTER_V2  = 0x1001
	S_CONSTANT_V2  = 0x1002
	S_UDT_V2       = 0x1003
	S_BPREL_V2     = 0x1006
	S_LDATA_V2     = 0x1007
	S_GDATA_V2     = 0x1008
	S_PUB_V2       = 0x1009
	S_LPROC_V2     = 0x100a
	S_GPROC_V2     = 0x100b
	S_VFTTABLE_V2  = 0x100c
	S_REGREL_V2    = 0x100d
	S_LTHREAD_V2   = 0x100e
	S_GTHREAD_V2   = 0x100f
	S_FRAMEINFO_V2 = 0x1012
	S_COMPILAND_V2 = 0x1013

	S_OBJNAME_V3     = 0x1101
	S_THUNK_V3       = 0x1102
	S_BLOCK_V3       = 0x1103
	S_LABEL_V3       = 0x1105
	S_REGISTER_V3    = 0x1106
	S_CONSTANT_V3    = 0x1107
	S_UDT_V3         = 0x1108
	S_BPREL_V3       = 0x110b
	S_LDATA_V3       = 0x110c
	S_GDATA_V3       = 0x110d
	S_PUB_V3         = 0x110e
	S_LPROC_V3       = 0x110f
	S_GPROC_V3       = 0x1110
	S_REGREL_V3      = 0x1111
	S_LTHREAD_V3     = 0x1112
	S_GTHREAD_V3     = 0x1113
	S_COMPILAND_V3   = 0x1116
	S_UNAMESPACE     = 0x1124
	S_PROCREF_V3     = 0x1125
	S_DATAREF_V3     = 0x1126
	S_LPROCREF_V3    = 0x1127
	S_TOKENREF       = 0x1129
	S_SECTINFO       = 0x1136
	S_SUBSECTINFO    = 0x1137
	S_ENTRYPOINT     = 0x1138
	S_CALLSITEINFO   = 0x1139
	S_SECUCOOKIE     = 0x113a
	S_COMPILE3       = 0x113c
	S_ENVBLOCK       = 0x113d
	S_LOCAL          = 0x113e
	S_DEFRANGE       = 0x113f
	S_DEFRANGE_END   = 0x1145
	S_LPROC_ID       = 0x1146
	S_GPROC_ID       = 0x1147
	S_BUILDINFO      = 0x114c
	S_INLINESITE     = 0x114d
	S_INLINESITE_END = 0x114e
	S_PROC_ID_END    = 0x114f
	S_FILESTATIC     = 0x1153
	S_CALLEES        = 0x115a
	S_CALLERS        = 0x115b
	S_HEAPALLOCSITE  = 0x115e
	S_INLINEES       = 0x1168
)

// isAdvisory reports whether id is a record the decoder skips on purpose:
// compiler options, search and alignment markers, and the records of newer
// toolchains that carry nothing the sink models.
func isAdvisory(id uint16) bool {
	switch id {
	case S_SSEARCH_V1, S_SKIP_V1, S_CVRESERVE_V1, S_ENDARG_V1, S_RETURN_V1, S_ENTRYTHIS_V1,
		S_ALIGN_V1, S_CEXMODEL_V1, S_VFTPATH_V1, S_WITH_V1, S_VFTTABLE_V2, S_FRAMEINFO_V2,
		S_PROCREF_V3, S_DATAREF_V3, S_LPROCREF_V3, S_UNAMESPACE, S_TOKENREF,
		S_SECTINFO, S_SUBSECTINFO, S_ENTRYPOINT, S_CALLSITEINFO, S_SECUCOOKIE,
		S_ENVBLOCK, S_LOCAL, S_BUILDINFO, S_INLINESITE, S_INLINESITE_END, S_FILESTATIC,
		S_CALLEES, S_CALLERS, S_HEAPALLOCSITE, S_INLINEES:
		return true
	}
	return id >= S_DEFRANGE && id <= S_DEFRANGE_END
}

var symbolNames = map[uint16]string{
	S_COMPILAND_V1: "S_COMPILAND_V1", S_COMPILAND_V2: "S_COMPILAND_V2", S_COMPILAND_V3: "S_COMPILAND_V3",
	S_OBJNAME_V1: "S_OBJNAME_V1", S_OBJNAME_V3: "S_OBJNAME_V3",
	S_REGISTER_V1: "S_REGISTER_V1", S_REGISTER_V2: "S_REGISTER_V2", S_REGISTER_V3: "S_REGISTER_V3",
	S_CONSTANT_V1: "S_CONSTANT_V1", S_CONSTANT_V2: "S_CONSTANT_V2", S_CONSTANT_V3: "S_CONSTANT_V3",
	S_UDT_V1: "S_UDT_V1", S_UDT_V2: "S_UDT_V2", S_UDT_V3: "S_UDT_V3",
	S_END_V1: "S_END", S_PROC_ID_END: "S_PROC_ID_END",
	S_BPREL_V1: "S_BPREL_V1", S_BPREL_V2: "S_BPREL_V2", S_BPREL_V3: "S_BPREL_V3",
	S_LDATA_V1: "S_LDATA_V1", S_LDATA_V2: "S_LDATA_V2", S_LDATA_V3: "S_LDATA_V3",
	S_GDATA_V1: "S_GDATA_V1", S_GDATA_V2: "S_GDATA_V2", S_GDATA_V3: "S_GDATA_V3",
	S_PUB_V1: "S_PUB_V1", S_PUB_V2: "S_PUB_V2", S_PUB_V3: "S_PUB_V3",
	S_LPROC_V1: "S_LPROC_V1", S_LPROC_V2: "S_LPROC_V2", S_LPROC_V3: "S_LPROC_V3",
	S_GPROC_V1: "S_GPROC_V1", S_GPROC_V2: "S_GPROC_V2", S_GPROC_V3: "S_GPROC_V3",
	S_LPROC_ID: "S_LPROC_ID", S_GPROC_ID: "S_GPROC_ID",
	S_THUNK_V1: "S_THUNK_V1", S_THUNK_V3: "S_THUNK_V3",
	S_BLOCK_V1: "S_BLOCK_V1", S_BLOCK_V3: "S_BLOCK_V3",
	S_LABEL_V1: "S_LABEL_V1", S_LABEL_V3: "S_LABEL_V3",
	S_REGREL_V1: "S_REGREL_V1", S_REGREL_V2: "S_REGREL_V2", S_REGREL_V3: "S_REGREL_V3",
	S_LTHREAD_V1: "S_LTHREAD_V1", S_LTHREAD_V2: "S_LTHREAD_V2", S_LTHREAD_V3: "S_LTHREAD_V3",
	S_GTHREAD_V1: "S_GTHREAD_V1", S_GTHREAD_V2: "S_GTHREAD_V2", S_GTHREAD_V3: "S_GTHREAD_V3",
	S_PROCREF_V1: "S_PROCREF_V1", S_DATAREF_V1: "S_DATAREF_V1", S_LPROCREF_V1: "S_LPROCREF_V1",
	S_PROCREF_V3: "S_PROCREF", S_DATAREF_V3: "S_DATAREF", S_LPROCREF_V3: "S_LPROCREF",
	S_SSEARCH_V1: "S_SSEARCH", S_ALIGN_V1: "S_ALIGN", S_COMPILE3: "S_COMPILE3",
}

// SymbolKindName returns the name for a symbol kind constant.
func SymbolKindName(kind uint16) string {
	if s, ok := symbolNames[kind]; ok {
		return s
	}
	return fmt.Sprintf("S_0x%04x", kind)
}

// Canonical shapes of the symbol records.

type dataSym struct {
	typ     uint32
	offset  uint32
	segment uint16
	name    string
}

func readDataSym(id uint16, r *recReader) dataSym {
	var s dataSym
	switch id {
	case S_LDATA_V1, S_GDATA_V1, S_PUB_V1, S_LTHREAD_V1, S_GTHREAD_V1:
		s.offset = r.u32()
		s.segment = r.u16()
		s.typ = uint32(r.u16())
		s.name = r.name(true)
	default:
		s.typ = r.u32()
		s.offset = r.u32()
		s.segment = r.u16()
		s.name = r.name(!isV3Symbol(id))
	}
	return s
}

type procSym struct {
	length     uint32
	debugStart uint32
	debugEnd   uint32
	typ        uint32
	offset     uint32
	segment    uint16
	flags      uint8
	name       string
}

func readProcSym(id uint16, r *recReader) procSym {
	var p procSym
	r.skip(12) // parent, end, next
	p.length = r.u32()
	p.debugStart = r.u32()
	p.debugEnd = r.u32()
	if id == S_LPROC_V1 || id == S_GPROC_V1 {
		p.offset = r.u32()
		p.segment = r.u16()
		p.typ = uint32(r.u16())
	} else {
		p.typ = r.u32()
		p.offset = r.u32()
		p.segment = r.u16()
	}
	p.flags = r.u8()
	p.name = r.name(!isV3Symbol(id))
	return p
}

type thunkSym struct {
	offset  uint32
	segment uint16
	length  uint16
	ordinal uint8
	name    string
}

func readThunkSym(id uint16, r *recReader) thunkSym {
	var t thunkSym
	r.skip(12)
	t.offset = r.u32()
	t.segment = r.u16()
	t.length = r.u16()
	t.ordinal = r.u8()
	t.name = r.name(id == S_THUNK_V1)
	return t
}

// localSym covers frame-relative, register-relative and register locals.
type localSym struct {
	loc  symt.Location
	typ  uint32
	name string
}

func readLocalSym(id uint16, r *recReader) localSym {
	var l localSym
	switch id {
	case S_BPREL_V1:
		l.loc.Offset = r.i32()
		l.typ = uint32(r.u16())
	case S_BPREL_V2, S_BPREL_V3:
		l.loc.Offset = r.i32()
		l.typ = r.u32()
	case S_REGREL_V1:
		l.loc.Kind = symt.LocRegisterRelative
		l.loc.Offset = r.i32()
		l.loc.Register = r.u16()
		l.typ = uint32(r.u16())
	case S_REGREL_V2, S_REGREL_V3:
		l.loc.Kind = symt.LocRegisterRelative
		l.loc.Offset = r.i32()
		l.typ = r.u32()
		l.loc.Register = r.u16()
	case S_REGISTER_V1:
		l.loc.Kind = symt.LocRegister
		l.typ = uint32(r.u16())
		l.loc.Register = r.u16()
	case S_REGISTER_V2, S_REGISTER_V3:
		l.loc.Kind = symt.LocRegister
		l.typ = r.u32()
		l.loc.Register = r.u16()
	}
	l.name = r.name(!isV3Symbol(id))
	return l
}

func isV3Symbol(id uint16) bool {
	return id >= 0x1100
}
