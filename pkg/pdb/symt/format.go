package symt

import (
	"fmt"
	"strings"
)

const maxFormatDepth = 16

// Format renders t as a C-like type string. Named UDTs and enums are not
// expanded, so self-referential types terminate.
func Format(t Type) string {
	return format(t, 0)
}

func format(t Type, depth int) string {
	if t == nil {
		return "<unknown>"
	}
	if depth > maxFormatDepth {
		return "..."
	}

	switch v := t.(type) {
	case *Basic:
		return v.Name
	case *Pointer:
		if sig, ok := v.To.(*FuncSignature); ok {
			return formatSignature(sig, "(*)", depth)
		}
		return format(v.To, depth+1) + " *"
	case *Array:
		return fmt.Sprintf("%s[%d]", format(v.Element, depth+1), v.Count)
	case *UDT:
		name := v.Name
		if name == "" {
			name = "<unnamed>"
		}
		return v.Kind.String() + " " + name
	case *Enum:
		if v.Name == "" {
			return "enum <unnamed>"
		}
		return "enum " + v.Name
	case *FuncSignature:
		return formatSignature(v, "", depth)
	case *Typedef:
		return v.Name
	default:
		return fmt.Sprintf("<%s>", t.Tag())
	}
}

func formatSignature(sig *FuncSignature, inner string, depth int) string {
	params := make([]string, 0, len(sig.Params))
	for _, p := range sig.Params {
		params = append(params, format(p, depth+1))
	}
	ret := format(sig.Return, depth+1)
	if sig.Return == nil {
		ret = "void"
	}

	var b strings.Builder
	b.WriteString(ret)
	if cc := sig.Conv.String(); cc != "" && inner == "" {
		b.WriteString(" " + cc)
	}
	if inner != "" {
		b.WriteString(" " + inner)
	}
	b.WriteString(" (")
	b.WriteString(strings.Join(params, ", "))
	b.WriteString(")")
	return b.String()
}
