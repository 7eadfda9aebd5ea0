package codeview

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// MaxModules bounds the type slots of one decode pass: slot 0 for the
// image's own types plus imported PDBs.
const MaxModules = 32

// Defined-type arrays grow in chunks of this many entries.
const typeChunk = 0x100

// DefaultPointerSize is used for pointers whose record does not carry a
// width.
const DefaultPointerSize = 4

type typeSlot struct {
	allowed bool
	// nil entries are pending: referenced or not yet decoded.
	defined  []symt.Type
	detailed map[uint32]bool
}

// TypeContext resolves type indices for one decode pass. Indices below
// FirstDefinableType are built-in types. Above it, the top byte selects
// the owning module slot (0 means the current one) and the rest indexes
// that slot's defined types.
//
// A TypeContext is not safe for concurrent use; each pass builds its own.
type TypeContext struct {
	PointerSize uint64

	sink    symt.Sink
	log     *zap.Logger
	basic   *basicTypes
	slots   [MaxModules]typeSlot
	current int
	// self is the slot naming slot 0 from elsewhere, 0 when unset.
	self int
}

// NewTypeContext returns a context emitting into sink with slot 0
// selected. A nil logger discards diagnostics.
func NewTypeContext(sink symt.Sink, log *zap.Logger) *TypeContext {
	if log == nil {
		log = zap.NewNop()
	}
	c := &TypeContext{
		PointerSize: DefaultPointerSize,
		sink:        sink,
		log:         log,
		basic:       newBasicTypes(sink),
	}
	c.slots[0].allowed = true
	return c
}

// Sink returns the sink types are emitted into.
func (c *TypeContext) Sink() symt.Sink { return c.sink }

// Logger returns the context's logger.
func (c *TypeContext) Logger() *zap.Logger { return c.log }

// Current returns the selected module slot.
func (c *TypeContext) Current() int { return c.current }

// SelectModule makes slot the current module and allows lookups into it.
func (c *TypeContext) SelectModule(slot int) error {
	if slot < 0 || slot >= MaxModules {
		return errors.Errorf("module slot %d out of range", slot)
	}
	c.current = slot
	c.slots[slot].allowed = true
	return nil
}

// SetSelfSlot makes indices carrying slot resolve into slot 0. A PDB
// listing itself in its import table references its own types that way.
func (c *TypeContext) SetSelfSlot(slot int) error {
	if slot <= 0 || slot >= MaxModules {
		return errors.Errorf("module slot %d out of range", slot)
	}
	c.self = slot
	return nil
}

// GetType resolves idx. It returns nil for index 0, for unknown built-in
// indices and for user types not registered yet. Unless quiet, a failed
// lookup of a nonzero index is logged.
func (c *TypeContext) GetType(idx uint32, quiet bool) symt.Type {
	var t symt.Type
	if idx < FirstDefinableType {
		t = c.basic.get(idx)
	} else {
		slot := int(idx >> 24)
		local := idx & 0x00ffffff
		mod := c.current
		switch {
		case slot == 0:
		case slot == c.self:
			mod = 0
		default:
			mod = slot
		}
		if slot >= MaxModules || !c.slots[mod].allowed {
			c.log.Warn("type lookup in a module not loaded yet",
				zap.Int("slot", slot), zap.Uint32("index", idx))
		} else if n := local - FirstDefinableType; local >= FirstDefinableType && int(n) < len(c.slots[mod].defined) {
			t = c.slots[mod].defined[n]
		}
	}
	if t == nil && !quiet && idx != 0 {
		c.log.Warn("unresolved type index", zap.Uint32("index", idx))
	}
	return t
}

// AddType registers t under idx in the current module. Registering a
// different handle under an index already in use is logged and the new
// handle wins.
func (c *TypeContext) AddType(idx uint32, t symt.Type) bool {
	if idx < FirstDefinableType {
		c.log.Warn("refusing to register a built-in type index", zap.Uint32("index", idx))
		return false
	}
	local := idx & 0x00ffffff
	if local < FirstDefinableType {
		c.log.Warn("refusing to register a type index below the definable range", zap.Uint32("index", idx))
		return false
	}
	if idx>>24 != 0 {
		c.log.Warn("registering a type index carrying a module slot", zap.Uint32("index", idx))
	}
	slot := &c.slots[c.current]
	n := int(local - FirstDefinableType)
	if n >= len(slot.defined) {
		grown := make([]symt.Type, (n+typeChunk)&^(typeChunk-1))
		copy(grown, slot.defined)
		slot.defined = grown
	}
	if old := slot.defined[n]; old != nil && old != t {
		c.log.Warn("overwriting type", zap.Uint32("index", idx))
	}
	slot.defined[n] = t
	return true
}

// markDetailed records that the member list behind idx has been walked in
// the current module. It reports false when that already happened.
func (c *TypeContext) markDetailed(idx uint32) bool {
	slot := &c.slots[c.current]
	if slot.detailed == nil {
		slot.detailed = make(map[uint32]bool)
	}
	if slot.detailed[idx] {
		return false
	}
	slot.detailed[idx] = true
	return true
}

// Count returns the number of registered types in the current module.
func (c *TypeContext) Count() int {
	n := 0
	for _, t := range c.slots[c.current].defined {
		if t != nil {
			n++
		}
	}
	return n
}

// Each calls fn for every registered type of the current module in index
// order.
func (c *TypeContext) Each(fn func(idx uint32, t symt.Type)) {
	for n, t := range c.slots[c.current].defined {
		if t != nil {
			fn(FirstDefinableType+uint32(n), t)
		}
	}
}

// Reset drops every slot's registrations and selects slot 0. Built-in
// types stay cached.
func (c *TypeContext) Reset() {
	for i := range c.slots {
		c.slots[i] = typeSlot{}
	}
	c.slots[0].allowed = true
	c.current = 0
	c.self = 0
}

// TypeTable locates the raw records of the types table being decoded.
type TypeTable struct {
	data    []byte
	first   uint32
	offsets []uint32
}

// NewTypeTable indexes the records of a PDB types stream by walking their
// length prefixes. At most count records are indexed.
func NewTypeTable(records []byte, first uint32, count int) *TypeTable {
	t := &TypeTable{data: records, first: first}
	off := 0
	for i := 0; i < count && off+2 <= len(records); i++ {
		t.offsets = append(t.offsets, uint32(off))
		off += int(binary.LittleEndian.Uint16(records[off:])) + 2
	}
	return t
}

// NewOffsetTypeTable builds a table from explicit record offsets, as found
// in an OMF global types subsection.
func NewOffsetTypeTable(data []byte, first uint32, offsets []uint32) *TypeTable {
	return &TypeTable{data: data, first: first, offsets: offsets}
}

// First returns the index of the first record.
func (t *TypeTable) First() uint32 { return t.first }

// Len returns the number of indexed records.
func (t *TypeTable) Len() int { return len(t.offsets) }

// Record returns the raw record for idx, length prefix included. Indices
// outside the table, records too short to hold a leaf id, and records
// running past its end report false.
func (t *TypeTable) Record(idx uint32) ([]byte, bool) {
	if t == nil || idx < t.first || idx-t.first >= uint32(len(t.offsets)) {
		return nil, false
	}
	off := int(t.offsets[idx-t.first])
	if off+4 > len(t.data) {
		return nil, false
	}
	reclen := int(binary.LittleEndian.Uint16(t.data[off:]))
	end := off + 2 + reclen
	if reclen < 2 || end > len(t.data) {
		return nil, false
	}
	return t.data[off:end], true
}
