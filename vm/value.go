package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// Kind is the runtime tag of a Value.
type Kind uint8

const (
	KindUnit Kind = iota
	KindInt
	KindTruth
	KindText
	KindSign
	KindClosure
	KindSpell
	KindCell
)

var kindNames = [...]string{
	KindUnit:    "unit",
	KindInt:     "int",
	KindTruth:   "truth",
	KindText:    "text",
	KindSign:    "sign",
	KindClosure: "closure",
	KindSpell:   "spell",
	KindCell:    "cell",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a tagged runtime value. Sign instances, closures and cells are
// shared, reference-counted handles; everything else is copied.
type Value struct {
	kind Kind
	n    int64 // int, truth (0/1), spell chunk index
	s    string
	obj  interface{}
}

// Unit is the value of statements and of spells that release nothing.
var Unit = Value{}

// IntValue returns an integer value.
func IntValue(n int64) Value { return Value{kind: KindInt, n: n} }

// TruthValue returns a truth value.
func TruthValue(b bool) Value {
	if b {
		return Value{kind: KindTruth, n: 1}
	}
	return Value{kind: KindTruth}
}

// TextValue returns a text value.
func TextValue(s string) Value { return Value{kind: KindText, s: s} }

// SpellValue returns a reference to a static chunk.
func SpellValue(index int, chunk *Chunk) Value {
	return Value{kind: KindSpell, n: int64(index), obj: chunk}
}

// Kind returns the runtime tag of v.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer payload.
func (v Value) Int() int64 { return v.n }

// Truth returns the truth payload.
func (v Value) Truth() bool { return v.n != 0 }

// Text returns the text payload.
func (v Value) Text() string { return v.s }

// Sign returns the instance held by a sign value, or nil.
func (v Value) Sign() *SignInstance {
	s, _ := v.obj.(*SignInstance)
	return s
}

// Closure returns the closure held by a closure value, or nil.
func (v Value) Closure() *Closure {
	c, _ := v.obj.(*Closure)
	return c
}

// Cell returns the cell held by a cell value, or nil.
func (v Value) Cell() *Cell {
	c, _ := v.obj.(*Cell)
	return c
}

// SpellIndex returns the chunk index of a spell value.
func (v Value) SpellIndex() int { return int(v.n) }

// Equal reports whether v and o are equal: by payload for int, truth, text
// and unit, by identity for shared handles.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUnit:
		return true
	case KindInt, KindTruth, KindSpell:
		return v.n == o.n
	case KindText:
		return v.s == o.s
	}
	return v.obj == o.obj
}

// String returns the textual form written by chant.
func (v Value) String() string {
	switch v.kind {
	case KindUnit:
		return "unit"
	case KindInt:
		return strconv.FormatInt(v.n, 10)
	case KindTruth:
		return strconv.FormatBool(v.Truth())
	case KindText:
		return v.s
	case KindSign:
		return v.Sign().String()
	case KindClosure:
		if c := v.Closure(); c != nil && c.Chunk != nil {
			return "<spell " + c.Chunk.Name + ">"
		}
		return "<spell>"
	case KindSpell:
		if c, ok := v.obj.(*Chunk); ok && c != nil {
			return "<spell " + c.Name + ">"
		}
		return fmt.Sprintf("<spell #%d>", v.n)
	case KindCell:
		return "<cell " + v.Cell().Value.String() + ">"
	}
	return "<invalid>"
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// refCounted is implemented by the shared heap objects.
type refCounted interface {
	retain()
	release()
}

// Retain adds a reference to the heap object held by v, if any.
func (v Value) Retain() {
	if h, ok := v.obj.(refCounted); ok {
		h.retain()
	}
}

// Release drops a reference to the heap object held by v, if any. The
// object is freed when its last reference is dropped.
func (v Value) Release() {
	if h, ok := v.obj.(refCounted); ok {
		h.release()
	}
}

// SignInstance is a constructed sign: field values in schema order.
type SignInstance struct {
	Schema *Schema
	Fields []Value
	refs   int
}

// NewSignInstance creates an instance owning fields. The caller's
// references to the field values move into the instance.
func NewSignInstance(schema *Schema, fields []Value) Value {
	return Value{kind: KindSign, obj: &SignInstance{Schema: schema, Fields: fields}}
}

// Refs returns the current reference count.
func (s *SignInstance) Refs() int { return s.refs }

func (s *SignInstance) retain() { s.refs++ }

func (s *SignInstance) release() {
	s.refs--
	if s.refs > 0 {
		return
	}
	fields := s.Fields
	s.Fields = nil
	for _, f := range fields {
		f.Release()
	}
}

func (s *SignInstance) String() string {
	var sb strings.Builder
	sb.WriteString(s.Schema.Name)
	sb.WriteString(" {")
	for i, f := range s.Fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		name := fmt.Sprintf("#%d", i)
		if i < len(s.Schema.Fields) {
			name = s.Schema.Fields[i]
		}
		fmt.Fprintf(&sb, " %s: %s", name, f)
	}
	sb.WriteString(" }")
	return sb.String()
}

// Cell is a boxed binding shared between a frame and its closures.
type Cell struct {
	Value Value
	refs  int
}

// NewCell returns a cell value holding unit.
func NewCell() Value {
	return Value{kind: KindCell, obj: &Cell{}}
}

// Refs returns the current reference count.
func (c *Cell) Refs() int { return c.refs }

// Set stores v, retaining it and releasing the previous value.
func (c *Cell) Set(v Value) {
	v.Retain()
	old := c.Value
	c.Value = v
	old.Release()
}

func (c *Cell) retain() { c.refs++ }

func (c *Cell) release() {
	c.refs--
	if c.refs > 0 {
		return
	}
	old := c.Value
	c.Value = Unit
	old.Release()
}

// Closure is a nested spell together with the cells it captured.
type Closure struct {
	Chunk *Chunk
	Index int
	Cells []*Cell
	refs  int
}

// NewClosure creates a closure value. The caller's references to cells
// move into the closure.
func NewClosure(index int, chunk *Chunk, cells []*Cell) Value {
	return Value{kind: KindClosure, obj: &Closure{Chunk: chunk, Index: index, Cells: cells}}
}

// Refs returns the current reference count.
func (c *Closure) Refs() int { return c.refs }

func (c *Closure) retain() { c.refs++ }

func (c *Closure) release() {
	c.refs--
	if c.refs > 0 {
		return
	}
	cells := c.Cells
	c.Cells = nil
	for _, cell := range cells {
		cell.release()
	}
}
