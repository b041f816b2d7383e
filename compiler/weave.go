package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Strands and weaves
// ---------------------------------------------------------------------------

// Strand is a capability tag. A weave may take part in an operation only if
// it owns the strand that implements that operation.
type Strand uint16

const (
	Additive       Strand = 1 << iota // + -
	Multiplicative                    // * / %
	Ordinal                           // < <= > >=
	Conditional                       // fate, while, !, &&, ||
	Concatenable                      // &
	Equatable                         // == !=
	Callable                          // f(args)
	Fielded                           // obj.field
)

var strandNames = []struct {
	s    Strand
	name string
}{
	{Additive, "Additive"},
	{Multiplicative, "Multiplicative"},
	{Ordinal, "Ordinal"},
	{Conditional, "Conditional"},
	{Concatenable, "Concatenable"},
	{Equatable, "Equatable"},
	{Callable, "Callable"},
	{Fielded, "Fielded"},
}

// String lists the strands in the set, joined by "|".
func (s Strand) String() string {
	var names []string
	for _, sn := range strandNames {
		if s&sn.s != 0 {
			names = append(names, sn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// WeaveKind classifies weaves.
type WeaveKind int

const (
	WeavePrimitive WeaveKind = iota
	WeaveSign
	WeaveTome
	WeaveSpell
)

// Weave is a named type, defined by the strands it owns. Primitive, sign and
// tome weaves are compared by identity; spell weaves by signature.
type Weave struct {
	Name    string
	Kind    WeaveKind
	Strands Strand
	Schema  *SignSchema // sign and tome weaves
	Params  []*Weave    // spell weaves
	Return  *Weave      // spell weaves
}

// Built-in weaves.
var (
	NumWeave   = &Weave{Name: "NumWeave", Strands: Additive | Multiplicative | Ordinal | Equatable}
	TextWeave  = &Weave{Name: "TextWeave", Strands: Concatenable | Equatable}
	TruthWeave = &Weave{Name: "TruthWeave", Strands: Conditional | Equatable}
	UnitWeave  = &Weave{Name: "UnitWeave"}
)

var builtinWeaves = map[string]*Weave{
	NumWeave.Name:   NumWeave,
	TextWeave.Name:  TextWeave,
	TruthWeave.Name: TruthWeave,
	UnitWeave.Name:  UnitWeave,
}

// BuiltinWeaves returns the predeclared weaves.
func BuiltinWeaves() []*Weave {
	return []*Weave{NumWeave, TextWeave, TruthWeave, UnitWeave}
}

// Has reports whether w owns every strand in s.
func (w *Weave) Has(s Strand) bool {
	return w != nil && w.Strands&s == s
}

// Same reports whether w and o are the same weave.
func (w *Weave) Same(o *Weave) bool {
	if w == o {
		return true
	}
	if w == nil || o == nil || w.Kind != WeaveSpell || o.Kind != WeaveSpell {
		return false
	}
	if len(w.Params) != len(o.Params) || !w.Return.Same(o.Return) {
		return false
	}
	for i := range w.Params {
		if !w.Params[i].Same(o.Params[i]) {
			return false
		}
	}
	return true
}

func (w *Weave) String() string {
	if w == nil {
		return "<none>"
	}
	return w.Name
}

// newSpellWeave builds the weave of a spell with the given signature.
func newSpellWeave(params []*Weave, ret *Weave) *Weave {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return &Weave{
		Name:    fmt.Sprintf("spell(%s) :: %s", strings.Join(names, ", "), ret.Name),
		Kind:    WeaveSpell,
		Strands: Callable,
		Params:  params,
		Return:  ret,
	}
}

// ---------------------------------------------------------------------------
// Sign schemas
// ---------------------------------------------------------------------------

// Field is a stored member of a sign or tome. Its position in
// SignSchema.Fields is the index used at runtime.
type Field struct {
	Name    string
	Weave   *Weave
	Kind    DeclKind
	Default Expr // tome fields only
}

// Method is a spell attached to a sign or tome. Its first parameter is self.
type Method struct {
	Name  string
	Weave *Weave
	Spell *SpellInfo
}

// SignSchema is the ordered field layout of a sign or tome.
type SignSchema struct {
	Name      string
	Index     int
	Tome      bool
	Fields    []*Field
	Constants map[string]*Constant
	Methods   map[string]*Method
	Secret    map[string]bool // members reachable only through self
	Weave     *Weave

	// Open is set while a tome member initializer is analyzed.
	Open bool
}

func newSignSchema(name string, index int, tome bool) *SignSchema {
	s := &SignSchema{
		Name:      name,
		Index:     index,
		Tome:      tome,
		Constants: make(map[string]*Constant),
		Methods:   make(map[string]*Method),
		Secret:    make(map[string]bool),
	}
	kind := WeaveSign
	if tome {
		kind = WeaveTome
	}
	s.Weave = &Weave{Name: name, Kind: kind, Strands: Fielded | Equatable, Schema: s}
	return s
}

// Field returns the stored field called name and its index.
func (s *SignSchema) Field(name string) (*Field, int) {
	for i, f := range s.Fields {
		if f.Name == name {
			return f, i
		}
	}
	return nil, -1
}

// hasMember reports whether name is already used by a field, constant or
// method.
func (s *SignSchema) hasMember(name string) bool {
	if f, _ := s.Field(name); f != nil {
		return true
	}
	if _, ok := s.Constants[name]; ok {
		return true
	}
	_, ok := s.Methods[name]
	return ok
}

// FieldNames returns the stored field names in index order.
func (s *SignSchema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// Constant is a value known at compile time: the value of a seal.
type Constant struct {
	Weave *Weave
	Int   int64
	Text  string
	Truth bool
}

func (c *Constant) String() string {
	switch c.Weave {
	case NumWeave:
		return fmt.Sprintf("%d", c.Int)
	case TruthWeave:
		return fmt.Sprintf("%t", c.Truth)
	case TextWeave:
		return c.Text
	}
	return "unit"
}
