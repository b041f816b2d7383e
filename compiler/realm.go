package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// SymbolKind classifies a named binding.
type SymbolKind int

const (
	SymMark SymbolKind = iota
	SymBind
	SymSeal
	SymParam
	SymSelf
	SymSpell
	SymSign
	SymTome
)

var symbolKindNames = map[SymbolKind]string{
	SymMark:  "mark",
	SymBind:  "bind",
	SymSeal:  "seal",
	SymParam: "parameter",
	SymSelf:  "self",
	SymSpell: "spell",
	SymSign:  "sign",
	SymTome:  "tome",
}

func (k SymbolKind) String() string {
	return symbolKindNames[k]
}

// Symbol is a resolved binding.
type Symbol struct {
	Name  string
	Kind  SymbolKind
	Weave *Weave
	Pos   Position

	// Owner is the spell whose frame holds the binding.
	Owner *SpellInfo
	// Global bindings live in a global slot rather than a register.
	Global bool
	Slot   int
	// Captured locals are boxed in a cell so closures can share them.
	Captured bool

	Const  *Constant   // seals
	Spell  *SpellInfo  // spells
	Schema *SignSchema // signs and tomes
}

// Mutable reports whether the binding may be assigned after declaration.
func (s *Symbol) Mutable() bool {
	return s.Kind == SymMark
}

// storesValue reports whether the binding occupies a register, cell or
// global slot at runtime.
func (s *Symbol) storesValue() bool {
	switch s.Kind {
	case SymMark, SymBind, SymParam, SymSelf:
		return true
	case SymSpell:
		return !s.Spell.Static
	}
	return false
}

// ---------------------------------------------------------------------------
// Spells
// ---------------------------------------------------------------------------

// Capture describes one captured cell of a closure. A Local capture takes
// the cell held by Sym in the enclosing frame; otherwise the cell is the
// enclosing closure's capture at Index.
type Capture struct {
	Sym   *Symbol
	Local bool
	Index int
}

// SpellInfo is the analyzer's record of a compiled body: the entry unit, a
// spell, or a method. Chunk is its index in the generated program.
type SpellInfo struct {
	Name     string
	Chunk    int
	Weave    *Weave
	Parent   *SpellInfo
	Static   bool
	Method   bool
	Params   []*Symbol
	Captures []*Capture
	Decl     *SpellDecl
}

// Entry reports whether the spell is the top-level unit.
func (s *SpellInfo) Entry() bool {
	return s.Parent == nil
}

// Returns is the declared return weave; nil for the entry unit, which may
// release any value.
func (s *SpellInfo) Returns() *Weave {
	if s.Weave == nil {
		return nil
	}
	return s.Weave.Return
}

// ---------------------------------------------------------------------------
// Realms
// ---------------------------------------------------------------------------

// Realm is one lexical scope.
type Realm struct {
	symbols map[string]*Symbol
	parent  *Realm
	spell   *SpellInfo
}

// RealmStack is the chain of realms active during analysis.
type RealmStack struct {
	top *Realm
}

// Push opens a realm belonging to spell.
func (rs *RealmStack) Push(spell *SpellInfo) {
	rs.top = &Realm{symbols: make(map[string]*Symbol), parent: rs.top, spell: spell}
}

// Pop closes the innermost realm. Its bindings become invisible.
func (rs *RealmStack) Pop() {
	if rs.top != nil {
		rs.top = rs.top.parent
	}
}

// AtTop reports whether the innermost realm is the outermost realm of the
// entry unit.
func (rs *RealmStack) AtTop() bool {
	return rs.top != nil && rs.top.parent == nil
}

// Declare binds sym in the innermost realm. Redeclaring a name in the same
// realm fails; shadowing an outer realm's name does not.
func (rs *RealmStack) Declare(sym *Symbol) error {
	if prev, ok := rs.top.symbols[sym.Name]; ok {
		return fmt.Errorf("%s is already declared in this realm as a %s at line %d", sym.Name, prev.Kind, prev.Pos.Line)
	}
	rs.top.symbols[sym.Name] = sym
	return nil
}

// Resolve finds name, innermost realm first.
func (rs *RealmStack) Resolve(name string) *Symbol {
	for r := rs.top; r != nil; r = r.parent {
		if sym, ok := r.symbols[name]; ok {
			return sym
		}
	}
	return nil
}

// Names returns every visible name, innermost first, without duplicates.
func (rs *RealmStack) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for r := rs.top; r != nil; r = r.parent {
		for name := range r.symbols {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}
