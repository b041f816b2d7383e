package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Weave analysis: scoping, weave checking and closure capture
// ---------------------------------------------------------------------------

// WeaveError reports a scope, weave or capability violation.
type WeaveError struct {
	Msg string
	Pos Position
}

func (e *WeaveError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// Stage names the pipeline stage that produced the error.
func (e *WeaveError) Stage() string { return "weave" }

// Importer resolves the source of a channeled unit, e.g. ["std", "math"]
// for channel std::math;
type Importer interface {
	Import(path []string) (string, error)
}

// ImporterFunc adapts a function to the Importer interface.
type ImporterFunc func(path []string) (string, error)

// Import calls f(path).
func (f ImporterFunc) Import(path []string) (string, error) {
	return f(path)
}

// MapImporter resolves channel paths joined by "::" from a map.
type MapImporter map[string]string

// Import returns the source registered under the joined path.
func (m MapImporter) Import(path []string) (string, error) {
	key := strings.Join(path, "::")
	src, ok := m[key]
	if !ok {
		return "", fmt.Errorf("no unit named %s", key)
	}
	return src, nil
}

// Analysis is the result of a successful weave analysis.
type Analysis struct {
	// Spells holds every compiled body indexed by chunk; 0 is the entry.
	Spells  []*SpellInfo
	Schemas []*SignSchema
	Globals int
}

// Analyzer walks a program once, top to bottom, annotating every
// expression with its weave.
type Analyzer struct {
	realms    RealmStack
	spell     *SpellInfo
	loops     int
	result    *Analysis
	importer  Importer
	channeled map[string]bool
}

// NewAnalyzer creates an analyzer. importer may be nil when the program
// does not channel other units.
func NewAnalyzer(importer Importer) *Analyzer {
	return &Analyzer{
		importer:  importer,
		channeled: make(map[string]bool),
	}
}

// Analyze checks prog and returns the spells and schemas found in it.
func (a *Analyzer) Analyze(prog *Program) (*Analysis, error) {
	entry := &SpellInfo{Name: "<entry>", Static: true}
	a.result = &Analysis{Spells: []*SpellInfo{entry}}
	a.spell = entry
	a.realms = RealmStack{}
	a.realms.Push(entry)

	for _, s := range prog.Stmts {
		if err := a.stmt(s); err != nil {
			return nil, err
		}
	}
	return a.result, nil
}

// Visible returns the names declared in the top realm after Analyze.
func (a *Analyzer) Visible() []string {
	return a.realms.Names()
}

func (a *Analyzer) errorf(pos Position, format string, args ...interface{}) error {
	return &WeaveError{Msg: fmt.Sprintf(format, args...), Pos: pos}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (a *Analyzer) stmt(s Stmt) error {
	switch n := s.(type) {
	case *VarDecl:
		return a.varDecl(n)
	case *ExprStmt:
		_, err := a.expr(n.Expr)
		return err
	case *ChantStmt:
		_, err := a.expr(n.Value)
		return err
	case *Block:
		return a.block(n)
	case *FateStmt:
		return a.fate(n)
	case *WhileStmt:
		if err := a.condition(n.Cond); err != nil {
			return err
		}
		a.loops++
		err := a.block(n.Body)
		a.loops--
		return err
	case *ReleaseStmt:
		return a.release(n)
	case *SeverStmt:
		if a.loops == 0 {
			return a.errorf(n.PosVal, "sever outside of a loop")
		}
		return nil
	case *FlowStmt:
		if a.loops == 0 {
			return a.errorf(n.PosVal, "flow outside of a loop")
		}
		return nil
	case *SpellDecl:
		_, err := a.spellDecl(n, nil, false)
		return err
	case *SignDecl:
		return a.signDecl(n)
	case *AttuneDecl:
		return a.attuneDecl(n)
	case *TomeDecl:
		return a.tomeDecl(n)
	case *ChannelStmt:
		return a.channel(n)
	}
	return a.errorf(s.Pos(), "unsupported statement %T", s)
}

func (a *Analyzer) block(b *Block) error {
	a.realms.Push(a.spell)
	defer a.realms.Pop()
	for _, s := range b.Stmts {
		if err := a.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) fate(n *FateStmt) error {
	if err := a.condition(n.Cond); err != nil {
		return err
	}
	if err := a.block(n.Then); err != nil {
		return err
	}
	if n.Divert != nil {
		return a.stmt(n.Divert)
	}
	return nil
}

func (a *Analyzer) condition(e Expr) error {
	w, err := a.expr(e)
	if err != nil {
		return err
	}
	if !w.Same(TruthWeave) {
		return a.errorf(e.Pos(), "condition must be %s, got %s", TruthWeave, w)
	}
	return nil
}

func (a *Analyzer) release(n *ReleaseStmt) error {
	ret := a.spell.Returns()
	if n.Value == nil {
		if ret != nil && ret != UnitWeave {
			return a.errorf(n.PosVal, "spell %s must release a %s value", a.spell.Name, ret)
		}
		return nil
	}
	w, err := a.expr(n.Value)
	if err != nil {
		return err
	}
	if ret != nil && !ret.Same(w) {
		return a.errorf(n.Value.Pos(), "spell %s releases %s, not %s", a.spell.Name, ret, w)
	}
	return nil
}

func declKindSymbol(k DeclKind) SymbolKind {
	switch k {
	case DeclBind:
		return SymBind
	case DeclSeal:
		return SymSeal
	}
	return SymMark
}

func (a *Analyzer) varDecl(n *VarDecl) error {
	w, err := a.declWeave(n)
	if err != nil {
		return err
	}
	if n.Init == nil && w.Kind != WeavePrimitive {
		return a.errorf(n.PosVal, "%s %s without an initializer needs a primitive weave, not %s", n.Kind, n.Name, w)
	}
	sym := &Symbol{
		Name:  n.Name,
		Kind:  declKindSymbol(n.Kind),
		Weave: w,
		Pos:   n.PosVal,
		Owner: a.spell,
	}
	if n.Kind == DeclSeal {
		if sym.Const, err = a.sealValue(n); err != nil {
			return err
		}
	} else if a.realms.AtTop() {
		sym.Global = true
		sym.Slot = a.result.Globals
		a.result.Globals++
	}
	if err := a.realms.Declare(sym); err != nil {
		return a.errorf(n.PosVal, "%v", err)
	}
	n.Sym = sym
	return nil
}

// declWeave checks the initializer against the annotation of a mark, bind or
// seal and returns the declared weave.
func (a *Analyzer) declWeave(n *VarDecl) (*Weave, error) {
	var declared *Weave
	if n.WeaveName != "" {
		w, err := a.resolveWeave(n.WeaveName, n.PosVal)
		if err != nil {
			return nil, err
		}
		declared = w
	}
	if n.Init == nil {
		if declared == nil {
			return nil, a.errorf(n.PosVal, "%s %s needs a weave or an initializer", n.Kind, n.Name)
		}
		return declared, nil
	}
	w, err := a.expr(n.Init)
	if err != nil {
		return nil, err
	}
	if declared != nil && !declared.Same(w) {
		return nil, a.errorf(n.Init.Pos(), "%s %s is declared %s but initialized with %s", n.Kind, n.Name, declared, w)
	}
	return w, nil
}

func (a *Analyzer) sealValue(n *VarDecl) (*Constant, error) {
	c, err := a.fold(n.Init)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, a.errorf(n.Init.Pos(), "seal %s requires a constant initializer", n.Name)
	}
	return c, nil
}

func (a *Analyzer) resolveWeave(name string, pos Position) (*Weave, error) {
	if w, ok := builtinWeaves[name]; ok {
		return w, nil
	}
	if sym := a.realms.Resolve(name); sym != nil && sym.Schema != nil {
		return sym.Schema.Weave, nil
	}
	return nil, a.errorf(pos, "unknown weave %s", name)
}

// ---------------------------------------------------------------------------
// Spells, signs and tomes
// ---------------------------------------------------------------------------

// spellDecl declares a spell. With a non-nil owner the spell is attached to
// that sign or tome as a method taking self.
func (a *Analyzer) spellDecl(decl *SpellDecl, owner *SignSchema, secret bool) (*SpellInfo, error) {
	params := make([]*Weave, len(decl.Params))
	for i, p := range decl.Params {
		w, err := a.resolveWeave(p.WeaveName, p.PosVal)
		if err != nil {
			return nil, err
		}
		params[i] = w
	}
	ret := UnitWeave
	if decl.ReturnName != "" {
		w, err := a.resolveWeave(decl.ReturnName, decl.PosVal)
		if err != nil {
			return nil, err
		}
		ret = w
	}

	info := &SpellInfo{
		Name:   decl.Name,
		Chunk:  len(a.result.Spells),
		Weave:  newSpellWeave(params, ret),
		Parent: a.spell,
		Static: a.realms.AtTop(),
		Method: owner != nil,
		Decl:   decl,
	}
	decl.Info = info

	if owner != nil {
		if owner.hasMember(decl.Name) {
			return nil, a.errorf(decl.PosVal, "%s already has a member named %s", owner.Name, decl.Name)
		}
		info.Name = owner.Name + "." + decl.Name
		owner.Methods[decl.Name] = &Method{Name: decl.Name, Weave: info.Weave, Spell: info}
		if secret {
			owner.Secret[decl.Name] = true
		}
	} else {
		sym := &Symbol{
			Name:  decl.Name,
			Kind:  SymSpell,
			Weave: info.Weave,
			Pos:   decl.PosVal,
			Owner: a.spell,
			Spell: info,
		}
		// Declared before the body so the spell can call itself.
		if err := a.realms.Declare(sym); err != nil {
			return nil, a.errorf(decl.PosVal, "%v", err)
		}
		decl.Sym = sym
	}
	a.result.Spells = append(a.result.Spells, info)

	return info, a.spellBody(info, owner)
}

func (a *Analyzer) spellBody(info *SpellInfo, owner *SignSchema) error {
	savedSpell, savedLoops := a.spell, a.loops
	a.spell, a.loops = info, 0
	a.realms.Push(info)
	defer func() {
		a.realms.Pop()
		a.spell, a.loops = savedSpell, savedLoops
	}()

	decl := info.Decl
	if owner != nil {
		self := &Symbol{Name: "self", Kind: SymSelf, Weave: owner.Weave, Pos: decl.PosVal, Owner: info}
		if err := a.realms.Declare(self); err != nil {
			return a.errorf(decl.PosVal, "%v", err)
		}
		info.Params = append(info.Params, self)
	}
	for i, p := range decl.Params {
		sym := &Symbol{Name: p.Name, Kind: SymParam, Weave: info.Weave.Params[i], Pos: p.PosVal, Owner: info}
		if err := a.realms.Declare(sym); err != nil {
			return a.errorf(p.PosVal, "%v", err)
		}
		info.Params = append(info.Params, sym)
	}
	for _, s := range decl.Body.Stmts {
		if err := a.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) requireTop(pos Position, what, name string) error {
	if !a.realms.AtTop() {
		return a.errorf(pos, "%s %s must be declared in the top realm", what, name)
	}
	return nil
}

func (a *Analyzer) declareSchema(schema *SignSchema, pos Position) error {
	kind := SymSign
	if schema.Tome {
		kind = SymTome
	}
	sym := &Symbol{Name: schema.Name, Kind: kind, Weave: schema.Weave, Pos: pos, Owner: a.spell, Schema: schema}
	if err := a.realms.Declare(sym); err != nil {
		return a.errorf(pos, "%v", err)
	}
	a.result.Schemas = append(a.result.Schemas, schema)
	return nil
}

func (a *Analyzer) signDecl(n *SignDecl) error {
	if err := a.requireTop(n.PosVal, "sign", n.Name); err != nil {
		return err
	}
	schema := newSignSchema(n.Name, len(a.result.Schemas), false)
	for _, f := range n.Fields {
		if schema.hasMember(f.Name) {
			return a.errorf(f.PosVal, "sign %s declares field %s twice", n.Name, f.Name)
		}
		w, err := a.resolveWeave(f.WeaveName, f.PosVal)
		if err != nil {
			return err
		}
		schema.Fields = append(schema.Fields, &Field{Name: f.Name, Weave: w, Kind: DeclMark})
	}
	n.Schema = schema
	return a.declareSchema(schema, n.PosVal)
}

func (a *Analyzer) attuneDecl(n *AttuneDecl) error {
	if err := a.requireTop(n.PosVal, "attune", n.Sign); err != nil {
		return err
	}
	sym := a.realms.Resolve(n.Sign)
	if sym == nil {
		return a.errorf(n.PosVal, "undeclared sign %s", n.Sign)
	}
	if sym.Schema == nil {
		return a.errorf(n.PosVal, "cannot attune %s %s", sym.Kind, n.Sign)
	}
	n.Schema = sym.Schema
	for _, spell := range n.Spells {
		if _, err := a.spellDecl(spell, sym.Schema, false); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) tomeDecl(n *TomeDecl) error {
	if err := a.requireTop(n.PosVal, "tome", n.Name); err != nil {
		return err
	}
	schema := newSignSchema(n.Name, len(a.result.Schemas), true)
	n.Schema = schema
	if err := a.declareSchema(schema, n.PosVal); err != nil {
		return err
	}
	for _, m := range n.Members {
		if m.Spell != nil {
			if _, err := a.spellDecl(m.Spell, schema, m.Secret); err != nil {
				return err
			}
			continue
		}
		if err := a.tomeField(schema, m.Var, m.Secret); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) tomeField(schema *SignSchema, v *VarDecl, secret bool) error {
	if schema.hasMember(v.Name) {
		return a.errorf(v.PosVal, "%s already has a member named %s", schema.Name, v.Name)
	}

	// Member initializers see the seals declared above them by bare name.
	// The tome itself stays open so a default cannot construct it.
	schema.Open = true
	a.realms.Push(a.spell)
	defer func() {
		a.realms.Pop()
		schema.Open = false
	}()
	for name, c := range schema.Constants {
		sym := &Symbol{Name: name, Kind: SymSeal, Weave: c.Weave, Pos: v.PosVal, Owner: a.spell, Const: c}
		if err := a.realms.Declare(sym); err != nil {
			return a.errorf(v.PosVal, "%v", err)
		}
	}

	w, err := a.declWeave(v)
	if err != nil {
		return err
	}
	if secret {
		schema.Secret[v.Name] = true
	}
	if v.Kind == DeclSeal {
		c, err := a.sealValue(v)
		if err != nil {
			return err
		}
		schema.Constants[v.Name] = c
		return nil
	}
	if secret && v.Init == nil {
		return a.errorf(v.PosVal, "secret %s %s needs an initializer", v.Kind, v.Name)
	}
	schema.Fields = append(schema.Fields, &Field{Name: v.Name, Weave: w, Kind: v.Kind, Default: v.Init})
	return nil
}

func (a *Analyzer) channel(n *ChannelStmt) error {
	key := strings.Join(n.Path, "::")
	if err := a.requireTop(n.PosVal, "channel", key); err != nil {
		return err
	}
	if a.channeled[key] {
		return nil
	}
	a.channeled[key] = true
	if a.importer == nil {
		return a.errorf(n.PosVal, "cannot resolve channel %s: no importer configured", key)
	}
	src, err := a.importer.Import(n.Path)
	if err != nil {
		return a.errorf(n.PosVal, "cannot resolve channel %s: %v", key, err)
	}
	unit, err := Parse(src)
	if err != nil {
		return err
	}
	n.Unit = unit
	for _, s := range unit.Stmts {
		if err := a.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (a *Analyzer) expr(e Expr) (*Weave, error) {
	w, err := a.exprWeave(e)
	if err != nil {
		return nil, err
	}
	e.setWeave(w)
	return w, nil
}

func (a *Analyzer) exprWeave(e Expr) (*Weave, error) {
	switch n := e.(type) {
	case *IntLiteral:
		return NumWeave, nil
	case *TextLiteral:
		return TextWeave, nil
	case *TruthLiteral:
		return TruthWeave, nil

	case *Variable:
		sym := a.realms.Resolve(n.Name)
		if sym == nil {
			return nil, a.errorf(n.PosVal, "undeclared identifier %s", n.Name)
		}
		if sym.Schema != nil {
			return nil, a.errorf(n.PosVal, "%s %s is not a value; construct it with cast", sym.Kind, n.Name)
		}
		if err := a.use(sym, n.PosVal); err != nil {
			return nil, err
		}
		n.Sym = sym
		return sym.Weave, nil

	case *SelfExpr:
		sym := a.realms.Resolve("self")
		if sym == nil {
			return nil, a.errorf(n.PosVal, "self outside of an attuned or tome spell")
		}
		if err := a.use(sym, n.PosVal); err != nil {
			return nil, err
		}
		n.Sym = sym
		return sym.Weave, nil

	case *Unary:
		w, err := a.expr(n.Operand)
		if err != nil {
			return nil, err
		}
		if n.Op == TokenBang {
			if !w.Has(Conditional) {
				return nil, a.strandError(n.PosVal, n.Op, Conditional, w)
			}
			return TruthWeave, nil
		}
		if !w.Has(Additive) {
			return nil, a.strandError(n.PosVal, n.Op, Additive, w)
		}
		return w, nil

	case *Binary:
		return a.binary(n)

	case *Logical:
		l, err := a.expr(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := a.expr(n.Right)
		if err != nil {
			return nil, err
		}
		for _, w := range []*Weave{l, r} {
			if !w.Has(Conditional) {
				return nil, a.strandError(n.PosVal, n.Op, Conditional, w)
			}
		}
		if !l.Same(r) {
			return nil, a.errorf(n.PosVal, "operator %s applied to mismatched weaves %s and %s", n.Op, l, r)
		}
		return TruthWeave, nil

	case *Assign:
		return a.assign(n)

	case *FieldAccess:
		ow, err := a.expr(n.Object)
		if err != nil {
			return nil, err
		}
		return a.fieldAccess(n, ow)

	case *FieldAssign:
		return a.fieldAssign(n)

	case *Call:
		return a.call(n)

	case *CastSign:
		return a.castSign(n)
	}
	return nil, a.errorf(e.Pos(), "unsupported expression %T", e)
}

func (a *Analyzer) strandError(pos Position, op TokenType, s Strand, w *Weave) error {
	return a.errorf(pos, "operator %s requires the %s strand, which %s lacks", op, s, w)
}

// binaryStrand maps an operator to the strand implementing it.
var binaryStrand = map[TokenType]Strand{
	TokenPlus:         Additive,
	TokenMinus:        Additive,
	TokenStar:         Multiplicative,
	TokenSlash:        Multiplicative,
	TokenPercent:      Multiplicative,
	TokenLess:         Ordinal,
	TokenLessEqual:    Ordinal,
	TokenGreater:      Ordinal,
	TokenGreaterEqual: Ordinal,
	TokenEqualEqual:   Equatable,
	TokenBangEqual:    Equatable,
	TokenAmp:          Concatenable,
}

func (a *Analyzer) binary(n *Binary) (*Weave, error) {
	l, err := a.expr(n.Left)
	if err != nil {
		return nil, err
	}
	r, err := a.expr(n.Right)
	if err != nil {
		return nil, err
	}
	strand := binaryStrand[n.Op]
	for _, w := range []*Weave{l, r} {
		if !w.Has(strand) {
			return nil, a.strandError(n.PosVal, n.Op, strand, w)
		}
	}
	if !l.Same(r) {
		return nil, a.errorf(n.PosVal, "operator %s applied to mismatched weaves %s and %s", n.Op, l, r)
	}
	switch strand {
	case Ordinal, Equatable:
		return TruthWeave, nil
	}
	return l, nil
}

func (a *Analyzer) assign(n *Assign) (*Weave, error) {
	sym := a.realms.Resolve(n.Name)
	if sym == nil {
		return nil, a.errorf(n.PosVal, "undeclared identifier %s", n.Name)
	}
	if !sym.Mutable() {
		return nil, a.errorf(n.PosVal, "cannot assign to %s %s", sym.Kind, n.Name)
	}
	w, err := a.expr(n.Value)
	if err != nil {
		return nil, err
	}
	if !sym.Weave.Same(w) {
		return nil, a.errorf(n.Value.Pos(), "cannot assign %s to mark %s of weave %s", w, n.Name, sym.Weave)
	}
	if err := a.use(sym, n.PosVal); err != nil {
		return nil, err
	}
	n.Sym = sym
	return w, nil
}

func isSelf(e Expr) bool {
	_, ok := e.(*SelfExpr)
	return ok
}

func (a *Analyzer) schemaOf(pos Position, w *Weave) (*SignSchema, error) {
	if !w.Has(Fielded) || w.Schema == nil {
		return nil, a.errorf(pos, "%s has no fields", w)
	}
	return w.Schema, nil
}

func (a *Analyzer) checkSecret(pos Position, schema *SignSchema, object Expr, name string) error {
	if schema.Secret[name] && !isSelf(object) {
		return a.errorf(pos, "%s.%s is secret", schema.Name, name)
	}
	return nil
}

func (a *Analyzer) fieldAccess(n *FieldAccess, ow *Weave) (*Weave, error) {
	schema, err := a.schemaOf(n.PosVal, ow)
	if err != nil {
		return nil, err
	}
	if err := a.checkSecret(n.PosVal, schema, n.Object, n.Field); err != nil {
		return nil, err
	}
	if f, idx := schema.Field(n.Field); f != nil {
		n.Index = idx
		return f.Weave, nil
	}
	if c, ok := schema.Constants[n.Field]; ok {
		n.Const = c
		return c.Weave, nil
	}
	if _, ok := schema.Methods[n.Field]; ok {
		return nil, a.errorf(n.PosVal, "spell %s.%s must be called", schema.Name, n.Field)
	}
	return nil, a.errorf(n.PosVal, "%s has no field %s", schema.Name, n.Field)
}

func (a *Analyzer) fieldAssign(n *FieldAssign) (*Weave, error) {
	ow, err := a.expr(n.Object)
	if err != nil {
		return nil, err
	}
	schema, err := a.schemaOf(n.PosVal, ow)
	if err != nil {
		return nil, err
	}
	if err := a.checkSecret(n.PosVal, schema, n.Object, n.Field); err != nil {
		return nil, err
	}
	f, idx := schema.Field(n.Field)
	if f == nil {
		if _, ok := schema.Constants[n.Field]; ok {
			return nil, a.errorf(n.PosVal, "cannot assign to seal %s.%s", schema.Name, n.Field)
		}
		return nil, a.errorf(n.PosVal, "%s has no field %s", schema.Name, n.Field)
	}
	if f.Kind != DeclMark {
		return nil, a.errorf(n.PosVal, "cannot assign to %s %s.%s", f.Kind, schema.Name, n.Field)
	}
	w, err := a.expr(n.Value)
	if err != nil {
		return nil, err
	}
	if !f.Weave.Same(w) {
		return nil, a.errorf(n.Value.Pos(), "cannot assign %s to field %s.%s of weave %s", w, schema.Name, n.Field, f.Weave)
	}
	n.Index = idx
	return w, nil
}

func (a *Analyzer) call(n *Call) (*Weave, error) {
	var cw *Weave
	if fa, ok := n.Callee.(*FieldAccess); ok {
		ow, err := a.expr(fa.Object)
		if err != nil {
			return nil, err
		}
		if ow.Has(Fielded) && ow.Schema != nil {
			if m, ok := ow.Schema.Methods[fa.Field]; ok {
				if err := a.checkSecret(fa.PosVal, ow.Schema, fa.Object, fa.Field); err != nil {
					return nil, err
				}
				fa.setWeave(m.Weave)
				n.Method = m
				return a.arguments(n, m.Spell.Name, m.Weave)
			}
		}
		if cw, err = a.fieldAccess(fa, ow); err != nil {
			return nil, err
		}
		fa.setWeave(cw)
	} else {
		w, err := a.expr(n.Callee)
		if err != nil {
			return nil, err
		}
		cw = w
	}

	name := "callee"
	if v, ok := n.Callee.(*Variable); ok {
		name = v.Name
		if v.Sym.Kind == SymSpell && v.Sym.Spell.Static {
			n.Static = v.Sym.Spell
		}
	}
	if !cw.Has(Callable) {
		return nil, a.errorf(n.PosVal, "%s of weave %s is not callable", name, cw)
	}
	return a.arguments(n, name, cw)
}

func (a *Analyzer) arguments(n *Call, name string, w *Weave) (*Weave, error) {
	if len(n.Args) != len(w.Params) {
		return nil, a.errorf(n.PosVal, "%s expects %d arguments, got %d", name, len(w.Params), len(n.Args))
	}
	for i, arg := range n.Args {
		aw, err := a.expr(arg)
		if err != nil {
			return nil, err
		}
		if !w.Params[i].Same(aw) {
			return nil, a.errorf(arg.Pos(), "argument %d of %s must be %s, got %s", i+1, name, w.Params[i], aw)
		}
	}
	return w.Return, nil
}

func (a *Analyzer) castSign(n *CastSign) (*Weave, error) {
	sym := a.realms.Resolve(n.Name)
	if sym == nil {
		return nil, a.errorf(n.PosVal, "undeclared sign %s", n.Name)
	}
	if sym.Schema == nil {
		return nil, a.errorf(n.PosVal, "cannot cast %s %s with fields", sym.Kind, n.Name)
	}
	schema := sym.Schema
	if schema.Open {
		return nil, a.errorf(n.PosVal, "cannot cast %s inside the declaration of its own members", schema.Name)
	}
	given := make(map[string]bool)
	for _, init := range n.Fields {
		f, idx := schema.Field(init.Name)
		if f == nil {
			if _, ok := schema.Constants[init.Name]; ok {
				return nil, a.errorf(init.PosVal, "seal %s.%s cannot be set by cast", schema.Name, init.Name)
			}
			return nil, a.errorf(init.PosVal, "%s has no field %s", schema.Name, init.Name)
		}
		if schema.Secret[init.Name] {
			return nil, a.errorf(init.PosVal, "%s.%s is secret", schema.Name, init.Name)
		}
		if given[init.Name] {
			return nil, a.errorf(init.PosVal, "field %s given twice", init.Name)
		}
		given[init.Name] = true
		w, err := a.expr(init.Value)
		if err != nil {
			return nil, err
		}
		if !f.Weave.Same(w) {
			return nil, a.errorf(init.Value.Pos(), "field %s.%s is %s, got %s", schema.Name, init.Name, f.Weave, w)
		}
		init.Index = idx
	}
	for _, f := range schema.Fields {
		if !given[f.Name] && f.Default == nil {
			return nil, a.errorf(n.PosVal, "cast %s is missing field %s", schema.Name, f.Name)
		}
	}
	n.Schema = schema
	return schema.Weave, nil
}

// ---------------------------------------------------------------------------
// Closure capture
// ---------------------------------------------------------------------------

// use records a reference to sym from the current spell, capturing it when
// it lives in an enclosing spell's frame.
func (a *Analyzer) use(sym *Symbol, pos Position) error {
	if !sym.storesValue() || sym.Global || sym.Owner == a.spell {
		return nil
	}
	_, err := a.capture(a.spell, sym, pos)
	return err
}

// capture returns the index of sym among spell's captures, threading the
// capture through every spell between the binding's owner and spell.
func (a *Analyzer) capture(spell *SpellInfo, sym *Symbol, pos Position) (int, error) {
	for i, c := range spell.Captures {
		if c.Sym == sym {
			return i, nil
		}
	}
	if spell.Static || spell.Parent == nil {
		return 0, a.errorf(pos, "%s cannot reach %s %s", spell.Name, sym.Kind, sym.Name)
	}
	c := &Capture{Sym: sym}
	if spell.Parent == sym.Owner {
		sym.Captured = true
		c.Local = true
	} else {
		idx, err := a.capture(spell.Parent, sym, pos)
		if err != nil {
			return 0, err
		}
		c.Index = idx
	}
	spell.Captures = append(spell.Captures, c)
	return len(spell.Captures) - 1, nil
}

// ---------------------------------------------------------------------------
// Constant folding for seals
// ---------------------------------------------------------------------------

// fold evaluates an analyzed expression at compile time. It returns nil
// without error when the expression is not constant.
func (a *Analyzer) fold(e Expr) (*Constant, error) {
	switch n := e.(type) {
	case *IntLiteral:
		return &Constant{Weave: NumWeave, Int: n.Value}, nil
	case *TextLiteral:
		return &Constant{Weave: TextWeave, Text: n.Value}, nil
	case *TruthLiteral:
		return &Constant{Weave: TruthWeave, Truth: n.Value}, nil
	case *Variable:
		if n.Sym != nil && n.Sym.Const != nil {
			return n.Sym.Const, nil
		}
		return nil, nil
	case *FieldAccess:
		return n.Const, nil
	case *Unary:
		c, err := a.fold(n.Operand)
		if c == nil || err != nil {
			return nil, err
		}
		if n.Op == TokenBang {
			return &Constant{Weave: TruthWeave, Truth: !c.Truth}, nil
		}
		return &Constant{Weave: NumWeave, Int: -c.Int}, nil
	case *Logical:
		l, err := a.fold(n.Left)
		if l == nil || err != nil {
			return nil, err
		}
		r, err := a.fold(n.Right)
		if r == nil || err != nil {
			return nil, err
		}
		if n.Op == TokenAndAnd {
			return &Constant{Weave: TruthWeave, Truth: l.Truth && r.Truth}, nil
		}
		return &Constant{Weave: TruthWeave, Truth: l.Truth || r.Truth}, nil
	case *Binary:
		l, err := a.fold(n.Left)
		if l == nil || err != nil {
			return nil, err
		}
		r, err := a.fold(n.Right)
		if r == nil || err != nil {
			return nil, err
		}
		return a.foldBinary(n, l, r)
	}
	return nil, nil
}

func (a *Analyzer) foldBinary(n *Binary, l, r *Constant) (*Constant, error) {
	num := func(v int64) (*Constant, error) { return &Constant{Weave: NumWeave, Int: v}, nil }
	truth := func(v bool) (*Constant, error) { return &Constant{Weave: TruthWeave, Truth: v}, nil }
	switch n.Op {
	case TokenPlus:
		return num(l.Int + r.Int)
	case TokenMinus:
		return num(l.Int - r.Int)
	case TokenStar:
		return num(l.Int * r.Int)
	case TokenSlash, TokenPercent:
		if r.Int == 0 {
			return nil, a.errorf(n.PosVal, "division by zero in constant expression")
		}
		if n.Op == TokenSlash {
			return num(l.Int / r.Int)
		}
		return num(l.Int % r.Int)
	case TokenAmp:
		return &Constant{Weave: TextWeave, Text: l.Text + r.Text}, nil
	case TokenLess:
		return truth(l.Int < r.Int)
	case TokenLessEqual:
		return truth(l.Int <= r.Int)
	case TokenGreater:
		return truth(l.Int > r.Int)
	case TokenGreaterEqual:
		return truth(l.Int >= r.Int)
	case TokenEqualEqual:
		return truth(*l == *r)
	case TokenBangEqual:
		return truth(*l != *r)
	}
	return nil, nil
}
