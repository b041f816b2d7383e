package compiler

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

// Node is the interface implemented by all AST nodes.
type Node interface {
	Pos() Position
	node() // marker method
}

// Expr is the interface for expression nodes. The analyzer records the
// resolved weave of every expression in place.
type Expr interface {
	Node
	Weave() *Weave
	setWeave(w *Weave)
	expr() // marker method
}

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// annotation carries the weave assigned by the analyzer.
type annotation struct {
	W *Weave
}

func (a *annotation) Weave() *Weave      { return a.W }
func (a *annotation) setWeave(w *Weave) { a.W = w }

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// IntLiteral represents an integer literal.
type IntLiteral struct {
	annotation
	PosVal Position
	Value  int64
}

func (n *IntLiteral) Pos() Position { return n.PosVal }
func (n *IntLiteral) node()         {}
func (n *IntLiteral) expr()         {}

// TextLiteral represents a "text" literal.
type TextLiteral struct {
	annotation
	PosVal Position
	Value  string
}

func (n *TextLiteral) Pos() Position { return n.PosVal }
func (n *TextLiteral) node()         {}
func (n *TextLiteral) expr()         {}

// TruthLiteral represents true or false.
type TruthLiteral struct {
	annotation
	PosVal Position
	Value  bool
}

func (n *TruthLiteral) Pos() Position { return n.PosVal }
func (n *TruthLiteral) node()         {}
func (n *TruthLiteral) expr()         {}

// Variable represents a reference to a named binding.
type Variable struct {
	annotation
	PosVal Position
	Name   string
	Sym    *Symbol
}

func (n *Variable) Pos() Position { return n.PosVal }
func (n *Variable) node()         {}
func (n *Variable) expr()         {}

// SelfExpr represents self inside an attuned or tome spell.
type SelfExpr struct {
	annotation
	PosVal Position
	Sym    *Symbol
}

func (n *SelfExpr) Pos() Position { return n.PosVal }
func (n *SelfExpr) node()         {}
func (n *SelfExpr) expr()         {}

// Unary represents a prefix operator: !x or -x.
type Unary struct {
	annotation
	PosVal  Position
	Op      TokenType
	Operand Expr
}

func (n *Unary) Pos() Position { return n.PosVal }
func (n *Unary) node()         {}
func (n *Unary) expr()         {}

// Binary represents an arithmetic, comparison or concatenation operator.
type Binary struct {
	annotation
	PosVal Position
	Op     TokenType
	Left   Expr
	Right  Expr
}

func (n *Binary) Pos() Position { return n.PosVal }
func (n *Binary) node()         {}
func (n *Binary) expr()         {}

// Logical represents a short-circuiting && or ||.
type Logical struct {
	annotation
	PosVal Position
	Op     TokenType
	Left   Expr
	Right  Expr
}

func (n *Logical) Pos() Position { return n.PosVal }
func (n *Logical) node()         {}
func (n *Logical) expr()         {}

// Assign represents assignment to a named binding.
type Assign struct {
	annotation
	PosVal Position
	Name   string
	Value  Expr
	Sym    *Symbol
}

func (n *Assign) Pos() Position { return n.PosVal }
func (n *Assign) node()         {}
func (n *Assign) expr()         {}

// FieldAccess represents obj.field. The analyzer resolves Field to its
// schema index, or to a constant for seal members of a tome.
type FieldAccess struct {
	annotation
	PosVal Position
	Object Expr
	Field  string
	Index  int
	Const  *Constant
}

func (n *FieldAccess) Pos() Position { return n.PosVal }
func (n *FieldAccess) node()         {}
func (n *FieldAccess) expr()         {}

// FieldAssign represents obj.field = value.
type FieldAssign struct {
	annotation
	PosVal Position
	Object Expr
	Field  string
	Value  Expr
	Index  int
}

func (n *FieldAssign) Pos() Position { return n.PosVal }
func (n *FieldAssign) node()         {}
func (n *FieldAssign) expr()         {}

// Call represents f(args), cast f with args, or obj.method(args).
// The analyzer sets Static for direct calls of top-level spells and Method
// for calls of attuned or tome spells.
type Call struct {
	annotation
	PosVal Position
	Callee Expr
	Args   []Expr
	Static *SpellInfo
	Method *Method
}

func (n *Call) Pos() Position { return n.PosVal }
func (n *Call) node()         {}
func (n *Call) expr()         {}

// FieldInit is one name: value pair of a sign construction.
type FieldInit struct {
	PosVal Position
	Name   string
	Value  Expr
	Index  int
}

// CastSign represents cast Name { field: value, ... }.
type CastSign struct {
	annotation
	PosVal Position
	Name   string
	Fields []*FieldInit
	Schema *SignSchema
}

func (n *CastSign) Pos() Position { return n.PosVal }
func (n *CastSign) node()         {}
func (n *CastSign) expr()         {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// DeclKind distinguishes mark, bind and seal declarations.
type DeclKind int

const (
	DeclMark DeclKind = iota
	DeclBind
	DeclSeal
)

func (k DeclKind) String() string {
	switch k {
	case DeclBind:
		return "bind"
	case DeclSeal:
		return "seal"
	}
	return "mark"
}

// VarDecl represents mark/bind/seal name (: Weave)? (= init)?;
type VarDecl struct {
	PosVal    Position
	Kind      DeclKind
	Name      string
	WeaveName string
	Init      Expr
	Sym       *Symbol
}

func (n *VarDecl) Pos() Position { return n.PosVal }
func (n *VarDecl) node()         {}
func (n *VarDecl) stmt()         {}

// ExprStmt is an expression evaluated for its effect.
type ExprStmt struct {
	PosVal Position
	Expr   Expr
}

func (n *ExprStmt) Pos() Position { return n.PosVal }
func (n *ExprStmt) node()         {}
func (n *ExprStmt) stmt()         {}

// ChantStmt writes its value to program output.
type ChantStmt struct {
	PosVal Position
	Value  Expr
}

func (n *ChantStmt) Pos() Position { return n.PosVal }
func (n *ChantStmt) node()         {}
func (n *ChantStmt) stmt()         {}

// Block is a braced statement list opening a new realm.
type Block struct {
	PosVal Position
	Stmts  []Stmt
	End    Token
}

func (n *Block) Pos() Position { return n.PosVal }
func (n *Block) node()         {}
func (n *Block) stmt()         {}

// FateStmt is fate cond { } with an optional divert branch, which is
// either a *Block or a chained *FateStmt.
type FateStmt struct {
	PosVal Position
	Cond   Expr
	Then   *Block
	Divert Stmt
}

func (n *FateStmt) Pos() Position { return n.PosVal }
func (n *FateStmt) node()         {}
func (n *FateStmt) stmt()         {}

// WhileStmt loops while its condition holds.
type WhileStmt struct {
	PosVal Position
	Cond   Expr
	Body   *Block
}

func (n *WhileStmt) Pos() Position { return n.PosVal }
func (n *WhileStmt) node()         {}
func (n *WhileStmt) stmt()         {}

// ReleaseStmt returns from the enclosing spell, with an optional value.
type ReleaseStmt struct {
	PosVal Position
	Value  Expr
}

func (n *ReleaseStmt) Pos() Position { return n.PosVal }
func (n *ReleaseStmt) node()         {}
func (n *ReleaseStmt) stmt()         {}

// SeverStmt leaves the innermost loop.
type SeverStmt struct {
	PosVal Position
}

func (n *SeverStmt) Pos() Position { return n.PosVal }
func (n *SeverStmt) node()         {}
func (n *SeverStmt) stmt()         {}

// FlowStmt continues with the next iteration of the innermost loop.
type FlowStmt struct {
	PosVal Position
}

func (n *FlowStmt) Pos() Position { return n.PosVal }
func (n *FlowStmt) node()         {}
func (n *FlowStmt) stmt()         {}

// Param is a typed spell parameter.
type Param struct {
	PosVal    Position
	Name      string
	WeaveName string
}

// SpellDecl declares a spell. ReturnName is empty for unit spells.
type SpellDecl struct {
	PosVal     Position
	Name       string
	Params     []*Param
	ReturnName string
	Body       *Block
	Info       *SpellInfo
	Sym        *Symbol // nil for attuned and tome spells
}

func (n *SpellDecl) Pos() Position { return n.PosVal }
func (n *SpellDecl) node()         {}
func (n *SpellDecl) stmt()         {}

// FieldDecl is one name: Weave entry of a sign.
type FieldDecl struct {
	PosVal    Position
	Name      string
	WeaveName string
}

// SignDecl declares a struct-like sign.
type SignDecl struct {
	PosVal Position
	Name   string
	Fields []*FieldDecl
	Schema *SignSchema
}

func (n *SignDecl) Pos() Position { return n.PosVal }
func (n *SignDecl) node()         {}
func (n *SignDecl) stmt()         {}

// AttuneDecl attaches spells to an existing sign.
type AttuneDecl struct {
	PosVal Position
	Sign   string
	Spells []*SpellDecl
	Schema *SignSchema
}

func (n *AttuneDecl) Pos() Position { return n.PosVal }
func (n *AttuneDecl) node()         {}
func (n *AttuneDecl) stmt()         {}

// TomeMember is a field or spell of a tome. Exactly one of Var and Spell
// is set.
type TomeMember struct {
	Secret bool
	Var    *VarDecl
	Spell  *SpellDecl
}

// TomeDecl declares a class-like tome.
type TomeDecl struct {
	PosVal  Position
	Name    string
	Members []*TomeMember
	Schema  *SignSchema
}

func (n *TomeDecl) Pos() Position { return n.PosVal }
func (n *TomeDecl) node()         {}
func (n *TomeDecl) stmt()         {}

// ChannelStmt imports another source unit: channel a::b;
// The analyzer parses the unit and stores it in Unit, or leaves Unit nil
// when the same path was already channeled.
type ChannelStmt struct {
	PosVal Position
	Path   []string
	Unit   *Program
}

func (n *ChannelStmt) Pos() Position { return n.PosVal }
func (n *ChannelStmt) node()         {}
func (n *ChannelStmt) stmt()         {}

// Program is the root of a parsed source unit.
type Program struct {
	Stmts []Stmt
}

// ---------------------------------------------------------------------------
// Release analysis
// ---------------------------------------------------------------------------

// AlwaysReleases reports whether every path through stmts ends in a
// release statement.
func AlwaysReleases(stmts []Stmt) bool {
	for _, s := range stmts {
		if stmtReleases(s) {
			return true
		}
	}
	return false
}

func stmtReleases(s Stmt) bool {
	switch n := s.(type) {
	case *ReleaseStmt:
		return true
	case *Block:
		return AlwaysReleases(n.Stmts)
	case *FateStmt:
		if n.Divert == nil {
			return false
		}
		return AlwaysReleases(n.Then.Stmts) && stmtReleases(n.Divert)
	}
	return false
}
