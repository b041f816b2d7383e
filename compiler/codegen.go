package compiler

import (
	"fmt"

	"github.com/chazu/eira/vm"
)

// ---------------------------------------------------------------------------
// Codegen: analyzed AST to register bytecode
// ---------------------------------------------------------------------------

// MaxRegisters is the size of a frame's addressable register window.
const MaxRegisters = 256

// GenError reports a program the instruction set cannot express, such as a
// spell needing more registers than a frame can address.
type GenError struct {
	Msg string
	Pos Position
}

func (e *GenError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// Stage names the pipeline stage that produced the error.
func (e *GenError) Stage() string { return "generate" }

// Generator emits one chunk per spell. Locals live in the low registers of
// a frame and temporaries are stacked above them; the temporaries are
// reclaimed at the end of every statement.
type Generator struct {
	analysis *Analysis
	prog     *vm.Program
	fn       *funcState
	pos      Position
	err      error
}

// funcState tracks the chunk under construction.
type funcState struct {
	info     *SpellInfo
	chunk    *vm.Chunk
	b        *vm.Builder
	parent   *funcState
	regs     map[*Symbol]int
	localTop int // first register above the live locals
	next     int // next free temporary
	high     int // high-water mark, the chunk's RegisterCount
	loops    []loopState
}

type loopState struct {
	start int
	exit  *vm.Label
}

// Generate compiles an analyzed program.
func Generate(prog *Program, an *Analysis) (*vm.Program, error) {
	g := &Generator{
		analysis: an,
		prog: &vm.Program{
			Chunks:  make([]*vm.Chunk, len(an.Spells)),
			Globals: an.Globals,
		},
	}
	for _, s := range an.Schemas {
		g.prog.Schemas = append(g.prog.Schemas, &vm.Schema{Name: s.Name, Fields: s.FieldNames()})
	}

	fs := g.begin(an.Spells[0])
	stmts := prog.Stmts
	var last *ExprStmt
	if n := len(stmts); n > 0 {
		if es, ok := stmts[n-1].(*ExprStmt); ok {
			last, stmts = es, stmts[:n-1]
		}
	}
	for _, s := range stmts {
		g.stmt(s)
	}
	// A trailing expression is the program's result.
	if last != nil {
		g.line(last)
		r := g.alloc()
		g.expr(last.Expr, r)
		fs.b.Emit(vm.OpRelease, r)
	}
	g.finish(fs, last == nil)

	if g.err != nil {
		return nil, g.err
	}
	for i, c := range g.prog.Chunks {
		if c == nil {
			return nil, &GenError{Msg: fmt.Sprintf("spell %s was never generated", an.Spells[i].Name)}
		}
	}
	return g.prog, nil
}

func (g *Generator) errorf(format string, args ...interface{}) {
	if g.err == nil {
		g.err = &GenError{Msg: fmt.Sprintf(format, args...), Pos: g.pos}
	}
}

func (g *Generator) line(n Node) {
	g.pos = n.Pos()
	g.fn.b.SetLine(g.pos.Line)
}

// begin opens the chunk of info. Parameters occupy the first registers;
// captured parameters are moved into cells.
func (g *Generator) begin(info *SpellInfo) *funcState {
	fs := &funcState{
		info:   info,
		chunk:  &vm.Chunk{Name: info.Name, Arity: len(info.Params)},
		b:      vm.NewBuilder(),
		parent: g.fn,
		regs:   make(map[*Symbol]int),
	}
	g.prog.Chunks[info.Chunk] = fs.chunk
	g.fn = fs
	for i, p := range info.Params {
		fs.regs[p] = i
	}
	fs.localTop, fs.next, fs.high = len(info.Params), len(info.Params), len(info.Params)
	if info.Decl != nil {
		g.line(info.Decl)
	}
	for _, p := range info.Params {
		if !p.Captured {
			continue
		}
		c := g.alloc()
		fs.localTop = fs.next
		fs.b.Emit(vm.OpNewCell, c)
		fs.b.Emit(vm.OpSetCell, c, fs.regs[p])
		fs.regs[p] = c
	}
	return fs
}

// finish closes the chunk of fs. With implicit set, falling off the end of
// the code releases unit.
func (g *Generator) finish(fs *funcState, implicit bool) {
	if implicit {
		fs.next = fs.localTop
		r := g.alloc()
		fs.b.Emit(vm.OpUnit, r)
		fs.b.Emit(vm.OpRelease, r)
	}
	if err := fs.b.Err(); err != nil {
		g.errorf("spell %s: %v", fs.info.Name, err)
	}
	fs.chunk.Code = fs.b.Bytes()
	fs.chunk.Lines = fs.b.Lines()
	fs.chunk.RegisterCount = fs.high
	g.fn = fs.parent
}

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

// alloc returns a fresh temporary register.
func (g *Generator) alloc() int {
	fs := g.fn
	r := fs.next
	fs.next++
	if fs.next > fs.high {
		fs.high = fs.next
	}
	if fs.next > MaxRegisters {
		g.errorf("spell %s needs more than %d registers", fs.info.Name, MaxRegisters)
		return 0
	}
	return r
}

// reserve returns the first of n consecutive fresh registers.
func (g *Generator) reserve(n int) int {
	base := g.fn.next
	for i := 0; i < n; i++ {
		g.alloc()
	}
	return base
}

// declareLocal assigns sym the next register and keeps it live until the
// enclosing realm ends.
func (g *Generator) declareLocal(sym *Symbol) int {
	fs := g.fn
	r := g.alloc()
	fs.localTop = fs.next
	fs.regs[sym] = r
	return r
}

func (g *Generator) constant(dest int, k vm.Constant) {
	fs := g.fn
	if len(fs.chunk.Constants) > vm.OperandWide.Max() {
		g.errorf("spell %s has too many constants", fs.info.Name)
		return
	}
	fs.b.Emit(vm.OpConstant, dest, fs.chunk.AddConstant(k))
}

func (g *Generator) loadConst(c *Constant, dest int) {
	switch c.Weave {
	case TruthWeave:
		if c.Truth {
			g.fn.b.Emit(vm.OpTrue, dest)
		} else {
			g.fn.b.Emit(vm.OpFalse, dest)
		}
	case TextWeave:
		g.constant(dest, vm.Constant{Text: c.Text, IsText: true})
	default:
		g.constant(dest, vm.Constant{Int: c.Int})
	}
}

func (g *Generator) zero(w *Weave, dest int) {
	switch w {
	case NumWeave:
		g.constant(dest, vm.Constant{})
	case TextWeave:
		g.constant(dest, vm.Constant{IsText: true})
	case TruthWeave:
		g.fn.b.Emit(vm.OpFalse, dest)
	default:
		g.fn.b.Emit(vm.OpUnit, dest)
	}
}

func (g *Generator) local(sym *Symbol) int {
	r, ok := g.fn.regs[sym]
	if !ok {
		g.errorf("%s has no register in spell %s", sym.Name, g.fn.info.Name)
	}
	return r
}

func (g *Generator) captureIndex(sym *Symbol) int {
	for i, c := range g.fn.info.Captures {
		if c.Sym == sym {
			return i
		}
	}
	g.errorf("spell %s did not capture %s", g.fn.info.Name, sym.Name)
	return 0
}

// load copies the value bound to sym into dest.
func (g *Generator) load(sym *Symbol, dest int) {
	b := g.fn.b
	switch {
	case sym.Const != nil:
		g.loadConst(sym.Const, dest)
	case sym.Kind == SymSpell && sym.Spell.Static:
		b.Emit(vm.OpSpellRef, dest, sym.Spell.Chunk)
	case sym.Global:
		b.Emit(vm.OpGetGlobal, dest, sym.Slot)
	case sym.Owner == g.fn.info:
		r := g.local(sym)
		if sym.Captured {
			b.Emit(vm.OpGetCell, dest, r)
		} else if r != dest {
			b.Emit(vm.OpMove, dest, r)
		}
	default:
		b.Emit(vm.OpGetCapture, dest, g.captureIndex(sym))
	}
}

// store writes src to the binding of sym.
func (g *Generator) store(sym *Symbol, src int) {
	b := g.fn.b
	switch {
	case sym.Global:
		b.Emit(vm.OpSetGlobal, src, sym.Slot)
	case sym.Owner == g.fn.info:
		r := g.local(sym)
		if sym.Captured {
			b.Emit(vm.OpSetCell, r, src)
		} else if r != src {
			b.Emit(vm.OpMove, r, src)
		}
	default:
		b.Emit(vm.OpSetCapture, g.captureIndex(sym), src)
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (g *Generator) stmt(s Stmt) {
	fs := g.fn
	g.line(s)
	defer func() { fs.next = fs.localTop }()

	switch n := s.(type) {
	case *VarDecl:
		g.varDecl(n)
	case *ExprStmt:
		g.expr(n.Expr, g.alloc())
	case *ChantStmt:
		r := g.alloc()
		g.expr(n.Value, r)
		fs.b.Emit(vm.OpChant, r)
	case *Block:
		g.block(n.Stmts)
	case *FateStmt:
		g.fate(n)
	case *WhileStmt:
		g.while(n)
	case *ReleaseStmt:
		r := g.alloc()
		if n.Value == nil {
			fs.b.Emit(vm.OpUnit, r)
		} else {
			g.expr(n.Value, r)
		}
		fs.b.Emit(vm.OpRelease, r)
	case *SeverStmt:
		if len(fs.loops) == 0 {
			g.errorf("sever outside of a loop")
			return
		}
		fs.b.EmitJump(vm.OpJump, fs.loops[len(fs.loops)-1].exit)
	case *FlowStmt:
		if len(fs.loops) == 0 {
			g.errorf("flow outside of a loop")
			return
		}
		fs.b.EmitLoop(fs.loops[len(fs.loops)-1].start)
	case *SpellDecl:
		g.spellDecl(n)
	case *SignDecl:
		// Layout only; the schema is emitted with the program.
	case *AttuneDecl:
		for _, spell := range n.Spells {
			g.body(spell.Info)
		}
	case *TomeDecl:
		for _, m := range n.Members {
			if m.Spell != nil {
				g.body(m.Spell.Info)
			}
		}
	case *ChannelStmt:
		if n.Unit != nil {
			for _, us := range n.Unit.Stmts {
				g.stmt(us)
			}
		}
	default:
		g.errorf("unsupported statement %T", s)
	}
}

func (g *Generator) block(stmts []Stmt) {
	fs := g.fn
	saved := fs.localTop
	for _, s := range stmts {
		g.stmt(s)
	}
	fs.localTop, fs.next = saved, saved
}

func (g *Generator) varDecl(n *VarDecl) {
	sym := n.Sym
	switch {
	case sym.Kind == SymSeal:
		// Folded into every use.
	case sym.Global:
		r := g.alloc()
		g.initial(n, r)
		g.fn.b.Emit(vm.OpSetGlobal, r, sym.Slot)
	case sym.Captured:
		r := g.declareLocal(sym)
		t := g.alloc()
		g.initial(n, t)
		g.fn.b.Emit(vm.OpNewCell, r)
		g.fn.b.Emit(vm.OpSetCell, r, t)
	default:
		g.initial(n, g.declareLocal(sym))
	}
}

func (g *Generator) initial(n *VarDecl, dest int) {
	if n.Init != nil {
		g.expr(n.Init, dest)
		return
	}
	g.zero(n.Sym.Weave, dest)
}

func (g *Generator) fate(n *FateStmt) {
	b := g.fn.b
	c := g.alloc()
	g.expr(n.Cond, c)
	divert := b.NewLabel()
	b.EmitJump(vm.OpJumpIfFalse, divert, c)
	g.fn.next = g.fn.localTop

	g.block(n.Then.Stmts)
	if n.Divert == nil {
		b.Mark(divert)
		return
	}
	end := b.NewLabel()
	b.EmitJump(vm.OpJump, end)
	b.Mark(divert)
	g.stmt(n.Divert)
	b.Mark(end)
}

func (g *Generator) while(n *WhileStmt) {
	fs := g.fn
	b := fs.b
	start := b.Len()
	c := g.alloc()
	g.expr(n.Cond, c)
	exit := b.NewLabel()
	b.EmitJump(vm.OpJumpIfFalse, exit, c)
	fs.next = fs.localTop

	fs.loops = append(fs.loops, loopState{start: start, exit: exit})
	g.block(n.Body.Stmts)
	fs.loops = fs.loops[:len(fs.loops)-1]
	b.EmitLoop(start)
	b.Mark(exit)
}

// body generates the chunk of info, restoring the current chunk after.
func (g *Generator) body(info *SpellInfo) {
	pos := g.pos
	fs := g.begin(info)
	for _, s := range info.Decl.Body.Stmts {
		g.stmt(s)
	}
	g.finish(fs, true)
	g.pos = pos
}

// spellDecl generates a nested spell. Top-level spells are plain chunks
// referenced by index; others become closures bound to a local.
func (g *Generator) spellDecl(n *SpellDecl) {
	info := n.Info
	if info.Static {
		g.body(info)
		return
	}
	fs := g.fn
	r := g.declareLocal(n.Sym)
	g.body(info)

	captures := make([]vm.Capture, len(info.Captures))
	for i, c := range info.Captures {
		if c.Local {
			captures[i] = vm.Capture{Local: true, Index: g.local(c.Sym)}
		} else {
			captures[i] = vm.Capture{Index: c.Index}
		}
	}
	g.prog.Chunks[info.Chunk].Captures = captures

	if n.Sym.Captured {
		// The cell exists before the closure so the spell can reach itself.
		fs.b.Emit(vm.OpNewCell, r)
		t := g.alloc()
		fs.b.Emit(vm.OpClosure, t, info.Chunk)
		fs.b.Emit(vm.OpSetCell, r, t)
		return
	}
	fs.b.Emit(vm.OpClosure, r, info.Chunk)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOps = map[TokenType]vm.Opcode{
	TokenPlus:         vm.OpAdd,
	TokenMinus:        vm.OpSub,
	TokenStar:         vm.OpMul,
	TokenSlash:        vm.OpDiv,
	TokenPercent:      vm.OpMod,
	TokenAmp:          vm.OpConcat,
	TokenEqualEqual:   vm.OpEqual,
	TokenBangEqual:    vm.OpNotEqual,
	TokenGreater:      vm.OpGreater,
	TokenGreaterEqual: vm.OpGreaterEqual,
	TokenLess:         vm.OpLess,
	TokenLessEqual:    vm.OpLessEqual,
}

// expr evaluates e into dest.
func (g *Generator) expr(e Expr, dest int) {
	b := g.fn.b
	switch n := e.(type) {
	case *IntLiteral:
		g.constant(dest, vm.Constant{Int: n.Value})
	case *TextLiteral:
		g.constant(dest, vm.Constant{Text: n.Value, IsText: true})
	case *TruthLiteral:
		if n.Value {
			b.Emit(vm.OpTrue, dest)
		} else {
			b.Emit(vm.OpFalse, dest)
		}
	case *Variable:
		g.load(n.Sym, dest)
	case *SelfExpr:
		g.load(n.Sym, dest)

	case *Unary:
		t := g.alloc()
		g.expr(n.Operand, t)
		if n.Op == TokenBang {
			b.Emit(vm.OpNot, dest, t)
		} else {
			b.Emit(vm.OpNegate, dest, t)
		}

	case *Binary:
		op, ok := binaryOps[n.Op]
		if !ok {
			g.errorf("unsupported operator %s", n.Op)
			return
		}
		l, r := g.alloc(), g.alloc()
		g.expr(n.Left, l)
		g.expr(n.Right, r)
		b.Emit(op, dest, l, r)

	case *Logical:
		g.logical(n, dest)

	case *Assign:
		g.expr(n.Value, dest)
		g.store(n.Sym, dest)

	case *FieldAccess:
		o := g.alloc()
		g.expr(n.Object, o)
		if n.Const != nil {
			g.loadConst(n.Const, dest)
			return
		}
		b.Emit(vm.OpGetField, dest, o, n.Index)

	case *FieldAssign:
		o := g.alloc()
		g.expr(n.Object, o)
		g.expr(n.Value, dest)
		b.Emit(vm.OpSetField, o, n.Index, dest)

	case *Call:
		g.call(n, dest)

	case *CastSign:
		g.castSign(n, dest)

	default:
		g.errorf("unsupported expression %T", e)
	}
}

func (g *Generator) logical(n *Logical, dest int) {
	b := g.fn.b
	g.expr(n.Left, dest)
	end := b.NewLabel()
	if n.Op == TokenAndAnd {
		b.EmitJump(vm.OpJumpIfFalse, end, dest)
		g.expr(n.Right, dest)
		b.Mark(end)
		return
	}
	rhs := b.NewLabel()
	b.EmitJump(vm.OpJumpIfFalse, rhs, dest)
	b.EmitJump(vm.OpJump, end)
	b.Mark(rhs)
	g.expr(n.Right, dest)
	b.Mark(end)
}

// args evaluates leading followed by args into consecutive registers and
// returns the first.
func (g *Generator) args(leading Expr, args []Expr) (int, int) {
	argc := len(args)
	if leading != nil {
		argc++
	}
	base := g.reserve(argc)
	i := base
	if leading != nil {
		g.expr(leading, i)
		i++
	}
	for _, a := range args {
		g.expr(a, i)
		i++
	}
	return base, argc
}

func (g *Generator) call(n *Call, dest int) {
	b := g.fn.b
	switch {
	case n.Method != nil:
		fa := n.Callee.(*FieldAccess)
		base, argc := g.args(fa.Object, n.Args)
		b.Emit(vm.OpCall, dest, n.Method.Spell.Chunk, base, argc)
	case n.Static != nil:
		base, argc := g.args(nil, n.Args)
		b.Emit(vm.OpCall, dest, n.Static.Chunk, base, argc)
	default:
		callee := g.alloc()
		g.expr(n.Callee, callee)
		base, argc := g.args(nil, n.Args)
		b.Emit(vm.OpInvoke, dest, callee, base, argc)
	}
}

// castSign evaluates the given fields in source order into their schema
// slots, fills the rest from tome defaults and constructs the instance.
func (g *Generator) castSign(n *CastSign, dest int) {
	schema := n.Schema
	base := g.reserve(len(schema.Fields))
	given := make([]bool, len(schema.Fields))
	for _, init := range n.Fields {
		g.expr(init.Value, base+init.Index)
		given[init.Index] = true
	}
	for i, f := range schema.Fields {
		if given[i] {
			continue
		}
		if f.Default == nil {
			g.errorf("cast %s is missing field %s", schema.Name, f.Name)
			return
		}
		g.expr(f.Default, base+i)
	}
	g.fn.b.Emit(vm.OpNewSign, dest, schema.Index, base)
}
