package compiler

import (
	"errors"
	"testing"
)

func parseOne(t *testing.T, src string) Stmt {
	t.Helper()
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	if len(prog.Stmts) != 1 {
		t.Fatalf("Parse(%q): got %d statements, want 1", src, len(prog.Stmts))
	}
	return prog.Stmts[0]
}

func parseExpr(t *testing.T, src string) Expr {
	t.Helper()
	es, ok := parseOne(t, src).(*ExprStmt)
	if !ok {
		t.Fatalf("Parse(%q): not an expression statement", src)
	}
	return es.Expr
}

func TestParsePrecedence(t *testing.T) {
	e := parseExpr(t, "1 + 2 * 3")
	add, ok := e.(*Binary)
	if !ok || add.Op != TokenPlus {
		t.Fatalf("root = %T, want + Binary", e)
	}
	if _, ok := add.Left.(*IntLiteral); !ok {
		t.Errorf("left = %T, want IntLiteral", add.Left)
	}
	mul, ok := add.Right.(*Binary)
	if !ok || mul.Op != TokenStar {
		t.Errorf("right = %T, want * Binary", add.Right)
	}
}

func TestParseLeftAssociative(t *testing.T) {
	e := parseExpr(t, "10 - 4 - 3")
	outer, ok := e.(*Binary)
	if !ok || outer.Op != TokenMinus {
		t.Fatalf("root = %T, want - Binary", e)
	}
	if lit, ok := outer.Right.(*IntLiteral); !ok || lit.Value != 3 {
		t.Errorf("right = %#v, want literal 3", outer.Right)
	}
	if _, ok := outer.Left.(*Binary); !ok {
		t.Errorf("left = %T, want Binary", outer.Left)
	}
}

func TestParseLogicalAndComparison(t *testing.T) {
	e := parseExpr(t, "a < b && b <= c || !d")
	or, ok := e.(*Logical)
	if !ok || or.Op != TokenOrOr {
		t.Fatalf("root = %T, want || Logical", e)
	}
	and, ok := or.Left.(*Logical)
	if !ok || and.Op != TokenAndAnd {
		t.Fatalf("left = %T, want && Logical", or.Left)
	}
	if un, ok := or.Right.(*Unary); !ok || un.Op != TokenBang {
		t.Errorf("right = %T, want ! Unary", or.Right)
	}
}

func TestParseAssignment(t *testing.T) {
	e := parseExpr(t, "x = y = 3")
	a, ok := e.(*Assign)
	if !ok || a.Name != "x" {
		t.Fatalf("root = %T, want Assign to x", e)
	}
	if inner, ok := a.Value.(*Assign); !ok || inner.Name != "y" {
		t.Errorf("value = %T, want Assign to y", a.Value)
	}

	fa, ok := parseExpr(t, "m.power = 5").(*FieldAssign)
	if !ok || fa.Field != "power" {
		t.Fatalf("m.power = 5: want FieldAssign to power")
	}
}

func TestParseInvalidAssignmentTarget(t *testing.T) {
	_, err := Parse("1 + 2 = 3;")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
}

func TestParseCalls(t *testing.T) {
	call, ok := parseExpr(t, "f(1, g(2))").(*Call)
	if !ok || len(call.Args) != 2 {
		t.Fatalf("f(1, g(2)): want Call with 2 args")
	}

	method, ok := parseExpr(t, "m.boost(2)").(*Call)
	if !ok {
		t.Fatalf("m.boost(2): want Call")
	}
	if fa, ok := method.Callee.(*FieldAccess); !ok || fa.Field != "boost" {
		t.Errorf("callee = %T, want FieldAccess boost", method.Callee)
	}

	cast, ok := parseExpr(t, "cast add with 1, 2 * 3").(*Call)
	if !ok || len(cast.Args) != 2 {
		t.Fatalf("cast add with: want Call with 2 args")
	}
	if v, ok := cast.Callee.(*Variable); !ok || v.Name != "add" {
		t.Errorf("callee = %#v, want add", cast.Callee)
	}

	bare, ok := parseExpr(t, "cast tick").(*Call)
	if !ok || len(bare.Args) != 0 {
		t.Errorf("cast tick: want zero-argument Call")
	}
}

func TestParseCastSign(t *testing.T) {
	cs, ok := parseExpr(t, `cast Magic { power: 5, name: "fire", }`).(*CastSign)
	if !ok {
		t.Fatalf("want CastSign")
	}
	if cs.Name != "Magic" || len(cs.Fields) != 2 {
		t.Fatalf("cast = %s with %d fields", cs.Name, len(cs.Fields))
	}
	if cs.Fields[0].Name != "power" || cs.Fields[1].Name != "name" {
		t.Errorf("fields = %s, %s", cs.Fields[0].Name, cs.Fields[1].Name)
	}
}

func TestParseDeclarations(t *testing.T) {
	tests := []struct {
		src   string
		check func(t *testing.T, s Stmt)
	}{
		{"mark x: NumWeave;", func(t *testing.T, s Stmt) {
			d := s.(*VarDecl)
			if d.Kind != DeclMark || d.WeaveName != "NumWeave" || d.Init != nil {
				t.Errorf("got %+v", d)
			}
		}},
		{"bind y = 2;", func(t *testing.T, s Stmt) {
			if d := s.(*VarDecl); d.Kind != DeclBind || d.Init == nil {
				t.Errorf("got %+v", d)
			}
		}},
		{"seal z: TextWeave = \"a\";", func(t *testing.T, s Stmt) {
			if d := s.(*VarDecl); d.Kind != DeclSeal || d.WeaveName != "TextWeave" {
				t.Errorf("got %+v", d)
			}
		}},
		{"spell add(a: NumWeave, b: NumWeave) :: NumWeave { release a + b; }", func(t *testing.T, s Stmt) {
			d := s.(*SpellDecl)
			if d.Name != "add" || len(d.Params) != 2 || d.ReturnName != "NumWeave" {
				t.Errorf("got %+v", d)
			}
		}},
		{"sign Magic { power: NumWeave, name: TextWeave }", func(t *testing.T, s Stmt) {
			if d := s.(*SignDecl); len(d.Fields) != 2 || d.Fields[1].WeaveName != "TextWeave" {
				t.Errorf("got %+v", d)
			}
		}},
		{"attune Magic { spell boost() { } spell drain() { } }", func(t *testing.T, s Stmt) {
			if d := s.(*AttuneDecl); d.Sign != "Magic" || len(d.Spells) != 2 {
				t.Errorf("got %+v", d)
			}
		}},
		{"tome Book { forge mark pages: NumWeave = 1; secret mark ink: NumWeave = 2; seal kind: TextWeave = \"grimoire\"; spell read() { } }", func(t *testing.T, s Stmt) {
			d := s.(*TomeDecl)
			if len(d.Members) != 4 {
				t.Fatalf("members = %d, want 4", len(d.Members))
			}
			if d.Members[0].Secret || !d.Members[1].Secret {
				t.Errorf("secret flags = %v, %v", d.Members[0].Secret, d.Members[1].Secret)
			}
			if d.Members[3].Spell == nil {
				t.Errorf("last member is not a spell")
			}
		}},
		{"channel std::math;", func(t *testing.T, s Stmt) {
			d := s.(*ChannelStmt)
			if len(d.Path) != 2 || d.Path[0] != "std" || d.Path[1] != "math" {
				t.Errorf("path = %v", d.Path)
			}
		}},
	}

	for _, tc := range tests {
		tc.check(t, parseOne(t, tc.src))
	}
}

func TestParseControlFlow(t *testing.T) {
	f, ok := parseOne(t, "fate a { chant 1; } divert fate b { chant 2; } divert { chant 3; }").(*FateStmt)
	if !ok {
		t.Fatalf("want FateStmt")
	}
	chained, ok := f.Divert.(*FateStmt)
	if !ok {
		t.Fatalf("divert = %T, want chained FateStmt", f.Divert)
	}
	if _, ok := chained.Divert.(*Block); !ok {
		t.Errorf("final divert = %T, want Block", chained.Divert)
	}

	w, ok := parseOne(t, "while i < 10 { fate i == 5 { sever; } flow; }").(*WhileStmt)
	if !ok {
		t.Fatalf("want WhileStmt")
	}
	if len(w.Body.Stmts) != 2 {
		t.Errorf("loop body has %d statements, want 2", len(w.Body.Stmts))
	}
}

func TestParseTrailingExpressionWithoutSemicolon(t *testing.T) {
	prog, err := Parse("mark x = 1;\nx + 1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := prog.Stmts[1].(*ExprStmt); !ok {
		t.Errorf("last statement = %T, want ExprStmt", prog.Stmts[1])
	}

	if _, err := Parse("x + 1 chant x;"); err == nil {
		t.Errorf("missing semicolon mid-program: want error")
	}
}

func TestParseReleaseExhaustiveness(t *testing.T) {
	accepted := []string{
		"spell f() :: NumWeave { release 1; }",
		"spell f(a: TruthWeave) :: NumWeave { fate a { release 1; } divert { release 2; } }",
		"spell f(a: TruthWeave) :: NumWeave { { release 1; } }",
		"spell f() { chant 1; }",
		"spell f() :: UnitWeave { chant 1; }",
	}
	for _, src := range accepted {
		if _, err := Parse(src); err != nil {
			t.Errorf("Parse(%q): %v", src, err)
		}
	}

	rejected := []string{
		"spell f() :: NumWeave { chant 1; }",
		"spell f(a: TruthWeave) :: NumWeave { fate a { release 1; } }",
		"spell f(a: TruthWeave) :: NumWeave { while a { release 1; } }",
	}
	for _, src := range rejected {
		_, err := Parse(src)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("Parse(%q) error = %v, want *ParseError", src, err)
			continue
		}
		if perr.Expected != "release" {
			t.Errorf("Parse(%q) Expected = %q, want release", src, perr.Expected)
		}
		if perr.Found.Type != TokenRBrace {
			t.Errorf("Parse(%q) Found = %v, want the closing brace", src, perr.Found)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		expected string
	}{
		{"bind without initializer", "bind x;", "'='"},
		{"mark without weave or initializer", "mark x;", "':' or '='"},
		{"missing semicolon", "chant 1 chant 2;", ";"},
		{"unclosed block", "{ chant 1;", "'}'"},
		{"bad expression", "chant );", "expression"},
		{"stray token in attune", "attune Magic { mark x = 1; }", "'spell'"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Parse(%q) error = %v, want *ParseError", tc.src, err)
			}
			if perr.Expected != tc.expected {
				t.Errorf("Expected = %q, want %q", perr.Expected, tc.expected)
			}
			if perr.Stage() != "parse" {
				t.Errorf("Stage() = %q, want parse", perr.Stage())
			}
		})
	}
}

func TestParseReportsLexErrors(t *testing.T) {
	_, err := Parse(`chant "open;`)
	var lexErr *LexError
	if !errors.As(err, &lexErr) {
		t.Fatalf("error = %v, want *LexError", err)
	}
}
