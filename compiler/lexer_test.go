package compiler

import (
	"errors"
	"testing"
)

func TestLexerOperatorsAndPunctuation(t *testing.T) {
	input := `+ - * / % & && || ! != = == < <= > >= . , : :: ; ( ) { }`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenPlus, "+"},
		{TokenMinus, "-"},
		{TokenStar, "*"},
		{TokenSlash, "/"},
		{TokenPercent, "%"},
		{TokenAmp, "&"},
		{TokenAndAnd, "&&"},
		{TokenOrOr, "||"},
		{TokenBang, "!"},
		{TokenBangEqual, "!="},
		{TokenAssign, "="},
		{TokenEqualEqual, "=="},
		{TokenLess, "<"},
		{TokenLessEqual, "<="},
		{TokenGreater, ">"},
		{TokenGreaterEqual, ">="},
		{TokenDot, "."},
		{TokenComma, ","},
		{TokenColon, ":"},
		{TokenColonColon, "::"},
		{TokenSemicolon, ";"},
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenLBrace, "{"},
		{TokenRBrace, "}"},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok, err := l.NextToken()
		if err != nil {
			t.Fatalf("token[%d]: unexpected error: %v", i, err)
		}
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerKeywords(t *testing.T) {
	for _, word := range Keywords() {
		tok, err := NewLexer(word).NextToken()
		if err != nil {
			t.Fatalf("Lexer(%q): %v", word, err)
		}
		if !tok.Type.IsKeyword() {
			t.Errorf("Lexer(%q): type = %v, want a keyword", word, tok.Type)
		}
		if tok.Type.String() != word {
			t.Errorf("Lexer(%q): type name = %q", word, tok.Type.String())
		}
	}

	tok, _ := NewLexer("spellbook").NextToken()
	if tok.Type != TokenIdentifier {
		t.Errorf("spellbook: type = %v, want IDENTIFIER", tok.Type)
	}
}

func TestLexerLiterals(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		lit   string
	}{
		{"42", TokenInteger, "42"},
		{"0", TokenInteger, "0"},
		{"9223372036854775807", TokenInteger, "9223372036854775807"},
		{`"hello world"`, TokenText, "hello world"},
		{`""`, TokenText, ""},
		{"Magic", TokenIdentifier, "Magic"},
		{"_tmp1", TokenIdentifier, "_tmp1"},
	}

	for _, tc := range tests {
		tok, err := NewLexer(tc.input).NextToken()
		if err != nil {
			t.Errorf("Lexer(%q): unexpected error: %v", tc.input, err)
			continue
		}
		if tok.Type != tc.typ || tok.Literal != tc.lit {
			t.Errorf("Lexer(%q) = %v %q, want %v %q", tc.input, tok.Type, tok.Literal, tc.typ, tc.lit)
		}
	}
}

func TestLexerPositions(t *testing.T) {
	tokens, err := Tokenize("mark x = 1;\n  // comment\n  chant x;")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	want := []struct {
		typ       TokenType
		line, col int
	}{
		{TokenMark, 1, 1},
		{TokenIdentifier, 1, 6},
		{TokenAssign, 1, 8},
		{TokenInteger, 1, 10},
		{TokenSemicolon, 1, 11},
		{TokenChant, 3, 3},
		{TokenIdentifier, 3, 9},
		{TokenSemicolon, 3, 10},
		{TokenEOF, 3, 11},
	}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, w := range want {
		tok := tokens[i]
		if tok.Type != w.typ || tok.Pos.Line != w.line || tok.Pos.Column != w.col {
			t.Errorf("token[%d] = %v at %s, want %v at %d:%d", i, tok.Type, tok.Pos, w.typ, w.line, w.col)
		}
	}
}

func TestLexerEOFIsSticky(t *testing.T) {
	l := NewLexer("x")
	if tok, _ := l.NextToken(); tok.Type != TokenIdentifier {
		t.Fatalf("first token = %v, want IDENTIFIER", tok.Type)
	}
	for i := 0; i < 3; i++ {
		tok, err := l.NextToken()
		if err != nil || tok.Type != TokenEOF {
			t.Errorf("call %d after end = %v, %v; want EOF", i, tok.Type, err)
		}
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unterminated text", `"open`},
		{"single bar", "a | b"},
		{"unknown character", "mark x = 1 @ 2;"},
		{"integer overflow", "9223372036854775808"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Tokenize(tc.input)
			var lexErr *LexError
			if !errors.As(err, &lexErr) {
				t.Fatalf("Tokenize(%q) error = %v, want *LexError", tc.input, err)
			}
			if lexErr.Stage() != "lex" {
				t.Errorf("Stage() = %q, want lex", lexErr.Stage())
			}
		})
	}
}
