package compiler

import (
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

// LexError reports a malformed token.
type LexError struct {
	Msg string
	Pos Position
}

func (e *LexError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// Stage names the pipeline stage that produced the error.
func (e *LexError) Stage() string { return "lex" }

// Lexer produces tokens lazily from source text. A Lexer cannot be rewound;
// scanning again means constructing a new one.
type Lexer struct {
	input   string
	pos     int  // offset of ch
	readPos int  // offset after ch
	ch      rune // current character, 0 at end of input
	line    int
	col     int
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) atEnd() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

func (l *Lexer) errorf(pos Position, format string, args ...interface{}) error {
	return &LexError{Msg: fmt.Sprintf(format, args...), Pos: pos}
}

// NextToken returns the next token. At end of input it returns an EOF
// token, and keeps returning EOF on every later call.
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespaceAndComments()

	pos := l.position()
	if l.atEnd() {
		return Token{Type: TokenEOF, Pos: pos}, nil
	}

	single := func(tt TokenType) (Token, error) {
		lit := string(l.ch)
		l.readChar()
		return Token{Type: tt, Literal: lit, Pos: pos}, nil
	}
	double := func(next rune, two, one TokenType) (Token, error) {
		if l.peekChar() == next {
			lit := string(l.ch) + string(next)
			l.readChar()
			l.readChar()
			return Token{Type: two, Literal: lit, Pos: pos}, nil
		}
		return single(one)
	}

	switch l.ch {
	case '+':
		return single(TokenPlus)
	case '-':
		return single(TokenMinus)
	case '*':
		return single(TokenStar)
	case '/':
		return single(TokenSlash)
	case '%':
		return single(TokenPercent)
	case '.':
		return single(TokenDot)
	case ',':
		return single(TokenComma)
	case ';':
		return single(TokenSemicolon)
	case '(':
		return single(TokenLParen)
	case ')':
		return single(TokenRParen)
	case '{':
		return single(TokenLBrace)
	case '}':
		return single(TokenRBrace)
	case '&':
		return double('&', TokenAndAnd, TokenAmp)
	case '!':
		return double('=', TokenBangEqual, TokenBang)
	case '=':
		return double('=', TokenEqualEqual, TokenAssign)
	case '<':
		return double('=', TokenLessEqual, TokenLess)
	case '>':
		return double('=', TokenGreaterEqual, TokenGreater)
	case ':':
		return double(':', TokenColonColon, TokenColon)
	case '|':
		if l.peekChar() == '|' {
			return double('|', TokenOrOr, TokenOrOr)
		}
		return Token{}, l.errorf(pos, "unexpected character '|'")
	case '"':
		return l.readText(pos)
	}

	switch {
	case isDigit(l.ch):
		return l.readInteger(pos)
	case isIdentStart(l.ch):
		ident := l.readIdentifier()
		return Token{Type: LookupIdent(ident), Literal: ident, Pos: pos}, nil
	}
	return Token{}, l.errorf(pos, "unexpected character %q", l.ch)
}

func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEnd() {
		switch {
		case unicode.IsSpace(l.ch):
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for !l.atEnd() && l.ch != '\n' {
				l.readChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) readText(pos Position) (Token, error) {
	l.readChar() // opening quote
	start := l.pos
	for l.ch != '"' {
		if l.atEnd() {
			return Token{}, l.errorf(pos, "unterminated text literal")
		}
		l.readChar()
	}
	lit := l.input[start:l.pos]
	l.readChar() // closing quote
	return Token{Type: TokenText, Literal: lit, Pos: pos}, nil
}

func (l *Lexer) readInteger(pos Position) (Token, error) {
	start := l.pos
	for !l.atEnd() && isDigit(l.ch) {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	if _, err := strconv.ParseInt(lit, 10, 64); err != nil {
		return Token{}, l.errorf(pos, "integer literal %s out of range", lit)
	}
	return Token{Type: TokenInteger, Literal: lit, Pos: pos}, nil
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for !l.atEnd() && (isIdentStart(l.ch) || isDigit(l.ch)) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

// Tokenize scans the whole input, including the trailing EOF token.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}
