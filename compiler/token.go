package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	TokenEOF TokenType = iota

	// Literals
	TokenInteger    // 42
	TokenText       // "hello"
	TokenIdentifier // foo, Magic

	// Operators
	TokenPlus         // +
	TokenMinus        // -
	TokenStar         // *
	TokenSlash        // /
	TokenPercent      // %
	TokenAmp          // &
	TokenBang         // !
	TokenBangEqual    // !=
	TokenAssign       // =
	TokenEqualEqual   // ==
	TokenLess         // <
	TokenLessEqual    // <=
	TokenGreater      // >
	TokenGreaterEqual // >=
	TokenAndAnd       // &&
	TokenOrOr         // ||

	// Punctuation
	TokenDot        // .
	TokenComma      // ,
	TokenColon      // :
	TokenColonColon // ::
	TokenSemicolon  // ;
	TokenLParen     // (
	TokenRParen     // )
	TokenLBrace     // {
	TokenRBrace     // }

	// Keywords
	TokenAttune
	TokenBind
	TokenCast
	TokenChannel
	TokenChant
	TokenDivert
	TokenFalse
	TokenFate
	TokenFlow
	TokenForge
	TokenMark
	TokenRelease
	TokenSeal
	TokenSecret
	TokenSelf
	TokenSever
	TokenSign
	TokenSpell
	TokenTome
	TokenTrue
	TokenWhile
	TokenWith
)

var tokenNames = map[TokenType]string{
	TokenEOF:          "EOF",
	TokenInteger:      "INTEGER",
	TokenText:         "TEXT",
	TokenIdentifier:   "IDENTIFIER",
	TokenPlus:         "+",
	TokenMinus:        "-",
	TokenStar:         "*",
	TokenSlash:        "/",
	TokenPercent:      "%",
	TokenAmp:          "&",
	TokenBang:         "!",
	TokenBangEqual:    "!=",
	TokenAssign:       "=",
	TokenEqualEqual:   "==",
	TokenLess:         "<",
	TokenLessEqual:    "<=",
	TokenGreater:      ">",
	TokenGreaterEqual: ">=",
	TokenAndAnd:       "&&",
	TokenOrOr:         "||",
	TokenDot:          ".",
	TokenComma:        ",",
	TokenColon:        ":",
	TokenColonColon:   "::",
	TokenSemicolon:    ";",
	TokenLParen:       "(",
	TokenRParen:       ")",
	TokenLBrace:       "{",
	TokenRBrace:       "}",
}

// keywords maps reserved words to their token types. Names are also
// registered in tokenNames by init.
var keywords = map[string]TokenType{
	"attune":  TokenAttune,
	"bind":    TokenBind,
	"cast":    TokenCast,
	"channel": TokenChannel,
	"chant":   TokenChant,
	"divert":  TokenDivert,
	"false":   TokenFalse,
	"fate":    TokenFate,
	"flow":    TokenFlow,
	"forge":   TokenForge,
	"mark":    TokenMark,
	"release": TokenRelease,
	"seal":    TokenSeal,
	"secret":  TokenSecret,
	"self":    TokenSelf,
	"sever":   TokenSever,
	"sign":    TokenSign,
	"spell":   TokenSpell,
	"tome":    TokenTome,
	"true":    TokenTrue,
	"while":   TokenWhile,
	"with":    TokenWith,
}

func init() {
	for word, tt := range keywords {
		tokenNames[tt] = word
	}
}

// String returns the string representation of a token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

// IsKeyword reports whether the token type is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t >= TokenAttune && t <= TokenWith
}

// LookupIdent returns the keyword token type for ident, or TokenIdentifier.
func LookupIdent(ident string) TokenType {
	if tt, ok := keywords[ident]; ok {
		return tt
	}
	return TokenIdentifier
}

// Keywords returns every reserved word of the language.
func Keywords() []string {
	words := make([]string, 0, len(keywords))
	for tt := TokenAttune; tt <= TokenWith; tt++ {
		words = append(words, tokenNames[tt])
	}
	return words
}

// ---------------------------------------------------------------------------
// Token and Position
// ---------------------------------------------------------------------------

// Position represents a location in source code.
type Position struct {
	Offset int // byte offset from start
	Line   int // 1-based line number
	Column int // 1-based column number
}

// String returns "line:column".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

// String returns a string representation of the token.
func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "end of input"
	case TokenIdentifier, TokenInteger:
		return fmt.Sprintf("%s %q", t.Type, t.Literal)
	case TokenText:
		return fmt.Sprintf("text %q", t.Literal)
	}
	return fmt.Sprintf("%q", t.Type.String())
}
