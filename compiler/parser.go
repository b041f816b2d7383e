package compiler

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent with precedence climbing for expressions
// ---------------------------------------------------------------------------

// ParseError reports a grammar violation: what was expected and the token
// that was found instead.
type ParseError struct {
	Msg      string
	Expected string
	Found    Token
	Pos      Position
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// Stage names the pipeline stage that produced the error.
func (e *ParseError) Stage() string { return "parse" }

// Parser consumes tokens with one token of lookahead. Parsing stops at the
// first error.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	err       error
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	if err := p.nextToken(); err != nil {
		p.err = err
		return p
	}
	if err := p.nextToken(); err != nil {
		p.err = err
	}
	return p
}

// Parse parses a complete source unit.
func Parse(input string) (*Program, error) {
	return NewParser(input).ParseProgram()
}

// nextToken advances to the next token.
func (p *Parser) nextToken() error {
	p.curToken = p.peekToken
	tok, err := p.lexer.NextToken()
	if err != nil {
		return err
	}
	p.peekToken = tok
	return nil
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// expect consumes the current token if it has type t.
func (p *Parser) expect(t TokenType) (Token, error) {
	tok := p.curToken
	if tok.Type != t {
		return tok, p.unexpected(t.String())
	}
	return tok, p.nextToken()
}

func (p *Parser) unexpected(expected string) error {
	return &ParseError{
		Msg:      fmt.Sprintf("expected %s, found %s", expected, p.curToken),
		Expected: expected,
		Found:    p.curToken,
		Pos:      p.curToken.Pos,
	}
}

func (p *Parser) identifier() (string, error) {
	tok, err := p.expect(TokenIdentifier)
	return tok.Literal, err
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

// ParseProgram parses declarations until end of input.
func (p *Parser) ParseProgram() (*Program, error) {
	if p.err != nil {
		return nil, p.err
	}
	prog := &Program{}
	for !p.curTokenIs(TokenEOF) {
		s, err := p.parseDeclaration()
		if err != nil {
			return nil, err
		}
		prog.Stmts = append(prog.Stmts, s)
	}
	return prog, nil
}

func (p *Parser) parseDeclaration() (Stmt, error) {
	switch p.curToken.Type {
	case TokenMark, TokenBind, TokenSeal:
		return p.parseVarDecl()
	case TokenSpell:
		return p.parseSpellDecl()
	case TokenSign:
		return p.parseSignDecl()
	case TokenAttune:
		return p.parseAttuneDecl()
	case TokenTome:
		return p.parseTomeDecl()
	case TokenChannel:
		return p.parseChannel()
	}
	return p.parseStatement()
}

func (p *Parser) parseStatement() (Stmt, error) {
	pos := p.curToken.Pos
	switch p.curToken.Type {
	case TokenChant:
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenSemicolon); err != nil {
			return nil, err
		}
		return &ChantStmt{PosVal: pos, Value: value}, nil

	case TokenLBrace:
		return p.parseBlock()

	case TokenFate:
		return p.parseFate()

	case TokenWhile:
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		cond, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		return &WhileStmt{PosVal: pos, Cond: cond, Body: body}, nil

	case TokenRelease:
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		stmt := &ReleaseStmt{PosVal: pos}
		if !p.curTokenIs(TokenSemicolon) {
			value, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			stmt.Value = value
		}
		if _, err := p.expect(TokenSemicolon); err != nil {
			return nil, err
		}
		return stmt, nil

	case TokenSever, TokenFlow:
		tt := p.curToken.Type
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenSemicolon); err != nil {
			return nil, err
		}
		if tt == TokenSever {
			return &SeverStmt{PosVal: pos}, nil
		}
		return &FlowStmt{PosVal: pos}, nil
	}

	e, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	// The last expression of a source unit may omit its semicolon.
	if !p.curTokenIs(TokenEOF) {
		if _, err := p.expect(TokenSemicolon); err != nil {
			return nil, err
		}
	}
	return &ExprStmt{PosVal: pos, Expr: e}, nil
}

func (p *Parser) parseBlock() (*Block, error) {
	open, err := p.expect(TokenLBrace)
	if err != nil {
		return nil, err
	}
	block := &Block{PosVal: open.Pos}
	for !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenEOF) {
			return nil, p.unexpected("'}'")
		}
		s, err := p.parseDeclaration()
		if err != nil {
			return nil, err
		}
		block.Stmts = append(block.Stmts, s)
	}
	block.End = p.curToken
	return block, p.nextToken()
}

func (p *Parser) parseFate() (*FateStmt, error) {
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &FateStmt{PosVal: pos, Cond: cond, Then: then}
	if !p.curTokenIs(TokenDivert) {
		return stmt, nil
	}
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	if p.curTokenIs(TokenFate) {
		stmt.Divert, err = p.parseFate()
	} else {
		stmt.Divert, err = p.parseBlock()
	}
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseVarDecl() (*VarDecl, error) {
	decl := &VarDecl{PosVal: p.curToken.Pos}
	switch p.curToken.Type {
	case TokenBind:
		decl.Kind = DeclBind
	case TokenSeal:
		decl.Kind = DeclSeal
	default:
		decl.Kind = DeclMark
	}
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	name, err := p.identifier()
	if err != nil {
		return nil, err
	}
	decl.Name = name

	if p.curTokenIs(TokenColon) {
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		if decl.WeaveName, err = p.identifier(); err != nil {
			return nil, err
		}
	}

	if p.curTokenIs(TokenAssign) {
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		if decl.Init, err = p.parseExpression(); err != nil {
			return nil, err
		}
	} else if decl.Kind != DeclMark {
		return nil, &ParseError{
			Msg:      fmt.Sprintf("%s %s requires an initializer, found %s", decl.Kind, name, p.curToken),
			Expected: "'='",
			Found:    p.curToken,
			Pos:      p.curToken.Pos,
		}
	} else if decl.WeaveName == "" {
		return nil, &ParseError{
			Msg:      fmt.Sprintf("mark %s needs a weave or an initializer, found %s", name, p.curToken),
			Expected: "':' or '='",
			Found:    p.curToken,
			Pos:      p.curToken.Pos,
		}
	}

	if _, err := p.expect(TokenSemicolon); err != nil {
		return nil, err
	}
	return decl, nil
}

func (p *Parser) parseSpellDecl() (*SpellDecl, error) {
	spellTok, err := p.expect(TokenSpell)
	if err != nil {
		return nil, err
	}
	decl := &SpellDecl{PosVal: spellTok.Pos}
	if decl.Name, err = p.identifier(); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	for !p.curTokenIs(TokenRParen) {
		if len(decl.Params) > 0 {
			if _, err := p.expect(TokenComma); err != nil {
				return nil, err
			}
		}
		param := &Param{PosVal: p.curToken.Pos}
		if param.Name, err = p.identifier(); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenColon); err != nil {
			return nil, err
		}
		if param.WeaveName, err = p.identifier(); err != nil {
			return nil, err
		}
		decl.Params = append(decl.Params, param)
	}
	if err := p.nextToken(); err != nil {
		return nil, err
	}

	if p.curTokenIs(TokenColonColon) {
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		if decl.ReturnName, err = p.identifier(); err != nil {
			return nil, err
		}
	}

	if decl.Body, err = p.parseBlock(); err != nil {
		return nil, err
	}

	if decl.ReturnName != "" && decl.ReturnName != UnitWeave.Name && !AlwaysReleases(decl.Body.Stmts) {
		end := decl.Body.End
		return nil, &ParseError{
			Msg:      fmt.Sprintf("spell %s releases %s but can reach %s without a release", decl.Name, decl.ReturnName, end),
			Expected: "release",
			Found:    end,
			Pos:      end.Pos,
		}
	}
	return decl, nil
}

func (p *Parser) parseSignDecl() (*SignDecl, error) {
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	name, err := p.identifier()
	if err != nil {
		return nil, err
	}
	decl := &SignDecl{PosVal: pos, Name: name}
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	for !p.curTokenIs(TokenRBrace) {
		field := &FieldDecl{PosVal: p.curToken.Pos}
		if field.Name, err = p.identifier(); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenColon); err != nil {
			return nil, err
		}
		if field.WeaveName, err = p.identifier(); err != nil {
			return nil, err
		}
		decl.Fields = append(decl.Fields, field)
		if !p.curTokenIs(TokenComma) {
			break
		}
		if err := p.nextToken(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return decl, nil
}

func (p *Parser) parseAttuneDecl() (*AttuneDecl, error) {
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	name, err := p.identifier()
	if err != nil {
		return nil, err
	}
	decl := &AttuneDecl{PosVal: pos, Sign: name}
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	for !p.curTokenIs(TokenRBrace) {
		if !p.curTokenIs(TokenSpell) {
			return nil, p.unexpected("'spell'")
		}
		spell, err := p.parseSpellDecl()
		if err != nil {
			return nil, err
		}
		decl.Spells = append(decl.Spells, spell)
	}
	return decl, p.nextToken()
}

func (p *Parser) parseTomeDecl() (*TomeDecl, error) {
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	name, err := p.identifier()
	if err != nil {
		return nil, err
	}
	decl := &TomeDecl{PosVal: pos, Name: name}
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	for !p.curTokenIs(TokenRBrace) {
		member := &TomeMember{}
		switch p.curToken.Type {
		case TokenSecret:
			member.Secret = true
			fallthrough
		case TokenForge:
			if err := p.nextToken(); err != nil {
				return nil, err
			}
		}
		switch p.curToken.Type {
		case TokenMark, TokenBind, TokenSeal:
			member.Var, err = p.parseVarDecl()
		case TokenSpell:
			member.Spell, err = p.parseSpellDecl()
		default:
			return nil, p.unexpected("a tome member")
		}
		if err != nil {
			return nil, err
		}
		decl.Members = append(decl.Members, member)
	}
	return decl, p.nextToken()
}

func (p *Parser) parseChannel() (*ChannelStmt, error) {
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	stmt := &ChannelStmt{PosVal: pos}
	for {
		part, err := p.identifier()
		if err != nil {
			return nil, err
		}
		stmt.Path = append(stmt.Path, part)
		if !p.curTokenIs(TokenColonColon) {
			break
		}
		if err := p.nextToken(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return nil, err
	}
	return stmt, nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// precedence is the binding power of an infix operator.
type precedence int

const (
	precNone precedence = iota
	precAssign
	precOr
	precAnd
	precEquality
	precCompare
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

var infixPrecedence = map[TokenType]precedence{
	TokenOrOr:         precOr,
	TokenAndAnd:       precAnd,
	TokenEqualEqual:   precEquality,
	TokenBangEqual:    precEquality,
	TokenLess:         precCompare,
	TokenLessEqual:    precCompare,
	TokenGreater:      precCompare,
	TokenGreaterEqual: precCompare,
	TokenPlus:         precTerm,
	TokenMinus:        precTerm,
	TokenAmp:          precTerm,
	TokenStar:         precFactor,
	TokenSlash:        precFactor,
	TokenPercent:      precFactor,
}

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() (Expr, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.parseExpression()
}

func (p *Parser) parseExpression() (Expr, error) {
	return p.parseAssignment()
}

func (p *Parser) parseAssignment() (Expr, error) {
	target, err := p.parseInfix(precOr)
	if err != nil {
		return nil, err
	}
	if !p.curTokenIs(TokenAssign) {
		return target, nil
	}
	assignTok := p.curToken
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	value, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	switch t := target.(type) {
	case *Variable:
		return &Assign{PosVal: t.PosVal, Name: t.Name, Value: value}, nil
	case *FieldAccess:
		return &FieldAssign{PosVal: t.PosVal, Object: t.Object, Field: t.Field, Value: value}, nil
	}
	return nil, &ParseError{
		Msg:      "invalid assignment target",
		Expected: "identifier or field",
		Found:    assignTok,
		Pos:      target.Pos(),
	}
}

// parseInfix parses operators binding at least as tightly as min.
func (p *Parser) parseInfix(min precedence) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec, ok := infixPrecedence[p.curToken.Type]
		if !ok || prec < min {
			return left, nil
		}
		op := p.curToken
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		right, err := p.parseInfix(prec + 1)
		if err != nil {
			return nil, err
		}
		if op.Type == TokenAndAnd || op.Type == TokenOrOr {
			left = &Logical{PosVal: op.Pos, Op: op.Type, Left: left, Right: right}
		} else {
			left = &Binary{PosVal: op.Pos, Op: op.Type, Left: left, Right: right}
		}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.curTokenIs(TokenBang) || p.curTokenIs(TokenMinus) {
		op := p.curToken
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{PosVal: op.Pos, Op: op.Type, Operand: operand}, nil
	}
	return p.parseCall()
}

func (p *Parser) parseCall() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.curToken.Type {
		case TokenLParen:
			pos := p.curToken.Pos
			if err := p.nextToken(); err != nil {
				return nil, err
			}
			var args []Expr
			for !p.curTokenIs(TokenRParen) {
				if len(args) > 0 {
					if _, err := p.expect(TokenComma); err != nil {
						return nil, err
					}
				}
				arg, err := p.parseExpression()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
			}
			if err := p.nextToken(); err != nil {
				return nil, err
			}
			e = &Call{PosVal: pos, Callee: e, Args: args}
		case TokenDot:
			if err := p.nextToken(); err != nil {
				return nil, err
			}
			fieldTok := p.curToken
			name, err := p.identifier()
			if err != nil {
				return nil, err
			}
			e = &FieldAccess{PosVal: fieldTok.Pos, Object: e, Field: name}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.curToken
	switch tok.Type {
	case TokenInteger:
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return nil, &LexError{Msg: fmt.Sprintf("integer literal %s out of range", tok.Literal), Pos: tok.Pos}
		}
		return &IntLiteral{PosVal: tok.Pos, Value: v}, p.nextToken()
	case TokenText:
		return &TextLiteral{PosVal: tok.Pos, Value: tok.Literal}, p.nextToken()
	case TokenTrue, TokenFalse:
		return &TruthLiteral{PosVal: tok.Pos, Value: tok.Type == TokenTrue}, p.nextToken()
	case TokenSelf:
		return &SelfExpr{PosVal: tok.Pos}, p.nextToken()
	case TokenIdentifier:
		return &Variable{PosVal: tok.Pos, Name: tok.Literal}, p.nextToken()
	case TokenLParen:
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return e, nil
	case TokenCast:
		return p.parseCast()
	}
	return nil, p.unexpected("expression")
}

// parseCast parses sign construction, cast Name { f: v }, and spell
// invocation, cast name with a, b.
func (p *Parser) parseCast() (Expr, error) {
	pos := p.curToken.Pos
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	nameTok := p.curToken
	name, err := p.identifier()
	if err != nil {
		return nil, err
	}

	switch p.curToken.Type {
	case TokenLBrace:
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		cast := &CastSign{PosVal: pos, Name: name}
		for !p.curTokenIs(TokenRBrace) {
			init := &FieldInit{PosVal: p.curToken.Pos}
			if init.Name, err = p.identifier(); err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenColon); err != nil {
				return nil, err
			}
			if init.Value, err = p.parseExpression(); err != nil {
				return nil, err
			}
			cast.Fields = append(cast.Fields, init)
			if !p.curTokenIs(TokenComma) {
				break
			}
			if err := p.nextToken(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(TokenRBrace); err != nil {
			return nil, err
		}
		return cast, nil

	case TokenWith:
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		call := &Call{PosVal: pos, Callee: &Variable{PosVal: nameTok.Pos, Name: name}}
		for {
			arg, err := p.parseInfix(precOr)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			if !p.curTokenIs(TokenComma) {
				return call, nil
			}
			if err := p.nextToken(); err != nil {
				return nil, err
			}
		}
	}
	return &Call{PosVal: pos, Callee: &Variable{PosVal: nameTok.Pos, Name: name}}, nil
}
