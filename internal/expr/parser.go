package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TokenType represents the type of an expression token.
type TokenType int

const (
	EOF TokenType = iota
	ILLEGAL

	IDENT
	INT
	FLOAT
	STRING
	TRUE
	FALSE

	PLUS  // +
	MINUS // -
	MULT  // *
	DIV   // /
	MOD   // %
	EQ    // ==
	NE    // !=
	LT    // <
	LE    // <=
	GT    // >
	GE    // >=
	AND   // &&
	OR    // ||
	NOT   // !

	COMMA  // ,
	LPAREN // (
	RPAREN // )
)

// Token represents a single expression token.
type Token struct {
	Type     TokenType
	Literal  string
	Position int
}

// SyntaxError reports a malformed expression string.
type SyntaxError struct {
	Source   string
	Position int
	Message  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d in %q: %s", e.Position, e.Source, e.Message)
}

// Lexer tokenizes expression strings.
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
}

// NewLexer creates a new lexer instance.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// NextToken scans the input and returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	pos := l.position
	single := func(t TokenType) Token {
		tok := Token{Type: t, Literal: string(l.ch), Position: pos}
		l.readChar()
		return tok
	}
	double := func(t TokenType) Token {
		lit := l.input[pos : pos+2]
		l.readChar()
		l.readChar()
		return Token{Type: t, Literal: lit, Position: pos}
	}

	switch l.ch {
	case 0:
		return Token{Type: EOF, Position: pos}
	case '+':
		return single(PLUS)
	case '-':
		return single(MINUS)
	case '*':
		return single(MULT)
	case '/':
		return single(DIV)
	case '%':
		return single(MOD)
	case ',':
		return single(COMMA)
	case '(':
		return single(LPAREN)
	case ')':
		return single(RPAREN)
	case '=':
		if l.peekChar() == '=' {
			return double(EQ)
		}
		return single(ILLEGAL)
	case '!':
		if l.peekChar() == '=' {
			return double(NE)
		}
		return single(NOT)
	case '<':
		if l.peekChar() == '=' {
			return double(LE)
		}
		return single(LT)
	case '>':
		if l.peekChar() == '=' {
			return double(GE)
		}
		return single(GT)
	case '&':
		if l.peekChar() == '&' {
			return double(AND)
		}
		return single(ILLEGAL)
	case '|':
		if l.peekChar() == '|' {
			return double(OR)
		}
		return single(ILLEGAL)
	case '"', '\'':
		return l.readString()
	}

	switch {
	case isLetter(l.ch):
		ident := l.readIdentifier()
		switch ident {
		case "true":
			return Token{Type: TRUE, Literal: ident, Position: pos}
		case "false":
			return Token{Type: FALSE, Literal: ident, Position: pos}
		}
		return Token{Type: IDENT, Literal: ident, Position: pos}
	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		t, lit := l.readNumber()
		return Token{Type: t, Literal: lit, Position: pos}
	default:
		return single(ILLEGAL)
	}
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

func (l *Lexer) readNumber() (TokenType, string) {
	position := l.position
	t := INT
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' {
		t = FLOAT
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			t = FLOAT
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	return t, l.input[position:l.position]
}

// readString reads a quoted literal. Double-quoted strings follow Go escape
// rules so that canonical strings produced by LiteralExpr round-trip.
func (l *Lexer) readString() Token {
	pos := l.position
	quote := l.ch
	l.readChar()
	for l.ch != quote {
		if l.ch == 0 {
			return Token{Type: ILLEGAL, Literal: "unterminated string", Position: pos}
		}
		if l.ch == '\\' {
			l.readChar()
		}
		l.readChar()
	}
	raw := l.input[pos : l.position+1]
	l.readChar()

	if quote == '"' {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return Token{Type: ILLEGAL, Literal: "invalid string literal", Position: pos}
		}
		return Token{Type: STRING, Literal: s, Position: pos}
	}
	return Token{Type: STRING, Literal: raw[1 : len(raw)-1], Position: pos}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

// Operator precedences
const (
	_ int = iota
	LOWEST
	LOGICALOR   // ||
	LOGICALAND  // &&
	EQUALS      // == !=
	LESSGREATER // > < >= <=
	SUMPREC     // + -
	PRODUCT     // * / %
	PREFIX      // -X or !X
)

var precedences = map[TokenType]int{
	OR:    LOGICALOR,
	AND:   LOGICALAND,
	EQ:    EQUALS,
	NE:    EQUALS,
	LT:    LESSGREATER,
	LE:    LESSGREATER,
	GT:    LESSGREATER,
	GE:    LESSGREATER,
	PLUS:  SUMPREC,
	MINUS: SUMPREC,
	MULT:  PRODUCT,
	DIV:   PRODUCT,
	MOD:   PRODUCT,
}

var infixOps = map[TokenType]BinaryOp{
	PLUS:  OpAdd,
	MINUS: OpSub,
	MULT:  OpMul,
	DIV:   OpDiv,
	MOD:   OpMod,
	EQ:    OpEq,
	NE:    OpNe,
	LT:    OpLt,
	LE:    OpLe,
	GT:    OpGt,
	GE:    OpGe,
	AND:   OpAnd,
	OR:    OpOr,
}

// Parser is a Pratt parser for expression strings.
type Parser struct {
	source string
	lexer  *Lexer

	curToken  Token
	peekToken Token
	err       *SyntaxError
}

// NewParser creates a new parser for the given source.
func NewParser(source string) *Parser {
	p := &Parser{source: source, lexer: NewLexer(source)}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses an expression string such as "x > 0.5 && sqrt(y) < 2".
func Parse(source string) (Expr, error) {
	if strings.TrimSpace(source) == "" {
		return nil, &SyntaxError{Source: source, Message: "empty expression"}
	}
	return NewParser(source).Parse()
}

// MustParse is like Parse but panics on error. It is intended for tests and
// package-level expressions.
func MustParse(source string) Expr {
	e, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return e
}

// Parse parses the full input as a single expression.
func (p *Parser) Parse() (Expr, error) {
	e := p.parseExpression(LOWEST)
	if p.err == nil && !p.peekTokenIs(EOF) {
		p.fail(p.peekToken, fmt.Sprintf("unexpected %q after expression", p.peekToken.Literal))
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expectPeek(t TokenType, what string) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.fail(p.peekToken, "expected "+what)
	return false
}

func (p *Parser) peekPrecedence() int {
	if prec, ok := precedences[p.peekToken.Type]; ok {
		return prec
	}
	return LOWEST
}

// fail records the first error only; later errors are usually cascades.
func (p *Parser) fail(tok Token, msg string) {
	if p.err == nil {
		p.err = &SyntaxError{Source: p.source, Position: tok.Position, Message: msg}
	}
}

func (p *Parser) parseExpression(precedence int) Expr {
	left := p.parsePrefix()
	if p.err != nil {
		return nil
	}

	for precedence < p.peekPrecedence() {
		p.nextToken()
		op := infixOps[p.curToken.Type]
		prec := precedences[p.curToken.Type]
		p.nextToken()
		right := p.parseExpression(prec)
		if p.err != nil {
			return nil
		}
		left = Binary(left, op, right)
	}
	return left
}

func (p *Parser) parsePrefix() Expr {
	tok := p.curToken
	switch tok.Type {
	case IDENT:
		if p.peekTokenIs(LPAREN) {
			return p.parseCall()
		}
		return Col(tok.Literal)
	case INT:
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.fail(tok, fmt.Sprintf("invalid integer %q", tok.Literal))
			return nil
		}
		return Lit(v)
	case FLOAT:
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.fail(tok, fmt.Sprintf("invalid number %q", tok.Literal))
			return nil
		}
		return Lit(v)
	case STRING:
		return Lit(tok.Literal)
	case TRUE:
		return Lit(true)
	case FALSE:
		return Lit(false)
	case MINUS, NOT:
		p.nextToken()
		operand := p.parseExpression(PREFIX)
		if p.err != nil {
			return nil
		}
		if tok.Type == NOT {
			return Not(operand)
		}
		return Neg(operand)
	case LPAREN:
		p.nextToken()
		inner := p.parseExpression(LOWEST)
		if p.err != nil {
			return nil
		}
		if !p.expectPeek(RPAREN, "')'") {
			return nil
		}
		return inner
	case EOF:
		p.fail(tok, "unexpected end of expression")
	case ILLEGAL:
		p.fail(tok, fmt.Sprintf("illegal token %q", tok.Literal))
	default:
		p.fail(tok, fmt.Sprintf("unexpected %q", tok.Literal))
	}
	return nil
}

// constants are the zero-argument calls naming non-finite floats.
var constants = map[string]float64{
	"inf": math.Inf(1),
	"nan": math.NaN(),
}

func (p *Parser) parseCall() Expr {
	name := p.curToken.Literal
	p.nextToken() // consume '('

	var args []Expr
	if p.peekTokenIs(RPAREN) {
		p.nextToken()
		if v, ok := constants[name]; ok {
			return Lit(v)
		}
		return Call(name, args...)
	}

	for {
		p.nextToken()
		arg := p.parseExpression(LOWEST)
		if p.err != nil {
			return nil
		}
		args = append(args, arg)
		if !p.peekTokenIs(COMMA) {
			break
		}
		p.nextToken()
	}
	if !p.expectPeek(RPAREN, "')' after arguments to "+name) {
		return nil
	}
	return Call(name, args...)
}
