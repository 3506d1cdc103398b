// Package expr provides the expression language used by Filter and Define:
// an AST that can be built programmatically or parsed from strings such as
// "pt > 20 && abs(eta) < 2.4", a static type checker, and a vectorized
// evaluator over Arrow arrays.
package expr

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ExprType represents the type of expression
type ExprType int

const (
	ExprColumn ExprType = iota
	ExprLiteral
	ExprBinary
	ExprUnary
	ExprFunction
	ExprInvalid
)

// Expr represents an expression that can be evaluated lazily. String returns
// a canonical form that Parse accepts.
type Expr interface {
	Type() ExprType
	String() string
}

// ColumnExpr represents a column reference
type ColumnExpr struct {
	name string
}

func (c *ColumnExpr) Type() ExprType {
	return ExprColumn
}

func (c *ColumnExpr) String() string {
	return c.name
}

func (c *ColumnExpr) Name() string {
	return c.name
}

// LiteralExpr represents a literal value: int64, float64, bool or string.
type LiteralExpr struct {
	value interface{}
}

func (l *LiteralExpr) Type() ExprType {
	return ExprLiteral
}

// String renders the literal in a form Parse reads back to an expression
// with the same canonical string. Negative numbers print as negations and
// infinities and NaN as inf() and nan().
func (l *LiteralExpr) String() string {
	switch v := l.value.(type) {
	case string:
		return strconv.Quote(v)
	case float64:
		switch {
		case math.IsNaN(v):
			return "nan()"
		case math.Signbit(v):
			return "(-" + (&LiteralExpr{value: -v}).String() + ")"
		case math.IsInf(v, 1):
			return "inf()"
		}
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case int64:
		if v < 0 && v != math.MinInt64 {
			return "(-" + strconv.FormatInt(-v, 10) + ")"
		}
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (l *LiteralExpr) Value() interface{} {
	return l.value
}

// BinaryOp represents binary operations
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

var binaryOpSymbols = map[BinaryOp]string{
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpMod: "%",
	OpEq:  "==",
	OpNe:  "!=",
	OpLt:  "<",
	OpLe:  "<=",
	OpGt:  ">",
	OpGe:  ">=",
	OpAnd: "&&",
	OpOr:  "||",
}

func (op BinaryOp) String() string {
	return binaryOpSymbols[op]
}

func (op BinaryOp) isComparison() bool {
	return op >= OpEq && op <= OpGe
}

func (op BinaryOp) isLogical() bool {
	return op == OpAnd || op == OpOr
}

// BinaryExpr represents a binary operation
type BinaryExpr struct {
	left  Expr
	op    BinaryOp
	right Expr
}

func (b *BinaryExpr) Type() ExprType {
	return ExprBinary
}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.left.String(), b.op, b.right.String())
}

func (b *BinaryExpr) Left() Expr {
	return b.left
}

func (b *BinaryExpr) Op() BinaryOp {
	return b.op
}

func (b *BinaryExpr) Right() Expr {
	return b.right
}

// UnaryOp represents unary operations
type UnaryOp int

const (
	UnaryNeg UnaryOp = iota
	UnaryNot
)

// UnaryExpr represents a unary operation
type UnaryExpr struct {
	op      UnaryOp
	operand Expr
}

func (u *UnaryExpr) Type() ExprType {
	return ExprUnary
}

func (u *UnaryExpr) String() string {
	opStr := "-"
	if u.op == UnaryNot {
		opStr = "!"
	}
	return fmt.Sprintf("(%s%s)", opStr, u.operand.String())
}

func (u *UnaryExpr) Op() UnaryOp {
	return u.op
}

func (u *UnaryExpr) Operand() Expr {
	return u.operand
}

// FunctionExpr represents a function call expression
type FunctionExpr struct {
	name string
	args []Expr
}

func (f *FunctionExpr) Type() ExprType {
	return ExprFunction
}

func (f *FunctionExpr) String() string {
	argStrs := make([]string, len(f.args))
	for i, arg := range f.args {
		argStrs[i] = arg.String()
	}
	return f.name + "(" + strings.Join(argStrs, ", ") + ")"
}

func (f *FunctionExpr) Name() string {
	return f.name
}

func (f *FunctionExpr) Args() []Expr {
	return f.args
}

// InvalidExpr represents an invalid expression with an error message. It
// always fails type checking, so graphs never execute it.
type InvalidExpr struct {
	message string
}

func (i *InvalidExpr) Type() ExprType {
	return ExprInvalid
}

func (i *InvalidExpr) String() string {
	return fmt.Sprintf("invalid(%q)", i.message)
}

func (i *InvalidExpr) Message() string {
	return i.message
}

// Constructor functions

// Col creates a column expression
func Col(name string) *ColumnExpr {
	return &ColumnExpr{name: name}
}

// Lit creates a literal expression. Go integer types are widened to int64
// and float32 to float64; unsupported types produce an InvalidExpr.
func Lit(value interface{}) Expr {
	switch v := value.(type) {
	case int:
		return &LiteralExpr{value: int64(v)}
	case int32:
		return &LiteralExpr{value: int64(v)}
	case int64, float64, bool, string:
		return &LiteralExpr{value: v}
	case float32:
		return &LiteralExpr{value: float64(v)}
	default:
		return Invalid(fmt.Sprintf("unsupported literal type %T", value))
	}
}

// Invalid creates an invalid expression with an error message
func Invalid(message string) *InvalidExpr {
	return &InvalidExpr{message: message}
}

// Binary creates a binary expression
func Binary(left Expr, op BinaryOp, right Expr) *BinaryExpr {
	return &BinaryExpr{left: left, op: op, right: right}
}

// Neg creates an arithmetic negation
func Neg(operand Expr) *UnaryExpr {
	return &UnaryExpr{op: UnaryNeg, operand: operand}
}

// Not creates a logical negation
func Not(operand Expr) *UnaryExpr {
	return &UnaryExpr{op: UnaryNot, operand: operand}
}

// Call creates a function expression
func Call(name string, args ...Expr) *FunctionExpr {
	return &FunctionExpr{name: name, args: args}
}

// Binary operations on column expressions

// Add creates an addition expression
func (c *ColumnExpr) Add(other Expr) *BinaryExpr {
	return Binary(c, OpAdd, other)
}

// Sub creates a subtraction expression
func (c *ColumnExpr) Sub(other Expr) *BinaryExpr {
	return Binary(c, OpSub, other)
}

// Mul creates a multiplication expression
func (c *ColumnExpr) Mul(other Expr) *BinaryExpr {
	return Binary(c, OpMul, other)
}

// Div creates a division expression
func (c *ColumnExpr) Div(other Expr) *BinaryExpr {
	return Binary(c, OpDiv, other)
}

// Eq creates an equality expression
func (c *ColumnExpr) Eq(other Expr) *BinaryExpr {
	return Binary(c, OpEq, other)
}

// Ne creates a not-equal expression
func (c *ColumnExpr) Ne(other Expr) *BinaryExpr {
	return Binary(c, OpNe, other)
}

// Lt creates a less-than expression
func (c *ColumnExpr) Lt(other Expr) *BinaryExpr {
	return Binary(c, OpLt, other)
}

// Le creates a less-than-or-equal expression
func (c *ColumnExpr) Le(other Expr) *BinaryExpr {
	return Binary(c, OpLe, other)
}

// Gt creates a greater-than expression
func (c *ColumnExpr) Gt(other Expr) *BinaryExpr {
	return Binary(c, OpGt, other)
}

// Ge creates a greater-than-or-equal expression
func (c *ColumnExpr) Ge(other Expr) *BinaryExpr {
	return Binary(c, OpGe, other)
}

// Binary operations on binary expressions (for chaining)

// Add creates an addition expression
func (b *BinaryExpr) Add(other Expr) *BinaryExpr {
	return Binary(b, OpAdd, other)
}

// Sub creates a subtraction expression
func (b *BinaryExpr) Sub(other Expr) *BinaryExpr {
	return Binary(b, OpSub, other)
}

// Mul creates a multiplication expression
func (b *BinaryExpr) Mul(other Expr) *BinaryExpr {
	return Binary(b, OpMul, other)
}

// Div creates a division expression
func (b *BinaryExpr) Div(other Expr) *BinaryExpr {
	return Binary(b, OpDiv, other)
}

// And creates a logical AND expression
func (b *BinaryExpr) And(other Expr) *BinaryExpr {
	return Binary(b, OpAnd, other)
}

// Or creates a logical OR expression
func (b *BinaryExpr) Or(other Expr) *BinaryExpr {
	return Binary(b, OpOr, other)
}

// Columns returns the sorted, de-duplicated column names referenced by e.
func Columns(e Expr) []string {
	seen := make(map[string]struct{})
	var walk func(Expr)
	walk = func(e Expr) {
		switch ex := e.(type) {
		case *ColumnExpr:
			seen[ex.name] = struct{}{}
		case *BinaryExpr:
			walk(ex.left)
			walk(ex.right)
		case *UnaryExpr:
			walk(ex.operand)
		case *FunctionExpr:
			for _, a := range ex.args {
				walk(a)
			}
		}
	}
	walk(e)

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
