package expr

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Errors returned by Check. They are wrapped with context, so match them
// with errors.Is.
var (
	ErrUnknownColumn   = errors.New("unknown column")
	ErrUnknownFunction = errors.New("unknown function")
	ErrType            = errors.New("type error")
)

// Resolver reports the type of a column visible to an expression.
type Resolver func(name string) (arrow.DataType, bool)

// MapResolver builds a Resolver over a fixed name → type map.
func MapResolver(types map[string]arrow.DataType) Resolver {
	return func(name string) (arrow.DataType, bool) {
		dt, ok := types[name]
		return dt, ok
	}
}

type typeClass int

const (
	classInvalid typeClass = iota
	classInt
	classFloat
	classBool
	classString
)

func classify(dt arrow.DataType) typeClass {
	switch dt.ID() {
	case arrow.INT32, arrow.INT64:
		return classInt
	case arrow.FLOAT32, arrow.FLOAT64:
		return classFloat
	case arrow.BOOL:
		return classBool
	case arrow.STRING:
		return classString
	default:
		return classInvalid
	}
}

func isNumeric(dt arrow.DataType) bool {
	c := classify(dt)
	return c == classInt || c == classFloat
}

// promote returns the common arithmetic type of two numeric types.
func promote(a, b arrow.DataType) arrow.DataType {
	if classify(a) == classFloat || classify(b) == classFloat {
		return arrow.PrimitiveTypes.Float64
	}
	return arrow.PrimitiveTypes.Int64
}

// Check validates e against the columns visible through resolve and returns
// the Arrow type its evaluation produces. A bare column reference keeps the
// column's own type; every computed numeric result is int64 or float64.
func Check(e Expr, resolve Resolver) (arrow.DataType, error) {
	switch ex := e.(type) {
	case *ColumnExpr:
		dt, ok := resolve(ex.name)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownColumn, ex.name)
		}
		if classify(dt) == classInvalid {
			return nil, fmt.Errorf("%w: column %q has unsupported type %s", ErrType, ex.name, dt)
		}
		return dt, nil
	case *LiteralExpr:
		return literalType(ex.value), nil
	case *UnaryExpr:
		return checkUnary(ex, resolve)
	case *BinaryExpr:
		return checkBinary(ex, resolve)
	case *FunctionExpr:
		return checkFunction(ex, resolve)
	case *InvalidExpr:
		return nil, fmt.Errorf("%w: %s", ErrType, ex.message)
	default:
		return nil, fmt.Errorf("%w: unsupported expression %T", ErrType, e)
	}
}

func literalType(v interface{}) arrow.DataType {
	switch v.(type) {
	case int64:
		return arrow.PrimitiveTypes.Int64
	case float64:
		return arrow.PrimitiveTypes.Float64
	case bool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

func checkUnary(u *UnaryExpr, resolve Resolver) (arrow.DataType, error) {
	dt, err := Check(u.operand, resolve)
	if err != nil {
		return nil, err
	}
	if u.op == UnaryNot {
		if classify(dt) != classBool {
			return nil, fmt.Errorf("%w: operand of ! must be bool, got %s in %s", ErrType, dt, u)
		}
		return dt, nil
	}
	if !isNumeric(dt) {
		return nil, fmt.Errorf("%w: cannot negate %s in %s", ErrType, dt, u)
	}
	return promote(dt, dt), nil
}

func checkBinary(b *BinaryExpr, resolve Resolver) (arrow.DataType, error) {
	lt, err := Check(b.left, resolve)
	if err != nil {
		return nil, err
	}
	rt, err := Check(b.right, resolve)
	if err != nil {
		return nil, err
	}
	lc, rc := classify(lt), classify(rt)

	switch {
	case b.op.isLogical():
		if lc != classBool || rc != classBool {
			return nil, fmt.Errorf("%w: operands of %s must be bool, got %s and %s in %s", ErrType, b.op, lt, rt, b)
		}
		return arrow.FixedWidthTypes.Boolean, nil
	case b.op.isComparison():
		switch {
		case isNumeric(lt) && isNumeric(rt):
		case lc == classString && rc == classString:
		case lc == classBool && rc == classBool && (b.op == OpEq || b.op == OpNe):
		default:
			return nil, fmt.Errorf("%w: cannot compare %s with %s in %s", ErrType, lt, rt, b)
		}
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		if !isNumeric(lt) || !isNumeric(rt) {
			return nil, fmt.Errorf("%w: operator %s needs numeric operands, got %s and %s in %s", ErrType, b.op, lt, rt, b)
		}
		return promote(lt, rt), nil
	}
}

// function describes a built-in function's arity and result type.
type function struct {
	arity  int
	result func(args []arrow.DataType) (arrow.DataType, error)
}

func numericToFloat(args []arrow.DataType) (arrow.DataType, error) {
	for _, a := range args {
		if !isNumeric(a) {
			return nil, fmt.Errorf("expected numeric argument, got %s", a)
		}
	}
	return arrow.PrimitiveTypes.Float64, nil
}

func numericPromoted(args []arrow.DataType) (arrow.DataType, error) {
	if _, err := numericToFloat(args); err != nil {
		return nil, err
	}
	out := promote(args[0], args[0])
	for _, a := range args[1:] {
		out = promote(out, a)
	}
	return out, nil
}

func whereResult(args []arrow.DataType) (arrow.DataType, error) {
	if classify(args[0]) != classBool {
		return nil, fmt.Errorf("condition must be bool, got %s", args[0])
	}
	a, b := args[1], args[2]
	switch {
	case isNumeric(a) && isNumeric(b):
		return promote(a, b), nil
	case classify(a) == classify(b):
		return a, nil
	default:
		return nil, fmt.Errorf("branches have incompatible types %s and %s", a, b)
	}
}

var functions = map[string]function{
	"sqrt":  {1, numericToFloat},
	"exp":   {1, numericToFloat},
	"log":   {1, numericToFloat},
	"log10": {1, numericToFloat},
	"sin":   {1, numericToFloat},
	"cos":   {1, numericToFloat},
	"tan":   {1, numericToFloat},
	"asin":  {1, numericToFloat},
	"acos":  {1, numericToFloat},
	"atan":  {1, numericToFloat},
	"floor": {1, numericToFloat},
	"ceil":  {1, numericToFloat},
	"round": {1, numericToFloat},
	"pow":   {2, numericToFloat},
	"atan2": {2, numericToFloat},
	"hypot": {2, numericToFloat},
	"abs":   {1, numericPromoted},
	"min":   {2, numericPromoted},
	"max":   {2, numericPromoted},
	"where": {3, whereResult},
}

// Functions returns the names of the built-in functions.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	return names
}

func checkFunction(f *FunctionExpr, resolve Resolver) (arrow.DataType, error) {
	fn, ok := functions[f.name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownFunction, f.name)
	}
	if len(f.args) != fn.arity {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrType, f.name, fn.arity, len(f.args))
	}
	args := make([]arrow.DataType, len(f.args))
	for i, a := range f.args {
		dt, err := Check(a, resolve)
		if err != nil {
			return nil, err
		}
		args[i] = dt
	}
	dt, err := fn.result(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrType, f, err.Error())
	}
	return dt, nil
}
