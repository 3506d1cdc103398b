package expr

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Evaluator evaluates expressions against Arrow arrays
type Evaluator struct {
	mem memory.Allocator
}

// NewEvaluator creates a new expression evaluator
func NewEvaluator(mem memory.Allocator) *Evaluator {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &Evaluator{mem: mem}
}

// Evaluate evaluates expr over rows rows of the given columns and returns a
// new array. A bare column reference returns the column itself, retained.
// Integer division or modulo by zero yields null.
func (e *Evaluator) Evaluate(ex Expr, columns map[string]arrow.Array, rows int) (arrow.Array, error) {
	if c, ok := ex.(*ColumnExpr); ok {
		arr, ok := columns[c.name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownColumn, c.name)
		}
		arr.Retain()
		return arr, nil
	}

	v, err := e.eval(ex, columns, rows)
	if err != nil {
		return nil, err
	}
	return v.toArray(e.mem), nil
}

// EvaluateMask evaluates a boolean expression and returns one flag per row.
// Null results count as false.
func (e *Evaluator) EvaluateMask(ex Expr, columns map[string]arrow.Array, rows int) ([]bool, error) {
	v, err := e.eval(ex, columns, rows)
	if err != nil {
		return nil, err
	}
	if v.class != classBool {
		return nil, fmt.Errorf("%w: filter expression %s is not boolean", ErrType, ex)
	}
	mask := v.b
	if v.valid != nil {
		for i := range mask {
			mask[i] = mask[i] && v.valid[i]
		}
	}
	return mask, nil
}

// vector is the evaluator's working representation: a Go slice of one of
// four value classes plus an optional validity mask (nil means all valid).
type vector struct {
	class typeClass
	n     int
	i     []int64
	f     []float64
	b     []bool
	s     []string
	valid []bool
}

func (v *vector) isValid(k int) bool {
	return v.valid == nil || v.valid[k]
}

func (v *vector) floats() []float64 {
	if v.class == classFloat {
		return v.f
	}
	out := make([]float64, v.n)
	for k, x := range v.i {
		out[k] = float64(x)
	}
	return out
}

// mergeValid combines validity masks; the result is nil when all are nil.
func mergeValid(n int, vs ...*vector) []bool {
	var out []bool
	for _, v := range vs {
		if v.valid == nil {
			continue
		}
		if out == nil {
			out = make([]bool, n)
			copy(out, v.valid)
			continue
		}
		for k := range out {
			out[k] = out[k] && v.valid[k]
		}
	}
	return out
}

func fromArray(arr arrow.Array) (*vector, error) {
	n := arr.Len()
	v := &vector{n: n}
	if arr.NullN() > 0 {
		v.valid = make([]bool, n)
		for k := range v.valid {
			v.valid[k] = arr.IsValid(k)
		}
	}

	switch a := arr.(type) {
	case *array.Int32:
		v.class = classInt
		v.i = make([]int64, n)
		for k, x := range a.Int32Values() {
			v.i[k] = int64(x)
		}
	case *array.Int64:
		v.class = classInt
		v.i = append([]int64(nil), a.Int64Values()...)
	case *array.Float32:
		v.class = classFloat
		v.f = make([]float64, n)
		for k, x := range a.Float32Values() {
			v.f[k] = float64(x)
		}
	case *array.Float64:
		v.class = classFloat
		v.f = append([]float64(nil), a.Float64Values()...)
	case *array.Boolean:
		v.class = classBool
		v.b = make([]bool, n)
		for k := range v.b {
			v.b[k] = a.Value(k)
		}
	case *array.String:
		v.class = classString
		v.s = make([]string, n)
		for k := range v.s {
			v.s[k] = a.Value(k)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported column type %s", ErrType, arr.DataType())
	}
	return v, nil
}

func literal(value interface{}, n int) *vector {
	v := &vector{n: n}
	switch x := value.(type) {
	case int64:
		v.class = classInt
		v.i = make([]int64, n)
		for k := range v.i {
			v.i[k] = x
		}
	case float64:
		v.class = classFloat
		v.f = make([]float64, n)
		for k := range v.f {
			v.f[k] = x
		}
	case bool:
		v.class = classBool
		v.b = make([]bool, n)
		for k := range v.b {
			v.b[k] = x
		}
	case string:
		v.class = classString
		v.s = make([]string, n)
		for k := range v.s {
			v.s[k] = x
		}
	}
	return v
}

func (v *vector) toArray(mem memory.Allocator) arrow.Array {
	switch v.class {
	case classInt:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(v.i, v.valid)
		return b.NewArray()
	case classFloat:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(v.f, v.valid)
		return b.NewArray()
	case classBool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.AppendValues(v.b, v.valid)
		return b.NewArray()
	default:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues(v.s, v.valid)
		return b.NewArray()
	}
}

func (e *Evaluator) eval(ex Expr, columns map[string]arrow.Array, rows int) (*vector, error) {
	switch x := ex.(type) {
	case *ColumnExpr:
		arr, ok := columns[x.name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownColumn, x.name)
		}
		if arr.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", x.name, arr.Len(), rows)
		}
		return fromArray(arr)
	case *LiteralExpr:
		return literal(x.value, rows), nil
	case *UnaryExpr:
		operand, err := e.eval(x.operand, columns, rows)
		if err != nil {
			return nil, err
		}
		return evalUnary(x, operand)
	case *BinaryExpr:
		left, err := e.eval(x.left, columns, rows)
		if err != nil {
			return nil, err
		}
		right, err := e.eval(x.right, columns, rows)
		if err != nil {
			return nil, err
		}
		return evalBinary(x, left, right)
	case *FunctionExpr:
		args := make([]*vector, len(x.args))
		for k, a := range x.args {
			v, err := e.eval(a, columns, rows)
			if err != nil {
				return nil, err
			}
			args[k] = v
		}
		return evalFunction(x, args, rows)
	case *InvalidExpr:
		return nil, fmt.Errorf("invalid expression: %s", x.message)
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", ex)
	}
}

func evalUnary(u *UnaryExpr, v *vector) (*vector, error) {
	out := &vector{class: v.class, n: v.n, valid: v.valid}
	switch {
	case u.op == UnaryNot && v.class == classBool:
		out.b = make([]bool, v.n)
		for k, x := range v.b {
			out.b[k] = !x
		}
	case u.op == UnaryNeg && v.class == classInt:
		out.i = make([]int64, v.n)
		for k, x := range v.i {
			out.i[k] = -x
		}
	case u.op == UnaryNeg && v.class == classFloat:
		out.f = make([]float64, v.n)
		for k, x := range v.f {
			out.f[k] = -x
		}
	default:
		return nil, fmt.Errorf("%w: invalid operand for %s", ErrType, u)
	}
	return out, nil
}

func evalBinary(b *BinaryExpr, l, r *vector) (*vector, error) {
	switch {
	case b.op.isLogical():
		if l.class != classBool || r.class != classBool {
			return nil, fmt.Errorf("%w: operands of %s must be bool", ErrType, b.op)
		}
		return evalLogical(b.op, l, r), nil
	case b.op.isComparison():
		return evalComparison(b.op, l, r)
	default:
		return evalArithmetic(b.op, l, r)
	}
}

func evalLogical(op BinaryOp, l, r *vector) *vector {
	out := &vector{class: classBool, n: l.n, b: make([]bool, l.n), valid: mergeValid(l.n, l, r)}
	for k := range out.b {
		if op == OpAnd {
			out.b[k] = l.b[k] && r.b[k]
		} else {
			out.b[k] = l.b[k] || r.b[k]
		}
	}
	return out
}

func compare[T int64 | float64 | string](op BinaryOp, a, b T) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	default:
		return a >= b
	}
}

func evalComparison(op BinaryOp, l, r *vector) (*vector, error) {
	n := l.n
	out := &vector{class: classBool, n: n, b: make([]bool, n), valid: mergeValid(n, l, r)}

	switch {
	case l.class == classInt && r.class == classInt:
		for k := range out.b {
			out.b[k] = compare(op, l.i[k], r.i[k])
		}
	case isNumericClass(l.class) && isNumericClass(r.class):
		lf, rf := l.floats(), r.floats()
		for k := range out.b {
			out.b[k] = compare(op, lf[k], rf[k])
		}
	case l.class == classString && r.class == classString:
		for k := range out.b {
			out.b[k] = compare(op, l.s[k], r.s[k])
		}
	case l.class == classBool && r.class == classBool && (op == OpEq || op == OpNe):
		for k := range out.b {
			out.b[k] = (l.b[k] == r.b[k]) == (op == OpEq)
		}
	default:
		return nil, fmt.Errorf("%w: cannot apply %s to these operands", ErrType, op)
	}
	return out, nil
}

func isNumericClass(c typeClass) bool {
	return c == classInt || c == classFloat
}

func evalArithmetic(op BinaryOp, l, r *vector) (*vector, error) {
	if !isNumericClass(l.class) || !isNumericClass(r.class) {
		return nil, fmt.Errorf("%w: operator %s needs numeric operands", ErrType, op)
	}
	n := l.n
	valid := mergeValid(n, l, r)

	if l.class == classInt && r.class == classInt {
		out := &vector{class: classInt, n: n, i: make([]int64, n)}
		for k := range out.i {
			a, b := l.i[k], r.i[k]
			switch op {
			case OpAdd:
				out.i[k] = a + b
			case OpSub:
				out.i[k] = a - b
			case OpMul:
				out.i[k] = a * b
			case OpDiv, OpMod:
				if b == 0 {
					if valid == nil {
						valid = allValid(n)
					}
					valid[k] = false
					continue
				}
				if op == OpDiv {
					out.i[k] = a / b
				} else {
					out.i[k] = a % b
				}
			}
		}
		out.valid = valid
		return out, nil
	}

	lf, rf := l.floats(), r.floats()
	out := &vector{class: classFloat, n: n, f: make([]float64, n), valid: valid}
	for k := range out.f {
		a, b := lf[k], rf[k]
		switch op {
		case OpAdd:
			out.f[k] = a + b
		case OpSub:
			out.f[k] = a - b
		case OpMul:
			out.f[k] = a * b
		case OpDiv:
			out.f[k] = a / b
		case OpMod:
			out.f[k] = math.Mod(a, b)
		}
	}
	return out, nil
}

func allValid(n int) []bool {
	v := make([]bool, n)
	for k := range v {
		v[k] = true
	}
	return v
}

var unaryMath = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"exp":   math.Exp,
	"log":   math.Log,
	"log10": math.Log10,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"round": math.Round,
}

var binaryMath = map[string]func(float64, float64) float64{
	"pow":   math.Pow,
	"atan2": math.Atan2,
	"hypot": math.Hypot,
}

func evalFunction(f *FunctionExpr, args []*vector, n int) (*vector, error) {
	fn, ok := functions[f.name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownFunction, f.name)
	}
	if len(args) != fn.arity {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrType, f.name, fn.arity, len(args))
	}

	if f.name == "where" {
		return evalWhere(args, n)
	}
	for _, a := range args {
		if !isNumericClass(a.class) {
			return nil, fmt.Errorf("%w: %s expects numeric arguments", ErrType, f.name)
		}
	}

	valid := mergeValid(n, args...)
	if m, ok := unaryMath[f.name]; ok {
		out := &vector{class: classFloat, n: n, f: make([]float64, n), valid: valid}
		for k, x := range args[0].floats() {
			out.f[k] = m(x)
		}
		return out, nil
	}
	if m, ok := binaryMath[f.name]; ok {
		out := &vector{class: classFloat, n: n, f: make([]float64, n), valid: valid}
		a, b := args[0].floats(), args[1].floats()
		for k := range out.f {
			out.f[k] = m(a[k], b[k])
		}
		return out, nil
	}

	// abs, min, max keep integer results for integer inputs
	allInt := true
	for _, a := range args {
		allInt = allInt && a.class == classInt
	}
	if allInt {
		out := &vector{class: classInt, n: n, i: make([]int64, n), valid: valid}
		for k := range out.i {
			switch f.name {
			case "abs":
				out.i[k] = args[0].i[k]
				if out.i[k] < 0 {
					out.i[k] = -out.i[k]
				}
			case "min":
				out.i[k] = min(args[0].i[k], args[1].i[k])
			case "max":
				out.i[k] = max(args[0].i[k], args[1].i[k])
			}
		}
		return out, nil
	}
	out := &vector{class: classFloat, n: n, f: make([]float64, n), valid: valid}
	a := args[0].floats()
	var b []float64
	if len(args) > 1 {
		b = args[1].floats()
	}
	for k := range out.f {
		switch f.name {
		case "abs":
			out.f[k] = math.Abs(a[k])
		case "min":
			out.f[k] = math.Min(a[k], b[k])
		case "max":
			out.f[k] = math.Max(a[k], b[k])
		}
	}
	return out, nil
}

func evalWhere(args []*vector, n int) (*vector, error) {
	cond, a, b := args[0], args[1], args[2]
	if cond.class != classBool {
		return nil, fmt.Errorf("%w: where condition must be bool", ErrType)
	}
	if isNumericClass(a.class) && isNumericClass(b.class) && a.class != b.class {
		af, bf := a.floats(), b.floats()
		a = &vector{class: classFloat, n: n, f: af, valid: a.valid}
		b = &vector{class: classFloat, n: n, f: bf, valid: b.valid}
	}
	if a.class != b.class {
		return nil, fmt.Errorf("%w: where branches have different types", ErrType)
	}

	out := &vector{class: a.class, n: n}
	switch a.class {
	case classInt:
		out.i = make([]int64, n)
	case classFloat:
		out.f = make([]float64, n)
	case classBool:
		out.b = make([]bool, n)
	case classString:
		out.s = make([]string, n)
	}
	if cond.valid != nil || a.valid != nil || b.valid != nil {
		out.valid = make([]bool, n)
	}

	for k := range n {
		src := b
		if cond.b[k] {
			src = a
		}
		if out.valid != nil {
			out.valid[k] = cond.isValid(k) && src.isValid(k)
		}
		switch a.class {
		case classInt:
			out.i[k] = src.i[k]
		case classFloat:
			out.f[k] = src.f[k]
		case classBool:
			out.b[k] = src.b[k]
		case classString:
			out.s[k] = src.s[k]
		}
	}
	return out, nil
}
