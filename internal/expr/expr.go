// Package expr evaluates row expressions for the filter and vm operators.
//
// Variables resolve, in order, to the row's id ("id"), a column of the
// row's batch, or an entry of the run's parameter table.
package expr

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Knetic/govaluate"
	"github.com/vk/rankgrid/internal/rowset"
)

// ErrNull is returned when a referenced column is null for the row.
var ErrNull = errors.New("expression references a null value")

// Expr is a compiled expression.
type Expr struct {
	src  string
	eval *govaluate.EvaluableExpression
	vars []string
}

var functions = map[string]govaluate.ExpressionFunction{
	"abs":   unary("abs", math.Abs),
	"log1p": unary("log1p", math.Log1p),
	"sqrt":  unary("sqrt", math.Sqrt),
	"min":   binary("min", math.Min),
	"max":   binary("max", math.Max),
}

var cache sync.Map

// Compile parses src. Compiled expressions are cached by source text.
func Compile(src string) (*Expr, error) {
	if v, ok := cache.Load(src); ok {
		return v.(*Expr), nil
	}
	e, err := govaluate.NewEvaluableExpressionWithFunctions(src, functions)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", src, err)
	}
	x := &Expr{src: src, eval: e, vars: e.Vars()}
	cache.Store(src, x)
	return x, nil
}

// String returns the source text.
func (x *Expr) String() string { return x.src }

// Vars returns the variable names the expression references.
func (x *Expr) Vars() []string { return x.vars }

// Eval evaluates the expression against physical row i of b.
func (x *Expr) Eval(b *rowset.Batch, i int, params map[string]any) (any, error) {
	return x.eval.Eval(rowParams{b: b, row: i, params: params})
}

// Bool evaluates a predicate. Rows whose referenced columns are null
// report ErrNull.
func (x *Expr) Bool(b *rowset.Batch, i int, params map[string]any) (bool, error) {
	v, err := x.Eval(b, i, params)
	if err != nil {
		return false, err
	}
	out, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", x.src, v)
	}
	return out, nil
}

// Float evaluates a numeric expression.
func (x *Expr) Float(b *rowset.Batch, i int, params map[string]any) (float64, error) {
	v, err := x.Eval(b, i, params)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expression %q returned %T, want number", x.src, v)
	}
}

// Check reports ErrNull when a referenced column is null at row i and an
// error when a variable resolves to nothing at all.
func (x *Expr) Check(b *rowset.Batch, i int, params map[string]any) error {
	p := rowParams{b: b, row: i, params: params}
	for _, name := range x.vars {
		v, err := p.Get(name)
		if err != nil {
			return err
		}
		if v == nil {
			return ErrNull
		}
	}
	return nil
}

type rowParams struct {
	b      *rowset.Batch
	row    int
	params map[string]any
}

func (p rowParams) Get(name string) (any, error) {
	if name == "id" {
		return float64(p.b.ID(p.row)), nil
	}
	if p.b.HasKey(name) {
		return p.b.Value(name, p.row), nil
	}
	if v, ok := p.params[name]; ok {
		return normalize(v), nil
	}
	return nil, fmt.Errorf("no column or param named '%s'", name)
}

// normalize converts integers to float64, the only numeric type govaluate
// compares.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	default:
		return v
	}
}

func unary(name string, fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: expected 1 argument, got %d", name, len(args))
		}
		f, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("%s: argument is %T, want number", name, args[0])
		}
		return fn(f), nil
	}
}

func binary(name string, fn func(a, b float64) float64) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("%s: expected 2 arguments, got %d", name, len(args))
		}
		a, okA := args[0].(float64)
		b, okB := args[1].(float64)
		if !okA || !okB {
			return nil, fmt.Errorf("%s: arguments must be numbers", name)
		}
		return fn(a, b), nil
	}
}
