package expression

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// maxSequence caps strings and lists produced by repetition and range().
const maxSequence = 10000

// env is the evaluation state of one Evaluate call.
type env struct {
	ctx      context.Context
	src      string
	lookup   func(name string) (vars.Value, bool)
	elements ElementQuerier
}

func (e *env) errorf(n Node, format string, args ...interface{}) error {
	return &core.ExpressionError{Expr: e.src, Pos: n.Pos(), Message: fmt.Sprintf(format, args...)}
}

func (e *env) eval(n Node) (vars.Value, error) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil
	case *Name:
		if v, ok := e.lookup(n.Name); ok {
			return v, nil
		}
		return vars.Null, &core.VariableNotFoundError{Name: n.Name}
	case *ListExpr:
		items := make([]vars.Value, len(n.Items))
		for i, item := range n.Items {
			v, err := e.eval(item)
			if err != nil {
				return vars.Null, err
			}
			items[i] = v
		}
		return vars.List(items), nil
	case *MapExpr:
		m := vars.NewMap()
		for i := range n.Keys {
			k, err := e.eval(n.Keys[i])
			if err != nil {
				return vars.Null, err
			}
			key, ok := k.AsString()
			if !ok {
				return vars.Null, e.errorf(n.Keys[i], "map keys must be strings, not %s", k.Kind())
			}
			v, err := e.eval(n.Values[i])
			if err != nil {
				return vars.Null, err
			}
			m.Set(key, v)
		}
		return vars.MapOf(m), nil
	case *Unary:
		return e.unary(n)
	case *Binary:
		x, err := e.eval(n.X)
		if err != nil {
			return vars.Null, err
		}
		y, err := e.eval(n.Y)
		if err != nil {
			return vars.Null, err
		}
		return e.binary(n, n.Op, x, y)
	case *Logical:
		x, err := e.eval(n.X)
		if err != nil {
			return vars.Null, err
		}
		if (n.Op == "and") != x.Truthy() {
			return x, nil
		}
		return e.eval(n.Y)
	case *Compare:
		return e.compareChain(n)
	case *Ternary:
		cond, err := e.eval(n.Cond)
		if err != nil {
			return vars.Null, err
		}
		if cond.Truthy() {
			return e.eval(n.Then)
		}
		return e.eval(n.Else)
	case *Attr:
		x, err := e.eval(n.X)
		if err != nil {
			return vars.Null, err
		}
		if x.Kind() != vars.KindMap {
			return vars.Null, e.errorf(n, "%s has no attribute %q", x.Kind(), n.Name)
		}
		v, ok := x.Get(n.Name)
		if !ok {
			return vars.Null, e.errorf(n, "key %q not found", n.Name)
		}
		return v, nil
	case *Index:
		x, err := e.eval(n.X)
		if err != nil {
			return vars.Null, err
		}
		idx, err := e.eval(n.Index)
		if err != nil {
			return vars.Null, err
		}
		return e.index(n, x, idx)
	case *Slice:
		return e.slice(n)
	case *Call:
		return e.call(n)
	}
	return vars.Null, e.errorf(n, "unsupported construct %T", n)
}

func (e *env) unary(n *Unary) (vars.Value, error) {
	x, err := e.eval(n.X)
	if err != nil {
		return vars.Null, err
	}
	if n.Op == "not" {
		return vars.Bool(!x.Truthy()), nil
	}
	i, f, isInt, ok := numeric(x)
	if !ok {
		return vars.Null, e.errorf(n, "bad operand type for unary %s: %s", n.Op, x.Kind())
	}
	if n.Op == "+" {
		if isInt {
			return vars.Int(i), nil
		}
		return vars.Float(f), nil
	}
	if isInt {
		if i == math.MinInt64 {
			return vars.Null, e.errorf(n, "integer overflow")
		}
		return vars.Int(-i), nil
	}
	return vars.Float(-f), nil
}

// numeric returns x as a number. Booleans count as 0 and 1.
func numeric(x vars.Value) (i int64, f float64, isInt bool, ok bool) {
	switch x.Kind() {
	case vars.KindBool:
		b, _ := x.AsBool()
		if b {
			return 1, 1, true, true
		}
		return 0, 0, true, true
	case vars.KindInt:
		i, _ = x.AsInt()
		return i, float64(i), true, true
	case vars.KindFloat:
		f, _ = x.AsFloat()
		return 0, f, false, true
	}
	return 0, 0, false, false
}

func (e *env) binary(n Node, op string, x, y vars.Value) (vars.Value, error) {
	xi, xf, xInt, xNum := numeric(x)
	yi, yf, yInt, yNum := numeric(y)
	if xNum && yNum {
		return e.arith(n, op, xi, xf, xInt, yi, yf, yInt)
	}

	switch op {
	case "+":
		if xs, ok := x.AsString(); ok {
			if ys, ok := y.AsString(); ok {
				return vars.String(xs + ys), nil
			}
		}
		if xl, ok := x.AsList(); ok {
			if yl, ok := y.AsList(); ok {
				out := make([]vars.Value, 0, len(xl)+len(yl))
				return vars.List(append(append(out, xl...), yl...)), nil
			}
		}
	case "*":
		if xNum && xInt {
			return e.repeat(n, y, xi)
		}
		if yNum && yInt {
			return e.repeat(n, x, yi)
		}
	}
	return vars.Null, e.errorf(n, "unsupported operand types for %s: %s and %s", op, x.Kind(), y.Kind())
}

func (e *env) repeat(n Node, seq vars.Value, count int64) (vars.Value, error) {
	if count < 0 {
		count = 0
	}
	switch seq.Kind() {
	case vars.KindString:
		s, _ := seq.AsString()
		if count > maxSequence*16/int64(max(len(s), 1)) {
			return vars.Null, e.errorf(n, "string repetition too large")
		}
		return vars.String(strings.Repeat(s, int(count))), nil
	case vars.KindList:
		items, _ := seq.AsList()
		if count > maxSequence/int64(max(len(items), 1)) {
			return vars.Null, e.errorf(n, "list repetition too large")
		}
		out := make([]vars.Value, 0, len(items)*int(count))
		for k := int64(0); k < count; k++ {
			out = append(out, items...)
		}
		return vars.List(out), nil
	}
	return vars.Null, e.errorf(n, "unsupported operand types for *: %s and int", seq.Kind())
}

func (e *env) arith(n Node, op string, xi int64, xf float64, xInt bool, yi int64, yf float64, yInt bool) (vars.Value, error) {
	bothInt := xInt && yInt
	switch op {
	case "+":
		if bothInt {
			r := xi + yi
			if (r > xi) != (yi > 0) {
				return vars.Null, e.errorf(n, "integer overflow")
			}
			return vars.Int(r), nil
		}
		return vars.Float(xf + yf), nil
	case "-":
		if bothInt {
			r := xi - yi
			if (r < xi) != (yi > 0) {
				return vars.Null, e.errorf(n, "integer overflow")
			}
			return vars.Int(r), nil
		}
		return vars.Float(xf - yf), nil
	case "*":
		if bothInt {
			if xi != 0 && yi != 0 {
				r := xi * yi
				if r/yi != xi || (xi == -1 && yi == math.MinInt64) || (yi == -1 && xi == math.MinInt64) {
					return vars.Null, e.errorf(n, "integer overflow")
				}
				return vars.Int(r), nil
			}
			return vars.Int(0), nil
		}
		return vars.Float(xf * yf), nil
	case "/":
		if yf == 0 {
			return vars.Null, e.errorf(n, "division by zero")
		}
		return vars.Float(xf / yf), nil
	case "//":
		if yf == 0 {
			return vars.Null, e.errorf(n, "integer division or modulo by zero")
		}
		if bothInt {
			q := xi / yi
			if (xi%yi != 0) && ((xi < 0) != (yi < 0)) {
				q--
			}
			return vars.Int(q), nil
		}
		return vars.Float(math.Floor(xf / yf)), nil
	case "%":
		if yf == 0 {
			return vars.Null, e.errorf(n, "integer division or modulo by zero")
		}
		if bothInt {
			r := xi % yi
			if r != 0 && ((r < 0) != (yi < 0)) {
				r += yi
			}
			return vars.Int(r), nil
		}
		r := math.Mod(xf, yf)
		if r != 0 && ((r < 0) != (yf < 0)) {
			r += yf
		}
		return vars.Float(r), nil
	case "**":
		if bothInt && yi >= 0 {
			return e.intPow(n, xi, yi)
		}
		if xf == 0 && yf < 0 {
			return vars.Null, e.errorf(n, "zero cannot be raised to a negative power")
		}
		r := math.Pow(xf, yf)
		if math.IsNaN(r) {
			return vars.Null, e.errorf(n, "math domain error")
		}
		return vars.Float(r), nil
	}
	return vars.Null, e.errorf(n, "unknown operator %s", op)
}

func (e *env) intPow(n Node, base, exp int64) (vars.Value, error) {
	switch {
	case exp == 0:
		return vars.Int(1), nil
	case base == 0 || base == 1:
		return vars.Int(base), nil
	case base == -1:
		if exp%2 == 0 {
			return vars.Int(1), nil
		}
		return vars.Int(-1), nil
	}
	// |base| >= 2 overflows within 63 steps
	r := int64(1)
	for ; exp > 0; exp-- {
		next := r * base
		if next/base != r {
			return vars.Null, e.errorf(n, "integer overflow")
		}
		r = next
	}
	return vars.Int(r), nil
}

func (e *env) compareChain(n *Compare) (vars.Value, error) {
	left, err := e.eval(n.Operands[0])
	if err != nil {
		return vars.Null, err
	}
	for i, op := range n.Ops {
		right, err := e.eval(n.Operands[i+1])
		if err != nil {
			return vars.Null, err
		}
		ok, err := e.compare(n, op, left, right)
		if err != nil {
			return vars.Null, err
		}
		if !ok {
			return vars.Bool(false), nil
		}
		left = right
	}
	return vars.Bool(true), nil
}

func (e *env) compare(n Node, op string, x, y vars.Value) (bool, error) {
	switch op {
	case "==":
		return x.Equal(y), nil
	case "!=":
		return !x.Equal(y), nil
	case "is":
		return x.Kind() == y.Kind() && x.Equal(y), nil
	case "is not":
		return !(x.Kind() == y.Kind() && x.Equal(y)), nil
	case "in":
		return e.contains(n, y, x)
	case "not in":
		ok, err := e.contains(n, y, x)
		return !ok, err
	}

	c, err := order(x, y)
	if err != nil {
		return false, e.errorf(n, "'%s' not supported between %s and %s", op, x.Kind(), y.Kind())
	}
	switch op {
	case "<":
		return c < 0, nil
	case ">":
		return c > 0, nil
	case "<=":
		return c <= 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, e.errorf(n, "unknown comparison %s", op)
}

var errUnordered = errors.New("unordered types")

// order compares numbers, strings and lists. Other combinations are
// unordered.
func order(x, y vars.Value) (int, error) {
	_, xf, xInt, xNum := numeric(x)
	_, yf, yInt, yNum := numeric(y)
	if xNum && yNum {
		if xInt && yInt {
			a, b := intOf(x), intOf(y)
			switch {
			case a < b:
				return -1, nil
			case a > b:
				return 1, nil
			}
			return 0, nil
		}
		switch {
		case xf < yf:
			return -1, nil
		case xf > yf:
			return 1, nil
		}
		return 0, nil
	}
	if xs, ok := x.AsString(); ok {
		if ys, ok := y.AsString(); ok {
			return strings.Compare(xs, ys), nil
		}
	}
	if xl, ok := x.AsList(); ok {
		if yl, ok := y.AsList(); ok {
			for i := 0; i < len(xl) && i < len(yl); i++ {
				if xl[i].Equal(yl[i]) {
					continue
				}
				return order(xl[i], yl[i])
			}
			switch {
			case len(xl) < len(yl):
				return -1, nil
			case len(xl) > len(yl):
				return 1, nil
			}
			return 0, nil
		}
	}
	return 0, errUnordered
}

func intOf(v vars.Value) int64 {
	i, _, _, _ := numeric(v)
	return i
}

func (e *env) contains(n Node, container, item vars.Value) (bool, error) {
	switch container.Kind() {
	case vars.KindString:
		s, _ := container.AsString()
		sub, ok := item.AsString()
		if !ok {
			return false, e.errorf(n, "'in <string>' requires string as left operand, not %s", item.Kind())
		}
		return strings.Contains(s, sub), nil
	case vars.KindList:
		items, _ := container.AsList()
		for _, it := range items {
			if it.Equal(item) {
				return true, nil
			}
		}
		return false, nil
	case vars.KindMap:
		key, ok := item.AsString()
		if !ok {
			return false, nil
		}
		_, found := container.Get(key)
		return found, nil
	}
	return false, e.errorf(n, "argument of type %s is not iterable", container.Kind())
}

func (e *env) index(n Node, x, idx vars.Value) (vars.Value, error) {
	switch x.Kind() {
	case vars.KindList, vars.KindString:
		i, _, isInt, ok := numeric(idx)
		if !ok || !isInt {
			return vars.Null, e.errorf(n, "indices must be integers, not %s", idx.Kind())
		}
		if x.Kind() == vars.KindString {
			s, _ := x.AsString()
			runes := []rune(s)
			j, ok := normIndex(i, len(runes))
			if !ok {
				return vars.Null, e.errorf(n, "string index out of range")
			}
			return vars.String(string(runes[j])), nil
		}
		items, _ := x.AsList()
		j, ok := normIndex(i, len(items))
		if !ok {
			return vars.Null, e.errorf(n, "list index out of range")
		}
		return items[j], nil
	case vars.KindMap:
		key, ok := idx.AsString()
		if !ok {
			return vars.Null, e.errorf(n, "map keys must be strings, not %s", idx.Kind())
		}
		v, found := x.Get(key)
		if !found {
			return vars.Null, e.errorf(n, "key %q not found", key)
		}
		return v, nil
	}
	return vars.Null, e.errorf(n, "%s is not subscriptable", x.Kind())
}

func normIndex(i int64, n int) (int, bool) {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, false
	}
	return int(i), true
}

func (e *env) slice(n *Slice) (vars.Value, error) {
	x, err := e.eval(n.X)
	if err != nil {
		return vars.Null, err
	}
	var length int
	var runes []rune
	var items []vars.Value
	switch x.Kind() {
	case vars.KindString:
		s, _ := x.AsString()
		runes = []rune(s)
		length = len(runes)
	case vars.KindList:
		items, _ = x.AsList()
		length = len(items)
	default:
		return vars.Null, e.errorf(n, "%s is not subscriptable", x.Kind())
	}

	bound := func(node Node, def int) (int, error) {
		if node == nil {
			return def, nil
		}
		v, err := e.eval(node)
		if err != nil {
			return 0, err
		}
		if v.IsNull() {
			return def, nil
		}
		i, _, isInt, ok := numeric(v)
		if !ok || !isInt {
			return 0, e.errorf(node, "slice indices must be integers, not %s", v.Kind())
		}
		if i < 0 {
			i += int64(length)
		}
		if i < 0 {
			i = 0
		}
		if i > int64(length) {
			i = int64(length)
		}
		return int(i), nil
	}
	lo, err := bound(n.Lo, 0)
	if err != nil {
		return vars.Null, err
	}
	hi, err := bound(n.Hi, length)
	if err != nil {
		return vars.Null, err
	}
	if hi < lo {
		hi = lo
	}
	if x.Kind() == vars.KindString {
		return vars.String(string(runes[lo:hi])), nil
	}
	out := make([]vars.Value, hi-lo)
	copy(out, items[lo:hi])
	return vars.List(out), nil
}

func (e *env) call(n *Call) (vars.Value, error) {
	args := make([]vars.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := e.eval(a)
		if err != nil {
			return vars.Null, err
		}
		args[i] = v
	}
	kwargs := make(map[string]vars.Value, len(n.Kwargs))
	for _, kw := range n.Kwargs {
		v, err := e.eval(kw.Value)
		if err != nil {
			return vars.Null, err
		}
		kwargs[kw.Name] = v
	}

	switch fn := n.Func.(type) {
	case *Name:
		if b, ok := builtins[fn.Name]; ok {
			if len(kwargs) > 0 && fn.Name != "sorted" {
				return vars.Null, e.errorf(n, "%s() takes no keyword arguments", fn.Name)
			}
			v, err := b(args, kwargs)
			if err != nil {
				return vars.Null, e.errorf(n, "%s(): %v", fn.Name, err)
			}
			return v, nil
		}
		if f, ok := elementFuncs[fn.Name]; ok {
			return e.elementCall(n, fn.Name, f, args, kwargs)
		}
		return vars.Null, &core.UnsafeExpressionError{
			Expr: e.src, Name: fn.Name, Reason: fmt.Sprintf("call to %q is not allowed", fn.Name),
		}
	case *Attr:
		m, ok := stringMethods[fn.Name]
		if !ok {
			return vars.Null, &core.UnsafeExpressionError{
				Expr: e.src, Name: fn.Name, Reason: fmt.Sprintf("method %q is not allowed", fn.Name),
			}
		}
		recv, err := e.eval(fn.X)
		if err != nil {
			return vars.Null, err
		}
		s, ok := recv.AsString()
		if !ok {
			return vars.Null, e.errorf(n, "%s has no method %q", recv.Kind(), fn.Name)
		}
		if len(kwargs) > 0 {
			return vars.Null, e.errorf(n, "%s() takes no keyword arguments", fn.Name)
		}
		v, err := m(s, args)
		if err != nil {
			return vars.Null, e.errorf(n, "%s(): %v", fn.Name, err)
		}
		return v, nil
	}
	return vars.Null, e.errorf(n, "expression is not callable")
}
