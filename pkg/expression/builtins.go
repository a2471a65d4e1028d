package expression

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

type builtinFunc func(args []vars.Value, kwargs map[string]vars.Value) (vars.Value, error)

var builtins map[string]builtinFunc

func init() {
	builtins = map[string]builtinFunc{
		"len":    builtinLen,
		"str":    builtinStr,
		"int":    builtinInt,
		"float":  builtinFloat,
		"bool":   builtinBool,
		"min":    func(a []vars.Value, _ map[string]vars.Value) (vars.Value, error) { return extreme(a, -1) },
		"max":    func(a []vars.Value, _ map[string]vars.Value) (vars.Value, error) { return extreme(a, 1) },
		"sum":    builtinSum,
		"abs":    builtinAbs,
		"round":  builtinRound,
		"any":    builtinAny,
		"all":    builtinAll,
		"sorted": builtinSorted,
		"range":  builtinRange,
	}
}

func arity(args []vars.Value, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return fmt.Errorf("expected %d argument(s), got %d", lo, len(args))
		}
		return fmt.Errorf("expected %d to %d arguments, got %d", lo, hi, len(args))
	}
	return nil
}

// iterate returns the elements of a list, the characters of a string or
// the keys of a map.
func iterate(v vars.Value) ([]vars.Value, error) {
	switch v.Kind() {
	case vars.KindList:
		items, _ := v.AsList()
		return items, nil
	case vars.KindString:
		s, _ := v.AsString()
		out := make([]vars.Value, 0, len(s))
		for _, r := range s {
			out = append(out, vars.String(string(r)))
		}
		return out, nil
	case vars.KindMap:
		keys := v.Keys()
		out := make([]vars.Value, len(keys))
		for i, k := range keys {
			out[i] = vars.String(k)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s is not iterable", v.Kind())
}

func builtinLen(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return vars.Null, err
	}
	n := args[0].Len()
	if n < 0 {
		return vars.Null, fmt.Errorf("object of type %s has no len()", args[0].Kind())
	}
	return vars.Int(int64(n)), nil
}

func builtinStr(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 0, 1); err != nil {
		return vars.Null, err
	}
	if len(args) == 0 {
		return vars.String(""), nil
	}
	return vars.String(args[0].String()), nil
}

func builtinInt(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 0, 1); err != nil {
		return vars.Null, err
	}
	if len(args) == 0 {
		return vars.Int(0), nil
	}
	v := args[0]
	switch v.Kind() {
	case vars.KindBool, vars.KindInt:
		return vars.Int(intOf(v)), nil
	case vars.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= 1<<63 {
			return vars.Null, fmt.Errorf("cannot convert float %s to integer", v)
		}
		return vars.Int(int64(f)), nil
	case vars.KindString:
		s, _ := v.AsString()
		i, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), "_", ""), 10, 64)
		if err != nil {
			return vars.Null, fmt.Errorf("invalid literal for int() with base 10: %s", v.Repr())
		}
		return vars.Int(i), nil
	}
	return vars.Null, fmt.Errorf("argument must be a string or a number, not %s", v.Kind())
}

func builtinFloat(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 0, 1); err != nil {
		return vars.Null, err
	}
	if len(args) == 0 {
		return vars.Float(0), nil
	}
	v := args[0]
	switch v.Kind() {
	case vars.KindBool, vars.KindInt, vars.KindFloat:
		_, f, _, _ := numeric(v)
		return vars.Float(f), nil
	case vars.KindString:
		s, _ := v.AsString()
		f, err := cast.ToFloat64E(strings.TrimSpace(s))
		if err != nil || strings.TrimSpace(s) == "" {
			return vars.Null, fmt.Errorf("could not convert string to float: %s", v.Repr())
		}
		return vars.Float(f), nil
	}
	return vars.Null, fmt.Errorf("argument must be a string or a number, not %s", v.Kind())
}

func builtinBool(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 0, 1); err != nil {
		return vars.Null, err
	}
	if len(args) == 0 {
		return vars.Bool(false), nil
	}
	return vars.Bool(args[0].Truthy()), nil
}

// extreme implements min (dir -1) and max (dir 1).
func extreme(args []vars.Value, dir int) (vars.Value, error) {
	items := args
	if len(args) == 1 {
		var err error
		if items, err = iterate(args[0]); err != nil {
			return vars.Null, err
		}
	}
	if len(items) == 0 {
		return vars.Null, errors.New("arg is an empty sequence")
	}
	best := items[0]
	for _, it := range items[1:] {
		c, err := order(it, best)
		if err != nil {
			return vars.Null, fmt.Errorf("cannot compare %s and %s", it.Kind(), best.Kind())
		}
		if c*dir > 0 {
			best = it
		}
	}
	return best, nil
}

func builtinSum(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return vars.Null, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return vars.Null, err
	}
	total := vars.Int(0)
	if len(args) == 2 {
		total = args[1]
	}
	for _, it := range items {
		ti, tf, tInt, tNum := numeric(total)
		ii, iff, iInt, iNum := numeric(it)
		if !tNum || !iNum {
			return vars.Null, fmt.Errorf("unsupported operand types for +: %s and %s", total.Kind(), it.Kind())
		}
		if tInt && iInt {
			r := ti + ii
			if (r > ti) != (ii > 0) {
				return vars.Null, errors.New("integer overflow")
			}
			total = vars.Int(r)
		} else {
			total = vars.Float(tf + iff)
		}
	}
	return total, nil
}

func builtinAbs(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return vars.Null, err
	}
	i, f, isInt, ok := numeric(args[0])
	switch {
	case !ok:
		return vars.Null, fmt.Errorf("bad operand type for abs(): %s", args[0].Kind())
	case isInt && i == math.MinInt64:
		return vars.Null, errors.New("integer overflow")
	case isInt && i < 0:
		return vars.Int(-i), nil
	case isInt:
		return vars.Int(i), nil
	}
	return vars.Float(math.Abs(f)), nil
}

// builtinRound rounds half to even. round(x) returns an int; round(x, n)
// keeps the type of x.
func builtinRound(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return vars.Null, err
	}
	i, f, isInt, ok := numeric(args[0])
	if !ok {
		return vars.Null, fmt.Errorf("type %s doesn't define round()", args[0].Kind())
	}
	if len(args) == 1 || args[1].IsNull() {
		if isInt {
			return vars.Int(i), nil
		}
		r := math.RoundToEven(f)
		if math.IsNaN(r) || math.IsInf(r, 0) || math.Abs(r) >= 1<<63 {
			return vars.Null, fmt.Errorf("cannot convert float %s to integer", args[0])
		}
		return vars.Int(int64(r)), nil
	}

	nd, _, ndInt, ok := numeric(args[1])
	if !ok || !ndInt {
		return vars.Null, fmt.Errorf("ndigits must be an integer, not %s", args[1].Kind())
	}
	if isInt {
		if nd >= 0 {
			return vars.Int(i), nil
		}
		p := math.Pow(10, float64(-nd))
		return vars.Int(int64(math.RoundToEven(float64(i)/p) * p)), nil
	}
	if nd > 15 {
		return vars.Float(f), nil
	}
	p := math.Pow(10, float64(nd))
	return vars.Float(math.RoundToEven(f*p) / p), nil
}

func builtinAny(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return vars.Null, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return vars.Null, err
	}
	for _, it := range items {
		if it.Truthy() {
			return vars.Bool(true), nil
		}
	}
	return vars.Bool(false), nil
}

func builtinAll(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return vars.Null, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return vars.Null, err
	}
	for _, it := range items {
		if !it.Truthy() {
			return vars.Bool(false), nil
		}
	}
	return vars.Bool(true), nil
}

func builtinSorted(args []vars.Value, kwargs map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return vars.Null, err
	}
	reverse := false
	for k, v := range kwargs {
		if k != "reverse" {
			return vars.Null, fmt.Errorf("unexpected keyword argument %q", k)
		}
		reverse = v.Truthy()
	}
	items, err := iterate(args[0])
	if err != nil {
		return vars.Null, err
	}
	out := make([]vars.Value, len(items))
	copy(out, items)

	var cmpErr error
	sort.SliceStable(out, func(i, j int) bool {
		c, err := order(out[i], out[j])
		if err != nil {
			cmpErr = fmt.Errorf("cannot compare %s and %s", out[i].Kind(), out[j].Kind())
			return false
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	if cmpErr != nil {
		return vars.Null, cmpErr
	}
	return vars.List(out), nil
}

func builtinRange(args []vars.Value, _ map[string]vars.Value) (vars.Value, error) {
	if err := arity(args, 1, 3); err != nil {
		return vars.Null, err
	}
	nums := make([]int64, len(args))
	for i, a := range args {
		n, _, isInt, ok := numeric(a)
		if !ok || !isInt {
			return vars.Null, fmt.Errorf("%s object cannot be interpreted as an integer", a.Kind())
		}
		nums[i] = n
	}
	start, stop, step := int64(0), nums[0], int64(1)
	if len(nums) >= 2 {
		start, stop = nums[0], nums[1]
	}
	if len(nums) == 3 {
		step = nums[2]
	}
	if step == 0 {
		return vars.Null, errors.New("arg 3 must not be zero")
	}

	var count int64
	if step > 0 && stop > start {
		count = (stop - start + step - 1) / step
	} else if step < 0 && stop < start {
		count = (start - stop - step - 1) / -step
	}
	if count < 0 || count > maxSequence {
		return vars.Null, fmt.Errorf("range exceeds the limit of %d elements", maxSequence)
	}
	out := make([]vars.Value, 0, count)
	for k := int64(0); k < count; k++ {
		out = append(out, vars.Int(start+k*step))
	}
	return vars.List(out), nil
}

type methodFunc func(s string, args []vars.Value) (vars.Value, error)

var stringMethods = map[string]methodFunc{
	"upper": func(s string, args []vars.Value) (vars.Value, error) {
		if err := arity(args, 0, 0); err != nil {
			return vars.Null, err
		}
		return vars.String(strings.ToUpper(s)), nil
	},
	"lower": func(s string, args []vars.Value) (vars.Value, error) {
		if err := arity(args, 0, 0); err != nil {
			return vars.Null, err
		}
		return vars.String(strings.ToLower(s)), nil
	},
	"strip": func(s string, args []vars.Value) (vars.Value, error) {
		if err := arity(args, 0, 1); err != nil {
			return vars.Null, err
		}
		if len(args) == 0 || args[0].IsNull() {
			return vars.String(strings.TrimSpace(s)), nil
		}
		chars, err := stringArg(args[0])
		if err != nil {
			return vars.Null, err
		}
		return vars.String(strings.Trim(s, chars)), nil
	},
	"startswith": func(s string, args []vars.Value) (vars.Value, error) {
		if err := arity(args, 1, 1); err != nil {
			return vars.Null, err
		}
		prefix, err := stringArg(args[0])
		if err != nil {
			return vars.Null, err
		}
		return vars.Bool(strings.HasPrefix(s, prefix)), nil
	},
	"endswith": func(s string, args []vars.Value) (vars.Value, error) {
		if err := arity(args, 1, 1); err != nil {
			return vars.Null, err
		}
		suffix, err := stringArg(args[0])
		if err != nil {
			return vars.Null, err
		}
		return vars.Bool(strings.HasSuffix(s, suffix)), nil
	},
	"replace": func(s string, args []vars.Value) (vars.Value, error) {
		if err := arity(args, 2, 3); err != nil {
			return vars.Null, err
		}
		old, err := stringArg(args[0])
		if err != nil {
			return vars.Null, err
		}
		repl, err := stringArg(args[1])
		if err != nil {
			return vars.Null, err
		}
		count := -1
		if len(args) == 3 {
			n, _, isInt, ok := numeric(args[2])
			if !ok || !isInt {
				return vars.Null, fmt.Errorf("count must be an integer, not %s", args[2].Kind())
			}
			if n >= 0 {
				count = int(n)
			}
		}
		n := strings.Count(s, old)
		if count >= 0 && count < n {
			n = count
		}
		if grow := len(repl) - len(old); grow > 0 && n > maxSequence*16/grow {
			return vars.Null, errors.New("result too large")
		}
		return vars.String(strings.Replace(s, old, repl, count)), nil
	},
	"split": func(s string, args []vars.Value) (vars.Value, error) {
		if err := arity(args, 0, 2); err != nil {
			return vars.Null, err
		}
		maxSplit := -1
		if len(args) == 2 {
			n, _, isInt, ok := numeric(args[1])
			if !ok || !isInt {
				return vars.Null, fmt.Errorf("maxsplit must be an integer, not %s", args[1].Kind())
			}
			if n >= 0 {
				maxSplit = int(n)
			}
		}
		if len(args) == 0 || args[0].IsNull() {
			return vars.Strings(splitFields(s, maxSplit)...), nil
		}
		sep, err := stringArg(args[0])
		if err != nil {
			return vars.Null, err
		}
		if sep == "" {
			return vars.Null, errors.New("empty separator")
		}
		n := -1
		if maxSplit >= 0 {
			n = maxSplit + 1
		}
		return vars.Strings(strings.SplitN(s, sep, n)...), nil
	},
}

func stringArg(v vars.Value) (string, error) {
	s, ok := v.AsString()
	if !ok {
		return "", fmt.Errorf("expected a string argument, not %s", v.Kind())
	}
	return s, nil
}

// splitFields splits on runs of whitespace. With maxSplit >= 0 the
// remainder after maxSplit splits is kept whole, left-trimmed.
func splitFields(s string, maxSplit int) []string {
	if maxSplit < 0 {
		return strings.Fields(s)
	}
	var out []string
	rest := strings.TrimLeft(s, " \t\n\r\v\f")
	for len(out) < maxSplit && rest != "" {
		i := strings.IndexAny(rest, " \t\n\r\v\f")
		if i < 0 {
			break
		}
		out = append(out, rest[:i])
		rest = strings.TrimLeft(rest[i:], " \t\n\r\v\f")
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}
