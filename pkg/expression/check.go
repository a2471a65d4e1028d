package expression

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

// CheckOptions controls the static allow-list pass.
type CheckOptions struct {
	// Known reports whether a bare name is a defined variable.
	Known func(name string) bool
	// AllowUnknownNames accepts undefined variable names. Used when variables
	// are only known at run time.
	AllowUnknownNames bool
}

// IsBuiltin reports whether name is an allow-listed function.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	if !ok {
		_, ok = elementFuncs[name]
	}
	return ok
}

// IsMethod reports whether name is an allow-listed string method.
func IsMethod(name string) bool {
	_, ok := stringMethods[name]
	return ok
}

// checker walks a tree and rejects every construct outside the allow-list
// before any of it is evaluated.
type checker struct {
	src  string
	opts CheckOptions

	// first undefined name; reported only when nothing unsafe is found
	undefined error
}

// CheckNode runs the allow-list pass over a parsed tree.
func CheckNode(src string, n Node, opts CheckOptions) error {
	c := &checker{src: src, opts: opts}
	if err := c.check(n); err != nil {
		return err
	}
	return c.undefined
}

func (c *checker) unsafe(name, reason string) error {
	return &core.UnsafeExpressionError{Expr: c.src, Name: name, Reason: reason}
}

func (c *checker) check(n Node) error {
	switch n := n.(type) {
	case *Literal:
		return nil
	case *Name:
		return c.checkName(n)
	case *ListExpr:
		return c.checkAll(n.Items...)
	case *MapExpr:
		if err := c.checkAll(n.Keys...); err != nil {
			return err
		}
		return c.checkAll(n.Values...)
	case *Unary:
		return c.check(n.X)
	case *Binary:
		return c.checkAll(n.X, n.Y)
	case *Logical:
		return c.checkAll(n.X, n.Y)
	case *Compare:
		return c.checkAll(n.Operands...)
	case *Ternary:
		return c.checkAll(n.Cond, n.Then, n.Else)
	case *Attr:
		if strings.HasPrefix(n.Name, "_") {
			return c.unsafe(n.Name, fmt.Sprintf("access to private attribute %q is not allowed", n.Name))
		}
		if IsMethod(n.Name) {
			return c.unsafe(n.Name, fmt.Sprintf("method %q must be called", n.Name))
		}
		return c.check(n.X)
	case *Index:
		return c.checkAll(n.X, n.Index)
	case *Slice:
		if err := c.check(n.X); err != nil {
			return err
		}
		if n.Lo != nil {
			if err := c.check(n.Lo); err != nil {
				return err
			}
		}
		if n.Hi != nil {
			return c.check(n.Hi)
		}
		return nil
	case *Call:
		return c.checkCall(n)
	}
	return c.unsafe("", fmt.Sprintf("unsupported construct %T", n))
}

func (c *checker) checkAll(nodes ...Node) error {
	for _, n := range nodes {
		if err := c.check(n); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) checkName(n *Name) error {
	switch {
	case strings.HasPrefix(n.Name, "_"):
		return c.unsafe(n.Name, fmt.Sprintf("access to private name %q is not allowed", n.Name))
	case IsBuiltin(n.Name):
		return c.unsafe(n.Name, fmt.Sprintf("function %q must be called", n.Name))
	case c.opts.Known != nil && c.opts.Known(n.Name):
		return nil
	case c.opts.AllowUnknownNames:
		return nil
	}
	if c.undefined == nil {
		c.undefined = &core.VariableNotFoundError{Name: n.Name}
	}
	return nil
}

func (c *checker) checkCall(n *Call) error {
	switch fn := n.Func.(type) {
	case *Name:
		if strings.HasPrefix(fn.Name, "_") {
			return c.unsafe(fn.Name, fmt.Sprintf("access to private name %q is not allowed", fn.Name))
		}
		if !IsBuiltin(fn.Name) {
			return c.unsafe(fn.Name, fmt.Sprintf("call to %q is not allowed", fn.Name))
		}
	case *Attr:
		if strings.HasPrefix(fn.Name, "_") {
			return c.unsafe(fn.Name, fmt.Sprintf("access to private attribute %q is not allowed", fn.Name))
		}
		if !IsMethod(fn.Name) {
			return c.unsafe(fn.Name, fmt.Sprintf("method %q is not allowed", fn.Name))
		}
		if err := c.check(fn.X); err != nil {
			return err
		}
	default:
		return c.unsafe("", "only named functions and string methods may be called")
	}

	if err := c.checkAll(n.Args...); err != nil {
		return err
	}
	for _, kw := range n.Kwargs {
		if strings.HasPrefix(kw.Name, "_") {
			return c.unsafe(kw.Name, fmt.Sprintf("private keyword %q is not allowed", kw.Name))
		}
		if err := c.check(kw.Value); err != nil {
			return err
		}
	}
	return nil
}
