package expression

import "github.com/devicelab-dev/ditto-runner/pkg/vars"

// Node is an expression syntax tree node.
type Node interface {
	Pos() int
}

type (
	// Literal is a constant.
	Literal struct {
		At    int
		Value vars.Value
	}

	// Name references a variable, or a function in call position.
	Name struct {
		At   int
		Name string
	}

	// ListExpr is [a, b, ...].
	ListExpr struct {
		At    int
		Items []Node
	}

	// MapExpr is {k: v, ...}.
	MapExpr struct {
		At     int
		Keys   []Node
		Values []Node
	}

	// Unary is -x, +x or not x.
	Unary struct {
		At int
		Op string
		X  Node
	}

	// Binary is an arithmetic operation.
	Binary struct {
		At   int
		Op   string
		X, Y Node
	}

	// Logical is a short-circuit and/or.
	Logical struct {
		At   int
		Op   string
		X, Y Node
	}

	// Compare is a comparison chain: a < b <= c.
	Compare struct {
		At       int
		Ops      []string
		Operands []Node
	}

	// Ternary is a if cond else b.
	Ternary struct {
		At               int
		Cond, Then, Else Node
	}

	// Attr is x.name outside call position.
	Attr struct {
		At   int
		X    Node
		Name string
	}

	// Index is x[i].
	Index struct {
		At       int
		X, Index Node
	}

	// Slice is x[lo:hi].
	Slice struct {
		At     int
		X      Node
		Lo, Hi Node // nil when omitted
	}

	// Call is f(args) or x.method(args).
	Call struct {
		At     int
		Func   Node // *Name or *Attr
		Args   []Node
		Kwargs []Keyword
	}

	// Keyword is a name=value call argument.
	Keyword struct {
		Name  string
		Value Node
	}
)

func (n *Literal) Pos() int  { return n.At }
func (n *Name) Pos() int     { return n.At }
func (n *ListExpr) Pos() int { return n.At }
func (n *MapExpr) Pos() int  { return n.At }
func (n *Unary) Pos() int    { return n.At }
func (n *Binary) Pos() int   { return n.At }
func (n *Logical) Pos() int  { return n.At }
func (n *Compare) Pos() int  { return n.At }
func (n *Ternary) Pos() int  { return n.At }
func (n *Attr) Pos() int     { return n.At }
func (n *Index) Pos() int    { return n.At }
func (n *Slice) Pos() int    { return n.At }
func (n *Call) Pos() int     { return n.At }
