package expression

import (
	"fmt"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// maxDepth bounds parser recursion.
const maxDepth = 64

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"if": true, "else": true,
}

var constants = map[string]vars.Value{
	"True": vars.Bool(true), "False": vars.Bool(false), "None": vars.Null,
	"true": vars.Bool(true), "false": vars.Bool(false), "null": vars.Null,
}

type parser struct {
	src   string
	toks  []token
	pos   int
	depth int
}

// Parse parses src into a syntax tree. It performs no allow-list checks.
func Parse(src string) (Node, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	if p.peek().kind == tokEOF {
		return nil, p.errorf(p.peek(), "empty expression")
	}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected "+t.describe())
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(op string) bool {
	if p.peek().is(op) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.peek().isKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(op string) (token, error) {
	t := p.peek()
	if !t.is(op) {
		return t, p.errorf(t, fmt.Sprintf("expected %q, got %s", op, t.describe()))
	}
	p.pos++
	return t, nil
}

func (p *parser) errorf(t token, msg string) error {
	return &core.ExpressionError{Expr: p.src, Pos: t.pos, Message: msg, Syntax: true}
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return p.errorf(p.peek(), "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// expr parses a conditional expression: or_expr ["if" or_expr "else" expr].
func (p *parser) expr() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	then, err := p.or()
	if err != nil {
		return nil, err
	}
	if !p.peek().isKeyword("if") {
		return then, nil
	}
	at := p.advance().pos
	cond, err := p.or()
	if err != nil {
		return nil, err
	}
	if !p.acceptKeyword("else") {
		return nil, p.errorf(p.peek(), "expected 'else' in conditional expression")
	}
	els, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &Ternary{At: at, Cond: cond, Then: then, Else: els}, nil
}

func (p *parser) or() (Node, error) {
	x, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek().isKeyword("or") {
		at := p.advance().pos
		y, err := p.and()
		if err != nil {
			return nil, err
		}
		x = &Logical{At: at, Op: "or", X: x, Y: y}
	}
	return x, nil
}

func (p *parser) and() (Node, error) {
	x, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.peek().isKeyword("and") {
		at := p.advance().pos
		y, err := p.not()
		if err != nil {
			return nil, err
		}
		x = &Logical{At: at, Op: "and", X: x, Y: y}
	}
	return x, nil
}

func (p *parser) not() (Node, error) {
	if p.peek().isKeyword("not") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		at := p.advance().pos
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return &Unary{At: at, Op: "not", X: x}, nil
	}
	return p.comparison()
}

// compareOp consumes a comparison operator, returning "" when none follows.
func (p *parser) compareOp() string {
	t := p.peek()
	switch {
	case t.kind == tokOp:
		switch t.text {
		case "==", "!=", "<", ">", "<=", ">=":
			p.pos++
			return t.text
		}
	case t.isKeyword("in"):
		p.pos++
		return "in"
	case t.isKeyword("not") && p.peekAt(1).isKeyword("in"):
		p.pos += 2
		return "not in"
	case t.isKeyword("is"):
		p.pos++
		if p.acceptKeyword("not") {
			return "is not"
		}
		return "is"
	}
	return ""
}

func (p *parser) comparison() (Node, error) {
	x, err := p.sum()
	if err != nil {
		return nil, err
	}
	at := p.peek().pos
	op := p.compareOp()
	if op == "" {
		return x, nil
	}
	cmp := &Compare{At: at, Operands: []Node{x}}
	for op != "" {
		y, err := p.sum()
		if err != nil {
			return nil, err
		}
		cmp.Ops = append(cmp.Ops, op)
		cmp.Operands = append(cmp.Operands, y)
		op = p.compareOp()
	}
	return cmp, nil
}

func (p *parser) sum() (Node, error) {
	x, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.peek().is("+") || p.peek().is("-") {
		t := p.advance()
		y, err := p.term()
		if err != nil {
			return nil, err
		}
		x = &Binary{At: t.pos, Op: t.text, X: x, Y: y}
	}
	return x, nil
}

func (p *parser) term() (Node, error) {
	x, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !(t.is("*") || t.is("/") || t.is("//") || t.is("%")) {
			return x, nil
		}
		p.advance()
		y, err := p.unary()
		if err != nil {
			return nil, err
		}
		x = &Binary{At: t.pos, Op: t.text, X: x, Y: y}
	}
}

func (p *parser) unary() (Node, error) {
	t := p.peek()
	if t.is("-") || t.is("+") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.advance()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Unary{At: t.pos, Op: t.text, X: x}, nil
	}
	return p.power()
}

// power binds tighter than unary minus on its left and is right-associative:
// -2 ** 2 == -4, 2 ** 3 ** 2 == 512.
func (p *parser) power() (Node, error) {
	x, err := p.postfix()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.is("**") {
		p.advance()
		y, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Binary{At: t.pos, Op: "**", X: x, Y: y}, nil
	}
	return x, nil
}

func (p *parser) postfix() (Node, error) {
	x, err := p.atom()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.is("."):
			p.advance()
			name := p.advance()
			if name.kind != tokName {
				return nil, p.errorf(name, "expected attribute name after '.'")
			}
			x = &Attr{At: name.pos, X: x, Name: name.text}
		case t.is("["):
			p.advance()
			x, err = p.subscript(t, x)
			if err != nil {
				return nil, err
			}
		case t.is("("):
			p.advance()
			x, err = p.call(t, x)
			if err != nil {
				return nil, err
			}
		default:
			return x, nil
		}
	}
}

func (p *parser) subscript(open token, x Node) (Node, error) {
	var lo, hi Node
	var err error
	if !p.peek().is(":") {
		lo, err = p.expr()
		if err != nil {
			return nil, err
		}
		if p.accept("]") {
			return &Index{At: open.pos, X: x, Index: lo}, nil
		}
	}
	if _, err := p.expect(":"); err != nil {
		return nil, err
	}
	if !p.peek().is("]") {
		hi, err = p.expr()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect("]"); err != nil {
		return nil, err
	}
	return &Slice{At: open.pos, X: x, Lo: lo, Hi: hi}, nil
}

func (p *parser) call(open token, fn Node) (Node, error) {
	c := &Call{At: open.pos, Func: fn}
	for !p.peek().is(")") {
		if p.peek().kind == tokName && p.peekAt(1).is("=") {
			name := p.advance()
			p.advance()
			v, err := p.expr()
			if err != nil {
				return nil, err
			}
			for _, kw := range c.Kwargs {
				if kw.Name == name.text {
					return nil, p.errorf(name, "keyword argument repeated: "+name.text)
				}
			}
			c.Kwargs = append(c.Kwargs, Keyword{Name: name.text, Value: v})
		} else {
			if len(c.Kwargs) > 0 {
				return nil, p.errorf(p.peek(), "positional argument follows keyword argument")
			}
			arg, err := p.expr()
			if err != nil {
				return nil, err
			}
			c.Args = append(c.Args, arg)
		}
		if !p.accept(",") {
			break
		}
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) atom() (Node, error) {
	t := p.advance()
	switch t.kind {
	case tokInt:
		return &Literal{At: t.pos, Value: vars.Int(t.ival)}, nil
	case tokFloat:
		return &Literal{At: t.pos, Value: vars.Float(t.fval)}, nil
	case tokString:
		s := t.sval
		// adjacent literals concatenate: 'a' 'b'
		for p.peek().kind == tokString {
			s += p.advance().sval
		}
		return &Literal{At: t.pos, Value: vars.String(s)}, nil
	case tokName:
		if v, ok := constants[t.text]; ok {
			return &Literal{At: t.pos, Value: v}, nil
		}
		if keywords[t.text] {
			return nil, p.errorf(t, "unexpected keyword "+t.describe())
		}
		return &Name{At: t.pos, Name: t.text}, nil
	case tokOp:
		switch t.text {
		case "(":
			if err := p.enter(); err != nil {
				return nil, err
			}
			defer p.leave()
			x, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		case "[":
			return p.list(t)
		case "{":
			return p.mapLit(t)
		}
	}
	return nil, p.errorf(t, "unexpected "+t.describe())
}

func (p *parser) list(open token) (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	l := &ListExpr{At: open.pos}
	for !p.peek().is("]") {
		item, err := p.expr()
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items, item)
		if !p.accept(",") {
			break
		}
	}
	if _, err := p.expect("]"); err != nil {
		return nil, err
	}
	return l, nil
}

func (p *parser) mapLit(open token) (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	m := &MapExpr{At: open.pos}
	for !p.peek().is("}") {
		k, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(":"); err != nil {
			return nil, err
		}
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, k)
		m.Values = append(m.Values, v)
		if !p.accept(",") {
			break
		}
	}
	if _, err := p.expect("}"); err != nil {
		return nil, err
	}
	return m, nil
}
