package expression

import (
	"strconv"
	"strings"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokInt
	tokFloat
	tokString
	tokName
	tokOp
)

type token struct {
	kind tokenKind
	text string // operator or name text
	pos  int    // byte offset in the source

	ival int64
	fval float64
	sval string
}

func (t token) is(op string) bool {
	return t.kind == tokOp && t.text == op
}

func (t token) isKeyword(kw string) bool {
	return t.kind == tokName && t.text == kw
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokString:
		return strconv.Quote(t.sval)
	}
	return strconv.Quote(t.text)
}

// Operators, longest first so that "**" wins over "*".
var operators = []string{
	"**", "//", "==", "!=", "<=", ">=",
	"<", ">", "+", "-", "*", "/", "%",
	"(", ")", "[", "]", "{", "}", ",", ":", ".", "=",
}

type lexer struct {
	src string
	pos int
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src}
	var toks []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (lx *lexer) errorf(pos int, msg string) error {
	return &core.ExpressionError{Expr: lx.src, Pos: pos, Message: msg, Syntax: true}
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) && isSpace(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, pos: lx.pos}, nil
	}

	start := lx.pos
	c := lx.src[start]
	switch {
	case isDigit(c) || (c == '.' && start+1 < len(lx.src) && isDigit(lx.src[start+1])):
		return lx.number()
	case c == '\'' || c == '"':
		return lx.str(c)
	case isNameStart(c):
		for lx.pos < len(lx.src) && isNameChar(lx.src[lx.pos]) {
			lx.pos++
		}
		return token{kind: tokName, text: lx.src[start:lx.pos], pos: start}, nil
	}

	for _, op := range operators {
		if strings.HasPrefix(lx.src[start:], op) {
			lx.pos += len(op)
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	if c == '!' {
		return token{}, lx.errorf(start, "unexpected '!' (use 'not')")
	}
	if c == '&' || c == '|' {
		return token{}, lx.errorf(start, "unexpected '"+string(c)+"' (use 'and'/'or')")
	}
	return token{}, lx.errorf(start, "unexpected character "+strconv.QuoteRune(rune(c)))
}

func (lx *lexer) number() (token, error) {
	start := lx.pos
	isFloat := false
	for lx.pos < len(lx.src) && (isDigit(lx.src[lx.pos]) || lx.src[lx.pos] == '_') {
		lx.pos++
	}
	if lx.pos < len(lx.src) && lx.src[lx.pos] == '.' {
		isFloat = true
		lx.pos++
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	}
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == 'e' || lx.src[lx.pos] == 'E') {
		p := lx.pos + 1
		if p < len(lx.src) && (lx.src[p] == '+' || lx.src[p] == '-') {
			p++
		}
		if p < len(lx.src) && isDigit(lx.src[p]) {
			isFloat = true
			lx.pos = p
			for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
				lx.pos++
			}
		}
	}
	if lx.pos < len(lx.src) && isNameStart(lx.src[lx.pos]) {
		return token{}, lx.errorf(lx.pos, "invalid number literal")
	}

	text := lx.src[start:lx.pos]
	clean := strings.ReplaceAll(text, "_", "")
	if isFloat {
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return token{}, lx.errorf(start, "invalid number "+strconv.Quote(text))
		}
		return token{kind: tokFloat, text: text, pos: start, fval: f}, nil
	}
	i, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return token{}, lx.errorf(start, "integer literal out of range "+strconv.Quote(text))
	}
	return token{kind: tokInt, text: text, pos: start, ival: i}, nil
}

func (lx *lexer) str(q byte) (token, error) {
	start := lx.pos
	lx.pos++
	var b strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == q:
			lx.pos++
			return token{kind: tokString, text: lx.src[start:lx.pos], pos: start, sval: b.String()}, nil
		case c == '\\' && lx.pos+1 < len(lx.src):
			lx.pos++
			switch e := lx.src[lx.pos]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '0':
				b.WriteByte(0)
			case '\\', '\'', '"':
				b.WriteByte(e)
			default:
				b.WriteByte('\\')
				b.WriteByte(e)
			}
			lx.pos++
		default:
			b.WriteByte(c)
			lx.pos++
		}
	}
	return token{}, lx.errorf(start, "unterminated string")
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool { return isNameStart(c) || isDigit(c) }
