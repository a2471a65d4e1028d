package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

func TestParseShapes(t *testing.T) {
	tests := []struct {
		src  string
		want interface{}
	}{
		{"1 + 2", &Binary{}},
		{"a if b else c", &Ternary{}},
		{"a and b or c", &Logical{}},
		{"not a", &Unary{}},
		{"1 < x <= 3", &Compare{}},
		{"x not in items", &Compare{}},
		{"user.name", &Attr{}},
		{"items[0]", &Index{}},
		{"items[1:]", &Slice{}},
		{"name.upper()", &Call{}},
		{"len(items)", &Call{}},
		{"[1, 2, 3]", &ListExpr{}},
		{"{'a': 1}", &MapExpr{}},
		{"(1)", &Literal{}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			n, err := Parse(tt.src)
			require.NoError(t, err)
			assert.IsType(t, tt.want, n)
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	n, err := Parse("-2 ** 2")
	require.NoError(t, err)
	u, ok := n.(*Unary)
	require.True(t, ok, "unary minus applies to the power")
	assert.IsType(t, &Binary{}, u.X)

	n, err = Parse("2 ** 3 ** 2")
	require.NoError(t, err)
	b := n.(*Binary)
	assert.IsType(t, &Literal{}, b.X)
	assert.IsType(t, &Binary{}, b.Y, "power is right-associative")

	n, err = Parse("1 + 2 * 3")
	require.NoError(t, err)
	b = n.(*Binary)
	assert.Equal(t, "+", b.Op)
}

func TestParseCallArguments(t *testing.T) {
	n, err := Parse(`sorted(items, reverse=True)`)
	require.NoError(t, err)
	c := n.(*Call)
	assert.Len(t, c.Args, 1)
	require.Len(t, c.Kwargs, 1)
	assert.Equal(t, "reverse", c.Kwargs[0].Name)

	n, err = Parse(`element_exists("Login", fuzzy=False,)`)
	require.NoError(t, err)
	assert.Len(t, n.(*Call).Args, 1)
}

func TestParseSyntaxErrors(t *testing.T) {
	tests := []struct {
		src string
		pos int
	}{
		{"", 0},
		{"1 +", 3},
		{"(1", 2},
		{"a b", 2},
		{"'open", 0},
		{"a ! b", 2},
		{"x && y", 2},
		{"f(a=1, 2)", 7},
		{"f(a=1, a=2)", 7},
		{"a if b", 6},
		{"12abc", 2},
		{"[1, 2", 5},
		{"and", 0},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := Parse(tt.src)
			var ee *core.ExpressionError
			require.ErrorAs(t, err, &ee)
			assert.True(t, ee.Syntax)
			assert.Equal(t, tt.pos, ee.Pos)
			assert.True(t, IsSyntaxError(err))
		})
	}
}

func TestParseDepthLimit(t *testing.T) {
	src := ""
	for i := 0; i < 200; i++ {
		src += "("
	}
	src += "1"
	for i := 0; i < 200; i++ {
		src += ")"
	}
	_, err := Parse(src)
	assert.True(t, IsSyntaxError(err))
}

func TestTokenizeLiterals(t *testing.T) {
	toks, err := tokenize(`1_000 2.5 .5 1e3 'a\'b' "x\ny"`)
	require.NoError(t, err)
	require.Len(t, toks, 7)
	assert.Equal(t, int64(1000), toks[0].ival)
	assert.Equal(t, 2.5, toks[1].fval)
	assert.Equal(t, 0.5, toks[2].fval)
	assert.Equal(t, tokFloat, toks[3].kind)
	assert.Equal(t, 1000.0, toks[3].fval)
	assert.Equal(t, "a'b", toks[4].sval)
	assert.Equal(t, "x\ny", toks[5].sval)
	assert.Equal(t, tokEOF, toks[6].kind)
}
