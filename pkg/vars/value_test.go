package vars

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTruthy(t *testing.T) {
	falsy := []Value{Null, Bool(false), Int(0), Float(0), String(""), List(nil), MapOf(nil)}
	for _, v := range falsy {
		assert.False(t, v.Truthy(), "%s should be falsy", v.Repr())
	}
	m := NewMap()
	m.Set("k", Int(1))
	truthy := []Value{Bool(true), Int(-1), Float(0.5), String("0"), Strings("a"), MapOf(m)}
	for _, v := range truthy {
		assert.True(t, v.Truthy(), "%s should be truthy", v.Repr())
	}
}

func TestRepr(t *testing.T) {
	m := NewMap()
	m.Set("name", String("john"))
	m.Set("age", Int(30))

	tests := []struct {
		v    Value
		want string
	}{
		{Null, "None"},
		{Bool(true), "True"},
		{Int(-7), "-7"},
		{Float(2), "2.0"},
		{Float(0.1), "0.1"},
		{Float(123456789), "123456789.0"},
		{Float(1e20), "1e+20"},
		{String("it's"), `"it's"`},
		{List([]Value{Int(1), String("a")}), "[1, 'a']"},
		{MapOf(m), "{'name': 'john', 'age': 30}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.Repr())
	}
}

func TestStringAndText(t *testing.T) {
	assert.Equal(t, "hello", String("hello").String())
	assert.Equal(t, "None", Null.String())
	assert.Equal(t, "", Null.Text())
	assert.Equal(t, "5", Int(5).Text())
}

func TestEqual(t *testing.T) {
	assert.True(t, Int(1).Equal(Float(1.0)))
	assert.False(t, Int(1).Equal(String("1")))
	assert.False(t, Bool(true).Equal(Int(1)))
	assert.True(t, Strings("a", "b").Equal(Strings("a", "b")))
	assert.False(t, Strings("a").Equal(Strings("a", "b")))

	a, b := NewMap(), NewMap()
	a.Set("x", Int(1))
	a.Set("y", Int(2))
	b.Set("y", Int(2))
	b.Set("x", Int(1))
	assert.True(t, MapOf(a).Equal(MapOf(b)), "map equality ignores order")
}

func TestFromNodeKeepsTypesAndOrder(t *testing.T) {
	src := `
zeta: 1
alpha: 2.5
flag: true
none: null
name: john
tags: [a, b]
quoted: "3"
`
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &node))
	v, err := FromNode(&node)
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "flag", "none", "name", "tags", "quoted"}, v.Keys())
	zeta, _ := v.Get("zeta")
	assert.Equal(t, KindInt, zeta.Kind())
	alpha, _ := v.Get("alpha")
	assert.Equal(t, KindFloat, alpha.Kind())
	flag, _ := v.Get("flag")
	assert.Equal(t, KindBool, flag.Kind())
	none, _ := v.Get("none")
	assert.True(t, none.IsNull())
	quoted, _ := v.Get("quoted")
	assert.Equal(t, KindString, quoted.Kind())
	tags, _ := v.Get("tags")
	assert.Equal(t, 2, tags.Len())
}

func TestMarshalJSONKeepsOrder(t *testing.T) {
	m := NewMap()
	m.Set("b", Int(1))
	m.Set("a", List([]Value{Null, Bool(false), Float(1.5)}))
	data, err := json.Marshal(MapOf(m))
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":[null,false,1.5]}`, string(data))
}

func TestFromInterface(t *testing.T) {
	v := FromInterface(map[string]interface{}{
		"b": []interface{}{1, "x"},
		"a": 2.5,
	})
	assert.Equal(t, []string{"a", "b"}, v.Keys())
	b, _ := v.Get("b")
	items, ok := b.AsList()
	require.True(t, ok)
	n, ok := items[0].AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestLen(t *testing.T) {
	assert.Equal(t, 5, String("héllo").Len())
	assert.Equal(t, 2, Strings("a", "b").Len())
	assert.Equal(t, -1, Int(3).Len())
}
