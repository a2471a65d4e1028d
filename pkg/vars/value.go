// Package vars implements the variable store used by scripts: a typed Value
// union, path lookups such as a.b[0], and {{ }} template resolution.
package vars

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

// String returns the Python-style type name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NoneType"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "str"
	case KindList:
		return "list"
	case KindMap:
		return "dict"
	default:
		return "unknown"
	}
}

// Map is an insertion-ordered string-keyed map of Values.
type Map = orderedmap.OrderedMap[string, Value]

// NewMap returns an empty Map.
func NewMap() *Map {
	return orderedmap.New[string, Value]()
}

// Value is a tagged union over null, bool, int, float, string, list and map.
// The zero Value is null. Values are treated as immutable once built.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    *Map
}

// Null is the null Value.
var Null = Value{}

// Bool returns a bool Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an int Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list Value holding items.
func List(items []Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// MapOf returns a map Value backed by m.
func MapOf(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// Strings returns a list Value of strings.
func Strings(items ...string) Value {
	out := make([]Value, len(items))
	for i, s := range items {
		out[i] = String(s)
	}
	return List(out)
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// AsBool returns the bool held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the int held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns v as a float64 when v is a number.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns the items held by v. The slice must not be modified.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsMap returns the map held by v. The map must not be modified.
func (v Value) AsMap() (*Map, bool) { return v.m, v.kind == KindMap }

// Get returns the map entry for key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Null, false
	}
	return v.m.Get(key)
}

// Keys returns the map keys in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, v.m.Len())
	for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Len returns the length of a string (in runes), list or map, and -1 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindString:
		return len([]rune(v.s))
	case KindList:
		return len(v.list)
	case KindMap:
		return v.m.Len()
	}
	return -1
}

// Truthy applies the truthiness rules: null, false, zero, and empty strings,
// lists and maps are false; everything else is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return v.m.Len() > 0
	}
	return false
}

// Equal reports deep equality. Ints and floats compare by numeric value.
func (v Value) Equal(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.kind == KindInt && o.kind == KindInt {
			return v.i == o.i
		}
		a, _ := v.AsFloat()
		b, _ := o.AsFloat()
		return a == b
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if v.m.Len() != o.m.Len() {
			return false
		}
		for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
			other, ok := o.m.Get(pair.Key)
			if !ok || !pair.Value.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v the way str() does: strings unquoted, containers with repr'd items.
func (v Value) String() string {
	if v.kind == KindString {
		return v.s
	}
	return v.Repr()
}

// Text renders v for template substitution. Null renders as the empty string.
func (v Value) Text() string {
	if v.kind == KindNull {
		return ""
	}
	return v.String()
}

// Repr renders v the way repr() does: strings quoted.
func (v Value) Repr() string {
	switch v.kind {
	case KindNull:
		return "None"
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return quote(v.s)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.Repr()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		parts := make([]string, 0, v.m.Len())
		for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
			parts = append(parts, quote(pair.Key)+": "+pair.Value.Repr())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return ""
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	abs := math.Abs(f)
	if f != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	q := byte('\'')
	if strings.Contains(s, "'") && !strings.Contains(s, "\"") {
		q = '"'
	}
	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(q):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}

// Interface converts v to plain Go values: nil, bool, int64, float64,
// string, []interface{} and map[string]interface{}.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, v.m.Len())
		for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
			out[pair.Key] = pair.Value.Interface()
		}
		return out
	}
	return nil
}

// MarshalJSON encodes v, keeping map keys in insertion order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindFloat:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return json.Marshal(formatFloat(v.f))
		}
		return json.Marshal(v.f)
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		var buf bytes.Buffer
		buf.WriteByte('{')
		first := true
		for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			k, err := json.Marshal(pair.Key)
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			b, err := pair.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return json.Marshal(v.Interface())
}

// UnmarshalYAML decodes any YAML node into v, keeping mapping order.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	decoded, err := FromNode(node)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// FromNode converts a YAML (or JSON) node into a Value.
func FromNode(node *yaml.Node) (Value, error) {
	if node == nil {
		return Null, nil
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null, nil
		}
		return FromNode(node.Content[0])
	case yaml.AliasNode:
		return FromNode(node.Alias)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(node.Content))
		for _, child := range node.Content {
			item, err := FromNode(child)
			if err != nil {
				return Null, err
			}
			items = append(items, item)
		}
		return List(items), nil
	case yaml.MappingNode:
		m := NewMap()
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode, valNode := node.Content[i], node.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return Null, fmt.Errorf("line %d: mapping keys must be scalars", keyNode.Line)
			}
			val, err := FromNode(valNode)
			if err != nil {
				return Null, err
			}
			m.Set(keyNode.Value, val)
		}
		return MapOf(m), nil
	case yaml.ScalarNode:
		return scalarFromNode(node)
	}
	return Null, fmt.Errorf("line %d: unsupported YAML node", node.Line)
}

func scalarFromNode(node *yaml.Node) (Value, error) {
	switch node.ShortTag() {
	case "!!null":
		return Null, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Null, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return Null, err
		}
		return Int(i), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return Null, err
		}
		return Float(f), nil
	default:
		return String(node.Value), nil
	}
}

// FromInterface converts plain Go values into a Value. Maps without order
// are converted with their keys sorted.
func FromInterface(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []string:
		return Strings(t...)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromInterface(item)
		}
		return List(items)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			m.Set(k, FromInterface(t[k]))
		}
		return MapOf(m)
	case map[string]Value:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			m.Set(k, t[k])
		}
		return MapOf(m)
	}
	return String(fmt.Sprint(x))
}
