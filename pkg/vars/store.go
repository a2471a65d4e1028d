package vars

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"gopkg.in/yaml.v3"
)

// Store holds the variables of a single run. It is owned by one run and is
// not safe for concurrent use.
type Store struct {
	vars map[string]Value
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{vars: make(map[string]Value)}
}

// Seed creates a store from layers given lowest priority first. Later layers
// override earlier ones: Seed(scriptDefaults, fileVars, overrides).
func Seed(layers ...map[string]Value) *Store {
	s := NewStore()
	for _, layer := range layers {
		for k, v := range layer {
			s.vars[k] = v
		}
	}
	return s
}

// Get returns the variable name, or def when it is not set.
func (s *Store) Get(name string, def Value) Value {
	if v, ok := s.vars[name]; ok {
		return v
	}
	return def
}

// GetVariable returns the variable name or a VariableNotFoundError.
func (s *Store) GetVariable(name string) (Value, error) {
	v, ok := s.vars[name]
	if !ok {
		return Null, &core.VariableNotFoundError{Name: name}
	}
	return v, nil
}

// Set assigns a top-level variable.
func (s *Store) Set(name string, v Value) {
	s.vars[name] = v
}

// Has reports whether name is set at top level.
func (s *Store) Has(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// Delete removes a top-level variable.
func (s *Store) Delete(name string) {
	delete(s.vars, name)
}

// Len returns the number of variables.
func (s *Store) Len() int {
	return len(s.vars)
}

// Names returns the variable names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.vars))
	for k := range s.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the current variables.
func (s *Store) Snapshot() map[string]Value {
	out := make(map[string]Value, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// Lookup resolves a dotted or indexed path such as user.name or items[0].
// It never fails: unresolvable paths return ok=false.
func (s *Store) Lookup(path string) (Value, bool) {
	root, segs, ok := parsePath(path)
	if !ok {
		return Null, false
	}
	v, ok := s.vars[root]
	if !ok {
		return Null, false
	}
	return resolvePath(v, segs)
}

// LoadFile reads a YAML or JSON mapping of variables.
func LoadFile(path string) (map[string]Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read variables file: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse variables file %s: %w", path, err)
	}
	v, err := FromNode(&node)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if v.IsNull() {
		return map[string]Value{}, nil
	}
	if v.Kind() != KindMap {
		return nil, fmt.Errorf("%s: variables file must contain a mapping, got %s", path, v.Kind())
	}
	return ToGoMap(v), nil
}

// ToGoMap copies the entries of a map Value into a Go map.
func ToGoMap(v Value) map[string]Value {
	m, ok := v.AsMap()
	if !ok {
		return nil
	}
	out := make(map[string]Value, m.Len())
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// ParseAssignment parses a KEY=VALUE override. The value is decoded as a YAML
// scalar or flow collection, so count=3 yields an int and tags=[a,b] a list;
// anything else stays a string.
func ParseAssignment(s string) (string, Value, error) {
	key, raw, found := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", Null, fmt.Errorf("invalid variable %q, expected KEY=VALUE", s)
	}
	if root, segs, ok := parsePath(key); !ok || len(segs) > 0 || root != key {
		return "", Null, fmt.Errorf("invalid variable name %q", key)
	}
	return key, decodeScalar(raw), nil
}

func decodeScalar(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return String(raw)
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(trimmed), &node); err != nil || len(node.Content) == 0 {
		return String(raw)
	}
	doc := node.Content[0]
	switch doc.Kind {
	case yaml.ScalarNode:
		if doc.Style != 0 && doc.Style != yaml.TaggedStyle {
			return String(doc.Value)
		}
	case yaml.SequenceNode, yaml.MappingNode:
		if doc.Style&yaml.FlowStyle == 0 {
			return String(raw)
		}
	default:
		return String(raw)
	}
	v, err := FromNode(doc)
	if err != nil {
		return String(raw)
	}
	return v
}
