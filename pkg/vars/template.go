package vars

import (
	"context"
	"errors"
	"strings"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

// Evaluator evaluates an expression against the store. It is implemented
// by the expression package and used as the template fallback.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string) (Value, error)
}

// placeholder is one {{ }} occurrence inside a template.
type placeholder struct {
	start, end int // byte offsets of "{{" and just past "}}"
	expr       string
	def        string
	hasDefault bool
}

// scanPlaceholders finds every {{ }} occurrence. An opening brace pair
// without a closing one is left as literal text.
func scanPlaceholders(text string) []placeholder {
	var out []placeholder
	pos := 0
	for {
		open := strings.Index(text[pos:], "{{")
		if open < 0 {
			return out
		}
		open += pos
		closeIdx := strings.Index(text[open+2:], "}}")
		if closeIdx < 0 {
			return out
		}
		end := open + 2 + closeIdx + 2
		inner := text[open+2 : open+2+closeIdx]
		p := placeholder{start: open, end: end}
		p.expr, p.def, p.hasDefault = splitDefault(inner)
		out = append(out, p)
		pos = end
	}
}

// splitDefault splits "name|fallback" at the last pipe outside quotes.
func splitDefault(inner string) (expr, def string, ok bool) {
	var quote rune
	cut := -1
	for i, r := range inner {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '|':
			cut = i
		}
	}
	if cut < 0 {
		return strings.TrimSpace(inner), "", false
	}
	def = strings.TrimSpace(inner[cut+1:])
	if len(def) >= 2 && (def[0] == '\'' || def[0] == '"') && def[len(def)-1] == def[0] {
		def = def[1 : len(def)-1]
	}
	return strings.TrimSpace(inner[:cut]), def, true
}

// HasTemplate reports whether text contains a {{ }} placeholder.
func HasTemplate(text string) bool {
	return len(scanPlaceholders(text)) > 0
}

// Placeholders returns the expression of every {{ }} in text, without any
// |default part.
func Placeholders(text string) []string {
	var out []string
	for _, p := range scanPlaceholders(text) {
		out = append(out, p.expr)
	}
	return out
}

// ResolveTemplate replaces every {{expr}} in text. Each placeholder is tried
// as a variable path, then as an expression through ev (when non-nil), then
// as its |default. Anything still unresolved is a VariableNotFoundError.
func (s *Store) ResolveTemplate(ctx context.Context, text string, ev Evaluator) (string, error) {
	holders := scanPlaceholders(text)
	if len(holders) == 0 {
		return text, nil
	}
	var b strings.Builder
	last := 0
	for _, p := range holders {
		b.WriteString(text[last:p.start])
		v, err := s.resolvePlaceholder(ctx, p, ev)
		if err != nil {
			return "", err
		}
		b.WriteString(v.Text())
		last = p.end
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

// ResolveExpression replaces every {{expr}} in an expression source with the
// literal of its value, so "{{name}} == 'john'" becomes "'john' == 'john'".
// Values never change the structure of the surrounding expression.
func (s *Store) ResolveExpression(ctx context.Context, src string, ev Evaluator) (string, error) {
	holders := scanPlaceholders(src)
	if len(holders) == 0 {
		return src, nil
	}
	var b strings.Builder
	last := 0
	for _, p := range holders {
		b.WriteString(src[last:p.start])
		v, err := s.resolvePlaceholder(ctx, p, ev)
		if err != nil {
			return "", err
		}
		b.WriteString("(" + v.Repr() + ")")
		last = p.end
	}
	b.WriteString(src[last:])
	return b.String(), nil
}

// ResolveValue resolves text like ResolveTemplate, except that a string made
// of exactly one placeholder yields the typed value instead of its rendering.
func (s *Store) ResolveValue(ctx context.Context, text string, ev Evaluator) (Value, error) {
	holders := scanPlaceholders(text)
	trimmed := strings.TrimSpace(text)
	if len(holders) == 1 && strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		holders[0].end-holders[0].start == len(trimmed) {
		return s.resolvePlaceholder(ctx, holders[0], ev)
	}
	out, err := s.ResolveTemplate(ctx, text, ev)
	if err != nil {
		return Null, err
	}
	return String(out), nil
}

func (s *Store) resolvePlaceholder(ctx context.Context, p placeholder, ev Evaluator) (Value, error) {
	if v, ok := s.Lookup(p.expr); ok {
		return v, nil
	}
	if ev != nil && p.expr != "" {
		v, err := ev.Evaluate(ctx, p.expr)
		if err == nil {
			return v, nil
		}
		// A missing variable, or a path that does not resolve, falls back to
		// the default. Everything else is a real expression error.
		var notFound *core.VariableNotFoundError
		if !errors.As(err, &notFound) && !softPathError(p.expr, err) {
			return Null, err
		}
	}
	if p.hasDefault {
		return String(p.def), nil
	}
	return Null, &core.VariableNotFoundError{Name: p.expr}
}

func softPathError(expr string, err error) bool {
	var unsafe *core.UnsafeExpressionError
	return IsPath(expr) && !errors.As(err, &unsafe)
}

// ResolveValues resolves templates inside every string of v, recursing into
// lists and maps. Single-placeholder strings keep the type of their value.
func (s *Store) ResolveValues(ctx context.Context, v Value, ev Evaluator) (Value, error) {
	switch v.Kind() {
	case KindString:
		str, _ := v.AsString()
		if !HasTemplate(str) {
			return v, nil
		}
		return s.ResolveValue(ctx, str, ev)
	case KindList:
		items, _ := v.AsList()
		out := make([]Value, len(items))
		for i, item := range items {
			r, err := s.ResolveValues(ctx, item, ev)
			if err != nil {
				return Null, err
			}
			out[i] = r
		}
		return List(out), nil
	case KindMap:
		m, _ := v.AsMap()
		out := NewMap()
		for pair := m.Oldest(); pair != nil; pair = pair.Next() {
			r, err := s.ResolveValues(ctx, pair.Value, ev)
			if err != nil {
				return Null, err
			}
			out.Set(pair.Key, r)
		}
		return MapOf(out), nil
	}
	return v, nil
}
