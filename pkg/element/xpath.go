package element

import (
	"fmt"
	"strings"
)

// XPath is the structural-path subset understood by the locator:
//
//	//Class
//	//*[@resource-id='com.app:id/ok']
//	//android.widget.Button[@text='OK' and @clickable='true']
//	//*[contains(@content-desc,'Close')]
type XPath struct {
	Class      string // "" or "*" matches any class
	Conditions []XPathCondition
}

// XPathCondition is one attribute test.
type XPathCondition struct {
	Attribute string
	Value     string
	Contains  bool
}

// ParseXPath parses expr into an XPath.
func ParseXPath(expr string) (*XPath, error) {
	s := strings.TrimSpace(expr)
	if !strings.HasPrefix(s, "//") {
		return nil, fmt.Errorf("xpath %q: must start with //", expr)
	}
	s = s[2:]

	end := strings.IndexByte(s, '[')
	if end < 0 {
		end = len(s)
	}
	path := &XPath{Class: strings.TrimSpace(s[:end])}
	if path.Class == "" {
		return nil, fmt.Errorf("xpath %q: missing element name", expr)
	}
	s = s[end:]

	for len(s) > 0 {
		if s[0] != '[' {
			return nil, fmt.Errorf("xpath %q: unexpected %q", expr, s)
		}
		closeIdx := findPredicateEnd(s)
		if closeIdx < 0 {
			return nil, fmt.Errorf("xpath %q: unterminated predicate", expr)
		}
		conds, err := parsePredicate(s[1:closeIdx])
		if err != nil {
			return nil, fmt.Errorf("xpath %q: %w", expr, err)
		}
		path.Conditions = append(path.Conditions, conds...)
		s = strings.TrimSpace(s[closeIdx+1:])
	}
	return path, nil
}

// findPredicateEnd returns the index of the ']' closing s[0], skipping quotes.
func findPredicateEnd(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}

func parsePredicate(pred string) ([]XPathCondition, error) {
	var conds []XPathCondition
	for _, part := range splitAnd(pred) {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "contains(") && strings.HasSuffix(part, ")"):
			inner := part[len("contains(") : len(part)-1]
			attr, val, ok := strings.Cut(inner, ",")
			if !ok {
				return nil, fmt.Errorf("bad contains() %q", part)
			}
			name, err := attrName(attr)
			if err != nil {
				return nil, err
			}
			v, err := unquote(val)
			if err != nil {
				return nil, err
			}
			conds = append(conds, XPathCondition{Attribute: name, Value: v, Contains: true})
		case strings.HasPrefix(part, "@"):
			attr, val, ok := strings.Cut(part, "=")
			if !ok {
				return nil, fmt.Errorf("bad attribute test %q", part)
			}
			name, err := attrName(attr)
			if err != nil {
				return nil, err
			}
			v, err := unquote(val)
			if err != nil {
				return nil, err
			}
			conds = append(conds, XPathCondition{Attribute: name, Value: v})
		default:
			return nil, fmt.Errorf("unsupported predicate %q", part)
		}
	}
	return conds, nil
}

// splitAnd splits on " and " outside quotes.
func splitAnd(s string) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case strings.HasPrefix(s[i:], " and "):
			parts = append(parts, s[start:i])
			start = i + len(" and ")
			i = start - 1
		}
	}
	return append(parts, s[start:])
}

func attrName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "@") || len(s) < 2 {
		return "", fmt.Errorf("expected @attribute, got %q", s)
	}
	return s[1:], nil
}

func unquote(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], nil
	}
	return "", fmt.Errorf("expected quoted value, got %q", s)
}

// Matches reports whether e satisfies the path.
func (p *XPath) Matches(e *Element) bool {
	if p.Class != "*" && p.Class != e.Class {
		short := e.Class
		if i := strings.LastIndex(short, "."); i >= 0 {
			short = short[i+1:]
		}
		if p.Class != short {
			return false
		}
	}
	for _, cond := range p.Conditions {
		got, ok := e.Attribute(cond.Attribute)
		if !ok {
			return false
		}
		if cond.Contains {
			if !strings.Contains(got, cond.Value) {
				return false
			}
		} else if got != cond.Value {
			return false
		}
	}
	return true
}

// BuildXPath returns the structural path that identifies e by its most
// specific attributes.
func BuildXPath(e *Element) string {
	class := e.Class
	if class == "" {
		class = "*"
	}
	var conds []string
	if e.ResourceID != "" {
		conds = append(conds, fmt.Sprintf("@resource-id='%s'", e.ResourceID))
	}
	if e.ContentDesc != "" && !strings.Contains(e.ContentDesc, "'") {
		conds = append(conds, fmt.Sprintf("@content-desc='%s'", e.ContentDesc))
	}
	if e.Text != "" && !strings.Contains(e.Text, "'") {
		conds = append(conds, fmt.Sprintf("@text='%s'", e.Text))
	}
	if len(conds) == 0 {
		return "//" + class
	}
	return "//" + class + "[" + strings.Join(conds, " and ") + "]"
}
