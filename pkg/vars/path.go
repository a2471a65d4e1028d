package vars

import (
	"strconv"
	"strings"
	"unicode"
)

// pathSegment is one step of a variable path: a map key or a list index.
type pathSegment struct {
	key     string
	index   int
	isIndex bool
}

// parsePath splits a path like users[0].name or cfg["api key"] into segments.
// It returns ok=false when the text is not a plain path.
func parsePath(path string) (string, []pathSegment, bool) {
	path = strings.TrimSpace(path)
	i := 0
	for i < len(path) && isIdentChar(rune(path[i]), i == 0) {
		i++
	}
	if i == 0 {
		return "", nil, false
	}
	root := path[:i]
	var segs []pathSegment

	for i < len(path) {
		switch path[i] {
		case '.':
			i++
			start := i
			for i < len(path) && isIdentChar(rune(path[i]), false) {
				i++
			}
			if start == i {
				return "", nil, false
			}
			name := path[start:i]
			if n, err := strconv.Atoi(name); err == nil {
				segs = append(segs, pathSegment{key: name, index: n, isIndex: true})
			} else {
				segs = append(segs, pathSegment{key: name})
			}
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return "", nil, false
			}
			inner := strings.TrimSpace(path[i+1 : i+end])
			i += end + 1
			if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
				segs = append(segs, pathSegment{key: inner[1 : len(inner)-1]})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil {
				return "", nil, false
			}
			segs = append(segs, pathSegment{key: inner, index: n, isIndex: true})
		default:
			return "", nil, false
		}
	}
	return root, segs, true
}

func isIdentChar(r rune, first bool) bool {
	if r == '_' || unicode.IsLetter(r) {
		return true
	}
	return !first && unicode.IsDigit(r)
}

// IsPath reports whether text is a plain variable path.
func IsPath(text string) bool {
	_, _, ok := parsePath(text)
	return ok
}

// resolvePath walks segs from v. Index segments also address map keys
// spelled as digits, and negative indexes count from the end of a list.
func resolvePath(v Value, segs []pathSegment) (Value, bool) {
	for _, seg := range segs {
		switch v.Kind() {
		case KindMap:
			next, ok := v.Get(seg.key)
			if !ok {
				return Null, false
			}
			v = next
		case KindList:
			if !seg.isIndex {
				return Null, false
			}
			items, _ := v.AsList()
			idx := seg.index
			if idx < 0 {
				idx += len(items)
			}
			if idx < 0 || idx >= len(items) {
				return Null, false
			}
			v = items[idx]
		default:
			return Null, false
		}
	}
	return v, true
}
