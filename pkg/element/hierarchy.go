package element

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

// ParseHierarchy parses a uiautomator dump into a Snapshot.
// Supports both formats:
// - UIAutomator dump: <node class="..."> elements under <hierarchy>
// - Class-named tags: the class name is the element tag (e.g. <android.widget.FrameLayout>)
func ParseHierarchy(data []byte) (*Snapshot, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	foundHierarchy := false
	var parseElement func() (*Element, error)

	parseElement = func() (*Element, error) {
		for {
			token, err := decoder.Token()
			if err != nil {
				return nil, err
			}

			switch t := token.(type) {
			case xml.StartElement:
				if t.Name.Local == "hierarchy" {
					foundHierarchy = true
					continue
				}

				elem := newElement(t)

				for {
					child, err := parseElement()
					if err != nil {
						return elem, err
					}
					if child == nil {
						break
					}
					elem.Children = append(elem.Children, child)
				}

				return elem, nil

			case xml.EndElement:
				return nil, nil
			}
		}
	}

	snap := &Snapshot{}
	for {
		elem, err := parseElement()
		if elem != nil {
			snap.Roots = append(snap.Roots, elem)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if len(snap.Roots) == 0 {
				return nil, fmt.Errorf("invalid hierarchy: %w", err)
			}
			break
		}
	}

	if !foundHierarchy {
		return nil, fmt.Errorf("invalid hierarchy: no hierarchy element found")
	}
	return snap, nil
}

func newElement(t xml.StartElement) *Element {
	elem := &Element{
		Visible: true,
		Enabled: true,
	}
	if t.Name.Local != "node" {
		elem.Class = t.Name.Local
	}

	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "text":
			elem.Text = attr.Value
		case "resource-id":
			elem.ResourceID = attr.Value
		case "content-desc":
			elem.ContentDesc = attr.Value
		case "hint":
			elem.Hint = attr.Value
		case "class":
			elem.Class = attr.Value
		case "package":
			elem.Package = attr.Value
		case "bounds":
			elem.Bounds = ParseBounds(attr.Value)
		case "enabled":
			elem.Enabled = attr.Value == "true"
		case "selected":
			elem.Selected = attr.Value == "true"
		case "focused":
			elem.Focused = attr.Value == "true"
		case "checked":
			elem.Checked = attr.Value == "true"
		case "displayed", "visible-to-user":
			elem.Visible = attr.Value != "false"
		case "clickable":
			elem.Clickable = attr.Value == "true"
		case "scrollable":
			elem.Scrollable = attr.Value == "true"
		}
	}
	return elem
}

// ParseBounds parses Android bounds string "[x1,y1][x2,y2]" to Bounds.
func ParseBounds(s string) core.Bounds {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[] ")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.Bounds{}
	}

	var n [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return core.Bounds{}
		}
		n[i] = v
	}

	return core.Bounds{
		X:      n[0],
		Y:      n[1],
		Width:  n[2] - n[0],
		Height: n[3] - n[1],
	}
}
