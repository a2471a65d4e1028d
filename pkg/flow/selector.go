package flow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Locator represents element selection criteria.
// Pure data structure - the executor resolves templates and decides how to use it.
type Locator struct {
	Text          string   `yaml:"text"`
	ID            string   `yaml:"id"`
	Desc          string   `yaml:"desc"`
	XPath         string   `yaml:"xpath"`
	X             *int     `yaml:"x"`
	Y             *int     `yaml:"y"`
	Fuzzy         *bool    `yaml:"fuzzy"`
	MinConfidence *float64 `yaml:"min_confidence"`
}

// locatorRaw captures the alias keys accepted for a nested locator.
type locatorRaw struct {
	Text          string   `yaml:"text"`
	ID            string   `yaml:"id"`
	ResourceID    string   `yaml:"resource_id"`
	Desc          string   `yaml:"desc"`
	ContentDesc   string   `yaml:"content_desc"`
	XPath         string   `yaml:"xpath"`
	X             *int     `yaml:"x"`
	Y             *int     `yaml:"y"`
	Fuzzy         *bool    `yaml:"fuzzy"`
	MinConfidence *float64 `yaml:"min_confidence"`
}

// UnmarshalYAML allows a nested Locator to be unmarshaled from a string
// (the text) or a mapping.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		l.Text = node.Value
		return nil
	}

	var raw locatorRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*l = Locator{
		Text:          raw.Text,
		ID:            firstNonEmpty(raw.ID, raw.ResourceID),
		Desc:          firstNonEmpty(raw.Desc, raw.ContentDesc),
		XPath:         raw.XPath,
		X:             raw.X,
		Y:             raw.Y,
		Fuzzy:         raw.Fuzzy,
		MinConfidence: raw.MinConfidence,
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsEmpty returns true if no criteria are set.
func (l *Locator) IsEmpty() bool {
	return l.Text == "" && l.ID == "" && l.Desc == "" && l.XPath == "" && !l.HasPoint()
}

// HasElement returns true if any element criterion (not just coordinates) is set.
func (l *Locator) HasElement() bool {
	return l.Text != "" || l.ID != "" || l.Desc != "" || l.XPath != ""
}

// HasPoint returns true if both coordinates are set.
func (l *Locator) HasPoint() bool {
	return l.X != nil && l.Y != nil
}

// IsFuzzy returns the fuzzy flag; matching is fuzzy unless disabled.
func (l *Locator) IsFuzzy() bool {
	return l.Fuzzy == nil || *l.Fuzzy
}

// Describe returns a human-readable description.
func (l *Locator) Describe() string {
	switch {
	case l.Text != "":
		return l.Text
	case l.ID != "":
		return "#" + l.ID
	case l.Desc != "":
		return "[" + l.Desc + "]"
	case l.XPath != "":
		return l.XPath
	case l.HasPoint():
		return fmt.Sprintf("(%d, %d)", *l.X, *l.Y)
	default:
		return ""
	}
}

// DescribeQuoted returns a quoted description like text="value" id="value".
func (l *Locator) DescribeQuoted() string {
	var parts []string
	if l.Text != "" {
		parts = append(parts, "text=\""+l.Text+"\"")
	}
	if l.ID != "" {
		parts = append(parts, "id=\""+l.ID+"\"")
	}
	if l.Desc != "" {
		parts = append(parts, "desc=\""+l.Desc+"\"")
	}
	if l.XPath != "" {
		parts = append(parts, "xpath=\""+l.XPath+"\"")
	}
	if l.HasPoint() {
		parts = append(parts, fmt.Sprintf("point=(%d,%d)", *l.X, *l.Y))
	}
	return strings.Join(parts, " ")
}
