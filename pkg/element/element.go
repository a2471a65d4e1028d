// Package element locates UI elements in a snapshot of the screen hierarchy
// and scores how well each candidate matches the requested criteria.
package element

import (
	"context"
	"strconv"
	"strings"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

// SnapshotSource supplies the current UI hierarchy and screen dimensions.
// Implementations: device.Android, mock.Device.
type SnapshotSource interface {
	CurrentSnapshot(ctx context.Context) (*Snapshot, error)
	ScreenSize(ctx context.Context) (width, height int, err error)
}

// Element is one node of a UI snapshot.
type Element struct {
	Class       string
	Package     string
	ResourceID  string
	Text        string
	ContentDesc string
	Hint        string
	Bounds      core.Bounds
	Clickable   bool
	Enabled     bool
	Visible     bool
	Focused     bool
	Selected    bool
	Checked     bool
	Scrollable  bool
	Children    []*Element

	// Set by Snapshot flattening
	Depth int  // 0 for roots
	Index int  // pre-order position
	Ad    bool // ad-classified, directly or via an ad container ancestor
}

// Attribute returns a uiautomator attribute by name.
func (e *Element) Attribute(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "text":
		return e.Text, true
	case "resource-id", "resource_id", "id":
		return e.ResourceID, true
	case "content-desc", "content_desc", "desc":
		return e.ContentDesc, true
	case "class":
		return e.Class, true
	case "package":
		return e.Package, true
	case "hint":
		return e.Hint, true
	case "bounds":
		return e.Bounds.String(), true
	case "clickable":
		return strconv.FormatBool(e.Clickable), true
	case "enabled":
		return strconv.FormatBool(e.Enabled), true
	case "displayed", "visible":
		return strconv.FormatBool(e.Visible), true
	case "focused":
		return strconv.FormatBool(e.Focused), true
	case "selected":
		return strconv.FormatBool(e.Selected), true
	case "checked":
		return strconv.FormatBool(e.Checked), true
	case "scrollable":
		return strconv.FormatBool(e.Scrollable), true
	}
	return "", false
}

// Info returns the reported view of the element.
func (e *Element) Info() *core.Element {
	return &core.Element{
		ID:          e.ResourceID,
		Text:        e.Text,
		ContentDesc: e.ContentDesc,
		Class:       e.Class,
		Bounds:      e.Bounds,
	}
}

// Describe returns a short human-readable label.
func (e *Element) Describe() string {
	class := e.Class
	if i := strings.LastIndex(class, "."); i >= 0 {
		class = class[i+1:]
	}
	switch {
	case e.Text != "":
		return class + ` "` + e.Text + `"`
	case e.ContentDesc != "":
		return class + ` [` + e.ContentDesc + `]`
	case e.ResourceID != "":
		return class + ` #` + e.ResourceID
	}
	return class + " " + e.Bounds.String()
}

// Snapshot is a point-in-time capture of the UI hierarchy.
type Snapshot struct {
	Roots  []*Element
	Width  int
	Height int

	flat []*Element
}

// NewSnapshot builds a snapshot from root elements.
func NewSnapshot(roots ...*Element) *Snapshot {
	return &Snapshot{Roots: roots}
}

// Elements returns every element in pre-order with Depth, Index and Ad set.
func (s *Snapshot) Elements() []*Element {
	if s == nil {
		return nil
	}
	if s.flat == nil {
		s.flat = make([]*Element, 0, 64)
		for _, root := range s.Roots {
			s.flatten(root, 0, false)
		}
	}
	return s.flat
}

func (s *Snapshot) flatten(e *Element, depth int, inAd bool) {
	e.Depth = depth
	e.Index = len(s.flat)
	e.Ad = inAd || IsAd(e)
	s.flat = append(s.flat, e)
	for _, child := range e.Children {
		s.flatten(child, depth+1, e.Ad)
	}
}

// IsUsable reports whether an element meets the structural requirements for
// matching: visible with a non-empty bounding rectangle.
func IsUsable(e *Element) bool {
	return e.Visible && !e.Bounds.IsEmpty()
}

// adTokens are resource-id tokens that mark ad containers.
var adTokens = map[string]bool{
	"ad": true, "ads": true, "adview": true, "adcontainer": true, "adlayout": true,
	"adbanner": true, "adunit": true, "admob": true, "advert": true, "advertisement": true,
	"interstitial": true, "sponsored": true, "nativead": true, "bannerad": true,
}

// IsAd applies the ad heuristics to a single element: ad tokens in the
// resource-id, AdView classes, the Google ads package, or an ad label.
func IsAd(e *Element) bool {
	if strings.Contains(e.Class, "AdView") {
		return true
	}
	if strings.HasPrefix(e.Package, "com.google.android.gms.ads") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(e.ContentDesc)) {
	case "ad", "advertisement", "sponsored":
		return true
	}
	id := e.ResourceID
	if i := strings.Index(id, ":id/"); i >= 0 {
		id = id[i+4:]
	}
	if id == "" {
		return false
	}
	tokens := strings.FieldsFunc(id, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == '/' || r == ':'
	})
	for _, tok := range tokens {
		if adTokens[strings.ToLower(tok)] {
			return true
		}
	}
	return false
}
