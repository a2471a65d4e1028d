package element

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xrash/smetrics"
	"golang.org/x/text/unicode/norm"
)

// Strategy and factor names, in fixed fallback order.
const (
	StrategyResourceID  = "resource_id"
	StrategyContentDesc = "content_desc"
	StrategyText        = "text"
	StrategyXPath       = "xpath"
	StrategyCoordinates = "coordinates"

	FactorClickable = "clickable"
	FactorEnabled   = "enabled"
)

// Scoring constants.
const (
	DefaultMinConfidence = 0.3
	DefaultFuzzyFloor    = 0.6

	clickableBonus = 0.05
	enabledBonus   = 0.05
	// Match factors are scaled into [0, 1-bonusHeadroom] before bonuses are
	// added, so 1.0 is reached only by an exact match with both bonuses.
	bonusHeadroom = clickableBonus + enabledBonus
	xpathScore    = 0.75
)

// band is a closed score range.
type band struct{ lo, hi float64 }

func (b band) at(t float64) float64 {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return b.lo + (b.hi-b.lo)*t
}

// factorTable holds the score bands for one criterion.
type factorTable struct {
	exact       float64
	exactFold   float64
	candInQuery band // candidate is a substring of the query
	queryInCand band // query is a substring of the candidate
	fuzzy       band
}

var factorTables = map[string]factorTable{
	StrategyResourceID: {
		exact: 1.0, exactFold: 0.95,
		candInQuery: band{0.70, 0.80}, queryInCand: band{0.80, 0.80}, fuzzy: band{0.50, 0.60},
	},
	StrategyContentDesc: {
		exact: 1.0, exactFold: 0.95,
		candInQuery: band{0.60, 0.70}, queryInCand: band{0.70, 0.80}, fuzzy: band{0.40, 0.70},
	},
	StrategyText: {
		exact: 1.0, exactFold: 0.95,
		candInQuery: band{0.60, 0.80}, queryInCand: band{0.70, 0.90}, fuzzy: band{0.40, 0.70},
	},
}

// Query is a single text criterion.
type Query struct {
	Value string
	Fuzzy bool
}

// IsSet reports whether the query has a value.
func (q Query) IsSet() bool { return q.Value != "" }

// Point is a screen coordinate.
type Point struct {
	X, Y int
}

// Criteria describes what to look for. At least one field should be set.
type Criteria struct {
	ID    Query
	Desc  Query
	Text  Query
	XPath string
	Point *Point

	// MinConfidence overrides the locator threshold when non-nil.
	MinConfidence *float64
}

// HasText reports whether any of resource-id, content-desc or text is set.
func (c Criteria) HasText() bool {
	return c.ID.IsSet() || c.Desc.IsSet() || c.Text.IsSet()
}

// IsEmpty reports whether no criterion is set.
func (c Criteria) IsEmpty() bool {
	return !c.HasText() && c.XPath == "" && c.Point == nil
}

// Describe renders the criteria for messages, e.g. id="login" text~"Sign in".
func (c Criteria) Describe() string {
	var parts []string
	add := func(name string, q Query) {
		if !q.IsSet() {
			return
		}
		op := "="
		if q.Fuzzy {
			op = "~"
		}
		parts = append(parts, fmt.Sprintf("%s%s%q", name, op, q.Value))
	}
	add("id", c.ID)
	add("desc", c.Desc)
	add("text", c.Text)
	if c.XPath != "" {
		parts = append(parts, "xpath="+c.XPath)
	}
	if c.Point != nil {
		parts = append(parts, fmt.Sprintf("point=(%d,%d)", c.Point.X, c.Point.Y))
	}
	return strings.Join(parts, " ")
}

// Match is a scored candidate.
type Match struct {
	Element    *Element
	Confidence float64
	Factors    map[string]float64
	Strategy   string
	X, Y       int // action point: element center, or fallback coordinates
}

// Found reports whether the match refers to an element.
func (m *Match) Found() bool { return m != nil && m.Element != nil }

// Result is the outcome of locating one set of criteria.
type Result struct {
	Match     *Match // best candidate at or above Threshold; nil when none qualifies
	Best      *Match // best candidate regardless of threshold
	Fallback  *Match // coordinates fallback when the criteria carry a point
	Threshold float64
}

// Target returns the match to act on: Match, else Fallback.
func (r Result) Target() *Match {
	if r.Match != nil {
		return r.Match
	}
	return r.Fallback
}

// BestConfidence returns the confidence of Best, or 0.
func (r Result) BestConfidence() float64 {
	if r.Best == nil {
		return 0
	}
	return r.Best.Confidence
}

// Locator scores snapshot elements against criteria.
type Locator struct {
	MinConfidence float64 // instance threshold
	FuzzyFloor    float64 // similarity below which fuzzy matching scores 0
	FilterAds     bool
}

// NewLocator returns a locator with the default threshold and ad filtering on.
func NewLocator() *Locator {
	return &Locator{
		MinConfidence: DefaultMinConfidence,
		FuzzyFloor:    DefaultFuzzyFloor,
		FilterAds:     true,
	}
}

func (l *Locator) threshold(c Criteria) float64 {
	if c.MinConfidence != nil {
		return *c.MinConfidence
	}
	return l.MinConfidence
}

// candidates returns the usable, non-ad elements of snap.
func (l *Locator) candidates(snap *Snapshot) []*Element {
	var out []*Element
	for _, e := range snap.Elements() {
		if !IsUsable(e) {
			continue
		}
		if l.FilterAds && e.Ad {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Locate runs the fallback chain: resource-id, content-desc and text scoring
// first, then the structural path, then the coordinates fallback.
func (l *Locator) Locate(snap *Snapshot, c Criteria) Result {
	res := Result{Threshold: l.threshold(c)}
	cands := l.candidates(snap)

	if c.HasText() {
		ranked := l.rank(cands, c, l.scoreText)
		if len(ranked) > 0 {
			res.Best = &ranked[0]
			if ranked[0].Confidence >= res.Threshold {
				res.Match = &ranked[0]
				return res
			}
		}
	}

	if c.XPath != "" {
		if path, err := ParseXPath(c.XPath); err == nil {
			ranked := l.rank(cands, c, func(e *Element, _ Criteria) (float64, string, map[string]float64) {
				if !path.Matches(e) {
					return 0, "", nil
				}
				return xpathScore, StrategyXPath, map[string]float64{StrategyXPath: xpathScore}
			})
			if len(ranked) > 0 {
				if res.Best == nil || ranked[0].Confidence > res.Best.Confidence {
					res.Best = &ranked[0]
				}
				if ranked[0].Confidence >= res.Threshold {
					res.Match = &ranked[0]
					return res
				}
			}
		}
	}

	if c.Point != nil {
		res.Fallback = &Match{
			Strategy: StrategyCoordinates,
			X:        c.Point.X,
			Y:        c.Point.Y,
			Factors:  map[string]float64{},
		}
	}
	return res
}

// Find returns the best match at or above threshold, or nil.
func (l *Locator) Find(snap *Snapshot, c Criteria) *Match {
	return l.Locate(snap, c).Match
}

// FindAll returns every candidate at or above threshold, best first. The
// structural path is used only when no text criterion is given.
func (l *Locator) FindAll(snap *Snapshot, c Criteria) []Match {
	threshold := l.threshold(c)
	cands := l.candidates(snap)

	var ranked []Match
	switch {
	case c.HasText():
		ranked = l.rank(cands, c, l.scoreText)
	case c.XPath != "":
		path, err := ParseXPath(c.XPath)
		if err != nil {
			return nil
		}
		ranked = l.rank(cands, c, func(e *Element, _ Criteria) (float64, string, map[string]float64) {
			if !path.Matches(e) {
				return 0, "", nil
			}
			return xpathScore, StrategyXPath, map[string]float64{StrategyXPath: xpathScore}
		})
	}

	out := ranked[:0]
	for _, m := range ranked {
		if m.Confidence >= threshold {
			out = append(out, m)
		}
	}
	return out
}

// Score returns the combined confidence of one element against c, ignoring
// the threshold and the structural-path fallback.
func (l *Locator) Score(e *Element, c Criteria) Match {
	if !IsUsable(e) {
		return Match{Element: e, Factors: map[string]float64{}}
	}
	base, strategy, factors := l.scoreText(e, c)
	return combine(e, base, strategy, factors)
}

type scoreFunc func(e *Element, c Criteria) (float64, string, map[string]float64)

// rank scores every candidate, drops zero scores and sorts by confidence
// descending, then smaller area, then shallower depth.
func (l *Locator) rank(cands []*Element, c Criteria, score scoreFunc) []Match {
	matches := make([]Match, 0, len(cands))
	for _, e := range cands {
		base, strategy, factors := score(e, c)
		if base <= 0 {
			continue
		}
		matches = append(matches, combine(e, base, strategy, factors))
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if aa, ba := a.Element.Bounds.Area(), b.Element.Bounds.Area(); aa != ba {
			return aa < ba
		}
		return a.Element.Depth < b.Element.Depth
	})
	return matches
}

// combine scales the best factor and adds the clickable and enabled bonuses.
func combine(e *Element, base float64, strategy string, factors map[string]float64) Match {
	if factors == nil {
		factors = map[string]float64{}
	}
	if base <= 0 {
		return Match{Element: e, Factors: factors}
	}
	score := base * (1 - bonusHeadroom)
	if e.Clickable {
		score += clickableBonus
		factors[FactorClickable] = clickableBonus
	}
	if e.Enabled {
		score += enabledBonus
		factors[FactorEnabled] = enabledBonus
	}
	if score > 1 {
		score = 1
	}
	x, y := e.Bounds.Center()
	return Match{
		Element:    e,
		Confidence: score,
		Factors:    factors,
		Strategy:   strategy,
		X:          x,
		Y:          y,
	}
}

// scoreText returns the highest factor over the requested text criteria. Ties
// go to the earlier strategy in fallback order.
func (l *Locator) scoreText(e *Element, c Criteria) (float64, string, map[string]float64) {
	factors := map[string]float64{}
	best, strategy := 0.0, ""

	try := func(name string, q Query, candidate string) {
		if !q.IsSet() {
			return
		}
		s := l.scoreString(name, q, candidate)
		factors[name] = s
		if s > best {
			best, strategy = s, name
		}
	}

	try(StrategyResourceID, c.ID, e.ResourceID)
	try(StrategyContentDesc, c.Desc, e.ContentDesc)
	try(StrategyText, c.Text, e.Text)
	return best, strategy, factors
}

// scoreString scores one candidate string against a query using the
// criterion's factor table.
func (l *Locator) scoreString(criterion string, q Query, candidate string) float64 {
	table := factorTables[criterion]
	if candidate == "" {
		return 0
	}
	if q.Value == candidate {
		return table.exact
	}
	if criterion == StrategyResourceID && !strings.Contains(q.Value, "/") {
		if i := strings.LastIndex(candidate, "/"); i >= 0 {
			short := candidate[i+1:]
			if q.Value == short {
				return table.exact
			}
			if strings.EqualFold(q.Value, short) {
				return table.exactFold
			}
		}
	}

	query, cand := fold(q.Value), fold(candidate)
	if query == cand {
		return table.exactFold
	}
	if !q.Fuzzy {
		return 0
	}

	switch {
	case strings.Contains(query, cand):
		return table.candInQuery.at(float64(len(cand)) / float64(len(query)))
	case strings.Contains(cand, query):
		return table.queryInCand.at(float64(len(query)) / float64(len(cand)))
	}

	sim := Similarity(query, cand)
	if sim < l.FuzzyFloor || l.FuzzyFloor >= 1 {
		return 0
	}
	return table.fuzzy.at((sim - l.FuzzyFloor) / (1 - l.FuzzyFloor))
}

// fold normalizes to NFC and lower case.
func fold(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

// Similarity returns the normalized Levenshtein similarity of a and b in [0,1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	dist := smetrics.WagnerFischer(a, b, 1, 1, 1)
	return 1 - float64(dist)/float64(longest)
}

// ConfidenceLabel describes a confidence score for humans.
func ConfidenceLabel(score float64) string {
	switch {
	case score >= 0.9:
		return "excellent"
	case score >= 0.7:
		return "good"
	case score >= 0.5:
		return "fair"
	case score >= 0.3:
		return "low"
	default:
		return "very low"
	}
}
