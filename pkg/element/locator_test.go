package element

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fuzzyText(s string) Criteria {
	return Criteria{Text: Query{Value: s, Fuzzy: true}}
}

func TestScoreStringBands(t *testing.T) {
	l := NewLocator()
	tests := []struct {
		name      string
		criterion string
		query     string
		candidate string
		lo, hi    float64
	}{
		{"id exact", StrategyResourceID, "com.app:id/ok", "com.app:id/ok", 1, 1},
		{"id short exact", StrategyResourceID, "login_button", "com.app:id/login_button", 1, 1},
		{"id fold", StrategyResourceID, "com.app:id/OK", "com.app:id/ok", 0.95, 0.95},
		{"id query in candidate", StrategyResourceID, "login", "com.app:id/login_button", 0.80, 0.80},
		{"id candidate in query", StrategyResourceID, "com.app:id/login_button_main", "com.app:id/login_button", 0.70, 0.80},
		{"desc exact", StrategyContentDesc, "Close", "Close", 1, 1},
		{"desc fold", StrategyContentDesc, "close", "Close", 0.95, 0.95},
		{"desc query in candidate", StrategyContentDesc, "Navigate", "Navigate up", 0.70, 0.80},
		{"desc candidate in query", StrategyContentDesc, "Navigate up now", "Navigate up", 0.60, 0.70},
		{"desc fuzzy", StrategyContentDesc, "Navigete up", "Navigate up", 0.40, 0.70},
		{"text exact", StrategyText, "Login", "Login", 1, 1},
		{"text fold", StrategyText, "LOGIN", "Login", 0.95, 0.95},
		{"text query in candidate", StrategyText, "Log", "Login", 0.70, 0.90},
		{"text candidate in query", StrategyText, "Login now", "Login", 0.60, 0.80},
		{"text fuzzy", StrategyText, "Setings", "Settings", 0.40, 0.70},
		{"id fuzzy", StrategyResourceID, "com.app:id/logni", "com.app:id/login", 0.50, 0.60},
		{"unrelated", StrategyText, "Cancel", "Settings", 0, 0},
		{"empty candidate", StrategyText, "Login", "", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.scoreString(tt.criterion, Query{Value: tt.query, Fuzzy: true}, tt.candidate)
			assert.GreaterOrEqual(t, got, tt.lo-1e-9)
			assert.LessOrEqual(t, got, tt.hi+1e-9)
		})
	}
}

func TestScoreStringSubstringScalesWithLength(t *testing.T) {
	l := NewLocator()
	short := l.scoreString(StrategyText, Query{Value: "Log", Fuzzy: true}, "Login to continue")
	long := l.scoreString(StrategyText, Query{Value: "Login to", Fuzzy: true}, "Login to continue")
	assert.Less(t, short, long)
}

func TestScoreStringExactOnlyWithoutFuzzy(t *testing.T) {
	l := NewLocator()
	assert.Equal(t, 1.0, l.scoreString(StrategyText, Query{Value: "Login"}, "Login"))
	assert.Equal(t, 0.95, l.scoreString(StrategyText, Query{Value: "login"}, "Login"))
	assert.Equal(t, 0.0, l.scoreString(StrategyText, Query{Value: "Log"}, "Login"))
	assert.Equal(t, 0.0, l.scoreString(StrategyText, Query{Value: "Setings"}, "Settings"))
}

func TestFuzzyMonotonicInSimilarity(t *testing.T) {
	l := NewLocator()
	candidate := "Settings"
	// Similarity to "settings": 0.875, 0.75, 0.625, 0.5
	queries := []string{"Settinqs", "Setxinqs", "Sexxinqs", "Sxxxinqs"}

	prevSim, prevScore := 2.0, 2.0
	for _, q := range queries {
		sim := Similarity(fold(q), fold(candidate))
		score := l.scoreString(StrategyText, Query{Value: q, Fuzzy: true}, candidate)
		assert.Less(t, sim, prevSim)
		assert.LessOrEqual(t, score, prevScore, "score must not increase as similarity drops (%s)", q)
		prevSim, prevScore = sim, score
	}
	assert.Equal(t, 0.0, prevScore, "similarity below the floor scores 0")
}

func TestSetingsScenario(t *testing.T) {
	l := NewLocator()
	for _, flags := range [][2]bool{{false, false}, {true, false}, {true, true}} {
		e := textElement("Settings", [4]int{0, 0, 100, 50}, flags[0], flags[1])
		m := l.Score(e, fuzzyText("Setings"))
		assert.Greater(t, m.Confidence, 0.4)
		assert.Less(t, m.Confidence, 0.7)
		assert.Equal(t, StrategyText, m.Strategy)

		exact := l.Score(e, fuzzyText("Settings"))
		assert.Greater(t, exact.Confidence, m.Confidence)
	}
}

func TestConfidenceIsOneOnlyForExactWithBonuses(t *testing.T) {
	l := NewLocator()

	full := l.Score(textElement("Login", [4]int{0, 0, 100, 50}, true, true), fuzzyText("Login"))
	assert.InDelta(t, 1.0, full.Confidence, 1e-9)
	assert.InDelta(t, 0.05, full.Factors[FactorClickable], 1e-9)

	noClick := l.Score(textElement("Login", [4]int{0, 0, 100, 50}, false, true), fuzzyText("Login"))
	assert.Less(t, noClick.Confidence, 1.0)

	fold := l.Score(textElement("Login", [4]int{0, 0, 100, 50}, true, true), fuzzyText("login"))
	assert.Less(t, fold.Confidence, 1.0)
	assert.Greater(t, fold.Confidence, noClick.Confidence-0.1)
}

func TestScoreTakesMaxAcrossCriteria(t *testing.T) {
	l := NewLocator()
	e := &Element{
		Class:      "android.widget.Button",
		ResourceID: "com.app:id/submit",
		Text:       "Send",
		Visible:    true,
		Bounds:     boundsOf([4]int{0, 0, 100, 50}),
	}
	m := l.Score(e, Criteria{
		ID:   Query{Value: "submit", Fuzzy: true},
		Text: Query{Value: "Cancel", Fuzzy: true},
	})
	assert.Equal(t, StrategyResourceID, m.Strategy)
	assert.InDelta(t, 0.9, m.Confidence, 1e-9)
	assert.Equal(t, 0.0, m.Factors[StrategyText])
}

func TestScoreUnusableElement(t *testing.T) {
	l := NewLocator()
	e := textElement("Login", [4]int{0, 0, 0, 0}, true, true)
	assert.Equal(t, 0.0, l.Score(e, fuzzyText("Login")).Confidence)

	hidden := textElement("Login", [4]int{0, 0, 10, 10}, true, true)
	hidden.Visible = false
	assert.Equal(t, 0.0, l.Score(hidden, fuzzyText("Login")).Confidence)
}

func TestRankTieBreaks(t *testing.T) {
	big := textElement("OK", [4]int{0, 0, 500, 500}, true, true)
	small := textElement("OK", [4]int{0, 0, 50, 50}, true, true)
	deep := textElement("OK", [4]int{100, 100, 50, 50}, true, true)
	container := &Element{Class: "android.widget.LinearLayout", Visible: true, Bounds: boundsOf([4]int{0, 0, 1080, 1920}), Children: []*Element{deep}}
	snap := NewSnapshot(big, container, small)

	l := NewLocator()
	all := l.FindAll(snap, fuzzyText("OK"))
	require.Len(t, all, 3)
	assert.Same(t, small, all[0].Element, "same score, same area: shallower first")
	assert.Same(t, deep, all[1].Element)
	assert.Same(t, big, all[2].Element, "larger area last")
}

func TestFindThreshold(t *testing.T) {
	l := NewLocator()
	snap := NewSnapshot(textElement("Settings", [4]int{0, 0, 100, 50}, false, false))

	m := l.Find(snap, fuzzyText("Setxinqs"))
	require.NotNil(t, m)
	assert.Less(t, m.Confidence, 0.5)

	strict := 0.5
	c := fuzzyText("Setxinqs")
	c.MinConfidence = &strict
	res := l.Locate(snap, c)
	assert.Nil(t, res.Match, "below threshold reports no match")
	require.NotNil(t, res.Best)
	assert.InDelta(t, m.Confidence, res.Best.Confidence, 1e-9)

	assert.Nil(t, l.Find(snap, fuzzyText("Cancel")))
}

func TestFindAllAboveThreshold(t *testing.T) {
	l := NewLocator()
	snap := NewSnapshot(
		textElement("Login", [4]int{0, 0, 100, 50}, true, true),
		textElement("Login help", [4]int{0, 100, 100, 50}, true, true),
		textElement("Cancel", [4]int{0, 200, 100, 50}, true, true),
	)
	all := l.FindAll(snap, fuzzyText("Login"))
	require.Len(t, all, 2)
	assert.Equal(t, "Login", all[0].Element.Text)
	assert.GreaterOrEqual(t, all[0].Confidence, all[1].Confidence)
}

func TestAdFiltering(t *testing.T) {
	snap, err := ParseHierarchy([]byte(sampleDump))
	require.NoError(t, err)

	l := NewLocator()
	assert.Nil(t, l.Find(snap, fuzzyText("Install now")), "ad children are excluded")

	l.FilterAds = false
	m := l.Find(snap, fuzzyText("Install now"))
	require.NotNil(t, m)
	assert.True(t, m.Element.Ad)
}

func TestIsAd(t *testing.T) {
	tests := []struct {
		e    Element
		want bool
	}{
		{Element{ResourceID: "com.app:id/ad_container"}, true},
		{Element{ResourceID: "com.app:id/adView"}, true},
		{Element{ResourceID: "com.app:id/banner_ad"}, true},
		{Element{ResourceID: "com.app:id/add_button"}, false},
		{Element{ResourceID: "com.app:id/header"}, false},
		{Element{Class: "com.google.android.gms.ads.AdView"}, true},
		{Element{Package: "com.google.android.gms.ads.internal"}, true},
		{Element{ContentDesc: "Sponsored"}, true},
		{Element{ContentDesc: "Address"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsAd(&tt.e), "%+v", tt.e)
	}
}

func TestLocateXPathFallback(t *testing.T) {
	snap, err := ParseHierarchy([]byte(sampleDump))
	require.NoError(t, err)
	l := NewLocator()

	res := l.Locate(snap, Criteria{
		Text:  Query{Value: "Anmelden"},
		XPath: "//android.widget.Button[@resource-id='com.example:id/login_button']",
	})
	require.NotNil(t, res.Match)
	assert.Equal(t, StrategyXPath, res.Match.Strategy)
	assert.Equal(t, "Login", res.Match.Element.Text)
	assert.InDelta(t, 0.775, res.Match.Confidence, 1e-9)
}

func TestLocateCoordinatesFallback(t *testing.T) {
	snap, err := ParseHierarchy([]byte(sampleDump))
	require.NoError(t, err)
	l := NewLocator()

	res := l.Locate(snap, Criteria{Text: Query{Value: "Nope"}, Point: &Point{X: 540, Y: 960}})
	assert.Nil(t, res.Match)
	require.NotNil(t, res.Fallback)
	assert.Equal(t, StrategyCoordinates, res.Fallback.Strategy)
	assert.Equal(t, 0.0, res.Fallback.Confidence)
	assert.False(t, res.Fallback.Found())

	target := res.Target()
	assert.Equal(t, 540, target.X)
	assert.Equal(t, 960, target.Y)
}

func TestMatchPointIsCenter(t *testing.T) {
	snap, err := ParseHierarchy([]byte(sampleDump))
	require.NoError(t, err)
	m := NewLocator().Find(snap, Criteria{ID: Query{Value: "login_button"}})
	require.NotNil(t, m)
	assert.Equal(t, 300, m.X)
	assert.Equal(t, 250, m.Y)
	assert.InDelta(t, 1.0, m.Confidence, 1e-9)
}

func TestCriteriaDescribe(t *testing.T) {
	c := Criteria{
		ID:    Query{Value: "login"},
		Text:  Query{Value: "Sign in", Fuzzy: true},
		Point: &Point{X: 1, Y: 2},
	}
	assert.Equal(t, `id="login" text~"Sign in" point=(1,2)`, c.Describe())
	assert.True(t, Criteria{}.IsEmpty())
}

func TestConfidenceLabel(t *testing.T) {
	assert.Equal(t, "excellent", ConfidenceLabel(0.95))
	assert.Equal(t, "good", ConfidenceLabel(0.7))
	assert.Equal(t, "fair", ConfidenceLabel(0.55))
	assert.Equal(t, "low", ConfidenceLabel(0.3))
	assert.Equal(t, "very low", ConfidenceLabel(0.1))
}
