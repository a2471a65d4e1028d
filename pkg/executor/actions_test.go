package executor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/driver/mock"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

func TestActions_FuzzyTap(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
- action: tap
  text: Setings
`)

	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}
	taps := actions(dev, "tap")
	if len(taps) != 1 || taps[0].X != 300 || taps[0].Y != 440 {
		t.Errorf("taps = %+v, want (300,440)", taps)
	}
	step := result.Steps[0]
	if step.Confidence == nil || *step.Confidence < 0.3 || *step.Confidence >= 0.95 {
		t.Errorf("Confidence = %v, want fuzzy score in [0.3, 0.95)", step.Confidence)
	}
	if step.Strategy != element.StrategyText {
		t.Errorf("Strategy = %q, want text", step.Strategy)
	}
	if step.Element == nil || step.Element.Text != "Settings" {
		t.Errorf("Element = %+v, want Settings", step.Element)
	}
}

func TestActions_ExactMatchDisablesFuzzy(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
- action: tap
  text: Setings
  fuzzy: false
  retries: 0
`)
	if result.Success {
		t.Fatal("Success = true, want no match without fuzzy matching")
	}
	if dev.Count("tap") != 0 {
		t.Error("tapped despite no match")
	}
}

func TestActions_TapByIDAndDesc(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
- action: tap
  id: settings
- action: tap
  desc: Sign in
`)
	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}
	if got := result.Steps[0].Strategy; got != element.StrategyResourceID {
		t.Errorf("Steps[0].Strategy = %q, want resource_id", got)
	}
	if got := result.Steps[1].Strategy; got != element.StrategyContentDesc {
		t.Errorf("Steps[1].Strategy = %q, want content_desc", got)
	}
	taps := actions(dev, "tap")
	if len(taps) != 2 || taps[0].Y != 440 || taps[1].Y != 250 {
		t.Errorf("taps = %+v", taps)
	}
}

func TestActions_TapCoordinates(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
- action: tap
  x: 10
  y: 20
- action: tap
  text: Zzqx Nothing Here
  x: 30
  y: 40
`)

	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}
	taps := actions(dev, "tap")
	if len(taps) != 2 || taps[0].X != 10 || taps[0].Y != 20 || taps[1].X != 30 || taps[1].Y != 40 {
		t.Errorf("taps = %+v", taps)
	}
	if got := result.Steps[1].Strategy; got != element.StrategyCoordinates {
		t.Errorf("fallback Strategy = %q, want coordinates", got)
	}
	if n := dev.Count("snapshot"); n == 0 {
		t.Error("fallback step never looked at the screen")
	}
}

func TestActions_XPath(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
- action: tap
  xpath: "//android.widget.Button[@text='Login']"
`)
	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}
	if got := result.Steps[0].Strategy; got != element.StrategyXPath {
		t.Errorf("Strategy = %q, want xpath", got)
	}
}

func TestActions_Gestures(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
- action: long_press
  text: Login
- action: swipe
  direction: left
- action: swipe
  from: {x: 1, y: 2}
  to: {x: 3, y: 4}
  duration: 100
- action: scroll
`)
	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}

	lp := actions(dev, "long_press")
	if len(lp) != 1 || lp[0].Duration != DefaultLongPress || lp[0].X != 300 {
		t.Errorf("long_press = %+v", lp)
	}

	swipes := actions(dev, "swipe")
	if len(swipes) != 3 {
		t.Fatalf("swipes = %+v, want 3", swipes)
	}
	left := swipes[0]
	if left.X != 864 || left.Y != 960 || left.X2 != 216 || left.Y2 != 960 || left.Duration != DefaultSwipe {
		t.Errorf("swipe left = %+v", left)
	}
	explicit := swipes[1]
	if explicit.X != 1 || explicit.Y != 2 || explicit.X2 != 3 || explicit.Y2 != 4 || explicit.Duration != 100*time.Millisecond {
		t.Errorf("swipe from/to = %+v", explicit)
	}
	// Scrolling down moves the finger up.
	scroll := swipes[2]
	if scroll.Y <= scroll.Y2 || scroll.Duration != DefaultScroll {
		t.Errorf("scroll = %+v, want upward finger movement", scroll)
	}
}

func TestActions_TypeIntoElement(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
variables:
  user: alice
steps:
  - action: type
    text: "{{user}}"
    element:
      desc: Username
    clear: true
`)
	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}

	var kinds []string
	for _, a := range dev.Actions {
		if a.Kind != mock.ActionSnapshot {
			kinds = append(kinds, a.Kind+":"+a.Text)
		}
	}
	want := "tap:,press_key:clear,type:alice"
	if got := strings.Join(kinds, ","); got != want {
		t.Errorf("actions = %s, want %s", got, want)
	}
}

func TestActions_PressAndOpen(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
variables:
  pkg: com.example
steps:
  - action: open
    app: "{{pkg}}"
  - action: press
    key: back
`)
	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}
	if got := actions(dev, "open_app"); len(got) != 1 || got[0].Text != "com.example" {
		t.Errorf("open_app = %+v", got)
	}
	if got := actions(dev, "press_key"); len(got) != 1 || got[0].Text != "back" {
		t.Errorf("press_key = %+v", got)
	}
}

func TestActions_WaitForAppears(t *testing.T) {
	snap, err := element.ParseHierarchy([]byte(homeScreen))
	if err != nil {
		t.Fatal(err)
	}
	dev := mock.New(mock.Config{}, element.NewSnapshot(), snap)
	dev.OnAction = func(d *mock.Device, a mock.Action) {
		if a.Kind == mock.ActionSnapshot && d.Count(mock.ActionSnapshot) == 3 {
			d.Advance()
		}
	}

	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
- action: wait_for
  text: Login
  timeout: 2
  interval: 0.01
`)
	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}
	if result.Steps[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Steps[0].Attempts)
	}
	if n := dev.Count(mock.ActionSnapshot); n != 3 {
		t.Errorf("snapshots = %d, want 3", n)
	}
}

func TestActions_AssertNotExists(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
- action: assert_not_exists
  text: Zzqx Nothing Here
- action: assert_not_exists
  text: Login
  message: "still on {{screen}}"
`)
	if result.Steps[0].Status != core.StatusSuccess {
		t.Errorf("Steps[0].Status = %v", result.Steps[0].Status)
	}
	if result.Steps[1].Status != core.StatusFailure {
		t.Fatalf("Steps[1].Status = %v, want failure", result.Steps[1].Status)
	}
	var notFound *core.VariableNotFoundError
	if !errors.As(result.Err, &notFound) {
		t.Errorf("Err = %v, want VariableNotFoundError from the message template", result.Err)
	}
}

func TestActions_AssertMessages(t *testing.T) {
	dev := newDevice(t)
	cfg := testConfig(t, &sleepRecorder{})
	cfg.StopOnFailure = false

	result := runScript(t, dev, cfg, `
variables:
  count: 2
steps:
  - action: assert
    condition: "count > 5"
    message: "count was {{count}}"
  - action: assert
    condition: "count > 5"
  - action: assert_exists
    text: Zzqx Nothing Here
`)

	var failed *core.AssertionFailedError
	if !errors.As(result.Steps[0].Err, &failed) || failed.Message != "count was 2" {
		t.Errorf("Steps[0].Err = %v, want assertion message %q", result.Steps[0].Err, "count was 2")
	}
	if got := result.Steps[0].Error; got != "assertion failed: count was 2" {
		t.Errorf("Steps[0].Error = %q", got)
	}
	if got := result.Steps[1].Error; !strings.Contains(got, "count > 5") {
		t.Errorf("Steps[1].Error = %q", got)
	}
	if got := result.Steps[2].Error; !strings.Contains(got, "element not found") {
		t.Errorf("Steps[2].Error = %q", got)
	}
}

func TestActions_SetVariable(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
variables:
  base: 10
  name: ann
steps:
  - action: set_variable
    name: total
    expr: "base * 2 + 1"
  - action: set_variable
    name: greeting
    value: "hi {{name}}"
  - action: set_variable
    name: copy
    value: "{{base}}"
  - action: set_variable
    name: list
    value: [1, "{{name}}"]
  - action: set_variable
    name: nothing
    value: null
`)
	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}

	tests := []struct {
		name string
		want vars.Value
	}{
		{"total", vars.Int(21)},
		{"greeting", vars.String("hi ann")},
		{"copy", vars.Int(10)},
		{"list", vars.List([]vars.Value{vars.Int(1), vars.String("ann")})},
		{"nothing", vars.Null},
	}
	for _, tt := range tests {
		got, ok := result.Variables[tt.name]
		if !ok {
			t.Errorf("%s not set", tt.name)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s = %v, want %v", tt.name, got.Repr(), tt.want.Repr())
		}
	}
}

func TestActions_Extract(t *testing.T) {
	dev := newDevice(t)
	cfg := testConfig(t, &sleepRecorder{})
	cfg.StopOnFailure = false

	result := runScript(t, dev, cfg, `
- action: extract
  text: Total
  variable: price
  regex: '\$(\d+\.\d+)'
- action: extract
  text: Total
  variable: whole
  regex: '\d+'
- action: extract
  text: Login
  variable: login_id
  source: resource_id
- action: extract
  text: Login
  variable: clickable
  source: attribute
  attribute: clickable
- action: extract
  text: Zzqx Nothing Here
  variable: missing
  default: none
  timeout: 0.02
- action: extract
  text: Total
  variable: cents
  regex: 'EUR (\d+)'
  default: "0"
- action: extract
  text: Total
  variable: second
  regex: '(\d+)\.(\d+)'
  group: 2
`)

	tests := []struct {
		name string
		want string
	}{
		{"price", "42.50"},
		{"whole", "42"},
		{"login_id", "com.example:id/login_button"},
		{"clickable", "true"},
		{"missing", "none"},
		{"cents", "0"},
		{"second", "50"},
	}
	for _, tt := range tests {
		got, ok := result.Variables[tt.name]
		if !ok {
			t.Errorf("%s not set", tt.name)
			continue
		}
		if !got.Equal(vars.String(tt.want)) {
			t.Errorf("%s = %v, want %q", tt.name, got.Repr(), tt.want)
		}
	}
	if result.Summary.Failed != 0 {
		t.Errorf("Summary = %+v, want no failures", result.Summary)
	}
}

func TestActions_ExtractFailsWithoutDefault(t *testing.T) {
	dev := newDevice(t)
	result := runScript(t, dev, testConfig(t, &sleepRecorder{}), `
- action: extract
  text: Total
  variable: price
  regex: 'EUR (\d+)'
  retries: 0
`)
	if result.Success {
		t.Fatal("Success = true, want failure")
	}
	if !strings.Contains(result.Steps[0].Error, "did not match") {
		t.Errorf("Error = %q", result.Steps[0].Error)
	}
}

func TestApplyRegex(t *testing.T) {
	group := func(n int) *int { return &n }
	tests := []struct {
		pattern string
		group   *int
		text    string
		want    string
		wantErr bool
	}{
		{`\d+`, nil, "abc 123", "123", false},
		{`(\w+)@(\w+)`, nil, "me@host", "me", false},
		{`(\w+)@(\w+)`, group(0), "me@host", "me@host", false},
		{`(\w+)@(\w+)`, group(2), "me@host", "host", false},
		{`(\w+)@(\w+)`, group(3), "me@host", "", true},
		{`(?<=\$)\d+`, nil, "cost $15", "15", false},
		{`x`, nil, "abc", "", true},
		{`(`, nil, "abc", "", true},
	}
	for _, tt := range tests {
		got, err := applyRegex(tt.pattern, tt.group, tt.text)
		if (err != nil) != tt.wantErr {
			t.Errorf("applyRegex(%q) error = %v, wantErr %v", tt.pattern, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("applyRegex(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestActions_LogAndScreenshot(t *testing.T) {
	dev := newDevice(t)
	cfg := testConfig(t, &sleepRecorder{})

	result := runScript(t, dev, cfg, `
variables:
  page: home
steps:
  - action: log
    message: "on {{page}}"
    level: debug
  - action: screenshot
    name: "{{page}}"
  - action: screenshot
`)
	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}
	if got := result.Steps[0].Message; got != "on home" {
		t.Errorf("log Message = %q", got)
	}
	for _, name := range []string{"home.png", "screenshot_2.png"} {
		if _, err := os.Stat(filepath.Join(cfg.ArtifactsDir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}
