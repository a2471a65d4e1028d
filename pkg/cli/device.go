package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/device"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/executor"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/report"
)

// locatorFlags select an element for find and tap.
func locatorFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Match by text"},
		&cli.StringFlag{Name: "id", Aliases: []string{"i"}, Usage: "Match by resource-id"},
		&cli.StringFlag{Name: "desc", Aliases: []string{"d"}, Usage: "Match by content-description"},
		&cli.StringFlag{Name: "xpath", Usage: "Match by structural path, e.g. //Button[@text='OK']"},
		&cli.BoolFlag{Name: "exact", Usage: "Disable fuzzy matching"},
		&cli.Float64Flag{
			Name:    "min-confidence",
			Aliases: []string{"c"},
			Usage:   "Minimum confidence threshold 0.0-1.0",
			Value:   element.DefaultMinConfidence,
		},
	}
}

func findCommand() *cli.Command {
	return &cli.Command{
		Name:  "find",
		Usage: "Find elements on screen with confidence scoring",
		Description: `Fuzzy matching finds elements even with minor text differences.

Examples:
  ditto find --text "Login"
  ditto find --id btn_submit
  ditto find --text "Item" --all
  ditto find --text "Setings" -c 0.5
  ditto find --xpath "//Button" --all --json`,
		Flags: flags(locatorFlags(), []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "List every element above the threshold"},
			&cli.BoolFlag{Name: "json", Usage: "Output as JSON"},
		}, deviceFlags(), logFlags()),
		Before: setupLogging,
		After:  closeLogging,
		Action: runFind,
	}
}

// matchJSON is the --json form of a match.
type matchJSON struct {
	Element    *core.Element      `json:"element"`
	Confidence float64            `json:"confidence"`
	Quality    string             `json:"quality"`
	Strategy   string             `json:"strategy"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	X          int                `json:"x"`
	Y          int                `json:"y"`
}

func toMatchJSON(m element.Match) matchJSON {
	return matchJSON{
		Element:    m.Element.Info(),
		Confidence: m.Confidence,
		Quality:    element.ConfidenceLabel(m.Confidence),
		Strategy:   m.Strategy,
		Factors:    m.Factors,
		X:          m.X,
		Y:          m.Y,
	}
}

func runFind(c *cli.Context) error {
	crit, err := criteriaFromFlags(c)
	if err != nil {
		return err
	}
	dev, _, err := connect(c.Context, c, "")
	if err != nil {
		return err
	}

	loc := element.NewLocator()
	loc.MinConfidence = c.Float64("min-confidence")
	provider := element.NewProvider(dev, loc)
	out := c.App.Writer

	if c.Bool("all") {
		matches, err := provider.FindAll(c.Context, crit)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			items := make([]matchJSON, 0, len(matches))
			for _, m := range matches {
				items = append(items, toMatchJSON(m))
			}
			return writeJSON(out, items)
		}
		fmt.Fprintf(out, "Found %d element(s) (>= %.0f%% confidence):\n", len(matches), loc.MinConfidence*100)
		for _, m := range matches {
			fmt.Fprintln(out, matchLine(m))
		}
		return nil
	}

	res, err := provider.Locate(c.Context, crit)
	if err != nil {
		return err
	}
	if res.Match == nil {
		msg := fmt.Sprintf("Element not found (below %.0f%% confidence)", res.Threshold*100)
		if res.Best.Found() {
			msg += fmt.Sprintf("; closest was %s at %.0f%%", res.Best.Element.Describe(), res.Best.Confidence*100)
		}
		return cli.Exit(msg, 1)
	}
	if c.Bool("json") {
		return writeJSON(out, toMatchJSON(*res.Match))
	}
	fmt.Fprintln(out, matchLine(*res.Match))
	return nil
}

func criteriaFromFlags(c *cli.Context) (element.Criteria, error) {
	fuzzy := !c.Bool("exact")
	crit := element.Criteria{
		ID:    element.Query{Value: c.String("id"), Fuzzy: fuzzy},
		Desc:  element.Query{Value: c.String("desc"), Fuzzy: fuzzy},
		Text:  element.Query{Value: c.String("text"), Fuzzy: fuzzy},
		XPath: c.String("xpath"),
	}
	if crit.IsEmpty() {
		return crit, fmt.Errorf("provide at least one of --text, --id, --desc or --xpath")
	}
	return crit, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func tapCommand() *cli.Command {
	return &cli.Command{
		Name:      "tap",
		Usage:     "Tap an element or a screen coordinate",
		ArgsUsage: "[x y]",
		Description: `With a locator and coordinates, the coordinates are the fallback
when no element reaches the confidence threshold.

Examples:
  ditto tap --text Login
  ditto tap --id com.example:id/submit --exact
  ditto tap 540 1200`,
		Flags: flags(locatorFlags(), []cli.Flag{
			&cli.Float64Flag{Name: "timeout", Usage: "Seconds to wait for the element", Value: executor.DefaultTimeout.Seconds()},
		}, deviceFlags(), logFlags()),
		Before: setupLogging,
		After:  closeLogging,
		Action: func(c *cli.Context) error {
			step := &flow.TapStep{BaseStep: flow.BaseStep{StepType: flow.StepTap}}
			step.Locator = flow.Locator{
				Text:  c.String("text"),
				ID:    c.String("id"),
				Desc:  c.String("desc"),
				XPath: c.String("xpath"),
			}
			if c.Bool("exact") {
				fuzzy := false
				step.Locator.Fuzzy = &fuzzy
			}
			if c.IsSet("min-confidence") {
				mc := c.Float64("min-confidence")
				step.Locator.MinConfidence = &mc
			}
			switch c.NArg() {
			case 0:
			case 2:
				x, y, err := parsePoint(c.Args().Get(0), c.Args().Get(1))
				if err != nil {
					return err
				}
				step.Locator.X, step.Locator.Y = &x, &y
			default:
				return fmt.Errorf("expected x and y coordinates, got %d argument(s)", c.NArg())
			}
			if step.Locator.IsEmpty() {
				return fmt.Errorf("provide a locator flag or x y coordinates")
			}
			return runStep(c, step)
		},
	}
}

func typeCommand() *cli.Command {
	return &cli.Command{
		Name:      "type",
		Usage:     "Type text into the focused field",
		ArgsUsage: "<text>",
		Flags: flags([]cli.Flag{
			&cli.BoolFlag{Name: "clear", Usage: "Clear the field before typing"},
		}, deviceFlags(), logFlags()),
		Before: setupLogging,
		After:  closeLogging,
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("type requires the text to type")
			}
			return runStep(c, &flow.TypeStep{
				BaseStep: flow.BaseStep{StepType: flow.StepTypeText},
				Text:     strings.Join(c.Args().Slice(), " "),
				Clear:    c.Bool("clear"),
			})
		},
	}
}

func pressCommand() *cli.Command {
	return &cli.Command{
		Name:      "press",
		Usage:     "Press a key (home, back, enter, delete, tab, a key code...)",
		ArgsUsage: "<key>",
		Flags:     flags(deviceFlags(), logFlags()),
		Before:    setupLogging,
		After:     closeLogging,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("press requires exactly one key")
			}
			return runStep(c, &flow.PressStep{
				BaseStep: flow.BaseStep{StepType: flow.StepPress},
				Key:      c.Args().First(),
			})
		},
	}
}

func openCommand() *cli.Command {
	return &cli.Command{
		Name:      "open",
		Usage:     "Launch an app by package name or package/activity",
		ArgsUsage: "<app>",
		Flags:     flags(deviceFlags(), logFlags()),
		Before:    setupLogging,
		After:     closeLogging,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("open requires exactly one app id")
			}
			return runStep(c, &flow.OpenStep{
				BaseStep: flow.BaseStep{StepType: flow.StepOpen},
				App:      c.Args().First(),
			})
		},
	}
}

func swipeCommand() *cli.Command {
	return &cli.Command{
		Name:      "swipe",
		Usage:     "Swipe in a direction or between two points",
		ArgsUsage: "<up|down|left|right> | <x1 y1 x2 y2>",
		Flags: flags([]cli.Flag{
			&cli.IntFlag{Name: "duration", Usage: "Swipe duration in milliseconds", Value: int(executor.DefaultSwipe.Milliseconds())},
		}, deviceFlags(), logFlags()),
		Before: setupLogging,
		After:  closeLogging,
		Action: func(c *cli.Context) error {
			step := &flow.SwipeStep{
				BaseStep: flow.BaseStep{StepType: flow.StepSwipe},
				Duration: c.Int("duration"),
			}
			args := c.Args().Slice()
			switch len(args) {
			case 1:
				step.Direction = strings.ToLower(args[0])
			case 4:
				x1, y1, err := parsePoint(args[0], args[1])
				if err != nil {
					return err
				}
				x2, y2, err := parsePoint(args[2], args[3])
				if err != nil {
					return err
				}
				step.From = &flow.Point{X: x1, Y: y1}
				step.To = &flow.Point{X: x2, Y: y2}
			default:
				return fmt.Errorf("expected a direction or x1 y1 x2 y2")
			}
			return runStep(c, step)
		},
	}
}

// runStep runs a single step through the executor, so direct commands get
// the same locating, gestures and error reporting as scripts. Retries are
// off and there is no post-action delay.
func runStep(c *cli.Context, step flow.Step) error {
	dev, _, err := connect(c.Context, c, "")
	if err != nil {
		return err
	}

	rc := executor.DefaultConfig()
	rc.Retries = 0
	rc.StepDelay = 0
	rc.ArtifactsDir = "."
	if c.IsSet("timeout") {
		rc.Timeout = time.Duration(c.Float64("timeout") * float64(time.Second))
	}

	script := &flow.Script{Name: string(step.Type()), Steps: []flow.Step{step}}
	result, err := executor.New(dev, dev, rc).Run(c.Context, script, executor.Seeds{})
	if err != nil {
		return err
	}
	for _, r := range result.Steps {
		fmt.Fprintln(c.App.Writer, report.StepLine(report.StepFrom(r)))
	}
	if !result.Success {
		return cli.Exit("", 1)
	}
	return nil
}

func screenshotCommand() *cli.Command {
	return &cli.Command{
		Name:      "screenshot",
		Usage:     "Save a screenshot as PNG",
		ArgsUsage: "[file]",
		Flags:     flags(deviceFlags(), logFlags()),
		Before:    setupLogging,
		After:     closeLogging,
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				path = "screenshot.png"
			}
			dev, _, err := connect(c.Context, c, "")
			if err != nil {
				return err
			}
			data, err := dev.Screenshot(c.Context)
			if err != nil {
				return fmt.Errorf("screenshot: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("save screenshot: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "Screenshot saved to: %s\n", path)
			return nil
		},
	}
}

func screenSizeCommand() *cli.Command {
	return &cli.Command{
		Name:   "screen-size",
		Usage:  "Print the screen size in pixels",
		Flags:  flags(deviceFlags(), logFlags()),
		Before: setupLogging,
		After:  closeLogging,
		Action: func(c *cli.Context) error {
			dev, _, err := connect(c.Context, c, "")
			if err != nil {
				return err
			}
			w, h, err := dev.ScreenSize(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%dx%d\n", w, h)
			return nil
		},
	}
}

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List connected devices",
		Flags: flags([]cli.Flag{
			&cli.BoolFlag{Name: "avds", Usage: "List the emulators that can be booted with run --avd"},
		}, logFlags()),
		Before: setupLogging,
		After:  closeLogging,
		Action: func(c *cli.Context) error {
			if c.Bool("avds") {
				avds, err := device.ListAVDs(c.Context, device.EmulatorConfig{})
				if err != nil {
					return err
				}
				printAVDs(c.App.Writer, avds)
				return nil
			}
			entries, err := device.ListDevices(c.Context)
			if err != nil {
				return err
			}
			printDevices(c.App.Writer, entries)
			return nil
		},
	}
}

func printDevices(w io.Writer, entries []device.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No devices connected")
		return
	}
	fmt.Fprintf(w, "Connected devices (%d):\n", len(entries))
	for _, e := range entries {
		icon := failStyle.Render("-")
		if e.State == "device" {
			icon = passStyle.Render("+")
		}
		line := fmt.Sprintf("  %s %s (%s)", icon, e.Serial, e.State)
		if e.Model != "" {
			line += " " + dimStyle.Render(e.Model)
		}
		fmt.Fprintln(w, line)
	}
}

func printAVDs(w io.Writer, avds []string) {
	if len(avds) == 0 {
		fmt.Fprintln(w, "No AVDs found")
		return
	}
	fmt.Fprintf(w, "Available AVDs (%d):\n", len(avds))
	for _, name := range avds {
		fmt.Fprintf(w, "  %s\n", name)
	}
}

func parsePoint(xs, ys string) (int, int, error) {
	x, err := strconv.Atoi(xs)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid x coordinate %q", xs)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid y coordinate %q", ys)
	}
	return x, y, nil
}
