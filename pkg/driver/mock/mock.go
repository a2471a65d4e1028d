// Package mock provides an in-memory device for testing without a real device.
package mock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
)

// Action kinds recorded by Device.
const (
	ActionTap        = "tap"
	ActionLongPress  = "long_press"
	ActionSwipe      = "swipe"
	ActionType       = "type"
	ActionPressKey   = "press_key"
	ActionOpenApp    = "open_app"
	ActionScreenshot = "screenshot"
	ActionSnapshot   = "snapshot"
)

// Action is one recorded device call.
type Action struct {
	Kind     string
	X, Y     int
	X2, Y2   int
	Duration time.Duration
	Text     string // typed text, key or app
}

// Config configures mock device behavior.
type Config struct {
	// ScreenWidth and ScreenHeight default to 1080x1920.
	ScreenWidth  int
	ScreenHeight int
	// ActionDelay adds artificial delay per action.
	ActionDelay time.Duration
	DeviceID    string
}

// Device is an in-memory device implementing element.SnapshotSource and
// core.ActionSink. It is not safe for concurrent use.
type Device struct {
	Config Config

	// Actions lists every sink call in order.
	Actions []Action
	// OnAction, when set, runs after each successful sink call so tests can
	// change the screen in response.
	OnAction func(d *Device, a Action)

	screens  []*element.Snapshot
	current  int
	failures map[string][]error
}

// New creates a device showing the given screens. Each snapshot request
// returns the current screen; Advance moves to the next one.
func New(cfg Config, screens ...*element.Snapshot) *Device {
	if cfg.ScreenWidth == 0 {
		cfg.ScreenWidth = 1080
	}
	if cfg.ScreenHeight == 0 {
		cfg.ScreenHeight = 1920
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "mock-device"
	}
	if len(screens) == 0 {
		screens = []*element.Snapshot{element.NewSnapshot()}
	}
	return &Device{
		Config:   cfg,
		screens:  screens,
		failures: make(map[string][]error),
	}
}

// NewFromHierarchy creates a device showing a single uiautomator dump.
func NewFromHierarchy(cfg Config, xml []byte) (*Device, error) {
	snap, err := element.ParseHierarchy(xml)
	if err != nil {
		return nil, err
	}
	return New(cfg, snap), nil
}

// LoadHierarchyFile creates a device from a uiautomator dump file.
func LoadHierarchyFile(cfg Config, path string) (*Device, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided
	if err != nil {
		return nil, fmt.Errorf("failed to read hierarchy: %w", err)
	}
	return NewFromHierarchy(cfg, data)
}

// SetScreen replaces the current screen.
func (d *Device) SetScreen(snap *element.Snapshot) {
	d.screens[d.current] = snap
}

// Advance moves to the next screen, staying on the last one.
func (d *Device) Advance() {
	if d.current < len(d.screens)-1 {
		d.current++
	}
}

// Screen returns the index of the current screen.
func (d *Device) Screen() int {
	return d.current
}

// Fail queues errors returned by the next calls of kind, one per call.
func (d *Device) Fail(kind string, errs ...error) {
	d.failures[kind] = append(d.failures[kind], errs...)
}

// Count returns how many actions of kind were recorded.
func (d *Device) Count(kind string) int {
	n := 0
	for _, a := range d.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func (d *Device) do(ctx context.Context, a Action) error {
	if d.Config.ActionDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.Config.ActionDelay):
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Actions = append(d.Actions, a)
	if queued := d.failures[a.Kind]; len(queued) > 0 {
		d.failures[a.Kind] = queued[1:]
		return queued[0]
	}
	if d.OnAction != nil {
		d.OnAction(d, a)
	}
	return nil
}

// CurrentSnapshot returns the current screen.
func (d *Device) CurrentSnapshot(ctx context.Context) (*element.Snapshot, error) {
	if err := d.do(ctx, Action{Kind: ActionSnapshot}); err != nil {
		return nil, err
	}
	return d.screens[d.current], nil
}

// ScreenSize returns the configured screen size.
func (d *Device) ScreenSize(context.Context) (int, int, error) {
	return d.Config.ScreenWidth, d.Config.ScreenHeight, nil
}

// Tap records a tap.
func (d *Device) Tap(ctx context.Context, x, y int) error {
	return d.do(ctx, Action{Kind: ActionTap, X: x, Y: y})
}

// LongPress records a long press.
func (d *Device) LongPress(ctx context.Context, x, y int, dur time.Duration) error {
	return d.do(ctx, Action{Kind: ActionLongPress, X: x, Y: y, Duration: dur})
}

// Swipe records a swipe.
func (d *Device) Swipe(ctx context.Context, x1, y1, x2, y2 int, dur time.Duration) error {
	return d.do(ctx, Action{Kind: ActionSwipe, X: x1, Y: y1, X2: x2, Y2: y2, Duration: dur})
}

// Type records typed text.
func (d *Device) Type(ctx context.Context, text string) error {
	return d.do(ctx, Action{Kind: ActionType, Text: text})
}

// PressKey records a key press.
func (d *Device) PressKey(ctx context.Context, key string) error {
	return d.do(ctx, Action{Kind: ActionPressKey, Text: key})
}

// OpenApp records an app launch.
func (d *Device) OpenApp(ctx context.Context, app string) error {
	return d.do(ctx, Action{Kind: ActionOpenApp, Text: app})
}

// Screenshot returns a mock PNG image.
func (d *Device) Screenshot(ctx context.Context) ([]byte, error) {
	if err := d.do(ctx, Action{Kind: ActionScreenshot}); err != nil {
		return nil, err
	}
	// Minimal valid PNG (1x1 transparent pixel)
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}, nil
}

var (
	_ element.SnapshotSource = (*Device)(nil)
	_ core.ActionSink        = (*Device)(nil)
)
