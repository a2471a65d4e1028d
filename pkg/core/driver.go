package core

import (
	"context"
	"fmt"
	"time"
)

// ActionSink performs device-facing effects. Each call blocks until the
// device has acknowledged the action or ctx expires; a nil error means success.
// Implementations: device.Android (adb), mock.Device.
type ActionSink interface {
	Tap(ctx context.Context, x, y int) error
	LongPress(ctx context.Context, x, y int, d time.Duration) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error
	Type(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	OpenApp(ctx context.Context, app string) error

	// Screenshot captures the current screen as PNG
	Screenshot(ctx context.Context) ([]byte, error)
}

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// Area returns Width*Height
func (b Bounds) Area() int {
	return b.Width * b.Height
}

// IsEmpty reports whether the bounds have no area
func (b Bounds) IsEmpty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Intersects reports whether b overlaps a width x height screen
func (b Bounds) Intersects(width, height int) bool {
	return !b.IsEmpty() && b.X < width && b.Y < height && b.X+b.Width > 0 && b.Y+b.Height > 0
}

// String renders the bounds in uiautomator form: [x1,y1][x2,y2]
func (b Bounds) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}
