// Package device drives Android devices through adb. An Android value is
// both the element snapshot source and the action sink of a run.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
)

// Runner executes a host command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Android manages an Android device connection via adb.
type Android struct {
	serial  string
	adbPath string
	run     Runner

	// Sleep between hierarchy dump attempts; tests shorten it.
	dumpRetryDelay time.Duration

	mu         sync.Mutex
	sizeW      int
	sizeH      int
	sizeCached bool
}

// Info contains basic device information.
type Info struct {
	Serial     string
	Model      string
	SDK        string
	Brand      string
	IsEmulator bool
}

// Entry is one line of `adb devices -l`.
type Entry struct {
	Serial string
	State  string // device, offline, unauthorized
	Model  string
}

// Option configures an Android device.
type Option func(*Android)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(d *Android) { d.run = r }
}

// WithADB sets the adb binary path.
func WithADB(path string) Option {
	return func(d *Android) { d.adbPath = path }
}

func newAndroid(serial string, opts ...Option) (*Android, error) {
	d := &Android{serial: serial, run: execRunner, dumpRetryDelay: 300 * time.Millisecond}
	for _, opt := range opts {
		opt(d)
	}
	if d.adbPath == "" {
		path, err := findADB()
		if err != nil {
			return nil, err
		}
		d.adbPath = path
	}
	return d, nil
}

// New connects to the device with the given serial. An empty serial selects
// the only connected device.
func New(ctx context.Context, serial string, opts ...Option) (*Android, error) {
	d, err := newAndroid(serial, opts...)
	if err != nil {
		return nil, err
	}

	if d.serial == "" {
		entries, err := d.listDevices(ctx)
		if err != nil {
			return nil, err
		}
		d.serial, err = pickDevice(entries)
		if err != nil {
			return nil, err
		}
	}

	if err := d.waitForDevice(ctx, 5*time.Second); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDevices returns the devices known to adb.
func ListDevices(ctx context.Context, opts ...Option) ([]Entry, error) {
	d, err := newAndroid("", opts...)
	if err != nil {
		return nil, err
	}
	return d.listDevices(ctx)
}

func (d *Android) listDevices(ctx context.Context) ([]Entry, error) {
	out, err := d.adb(ctx, "devices", "-l")
	if err != nil {
		return nil, err
	}
	return parseDevices(string(out)), nil
}

// parseDevices parses `adb devices -l` output.
func parseDevices(out string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		e := Entry{Serial: parts[0], State: parts[1]}
		for _, p := range parts[2:] {
			if strings.HasPrefix(p, "model:") {
				e.Model = strings.TrimPrefix(p, "model:")
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// pickDevice returns the serial of the single ready device.
func pickDevice(entries []Entry) (string, error) {
	var ready []string
	for _, e := range entries {
		if e.State == "device" {
			ready = append(ready, e.Serial)
		}
	}
	switch len(ready) {
	case 0:
		return "", core.ErrDeviceNotFound
	case 1:
		return ready[0], nil
	}
	return "", core.ErrDeviceNotFound.WithMessage(
		fmt.Sprintf("multiple devices connected (%s); select one with --device", strings.Join(ready, ", ")))
}

// Serial returns the device serial number.
func (d *Android) Serial() string {
	return d.serial
}

// Shell executes a shell command on the device.
func (d *Android) Shell(ctx context.Context, args ...string) (string, error) {
	out, err := d.adb(ctx, append([]string{"shell"}, args...)...)
	return string(out), err
}

// Info returns device information.
func (d *Android) Info(ctx context.Context) (Info, error) {
	info := Info{Serial: d.serial}

	prop := func(name string) string {
		out, err := d.Shell(ctx, "getprop", name)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(out)
	}
	info.Model = prop("ro.product.model")
	info.SDK = prop("ro.build.version.sdk")
	info.Brand = prop("ro.product.brand")
	info.IsEmulator = prop("ro.kernel.qemu") == "1"

	if err := ctx.Err(); err != nil {
		return info, err
	}
	return info, nil
}

var sizeRe = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)

// ScreenSize returns the screen size reported by `wm size`. An override
// size wins over the physical one. The result is cached.
func (d *Android) ScreenSize(ctx context.Context) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sizeCached {
		return d.sizeW, d.sizeH, nil
	}

	out, err := d.Shell(ctx, "wm", "size")
	if err != nil {
		return 0, 0, err
	}
	w, h, err := parseScreenSize(out)
	if err != nil {
		return 0, 0, core.ErrCommandFailed.WithMessage("wm size").WithCause(err)
	}
	d.sizeW, d.sizeH, d.sizeCached = w, h, true
	return w, h, nil
}

func parseScreenSize(out string) (int, int, error) {
	var w, h int
	found := false
	for _, m := range sizeRe.FindAllStringSubmatch(out, -1) {
		if found && m[1] != "Override" {
			continue
		}
		w, _ = strconv.Atoi(m[2])
		h, _ = strconv.Atoi(m[3])
		found = true
	}
	if !found {
		return 0, 0, fmt.Errorf("unexpected wm size output: %q", strings.TrimSpace(out))
	}
	return w, h, nil
}

// Tap taps at the given point.
func (d *Android) Tap(ctx context.Context, x, y int) error {
	_, err := d.Shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

// LongPress presses at the given point for dur.
func (d *Android) LongPress(ctx context.Context, x, y int, dur time.Duration) error {
	return d.Swipe(ctx, x, y, x, y, dur)
}

// Swipe moves from (x1, y1) to (x2, y2) over dur.
func (d *Android) Swipe(ctx context.Context, x1, y1, x2, y2 int, dur time.Duration) error {
	_, err := d.Shell(ctx, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.FormatInt(dur.Milliseconds(), 10))
	return err
}

// Type types text into the focused field.
func (d *Android) Type(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := d.Shell(ctx, "input", "text", escapeInputText(text))
	return err
}

// escapeInputText escapes text for `input text`, which runs through the
// device shell and reads %s as a space.
func escapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case ' ':
			b.WriteString("%s")
		case '\\', '"', '\'', '`', '$', '&', '|', ';', '<', '>', '(', ')', '*', '~', '!', '?', '#', '[', ']', '{', '}', '%':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// keyCodes maps key names to Android key codes.
var keyCodes = map[string]int{
	"home":        3,
	"back":        4,
	"call":        5,
	"endcall":     6,
	"up":          19,
	"down":        20,
	"left":        21,
	"right":       22,
	"center":      23,
	"volume_up":   24,
	"volume_down": 25,
	"power":       26,
	"camera":      27,
	"tab":         61,
	"space":       62,
	"enter":       66,
	"delete":      67,
	"backspace":   67,
	"menu":        82,
	"search":      84,
	"escape":      111,
	"forward_del": 112,
	"move_home":   122,
	"move_end":    123,
	"app_switch":  187,
	"recent":      187,
}

// clearDeletes is the number of delete presses used when select-all is
// unavailable.
const clearDeletes = 64

// PressKey presses a named key, a KEYCODE_ name or a numeric key code. The
// "clear" key empties the focused field.
func (d *Android) PressKey(ctx context.Context, key string) error {
	name := strings.ToLower(strings.TrimSpace(key))
	if name == "clear" {
		return d.clearField(ctx)
	}
	code, err := keyCode(key)
	if err != nil {
		return err
	}
	_, err = d.Shell(ctx, "input", "keyevent", code)
	return err
}

func keyCode(key string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(key))
	name = strings.NewReplacer("-", "_", " ", "_").Replace(name)
	if code, ok := keyCodes[name]; ok {
		return strconv.Itoa(code), nil
	}
	if _, err := strconv.Atoi(name); err == nil {
		return name, nil
	}
	if upper := strings.ToUpper(strings.TrimSpace(key)); strings.HasPrefix(upper, "KEYCODE_") {
		return upper, nil
	}
	return "", fmt.Errorf("unknown key %q", key)
}

// clearField selects all text and deletes it. Devices without
// keycombination get move-to-end and repeated deletes.
func (d *Android) clearField(ctx context.Context) error {
	if _, err := d.Shell(ctx, "input", "keycombination", "113", "29"); err == nil {
		_, err = d.Shell(ctx, "input", "keyevent", "67")
		return err
	} else if ctx.Err() != nil {
		return err
	}

	args := []string{"input", "keyevent", "123"}
	for i := 0; i < clearDeletes; i++ {
		args = append(args, "67")
	}
	_, err := d.Shell(ctx, args...)
	return err
}

// OpenApp launches an app by package name, or an activity given as
// package/activity.
func (d *Android) OpenApp(ctx context.Context, app string) error {
	app = strings.TrimSpace(app)
	if app == "" {
		return fmt.Errorf("open: empty app id")
	}
	if strings.Contains(app, "/") {
		_, err := d.Shell(ctx, "am", "start", "-n", app)
		return err
	}
	_, err := d.Shell(ctx, "monkey", "-p", app, "-c", "android.intent.category.LAUNCHER", "1")
	return err
}

// Screenshot captures the screen as PNG.
func (d *Android) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := d.adb(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(out, []byte("\x89PNG")) {
		return nil, core.ErrCommandFailed.WithMessage("screencap returned no PNG data")
	}
	return out, nil
}

// adb executes an adb command. Failures become ErrCommandFailed; a context
// deadline is returned as is so callers can report a timeout.
func (d *Android) adb(ctx context.Context, args ...string) ([]byte, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if d.serial != "" {
		cmdArgs = append(cmdArgs, "-s", d.serial)
	}
	cmdArgs = append(cmdArgs, args...)

	out, err := d.run(ctx, d.adbPath, cmdArgs...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("adb %s: %w", strings.Join(args, " "), ctxErr)
		}
		return nil, core.ErrCommandFailed.
			WithMessage("adb " + strings.Join(args, " ")).
			WithCause(err).
			WithDetails(map[string]interface{}{"serial": d.serial})
	}
	return out, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //#nosec G204 -- adb with fixed verbs
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// waitForDevice waits for the device to be available.
func (d *Android) waitForDevice(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		out, err := d.adb(ctx, "get-state")
		if err == nil && strings.TrimSpace(string(out)) == "device" {
			return nil
		}
		select {
		case <-ctx.Done():
			return core.ErrDeviceNotFound.WithMessage(fmt.Sprintf("device %s not available", d.serial)).WithCause(ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// findADB locates the adb binary: PATH, then the Android SDK directories.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		root := os.Getenv(env)
		if root == "" {
			continue
		}
		path := filepath.Join(root, "platform-tools", "adb")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errors.New("adb not found in PATH or $ANDROID_HOME/platform-tools; ensure Android SDK is installed")
}

var (
	_ element.SnapshotSource = (*Android)(nil)
	_ core.ActionSink        = (*Android)(nil)
)
