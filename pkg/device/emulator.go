package device

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/logger"
)

// Emulator console ports are even numbers starting at 5554.
const (
	firstConsolePort = 5554
	lastConsolePort  = 5682
)

// Process is a started emulator process.
type Process interface {
	Kill() error
}

// Launcher starts a long-running host process without waiting for it.
type Launcher func(name string, args ...string) (Process, error)

// EmulatorConfig configures StartEmulator and ListAVDs. Zero fields use
// defaults.
type EmulatorConfig struct {
	BootTimeout     time.Duration // default 3m
	ShutdownTimeout time.Duration // default 30s
	PollInterval    time.Duration // default 1s
	EmulatorPath    string        // default: $ANDROID_HOME/emulator/emulator, then PATH
	Launch          Launcher
	DeviceOptions   []Option // adb runner and path for the boot checks
}

func (c *EmulatorConfig) defaults() {
	if c.BootTimeout <= 0 {
		c.BootTimeout = 3 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Launch == nil {
		c.Launch = execLauncher
	}
}

// BootStatus holds the boot checks of an emulator. All must pass before
// the device accepts input reliably.
type BootStatus struct {
	StateReady     bool // adb get-state is "device"
	BootCompleted  bool // sys.boot_completed is 1
	SettingsReady  bool // settings service answers
	PackageManager bool // package manager answers
}

// Ready reports whether every check passed.
func (s BootStatus) Ready() bool {
	return s.StateReady && s.BootCompleted && s.SettingsReady && s.PackageManager
}

func (s BootStatus) String() string {
	return fmt.Sprintf("state:%v boot:%v settings:%v pm:%v",
		s.StateReady, s.BootCompleted, s.SettingsReady, s.PackageManager)
}

// Emulator is an Android emulator started by StartEmulator.
type Emulator struct {
	AVD    string
	Serial string
	Port   int

	cfg  EmulatorConfig
	proc Process
	dev  *Android
}

// ListAVDs returns the names of the configured virtual devices.
func ListAVDs(ctx context.Context, cfg EmulatorConfig) ([]string, error) {
	path, err := emulatorPath(cfg.EmulatorPath)
	if err != nil {
		return nil, err
	}
	d, err := newAndroid("", cfg.DeviceOptions...)
	if err != nil {
		return nil, err
	}
	out, err := d.run(ctx, path, "-list-avds")
	if err != nil {
		return nil, fmt.Errorf("failed to list AVDs: %w", err)
	}

	var avds []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		// The emulator prints INFO and WARNING lines on some hosts.
		if line == "" || strings.Contains(line, "|") || strings.HasPrefix(line, "INFO") || strings.HasPrefix(line, "WARNING") {
			continue
		}
		avds = append(avds, line)
	}
	logger.Debug("Found %d AVDs: %v", len(avds), avds)
	return avds, nil
}

// StartEmulator boots avd on a free console port and waits until it is
// fully booted. The process is killed when boot fails.
func StartEmulator(ctx context.Context, avd string, cfg EmulatorConfig) (*Emulator, error) {
	cfg.defaults()
	path, err := emulatorPath(cfg.EmulatorPath)
	if err != nil {
		return nil, err
	}

	d, err := newAndroid("", cfg.DeviceOptions...)
	if err != nil {
		return nil, err
	}
	entries, err := d.listDevices(ctx)
	if err != nil {
		return nil, err
	}
	port, err := freeConsolePort(entries)
	if err != nil {
		return nil, err
	}
	d.serial = fmt.Sprintf("emulator-%d", port)

	args := []string{
		"-avd", avd,
		"-port", strconv.Itoa(port),
		"-netdelay", "none",
		"-netspeed", "full",
		"-no-boot-anim",
		"-no-snapshot-load",
	}
	logger.Info("Starting emulator %s on port %d", avd, port)
	logger.Debug("Emulator command: %s %v", path, args)
	bootStart := time.Now()

	proc, err := cfg.Launch(path, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start emulator process: %w", err)
	}

	bootCtx, cancel := context.WithTimeout(ctx, cfg.BootTimeout)
	defer cancel()
	if status, err := waitForBoot(bootCtx, d, cfg.PollInterval); err != nil {
		if killErr := proc.Kill(); killErr != nil {
			logger.Warn("Failed to kill emulator %s: %v", d.serial, killErr)
		}
		return nil, fmt.Errorf("emulator %s did not boot within %v (%s): %w", avd, cfg.BootTimeout, status, err)
	}

	logger.Info("Emulator %s booted in %v as %s", avd, time.Since(bootStart).Round(time.Millisecond), d.serial)
	return &Emulator{AVD: avd, Serial: d.serial, Port: port, cfg: cfg, proc: proc, dev: d}, nil
}

// Close shuts the emulator down with `adb emu kill` and kills the process
// when it is still attached after the shutdown timeout.
func (e *Emulator) Close(ctx context.Context) error {
	logger.Info("Shutting down emulator: %s", e.Serial)
	if _, err := e.dev.adb(ctx, "emu", "kill"); err != nil {
		logger.Warn("adb emu kill failed for %s: %v", e.Serial, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()
	for {
		if _, err := e.dev.adb(waitCtx, "get-state"); err != nil && waitCtx.Err() == nil {
			logger.Info("Emulator shutdown confirmed: %s", e.Serial)
			return nil
		}
		select {
		case <-waitCtx.Done():
			logger.Warn("Emulator shutdown timeout, killing process: %s", e.Serial)
			if err := e.proc.Kill(); err != nil {
				return fmt.Errorf("failed to shut down emulator %s: %w", e.Serial, err)
			}
			return nil
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// checkBoot runs the boot checks once. Later checks are skipped until the
// device is attached.
func checkBoot(ctx context.Context, d *Android) BootStatus {
	var s BootStatus
	out, err := d.adb(ctx, "get-state")
	s.StateReady = err == nil && strings.TrimSpace(string(out)) == "device"
	if !s.StateReady {
		return s
	}

	boot, err := d.Shell(ctx, "getprop", "sys.boot_completed")
	s.BootCompleted = err == nil && strings.TrimSpace(boot) == "1"
	_, err = d.Shell(ctx, "settings", "list", "global")
	s.SettingsReady = err == nil
	_, err = d.Shell(ctx, "pm", "get-max-users")
	s.PackageManager = err == nil
	return s
}

func waitForBoot(ctx context.Context, d *Android, interval time.Duration) (BootStatus, error) {
	for {
		status := checkBoot(ctx, d)
		logger.Debug("Boot status for %s: %s", d.serial, status)
		if status.Ready() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// freeConsolePort returns the first console port no attached emulator uses.
func freeConsolePort(entries []Entry) (int, error) {
	used := make(map[int]bool)
	for _, e := range entries {
		var port int
		if _, err := fmt.Sscanf(e.Serial, "emulator-%d", &port); err == nil {
			used[port] = true
		}
	}
	for port := firstConsolePort; port <= lastConsolePort; port += 2 {
		if !used[port] {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free emulator console port between %d and %d", firstConsolePort, lastConsolePort)
}

// emulatorPath returns path when set, else the SDK emulator binary.
func emulatorPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		root := os.Getenv(env)
		if root == "" {
			continue
		}
		for _, rel := range []string{"emulator/emulator", "tools/emulator"} {
			p := filepath.Join(root, rel)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	if p, err := exec.LookPath("emulator"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("emulator binary not found; set ANDROID_HOME or add emulator to PATH")
}

func execLauncher(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...) //#nosec G204 -- emulator binary with fixed flags
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() { _ = cmd.Wait() }()
	return cmd.Process, nil
}
