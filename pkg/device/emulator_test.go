package device

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeProcess struct {
	mu     sync.Mutex
	killed bool
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

func (p *fakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type fakeLauncher struct {
	name string
	args []string
	proc *fakeProcess
	err  error
}

func (l *fakeLauncher) launch(name string, args ...string) (Process, error) {
	l.name, l.args = name, args
	if l.err != nil {
		return nil, l.err
	}
	l.proc = &fakeProcess{}
	return l.proc, nil
}

func emulatorConfig(fake *fakeADB, l *fakeLauncher) EmulatorConfig {
	return EmulatorConfig{
		BootTimeout:     time.Second,
		ShutdownTimeout: 50 * time.Millisecond,
		PollInterval:    time.Millisecond,
		EmulatorPath:    "/sdk/emulator/emulator",
		Launch:          l.launch,
		DeviceOptions:   []Option{WithRunner(fake.run), WithADB("adb")},
	}
}

var errOffline = errors.New("error: device offline")

func TestStartEmulator(t *testing.T) {
	var mu sync.Mutex
	stateCalls := 0
	fake := &fakeADB{handler: func(args string) ([]byte, error) {
		switch args {
		case "devices -l":
			return []byte("List of devices attached\nemulator-5554 device model:Pixel_6\n"), nil
		case "-s emulator-5556 get-state":
			mu.Lock()
			defer mu.Unlock()
			stateCalls++
			if stateCalls < 3 {
				return nil, errOffline
			}
			return []byte("device\n"), nil
		case "-s emulator-5556 shell getprop sys.boot_completed":
			return []byte("1\n"), nil
		}
		return nil, nil
	}}
	l := &fakeLauncher{}

	emu, err := StartEmulator(context.Background(), "Pixel_7_API_34", emulatorConfig(fake, l))
	if err != nil {
		t.Fatalf("StartEmulator() error = %v", err)
	}
	if emu.Serial != "emulator-5556" || emu.Port != 5556 {
		t.Errorf("serial = %s port = %d, want emulator-5556", emu.Serial, emu.Port)
	}
	if l.name != "/sdk/emulator/emulator" {
		t.Errorf("launched %s", l.name)
	}
	got := strings.Join(l.args, " ")
	if !strings.HasPrefix(got, "-avd Pixel_7_API_34 -port 5556") || !strings.Contains(got, "-no-snapshot-load") {
		t.Errorf("launch args = %q", got)
	}
	if l.proc.Killed() {
		t.Error("process killed after a successful boot")
	}
}

func TestStartEmulator_BootTimeout(t *testing.T) {
	fake := &fakeADB{handler: func(args string) ([]byte, error) {
		if args == "devices -l" {
			return []byte("List of devices attached\n"), nil
		}
		if strings.HasSuffix(args, "get-state") {
			return []byte("device\n"), nil
		}
		if strings.HasSuffix(args, "getprop sys.boot_completed") {
			return []byte("0\n"), nil
		}
		return nil, nil
	}}
	l := &fakeLauncher{}
	cfg := emulatorConfig(fake, l)
	cfg.BootTimeout = 30 * time.Millisecond

	_, err := StartEmulator(context.Background(), "Pixel", cfg)
	if err == nil {
		t.Fatal("expected boot timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if !strings.Contains(err.Error(), "boot:false") {
		t.Errorf("error should carry the boot status: %v", err)
	}
	if !l.proc.Killed() {
		t.Error("process should be killed when boot fails")
	}
}

func TestStartEmulator_LaunchError(t *testing.T) {
	fake := &fakeADB{handler: func(string) ([]byte, error) { return nil, nil }}
	l := &fakeLauncher{err: errors.New("exec format error")}

	if _, err := StartEmulator(context.Background(), "Pixel", emulatorConfig(fake, l)); err == nil {
		t.Fatal("expected launch error")
	}
}

func TestEmulatorClose(t *testing.T) {
	tests := []struct {
		name       string
		attached   bool
		wantKilled bool
	}{
		{"detaches", false, false},
		{"stuck", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeADB{handler: func(args string) ([]byte, error) {
				if strings.HasSuffix(args, "get-state") && !tt.attached {
					return nil, errOffline
				}
				return []byte("device\n"), nil
			}}
			l := &fakeLauncher{}
			cfg := emulatorConfig(fake, l)
			cfg.defaults()
			d, err := newAndroid("emulator-5554", cfg.DeviceOptions...)
			if err != nil {
				t.Fatal(err)
			}
			proc := &fakeProcess{}
			emu := &Emulator{AVD: "Pixel", Serial: "emulator-5554", Port: 5554, cfg: cfg, proc: proc, dev: d}

			if err := emu.Close(context.Background()); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if proc.Killed() != tt.wantKilled {
				t.Errorf("killed = %v, want %v", proc.Killed(), tt.wantKilled)
			}
			if calls := fake.Calls(); len(calls) == 0 || calls[0] != "-s emulator-5554 emu kill" {
				t.Errorf("first call = %v, want emu kill", calls)
			}
		})
	}
}

func TestCheckBoot(t *testing.T) {
	d, _ := newTestDevice(t, func(args string) ([]byte, error) {
		switch {
		case strings.HasSuffix(args, "get-state"):
			return []byte("device\n"), nil
		case strings.HasSuffix(args, "getprop sys.boot_completed"):
			return []byte("1\n"), nil
		case strings.HasSuffix(args, "pm get-max-users"):
			return nil, errors.New("Can't find service: package")
		}
		return nil, nil
	})

	s := checkBoot(context.Background(), d)
	if !s.StateReady || !s.BootCompleted || !s.SettingsReady {
		t.Errorf("status = %s", s)
	}
	if s.PackageManager || s.Ready() {
		t.Errorf("package manager should not be ready: %s", s)
	}
}

func TestCheckBoot_NotAttached(t *testing.T) {
	d, fake := newTestDevice(t, func(string) ([]byte, error) { return nil, errOffline })

	if s := checkBoot(context.Background(), d); s.StateReady {
		t.Errorf("status = %s", s)
	}
	if n := len(fake.Calls()); n != 1 {
		t.Errorf("calls = %d, want only get-state", n)
	}
}

func TestFreeConsolePort(t *testing.T) {
	port, err := freeConsolePort([]Entry{
		{Serial: "emulator-5554"},
		{Serial: "R58M123"},
		{Serial: "emulator-5558"},
	})
	if err != nil || port != 5556 {
		t.Errorf("port = %d, %v; want 5556", port, err)
	}

	var all []Entry
	for p := firstConsolePort; p <= lastConsolePort; p += 2 {
		all = append(all, Entry{Serial: "emulator-" + strconv.Itoa(p)})
	}
	if _, err := freeConsolePort(all); err == nil {
		t.Error("expected error when every port is used")
	}
}

func TestListAVDs(t *testing.T) {
	fake := &fakeADB{handler: func(args string) ([]byte, error) {
		if args == "-list-avds" {
			return []byte("INFO    | Storing crashdata\nPixel_7_API_34\n\nTablet_API_33\n"), nil
		}
		return nil, errors.New("unexpected")
	}}
	avds, err := ListAVDs(context.Background(), EmulatorConfig{
		EmulatorPath:  "emulator",
		DeviceOptions: []Option{WithRunner(fake.run), WithADB("adb")},
	})
	if err != nil {
		t.Fatalf("ListAVDs() error = %v", err)
	}
	if len(avds) != 2 || avds[0] != "Pixel_7_API_34" || avds[1] != "Tablet_API_33" {
		t.Errorf("avds = %v", avds)
	}
}
