package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	Info("starting %s", "login.yaml")
	Error("step %d failed", 2)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "starting login.yaml") {
		t.Errorf("log = %q, want info message", out)
	}
	if !strings.Contains(out, "level=error") {
		t.Errorf("log = %q, want level=error", out)
	}
}

func TestInitInvalidPath(t *testing.T) {
	if err := Init(filepath.Join(t.TempDir(), "missing", "run.log")); err == nil {
		t.Error("Init() with missing directory should fail")
	}
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer Close()

	if err := SetLevel("info"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	Debug("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug message logged at info level")
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	defer SetLevel("info")
	Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("debug message missing at debug level")
	}
}

func TestSetLevelInvalid(t *testing.T) {
	if err := SetLevel("chatty"); err == nil {
		t.Error("SetLevel(\"chatty\") should fail")
	}
}

func TestStepFields(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer Close()

	Step("steps[1]", "tap").Info("tapped")
	out := buf.String()
	if !strings.Contains(out, "step=\"steps[1]\"") && !strings.Contains(out, "step=steps[1]") {
		t.Errorf("log = %q, want step field", out)
	}
	if !strings.Contains(out, "action=tap") {
		t.Errorf("log = %q, want action field", out)
	}
}

func TestLogUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer Close()

	Log("loud", "fallback %d", 1)
	if !strings.Contains(buf.String(), "level=info") {
		t.Errorf("log = %q, want level=info", buf.String())
	}
}

func TestGetWriterWithoutFile(t *testing.T) {
	Close()
	if w := GetWriter(); w == nil {
		t.Error("GetWriter() = nil")
	}
}
