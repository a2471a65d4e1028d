package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

// Write writes run to path atomically, creating parent directories.
func Write(path string, run *Run) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if run.Version == "" {
		run.Version = Version
	}
	run.LastUpdated = time.Now()
	if err := atomicWriteJSON(path, run); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Read loads a report document.
func Read(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &run, nil
}

// SaveScreenshot writes PNG data as dir/name.png and returns the path.
func SaveScreenshot(dir, name string, data []byte) (string, error) {
	if err := ensureDir(dir); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	name = sanitizeName(name)
	if !strings.HasSuffix(strings.ToLower(name), ".png") {
		name += ".png"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// sanitizeName keeps a screenshot name inside its directory.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "screenshot"
	}
	return name
}

// Writer keeps report.json current while a run is in progress. Each
// recorded step rewrites the file, so a crashed run still leaves the steps
// that finished.
type Writer struct {
	mu   sync.Mutex
	run  *Run
	path string
	err  error
}

// NewWriter creates a Writer for path seeded with run's metadata.
func NewWriter(path string, run *Run) *Writer {
	if run.Version == "" {
		run.Version = Version
	}
	return &Writer{run: run, path: path}
}

// Start marks the run as started.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.run.StartTime.IsZero() {
		w.run.StartTime = time.Now()
	}
	w.run.Status = StatusRunning
	if err := ensureDir(filepath.Dir(w.path)); err != nil {
		w.err = err
		return
	}
	w.flush()
}

// StepEnd records a finished step.
func (w *Writer) StepEnd(r core.StepResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.run.Steps = append(w.run.Steps, StepFrom(r))
	w.run.Summary = summarize(w.run.Steps)
	w.flush()
}

// End replaces the in-progress document with the final one and writes it.
// It returns the first write error seen during the run.
func (w *Writer) End(final *Run) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if final != nil {
		w.run = final
	}
	if w.run.EndTime == nil {
		now := time.Now()
		w.run.EndTime = &now
		duration := now.Sub(w.run.StartTime).Milliseconds()
		w.run.Duration = &duration
	}
	w.flush()
	return w.err
}

// Run returns the current document.
func (w *Writer) Run() *Run {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.run
}

func (w *Writer) flush() {
	if w.run.Version == "" {
		w.run.Version = Version
	}
	w.run.LastUpdated = time.Now()
	if err := atomicWriteJSON(w.path, w.run); err != nil && w.err == nil {
		w.err = err
	}
}

func summarize(steps []Step) core.Summary {
	s := core.Summary{Total: len(steps)}
	for _, step := range steps {
		switch step.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusWarned:
			s.Warned++
		}
		if step.Flaky {
			s.Flaky++
		}
	}
	return s
}

// atomicWriteJSON writes v to a temp file in the target directory and
// renames it over path, so readers never see a partial document.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
