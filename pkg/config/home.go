package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "DITTO_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the ditto home directory, which holds the user-wide
// ditto.yaml.
//
// Resolution order:
//  1. $DITTO_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. ~/.ditto
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// Binary-relative: if binary is at <home>/bin/ditto, use <home>
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ditto")
	}
	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}

// Discover loads the first ditto.yaml found in dirs, then in the home
// directory. Without any file it returns Default().
func Discover(dirs ...string) (*Config, error) {
	for _, dir := range append(dirs, GetHome()) {
		if dir == "" {
			continue
		}
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return Load(path)
			}
		}
	}
	return Default(), nil
}
