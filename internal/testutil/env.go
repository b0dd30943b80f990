// Package testutil provides utilities for testing the launcher in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestEnv points HOME (and USERPROFILE on Windows) at a fresh temp
// directory with an empty .specter inside, and returns that home.
// This ensures tests never touch:
// - The user's installed daemon in ~/.specter/specterd-binaries
// - The user's app_settings.json or launcher.toml
// - A launcher instance that is running for real
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	home := t.TempDir()

	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	if err := os.MkdirAll(filepath.Join(home, ".specter"), 0o750); err != nil {
		t.Fatalf("failed to create test directory: %v", err)
	}

	return home
}
