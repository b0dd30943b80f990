package testutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cryptoadvance/specter-launcher/internal/testutil"
)

func TestSetupTestEnv(t *testing.T) {
	home := testutil.SetupTestEnv(t)

	if got := os.Getenv("HOME"); got != home {
		t.Errorf("HOME = %q, want %q", got, home)
	}
	if got := os.Getenv("USERPROFILE"); got != home {
		t.Errorf("USERPROFILE = %q, want %q", got, home)
	}

	// os.UserHomeDir must resolve to the isolated home
	resolved, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir() error = %v", err)
	}
	if resolved != home {
		t.Errorf("UserHomeDir() = %q, want %q", resolved, home)
	}

	if _, err := os.Stat(filepath.Join(home, ".specter")); err != nil {
		t.Errorf(".specter directory missing: %v", err)
	}
	if !filepath.IsAbs(home) {
		t.Errorf("path %s is not absolute", home)
	}
}

func TestSetupTestEnv_Isolation(t *testing.T) {
	dir1 := testutil.SetupTestEnv(t)

	t.Run("subtest", func(t *testing.T) {
		dir2 := testutil.SetupTestEnv(t)

		if dir1 == dir2 {
			t.Error("expected different temp directories for different test contexts")
		}
	})
}
