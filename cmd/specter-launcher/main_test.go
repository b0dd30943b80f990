package main

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cryptoadvance/specter-launcher/internal/binary"
	"github.com/cryptoadvance/specter-launcher/internal/failure"
	"github.com/cryptoadvance/specter-launcher/internal/platform"
	"github.com/cryptoadvance/specter-launcher/internal/testutil"
)

const testDaemon = "#!/bin/sh\necho specterd\n"

type cliTestEnv struct {
	home         string
	manifestPath string
	server       *httptest.Server
	requests     atomic.Int32
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	env := &cliTestEnv{home: testutil.SetupTestEnv(t)}

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	w, err := zw.Create("specterd")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(testDaemon)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	env.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		if r.URL.Path != "/v1.13.1/specterd-v1.13.1-x86_64-linux-gnu.zip" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive.Bytes())
	}))
	t.Cleanup(env.server.Close)

	sum := sha256.Sum256([]byte(testDaemon))
	manifest := fmt.Sprintf("version: v1.13.1\nsha256: %s\nrelease_base: %s\n",
		hex.EncodeToString(sum[:]), env.server.URL)
	env.manifestPath = filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(env.manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	return env
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	ctx := newCommandContext()
	ctx.httpClient = env.server.Client()
	ctx.stderr = &stderr

	cmd := newRootCommandWith(ctx)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{
		"--home", env.home,
		"--manifest", env.manifestPath,
		"--platform", "linux-x86_64",
		"--log-format", "json",
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (env *cliTestEnv) installPath() string {
	return filepath.Join(env.home, ".specter", binary.DirName, "specterd")
}

func TestCLIProvisionVerifyStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "provision")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !strings.Contains(out, binary.MsgFetching) {
		t.Errorf("provision output missing %q:\n%s", binary.MsgFetching, out)
	}
	if !strings.Contains(out, env.installPath()) {
		t.Errorf("provision output missing install path:\n%s", out)
	}

	out, _, err = env.run(t, "verify")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "trusted") {
		t.Errorf("verify output = %q", out)
	}

	out, _, err = env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"v1.13.1", "linux-x86_64", "trusted", "Last run", "fetching > extracting > installing > trusted"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	// A second provision finds the cached binary and makes no request.
	before := env.requests.Load()
	if _, _, err := env.run(t, "provision"); err != nil {
		t.Fatalf("second provision: %v", err)
	}
	if got := env.requests.Load(); got != before {
		t.Errorf("cached provision made %d requests", got-before)
	}
}

func TestCLIVerifyDetectsTampering(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := env.run(t, "provision"); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := os.WriteFile(env.installPath(), []byte("#!/bin/sh\necho evil\n"), 0o755); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	_, _, err := env.run(t, "verify")
	if !failure.Is(err, failure.KindDigestMismatch) {
		t.Fatalf("verify error = %v, want kind %v", err, failure.KindDigestMismatch)
	}
}

func TestCLIVerifyNotInstalled(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := env.run(t, "verify")
	if !errors.Is(err, errNotInstalled) {
		t.Fatalf("verify error = %v, want errNotInstalled", err)
	}
}

func TestCLIStatusWithoutRuns(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "No provisioning runs recorded.") {
		t.Errorf("status output:\n%s", out)
	}
	if !strings.Contains(out, "Installed") || !strings.Contains(out, "no") {
		t.Errorf("status output should report the daemon as missing:\n%s", out)
	}
}

func TestCLIProvisionHTTPFailure(t *testing.T) {
	env := setupCLITestEnv(t)

	manifest := "version: v9.9.9\nsha256: " + strings.Repeat("0", 64) + "\nrelease_base: " + env.server.URL + "\n"
	if err := os.WriteFile(env.manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	_, _, err := env.run(t, "provision")
	if failure.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("provision error = %v, want http 404", err)
	}

	out, _, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "failed") {
		t.Errorf("status should show the failed run:\n%s", out)
	}
}

func TestCLIVersion(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "specter-launcher "+version) || !strings.Contains(out, "specterd v1.13.1") {
		t.Errorf("version output = %q", out)
	}
}

func TestCLIVersionEmbeddedPlaceholder(t *testing.T) {
	var stdout bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "specterd v0.0.0-dev") || !strings.Contains(out, "development placeholder") {
		t.Errorf("version output = %q", out)
	}
}

func TestCLIUnknownPlatform(t *testing.T) {
	env := setupCLITestEnv(t)

	var stdout bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"--home", env.home, "--platform", "amiga", "status"})
	err := cmd.Execute()
	if !failure.Is(err, failure.KindConfig) {
		t.Fatalf("error = %v, want kind %v", err, failure.KindConfig)
	}
}

type fakeExit struct {
	stopped bool
	cause   error
	exitErr error
}

func (f fakeExit) Stopped() bool    { return f.stopped }
func (f fakeExit) StopCause() error { return f.cause }
func (f fakeExit) ExitErr() error   { return f.exitErr }

func TestExitError(t *testing.T) {
	timeout := failure.Newf(failure.KindTimeout, "daemon", "not ready after 1s")
	tests := []struct {
		name     string
		exit     fakeExit
		wantKind failure.Kind
		wantNil  bool
	}{
		{
			name:     "readiness_timeout",
			exit:     fakeExit{stopped: true, cause: timeout},
			wantKind: failure.KindTimeout,
		},
		{
			name:    "requested_stop",
			exit:    fakeExit{stopped: true},
			wantNil: true,
		},
		{
			name:     "crash",
			exit:     fakeExit{exitErr: fmt.Errorf("exit status 3")},
			wantKind: failure.KindProcessCrash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exitError(tt.exit)
			if tt.wantNil {
				if err != nil {
					t.Errorf("exitError() = %v, want nil", err)
				}
				return
			}
			if !failure.Is(err, tt.wantKind) {
				t.Errorf("exitError() = %v, want kind %s", err, tt.wantKind)
			}
		})
	}
}

func TestPlatformAttrs(t *testing.T) {
	tests := []struct {
		name string
		info *platform.Info
		want []any
	}{
		{
			name: "linux_with_distro",
			info: &platform.Info{ID: platform.LinuxX8664, OS: "linux", Arch: "amd64", Platform: "ubuntu", Family: platform.FamilyDebian, Version: "22.04"},
			want: []any{"id", platform.LinuxX8664, "os", "linux", "arch", "amd64",
				"distro", "ubuntu", "family", platform.FamilyDebian, "distro_version", "22.04"},
		},
		{
			name: "linux_unknown_distro",
			info: &platform.Info{ID: platform.LinuxX8664, OS: "linux", Arch: "amd64"},
			want: []any{"id", platform.LinuxX8664, "os", "linux", "arch", "amd64"},
		},
		{
			name: "macos",
			info: &platform.Info{ID: platform.MacOS, OS: "darwin", Arch: "arm64"},
			want: []any{"id", platform.MacOS, "os", "darwin", "arch", "arm64"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := platformAttrs(tt.info); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("platformAttrs() = %v, want %v", got, tt.want)
			}
		})
	}
}
