package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cryptoadvance/specter-launcher/internal/failure"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if *cfg != Default() {
		t.Errorf("expected defaults, got %+v", *cfg)
	}
	if cfg.Timeouts.Fetch() != 5*time.Minute {
		t.Errorf("Fetch() = %v, want 5m", cfg.Timeouts.Fetch())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `
[logging]
level = "DEBUG"
format = "json"

[timeouts]
ready_seconds = 30

[readiness]
mode = "http"
health_url = "http://127.0.0.1:25441/healthz"
poll_interval_ms = 250

[metrics]
listen_addr = "127.0.0.1:9464"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Timeouts.Ready() != 30*time.Second {
		t.Errorf("Ready() = %v", cfg.Timeouts.Ready())
	}
	if cfg.Timeouts.FetchSeconds != defaultFetchSeconds {
		t.Errorf("FetchSeconds should keep its default, got %d", cfg.Timeouts.FetchSeconds)
	}
	if cfg.Readiness.Mode != ReadinessHTTP || cfg.Readiness.PollInterval() != 250*time.Millisecond {
		t.Errorf("unexpected readiness: %+v", cfg.Readiness)
	}
	if cfg.Metrics.ListenAddr != "127.0.0.1:9464" {
		t.Errorf("ListenAddr = %q", cfg.Metrics.ListenAddr)
	}
}

func TestLoadRejectsInvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"malformed", "[logging\nlevel=", "parse config"},
		{"unknown_key", "[logging]\ncolour = true\n", "parse config"},
		{"bad_level", "[logging]\nlevel = \"loud\"\n", "logging.level"},
		{"bad_timeout", "[timeouts]\nfetch_seconds = 0\n", "fetch_seconds"},
		{"bad_mode", "[readiness]\nmode = \"telepathy\"\n", "readiness.mode"},
		{"bad_health_url", "[readiness]\nmode = \"http\"\nhealth_url = \"ftp://x\"\n", "health_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if failure.KindOf(err) != failure.KindConfig {
				t.Errorf("kind = %v, want %v", failure.KindOf(err), failure.KindConfig)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	cfg := Default()
	cfg.Readiness.Mode = ReadinessHTTP

	data, err := Encode(&cfg)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	var decoded Config
	if err := Decode(data, &decoded); err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if decoded != cfg {
		t.Errorf("decoded = %+v, want %+v", decoded, cfg)
	}
}
