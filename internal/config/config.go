// Package config loads the launcher's own settings from launcher.toml.
//
// These are operator knobs (logging, timeouts, readiness probing, metrics),
// not the user's application settings, which live in internal/settings.
// A missing file is not an error: Default() applies.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/cryptoadvance/specter-launcher/internal/failure"
)

// FileName is the config file name inside the specter home directory.
const FileName = "launcher.toml"

// Readiness modes.
const (
	ReadinessStdout = "stdout"
	ReadinessHTTP   = "http"
)

// Config is the launcher configuration.
type Config struct {
	Logging   Logging   `toml:"logging"`
	Timeouts  Timeouts  `toml:"timeouts"`
	Readiness Readiness `toml:"readiness"`
	Metrics   Metrics   `toml:"metrics"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Timeouts bounds the steps that would otherwise wait forever.
type Timeouts struct {
	FetchSeconds int `toml:"fetch_seconds"`
	ReadySeconds int `toml:"ready_seconds"`
	StopSeconds  int `toml:"stop_seconds"`
}

// Readiness selects how daemon liveness is detected.
type Readiness struct {
	// Mode is "stdout" (first output chunk) or "http" (poll HealthURL).
	Mode string `toml:"mode"`
	// HealthURL defaults to the settings' specterURL when empty.
	HealthURL      string `toml:"health_url"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
}

// Metrics contains the optional Prometheus listener.
type Metrics struct {
	ListenAddr string `toml:"listen_addr"`
}

// Fetch returns the per-download timeout.
func (t Timeouts) Fetch() time.Duration {
	return time.Duration(t.FetchSeconds) * time.Second
}

// Ready returns the daemon readiness timeout.
func (t Timeouts) Ready() time.Duration {
	return time.Duration(t.ReadySeconds) * time.Second
}

// Stop returns the graceful stop window before the daemon is killed.
func (t Timeouts) Stop() time.Duration {
	return time.Duration(t.StopSeconds) * time.Second
}

// PollInterval returns the HTTP readiness poll interval.
func (r Readiness) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, failure.New(failure.KindConfig, "read config", err)
	}

	if err := Decode(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode parses TOML into cfg, rejecting unknown keys, and validates it.
func Decode(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return failure.Newf(failure.KindConfig, "parse config", "%s", strict.String())
		}
		return failure.New(failure.KindConfig, "parse config", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return failure.New(failure.KindConfig, "validate config", err)
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
