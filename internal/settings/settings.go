// Package settings reads the user's application settings (app_settings.json).
//
// The file is owned by the preferences UI; the launcher only reads it. Its
// shape is checked against an embedded JSON schema before any field is
// trusted, and fields missing from the file take the documented defaults.
package settings

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cryptoadvance/specter-launcher/internal/failure"
)

// FileName is the settings file name inside the specter home directory.
const FileName = "app_settings.json"

//go:embed schema.json
var schemaJSON []byte

// Mode selects how the daemon is launched.
type Mode string

const (
	// ModeNormal runs the full daemon.
	ModeNormal Mode = "specterd"
	// ModeBridge runs the daemon as a hardware-wallet bridge (--hwibridge).
	ModeBridge Mode = "hwibridge"
)

// Settings is the parsed application settings record.
type Settings struct {
	Mode       Mode   `json:"mode"`
	SpecterURL string `json:"specterURL"`
	Tor        bool   `json:"tor"`
	ProxyURL   string `json:"proxyURL"`
}

// Defaults returns the settings written for a first run.
func Defaults() Settings {
	return Settings{
		Mode:       ModeNormal,
		SpecterURL: "http://localhost:25441",
		Tor:        false,
		ProxyURL:   "socks5://127.0.0.1:9050",
	}
}

// IsBridge reports whether the daemon should run in bridge mode.
func (s Settings) IsBridge() bool {
	return s.Mode == ModeBridge
}

// Proxy returns the proxy the UI should route daemon traffic through, or ""
// when Tor is disabled.
func (s Settings) Proxy() string {
	if !s.Tor {
		return ""
	}
	return s.ProxyURL
}

// Load reads path, creating it with defaults when absent.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := writeDefaults(path); err != nil {
			return Settings{}, err
		}
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, failure.New(failure.KindConfig, "read settings", err)
	}
	return Parse(data)
}

// Parse validates and decodes settings content.
func Parse(data []byte) (Settings, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Settings{}, failure.New(failure.KindConfig, "parse settings", err)
	}
	if err := validate(doc); err != nil {
		return Settings{}, failure.New(failure.KindConfig, "validate settings", err)
	}

	s := Defaults()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, failure.New(failure.KindConfig, "decode settings", err)
	}
	return s, nil
}

func validate(doc any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inmemory://settings", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("inmemory://settings")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return schema.Validate(doc)
}

// writeDefaults creates the settings file exclusively; losing a race with
// another writer is fine.
func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failure.New(failure.KindIO, "create settings dir", err)
	}
	data, err := json.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("marshal default settings: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return failure.New(failure.KindIO, "write default settings", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return failure.New(failure.KindIO, "write default settings", err)
	}
	return nil
}
