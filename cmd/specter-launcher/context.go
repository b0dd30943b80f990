package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cryptoadvance/specter-launcher/internal/app"
	"github.com/cryptoadvance/specter-launcher/internal/binary"
	"github.com/cryptoadvance/specter-launcher/internal/config"
	"github.com/cryptoadvance/specter-launcher/internal/events"
	"github.com/cryptoadvance/specter-launcher/internal/failure"
	"github.com/cryptoadvance/specter-launcher/internal/logging"
	"github.com/cryptoadvance/specter-launcher/internal/manifest"
	"github.com/cryptoadvance/specter-launcher/internal/metrics"
	"github.com/cryptoadvance/specter-launcher/internal/platform"
	"github.com/cryptoadvance/specter-launcher/internal/settings"
)

// commandContext lazily loads the state shared by every subcommand.
type commandContext struct {
	homeFlag      string
	configFlag    string
	manifestFlag  string
	platformFlag  string
	logLevelFlag  string
	logFormatFlag string

	// httpClient overrides the release download client.
	httpClient *http.Client
	// stderr receives log output; defaults to os.Stderr.
	stderr io.Writer

	loadOnce sync.Once
	loadErr  error
	home     string
	config   *config.Config
	manifest *manifest.Manifest
	target   platform.ID
	logger   logging.Logger
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) load(ctx context.Context) error {
	c.loadOnce.Do(func() {
		c.loadErr = c.doLoad(ctx)
	})
	return c.loadErr
}

func (c *commandContext) doLoad(ctx context.Context) error {
	home := strings.TrimSpace(c.homeFlag)
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		home = h
	}
	c.home = home

	configPath := strings.TrimSpace(c.configFlag)
	if configPath == "" {
		configPath = filepath.Join(c.dataDir(), config.FileName)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if c.logLevelFlag != "" {
		cfg.Logging.Level = c.logLevelFlag
	}
	if c.logFormatFlag != "" {
		cfg.Logging.Format = c.logFormatFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.config = cfg

	stderr := c.stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	})
	if err != nil {
		return err
	}
	c.logger = logger

	if path := strings.TrimSpace(c.manifestFlag); path != "" {
		c.manifest, err = manifest.Load(path)
	} else {
		c.manifest, err = manifest.Default()
	}
	if err != nil {
		return err
	}
	if c.manifest.Placeholder() {
		logger.Warn("embedded manifest is a development placeholder; provisioning will fail verification",
			"version", c.manifest.Version())
	}

	detector := platform.NewDetector()
	if id := platform.ID(strings.TrimSpace(c.platformFlag)); id != "" {
		if _, ok := platform.Lookup(id); !ok {
			return failure.Newf(failure.KindConfig, "platform", "unknown platform %q (known: %v)", id, platform.IDs())
		}
		detector = platform.StaticDetector{Info: &platform.Info{ID: id}}
	}
	info, err := detector.Detect(ctx)
	if err != nil {
		return failure.New(failure.KindConfig, "platform", err)
	}
	c.target = info.ID
	logger.Debug("platform detected", platformAttrs(info)...)

	return nil
}

// platformAttrs returns log attributes for a detected platform. Distro
// fields appear only for Linux hosts whose distribution was recognised.
func platformAttrs(info *platform.Info) []any {
	attrs := []any{"id", info.ID, "os", info.OS, "arch", info.Arch}
	if d := info.GetDistro(); d != nil {
		attrs = append(attrs,
			"distro", d.ID,
			"family", d.Family,
			"distro_version", d.Version)
	}
	return attrs
}

func (c *commandContext) dataDir() string {
	return app.DataDir(c.home)
}

func (c *commandContext) userAgent() string {
	return "specter-launcher/" + version
}

// newManager builds a provisioning manager for commands that do not run
// the daemon.
func (c *commandContext) newManager(sink events.Sink) (*binary.Manager, error) {
	return binary.NewManager(binary.Config{
		DataDir:      c.dataDir(),
		Manifest:     c.manifest,
		Platform:     c.target,
		HTTPClient:   c.httpClient,
		FetchTimeout: c.config.Timeouts.Fetch(),
		UserAgent:    c.userAgent(),
		Sink:         sink,
		Logger:       c.logger,
	})
}

func (c *commandContext) newApp(sink events.Sink) (*app.App, error) {
	s, err := settings.Load(filepath.Join(c.dataDir(), settings.FileName))
	if err != nil {
		return nil, err
	}
	c.logger.Info("settings loaded",
		"mode", s.Mode,
		"specter_url", s.SpecterURL,
		"proxy", s.Proxy())

	var rec metrics.Recorder = metrics.Noop{}
	if c.config.Metrics.ListenAddr != "" {
		rec = metrics.NewProm()
	}

	return app.New(app.Options{
		Home:       c.home,
		Manifest:   c.manifest,
		Platform:   c.target,
		Config:     *c.config,
		Settings:   s,
		Sink:       sink,
		Logger:     c.logger,
		Metrics:    rec,
		HTTPClient: c.httpClient,
		UserAgent:  c.userAgent(),
	})
}

// consoleSink prints progress for a terminal user. Failures are printed
// too when errOut is set; commands that return their error leave it nil.
func consoleSink(out, errOut io.Writer) events.Funcs {
	sink := events.Funcs{
		OnProgress: func(text string) {
			fmt.Fprintln(out, text)
		},
	}
	if errOut != nil {
		sink.OnError = func(kind failure.Kind, detail string) {
			fmt.Fprintf(errOut, "Error (%s): %s\n", kind, detail)
		}
	}
	return sink
}
