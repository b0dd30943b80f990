// Package app is the launcher's application context. It owns the one
// provisioning manager and the one daemon supervisor of this process and
// ties their lifecycle to Start and Stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/cryptoadvance/specter-launcher/internal/binary"
	"github.com/cryptoadvance/specter-launcher/internal/config"
	"github.com/cryptoadvance/specter-launcher/internal/events"
	"github.com/cryptoadvance/specter-launcher/internal/failure"
	"github.com/cryptoadvance/specter-launcher/internal/logging"
	"github.com/cryptoadvance/specter-launcher/internal/manifest"
	"github.com/cryptoadvance/specter-launcher/internal/metrics"
	"github.com/cryptoadvance/specter-launcher/internal/platform"
	"github.com/cryptoadvance/specter-launcher/internal/settings"
	"github.com/cryptoadvance/specter-launcher/internal/supervisor"
)

const (
	// DataDirName is the launcher's directory inside the user's home.
	DataDirName = ".specter"
	// LockFileName guards against a second launcher on the same home.
	LockFileName = "launcher.lock"
	// MsgLaunching is shown once the daemon is trusted and about to start.
	MsgLaunching = "Launching Specter Desktop..."
)

// ErrAlreadyStarted is returned by Start on an app that was started before.
var ErrAlreadyStarted = errors.New("launcher already started")

// DataDir returns the launcher data directory for a home directory.
func DataDir(home string) string {
	return filepath.Join(home, DataDirName)
}

// Options configures an App.
type Options struct {
	// Home is the user's home directory; state lives in Home/.specter.
	Home     string
	Manifest *manifest.Manifest
	Platform platform.ID
	Config   config.Config
	Settings settings.Settings

	Sink    events.Sink
	Logger  logging.Logger
	Metrics metrics.Recorder

	// HTTPClient and UserAgent are used for release downloads. Fetcher
	// replaces the HTTP downloader entirely when set.
	HTTPClient *http.Client
	UserAgent  string
	Fetcher    binary.Fetcher
}

// App owns one binary.Manager and one supervisor.Supervisor.
type App struct {
	opts       Options
	dataDir    string
	manager    *binary.Manager
	supervisor *supervisor.Supervisor
	lock       *flock.Flock
	sink       events.Sink
	logger     logging.Logger
	metrics    metrics.Recorder

	mu            sync.Mutex
	started       bool
	cancel        context.CancelFunc
	done          chan struct{}
	err           error
	metricsServer *http.Server
	metricsAddr   string
}

// New wires the manager and supervisor from opts. Nothing is started.
func New(opts Options) (*App, error) {
	if opts.Home == "" {
		return nil, fmt.Errorf("Home is required")
	}
	if opts.Manifest == nil {
		return nil, fmt.Errorf("Manifest is required")
	}

	a := &App{
		opts:    opts,
		dataDir: DataDir(opts.Home),
		sink:    opts.Sink,
		logger:  logging.OrNop(opts.Logger),
		metrics: metrics.OrNoop(opts.Metrics),
		done:    make(chan struct{}),
	}
	if a.sink == nil {
		a.sink = events.Nop{}
	}
	a.lock = flock.New(filepath.Join(a.dataDir, LockFileName))

	mgr, err := binary.NewManager(binary.Config{
		DataDir:      a.dataDir,
		Manifest:     opts.Manifest,
		Platform:     opts.Platform,
		Fetcher:      opts.Fetcher,
		HTTPClient:   opts.HTTPClient,
		FetchTimeout: opts.Config.Timeouts.Fetch(),
		UserAgent:    opts.UserAgent,
		Sink:         a.sink,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create binary manager: %w", err)
	}
	a.manager = mgr

	a.supervisor = supervisor.New(supervisor.Options{
		Address:      opts.Settings.SpecterURL,
		Readiness:    opts.Config.Readiness.Mode,
		HealthURL:    opts.Config.Readiness.HealthURL,
		PollInterval: opts.Config.Readiness.PollInterval(),
		ReadyTimeout: opts.Config.Timeouts.Ready(),
		StopTimeout:  opts.Config.Timeouts.Stop(),
		Sink:         a.sink,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})

	return a, nil
}

// Manager returns the provisioning manager.
func (a *App) Manager() *binary.Manager {
	return a.manager
}

// Supervisor returns the daemon supervisor.
func (a *App) Supervisor() *supervisor.Supervisor {
	return a.supervisor
}

// Start takes the instance lock and launches provisioning followed by the
// daemon in the background. It returns immediately; Done and Err report
// the outcome of that sequence, and readiness arrives through the sink.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return ErrAlreadyStarted
	}

	if err := os.MkdirAll(a.dataDir, 0o755); err != nil {
		return failure.New(failure.KindIO, "start launcher", err)
	}
	locked, err := a.lock.TryLock()
	if err != nil {
		return failure.New(failure.KindIO, "start launcher", fmt.Errorf("acquire lock: %w", err))
	}
	if !locked {
		return failure.Newf(failure.KindBusy, "start launcher", "another launcher is using %s", a.dataDir)
	}

	if err := a.startMetrics(); err != nil {
		_ = a.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.started = true

	a.logger.Info("launcher started",
		"data_dir", a.dataDir,
		"platform", a.opts.Platform,
		"mode", a.opts.Settings.Mode,
		"lock", a.lock.Path())

	go a.run(runCtx)
	return nil
}

func (a *App) run(ctx context.Context) {
	defer close(a.done)

	path, err := a.manager.Provision(ctx)
	if err != nil {
		a.setErr(err)
		return
	}
	if err := ctx.Err(); err != nil {
		a.setErr(err)
		return
	}

	a.sink.Progress(MsgLaunching)
	if _, err := a.supervisor.Start(ctx, path, a.opts.Settings.Mode); err != nil {
		a.logger.Error("failed to start daemon", "path", path, "error", err)
		events.ReportError(a.sink, err)
		a.setErr(err)
	}
}

func (a *App) setErr(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

// Done is closed once provisioning and spawning finished, successfully or
// not. It does not wait for the daemon to exit.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Err returns the provisioning or spawn failure, if any.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Stop cancels provisioning, stops the daemon and releases the instance
// lock. An in-flight download is abandoned rather than awaited.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	select {
	case <-a.done:
	case <-ctx.Done():
		a.logger.Warn("provisioning did not finish before shutdown")
	}

	var errs []error
	if err := a.supervisor.Stop(ctx); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("stop daemon: %w", err))
	}
	if err := a.stopMetrics(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}

	a.logger.Info("launcher stopped")
	return errors.Join(errs...)
}

// startMetrics serves /metrics when a listen address is configured and the
// recorder is backed by Prometheus.
func (a *App) startMetrics() error {
	addr := a.opts.Config.Metrics.ListenAddr
	prom, ok := a.metrics.(*metrics.Prom)
	if addr == "" || !ok {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return failure.New(failure.KindConfig, "metrics listener", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.metricsAddr = ln.Addr().String()

	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", a.metricsAddr)
	return nil
}

func (a *App) stopMetrics(ctx context.Context) error {
	a.mu.Lock()
	srv := a.metricsServer
	a.metricsServer = nil
	a.metricsAddr = ""
	a.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop metrics server: %w", err)
	}
	return nil
}

// MetricsAddr returns the metrics listener address, or "".
func (a *App) MetricsAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metricsAddr
}
