package binary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/cryptoadvance/specter-launcher/internal/events"
	"github.com/cryptoadvance/specter-launcher/internal/failure"
	"github.com/cryptoadvance/specter-launcher/internal/journal"
	"github.com/cryptoadvance/specter-launcher/internal/logging"
	"github.com/cryptoadvance/specter-launcher/internal/manifest"
	"github.com/cryptoadvance/specter-launcher/internal/metrics"
	"github.com/cryptoadvance/specter-launcher/internal/platform"
)

// Progress messages shown while provisioning.
const (
	MsgFetching   = "Fetching the Specter binary..."
	MsgUnpacking  = "Unpacking files..."
	MsgCleaningUp = "Cleaning up..."
	MsgMismatch   = "Specterd version could not be validated. Retrying fetching specterd..."
)

// Manager drives one provisioning run at a time: it decides whether the
// cached daemon is trustworthy, fetches and installs it when it is not, and
// re-verifies the result before handing out the install path.
type Manager struct {
	binDir      string
	installPath string
	platform    platform.ID
	manifest    *manifest.Manifest
	fetcher     Fetcher
	installer   Installer
	signatures  *SignatureVerifier
	sink        events.Sink
	logger      logging.Logger
	metrics     metrics.Recorder

	running atomic.Bool

	mu      sync.Mutex
	state   State
	history []State
	reason  error
	run     *journal.Run
}

// Config holds configuration for the binary manager
type Config struct {
	// DataDir is the specter data directory (usually ~/.specter). The
	// daemon lives in DataDir/specterd-binaries.
	DataDir string
	// Manifest pins the daemon version and digest.
	Manifest *manifest.Manifest
	// Platform is the host's daemon target.
	Platform platform.ID

	// Fetcher defaults to an HTTP Downloader built from HTTPClient,
	// FetchTimeout and UserAgent.
	Fetcher      Fetcher
	HTTPClient   *http.Client
	FetchTimeout time.Duration
	UserAgent    string

	// Installer defaults to a FileInstaller on the binaries directory.
	Installer Installer

	Sink    events.Sink
	Logger  logging.Logger
	Metrics metrics.Recorder
}

// NewManager creates a new binary manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required")
	}
	if cfg.Manifest == nil {
		return nil, fmt.Errorf("Manifest is required")
	}

	binDir := BinDir(cfg.DataDir)
	installPath, err := InstallPath(binDir, cfg.Platform)
	if err != nil {
		return nil, err
	}
	if _, err := cfg.Manifest.AssetURL(cfg.Platform); err != nil {
		return nil, err
	}

	m := &Manager{
		binDir:      binDir,
		installPath: installPath,
		platform:    cfg.Platform,
		manifest:    cfg.Manifest,
		fetcher:     cfg.Fetcher,
		installer:   cfg.Installer,
		sink:        cfg.Sink,
		logger:      logging.OrNop(cfg.Logger),
		metrics:     metrics.OrNoop(cfg.Metrics),
		state:       StateUnchecked,
	}
	if m.sink == nil {
		m.sink = events.Nop{}
	}

	if m.fetcher == nil {
		timeout := cfg.FetchTimeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		m.fetcher = NewDownloader(
			WithHTTPClient(cfg.HTTPClient),
			WithTimeout(timeout),
			WithUserAgent(cfg.UserAgent),
			WithSink(m.sink),
			WithLogger(m.logger),
		)
	}
	if m.installer == nil {
		m.installer = NewInstaller(binDir, m.logger)
	}

	if cfg.Manifest.HasSignature() {
		m.signatures, err = NewSignatureVerifier(cfg.Manifest.SigningKey())
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// InstallPath returns the canonical daemon location.
func (m *Manager) InstallPath() string {
	return m.installPath
}

// BinDir returns the binaries directory.
func (m *Manager) BinDir() string {
	return m.binDir
}

// Manifest returns the pinned manifest.
func (m *Manager) Manifest() *manifest.Manifest {
	return m.manifest
}

// State returns the current state of the latest run.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns the states visited by the latest run, in order.
func (m *Manager) History() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.history...)
}

// Reason returns the failure of the latest run, or nil.
func (m *Manager) Reason() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// IsInstalled reports whether a file occupies the install path.
func (m *Manager) IsInstalled() (bool, error) {
	info, err := os.Stat(m.installPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, failure.New(failure.KindIO, "stat install path", err)
	}
	return info.Mode().IsRegular(), nil
}

// VerifyInstalled checks the installed executable against the manifest
// without changing any state.
func (m *Manager) VerifyInstalled() (Verdict, error) {
	return Verify(m.installPath, m.manifest)
}

// LastRun loads the journal of the most recent run.
func (m *Manager) LastRun() (*journal.Run, error) {
	return journal.Load(journal.Path(m.binDir))
}

// Provision runs the state machine from Unchecked until Trusted or Failed
// and returns the install path of a trusted daemon. Calling it again after
// a failure starts a fresh run.
//
// Only one run per Manager and per binaries directory may be active; a
// concurrent call fails with KindBusy.
func (m *Manager) Provision(ctx context.Context) (string, error) {
	if !m.running.CompareAndSwap(false, true) {
		return "", failure.New(failure.KindBusy, "provision", ErrRunInProgress)
	}
	defer m.running.Store(false)

	if err := os.MkdirAll(m.binDir, 0755); err != nil {
		err = failure.New(failure.KindIO, "provision", err)
		events.ReportError(m.sink, err)
		return "", err
	}

	lock := flock.New(filepath.Join(m.binDir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		err = failure.New(failure.KindIO, "provision", fmt.Errorf("lock binaries dir: %w", err))
		events.ReportError(m.sink, err)
		return "", err
	}
	if !locked {
		return "", failure.New(failure.KindBusy, "provision", fmt.Errorf("%w in another process", ErrRunInProgress))
	}
	defer lock.Unlock()

	m.begin()
	path, err := m.drive(ctx)
	m.finish(err)
	return path, err
}

func (m *Manager) begin() {
	run := journal.New(uuid.NewString(), m.manifest.Version(), string(m.platform))
	run.Record(string(StateUnchecked), nil)

	m.mu.Lock()
	m.state = StateUnchecked
	m.history = []State{StateUnchecked}
	m.reason = nil
	m.run = run
	m.mu.Unlock()

	m.metrics.IncTransition(string(StateUnchecked))
	m.logger.Info("provisioning started",
		"run_id", run.ID,
		"version", m.manifest.Version(),
		"platform", m.platform,
		"install_path", m.installPath)
}

func (m *Manager) finish(err error) {
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()

	result := journal.ResultTrusted
	if err != nil {
		result = journal.ResultFailed
	}
	run.Finish(result)
	if saveErr := run.Save(m.binDir); saveErr != nil {
		m.logger.Warn("failed to save run journal", "run_id", run.ID, "error", saveErr)
	}
}

// drive executes one step per state until the run is terminal.
func (m *Manager) drive(ctx context.Context) (string, error) {
	for {
		var err error
		switch state := m.State(); state {
		case StateUnchecked:
			err = m.check()
		case StateVerifying:
			err = m.verifyCached()
		case StateFetching:
			err = m.fetch(ctx)
		case StateExtracting:
			err = m.install(ctx)
		case StateInstalling:
			err = m.verifyInstalled()
		case StateTrusted:
			return m.installPath, nil
		case StateFailed:
			return "", m.Reason()
		default:
			err = failure.Newf(failure.KindUnknown, "provision", "unknown state %q", state)
		}

		if err != nil {
			m.fail(err)
		}
	}
}

// transition moves to next. An illegal transition is a bug in the state
// machine; it fails the run rather than being taken.
func (m *Manager) transition(next State) error {
	m.mu.Lock()
	prev := m.state
	if !prev.CanTransition(next) {
		m.mu.Unlock()
		return failure.Newf(failure.KindUnknown, "provision", "illegal transition %s -> %s", prev, next)
	}
	m.state = next
	m.history = append(m.history, next)
	m.run.Record(string(next), nil)
	runID := m.run.ID
	m.mu.Unlock()

	m.metrics.IncTransition(string(next))
	m.logger.Debug("provisioning transition", "run_id", runID, "from", prev, "to", next)
	return nil
}

// fail moves the run to Failed with err as the reason and surfaces it.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	prev := m.state
	m.state = StateFailed
	m.history = append(m.history, StateFailed)
	m.reason = err
	m.run.Record(string(StateFailed), err)
	runID := m.run.ID
	m.mu.Unlock()

	m.metrics.IncTransition(string(StateFailed))
	m.logger.Error("provisioning failed",
		"run_id", runID,
		"from", prev,
		"kind", failure.KindOf(err),
		"error", err)
	events.ReportError(m.sink, err)
}

func (m *Manager) check() error {
	installed, err := m.IsInstalled()
	if err != nil {
		return err
	}
	if installed {
		return m.transition(StateVerifying)
	}
	return m.transition(StateFetching)
}

func (m *Manager) verifyCached() error {
	verdict, err := Verify(m.installPath, m.manifest)
	if err != nil {
		return err
	}
	m.metrics.IncVerification(verdict.String())

	if verdict == VerdictTrusted {
		m.logger.Info("cached daemon verified", "path", m.installPath)
		return m.transition(StateTrusted)
	}

	m.logger.Warn("cached daemon does not match manifest digest", "path", m.installPath)
	m.sink.Progress(MsgMismatch)
	return m.transition(StateFetching)
}

func (m *Manager) archivePath() string {
	return filepath.Join(m.binDir, ArchiveBaseName+m.manifest.ArchiveExt(m.platform))
}

func (m *Manager) fetch(ctx context.Context) error {
	assetURL, err := m.manifest.AssetURL(m.platform)
	if err != nil {
		return failure.New(failure.KindConfig, "fetch", err)
	}

	m.sink.Progress(MsgFetching)
	m.logger.Info("fetching daemon archive", "url", assetURL)

	start := time.Now()
	err = m.fetcher.Fetch(ctx, assetURL, m.archivePath())
	m.metrics.ObserveFetchDuration(time.Since(start).Seconds())
	if err != nil {
		m.metrics.IncFetch(fetchResult(err))
		m.removeArchive()
		if failure.KindOf(err) == failure.KindUnknown {
			err = failure.New(failure.KindNetwork, "fetch", err)
		}
		return err
	}
	m.metrics.IncFetch("ok")

	if m.signatures != nil {
		if err := m.checkSignature(ctx); err != nil {
			m.removeArchive()
			return err
		}
	}

	return m.transition(StateExtracting)
}

func fetchResult(err error) string {
	switch failure.KindOf(err) {
	case failure.KindHTTP:
		return "http_error"
	case failure.KindTimeout:
		return "timeout"
	default:
		return "network_error"
	}
}

func (m *Manager) checkSignature(ctx context.Context) error {
	sigURL, err := m.manifest.SignatureURL(m.platform)
	if err != nil {
		return failure.New(failure.KindConfig, "fetch signature", err)
	}
	sigPath := m.archivePath() + ".sig"
	defer os.Remove(sigPath)

	if err := m.fetcher.Fetch(ctx, sigURL, sigPath); err != nil {
		if failure.KindOf(err) == failure.KindUnknown {
			err = failure.New(failure.KindNetwork, "fetch signature", err)
		}
		return err
	}
	if err := m.signatures.VerifyFile(m.archivePath(), sigPath); err != nil {
		return err
	}
	m.logger.Info("archive signature verified", "url", sigURL)
	return nil
}

func (m *Manager) removeArchive() {
	if err := os.Remove(m.archivePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("failed to remove archive", "path", m.archivePath(), "error", err)
	}
}

func (m *Manager) install(ctx context.Context) error {
	m.sink.Progress(MsgUnpacking)

	path, err := m.installer.Install(ctx, m.archivePath(), m.platform)
	if err != nil {
		if failure.KindOf(err) == failure.KindUnknown {
			err = failure.New(failure.KindExtract, "install", err)
		}
		return err
	}
	if path != m.installPath {
		return failure.Newf(failure.KindLayout, "install", "installer placed daemon at %s, want %s", path, m.installPath)
	}

	m.sink.Progress(MsgCleaningUp)
	return m.transition(StateInstalling)
}

// verifyInstalled re-checks the freshly installed file. A mismatch here
// means the release does not match the manifest (or the install corrupted
// it); the untrusted file is removed and the run fails.
func (m *Manager) verifyInstalled() error {
	verdict, err := Verify(m.installPath, m.manifest)
	if err != nil {
		return err
	}
	m.metrics.IncVerification(verdict.String())

	if verdict != VerdictTrusted {
		actual, _ := DigestOf(m.installPath)
		if rmErr := os.Remove(m.installPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			m.logger.Warn("failed to remove untrusted daemon", "path", m.installPath, "error", rmErr)
		}
		return failure.Newf(failure.KindDigestMismatch, "verify installed daemon",
			"digest %s does not match manifest %s", actual, m.manifest.SHA256())
	}

	m.logger.Info("installed daemon verified", "path", m.installPath, "version", m.manifest.Version())
	return m.transition(StateTrusted)
}
