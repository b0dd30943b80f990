// Package supervisor runs the daemon as a child process: it spawns it,
// detects readiness, drains its output, observes its exit and tears it down
// (together with anything it spawned) on request.
//
// At most one daemon is supervised at a time. A crashed daemon is reported,
// never restarted.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/cryptoadvance/specter-launcher/internal/config"
	"github.com/cryptoadvance/specter-launcher/internal/events"
	"github.com/cryptoadvance/specter-launcher/internal/failure"
	"github.com/cryptoadvance/specter-launcher/internal/logging"
	"github.com/cryptoadvance/specter-launcher/internal/metrics"
	"github.com/cryptoadvance/specter-launcher/internal/settings"
)

// BridgeFlag is the only argument the launcher ever passes to the daemon.
const BridgeFlag = "--hwibridge"

const (
	// DefaultStopTimeout is the grace period between interrupt and kill.
	DefaultStopTimeout = 10 * time.Second
	// DefaultPollInterval is the HTTP readiness poll interval.
	DefaultPollInterval = 500 * time.Millisecond
)

// reapTimeout bounds the wait for the PID to disappear after a kill.
var reapTimeout = 5 * time.Second

var (
	// ErrAlreadyRunning is returned by Start while a daemon is live.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("daemon not running")
)

var execCommand = exec.Command

// Options configures a Supervisor.
type Options struct {
	// Address is reported with the ready event (the daemon's URL).
	Address string
	// Readiness is config.ReadinessStdout (default) or config.ReadinessHTTP.
	Readiness string
	// HealthURL is polled in HTTP readiness mode; defaults to Address.
	HealthURL    string
	PollInterval time.Duration
	// ReadyTimeout stops the daemon if it is not ready in time. Zero waits
	// forever.
	ReadyTimeout time.Duration
	// StopTimeout is the grace period before the daemon is killed.
	StopTimeout time.Duration
	HTTPClient  *http.Client

	Sink    events.Sink
	Logger  logging.Logger
	Metrics metrics.Recorder
}

// Supervisor owns at most one daemon Handle.
type Supervisor struct {
	opts    Options
	sink    events.Sink
	logger  logging.Logger
	metrics metrics.Recorder
	client  *http.Client

	mu     sync.Mutex
	handle *Handle
}

// Handle is a spawned daemon.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	started   time.Time
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	exitErr   error
	stopping  atomic.Bool
	stopCause atomic.Pointer[failure.Error]
}

// PID returns the daemon's process ID.
func (h *Handle) PID() int {
	return h.pid
}

// Ready is closed once the daemon signalled readiness.
func (h *Handle) Ready() <-chan struct{} {
	return h.ready
}

// Done is closed once the daemon exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the exit error; only meaningful after Done is closed.
func (h *Handle) ExitErr() error {
	<-h.done
	return h.exitErr
}

// Stopped reports whether the launcher asked the daemon to stop.
func (h *Handle) Stopped() bool {
	return h.stopping.Load()
}

// StopCause returns why the supervisor stopped the daemon on its own, such
// as a readiness timeout. It is nil when nobody stopped it or the stop came
// from a Stop call.
func (h *Handle) StopCause() error {
	if cause := h.stopCause.Load(); cause != nil {
		return cause
	}
	return nil
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	if opts.Readiness == "" {
		opts.Readiness = config.ReadinessStdout
	}
	if opts.HealthURL == "" {
		opts.HealthURL = opts.Address
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	s := &Supervisor{
		opts:    opts,
		sink:    opts.Sink,
		logger:  logging.OrNop(opts.Logger),
		metrics: metrics.OrNoop(opts.Metrics),
		client:  opts.HTTPClient,
	}
	if s.sink == nil {
		s.sink = events.Nop{}
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 2 * time.Second}
	}
	return s
}

// Args returns the daemon arguments for a settings mode.
func Args(mode settings.Mode) []string {
	if mode == settings.ModeBridge {
		return []string{BridgeFlag}
	}
	return nil
}

// Current returns the live handle, or nil.
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Start spawns the executable at path. It returns as soon as the process
// is running; readiness is reported through the sink and Handle.Ready.
// ctx bounds the readiness wait, not the daemon's lifetime.
func (s *Supervisor) Start(ctx context.Context, path string, mode settings.Mode) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return nil, ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return nil, failure.New(failure.KindSpawn, "start daemon", err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, failure.New(failure.KindSpawn, "start daemon", err)
	}

	args := Args(mode)
	cmd := execCommand(path, args...) //nolint:gosec
	configureProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, failure.New(failure.KindSpawn, "start daemon", fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, failure.New(failure.KindSpawn, "start daemon", fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, failure.New(failure.KindSpawn, "start daemon", err)
	}

	h := &Handle{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: time.Now(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.handle = h
	s.metrics.IncDaemonStart()
	s.logger.Info("daemon started", "pid", h.pid, "path", path, "args", args, "readiness", s.opts.Readiness)

	go s.watchStdout(h, stdout)
	go s.drainStderr(h, stderr)
	go s.wait(h)

	if s.opts.Readiness == config.ReadinessHTTP {
		go s.probe(ctx, h)
	}
	if s.opts.ReadyTimeout > 0 {
		go s.watchReadyTimeout(ctx, h)
	}

	return h, nil
}

// markReady fires the ready event at most once per handle.
func (s *Supervisor) markReady(h *Handle) {
	h.readyOnce.Do(func() {
		close(h.ready)
		s.logger.Info("daemon ready", "pid", h.pid, "after", time.Since(h.started).Round(time.Millisecond))
		s.sink.Ready(s.opts.Address)
	})
}

// watchStdout treats the first non-empty chunk as readiness in stdout mode,
// then keeps draining.
func (s *Supervisor) watchStdout(h *Handle, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if s.opts.Readiness == config.ReadinessStdout {
				s.markReady(h)
			}
			s.logger.Debug("daemon stdout", "pid", h.pid, "output", strings.TrimRight(string(buf[:n]), "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// drainStderr consumes stderr so the daemon never blocks on a full pipe.
// Its content is never treated as fatal.
func (s *Supervisor) drainStderr(h *Handle, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Debug("daemon stderr", "pid", h.pid, "line", scanner.Text())
	}
	// Overlong lines stop the scanner; keep the pipe flowing anyway.
	_, _ = io.Copy(io.Discard, r)
}

// wait does not wait for the pipe readers: a grandchild holding stdout open
// must not hide the daemon's own exit. Trailing output may be cut off.
func (s *Supervisor) wait(h *Handle) {
	h.exitErr = h.cmd.Wait()
	defer close(h.done)

	expected := h.stopping.Load()
	s.metrics.IncDaemonExit(expected)

	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
	}
	s.mu.Unlock()

	if expected {
		s.logger.Info("daemon exited", "pid", h.pid, "exit", exitDescription(h.exitErr))
		return
	}

	err := failure.Newf(failure.KindProcessCrash, "daemon", "exited unexpectedly (%s)", exitDescription(h.exitErr))
	s.logger.Error("daemon exited unexpectedly", "pid", h.pid, "exit", exitDescription(h.exitErr))
	events.ReportError(s.sink, err)
}

func exitDescription(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// probe polls the health URL until any non-5xx response.
func (s *Supervisor) probe(ctx context.Context, h *Handle) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if s.healthy(ctx) {
			s.markReady(h)
			return
		}
		select {
		case <-ticker.C:
		case <-h.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.HealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}

func (s *Supervisor) watchReadyTimeout(ctx context.Context, h *Handle) {
	timer := time.NewTimer(s.opts.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-h.ready:
		return
	case <-h.done:
		return
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	err := failure.Newf(failure.KindTimeout, "daemon", "not ready after %s", s.opts.ReadyTimeout)
	s.logger.Error("daemon readiness wait failed", "pid", h.pid, "error", err)
	events.ReportError(s.sink, err)
	h.stopCause.Store(err)

	stopCtx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout+reapTimeout)
	defer cancel()
	if stopErr := s.stopHandle(stopCtx, h); stopErr != nil && !errors.Is(stopErr, ErrNotRunning) {
		s.logger.Warn("failed to stop unready daemon", "pid", h.pid, "error", stopErr)
	}
}

// Stop interrupts the daemon's process group, kills it (and every
// descendant) if it has not exited within the stop timeout, and returns
// once the PID is gone.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return ErrNotRunning
	}
	return s.stopHandle(ctx, h)
}

func (s *Supervisor) stopHandle(ctx context.Context, h *Handle) error {
	if !h.stopping.CompareAndSwap(false, true) {
		// Someone else is stopping it and owns the grace period.
		return s.awaitGone(ctx, h, s.opts.StopTimeout+reapTimeout)
	}

	select {
	case <-h.done:
		return nil
	default:
	}

	// Collect descendants while the tree is intact; once the daemon exits
	// they are reparented and can no longer be found from its PID.
	descendants := descendantsOf(h.pid)

	s.logger.Info("stopping daemon", "pid", h.pid, "descendants", len(descendants))
	if err := interrupt(h.pid); err != nil {
		s.logger.Debug("interrupt failed", "pid", h.pid, "error", err)
	}

	grace := time.NewTimer(s.opts.StopTimeout)
	defer grace.Stop()
	select {
	case <-h.done:
	case <-grace.C:
		s.logger.Warn("daemon did not stop gracefully, force killing", "pid", h.pid)
		s.kill(h)
	case <-ctx.Done():
		s.logger.Warn("stop cancelled, force killing", "pid", h.pid)
		s.kill(h)
	}

	for _, p := range descendants {
		if running, _ := p.IsRunning(); running {
			_ = p.Kill()
		}
	}
	sweepGroup(h.pid)

	return s.awaitGone(ctx, h, reapTimeout)
}

func (s *Supervisor) kill(h *Handle) {
	if err := forceKill(h.pid); err != nil {
		s.logger.Debug("group kill failed", "pid", h.pid, "error", err)
	}
	_ = h.cmd.Process.Kill()
}

// awaitGone waits up to settle for the daemon to be reaped, kills it if it
// is still around, then confirms through the OS process table that the PID
// no longer runs.
func (s *Supervisor) awaitGone(ctx context.Context, h *Handle, settle time.Duration) error {
	reap := time.NewTimer(settle)
	defer reap.Stop()

	select {
	case <-h.done:
	case <-reap.C:
	case <-ctx.Done():
	}

	select {
	case <-h.done:
	default:
		s.kill(h)
		select {
		case <-h.done:
		case <-time.After(reapTimeout):
			return failure.Newf(failure.KindTimeout, "stop daemon", "pid %d was not reaped", h.pid)
		}
	}

	deadline := time.Now().Add(reapTimeout)
	for {
		if processGone(int32(h.pid)) {
			return nil
		}
		if time.Now().After(deadline) {
			return failure.Newf(failure.KindTimeout, "stop daemon", "pid %d still running", h.pid)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// descendantsOf returns every process below pid, deepest last.
func descendantsOf(pid int) []*process.Process {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []*process.Process
	queue := []*process.Process{root}
	for len(queue) > 0 {
		children, err := queue[0].Children()
		queue = queue[1:]
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}

// processGone reports whether pid no longer runs. A zombie awaiting its
// (new) parent's reap counts as gone.
func processGone(pid int32) bool {
	exists, err := process.PidExists(pid)
	if err != nil || !exists {
		return err == nil
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return true
	}
	status, err := p.Status()
	if err != nil {
		return false
	}
	for _, st := range status {
		if st == process.Zombie {
			return true
		}
	}
	return false
}
