// Package metrics exposes provisioning and daemon lifecycle counters.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "specter_launcher"

// Recorder receives launcher events worth counting.
type Recorder interface {
	IncTransition(state string)
	IncFetch(result string)
	IncVerification(verdict string)
	IncDaemonStart()
	IncDaemonExit(expected bool)
	ObserveFetchDuration(seconds float64)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) IncTransition(string)         {}
func (Noop) IncFetch(string)              {}
func (Noop) IncVerification(string)       {}
func (Noop) IncDaemonStart()              {}
func (Noop) IncDaemonExit(bool)           {}
func (Noop) ObserveFetchDuration(float64) {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}

// Prom implements Recorder on its own registry, so several launchers (or
// tests) in one process never collide on the global default registerer.
type Prom struct {
	registry      *prometheus.Registry
	transitions   *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	verifications *prometheus.CounterVec
	daemonStarts  prometheus.Counter
	daemonExits   *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	once          sync.Once
}

// NewProm creates a Prom recorder with all collectors registered.
func NewProm() *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "provisioning_transitions_total",
			Help:      "Provisioning state transitions by target state",
		}, []string{"state"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fetches_total",
			Help:      "Archive fetches by result",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verifications_total",
			Help:      "Digest verifications by verdict",
		}, []string{"verdict"}),
		daemonStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "daemon_starts_total",
			Help:      "Daemon processes spawned",
		}),
		daemonExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "daemon_exits_total",
			Help:      "Daemon exits by whether they were requested",
		}, []string{"expected"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Archive fetch duration",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		p.registry.MustRegister(p.transitions, p.fetches, p.verifications,
			p.daemonStarts, p.daemonExits, p.fetchDuration)
	})
}

func (p *Prom) IncTransition(state string) {
	p.transitions.WithLabelValues(state).Inc()
}

func (p *Prom) IncFetch(result string) {
	p.fetches.WithLabelValues(result).Inc()
}

func (p *Prom) IncVerification(verdict string) {
	p.verifications.WithLabelValues(verdict).Inc()
}

func (p *Prom) IncDaemonStart() {
	p.daemonStarts.Inc()
}

func (p *Prom) IncDaemonExit(expected bool) {
	p.daemonExits.WithLabelValues(strconv.FormatBool(expected)).Inc()
}

func (p *Prom) ObserveFetchDuration(seconds float64) {
	p.fetchDuration.Observe(seconds)
}

// Registry returns the registry the collectors live on.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an HTTP handler for /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
