package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromCounters(t *testing.T) {
	p := NewProm()

	p.IncTransition("fetching")
	p.IncTransition("fetching")
	p.IncTransition("trusted")
	p.IncFetch("ok")
	p.IncVerification("mismatch")
	p.IncDaemonStart()
	p.IncDaemonExit(false)
	p.ObserveFetchDuration(1.5)

	if got := testutil.ToFloat64(p.transitions.WithLabelValues("fetching")); got != 2 {
		t.Errorf("fetching transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.transitions.WithLabelValues("trusted")); got != 1 {
		t.Errorf("trusted transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.daemonStarts); got != 1 {
		t.Errorf("daemon starts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.daemonExits.WithLabelValues("false")); got != 1 {
		t.Errorf("unexpected exits = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(p.fetchDuration); got != 1 {
		t.Errorf("fetch duration collectors = %d, want 1", got)
	}
}

func TestPromRegistriesAreIndependent(t *testing.T) {
	a := NewProm()
	b := NewProm()
	a.IncDaemonStart()

	if got := testutil.ToFloat64(b.daemonStarts); got != 0 {
		t.Errorf("second recorder saw %v starts, want 0", got)
	}
}

func TestPromHandlerServesMetrics(t *testing.T) {
	p := NewProm()
	p.IncFetch("http_error")

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `specter_launcher_fetches_total{result="http_error"} 1`) {
		t.Errorf("metrics output missing fetch counter:\n%s", body)
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(Noop); !ok {
		t.Error("OrNoop(nil) should return Noop")
	}
	p := NewProm()
	if OrNoop(p) != Recorder(p) {
		t.Error("OrNoop should return the given recorder")
	}
}
