package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/cryptoadvance/specter-launcher/internal/failure"
)

func TestRecorderCollectsEvents(t *testing.T) {
	r := NewRecorder()

	r.Progress("Fetching the Specter binary...")
	r.Error(failure.KindHTTP, "http status 404")
	r.Ready("http://localhost:25441")
	r.Ready("http://localhost:25441")

	select {
	case <-r.ReadyC():
	default:
		t.Fatal("ReadyC should be closed after Ready")
	}

	if got := r.ProgressMessages(); len(got) != 1 || got[0] != "Fetching the Specter binary..." {
		t.Errorf("unexpected progress messages: %v", got)
	}
	if got := r.ReadyAddresses(); len(got) != 2 {
		t.Errorf("expected 2 ready events, got %d", len(got))
	}
	errs := r.Errors()
	if len(errs) != 1 || errs[0].Kind != failure.KindHTTP {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestRecorderConcurrentUse(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Progress("tick")
			r.Ready("addr")
		}()
	}
	wg.Wait()

	if len(r.ProgressMessages()) != 50 {
		t.Errorf("expected 50 progress messages, got %d", len(r.ProgressMessages()))
	}
}

func TestReportErrorClassifies(t *testing.T) {
	var gotKind failure.Kind
	var gotDetail string
	sink := Funcs{OnError: func(kind failure.Kind, detail string) {
		gotKind, gotDetail = kind, detail
	}}

	ReportError(sink, failure.New(failure.KindLayout, "install", errors.New("specterd not found in archive")))

	if gotKind != failure.KindLayout {
		t.Errorf("kind = %v, want %v", gotKind, failure.KindLayout)
	}
	if gotDetail != "install: specterd not found in archive" {
		t.Errorf("detail = %q", gotDetail)
	}

	// nil error and nil sink are ignored
	ReportError(sink, nil)
	ReportError(nil, errors.New("x"))
}

func TestFuncsNilFieldsIgnored(t *testing.T) {
	var f Funcs
	f.Progress("x")
	f.Ready("y")
	f.Error(failure.KindIO, "z")
}
