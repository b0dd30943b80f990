// Package events is the single status channel between the launcher core and
// whatever renders it (a desktop window, the CLI, a test).
package events

import (
	"sync"

	"github.com/cryptoadvance/specter-launcher/internal/failure"
)

// Sink receives progress, readiness and failure notifications.
// Implementations must be safe for concurrent use.
type Sink interface {
	Progress(text string)
	Ready(address string)
	Error(kind failure.Kind, detail string)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Progress(string)            {}
func (Nop) Ready(string)               {}
func (Nop) Error(failure.Kind, string) {}

// Funcs adapts plain functions to a Sink. Nil fields are ignored.
type Funcs struct {
	OnProgress func(text string)
	OnReady    func(address string)
	OnError    func(kind failure.Kind, detail string)
}

func (f Funcs) Progress(text string) {
	if f.OnProgress != nil {
		f.OnProgress(text)
	}
}

func (f Funcs) Ready(address string) {
	if f.OnReady != nil {
		f.OnReady(address)
	}
}

func (f Funcs) Error(kind failure.Kind, detail string) {
	if f.OnError != nil {
		f.OnError(kind, detail)
	}
}

// ReportError forwards err to the sink with its kind and message.
func ReportError(s Sink, err error) {
	if s == nil || err == nil {
		return
	}
	s.Error(failure.KindOf(err), err.Error())
}

// ErrorEvent is a recorded Error notification.
type ErrorEvent struct {
	Kind   failure.Kind
	Detail string
}

// Recorder keeps every event it receives. Useful for tests and for replaying
// the launch log into a late-attached UI.
type Recorder struct {
	mu       sync.Mutex
	progress []string
	ready    []string
	errors   []ErrorEvent
	readyCh  chan struct{}
	once     sync.Once
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{readyCh: make(chan struct{})}
}

func (r *Recorder) Progress(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, text)
}

func (r *Recorder) Ready(address string) {
	r.mu.Lock()
	r.ready = append(r.ready, address)
	r.mu.Unlock()
	r.once.Do(func() { close(r.readyCh) })
}

func (r *Recorder) Error(kind failure.Kind, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, ErrorEvent{Kind: kind, Detail: detail})
}

// ReadyC is closed on the first Ready event.
func (r *Recorder) ReadyC() <-chan struct{} {
	return r.readyCh
}

// ProgressMessages returns a copy of the progress messages.
func (r *Recorder) ProgressMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.progress...)
}

// ReadyAddresses returns a copy of the ready addresses.
func (r *Recorder) ReadyAddresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ready...)
}

// Errors returns a copy of the error events.
func (r *Recorder) Errors() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.errors...)
}
