// Package journal persists a record of the most recent provisioning run so
// that a failed run can be inspected after the fact (for example by the
// status command) without scraping logs.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cryptoadvance/specter-launcher/internal/failure"
)

// FileName is the journal file inside the binaries directory.
const FileName = "last-run.json"

// Result is the outcome of a run.
type Result string

const (
	ResultRunning Result = "running"
	ResultTrusted Result = "trusted"
	ResultFailed  Result = "failed"
)

// Transition is one state entered during a run.
type Transition struct {
	State string       `json:"state"`
	At    time.Time    `json:"at"`
	Kind  failure.Kind `json:"kind,omitempty"`
	Error string       `json:"error,omitempty"`
}

// Run is the record of one provisioning run.
type Run struct {
	Version         int          `json:"version"` // Schema version for future evolution
	ID              string       `json:"id"`
	ManifestVersion string       `json:"manifest_version"`
	Platform        string       `json:"platform"`
	Started         time.Time    `json:"started"`
	Finished        *time.Time   `json:"finished,omitempty"`
	States          []Transition `json:"states"`
	Result          Result       `json:"result"`
	LastError       string       `json:"last_error,omitempty"`
}

// New starts a run record.
func New(runID, manifestVersion, platform string) *Run {
	return &Run{
		Version:         1,
		ID:              runID,
		ManifestVersion: manifestVersion,
		Platform:        platform,
		Started:         time.Now().UTC(),
		States:          []Transition{},
		Result:          ResultRunning,
	}
}

// Record appends a state transition. A non-nil err is kept as the run's
// last error.
func (r *Run) Record(state string, err error) {
	tr := Transition{State: state, At: time.Now().UTC()}
	if err != nil {
		tr.Kind = failure.KindOf(err)
		tr.Error = err.Error()
		r.LastError = err.Error()
	}
	r.States = append(r.States, tr)
}

// Finish marks the run complete.
func (r *Run) Finish(result Result) {
	now := time.Now().UTC()
	r.Finished = &now
	r.Result = result
}

// StateNames returns the visited states in order.
func (r *Run) StateNames() []string {
	names := make([]string, 0, len(r.States))
	for _, s := range r.States {
		names = append(names, s.State)
	}
	return names
}

// Path returns the journal location inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Save writes the record to dir atomically (write temp, rename, sync dir).
func (r *Run) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	finalPath := Path(dir)
	tmpPath := finalPath + ".tmp"

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temporary journal file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename journal file: %w", err)
	}

	// Sync directory for durability
	df, err := os.Open(dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}

// Load reads a run record.
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journal file: %w", err)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal journal: %w", err)
	}
	return &run, nil
}
