package binary

import (
	"errors"
	"path/filepath"

	"github.com/cryptoadvance/specter-launcher/internal/platform"
)

// State is a provisioning state.
type State string

const (
	StateUnchecked  State = "unchecked"
	StateVerifying  State = "verifying"
	StateTrusted    State = "trusted"
	StateFetching   State = "fetching"
	StateExtracting State = "extracting"
	StateInstalling State = "installing"
	StateFailed     State = "failed"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// Terminal reports whether a run stops in s.
func (s State) Terminal() bool {
	return s == StateTrusted || s == StateFailed
}

// transitions lists the legal successors of each state. Runs only move
// forward, except that a mismatching or failed binary may go back to
// Fetching.
var transitions = map[State][]State{
	StateUnchecked:  {StateVerifying, StateFetching, StateFailed},
	StateVerifying:  {StateTrusted, StateFetching, StateFailed},
	StateFetching:   {StateExtracting, StateFailed},
	StateExtracting: {StateInstalling, StateFailed},
	StateInstalling: {StateTrusted, StateFailed},
	StateFailed:     {StateFetching},
}

// CanTransition reports whether next is a legal successor of s.
func (s State) CanTransition(next State) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Verdict is the outcome of comparing a file against the manifest digest.
type Verdict int

const (
	// VerdictMismatch means the file is corrupt, tampered with or a different
	// version. All three get the same treatment.
	VerdictMismatch Verdict = iota
	// VerdictTrusted means the digest matches the manifest.
	VerdictTrusted
)

// String returns the string representation of the verdict
func (v Verdict) String() string {
	switch v {
	case VerdictTrusted:
		return "trusted"
	case VerdictMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Well-known file names inside the binaries directory.
const (
	// DirName is the binaries directory inside the specter data dir.
	DirName = "specterd-binaries"
	// ArchiveBaseName is the transient download target without its
	// extension; the manifest decides between .zip and .tar.gz.
	ArchiveBaseName = "specterd"
	// ArchiveName is the download target of a zip release.
	ArchiveName = ArchiveBaseName + ".zip"
	// ExtractDirName is the transient extraction directory.
	ExtractDirName = "specterd-dir"
	// LockFileName serializes provisioning across processes.
	LockFileName = ".install.lock"
)

// ErrRunInProgress is returned when Provision is called while a run is active.
var ErrRunInProgress = errors.New("provisioning already in progress")

// BinDir returns the binaries directory inside a specter data dir
// (usually ~/.specter).
func BinDir(dataDir string) string {
	return filepath.Join(dataDir, DirName)
}

// InstallPath returns the canonical daemon location for a platform.
func InstallPath(binDir string, id platform.ID) (string, error) {
	target, ok := platform.Lookup(id)
	if !ok {
		return "", errors.New("unsupported platform: " + string(id))
	}
	return filepath.Join(binDir, target.ExecutableName), nil
}
