// Package platform identifies the host the launcher runs on and maps it to the
// daemon release artifacts built for it.
//
// The daemon ships for exactly three targets. Everything that differs between
// them (the archive name fragment on the release page and the executable name
// inside the archive) lives in one lookup table so the download and install
// steps can never disagree about a platform.
package platform

import "context"

// ID identifies a supported daemon target.
type ID string

const (
	// MacOS is any Apple host; the daemon ships one macOS build.
	MacOS ID = "macos"
	// Windows64 is 64-bit Windows.
	Windows64 ID = "windows64"
	// LinuxX8664 is Linux on x86_64.
	LinuxX8664 ID = "linux-x86_64"
)

// String returns the string representation of the platform ID
func (id ID) String() string {
	return string(id)
}

// Linux distribution family constants, used for diagnostics only.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyGentoo  = "gentoo"  // Gentoo
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Target describes the release artifacts for one platform.
type Target struct {
	ID ID
	// AssetFragment is the platform part of the release archive name,
	// e.g. specterd-v1.2.0-<fragment>.zip.
	AssetFragment string
	// ExecutableName is the daemon's file name inside the archive and at the
	// canonical install path.
	ExecutableName string
}

var targets = map[ID]Target{
	MacOS:      {ID: MacOS, AssetFragment: "osx", ExecutableName: "specterd"},
	Windows64:  {ID: Windows64, AssetFragment: "win64", ExecutableName: "specterd.exe"},
	LinuxX8664: {ID: LinuxX8664, AssetFragment: "x86_64-linux-gnu", ExecutableName: "specterd"},
}

// Lookup returns the release target for id.
func Lookup(id ID) (Target, bool) {
	t, ok := targets[id]
	return t, ok
}

// IDs returns all supported platform IDs in a stable order.
func IDs() []ID {
	return []ID{MacOS, Windows64, LinuxX8664}
}

// Info contains platform detection information.
type Info struct {
	ID       ID     // resolved daemon target
	OS       string // "linux", "darwin", "windows"
	Arch     string // "amd64", "arm64" (normalized)
	ArchRaw  string // original GOARCH
	Platform string // distro ID (Linux only, e.g., "ubuntu", "arch")
	Family   string // canonical family (e.g., "debian", "rhel", "arch")
	Version  string // distro version (Linux only, e.g., "22.04")
}

// Target returns the release target of the detected platform.
func (i *Info) Target() Target {
	return targets[i.ID]
}

// Distro contains Linux distribution information.
// This is nil on non-Linux platforms.
type Distro struct {
	ID      string
	Family  string
	Version string
}

// GetDistro returns distro information if this is a Linux platform.
// Returns nil for non-Linux platforms or if distro detection failed.
func (i *Info) GetDistro() *Distro {
	if i.OS != "linux" || i.Platform == "" {
		return nil
	}
	return &Distro{
		ID:      i.Platform,
		Family:  i.Family,
		Version: i.Version,
	}
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
