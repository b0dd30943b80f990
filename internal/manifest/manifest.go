// Package manifest holds the build-time record that pins the daemon release:
// its version, the SHA-256 of the executable and the release asset names.
//
// A Manifest is immutable once parsed. The copy embedded in the launcher
// (version-data.json, rewritten by the release pipeline) is the trusted
// default; a manifest file can be supplied for staging builds. Source
// checkouts embed a DevVersion placeholder that pins no real release.
package manifest

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cryptoadvance/specter-launcher/internal/failure"
	"github.com/cryptoadvance/specter-launcher/internal/platform"
)

// DefaultReleaseBase is where daemon releases are published.
const DefaultReleaseBase = "https://github.com/cryptoadvance/specter-desktop/releases/download"

// DevVersion marks the placeholder manifest of an unreleased build.
const DevVersion = "v0.0.0-dev"

// Archive formats a release asset may be published in.
const (
	FormatZip   = "zip"
	FormatTarGz = "tar.gz"
)

//go:embed version-data.json
var embedded []byte

// document is the on-disk shape. YAML is a superset of JSON, so the
// release pipeline's JSON output decodes unchanged.
type document struct {
	Version         string            `yaml:"version"`
	SHA256          string            `yaml:"sha256"`
	ReleaseBase     string            `yaml:"release_base"`
	Assets          map[string]string `yaml:"assets"`
	Archives        map[string]string `yaml:"archives"`
	SigningKey      string            `yaml:"signing_key"`
	SignatureSuffix string            `yaml:"signature_suffix"`
}

// Manifest is the immutable daemon release pin.
type Manifest struct {
	version         string
	sha256          string
	releaseBase     string
	assets          map[platform.ID]string
	archives        map[platform.ID]string
	signingKey      string
	signatureSuffix string
}

// Default returns the manifest embedded at build time.
func Default() (*Manifest, error) {
	return Parse(embedded)
}

// Load reads a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.New(failure.KindConfig, "read manifest", err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest content.
func Parse(data []byte) (*Manifest, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, failure.New(failure.KindConfig, "parse manifest", err)
	}
	m, err := fromDocument(doc)
	if err != nil {
		return nil, failure.New(failure.KindConfig, "validate manifest", err)
	}
	return m, nil
}

// Options builds a manifest in code, mainly for tests and tooling. Archives
// maps a platform to FormatZip or FormatTarGz; zip when absent.
type Options struct {
	Version         string
	SHA256          string
	ReleaseBase     string
	Assets          map[platform.ID]string
	Archives        map[platform.ID]string
	SigningKey      string
	SignatureSuffix string
}

// New validates opts and returns a manifest.
func New(opts Options) (*Manifest, error) {
	doc := document{
		Version:         opts.Version,
		SHA256:          opts.SHA256,
		ReleaseBase:     opts.ReleaseBase,
		SigningKey:      opts.SigningKey,
		SignatureSuffix: opts.SignatureSuffix,
	}
	if len(opts.Assets) > 0 {
		doc.Assets = make(map[string]string, len(opts.Assets))
		for id, fragment := range opts.Assets {
			doc.Assets[string(id)] = fragment
		}
	}
	if len(opts.Archives) > 0 {
		doc.Archives = make(map[string]string, len(opts.Archives))
		for id, format := range opts.Archives {
			doc.Archives[string(id)] = format
		}
	}
	m, err := fromDocument(doc)
	if err != nil {
		return nil, failure.New(failure.KindConfig, "validate manifest", err)
	}
	return m, nil
}

func fromDocument(doc document) (*Manifest, error) {
	version := strings.TrimSpace(doc.Version)
	if version == "" {
		return nil, fmt.Errorf("version is required")
	}
	if strings.ContainsAny(version, "/\\ ") {
		return nil, fmt.Errorf("version %q contains invalid characters", version)
	}

	digest := strings.ToLower(strings.TrimSpace(doc.SHA256))
	if !isHexDigest(digest) {
		return nil, fmt.Errorf("sha256 must be 64 hex characters, got %q", doc.SHA256)
	}

	base := strings.TrimRight(strings.TrimSpace(doc.ReleaseBase), "/")
	if base == "" {
		base = DefaultReleaseBase
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("release_base must be an https URL, got %q", doc.ReleaseBase)
	}

	assets := make(map[platform.ID]string, len(platform.IDs()))
	for _, id := range platform.IDs() {
		target, _ := platform.Lookup(id)
		assets[id] = target.AssetFragment
	}
	for key, fragment := range doc.Assets {
		id := platform.ID(key)
		if _, ok := platform.Lookup(id); !ok {
			return nil, fmt.Errorf("assets: unknown platform %q", key)
		}
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			return nil, fmt.Errorf("assets: empty fragment for %q", key)
		}
		assets[id] = fragment
	}

	archives := make(map[platform.ID]string, len(platform.IDs()))
	for _, id := range platform.IDs() {
		archives[id] = FormatZip
	}
	for key, format := range doc.Archives {
		id := platform.ID(key)
		if _, ok := platform.Lookup(id); !ok {
			return nil, fmt.Errorf("archives: unknown platform %q", key)
		}
		switch format = strings.ToLower(strings.TrimSpace(format)); format {
		case FormatZip, FormatTarGz:
			archives[id] = format
		default:
			return nil, fmt.Errorf("archives: unsupported format %q for %q", format, key)
		}
	}

	m := &Manifest{
		version:     version,
		sha256:      digest,
		releaseBase: base,
		assets:      assets,
		archives:    archives,
		signingKey:  strings.TrimSpace(doc.SigningKey),
	}
	if m.signingKey != "" {
		m.signatureSuffix = doc.SignatureSuffix
		if m.signatureSuffix == "" {
			m.signatureSuffix = ".asc"
		}
	}
	return m, nil
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Version returns the pinned daemon version (the release tag).
func (m *Manifest) Version() string {
	return m.version
}

// Placeholder reports whether this is the development placeholder rather
// than a real release pin.
func (m *Manifest) Placeholder() bool {
	return m.version == DevVersion
}

// SHA256 returns the expected executable digest in lowercase hex.
func (m *Manifest) SHA256() string {
	return m.sha256
}

// AssetFragment returns the platform part of the asset name.
func (m *Manifest) AssetFragment(id platform.ID) (string, bool) {
	f, ok := m.assets[id]
	return f, ok
}

// ArchiveExt returns the file extension of a platform's release archive,
// ".zip" or ".tar.gz".
func (m *Manifest) ArchiveExt(id platform.ID) string {
	if m.archives[id] == FormatTarGz {
		return "." + FormatTarGz
	}
	return "." + FormatZip
}

// AssetName returns the release archive name for a platform,
// e.g. specterd-v1.13.1-x86_64-linux-gnu.zip.
func (m *Manifest) AssetName(id platform.ID) (string, error) {
	fragment, ok := m.assets[id]
	if !ok {
		return "", fmt.Errorf("no release asset for platform %s", id)
	}
	return fmt.Sprintf("specterd-%s-%s%s", m.version, fragment, m.ArchiveExt(id)), nil
}

// AssetURL returns <release-base>/<version>/<asset-name>.
func (m *Manifest) AssetURL(id platform.ID) (string, error) {
	name, err := m.AssetName(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", m.releaseBase, url.PathEscape(m.version), name), nil
}

// HasSignature reports whether archives must carry a detached signature.
func (m *Manifest) HasSignature() bool {
	return m.signingKey != ""
}

// SigningKey returns the armored OpenPGP public key, or "".
func (m *Manifest) SigningKey() string {
	return m.signingKey
}

// SignatureURL returns the detached signature URL for a platform's archive.
func (m *Manifest) SignatureURL(id platform.ID) (string, error) {
	if !m.HasSignature() {
		return "", fmt.Errorf("manifest has no signing key")
	}
	assetURL, err := m.AssetURL(id)
	if err != nil {
		return "", err
	}
	return assetURL + m.signatureSuffix, nil
}
