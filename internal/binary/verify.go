package binary

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/cryptoadvance/specter-launcher/internal/failure"
	"github.com/cryptoadvance/specter-launcher/internal/manifest"
)

// DigestOf streams path through SHA-256 and returns the lowercase hex digest.
func DigestOf(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", failure.New(failure.KindIO, "digest", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", failure.New(failure.KindIO, "digest", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verify compares the digest of path with the manifest's expected digest.
// A mismatch is a verdict, not an error: the caller decides what to do.
func Verify(path string, m *manifest.Manifest) (Verdict, error) {
	return verifyDigest(path, m.SHA256())
}

func verifyDigest(path, expected string) (Verdict, error) {
	actual, err := DigestOf(path)
	if err != nil {
		return VerdictMismatch, err
	}

	// Compare checksums (case-insensitive)
	if !strings.EqualFold(actual, expected) {
		return VerdictMismatch, nil
	}
	return VerdictTrusted, nil
}
