package binary

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/cryptoadvance/specter-launcher/internal/failure"
)

// SignatureVerifier checks detached OpenPGP signatures against a keyring
// pinned in the manifest.
type SignatureVerifier struct {
	keyring openpgp.EntityList
}

// NewSignatureVerifier parses an armored (or binary) public keyring.
func NewSignatureVerifier(key string) (*SignatureVerifier, error) {
	keyring, err := loadKeyring([]byte(key))
	if err != nil {
		return nil, failure.New(failure.KindConfig, "load signing key", err)
	}
	return &SignatureVerifier{keyring: keyring}, nil
}

func loadKeyring(data []byte) (openpgp.EntityList, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		// Try reading as non-armored keyring
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}

	return keyring, nil
}

// VerifyFile checks that signaturePath is a valid detached signature of
// path by a key in the keyring. Failures are KindSignature, except for
// unreadable files, which are KindIO.
func (v *SignatureVerifier) VerifyFile(path, signaturePath string) error {
	signed, err := os.Open(path)
	if err != nil {
		return failure.New(failure.KindIO, "verify signature", err)
	}
	defer signed.Close()

	sig, err := os.ReadFile(signaturePath)
	if err != nil {
		return failure.New(failure.KindIO, "verify signature", err)
	}

	// Verify signature (try armored first)
	if strings.HasPrefix(strings.TrimSpace(string(sig)), "-----BEGIN") {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, signed, bytes.NewReader(sig), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, signed, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return failure.New(failure.KindSignature, "verify signature", err)
	}
	return nil
}
