package audit

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// FingerprintLen is the number of hex chars kept from the digest.
const FingerprintLen = 16

// Fingerprinter derives a short, salted, non-reversible tag for a license
// key so repeated attempts with one key can be correlated without storing it.
type Fingerprinter struct {
	key []byte
}

func NewFingerprinter(salt string) *Fingerprinter {
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Fingerprinter{key: key}
}

func (f *Fingerprinter) Fingerprint(licenseKey string) string {
	// f.key is at most blake2b.Size bytes, so New256 cannot fail.
	h, _ := blake2b.New256(f.key)
	h.Write([]byte(strings.TrimSpace(licenseKey)))
	return hex.EncodeToString(h.Sum(nil))[:FingerprintLen]
}
