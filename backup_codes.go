package enrollkit

import (
	"crypto/subtle"

	"github.com/enrollkit/enrollkit/internal"
)

// backupCodeEngine issues and matches single-use recovery codes. Plaintext
// codes exist only in the setup response; storage sees SHA-256 digests.
type backupCodeEngine struct {
	count int
}

func newBackupCodeEngine(count int) *backupCodeEngine {
	return &backupCodeEngine{count: count}
}

// Generate returns a fresh batch of codes alongside their digests, index
// aligned. Codes are XXXX-XXXX uppercase hex.
func (b *backupCodeEngine) Generate() ([]string, [][32]byte, error) {
	codes := make([]string, 0, b.count)
	hashes := make([][32]byte, 0, b.count)

	for i := 0; i < b.count; i++ {
		code, err := internal.NewBackupCode()
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, internal.HashBackupCode(code))
	}

	return codes, hashes, nil
}

// Match reports whether submitted corresponds to one of the stored digests
// and returns the matched digest so the caller can consume it. Every digest
// is compared regardless of earlier hits.
func (b *backupCodeEngine) Match(submitted string, hashes [][32]byte) ([32]byte, bool) {
	probe := internal.HashBackupCode(submitted)

	var matched [32]byte
	found := false
	for _, h := range hashes {
		h := h
		if subtle.ConstantTimeCompare(probe[:], h[:]) == 1 && !found {
			matched = h
			found = true
		}
	}
	return matched, found
}
