package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	codeSaltSize      = 16
	backupCodeRawSize = 4
)

func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid code digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	if len(code) != digits {
		return "", fmt.Errorf("invalid code generation length")
	}
	return code, nil
}

func NewCodeSalt() ([]byte, error) {
	salt := make([]byte, codeSaltSize)
	_, err := rand.Read(salt)
	return salt, err
}

// HashCode binds a submitted or generated code to its per-row salt. Stored
// rows carry only this digest, never the plaintext code.
func HashCode(salt []byte, code string) [32]byte {
	buf := make([]byte, 0, len(salt)+len(code))
	buf = append(buf, salt...)
	buf = append(buf, code...)
	return sha256.Sum256(buf)
}

// NewBackupCode returns a single backup code in XXXX-XXXX form, uppercase
// hex, 32 bits of entropy per code.
func NewBackupCode() (string, error) {
	var raw [backupCodeRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%02X%02X-%02X%02X", raw[0], raw[1], raw[2], raw[3]), nil
}

func HashBackupCode(code string) [32]byte {
	return sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
}

func NewTOTPSecret(size int) ([]byte, error) {
	if size <= 0 {
		size = 20
	}
	secret := make([]byte, size)
	_, err := rand.Read(secret)
	return secret, err
}
