package enrollkit

import "time"

const (
	methodTOTP       = "totp"
	methodBackupCode = "backup_code"
)

// secondFactorEngine resolves a submitted second-factor token against a
// configured method: the token is tried as a TOTP code first and as a backup
// code only when the TOTP comparison fails, so a numeric backup code can
// never shadow a live authenticator code.
type secondFactorEngine struct {
	totp   *totpManager
	backup *backupCodeEngine
}

func newSecondFactorEngine(totp *totpManager, backup *backupCodeEngine) *secondFactorEngine {
	return &secondFactorEngine{totp: totp, backup: backup}
}

// secondFactorMatch reports how a token was accepted. ConsumedHash is only
// meaningful when Method is methodBackupCode; the caller must retire that
// digest.
type secondFactorMatch struct {
	OK           bool
	Method       string
	ConsumedHash [32]byte
}

// Resolve verifies token against the method's TOTP secret and backup-code
// digests at time now.
func (e *secondFactorEngine) Resolve(method SecondFactorMethod, token string, now time.Time) (secondFactorMatch, error) {
	ok, err := e.totp.Verify(method.Secret, token, now)
	if err != nil {
		return secondFactorMatch{}, err
	}
	if ok {
		return secondFactorMatch{OK: true, Method: methodTOTP}, nil
	}

	if hash, ok := e.backup.Match(token, method.BackupCodes); ok {
		return secondFactorMatch{OK: true, Method: methodBackupCode, ConsumedHash: hash}, nil
	}

	return secondFactorMatch{}, nil
}
