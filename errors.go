package enrollkit

import "errors"

var (
	// ErrEngineNotReady is an exported constant or variable used by the enrollment engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrIdentityNotFound is an exported constant or variable used by the enrollment engine.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIdentityExists is an exported constant or variable used by the enrollment engine.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrSecondFactorNotFound is an exported constant or variable used by the enrollment engine.
	ErrSecondFactorNotFound = errors.New("second factor not configured")
	// ErrCodeNotFound is an exported constant or variable used by the enrollment engine.
	ErrCodeNotFound = errors.New("verification code not found")
	// ErrVaultUnavailable is an exported constant or variable used by the enrollment engine.
	ErrVaultUnavailable = errors.New("code vault unavailable")
	// ErrStoreUnavailable is an exported constant or variable used by the enrollment engine.
	ErrStoreUnavailable = errors.New("identity store unavailable")
	// ErrNotifierRequired is an exported constant or variable used by the enrollment engine.
	ErrNotifierRequired = errors.New("notifier is required")
	// ErrIdentityStoreRequired is an exported constant or variable used by the enrollment engine.
	ErrIdentityStoreRequired = errors.New("identity store is required")
)
