package rate

import "errors"

var (
	// ErrBackendUnavailable is an exported constant or variable used by the enrollment engine.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)
