package enrollkit

import "sync/atomic"

// MetricID defines a public type used by enrollkit APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricRegisterSuccess is an exported constant or variable used by the enrollment engine.
	MetricRegisterSuccess MetricID = iota
	// MetricRegisterConflict is an exported constant or variable used by the enrollment engine.
	MetricRegisterConflict
	// MetricRegisterRateLimited is an exported constant or variable used by the enrollment engine.
	MetricRegisterRateLimited
	// MetricCodeSent is an exported constant or variable used by the enrollment engine.
	MetricCodeSent
	// MetricCodeDeliveryFailed is an exported constant or variable used by the enrollment engine.
	MetricCodeDeliveryFailed
	// MetricCodeVerified is an exported constant or variable used by the enrollment engine.
	MetricCodeVerified
	// MetricCodeRejected is an exported constant or variable used by the enrollment engine.
	MetricCodeRejected
	// MetricCodeExpired is an exported constant or variable used by the enrollment engine.
	MetricCodeExpired
	// MetricCodeExhausted is an exported constant or variable used by the enrollment engine.
	MetricCodeExhausted
	// MetricCodeRateLimited is an exported constant or variable used by the enrollment engine.
	MetricCodeRateLimited
	// MetricLoginSuccess is an exported constant or variable used by the enrollment engine.
	MetricLoginSuccess
	// MetricLoginFailure is an exported constant or variable used by the enrollment engine.
	MetricLoginFailure
	// MetricLoginRateLimited is an exported constant or variable used by the enrollment engine.
	MetricLoginRateLimited
	// MetricLoginLocked is an exported constant or variable used by the enrollment engine.
	MetricLoginLocked
	// MetricSecondFactorRequired is an exported constant or variable used by the enrollment engine.
	MetricSecondFactorRequired
	// MetricSecondFactorSuccess is an exported constant or variable used by the enrollment engine.
	MetricSecondFactorSuccess
	// MetricSecondFactorFailure is an exported constant or variable used by the enrollment engine.
	MetricSecondFactorFailure
	// MetricBackupCodeUsed is an exported constant or variable used by the enrollment engine.
	MetricBackupCodeUsed
	// MetricEnrollmentCompleted is an exported constant or variable used by the enrollment engine.
	MetricEnrollmentCompleted
	// MetricRefreshSuccess is an exported constant or variable used by the enrollment engine.
	MetricRefreshSuccess
	// MetricRefreshFailure is an exported constant or variable used by the enrollment engine.
	MetricRefreshFailure
	// MetricPasswordResetRequest is an exported constant or variable used by the enrollment engine.
	MetricPasswordResetRequest
	// MetricPasswordResetSuccess is an exported constant or variable used by the enrollment engine.
	MetricPasswordResetSuccess
	// MetricPasswordResetFailure is an exported constant or variable used by the enrollment engine.
	MetricPasswordResetFailure
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by enrollkit APIs.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot defines a public type used by enrollkit APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled describes the enabled operation and its observable behavior.
//
// Enabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc describes the inc operation and its observable behavior.
//
// Inc does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value describes the value operation and its observable behavior.
//
// Value does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
