package internaldefs

import (
	enrollkit "github.com/enrollkit/enrollkit"
)

// CounterDef defines a public type used by enrollkit APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   enrollkit.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the enrollment engine.
var CounterDefs = []CounterDef{
	{ID: enrollkit.MetricRegisterSuccess, Name: "enrollkit_register_success_total", Help: "Successful registrations."},
	{ID: enrollkit.MetricRegisterConflict, Name: "enrollkit_register_conflict_total", Help: "Registrations rejected as duplicate."},
	{ID: enrollkit.MetricRegisterRateLimited, Name: "enrollkit_register_rate_limited_total", Help: "Rate-limited registration attempts."},
	{ID: enrollkit.MetricCodeSent, Name: "enrollkit_code_sent_total", Help: "One-time codes issued and delivered."},
	{ID: enrollkit.MetricCodeDeliveryFailed, Name: "enrollkit_code_delivery_failed_total", Help: "One-time code deliveries that failed and were compensated."},
	{ID: enrollkit.MetricCodeVerified, Name: "enrollkit_code_verified_total", Help: "Successful one-time code verifications."},
	{ID: enrollkit.MetricCodeRejected, Name: "enrollkit_code_rejected_total", Help: "One-time code submissions that did not match."},
	{ID: enrollkit.MetricCodeExpired, Name: "enrollkit_code_expired_total", Help: "Submissions against expired codes."},
	{ID: enrollkit.MetricCodeExhausted, Name: "enrollkit_code_exhausted_total", Help: "Codes invalidated by the attempt cap."},
	{ID: enrollkit.MetricCodeRateLimited, Name: "enrollkit_code_rate_limited_total", Help: "Rate-limited code operations."},
	{ID: enrollkit.MetricLoginSuccess, Name: "enrollkit_login_success_total", Help: "Successful logins."},
	{ID: enrollkit.MetricLoginFailure, Name: "enrollkit_login_failure_total", Help: "Failed login attempts."},
	{ID: enrollkit.MetricLoginRateLimited, Name: "enrollkit_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: enrollkit.MetricLoginLocked, Name: "enrollkit_login_locked_total", Help: "Logins rejected by account lockout."},
	{ID: enrollkit.MetricSecondFactorRequired, Name: "enrollkit_second_factor_required_total", Help: "Logins deferred pending a second factor."},
	{ID: enrollkit.MetricSecondFactorSuccess, Name: "enrollkit_second_factor_success_total", Help: "Successful second-factor verifications."},
	{ID: enrollkit.MetricSecondFactorFailure, Name: "enrollkit_second_factor_failure_total", Help: "Failed second-factor verifications."},
	{ID: enrollkit.MetricBackupCodeUsed, Name: "enrollkit_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: enrollkit.MetricEnrollmentCompleted, Name: "enrollkit_enrollment_completed_total", Help: "Identities that completed enrollment."},
	{ID: enrollkit.MetricRefreshSuccess, Name: "enrollkit_refresh_success_total", Help: "Successful token refreshes."},
	{ID: enrollkit.MetricRefreshFailure, Name: "enrollkit_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: enrollkit.MetricPasswordResetRequest, Name: "enrollkit_password_reset_request_total", Help: "Password reset requests."},
	{ID: enrollkit.MetricPasswordResetSuccess, Name: "enrollkit_password_reset_success_total", Help: "Successful password reset confirmations."},
	{ID: enrollkit.MetricPasswordResetFailure, Name: "enrollkit_password_reset_failure_total", Help: "Failed password reset confirmations."},
}
