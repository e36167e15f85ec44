package infra

import (
	"time"
)

const (
	// Standard backoff constants
	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 60 * time.Second
)

// BackoffPolicy computes exponential reconnect delays.
// Zero values fall back to the standard 1s base / 60s cap.
type BackoffPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the backoff duration for a given retry count.
// Logic: base * 2^retryCount, capped.
// If retryCount is negative, it returns the base delay.
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = defaultBaseDelay
	}
	ceil := p.Cap
	if ceil <= 0 {
		ceil = defaultMaxDelay
	}

	if retryCount < 0 {
		return base
	}

	// 2^retryCount
	// To prevent overflow with bit shifting, cap the exponent early.
	// 2^30 seconds is already far beyond any sane cap.
	if retryCount > 30 {
		return ceil
	}

	backoff := base * time.Duration(1<<retryCount)

	if backoff > ceil {
		return ceil
	}

	return backoff
}

// CalculateBackoff returns the exponential backoff duration for a given retry
// count using the standard policy.
func CalculateBackoff(retryCount int) time.Duration {
	return BackoffPolicy{}.Delay(retryCount)
}
