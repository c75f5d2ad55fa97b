package resilience

import "time"

// Reconnect policy defaults
const (
	DefaultReconnectAttempts  = 5
	DefaultReconnectBase      = 1 * time.Second
	DefaultReconnectSlowBase  = 5 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultQuickFailureWindow = 1 * time.Second
)

// ReconnectPolicy decides whether and when a dropped socket is redialed.
// Delays are deterministic: min(base << attempts, MaxDelay), no jitter.
type ReconnectPolicy struct {
	MaxAttempts int
	// BaseDelay applies after a connection that stayed up at least QuickFailure.
	BaseDelay time.Duration
	// SlowBaseDelay applies after a quick failure, usually a backend rejection.
	SlowBaseDelay time.Duration
	MaxDelay      time.Duration
	QuickFailure  time.Duration
}

// DefaultReconnectPolicy returns the standard policy.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:   DefaultReconnectAttempts,
		BaseDelay:     DefaultReconnectBase,
		SlowBaseDelay: DefaultReconnectSlowBase,
		MaxDelay:      DefaultReconnectMaxDelay,
		QuickFailure:  DefaultQuickFailureWindow,
	}
}

// Next returns the delay before the next reconnect given how many attempts
// were already scheduled and how long the last connection lasted. The second
// result is false once attempts are exhausted.
func (p ReconnectPolicy) Next(attempts int, lastDuration time.Duration) (time.Duration, bool) {
	p = p.withDefaults()
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= p.MaxAttempts {
		return 0, false
	}

	base := p.BaseDelay
	if lastDuration < p.QuickFailure {
		base = p.SlowBaseDelay
	}
	delay := base << min(attempts, 16)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay, true
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultReconnectBase
	}
	if p.SlowBaseDelay <= 0 {
		p.SlowBaseDelay = DefaultReconnectSlowBase
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultReconnectMaxDelay
	}
	if p.QuickFailure <= 0 {
		p.QuickFailure = DefaultQuickFailureWindow
	}
	return p
}
