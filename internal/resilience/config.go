package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a fixed-delay RetryConfig.
// Non-positive values keep the defaults.
func FromRetryConfig(maxAttempts, delayMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if delayMs > 0 {
		delay := time.Duration(delayMs) * time.Millisecond
		cfg.InitialBackoff = delay
		cfg.MaxBackoff = delay
	}
	return cfg
}

// FromGateConfig converts a millisecond interval to a Gate on the real clock.
func FromGateConfig(intervalMs int) *Gate {
	return NewGate(time.Duration(intervalMs)*time.Millisecond, nil)
}
