package resilience

import (
	"fmt"
	"time"
)

type CircuitBreakerConfig struct {
	Enabled bool
	// FailureThreshold is the number of consecutive upstream failures that
	// opens the breaker.
	FailureThreshold int
	OpenTimeout      time.Duration
	// HalfOpenMaxReq probes must all succeed before the breaker closes again.
	HalfOpenMaxReq int
}

// DefaultCircuitBreakerConfig is used per match-history host.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxReq:   2,
	}
}

// ReverseGeoCircuitBreakerConfig guards the remote country lookup.
func ReverseGeoCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
		HalfOpenMaxReq:   1,
	}
}

func (c CircuitBreakerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.OpenTimeout <= 0 {
		return fmt.Errorf("open timeout must be positive, got %s", c.OpenTimeout)
	}
	if c.HalfOpenMaxReq < 1 {
		return fmt.Errorf("half-open probes must be >= 1, got %d", c.HalfOpenMaxReq)
	}
	return nil
}

// NormalizeCircuitBreakerConfig fills zero fields from the defaults.
func NormalizeCircuitBreakerConfig(cfg CircuitBreakerConfig) CircuitBreakerConfig {
	defaults := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.HalfOpenMaxReq < 1 {
		cfg.HalfOpenMaxReq = defaults.HalfOpenMaxReq
	}
	return cfg
}
