package daemonclient

import (
	"time"

	"github.com/g960059/agthud/internal/config"
)

type AvailabilityPolicy struct {
	FailureThreshold int
	RetryCooldown    time.Duration
	StartupGrace     time.Duration
}

func PolicyFromConfig(cfg config.Config) AvailabilityPolicy {
	return AvailabilityPolicy{
		FailureThreshold: cfg.FailureThreshold,
		RetryCooldown:    cfg.RetryCooldown,
		StartupGrace:     cfg.StartupGrace,
	}
}

// Availability tracks consecutive transport failures against the daemon.
type Availability struct {
	StartedAt           time.Time
	ConsecutiveFailures int
	LastFailureAt       time.Time
	LastSuccessAt       time.Time
}

func NewAvailability(now time.Time) Availability {
	return Availability{StartedAt: now}
}

// NextAvailability records the outcome of one transport attempt.
func NextAvailability(state Availability, success bool, now time.Time) Availability {
	if state.StartedAt.IsZero() {
		state.StartedAt = now
	}
	if success {
		state.ConsecutiveFailures = 0
		state.LastSuccessAt = now
		return state
	}
	state.ConsecutiveFailures++
	state.LastFailureAt = now
	return state
}

// ShouldAttempt is false while a tripped failure counter is cooling down.
func (a Availability) ShouldAttempt(p AvailabilityPolicy, now time.Time) bool {
	if !a.tripped(p) {
		return true
	}
	return now.Sub(a.LastFailureAt) >= p.RetryCooldown
}

// Unavailable is true once the failure threshold is reached outside the
// startup grace period.
func (a Availability) Unavailable(p AvailabilityPolicy, now time.Time) bool {
	if !a.tripped(p) {
		return false
	}
	if !a.StartedAt.IsZero() && now.Sub(a.StartedAt) < p.StartupGrace {
		return false
	}
	return true
}

func (a Availability) tripped(p AvailabilityPolicy) bool {
	threshold := p.FailureThreshold
	if threshold <= 0 {
		threshold = 1
	}
	return a.ConsecutiveFailures >= threshold
}
