package connectivity

import (
	"math"
	"time"
)

// ReconnectPolicy controls whether an offline session re-subscribes and how
// long it waits between attempts. Disabled by default: a session that went
// offline stays offline until the next session start.
type ReconnectPolicy struct {
	Enabled      bool          `yaml:"enabled"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	// MaxAttempts of 0 means no limit.
	MaxAttempts int `yaml:"max_attempts"`
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:      false,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		MaxAttempts:  0,
	}
}

// Delay returns the wait before the given attempt, counting from 1. The
// second result is false when no attempt should be made.
func (p ReconnectPolicy) Delay(attempt int) (time.Duration, bool) {
	if !p.Enabled || attempt < 1 {
		return 0, false
	}
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay, true
	}
	return time.Duration(d), true
}
