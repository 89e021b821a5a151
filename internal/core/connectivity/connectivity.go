// Package connectivity derives a session's SyncMode from the health of its
// remote subscription. There is no independent network probe.
package connectivity

import (
	"sync"
	"time"
)

type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeOnline
	ModeOffline
)

func (m Mode) String() string {
	switch m {
	case ModeOnline:
		return "online"
	case ModeOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Classifier tracks one subscription at a time: a delivered snapshot means
// online, an error means offline. Reset starts over for a new subscription.
type Classifier struct {
	mu      sync.RWMutex
	mode    Mode
	since   time.Time
	lastErr error
	now     func() time.Time
}

func NewClassifier() *Classifier {
	return &Classifier{now: time.Now}
}

// OnSnapshot records a delivered snapshot. The second result reports a
// mode change.
func (c *Classifier) OnSnapshot() (Mode, bool) {
	return c.set(ModeOnline, nil)
}

// OnError records a subscription failure.
func (c *Classifier) OnError(err error) (Mode, bool) {
	return c.set(ModeOffline, err)
}

func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeUnknown
	c.since = time.Time{}
	c.lastErr = nil
}

func (c *Classifier) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Since is when the current mode was entered; zero while unknown.
func (c *Classifier) Since() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.since
}

func (c *Classifier) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Classifier) set(mode Mode, err error) (Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err
	}
	if c.mode == mode {
		return mode, false
	}
	c.mode = mode
	c.since = c.now()
	return mode, true
}
