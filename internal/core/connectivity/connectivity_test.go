package connectivity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifierFollowsSubscriptionHealth(t *testing.T) {
	c := NewClassifier()
	assert.Equal(t, ModeUnknown, c.Mode())
	assert.True(t, c.Since().IsZero())

	mode, changed := c.OnSnapshot()
	assert.Equal(t, ModeOnline, mode)
	assert.True(t, changed)

	_, changed = c.OnSnapshot()
	assert.False(t, changed)

	boom := errors.New("listen failed")
	mode, changed = c.OnError(boom)
	assert.Equal(t, ModeOffline, mode)
	assert.True(t, changed)
	assert.Same(t, boom, c.LastError())

	c.Reset()
	assert.Equal(t, ModeUnknown, c.Mode())
	assert.NoError(t, c.LastError())
}

func TestClassifierErrorBeforeSnapshot(t *testing.T) {
	c := NewClassifier()
	mode, changed := c.OnError(errors.New("no network"))
	assert.Equal(t, ModeOffline, mode)
	assert.True(t, changed)
	assert.Equal(t, "offline", c.Mode().String())
}

func TestReconnectPolicyDisabledByDefault(t *testing.T) {
	_, ok := DefaultReconnectPolicy().Delay(1)
	assert.False(t, ok)
}

func TestReconnectPolicyBackoff(t *testing.T) {
	p := ReconnectPolicy{
		Enabled:      true,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		MaxAttempts:  6,
	}

	cases := []struct {
		attempt int
		want    time.Duration
		ok      bool
	}{
		{0, 0, false},
		{1, 100 * time.Millisecond, true},
		{2, 200 * time.Millisecond, true},
		{4, 800 * time.Millisecond, true},
		{5, time.Second, true},
		{6, time.Second, true},
		{7, 0, false},
	}
	for _, tc := range cases {
		got, ok := p.Delay(tc.attempt)
		assert.Equal(t, tc.ok, ok, "attempt %d", tc.attempt)
		assert.Equal(t, tc.want, got, "attempt %d", tc.attempt)
	}
}
