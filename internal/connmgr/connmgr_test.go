package connmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kvnkishore11/agentickanban/pkg/events"
)

func TestSession_RateLimitWindow(t *testing.T) {
	s := &session{}
	now := time.Now()

	for i := 0; i < RateLimitMax; i++ {
		assert.True(t, s.checkRateLimit(now), "attempt %d should be allowed", i)
	}
	assert.False(t, s.checkRateLimit(now), "attempt beyond the cap should be rejected")
}

func TestSession_RateLimitPrunesOldEntries(t *testing.T) {
	s := &session{}
	past := time.Now().Add(-2 * RateLimitWindow)
	for i := 0; i < RateLimitMax; i++ {
		s.triggerTimestamps = append(s.triggerTimestamps, past)
	}

	assert.True(t, s.checkRateLimit(time.Now()), "expired timestamps must not count against the window")
	assert.Len(t, s.triggerTimestamps, 1)
}

func TestSession_IsIdle(t *testing.T) {
	s := &session{lastActivityAt: time.Now().Add(-IdleTimeout - time.Second)}
	assert.True(t, s.isIdle(time.Now()))

	s2 := &session{lastActivityAt: time.Now()}
	assert.False(t, s2.isIdle(time.Now()))
}

func TestSession_SubscriptionsEmptyMeansAll(t *testing.T) {
	s := &session{}
	assert.Nil(t, s.subscriptions())

	s.subscribedADWIDs = map[string]bool{"adw1": true}
	subs := s.subscriptions()
	assert.True(t, subs["adw1"])
	assert.False(t, subs["adw2"])
}

func TestManager_CountAndDisconnectUnknown(t *testing.T) {
	m := NewManager()
	assert.Equal(t, 0, m.Count())

	// Disconnecting an id that was never connected must not panic.
	m.Disconnect("nonexistent")
	assert.Equal(t, 0, m.Count())
}

func TestManager_SendToUnknownConnectionFails(t *testing.T) {
	m := NewManager()
	ok := m.SendTo("nonexistent", events.New(events.TypePing, nil))
	assert.False(t, ok)
}

func TestManager_SubscribeUnknownConnectionIsNoop(t *testing.T) {
	m := NewManager()
	m.SubscribeToADW("nonexistent", "adw1")
	m.UnsubscribeFromADW("nonexistent", "adw1")
	assert.Equal(t, 0, m.Count())
}

func TestManager_RegisterSessionUnknownConnectionFails(t *testing.T) {
	m := NewManager()
	ok := m.RegisterSession("nonexistent", "client-1", nil)
	assert.False(t, ok)
}
