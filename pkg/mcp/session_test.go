package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_CreateAssignsUniqueIDs(t *testing.T) {
	store := NewSessionStore(time.Minute)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess := store.Create()
		require.NotEmpty(t, sess.ID)
		require.False(t, seen[sess.ID], "duplicate session ID")
		seen[sess.ID] = true
	}
	assert.Equal(t, 100, store.Count())
}

func TestSessionStore_CreateInitialState(t *testing.T) {
	store := NewSessionStore(time.Minute)
	sess := store.Create()

	assert.False(t, sess.Initialized)
	assert.Empty(t, sess.Subscriptions)
	assert.Equal(t, 0, sess.RequestCount)
	assert.False(t, sess.LastActivity.IsZero())
}

func TestSessionStore_GetUnknownIDReturnsNil(t *testing.T) {
	store := NewSessionStore(time.Minute)
	store.Create()

	assert.Nil(t, store.Get("never-created"))
	assert.False(t, store.Has("never-created"))
}

func TestSessionStore_LazyExpiration(t *testing.T) {
	store := NewSessionStore(50 * time.Millisecond)
	sess := store.Create()

	require.NotNil(t, store.Get(sess.ID))

	time.Sleep(60 * time.Millisecond)

	assert.Nil(t, store.Get(sess.ID))
	assert.False(t, store.Has(sess.ID))
	// Idempotent thereafter.
	assert.Nil(t, store.Get(sess.ID))
	assert.Equal(t, 0, store.Count())
}

func TestSessionStore_TouchRefreshesActivity(t *testing.T) {
	store := NewSessionStore(100 * time.Millisecond)
	sess := store.Create()

	time.Sleep(60 * time.Millisecond)
	store.Touch(sess.ID)
	time.Sleep(60 * time.Millisecond)

	// 120ms since creation, but only 60ms since the touch.
	require.NotNil(t, store.Get(sess.ID))
	assert.Equal(t, 1, store.Get(sess.ID).RequestCount)
}

func TestSessionStore_SetTimeout(t *testing.T) {
	store := NewSessionStore(time.Hour)
	sess := store.Create()

	store.SetTimeout(30 * time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	assert.Nil(t, store.Get(sess.ID))
}

func TestSessionStore_ScheduleExpireAfterBoundary(t *testing.T) {
	store := NewSessionStore(time.Minute)
	sess := store.Create()
	store.ScheduleExpireAfter(sess.ID, 3)

	store.Touch(sess.ID)
	store.Touch(sess.ID)
	assert.True(t, store.Has(sess.ID), "two touches must leave the session reachable")

	store.Touch(sess.ID)
	assert.False(t, store.Has(sess.ID), "the third touch must evict the session")
}

func TestSessionStore_ScheduleExpireAfterClearsRule(t *testing.T) {
	store := NewSessionStore(time.Minute)
	sess := store.Create()
	store.ScheduleExpireAfter(sess.ID, 1)
	store.Touch(sess.ID)
	require.False(t, store.Has(sess.ID))

	// A fresh session with the same store is unaffected: the rule was
	// consumed together with the evicted session.
	next := store.Create()
	store.Touch(next.ID)
	assert.True(t, store.Has(next.ID))
}

func TestSessionStore_ExpireAndExpireAll(t *testing.T) {
	store := NewSessionStore(time.Minute)
	a := store.Create()
	b := store.Create()

	store.Expire(a.ID)
	assert.False(t, store.Has(a.ID))
	assert.True(t, store.Has(b.ID))

	store.ExpireAll()
	assert.False(t, store.Has(b.ID))
	assert.Equal(t, 0, store.Count())
}

func TestSessionStore_TouchUnknownIDIsNoop(t *testing.T) {
	store := NewSessionStore(time.Minute)
	store.Touch("ghost")
	assert.Equal(t, 0, store.Count())
}

func TestSessionStore_SubscribeUnsubscribe(t *testing.T) {
	store := NewSessionStore(time.Minute)
	sess := store.Create()

	store.Subscribe(sess.ID, "mockmcp://events")
	store.Subscribe(sess.ID, "mockmcp://sessions")
	assert.True(t, store.Get(sess.ID).Subscriptions["mockmcp://events"])

	store.Unsubscribe(sess.ID, "mockmcp://events")
	assert.False(t, store.Get(sess.ID).Subscriptions["mockmcp://events"])
	assert.True(t, store.Get(sess.ID).Subscriptions["mockmcp://sessions"])
}

func TestSessionStore_MarkInitialized(t *testing.T) {
	store := NewSessionStore(time.Minute)
	sess := store.Create()
	require.False(t, sess.Initialized)

	store.MarkInitialized(sess.ID)
	assert.True(t, store.Get(sess.ID).Initialized)
}

func TestSessionStore_SetClientData(t *testing.T) {
	store := NewSessionStore(time.Minute)
	sess := store.Create()

	store.SetClientData(sess.ID, "2025-06-18", ClientInfo{Name: "test-client", Version: "1.2.3"})

	got := store.Get(sess.ID)
	assert.Equal(t, "2025-06-18", got.ProtocolVersion)
	assert.Equal(t, "test-client", got.ClientInfo.Name)
}

func TestSessionStore_List(t *testing.T) {
	store := NewSessionStore(time.Minute)
	a := store.Create()
	b := store.Create()

	ids := store.List()
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}
