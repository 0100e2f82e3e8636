package lock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mgrover/collabd/internal/clock"
	"github.com/mgrover/collabd/internal/domain/lock"
	"github.com/mgrover/collabd/internal/hub"
)

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func alice() hub.UserRef {
	return hub.UserRef{ID: "alice", Email: "alice@example.com", Name: "Alice"}
}

func bob() hub.UserRef {
	return hub.UserRef{ID: "bob", Email: "bob@example.com", Name: "Bob"}
}

func TestManager_AcquireGrantsFreeLock(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, time.Minute)

	result := m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", TaskUUID: "uuid-1", User: alice()})
	require.True(t, result.Granted)
	require.False(t, result.OwnLock)
	require.Equal(t, "alice", result.Lock.Holder.ID)
	require.Equal(t, start, result.Lock.AcquiredAt)
	require.Equal(t, start.Add(time.Minute), result.Lock.ExpiresAt)
}

func TestManager_MutualExclusion(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, time.Minute)

	require.True(t, m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice()}).Granted)

	result := m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: bob()})
	require.False(t, result.Granted)
	require.Equal(t, "alice", result.Lock.Holder.ID, "loser must see the current holder")

	// a different task in the same project is independent
	require.True(t, m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.2", User: bob()}).Granted)
	// same task in another project is independent too
	require.True(t, m.Acquire("p2", lock.AcquireRequest{TaskID: "T1.1", User: bob()}).Granted)
}

func TestManager_ReacquireByHolderIsIdempotent(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, time.Minute)

	first := m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice()})
	require.True(t, first.Granted)

	clk.Advance(30 * time.Second)
	again := m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice()})
	require.True(t, again.Granted)
	require.True(t, again.OwnLock)
	require.Equal(t, first.Lock.ExpiresAt, again.Lock.ExpiresAt, "re-acquire must not move expiry")
}

func TestManager_ExpiredLockIsAbsent(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, 0)

	m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice(), Duration: 2 * time.Minute})

	clk.Advance(2*time.Minute + time.Millisecond)

	_, held := m.Get("p1", "T1.1")
	require.False(t, held)
	require.Empty(t, m.ProjectLocks("p1"))

	// another user can now acquire
	result := m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: bob()})
	require.True(t, result.Granted)
	require.Equal(t, "bob", result.Lock.Holder.ID)
}

func TestManager_LockAbsentAtExactExpiry(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, time.Minute)

	m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice(), Duration: 2 * time.Minute})

	// the lease covers [acquiredAt, acquiredAt+D); at exactly +D the lock
	// is gone
	clk.Advance(2 * time.Minute)

	_, held := m.Get("p1", "T1.1")
	require.False(t, held)
	require.Empty(t, m.ProjectLocks("p1"))

	result := m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: bob()})
	require.True(t, result.Granted)
	require.Equal(t, "bob", result.Lock.Holder.ID)
}

func TestManager_ReleaseChecksHolder(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, time.Minute)

	m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice()})

	_, ok := m.Release("p1", "T1.1", "bob")
	require.False(t, ok, "non-holder must not release")
	_, held := m.Get("p1", "T1.1")
	require.True(t, held)

	released, ok := m.Release("p1", "T1.1", "alice")
	require.True(t, ok)
	require.Equal(t, "alice", released.Holder.ID)
	_, held = m.Get("p1", "T1.1")
	require.False(t, held)
}

func TestManager_ReleaseWithoutUserIsUnconditional(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, time.Minute)

	m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice()})

	_, ok := m.Release("p1", "T1.1", "")
	require.True(t, ok)
	_, held := m.Get("p1", "T1.1")
	require.False(t, held)
}

func TestManager_ReleaseExpiredLockReportsNothing(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, time.Minute)

	m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice()})
	clk.Advance(2 * time.Minute)

	_, ok := m.Release("p1", "T1.1", "alice")
	require.False(t, ok)
}

func TestManager_Extend(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, time.Minute)

	m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice()})

	clk.Advance(30 * time.Second)
	extended, ok := m.Extend("p1", "T1.1", "alice", 2*time.Minute)
	require.True(t, ok)
	require.Equal(t, clk.Now().Add(2*time.Minute), extended.ExpiresAt)

	_, ok = m.Extend("p1", "T1.1", "bob", time.Minute)
	require.False(t, ok, "only the holder may extend")

	clk.Advance(3 * time.Minute)
	_, ok = m.Extend("p1", "T1.1", "alice", time.Minute)
	require.False(t, ok, "an expired lock cannot be extended")
}

func TestManager_ReleaseUserLocks(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, time.Minute)

	m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice()})
	m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.2", User: alice()})
	m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.3", User: bob()})

	released := m.ReleaseUserLocks("p1", "alice")
	require.Len(t, released, 2)
	require.Equal(t, "T1.1", released[0].TaskID)
	require.Equal(t, "T1.2", released[1].TaskID)

	locks := m.ProjectLocks("p1")
	require.Len(t, locks, 1)
	require.Equal(t, "bob", locks[0].Holder.ID)
}

func TestManager_Purge(t *testing.T) {
	clk := clock.NewFake(start)
	m := lock.NewManager(clk, time.Minute)

	m.Acquire("p1", lock.AcquireRequest{TaskID: "T1.1", User: alice()})
	m.Acquire("p2", lock.AcquireRequest{TaskID: "T2.1", User: bob(), Duration: time.Hour})

	clk.Advance(2 * time.Minute)
	expired := m.Purge()
	require.Len(t, expired, 1)
	require.Len(t, expired["p1"], 1)
	require.Equal(t, "T1.1", expired["p1"][0].TaskID)
	require.Equal(t, "alice", expired["p1"][0].Holder.ID)
	require.Empty(t, m.ProjectLocks("p1"))
	require.Len(t, m.ProjectLocks("p2"), 1)

	require.Empty(t, m.Purge(), "a second sweep finds nothing")
}
