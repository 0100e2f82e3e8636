package presence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mgrover/collabd/internal/clock"
	"github.com/mgrover/collabd/internal/domain/presence"
	"github.com/mgrover/collabd/internal/hub"
)

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func alice() hub.UserRef {
	return hub.UserRef{ID: "alice", Email: "alice@example.com", Name: "Alice"}
}

func TestTracker_JoinCreatesOnlineRecord(t *testing.T) {
	clk := clock.NewFake(start)
	tr := presence.NewTracker(clk)

	rec := tr.Join("p1", alice())
	require.Equal(t, presence.StatusOnline, rec.Status)
	require.Equal(t, start, rec.LastActive)

	got, ok := tr.Get("p1", "alice")
	require.True(t, ok)
	require.Equal(t, rec, got)
}

func TestTracker_RejoinRefreshesExistingRecord(t *testing.T) {
	clk := clock.NewFake(start)
	tr := presence.NewTracker(clk)

	tr.Join("p1", alice())
	_, ok := tr.Update("p1", "alice", presence.StatusAway)
	require.True(t, ok)

	clk.Advance(time.Minute)
	rec := tr.Join("p1", alice())
	require.Equal(t, presence.StatusOnline, rec.Status)
	require.Equal(t, start.Add(time.Minute), rec.LastActive)
	require.Len(t, tr.List("p1"), 1)
}

func TestTracker_LeaveRemovesAndReportsOffline(t *testing.T) {
	clk := clock.NewFake(start)
	tr := presence.NewTracker(clk)

	tr.Join("p1", alice())
	departed, ok := tr.Leave("p1", "alice")
	require.True(t, ok)
	require.Equal(t, presence.StatusOffline, departed.Status)

	_, ok = tr.Get("p1", "alice")
	require.False(t, ok)
	require.Empty(t, tr.List("p1"))

	_, ok = tr.Leave("p1", "alice")
	require.False(t, ok)
}

func TestTracker_UpdateValidatesStatus(t *testing.T) {
	tr := presence.NewTracker(clock.NewFake(start))
	tr.Join("p1", alice())

	_, ok := tr.Update("p1", "alice", presence.Status("busy"))
	require.False(t, ok)

	rec, ok := tr.Update("p1", "alice", presence.StatusAway)
	require.True(t, ok)
	require.Equal(t, presence.StatusAway, rec.Status)

	_, ok = tr.Update("p1", "ghost", presence.StatusOnline)
	require.False(t, ok)
}

func TestTracker_WorkingOn(t *testing.T) {
	tr := presence.NewTracker(clock.NewFake(start))
	tr.Join("p1", alice())

	rec, ok := tr.SetWorkingOn("p1", "alice", &presence.WorkingOn{TaskID: "T1.1", Activity: "editing"})
	require.True(t, ok)
	require.NotNil(t, rec.WorkingOn)
	require.Equal(t, "T1.1", rec.WorkingOn.TaskID)

	rec, ok = tr.SetWorkingOn("p1", "alice", nil)
	require.True(t, ok)
	require.Nil(t, rec.WorkingOn)
}

func TestTracker_ListIsSortedPerProject(t *testing.T) {
	tr := presence.NewTracker(clock.NewFake(start))
	tr.Join("p1", hub.UserRef{ID: "carol"})
	tr.Join("p1", hub.UserRef{ID: "alice"})
	tr.Join("p2", hub.UserRef{ID: "bob"})

	list := tr.List("p1")
	require.Len(t, list, 2)
	require.Equal(t, "alice", list[0].User.ID)
	require.Equal(t, "carol", list[1].User.ID)
}
