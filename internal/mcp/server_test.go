package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/mgrover/collabd/internal/domain/lock"
	"github.com/mgrover/collabd/internal/domain/presence"
	"github.com/mgrover/collabd/internal/hub"
	"github.com/mgrover/collabd/internal/realtime"
)

type realtimeStub struct {
	presenceFn func(string) []presence.Record
	locksFn    func(string) []lock.TaskLock
	statsFn    func(string) realtime.RoomStats
}

func (s realtimeStub) Presence(projectID string) []presence.Record { return s.presenceFn(projectID) }
func (s realtimeStub) Locks(projectID string) []lock.TaskLock      { return s.locksFn(projectID) }
func (s realtimeStub) Stats(projectID string) realtime.RoomStats   { return s.statsFn(projectID) }

func newSession(t *testing.T, rt Realtime) *sdkmcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	server := NewServer(Config{Realtime: rt})
	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *sdkmcp.ClientSession, name string, args map[string]any, out any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err, "CallTool %s failed", name)
	require.False(t, result.IsError, "tool %s returned error", name)
	require.NotNil(t, result.StructuredContent)

	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestServer_ListTools(t *testing.T) {
	session := newSession(t, realtimeStub{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	require.True(t, names["list_project_presence"])
	require.True(t, names["list_project_locks"])
	require.True(t, names["get_room_stats"])
	require.Len(t, tools.Tools, 3, "the surface is read-only introspection")
}

func TestServer_ListProjectPresence(t *testing.T) {
	var gotProject string
	session := newSession(t, realtimeStub{
		presenceFn: func(projectID string) []presence.Record {
			gotProject = projectID
			return []presence.Record{{
				User:   hub.UserRef{ID: "alice", Name: "Alice"},
				Status: presence.StatusOnline,
				WorkingOn: &presence.WorkingOn{
					TaskID: "T1.1", Activity: "editing",
				},
			}}
		},
	})

	var out presenceOutput
	callTool(t, session, "list_project_presence", map[string]any{"project_id": "p1"}, &out)

	require.Equal(t, "p1", gotProject)
	require.Len(t, out.Users, 1)
	require.Equal(t, "alice", out.Users[0].User.ID)
	require.Equal(t, presence.StatusOnline, out.Users[0].Status)
	require.Equal(t, "T1.1", out.Users[0].WorkingOn.TaskID)
}

func TestServer_ListProjectLocks(t *testing.T) {
	expires := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	session := newSession(t, realtimeStub{
		locksFn: func(string) []lock.TaskLock {
			return []lock.TaskLock{{
				TaskID:    "T1.1",
				Holder:    hub.UserRef{ID: "alice"},
				ExpiresAt: expires,
			}}
		},
	})

	var out locksOutput
	callTool(t, session, "list_project_locks", map[string]any{"project_id": "p1"}, &out)

	require.Len(t, out.Locks, 1)
	require.Equal(t, "T1.1", out.Locks[0].TaskID)
	require.Equal(t, expires, out.Locks[0].ExpiresAt)
}

func TestServer_GetRoomStats(t *testing.T) {
	session := newSession(t, realtimeStub{
		statsFn: func(projectID string) realtime.RoomStats {
			return realtime.RoomStats{
				ProjectID:   projectID,
				Connections: 3,
				Users:       2,
				UserIDs:     []string{"alice", "bob"},
				ActiveLocks: 1,
			}
		},
	})

	var out realtime.RoomStats
	callTool(t, session, "get_room_stats", map[string]any{"project_id": "p1"}, &out)

	require.Equal(t, "p1", out.ProjectID)
	require.Equal(t, 3, out.Connections)
	require.Equal(t, 2, out.Users)
	require.Equal(t, []string{"alice", "bob"}, out.UserIDs)
	require.Equal(t, 1, out.ActiveLocks)
}
