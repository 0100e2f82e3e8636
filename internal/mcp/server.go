package mcp

import (
	"context"
	"log/slog"
	"net/http"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mgrover/collabd/internal/domain/lock"
	"github.com/mgrover/collabd/internal/domain/presence"
	"github.com/mgrover/collabd/internal/realtime"
)

const serverInstructions = `Read-only introspection for the realtime collaboration service.
Tools report live presence, task locks and room statistics per project.
State is in-memory and reflects the current process only.`

// Realtime is the slice of the dispatcher the MCP tools need.
type Realtime interface {
	Presence(projectID string) []presence.Record
	Locks(projectID string) []lock.TaskLock
	Stats(projectID string) realtime.RoomStats
}

// Config contains server configuration.
type Config struct {
	Realtime Realtime
	Logger   *slog.Logger
}

type projectInput struct {
	ProjectID string `json:"project_id" jsonschema:"Project identifier"`
}

type presenceOutput struct {
	Users []presence.Record `json:"users"`
}

type locksOutput struct {
	Locks []lock.TaskLock `json:"locks"`
}

// NewServer creates an MCP server exposing the read-only collaboration
// tools.
func NewServer(cfg Config) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "collabd",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	rt := cfg.Realtime

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_project_presence",
		Description: "List who is currently online in a project and what they are working on",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in projectInput) (*sdkmcp.CallToolResult, presenceOutput, error) {
		return nil, presenceOutput{Users: rt.Presence(in.ProjectID)}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_project_locks",
		Description: "List active task edit locks in a project, including holder and expiry",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in projectInput) (*sdkmcp.CallToolResult, locksOutput, error) {
		return nil, locksOutput{Locks: rt.Locks(in.ProjectID)}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_room_stats",
		Description: "Get live connection and user counts for a project room",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in projectInput) (*sdkmcp.CallToolResult, realtime.RoomStats, error) {
		return nil, rt.Stats(in.ProjectID), nil
	})

	return server
}

// NewHTTPHandler mounts the MCP server over the streamable HTTP transport.
func NewHTTPHandler(server *sdkmcp.Server) http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(
		func(r *http.Request) *sdkmcp.Server { return server },
		&sdkmcp.StreamableHTTPOptions{Stateless: true},
	)
}
