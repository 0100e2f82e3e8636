package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Registry owns the project → live connections mapping. All mutations are
// synchronous and guarded by a single RWMutex; nothing here performs
// blocking I/O beyond the per-connection Send, which the transport adapter
// guarantees is non-blocking.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Add registers a client under its project room, creating the room if
// absent. Adding the same client twice has no additional effect. It reports
// whether this is the user's first open connection to the project; the
// check and the insert happen under one mutex hold, so exactly one of
// several concurrent adds for the same user observes true.
func (r *Registry) Add(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[client.ProjectID]
	if !ok {
		room = make(map[*Client]struct{})
		r.rooms[client.ProjectID] = room
	}
	if _, exists := room[client]; exists {
		return false
	}
	first := !r.userOpenLocked(room, client.User.ID, client)
	room[client] = struct{}{}
	return first
}

// Remove unregisters a client. When the room becomes empty the room entry
// itself is deleted so abandoned projects do not leak memory. It reports
// whether the user now has no open connection left in the project, computed
// atomically with the removal; removing a client that was never added
// reports false.
func (r *Registry) Remove(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[client.ProjectID]
	if !ok {
		return false
	}
	if _, exists := room[client]; !exists {
		return false
	}
	delete(room, client)
	last := !r.userOpenLocked(room, client.User.ID, nil)
	if len(room) == 0 {
		delete(r.rooms, client.ProjectID)
	}
	return last
}

// userOpenLocked reports whether the user has an open connection in the
// room other than skip. Callers must hold r.mu.
func (r *Registry) userOpenLocked(room map[*Client]struct{}, userID string, skip *Client) bool {
	for c := range room {
		if c == skip || c.User.ID != userID {
			continue
		}
		if c.Open() {
			return true
		}
	}
	return false
}

// Broadcast JSON-encodes message once and delivers it to every open
// connection in the project room, skipping connections owned by
// excludeUserID (empty string excludes nobody). A send failure on one
// connection is logged and never interrupts delivery to the rest.
func (r *Registry) Broadcast(projectID string, message any, excludeUserID string) {
	data, err := json.Marshal(message)
	if err != nil {
		r.logger.Error("broadcast marshal failed", "project", projectID, "error", err)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for client := range r.rooms[projectID] {
		if excludeUserID != "" && client.User.ID == excludeUserID {
			continue
		}
		r.deliver(client, data)
	}
}

// SendToUser delivers message to every open connection the user holds in
// the project and returns the number of connections written to. A zero
// return tells the caller the user is unreachable here (push-notification
// fallback territory).
func (r *Registry) SendToUser(projectID, userID string, message any) int {
	return r.SendToUsers(projectID, []string{userID}, message)
}

// SendToUsers is the multi-recipient form of SendToUser.
func (r *Registry) SendToUsers(projectID string, userIDs []string, message any) int {
	data, err := json.Marshal(message)
	if err != nil {
		r.logger.Error("send marshal failed", "project", projectID, "error", err)
		return 0
	}

	targets := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		targets[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for client := range r.rooms[projectID] {
		if _, ok := targets[client.User.ID]; !ok {
			continue
		}
		if r.deliver(client, data) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) deliver(client *Client, data []byte) bool {
	if !client.Open() {
		return false
	}
	if err := client.Send(data); err != nil {
		r.logger.Warn("send failed",
			"project", client.ProjectID,
			"user", client.User.ID,
			"connection", client.ID,
			"error", err)
		return false
	}
	return true
}

// ClientCount returns the number of open connections in a project room.
func (r *Registry) ClientCount(projectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for client := range r.rooms[projectID] {
		if client.Open() {
			count++
		}
	}
	return count
}

// UniqueUserCount returns the number of distinct users with at least one
// open connection in the project.
func (r *Registry) UniqueUserCount(projectID string) int {
	return len(r.ConnectedUserIDs(projectID))
}

// ConnectedUserIDs lists distinct users with an open connection in the
// project.
func (r *Registry) ConnectedUserIDs(projectID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for client := range r.rooms[projectID] {
		if !client.Open() {
			continue
		}
		if _, ok := seen[client.User.ID]; ok {
			continue
		}
		seen[client.User.ID] = struct{}{}
		ids = append(ids, client.User.ID)
	}
	return ids
}

// IsUserConnected reports whether the user has any open connection in the
// project.
func (r *Registry) IsUserConnected(projectID, userID string) bool {
	return r.UserConnectionCount(projectID, userID) > 0
}

// UserConnectionCount returns the number of open connections the user holds
// in the project.
func (r *Registry) UserConnectionCount(projectID, userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for client := range r.rooms[projectID] {
		if client.User.ID == userID && client.Open() {
			count++
		}
	}
	return count
}

// RoomCount returns the number of allocated project rooms. Empty rooms are
// deleted eagerly, so this doubles as a leak check.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
