package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mgrover/collabd/internal/domain/lock"
	"github.com/mgrover/collabd/internal/domain/presence"
	"github.com/mgrover/collabd/internal/domain/typing"
	"github.com/mgrover/collabd/internal/event"
	"github.com/mgrover/collabd/internal/hub"
)

// Dispatcher wires the connection registry, presence tracker, lock manager
// and typing tracker into the collaboration protocol: it drives the
// connect/disconnect lifecycle, routes inbound client frames by their type
// discriminator, and relays backend-published domain events. It holds no
// state of its own.
type Dispatcher struct {
	registry *hub.Registry
	presence *presence.Tracker
	locks    *lock.Manager
	typing   *typing.Tracker
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given components.
func NewDispatcher(
	registry *hub.Registry,
	presenceTracker *presence.Tracker,
	lockManager *lock.Manager,
	typingTracker *typing.Tracker,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		presence: presenceTracker,
		locks:    lockManager,
		typing:   typingTracker,
		logger:   logger,
	}
}

// Connect registers a new connection. The first connection a user opens to
// a project announces them to the room; every new connection receives the
// current presence roster and active locks point-to-point so its UI can
// render state without waiting for the next broadcast.
func (d *Dispatcher) Connect(projectID string, user hub.UserRef, conn hub.Conn) *hub.Client {
	client := hub.NewClient(projectID, user, conn)

	// Add decides under the registry mutex whether this is the user's first
	// connection, so concurrent tabs cannot both announce.
	first := d.registry.Add(client)

	if first {
		rec := d.presence.Join(projectID, user)
		d.registry.Broadcast(projectID, event.PresenceJoined(projectID, rec), user.ID)
	}

	d.sendTo(client, event.PresenceList(projectID, d.presence.List(projectID)))
	d.sendTo(client, event.LocksList(projectID, d.locks.ProjectLocks(projectID)))

	d.logger.Info("client connected",
		"project", projectID, "user", user.ID, "connection", client.ID, "first", first)
	return client
}

// Disconnect unregisters a connection. When it was the user's last
// connection to the project, their locks are released (attributed to the
// disconnecting user), their typing indicators are cleared, and the room is
// told they left.
func (d *Dispatcher) Disconnect(client *hub.Client) {
	projectID, user := client.ProjectID, client.User
	if !d.registry.Remove(client) {
		return // other tabs or devices remain
	}

	for _, released := range d.locks.ReleaseUserLocks(projectID, user.ID) {
		holder := user
		d.registry.Broadcast(projectID,
			event.TaskUnlocked(projectID, released.TaskID, released.TaskUUID, &holder), user.ID)
	}

	for _, taskID := range d.typing.StopUser(projectID, user.ID) {
		d.registry.Broadcast(projectID, event.CommentTypingStop(projectID, taskID, user), user.ID)
	}

	if rec, ok := d.presence.Leave(projectID, user.ID); ok {
		d.registry.Broadcast(projectID, event.PresenceLeft(projectID, rec), user.ID)
	}

	d.logger.Info("client disconnected",
		"project", projectID, "user", user.ID, "connection", client.ID)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type lockRequestData struct {
	TaskID     string `json:"taskId"`
	TaskUUID   string `json:"taskUuid"`
	DurationMs int64  `json:"durationMs"`
}

type taskRefData struct {
	TaskID string `json:"taskId"`
}

type presenceUpdateData struct {
	Status    presence.Status     `json:"status"`
	WorkingOn *presence.WorkingOn `json:"workingOn"`
}

type workingOnUpdateData struct {
	WorkingOn *presence.WorkingOn `json:"workingOn"`
}

// HandleMessage routes one inbound client frame. Malformed frames and
// unknown types are logged and dropped; they never fail the connection.
func (d *Dispatcher) HandleMessage(client *hub.Client, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.logger.Warn("malformed client message",
			"project", client.ProjectID, "user", client.User.ID, "error", err)
		return
	}

	switch msg.Type {
	case "lock_request":
		d.handleLockRequest(client, msg.Data)
	case "lock_release":
		d.handleLockRelease(client, msg.Data)
	case "lock_extend":
		d.handleLockExtend(client, msg.Data)
	case "typing_start":
		d.handleTypingStart(client, msg.Data)
	case "typing_stop":
		d.handleTypingStop(client, msg.Data)
	case "presence_update":
		d.handlePresenceUpdate(client, msg.Data)
	case "working_on_update":
		d.handleWorkingOnUpdate(client, msg.Data)
	default:
		d.logger.Warn("unknown client message type",
			"project", client.ProjectID, "user", client.User.ID, "type", msg.Type)
	}
}

func (d *Dispatcher) handleLockRequest(client *hub.Client, data json.RawMessage) {
	var req lockRequestData
	if !d.decode(client, data, &req) || req.TaskID == "" {
		return
	}

	result := d.locks.Acquire(client.ProjectID, lock.AcquireRequest{
		TaskID:   req.TaskID,
		TaskUUID: req.TaskUUID,
		User:     client.User,
		Duration: time.Duration(req.DurationMs) * time.Millisecond,
	})

	if !result.Granted {
		d.sendTo(client, event.TaskLockDenied(client.ProjectID, result.Lock))
		return
	}

	env := event.TaskLocked(client.ProjectID, result.Lock)
	d.sendTo(client, env)
	d.registry.Broadcast(client.ProjectID, env, client.User.ID)
}

func (d *Dispatcher) handleLockRelease(client *hub.Client, data json.RawMessage) {
	var req taskRefData
	if !d.decode(client, data, &req) || req.TaskID == "" {
		return
	}

	released, ok := d.locks.Release(client.ProjectID, req.TaskID, client.User.ID)
	if !ok {
		return
	}
	releasedBy := client.User
	d.registry.Broadcast(client.ProjectID,
		event.TaskUnlocked(client.ProjectID, released.TaskID, released.TaskUUID, &releasedBy),
		client.User.ID)
}

func (d *Dispatcher) handleLockExtend(client *hub.Client, data json.RawMessage) {
	var req lockRequestData
	if !d.decode(client, data, &req) || req.TaskID == "" {
		return
	}

	extended, ok := d.locks.Extend(client.ProjectID, req.TaskID, client.User.ID,
		time.Duration(req.DurationMs)*time.Millisecond)
	if !ok {
		if current, held := d.locks.Get(client.ProjectID, req.TaskID); held {
			d.sendTo(client, event.TaskLockDenied(client.ProjectID, current))
		}
		return
	}

	env := event.TaskLockExtended(client.ProjectID, extended)
	d.sendTo(client, env)
	d.registry.Broadcast(client.ProjectID, env, client.User.ID)
}

func (d *Dispatcher) handleTypingStart(client *hub.Client, data json.RawMessage) {
	var req taskRefData
	if !d.decode(client, data, &req) || req.TaskID == "" {
		return
	}
	ind := d.typing.Start(client.ProjectID, req.TaskID, client.User)
	d.registry.Broadcast(client.ProjectID,
		event.CommentTypingStart(client.ProjectID, ind), client.User.ID)
}

func (d *Dispatcher) handleTypingStop(client *hub.Client, data json.RawMessage) {
	var req taskRefData
	if !d.decode(client, data, &req) || req.TaskID == "" {
		return
	}
	if d.typing.Stop(client.ProjectID, req.TaskID, client.User.ID) {
		d.registry.Broadcast(client.ProjectID,
			event.CommentTypingStop(client.ProjectID, req.TaskID, client.User), client.User.ID)
	}
}

func (d *Dispatcher) handlePresenceUpdate(client *hub.Client, data json.RawMessage) {
	var req presenceUpdateData
	if !d.decode(client, data, &req) {
		return
	}

	if req.WorkingOn != nil {
		d.presence.SetWorkingOn(client.ProjectID, client.User.ID, req.WorkingOn)
	}
	rec, ok := d.presence.Update(client.ProjectID, client.User.ID, req.Status)
	if !ok {
		d.logger.Warn("presence update rejected",
			"project", client.ProjectID, "user", client.User.ID, "status", req.Status)
		return
	}
	d.registry.Broadcast(client.ProjectID,
		event.PresenceUpdated(client.ProjectID, rec), client.User.ID)
}

func (d *Dispatcher) handleWorkingOnUpdate(client *hub.Client, data json.RawMessage) {
	var req workingOnUpdateData
	if !d.decode(client, data, &req) {
		return
	}
	if _, ok := d.presence.SetWorkingOn(client.ProjectID, client.User.ID, req.WorkingOn); !ok {
		return
	}
	d.registry.Broadcast(client.ProjectID,
		event.WorkingOnChanged(client.ProjectID, client.User.ID, req.WorkingOn), client.User.ID)
}

// PublishDomain relays a backend-originated event to the project room.
// excludeUserID suppresses the echo to the user whose REST call produced
// the event.
func (d *Dispatcher) PublishDomain(t event.Type, projectID string, data json.RawMessage, excludeUserID string) error {
	if !event.IsDomain(t) {
		return ErrUnknownEventType
	}
	d.registry.Broadcast(projectID, event.Domain(t, projectID, data), excludeUserID)
	return nil
}

// NotifyUser delivers a notification to one user's open connections and
// returns how many were written to. Zero means the caller should fall back
// to another channel, such as push.
func (d *Dispatcher) NotifyUser(projectID, userID string, notification json.RawMessage) int {
	return d.registry.SendToUser(projectID, userID,
		event.NotificationNew(projectID, notification))
}

// Presence returns the project's presence roster.
func (d *Dispatcher) Presence(projectID string) []presence.Record {
	return d.presence.List(projectID)
}

// Locks returns the project's active locks.
func (d *Dispatcher) Locks(projectID string) []lock.TaskLock {
	return d.locks.ProjectLocks(projectID)
}

// RoomStats summarizes a project room for introspection surfaces.
type RoomStats struct {
	ProjectID   string   `json:"projectId"`
	Connections int      `json:"connections"`
	Users       int      `json:"users"`
	UserIDs     []string `json:"userIds,omitempty"`
	ActiveLocks int      `json:"activeLocks"`
}

// Stats reports live counters for one project room.
func (d *Dispatcher) Stats(projectID string) RoomStats {
	return RoomStats{
		ProjectID:   projectID,
		Connections: d.registry.ClientCount(projectID),
		Users:       d.registry.UniqueUserCount(projectID),
		UserIDs:     d.registry.ConnectedUserIDs(projectID),
		ActiveLocks: len(d.locks.ProjectLocks(projectID)),
	}
}

// Sweep drops expired locks and typing indicators. Each dropped lock is
// announced to its room as task_unlocked with a null unlockedBy, so clients
// converge on expiry without tracking expiresAt themselves.
func (d *Dispatcher) Sweep() (locksPurged, typingPurged int) {
	for projectID, locks := range d.locks.Purge() {
		for _, l := range locks {
			d.registry.Broadcast(projectID,
				event.TaskUnlocked(projectID, l.TaskID, l.TaskUUID, nil), "")
			locksPurged++
		}
	}
	return locksPurged, d.typing.Purge()
}

func (d *Dispatcher) decode(client *hub.Client, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		d.logger.Warn("malformed message data",
			"project", client.ProjectID, "user", client.User.ID, "error", err)
		return false
	}
	return true
}

// sendTo writes an envelope to a single connection, tolerating transport
// failures the same way broadcasts do.
func (d *Dispatcher) sendTo(client *hub.Client, env event.Envelope) {
	if !client.Open() {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		d.logger.Error("envelope marshal failed", "type", env.Type, "error", err)
		return
	}
	if err := client.Send(data); err != nil {
		d.logger.Warn("direct send failed",
			"project", client.ProjectID, "user", client.User.ID, "error", err)
	}
}
