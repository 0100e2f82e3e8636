package event

import (
	"encoding/json"
	"time"

	"github.com/mgrover/collabd/internal/domain/lock"
	"github.com/mgrover/collabd/internal/domain/presence"
	"github.com/mgrover/collabd/internal/domain/typing"
	"github.com/mgrover/collabd/internal/hub"
)

// Type discriminates the wire messages this service produces.
type Type string

const (
	TypePresenceJoined   Type = "presence_joined"
	TypePresenceLeft     Type = "presence_left"
	TypePresenceUpdated  Type = "presence_updated"
	TypePresenceList     Type = "presence_list"
	TypeWorkingOnChanged Type = "working_on_changed"

	TypeTaskLocked       Type = "task_locked"
	TypeTaskUnlocked     Type = "task_unlocked"
	TypeTaskLockExtended Type = "task_lock_extended"
	TypeTaskLockDenied   Type = "task_lock_denied"
	TypeLocksList        Type = "locks_list"

	TypeCommentTypingStart Type = "comment_typing_start"
	TypeCommentTypingStop  Type = "comment_typing_stop"

	TypeNotificationNew  Type = "notification_new"
	TypeNotificationRead Type = "notification_read"

	// Domain broadcasts relayed verbatim from the persistence/business
	// layer. Their payloads are opaque here.
	TypeTaskUpdated     Type = "task_updated"
	TypeTaskAssigned    Type = "task_assigned"
	TypeTaskUnassigned  Type = "task_unassigned"
	TypeTasksSynced     Type = "tasks_synced"
	TypeProjectUpdated  Type = "project_updated"
	TypeCommentCreated  Type = "comment_created"
	TypeCommentUpdated  Type = "comment_updated"
	TypeCommentDeleted  Type = "comment_deleted"
	TypeActivityCreated Type = "activity_created"
)

// domainTypes is the set a backend publisher may relay through the publish
// API. Core lifecycle events are produced only by this service.
var domainTypes = map[Type]struct{}{
	TypeTaskUpdated:      {},
	TypeTaskAssigned:     {},
	TypeTaskUnassigned:   {},
	TypeTasksSynced:      {},
	TypeProjectUpdated:   {},
	TypeCommentCreated:   {},
	TypeCommentUpdated:   {},
	TypeCommentDeleted:   {},
	TypeActivityCreated:  {},
	TypeNotificationRead: {},
}

// IsDomain reports whether t may be published by the upstream backend.
func IsDomain(t Type) bool {
	_, ok := domainTypes[t]
	return ok
}

// Envelope is the wire message wrapper used in both directions.
type Envelope struct {
	Type      Type      `json:"type"`
	ProjectID string    `json:"projectId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

func newEnvelope(t Type, projectID string, data any) Envelope {
	return Envelope{
		Type:      t,
		ProjectID: projectID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// PresenceListData carries the full presence roster sent to a newly joined
// client.
type PresenceListData struct {
	Users []presence.Record `json:"users"`
}

// WorkingOnData announces a change of a user's current activity.
type WorkingOnData struct {
	UserID    string              `json:"userId"`
	WorkingOn *presence.WorkingOn `json:"workingOn"`
}

// UnlockData describes a lock removal. UnlockedBy is null when the lease
// simply expired and carries the acting (or disconnecting) user otherwise.
type UnlockData struct {
	TaskID     string       `json:"taskId"`
	TaskUUID   string       `json:"taskUuid,omitempty"`
	UnlockedBy *hub.UserRef `json:"unlockedBy"`
}

// LocksListData carries all active locks sent to a newly joined client.
type LocksListData struct {
	Locks []lock.TaskLock `json:"locks"`
}

// TypingStopData identifies who stopped typing where.
type TypingStopData struct {
	TaskID string      `json:"taskId"`
	User   hub.UserRef `json:"user"`
}

func PresenceJoined(projectID string, rec presence.Record) Envelope {
	return newEnvelope(TypePresenceJoined, projectID, rec)
}

func PresenceLeft(projectID string, rec presence.Record) Envelope {
	return newEnvelope(TypePresenceLeft, projectID, rec)
}

func PresenceUpdated(projectID string, rec presence.Record) Envelope {
	return newEnvelope(TypePresenceUpdated, projectID, rec)
}

func PresenceList(projectID string, records []presence.Record) Envelope {
	return newEnvelope(TypePresenceList, projectID, PresenceListData{Users: records})
}

func WorkingOnChanged(projectID, userID string, workingOn *presence.WorkingOn) Envelope {
	return newEnvelope(TypeWorkingOnChanged, projectID, WorkingOnData{UserID: userID, WorkingOn: workingOn})
}

func TaskLocked(projectID string, l lock.TaskLock) Envelope {
	return newEnvelope(TypeTaskLocked, projectID, l)
}

func TaskLockExtended(projectID string, l lock.TaskLock) Envelope {
	return newEnvelope(TypeTaskLockExtended, projectID, l)
}

func TaskLockDenied(projectID string, current lock.TaskLock) Envelope {
	return newEnvelope(TypeTaskLockDenied, projectID, current)
}

func TaskUnlocked(projectID, taskID, taskUUID string, unlockedBy *hub.UserRef) Envelope {
	return newEnvelope(TypeTaskUnlocked, projectID, UnlockData{
		TaskID:     taskID,
		TaskUUID:   taskUUID,
		UnlockedBy: unlockedBy,
	})
}

func LocksList(projectID string, locks []lock.TaskLock) Envelope {
	return newEnvelope(TypeLocksList, projectID, LocksListData{Locks: locks})
}

func CommentTypingStart(projectID string, ind typing.Indicator) Envelope {
	return newEnvelope(TypeCommentTypingStart, projectID, ind)
}

func CommentTypingStop(projectID, taskID string, user hub.UserRef) Envelope {
	return newEnvelope(TypeCommentTypingStop, projectID, TypingStopData{TaskID: taskID, User: user})
}

func NotificationNew(projectID string, notification json.RawMessage) Envelope {
	return newEnvelope(TypeNotificationNew, projectID, notification)
}

// Domain wraps an opaque backend payload in an envelope of the given type.
// Callers must validate the type with IsDomain first.
func Domain(t Type, projectID string, data json.RawMessage) Envelope {
	return newEnvelope(t, projectID, data)
}
