package lock

import (
	"sort"
	"sync"
	"time"

	"github.com/mgrover/collabd/internal/clock"
	"github.com/mgrover/collabd/internal/hub"
)

// DefaultTTL is the lock lifetime applied when a request does not carry an
// explicit duration.
const DefaultTTL = 5 * time.Minute

// TaskLock is a time-bounded, single-holder exclusivity claim on a task.
type TaskLock struct {
	TaskID     string      `json:"taskId"`
	TaskUUID   string      `json:"taskUuid,omitempty"`
	Holder     hub.UserRef `json:"holder"`
	AcquiredAt time.Time   `json:"acquiredAt"`
	ExpiresAt  time.Time   `json:"expiresAt"`
}

// Expired reports whether the lock's lease has lapsed at the given instant.
// The lease covers [acquiredAt, expiresAt): at exactly expiresAt the lock is
// already gone.
func (l TaskLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Manager implements acquire/extend/release/expire semantics for exclusive
// per-task edit locks. Expiry is lazy: every read and acquire path treats a
// lock past its expiresAt as absent, so correctness never depends on the
// opportunistic Purge sweep.
type Manager struct {
	mu         sync.Mutex
	clock      clock.Clock
	defaultTTL time.Duration
	locks      map[string]map[string]*TaskLock // projectID → taskID → lock
}

// NewManager creates a lock manager. A zero defaultTTL falls back to
// DefaultTTL.
func NewManager(clk clock.Clock, defaultTTL time.Duration) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Manager{
		clock:      clk,
		defaultTTL: defaultTTL,
		locks:      make(map[string]map[string]*TaskLock),
	}
}

// AcquireRequest describes a lock acquisition attempt.
type AcquireRequest struct {
	TaskID   string
	TaskUUID string
	User     hub.UserRef
	// Duration overrides the manager default when positive.
	Duration time.Duration
}

// AcquireResult reports the outcome of an acquisition attempt. When Granted
// is false, Lock carries the competing holder's lock so the caller can
// surface who owns it.
type AcquireResult struct {
	Granted bool
	OwnLock bool
	Lock    TaskLock
}

// Acquire grants the lock when it is free or expired, re-grants it
// idempotently to the current holder (without touching expiry), and rejects
// the request when another user holds an unexpired lock.
func (m *Manager) Acquire(projectID string, req AcquireRequest) AcquireResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	existing := m.lookup(projectID, req.TaskID, now)
	if existing != nil {
		if existing.Holder.ID == req.User.ID {
			return AcquireResult{Granted: true, OwnLock: true, Lock: *existing}
		}
		return AcquireResult{Lock: *existing}
	}

	ttl := req.Duration
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	granted := &TaskLock{
		TaskID:     req.TaskID,
		TaskUUID:   req.TaskUUID,
		Holder:     req.User,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	project, ok := m.locks[projectID]
	if !ok {
		project = make(map[string]*TaskLock)
		m.locks[projectID] = project
	}
	project[req.TaskID] = granted

	return AcquireResult{Granted: true, Lock: *granted}
}

// Release removes the lock. With a non-empty userID the release only
// happens when that user is the current holder; an empty userID releases
// unconditionally (system action). The removed lock is returned for
// broadcasting.
func (m *Manager) Release(projectID, taskID, userID string) (TaskLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.lookup(projectID, taskID, m.clock.Now())
	if existing == nil {
		return TaskLock{}, false
	}
	if userID != "" && existing.Holder.ID != userID {
		return TaskLock{}, false
	}

	released := *existing
	m.remove(projectID, taskID)
	return released, true
}

// Extend pushes the lock's expiry out by duration (manager default when
// non-positive). It succeeds only for the current holder of an unexpired
// lock.
func (m *Manager) Extend(projectID, taskID, userID string, duration time.Duration) (TaskLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.lookup(projectID, taskID, m.clock.Now())
	if existing == nil || existing.Holder.ID != userID {
		return TaskLock{}, false
	}

	if duration <= 0 {
		duration = m.defaultTTL
	}
	existing.ExpiresAt = m.clock.Now().Add(duration)
	return *existing, true
}

// ReleaseUserLocks drops every lock the user holds in the project and
// returns them, typically on disconnect of the user's last connection.
func (m *Manager) ReleaseUserLocks(projectID, userID string) []TaskLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var released []TaskLock
	for taskID, l := range m.locks[projectID] {
		if l.Holder.ID != userID {
			continue
		}
		if !l.Expired(now) {
			released = append(released, *l)
		}
		m.remove(projectID, taskID)
	}
	sort.Slice(released, func(i, j int) bool { return released[i].TaskID < released[j].TaskID })
	return released
}

// Get returns the active lock on a task, filtering out an expired one.
func (m *Manager) Get(projectID, taskID string) (TaskLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.lookup(projectID, taskID, m.clock.Now())
	if existing == nil {
		return TaskLock{}, false
	}
	return *existing, true
}

// ProjectLocks returns all active locks in a project ordered by task ID.
func (m *Manager) ProjectLocks(projectID string) []TaskLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var active []TaskLock
	for taskID, l := range m.locks[projectID] {
		if l.Expired(now) {
			m.remove(projectID, taskID)
			continue
		}
		active = append(active, *l)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].TaskID < active[j].TaskID })
	return active
}

// Purge drops expired entries across all projects and returns them grouped
// by project, ordered by task ID, so the caller can announce the removals.
// Run opportunistically to keep the map small; reads stay correct without
// it.
func (m *Manager) Purge() map[string][]TaskLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	expired := make(map[string][]TaskLock)
	for projectID, project := range m.locks {
		for taskID, l := range project {
			if l.Expired(now) {
				expired[projectID] = append(expired[projectID], *l)
				m.remove(projectID, taskID)
			}
		}
	}
	for _, locks := range expired {
		sort.Slice(locks, func(i, j int) bool { return locks[i].TaskID < locks[j].TaskID })
	}
	return expired
}

// lookup returns the live lock entry or nil, lazily dropping an expired
// one. Callers must hold m.mu.
func (m *Manager) lookup(projectID, taskID string, now time.Time) *TaskLock {
	l, ok := m.locks[projectID][taskID]
	if !ok {
		return nil
	}
	if l.Expired(now) {
		m.remove(projectID, taskID)
		return nil
	}
	return l
}

// remove deletes a lock entry and garbage-collects the project map when it
// empties. Callers must hold m.mu.
func (m *Manager) remove(projectID, taskID string) {
	project, ok := m.locks[projectID]
	if !ok {
		return
	}
	delete(project, taskID)
	if len(project) == 0 {
		delete(m.locks, projectID)
	}
}
