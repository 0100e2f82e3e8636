package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/mgrover/collabd/internal/clock"
	"github.com/mgrover/collabd/internal/hub"
)

// DefaultTimeout is how long a typing indicator survives without an
// explicit stop. It covers clients that crash or disconnect mid-compose.
const DefaultTimeout = 5 * time.Second

// Indicator is an ephemeral "user is typing on task" signal.
type Indicator struct {
	TaskID    string      `json:"taskId"`
	User      hub.UserRef `json:"user"`
	StartedAt time.Time   `json:"startedAt"`
}

// Expired reports whether the indicator has aged past the timeout.
func (i Indicator) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(i.StartedAt) > timeout
}

// Tracker holds typing indicators per (project, task, user). Expiry is a
// filter applied on read rather than a timer per indicator, so there is no
// timer-leak risk when clients vanish without a stop message.
type Tracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	timeout time.Duration
	typing  map[string]map[string]map[string]*Indicator // projectID → taskID → userID
}

// NewTracker creates a typing tracker. A non-positive timeout falls back to
// DefaultTimeout.
func NewTracker(clk clock.Clock, timeout time.Duration) *Tracker {
	if clk == nil {
		clk = clock.System()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		clock:   clk,
		timeout: timeout,
		typing:  make(map[string]map[string]map[string]*Indicator),
	}
}

// Start upserts the indicator with the current timestamp.
func (t *Tracker) Start(projectID, taskID string, user hub.UserRef) Indicator {
	t.mu.Lock()
	defer t.mu.Unlock()

	project, ok := t.typing[projectID]
	if !ok {
		project = make(map[string]map[string]*Indicator)
		t.typing[projectID] = project
	}
	task, ok := project[taskID]
	if !ok {
		task = make(map[string]*Indicator)
		project[taskID] = task
	}

	ind := &Indicator{TaskID: taskID, User: user, StartedAt: t.clock.Now()}
	task[user.ID] = ind
	return *ind
}

// Stop removes the indicator, reporting whether one was present.
func (t *Tracker) Stop(projectID, taskID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remove(projectID, taskID, userID)
}

// StopUser clears every indicator the user holds in the project (disconnect
// cleanup) and returns the affected task IDs.
func (t *Tracker) StopUser(projectID, userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var tasks []string
	for taskID, task := range t.typing[projectID] {
		if _, ok := task[userID]; ok {
			tasks = append(tasks, taskID)
		}
	}
	for _, taskID := range tasks {
		t.remove(projectID, taskID, userID)
	}
	sort.Strings(tasks)
	return tasks
}

// TypingUsers returns who is actively typing on a task, excluding
// indicators older than the timeout even if never explicitly stopped.
func (t *Tracker) TypingUsers(projectID, taskID string) []Indicator {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var active []Indicator
	for userID, ind := range t.typing[projectID][taskID] {
		if ind.Expired(now, t.timeout) {
			t.remove(projectID, taskID, userID)
			continue
		}
		active = append(active, *ind)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].User.ID < active[j].User.ID })
	return active
}

// Purge drops expired indicators across all projects and returns how many
// were removed.
func (t *Tracker) Purge() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	purged := 0
	for projectID, project := range t.typing {
		for taskID, task := range project {
			for userID, ind := range task {
				if ind.Expired(now, t.timeout) {
					t.remove(projectID, taskID, userID)
					purged++
				}
			}
		}
	}
	return purged
}

// remove deletes one indicator and garbage-collects emptied maps. Callers
// must hold t.mu.
func (t *Tracker) remove(projectID, taskID, userID string) bool {
	task, ok := t.typing[projectID][taskID]
	if !ok {
		return false
	}
	if _, ok := task[userID]; !ok {
		return false
	}
	delete(task, userID)
	if len(task) == 0 {
		delete(t.typing[projectID], taskID)
	}
	if len(t.typing[projectID]) == 0 {
		delete(t.typing, projectID)
	}
	return true
}
