package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/mgrover/collabd/internal/clock"
	"github.com/mgrover/collabd/internal/hub"
)

// Status is a user's availability within one project.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Valid reports whether the status is one of the closed set. "away" is
// driven by the client's idle heartbeat; the tracker never computes it.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// WorkingOn describes what a user is currently focused on.
type WorkingOn struct {
	TaskID   string `json:"taskId"`
	Activity string `json:"activity,omitempty"`
}

// Record is the live presence state for one user in one project.
type Record struct {
	User       hub.UserRef `json:"user"`
	Status     Status      `json:"status"`
	LastActive time.Time   `json:"lastActive"`
	WorkingOn  *WorkingOn  `json:"workingOn,omitempty"`
}

// Tracker maintains per-project presence records. It holds no connection
// state itself; the dispatcher calls Join/Leave when the registry observes
// a user's first connection arriving or last connection going away.
type Tracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	records map[string]map[string]*Record // projectID → userID → record
}

// NewTracker creates an empty presence tracker.
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.System()
	}
	return &Tracker{
		clock:   clk,
		records: make(map[string]map[string]*Record),
	}
}

// Join creates or reactivates the user's record as online and returns it.
func (t *Tracker) Join(projectID string, user hub.UserRef) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	project, ok := t.records[projectID]
	if !ok {
		project = make(map[string]*Record)
		t.records[projectID] = project
	}

	rec, ok := project[user.ID]
	if !ok {
		rec = &Record{User: user}
		project[user.ID] = rec
	}
	rec.User = user
	rec.Status = StatusOnline
	rec.LastActive = t.clock.Now()
	return *rec
}

// Leave removes the user's record, returning the final state with status
// forced to offline for the departure broadcast.
func (t *Tracker) Leave(projectID, userID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[projectID][userID]
	if !ok {
		return Record{}, false
	}

	delete(t.records[projectID], userID)
	if len(t.records[projectID]) == 0 {
		delete(t.records, projectID)
	}

	departed := *rec
	departed.Status = StatusOffline
	departed.LastActive = t.clock.Now()
	return departed, true
}

// Update applies an explicit status change and returns the new record.
// Unknown users and invalid statuses are rejected.
func (t *Tracker) Update(projectID, userID string, status Status) (Record, bool) {
	if !status.Valid() {
		return Record{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[projectID][userID]
	if !ok {
		return Record{}, false
	}
	rec.Status = status
	rec.LastActive = t.clock.Now()
	return *rec, true
}

// SetWorkingOn updates the user's current-activity descriptor; nil clears
// it.
func (t *Tracker) SetWorkingOn(projectID, userID string, workingOn *WorkingOn) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[projectID][userID]
	if !ok {
		return Record{}, false
	}
	rec.WorkingOn = workingOn
	rec.LastActive = t.clock.Now()
	return *rec, true
}

// Get returns the user's record in a project.
func (t *Tracker) Get(projectID, userID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[projectID][userID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns all presence records for a project ordered by user ID.
func (t *Tracker) List(projectID string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	var records []Record
	for _, rec := range t.records[projectID] {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].User.ID < records[j].User.ID })
	return records
}
