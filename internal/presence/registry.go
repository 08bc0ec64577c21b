// Package presence tracks which usernames are online and demotes the ones
// that stop announcing themselves.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Status is the liveness state of a username.
type Status string

const (
	// StatusOnline marks a user that has recently announced itself.
	StatusOnline Status = "online"
	// StatusOffline marks a user that went away or timed out.
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusOnline || s == StatusOffline
}

// UserPresence is a copy of one registry entry.
type UserPresence struct {
	Username   string    `json:"username"`
	Status     Status    `json:"status"`
	LastActive time.Time `json:"last_active"`
	// SessionID is the session that last announced this username, if any.
	SessionID string `json:"-"`
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

type entry struct {
	status     Status
	lastActive time.Time
	sessionID  string
}

// Registry is the process-wide username to presence mapping. All access goes
// through its methods; the zero value is not usable, use NewRegistry.
type Registry struct {
	mu    sync.Mutex
	users map[string]*entry
	clock Clock
}

// NewRegistry creates an empty registry. A nil clock means the system clock.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock()
	}
	return &Registry{
		users: make(map[string]*entry),
		clock: clock,
	}
}

// SetStatus upserts username with status and refreshes its last-active time,
// whatever the status value. Any session binding is kept.
func (r *Registry) SetStatus(username string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[username]
	if !ok {
		e = &entry{}
		r.users[username] = e
	}
	e.status = status
	e.lastActive = r.clock.Now()
}

// Announce is SetStatus on behalf of a session: the entry is bound to
// sessionID so a later ReleaseSession can demote it. Last writer wins.
func (r *Registry) Announce(sessionID, username string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[username] = &entry{
		status:     status,
		lastActive: r.clock.Now(),
		sessionID:  sessionID,
	}
}

// Get returns the entry for username.
func (r *Registry) Get(username string) (UserPresence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[username]
	if !ok {
		return UserPresence{}, false
	}
	return e.presence(username), true
}

// Snapshot returns a copy of every entry sorted by username.
func (r *Registry) Snapshot() []UserPresence {
	r.mu.Lock()
	out := make([]UserPresence, 0, len(r.users))
	for name, e := range r.users {
		out = append(out, e.presence(name))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Len returns the number of known usernames.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Expire demotes username to offline if it is still online and was last
// active before cutoff. The check and the write happen under one lock so a
// concurrent announcement is never overwritten.
func (r *Registry) Expire(username string, cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[username]
	if !ok || e.status != StatusOnline || !e.lastActive.Before(cutoff) {
		return false
	}
	r.demote(e)
	return true
}

// ReleaseSession demotes every online entry bound to sessionID and returns
// the demoted usernames in sorted order.
func (r *Registry) ReleaseSession(sessionID string) []string {
	if sessionID == "" {
		return nil
	}
	return r.demoteWhere(func(e *entry) bool { return e.sessionID == sessionID })
}

// ReleaseAll demotes every online entry regardless of session.
func (r *Registry) ReleaseAll() []string {
	return r.demoteWhere(func(*entry) bool { return true })
}

// Evict deletes offline entries last active before cutoff and returns how
// many were removed. Online entries are left for the sweeper.
func (r *Registry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for name, e := range r.users {
		if e.status == StatusOffline && e.lastActive.Before(cutoff) {
			delete(r.users, name)
			n++
		}
	}
	return n
}

func (r *Registry) demoteWhere(match func(*entry) bool) []string {
	r.mu.Lock()
	var names []string
	for name, e := range r.users {
		if e.status == StatusOnline && match(e) {
			r.demote(e)
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// demote must be called with r.mu held.
func (r *Registry) demote(e *entry) {
	e.status = StatusOffline
	e.lastActive = r.clock.Now()
	e.sessionID = ""
}

func (e *entry) presence(username string) UserPresence {
	return UserPresence{
		Username:   username,
		Status:     e.status,
		LastActive: e.lastActive,
		SessionID:  e.sessionID,
	}
}
