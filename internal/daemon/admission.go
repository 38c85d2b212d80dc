package daemon

import (
	"sync"
	"sync/atomic"
)

// Admission counts live sessions against a job limit. The count is the only
// state shared between sessions.
type Admission struct {
	live atomic.Int64
	max  int64
}

// NewAdmission creates an admission controller allowing maxJobs concurrent
// sessions. maxJobs below 1 is treated as 1.
func NewAdmission(maxJobs int) *Admission {
	return &Admission{max: int64(max(maxJobs, 1))}
}

// Enter registers a new session and returns its ticket. The session counts
// toward the limit until the ticket is released, whether or not it was admitted.
func (a *Admission) Enter() *Ticket {
	return &Ticket{a: a, seen: a.live.Add(1)}
}

// Live returns the number of sessions entered and not yet released.
func (a *Admission) Live() int64 { return a.live.Load() }

// Max returns the configured job limit.
func (a *Admission) Max() int64 { return a.max }

// Ticket is one session's stake in the live count.
type Ticket struct {
	a    *Admission
	once sync.Once
	seen int64
}

// Admitted reports whether the live count, including this session, was within
// the limit when the session entered. A rejected session holds its place in
// the count until released, so a burst can turn away a session that would
// otherwise have fit.
func (t *Ticket) Admitted() bool { return t.seen <= t.a.max }

// Seen returns the live count observed on entry.
func (t *Ticket) Seen() int64 { return t.seen }

// Release removes the session from the live count. Safe to call more than once.
func (t *Ticket) Release() {
	t.once.Do(func() { t.a.live.Add(-1) })
}
