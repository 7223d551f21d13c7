// Package alarm provides a countdown with a cancellation handle. Scheduling
// a new countdown on an alarm supersedes the pending one, so a stale timer
// can never fire after it has been replaced.
package alarm

import (
	"sync"
	"time"
)

// Alarm fires a callback once after a delay. The zero value is ready to use.
type Alarm struct {
	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

// New returns an idle alarm.
func New() *Alarm {
	return &Alarm{}
}

// Schedule arranges for fn to run after d. Any pending fire is superseded:
// the prior callback is guaranteed not to run once Schedule returns.
func (a *Alarm) Schedule(d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(d, func() {
		a.mu.Lock()
		if gen != a.gen {
			// Superseded or cancelled between the fire and the lock.
			a.mu.Unlock()
			return
		}
		a.timer = nil
		a.mu.Unlock()
		fn()
	})
}

// Cancel stops a pending fire. It reports whether a fire was prevented;
// false means nothing was pending (never scheduled, already fired, or
// already cancelled).
func (a *Alarm) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer == nil {
		return false
	}
	a.timer.Stop()
	a.gen++
	a.timer = nil
	return true
}

// Pending reports whether a fire is scheduled and has not yet run.
func (a *Alarm) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}
