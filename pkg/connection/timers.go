package connection

import (
	"sync"
	"time"
)

// Timer names used by the supervisor.
const (
	timerPing        = "ping"
	timerResubscribe = "resubscribe"
	timerReconnect   = "reconnect"
	timerWatchdog    = "watchdog"
)

// TimerSet is a named group of one-shot timers owned by a supervisor.
// All pending timers can be cancelled as a unit on disconnect, which
// replaces scattered "run this function later" scheduling with a single
// cancellation point.
type TimerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTimerSet creates an empty timer set.
func NewTimerSet() *TimerSet {
	return &TimerSet{timers: make(map[string]*time.Timer)}
}

// Schedule arms a one-shot timer under name, replacing any pending timer
// with the same name. fn runs on its own goroutine when the timer fires.
func (ts *TimerSet) Schedule(name string, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if existing, ok := ts.timers[name]; ok {
		existing.Stop()
	}
	ts.timers[name] = time.AfterFunc(d, func() {
		ts.mu.Lock()
		delete(ts.timers, name)
		ts.mu.Unlock()
		fn()
	})
}

// Cancel stops a pending timer. Returns false when no timer with that
// name is pending.
func (ts *TimerSet) Cancel(name string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	t, ok := ts.timers[name]
	if !ok {
		return false
	}
	t.Stop()
	delete(ts.timers, name)
	return true
}

// StopAll cancels every pending timer.
func (ts *TimerSet) StopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for name, t := range ts.timers {
		t.Stop()
		delete(ts.timers, name)
	}
}

// Pending reports whether a timer with the given name is armed.
func (ts *TimerSet) Pending(name string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.timers[name]
	return ok
}

// Len returns the number of armed timers.
func (ts *TimerSet) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}
