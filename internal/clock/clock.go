// Package clock abstracts time so timer-driven game logic can be driven
// deterministically in tests.
package clock

import (
	"strings"
	"sync"
	"time"
)

// Clock supplies the current time and callback timers.
type Clock interface {
	Now() time.Time
	// Every calls fn every d until stopped. fn runs on a timer goroutine.
	Every(d time.Duration, fn func()) Stopper
	// AfterFunc calls fn once after d unless stopped first.
	AfterFunc(d time.Duration, fn func()) Stopper
}

// Stopper cancels a timer. Stop never blocks and may be called more than once,
// including from inside the timer's own callback.
type Stopper interface {
	Stop()
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Every(d time.Duration, fn func()) Stopper {
	t := &ticker{done: make(chan struct{})}
	tk := time.NewTicker(d)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				select {
				case <-t.done:
					return
				default:
				}
				fn()
			case <-t.done:
				return
			}
		}
	}()
	return t
}

func (Real) AfterFunc(d time.Duration, fn func()) Stopper {
	return timerStopper{time.AfterFunc(d, fn)}
}

type timerStopper struct{ t *time.Timer }

func (s timerStopper) Stop() { s.t.Stop() }

type ticker struct {
	done chan struct{}
	once sync.Once
}

func (t *ticker) Stop() {
	t.once.Do(func() { close(t.done) })
}

// TimerSet tracks named timers so a whole session's timers can be cancelled
// at once. Keys are "<session>|<kind>|<id>".
type TimerSet struct {
	mu     sync.Mutex
	timers map[string]Stopper
}

func NewTimerSet() *TimerSet {
	return &TimerSet{timers: make(map[string]Stopper)}
}

// Key builds a timer key.
func Key(sessionID string, parts ...string) string {
	return sessionID + "|" + strings.Join(parts, "|")
}

// Set registers s under key, stopping any timer previously stored there.
func (ts *TimerSet) Set(key string, s Stopper) {
	ts.mu.Lock()
	old := ts.timers[key]
	ts.timers[key] = s
	ts.mu.Unlock()
	if old != nil {
		old.Stop()
	}
}

// Stop cancels and forgets the timer under key.
func (ts *TimerSet) Stop(key string) {
	ts.mu.Lock()
	s := ts.timers[key]
	delete(ts.timers, key)
	ts.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// StopSession cancels every timer belonging to sessionID.
func (ts *TimerSet) StopSession(sessionID string) int {
	prefix := sessionID + "|"
	var stopped []Stopper
	ts.mu.Lock()
	for key, s := range ts.timers {
		if strings.HasPrefix(key, prefix) {
			stopped = append(stopped, s)
			delete(ts.timers, key)
		}
	}
	ts.mu.Unlock()
	for _, s := range stopped {
		s.Stop()
	}
	return len(stopped)
}

// Has reports whether a timer is registered under key.
func (ts *TimerSet) Has(key string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.timers[key]
	return ok
}

// Len returns the number of tracked timers.
func (ts *TimerSet) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}
