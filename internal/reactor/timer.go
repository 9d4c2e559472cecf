package reactor

import (
	"sync"
	"time"
)

// Timer is a loop-owned timer whose callback runs on the loop goroutine.
type Timer struct {
	mu     sync.Mutex
	t      *time.Timer
	handle *Handle
	fired  bool
}

// AfterFunc arms a timer that posts fn to the loop after d. Timers still
// pending at teardown are stopped.
func (l *EventLoop) AfterFunc(d time.Duration, fn func()) (*Timer, error) {
	tm := &Timer{}
	h, err := l.Own(tm)
	if err != nil {
		return nil, err
	}
	tm.mu.Lock()
	tm.handle = h
	tm.t = time.AfterFunc(d, func() {
		tm.mu.Lock()
		tm.fired = true
		tm.mu.Unlock()
		_ = l.Post(func() {
			h.Release()
			fn()
		})
	})
	tm.mu.Unlock()
	return tm, nil
}

// Stop disarms the timer. It reports whether the callback was prevented.
func (tm *Timer) Stop() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.fired || tm.t == nil {
		return false
	}
	stopped := tm.t.Stop()
	if stopped {
		tm.handle.Release()
	}
	return stopped
}

// Close implements io.Closer for loop teardown.
func (tm *Timer) Close() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.t != nil {
		tm.t.Stop()
	}
	return nil
}
