// Package timer runs a callback on a dedicated background goroutine:
// once immediately on start, then at a fixed period until stopped. A
// callback failure never crashes the process and never stops the
// schedule; the most recent failure is parked in a single slot that
// foreground code drains through Err.
package timer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrRunning = errors.New("timer already running")
	ErrStopped = errors.New("timer stopped")
)

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped // terminal
)

// Timer is a periodic single-goroutine scheduler. The zero value is not
// usable; construct with New.
type Timer struct {
	interval time.Duration
	callback func() error

	mu   sync.Mutex
	st   state
	stop chan struct{}
	done chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// New builds an idle timer that will invoke callback every interval once
// started.
func New(interval time.Duration, callback func() error) *Timer {
	return &Timer{interval: interval, callback: callback}
}

// Start launches the background goroutine: the callback runs immediately,
// then on every tick. Start succeeds only from the idle state; a stopped
// timer is discarded, not restarted.
func (t *Timer) Start() error {
	if t.callback == nil {
		return errors.New("timer has no callback")
	}
	if t.interval <= 0 {
		return fmt.Errorf("invalid timer interval %v", t.interval)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.st {
	case stateRunning:
		return ErrRunning
	case stateStopped:
		return ErrStopped
	}
	t.st = stateRunning
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stop, t.done)
	return nil
}

func (t *Timer) run(stop, done chan struct{}) {
	defer close(done)
	t.invoke()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.invoke()
		}
	}
}

func (t *Timer) invoke() {
	defer func() {
		if r := recover(); r != nil {
			t.setErr(fmt.Errorf("timer callback panic: %v", r))
		}
	}()
	if err := t.callback(); err != nil {
		t.setErr(err)
	}
}

// Stop quiesces the background goroutine and blocks until no invocation
// is in flight. It is idempotent and terminal. Stop must only be called
// from foreground code, never from inside the callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	switch t.st {
	case stateIdle:
		t.st = stateStopped
		t.mu.Unlock()
		return
	case stateStopped:
		done := t.done
		t.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	t.st = stateStopped
	close(t.stop)
	done := t.done
	t.mu.Unlock()
	<-done
}

// Err drains the captured callback error, if any. A later callback
// failure overwrites an unretrieved one; only the most recent is held.
func (t *Timer) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	err := t.lastErr
	t.lastErr = nil
	return err
}

func (t *Timer) setErr(err error) {
	t.errMu.Lock()
	t.lastErr = err
	t.errMu.Unlock()
}
