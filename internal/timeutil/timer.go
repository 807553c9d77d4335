package timeutil

import (
	"encoding/json"
	"sync"
	"time"

	"braces.dev/errtrace"
)

// TimerState represents the current state of a serializable timer.
type TimerState string

const (
	TimerStateRunning TimerState = "running"
	TimerStateStopped TimerState = "stopped"
	TimerStateExpired TimerState = "expired"
)

// SerializableTimer is a timer whose deterministic state (start time,
// duration, state) can be exported as a [TimerSnapshot] and restored later.
// Runtime-only fields such as the callback and the underlying [time.Timer]
// are excluded from snapshots and must be reattached after restoration.
type SerializableTimer struct {
	startTime time.Time
	duration  time.Duration
	state     TimerState
	stopTime  time.Time

	// runtime-only, never serialized
	callback         func()
	callbackExecuted bool
	realTimer        *time.Timer

	mu sync.Mutex
}

// NewTimer creates a running timer with the given duration.
func NewTimer(duration time.Duration) *SerializableTimer {
	return &SerializableTimer{
		startTime: time.Now(),
		duration:  duration,
		state:     TimerStateRunning,
	}
}

// AfterFunc creates a running timer that executes f when it expires.
func AfterFunc(duration time.Duration, f func()) *SerializableTimer {
	timer := NewTimer(duration)
	timer.SetCallback(f)
	return timer
}

// State returns the current timer state.
func (t *SerializableTimer) State() TimerState {
	if t == nil {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StartTime returns the timer's start time.
func (t *SerializableTimer) StartTime() time.Time {
	if t == nil {
		return time.Time{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime
}

// Duration returns the timer's duration.
func (t *SerializableTimer) Duration() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// Left returns the time remaining until the timer expires.
// Returns 0 if the timer is expired or stopped.
func (t *SerializableTimer) Left() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TimerStateRunning {
		return 0
	}
	left := t.duration - time.Since(t.startTime)
	if left < 0 {
		return 0
	}
	return left
}

// Expired returns true if the timer has expired.
func (t *SerializableTimer) Expired() bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiredUnsafe()
}

func (t *SerializableTimer) expiredUnsafe() bool {
	switch t.state {
	case TimerStateExpired:
		return true
	case TimerStateStopped:
		return false
	}
	return time.Since(t.startTime) >= t.duration
}

// Stop stops the timer. A stopped timer never executes its callback.
// Returns false if the timer was not running.
func (t *SerializableTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TimerStateRunning {
		return false
	}

	t.stopTime = time.Now()
	t.state = TimerStateStopped
	t.callback = nil

	if t.realTimer != nil {
		t.realTimer.Stop()
		t.realTimer = nil
	}
	return true
}

// SetCallback sets a function to be executed in its own goroutine when the
// timer expires. If the timer has already expired, the function is executed
// immediately. If the timer is stopped, the function is not executed.
func (t *SerializableTimer) SetCallback(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.callback = f

	if t.expiredUnsafe() && !t.callbackExecuted {
		t.callbackExecuted = true
		go f()
		return
	}

	if t.state == TimerStateRunning {
		remaining := t.duration - time.Since(t.startTime)
		if remaining <= 0 {
			remaining = 1
		}
		t.armUnsafe(remaining)
	}
}

// armUnsafe replaces the underlying time.Timer with one that fires after d.
// Caller must hold the mutex.
func (t *SerializableTimer) armUnsafe(d time.Duration) {
	if t.realTimer != nil {
		t.realTimer.Stop()
	}
	t.realTimer = time.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if t.state != TimerStateRunning || t.callbackExecuted {
			return
		}
		t.state = TimerStateExpired
		t.stopTime = time.Now()
		t.callbackExecuted = true
		if cb := t.callback; cb != nil {
			go cb()
		}
	})
}

// UpdateState re-evaluates expiration against the wall clock. Call it after
// restoring a snapshot to fire the callback of an already expired timer.
func (t *SerializableTimer) UpdateState() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateStateUnsafe()
}

func (t *SerializableTimer) updateStateUnsafe() {
	if t.state != TimerStateRunning && t.state != TimerStateExpired {
		return
	}
	if time.Since(t.startTime) < t.duration {
		return
	}

	t.state = TimerStateExpired
	if t.callback != nil && !t.callbackExecuted {
		t.callbackExecuted = true
		go t.callback()
	}
}

// Reset restarts the timer with a new duration counted from now.
// The callback is preserved. To clear the callback, call Stop first.
func (t *SerializableTimer) Reset(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = time.Now()
	t.duration = duration
	t.state = TimerStateRunning
	t.stopTime = time.Time{}
	t.callbackExecuted = false

	if t.realTimer != nil {
		t.realTimer.Stop()
		t.realTimer = nil
	}
	if t.callback != nil {
		t.armUnsafe(duration)
	}
}

var jsonNull = []byte("null")

// TimerSnapshot is a serializable view of a timer. Only deterministic fields
// are included so the snapshot can be persisted or transferred safely.
type TimerSnapshot struct {
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	State     TimerState    `json:"state"`
	StopTime  time.Time     `json:"stop_time,omitzero"`
}

// Snapshot returns an immutable representation of the timer state.
func (t *SerializableTimer) Snapshot() *TimerSnapshot {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	snap := t.snapshotUnsafe()
	t.mu.Unlock()

	return &snap
}

func (t *SerializableTimer) snapshotUnsafe() TimerSnapshot {
	t.updateStateUnsafe()

	return TimerSnapshot{
		StartTime: t.startTime,
		Duration:  t.duration,
		State:     t.state,
		StopTime:  t.stopTime,
	}
}

func (t *SerializableTimer) restoreUnsafe(snap *TimerSnapshot) {
	defer t.updateStateUnsafe()

	if t.realTimer != nil {
		t.realTimer.Stop()
		t.realTimer = nil
	}

	if snap == nil {
		*t = SerializableTimer{}
		return
	}

	t.startTime = snap.StartTime
	t.duration = snap.Duration
	t.state = snap.State
	t.stopTime = snap.StopTime
	t.callback = nil
	t.callbackExecuted = false
}

// MarshalJSON implements json.Marshaler.
func (t *SerializableTimer) MarshalJSON() ([]byte, error) {
	if t == nil {
		return jsonNull, nil
	}

	t.mu.Lock()
	snap := t.snapshotUnsafe()
	t.mu.Unlock()

	return errtrace.Wrap2(json.Marshal(&snap))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *SerializableTimer) UnmarshalJSON(data []byte) error {
	var snap TimerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errtrace.Wrap(err)
	}

	t.mu.Lock()
	t.restoreUnsafe(&snap)
	t.mu.Unlock()

	return nil
}

// RestoreTimer recreates a SerializableTimer from its snapshot.
// The callback is left nil; callers should reattach callbacks or restart
// timers using [SerializableTimer.SetCallback] / [SerializableTimer.Reset].
func RestoreTimer(snap *TimerSnapshot) *SerializableTimer {
	if snap == nil {
		return nil
	}

	timer := new(SerializableTimer)
	timer.restoreUnsafe(snap)
	return timer
}
