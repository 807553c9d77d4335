package timeutil_test

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalpath/sipcore/internal/timeutil"
)

func TestNewTimer(t *testing.T) {
	t.Parallel()

	duration := 100 * time.Millisecond
	timer := timeutil.NewTimer(duration)

	if timer.Duration() != duration {
		t.Errorf("timer.Duration() = %v, want %v", timer.Duration(), duration)
	}
	if timer.State() != timeutil.TimerStateRunning {
		t.Errorf("timer.State() = %v, want %v", timer.State(), timeutil.TimerStateRunning)
	}
	if timer.StartTime().IsZero() {
		t.Error("timer.StartTime() is zero, want non-zero")
	}
}

func TestTimer_Left(t *testing.T) {
	t.Parallel()

	duration := 100 * time.Millisecond
	timer := timeutil.NewTimer(duration)

	time.Sleep(10 * time.Millisecond)
	if left := timer.Left(); left > 90*time.Millisecond {
		t.Errorf("timer.Left() = %v, want <= 90ms", left)
	}

	timer.Stop()
	if left := timer.Left(); left != 0 {
		t.Errorf("timer.Left() after Stop() = %v, want 0", left)
	}
}

func TestTimer_Expired(t *testing.T) {
	t.Parallel()

	timer := timeutil.NewTimer(10 * time.Millisecond)

	if timer.Expired() {
		t.Error("timer.Expired() = true right after start, want false")
	}

	time.Sleep(20 * time.Millisecond)
	timer.UpdateState()

	if !timer.Expired() {
		t.Error("timer.Expired() = false after duration elapsed, want true")
	}
	if timer.State() != timeutil.TimerStateExpired {
		t.Errorf("timer.State() = %v, want %v", timer.State(), timeutil.TimerStateExpired)
	}
}

func TestTimer_Stop(t *testing.T) {
	t.Parallel()

	timer := timeutil.NewTimer(100 * time.Millisecond)

	if !timer.Stop() {
		t.Fatal("timer.Stop() = false, want true")
	}
	if timer.State() != timeutil.TimerStateStopped {
		t.Errorf("timer.State() = %v, want %v", timer.State(), timeutil.TimerStateStopped)
	}
	if timer.Stop() {
		t.Error("second timer.Stop() = true, want false")
	}
}

func TestTimer_Reset(t *testing.T) {
	t.Parallel()

	timer := timeutil.NewTimer(100 * time.Millisecond)

	time.Sleep(10 * time.Millisecond)

	newDuration := 200 * time.Millisecond
	timer.Reset(newDuration)

	if timer.Duration() != newDuration {
		t.Errorf("timer.Duration() = %v, want %v", timer.Duration(), newDuration)
	}
	if timer.State() != timeutil.TimerStateRunning {
		t.Errorf("timer.State() = %v, want %v", timer.State(), timeutil.TimerStateRunning)
	}
}

func TestTimer_MarshalUnmarshalJSON(t *testing.T) {
	t.Parallel()

	timer := timeutil.NewTimer(50 * time.Millisecond)

	data, err := json.Marshal(timer)
	if err != nil {
		t.Fatalf("json.Marshal(timer) error = %v, want nil", err)
	}

	var restored timeutil.SerializableTimer
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("json.Unmarshal(data) error = %v, want nil", err)
	}

	if restored.Duration() != timer.Duration() {
		t.Errorf("restored.Duration() = %v, want %v", restored.Duration(), timer.Duration())
	}
	if restored.StartTime().Unix() != timer.StartTime().Unix() {
		t.Errorf("restored.StartTime() = %v, want %v", restored.StartTime(), timer.StartTime())
	}
}

func TestTimer_SnapshotRestore_Expired(t *testing.T) {
	t.Parallel()

	timer := timeutil.NewTimer(10 * time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	snap := timer.Snapshot()

	restored := timeutil.RestoreTimer(snap)

	var callbackExecuted atomic.Bool
	restored.SetCallback(func() { callbackExecuted.Store(true) })

	time.Sleep(10 * time.Millisecond)

	if !callbackExecuted.Load() {
		t.Error("callback was not executed for restored expired timer")
	}
	if !restored.Expired() {
		t.Error("restored.Expired() = false, want true")
	}
}

func TestTimer_AutoExecution(t *testing.T) {
	t.Parallel()

	duration := 50 * time.Millisecond
	var callbackExecuted atomic.Bool

	timer := timeutil.AfterFunc(duration, func() { callbackExecuted.Store(true) })

	time.Sleep(duration + 20*time.Millisecond)

	if !callbackExecuted.Load() {
		t.Error("callback was not executed automatically")
	}
	if !timer.Expired() {
		t.Error("timer.Expired() = false, want true")
	}
}

func TestTimer_SetCallback_Expired(t *testing.T) {
	t.Parallel()

	timer := timeutil.NewTimer(10 * time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	timer.UpdateState()

	var callbackExecuted atomic.Bool
	timer.SetCallback(func() { callbackExecuted.Store(true) })

	time.Sleep(10 * time.Millisecond)

	if !callbackExecuted.Load() {
		t.Error("callback was not executed for already expired timer")
	}
}

func TestTimer_StopPreventsExecution(t *testing.T) {
	t.Parallel()

	duration := 50 * time.Millisecond
	var callbackExecuted atomic.Bool

	timer := timeutil.AfterFunc(duration, func() { callbackExecuted.Store(true) })

	time.Sleep(10 * time.Millisecond)
	timer.Stop()

	time.Sleep(duration + 20*time.Millisecond)

	if callbackExecuted.Load() {
		t.Error("callback was executed for stopped timer")
	}
	if timer.State() != timeutil.TimerStateStopped {
		t.Errorf("timer.State() = %v, want %v", timer.State(), timeutil.TimerStateStopped)
	}
}

func TestTimer_ResetRestartsTimer(t *testing.T) {
	t.Parallel()

	var callbackCount atomic.Int32

	timer := timeutil.AfterFunc(200*time.Millisecond, func() { callbackCount.Add(1) })

	time.Sleep(50 * time.Millisecond)
	newDuration := 100 * time.Millisecond
	timer.Reset(newDuration)

	time.Sleep(newDuration + 50*time.Millisecond)

	if got := callbackCount.Load(); got != 1 {
		t.Fatalf("callback ran %d times after reset, want 1", got)
	}
	if !timer.Expired() {
		t.Error("timer.Expired() = false after reset duration elapsed, want true")
	}
}
