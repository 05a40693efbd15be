package attempt

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitClosed(t *testing.T, ch <-chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(within):
		t.Fatalf("timed out after %s", within)
	}
}

func TestCountdownTimerExpiresOnce(t *testing.T) {
	const interval = time.Millisecond

	var (
		mu      sync.Mutex
		ticks   []int
		expired atomic.Int32
	)
	timer := NewCountdownTimer(60, TimerHandlers{
		OnTick: func(remaining int) {
			mu.Lock()
			ticks = append(ticks, remaining)
			mu.Unlock()
		},
		OnExpired: func() { expired.Add(1) },
	}, WithTickInterval(interval))

	started := time.Now()
	if err := timer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitClosed(t, timer.Done(), 5*time.Second)
	if elapsed := time.Since(started); elapsed < 60*interval {
		t.Fatalf("expired after %s, want at least %s", elapsed, 60*interval)
	}

	if got := expired.Load(); got != 1 {
		t.Fatalf("expired %d times, want 1", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 59 {
		t.Fatalf("got %d ticks, want 59", len(ticks))
	}
	for i, r := range ticks {
		if r != 59-i {
			t.Fatalf("tick %d reported %d remaining, want %d", i, r, 59-i)
		}
	}
	if !timer.Expired() || timer.Remaining() != 0 {
		t.Fatalf("Expired()=%v Remaining()=%d", timer.Expired(), timer.Remaining())
	}
}

func TestCountdownTimerCancelSuppressesNotifications(t *testing.T) {
	var ticks, expired atomic.Int32
	firstTick := make(chan struct{})
	var once sync.Once

	timer := NewCountdownTimer(1000, TimerHandlers{
		OnTick: func(int) {
			ticks.Add(1)
			once.Do(func() { close(firstTick) })
		},
		OnExpired: func() { expired.Add(1) },
	}, WithTickInterval(time.Millisecond))

	if err := timer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitClosed(t, firstTick, 5*time.Second)

	timer.Cancel()
	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)

	if got := ticks.Load(); got != after {
		t.Fatalf("received %d ticks after Cancel", got-after)
	}
	if expired.Load() != 0 {
		t.Fatal("expired fired after Cancel")
	}
	waitClosed(t, timer.Done(), time.Second)

	if err := timer.Start(); err != ErrTimerSpent {
		t.Fatalf("restart = %v, want ErrTimerSpent", err)
	}
	timer.Cancel()
}

func TestCountdownTimerZeroDurationExpiresImmediately(t *testing.T) {
	var ticks, expired atomic.Int32
	timer := NewCountdownTimer(0, TimerHandlers{
		OnTick:    func(int) { ticks.Add(1) },
		OnExpired: func() { expired.Add(1) },
	}, WithTickInterval(time.Hour))

	if err := timer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitClosed(t, timer.Done(), time.Second)

	if ticks.Load() != 0 || expired.Load() != 1 {
		t.Fatalf("ticks=%d expired=%d, want 0 and 1", ticks.Load(), expired.Load())
	}
}

func TestCountdownTimerCancelBeforeStart(t *testing.T) {
	timer := NewCountdownTimer(10, TimerHandlers{})
	timer.Cancel()
	waitClosed(t, timer.Done(), time.Second)
	if err := timer.Start(); err != ErrTimerSpent {
		t.Fatalf("Start after Cancel = %v, want ErrTimerSpent", err)
	}
}

func TestCountdownTimerHandlerPanicStopsTicking(t *testing.T) {
	var ticks, expired atomic.Int32
	timer := NewCountdownTimer(5, TimerHandlers{
		OnTick: func(int) {
			ticks.Add(1)
			panic("display crashed")
		},
		OnExpired: func() { expired.Add(1) },
	}, WithTickInterval(time.Millisecond))

	if err := timer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitClosed(t, timer.Done(), time.Second)

	if ticks.Load() != 1 {
		t.Fatalf("ticks = %d, want 1", ticks.Load())
	}
	if expired.Load() != 0 {
		t.Fatal("expired delivered after a handler fault")
	}
	timer.Cancel()
}
