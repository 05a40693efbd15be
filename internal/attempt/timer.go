package attempt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	timerIdle int32 = iota
	timerRunning
	timerCancelled
	timerExpired
	timerFaulted
)

// DefaultTickInterval is the countdown granularity.
const DefaultTickInterval = time.Second

// TimerHandlers receive countdown notifications. They run on the timer's
// goroutine one at a time and must not call Cancel from OnTick.
type TimerHandlers struct {
	OnTick    func(remaining int)
	OnExpired func()
}

// CountdownTimer counts an attempt's remaining seconds down to zero.
// It emits a tick per interval and exactly one expiry, and cannot be restarted.
type CountdownTimer struct {
	remaining atomic.Int64
	state     atomic.Int32
	interval  time.Duration
	handlers  TimerHandlers
	log       zerolog.Logger

	// emitMu is held while a handler runs so Cancel can wait out an in-flight tick.
	emitMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// TimerOption configures a CountdownTimer.
type TimerOption func(*CountdownTimer)

// WithTickInterval overrides the one-second tick.
func WithTickInterval(d time.Duration) TimerOption {
	return func(t *CountdownTimer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTimerLogger sets the logger used for handler faults.
func WithTimerLogger(log zerolog.Logger) TimerOption {
	return func(t *CountdownTimer) { t.log = log }
}

// NewCountdownTimer creates a stopped timer for durationSeconds.
func NewCountdownTimer(durationSeconds int, h TimerHandlers, opts ...TimerOption) *CountdownTimer {
	t := &CountdownTimer{
		interval: DefaultTickInterval,
		handlers: h,
		log:      zerolog.Nop(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	t.remaining.Store(int64(durationSeconds))
	return t
}

// Start begins ticking on a dedicated goroutine.
func (t *CountdownTimer) Start() error {
	if !t.state.CompareAndSwap(timerIdle, timerRunning) {
		return ErrTimerSpent
	}
	go t.run()
	return nil
}

// Cancel stops the timer. Once Cancel returns no further notification is delivered.
// Cancelling an expired or cancelled timer is a no-op.
func (t *CountdownTimer) Cancel() {
	for {
		switch s := t.state.Load(); s {
		case timerIdle:
			if t.state.CompareAndSwap(timerIdle, timerCancelled) {
				close(t.stop)
				close(t.done)
				return
			}
		case timerRunning:
			if t.state.CompareAndSwap(timerRunning, timerCancelled) {
				close(t.stop)
				t.emitMu.Lock()
				t.emitMu.Unlock()
				return
			}
		default:
			return
		}
	}
}

// Remaining returns the seconds left on the countdown.
func (t *CountdownTimer) Remaining() int {
	return int(t.remaining.Load())
}

// Expired reports whether the countdown reached zero.
func (t *CountdownTimer) Expired() bool {
	return t.state.Load() == timerExpired
}

// Done is closed once the timer goroutine has exited.
func (t *CountdownTimer) Done() <-chan struct{} {
	return t.done
}

func (t *CountdownTimer) run() {
	defer close(t.done)

	if t.remaining.Load() <= 0 {
		t.expire()
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			left := t.remaining.Add(-1)
			if left <= 0 {
				t.remaining.Store(0)
				t.expire()
				return
			}
			if !t.emitTick(int(left)) {
				return
			}
		}
	}
}

func (t *CountdownTimer) emitTick(left int) bool {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if t.state.Load() != timerRunning {
		return false
	}
	if t.handlers.OnTick == nil {
		return true
	}
	return t.safeCall("tick", func() { t.handlers.OnTick(left) })
}

func (t *CountdownTimer) expire() {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if !t.state.CompareAndSwap(timerRunning, timerExpired) {
		return
	}
	if t.handlers.OnExpired != nil {
		t.safeCall("expired", t.handlers.OnExpired)
	}
}

// safeCall runs a handler, turning a panic into a logged fault that stops the timer.
func (t *CountdownTimer) safeCall(event string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.state.Store(timerFaulted)
			t.log.Warn().
				Interface("panic", r).
				Str("event", event).
				Msg("Timer handler panicked, no further ticks will be delivered")
			ok = false
		}
	}()
	fn()
	return true
}
