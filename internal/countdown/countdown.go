package countdown

import (
	"fmt"
	"sync"
	"time"

	"soswatch/internal/clock"
)

// TickInterval is the reporting granularity of remaining durations.
const TickInterval = time.Second

// Timer tracks one absolute deadline and fires a callback exactly once
// when the remaining duration is first observed at or below zero.
// Params: injected clock and ticker factory; deadline set per Start.
// Returns: restartable countdown with 1 Hz remaining updates.
type Timer struct {
	mu        sync.Mutex
	clock     clock.Clock
	newTicker clock.TickerFactory

	deadline   time.Time
	generation uint64
	running    bool
	fired      bool
	stopTick   func()
}

// NewTimer creates a stopped countdown timer.
// Params: clock for remaining computation and ticker factory for the
// tick schedule (nil factory falls back to wall-clock tickers).
// Returns: initialized timer; call Start to arm it.
func NewTimer(clk clock.Clock, factory clock.TickerFactory) *Timer {
	if factory == nil {
		factory = clock.RealTickerFactory
	}
	return &Timer{clock: clk, newTicker: factory}
}

// Start arms the timer for a new target deadline.
// Params: absolute deadline and expiry callback.
// Returns: none; any pending schedule for a previous target is cancelled
// before the new one is installed. A deadline already in the past fires
// the callback without waiting for a tick, still exactly once for this
// activation. The callback always runs outside the caller's stack, so
// Start may be called while holding locks the callback also takes.
func (t *Timer) Start(deadline time.Time, onExpire func()) {
	t.mu.Lock()
	t.cancelLocked()
	t.generation++
	generation := t.generation
	t.deadline = deadline
	t.fired = false
	t.running = true

	if !t.clock.Now().Before(deadline) {
		t.fired = true
		t.running = false
		t.mu.Unlock()
		if onExpire != nil {
			go onExpire()
		}
		return
	}

	ticker := t.newTicker(TickInterval)
	done := make(chan struct{})
	t.stopTick = func() {
		ticker.Stop()
		close(done)
	}
	t.mu.Unlock()

	go t.run(ticker, done, generation, onExpire)
}

// run consumes ticks until expiry or cancellation.
// Params: ticker, cancellation channel, activation generation, callback.
// Returns: none; invokes callback at most once for this generation.
func (t *Timer) run(ticker clock.Ticker, done chan struct{}, generation uint64, onExpire func()) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			t.mu.Lock()
			if generation != t.generation || t.fired {
				t.mu.Unlock()
				return
			}
			if t.clock.Now().Before(t.deadline) {
				t.mu.Unlock()
				continue
			}
			t.fired = true
			t.running = false
			stop := t.stopTick
			t.stopTick = nil
			t.mu.Unlock()

			if stop != nil {
				stop()
			}
			if onExpire != nil {
				onExpire()
			}
			return
		}
	}
}

// Stop cancels any pending tick schedule without firing the callback.
// Params: none.
// Returns: none; safe to call repeatedly and on a stopped timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.cancelLocked()
	t.mu.Unlock()
}

// cancelLocked tears down the current schedule under the timer lock.
// Params: caller must hold t.mu.
// Returns: none.
func (t *Timer) cancelLocked() {
	t.generation++
	t.running = false
	if t.stopTick != nil {
		t.stopTick()
		t.stopTick = nil
	}
}

// Remaining returns the duration until the current deadline.
// Params: none.
// Returns: remaining duration clamped at zero; zero for a stopped or
// already-fired timer.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	remaining := t.deadline.Sub(t.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Running reports whether the timer is armed and not yet expired.
// Params: none.
// Returns: true between Start and expiry/Stop.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// FormatRemaining renders a remaining duration as hours:minutes:seconds.
// Params: remaining duration (negative values are clamped to zero).
// Returns: "h:mm:ss" display string.
func FormatRemaining(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	totalSeconds := int64(remaining / time.Second)
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}
