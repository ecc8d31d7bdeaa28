package countdown

import (
	"sync"
	"testing"
	"time"

	"soswatch/internal/clock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {}

type fakeTickerFactory struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (f *fakeTickerFactory) New(time.Duration) clock.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticker := &fakeTicker{ch: make(chan time.Time, 8)}
	f.tickers = append(f.tickers, ticker)
	return ticker
}

func (f *fakeTickerFactory) ticker(t *testing.T, index int) *fakeTicker {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if index >= len(f.tickers) {
		t.Fatalf("ticker %d not created yet, have %d", index, len(f.tickers))
	}
	return f.tickers[index]
}

func waitFired(t *testing.T, fired <-chan struct{}) {
	t.Helper()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}
}

func TestTimerFiresOnceAtDeadline(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	factory := &fakeTickerFactory{}
	timer := NewTimer(clk, factory.New)

	fired := make(chan struct{}, 4)
	timer.Start(clk.Now().Add(3*time.Second), func() { fired <- struct{}{} })
	ticker := factory.ticker(t, 0)

	// before the deadline a tick must not fire the callback
	ticker.ch <- clk.Now()
	clk.Advance(time.Second)
	ticker.ch <- clk.Now()
	select {
	case <-fired:
		t.Fatalf("timer fired before deadline")
	default:
	}

	clk.Advance(2 * time.Second)
	ticker.ch <- clk.Now()
	waitFired(t, fired)

	if timer.Running() {
		t.Fatalf("expected timer stopped after firing")
	}
	if len(fired) != 0 {
		t.Fatalf("expected exactly one fire")
	}
}

func TestTimerPastDeadlineFiresImmediately(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	factory := &fakeTickerFactory{}
	timer := NewTimer(clk, factory.New)

	fired := make(chan struct{}, 4)
	timer.Start(clk.Now().Add(-time.Minute), func() { fired <- struct{}{} })
	waitFired(t, fired)
	if timer.Running() {
		t.Fatalf("expected timer stopped")
	}
	if len(fired) != 0 {
		t.Fatalf("expected exactly one fire")
	}
}

func TestRestartCancelsPreviousDeadline(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	factory := &fakeTickerFactory{}
	timer := NewTimer(clk, factory.New)

	firstFired := make(chan struct{}, 4)
	timer.Start(clk.Now().Add(time.Second), func() { firstFired <- struct{}{} })

	secondFired := make(chan struct{}, 4)
	timer.Start(clk.Now().Add(5*time.Second), func() { secondFired <- struct{}{} })

	clk.Advance(2 * time.Second)
	second := factory.ticker(t, 1)
	second.ch <- clk.Now()
	select {
	case <-firstFired:
		t.Fatalf("cancelled activation fired")
	case <-secondFired:
		t.Fatalf("second activation fired before its deadline")
	default:
	}

	clk.Advance(3 * time.Second)
	second.ch <- clk.Now()
	waitFired(t, secondFired)
	select {
	case <-firstFired:
		t.Fatalf("cancelled activation fired after restart")
	default:
	}
}

func TestStopPreventsFiring(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	factory := &fakeTickerFactory{}
	timer := NewTimer(clk, factory.New)

	fired := make(chan struct{}, 4)
	timer.Start(clk.Now().Add(time.Second), func() { fired <- struct{}{} })
	timer.Stop()
	timer.Stop()

	if timer.Running() {
		t.Fatalf("expected stopped timer")
	}
	if timer.Remaining() != 0 {
		t.Fatalf("expected zero remaining after stop, got %v", timer.Remaining())
	}
	select {
	case <-fired:
		t.Fatalf("stopped timer fired")
	default:
	}
}

func TestRemainingClampsAtZero(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	factory := &fakeTickerFactory{}
	timer := NewTimer(clk, factory.New)

	timer.Start(clk.Now().Add(90*time.Minute), nil)
	if got := timer.Remaining(); got != 90*time.Minute {
		t.Fatalf("unexpected remaining %v", got)
	}

	clk.Advance(2 * time.Hour)
	if got := timer.Remaining(); got != 0 {
		t.Fatalf("expected clamped remaining, got %v", got)
	}
}

func TestFormatRemaining(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00:00"},
		{-time.Minute, "0:00:00"},
		{59 * time.Second, "0:00:59"},
		{90 * time.Minute, "1:30:00"},
		{2*time.Hour - time.Second, "1:59:59"},
		{2 * time.Hour, "2:00:00"},
		{25*time.Hour + 5*time.Second, "25:00:05"},
		{1500 * time.Millisecond, "0:00:01"},
	}
	for _, tc := range cases {
		if got := FormatRemaining(tc.in); got != tc.want {
			t.Fatalf("FormatRemaining(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
