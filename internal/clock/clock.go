package clock

import "time"

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Ticker delivers scheduled ticks independent of any caller loop.
// Params: tick channel and stop control.
// Returns: time source for countdown scheduling.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds one ticker for the given interval.
// Params: tick interval.
// Returns: started ticker.
type TickerFactory func(interval time.Duration) Ticker

// RealTicker wraps time.Ticker behind the Ticker interface.
// Params: wall-clock ticker handle.
// Returns: scheduled tick delivery at fixed interval.
type RealTicker struct {
	ticker *time.Ticker
}

// NewRealTicker creates wall-clock ticker for the given interval.
// Params: tick interval (>0).
// Returns: started ticker.
func NewRealTicker(interval time.Duration) *RealTicker {
	return &RealTicker{ticker: time.NewTicker(interval)}
}

// C returns tick delivery channel.
// Params: none.
// Returns: channel receiving ticks at the configured interval.
func (t *RealTicker) C() <-chan time.Time {
	return t.ticker.C
}

// Stop stops tick delivery.
// Params: none.
// Returns: none.
func (t *RealTicker) Stop() {
	t.ticker.Stop()
}

// RealTickerFactory builds wall-clock tickers.
// Params: tick interval.
// Returns: started real ticker.
func RealTickerFactory(interval time.Duration) Ticker {
	return NewRealTicker(interval)
}
