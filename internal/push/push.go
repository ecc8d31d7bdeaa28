package push

import "soswatch/internal/domain"

// EventSink receives decoded push events from channel sources.
// Params: decoded event payload.
// Returns: processing error; sources log and continue on failure.
type EventSink interface {
	Push(event domain.PushEvent) error
}

// Source is one live push-channel subscription.
// Params: none.
// Returns: close control; Close is idempotent.
type Source interface {
	Close() error
}

// FanoutSink forwards one event to every sink in order.
// Params: sink list.
// Returns: first sink error after all sinks were called.
type FanoutSink []EventSink

// Push delivers the event to all sinks.
// Params: decoded event payload.
// Returns: first sink error.
func (f FanoutSink) Push(event domain.PushEvent) error {
	var firstErr error
	for _, sink := range f {
		if err := sink.Push(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
