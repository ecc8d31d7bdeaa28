package push

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"soswatch/internal/config"
	"soswatch/internal/domain"
)

// NATSSource consumes push events broadcast over NATS subjects and
// forwards them to the sink. Alternative transport for deployments
// where the backend fans out alerts through a broker instead of a
// direct socket.
// Params: NATS connection and subscription.
// Returns: push channel lifecycle handle.
type NATSSource struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSource connects and subscribes to the alert broadcast subjects.
// Params: NATS push config, sink, and optional logger.
// Returns: started source or connect/subscribe error.
func NewNATSSource(cfg config.NATSPushConfig, sink EventSink, logger *slog.Logger) (*NATSSource, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect push broker: %w", err)
	}

	source := &NATSSource{nc: nc, logger: logger}
	subject := strings.TrimSuffix(cfg.Subject, ".") + ".>"
	sub, err := nc.Subscribe(subject, func(message *nats.Msg) {
		event, decodeErr := domain.DecodePushEvent(message.Data)
		if decodeErr != nil {
			if logger != nil {
				logger.Warn("push event decode failed", "subject", message.Subject, "error", decodeErr.Error())
			}
			return
		}
		if pushErr := sink.Push(event); pushErr != nil && logger != nil {
			logger.Error("push event sink failed", "subject", message.Subject, "error", pushErr.Error())
		}
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %q: %w", subject, err)
	}
	source.sub = sub
	return source, nil
}

// Close stops the subscription and closes the connection.
// Params: none.
// Returns: close error from subscription drain; safe to call multiple
// times (a drained subscription drains to a no-op).
func (s *NATSSource) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil && !strings.Contains(err.Error(), "invalid subscription") {
			s.nc.Close()
			return err
		}
		s.sub = nil
	}
	s.nc.Close()
	return nil
}
