package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PushEventType identifies one server-to-client push event.
// Params: wire event name constants.
// Returns: normalized event type usage across the push channel and feed.
type PushEventType string

const (
	// PushEventAlertCreated carries a full alert payload to insert.
	PushEventAlertCreated PushEventType = "new-sos-alert"
	// PushEventAlertResolved carries an alert id to remove.
	PushEventAlertResolved PushEventType = "sos-alert-resolved"
	// PushEventAlertExpired carries an alert id to remove.
	PushEventAlertExpired PushEventType = "sos-alert-expired"
)

// PushEvent is one decoded push-channel envelope.
// Params: event name, full alert for created events, alert id for
// removal events.
// Returns: validated feed mutation instruction.
type PushEvent struct {
	Event   PushEventType `json:"event"`
	Alert   *Alert        `json:"alert,omitempty"`
	AlertID string        `json:"alertId,omitempty"`
}

// DecodePushEvent decodes and validates one push envelope.
// Params: JSON document bytes from the push transport.
// Returns: validated event or decode/validation error.
func DecodePushEvent(raw []byte) (PushEvent, error) {
	var event PushEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return PushEvent{}, fmt.Errorf("decode push event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return PushEvent{}, err
	}
	return event, nil
}

// Validate validates one push event against the contract.
// Params: event fields parsed from transport.
// Returns: validation error when the envelope is inconsistent.
func (e PushEvent) Validate() error {
	switch e.Event {
	case PushEventAlertCreated:
		if e.Alert == nil {
			return errors.New("created event requires alert payload")
		}
		if err := e.Alert.Validate(); err != nil {
			return fmt.Errorf("created event alert: %w", err)
		}
	case PushEventAlertResolved, PushEventAlertExpired:
		if strings.TrimSpace(e.AlertID) == "" && (e.Alert == nil || strings.TrimSpace(e.Alert.ID) == "") {
			return errors.New("removal event requires alertId")
		}
	default:
		return fmt.Errorf("unsupported push event %q", e.Event)
	}
	return nil
}

// TargetAlertID resolves the alert id the event applies to.
// Params: none.
// Returns: alert id from the id field or the embedded alert.
func (e PushEvent) TargetAlertID() string {
	if strings.TrimSpace(e.AlertID) != "" {
		return e.AlertID
	}
	if e.Alert != nil {
		return e.Alert.ID
	}
	return ""
}
