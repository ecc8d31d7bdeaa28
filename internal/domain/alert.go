package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AlertStatus is the SOS alert lifecycle state.
// Params: active/resolved state constants.
// Returns: one-way status for feed and controller transitions.
type AlertStatus string

const (
	// AlertStatusActive indicates a live, actionable alert.
	AlertStatusActive AlertStatus = "ACTIVE"
	// AlertStatusResolved indicates a closed alert; never transitions back.
	AlertStatusResolved AlertStatus = "RESOLVED"
)

// Reporter identifies the user who raised an alert.
// Params: opaque user id and display name.
// Returns: reporter identity embedded in alert payloads.
type Reporter struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Location is one geographic point.
// Params: latitude and longitude in degrees.
// Returns: immutable alert position or query point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Alert is one SOS broadcast event.
// Params: identity, reporter, position, status, creation time, observer
// distance, and helper membership.
// Returns: feed entry and API payload model.
type Alert struct {
	ID             string      `json:"id"`
	Reporter       Reporter    `json:"reporter"`
	Location       Location    `json:"location"`
	Status         AlertStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	DistanceMeters float64     `json:"distanceMeters"`
	Helpers        []string    `json:"helpers"`
}

// HasHelper reports whether the user already offered help on this alert.
// Params: user id.
// Returns: true when the id is a helper member.
func (a Alert) HasHelper(userID string) bool {
	for _, helper := range a.Helpers {
		if helper == userID {
			return true
		}
	}
	return false
}

// WithHelper returns a copy with the user added to the helper set.
// Params: user id of the confirmed helper.
// Returns: updated copy; unchanged copy when the id is already a member
// or equals the reporter id (a reporter never helps their own alert).
func (a Alert) WithHelper(userID string) Alert {
	if userID == "" || userID == a.Reporter.ID || a.HasHelper(userID) {
		return a.cloneHelpers()
	}
	next := a.cloneHelpers()
	next.Helpers = append(next.Helpers, userID)
	return next
}

// WithoutHelper returns a copy with the user removed from the helper set.
// Params: user id of the withdrawn helper.
// Returns: updated copy; unchanged copy when the id was not a member.
func (a Alert) WithoutHelper(userID string) Alert {
	next := a
	next.Helpers = make([]string, 0, len(a.Helpers))
	for _, helper := range a.Helpers {
		if helper == userID {
			continue
		}
		next.Helpers = append(next.Helpers, helper)
	}
	return next
}

// cloneHelpers copies the alert with an owned helper slice.
// Params: none.
// Returns: copy safe to mutate.
func (a Alert) cloneHelpers() Alert {
	next := a
	next.Helpers = append([]string(nil), a.Helpers...)
	return next
}

// Validate validates one alert against the API contract.
// Params: alert fields parsed from transport.
// Returns: validation error when the payload is unusable.
func (a Alert) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("alert id is required")
	}
	if strings.TrimSpace(a.Reporter.ID) == "" {
		return errors.New("alert reporter id is required")
	}
	switch a.Status {
	case AlertStatusActive, AlertStatusResolved:
	default:
		return fmt.Errorf("unsupported alert status %q", a.Status)
	}
	if a.CreatedAt.IsZero() {
		return errors.New("alert createdAt is required")
	}
	if a.HasHelper(a.Reporter.ID) {
		return errors.New("alert helpers must not contain the reporter")
	}
	return nil
}
