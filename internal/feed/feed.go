package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"soswatch/internal/domain"
)

// Lister fetches active alerts near a location.
// Params: context and observer location.
// Returns: alerts annotated with observer distance.
type Lister interface {
	ListActiveAlerts(ctx context.Context, location domain.Location) ([]domain.Alert, error)
}

// Feed maintains the live, ordered collection of active alerts near the
// current user, kept current by push events merged with pull refreshes.
// Ordering: creation time descending, then distance ascending, then id.
// Params: lister for refreshes, current user id, observer location.
// Returns: snapshot reads and push-event application.
type Feed struct {
	mu       sync.Mutex
	lister   Lister
	userID   string
	location domain.Location
	logger   *slog.Logger

	alerts     []domain.Alert
	refreshSeq uint64
	closed     bool
}

// New creates an empty feed.
// Params: lister, current user id, observer location, optional logger.
// Returns: initialized feed; call Refresh for initial population.
func New(lister Lister, userID string, location domain.Location, logger *slog.Logger) *Feed {
	return &Feed{
		lister:   lister,
		userID:   userID,
		location: location,
		logger:   logger,
	}
}

// Refresh re-fetches the full list and replaces the feed wholesale.
// Params: context for the list call.
// Returns: list error; on failure the previous contents are kept.
// Concurrent refreshes: only the most recently initiated refresh is
// applied; an earlier in-flight refresh completing later is discarded.
func (f *Feed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.refreshSeq++
	seq := f.refreshSeq
	f.mu.Unlock()

	alerts, err := f.lister.ListActiveAlerts(ctx, f.location)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("feed refresh failed, keeping previous contents", "error", err.Error())
		}
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || seq != f.refreshSeq {
		return nil
	}
	next := make([]domain.Alert, 0, len(alerts))
	for _, alert := range alerts {
		if alert.Status != domain.AlertStatusActive {
			continue
		}
		next = append(next, alert)
	}
	f.alerts = next
	f.sortLocked()
	return nil
}

// Push applies one push event to the feed.
// Params: decoded push event.
// Returns: nil; events after Close are ignored (idempotent teardown).
func (f *Feed) Push(event domain.PushEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	switch event.Event {
	case domain.PushEventAlertCreated:
		if event.Alert == nil || event.Alert.Status != domain.AlertStatusActive {
			return nil
		}
		f.upsertLocked(*event.Alert)
		f.sortLocked()
	case domain.PushEventAlertResolved, domain.PushEventAlertExpired:
		f.removeLocked(event.TargetAlertID())
	}
	return nil
}

// Snapshot returns a copy of the current ordered alert list.
// Params: none.
// Returns: owned slice safe for the caller to keep.
func (f *Feed) Snapshot() []domain.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Alert, len(f.alerts))
	copy(out, f.alerts)
	return out
}

// Get returns one alert by id.
// Params: alert id.
// Returns: alert copy and presence flag.
func (f *Feed) Get(alertID string) (domain.Alert, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, alert := range f.alerts {
		if alert.ID == alertID {
			return alert, true
		}
	}
	return domain.Alert{}, false
}

// CanOfferHelp reports whether the current user may offer help on an alert.
// Params: alert entry.
// Returns: false for the user's own alert, non-active alerts, and
// alerts the user already helps.
func (f *Feed) CanOfferHelp(alert domain.Alert) bool {
	if alert.Status != domain.AlertStatusActive {
		return false
	}
	if alert.Reporter.ID == f.userID {
		return false
	}
	return !alert.HasHelper(f.userID)
}

// ApplyHelper updates one alert's helper membership after a confirmed
// offer/cancel response.
// Params: alert id, helper user id, and target membership.
// Returns: none; absent alerts are a no-op.
func (f *Feed) ApplyHelper(alertID, userID string, helping bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, alert := range f.alerts {
		if alert.ID != alertID {
			continue
		}
		if helping {
			f.alerts[i] = alert.WithHelper(userID)
		} else {
			f.alerts[i] = alert.WithoutHelper(userID)
		}
		return
	}
}

// Close tears down the feed; later pushes and refreshes are ignored.
// Params: none.
// Returns: none; safe to call multiple times.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.alerts = nil
	f.mu.Unlock()
}

// upsertLocked inserts or replaces one alert by id.
// Params: caller must hold f.mu.
// Returns: none.
func (f *Feed) upsertLocked(alert domain.Alert) {
	for i := range f.alerts {
		if f.alerts[i].ID == alert.ID {
			f.alerts[i] = alert
			return
		}
	}
	f.alerts = append(f.alerts, alert)
}

// removeLocked drops one alert by id.
// Params: caller must hold f.mu.
// Returns: none.
func (f *Feed) removeLocked(alertID string) {
	for i := range f.alerts {
		if f.alerts[i].ID == alertID {
			f.alerts = append(f.alerts[:i], f.alerts[i+1:]...)
			return
		}
	}
}

// sortLocked orders alerts newest first, proximity breaking ties.
// Params: caller must hold f.mu.
// Returns: none.
func (f *Feed) sortLocked() {
	sort.SliceStable(f.alerts, func(i, j int) bool {
		left, right := f.alerts[i], f.alerts[j]
		if !left.CreatedAt.Equal(right.CreatedAt) {
			return left.CreatedAt.After(right.CreatedAt)
		}
		if left.DistanceMeters != right.DistanceMeters {
			return left.DistanceMeters < right.DistanceMeters
		}
		return left.ID < right.ID
	})
}
