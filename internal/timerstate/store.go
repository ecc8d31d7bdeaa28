package timerstate

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Storage keys. Timer slots and the credential live in independent keys;
// the credential is scoped apart from the timer namespace.
const (
	keyActiveAlertID    = "sos/active_alert_id"
	keyActiveDeadline   = "sos/active_deadline_ms"
	keyCooldownDeadline = "sos/cooldown_deadline_ms"
	keyCredential       = "auth/credential"
)

// ErrClosed indicates operations on a closed store.
var ErrClosed = errors.New("timer state store is closed")

// Snapshot holds the loaded timer slots.
// Params: active alert id+deadline and cooldown deadline; nil deadline
// pointers mean absent.
// Returns: reconciled view after lazy expiry.
type Snapshot struct {
	ActiveAlertID    string
	ActiveDeadline   *time.Time
	CooldownDeadline *time.Time

	// ExpiredActiveID carries the alert id of an active slot whose
	// deadline had already passed when loaded. The slot itself is
	// removed from the store; the controller uses this to run the
	// expiry transition on startup.
	ExpiredActiveID string
}

// Store persists the lifecycle timer slots and the bearer credential.
// Params: per-key atomic set/clear operations and reconciled load.
// Returns: durable state behavior for the lifecycle controller.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	SetActive(ctx context.Context, alertID string, deadline time.Time) error
	SetCooldown(ctx context.Context, deadline time.Time) error
	ClearActive(ctx context.Context) error
	ClearCooldown(ctx context.Context) error
	Credential(ctx context.Context) (string, error)
	SetCredential(ctx context.Context, token string) error
	ClearCredential(ctx context.Context) error
	Close() error
}

// kvBackend is the minimal key-value surface shared by store backends.
// Params: string keys and values; absent keys report ok=false.
// Returns: backend persistence primitives.
type kvBackend interface {
	get(ctx context.Context, key string) (value string, ok bool, err error)
	set(ctx context.Context, key, value string) error
	delete(ctx context.Context, key string) error
	close() error
}

// kvStore implements Store over one kvBackend.
// Params: backend and clock function for lazy expiry.
// Returns: shared slot semantics for memory and sqlite backends.
type kvStore struct {
	kv  kvBackend
	now func() time.Time
}

// Load reads the persisted slots, applying lazy expiry.
// Params: context for backend reads/deletes.
// Returns: snapshot with past deadlines treated as absent and removed
// from the store; a partially written active pair (id without deadline
// or the reverse) is treated as invalid and both keys are cleared.
func (s *kvStore) Load(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	now := s.now()

	activeID, idOK, err := s.kv.get(ctx, keyActiveAlertID)
	if err != nil {
		return Snapshot{}, err
	}
	activeDeadline, deadlineOK, err := s.getDeadline(ctx, keyActiveDeadline)
	if err != nil {
		return Snapshot{}, err
	}

	switch {
	case idOK != deadlineOK:
		if err := s.ClearActive(ctx); err != nil {
			return Snapshot{}, err
		}
	case idOK && deadlineOK:
		if activeDeadline.After(now) {
			snapshot.ActiveAlertID = activeID
			snapshot.ActiveDeadline = &activeDeadline
		} else {
			snapshot.ExpiredActiveID = activeID
			if err := s.ClearActive(ctx); err != nil {
				return Snapshot{}, err
			}
		}
	}

	cooldownDeadline, cooldownOK, err := s.getDeadline(ctx, keyCooldownDeadline)
	if err != nil {
		return Snapshot{}, err
	}
	if cooldownOK {
		if cooldownDeadline.After(now) {
			snapshot.CooldownDeadline = &cooldownDeadline
		} else if err := s.ClearCooldown(ctx); err != nil {
			return Snapshot{}, err
		}
	}

	return snapshot, nil
}

// SetActive persists the active alert id and deadline.
// Params: alert id and absolute deadline.
// Returns: first backend write error.
func (s *kvStore) SetActive(ctx context.Context, alertID string, deadline time.Time) error {
	if err := s.kv.set(ctx, keyActiveAlertID, alertID); err != nil {
		return err
	}
	return s.kv.set(ctx, keyActiveDeadline, formatDeadline(deadline))
}

// SetCooldown persists the cooldown deadline.
// Params: absolute deadline.
// Returns: backend write error.
func (s *kvStore) SetCooldown(ctx context.Context, deadline time.Time) error {
	return s.kv.set(ctx, keyCooldownDeadline, formatDeadline(deadline))
}

// ClearActive removes the active alert id and deadline keys.
// Params: context for backend deletes.
// Returns: first backend delete error.
func (s *kvStore) ClearActive(ctx context.Context) error {
	if err := s.kv.delete(ctx, keyActiveAlertID); err != nil {
		return err
	}
	return s.kv.delete(ctx, keyActiveDeadline)
}

// ClearCooldown removes the cooldown deadline key.
// Params: context for backend delete.
// Returns: backend delete error.
func (s *kvStore) ClearCooldown(ctx context.Context) error {
	return s.kv.delete(ctx, keyCooldownDeadline)
}

// Credential returns the persisted bearer credential.
// Params: context for backend read.
// Returns: credential value or empty string when absent.
func (s *kvStore) Credential(ctx context.Context) (string, error) {
	value, ok, err := s.kv.get(ctx, keyCredential)
	if err != nil || !ok {
		return "", err
	}
	return value, nil
}

// SetCredential persists the bearer credential.
// Params: opaque credential value.
// Returns: backend write error.
func (s *kvStore) SetCredential(ctx context.Context, token string) error {
	return s.kv.set(ctx, keyCredential, token)
}

// ClearCredential removes the credential key.
// Params: context for backend delete.
// Returns: backend delete error.
func (s *kvStore) ClearCredential(ctx context.Context) error {
	return s.kv.delete(ctx, keyCredential)
}

// Close releases backend resources.
// Params: none.
// Returns: backend close error.
func (s *kvStore) Close() error {
	return s.kv.close()
}

// getDeadline reads and parses one millisecond deadline key.
// Params: context and deadline key.
// Returns: parsed UTC deadline and presence flag; an unparseable value
// is treated as absent and removed.
func (s *kvStore) getDeadline(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := s.kv.get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	millis, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil {
		if err := s.kv.delete(ctx, key); err != nil {
			return time.Time{}, false, err
		}
		return time.Time{}, false, nil
	}
	return time.UnixMilli(millis).UTC(), true, nil
}

// formatDeadline encodes one deadline as unix milliseconds.
// Params: absolute deadline.
// Returns: decimal string value.
func formatDeadline(deadline time.Time) string {
	return strconv.FormatInt(deadline.UnixMilli(), 10)
}
