package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"soswatch/internal/domain"
)

type staticLister struct {
	mu     sync.Mutex
	alerts []domain.Alert
	err    error
	calls  int
}

func (l *staticLister) ListActiveAlerts(context.Context, domain.Location) ([]domain.Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	out := make([]domain.Alert, len(l.alerts))
	copy(out, l.alerts)
	return out, nil
}

func activeAlert(id, reporterID string, createdAt time.Time, distance float64) domain.Alert {
	return domain.Alert{
		ID:             id,
		Reporter:       domain.Reporter{ID: reporterID, DisplayName: reporterID},
		Status:         domain.AlertStatusActive,
		CreatedAt:      createdAt,
		DistanceMeters: distance,
	}
}

func ids(alerts []domain.Alert) []string {
	out := make([]string, len(alerts))
	for i, alert := range alerts {
		out[i] = alert.ID
	}
	return out
}

func TestRefreshOrdersNewestFirstThenDistance(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lister := &staticLister{alerts: []domain.Alert{
		activeAlert("c", "u2", base, 50),
		activeAlert("a", "u3", base.Add(time.Minute), 900),
		activeAlert("d", "u4", base, 50),
		activeAlert("b", "u5", base, 10),
	}}
	feed := New(lister, "u1", domain.Location{}, nil)

	if err := feed.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got := ids(feed.Snapshot())
	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", got, want)
		}
	}
}

func TestRefreshKeepsContentsOnError(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lister := &staticLister{alerts: []domain.Alert{activeAlert("a", "u2", base, 10)}}
	feed := New(lister, "u1", domain.Location{}, nil)

	if err := feed.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	lister.mu.Lock()
	lister.err = errors.New("backend down")
	lister.mu.Unlock()

	if err := feed.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if got := ids(feed.Snapshot()); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected previous contents kept, got %v", got)
	}
}

func TestRefreshDropsResolvedEntries(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	resolved := activeAlert("r", "u2", base, 10)
	resolved.Status = domain.AlertStatusResolved
	lister := &staticLister{alerts: []domain.Alert{
		resolved,
		activeAlert("a", "u3", base, 20),
	}}
	feed := New(lister, "u1", domain.Location{}, nil)

	if err := feed.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := ids(feed.Snapshot()); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected resolved entry dropped, got %v", got)
	}
}

type blockingLister struct {
	started chan struct{}
	results chan []domain.Alert
}

func (l *blockingLister) ListActiveAlerts(ctx context.Context, _ domain.Location) ([]domain.Alert, error) {
	l.started <- struct{}{}
	select {
	case alerts := <-l.results:
		return alerts, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestLastInitiatedRefreshWins(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lister := &blockingLister{
		started: make(chan struct{}),
		results: make(chan []domain.Alert),
	}
	feed := New(lister, "u1", domain.Location{}, nil)

	firstDone := make(chan error, 1)
	go func() { firstDone <- feed.Refresh(context.Background()) }()
	<-lister.started

	secondDone := make(chan error, 1)
	go func() { secondDone <- feed.Refresh(context.Background()) }()
	<-lister.started

	// the later refresh completes first and is applied
	lister.results <- []domain.Alert{activeAlert("new", "u2", base.Add(time.Minute), 10)}
	if err := <-secondDone; err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	// the earlier refresh completes late; its stale result is discarded
	lister.results <- []domain.Alert{activeAlert("old", "u3", base, 10)}
	if err := <-firstDone; err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	if got := ids(feed.Snapshot()); len(got) != 1 || got[0] != "new" {
		t.Fatalf("expected stale refresh discarded, got %v", got)
	}
}

func TestPushCreatedAndRemoval(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	feed := New(&staticLister{}, "u1", domain.Location{}, nil)

	created := activeAlert("a", "u2", base, 10)
	if err := feed.Push(domain.PushEvent{Event: domain.PushEventAlertCreated, Alert: &created}); err != nil {
		t.Fatalf("push created: %v", err)
	}
	newer := activeAlert("b", "u3", base.Add(time.Minute), 400)
	if err := feed.Push(domain.PushEvent{Event: domain.PushEventAlertCreated, Alert: &newer}); err != nil {
		t.Fatalf("push created: %v", err)
	}

	got := ids(feed.Snapshot())
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("unexpected order %v", got)
	}

	if err := feed.Push(domain.PushEvent{Event: domain.PushEventAlertResolved, AlertID: "b"}); err != nil {
		t.Fatalf("push resolved: %v", err)
	}
	if err := feed.Push(domain.PushEvent{Event: domain.PushEventAlertExpired, AlertID: "missing"}); err != nil {
		t.Fatalf("push expired: %v", err)
	}

	got = ids(feed.Snapshot())
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected feed %v", got)
	}
}

func TestPushCreatedReplacesExisting(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	feed := New(&staticLister{}, "u1", domain.Location{}, nil)

	first := activeAlert("a", "u2", base, 10)
	_ = feed.Push(domain.PushEvent{Event: domain.PushEventAlertCreated, Alert: &first})

	updated := first
	updated.Helpers = []string{"u9"}
	_ = feed.Push(domain.PushEvent{Event: domain.PushEventAlertCreated, Alert: &updated})

	snapshot := feed.Snapshot()
	if len(snapshot) != 1 || !snapshot[0].HasHelper("u9") {
		t.Fatalf("expected upsert to replace entry, got %+v", snapshot)
	}
}

func TestCanOfferHelp(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	feed := New(&staticLister{}, "u1", domain.Location{}, nil)

	own := activeAlert("own", "u1", base, 0)
	if feed.CanOfferHelp(own) {
		t.Fatalf("expected own alert excluded")
	}

	other := activeAlert("a", "u2", base, 10)
	if !feed.CanOfferHelp(other) {
		t.Fatalf("expected help allowed on other alert")
	}

	helping := other.WithHelper("u1")
	if feed.CanOfferHelp(helping) {
		t.Fatalf("expected already-helping alert excluded")
	}

	resolved := other
	resolved.Status = domain.AlertStatusResolved
	if feed.CanOfferHelp(resolved) {
		t.Fatalf("expected resolved alert excluded")
	}
}

func TestApplyHelper(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	feed := New(&staticLister{}, "u1", domain.Location{}, nil)
	alert := activeAlert("a", "u2", base, 10)
	_ = feed.Push(domain.PushEvent{Event: domain.PushEventAlertCreated, Alert: &alert})

	feed.ApplyHelper("a", "u1", true)
	got, ok := feed.Get("a")
	if !ok || !got.HasHelper("u1") {
		t.Fatalf("expected helper recorded, got %+v", got)
	}

	feed.ApplyHelper("a", "u1", false)
	got, _ = feed.Get("a")
	if got.HasHelper("u1") {
		t.Fatalf("expected helper withdrawn, got %+v", got)
	}

	// absent alert is a no-op
	feed.ApplyHelper("missing", "u1", true)
}

func TestCloseMakesPushNoOp(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	feed := New(&staticLister{}, "u1", domain.Location{}, nil)
	feed.Close()
	feed.Close()

	alert := activeAlert("a", "u2", base, 10)
	if err := feed.Push(domain.PushEvent{Event: domain.PushEventAlertCreated, Alert: &alert}); err != nil {
		t.Fatalf("push after close: %v", err)
	}
	if err := feed.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh after close: %v", err)
	}
	if len(feed.Snapshot()) != 0 {
		t.Fatalf("expected empty feed after close")
	}
}
