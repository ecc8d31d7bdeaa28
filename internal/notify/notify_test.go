package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"soswatch/internal/config"
	"soswatch/internal/domain"
)

type sentMessage struct {
	ChatID string
	Text   string
}

func newTelegramServer(t *testing.T) (*httptest.Server, func() []sentMessage) {
	t.Helper()
	var mu sync.Mutex
	var received []sentMessage
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost {
			t.Errorf("method=%s", request.Method)
		}
		if request.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("path=%s", request.URL.Path)
		}
		if err := request.ParseMultipartForm(2 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		received = append(received, sentMessage{
			ChatID: request.FormValue("chat_id"),
			Text:   request.FormValue("text"),
		})
		messageID := 100 + len(received)
		mu.Unlock()

		writer.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(writer, `{"ok":true,"result":{"message_id":%d,"date":1,"chat":{"id":1,"type":"private"}}}`, messageID)
	}))
	t.Cleanup(server.Close)
	return server, func() []sentMessage {
		mu.Lock()
		defer mu.Unlock()
		out := make([]sentMessage, len(received))
		copy(out, received)
		return out
	}
}

func newTestNotifier(t *testing.T, server *httptest.Server, notifyNearby bool) *TelegramNotifier {
	t.Helper()
	notifier, err := NewTelegramNotifier(config.TelegramConfig{
		Enabled:      true,
		BotToken:     "token",
		ChatID:       "chat-1",
		APIBase:      server.URL,
		NotifyNearby: notifyNearby,
	})
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	return notifier
}

func TestOwnAlertCreatedMessage(t *testing.T) {
	t.Parallel()

	server, messages := newTelegramServer(t)
	notifier := newTestNotifier(t, server, false)

	alert := domain.Alert{
		ID:        "a1",
		Reporter:  domain.Reporter{ID: "u1", DisplayName: "Me"},
		Location:  domain.Location{Latitude: 52.23, Longitude: 21.01},
		Status:    domain.AlertStatusActive,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := notifier.OwnAlertCreated(context.Background(), alert); err != nil {
		t.Fatalf("own alert created: %v", err)
	}

	sent := messages()
	if len(sent) != 1 || sent[0].ChatID != "chat-1" {
		t.Fatalf("unexpected messages %+v", sent)
	}
	if !strings.Contains(sent[0].Text, "a1") || !strings.Contains(sent[0].Text, "52.23") {
		t.Fatalf("unexpected message text %q", sent[0].Text)
	}
}

func TestOwnAlertClosedMessage(t *testing.T) {
	t.Parallel()

	server, messages := newTelegramServer(t)
	notifier := newTestNotifier(t, server, false)

	if err := notifier.OwnAlertClosed(context.Background(), "a1", "expired"); err != nil {
		t.Fatalf("own alert closed: %v", err)
	}

	sent := messages()
	if len(sent) != 1 {
		t.Fatalf("unexpected messages %+v", sent)
	}
	if !strings.Contains(sent[0].Text, "a1") || !strings.Contains(sent[0].Text, "expired") {
		t.Fatalf("unexpected message text %q", sent[0].Text)
	}
}

func TestNearbyAlertRespectsToggle(t *testing.T) {
	t.Parallel()

	server, messages := newTelegramServer(t)
	muted := newTestNotifier(t, server, false)

	alert := domain.Alert{
		ID:             "a5",
		Reporter:       domain.Reporter{ID: "u2", DisplayName: "Neighbor"},
		Status:         domain.AlertStatusActive,
		DistanceMeters: 320,
	}
	if err := muted.NearbyAlert(context.Background(), alert); err != nil {
		t.Fatalf("nearby (muted): %v", err)
	}
	if sent := messages(); len(sent) != 0 {
		t.Fatalf("expected no message when disabled, got %+v", sent)
	}

	enabled := newTestNotifier(t, server, true)
	if err := enabled.NearbyAlert(context.Background(), alert); err != nil {
		t.Fatalf("nearby: %v", err)
	}
	sent := messages()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "Neighbor") {
		t.Fatalf("unexpected messages %+v", sent)
	}
}

func TestNotifierSurfacesAPIFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"ok":false,"error_code":400,"description":"chat not found"}`))
	}))
	defer server.Close()

	notifier, err := NewTelegramNotifier(config.TelegramConfig{
		Enabled:  true,
		BotToken: "token",
		ChatID:   "chat-1",
		APIBase:  server.URL,
	})
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	if err := notifier.OwnAlertClosed(context.Background(), "a1", "resolved"); err == nil {
		t.Fatalf("expected send error")
	}
}
