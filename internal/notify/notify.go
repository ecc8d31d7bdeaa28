package notify

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"

	"soswatch/internal/config"
	"soswatch/internal/domain"
)

// Notifier mirrors SOS lifecycle events to an emergency contact.
type Notifier interface {
	// OwnAlertCreated announces that the user's own alert went live.
	// Params: context and the created alert.
	// Returns: delivery error.
	OwnAlertCreated(ctx context.Context, alert domain.Alert) error

	// OwnAlertClosed announces that the user's own alert ended.
	// Params: context, alert id, and a human reason ("resolved", "expired").
	// Returns: delivery error.
	OwnAlertClosed(ctx context.Context, alertID, reason string) error

	// NearbyAlert announces a new alert from someone else nearby.
	// Params: context and the incoming alert.
	// Returns: delivery error.
	NearbyAlert(ctx context.Context, alert domain.Alert) error
}

// TelegramNotifier delivers notifications through a Telegram bot chat.
type TelegramNotifier struct {
	bot          *tgbot.Bot
	chatID       string
	notifyNearby bool
}

// NewTelegramNotifier builds a notifier from Telegram settings.
// Params: telegram config with bot token and target chat.
// Returns: notifier, or an error when the bot cannot be constructed.
func NewTelegramNotifier(cfg config.TelegramConfig) (*TelegramNotifier, error) {
	opts := []tgbot.Option{tgbot.WithSkipGetMe()}
	if cfg.APIBase != "" {
		opts = append(opts, tgbot.WithServerURL(cfg.APIBase))
	}
	bot, err := tgbot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{
		bot:          bot,
		chatID:       cfg.ChatID,
		notifyNearby: cfg.NotifyNearby,
	}, nil
}

// OwnAlertCreated announces that the user's own alert went live.
// Params: context and the created alert.
// Returns: send error from the Telegram API.
func (n *TelegramNotifier) OwnAlertCreated(ctx context.Context, alert domain.Alert) error {
	text := fmt.Sprintf(
		"🆘 SOS alert sent by %s\nLocation: %.5f, %.5f\nAlert id: %s",
		alert.Reporter.DisplayName, alert.Location.Latitude, alert.Location.Longitude, alert.ID,
	)
	return n.send(ctx, text)
}

// OwnAlertClosed announces that the user's own alert ended.
// Params: context, alert id, and a human reason.
// Returns: send error from the Telegram API.
func (n *TelegramNotifier) OwnAlertClosed(ctx context.Context, alertID, reason string) error {
	text := fmt.Sprintf("✅ SOS alert %s is over (%s)", alertID, reason)
	return n.send(ctx, text)
}

// NearbyAlert announces a new alert from someone else nearby.
// Params: context and the incoming alert.
// Returns: send error; nil when nearby notifications are disabled.
func (n *TelegramNotifier) NearbyAlert(ctx context.Context, alert domain.Alert) error {
	if !n.notifyNearby {
		return nil
	}
	text := fmt.Sprintf(
		"📍 SOS alert nearby from %s (%.0f m away)\nAlert id: %s",
		alert.Reporter.DisplayName, alert.DistanceMeters, alert.ID,
	)
	return n.send(ctx, text)
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	_, err := n.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
