package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soswatch/internal/clock"
	"soswatch/internal/config"
	"soswatch/internal/domain"
	"soswatch/internal/feed"
	"soswatch/internal/lifecycle"
	"soswatch/internal/logging"
	"soswatch/internal/notify"
	"soswatch/internal/push"
	"soswatch/internal/sosapi"
	"soswatch/internal/timerstate"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable soswatch daemon.
type Service struct {
	source     config.Source
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	store      timerstate.Store
	client     *sosapi.Client
	feed       *feed.Feed
	controller *lifecycle.Controller
	pushSrc    push.Source
	clock      clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.Source, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg, clk)
	if err != nil {
		closeLog()
		return nil, err
	}

	client := sosapi.NewClient(cfg.API, buildTokenSource(cfg, store))

	location := domain.Location{
		Latitude:  cfg.Service.Latitude,
		Longitude: cfg.Service.Longitude,
	}
	alertFeed := feed.New(client, cfg.Service.UserID, location, logger)

	notifier, err := buildNotifier(cfg)
	if err != nil {
		closeLog()
		_ = store.Close()
		return nil, err
	}

	controller := lifecycle.NewController(lifecycle.Options{
		Clock:          clk,
		Tickers:        clock.RealTickerFactory,
		Store:          store,
		API:            client,
		Feed:           alertFeed,
		Notifier:       notifier,
		Logger:         logger,
		UserID:         cfg.Service.UserID,
		Location:       location,
		ActiveWindow:   time.Duration(cfg.Service.ActiveWindowMin) * time.Minute,
		CooldownWindow: time.Duration(cfg.Service.CooldownMin) * time.Minute,
	})

	service := &Service{
		source:     source,
		cfg:        cfg,
		logger:     logger,
		closeLog:   closeLog,
		store:      store,
		client:     client,
		feed:       alertFeed,
		controller: controller,
		clock:      clk,
	}

	if err := service.buildPushSource(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts the daemon lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	if err := s.controller.Start(shutdownCtx); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("lifecycle start failed: %w", err)
	}

	if err := s.feed.Refresh(shutdownCtx); err != nil {
		s.logger.Warn("initial feed refresh failed", "error", err.Error())
	}

	refreshInterval := time.Duration(s.cfg.Service.RefreshIntervalSec) * time.Second
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-ticker.C:
				if err := s.feed.Refresh(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("feed refresh failed", "error", err.Error())
				}
			}
		}
	}()

	s.logger.Info("soswatch running",
		"user_id", s.cfg.Service.UserID,
		"push_transport", s.cfg.Push.Transport,
		"storage_mode", s.cfg.Storage.Mode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case <-sigChan:
		return s.shutdown()
	}
}

// Controller exposes the lifecycle controller for embedding callers.
// Params: none.
// Returns: shared controller instance.
func (s *Service) Controller() *lifecycle.Controller {
	return s.controller
}

// Feed exposes the live alert feed for embedding callers.
// Params: none.
// Returns: shared feed instance.
func (s *Service) Feed() *feed.Feed {
	return s.feed
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.pushSrc != nil {
		if err := s.pushSrc.Close(); err != nil {
			s.logger.Error("push source close failed", "error", err.Error())
			markErr(fmt.Errorf("push source close: %w", err))
		}
	}
	s.controller.Close()
	s.feed.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.pushSrc != nil {
		_ = s.pushSrc.Close()
		s.pushSrc = nil
	}
	if s.controller != nil {
		s.controller.Close()
	}
	if s.feed != nil {
		s.feed.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildPushSource connects the configured push transport and fans
// events out to the feed and the lifecycle controller.
// Params: none.
// Returns: initialization error.
func (s *Service) buildPushSource() error {
	sink := push.FanoutSink{s.feed, s.controller}
	switch s.cfg.Push.Transport {
	case config.PushTransportWebSocket:
		source, err := push.NewWebSocketSource(s.cfg.Push.WebSocket, sink, s.logger)
		if err != nil {
			return err
		}
		s.pushSrc = source
	case config.PushTransportNATS:
		source, err := push.NewNATSSource(s.cfg.Push.NATS, sink, s.logger)
		if err != nil {
			return err
		}
		s.pushSrc = source
	}
	return nil
}

// buildNotifier creates the emergency-contact notifier when enabled.
// Params: root config snapshot.
// Returns: notifier or nil when no channel is configured.
func buildNotifier(cfg config.Config) (notify.Notifier, error) {
	if !cfg.Notify.Telegram.Enabled {
		return nil, nil
	}
	return notify.NewTelegramNotifier(cfg.Notify.Telegram)
}

// buildTokenSource selects the bearer token origin for the REST client.
// Params: root config snapshot and timer state store.
// Returns: static token from config, or the stored credential slot.
func buildTokenSource(cfg config.Config, store timerstate.Store) sosapi.TokenSource {
	if cfg.API.Token != "" {
		return sosapi.StaticTokenSource(cfg.API.Token)
	}
	return storedTokenSource{store: store}
}

// buildStore creates the durable timer state backend from config.
// Params: root config snapshot and clock implementation.
// Returns: selected store backend.
func buildStore(cfg config.Config, clk clock.Clock) (timerstate.Store, error) {
	if cfg.Storage.Mode == config.StorageModeMemory {
		return timerstate.NewMemoryStore(clk.Now), nil
	}
	return timerstate.NewSQLiteStore(cfg.Storage.Path, clk.Now)
}

// storedTokenSource serves the bearer token from the credential slot.
type storedTokenSource struct {
	store timerstate.Store
}

// Token reads the persisted credential.
// Params: context for store access.
// Returns: stored token, or an error when none is saved.
func (s storedTokenSource) Token(ctx context.Context) (string, error) {
	token, err := s.store.Credential(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("no credential stored; set api.token or save a credential")
	}
	return token, nil
}
