package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"soswatch/internal/clock"
	"soswatch/internal/countdown"
	"soswatch/internal/domain"
	"soswatch/internal/feed"
	"soswatch/internal/notify"
	"soswatch/internal/sosapi"
	"soswatch/internal/timerstate"
)

// Phase is the SOS send cycle state.
// Values: PhaseIdle, PhaseActive, PhaseCooldown.
type Phase string

const (
	// PhaseIdle means no alert is active and sending is allowed.
	PhaseIdle Phase = "IDLE"
	// PhaseActive means the user's own alert is live.
	PhaseActive Phase = "ACTIVE"
	// PhaseCooldown means sending is blocked until the cooldown deadline.
	PhaseCooldown Phase = "COOLDOWN"
)

const (
	// DefaultActiveWindow bounds how long an alert stays active.
	DefaultActiveWindow = 2 * time.Hour
	// DefaultCooldownWindow blocks re-sending after an alert ends.
	DefaultCooldownWindow = 30 * time.Minute
)

var (
	// ErrAlertActive rejects sending while the user's own alert is live.
	ErrAlertActive = errors.New("an sos alert is already active")
	// ErrCooldownActive rejects sending during the post-alert cooldown.
	ErrCooldownActive = errors.New("sending is blocked by the cooldown window")
	// ErrNoActiveAlert rejects resolving when no alert is active.
	ErrNoActiveAlert = errors.New("no active sos alert")
	// ErrOwnAlert rejects offering help on the user's own alert.
	ErrOwnAlert = errors.New("cannot offer help on your own alert")
	// ErrAlertUnknown rejects help operations on alerts absent from the feed.
	ErrAlertUnknown = errors.New("alert is not in the live feed")
)

// AlertAPI is the slice of the SOS service the controller drives.
type AlertAPI interface {
	CreateAlert(ctx context.Context, location domain.Location) (domain.Alert, error)
	OfferHelp(ctx context.Context, alertID string) (sosapi.HelpOffer, error)
	CancelHelp(ctx context.Context, alertID string) error
	ResolveAlert(ctx context.Context, alertID string) (domain.Alert, error)
}

// Options carries the controller's collaborators and tuning.
type Options struct {
	Clock    clock.Clock
	Tickers  clock.TickerFactory
	Store    timerstate.Store
	API      AlertAPI
	Feed     *feed.Feed
	Notifier notify.Notifier
	Logger   *slog.Logger

	UserID   string
	Location domain.Location

	// ActiveWindow and CooldownWindow default to the standard SOS
	// windows when zero.
	ActiveWindow   time.Duration
	CooldownWindow time.Duration
}

// Controller owns the IDLE -> ACTIVE -> COOLDOWN -> IDLE send cycle,
// keeping the countdown timers, durable slots, live feed, and contact
// notifications in step with the server.
type Controller struct {
	mu sync.Mutex

	clock    clock.Clock
	store    timerstate.Store
	api      AlertAPI
	feed     *feed.Feed
	notifier notify.Notifier
	logger   *slog.Logger

	userID         string
	location       domain.Location
	activeWindow   time.Duration
	cooldownWindow time.Duration

	activeTimer   *countdown.Timer
	cooldownTimer *countdown.Timer

	phase         Phase
	activeAlertID string
	generation    uint64
	closed        bool
}

// NewController builds an idle controller; call Start to reload
// persisted state before use.
// Params: collaborators and tuning via Options.
// Returns: controller in PhaseIdle.
func NewController(opts Options) *Controller {
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = DefaultActiveWindow
	}
	if opts.CooldownWindow <= 0 {
		opts.CooldownWindow = DefaultCooldownWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		clock:          opts.Clock,
		store:          opts.Store,
		api:            opts.API,
		feed:           opts.Feed,
		notifier:       opts.Notifier,
		logger:         opts.Logger,
		userID:         opts.UserID,
		location:       opts.Location,
		activeWindow:   opts.ActiveWindow,
		cooldownWindow: opts.CooldownWindow,
		activeTimer:    countdown.NewTimer(opts.Clock, opts.Tickers),
		cooldownTimer:  countdown.NewTimer(opts.Clock, opts.Tickers),
		phase:          PhaseIdle,
	}
}

// Start reloads the persisted send-cycle state and resumes countdowns.
// An active window that ended while the process was down is completed
// here: the close is announced and the cooldown starts now.
// Params: context for store access.
// Returns: store error.
func (c *Controller) Start(ctx context.Context) error {
	snapshot, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load timer state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	if snapshot.ExpiredActiveID != "" {
		c.logger.Info("active alert expired while offline, entering cooldown",
			"alert_id", snapshot.ExpiredActiveID)
		c.notifyClosed(snapshot.ExpiredActiveID, "expired")
		c.enterCooldownLocked(ctx, c.clock.Now().Add(c.cooldownWindow))
		return nil
	}

	switch {
	case snapshot.ActiveDeadline != nil:
		c.phase = PhaseActive
		c.activeAlertID = snapshot.ActiveAlertID
		c.generation++
		generation := c.generation
		c.activeTimer.Start(*snapshot.ActiveDeadline, func() {
			c.onActiveExpired(generation)
		})
		c.logger.Info("resumed active alert countdown",
			"alert_id", c.activeAlertID, "deadline", snapshot.ActiveDeadline)
	case snapshot.CooldownDeadline != nil:
		c.enterCooldownTimerLocked(*snapshot.CooldownDeadline)
		c.logger.Info("resumed cooldown countdown", "deadline", snapshot.CooldownDeadline)
	}
	return nil
}

// CreateAlert sends a new SOS alert for the current user.
// Params: context for the API call.
// Returns: the server's alert, ErrAlertActive/ErrCooldownActive on
// local rejection, or the API error. A rate-limit response carrying a
// wait time starts a local cooldown of that length.
func (c *Controller) CreateAlert(ctx context.Context) (domain.Alert, error) {
	c.mu.Lock()
	switch c.phase {
	case PhaseActive:
		c.mu.Unlock()
		return domain.Alert{}, ErrAlertActive
	case PhaseCooldown:
		c.mu.Unlock()
		return domain.Alert{}, ErrCooldownActive
	}
	generation := c.generation
	c.mu.Unlock()

	alert, err := c.api.CreateAlert(ctx, c.location)
	if err != nil {
		c.handleCreateRateLimit(ctx, generation, err)
		return domain.Alert{}, err
	}

	deadline := alert.CreatedAt.Add(c.activeWindow)

	c.mu.Lock()
	if c.closed || c.generation != generation || c.phase != PhaseIdle {
		c.mu.Unlock()
		return alert, nil
	}
	if err := c.store.SetActive(ctx, alert.ID, deadline); err != nil {
		c.logger.Error("persist active alert failed", "alert_id", alert.ID, "error", err.Error())
	}
	c.phase = PhaseActive
	c.activeAlertID = alert.ID
	c.generation++
	next := c.generation
	c.activeTimer.Start(deadline, func() {
		c.onActiveExpired(next)
	})
	c.mu.Unlock()

	c.logger.Info("sos alert created", "alert_id", alert.ID, "deadline", deadline)
	if c.notifier != nil {
		if err := c.notifier.OwnAlertCreated(ctx, alert); err != nil {
			c.logger.Warn("contact notification failed", "error", err.Error())
		}
	}
	return alert, nil
}

// handleCreateRateLimit starts a local cooldown when the server's
// rate-limit response names a wait time. Responses without a parseable
// wait are surfaced to the caller unchanged.
func (c *Controller) handleCreateRateLimit(ctx context.Context, generation uint64, err error) {
	var rateLimited *sosapi.RateLimitedError
	if !errors.As(err, &rateLimited) || rateLimited.RetryAfterMinutes == nil {
		return
	}
	wait := time.Duration(*rateLimited.RetryAfterMinutes) * time.Minute

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.generation != generation || c.phase != PhaseIdle {
		return
	}
	c.logger.Warn("sos create rate limited, entering cooldown", "wait", wait.String())
	c.enterCooldownLocked(ctx, c.clock.Now().Add(wait))
}

// ResolveActiveAlert closes the user's own active alert and starts the
// cooldown window.
// Params: context for the API call.
// Returns: ErrNoActiveAlert outside PhaseActive, or the API error.
// A failed call leaves the phase untouched; an alert that already ended
// on the server is reconciled by its resolved/expired push event.
func (c *Controller) ResolveActiveAlert(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseActive || c.activeAlertID == "" {
		c.mu.Unlock()
		return ErrNoActiveAlert
	}
	alertID := c.activeAlertID
	generation := c.generation
	c.mu.Unlock()

	if _, err := c.api.ResolveAlert(ctx, alertID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.generation != generation || c.phase != PhaseActive {
		// expired meanwhile; the transition already ran, only make sure
		// no stale persisted id is left behind
		if err := c.store.ClearActive(ctx); err != nil {
			c.logger.Error("clear stale active slot failed", "error", err.Error())
		}
		return nil
	}
	c.activeTimer.Stop()
	if clearErr := c.store.ClearActive(ctx); clearErr != nil {
		c.logger.Error("clear active slot failed", "error", clearErr.Error())
	}
	c.logger.Info("sos alert resolved", "alert_id", alertID)
	c.notifyClosed(alertID, "resolved")
	c.activeAlertID = ""
	c.enterCooldownLocked(ctx, c.clock.Now().Add(c.cooldownWindow))
	return nil
}

// OfferHelp volunteers the current user as a helper on a nearby alert.
// Params: context and the alert id from the live feed.
// Returns: the reporter's help details, ErrAlertUnknown/ErrOwnAlert on
// local rejection, or the API error. The feed records the membership
// only after a confirmed response; any failure leaves it untouched.
func (c *Controller) OfferHelp(ctx context.Context, alertID string) (sosapi.HelpOffer, error) {
	alert, ok := c.feed.Get(alertID)
	if !ok {
		return sosapi.HelpOffer{}, ErrAlertUnknown
	}
	if alert.Reporter.ID == c.userID {
		return sosapi.HelpOffer{}, ErrOwnAlert
	}

	offer, err := c.api.OfferHelp(ctx, alertID)
	if err != nil {
		return sosapi.HelpOffer{}, err
	}
	c.feed.ApplyHelper(alertID, c.userID, true)
	return offer, nil
}

// CancelHelp withdraws the current user's help offer on an alert.
// Params: context and the alert id.
// Returns: the API error. The feed drops the membership only after a
// confirmed response.
func (c *Controller) CancelHelp(ctx context.Context, alertID string) error {
	if err := c.api.CancelHelp(ctx, alertID); err != nil {
		return err
	}
	c.feed.ApplyHelper(alertID, c.userID, false)
	return nil
}

// Push applies one push event to the controller's own alert state and
// forwards nearby-alert notifications; feed updates happen in the feed
// sink, not here.
// Params: decoded push event.
// Returns: nil.
func (c *Controller) Push(event domain.PushEvent) error {
	switch event.Event {
	case domain.PushEventAlertCreated:
		if event.Alert == nil || event.Alert.Reporter.ID == c.userID {
			return nil
		}
		if c.notifier != nil {
			if err := c.notifier.NearbyAlert(context.Background(), *event.Alert); err != nil {
				c.logger.Warn("contact notification failed", "error", err.Error())
			}
		}
	case domain.PushEventAlertResolved, domain.PushEventAlertExpired:
		c.onRemoteClose(event.TargetAlertID(), event.Event)
	}
	return nil
}

// onRemoteClose reconciles a resolved/expired push for the user's own
// active alert, closing the local window and starting the cooldown.
func (c *Controller) onRemoteClose(alertID string, event domain.PushEventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.phase != PhaseActive || alertID == "" || alertID != c.activeAlertID {
		return
	}
	reason := "resolved"
	if event == domain.PushEventAlertExpired {
		reason = "expired"
	}
	c.logger.Info("own alert closed by server", "alert_id", alertID, "reason", reason)
	c.activeTimer.Stop()
	ctx := context.Background()
	if err := c.store.ClearActive(ctx); err != nil {
		c.logger.Error("clear active slot failed", "error", err.Error())
	}
	c.notifyClosed(alertID, reason)
	c.activeAlertID = ""
	c.enterCooldownLocked(ctx, c.clock.Now().Add(c.cooldownWindow))
}

// onActiveExpired fires when the active window's countdown runs out.
func (c *Controller) onActiveExpired(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.generation != generation || c.phase != PhaseActive {
		return
	}
	alertID := c.activeAlertID
	c.logger.Info("active window expired", "alert_id", alertID)
	ctx := context.Background()
	if err := c.store.ClearActive(ctx); err != nil {
		c.logger.Error("clear active slot failed", "error", err.Error())
	}
	c.notifyClosed(alertID, "expired")
	c.activeAlertID = ""
	c.enterCooldownLocked(ctx, c.clock.Now().Add(c.cooldownWindow))
}

// onCooldownExpired fires when the cooldown countdown runs out.
func (c *Controller) onCooldownExpired(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.generation != generation || c.phase != PhaseCooldown {
		return
	}
	c.logger.Info("cooldown finished, sending unblocked")
	if err := c.store.ClearCooldown(context.Background()); err != nil {
		c.logger.Error("clear cooldown slot failed", "error", err.Error())
	}
	c.phase = PhaseIdle
	c.generation++
}

// enterCooldownLocked persists the cooldown deadline and starts its
// countdown. Caller must hold c.mu.
func (c *Controller) enterCooldownLocked(ctx context.Context, deadline time.Time) {
	if err := c.store.SetCooldown(ctx, deadline); err != nil {
		c.logger.Error("persist cooldown failed", "error", err.Error())
	}
	c.enterCooldownTimerLocked(deadline)
}

// enterCooldownTimerLocked switches the phase to cooldown and arms the
// countdown without touching the store. Caller must hold c.mu.
func (c *Controller) enterCooldownTimerLocked(deadline time.Time) {
	c.phase = PhaseCooldown
	c.generation++
	generation := c.generation
	c.cooldownTimer.Start(deadline, func() {
		c.onCooldownExpired(generation)
	})
}

// notifyClosed announces a closed own alert on the contact channel.
// Delivery failures are logged, never propagated. Caller must hold c.mu.
func (c *Controller) notifyClosed(alertID, reason string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.OwnAlertClosed(context.Background(), alertID, reason); err != nil {
		c.logger.Warn("contact notification failed", "error", err.Error())
	}
}

// Phase returns the current send-cycle phase.
// Params: none.
// Returns: PhaseIdle, PhaseActive, or PhaseCooldown.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// ActiveAlertID returns the id of the user's live alert.
// Params: none.
// Returns: empty string outside PhaseActive.
func (c *Controller) ActiveAlertID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeAlertID
}

// CanSend reports whether a new alert may be created right now.
// Params: none.
// Returns: true only in PhaseIdle.
func (c *Controller) CanSend() bool {
	return c.Phase() == PhaseIdle
}

// Remaining returns the countdown left in the current phase.
// Params: none.
// Returns: phase and time left; zero duration in PhaseIdle.
func (c *Controller) Remaining() (Phase, time.Duration) {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	switch phase {
	case PhaseActive:
		return phase, c.activeTimer.Remaining()
	case PhaseCooldown:
		return phase, c.cooldownTimer.Remaining()
	default:
		return phase, 0
	}
}

// Close stops both countdowns and blocks further transitions.
// Params: none.
// Returns: none; safe to call multiple times.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	c.mu.Unlock()
	c.activeTimer.Stop()
	c.cooldownTimer.Stop()
}
