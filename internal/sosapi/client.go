package sosapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"soswatch/internal/config"
	"soswatch/internal/domain"
)

// TokenSource supplies the bearer credential for outbound requests.
// Params: context for credential reads.
// Returns: opaque token or read error; empty token means absent.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns one fixed token.
// Params: token value.
// Returns: constant token source.
type StaticTokenSource string

// Token returns the fixed token.
// Params: unused context.
// Returns: token value, never an error.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// Client performs SOS alert operations against the backend REST API.
// Params: base URL, timeout HTTP client, and token source.
// Returns: request/response operations with typed errors.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// HelpOffer is the response of a successful help offer.
// Params: confirmation message and reporter contact number.
// Returns: contact payload surfaced to the helping user.
type HelpOffer struct {
	Message     string `json:"message"`
	PhoneNumber string `json:"phoneNumber"`
}

// NewClient creates the SOS API client.
// Params: API config and token source.
// Returns: initialized client.
func NewClient(cfg config.APIConfig, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		tokens: tokens,
	}
}

// CreateAlert raises a new SOS alert at the given location.
// Params: context and creation location.
// Returns: server-assigned alert, or RateLimitedError/ErrUnauthorized/
// NetworkError.
func (c *Client) CreateAlert(ctx context.Context, location domain.Location) (domain.Alert, error) {
	var alert domain.Alert
	payload := struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}{Latitude: location.Latitude, Longitude: location.Longitude}
	if err := c.do(ctx, http.MethodPost, "/sos/create", payload, &alert, http.StatusCreated); err != nil {
		return domain.Alert{}, err
	}
	if err := alert.Validate(); err != nil {
		return domain.Alert{}, fmt.Errorf("create alert response: %w", err)
	}
	return alert, nil
}

// ListActiveAlerts fetches active alerts near the given location.
// Params: context and observer location.
// Returns: alerts annotated with distance from the query point; order
// is not guaranteed by this call.
func (c *Client) ListActiveAlerts(ctx context.Context, location domain.Location) ([]domain.Alert, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(location.Latitude, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(location.Longitude, 'f', -1, 64))

	var alerts []domain.Alert
	if err := c.do(ctx, http.MethodGet, "/sos/active?"+query.Encode(), nil, &alerts, http.StatusOK); err != nil {
		return nil, err
	}
	return alerts, nil
}

// OfferHelp registers the caller as a helper on an alert.
// Params: context and alert id.
// Returns: confirmation with reporter phone number, or ErrConflict when
// already helping, ErrNotFound when the alert is no longer active.
func (c *Client) OfferHelp(ctx context.Context, alertID string) (HelpOffer, error) {
	var offer HelpOffer
	path := "/sos/" + url.PathEscape(alertID) + "/help"
	if err := c.do(ctx, http.MethodPost, path, nil, &offer, http.StatusOK); err != nil {
		return HelpOffer{}, err
	}
	return offer, nil
}

// CancelHelp withdraws the caller's help offer.
// Params: context and alert id.
// Returns: ErrNotFound/ErrForbidden when the caller never offered help
// or the alert is gone.
func (c *Client) CancelHelp(ctx context.Context, alertID string) error {
	path := "/sos/" + url.PathEscape(alertID) + "/cancel-help"
	return c.do(ctx, http.MethodPost, path, nil, nil, http.StatusOK)
}

// ResolveAlert closes the caller's own alert.
// Params: context and alert id.
// Returns: resolved alert, or ErrForbidden when the caller is not the
// reporter, ErrNotFound when already resolved or missing.
func (c *Client) ResolveAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	var alert domain.Alert
	path := "/sos/" + url.PathEscape(alertID) + "/resolve"
	if err := c.do(ctx, http.MethodPut, path, nil, &alert, http.StatusOK); err != nil {
		return domain.Alert{}, err
	}
	return alert, nil
}

// do performs one authenticated JSON round trip.
// Params: method, path relative to the base URL, optional request body,
// optional response destination, and expected success status.
// Returns: typed taxonomy error on failure.
func (c *Client) do(ctx context.Context, method, path string, body, out any, wantStatus int) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("X-Request-ID", uuid.NewString())

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: read credential: %w", op, err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode != wantStatus {
		return classifyStatus(op, response)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// classifyStatus maps one non-success response to the error taxonomy.
// Params: operation label and HTTP response.
// Returns: taxonomy error with the server message attached.
func classifyStatus(op string, response *http.Response) error {
	message := readServerMessage(response)
	switch response.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case http.StatusForbidden:
		return fmt.Errorf("%s: %s: %w", op, message, ErrForbidden)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %s: %w", op, message, ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %s: %w", op, message, ErrConflict)
	case http.StatusTooManyRequests:
		return newRateLimitedError(message)
	default:
		return fmt.Errorf("%s: status=%d body=%s", op, response.StatusCode, message)
	}
}

// readServerMessage extracts the message field or raw body text.
// Params: HTTP response with unread body.
// Returns: server message, possibly empty.
func readServerMessage(response *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<16))
	if err != nil {
		return ""
	}
	var decoded struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &decoded) == nil {
		if decoded.Message != "" {
			return decoded.Message
		}
		if decoded.Error != "" {
			return decoded.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
