// Package calendar creates calendar events for scheduled sessions through
// the conferencing provider's REST API.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrAPI = errors.New("calendar api error")

type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *APIError) Is(target error) bool { return target == ErrAPI }

type Config struct {
	OAuthURL     string
	APIURL       string
	GrantType    string
	AccountID    string
	ClientID     string
	ClientSecret string
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.GrantType == "" {
		cfg.GrantType = "account_credentials"
	}
	return &Client{cfg: cfg, http: hc}
}

type DateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type Attendee struct {
	Email string `json:"email"`
}

type Event struct {
	Start       DateTime   `json:"start"`
	End         DateTime   `json:"end"`
	Attendees   []Attendee `json:"attendees"`
	Location    string     `json:"location"`
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
}

// NewDateTime formats t as a zone-less local date-time in loc.
func NewDateTime(t time.Time, loc *time.Location) DateTime {
	return DateTime{DateTime: t.In(loc).Format("2006-01-02T15:04:05"), TimeZone: loc.String()}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// AccessToken exchanges the client credentials for a bearer token.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("grant_type", c.cfg.GrantType)
	q.Set("account_id", c.cfg.AccountID)
	endpoint := strings.TrimRight(c.cfg.OAuthURL, "/") + "/token?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/json")

	var out tokenResponse
	if err := c.do(req, "token", &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &APIError{Op: "token", Status: http.StatusOK, Body: "empty access_token"}
	}
	return out.AccessToken, nil
}

// CreateEvent adds ev to calendarID and returns the provider's event id.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/calendars/" + url.PathEscape(calendarID) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(req, "create_event", &out); err != nil {
		return "", err
	}
	log.Info().Str("module", "calendar").Str("calendar", calendarID).Str("event", out.ID).Msg("event created")
	return out.ID, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calendar %s: %w", op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("calendar %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("calendar %s: decode: %w", op, err)
	}
	return nil
}
