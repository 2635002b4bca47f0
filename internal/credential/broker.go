// Package credential fetches signed session credentials from the
// credential endpoint.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoLaunch/internal/domain"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 10
)

var ErrCredential = errors.New("credential request failed")

// CredentialError carries whatever the endpoint answered, or the transport
// error if it never answered.
type CredentialError struct {
	Status int
	Body   string
	Err    error
}

func (e *CredentialError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("credential request failed: %v", e.Err)
	case e.Status != 0:
		return fmt.Sprintf("credential request failed: status %d: %s", e.Status, e.Body)
	default:
		return fmt.Sprintf("credential request failed: no signature in %s", e.Body)
	}
}

func (e *CredentialError) Unwrap() error { return e.Err }

func (e *CredentialError) Is(target error) bool { return target == ErrCredential }

type BrokerConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type Option func(*Broker)

func WithHTTPClient(c *http.Client) Option {
	return func(b *Broker) { b.client = c }
}

type Broker struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

func NewBroker(cfg BrokerConfig, opts ...Option) *Broker {
	b := &Broker{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		client:   http.DefaultClient,
	}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

type request struct {
	SessionName domain.SessionName `json:"sessionName"`
	Role        domain.SessionRole `json:"role"`
}

type response struct {
	Signature string `json:"signature"`
}

// RequestCredential issues one POST and returns the signature. Any answer
// without a non-empty signature is a *CredentialError.
func (b *Broker) RequestCredential(ctx context.Context, id domain.LaunchIdentity, role domain.SessionRole) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	payload, err := json.Marshal(request{SessionName: id.SessionName, Role: role})
	if err != nil {
		return "", &CredentialError{Err: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &CredentialError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("module", "credential").Str("endpoint", b.endpoint).Msg("transport error")
		return "", &CredentialError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &CredentialError{Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		log.Warn().Str("module", "credential").Int("status", resp.StatusCode).Msg("unparseable credential response")
		return "", &CredentialError{Status: resp.StatusCode, Body: string(body), Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &CredentialError{Status: resp.StatusCode, Body: string(body)}
	}
	if out.Signature == "" {
		log.Warn().Str("module", "credential").Str("body", string(body)).Msg("credential response without signature")
		return "", &CredentialError{Body: string(body)}
	}

	log.Info().Str("module", "credential").Str("session", string(id.SessionName)).Int("role", int(role)).Msg("credential issued")
	return out.Signature, nil
}
