// Package signer mints the HS256 session credentials handed to launchers.
package signer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/VideoLaunch/internal/domain"
)

const (
	DefaultExpiry = 2 * time.Hour
	tokenVersion  = 1
)

var (
	ErrMissingSecret = errors.New("signer secret not configured")
	ErrEmptySession  = errors.New("session name empty")
	ErrInvalidRole   = errors.New("invalid role")
	ErrInvalidToken  = errors.New("invalid credential")
)

type Config struct {
	Key          string
	Secret       string
	Expiry       time.Duration
	SessionKey   string
	UserIdentity string
}

// Claims is the payload the conferencing toolkit expects.
type Claims struct {
	AppKey       string             `json:"app_key"`
	RoleType     domain.SessionRole `json:"role_type"`
	Topic        string             `json:"tpc"`
	Version      int                `json:"version"`
	UserIdentity string             `json:"user_identity,omitempty"`
	SessionKey   string             `json:"session_key,omitempty"`
	jwt.RegisteredClaims
}

type Signer struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) (*Signer, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	return &Signer{cfg: cfg, now: time.Now}, nil
}

func (s *Signer) Sign(sessionName domain.SessionName, role domain.SessionRole) (string, error) {
	if sessionName == "" {
		return "", ErrEmptySession
	}
	if !role.Valid() {
		return "", fmt.Errorf("%w: %d", ErrInvalidRole, role)
	}
	iat := s.now().Truncate(time.Second)
	claims := Claims{
		AppKey:       s.cfg.Key,
		RoleType:     role,
		Topic:        string(sessionName),
		Version:      tokenVersion,
		UserIdentity: s.cfg.UserIdentity,
		SessionKey:   s.cfg.SessionKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(s.cfg.Expiry)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the claims.
func (s *Signer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
