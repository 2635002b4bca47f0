package core

import (
	"context"

	"github.com/dkeye/VideoLaunch/internal/domain"
)

// CredentialSource issues signed session credentials.
type CredentialSource interface {
	RequestCredential(ctx context.Context, id domain.LaunchIdentity, role domain.SessionRole) (string, error)
}
