package domain

import (
	"context"
	"time"
)

const RoleAdmin = "admin"

// Identity is the verified admin behind a connection.
type Identity struct {
	UserID    string
	Email     string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// TokenVerifier turns a bearer token into an Identity. Implementations return
// an error wrapping ErrInvalidToken for anything that does not verify.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}
