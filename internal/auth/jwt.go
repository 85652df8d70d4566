// Package auth verifies admin bearer tokens for the event socket and the
// publish API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
)

const revokedPrefix = "revoked:"

// Claims are the access-token claims issued by the admin panel.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Cache is the read side of the shared cache. A miss, including one caused
// by the cache being down, means the token is not revoked.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
}

// RevocationKey is the cache key marking token id jti as revoked.
func RevocationKey(jti string) string {
	return revokedPrefix + jti
}

// JWTVerifier checks HS256 tokens from the configured issuer and requires
// the admin role.
type JWTVerifier struct {
	key    []byte
	cache  Cache
	parser *jwt.Parser
}

// NewJWTVerifier builds a verifier. cache may be nil to skip revocation checks.
func NewJWTVerifier(secret, issuer string, cache Cache, clock clockwork.Clock) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock.Now),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTVerifier{
		key:    []byte(secret),
		cache:  cache,
		parser: jwt.NewParser(opts...),
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, domain.ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token has expired", domain.ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, domain.ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrInvalidToken)
	}
	if claims.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: role %q", domain.ErrNotAdmin, claims.Role)
	}

	if v.cache != nil && claims.ID != "" {
		if _, revoked := v.cache.Get(ctx, RevocationKey(claims.ID)); revoked {
			return nil, fmt.Errorf("%w: token revoked", domain.ErrInvalidToken)
		}
	}

	identity := &domain.Identity{
		UserID:  claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// Sign issues a token for id valid for ttl from now. The service itself only
// verifies; Sign backs tests and the local tail tool.
func Sign(secret, issuer string, id domain.Identity, ttl time.Duration, now time.Time) (string, error) {
	jti := id.TokenID
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := Claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
