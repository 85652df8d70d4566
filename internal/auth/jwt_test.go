package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret-at-least-32-bytes-long!!"
	testIssuer = "portfolio-admin"
)

type mapCache map[string][]byte

func (m mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m[key]
	return v, ok
}

func admin() domain.Identity {
	return domain.Identity{UserID: "admin-1", Email: "admin@example.com", Role: domain.RoleAdmin, TokenID: "jti-1"}
}

func setup(t *testing.T, cache Cache) (*JWTVerifier, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	return NewJWTVerifier(testSecret, testIssuer, cache, clock), clock
}

func TestVerify_ValidToken(t *testing.T) {
	v, clock := setup(t, nil)

	token, err := Sign(testSecret, testIssuer, admin(), time.Hour, clock.Now())
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", id.UserID)
	assert.Equal(t, "admin@example.com", id.Email)
	assert.Equal(t, domain.RoleAdmin, id.Role)
	assert.Equal(t, "jti-1", id.TokenID)
	assert.Equal(t, clock.Now().Add(time.Hour), id.ExpiresAt)
}

func TestVerify_Rejections(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	viewer := admin()
	viewer.Role = "viewer"
	noSubject := admin()
	noSubject.UserID = ""

	mustSign := func(secret, issuer string, id domain.Identity, ttl time.Duration, at time.Time) string {
		token, err := Sign(secret, issuer, id, ttl, at)
		require.NoError(t, err)
		return token
	}

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1", Issuer: testIssuer, ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1", Issuer: testIssuer},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "empty", token: "", wantErr: domain.ErrMissingToken},
		{name: "garbage", token: "not-a-jwt", wantErr: domain.ErrInvalidToken},
		{name: "wrong secret", token: mustSign("other-secret", testIssuer, admin(), time.Hour, now), wantErr: domain.ErrInvalidToken},
		{name: "wrong issuer", token: mustSign(testSecret, "someone-else", admin(), time.Hour, now), wantErr: domain.ErrInvalidToken},
		{name: "expired", token: mustSign(testSecret, testIssuer, admin(), time.Hour, now.Add(-2*time.Hour)), wantErr: domain.ErrInvalidToken},
		{name: "alg none", token: noneToken, wantErr: domain.ErrInvalidToken},
		{name: "no expiry", token: noExpiry, wantErr: domain.ErrInvalidToken},
		{name: "no subject", token: mustSign(testSecret, testIssuer, noSubject, time.Hour, now), wantErr: domain.ErrInvalidToken},
		{name: "not admin", token: mustSign(testSecret, testIssuer, viewer, time.Hour, now), wantErr: domain.ErrNotAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := setup(t, nil)
			_, err := v.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerify_ExpiryFollowsClock(t *testing.T) {
	v, clock := setup(t, nil)
	token, err := Sign(testSecret, testIssuer, admin(), time.Minute, clock.Now())
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestVerify_RevokedToken(t *testing.T) {
	cache := mapCache{RevocationKey("jti-1"): []byte("1")}
	v, clock := setup(t, cache)

	revoked, err := Sign(testSecret, testIssuer, admin(), time.Hour, clock.Now())
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), revoked)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	other := admin()
	other.TokenID = "jti-2"
	fine, err := Sign(testSecret, testIssuer, other, time.Hour, clock.Now())
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), fine)
	assert.NoError(t, err)
}

func TestSign_GeneratesTokenID(t *testing.T) {
	v, clock := setup(t, nil)
	id := admin()
	id.TokenID = ""

	token, err := Sign(testSecret, testIssuer, id, time.Hour, clock.Now())
	require.NoError(t, err)

	got, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.NotEmpty(t, got.TokenID)
}

func TestRevocationKey(t *testing.T) {
	assert.Equal(t, "revoked:abc", RevocationKey("abc"))
}
