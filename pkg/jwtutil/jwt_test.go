package jwtutil

import (
	"strings"
	"testing"
	"time"

	"crm-service/internal/apperr"
	"crm-service/pkg/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUtil() *JWTUtil {
	return NewJWTUtil(&config.JWTConfig{SigningKey: "test-key", Issuer: "crm-test", AccessHours: 8, RefreshHours: 168})
}

func TestOperatorTokenNeverCarriesTenant(t *testing.T) {
	j := newTestUtil()

	token, err := j.IssueOperator(7, "ops@crm.local")
	require.NoError(t, err)

	claims, err := j.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, KindOperator, claims.Kind)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Nil(t, claims.TenantID)
	assert.False(t, claims.IsRefresh())

	_, err = j.Issue(Principal{ID: 7, Kind: KindOperator, TenantID: uintPtr(1)}, TypeAccess, time.Hour)
	assert.ErrorIs(t, err, apperr.ErrTokenMalformed)
}

func TestTenantTokenAlwaysCarriesTenant(t *testing.T) {
	j := newTestUtil()

	token, err := j.IssueTenant(1, "admin@acme.com", 42, "super_admin")
	require.NoError(t, err)

	claims, err := j.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, KindTenant, claims.Kind)
	require.NotNil(t, claims.TenantID)
	assert.Equal(t, uint(42), *claims.TenantID)
	assert.Equal(t, "super_admin", claims.Role)
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), claims.ExpiresAt.Time, time.Minute)

	_, err = j.Issue(Principal{ID: 1, Kind: KindTenant}, TypeAccess, time.Hour)
	assert.ErrorIs(t, err, apperr.ErrTokenMalformed)
}

func TestForgedShapeIsMalformed(t *testing.T) {
	j := newTestUtil()

	// validly signed, but an operator token with a tenant id
	claims := Claims{
		Kind:     KindOperator,
		Type:     TypeAccess,
		UserID:   1,
		TenantID: uintPtr(3),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)

	_, err = j.ValidateToken(token)
	assert.ErrorIs(t, err, apperr.ErrTokenMalformed)
}

func TestRefreshToken(t *testing.T) {
	j := newTestUtil()

	token, err := j.IssueRefresh(1, "admin@acme.com", 42)
	require.NoError(t, err)

	claims, err := j.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.IsRefresh())
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestValidateDistinguishesFailures(t *testing.T) {
	j := newTestUtil()

	expired, err := j.Issue(Principal{ID: 1, Kind: KindOperator}, TypeAccess, -time.Minute)
	require.NoError(t, err)
	_, err = j.ValidateToken(expired)
	assert.ErrorIs(t, err, apperr.ErrTokenExpired)

	other := NewJWTUtil(&config.JWTConfig{SigningKey: "other-key"})
	foreign, err := other.IssueOperator(1, "ops@crm.local")
	require.NoError(t, err)
	_, err = j.ValidateToken(foreign)
	assert.ErrorIs(t, err, apperr.ErrTokenSignatureInvalid)

	valid, err := j.IssueOperator(1, "ops@crm.local")
	require.NoError(t, err)
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	_, err = j.ValidateToken(tampered)
	assert.ErrorIs(t, err, apperr.ErrTokenSignatureInvalid)

	_, err = j.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, apperr.ErrTokenMalformed)

	for _, e := range []error{apperr.ErrTokenExpired, apperr.ErrTokenSignatureInvalid, apperr.ErrTokenMalformed} {
		assert.True(t, apperr.IsUnauthenticated(e))
	}
}

func TestExtractBearer(t *testing.T) {
	token, ok := ExtractBearer("Bearer abc.def.ghi")
	assert.True(t, ok)
	assert.Equal(t, "abc.def.ghi", token)

	_, ok = ExtractBearer("bearer abc")
	assert.True(t, ok)

	for _, header := range []string{"", "Bearer", "Basic dXNlcjpwYXNz", "Bearer a b"} {
		_, ok := ExtractBearer(header)
		assert.False(t, ok, header)
	}
}

func uintPtr(v uint) *uint { return &v }
