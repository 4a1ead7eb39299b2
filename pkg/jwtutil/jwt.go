package jwtutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crm-service/internal/apperr"
	"crm-service/pkg/config"

	"github.com/golang-jwt/jwt/v5"
)

// Kind is the kind of principal a token was issued to
type Kind string

// Principal kinds
const (
	KindOperator Kind = "operator"
	KindTenant   Kind = "tenant"
)

// Token types
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims represents the JWT claims of an access or refresh token
type Claims struct {
	Kind     Kind   `json:"kind"`
	Type     string `json:"type"`
	UserID   uint   `json:"user_id"`
	Email    string `json:"email,omitempty"`
	TenantID *uint  `json:"tenant_id,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IsRefresh reports whether the claims belong to a refresh token
func (c *Claims) IsRefresh() bool {
	return c.Type == TypeRefresh
}

// Principal is the identity a token is issued for
type Principal struct {
	ID       uint
	Email    string
	Kind     Kind
	TenantID *uint
	Role     string
}

// JWTUtil issues and validates signed tokens
type JWTUtil struct {
	config *config.JWTConfig
}

// NewJWTUtil creates a new JWT utility with the given configuration
func NewJWTUtil(cfg *config.JWTConfig) *JWTUtil {
	return &JWTUtil{config: cfg}
}

// Issue signs a token of typ for p that expires after ttl
func (j *JWTUtil) Issue(p Principal, typ string, ttl time.Duration) (string, error) {
	if err := checkShape(p.Kind, p.TenantID); err != nil {
		return "", err
	}

	now := time.Now()
	claims := Claims{
		Kind:     p.Kind,
		Type:     typ,
		UserID:   p.ID,
		Email:    p.Email,
		TenantID: p.TenantID,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(p.ID), 10),
			Issuer:    j.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.config.SigningKey))
}

// IssueOperator creates a session token for an operator
func (j *JWTUtil) IssueOperator(id uint, email string) (string, error) {
	return j.Issue(Principal{ID: id, Email: email, Kind: KindOperator}, TypeAccess, j.config.AccessTTL())
}

// IssueTenant creates a session token for a tenant user
func (j *JWTUtil) IssueTenant(id uint, email string, tenantID uint, role string) (string, error) {
	return j.Issue(Principal{ID: id, Email: email, Kind: KindTenant, TenantID: &tenantID, Role: role}, TypeAccess, j.config.AccessTTL())
}

// IssueRefresh creates a long-lived refresh token for a tenant user
func (j *JWTUtil) IssueRefresh(id uint, email string, tenantID uint) (string, error) {
	return j.Issue(Principal{ID: id, Email: email, Kind: KindTenant, TenantID: &tenantID}, TypeRefresh, j.config.RefreshTTL())
}

// ValidateToken verifies signature and expiry and returns the claims.
// Errors are apperr.ErrTokenExpired, apperr.ErrTokenSignatureInvalid or
// apperr.ErrTokenMalformed.
func (j *JWTUtil) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return []byte(j.config.SigningKey), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, fmt.Errorf("%w: %v", apperr.ErrTokenSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperr.ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %v", apperr.ErrTokenMalformed, err)
	}

	if claims.Type != TypeAccess && claims.Type != TypeRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", apperr.ErrTokenMalformed, claims.Type)
	}
	if err := checkShape(claims.Kind, claims.TenantID); err != nil {
		return nil, err
	}
	return claims, nil
}

// An operator token never carries a tenant id; a tenant token always does.
func checkShape(kind Kind, tenantID *uint) error {
	switch kind {
	case KindOperator:
		if tenantID != nil {
			return fmt.Errorf("%w: operator token carries a tenant id", apperr.ErrTokenMalformed)
		}
	case KindTenant:
		if tenantID == nil {
			return fmt.Errorf("%w: tenant token without tenant id", apperr.ErrTokenMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown principal kind %q", apperr.ErrTokenMalformed, kind)
	}
	return nil
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header value. ok is false when the header is absent or malformed.
func ExtractBearer(header string) (token string, ok bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
