// Package guard resolves the principal of a request. The operator guard
// authenticates against the control plane; the tenant guard also checks the
// tenant's status and binds the request to the tenant database.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"crm-service/internal/apperr"
	"crm-service/internal/model"
	"crm-service/internal/store"
	"crm-service/pkg/database"
	"crm-service/pkg/jwtutil"

	"gorm.io/gorm"
)

// Resolution is the authenticated principal of a request
type Resolution struct {
	Kind     jwtutil.Kind
	Claims   *jwtutil.Claims
	Operator *model.Operator
	User     *model.User
	Tenant   *model.Tenant

	// Context carries the tenant database binding for tenant principals
	Context context.Context
}

// ID returns the id of the resolved principal
func (r *Resolution) ID() uint {
	if r.Operator != nil {
		return r.Operator.ID
	}
	if r.User != nil {
		return r.User.ID
	}
	return 0
}

// Guard authenticates requests. Authentication failures are apperr
// resolution errors; any other error is an infrastructure failure.
type Guard interface {
	Authenticate(ctx context.Context, r *http.Request) (*Resolution, error)
}

// Check reports whether g resolves a principal for r
func Check(ctx context.Context, g Guard, r *http.Request) bool {
	res, err := g.Authenticate(ctx, r)
	return err == nil && res != nil
}

// User returns the principal resolved by g, or nil when r is not
// authenticated. Only infrastructure failures are returned as errors.
func User(ctx context.Context, g Guard, r *http.Request) (*Resolution, error) {
	res, err := g.Authenticate(ctx, r)
	if err != nil {
		if apperr.IsUnauthenticated(err) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

func claimsFrom(tokens *jwtutil.JWTUtil, r *http.Request, kind jwtutil.Kind) (*jwtutil.Claims, error) {
	token, ok := jwtutil.ExtractBearer(r.Header.Get("Authorization"))
	if !ok {
		return nil, apperr.ErrNoToken
	}
	claims, err := tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if claims.IsRefresh() {
		return nil, fmt.Errorf("%w: refresh token cannot authenticate requests", apperr.ErrTokenMalformed)
	}
	if claims.Kind != kind {
		return nil, apperr.ErrWrongPrincipalKind
	}
	return claims, nil
}

// OperatorGuard authenticates operators from the control-plane database
type OperatorGuard struct {
	tokens    *jwtutil.JWTUtil
	operators *store.OperatorStore
}

// NewOperatorGuard creates an operator guard
func NewOperatorGuard(tokens *jwtutil.JWTUtil, operators *store.OperatorStore) *OperatorGuard {
	return &OperatorGuard{tokens: tokens, operators: operators}
}

// Authenticate resolves the operator of r
func (g *OperatorGuard) Authenticate(ctx context.Context, r *http.Request) (*Resolution, error) {
	claims, err := claimsFrom(g.tokens, r, jwtutil.KindOperator)
	if err != nil {
		return nil, err
	}

	operator, err := g.operators.Find(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrPrincipalNotFound
		}
		return nil, err
	}

	return &Resolution{Kind: jwtutil.KindOperator, Claims: claims, Operator: operator, Context: ctx}, nil
}

// TenantGuard authenticates tenant users. The tenant status is read on
// every request and checked before its database is touched.
type TenantGuard struct {
	tokens   *jwtutil.JWTUtil
	tenants  *store.TenantStore
	registry *database.Registry
}

// NewTenantGuard creates a tenant guard
func NewTenantGuard(tokens *jwtutil.JWTUtil, tenants *store.TenantStore, registry *database.Registry) *TenantGuard {
	return &TenantGuard{tokens: tokens, tenants: tenants, registry: registry}
}

// Authenticate resolves the tenant user of r and binds the returned
// context to the user's tenant database
func (g *TenantGuard) Authenticate(ctx context.Context, r *http.Request) (*Resolution, error) {
	claims, err := claimsFrom(g.tokens, r, jwtutil.KindTenant)
	if err != nil {
		return nil, err
	}
	if claims.TenantID == nil {
		return nil, fmt.Errorf("%w: tenant token without tenant id", apperr.ErrTokenMalformed)
	}

	tenant, err := g.ActiveTenant(ctx, *claims.TenantID)
	if err != nil {
		return nil, err
	}

	bound, db, err := g.registry.Bind(ctx, tenant)
	if err != nil {
		return nil, err
	}

	var user model.User
	if err := db.First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrPrincipalNotFound
		}
		return nil, err
	}
	user.Tenant = tenant
	user.TokenRole = claims.Role

	return &Resolution{
		Kind:    jwtutil.KindTenant,
		Claims:  claims,
		User:    &user,
		Tenant:  tenant,
		Context: bound,
	}, nil
}

// ActiveTenant loads the tenant and requires it to be usable
func (g *TenantGuard) ActiveTenant(ctx context.Context, id uint) (*model.Tenant, error) {
	tenant, err := g.tenants.Find(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrTenantNotFound
		}
		return nil, err
	}
	if !g.tenants.IsUsable(tenant) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrTenantInactive, tenant.Status)
	}
	return tenant, nil
}
