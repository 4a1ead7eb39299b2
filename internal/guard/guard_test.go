package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"crm-service/internal/apperr"
	"crm-service/internal/model"
	"crm-service/internal/store"
	"crm-service/pkg/config"
	"crm-service/pkg/database"
	"crm-service/pkg/jwtutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm/logger"
)

type env struct {
	tokens    *jwtutil.JWTUtil
	tenants   *store.TenantStore
	operators *store.OperatorStore
	registry  *database.Registry
	operator  *OperatorGuard
	tenant    *TenantGuard
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	silent := logger.Default.LogMode(logger.Silent)

	control, err := database.OpenSQLite(filepath.Join(dir, "control.db"), database.PoolConfig{}, silent)
	require.NoError(t, err)
	require.NoError(t, model.MigrateControlPlane(control))

	e := &env{
		tokens:    jwtutil.NewJWTUtil(&config.JWTConfig{SigningKey: "test-key", AccessHours: 8, RefreshHours: 168}),
		tenants:   store.NewTenantStore(control, "tenant_"),
		operators: store.NewOperatorStore(control),
		registry:  database.NewRegistry(database.NewSQLiteServer(filepath.Join(dir, "tenants")), database.PoolConfig{}, silent, zaptest.NewLogger(t)),
	}
	e.operator = NewOperatorGuard(e.tokens, e.operators)
	e.tenant = NewTenantGuard(e.tokens, e.tenants, e.registry)
	t.Cleanup(func() {
		e.registry.Close()
		database.Close(control)
	})
	return e
}

// activeTenant creates an active tenant whose database holds one user
func (e *env) activeTenant(t *testing.T, name, userName string) (*model.Tenant, *model.User) {
	t.Helper()
	ctx := context.Background()

	tenant, err := e.tenants.CreateCreating(ctx, store.TenantSpec{Name: name})
	require.NoError(t, err)
	require.NoError(t, e.registry.CreateDatabase(ctx, tenant))
	bound, db, err := e.registry.Bind(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, model.ApplyTenantSchema(bound, db))

	user := &model.User{Name: userName, Email: "user@local", Password: "x"}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, e.tenants.MarkProvisioned(ctx, tenant.ID))

	tenant, err = e.tenants.Find(ctx, tenant.ID)
	require.NoError(t, err)
	return tenant, user
}

func request(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestOperatorGuard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	op, err := e.operators.Create(ctx, "Ops", "ops@crm.local", "password")
	require.NoError(t, err)
	token, err := e.tokens.IssueOperator(op.ID, op.Email)
	require.NoError(t, err)

	res, err := e.operator.Authenticate(ctx, request(token))
	require.NoError(t, err)
	assert.Equal(t, op.ID, res.ID())
	assert.Nil(t, res.Tenant)
	assert.Nil(t, database.BoundTenant(res.Context))

	_, err = e.operator.Authenticate(ctx, request(""))
	assert.ErrorIs(t, err, apperr.ErrNoToken)

	tenantToken, err := e.tokens.IssueTenant(op.ID, op.Email, 1, "")
	require.NoError(t, err)
	_, err = e.operator.Authenticate(ctx, request(tenantToken))
	assert.ErrorIs(t, err, apperr.ErrWrongPrincipalKind)

	ghost, err := e.tokens.IssueOperator(404, "ghost@crm.local")
	require.NoError(t, err)
	_, err = e.operator.Authenticate(ctx, request(ghost))
	assert.ErrorIs(t, err, apperr.ErrPrincipalNotFound)
}

func TestTenantGuardBindsTenant(t *testing.T) {
	e := newEnv(t)
	tenant, user := e.activeTenant(t, "Acme", "Acme User")

	token, err := e.tokens.IssueTenant(user.ID, user.Email, tenant.ID, "super_admin")
	require.NoError(t, err)

	res, err := e.tenant.Authenticate(context.Background(), request(token))
	require.NoError(t, err)
	assert.Equal(t, "Acme User", res.User.Name)
	assert.Equal(t, "super_admin", res.User.TokenRole)
	require.NotNil(t, res.User.Tenant)
	assert.Equal(t, tenant.ID, res.User.Tenant.ID)
	assert.Equal(t, tenant.ID, database.BoundTenant(res.Context).ID)

	_, err = database.TenantDB(res.Context)
	assert.NoError(t, err)
}

func TestTenantGuardIsolatesCollidingUsers(t *testing.T) {
	e := newEnv(t)
	acme, acmeUser := e.activeTenant(t, "Acme", "Acme User")
	globex, globexUser := e.activeTenant(t, "Globex", "Globex User")
	require.Equal(t, acmeUser.ID, globexUser.ID, "ids collide across tenant databases")

	for _, tc := range []struct {
		tenant *model.Tenant
		want   string
	}{
		{acme, "Acme User"},
		{globex, "Globex User"},
	} {
		token, err := e.tokens.IssueTenant(acmeUser.ID, "user@local", tc.tenant.ID, "")
		require.NoError(t, err)

		res, err := e.tenant.Authenticate(context.Background(), request(token))
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.User.Name)

		db, err := database.TenantDB(res.Context)
		require.NoError(t, err)
		var names []string
		require.NoError(t, db.Model(&model.User{}).Pluck("name", &names).Error)
		assert.Equal(t, []string{tc.want}, names)
	}
}

func TestTenantGuardRejectsInactiveTenantBeforeBinding(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tenant, user := e.activeTenant(t, "Acme", "Acme User")

	token, err := e.tokens.IssueTenant(user.ID, user.Email, tenant.ID, "")
	require.NoError(t, err)
	require.True(t, Check(ctx, e.tenant, request(token)))

	require.NoError(t, e.tenants.SetStatus(ctx, tenant.ID, model.StatusSuspended, ""))
	require.NoError(t, e.registry.Invalidate(tenant))

	_, err = e.tenant.Authenticate(ctx, request(token))
	assert.ErrorIs(t, err, apperr.ErrTenantInactive)
	assert.Equal(t, 0, e.registry.Len(), "no connection to a suspended tenant")
	assert.False(t, Check(ctx, e.tenant, request(token)))

	res, err := User(ctx, e.tenant, request(token))
	assert.NoError(t, err)
	assert.Nil(t, res)

	require.NoError(t, e.tenants.SetStatus(ctx, tenant.ID, model.StatusActive, ""))
	assert.True(t, Check(ctx, e.tenant, request(token)))
}

func TestTenantGuardFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tenant, user := e.activeTenant(t, "Acme", "Acme User")

	missingTenant, err := e.tokens.IssueTenant(user.ID, user.Email, 999, "")
	require.NoError(t, err)
	_, err = e.tenant.Authenticate(ctx, request(missingTenant))
	assert.ErrorIs(t, err, apperr.ErrTenantNotFound)

	missingUser, err := e.tokens.IssueTenant(999, "ghost@local", tenant.ID, "")
	require.NoError(t, err)
	_, err = e.tenant.Authenticate(ctx, request(missingUser))
	assert.ErrorIs(t, err, apperr.ErrPrincipalNotFound)

	refresh, err := e.tokens.IssueRefresh(user.ID, user.Email, tenant.ID)
	require.NoError(t, err)
	_, err = e.tenant.Authenticate(ctx, request(refresh))
	assert.ErrorIs(t, err, apperr.ErrTokenMalformed)

	operator, err := e.tokens.IssueOperator(user.ID, user.Email)
	require.NoError(t, err)
	_, err = e.tenant.Authenticate(ctx, request(operator))
	assert.ErrorIs(t, err, apperr.ErrWrongPrincipalKind)

	for _, err := range []error{apperr.ErrTenantNotFound, apperr.ErrPrincipalNotFound, apperr.ErrWrongPrincipalKind} {
		assert.Equal(t, http.StatusUnauthorized, apperr.StatusCode(err))
	}
}

func TestTenantGuardReportsInfrastructureFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tenant, user := e.activeTenant(t, "Acme", "Acme User")
	token, err := e.tokens.IssueTenant(user.ID, user.Email, tenant.ID, "")
	require.NoError(t, err)

	// active in the catalog, but the database is gone
	require.NoError(t, e.registry.DropDatabase(ctx, tenant))

	_, err = User(ctx, e.tenant, request(token))
	var dbErr *apperr.DatabaseError
	assert.ErrorAs(t, err, &dbErr)
	assert.Equal(t, http.StatusInternalServerError, apperr.StatusCode(err))
}
