package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidemark/keel/errs"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestTokenRoundTrip(t *testing.T) {
	var tenant = Tenant{OrgID: "org-1", UserID: "user-7", Role: RoleWarehouseManager}

	token, err := SignToken(testKey, tenant, time.Minute)
	require.NoError(t, err)

	recovered, err := VerifyToken(testKey, token)
	require.NoError(t, err)
	require.Equal(t, tenant, recovered)
}

func TestTokenExpiryAndWrongKey(t *testing.T) {
	token, err := SignToken(testKey, Tenant{OrgID: "org-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = VerifyToken(testKey, token)
	require.Error(t, err)
	require.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	token, err = SignToken(testKey, Tenant{OrgID: "org-1"}, time.Minute)
	require.NoError(t, err)

	_, err = VerifyToken([]byte("fedcba9876543210fedcba9876543210"), token)
	require.Error(t, err)
	require.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
}

func TestTokenWithoutOrgIsRejected(t *testing.T) {
	token, err := SignToken(testKey, Tenant{UserID: "user-7"}, time.Minute)
	require.NoError(t, err)

	_, err = VerifyToken(testKey, token)
	require.Error(t, err)
	require.Equal(t, "INVALID_TOKEN", errs.CodeOf(err))
}

func TestTenantContext(t *testing.T) {
	var _, err = TenantFromContext(context.Background())
	require.Error(t, err)
	require.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	var ctx = WithTenant(context.Background(), Tenant{OrgID: "org-1", UserID: "user-7"})
	tenant, err := TenantFromContext(ctx)
	require.NoError(t, err)
	require.Equal(t, "org-1", tenant.OrgID)
	require.Equal(t, "user-7", tenant.UserID)
}

func TestRequireRole(t *testing.T) {
	var ctx = WithTenant(context.Background(),
		Tenant{OrgID: "org-1", UserID: "user-7", Role: RoleOperator})

	var _, err = RequireRole(ctx, RoleAdmin, RoleWarehouseManager)
	require.Error(t, err)
	require.Equal(t, errs.KindForbidden, errs.KindOf(err))
	require.Equal(t, "ROLE_DENIED", errs.CodeOf(err))

	tenant, err := RequireRole(ctx, RoleAdmin, RoleOperator)
	require.NoError(t, err)
	require.Equal(t, RoleOperator, tenant.Role)

	// No tenant at all is unauthorized, not forbidden.
	_, err = RequireRole(context.Background(), RoleAdmin)
	require.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
}
