// Package auth carries the tenant identity of a request through its Context,
// and signs and verifies the HS256 bearer tokens which establish it.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tidemark/keel/errs"
)

// Role of the acting user within their organization.
type Role string

// Roles, from most to least privileged.
const (
	RoleAdmin            Role = "ADMIN"
	RoleWarehouseManager Role = "WAREHOUSE_MANAGER"
	RoleOperator         Role = "OPERATOR"
	RoleViewer           Role = "VIEWER"
)

// Tenant identifies the organization and acting user of a request.
// Every ledger and storage operation is scoped by its OrgID.
type Tenant struct {
	OrgID  string
	UserID string
	Role   Role
}

// System is the actor used by background workers.
func System(orgID string) Tenant {
	return Tenant{OrgID: orgID, UserID: "system", Role: RoleAdmin}
}

type tenantKey struct{}

// WithTenant attaches |tenant| to |ctx|.
func WithTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the Tenant attached to |ctx|, or a tagged
// unauthorized error when none is present.
func TenantFromContext(ctx context.Context) (Tenant, error) {
	var tenant, ok = ctx.Value(tenantKey{}).(Tenant)
	if !ok || tenant.OrgID == "" {
		return Tenant{}, errs.Unauthorized("MISSING_TENANT", "request carries no tenant identity")
	}
	return tenant, nil
}

// RequireRole returns the context Tenant when it holds one of |roles|, and a
// tagged forbidden error otherwise.
func RequireRole(ctx context.Context, roles ...Role) (Tenant, error) {
	var tenant, err = TenantFromContext(ctx)
	if err != nil {
		return Tenant{}, err
	}
	for _, role := range roles {
		if tenant.Role == role {
			return tenant, nil
		}
	}
	return Tenant{}, errs.Forbidden("ROLE_DENIED",
		fmt.Sprintf("operation requires one of roles %v", roles))
}

// Claims are the payload of an API bearer token. The acting user rides in the
// registered Subject claim; organization and role are private claims.
type Claims struct {
	OrgID string `json:"org"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SignToken mints an HS256 bearer token for |tenant| which expires after |ttl|.
func SignToken(key []byte, tenant Tenant, ttl time.Duration) (string, error) {
	var now = time.Now()
	var claims = Claims{
		OrgID: tenant.OrgID,
		Role:  string(tenant.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenant.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(key)
}

// VerifyToken parses and verifies an HS256 bearer token, returning the Tenant
// it asserts. Expired, malformed, or mis-signed tokens surface as tagged
// unauthorized errors.
func VerifyToken(key []byte, token string) (Tenant, error) {
	var claims Claims
	var _, err = jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	).ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) { return key, nil })

	if err != nil {
		return Tenant{}, errs.Unauthorized("INVALID_TOKEN", "bearer token is invalid or expired").WithCause(err)
	}
	if claims.OrgID == "" {
		return Tenant{}, errs.Unauthorized("INVALID_TOKEN", "bearer token asserts no organization")
	}
	return Tenant{OrgID: claims.OrgID, UserID: claims.Subject, Role: Role(claims.Role)}, nil
}
