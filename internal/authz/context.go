package authz

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

// Trusted headers set by the platform gateway after authentication.
const (
	HeaderPrincipalID     = "X-Principal-Id"
	HeaderPrincipalTenant = "X-Principal-Tenant"
	HeaderPrincipalRole   = "X-Principal-Role"
	HeaderPrincipalStatus = "X-Principal-Status"
)

// PrincipalFromHeaders attaches the gateway-forwarded principal to the
// request context. Malformed IDs leave the request without a principal so
// downstream checks deny; a malformed role or status is dropped and the
// engine re-resolves both from the membership store.
func PrincipalFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderPrincipalID))
		tenant := strings.TrimSpace(r.Header.Get(HeaderPrincipalTenant))
		if id == "" || uuid.Validate(id) != nil || (tenant != "" && uuid.Validate(tenant) != nil) {
			next.ServeHTTP(w, r)
			return
		}
		p := &Principal{ID: id, TenantID: tenant}
		role, roleErr := ParseRole(strings.TrimSpace(r.Header.Get(HeaderPrincipalRole)))
		status := MembershipStatus(strings.TrimSpace(r.Header.Get(HeaderPrincipalStatus)))
		if roleErr == nil && (status == StatusActive || status == StatusSuspended || status == StatusRemoved) {
			p.Role = role
			p.Status = status
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}
