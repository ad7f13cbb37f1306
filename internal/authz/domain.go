package authz

import (
	"context"
	"errors"
)

// Role identifies one of the fixed platform roles.
type Role string

// Platform roles, ordered by privilege (see Hierarchy).
const (
	RoleViewer      Role = "viewer"
	RoleStaff       Role = "staff"
	RoleInstructor  Role = "instructor"
	RoleTenantAdmin Role = "tenant_admin"
	RoleSystemAdmin Role = "system_admin"
)

// ParseRole maps a raw string onto a known role.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleViewer, RoleStaff, RoleInstructor, RoleTenantAdmin, RoleSystemAdmin:
		return Role(raw), nil
	}
	return "", errors.New("authz: unknown role " + raw)
}

// Action is a namespaced capability string, e.g. "student:delete".
type Action string

// Wildcard actions covering whole categories.
const (
	ActionAllRead  Action = "all:read"
	ActionAllWrite Action = "all:write"
	ActionAllAdmin Action = "all:admin"
)

// Cross-tenant grants. A role holding one of these may evaluate actions in
// the matching category against a foreign tenant.
const (
	ActionStudentAllTenants Action = "student:all_tenants"
	ActionTenantManage      Action = "tenant:manage"
)

// MembershipStatus mirrors tenant_memberships.status.
type MembershipStatus string

// Membership states. Only active memberships can be granted anything.
const (
	StatusActive    MembershipStatus = "active"
	StatusSuspended MembershipStatus = "suspended"
	StatusRemoved   MembershipStatus = "removed"
)

// Principal is the authenticated actor as handed over by the identity layer.
// Role and Status may be empty, in which case the engine resolves them
// through the membership lookup.
type Principal struct {
	ID       string
	TenantID string
	Role     Role
	Status   MembershipStatus
}

// Request carries everything a single authorization decision needs.
type Request struct {
	Principal      *Principal
	TargetTenantID string
	ResourceID     string
	Metadata       map[string]string
}

// Reason classifies why a decision denied access.
type Reason string

// Denial reasons.
const (
	// ReasonInvalidPrincipal covers missing identity, unknown roles and
	// inactive memberships.
	ReasonInvalidPrincipal Reason = "InvalidPrincipal"
	// ReasonTenantAccessDenied marks a cross-tenant boundary violation.
	ReasonTenantAccessDenied Reason = "TenantAccessDenied"
	// ReasonInsufficientRolePermission means the role lacks the action.
	ReasonInsufficientRolePermission Reason = "InsufficientRolePermission"
	// ReasonServiceUnavailable means the membership lookup failed or timed
	// out; access is denied but operators can tell the system was degraded.
	ReasonServiceUnavailable Reason = "ServiceUnavailable"
)

// Result is the immutable outcome of a decision. Denial is a normal value,
// never an error.
type Result struct {
	Granted            bool     `json:"granted"`
	Reason             Reason   `json:"reason,omitempty"`
	RequiredRole       Role     `json:"requiredRole,omitempty"`
	CurrentRole        Role     `json:"currentRole,omitempty"`
	MissingPermissions []Action `json:"missingPermissions,omitempty"`
}

// Membership is the slice of a tenant-membership record the engine cares
// about.
type Membership struct {
	Role   Role
	Status MembershipStatus
}

// ErrMembershipNotFound reports that no membership exists for the requested
// user and tenant.
var ErrMembershipNotFound = errors.New("authz: membership not found")

// MembershipLookup resolves the current role and status for a user within a
// tenant. Implementations may be slow; the engine bounds every call with a
// timeout and treats failures as denials.
type MembershipLookup interface {
	Get(ctx context.Context, userID, tenantID string) (Membership, error)
}
