package authz

import (
	"fmt"
	"sort"
	"strings"
)

// roleLevels is the hand-maintained privilege ordering. Catalog validation
// asserts the permission table stays consistent with it.
var roleLevels = map[Role]int{
	RoleViewer:      20,
	RoleStaff:       40,
	RoleInstructor:  60,
	RoleTenantAdmin: 80,
	RoleSystemAdmin: 100,
}

// roleGrants lists the direct permission set per role. Each set must contain
// every lower role's set; NewCatalog fails fast when an edit breaks that.
var roleGrants = map[Role][]Action{
	RoleViewer: {
		ActionAllRead,
		"student:read", "student:list", "student:search",
		"instructor:read", "instructor:list",
		"class:read", "class:list",
		"analytics:read",
	},
	RoleStaff: {
		ActionAllRead,
		"student:read", "student:list", "student:search",
		"student:create", "student:update", "student:write", "student:export",
		"instructor:read", "instructor:list",
		"class:read", "class:list",
		"payment:create", "payment:read", "payment:list",
		"analytics:read",
	},
	RoleInstructor: {
		ActionAllRead,
		"student:read", "student:list", "student:search",
		"student:create", "student:update", "student:write", "student:export",
		"instructor:read", "instructor:list", "instructor:update",
		"class:read", "class:list", "class:update", "class:schedule", "class:attendance",
		"payment:create", "payment:read", "payment:list",
		"analytics:read",
	},
	RoleTenantAdmin: {
		ActionAllRead, ActionAllWrite,
		"student:read", "student:list", "student:search",
		"student:create", "student:update", "student:write", "student:export",
		"student:delete", "student:bulk_update", "student:sensitive_data",
		"instructor:read", "instructor:list", "instructor:update",
		"instructor:create", "instructor:delete", "instructor:assign",
		"class:read", "class:list", "class:update", "class:schedule", "class:attendance",
		"class:create", "class:delete",
		"payment:create", "payment:read", "payment:list",
		"payment:update", "payment:refund", "payment:export",
		"analytics:read", "analytics:export", "report:generate",
		"user:manage",
	},
	RoleSystemAdmin: {
		ActionAllRead, ActionAllWrite, ActionAllAdmin,
		"student:read", "student:list", "student:search",
		"student:create", "student:update", "student:write", "student:export",
		"student:delete", "student:bulk_update", "student:sensitive_data",
		ActionStudentAllTenants,
		"instructor:read", "instructor:list", "instructor:update",
		"instructor:create", "instructor:delete", "instructor:assign",
		"class:read", "class:list", "class:update", "class:schedule", "class:attendance",
		"class:create", "class:delete",
		"payment:create", "payment:read", "payment:list",
		"payment:update", "payment:refund", "payment:export",
		"analytics:read", "analytics:export", "report:generate",
		"user:manage", "system:admin", ActionTenantManage,
	},
}

// crossTenantGrants maps each cross-tenant permission to the action category
// it unlocks on foreign tenants.
var crossTenantGrants = map[Action]string{
	ActionStudentAllTenants: "student",
	ActionTenantManage:      "tenant",
}

// Catalog is the immutable permission table plus the role hierarchy. It is
// built once at start-up and shared read-only afterwards.
type Catalog struct {
	grants       map[Role]map[Action]struct{}
	levels       map[Role]int
	rolesByLevel []Role
	actions      []Action
	minimumRole  map[Action]Role
}

// NewCatalog builds and validates the default catalog. An inconsistent
// permission table is a programming error and must abort start-up.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{
		grants:      make(map[Role]map[Action]struct{}, len(roleGrants)),
		levels:      make(map[Role]int, len(roleLevels)),
		minimumRole: make(map[Action]Role),
	}
	for role, level := range roleLevels {
		c.levels[role] = level
		c.rolesByLevel = append(c.rolesByLevel, role)
	}
	sort.Slice(c.rolesByLevel, func(i, j int) bool {
		return c.levels[c.rolesByLevel[i]] < c.levels[c.rolesByLevel[j]]
	})

	seen := make(map[Action]struct{})
	for role, actions := range roleGrants {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
			if _, ok := seen[a]; !ok {
				seen[a] = struct{}{}
				c.actions = append(c.actions, a)
			}
		}
		c.grants[role] = set
	}
	sort.Slice(c.actions, func(i, j int) bool { return c.actions[i] < c.actions[j] })

	// Lowest-ranked role holding the action directly.
	for _, action := range c.actions {
		for _, role := range c.rolesByLevel {
			if _, ok := c.grants[role][action]; ok {
				c.minimumRole[action] = role
				break
			}
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate() error {
	for role := range c.grants {
		if _, ok := c.levels[role]; !ok {
			return fmt.Errorf("authz: role %q has grants but no hierarchy level", role)
		}
	}
	for role := range c.levels {
		if _, ok := c.grants[role]; !ok {
			return fmt.Errorf("authz: role %q has a hierarchy level but no grants", role)
		}
	}
	// MinimumRoleFor must be total over every recognized action.
	for _, action := range c.actions {
		if _, ok := c.minimumRole[action]; !ok {
			return fmt.Errorf("authz: action %q resolves to no minimum role", action)
		}
	}
	// Each role's effective set must contain every lower role's effective set.
	for i := 1; i < len(c.rolesByLevel); i++ {
		lower, higher := c.rolesByLevel[i-1], c.rolesByLevel[i]
		for _, action := range c.actions {
			if c.HasPermission(lower, action) && !c.HasPermission(higher, action) {
				return fmt.Errorf("authz: hierarchy drift: %q holds %q but higher role %q does not", lower, action, higher)
			}
		}
	}
	return nil
}

// LevelOf returns the numeric privilege level of a role, 0 for unknown roles.
func (c *Catalog) LevelOf(role Role) int {
	return c.levels[role]
}

// Roles returns all roles in ascending privilege order.
func (c *Catalog) Roles() []Role {
	out := make([]Role, len(c.rolesByLevel))
	copy(out, c.rolesByLevel)
	return out
}

// Actions returns every recognized action, sorted.
func (c *Catalog) Actions() []Action {
	out := make([]Action, len(c.actions))
	copy(out, c.actions)
	return out
}

// PermissionsFor returns the direct grant set of a role, sorted.
func (c *Catalog) PermissionsFor(role Role) []Action {
	set, ok := c.grants[role]
	if !ok {
		return nil
	}
	out := make([]Action, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasPermission reports whether the role holds the action directly or through
// a wildcard.
func (c *Catalog) HasPermission(role Role, action Action) bool {
	set, ok := c.grants[role]
	if !ok {
		return false
	}
	if _, ok := set[action]; ok {
		return true
	}
	if _, ok := set[ActionAllAdmin]; ok {
		return true
	}
	if _, ok := set[ActionAllWrite]; ok && isWriteAction(action) {
		return true
	}
	if _, ok := set[ActionAllRead]; ok && isReadAction(action) {
		return true
	}
	return false
}

// MinimumRoleFor returns the lowest-ranked role that holds the action
// directly. The second return is false for unrecognized actions.
func (c *Catalog) MinimumRoleFor(action Action) (Role, bool) {
	role, ok := c.minimumRole[action]
	return role, ok
}

// EffectivePermissions expands wildcards into the concrete recognized
// actions the role can perform.
func (c *Catalog) EffectivePermissions(role Role) []Action {
	out := make([]Action, 0, len(c.actions))
	for _, action := range c.actions {
		if c.HasPermission(role, action) {
			out = append(out, action)
		}
	}
	return out
}

// AllowsCrossTenant reports whether the role may evaluate the action against
// a tenant other than its own. system_admin never reaches this check; it is
// granted before the tenant boundary applies.
func (c *Catalog) AllowsCrossTenant(role Role, action Action) bool {
	set, ok := c.grants[role]
	if !ok {
		return false
	}
	category := actionCategory(action)
	for grant, scope := range crossTenantGrants {
		if _, held := set[grant]; held && scope == category {
			return true
		}
	}
	return false
}

func actionCategory(action Action) string {
	s := string(action)
	if idx := strings.IndexByte(s, ':'); idx > 0 {
		return s[:idx]
	}
	return s
}

var readSuffixes = []string{":read", ":list", ":search"}

// Write-like verbs: the CRUD suffixes plus the domain verbs that mutate
// state (scheduling, attendance, refunds, bulk updates).
var writeSuffixes = []string{
	":create", ":update", ":delete", ":write",
	":assign", ":schedule", ":attendance", ":refund", ":bulk_update",
}

func isReadAction(action Action) bool {
	s := string(action)
	for _, suffix := range readSuffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func isWriteAction(action Action) bool {
	s := string(action)
	for _, suffix := range writeSuffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
