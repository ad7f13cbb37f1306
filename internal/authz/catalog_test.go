package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalogValidates(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestRoleHierarchyIsStrictlyIncreasing(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	roles := c.Roles()
	require.Equal(t, []Role{RoleViewer, RoleStaff, RoleInstructor, RoleTenantAdmin, RoleSystemAdmin}, roles)
	for i := 1; i < len(roles); i++ {
		assert.Greater(t, c.LevelOf(roles[i]), c.LevelOf(roles[i-1]))
	}
	assert.Zero(t, c.LevelOf("ghost"))
}

func TestEffectiveSetsAreSupersetsOfLowerRoles(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	roles := c.Roles()
	for i := 1; i < len(roles); i++ {
		lower, higher := roles[i-1], roles[i]
		for _, action := range c.Actions() {
			if c.HasPermission(lower, action) {
				assert.Truef(t, c.HasPermission(higher, action),
					"%s holds %s but %s does not", lower, action, higher)
			}
		}
	}
}

func TestMinimumRoleFor(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	cases := []struct {
		action Action
		want   Role
	}{
		{"student:read", RoleViewer},
		{"student:create", RoleStaff},
		{"class:schedule", RoleInstructor},
		{"student:delete", RoleTenantAdmin},
		{"user:manage", RoleTenantAdmin},
		{"system:admin", RoleSystemAdmin},
		{ActionTenantManage, RoleSystemAdmin},
	}
	for _, tc := range cases {
		got, ok := c.MinimumRoleFor(tc.action)
		require.Truef(t, ok, "no minimum role for %s", tc.action)
		assert.Equalf(t, tc.want, got, "minimum role for %s", tc.action)
	}

	_, ok := c.MinimumRoleFor("widget:frobnicate")
	assert.False(t, ok)
}

func TestMinimumRoleForIsTotal(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	for _, action := range c.Actions() {
		_, ok := c.MinimumRoleFor(action)
		assert.Truef(t, ok, "action %s has no minimum role", action)
	}
}

func TestWildcardClassification(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	// all:read lets a viewer read categories it has no direct grant for.
	assert.True(t, c.HasPermission(RoleViewer, "payment:read"))
	assert.True(t, c.HasPermission(RoleViewer, "payment:list"))
	assert.True(t, c.HasPermission(RoleViewer, "student:search"))
	assert.False(t, c.HasPermission(RoleViewer, "payment:create"))
	assert.False(t, c.HasPermission(RoleViewer, "student:write"))

	// all:write covers write verbs including the domain-specific ones.
	assert.True(t, c.HasPermission(RoleTenantAdmin, "class:attendance"))
	assert.True(t, c.HasPermission(RoleTenantAdmin, "payment:refund"))
	assert.True(t, c.HasPermission(RoleTenantAdmin, "student:bulk_update"))
	assert.False(t, c.HasPermission(RoleTenantAdmin, "system:admin"))

	// all:admin satisfies everything, even actions with no read/write suffix.
	assert.True(t, c.HasPermission(RoleSystemAdmin, "system:admin"))
	assert.True(t, c.HasPermission(RoleSystemAdmin, "widget:frobnicate"))
}

func TestEffectivePermissionsExpandWildcards(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	effective := c.EffectivePermissions(RoleViewer)
	assert.Contains(t, effective, Action("payment:read"))
	assert.NotContains(t, effective, Action("student:delete"))

	all := c.EffectivePermissions(RoleSystemAdmin)
	assert.ElementsMatch(t, c.Actions(), all)

	assert.Empty(t, c.EffectivePermissions("ghost"))
}

func TestAllowsCrossTenant(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	assert.True(t, c.AllowsCrossTenant(RoleSystemAdmin, "student:read"))
	assert.True(t, c.AllowsCrossTenant(RoleSystemAdmin, "tenant:manage"))
	assert.False(t, c.AllowsCrossTenant(RoleSystemAdmin, "payment:read"))

	for _, role := range []Role{RoleViewer, RoleStaff, RoleInstructor, RoleTenantAdmin} {
		assert.Falsef(t, c.AllowsCrossTenant(role, "student:read"), "role %s", role)
	}
}

func TestPermissionsForUnknownRole(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	assert.Nil(t, c.PermissionsFor("ghost"))
	assert.False(t, c.HasPermission("ghost", "student:read"))
}
