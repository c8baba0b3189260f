// Package registry holds the static role table: each role's hierarchy level
// and its base permission set. It is built once at startup and read without locks.
package registry

import (
	"fmt"
	"slices"

	"warden/internal/access/models"
)

// RoleDefinition describes one role in the hierarchy.
type RoleDefinition struct {
	Role        models.Role
	Level       int
	Permissions []models.Permission
}

type roleEntry struct {
	level       int
	permissions map[models.Permission]struct{}
}

// Registry answers permission and level questions. Anything not registered is denied.
type Registry struct {
	roles      map[models.Role]roleEntry
	registered map[models.Permission]struct{}
	defs       []RoleDefinition
	top        models.Role
}

// New builds a registry from role definitions over the given permission set.
// Levels must be unique and every role permission must be registered.
func New(permissions []models.Permission, defs []RoleDefinition) (*Registry, error) {
	r := &Registry{
		roles:      make(map[models.Role]roleEntry, len(defs)),
		registered: make(map[models.Permission]struct{}, len(permissions)),
	}
	for _, p := range permissions {
		r.registered[p] = struct{}{}
	}

	levels := make(map[int]models.Role, len(defs))
	topLevel := -1
	for _, def := range defs {
		if _, dup := r.roles[def.Role]; dup {
			return nil, fmt.Errorf("role %q defined twice", def.Role)
		}
		if other, dup := levels[def.Level]; dup {
			return nil, fmt.Errorf("roles %q and %q share level %d", other, def.Role, def.Level)
		}
		levels[def.Level] = def.Role

		perms := make(map[models.Permission]struct{}, len(def.Permissions))
		for _, p := range def.Permissions {
			if _, ok := r.registered[p]; !ok {
				return nil, fmt.Errorf("role %q references unregistered permission %q", def.Role, p)
			}
			perms[p] = struct{}{}
		}
		r.roles[def.Role] = roleEntry{level: def.Level, permissions: perms}

		if def.Level > topLevel {
			topLevel = def.Level
			r.top = def.Role
		}
	}

	r.defs = slices.Clone(defs)
	slices.SortFunc(r.defs, func(a, b RoleDefinition) int { return a.Level - b.Level })
	return r, nil
}

// Default returns the marketplace role table.
func Default() *Registry {
	support := []models.Permission{
		models.PermUsersView,
		models.PermAuditView,
	}
	moderator := append(slices.Clone(support),
		models.PermUsersSuspend,
		models.PermListingsModerate,
		models.PermSecurityView,
	)
	admin := append(slices.Clone(moderator),
		models.PermUsersBan,
		models.PermUsersGrant,
		models.PermSecurityResolve,
		models.PermAnalyticsView,
		models.PermAnalyticsExport,
		models.PermRateLimitReset,
	)

	r, err := New(models.AllPermissions, []RoleDefinition{
		{Role: models.RoleUser, Level: 0},
		{Role: models.RoleSupport, Level: 10, Permissions: support},
		{Role: models.RoleModerator, Level: 20, Permissions: moderator},
		{Role: models.RoleAdmin, Level: 30, Permissions: admin},
		{Role: models.RoleSuperAdmin, Level: 40, Permissions: models.AllPermissions},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// IsRegistered reports whether p is part of the closed permission set.
func (r *Registry) IsRegistered(p models.Permission) bool {
	_, ok := r.registered[p]
	return ok
}

// RoleHas reports whether role's base set contains p. Unknown roles and
// unregistered permissions always return false.
func (r *Registry) RoleHas(role models.Role, p models.Permission) bool {
	if !r.IsRegistered(p) {
		return false
	}
	entry, ok := r.roles[role]
	if !ok {
		return false
	}
	_, ok = entry.permissions[p]
	return ok
}

// Level returns the hierarchy level of role; unknown roles report false.
func (r *Registry) Level(role models.Role) (int, bool) {
	entry, ok := r.roles[role]
	return entry.level, ok
}

// TopRole is the role with the highest level.
func (r *Registry) TopRole() models.Role {
	return r.top
}

// TopLevel is the level of TopRole.
func (r *Registry) TopLevel() int {
	return r.roles[r.top].level
}

// Roles lists the definitions ordered by ascending level.
func (r *Registry) Roles() []RoleDefinition {
	return slices.Clone(r.defs)
}
