package models

import (
	"sort"
	"strings"
)

// DefaultRoles is the closed set of role labels the system ships with.
// Storage keeps roles as plain strings so new roles can be added through
// configuration without a schema change.
var DefaultRoles = []string{
	"Director",
	"HR",
	"Engineer",
	"Procurement",
	"StationController",
}

// DefaultDepartments lists the classification labels used by the standard
// document corpus. Department is descriptive, not a gate: unknown labels
// pass through ingestion with a warning.
var DefaultDepartments = []string{
	"Director",
	"HR",
	"Procurement",
	"Engineering",
	"Operations",
}

// RoleRegistry validates role and department labels at the system boundary.
type RoleRegistry struct {
	roles       map[string]struct{}
	departments map[string]struct{}
}

// NewRoleRegistry builds a registry from the default label sets plus any
// extra roles supplied by configuration.
func NewRoleRegistry(extraRoles ...string) *RoleRegistry {
	r := &RoleRegistry{
		roles:       make(map[string]struct{}),
		departments: make(map[string]struct{}),
	}
	for _, role := range DefaultRoles {
		r.roles[role] = struct{}{}
	}
	for _, role := range extraRoles {
		role = strings.TrimSpace(role)
		if role != "" {
			r.roles[role] = struct{}{}
		}
	}
	for _, dept := range DefaultDepartments {
		r.departments[dept] = struct{}{}
	}
	return r
}

// KnownRole reports whether the role belongs to the configured set.
func (r *RoleRegistry) KnownRole(role string) bool {
	_, ok := r.roles[role]
	return ok
}

// KnownDepartment reports whether the department label is a standard one.
func (r *RoleRegistry) KnownDepartment(dept string) bool {
	_, ok := r.departments[dept]
	return ok
}

// Roles returns the configured role labels in sorted order.
func (r *RoleRegistry) Roles() []string {
	out := make([]string, 0, len(r.roles))
	for role := range r.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
