// Package tenancy models who may act as what, and where: the closed set of
// role types, their assignments to actors, and the tenants (banks) that scope
// them.
package tenancy

import (
	"sort"
	"strings"
	"time"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/shared"
)

// RoleType is drawn from a closed set; see ParseRoleType.
type RoleType string

const (
	RolePlatformAdmin   RoleType = "PLATFORM_ADMIN"
	RoleTenantAdmin     RoleType = "TENANT_ADMIN"
	RoleLoanOfficer     RoleType = "LOAN_OFFICER"
	RoleClerk           RoleType = "CLERK"
	RoleInspector       RoleType = "INSPECTOR"
	RoleCEO             RoleType = "CEO"
	RoleCommitteeMember RoleType = "COMMITTEE_MEMBER"
	RoleBoardMember     RoleType = "BOARD_MEMBER"
	RoleApplicant       RoleType = "APPLICANT"
	RoleUnassignedUser  RoleType = "UNASSIGNED_USER"
)

type roleSpec struct {
	global bool
	tier   int
}

var roleCatalog = map[RoleType]roleSpec{
	RolePlatformAdmin:   {global: true},
	RoleTenantAdmin:     {},
	RoleLoanOfficer:     {},
	RoleClerk:           {},
	RoleInspector:       {},
	RoleCEO:             {tier: 1},
	RoleCommitteeMember: {tier: 2},
	RoleBoardMember:     {tier: 3},
	RoleApplicant:       {},
	RoleUnassignedUser:  {global: true},
}

// ParseRoleType normalises raw and rejects values outside the closed set.
func ParseRoleType(raw string) (RoleType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	role := RoleType(normalized)
	if !role.Known() {
		return "", ErrUnknownRole
	}
	return role, nil
}

// Known reports membership in the closed set.
func (r RoleType) Known() bool {
	_, ok := roleCatalog[r]
	return ok
}

// Global reports whether the role is held without a tenant.
func (r RoleType) Global() bool {
	return roleCatalog[r].global
}

// ReviewerTier returns 1..n for loan reviewer roles and 0 otherwise.
func (r RoleType) ReviewerTier() int {
	return roleCatalog[r].tier
}

// RoleTypes lists the closed set in a stable order.
func RoleTypes() []RoleType {
	out := make([]RoleType, 0, len(roleCatalog))
	for role := range roleCatalog {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Assignment grants a role to an actor, at a tenant for tenant-scoped roles.
type Assignment struct {
	ID         int64      `json:"id"`
	ActorID    int64      `json:"actor_id"`
	Role       RoleType   `json:"role"`
	TenantID   *int64     `json:"tenant_id,omitempty"`
	AssignedBy int64      `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the assignment still confers capability.
func (a Assignment) Active() bool {
	return a.RevokedAt == nil
}

// Valid checks the role against the closed set and the tenant shape it needs.
func (a Assignment) Valid() error {
	if !a.Role.Known() {
		return ErrUnknownRole
	}
	if a.Role.Global() && a.TenantID != nil {
		return ErrTenantNotAllowed
	}
	if !a.Role.Global() && (a.TenantID == nil || *a.TenantID <= 0) {
		return ErrTenantRequired
	}
	return nil
}

// InTenant reports whether the assignment is scoped to tenantID.
func (a Assignment) InTenant(tenantID int64) bool {
	return a.TenantID != nil && *a.TenantID == tenantID
}

// Tenant is an isolated customer organisation (a bank).
type Tenant struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Selection is the (role, tenant) context a request runs under.
type Selection struct {
	Role     RoleType
	TenantID *int64
}

// Matches reports whether a is the assignment the selection points at.
func (s Selection) Matches(a Assignment) bool {
	if s.Role != a.Role {
		return false
	}
	if s.TenantID == nil || a.TenantID == nil {
		return s.TenantID == nil && a.TenantID == nil
	}
	return *s.TenantID == *a.TenantID
}

var (
	// ErrUnknownRole rejects role types outside the closed set.
	ErrUnknownRole = shared.NewError(httpx.ErrValidation, "unknown role type")
	// ErrTenantRequired rejects tenant-scoped roles without a tenant.
	ErrTenantRequired = shared.NewError(httpx.ErrValidation, "role requires a tenant")
	// ErrTenantNotAllowed rejects global roles carrying a tenant.
	ErrTenantNotAllowed = shared.NewError(httpx.ErrValidation, "role cannot be scoped to a tenant")
	// ErrTenantNotFound indicates the tenant does not exist.
	ErrTenantNotFound = shared.NewError(httpx.ErrNotFound, "tenant not found")
	// ErrAssignmentNotFound indicates the assignment does not exist.
	ErrAssignmentNotFound = shared.NewError(httpx.ErrNotFound, "role assignment not found")
	// ErrDuplicateAssignment indicates an identical active assignment exists.
	ErrDuplicateAssignment = shared.NewError(httpx.ErrDuplicate, "actor already holds this role")
	// ErrAlreadyRevoked indicates the assignment was revoked before.
	ErrAlreadyRevoked = shared.NewError(httpx.ErrConflict, "role assignment already revoked")
	// ErrDuplicateTenant indicates the tenant code is taken.
	ErrDuplicateTenant = shared.NewError(httpx.ErrDuplicate, "tenant code already exists")
	// ErrInvalidTenant rejects malformed tenant input.
	ErrInvalidTenant = shared.NewError(httpx.ErrValidation, "tenant code and name are required")
)
