package tenancy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lendflow/lendflow/internal/shared"
)

type memoryRepo struct {
	tenants     map[int64]Tenant
	assignments map[int64]Assignment
	nextID      int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		tenants:     map[int64]Tenant{1: {ID: 1, Code: "bank-a", Name: "Bank A"}, 2: {ID: 2, Code: "bank-b", Name: "Bank B"}},
		assignments: make(map[int64]Assignment),
	}
}

func (r *memoryRepo) ListActiveAssignments(ctx context.Context, actorID int64) ([]Assignment, error) {
	var out []Assignment
	for _, a := range r.assignments {
		if a.ActorID == actorID && a.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListTenantAssignments(ctx context.Context, tenantID int64) ([]Assignment, error) {
	var out []Assignment
	for _, a := range r.assignments {
		if a.InTenant(tenantID) && a.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	a, ok := r.assignments[id]
	if !ok {
		return Assignment{}, ErrAssignmentNotFound
	}
	return a, nil
}

func (r *memoryRepo) InsertAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	for _, existing := range r.assignments {
		if existing.Active() && existing.ActorID == a.ActorID && existing.Role == a.Role && sameTenant(existing.TenantID, a.TenantID) {
			return Assignment{}, ErrDuplicateAssignment
		}
	}
	r.nextID++
	a.ID = r.nextID
	r.assignments[a.ID] = a
	return a, nil
}

func (r *memoryRepo) RevokeAssignment(ctx context.Context, id int64, at time.Time) (Assignment, error) {
	a, ok := r.assignments[id]
	if !ok {
		return Assignment{}, ErrAssignmentNotFound
	}
	if !a.Active() {
		return Assignment{}, ErrAlreadyRevoked
	}
	a.RevokedAt = &at
	r.assignments[id] = a
	return a, nil
}

func (r *memoryRepo) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	t, ok := r.tenants[id]
	if !ok {
		return Tenant{}, ErrTenantNotFound
	}
	return t, nil
}

func (r *memoryRepo) ListTenants(ctx context.Context) ([]Tenant, error) {
	var out []Tenant
	for _, t := range r.tenants {
		out = append(out, t)
	}
	return out, nil
}

func (r *memoryRepo) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	for _, existing := range r.tenants {
		if existing.Code == t.Code {
			return Tenant{}, ErrDuplicateTenant
		}
	}
	t.ID = int64(len(r.tenants) + 1)
	r.tenants[t.ID] = t
	return t, nil
}

func sameTenant(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func tenantID(id int64) *int64 { return &id }

func TestParseRoleType(t *testing.T) {
	role, err := ParseRoleType(" loan-officer ")
	require.NoError(t, err)
	require.Equal(t, RoleLoanOfficer, role)

	_, err = ParseRoleType("SUPERUSER")
	require.ErrorIs(t, err, ErrUnknownRole)

	require.True(t, RolePlatformAdmin.Global())
	require.True(t, RoleUnassignedUser.Global())
	require.False(t, RoleTenantAdmin.Global())
	require.Equal(t, 3, RoleBoardMember.ReviewerTier())
	require.Equal(t, 0, RoleClerk.ReviewerTier())
	require.Len(t, RoleTypes(), 10)
}

func TestAssignmentValid(t *testing.T) {
	require.NoError(t, Assignment{Role: RolePlatformAdmin}.Valid())
	require.ErrorIs(t, Assignment{Role: RolePlatformAdmin, TenantID: tenantID(1)}.Valid(), ErrTenantNotAllowed)
	require.ErrorIs(t, Assignment{Role: RoleCEO}.Valid(), ErrTenantRequired)
	require.ErrorIs(t, Assignment{Role: "WIZARD", TenantID: tenantID(1)}.Valid(), ErrUnknownRole)
	require.NoError(t, Assignment{Role: RoleCEO, TenantID: tenantID(1)}.Valid())
}

func TestSelectionMatches(t *testing.T) {
	a := Assignment{Role: RoleTenantAdmin, TenantID: tenantID(1)}
	require.True(t, Selection{Role: RoleTenantAdmin, TenantID: tenantID(1)}.Matches(a))
	require.False(t, Selection{Role: RoleTenantAdmin, TenantID: tenantID(2)}.Matches(a))
	require.False(t, Selection{Role: RoleTenantAdmin}.Matches(a))
	require.True(t, Selection{Role: RolePlatformAdmin}.Matches(Assignment{Role: RolePlatformAdmin}))
}

func TestAssignRevokeLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, audit, nil)
	ctx := context.Background()

	created, err := svc.Assign(ctx, AssignInput{ActorID: 7, Role: "TENANT_ADMIN", TenantID: tenantID(1), AssignedBy: 1})
	require.NoError(t, err)
	require.True(t, created.Active())

	_, err = svc.Assign(ctx, AssignInput{ActorID: 7, Role: "TENANT_ADMIN", TenantID: tenantID(1), AssignedBy: 1})
	require.ErrorIs(t, err, ErrDuplicateAssignment)

	active, err := svc.ActiveAssignments(ctx, 7)
	require.NoError(t, err)
	require.Len(t, active, 1)

	_, err = svc.Revoke(ctx, created.ID, 1)
	require.NoError(t, err)
	_, err = svc.Revoke(ctx, created.ID, 1)
	require.ErrorIs(t, err, ErrAlreadyRevoked)

	active, err = svc.ActiveAssignments(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, active)

	require.Len(t, audit.logs, 2)
	require.Equal(t, "role.assign", audit.logs[0].Action)
	require.Equal(t, "role.revoke", audit.logs[1].Action)
}

func TestAssignRejectsBadTenantShapes(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()

	_, err := svc.Assign(ctx, AssignInput{ActorID: 7, Role: "CLERK"})
	require.ErrorIs(t, err, ErrTenantRequired)

	_, err = svc.Assign(ctx, AssignInput{ActorID: 7, Role: "PLATFORM_ADMIN", TenantID: tenantID(1)})
	require.ErrorIs(t, err, ErrTenantNotAllowed)

	_, err = svc.Assign(ctx, AssignInput{ActorID: 7, Role: "CLERK", TenantID: tenantID(99)})
	require.ErrorIs(t, err, ErrTenantNotFound)

	_, err = svc.Assign(ctx, AssignInput{ActorID: 7, Role: "OVERLORD", TenantID: tenantID(1)})
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestCreateTenantNormalisesCode(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	tenant, err := svc.CreateTenant(context.Background(), CreateTenantInput{Code: "  Bank-C ", Name: "Bank C"}, 1)
	require.NoError(t, err)
	require.Equal(t, "bank-c", tenant.Code)

	_, err = svc.CreateTenant(context.Background(), CreateTenantInput{Code: "bank-c", Name: "Again"}, 1)
	require.ErrorIs(t, err, ErrDuplicateTenant)

	_, err = svc.CreateTenant(context.Background(), CreateTenantInput{Code: "", Name: "x"}, 1)
	require.ErrorIs(t, err, ErrInvalidTenant)
}
