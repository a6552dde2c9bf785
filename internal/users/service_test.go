package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lendflow/lendflow/internal/rbac"
	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
)

type memoryRepo struct {
	users  map[int64]User
	nextID int64
}

func newMemoryRepo(users ...User) *memoryRepo {
	r := &memoryRepo{users: make(map[int64]User)}
	for _, u := range users {
		r.users[u.ID] = u
		if u.ID > r.nextID {
			r.nextID = u.ID
		}
	}
	return r
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok || u.Deleted() {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *memoryRepo) FindActiveByEmail(ctx context.Context, email string) (User, bool, error) {
	for _, u := range r.users {
		if !u.Deleted() && NormalizeEmail(u.Email) == NormalizeEmail(email) {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

func (r *memoryRepo) Create(ctx context.Context, u User) (User, error) {
	if _, found, _ := r.FindActiveByEmail(ctx, u.Email); found {
		return User{}, ErrEmailTaken
	}
	r.nextID++
	u.ID = r.nextID
	u.Email = NormalizeEmail(u.Email)
	r.users[u.ID] = u
	return u, nil
}

func (r *memoryRepo) SoftDelete(ctx context.Context, id int64, at time.Time) (User, error) {
	u, err := r.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	u.DeletedAt = &at
	u.IsActive = false
	r.users[id] = u
	return u, nil
}

func (r *memoryRepo) ListByTenant(ctx context.Context, tenantID int64, page, perPage int) ([]User, int, error) {
	var out []User
	for _, u := range r.users {
		if !u.Deleted() {
			out = append(out, u)
		}
	}
	return out, len(out), nil
}

type stubAssignments map[int64][]tenancy.Assignment

func (s stubAssignments) ActiveAssignments(ctx context.Context, actorID int64) ([]tenancy.Assignment, error) {
	return s[actorID], nil
}

type memoryAudit struct{ logs []shared.AuditLog }

func (m *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func ptr(v int64) *int64 { return &v }

func grant(actorID int64, role tenancy.RoleType, tenantID *int64) tenancy.Assignment {
	return tenancy.Assignment{ActorID: actorID, Role: role, TenantID: tenantID}
}

type fixture struct {
	svc   *Service
	repo  *memoryRepo
	audit *memoryAudit
}

// Actors: 1 platform admin, 2 tenant admin at B1, 3 loan officer at B1,
// 4 clerk at B1 and B2, 5 applicant at B2, 6 no roles.
func newFixture() fixture {
	assignments := stubAssignments{
		1: {grant(1, tenancy.RolePlatformAdmin, nil)},
		2: {grant(2, tenancy.RoleTenantAdmin, ptr(1))},
		3: {grant(3, tenancy.RoleLoanOfficer, ptr(1))},
		4: {grant(4, tenancy.RoleClerk, ptr(1)), grant(4, tenancy.RoleClerk, ptr(2))},
		5: {grant(5, tenancy.RoleApplicant, ptr(2))},
	}
	var seed []User
	for id := int64(1); id <= 6; id++ {
		seed = append(seed, User{ID: id, Email: "user" + string(rune('0'+id)) + "@bank.test", Name: "User", IsActive: true})
	}
	repo := newMemoryRepo(seed...)
	audit := &memoryAudit{}
	authz := rbac.NewService(assignments, nil, nil)
	return fixture{svc: NewService(repo, assignments, authz, audit, nil), repo: repo, audit: audit}
}

func as(id int64) shared.Principal { return shared.Principal{ActorID: id} }

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "alice@bank.test", NormalizeEmail("  Alice@BANK.test "))
	require.Equal(t, "émile@bank.test", NormalizeEmail("E\u0301mile@Bank.test"))
	require.Equal(t, NormalizeEmail("ｂob@bank.test"), NormalizeEmail("bob@bank.test"))
}

func TestGetProfileVisibility(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Get(ctx, as(3), 4)
	require.NoError(t, err, "loan officer reads profiles at B1")

	_, err = f.svc.Get(ctx, as(3), 5)
	require.ErrorIs(t, err, ErrUserNotFound, "applicant at B2 is outside the officer's tenant")

	_, err = f.svc.Get(ctx, as(5), 5)
	require.NoError(t, err, "applicant reads own profile")

	_, err = f.svc.Get(ctx, as(6), 3)
	require.ErrorIs(t, err, ErrUserNotFound)

	profile, err := f.svc.Get(ctx, as(1), 6)
	require.NoError(t, err)
	require.Equal(t, int64(6), profile.User.ID)
}

func TestMeWorksWithoutRoles(t *testing.T) {
	f := newFixture()
	profile, rules, err := f.svc.Me(context.Background(), as(6))
	require.NoError(t, err)
	require.Equal(t, int64(6), profile.User.ID)
	require.Empty(t, rules)
}

func TestListByTenantGated(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, page, err := f.svc.ListByTenant(ctx, as(2), 1, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 10, page.PerPage)

	_, _, err = f.svc.ListByTenant(ctx, as(2), 2, 1, 10)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	_, _, err = f.svc.ListByTenant(ctx, as(4), 1, 1, 10)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestSoftDeleteRequiresEveryTenant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.SoftDelete(ctx, as(2), 4)
	require.ErrorIs(t, err, shared.ErrUnauthorized, "clerk also belongs to B2")

	_, err = f.svc.SoftDelete(ctx, as(2), 6)
	require.ErrorIs(t, err, shared.ErrUnauthorized, "actors without tenant roles need a global grant")

	deleted, err := f.svc.SoftDelete(ctx, as(2), 3)
	require.NoError(t, err)
	require.True(t, deleted.Deleted())
	require.False(t, deleted.IsActive)
	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "user.soft_delete", f.audit.logs[0].Action)

	_, err = f.repo.Get(ctx, 3)
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Contains(t, f.repo.users, int64(3), "rows are never removed")

	_, err = f.svc.SoftDelete(ctx, as(1), 1)
	require.ErrorIs(t, err, ErrSelfDelete)

	_, err = f.svc.SoftDelete(ctx, as(1), 4)
	require.NoError(t, err)
}
