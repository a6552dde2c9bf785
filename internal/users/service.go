package users

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/lendflow/lendflow/internal/rbac"
	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (User, error)
	FindActiveByEmail(ctx context.Context, email string) (User, bool, error)
	Create(ctx context.Context, u User) (User, error)
	SoftDelete(ctx context.Context, id int64, at time.Time) (User, error)
	ListByTenant(ctx context.Context, tenantID int64, page, perPage int) ([]User, int, error)
}

// AssignmentSource loads the active assignments of an actor.
type AssignmentSource interface {
	ActiveAssignments(ctx context.Context, actorID int64) ([]tenancy.Assignment, error)
}

// Authorizer resolves the ability of a principal.
type Authorizer interface {
	AbilityFor(ctx context.Context, p shared.Principal) rbac.Ability
}

// AuditPort records user lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo        RepositoryPort
	assignments AssignmentSource
	authz       Authorizer
	audit       AuditPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service instance. audit may be nil.
func NewService(repo RepositoryPort, assignments AssignmentSource, authz Authorizer, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, assignments: assignments, authz: authz, audit: audit, logger: logger, now: time.Now}
}

// Profile is an actor together with its active assignments.
type Profile struct {
	User        User                 `json:"user"`
	Assignments []tenancy.Assignment `json:"assignments"`
}

// Get returns the profile of id if p may read it: its own profile, or a
// profile in a tenant where p may read user profiles.
func (s *Service) Get(ctx context.Context, p shared.Principal, id int64) (Profile, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	assignments, err := s.assignments.ActiveAssignments(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	ab := s.authz.AbilityFor(ctx, p)
	if !anyTarget(ab, rbac.ActionRead, profileTargets(id, assignments)) {
		// Unreadable profiles look absent.
		return Profile{}, ErrUserNotFound
	}
	return Profile{User: u, Assignments: assignments}, nil
}

// Me returns the caller's own profile and the rules of its current ability.
func (s *Service) Me(ctx context.Context, p shared.Principal) (Profile, []rbac.Rule, error) {
	u, err := s.repo.Get(ctx, p.ActorID)
	if err != nil {
		return Profile{}, nil, err
	}
	assignments, err := s.assignments.ActiveAssignments(ctx, p.ActorID)
	if err != nil {
		return Profile{}, nil, err
	}
	return Profile{User: u, Assignments: assignments}, s.authz.AbilityFor(ctx, p).Rules(), nil
}

// FindActiveByEmail looks up a live actor by email.
func (s *Service) FindActiveByEmail(ctx context.Context, email string) (User, bool, error) {
	return s.repo.FindActiveByEmail(ctx, email)
}

// ListByTenant lists the actors of a tenant.
func (s *Service) ListByTenant(ctx context.Context, p shared.Principal, tenantID int64, page, perPage int) ([]User, shared.Pagination, error) {
	if err := s.authz.AbilityFor(ctx, p).Authorize(rbac.ActionRead, rbac.InTenant(rbac.SubjectTenantUser, tenantID)); err != nil {
		return nil, shared.Pagination{}, err
	}
	list, total, err := s.repo.ListByTenant(ctx, tenantID, page, perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(page, perPage, total), nil
}

// SoftDelete deletes id. p must be allowed to delete tenant users in every
// tenant id belongs to; actors without tenant roles need a global grant.
func (s *Service) SoftDelete(ctx context.Context, p shared.Principal, id int64) (User, error) {
	if id == p.ActorID {
		return User{}, ErrSelfDelete
	}
	assignments, err := s.assignments.ActiveAssignments(ctx, id)
	if err != nil {
		return User{}, err
	}
	ab := s.authz.AbilityFor(ctx, p)
	targets := tenantUserTargets(assignments)
	for _, target := range targets {
		if !ab.CanOn(rbac.ActionDelete, target) {
			return User{}, shared.ErrUnauthorized
		}
	}
	deleted, err := s.repo.SoftDelete(ctx, id, s.now().UTC())
	if err != nil {
		return User{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  p.ActorID,
			Action:   "user.soft_delete",
			Entity:   "user",
			EntityID: strconv.FormatInt(id, 10),
		}); err != nil {
			s.logger.Warn("audit user delete", slog.Any("error", err))
		}
	}
	return deleted, nil
}

func profileTargets(owner int64, assignments []tenancy.Assignment) []rbac.Target {
	targets := []rbac.Target{rbac.Target{Subject: rbac.SubjectUserProfile}.OwnedBy(owner)}
	for _, tenantID := range tenantsOf(assignments) {
		targets = append(targets, rbac.InTenant(rbac.SubjectUserProfile, tenantID).OwnedBy(owner))
	}
	return targets
}

func tenantUserTargets(assignments []tenancy.Assignment) []rbac.Target {
	tenants := tenantsOf(assignments)
	if len(tenants) == 0 {
		return []rbac.Target{{Subject: rbac.SubjectTenantUser}}
	}
	targets := make([]rbac.Target, 0, len(tenants))
	for _, tenantID := range tenants {
		targets = append(targets, rbac.InTenant(rbac.SubjectTenantUser, tenantID))
	}
	return targets
}

func tenantsOf(assignments []tenancy.Assignment) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, a := range assignments {
		if a.TenantID == nil {
			continue
		}
		if _, ok := seen[*a.TenantID]; ok {
			continue
		}
		seen[*a.TenantID] = struct{}{}
		out = append(out, *a.TenantID)
	}
	return out
}

func anyTarget(ab rbac.Ability, action rbac.Action, targets []rbac.Target) bool {
	for _, t := range targets {
		if ab.CanOn(action, t) {
			return true
		}
	}
	return false
}
