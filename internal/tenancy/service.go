package tenancy

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lendflow/lendflow/internal/shared"
)

// RepositoryPort defines data access methods for tenants and assignments.
type RepositoryPort interface {
	ListActiveAssignments(ctx context.Context, actorID int64) ([]Assignment, error)
	ListTenantAssignments(ctx context.Context, tenantID int64) ([]Assignment, error)
	GetAssignment(ctx context.Context, id int64) (Assignment, error)
	InsertAssignment(ctx context.Context, a Assignment) (Assignment, error)
	RevokeAssignment(ctx context.Context, id int64, at time.Time) (Assignment, error)
	GetTenant(ctx context.Context, id int64) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	CreateTenant(ctx context.Context, t Tenant) (Tenant, error)
}

// AuditPort records assignment changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles tenant and role assignment logic.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// ActiveAssignments returns the assignments currently conferring capability
// on actorID.
func (s *Service) ActiveAssignments(ctx context.Context, actorID int64) ([]Assignment, error) {
	if actorID <= 0 {
		return nil, nil
	}
	all, err := s.repo.ListActiveAssignments(ctx, actorID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

// AssignInput describes a new assignment request.
type AssignInput struct {
	ActorID    int64  `json:"actor_id"`
	Role       string `json:"role"`
	TenantID   *int64 `json:"tenant_id,omitempty"`
	AssignedBy int64  `json:"-"`
}

// Assign grants a role to an actor. The tenant must exist for tenant-scoped
// roles and must be absent for global ones.
func (s *Service) Assign(ctx context.Context, in AssignInput) (Assignment, error) {
	role, err := ParseRoleType(in.Role)
	if err != nil {
		return Assignment{}, err
	}
	a := Assignment{
		ActorID:    in.ActorID,
		Role:       role,
		TenantID:   in.TenantID,
		AssignedBy: in.AssignedBy,
		AssignedAt: s.now().UTC(),
	}
	if err := a.Valid(); err != nil {
		return Assignment{}, err
	}
	if a.TenantID != nil {
		if _, err := s.repo.GetTenant(ctx, *a.TenantID); err != nil {
			return Assignment{}, err
		}
	}
	created, err := s.repo.InsertAssignment(ctx, a)
	if err != nil {
		return Assignment{}, err
	}
	s.record(ctx, in.AssignedBy, "role.assign", created)
	return created, nil
}

// Revoke ends an assignment. Revoking twice fails with ErrAlreadyRevoked.
func (s *Service) Revoke(ctx context.Context, assignmentID, revokedBy int64) (Assignment, error) {
	revoked, err := s.repo.RevokeAssignment(ctx, assignmentID, s.now().UTC())
	if err != nil {
		return Assignment{}, err
	}
	s.record(ctx, revokedBy, "role.revoke", revoked)
	return revoked, nil
}

// GetAssignment returns one assignment.
func (s *Service) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	return s.repo.GetAssignment(ctx, id)
}

// ListTenantAssignments returns active assignments at tenantID.
func (s *Service) ListTenantAssignments(ctx context.Context, tenantID int64) ([]Assignment, error) {
	if _, err := s.repo.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.repo.ListTenantAssignments(ctx, tenantID)
}

// GetTenant returns one tenant.
func (s *Service) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	return s.repo.GetTenant(ctx, id)
}

// ListTenants returns all tenants.
func (s *Service) ListTenants(ctx context.Context) ([]Tenant, error) {
	return s.repo.ListTenants(ctx)
}

// CreateTenantInput describes a new tenant.
type CreateTenantInput struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// CreateTenant registers a tenant.
func (s *Service) CreateTenant(ctx context.Context, in CreateTenantInput, actorID int64) (Tenant, error) {
	code := strings.ToLower(strings.TrimSpace(in.Code))
	name := strings.TrimSpace(in.Name)
	if code == "" || name == "" {
		return Tenant{}, ErrInvalidTenant
	}
	t, err := s.repo.CreateTenant(ctx, Tenant{Code: code, Name: name})
	if err != nil {
		return Tenant{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "tenant.create",
			Entity:   "tenant",
			EntityID: strconv.FormatInt(t.ID, 10),
			Meta:     map[string]any{"code": t.Code},
		}); err != nil {
			s.logger.Warn("audit tenant create", slog.Any("error", err))
		}
	}
	return t, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, a Assignment) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{"actor_id": a.ActorID, "role": string(a.Role)}
	if a.TenantID != nil {
		meta["tenant_id"] = *a.TenantID
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role_assignment",
		EntityID: strconv.FormatInt(a.ID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit role assignment", slog.String("action", action), slog.Any("error", err))
	}
}
