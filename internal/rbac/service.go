package rbac

import (
	"context"
	"log/slog"

	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
)

// AssignmentSource loads the active assignments of an actor.
type AssignmentSource interface {
	ActiveAssignments(ctx context.Context, actorID int64) ([]tenancy.Assignment, error)
}

// DenialObserver counts denied checks.
type DenialObserver interface {
	ObserveDenial(action, subject string)
}

// Service resolves abilities for authenticated principals. Abilities are
// rebuilt from storage on every call, so revocations apply to the next
// request.
type Service struct {
	source  AssignmentSource
	logger  *slog.Logger
	metrics DenialObserver
}

// NewService constructs a Service. metrics may be nil.
func NewService(source AssignmentSource, logger *slog.Logger, metrics DenialObserver) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger, metrics: metrics}
}

// AbilityFor builds the ability of p. Anonymous principals, unknown selected
// roles and storage failures all yield the empty ability.
func (s *Service) AbilityFor(ctx context.Context, p shared.Principal) Ability {
	if p.ActorID <= 0 {
		return Ability{}
	}
	var sel *tenancy.Selection
	if p.Selected() {
		role, err := tenancy.ParseRoleType(p.Role)
		if err != nil {
			s.logger.Warn("rbac: principal carries unknown role", slog.Int64("actor_id", p.ActorID), slog.String("role", p.Role))
			return Ability{}
		}
		sel = &tenancy.Selection{Role: role, TenantID: p.TenantID}
	}
	assignments, err := s.source.ActiveAssignments(ctx, p.ActorID)
	if err != nil {
		s.logger.Error("rbac: load assignments", slog.Int64("actor_id", p.ActorID), slog.Any("error", err))
		return Ability{}
	}
	return Build(&Actor{ID: p.ActorID, Assignments: assignments}, sel)
}

// AbilityFromContext builds the ability of the request principal.
func (s *Service) AbilityFromContext(ctx context.Context) Ability {
	p, ok := shared.PrincipalFromContext(ctx)
	if !ok {
		return Ability{}
	}
	return s.AbilityFor(ctx, p)
}

// Authorize checks action on target for p and counts denials.
func (s *Service) Authorize(ctx context.Context, p shared.Principal, action Action, target Target, field ...string) (Ability, error) {
	ab := s.AbilityFor(ctx, p)
	if err := ab.Authorize(action, target, field...); err != nil {
		s.denied(p, action, target.Subject)
		return ab, err
	}
	return ab, nil
}

func (s *Service) denied(p shared.Principal, action Action, subject Subject) {
	s.logger.Info("rbac: denied",
		slog.Int64("actor_id", p.ActorID),
		slog.String("role", p.Role),
		slog.String("action", string(action)),
		slog.String("subject", string(subject)),
	)
	if s.metrics != nil {
		s.metrics.ObserveDenial(string(action), string(subject))
	}
}
