package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
)

// ErrUnknownContext rejects a context switch to an assignment the actor does
// not hold.
var ErrUnknownContext = shared.NewError(httpx.ErrForbidden, "you do not hold that role at that tenant")

// ErrActivationFailed hides whether the email or the token was wrong.
var ErrActivationFailed = shared.NewError(httpx.ErrValidation, "activation link is invalid or already used")

// AssignmentSource loads the active assignments of an actor.
type AssignmentSource interface {
	ActiveAssignments(ctx context.Context, actorID int64) ([]tenancy.Assignment, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo        Repository
	tokens      *TokenIssuer
	assignments AssignmentSource
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenIssuer, assignments AssignmentSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, assignments: assignments, logger: logger, now: time.Now}
}

// Session is an issued access token.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ActorID   int64     `json:"actor_id"`
	Role      string    `json:"role,omitempty"`
	TenantID  *int64    `json:"tenant_id,omitempty"`
}

// Authenticate validates email/password credentials and issues a token
// without a selected context.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Session, error) {
	creds, err := s.repo.FindCredentials(ctx, email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("auth: load credentials", slog.Any("error", err))
		}
		return Session{}, shared.ErrInvalidCredentials
	}
	if !creds.IsActive {
		return Session{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}
	return s.issue(shared.Principal{ActorID: creds.ActorID})
}

// SelectInput names the (role, tenant) context to switch to. An empty Role
// clears the selection.
type SelectInput struct {
	Role     string `json:"role"`
	TenantID *int64 `json:"tenant_id,omitempty"`
}

// SwitchContext re-issues p's token narrowed to the selected assignment.
func (s *Service) SwitchContext(ctx context.Context, p shared.Principal, in SelectInput) (Session, error) {
	if in.Role == "" {
		return s.issue(shared.Principal{ActorID: p.ActorID})
	}
	role, err := tenancy.ParseRoleType(in.Role)
	if err != nil {
		return Session{}, err
	}
	sel := tenancy.Selection{Role: role, TenantID: in.TenantID}
	assignments, err := s.assignments.ActiveAssignments(ctx, p.ActorID)
	if err != nil {
		return Session{}, err
	}
	for _, a := range assignments {
		if a.Active() && sel.Matches(a) {
			return s.issue(shared.Principal{ActorID: p.ActorID, Role: string(role), TenantID: in.TenantID})
		}
	}
	return Session{}, ErrUnknownContext
}

// ActivateInput completes a local invitation.
type ActivateInput struct {
	Email    string `json:"email" validate:"required,email"`
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Activate sets the password of an invited actor using the one-time token
// mailed to them.
func (s *Service) Activate(ctx context.Context, in ActivateInput) error {
	activation, err := s.repo.FindActivation(ctx, in.Email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrActivationFailed
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(activation.TokenHash), []byte(in.Token)); err != nil {
		return ErrActivationFailed
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.CompleteActivation(ctx, activation.ExternalID, string(hash), s.now().UTC()); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrActivationFailed
		}
		return err
	}
	return nil
}

// BootstrapAdmin creates the first platform administrator.
func (s *Service) BootstrapAdmin(ctx context.Context, email, name, password string) (int64, error) {
	if len(password) < 8 {
		return 0, shared.NewValidationError("password", "must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	return s.repo.CreatePlatformAdmin(ctx, email, name, string(hash))
}

func (s *Service) issue(p shared.Principal) (Session, error) {
	token, expiresAt, err := s.tokens.Issue(p)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expiresAt, ActorID: p.ActorID, Role: p.Role, TenantID: p.TenantID}, nil
}
