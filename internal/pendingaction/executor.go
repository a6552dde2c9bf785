package pendingaction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lendflow/lendflow/internal/identity"
	"github.com/lendflow/lendflow/internal/tenancy"
	"github.com/lendflow/lendflow/internal/users"
)

// ExecutionStore is the write surface executors use. It is bound to the
// transaction that also marks the pending action approved.
type ExecutionStore interface {
	FindActiveUserByEmail(ctx context.Context, email string) (users.User, bool, error)
	CreateUser(ctx context.Context, u users.User) (users.User, error)
	GetUser(ctx context.Context, id int64) (users.User, error)
	EnsureAssignment(ctx context.Context, a tenancy.Assignment) (tenancy.Assignment, error)
}

// Committer runs apply inside the approval transaction. apply returns the id
// of the record the action produced. If Committer returns an error nothing
// apply wrote is kept.
type Committer func(ctx context.Context, apply func(ctx context.Context, store ExecutionStore) (int64, error)) error

// Invite carries what is needed to mail a newly provisioned actor.
type Invite struct {
	Email           string
	Name            string
	ActivationToken string
}

// Execution describes what an executor did.
type Execution struct {
	TargetRecordID int64
	Invite         *Invite
}

// Executor carries out an approved pending action. Calls to external
// systems happen before commit; database writes happen inside it.
type Executor interface {
	Execute(ctx context.Context, pa PendingAction, reviewerID int64, commit Committer) (Execution, error)
}

// UserLookup finds live actors outside the approval transaction.
type UserLookup interface {
	FindActiveByEmail(ctx context.Context, email string) (users.User, bool, error)
}

// CreateTenantUserExecutor provisions an actor and grants it the requested
// role in the pending action's tenant.
type CreateTenantUserExecutor struct {
	users    UserLookup
	provider identity.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// NewCreateTenantUserExecutor constructs the executor.
func NewCreateTenantUserExecutor(lookup UserLookup, provider identity.Provider, logger *slog.Logger) *CreateTenantUserExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateTenantUserExecutor{users: lookup, provider: provider, logger: logger, now: time.Now}
}

// Execute reuses an existing live actor with the payload email, or creates
// an external identity keyed by the pending action id and a new actor bound
// to it.
func (e *CreateTenantUserExecutor) Execute(ctx context.Context, pa PendingAction, reviewerID int64, commit Committer) (Execution, error) {
	payload, err := decodeCreateTenantUser(pa.Payload)
	if err != nil {
		return Execution{}, &ExecutionError{Detail: "stored payload is unreadable", err: err}
	}
	role, err := tenancy.ParseRoleType(payload.Role)
	if err != nil {
		return Execution{}, &ExecutionError{Detail: "stored payload names an unknown role", err: err}
	}
	existing, found, err := e.users.FindActiveByEmail(ctx, payload.Email)
	if err != nil {
		return Execution{}, &ExecutionError{Detail: "user lookup failed", Retryable: true, err: err}
	}

	var ident identity.Identity
	if !found {
		ident, err = e.provider.CreateIdentity(ctx, identity.Request{
			Email:          payload.Email,
			Name:           payload.Name,
			TenantID:       pa.TenantID,
			IdempotencyKey: pa.ID.String(),
		})
		if err != nil {
			return Execution{}, identityFailure(err)
		}
	}

	created := false
	var actorID int64
	err = commit(ctx, func(ctx context.Context, store ExecutionStore) (int64, error) {
		u, ok, err := store.FindActiveUserByEmail(ctx, payload.Email)
		if err != nil {
			return 0, err
		}
		if !ok {
			if ident.ExternalID == "" {
				return 0, &ExecutionError{Detail: "actor disappeared before provisioning", Retryable: true}
			}
			externalID := ident.ExternalID
			u, err = store.CreateUser(ctx, users.User{Email: payload.Email, Name: payload.Name, ExternalID: &externalID, IsActive: true})
			if errors.Is(err, users.ErrEmailTaken) {
				return 0, &ExecutionError{Detail: "email was registered concurrently", Retryable: true, err: err}
			}
			if err != nil {
				return 0, err
			}
			created = true
		}
		tenantID := pa.TenantID
		if _, err := store.EnsureAssignment(ctx, tenancy.Assignment{
			ActorID:    u.ID,
			Role:       role,
			TenantID:   &tenantID,
			AssignedBy: reviewerID,
			AssignedAt: e.now(),
		}); err != nil {
			return 0, err
		}
		actorID = u.ID
		return u.ID, nil
	})
	if err != nil {
		return Execution{}, err
	}
	if found {
		e.logger.Info("pendingaction: reused existing actor", slog.String("pending_action_id", pa.ID.String()), slog.Int64("actor_id", existing.ID))
	}

	out := Execution{TargetRecordID: actorID}
	if created && ident.ActivationToken != "" {
		out.Invite = &Invite{Email: payload.Email, Name: payload.Name, ActivationToken: ident.ActivationToken}
	}
	return out, nil
}

func identityFailure(err error) error {
	var failure *identity.Failure
	if errors.As(err, &failure) {
		return &ExecutionError{Detail: "identity provider " + string(failure.Code) + ": " + failure.Detail, Retryable: failure.Retryable, err: err}
	}
	return &ExecutionError{Detail: "identity provider unavailable", Retryable: true, err: err}
}

// AssignTenantRoleExecutor grants an existing actor a role in the pending
// action's tenant.
type AssignTenantRoleExecutor struct {
	now func() time.Time
}

// NewAssignTenantRoleExecutor constructs the executor.
func NewAssignTenantRoleExecutor() *AssignTenantRoleExecutor {
	return &AssignTenantRoleExecutor{now: time.Now}
}

// Execute ensures the assignment and reports its id.
func (e *AssignTenantRoleExecutor) Execute(ctx context.Context, pa PendingAction, reviewerID int64, commit Committer) (Execution, error) {
	payload, err := decodeAssignTenantRole(pa.Payload)
	if err != nil {
		return Execution{}, &ExecutionError{Detail: "stored payload is unreadable", err: err}
	}
	role, err := tenancy.ParseRoleType(payload.Role)
	if err != nil {
		return Execution{}, &ExecutionError{Detail: "stored payload names an unknown role", err: err}
	}
	var assignmentID int64
	err = commit(ctx, func(ctx context.Context, store ExecutionStore) (int64, error) {
		u, err := store.GetUser(ctx, payload.ActorID)
		if errors.Is(err, users.ErrUserNotFound) {
			return 0, &ExecutionError{Detail: "actor no longer exists", err: err}
		}
		if err != nil {
			return 0, err
		}
		if u.Deleted() || !u.IsActive {
			return 0, &ExecutionError{Detail: "actor is no longer active"}
		}
		tenantID := pa.TenantID
		a, err := store.EnsureAssignment(ctx, tenancy.Assignment{
			ActorID:    u.ID,
			Role:       role,
			TenantID:   &tenantID,
			AssignedBy: reviewerID,
			AssignedAt: e.now(),
		})
		if err != nil {
			return 0, err
		}
		assignmentID = a.ID
		return a.ID, nil
	})
	if err != nil {
		return Execution{}, err
	}
	return Execution{TargetRecordID: assignmentID}, nil
}
