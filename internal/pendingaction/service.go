package pendingaction

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lendflow/lendflow/internal/rbac"
	"github.com/lendflow/lendflow/internal/shared"
)

// ApprovalModule tags approval log rows written for pending actions.
const ApprovalModule = "PENDING_ACTION"

const (
	defaultMaxAttempts = 3
	defaultClaimTTL    = 2 * time.Minute
)

// Change describes a compare-and-set update of a pending action. Nil fields
// are left untouched. ClaimedAt, when set, must match the stored claim.
type Change struct {
	To             Status
	ReviewerID     *int64
	Remarks        *string
	ReviewedAt     *time.Time
	TargetRecordID *int64
	LastError      *string
	ClearError     bool
	Attempted      bool
	ClaimedAt      *time.Time
	At             time.Time
}

// RepositoryPort defines persistence for pending actions.
type RepositoryPort interface {
	Insert(ctx context.Context, pa PendingAction) (PendingAction, error)
	Get(ctx context.Context, id uuid.UUID) (PendingAction, error)
	FindOpen(ctx context.Context, tenantID int64, t ActionType, dedupeKey string) (PendingAction, bool, error)
	List(ctx context.Context, f Filter) ([]PendingAction, int, error)
	// Claim moves a PENDING action, or an EXECUTING one claimed before
	// staleBefore, to EXECUTING. ok is false when neither holds.
	Claim(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (PendingAction, bool, error)
	// Apply performs ch only if the action is still in from.
	Apply(ctx context.Context, id uuid.UUID, from Status, ch Change) (PendingAction, bool, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is the transactional view used while committing an execution.
type TxRepository interface {
	ExecutionStore
	Apply(ctx context.Context, id uuid.UUID, from Status, ch Change) (PendingAction, bool, error)
}

// Authorizer gates workflow calls through the policy engine.
type Authorizer interface {
	Authorize(ctx context.Context, p shared.Principal, action rbac.Action, target rbac.Target, field ...string) (rbac.Ability, error)
}

// ApprovalPort persists the review history of a pending action.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Locker serialises approvals of one pending action across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// MetricsPort records transitions and execution timings.
type MetricsPort interface {
	ObserveTransition(actionType, status string)
	ObserveExecution(actionType string, elapsed time.Duration, err error)
}

// NotificationEvent names what happened to a pending action.
type NotificationEvent string

const (
	NotifySubmitted NotificationEvent = "submitted"
	NotifyApproved  NotificationEvent = "approved"
	NotifyRejected  NotificationEvent = "rejected"
	NotifyCancelled NotificationEvent = "cancelled"
	NotifyFailed    NotificationEvent = "failed"
)

// Notification is handed to the Notifier after a transition commits.
type Notification struct {
	Event   NotificationEvent
	Action  PendingAction
	ActorID int64
	Invite  *Invite
}

// Notifier delivers notifications out of band.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Options carries the optional collaborators of Service.
type Options struct {
	Approvals   ApprovalPort
	Locker      Locker
	Notifier    Notifier
	Metrics     MetricsPort
	Logger      *slog.Logger
	MaxAttempts int
	ClaimTTL    time.Duration
}

// Service runs the maker-checker workflow.
type Service struct {
	repo        RepositoryPort
	authz       Authorizer
	executors   map[ActionType]Executor
	approvals   ApprovalPort
	locker      Locker
	notifier    Notifier
	metrics     MetricsPort
	logger      *slog.Logger
	maxAttempts int
	claimTTL    time.Duration
	now         func() time.Time
}

// NewService constructs the workflow service.
func NewService(repo RepositoryPort, authz Authorizer, executors map[ActionType]Executor, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = defaultClaimTTL
	}
	return &Service{
		repo:        repo,
		authz:       authz,
		executors:   executors,
		approvals:   opts.Approvals,
		locker:      opts.Locker,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		maxAttempts: opts.MaxAttempts,
		claimTTL:    opts.ClaimTTL,
		now:         time.Now,
	}
}

// SubmitInput is a request for dual control.
type SubmitInput struct {
	ActionType ActionType      `json:"action_type"`
	TenantID   int64           `json:"tenant_id"`
	Payload    json.RawMessage `json:"payload"`
}

// Submit records a new PENDING action on behalf of p.
func (s *Service) Submit(ctx context.Context, p shared.Principal, in SubmitInput) (PendingAction, error) {
	if !in.ActionType.Known() {
		return PendingAction{}, shared.NewValidationError("action_type", "is not supported")
	}
	if in.TenantID <= 0 {
		return PendingAction{}, shared.NewValidationError("tenant_id", "is required")
	}
	if _, err := s.authz.Authorize(ctx, p, rbac.ActionCreate, rbac.InTenant(rbac.SubjectPendingAction, in.TenantID)); err != nil {
		return PendingAction{}, err
	}
	payload, key, err := normalizePayload(in.ActionType, in.Payload)
	if err != nil {
		return PendingAction{}, err
	}
	if _, open, err := s.repo.FindOpen(ctx, in.TenantID, in.ActionType, key); err != nil {
		return PendingAction{}, err
	} else if open {
		return PendingAction{}, ErrDuplicateRequest
	}

	now := s.now()
	created, err := s.repo.Insert(ctx, PendingAction{
		ID:          uuid.New(),
		ActionType:  in.ActionType,
		TenantID:    in.TenantID,
		Payload:     payload,
		DedupeKey:   key,
		RequesterID: p.ActorID,
		Status:      StatusPending,
		RequestedAt: now,
		UpdatedAt:   now,
	})
	if err != nil {
		return PendingAction{}, err
	}
	s.transitioned(ctx, created, p.ActorID, shared.ApprovalSubmit, "")
	s.notify(ctx, Notification{Event: NotifySubmitted, Action: created, ActorID: p.ActorID})
	return created, nil
}

// Review dispatches a reviewer decision.
func (s *Service) Review(ctx context.Context, p shared.Principal, id uuid.UUID, decision Decision, remarks string) (Outcome, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(string(decision)))) {
	case DecisionApprove:
		return s.Approve(ctx, p, id)
	case DecisionReject:
		return s.Reject(ctx, p, id, remarks)
	default:
		return Outcome{}, shared.NewValidationError("decision", "must be approve or reject")
	}
}

// Approve executes the pending action once and marks it APPROVED. A failed
// execution leaves it PENDING with the failure recorded, or FAILED once the
// attempt budget is spent or the failure cannot be retried.
func (s *Service) Approve(ctx context.Context, p shared.Principal, id uuid.UUID) (Outcome, error) {
	pa, err := s.reviewable(ctx, p, id)
	if err != nil {
		return Outcome{}, err
	}
	if pa.Status.Terminal() {
		return replay(pa, StatusApproved)
	}
	if pa.Status == StatusExecuting && !s.stale(pa) {
		return Outcome{}, &TransitionError{Current: pa}
	}

	release, err := s.lock(ctx, id)
	if errors.Is(err, shared.ErrLockHeld) {
		return Outcome{}, &TransitionError{Current: pa}
	}
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	now := s.now()
	claimed, ok, err := s.repo.Claim(ctx, id, now, now.Add(-s.claimTTL))
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return s.settled(ctx, id, StatusApproved)
	}
	s.observe(claimed)

	exec, ok := s.executors[claimed.ActionType]
	if !ok {
		return s.executionFailed(ctx, p, claimed, &ExecutionError{Detail: "no executor for " + string(claimed.ActionType)})
	}

	var approved PendingAction
	commit := func(ctx context.Context, apply func(context.Context, ExecutionStore) (int64, error)) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			target, err := apply(ctx, tx)
			if err != nil {
				return err
			}
			at := s.now()
			reviewer := p.ActorID
			updated, ok, err := tx.Apply(ctx, id, Source(EventSucceed), Change{
				To:             Target(EventSucceed),
				ReviewerID:     &reviewer,
				ReviewedAt:     &at,
				TargetRecordID: &target,
				ClearError:     true,
				Attempted:      true,
				ClaimedAt:      claimed.ClaimedAt,
				At:             at,
			})
			if err != nil {
				return err
			}
			if !ok {
				return errClaimLost
			}
			approved = updated
			return nil
		})
	}

	started := s.now()
	res, err := exec.Execute(ctx, claimed, p.ActorID, commit)
	if s.metrics != nil {
		s.metrics.ObserveExecution(string(claimed.ActionType), s.now().Sub(started), err)
	}
	if errors.Is(err, errClaimLost) {
		s.logger.Warn("pendingaction: claim lost during execution", slog.String("pending_action_id", id.String()))
		return s.settled(ctx, id, StatusApproved)
	}
	if err != nil {
		return s.executionFailed(ctx, p, claimed, err)
	}

	s.transitioned(ctx, approved, p.ActorID, shared.ApprovalApprove, "")
	s.notify(ctx, Notification{Event: NotifyApproved, Action: approved, ActorID: p.ActorID, Invite: res.Invite})
	return Outcome{Action: approved}, nil
}

var errClaimLost = errors.New("pendingaction: claim lost")

func (s *Service) executionFailed(ctx context.Context, p shared.Principal, claimed PendingAction, cause error) (Outcome, error) {
	var ee *ExecutionError
	if !errors.As(cause, &ee) {
		s.logger.Error("pendingaction: execution error", slog.String("pending_action_id", claimed.ID.String()), slog.Any("error", cause))
		ee = &ExecutionError{Detail: "internal error", Retryable: true, err: cause}
	}
	ev := EventRetry
	if !ee.Retryable || claimed.Attempts+1 >= s.maxAttempts {
		ev = EventFail
	}

	// The request may already be cancelled; the failure must still be stored.
	ctx = context.WithoutCancel(ctx)
	at := s.now()
	detail := ee.Detail
	ch := Change{To: Target(ev), LastError: &detail, Attempted: true, ClaimedAt: claimed.ClaimedAt, At: at}
	if ev == EventFail {
		reviewer := p.ActorID
		ch.ReviewerID = &reviewer
		ch.ReviewedAt = &at
	}
	updated, ok, err := s.repo.Apply(ctx, claimed.ID, Source(ev), ch)
	if err != nil {
		s.logger.Error("pendingaction: record execution failure", slog.String("pending_action_id", claimed.ID.String()), slog.Any("error", err))
		return Outcome{}, err
	}
	if !ok {
		return s.settled(ctx, claimed.ID, StatusApproved)
	}
	s.logger.Warn("pendingaction: execution failed",
		slog.String("pending_action_id", claimed.ID.String()),
		slog.String("status", string(updated.Status)),
		slog.Int("attempts", updated.Attempts),
		slog.String("detail", detail),
	)
	s.transitioned(ctx, updated, p.ActorID, shared.ApprovalExecutionFailed, detail)
	if updated.Status == StatusFailed {
		s.notify(ctx, Notification{Event: NotifyFailed, Action: updated, ActorID: p.ActorID})
	}
	return Outcome{Action: updated}, ee
}

// Reject closes the pending action without executing it.
func (s *Service) Reject(ctx context.Context, p shared.Principal, id uuid.UUID, remarks string) (Outcome, error) {
	pa, err := s.reviewable(ctx, p, id)
	if err != nil {
		return Outcome{}, err
	}
	if pa.Status.Terminal() {
		return replay(pa, StatusRejected)
	}
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return Outcome{}, shared.NewValidationError("remarks", "is required")
	}
	if pa.Status != StatusPending {
		return Outcome{}, &TransitionError{Current: pa}
	}
	at := s.now()
	reviewer := p.ActorID
	updated, ok, err := s.repo.Apply(ctx, id, Source(EventReject), Change{
		To:         Target(EventReject),
		ReviewerID: &reviewer,
		Remarks:    &remarks,
		ReviewedAt: &at,
		At:         at,
	})
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return s.settled(ctx, id, StatusRejected)
	}
	s.transitioned(ctx, updated, p.ActorID, shared.ApprovalReject, remarks)
	s.notify(ctx, Notification{Event: NotifyRejected, Action: updated, ActorID: p.ActorID})
	return Outcome{Action: updated}, nil
}

// Cancel withdraws a PENDING action. Only the requester, while still
// allowed to submit in the tenant, or a platform administrator may cancel.
func (s *Service) Cancel(ctx context.Context, p shared.Principal, id uuid.UUID) (Outcome, error) {
	pa, err := s.repo.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if pa.RequesterID == p.ActorID {
		if _, err := s.authz.Authorize(ctx, p, rbac.ActionCreate, rbac.InTenant(rbac.SubjectPendingAction, pa.TenantID)); err != nil {
			return Outcome{}, err
		}
	} else {
		ab, err := s.authz.Authorize(ctx, p, rbac.ActionUpdate, rbac.InTenant(rbac.SubjectPendingAction, pa.TenantID))
		if err != nil {
			return Outcome{}, err
		}
		if !ab.Unrestricted() {
			return Outcome{}, ErrNotRequester
		}
	}
	if pa.Status.Terminal() {
		return replay(pa, StatusCancelled)
	}
	if pa.Status != StatusPending {
		return Outcome{}, &TransitionError{Current: pa}
	}
	updated, ok, err := s.repo.Apply(ctx, id, Source(EventCancel), Change{To: Target(EventCancel), At: s.now()})
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return s.settled(ctx, id, StatusCancelled)
	}
	s.transitioned(ctx, updated, p.ActorID, shared.ApprovalCancel, "")
	s.notify(ctx, Notification{Event: NotifyCancelled, Action: updated, ActorID: p.ActorID})
	return Outcome{Action: updated}, nil
}

// Get returns a pending action visible to p. Invisible actions look absent.
// Makers see the actions they requested.
func (s *Service) Get(ctx context.Context, p shared.Principal, id uuid.UUID) (PendingAction, error) {
	pa, err := s.repo.Get(ctx, id)
	if err != nil {
		return PendingAction{}, err
	}
	target := rbac.InTenant(rbac.SubjectPendingAction, pa.TenantID).OwnedBy(pa.RequesterID)
	if _, err := s.authz.Authorize(ctx, p, rbac.ActionRead, target); err != nil {
		return PendingAction{}, ErrNotFound
	}
	return pa, nil
}

// List returns the pending actions of one tenant. Callers who may only read
// their own requests get those.
func (s *Service) List(ctx context.Context, p shared.Principal, f Filter) ([]PendingAction, shared.Pagination, error) {
	if f.TenantID <= 0 {
		return nil, shared.Pagination{}, shared.NewValidationError("tenant_id", "is required")
	}
	if f.ActionType != "" && !f.ActionType.Known() {
		return nil, shared.Pagination{}, shared.NewValidationError("action_type", "is not supported")
	}
	if f.Status != "" {
		status, ok := ParseStatus(string(f.Status))
		if !ok {
			return nil, shared.Pagination{}, shared.NewValidationError("status", "is not supported")
		}
		f.Status = status
	}
	tenant := rbac.InTenant(rbac.SubjectPendingAction, f.TenantID)
	if _, err := s.authz.Authorize(ctx, p, rbac.ActionRead, tenant); err != nil {
		if _, ownErr := s.authz.Authorize(ctx, p, rbac.ActionRead, tenant.OwnedBy(p.ActorID)); ownErr != nil {
			return nil, shared.Pagination{}, err
		}
		f.RequesterID = p.ActorID
	}
	f.Page, f.PerPage = shared.NormalizePage(f.Page, f.PerPage)
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(f.Page, f.PerPage, total), nil
}

// History returns the review trail of a pending action.
func (s *Service) History(ctx context.Context, p shared.Principal, id uuid.UUID) ([]shared.ApprovalLog, error) {
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, ApprovalModule, id)
}

// reviewable loads the action and applies the reviewer checks shared by
// approve and reject. The requester is refused before any capability check,
// so self-review fails the same way whatever the requester may still do.
func (s *Service) reviewable(ctx context.Context, p shared.Principal, id uuid.UUID) (PendingAction, error) {
	pa, err := s.repo.Get(ctx, id)
	if err != nil {
		return PendingAction{}, err
	}
	if pa.RequesterID == p.ActorID {
		return PendingAction{}, ErrSelfReview
	}
	if _, err := s.authz.Authorize(ctx, p, rbac.ActionUpdate, rbac.InTenant(rbac.SubjectPendingAction, pa.TenantID)); err != nil {
		return PendingAction{}, err
	}
	return pa, nil
}

// replay answers a call on a terminal action: the same outcome again is a
// no-op, anything else is an invalid transition.
func replay(pa PendingAction, want Status) (Outcome, error) {
	if pa.Status == want {
		return Outcome{Action: pa, Replayed: true}, nil
	}
	return Outcome{}, &TransitionError{Current: pa}
}

// settled reloads an action after a lost compare-and-set.
func (s *Service) settled(ctx context.Context, id uuid.UUID, want Status) (Outcome, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if cur.Status.Terminal() {
		return replay(cur, want)
	}
	return Outcome{}, &TransitionError{Current: cur}
}

func (s *Service) stale(pa PendingAction) bool {
	return pa.ClaimedAt != nil && pa.ClaimedAt.Before(s.now().Add(-s.claimTTL))
}

func (s *Service) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, shared.PendingActionLockKey(id))
	if errors.Is(err, shared.ErrLockHeld) {
		return nil, err
	}
	if err != nil {
		s.logger.Warn("pendingaction: lock unavailable, relying on status check", slog.String("pending_action_id", id.String()), slog.Any("error", err))
		return func() {}, nil
	}
	return release, nil
}

func (s *Service) transitioned(ctx context.Context, pa PendingAction, actorID int64, action shared.ApprovalAction, note string) {
	s.observe(pa)
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{Module: ApprovalModule, RefID: pa.ID, ActorID: actorID, Action: action, Note: note}); err != nil {
		s.logger.Error("pendingaction: record approval log", slog.String("pending_action_id", pa.ID.String()), slog.Any("error", err))
	}
}

func (s *Service) observe(pa PendingAction) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(pa.ActionType), string(pa.Status))
	}
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.logger.Warn("pendingaction: enqueue notification", slog.String("event", string(n.Event)), slog.String("pending_action_id", n.Action.ID.String()), slog.Any("error", err))
	}
}
