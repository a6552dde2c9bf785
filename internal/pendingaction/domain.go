// Package pendingaction implements dual control over sensitive tenant
// operations: one actor requests, a different actor approves or rejects, and
// the approved operation runs exactly once.
package pendingaction

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/shared"
)

// ActionType enumerates the operations that require dual control.
type ActionType string

const (
	ActionCreateTenantUser ActionType = "CREATE_TENANT_USER"
	ActionAssignTenantRole ActionType = "ASSIGN_TENANT_ROLE"
)

// ActionTypes lists every supported action type.
func ActionTypes() []ActionType {
	return []ActionType{ActionCreateTenantUser, ActionAssignTenantRole}
}

// Known reports whether t is a supported action type.
func (t ActionType) Known() bool {
	for _, known := range ActionTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Decision is the outcome a reviewer chooses.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// PendingAction is a requested operation awaiting review.
type PendingAction struct {
	ID             uuid.UUID       `json:"id"`
	ActionType     ActionType      `json:"action_type"`
	TenantID       int64           `json:"tenant_id"`
	Payload        json.RawMessage `json:"payload"`
	DedupeKey      string          `json:"-"`
	RequesterID    int64           `json:"requester_id"`
	Status         Status          `json:"status"`
	ReviewerID     *int64          `json:"reviewer_id,omitempty"`
	ReviewRemarks  *string         `json:"review_remarks,omitempty"`
	RequestedAt    time.Time       `json:"requested_at"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
	TargetRecordID *int64          `json:"target_record_id,omitempty"`
	Attempts       int             `json:"attempts"`
	LastError      *string         `json:"last_error,omitempty"`
	ClaimedAt      *time.Time      `json:"-"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Filter narrows List results. TenantID is required.
type Filter struct {
	TenantID    int64
	Status      Status
	ActionType  ActionType
	RequesterID int64
	Page       int
	PerPage    int
}

// Outcome is the result of a review or cancel call. Replayed is set when the
// call found the action already in the requested terminal state and did
// nothing.
type Outcome struct {
	Action   PendingAction `json:"pending_action"`
	Replayed bool          `json:"replayed"`
}

// ValidationError carries per-field payload problems.
type ValidationError = shared.ValidationError

var (
	// ErrNotFound is returned for unknown or invisible pending actions.
	ErrNotFound = shared.NewError(httpx.ErrNotFound, "pending action not found")
	// ErrUnknownActionType rejects action types outside the closed set.
	ErrUnknownActionType = shared.NewError(httpx.ErrValidation, "unknown action type")
	// ErrDuplicateRequest indicates an open request already targets the same record.
	ErrDuplicateRequest = shared.NewError(httpx.ErrDuplicate, "an open request for this target already exists")
	// ErrSelfReview forbids the requester from reviewing their own request.
	ErrSelfReview = shared.NewError(httpx.ErrForbidden, "requester cannot review their own request")
	// ErrInvalidTransition indicates the action is not in a state that allows the call.
	ErrInvalidTransition = shared.NewError(httpx.ErrConflict, "pending action is not in a state that allows this transition")
	// ErrNotRequester restricts cancellation to the requester or a platform admin.
	ErrNotRequester = shared.NewError(httpx.ErrForbidden, "only the requester can cancel this request")
)

// ExecutionError reports a failed execution of an approved action. The
// action stays reviewable unless Retryable is false or attempts ran out.
type ExecutionError struct {
	Detail    string
	Retryable bool
	err       error
}

func (e *ExecutionError) Error() string {
	return "execution failed: " + e.Detail
}

// Unwrap exposes the cause.
func (e *ExecutionError) Unwrap() error { return e.err }

// Is classifies execution failures as conflicts for transports.
func (e *ExecutionError) Is(target error) bool {
	return target == httpx.ErrConflict
}

// TransitionError pairs ErrInvalidTransition with the record as it currently
// stands so callers can show the actual state.
type TransitionError struct {
	Current PendingAction
}

func (e *TransitionError) Error() string { return ErrInvalidTransition.Error() }

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// CurrentState extracts the record attached to a transition error.
func CurrentState(err error) (PendingAction, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Current, true
	}
	return PendingAction{}, false
}
