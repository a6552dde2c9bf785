package pendingaction

import "strings"

// Status is the lifecycle state of a pending action.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusExecuting Status = "EXECUTING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus normalises raw and rejects unknown statuses.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusExecuting, StatusApproved, StatusRejected, StatusCancelled, StatusFailed:
		return s, true
	}
	return "", false
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Open reports whether s still blocks a duplicate request.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusExecuting
}

// Event drives a transition.
type Event string

const (
	EventClaim   Event = "claim"
	EventSucceed Event = "succeed"
	EventRetry   Event = "retry"
	EventFail    Event = "fail"
	EventReject  Event = "reject"
	EventCancel  Event = "cancel"
)

type edge struct {
	from Status
	to   Status
}

// Submission creates records in StatusPending directly; every later change
// is one of these edges.
var edges = map[Event]edge{
	EventClaim:   {from: StatusPending, to: StatusExecuting},
	EventSucceed: {from: StatusExecuting, to: StatusApproved},
	EventRetry:   {from: StatusExecuting, to: StatusPending},
	EventFail:    {from: StatusExecuting, to: StatusFailed},
	EventReject:  {from: StatusPending, to: StatusRejected},
	EventCancel:  {from: StatusPending, to: StatusCancelled},
}

// Next returns the state reached by applying ev to from.
func Next(from Status, ev Event) (Status, bool) {
	e, ok := edges[ev]
	if !ok || e.from != from {
		return "", false
	}
	return e.to, true
}

// Source returns the only state ev may be applied to.
func Source(ev Event) Status {
	return edges[ev].from
}

// Target returns the state ev leads to.
func Target(ev Event) Status {
	return edges[ev].to
}
