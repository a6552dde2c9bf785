package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lendflow/lendflow/internal/pendingaction"
)

// Enqueuer hands notify payloads to the queue.
type Enqueuer interface {
	EnqueueNotify(ctx context.Context, payload NotifyPayload) error
}

// Notifier turns pending action transitions into queued mail. Submissions go
// to the tenant's other admins; outcomes go to the requester.
type Notifier struct {
	directory Directory
	queue     Enqueuer
}

// NewNotifier constructs a Notifier.
func NewNotifier(directory Directory, queue Enqueuer) *Notifier {
	return &Notifier{directory: directory, queue: queue}
}

var _ pendingaction.Notifier = (*Notifier)(nil)

// Notify implements pendingaction.Notifier.
func (n *Notifier) Notify(ctx context.Context, note pendingaction.Notification) error {
	if n == nil || n.queue == nil {
		return nil
	}
	pa := note.Action
	var recipients []string
	var err error
	switch note.Event {
	case pendingaction.NotifySubmitted:
		recipients, err = n.directory.ReviewerEmails(ctx, pa.TenantID, pa.RequesterID)
	default:
		var email string
		email, err = n.directory.ActorEmail(ctx, pa.RequesterID)
		if email != "" {
			recipients = []string{email}
		}
	}
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	var errs []error
	if len(recipients) > 0 {
		errs = append(errs, n.queue.EnqueueNotify(ctx, NotifyPayload{
			Event:           string(note.Event),
			PendingActionID: pa.ID,
			TenantID:        pa.TenantID,
			Recipients:      recipients,
			Subject:         subjectFor(note.Event, pa),
			Body:            bodyFor(note.Event, pa),
		}))
	}
	if note.Invite != nil && note.Invite.Email != "" {
		errs = append(errs, n.queue.EnqueueNotify(ctx, NotifyPayload{
			Event:           "invite",
			PendingActionID: pa.ID,
			TenantID:        pa.TenantID,
			Recipients:      []string{note.Invite.Email},
			Subject:         "Your LendFlow account is ready",
			Body:            inviteBody(*note.Invite),
		}))
	}
	return errors.Join(errs...)
}

func subjectFor(event pendingaction.NotificationEvent, pa pendingaction.PendingAction) string {
	label := actionLabel(pa.ActionType)
	switch event {
	case pendingaction.NotifySubmitted:
		return "Approval needed: " + label
	case pendingaction.NotifyApproved:
		return "Approved: " + label
	case pendingaction.NotifyRejected:
		return "Rejected: " + label
	case pendingaction.NotifyCancelled:
		return "Cancelled: " + label
	case pendingaction.NotifyFailed:
		return "Failed: " + label
	}
	return label
}

func bodyFor(event pendingaction.NotificationEvent, pa pendingaction.PendingAction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request %s (%s) is now %s.\n", pa.ID, actionLabel(pa.ActionType), pa.Status)
	switch event {
	case pendingaction.NotifySubmitted:
		b.WriteString("A tenant administrator other than the requester must review it.\n")
	case pendingaction.NotifyRejected:
		if pa.ReviewRemarks != nil {
			fmt.Fprintf(&b, "Remarks: %s\n", *pa.ReviewRemarks)
		}
	case pendingaction.NotifyFailed:
		if pa.LastError != nil {
			fmt.Fprintf(&b, "Last error: %s\n", *pa.LastError)
		}
	}
	return b.String()
}

func inviteBody(invite pendingaction.Invite) string {
	var b strings.Builder
	name := invite.Name
	if name == "" {
		name = invite.Email
	}
	fmt.Fprintf(&b, "Hello %s,\n\nAn account has been created for you.\n", name)
	if invite.ActivationToken != "" {
		fmt.Fprintf(&b, "Activation code: %s\n", invite.ActivationToken)
	}
	return b.String()
}

func actionLabel(t pendingaction.ActionType) string {
	switch t {
	case pendingaction.ActionCreateTenantUser:
		return "create tenant user"
	case pendingaction.ActionAssignTenantRole:
		return "assign tenant role"
	}
	return strings.ToLower(string(t))
}
