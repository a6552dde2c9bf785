// Package rbac evaluates what an actor may do. Capabilities are derived from
// the actor's active role assignments through a static grant table and
// compiled into an Ability that answers can-questions without I/O.
package rbac

// Action is a verb checked against an ability. ActionManage matches every
// action.
type Action string

const (
	ActionManage Action = "manage"
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Subject is a resource type. SubjectAll matches every subject.
type Subject string

const (
	SubjectAll             Subject = "all"
	SubjectLoanApplication Subject = "LoanApplication"
	SubjectDocument        Subject = "Document"
	SubjectUserProfile     Subject = "UserProfile"
	SubjectTenantUser      Subject = "TenantUser"
	SubjectTenant          Subject = "Tenant"
	SubjectRoleAssignment  Subject = "RoleAssignment"
	SubjectPendingAction   Subject = "PendingAction"
	SubjectDashboard       Subject = "Dashboard"
	SubjectAuditLog        Subject = "AuditLog"
)

// Actions lists the concrete actions, excluding the wildcard.
func Actions() []Action {
	return []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
}

// Subjects lists the concrete subjects, excluding the wildcard.
func Subjects() []Subject {
	return []Subject{
		SubjectLoanApplication, SubjectDocument, SubjectUserProfile, SubjectTenantUser,
		SubjectTenant, SubjectRoleAssignment, SubjectPendingAction, SubjectDashboard, SubjectAuditLog,
	}
}

// Target identifies a concrete resource instance for instance-level checks.
// Nil TenantID or OwnerID means the instance has none.
type Target struct {
	Subject  Subject
	TenantID *int64
	OwnerID  *int64
}

// InTenant builds a Target for a tenant-owned resource.
func InTenant(subject Subject, tenantID int64) Target {
	return Target{Subject: subject, TenantID: &tenantID}
}

// OwnedBy returns a copy of t owned by actorID.
func (t Target) OwnedBy(actorID int64) Target {
	t.OwnerID = &actorID
	return t
}
