package rbac

import (
	"github.com/lendflow/lendflow/internal/tenancy"
)

// Grant is one row of the static capability table. Grants of tenant-scoped
// roles are always confined to the tenant of the assignment that produced
// them; OwnOnly further confines them to resources the actor owns.
//
// Tenant staff never create TenantUser or RoleAssignment records directly:
// those go through a pending action and are written by its executor. Makers
// may submit and follow their own pending actions; only holders of update
// may review them.
type Grant struct {
	Role    tenancy.RoleType
	Actions []Action
	Subject Subject
	Fields  []string
	OwnOnly bool
}

var (
	crud       = []Action{ActionCreate, ActionRead, ActionUpdate}
	readOnly   = []Action{ActionRead}
	createRead = []Action{ActionCreate, ActionRead}
	createOnly = []Action{ActionCreate}
	readWrite  = []Action{ActionRead, ActionUpdate}
	manage     = []Action{ActionManage}
	updateOnly = []Action{ActionUpdate}
	readDelete = []Action{ActionRead, ActionDelete}
)

var grantTable = []Grant{
	{Role: tenancy.RolePlatformAdmin, Actions: manage, Subject: SubjectAll},

	{Role: tenancy.RoleTenantAdmin, Actions: readDelete, Subject: SubjectTenantUser},
	{Role: tenancy.RoleTenantAdmin, Actions: readDelete, Subject: SubjectRoleAssignment},
	{Role: tenancy.RoleTenantAdmin, Actions: manage, Subject: SubjectPendingAction},
	{Role: tenancy.RoleTenantAdmin, Actions: readWrite, Subject: SubjectTenant},
	{Role: tenancy.RoleTenantAdmin, Actions: readWrite, Subject: SubjectUserProfile},
	{Role: tenancy.RoleTenantAdmin, Actions: readOnly, Subject: SubjectLoanApplication},
	{Role: tenancy.RoleTenantAdmin, Actions: readOnly, Subject: SubjectDocument},
	{Role: tenancy.RoleTenantAdmin, Actions: readOnly, Subject: SubjectDashboard},
	{Role: tenancy.RoleTenantAdmin, Actions: readOnly, Subject: SubjectAuditLog},

	{Role: tenancy.RoleLoanOfficer, Actions: crud, Subject: SubjectLoanApplication},
	{Role: tenancy.RoleLoanOfficer, Actions: createRead, Subject: SubjectDocument},
	{Role: tenancy.RoleLoanOfficer, Actions: readOnly, Subject: SubjectUserProfile},
	{Role: tenancy.RoleLoanOfficer, Actions: readOnly, Subject: SubjectDashboard},
	{Role: tenancy.RoleLoanOfficer, Actions: createOnly, Subject: SubjectPendingAction},
	{Role: tenancy.RoleLoanOfficer, Actions: readOnly, Subject: SubjectPendingAction, OwnOnly: true},

	{Role: tenancy.RoleClerk, Actions: crud, Subject: SubjectLoanApplication},
	{Role: tenancy.RoleClerk, Actions: createRead, Subject: SubjectDocument},
	{Role: tenancy.RoleClerk, Actions: readOnly, Subject: SubjectDashboard},
	{Role: tenancy.RoleClerk, Actions: createOnly, Subject: SubjectPendingAction},
	{Role: tenancy.RoleClerk, Actions: readOnly, Subject: SubjectPendingAction, OwnOnly: true},

	{Role: tenancy.RoleInspector, Actions: readOnly, Subject: SubjectLoanApplication,
		Fields: []string{"applicant_name", "property_address", "property_details", "loan_amount"}},
	{Role: tenancy.RoleInspector, Actions: updateOnly, Subject: SubjectLoanApplication,
		Fields: []string{"inspection_report", "inspection_status"}},
	{Role: tenancy.RoleInspector, Actions: createRead, Subject: SubjectDocument},

	{Role: tenancy.RoleCEO, Actions: readOnly, Subject: SubjectLoanApplication},
	{Role: tenancy.RoleCEO, Actions: updateOnly, Subject: SubjectLoanApplication,
		Fields: []string{"ceo_decision", "ceo_remarks"}},
	{Role: tenancy.RoleCEO, Actions: readOnly, Subject: SubjectDocument},
	{Role: tenancy.RoleCEO, Actions: readOnly, Subject: SubjectDashboard},
	{Role: tenancy.RoleCEO, Actions: readOnly, Subject: SubjectAuditLog},

	{Role: tenancy.RoleCommitteeMember, Actions: readOnly, Subject: SubjectLoanApplication},
	{Role: tenancy.RoleCommitteeMember, Actions: updateOnly, Subject: SubjectLoanApplication,
		Fields: []string{"committee_decision", "committee_remarks"}},
	{Role: tenancy.RoleCommitteeMember, Actions: readOnly, Subject: SubjectDocument},
	{Role: tenancy.RoleCommitteeMember, Actions: readOnly, Subject: SubjectDashboard},

	{Role: tenancy.RoleBoardMember, Actions: readOnly, Subject: SubjectLoanApplication},
	{Role: tenancy.RoleBoardMember, Actions: updateOnly, Subject: SubjectLoanApplication,
		Fields: []string{"board_decision", "board_remarks"}},
	{Role: tenancy.RoleBoardMember, Actions: readOnly, Subject: SubjectDocument},
	{Role: tenancy.RoleBoardMember, Actions: readOnly, Subject: SubjectDashboard},

	{Role: tenancy.RoleApplicant, Actions: createOnly, Subject: SubjectLoanApplication},
	{Role: tenancy.RoleApplicant, Actions: readWrite, Subject: SubjectLoanApplication, OwnOnly: true},
	{Role: tenancy.RoleApplicant, Actions: createRead, Subject: SubjectDocument, OwnOnly: true},
	{Role: tenancy.RoleApplicant, Actions: readWrite, Subject: SubjectUserProfile, OwnOnly: true},

	{Role: tenancy.RoleUnassignedUser, Actions: readWrite, Subject: SubjectUserProfile, OwnOnly: true},
}

// Grants returns a copy of the full grant table.
func Grants() []Grant {
	out := make([]Grant, len(grantTable))
	for i, g := range grantTable {
		out[i] = g.clone()
	}
	return out
}

// GrantsFor returns the grants of one role.
func GrantsFor(role tenancy.RoleType) []Grant {
	var out []Grant
	for _, g := range grantTable {
		if g.Role == role {
			out = append(out, g.clone())
		}
	}
	return out
}

func (g Grant) clone() Grant {
	g.Actions = append([]Action(nil), g.Actions...)
	if g.Fields != nil {
		g.Fields = append([]string(nil), g.Fields...)
	}
	return g
}
