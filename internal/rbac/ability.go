package rbac

import (
	"sort"

	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
)

// Actor is the input to Build: an actor and the assignments loaded for it.
type Actor struct {
	ID          int64
	Assignments []tenancy.Assignment
}

// Rule is one compiled permission. Nil TenantID or OwnerID leaves that
// dimension unconstrained; empty Fields covers the whole subject.
type Rule struct {
	Action   Action   `json:"action"`
	Subject  Subject  `json:"subject"`
	Fields   []string `json:"fields,omitempty"`
	TenantID *int64   `json:"tenant_id,omitempty"`
	OwnerID  *int64   `json:"owner_id,omitempty"`
}

// Ability is an immutable compiled rule set. The zero value denies
// everything.
type Ability struct {
	actorID      int64
	unrestricted bool
	rules        []Rule
}

// Build compiles the ability of actor. A nil actor yields the empty ability.
// A non-nil sel restricts the result to the one active assignment it names;
// when no assignment matches the result is empty. Revoked, foreign and
// malformed assignments are skipped. Build never panics and performs no I/O.
func Build(actor *Actor, sel *tenancy.Selection) Ability {
	if actor == nil || actor.ID <= 0 {
		return Ability{}
	}
	ab := Ability{actorID: actor.ID}
	for _, a := range actor.Assignments {
		if a.ActorID != actor.ID || !a.Active() || a.Valid() != nil {
			continue
		}
		if sel != nil && !sel.Matches(a) {
			continue
		}
		if a.Role == tenancy.RolePlatformAdmin {
			return Ability{
				actorID:      actor.ID,
				unrestricted: true,
				rules:        []Rule{{Action: ActionManage, Subject: SubjectAll}},
			}
		}
		ab.rules = append(ab.rules, compile(actor.ID, a)...)
	}
	return ab
}

func compile(actorID int64, a tenancy.Assignment) []Rule {
	var out []Rule
	for _, g := range grantTable {
		if g.Role != a.Role {
			continue
		}
		for _, action := range g.Actions {
			r := Rule{Action: action, Subject: g.Subject}
			if len(g.Fields) > 0 {
				r.Fields = append([]string(nil), g.Fields...)
			}
			if !a.Role.Global() {
				tenantID := *a.TenantID
				r.TenantID = &tenantID
			}
			if g.OwnOnly {
				owner := actorID
				r.OwnerID = &owner
			}
			out = append(out, r)
		}
	}
	return out
}

// ActorID returns the actor the ability was built for, 0 when anonymous.
func (a Ability) ActorID() int64 {
	return a.actorID
}

// Unrestricted reports whether the ability holds manage on all.
func (a Ability) Unrestricted() bool {
	return a.unrestricted
}

// Empty reports whether the ability grants nothing.
func (a Ability) Empty() bool {
	return len(a.rules) == 0
}

// Rules returns a copy of the compiled rules.
func (a Ability) Rules() []Rule {
	out := make([]Rule, len(a.rules))
	copy(out, a.rules)
	return out
}

// Can answers a type-level question: could action be performed on some
// instance of subject. Without a field only rules covering the whole subject
// count; with one, rules listing that field count too. At most one field is
// considered.
func (a Ability) Can(action Action, subject Subject, field ...string) bool {
	f := firstField(field)
	for _, r := range a.rules {
		if r.matchesType(action, subject) && r.matchesField(f) {
			return true
		}
	}
	return false
}

// CanOn answers an instance-level question, additionally requiring the
// rule's tenant and owner conditions to hold for target.
func (a Ability) CanOn(action Action, target Target, field ...string) bool {
	f := firstField(field)
	for _, r := range a.rules {
		if r.matchesType(action, target.Subject) && r.matchesField(f) && r.matchesTarget(target) {
			return true
		}
	}
	return false
}

// Authorize is CanOn returning shared.ErrUnauthorized on denial.
func (a Ability) Authorize(action Action, target Target, field ...string) error {
	if a.CanOn(action, target, field...) {
		return nil
	}
	return shared.ErrUnauthorized
}

// PermittedFields lists the fields of subject that action may touch. all is
// true when some rule covers the whole subject, in which case fields is nil.
func (a Ability) PermittedFields(action Action, subject Subject) (fields []string, all bool) {
	seen := make(map[string]struct{})
	for _, r := range a.rules {
		if !r.matchesType(action, subject) {
			continue
		}
		if len(r.Fields) == 0 {
			return nil, true
		}
		for _, f := range r.Fields {
			seen[f] = struct{}{}
		}
	}
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields, false
}

// TenantIDs returns the tenants the ability is confined to, sorted.
func (a Ability) TenantIDs() []int64 {
	seen := make(map[int64]struct{})
	for _, r := range a.rules {
		if r.TenantID != nil {
			seen[*r.TenantID] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r Rule) matchesType(action Action, subject Subject) bool {
	return (r.Action == ActionManage || r.Action == action) &&
		(r.Subject == SubjectAll || r.Subject == subject)
}

func (r Rule) matchesField(field string) bool {
	if len(r.Fields) == 0 {
		return true
	}
	if field == "" {
		return false
	}
	for _, f := range r.Fields {
		if f == field {
			return true
		}
	}
	return false
}

func (r Rule) matchesTarget(t Target) bool {
	if r.TenantID != nil && (t.TenantID == nil || *t.TenantID != *r.TenantID) {
		return false
	}
	if r.OwnerID != nil && (t.OwnerID == nil || *t.OwnerID != *r.OwnerID) {
		return false
	}
	return true
}

func firstField(field []string) string {
	if len(field) == 0 {
		return ""
	}
	return field[0]
}
