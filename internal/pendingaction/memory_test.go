package pendingaction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lendflow/lendflow/internal/identity"
	"github.com/lendflow/lendflow/internal/rbac"
	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
	"github.com/lendflow/lendflow/internal/users"
)

// memoryRepo keeps pending actions, users and assignments behind one mutex.
// WithTx holds the mutex for the whole callback and restores a snapshot when
// the callback fails.
type memoryRepo struct {
	mu          sync.Mutex
	actions     map[uuid.UUID]PendingAction
	users       map[int64]users.User
	assignments []tenancy.Assignment
	nextUser    int64
	nextAssign  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		actions:  make(map[uuid.UUID]PendingAction),
		users:    make(map[int64]users.User),
		nextUser: 100,
	}
}

func (r *memoryRepo) Insert(ctx context.Context, pa PendingAction) (PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.actions {
		if existing.Status.Open() && existing.TenantID == pa.TenantID && existing.ActionType == pa.ActionType && existing.DedupeKey == pa.DedupeKey {
			return PendingAction{}, ErrDuplicateRequest
		}
	}
	r.actions[pa.ID] = pa
	return pa, nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pa, ok := r.actions[id]
	if !ok {
		return PendingAction{}, ErrNotFound
	}
	return pa, nil
}

func (r *memoryRepo) FindOpen(ctx context.Context, tenantID int64, t ActionType, key string) (PendingAction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pa := range r.actions {
		if pa.Status.Open() && pa.TenantID == tenantID && pa.ActionType == t && pa.DedupeKey == key {
			return pa, true, nil
		}
	}
	return PendingAction{}, false, nil
}

func (r *memoryRepo) List(ctx context.Context, f Filter) ([]PendingAction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PendingAction
	for _, pa := range r.actions {
		if pa.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && pa.Status != f.Status {
			continue
		}
		if f.ActionType != "" && pa.ActionType != f.ActionType {
			continue
		}
		if f.RequesterID != 0 && pa.RequesterID != f.RequesterID {
			continue
		}
		out = append(out, pa)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	total := len(out)
	start := (f.Page - 1) * f.PerPage
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (r *memoryRepo) Claim(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (PendingAction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pa, ok := r.actions[id]
	if !ok {
		return PendingAction{}, false, nil
	}
	stale := pa.Status == StatusExecuting && pa.ClaimedAt != nil && pa.ClaimedAt.Before(staleBefore)
	if pa.Status != StatusPending && !stale {
		return PendingAction{}, false, nil
	}
	pa.Status = StatusExecuting
	pa.ClaimedAt = &at
	pa.UpdatedAt = at
	r.actions[id] = pa
	return pa, true, nil
}

func (r *memoryRepo) Apply(ctx context.Context, id uuid.UUID, from Status, ch Change) (PendingAction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(id, from, ch)
}

func (r *memoryRepo) apply(id uuid.UUID, from Status, ch Change) (PendingAction, bool, error) {
	pa, ok := r.actions[id]
	if !ok || pa.Status != from {
		return PendingAction{}, false, nil
	}
	if ch.ClaimedAt != nil && (pa.ClaimedAt == nil || !pa.ClaimedAt.Equal(*ch.ClaimedAt)) {
		return PendingAction{}, false, nil
	}
	pa.Status = ch.To
	if ch.ReviewerID != nil {
		pa.ReviewerID = ch.ReviewerID
	}
	if ch.Remarks != nil {
		pa.ReviewRemarks = ch.Remarks
	}
	if ch.ReviewedAt != nil {
		pa.ReviewedAt = ch.ReviewedAt
	}
	if ch.TargetRecordID != nil {
		pa.TargetRecordID = ch.TargetRecordID
	}
	if ch.LastError != nil {
		pa.LastError = ch.LastError
	}
	if ch.ClearError {
		pa.LastError = nil
	}
	if ch.Attempted {
		pa.Attempts++
	}
	if ch.To != StatusExecuting {
		pa.ClaimedAt = nil
	}
	pa.UpdatedAt = ch.At
	r.actions[id] = pa
	return pa, true, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	actions     map[uuid.UUID]PendingAction
	users       map[int64]users.User
	assignments []tenancy.Assignment
	nextUser    int64
	nextAssign  int64
}

func (r *memoryRepo) snapshot() memorySnapshot {
	s := memorySnapshot{
		actions:     make(map[uuid.UUID]PendingAction, len(r.actions)),
		users:       make(map[int64]users.User, len(r.users)),
		assignments: append([]tenancy.Assignment(nil), r.assignments...),
		nextUser:    r.nextUser,
		nextAssign:  r.nextAssign,
	}
	for k, v := range r.actions {
		s.actions[k] = v
	}
	for k, v := range r.users {
		s.users[k] = v
	}
	return s
}

func (r *memoryRepo) restore(s memorySnapshot) {
	r.actions = s.actions
	r.users = s.users
	r.assignments = s.assignments
	r.nextUser = s.nextUser
	r.nextAssign = s.nextAssign
}

func (r *memoryRepo) addUser(u users.User) users.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == 0 {
		r.nextUser++
		u.ID = r.nextUser
	}
	u.Email = users.NormalizeEmail(u.Email)
	r.users[u.ID] = u
	return u
}

func (r *memoryRepo) findUser(email string) (users.User, bool) {
	for _, u := range r.users {
		if !u.Deleted() && u.Email == users.NormalizeEmail(email) {
			return u, true
		}
	}
	return users.User{}, false
}

func (r *memoryRepo) assignmentsOf(actorID int64) []tenancy.Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []tenancy.Assignment
	for _, a := range r.assignments {
		if a.ActorID == actorID && a.Active() {
			out = append(out, a)
		}
	}
	return out
}

func (r *memoryRepo) set(pa PendingAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[pa.ID] = pa
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

// FindActiveByEmail serves the executor's lookup outside transactions.
func (r *memoryRepo) FindActiveByEmail(ctx context.Context, email string) (users.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.findUser(email)
	return u, ok, nil
}

// memoryTx runs with the repo mutex already held.
type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Apply(ctx context.Context, id uuid.UUID, from Status, ch Change) (PendingAction, bool, error) {
	return t.repo.apply(id, from, ch)
}

func (t *memoryTx) FindActiveUserByEmail(ctx context.Context, email string) (users.User, bool, error) {
	u, ok := t.repo.findUser(email)
	return u, ok, nil
}

func (t *memoryTx) CreateUser(ctx context.Context, u users.User) (users.User, error) {
	if _, ok := t.repo.findUser(u.Email); ok {
		return users.User{}, users.ErrEmailTaken
	}
	t.repo.nextUser++
	u.ID = t.repo.nextUser
	u.Email = users.NormalizeEmail(u.Email)
	t.repo.users[u.ID] = u
	return u, nil
}

func (t *memoryTx) GetUser(ctx context.Context, id int64) (users.User, error) {
	u, ok := t.repo.users[id]
	if !ok || u.Deleted() {
		return users.User{}, users.ErrUserNotFound
	}
	return u, nil
}

func (t *memoryTx) EnsureAssignment(ctx context.Context, a tenancy.Assignment) (tenancy.Assignment, error) {
	for _, existing := range t.repo.assignments {
		if existing.Active() && existing.ActorID == a.ActorID && existing.Role == a.Role && *existing.TenantID == *a.TenantID {
			return existing, nil
		}
	}
	t.repo.nextAssign++
	a.ID = t.repo.nextAssign
	t.repo.assignments = append(t.repo.assignments, a)
	return a, nil
}

// fakeProvider counts calls and replays identities per idempotency key.
type fakeProvider struct {
	mu    sync.Mutex
	calls atomic.Int32
	delay time.Duration
	fail  []error
	byKey map[string]identity.Identity
	token string
}

func (p *fakeProvider) CreateIdentity(ctx context.Context, req identity.Request) (identity.Identity, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.fail) > 0 {
		err := p.fail[0]
		p.fail = p.fail[1:]
		return identity.Identity{}, err
	}
	if p.byKey == nil {
		p.byKey = make(map[string]identity.Identity)
	}
	if id, ok := p.byKey[req.IdempotencyKey]; ok {
		return identity.Identity{ExternalID: id.ExternalID}, nil
	}
	id := identity.Identity{ExternalID: "ext-" + req.IdempotencyKey, ActivationToken: p.token}
	p.byKey[req.IdempotencyKey] = id
	return id, nil
}

// actorAssignments is the fixed role table the policy engine reads.
type actorAssignments struct {
	repo  *memoryRepo
	fixed map[int64][]tenancy.Assignment
}

func (a actorAssignments) ActiveAssignments(ctx context.Context, actorID int64) ([]tenancy.Assignment, error) {
	out := append([]tenancy.Assignment(nil), a.fixed[actorID]...)
	return append(out, a.repo.assignmentsOf(actorID)...), nil
}

type memoryApprovals struct {
	mu   sync.Mutex
	logs []shared.ApprovalLog
}

func (m *memoryApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	log.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryApprovals) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range m.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type memoryNotifier struct {
	mu     sync.Mutex
	events []Notification
}

func (m *memoryNotifier) Notify(ctx context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, n)
	return nil
}

func (m *memoryNotifier) last() Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[len(m.events)-1]
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+":"+key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+":"+key)
	return nil
}

const (
	bankB1 int64 = 1
	bankB2 int64 = 2

	actorU1         int64 = 1
	actorU2         int64 = 2
	actorU3         int64 = 3
	actorB2Admin    int64 = 4
	actorClerk      int64 = 5
	actorPlatform   int64 = 9
)

func assignment(id, actor int64, role tenancy.RoleType, tenant int64) tenancy.Assignment {
	t := tenant
	return tenancy.Assignment{ID: id, ActorID: actor, Role: role, TenantID: &t}
}

type fixture struct {
	repo      *memoryRepo
	provider  *fakeProvider
	approvals *memoryApprovals
	notifier  *memoryNotifier
	service   *Service
}

func newFixture(opts Options) *fixture {
	repo := newMemoryRepo()
	source := actorAssignments{repo: repo, fixed: map[int64][]tenancy.Assignment{
		actorU1:       {assignment(1, actorU1, tenancy.RoleTenantAdmin, bankB1)},
		actorU2:       {assignment(2, actorU2, tenancy.RoleTenantAdmin, bankB1)},
		actorB2Admin:  {assignment(4, actorB2Admin, tenancy.RoleTenantAdmin, bankB2)},
		actorClerk:    {assignment(5, actorClerk, tenancy.RoleClerk, bankB1)},
		actorPlatform: {{ID: 9, ActorID: actorPlatform, Role: tenancy.RolePlatformAdmin}},
	}}
	repo.addUser(users.User{ID: actorClerk, Email: "clerk@b1.test", Name: "Clerk", IsActive: true})

	provider := &fakeProvider{}
	approvals := &memoryApprovals{}
	notifier := &memoryNotifier{}
	opts.Approvals = approvals
	opts.Notifier = notifier

	authz := rbac.NewService(source, nil, nil)
	executors := map[ActionType]Executor{
		ActionCreateTenantUser: NewCreateTenantUserExecutor(repo, provider, nil),
		ActionAssignTenantRole: NewAssignTenantRoleExecutor(),
	}
	return &fixture{
		repo:      repo,
		provider:  provider,
		approvals: approvals,
		notifier:  notifier,
		service:   NewService(repo, authz, executors, opts),
	}
}

func principal(actor int64) shared.Principal {
	return shared.Principal{ActorID: actor}
}

func (f *fixture) submitCreateUser(ctx context.Context, requester int64, email string) (PendingAction, error) {
	return f.service.Submit(ctx, principal(requester), SubmitInput{
		ActionType: ActionCreateTenantUser,
		TenantID:   bankB1,
		Payload:    []byte(`{"email":"` + email + `","name":"New Officer","role":"LOAN_OFFICER"}`),
	})
}

func isTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
