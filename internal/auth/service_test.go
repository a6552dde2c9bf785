package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
	_ "github.com/lendflow/lendflow/testing"
)

type stubRepo struct {
	creds       map[string]Credentials
	activations map[string]Activation
	activated   map[string]string
	admins      int
}

func newStubRepo(t *testing.T) *stubRepo {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	tokenHash, err := bcrypt.GenerateFromPassword([]byte("invite-token"), bcrypt.MinCost)
	require.NoError(t, err)
	return &stubRepo{
		creds: map[string]Credentials{
			"ana@bank.test":  {ActorID: 1, Email: "ana@bank.test", PasswordHash: string(hash), IsActive: true},
			"gone@bank.test": {ActorID: 2, Email: "gone@bank.test", PasswordHash: string(hash), IsActive: false},
		},
		activations: map[string]Activation{"new@bank.test": {ExternalID: "ext-1", TokenHash: string(tokenHash)}},
		activated:   map[string]string{},
	}
}

func (s *stubRepo) FindCredentials(ctx context.Context, email string) (Credentials, error) {
	c, ok := s.creds[strings.ToLower(email)]
	if !ok {
		return Credentials{}, shared.ErrNotFound
	}
	return c, nil
}

func (s *stubRepo) FindActivation(ctx context.Context, email string) (Activation, error) {
	a, ok := s.activations[strings.ToLower(email)]
	if !ok {
		return Activation{}, shared.ErrNotFound
	}
	return a, nil
}

func (s *stubRepo) CompleteActivation(ctx context.Context, externalID, passwordHash string, at time.Time) error {
	for email, a := range s.activations {
		if a.ExternalID == externalID {
			delete(s.activations, email)
			s.activated[externalID] = passwordHash
			return nil
		}
	}
	return shared.ErrNotFound
}

func (s *stubRepo) CreatePlatformAdmin(ctx context.Context, email, name, passwordHash string) (int64, error) {
	if s.admins > 0 {
		return 0, ErrAlreadyBootstrapped
	}
	s.admins++
	return 100, nil
}

type stubAssignments map[int64][]tenancy.Assignment

func (s stubAssignments) ActiveAssignments(ctx context.Context, actorID int64) ([]tenancy.Assignment, error) {
	return s[actorID], nil
}

func ptr(v int64) *int64 { return &v }

func newTestService(t *testing.T) (*Service, *stubRepo) {
	repo := newStubRepo(t)
	assignments := stubAssignments{1: {
		{ActorID: 1, Role: tenancy.RoleClerk, TenantID: ptr(1)},
		{ActorID: 1, Role: tenancy.RoleTenantAdmin, TenantID: ptr(2)},
	}}
	return NewService(repo, NewTokenIssuer("secret", time.Hour, "lendflow"), assignments, nil), repo
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Authenticate(ctx, "ana@bank.test", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, int64(1), session.ActorID)
	require.Empty(t, session.Role)

	_, err = svc.Authenticate(ctx, "ana@bank.test", "wrong-password")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "gone@bank.test", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody@bank.test", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestSwitchContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := shared.Principal{ActorID: 1}

	session, err := svc.SwitchContext(ctx, p, SelectInput{Role: "tenant_admin", TenantID: ptr(2)})
	require.NoError(t, err)
	require.Equal(t, "TENANT_ADMIN", session.Role)

	parsed, err := svc.tokens.Parse(session.Token)
	require.NoError(t, err)
	require.Equal(t, int64(2), *parsed.TenantID)

	_, err = svc.SwitchContext(ctx, p, SelectInput{Role: "TENANT_ADMIN", TenantID: ptr(1)})
	require.ErrorIs(t, err, ErrUnknownContext)

	_, err = svc.SwitchContext(ctx, p, SelectInput{Role: "EMPEROR", TenantID: ptr(1)})
	require.ErrorIs(t, err, tenancy.ErrUnknownRole)

	cleared, err := svc.SwitchContext(ctx, shared.Principal{ActorID: 1, Role: "CLERK", TenantID: ptr(1)}, SelectInput{})
	require.NoError(t, err)
	require.Empty(t, cleared.Role)
	require.Nil(t, cleared.TenantID)
}

func TestActivateBurnsToken(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	err := svc.Activate(ctx, ActivateInput{Email: "new@bank.test", Token: "guess", Password: "long-enough"})
	require.ErrorIs(t, err, ErrActivationFailed)

	require.NoError(t, svc.Activate(ctx, ActivateInput{Email: "new@bank.test", Token: "invite-token", Password: "long-enough"}))
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.activated["ext-1"]), []byte("long-enough")))

	err = svc.Activate(ctx, ActivateInput{Email: "new@bank.test", Token: "invite-token", Password: "long-enough"})
	require.ErrorIs(t, err, ErrActivationFailed)
}

func TestBootstrapAdminOnlyOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.BootstrapAdmin(ctx, "root@lendflow.test", "Root", "short")
	require.Error(t, err)
	id, err := svc.BootstrapAdmin(ctx, "root@lendflow.test", "Root", "long-password")
	require.NoError(t, err)
	require.Equal(t, int64(100), id)
	_, err = svc.BootstrapAdmin(ctx, "root@lendflow.test", "Root", "long-password")
	require.ErrorIs(t, err, ErrAlreadyBootstrapped)
}

func TestMiddlewareResolvesPrincipal(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour, "lendflow")
	token, _, err := issuer.Issue(shared.Principal{ActorID: 5})
	require.NoError(t, err)

	var seen shared.Principal
	var authenticated bool
	handler := Authenticate(issuer, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, authenticated = shared.PrincipalFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, authenticated)
	require.Equal(t, int64(5), seen.ActorID)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, authenticated)
}
