package users

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/rbac"
	"github.com/lendflow/lendflow/internal/shared"
)

type stubService struct {
	profile    Profile
	rules      []rbac.Rule
	err        error
	gotTenant  int64
	gotPage    int
	gotPerPage int
	deleted    int64
}

func (s *stubService) Me(ctx context.Context, p shared.Principal) (Profile, []rbac.Rule, error) {
	return s.profile, s.rules, s.err
}

func (s *stubService) Get(ctx context.Context, p shared.Principal, id int64) (Profile, error) {
	if s.err != nil {
		return Profile{}, s.err
	}
	return s.profile, nil
}

func (s *stubService) ListByTenant(ctx context.Context, p shared.Principal, tenantID int64, page, perPage int) ([]User, shared.Pagination, error) {
	s.gotTenant, s.gotPage, s.gotPerPage = tenantID, page, perPage
	if s.err != nil {
		return nil, shared.Pagination{}, s.err
	}
	return []User{s.profile.User}, shared.NewPagination(page, perPage, 1), nil
}

func (s *stubService) SoftDelete(ctx context.Context, p shared.Principal, id int64) (User, error) {
	if s.err != nil {
		return User{}, s.err
	}
	s.deleted = id
	return s.profile.User, nil
}

func serve(t *testing.T, svc ServicePort, req *http.Request, p *shared.Principal) (*httptest.ResponseRecorder, httpx.Result) {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	if p != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var body httpx.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHandlerRequiresPrincipal(t *testing.T) {
	rec, body := serve(t, &stubService{}, httptest.NewRequest(http.MethodGet, "/me", nil), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, body.Success)
}

func TestHandlerMe(t *testing.T) {
	svc := &stubService{profile: Profile{User: User{ID: 7, Email: "u7@bank.test"}}}
	p := shared.Principal{ActorID: 7}
	rec, body := serve(t, svc, httptest.NewRequest(http.MethodGet, "/me", nil), &p)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, body.Success)
	data := body.Data.(map[string]any)
	require.Equal(t, "u7@bank.test", data["user"].(map[string]any)["email"])
}

func TestHandlerListTenantUsersPassesPaging(t *testing.T) {
	svc := &stubService{profile: Profile{User: User{ID: 7}}}
	p := shared.Principal{ActorID: 1}
	rec, _ := serve(t, svc, httptest.NewRequest(http.MethodGet, "/tenants/3/users?page=2&per_page=5", nil), &p)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(3), svc.gotTenant)
	require.Equal(t, 2, svc.gotPage)
	require.Equal(t, 5, svc.gotPerPage)
}

func TestHandlerRejectsBadID(t *testing.T) {
	p := shared.Principal{ActorID: 1}
	rec, body := serve(t, &stubService{}, httptest.NewRequest(http.MethodGet, "/users/abc", nil), &p)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid userID", body.Message)
}

func TestHandlerMapsServiceErrors(t *testing.T) {
	p := shared.Principal{ActorID: 1}
	rec, body := serve(t, &stubService{err: ErrUserNotFound}, httptest.NewRequest(http.MethodGet, "/users/9", nil), &p)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "user not found", body.Message)

	rec, _ = serve(t, &stubService{err: shared.ErrUnauthorized}, httptest.NewRequest(http.MethodDelete, "/users/9", nil), &p)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = serve(t, &stubService{err: ErrSelfDelete}, httptest.NewRequest(http.MethodDelete, "/users/1", nil), &p)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "you cannot delete your own account", body.Message)
}

func TestHandlerDeleteUser(t *testing.T) {
	svc := &stubService{profile: Profile{User: User{ID: 9}}}
	p := shared.Principal{ActorID: 1}
	rec, _ := serve(t, svc, httptest.NewRequest(http.MethodDelete, "/users/9", nil), &p)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(9), svc.deleted)
}
