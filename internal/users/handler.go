package users

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/rbac"
	"github.com/lendflow/lendflow/internal/shared"
)

// ServicePort is the subset of Service used by the handler.
type ServicePort interface {
	Me(ctx context.Context, p shared.Principal) (Profile, []rbac.Rule, error)
	Get(ctx context.Context, p shared.Principal, id int64) (Profile, error)
	ListByTenant(ctx context.Context, p shared.Principal, tenantID int64, page, perPage int) ([]User, shared.Pagination, error)
	SoftDelete(ctx context.Context, p shared.Principal, id int64) (User, error)
}

// Handler manages user endpoints.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers user routes. Capability checks happen in the service
// because they depend on the target actor's tenants.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAuthenticated)
		r.Get("/me", h.me)
		r.Get("/users/{userID}", h.getUser)
		r.Delete("/users/{userID}", h.deleteUser)
		r.Get("/tenants/{tenantID}/users", h.listTenantUsers)
	})
}

type meResponse struct {
	Profile
	Rules []rbac.Rule `json:"rules"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	profile, rules, err := h.service.Me(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, meResponse{Profile: profile, Rules: rules})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	p, _ := shared.PrincipalFromContext(r.Context())
	profile, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, profile)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	p, _ := shared.PrincipalFromContext(r.Context())
	u, err := h.service.SoftDelete(r.Context(), p, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, u)
}

type listResponse struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listTenantUsers(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathID(w, r, "tenantID")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	p, _ := shared.PrincipalFromContext(r.Context())
	list, pagination, err := h.service.ListByTenant(r.Context(), p, tenantID, page, perPage)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, listResponse{Users: list, Pagination: pagination})
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "invalid "+param, nil)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !shared.IsUserFacing(err) {
		h.logger.Error("users request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err, shared.UserSafeMessage(err))
}
