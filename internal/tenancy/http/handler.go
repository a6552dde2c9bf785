// Package tenancyhttp exposes tenants and role assignments over HTTP.
package tenancyhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/rbac"
	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
)

// Service is the subset of tenancy.Service used by the handler.
type Service interface {
	ListTenants(ctx context.Context) ([]tenancy.Tenant, error)
	GetTenant(ctx context.Context, id int64) (tenancy.Tenant, error)
	CreateTenant(ctx context.Context, in tenancy.CreateTenantInput, actorID int64) (tenancy.Tenant, error)
	ListTenantAssignments(ctx context.Context, tenantID int64) ([]tenancy.Assignment, error)
	ActiveAssignments(ctx context.Context, actorID int64) ([]tenancy.Assignment, error)
	GetAssignment(ctx context.Context, id int64) (tenancy.Assignment, error)
	Assign(ctx context.Context, in tenancy.AssignInput) (tenancy.Assignment, error)
	Revoke(ctx context.Context, assignmentID, revokedBy int64) (tenancy.Assignment, error)
}

// Authorizer resolves the ability of a principal.
type Authorizer interface {
	AbilityFor(ctx context.Context, p shared.Principal) rbac.Ability
}

// Handler serves tenant and role endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
	authz   Authorizer
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Service, authz Authorizer, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, authz: authz, rbac: mw}
}

// MountRoutes registers routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAuthenticated)
		r.Get("/tenants", h.listTenants)
		r.Get("/actors/{actorID}/roles", h.listActorRoles)
		r.Post("/actors/{actorID}/roles", h.assignRole)
		r.Delete("/roles/{assignmentID}", h.revokeRole)
	})
	r.With(h.rbac.Require(rbac.ActionCreate, rbac.SubjectTenant)).Post("/tenants", h.createTenant)
	r.With(h.rbac.RequireInTenant(rbac.ActionRead, rbac.SubjectTenant, "tenantID")).Get("/tenants/{tenantID}", h.getTenant)
	r.With(h.rbac.RequireInTenant(rbac.ActionRead, rbac.SubjectRoleAssignment, "tenantID")).Get("/tenants/{tenantID}/roles", h.listTenantRoles)
}

func (h *Handler) listTenants(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	ab := h.authz.AbilityFor(r.Context(), p)
	tenants, err := h.service.ListTenants(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	visible := make([]tenancy.Tenant, 0, len(tenants))
	for _, t := range tenants {
		if ab.CanOn(rbac.ActionRead, rbac.InTenant(rbac.SubjectTenant, t.ID)) {
			visible = append(visible, t)
		}
	}
	httpx.OK(w, http.StatusOK, visible)
}

func (h *Handler) createTenant(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	var in tenancy.CreateTenantInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	t, err := h.service.CreateTenant(r.Context(), in, p.ActorID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, t)
}

func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
	t, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, t)
}

func (h *Handler) listTenantRoles(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
	assignments, err := h.service.ListTenantAssignments(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, assignments)
}

func (h *Handler) listActorRoles(w http.ResponseWriter, r *http.Request) {
	actorID, ok := parseID(w, r, "actorID")
	if !ok {
		return
	}
	p, _ := shared.PrincipalFromContext(r.Context())
	ab := h.authz.AbilityFor(r.Context(), p)
	assignments, err := h.service.ActiveAssignments(r.Context(), actorID)
	if err != nil {
		h.fail(w, err)
		return
	}
	visible := make([]tenancy.Assignment, 0, len(assignments))
	for _, a := range assignments {
		if actorID == p.ActorID || ab.CanOn(rbac.ActionRead, assignmentTarget(a.TenantID)) {
			visible = append(visible, a)
		}
	}
	httpx.OK(w, http.StatusOK, visible)
}

type assignRequest struct {
	Role     string `json:"role"`
	TenantID *int64 `json:"tenant_id,omitempty"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := parseID(w, r, "actorID")
	if !ok {
		return
	}
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	p, _ := shared.PrincipalFromContext(r.Context())
	ab := h.authz.AbilityFor(r.Context(), p)
	role, err := tenancy.ParseRoleType(req.Role)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !ab.CanOn(rbac.ActionCreate, assignmentTarget(req.TenantID)) ||
		(role == tenancy.RolePlatformAdmin && !ab.Unrestricted()) {
		h.fail(w, shared.ErrUnauthorized)
		return
	}
	a, err := h.service.Assign(r.Context(), tenancy.AssignInput{
		ActorID:    actorID,
		Role:       string(role),
		TenantID:   req.TenantID,
		AssignedBy: p.ActorID,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, a)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "assignmentID")
	if !ok {
		return
	}
	p, _ := shared.PrincipalFromContext(r.Context())
	existing, err := h.service.GetAssignment(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !h.authz.AbilityFor(r.Context(), p).CanOn(rbac.ActionDelete, assignmentTarget(existing.TenantID)) {
		h.fail(w, shared.ErrUnauthorized)
		return
	}
	revoked, err := h.service.Revoke(r.Context(), id, p.ActorID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, revoked)
}

func assignmentTarget(tenantID *int64) rbac.Target {
	if tenantID == nil {
		return rbac.Target{Subject: rbac.SubjectRoleAssignment}
	}
	return rbac.InTenant(rbac.SubjectRoleAssignment, *tenantID)
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "invalid "+param, nil)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !shared.IsUserFacing(err) {
		h.logger.Error("tenancy request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err, shared.UserSafeMessage(err))
}
