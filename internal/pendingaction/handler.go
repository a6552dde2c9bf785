package pendingaction

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/rbac"
	"github.com/lendflow/lendflow/internal/shared"
)

const idempotencyModule = "pending_action.submit"

// ServicePort is the subset of Service used by the handler.
type ServicePort interface {
	Submit(ctx context.Context, p shared.Principal, in SubmitInput) (PendingAction, error)
	Review(ctx context.Context, p shared.Principal, id uuid.UUID, decision Decision, remarks string) (Outcome, error)
	Cancel(ctx context.Context, p shared.Principal, id uuid.UUID) (Outcome, error)
	Get(ctx context.Context, p shared.Principal, id uuid.UUID) (PendingAction, error)
	List(ctx context.Context, p shared.Principal, f Filter) ([]PendingAction, shared.Pagination, error)
	History(ctx context.Context, p shared.Principal, id uuid.UUID) ([]shared.ApprovalLog, error)
}

// IdempotencyPort deduplicates submit requests carrying an Idempotency-Key.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes the workflow over HTTP.
type Handler struct {
	logger      *slog.Logger
	service     ServicePort
	idempotency IdempotencyPort
}

// NewHandler constructs the handler. idempotency may be nil.
func NewHandler(logger *slog.Logger, service ServicePort, idempotency IdempotencyPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idempotency: idempotency}
}

// MountRoutes registers the pending action routes. Capability checks happen
// in the service because they depend on the action's tenant.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/pending-actions", func(r chi.Router) {
		r.Use(rbac.RequireAuthenticated)
		r.Post("/", h.submit)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/history", h.history)
		r.Post("/{id}/review", h.review)
		r.Post("/{id}/cancel", h.cancel)
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var in SubmitInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	p, _ := shared.PrincipalFromContext(r.Context())

	key := r.Header.Get("Idempotency-Key")
	scoped := strconv.FormatInt(p.ActorID, 10) + ":" + key
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), scoped, idempotencyModule); err != nil {
			h.fail(w, err)
			return
		}
	}
	pa, err := h.service.Submit(r.Context(), p, in)
	if err != nil {
		if key != "" && h.idempotency != nil {
			// A failed submit may be retried with the same key.
			if derr := h.idempotency.Delete(context.WithoutCancel(r.Context()), scoped, idempotencyModule); derr != nil {
				h.logger.Warn("pending action idempotency rollback", slog.Any("error", derr))
			}
		}
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, pa)
}

type listResponse struct {
	PendingActions []PendingAction   `json:"pending_actions"`
	Pagination     shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID, _ := strconv.ParseInt(q.Get("tenant_id"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	p, _ := shared.PrincipalFromContext(r.Context())
	items, pagination, err := h.service.List(r.Context(), p, Filter{
		TenantID:   tenantID,
		Status:     Status(q.Get("status")),
		ActionType: ActionType(q.Get("action_type")),
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	if items == nil {
		items = []PendingAction{}
	}
	httpx.OK(w, http.StatusOK, listResponse{PendingActions: items, Pagination: pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, _ := shared.PrincipalFromContext(r.Context())
	pa, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, pa)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, _ := shared.PrincipalFromContext(r.Context())
	logs, err := h.service.History(r.Context(), p, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	httpx.OK(w, http.StatusOK, logs)
}

type reviewRequest struct {
	Decision Decision `json:"decision"`
	Remarks  string   `json:"remarks"`
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	p, _ := shared.PrincipalFromContext(r.Context())
	out, err := h.service.Review(r.Context(), p, id, req.Decision, req.Remarks)
	if err != nil {
		h.failOutcome(w, out, err)
		return
	}
	httpx.OK(w, http.StatusOK, out)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, _ := shared.PrincipalFromContext(r.Context())
	out, err := h.service.Cancel(r.Context(), p, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, out)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid pending action id", nil)
		return uuid.Nil, false
	}
	return id, true
}

// failOutcome reports an execution failure together with the record it left
// behind.
func (h *Handler) failOutcome(w http.ResponseWriter, out Outcome, err error) {
	var ee *ExecutionError
	if errors.As(err, &ee) && out.Action.ID != uuid.Nil {
		res := ResultFromError(err)
		res.Data = out.Action
		httpx.JSON(w, httpx.StatusFor(err), res)
		return
	}
	h.fail(w, err)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !shared.IsUserFacing(err) {
		h.logger.Error("pending action request failed", slog.Any("error", err))
	}
	httpx.JSON(w, httpx.StatusFor(err), ResultFromError(err))
}
