package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/rbac"
	"github.com/lendflow/lendflow/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: shared.NewValidator()}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/activate", h.handleActivate)
	r.With(rbac.RequireAuthenticated).Post("/context", h.handleSwitchContext)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := shared.ValidateStruct(h.validator, form); err != nil {
		h.fail(w, err)
		return
	}
	session, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, session)
}

func (h *Handler) handleSwitchContext(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	var in SelectInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	session, err := h.service.SwitchContext(r.Context(), p, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, session)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	var in ActivateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := shared.ValidateStruct(h.validator, in); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.service.Activate(r.Context(), in); err != nil {
		h.fail(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]bool{"activated": true})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !shared.IsUserFacing(err) {
		h.logger.Error("auth request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err, shared.UserSafeMessage(err))
}
