package rbac

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/shared"
)

// Middleware wires capability checks into HTTP routes.
type Middleware struct {
	Service *Service
}

// Require ensures the caller can perform action on subject in general.
// Anonymous callers are rejected with 401, everyone else without the
// capability with 403.
func (m Middleware) Require(action Action, subject Subject) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated, shared.ErrUnauthenticated.Error())
				return
			}
			if !m.Service.AbilityFor(r.Context(), p).Can(action, subject) {
				m.Service.denied(p, action, subject)
				httpx.RespondError(w, shared.ErrUnauthorized, shared.ErrUnauthorized.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireInTenant ensures the caller can perform action on subject inside
// the tenant named by the URL parameter param.
func (m Middleware) RequireInTenant(action Action, subject Subject, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated, shared.ErrUnauthenticated.Error())
				return
			}
			tenantID, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
			if err != nil || tenantID <= 0 {
				httpx.Fail(w, http.StatusBadRequest, "invalid tenant id", nil)
				return
			}
			if _, err := m.Service.Authorize(r.Context(), p, action, InTenant(subject, tenantID)); err != nil {
				httpx.RespondError(w, err, shared.UserSafeMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated rejects anonymous requests.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.PrincipalFromContext(r.Context()); !ok {
			httpx.RespondError(w, shared.ErrUnauthenticated, shared.ErrUnauthenticated.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
