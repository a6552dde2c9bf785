package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/lendflow/lendflow/internal/shared"
)

// Authenticate resolves the bearer token into a principal on the request
// context. Requests without a valid token continue anonymously.
func Authenticate(tokens *TokenIssuer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			p, err := tokens.Parse(raw)
			if err != nil {
				if logger != nil {
					logger.Debug("auth: rejected bearer token", slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
