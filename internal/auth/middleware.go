package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// Authenticate requires a valid, unrevoked bearer token and stores the
// principal in the request context. Requests without one are rejected.
func Authenticate(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tip-erp"`)
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
				return
			}
			p, err := service.Verify(r.Context(), raw)
			if err != nil {
				if !errors.Is(err, httpx.ErrUnauthorized) && logger != nil {
					logger.Error("verify token", slog.Any("error", err))
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="tip-erp", error="invalid_token"`)
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
