package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"tinadmin.org/internal/auth"
	"tinadmin.org/internal/tenant"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth requires a valid bearer token and attaches its subject to the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), claims.Subject)))
	})
}

// withTenant resolves the active tenant and rewrites the tenant headers for
// downstream handlers.
func (a *API) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserIDFromContext(r.Context())
		res := a.resolver.Resolve(r.Context(), tenant.RequestFromHTTP(r, userID))
		r = tenant.Propagate(r, res)
		w.Header().Set(tenant.HeaderTenantSource, string(res.Source))
		if res.HasTenant() {
			w.Header().Set(tenant.HeaderTenantID, res.TenantID)
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
