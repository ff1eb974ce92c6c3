package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/auth"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/enum"
)

// LocationStore resolves locations for tenant-scoped access checks.
type LocationStore interface {
	GetLocation(ctx context.Context, id uuid.UUID) (database.Location, error)
}

type contextKey string

const claimsKey contextKey = "claims"

func Authenticate(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization format"})
				return
			}

			claims, err := auth.ValidateToken(jwtSecret, parts[1])
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireLocation rejects requests whose {lid} path segment does not
// match the caller's credential. OWNER can access any location of its
// own tenant, verified against the locations table; every other role is
// pinned to the location in its token.
func RequireLocation(store LocationStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
				return
			}

			lidStr := chi.URLParam(r, "lid")
			if lidStr == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing location ID"})
				return
			}

			lid, err := uuid.Parse(lidStr)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid location ID"})
				return
			}

			if claims.Role == enum.UserRoleOwner {
				loc, err := store.GetLocation(r.Context(), lid)
				switch {
				case errors.Is(err, pgx.ErrNoRows):
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "location not found"})
					return
				case err != nil:
					logrus.WithError(err).Error("resolve location")
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
					return
				case loc.TenantID != claims.TenantID:
					writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied for this location"})
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if claims.LocationID != lid {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied for this location"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
				return
			}

			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeJSON(w, http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
		})
	}
}

func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// ContextWithClaims is used by tests to inject claims directly.
func ContextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
