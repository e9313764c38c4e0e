// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
)

// User roles
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Principal is the authenticated caller. Every query a handler runs is
// scoped to SystemID.
type Principal struct {
	UserID   string
	SystemID string
	Role     string
}

type principalCtxKey struct{}

// WithPrincipal stores the caller in ctx. Handler tests use it to skip
// token validation.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = logging.WithSystemID(ctx, p.SystemID)
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFrom returns the caller stored by RequireAuth.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}

// BearerToken reads the token from the Authorization header, falling back
// to the "token" query parameter used by browser websocket clients.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// RequireAuth validates the bearer token and loads the user it names.
func RequireAuth(db *sql.DB, secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			ErrorResponse(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		userID, err := auth.ParseToken(token, secret)
		if err != nil {
			ErrorResponse(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		p := Principal{UserID: userID}
		err = db.QueryRowContext(r.Context(),
			"SELECT system_id, role FROM app_user WHERE id = $1", userID).
			Scan(&p.SystemID, &p.Role)
		if errors.Is(err, sql.ErrNoRows) {
			ErrorResponse(w, http.StatusUnauthorized, "Unknown user")
			return
		}
		if err != nil {
			logging.FromContext(r.Context()).Error(r.Context(), "failed to load user", zap.Error(err))
			ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}

		next(w, r.WithContext(WithPrincipal(r.Context(), p)))
	}
}

// RequireRole rejects callers without the given role. It must run inside
// RequireAuth.
func RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			ErrorResponse(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if p.Role != role {
			ErrorResponse(w, http.StatusForbidden, "Requires role "+role)
			return
		}
		next(w, r)
	}
}
