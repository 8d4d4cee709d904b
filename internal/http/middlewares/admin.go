package middlewares

import (
	"errors"
	"net/http"

	"github.com/streamgate/streamgate/internal/access"
	"github.com/streamgate/streamgate/internal/http/helpers"
)

// RequireAdmin gates the admin surface. Must run after RequireAuth.
func RequireAdmin(ac *access.Service) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := ac.RequireAdmin(r.Context(), GetUserID(r.Context()), helpers.ClientIP(r))
			if err != nil {
				if errors.Is(err, access.ErrPermissionDenied) {
					helpers.WriteError(w, helpers.ErrForbidden.WithPermission(access.PermAdmin))
					return
				}
				helpers.WriteError(w, helpers.ErrInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
