package middlewares

import (
	"net/http"
	"runtime/debug"

	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/observability/logger"
)

// WithRecover turns panics into 500s instead of killing the server.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.From(r.Context()).Error("panic recovered",
						logger.Any("panic", rec),
						logger.String("stack", string(debug.Stack())),
					)
					helpers.WriteError(w, helpers.ErrInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
