package middlewares

import (
	"net/http"
	"strconv"

	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/rate"
)

// WithRateLimit gates one endpoint class. The blacklist check runs
// first so banned IPs never consume limiter state; then the combined
// window/bucket decision applies. Denials carry Retry-After and the
// X-RateLimit-* headers; blacklisted IPs get a 403 instead of a 429.
func WithRateLimit(limiter *rate.Service, lt rate.LimitType) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := helpers.ClientIP(r)
			userID := GetUserID(r.Context())

			if banned, reason := limiter.IsBlacklisted(r.Context(), ip); banned {
				limiter.RecordBlacklistHit(r.Context(), ip, reason)
				helpers.WriteError(w, helpers.ErrForbidden.WithDetail("ip blacklisted"))
				return
			}

			d := limiter.Check(r.Context(), rate.Request{
				ClientIP:  ip,
				UserID:    userID,
				LimitType: lt,
			})
			helpers.SetRateHeaders(w, d.Limit, d.Remaining, d.ResetAt)
			if !d.Allowed {
				if secs := int(d.RetryAfter.Seconds() + 0.999); secs > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				helpers.WriteError(w, helpers.ErrTooManyRequests.WithDetail(d.Reason))
				return
			}

			// feed the async abuse detector; never blocks the request
			limiter.ObserveRequest(ip, userID)

			next.ServeHTTP(w, r)
		})
	}
}
