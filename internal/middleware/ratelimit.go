package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/sakif/promptr-access/internal/metrics"
	"github.com/sakif/promptr-access/internal/ratelimit"
)

// RateLimit counts requests per client against limiter. Store failures let
// the request through.
func RateLimit(limiter *ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.ClientKey(r)

			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				metrics.RateLimitStoreErrors.WithLabelValues(limiter.Name()).Inc()
				logger.Error("rate limiter unavailable, allowing request",
					slog.String("limiter", limiter.Name()),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				metrics.RateLimitRejections.WithLabelValues(limiter.Name()).Inc()
				logger.Warn("rate limit exceeded",
					slog.String("limiter", limiter.Name()),
					slog.String("client", key),
					slog.String("path", r.URL.Path),
				)
				// Rounded up: a client waiting exactly this long must find the window over.
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
