package ratelimit

import (
	"net/http"
	"strconv"
)

const deniedBody = `{"detail": "Rate limit exceeded"}` + "\n"

// Middleware enforces rules ahead of next. Every response carries the
// X-RateLimit-* headers; a denial short-circuits with 429 and a JSON body.
// Callers only ever see 429 on a genuine admission denial — limiter
// infrastructure failures admit the request.
func (l *Limiter) Middleware(rules *RuleSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket, rule := rules.Match(r.URL.Path)
			key := ClientKey(r) + ":" + bucket

			allowed, info := l.Allow(r.Context(), key, rule)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))
			h.Set("X-RateLimit-Window", strconv.Itoa(int(info.Window.Seconds())))

			if !allowed {
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(deniedBody))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
