package httpapp

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// ClientKey identifies the caller for rate limiting: the first
// X-Forwarded-For entry, else the remote address without port.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects requests over the per-client limit with 429 and reports
// the window state in X-RateLimit headers.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		d, err := h.Limiter.Allow(r.Context(), ClientKey(r))
		hdr := w.Header()
		hdr.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		hdr.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if err != nil {
			if d.RetryAfter > 0 {
				hdr.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			}
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
