package coordinator

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// middleware applies CORS and optional per-client-IP rate limiting to
// the whole public surface.
type middleware struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newMiddleware(rps float64, burst int) *middleware {
	return &middleware{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (m *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if m.limit > 0 && !m.allow(clientAddr(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *middleware) allow(clientIP string) bool {
	m.mu.Lock()
	limiter, ok := m.limiters[clientIP]
	if !ok {
		limiter = rate.NewLimiter(m.limit, m.burst)
		m.limiters[clientIP] = limiter
		// Unbounded growth guard for long-lived processes.
		if len(m.limiters) > 10000 {
			m.limiters = map[string]*rate.Limiter{clientIP: limiter}
		}
	}
	m.mu.Unlock()
	return limiter.Allow()
}

// setCORS emits a permissive cross-origin policy. Workers and browsers
// reach the coordinator through tunnels from arbitrary origins.
func setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Set("Access-Control-Max-Age", "86400")
}

// clientAddr extracts the originating client IP.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// appendForwarded adds the standard proxy headers on an outbound hop.
func appendForwarded(h http.Header, clientIP string) {
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		h.Set("X-Forwarded-For", clientIP)
	}
	if h.Get("X-Real-IP") == "" {
		h.Set("X-Real-IP", clientIP)
	}
}
