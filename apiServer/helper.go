package apiServer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var errNotLoopback = errors.New("client is not on a loopback address")

func writeJSON(w http.ResponseWriter, status int, payload any) { // A
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func allowAll(*http.Request) error { return nil }

// LoopbackOnly rejects clients that do not connect from a loopback address.
func LoopbackOnly(r *http.Request) error { // A
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return errNotLoopback
	}
	return nil
}

func WithLogger(logger *slog.Logger) Option { // HC
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithAuth(auth AuthFunc) Option { // HC
	return func(s *Server) {
		if auth != nil {
			s.auth = auth
		}
	}
}

// WithRateLimit limits each client address to perSecond requests with the
// given burst. Websocket messages count against the same budget.
func WithRateLimit(perSecond float64, burst int) Option { // HC
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.limiter = newMultiLimiter(rate.Limit(perSecond), burst, 10*time.Minute)
		}
	}
}

type multiLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	entries map[string]*limBucket
}

type limBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newMultiLimiter(limit rate.Limit, burst int, ttl time.Duration) *multiLimiter {
	return &multiLimiter{
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		entries: make(map[string]*limBucket),
	}
}

func (m *multiLimiter) allow(key string) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.entries[key]
	if b == nil {
		b = &limBucket{lim: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = b
	}
	b.lastSeen = now

	for k, v := range m.entries {
		if now.Sub(v.lastSeen) > m.ttl {
			delete(m.entries, k)
		}
	}
	return b.lim.AllowN(now, 1)
}

// isTopLevelNavigation reports whether the browser marked r as a document
// navigation. Pages cannot set Sec-Fetch headers on their own requests.
func isTopLevelNavigation(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "navigate" &&
		r.Header.Get("Sec-Fetch-Dest") == "document"
}

// isBrowserWebSocket reports whether the browser marked r as a websocket
// handshake, which makes its Origin header trustworthy.
func isBrowserWebSocket(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "websocket"
}

// clientIP uses the socket address; X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
