// Package apiServer hosts both command transports over HTTP: GET /api
// answers URL-transport requests with a redirect to respondTo, and GET /ws
// carries the message transport over a websocket.
package apiServer

import (
	"log/slog"
	"net/http"

	"github.com/i5heu/seedgate/pkg/transport"
)

type AuthFunc func(r *http.Request) error

type Option func(*Server)

type Server struct {
	mux     *http.ServeMux
	handler *transport.Handler
	log     *slog.Logger
	auth    AuthFunc
	limiter *multiLimiter
}

func New(handler *transport.Handler, opts ...Option) *Server { // A
	s := &Server{
		mux:     http.NewServeMux(),
		handler: handler,
		log:     slog.Default(),
		auth:    allowAll,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *Server) routes() { // AC
	s.mux.HandleFunc("GET /api", s.handleURLRequest)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // AC
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)

	allowedHeaders := r.Header.Get("Access-Control-Request-Headers")
	if allowedHeaders == "" {
		allowedHeaders = "Content-Type, Accept"
	}
	w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
	w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Type, Content-Length")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
		s.log.Warn("rate limit exceeded", "client", clientIP(r))
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	if err := s.auth(r); err != nil {
		s.log.Warn("request rejected", "error", err)
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	s.mux.ServeHTTP(w, r)
}
