// Package transport implements the broker's two wire shapes over one
// listener (spec §4.1/§6): a primary POST /rpc channel that silently
// recreates unknown sessions, and a legacy GET+POST /events channel that
// 404s on an unknown session id. Both sit behind the same auth fan-in and
// middleware chain; health/ready/live/openapi and the OAuth proxy endpoints
// stay public. Grounded on the teacher's internal/handlers (routing,
// buffered JSON responses) and internal/middleware (CORS, recovery,
// logging, rate limit, timeout), generalized from FlareSolverr's
// single-shape JSON-over-POST API to the broker's dual-shape RPC surface.
// Deliberately hand-rolled rather than built on mark3labs/mcp-go's server
// package (see DESIGN.md) — only the mcp schema/content types are reused.
package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darbotlabs/browser-broker/internal/auth"
	"github.com/darbotlabs/browser-broker/internal/middleware"
	"github.com/darbotlabs/browser-broker/internal/session"
	"github.com/darbotlabs/browser-broker/internal/tools"
)

// Server wires the session manager, tool dispatcher, authenticator, and
// OAuth proxy into one http.Handler.
type Server struct {
	Sessions    *session.Manager
	Dispatcher  *tools.Dispatcher
	Auth        *auth.Authenticator
	OAuth       *auth.OAuthProxy // nil disables the OAuth proxy endpoints
	Events      *eventHub
	StartedAt   time.Time
	MaxSessions int

	// CORSAllowedOrigins restricts Access-Control-Allow-Origin when set.
	// Spec §4.1 calls CORS "permissive" by default (empty allow-list means
	// answering "*" rather than the teacher's secure-default reject — see
	// DESIGN.md for this deliberate deviation).
	CORSAllowedOrigins []string

	// RateLimitRPM/TrustProxy feed the teacher's per-IP token-bucket
	// limiter; 0 disables it. RequestTimeout feeds the teacher's
	// deadline-enforcing middleware; 0 disables it (the per-RPC deadline
	// still comes from the request context per spec §5).
	RateLimitRPM   int
	TrustProxy     bool
	RequestTimeout time.Duration
}

// New builds a ready-to-use Server.
func New(sessions *session.Manager, dispatcher *tools.Dispatcher, authenticator *auth.Authenticator, oauth *auth.OAuthProxy, maxSessions int) *Server {
	return &Server{
		Sessions:    sessions,
		Dispatcher:  dispatcher,
		Auth:        authenticator,
		OAuth:       oauth,
		Events:      newEventHub(),
		StartedAt:   time.Now(),
		MaxSessions: maxSessions,
	}
}

// Handler builds the full middleware chain over the routed mux, following
// the teacher's outermost-recovery-innermost-auth layering from
// cmd/flaresolverr/main.go.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /openapi", s.handleOpenAPI)

	if s.OAuth != nil {
		mux.HandleFunc("GET /.well-known/oauth-authorization-server", s.OAuth.Metadata)
		mux.HandleFunc("GET /authorize", s.OAuth.Authorize)
		mux.HandleFunc("POST /token", s.OAuth.Token)
		mux.HandleFunc("POST /register", s.OAuth.Register)
	}

	protected := http.NewServeMux()
	protected.HandleFunc("POST /rpc", s.handleRPC)
	protected.HandleFunc("GET /events", s.handleEventsGet)
	protected.HandleFunc("POST /events", s.handleEventsPost)
	mux.Handle("/rpc", s.Auth.Middleware(protected))
	mux.Handle("/events", s.Auth.Middleware(protected))

	mws := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.Logging,
		middleware.SecurityHeaders,
		permissiveCORS(s.CORSAllowedOrigins),
	}
	if s.RateLimitRPM > 0 {
		rl := middleware.NewRateLimitMiddleware(s.RateLimitRPM, s.TrustProxy)
		mws = append(mws, rl.Handler())
	}
	if s.RequestTimeout > 0 {
		mws = append(mws, middleware.Timeout(s.RequestTimeout))
	}
	return middleware.Chain(mws...)(mux)
}

// permissiveCORS mirrors the teacher's middleware.CORS shape but defaults
// open (spec §4.1: "CORS is permissive") instead of the teacher's
// secure-default reject, answering Access-Control-Allow-Origin "*" when no
// allow-list is configured and always answering OPTIONS with 204 (with the
// advertised headers unless the Origin is outside a configured allow-list).
func permissiveCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowedSet[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowOrigin := "*"
			if len(allowedSet) > 0 {
				if _, ok := allowedSet[origin]; ok {
					allowOrigin = origin
				} else {
					allowOrigin = ""
				}
			}
			if allowOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Tunnel-Identity, X-Session-Id")
				w.Header().Set("Access-Control-Expose-Headers", "X-Session-Id")
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseBufferPool buffers JSON encoding so a marshal failure never
// leaves a partial body on the wire, following the teacher's
// writeJSONResponse/handlers/pools.go pattern.
var responseBufferPool = sync.Pool{
	New: func() interface{} { return bytes.NewBuffer(make([]byte, 0, 4096)) },
}

const maxPooledBufferCap = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, v any) {
	buf, _ := responseBufferPool.Get().(*bytes.Buffer)
	defer func() {
		if buf.Cap() > maxPooledBufferCap {
			return
		}
		buf.Reset()
		responseBufferPool.Put(buf)
	}()

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("transport: failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
