package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// OAuthProxyConfig binds the broker's OAuth surface to the upstream IdP it
// fronts (spec §4.2's "OAuth proxy"). SERVER_BASE_URL feeds Metadata's
// published URLs.
type OAuthProxyConfig struct {
	ServerBaseURL    string
	UpstreamIssuer   string // e.g. https://login.microsoftonline.com/<tenant>/v2.0
	UpstreamAuthorize string
	UpstreamToken    string
	IdPClientID      string
	IdPClientSecret  string
	// StaticClients are pre-seeded (the broker itself, plus known redirect
	// URIs) and never expire.
	StaticClients []ClientRegistration
}

// ClientRegistration is one OAuth client record, static or dynamically
// registered.
type ClientRegistration struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret,omitempty"`
	RedirectURIs []string  `json:"redirect_uris"`
	ClientName   string    `json:"client_name,omitempty"`
	CreatedAt    time.Time `json:"client_id_issued_at"`
}

// OAuthProxy serves the well-known metadata, authorize/token forwarding,
// and dynamic client registration endpoints. Local PKCE validation is
// skipped deliberately (spec §4.2: "Local PKCE validation is skipped
// because the IdP enforces it") — the broker forwards the code_challenge
// untouched and lets the upstream IdP do the verifying.
type OAuthProxy struct {
	cfg OAuthProxyConfig

	mu      sync.RWMutex
	clients map[string]ClientRegistration // in-memory dynamic-registration store
}

// NewOAuthProxy seeds the in-memory client store with cfg.StaticClients.
func NewOAuthProxy(cfg OAuthProxyConfig) *OAuthProxy {
	p := &OAuthProxy{cfg: cfg, clients: make(map[string]ClientRegistration)}
	for _, c := range cfg.StaticClients {
		p.clients[c.ClientID] = c
	}
	return p
}

// Metadata serves /.well-known/oauth-authorization-server, pointing at this
// broker's own authorize/token/register endpoints while keeping the
// upstream issuer identity.
func (p *OAuthProxy) Metadata(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimSuffix(p.cfg.ServerBaseURL, "/")
	doc := map[string]any{
		"issuer":                                p.cfg.UpstreamIssuer,
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/token",
		"registration_endpoint":                 base + "/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
	}
	writeJSON(w, http.StatusOK, doc)
}

// Authorize 302-redirects to the upstream IdP's own authorize endpoint,
// passing every query parameter through unmodified (including
// code_challenge/code_challenge_method, since PKCE verification happens
// upstream).
func (p *OAuthProxy) Authorize(w http.ResponseWriter, r *http.Request) {
	target := p.cfg.UpstreamAuthorize + "?" + r.URL.RawQuery
	http.Redirect(w, r, target, http.StatusFound)
}

// Token forwards a token exchange to the upstream IdP, substituting the
// broker's own IdP client secret when the caller is a dynamically
// registered client authenticating with "none" (public-client PKCE flow).
func (p *OAuthProxy) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	form := url.Values{}
	for k, v := range r.Form {
		form[k] = v
	}
	if form.Get("client_secret") == "" {
		form.Set("client_id", p.cfg.IdPClientID)
		form.Set("client_secret", p.cfg.IdPClientSecret)
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.cfg.UpstreamToken, strings.NewReader(form.Encode()))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream_unreachable"})
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream_unreachable"})
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// registerRequest is the RFC 7591 dynamic client registration request body,
// trimmed to the fields this broker actually reads.
type registerRequest struct {
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name"`
}

// Register implements dynamic client registration: assigns a fresh client
// id, reuses the broker's own IdP secret for the downstream exchange (the
// dynamic client never gets its own upstream credential), and persists the
// record in-memory (spec §4.2).
func (p *OAuthProxy) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.RedirectURIs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client_metadata"})
		return
	}

	clientID, err := randomID()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	reg := ClientRegistration{
		ClientID:     clientID,
		ClientSecret: p.cfg.IdPClientSecret,
		RedirectURIs: req.RedirectURIs,
		ClientName:   req.ClientName,
		CreatedAt:    time.Now(),
	}

	p.mu.Lock()
	p.clients[clientID] = reg
	p.mu.Unlock()

	writeJSON(w, http.StatusCreated, reg)
}

// Clients returns every known client (static + dynamically registered),
// for diagnostics.
func (p *OAuthProxy) Clients() []ClientRegistration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ClientRegistration, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, c)
	}
	return out
}

func randomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
