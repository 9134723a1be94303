// Package auth implements the broker's authentication fan-in (spec §4.2):
// a fixed-order chain of methods — trusted tunnel, bearer JWT, managed
// identity, shared secret, anonymous — stopping at the first success, plus
// a role gate over the resulting Principal. Grounded on the teacher's
// internal/middleware/apikey.go for constant-time shared-secret comparison
// and estuary-flow's use of golang-jwt/jwt/v5 for the bearer method.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/darbotlabs/browser-broker/internal/metrics"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// Config holds the fan-in's settings, one field group per method, mirroring
// spec §6's env var table. Each method section's Enabled field switches
// that method on or off; an enabled bearer JWT section with a nil Keyfunc
// or an empty TenantID accepts no token.
type Config struct {
	Tunnel          TunnelConfig
	JWT             JWTConfig
	ManagedIdentity ManagedIdentityConfig
	SharedSecret    SharedSecretConfig
	AllowAnonymous  bool
	RequiredRoles   []string
}

// TunnelConfig matches TUNNEL_AUTH_ENABLED / TUNNEL_ALLOWED_DOMAINS / TRUST_PROXY.
type TunnelConfig struct {
	Enabled        bool
	AllowedDomains []string
	IdentityHeader string // default X-Tunnel-Identity
}

// JWTConfig matches ENTRA_AUTH_ENABLED / AZURE_TENANT_ID / AZURE_CLIENT_ID / AZURE_CLIENT_SECRET.
type JWTConfig struct {
	Enabled      bool
	TenantID     string
	ClientID     string
	ClientSecret string
	// Keyfunc resolves the signing key for a token; supplied by the
	// composition root once JWKS fetching is wired (out of scope here —
	// see DESIGN.md for why JWKS fetching itself stays unimplemented).
	Keyfunc jwt.Keyfunc
}

// ManagedIdentityConfig matches MANAGED_IDENTITY_ENABLED / AZURE_KEY_VAULT_URL.
type ManagedIdentityConfig struct {
	Enabled      bool
	KeyVaultURL  string
	TokenFetcher func(ctx context.Context) (identityType, identityID string, err error)
}

// SharedSecretConfig matches API_KEY_AUTH_ENABLED / API_KEYS.
type SharedSecretConfig struct {
	Enabled bool
	Keys    []string // compared in constant time
	Header  string   // default X-API-Key
}

// claims is the subset of an Entra-style JWT this broker extracts.
type claims struct {
	jwt.RegisteredClaims
	ObjectID string   `json:"oid"`
	TenantID string   `json:"tid"`
	Roles    []string `json:"roles"`
	Scopes   string   `json:"scp"`
}

// Authenticator runs the fan-in over incoming requests.
type Authenticator struct {
	cfg Config
}

// New builds an Authenticator, defaulting header names the way the
// teacher's APIKey middleware hardcodes X-API-Key.
func New(cfg Config) *Authenticator {
	if cfg.Tunnel.IdentityHeader == "" {
		cfg.Tunnel.IdentityHeader = "X-Tunnel-Identity"
	}
	if cfg.SharedSecret.Header == "" {
		cfg.SharedSecret.Header = "X-API-Key"
	}
	return &Authenticator{cfg: cfg}
}

// AdvertisedMethods lists the methods enabled for this broker, used in the
// structured 401 body when every method fails (spec §4.2).
func (a *Authenticator) AdvertisedMethods() []string {
	var out []string
	if a.cfg.Tunnel.Enabled {
		out = append(out, "tunnel")
	}
	if a.cfg.JWT.Enabled {
		out = append(out, "entra")
	}
	if a.cfg.ManagedIdentity.Enabled {
		out = append(out, "managed-identity")
	}
	if a.cfg.SharedSecret.Enabled {
		out = append(out, "shared-secret")
	}
	if a.cfg.AllowAnonymous {
		out = append(out, "anonymous")
	}
	return out
}

// Authenticate runs the fixed-order fan-in and, on success, checks the role
// gate. Returns *types.KindError with KindUnauthorized or KindForbidden on
// failure.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (types.Principal, error) {
	if p, ok := a.tryTunnel(r); ok {
		return a.gate(p)
	}
	if p, ok := a.tryJWT(ctx, r); ok {
		return a.gate(p)
	}
	if p, ok := a.tryManagedIdentity(ctx); ok {
		return a.gate(p)
	}
	if p, ok := a.trySharedSecret(r); ok {
		return a.gate(p)
	}
	if a.cfg.AllowAnonymous {
		return a.gate(types.Principal{Method: "anonymous"})
	}

	metrics.RecordAuthFailure("none")
	return types.Principal{}, types.NewKindErrorf(
		types.KindUnauthorized,
		"authentication required",
		strings.Join(a.AdvertisedMethods(), ", "),
		types.ErrUnauthorized,
	)
}

func (a *Authenticator) gate(p types.Principal) (types.Principal, error) {
	if !p.HasAnyRole(a.cfg.RequiredRoles) {
		metrics.RecordAuthFailure(p.Method)
		return types.Principal{}, types.NewKindErrorf(
			types.KindForbidden,
			"principal lacks a required role",
			strings.Join(a.cfg.RequiredRoles, ", "),
			types.ErrRoleForbidden,
		)
	}
	return p, nil
}

// tryTunnel mints a synthetic principal when the request's Host traverses an
// allow-listed tunnel domain and carries an upstream-identity header.
func (a *Authenticator) tryTunnel(r *http.Request) (types.Principal, bool) {
	if !a.cfg.Tunnel.Enabled {
		return types.Principal{}, false
	}
	host := r.Host
	matched := false
	for _, suffix := range a.cfg.Tunnel.AllowedDomains {
		if suffix != "" && strings.HasSuffix(host, suffix) {
			matched = true
			break
		}
	}
	if !matched {
		return types.Principal{}, false
	}
	id := r.Header.Get(a.cfg.Tunnel.IdentityHeader)
	if id == "" {
		return types.Principal{}, false
	}
	return types.Principal{Method: "tunnel", ID: id}, true
}

// tryJWT validates a bearer token against the configured tenant/client and
// extracts {sub|oid, tid, roles, scp}. Issuer/audience/nbf/exp checks follow
// spec §4.2 verbatim; cryptographic signature verification is delegated to
// Keyfunc (wired by the composition root against the tenant's JWKS).
func (a *Authenticator) tryJWT(ctx context.Context, r *http.Request) (types.Principal, bool) {
	if !a.cfg.JWT.Enabled || a.cfg.JWT.Keyfunc == nil {
		return types.Principal{}, false
	}
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return types.Principal{}, false
	}
	raw := strings.TrimPrefix(authz, prefix)

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, a.cfg.JWT.Keyfunc,
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		log.Debug().Err(err).Msg("auth: bearer JWT rejected")
		return types.Principal{}, false
	}

	if !validIssuer(c.Issuer, a.cfg.JWT.TenantID) {
		return types.Principal{}, false
	}
	if !validAudience(c.Audience, a.cfg.JWT.ClientID) {
		return types.Principal{}, false
	}

	sub := c.ObjectID
	if sub == "" {
		sub = c.Subject
	}
	var scopes []string
	if c.Scopes != "" {
		scopes = strings.Fields(c.Scopes)
	}
	return types.Principal{
		Method: "jwt",
		ID:     sub,
		Tenant: c.TenantID,
		Roles:  c.Roles,
		Scopes: scopes,
	}, true
}

func validIssuer(issuer, tenantID string) bool {
	if issuer == "" || tenantID == "" {
		return false
	}
	v2 := fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenantID)
	v1 := fmt.Sprintf("https://sts.windows.net/%s/", tenantID)
	return issuer == v2 || issuer == v1
}

func validAudience(audiences jwt.ClaimStrings, clientID string) bool {
	if clientID == "" {
		return false
	}
	want := [2]string{clientID, "api://" + clientID}
	for _, aud := range audiences {
		if aud == want[0] || aud == want[1] {
			return true
		}
	}
	return false
}

// tryManagedIdentity attempts to acquire a token from an ambient credential
// source (wired by the composition root; not modeled here since it talks to
// cloud-specific metadata endpoints out of this package's scope).
func (a *Authenticator) tryManagedIdentity(ctx context.Context) (types.Principal, bool) {
	if !a.cfg.ManagedIdentity.Enabled || a.cfg.ManagedIdentity.TokenFetcher == nil {
		return types.Principal{}, false
	}
	identityType, identityID, err := a.cfg.ManagedIdentity.TokenFetcher(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("auth: managed identity token fetch failed")
		return types.Principal{}, false
	}
	return types.Principal{Method: "managed-identity", ID: identityID, Roles: []string{identityType}}, true
}

// trySharedSecret compares the request's API key header against the
// configured set in constant time, following the teacher's
// internal/middleware/apikey.go pattern (hash-then-compare so comparison
// cost never depends on the provided key's length).
func (a *Authenticator) trySharedSecret(r *http.Request) (types.Principal, bool) {
	if !a.cfg.SharedSecret.Enabled || len(a.cfg.SharedSecret.Keys) == 0 {
		return types.Principal{}, false
	}
	provided := r.Header.Get(a.cfg.SharedSecret.Header)
	if provided == "" {
		return types.Principal{}, false
	}
	providedHash := sha256.Sum256([]byte(provided))
	for _, key := range a.cfg.SharedSecret.Keys {
		keyHash := sha256.Sum256([]byte(key))
		if subtle.ConstantTimeCompare(providedHash[:], keyHash[:]) == 1 {
			return types.Principal{Method: "shared-secret", ID: "shared-secret"}, true
		}
	}
	return types.Principal{}, false
}

// principalKey is the context.Context key type for the attached Principal.
type principalKey struct{}

// WithPrincipal attaches p to ctx for downstream handlers.
func WithPrincipal(ctx context.Context, p types.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext retrieves the Principal attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (types.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(types.Principal)
	return p, ok
}

// Middleware wraps an http.Handler with the authentication fan-in, attaching
// the resulting Principal to the request context before calling next.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r.Context(), r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	if ke, ok := err.(*types.KindError); ok && ke.Kind == types.KindForbidden {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, err.Error())
}
