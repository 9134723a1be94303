package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/darbotlabs/browser-broker/internal/types"
)

func TestAuthenticateAnonymousWhenAllowed(t *testing.T) {
	a := New(Config{AllowAnonymous: true})
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)

	p, err := a.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Method != "anonymous" {
		t.Errorf("Method = %q, want anonymous", p.Method)
	}
}

func TestAuthenticateFailsWithNoMethodEnabled(t *testing.T) {
	a := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)

	_, err := a.Authenticate(req.Context(), req)
	ke, ok := err.(*types.KindError)
	if !ok {
		t.Fatalf("err is not *KindError: %v", err)
	}
	if ke.Kind != types.KindUnauthorized {
		t.Errorf("Kind = %q, want Unauthorized", ke.Kind)
	}
}

func TestAuthenticateTunnelRequiresAllowlistAndHeader(t *testing.T) {
	a := New(Config{Tunnel: TunnelConfig{Enabled: true, AllowedDomains: []string{".trusted.example"}}})

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.Host = "broker.trusted.example"
	if _, err := a.Authenticate(req.Context(), req); err == nil {
		t.Fatal("expected failure without identity header")
	}

	req.Header.Set("X-Tunnel-Identity", "user-42")
	p, err := a.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Method != "tunnel" || p.ID != "user-42" {
		t.Errorf("got %+v", p)
	}

	untrusted := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	untrusted.Host = "evil.example"
	untrusted.Header.Set("X-Tunnel-Identity", "user-42")
	if _, err := a.Authenticate(untrusted.Context(), untrusted); err == nil {
		t.Fatal("expected failure from a non-allowlisted host")
	}
}

func TestAuthenticateSharedSecret(t *testing.T) {
	a := New(Config{SharedSecret: SharedSecretConfig{Enabled: true, Keys: []string{"correct-horse"}}})

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.Header.Set("X-API-Key", "wrong")
	if _, err := a.Authenticate(req.Context(), req); err == nil {
		t.Fatal("expected failure with wrong key")
	}

	req.Header.Set("X-API-Key", "correct-horse")
	p, err := a.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Method != "shared-secret" {
		t.Errorf("Method = %q, want shared-secret", p.Method)
	}
}

func TestRoleGateRejectsMissingRole(t *testing.T) {
	a := New(Config{
		SharedSecret:  SharedSecretConfig{Enabled: true, Keys: []string{"k"}},
		RequiredRoles: []string{"admin"},
	})
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.Header.Set("X-API-Key", "k")

	_, err := a.Authenticate(req.Context(), req)
	ke, ok := err.(*types.KindError)
	if !ok || ke.Kind != types.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestAuthenticateJWTValidTokenExtractsClaims(t *testing.T) {
	secret := []byte("test-signing-key")
	const tenant = "11111111-1111-1111-1111-111111111111"
	const clientID = "22222222-2222-2222-2222-222222222222"

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://login.microsoftonline.com/" + tenant + "/v2.0",
			Audience:  jwt.ClaimStrings{clientID},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		ObjectID: "user-obj-id",
		TenantID: tenant,
		Roles:    []string{"crawler"},
		Scopes:   "sessions.write",
	})
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	a := New(Config{JWT: JWTConfig{
		Enabled:  true,
		TenantID: tenant,
		ClientID: clientID,
		Keyfunc:  func(*jwt.Token) (any, error) { return secret, nil },
	}})

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	p, err := a.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Method != "jwt" || p.ID != "user-obj-id" || p.Tenant != tenant {
		t.Fatalf("got %+v", p)
	}
	if len(p.Roles) != 1 || p.Roles[0] != "crawler" {
		t.Fatalf("Roles = %v", p.Roles)
	}
}

func TestFanInOrderTunnelBeatsSharedSecret(t *testing.T) {
	a := New(Config{
		Tunnel:       TunnelConfig{Enabled: true, AllowedDomains: []string{".trusted.example"}},
		SharedSecret: SharedSecretConfig{Enabled: true, Keys: []string{"k"}},
	})
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.Host = "broker.trusted.example"
	req.Header.Set("X-Tunnel-Identity", "tunnel-user")
	req.Header.Set("X-API-Key", "k")

	p, err := a.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Method != "tunnel" {
		t.Errorf("Method = %q, want tunnel (first match wins)", p.Method)
	}
}
