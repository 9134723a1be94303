package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testProxy() *OAuthProxy {
	return NewOAuthProxy(OAuthProxyConfig{
		ServerBaseURL:     "https://broker.example",
		UpstreamIssuer:    "https://login.microsoftonline.com/tenant/v2.0",
		UpstreamAuthorize: "https://login.microsoftonline.com/tenant/oauth2/v2.0/authorize",
		UpstreamToken:     "https://login.microsoftonline.com/tenant/oauth2/v2.0/token",
		IdPClientID:       "broker-client-id",
		IdPClientSecret:   "broker-client-secret",
		StaticClients: []ClientRegistration{
			{ClientID: "broker-client-id", RedirectURIs: []string{"https://broker.example/callback"}},
		},
	})
}

func TestOAuthMetadataPointsAtBrokerEndpoints(t *testing.T) {
	p := testProxy()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	w := httptest.NewRecorder()

	p.Metadata(w, req)

	var doc map[string]any
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["authorization_endpoint"] != "https://broker.example/authorize" {
		t.Errorf("authorization_endpoint = %v", doc["authorization_endpoint"])
	}
	if doc["issuer"] != "https://login.microsoftonline.com/tenant/v2.0" {
		t.Errorf("issuer = %v", doc["issuer"])
	}
}

func TestOAuthAuthorizeRedirectsToUpstream(t *testing.T) {
	p := testProxy()
	req := httptest.NewRequest(http.MethodGet, "/authorize?client_id=abc&code_challenge=xyz&code_challenge_method=S256", nil)
	w := httptest.NewRecorder()

	p.Authorize(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	loc := w.Header().Get("Location")
	if loc == "" {
		t.Fatal("missing Location header")
	}
}

func TestOAuthRegisterAssignsFreshClientAndPersists(t *testing.T) {
	p := testProxy()
	body, _ := json.Marshal(registerRequest{
		RedirectURIs: []string{"https://client.example/callback"},
		ClientName:   "test client",
	})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	w := httptest.NewRecorder()

	p.Register(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var reg ClientRegistration
	if err := json.NewDecoder(w.Body).Decode(&reg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reg.ClientID == "" {
		t.Fatal("expected a fresh client id")
	}
	if reg.ClientSecret != "broker-client-secret" {
		t.Errorf("ClientSecret = %q, want the broker's own IdP secret reused", reg.ClientSecret)
	}

	clients := p.Clients()
	found := false
	for _, c := range clients {
		if c.ClientID == reg.ClientID {
			found = true
		}
	}
	if !found {
		t.Fatal("registered client not present in Clients()")
	}
	// The pre-seeded static client must still be there alongside the new one.
	if len(clients) != 2 {
		t.Fatalf("len(clients) = %d, want 2 (1 static + 1 dynamic)", len(clients))
	}
}

func TestOAuthRegisterRejectsMissingRedirectURIs(t *testing.T) {
	p := testProxy()
	body, _ := json.Marshal(registerRequest{ClientName: "no redirects"})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	w := httptest.NewRecorder()

	p.Register(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
