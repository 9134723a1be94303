package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/darbotlabs/browser-broker/internal/auth"
	"github.com/darbotlabs/browser-broker/internal/driver"
	"github.com/darbotlabs/browser-broker/internal/session"
	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/tools/navigate"
	"github.com/darbotlabs/browser-broker/internal/transport"
	"github.com/darbotlabs/browser-broker/internal/types"
)

type stubProfiles struct{}

func (stubProfiles) Save(ctx context.Context, name string, state types.StorageState, url, title string) (types.SavedSession, error) {
	return types.SavedSession{}, nil
}
func (stubProfiles) Switch(ctx context.Context, name string) (types.SavedSession, types.StorageState, error) {
	return types.SavedSession{}, types.StorageState{}, nil
}
func (stubProfiles) List(ctx context.Context) ([]types.SavedSession, error) { return nil, nil }
func (stubProfiles) Delete(ctx context.Context, name string) error          { return nil }

type stubCrawl struct{}

func (stubCrawl) Start(ctx context.Context, sessionID, startURL, goal string, maxDepth, maxPages int) (*types.CrawlSession, error) {
	return nil, nil
}
func (stubCrawl) Cancel(ctx context.Context, sessionID string) error { return nil }
func (stubCrawl) Status(ctx context.Context, sessionID string) (*types.CrawlSession, error) {
	return nil, nil
}
func (stubCrawl) ConfigureMemory(ctx context.Context, maxStates int, backend string) error {
	return nil
}

func newTestServer(t *testing.T) *transport.Server {
	t.Helper()
	reg := tools.NewRegistry()
	navigate.Register(reg)
	mgr := session.NewManager(driver.NewMockDriver(), 10, time.Hour, time.Hour)
	dispatcher := tools.NewDispatcher(reg, mgr, stubProfiles{}, stubCrawl{})
	authenticator := auth.New(auth.Config{AllowAnonymous: true})
	return transport.New(mgr, dispatcher, authenticator, nil, 10)
}

func TestHealthReadyLive(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	for _, path := range []string{"/health", "/ready", "/live"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", path, w.Code)
		}
	}
}

func TestOpenAPIListsRegisteredTools(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/openapi", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var doc map[string]any
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	toolList, ok := doc["tools"].([]any)
	if !ok || len(toolList) == 0 {
		t.Fatalf("expected a non-empty tools list, got %v", doc["tools"])
	}
}

func TestRPCInitializeAllocatesSessionHeader(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Session-Id") == "" {
		t.Fatal("expected X-Session-Id header on session creation")
	}
}

func TestRPCUnknownSessionSilentlyRecreates(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("X-Session-Id", "does-not-exist-yet")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (silent recreate), got body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Session-Id"); got == "" {
		t.Fatal("expected X-Session-Id on the silently created session")
	}
}

func TestEventsGet404sOnUnknownSession(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/events?sessionId=nope", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestEventsPost404sOnUnknownSession(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/events?sessionId=nope", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestOAuthEndpointsAbsentWithoutProxy(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when no OAuth proxy is wired", w.Code)
	}
}
