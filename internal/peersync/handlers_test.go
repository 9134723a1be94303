package peersync

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/darbotlabs/browser-broker/internal/types"
)

func newTestMux(t *testing.T) (*http.ServeMux, *fakeArchiveStore) {
	t.Helper()
	m, store := newTestManager(t)
	mux := http.NewServeMux()
	m.Routes(mux)
	return mux, store
}

func TestHandleIndexReturnsEntries(t *testing.T) {
	mux, store := newTestMux(t)
	archive := checksummed("profile-a", 3, time.Now(), types.StorageState{})
	if err := store.PutArchive(archive); err != nil {
		t.Fatalf("PutArchive: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sync/index", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var entries []types.SyncIndexEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "profile-a" || entries[0].Version != 3 {
		t.Errorf("unexpected index entries: %+v", entries)
	}
}

func TestHandleDownloadMissingReturnsNotFound(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/sync/sessions/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleDownloadReturnsArchive(t *testing.T) {
	mux, store := newTestMux(t)
	archive := checksummed("profile-a", 1, time.Now(), types.StorageState{})
	if err := store.PutArchive(archive); err != nil {
		t.Fatalf("PutArchive: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sync/sessions/profile-a", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got types.SessionArchive
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Profile.Name != "profile-a" {
		t.Errorf("expected profile-a, got %q", got.Profile.Name)
	}
}

func TestHandleUploadAppliesValidArchive(t *testing.T) {
	mux, store := newTestMux(t)
	archive := checksummed("profile-a", 1, time.Now(), types.StorageState{})
	body, err := json.Marshal(archive)
	if err != nil {
		t.Fatalf("marshal archive: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/sync/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := store.GetArchive("profile-a"); err != nil {
		t.Errorf("expected archive stored, got error %v", err)
	}
}

func TestHandleUploadRejectsChecksumMismatch(t *testing.T) {
	mux, _ := newTestMux(t)
	archive := checksummed("profile-a", 1, time.Now(), types.StorageState{})
	archive.Profile.Checksum = "tampered"
	body, err := json.Marshal(archive)
	if err != nil {
		t.Fatalf("marshal archive: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/sync/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestHandleUploadRejectsMalformedBody(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/sync/sessions", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
