package state

import (
	"context"
	"errors"
	"testing"

	"github.com/darbotlabs/browser-broker/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "edge-1", "workspace-1", "node-1")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestSaveAssignsVersionOneOnFirstSave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, "My Profile", types.StorageState{}, "https://example.com", "Example")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Version != 1 {
		t.Errorf("expected version 1, got %d", saved.Version)
	}
	if saved.Name != "my-profile" {
		t.Errorf("expected sanitized name my-profile, got %q", saved.Name)
	}
	if saved.OriginNode != "node-1" {
		t.Errorf("expected origin node stamped, got %q", saved.OriginNode)
	}
	if saved.Checksum == "" {
		t.Error("expected a non-empty checksum")
	}
}

func TestSaveIncrementsVersionOnReSave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, "profile", types.StorageState{}, "https://a.example", "A")
	if err != nil {
		t.Fatalf("first Save: %v", err)
	}
	second, err := s.Save(ctx, "profile", types.StorageState{}, "https://b.example", "B")
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if second.Version != first.Version+1 {
		t.Errorf("expected version %d, got %d", first.Version+1, second.Version)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("expected CreatedAt to survive across re-saves")
	}
}

func TestSwitchRestoresProfileAndStorageState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	state := types.StorageState{Cookies: []types.Cookie{{Name: "sid", Value: "abc", Domain: "example.com"}}}

	if _, err := s.Save(ctx, "profile", state, "https://example.com", "Example"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	saved, restored, err := s.Switch(ctx, "profile")
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if saved.URL != "https://example.com" {
		t.Errorf("expected restored URL, got %q", saved.URL)
	}
	if len(restored.Cookies) != 1 || restored.Cookies[0].Name != "sid" {
		t.Errorf("expected restored cookie sid, got %+v", restored.Cookies)
	}
}

func TestSwitchUnknownProfileReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Switch(context.Background(), "nope"); !errors.Is(err, types.ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestListSortsByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := s.Save(ctx, name, types.StorageState{}, "", ""); err != nil {
			t.Fatalf("Save(%s): %v", name, err)
		}
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(list))
	}
	names := []string{list[0].Name, list[1].Name, list[2].Name}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected sorted names %v, got %v", want, names)
		}
	}
}

func TestDeleteRemovesProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Save(ctx, "temp", types.StorageState{}, "", ""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, "temp"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Switch(ctx, "temp"); !errors.Is(err, types.ErrProfileNotFound) {
		t.Errorf("expected profile gone after Delete, got %v", err)
	}
}

func TestDeleteUnknownProfileReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete(context.Background(), "nope"); !errors.Is(err, types.ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestGetArchiveRoundTripsThroughPutArchive(t *testing.T) {
	src := newTestStore(t)
	dst := newTestStore(t)
	ctx := context.Background()

	if _, err := src.Save(ctx, "shared", types.StorageState{Cookies: []types.Cookie{{Name: "a", Value: "b"}}}, "https://x.example", "X"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	archive, err := src.GetArchive("shared")
	if err != nil {
		t.Fatalf("GetArchive: %v", err)
	}

	if err := dst.PutArchive(archive); err != nil {
		t.Fatalf("PutArchive: %v", err)
	}
	saved, storage, err := dst.Switch(ctx, "shared")
	if err != nil {
		t.Fatalf("Switch on destination: %v", err)
	}
	if saved.Checksum != archive.Profile.Checksum {
		t.Error("expected checksum to survive PutArchive verbatim")
	}
	if len(storage.Cookies) != 1 {
		t.Errorf("expected 1 cookie restored, got %d", len(storage.Cookies))
	}
}

func TestSanitizeNameCollapsesDisallowedCharacters(t *testing.T) {
	cases := map[string]string{
		"My Profile!!": "my-profile",
		"  spaced  ":   "spaced",
		"UPPER_CASE-1": "upper_case-1",
		"***":          "untitled",
		"":             "untitled",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChecksumOfIsDeterministicAndIgnoresStaleChecksum(t *testing.T) {
	saved := types.SavedSession{Name: "p", Version: 1, Checksum: "stale-value-should-be-ignored"}
	storage := types.StorageState{Cookies: []types.Cookie{{Name: "a", Value: "b"}}}

	a := ChecksumOf(saved, storage)
	saved.Checksum = "different-stale-value"
	b := ChecksumOf(saved, storage)

	if a != b {
		t.Error("expected ChecksumOf to ignore the existing Checksum field")
	}
	if a == "" {
		t.Error("expected a non-empty checksum")
	}
}
