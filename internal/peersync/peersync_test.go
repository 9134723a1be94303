package peersync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/darbotlabs/browser-broker/internal/state"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// fakeArchiveStore is an in-memory stand-in for internal/state.Store, just
// enough of ArchiveStore to exercise Manager without touching a disk.
type fakeArchiveStore struct {
	mu       sync.Mutex
	archives map[string]types.SessionArchive
}

func newFakeArchiveStore() *fakeArchiveStore {
	return &fakeArchiveStore{archives: make(map[string]types.SessionArchive)}
}

func (f *fakeArchiveStore) List(ctx context.Context) ([]types.SavedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.SavedSession, 0, len(f.archives))
	for _, a := range f.archives {
		out = append(out, a.Profile)
	}
	return out, nil
}

func (f *fakeArchiveStore) GetArchive(name string) (types.SessionArchive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.archives[name]
	if !ok {
		return types.SessionArchive{}, types.ErrProfileNotFound
	}
	return a, nil
}

func (f *fakeArchiveStore) PutArchive(a types.SessionArchive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archives[a.Profile.Name] = a
	return nil
}

func checksummed(name string, version int, lastModified time.Time, storage types.StorageState) types.SessionArchive {
	saved := types.SavedSession{Name: name, Version: version, LastModified: lastModified}
	saved.Checksum = state.ChecksumOf(saved, storage)
	return types.SessionArchive{Profile: saved, StorageState: storage}
}

func newTestManager(t *testing.T) (*Manager, *fakeArchiveStore) {
	t.Helper()
	store := newFakeArchiveStore()
	m, err := NewManager(t.TempDir(), store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, store
}

func TestNewManagerMintsStableNodeID(t *testing.T) {
	dataDir := t.TempDir()
	store := newFakeArchiveStore()

	first, err := NewManager(dataDir, store)
	if err != nil {
		t.Fatalf("first NewManager: %v", err)
	}
	second, err := NewManager(dataDir, store)
	if err != nil {
		t.Fatalf("second NewManager: %v", err)
	}
	if first.NodeID == "" {
		t.Fatal("expected a non-empty node id")
	}
	if first.NodeID != second.NodeID {
		t.Errorf("expected node id to persist across loads, got %q then %q", first.NodeID, second.NodeID)
	}
}

func TestRegisterPeerListPeersRedactsSecret(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterPeer("https://peer.example", types.PeerAuthSecret, "top-secret")

	peers := m.ListPeers()
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	if peers[0].Secret != "" {
		t.Errorf("expected Secret redacted from ListPeers, got %q", peers[0].Secret)
	}
	if peers[0].URL != "https://peer.example" {
		t.Errorf("expected URL preserved, got %q", peers[0].URL)
	}
}

func TestRegisterPeerPersistsAcrossManagerReload(t *testing.T) {
	dataDir := t.TempDir()
	store := newFakeArchiveStore()

	m1, err := NewManager(dataDir, store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m1.RegisterPeer("https://peer.example", types.PeerAuthNone, "")

	m2, err := NewManager(dataDir, store)
	if err != nil {
		t.Fatalf("reload NewManager: %v", err)
	}
	if len(m2.ListPeers()) != 1 {
		t.Fatalf("expected peer to survive reload, got %d peers", len(m2.ListPeers()))
	}
}

func TestBuildIndexReflectsArchiveStore(t *testing.T) {
	m, store := newTestManager(t)
	archive := checksummed("profile-a", 1, time.Now(), types.StorageState{})
	if err := store.PutArchive(archive); err != nil {
		t.Fatalf("PutArchive: %v", err)
	}

	index, err := m.BuildIndex(context.Background())
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if len(index) != 1 || index[0].Name != "profile-a" {
		t.Fatalf("expected one entry for profile-a, got %+v", index)
	}
}

func TestDownloadReturnsArchive(t *testing.T) {
	m, store := newTestManager(t)
	archive := checksummed("profile-a", 1, time.Now(), types.StorageState{})
	if err := store.PutArchive(archive); err != nil {
		t.Fatalf("PutArchive: %v", err)
	}

	got, err := m.Download("profile-a")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got.Profile.Name != "profile-a" {
		t.Errorf("expected profile-a, got %q", got.Profile.Name)
	}
}

func TestUploadRejectsChecksumMismatch(t *testing.T) {
	m, _ := newTestManager(t)
	archive := checksummed("profile-a", 1, time.Now(), types.StorageState{})
	archive.Profile.Checksum = "tampered"

	err := m.Upload(context.Background(), archive)
	if !errors.Is(err, types.ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestUploadAppliesWhenNoLocalCopy(t *testing.T) {
	m, store := newTestManager(t)
	archive := checksummed("profile-a", 1, time.Now(), types.StorageState{})

	if err := m.Upload(context.Background(), archive); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := store.GetArchive("profile-a"); err != nil {
		t.Errorf("expected archive applied locally, got error %v", err)
	}
}

func TestUploadAppliesWhenIncomingVersionGreater(t *testing.T) {
	m, store := newTestManager(t)
	now := time.Now()
	local := checksummed("profile-a", 1, now, types.StorageState{})
	if err := store.PutArchive(local); err != nil {
		t.Fatalf("PutArchive: %v", err)
	}
	incoming := checksummed("profile-a", 2, now.Add(time.Minute), types.StorageState{})

	if err := m.Upload(context.Background(), incoming); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := store.GetArchive("profile-a")
	if err != nil {
		t.Fatalf("GetArchive: %v", err)
	}
	if got.Profile.Version != 2 {
		t.Errorf("expected version 2 applied, got %d", got.Profile.Version)
	}
}

func TestUploadRejectsWhenIncomingVersionLower(t *testing.T) {
	m, store := newTestManager(t)
	now := time.Now()
	local := checksummed("profile-a", 2, now, types.StorageState{})
	if err := store.PutArchive(local); err != nil {
		t.Fatalf("PutArchive: %v", err)
	}
	incoming := checksummed("profile-a", 1, now.Add(time.Minute), types.StorageState{})

	if err := m.Upload(context.Background(), incoming); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := store.GetArchive("profile-a")
	if err != nil {
		t.Fatalf("GetArchive: %v", err)
	}
	if got.Profile.Version != 2 {
		t.Errorf("expected local version 2 to survive, got %d", got.Profile.Version)
	}
}

func TestUploadBreaksVersionTieByLastModified(t *testing.T) {
	m, store := newTestManager(t)
	now := time.Now()
	local := checksummed("profile-a", 1, now, types.StorageState{})
	if err := store.PutArchive(local); err != nil {
		t.Fatalf("PutArchive: %v", err)
	}
	incoming := checksummed("profile-a", 1, now.Add(time.Minute), types.StorageState{})

	if err := m.Upload(context.Background(), incoming); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := store.GetArchive("profile-a")
	if err != nil {
		t.Fatalf("GetArchive: %v", err)
	}
	if !got.Profile.LastModified.Equal(incoming.Profile.LastModified) {
		t.Error("expected the later lastModified to win a version tie")
	}
}

func TestUploadRemainingTieKeepsReceiverLocal(t *testing.T) {
	m, store := newTestManager(t)
	now := time.Now()
	local := checksummed("profile-a", 1, now, types.StorageState{})
	if err := store.PutArchive(local); err != nil {
		t.Fatalf("PutArchive: %v", err)
	}
	incoming := checksummed("profile-a", 1, now, types.StorageState{})

	if err := m.Upload(context.Background(), incoming); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := store.GetArchive("profile-a")
	if err != nil {
		t.Fatalf("GetArchive: %v", err)
	}
	if got.Profile.Checksum != local.Profile.Checksum {
		t.Error("expected receiver-local archive to remain on a full tie")
	}
}

func TestRefreshPeerHealthRecordsProbeOutcomes(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterPeer("https://healthy.example", types.PeerAuthNone, "")
	m.RegisterPeer("https://down.example", types.PeerAuthNone, "")

	m.RefreshPeerHealth(context.Background(), func(ctx context.Context, peerURL string) error {
		if peerURL == "https://down.example" {
			return errors.New("connection refused")
		}
		return nil
	})

	statuses := make(map[string]types.PeerStatus)
	for _, p := range m.ListPeers() {
		statuses[p.URL] = p.Status
	}
	if statuses["https://healthy.example"] != types.PeerStatusHealthy {
		t.Errorf("expected healthy peer marked healthy, got %v", statuses["https://healthy.example"])
	}
	if statuses["https://down.example"] != types.PeerStatusUnreachable {
		t.Errorf("expected down peer marked unreachable, got %v", statuses["https://down.example"])
	}
}

func TestRefreshPeerHealthNoPeersIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	m.RefreshPeerHealth(context.Background(), func(ctx context.Context, peerURL string) error {
		t.Fatal("probe should not be called with no registered peers")
		return nil
	})
}
