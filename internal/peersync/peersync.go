// Package peersync implements spec §4.7's peer-sync: a stable per-broker
// node id, a manually registered peer list, a sync index advertising this
// broker's saved sessions, and push/pull archive exchange with checksum
// integrity and last-writer-wins-by-version conflict resolution.
//
// Grounded on the teacher's internal/session concurrency shape (one mutex
// guarding a map, atomic persistence of the map itself) and, for the
// fan-out peer health probe, the same golang.org/x/sync/errgroup pattern
// internal/session/manager.go uses for its idle-sweep teardown.
package peersync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/darbotlabs/browser-broker/internal/metrics"
	"github.com/darbotlabs/browser-broker/internal/state"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// ArchiveStore is the narrow contract Manager needs from internal/state,
// declared here rather than imported concretely so neither package needs
// the other's full surface.
type ArchiveStore interface {
	List(ctx context.Context) ([]types.SavedSession, error)
	GetArchive(name string) (types.SessionArchive, error)
	PutArchive(a types.SessionArchive) error
}

// Manager owns this broker's node identity, its registered peers, and the
// archive store it advertises through /sync/index.
type Manager struct {
	NodeID string

	archives ArchiveStore
	dataDir  string

	mu    sync.RWMutex
	peers map[string]types.PeerNode
}

// NewManager loads or mints this broker's node id (dataDir/sync/node-id)
// and loads any previously registered peers from dataDir/sync/nodes.json.
func NewManager(dataDir string, archives ArchiveStore) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "sync"), 0o755); err != nil {
		return nil, err
	}
	m := &Manager{archives: archives, dataDir: dataDir, peers: make(map[string]types.PeerNode)}

	nodeID, err := loadOrCreateNodeID(m.nodeIDPath())
	if err != nil {
		return nil, err
	}
	m.NodeID = nodeID

	if raw, err := os.ReadFile(m.nodesPath()); err == nil {
		var peers []types.PeerNode
		if err := json.Unmarshal(raw, &peers); err == nil {
			for _, p := range peers {
				m.peers[p.ID] = p
			}
		}
	}
	return m, nil
}

func (m *Manager) nodeIDPath() string { return filepath.Join(m.dataDir, "sync", "node-id") }
func (m *Manager) nodesPath() string  { return filepath.Join(m.dataDir, "sync", "nodes.json") }

func loadOrCreateNodeID(path string) (string, error) {
	if raw, err := os.ReadFile(path); err == nil {
		return string(raw), nil
	}
	id := uuid.NewString()
	if err := writeAtomic(path, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// RegisterPeer adds or replaces a manually registered peer (spec §4.7:
// "peers are manually registered").
func (m *Manager) RegisterPeer(url string, auth types.PeerAuthMethod, secret string) types.PeerNode {
	peer := types.PeerNode{
		ID:     uuid.NewString(),
		Kind:   "hosted",
		URL:    url,
		Auth:   auth,
		Secret: secret,
		Status: types.PeerStatusUnknown,
	}

	m.mu.Lock()
	m.peers[peer.ID] = peer
	snapshot := m.peersLocked()
	m.mu.Unlock()

	if err := m.persistPeers(snapshot); err != nil {
		log.Warn().Err(err).Msg("peersync: failed to persist peer registration")
	}
	return peer
}

// ListPeers returns every registered peer, secrets redacted.
func (m *Manager) ListPeers() []types.PeerNode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := m.peersLocked()
	for i := range peers {
		peers[i].Secret = ""
	}
	return peers
}

func (m *Manager) peersLocked() []types.PeerNode {
	out := make([]types.PeerNode, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

func (m *Manager) persistPeers(peers []types.PeerNode) error {
	encoded, err := json.MarshalIndent(peers, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(m.nodesPath(), encoded)
}

// RefreshPeerHealth probes every registered peer's /health endpoint
// concurrently (spec §5: "peer-sync status refresh are independent
// timers"), capped the same way the session manager caps its idle-sweep
// teardown fan-out.
func (m *Manager) RefreshPeerHealth(ctx context.Context, probe func(ctx context.Context, peerURL string) error) {
	m.mu.RLock()
	peers := m.peersLocked()
	m.mu.RUnlock()
	if len(peers) == 0 {
		return
	}

	results := make(map[string]types.PeerStatus, len(peers))
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for _, p := range peers {
		peer := p
		eg.Go(func() error {
			status := types.PeerStatusHealthy
			if err := probe(egCtx, peer.URL); err != nil {
				status = types.PeerStatusUnreachable
			}
			mu.Lock()
			results[peer.ID] = status
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	m.mu.Lock()
	for id, status := range results {
		if peer, ok := m.peers[id]; ok {
			peer.Status = status
			peer.LastSeen = time.Now()
			m.peers[id] = peer
		}
	}
	snapshot := m.peersLocked()
	m.mu.Unlock()

	if err := m.persistPeers(snapshot); err != nil {
		log.Warn().Err(err).Msg("peersync: failed to persist peer health refresh")
	}
}

// BuildIndex advertises every saved session this broker holds (spec §4.7:
// "/sync/index advertises available sessions with (name, version,
// checksum, lastModified)").
func (m *Manager) BuildIndex(ctx context.Context) ([]types.SyncIndexEntry, error) {
	saved, err := m.archives.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]types.SyncIndexEntry, 0, len(saved))
	for _, s := range saved {
		entries = append(entries, types.SyncIndexEntry{
			Name:         s.Name,
			Version:      s.Version,
			Checksum:     s.Checksum,
			LastModified: s.LastModified,
		})
	}
	return entries, nil
}

// Download returns name's archive for a peer's GET /sync/sessions/:id.
func (m *Manager) Download(name string) (types.SessionArchive, error) {
	archive, err := m.archives.GetArchive(name)
	if err != nil {
		return archive, err
	}
	metrics.RecordPeerSyncDownload()
	return archive, nil
}

// Upload accepts an incoming archive from a peer's POST /sync/sessions:
// it verifies the claimed checksum, then resolves a name conflict against
// the locally held version by spec §4.7's rule ("keep the one with greater
// version; on ties, greater lastModified; remaining tie, receiver-local
// wins").
func (m *Manager) Upload(ctx context.Context, incoming types.SessionArchive) error {
	if state.ChecksumOf(incoming.Profile, incoming.StorageState) != incoming.Profile.Checksum {
		metrics.RecordPeerSyncUpload("checksum_mismatch")
		return types.ErrChecksumMismatch
	}

	local, err := m.archives.GetArchive(incoming.Profile.Name)
	if err != nil {
		// No local copy: nothing to conflict with.
		if err := m.archives.PutArchive(incoming); err != nil {
			return err
		}
		metrics.RecordPeerSyncUpload("applied")
		return nil
	}

	if incoming.Profile.Version > local.Profile.Version {
		if err := m.archives.PutArchive(incoming); err != nil {
			return err
		}
		metrics.RecordPeerSyncUpload("applied")
		return nil
	}
	if incoming.Profile.Version < local.Profile.Version {
		metrics.RecordPeerSyncUpload("rejected")
		return nil // receiver-local wins outright
	}
	if incoming.Profile.LastModified.After(local.Profile.LastModified) {
		if err := m.archives.PutArchive(incoming); err != nil {
			return err
		}
		metrics.RecordPeerSyncUpload("applied")
		return nil
	}
	// Remaining tie: receiver-local wins.
	metrics.RecordPeerSyncUpload("rejected")
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
