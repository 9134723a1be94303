// Package state implements session-state persistence (spec §4.7): save,
// restore, list, and delete of named profiles capturing a browser context's
// storage state. It satisfies the tools.ProfileStore port the profiles tool
// family dispatches through, and is also the local read/write side
// internal/peersync reconciles against incoming peer archives.
//
// Grounded on the atomic temp+rename discipline internal/crawl/memory.go
// uses for its own content-addressed state files, generalized here to a
// two-file-per-profile layout (profile.json + storage-state.json) per
// spec §6's persisted layout table.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/darbotlabs/browser-broker/internal/types"
)

// Store is the default, file-backed implementation of tools.ProfileStore.
type Store struct {
	mu          sync.Mutex
	dataDir     string
	edgeProfile string // from configuration, stamped onto every saved profile
	workspace   string
	nodeID      string
}

// NewStore roots profiles under dataDir/session-states, creating it if
// absent. edgeProfile and workspace are configuration-level hints (spec
// §4.7: "composes a record including edgeProfile ... and a workspace
// hint"); nodeID stamps SavedSession.OriginNode for peer-sync provenance.
func NewStore(dataDir, edgeProfile, workspace, nodeID string) (*Store, error) {
	s := &Store{dataDir: dataDir, edgeProfile: edgeProfile, workspace: workspace, nodeID: nodeID}
	if err := os.MkdirAll(s.root(), 0o755); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) root() string { return filepath.Join(s.dataDir, "session-states") }

func (s *Store) dir(name string) string { return filepath.Join(s.root(), sanitizeName(name)) }

// sanitizeName implements spec §6's file-name sanitizer: lowercase, replace
// any character outside [a-z0-9_-] with '-', collapse runs, trim; empty
// result becomes "untitled".
var disallowedRun = regexp.MustCompile(`[^a-z0-9_-]+`)
var dashRun = regexp.MustCompile(`-{2,}`)

func sanitizeName(name string) string {
	lower := strings.ToLower(name)
	replaced := disallowedRun.ReplaceAllString(lower, "-")
	collapsed := strings.Trim(dashRun.ReplaceAllString(replaced, "-"), "-")
	if collapsed == "" {
		return "untitled"
	}
	return collapsed
}

// Save writes a new or updated profile: version increments on an existing
// name, checksum recomputed over the canonical profile+storage-state bytes
// (spec §4.7's integrity contract, reused verbatim by peer-sync uploads).
func (s *Store) Save(ctx context.Context, name string, storage types.StorageState, url, title string) (types.SavedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(name)
	now := time.Now()

	saved := types.SavedSession{
		Name:        sanitizeName(name),
		CreatedAt:   now,
		EdgeProfile: s.edgeProfile,
		Workspace:   s.workspace,
		OriginNode:  s.nodeID,
		Version:     1,
	}
	if existing, err := s.readProfile(dir); err == nil {
		saved.CreatedAt = existing.CreatedAt
		saved.Version = existing.Version + 1
	}
	saved.URL = url
	saved.Title = title
	saved.LastModified = now
	saved.Checksum = ChecksumOf(saved, storage)

	if err := s.writeProfile(dir, saved, storage); err != nil {
		return types.SavedSession{}, err
	}
	return saved, nil
}

// Switch reads name's saved profile and storage state. A missing
// storage-state.json degrades to a navigate-only restore: state comes back
// as the zero value rather than an error, per spec §4.7.
func (s *Store) Switch(ctx context.Context, name string) (types.SavedSession, types.StorageState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(name)
	saved, err := s.readProfile(dir)
	if err != nil {
		return types.SavedSession{}, types.StorageState{}, types.ErrProfileNotFound
	}
	storage, err := s.readStorageState(dir)
	if err != nil {
		return saved, types.StorageState{}, nil
	}
	return saved, storage, nil
}

// List enumerates every profile directory, parsing profile.json and
// omitting any whose metadata is missing or corrupt (spec §4.7).
func (s *Store) List(ctx context.Context) ([]types.SavedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]types.SavedSession, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		saved, err := s.readProfile(filepath.Join(s.root(), e.Name()))
		if err != nil {
			continue
		}
		out = append(out, saved)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes name's entire profile directory.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return types.ErrProfileNotFound
	}
	return os.RemoveAll(dir)
}

// GetArchive reads name's profile as one transferable envelope, for
// internal/peersync's download side.
func (s *Store) GetArchive(name string) (types.SessionArchive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(name)
	saved, err := s.readProfile(dir)
	if err != nil {
		return types.SessionArchive{}, types.ErrProfileNotFound
	}
	storage, _ := s.readStorageState(dir)
	return types.SessionArchive{Profile: saved, StorageState: storage}, nil
}

// PutArchive writes an incoming peer archive verbatim (no version bump),
// used after internal/peersync has already resolved the upload/local
// conflict in the caller's favor.
func (s *Store) PutArchive(a types.SessionArchive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeProfile(s.dir(a.Profile.Name), a.Profile, a.StorageState)
}

func (s *Store) readProfile(dir string) (types.SavedSession, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "profile.json"))
	if err != nil {
		return types.SavedSession{}, err
	}
	var saved types.SavedSession
	if err := json.Unmarshal(raw, &saved); err != nil {
		return types.SavedSession{}, err
	}
	return saved, nil
}

func (s *Store) readStorageState(dir string) (types.StorageState, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "storage-state.json"))
	if err != nil {
		return types.StorageState{}, err
	}
	var storage types.StorageState
	if err := json.Unmarshal(raw, &storage); err != nil {
		return types.StorageState{}, err
	}
	return storage, nil
}

func (s *Store) writeProfile(dir string, saved types.SavedSession, storage types.StorageState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	profileBytes, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, "profile.json"), profileBytes); err != nil {
		return err
	}
	storageBytes, err := json.MarshalIndent(storage, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "storage-state.json"), storageBytes)
}

// ChecksumOf computes spec §4.7's integrity hash over the canonical
// profile+storage-state bytes (profile fields minus the checksum itself,
// since the checksum can't cover its own value). Exported so
// internal/peersync can verify an incoming archive's claimed checksum
// against the same definition Save uses when minting one.
func ChecksumOf(saved types.SavedSession, storage types.StorageState) string {
	saved.Checksum = ""
	profileBytes, _ := json.Marshal(saved)
	storageBytes, _ := json.Marshal(storage)
	sum := sha256.Sum256(append(profileBytes, storageBytes...))
	return hex.EncodeToString(sum[:])
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
