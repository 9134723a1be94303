package crawl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/darbotlabs/browser-broker/internal/types"
)

// Store is the memory-store contract of spec §4.6: "variant over
// {local, external} — a common trait with two implementations" (spec §9).
// localStore below is the default; an external memory service is a
// contract only, per spec's explicit "implementation optional".
type Store interface {
	HasState(stateHash string) (bool, error)
	GetState(stateHash string) (types.PageState, error)
	StoreState(state types.PageState) error
	GetAllStates() ([]types.PageState, error)
	SaveScreenshot(stateHash string, data []byte) (path string, err error)
	SetMaxStates(n int)
}

// localStore is spec §4.6's default backend: one JSON file per stateHash
// under dataDir, written atomically (temp + rename), with screenshots
// co-located under a screenshots/ sibling and an LRU trim enforcing
// maxStates, mirroring the same temp+rename discipline the session-state
// persistence layer uses for its own profile/storage-state writes.
type localStore struct {
	mu        sync.Mutex
	dataDir   string
	maxStates int
}

// NewLocalStore returns a Store rooted at dataDir/memory (states) and
// dataDir/screenshots (captures), creating both if absent.
func NewLocalStore(dataDir string, maxStates int) (*localStore, error) {
	s := &localStore{dataDir: dataDir, maxStates: maxStates}
	if err := os.MkdirAll(s.statesDir(), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.screenshotsDir(), 0o755); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *localStore) statesDir() string      { return filepath.Join(s.dataDir, "memory") }
func (s *localStore) screenshotsDir() string { return filepath.Join(s.dataDir, "screenshots") }
func (s *localStore) statePath(hash string) string {
	return filepath.Join(s.statesDir(), hash+".json")
}

func (s *localStore) SetMaxStates(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxStates = n
}

func (s *localStore) HasState(stateHash string) (bool, error) {
	_, err := os.Stat(s.statePath(stateHash))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *localStore) GetState(stateHash string) (types.PageState, error) {
	raw, err := os.ReadFile(s.statePath(stateHash))
	if err != nil {
		if os.IsNotExist(err) {
			return types.PageState{}, types.NewKindError(types.KindIntegrity, "state not found: "+stateHash)
		}
		return types.PageState{}, err
	}
	var state types.PageState
	if err := json.Unmarshal(raw, &state); err != nil {
		return types.PageState{}, types.NewKindErrorf(types.KindIntegrity, "corrupt state file", stateHash, err)
	}
	return state, nil
}

// StoreState writes state atomically and is idempotent in state.StateHash
// (spec §8's "memory idempotence" property): two calls with the same hash
// produce one file, and the LRU trim only ever removes a whole state.
func (s *localStore) StoreState(state types.PageState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(s.statePath(state.StateHash), encoded); err != nil {
		return err
	}
	return s.trimLRULocked()
}

// SaveScreenshot writes a PNG capture alongside its state file, named by
// the same stateHash (spec §4.6: "co-located under a screenshots/
// sibling with the same hash").
func (s *localStore) SaveScreenshot(stateHash string, data []byte) (string, error) {
	path := filepath.Join(s.screenshotsDir(), stateHash+".png")
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func (s *localStore) GetAllStates() ([]types.PageState, error) {
	entries, err := os.ReadDir(s.statesDir())
	if err != nil {
		return nil, err
	}
	states := make([]types.PageState, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.statesDir(), e.Name()))
		if err != nil {
			continue
		}
		var state types.PageState
		if err := json.Unmarshal(raw, &state); err != nil {
			continue
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Timestamp.Before(states[j].Timestamp) })
	return states, nil
}

// trimLRULocked enforces maxStates by deleting the oldest states (by
// Timestamp) once the store grows past capacity. Caller must hold s.mu.
func (s *localStore) trimLRULocked() error {
	if s.maxStates <= 0 {
		return nil
	}
	states, err := s.GetAllStates()
	if err != nil {
		return err
	}
	if len(states) <= s.maxStates {
		return nil
	}
	excess := len(states) - s.maxStates
	for i := 0; i < excess; i++ {
		_ = os.Remove(s.statePath(states[i].StateHash))
		_ = os.Remove(filepath.Join(s.screenshotsDir(), states[i].StateHash+".png"))
	}
	return nil
}

// writeAtomic writes data to path via a sibling temp file plus rename, the
// same discipline spec §4.6 and §4.7 both require for persisted state.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
