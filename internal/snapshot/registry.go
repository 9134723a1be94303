// Package snapshot implements the per-tab accessibility-snapshot registry of
// spec §4.5: refs are opaque ("ref-42"), unique within (pageID, version),
// and resolving a ref against a version other than the current one fails
// with RefStale. This is the discipline that keeps element identity
// accessibility-anchored instead of DOM-anchored across rerenders.
package snapshot

import (
	"fmt"
	"sync"

	"github.com/darbotlabs/browser-broker/internal/types"
)

// Resolved is what Resolve returns for a valid (pageID, ref) pair.
type Resolved struct {
	Locator string
	Role    string
	Name    string
}

// Registry holds the latest snapshot for every tab it has seen. One
// Registry is shared by a Session's tabs; callers key everything by pageID.
type Registry struct {
	mu    sync.RWMutex
	byTab map[string]*entry
}

type entry struct {
	version int64
	refs    map[types.ElementRef]Resolved
	text    string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byTab: make(map[string]*entry)}
}

// Capture stores a fresh snapshot for pageID, bumping its version and
// assigning each driver entry a stable "ref-N" key in traversal order.
// It returns the public types.Snapshot for the caller to attach to the Tab.
func (r *Registry) Capture(pageID string, driverEntries []types.SnapshotEntry, text string) types.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byTab[pageID]
	if !ok {
		e = &entry{}
		r.byTab[pageID] = e
	}
	e.version++
	e.refs = make(map[types.ElementRef]Resolved, len(driverEntries))
	e.text = text

	out := types.Snapshot{
		PageID:  pageID,
		Version: e.version,
		Text:    text,
		Entries: make([]types.SnapshotEntry, 0, len(driverEntries)),
	}
	for i, de := range driverEntries {
		ref := types.ElementRef(fmt.Sprintf("ref-%d", i))
		e.refs[ref] = Resolved{Locator: de.Locator, Role: de.Role, Name: de.Name}
		out.Entries = append(out.Entries, types.SnapshotEntry{
			Ref:     ref,
			Locator: de.Locator,
			Role:    de.Role,
			Name:    de.Name,
		})
	}
	return out
}

// CurrentVersion reports the latest captured version for a tab, or 0 if
// none has been captured yet.
func (r *Registry) CurrentVersion(pageID string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byTab[pageID]
	if !ok {
		return 0
	}
	return e.version
}

// Resolve looks up ref within the snapshot the caller believes is current
// (asOfVersion). It fails with ErrSnapshotMissing when no snapshot has ever
// been captured for pageID, ErrSnapshotStale when asOfVersion differs from
// the registry's current version, and ErrRefNotFound when the ref is unknown
// even within the current version.
func (r *Registry) Resolve(pageID string, asOfVersion int64, ref types.ElementRef) (Resolved, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byTab[pageID]
	if !ok {
		return Resolved{}, types.ErrSnapshotMissing
	}
	if asOfVersion != e.version {
		return Resolved{}, types.ErrSnapshotStale
	}
	resolved, ok := e.refs[ref]
	if !ok {
		return Resolved{}, types.ErrRefNotFound
	}
	return resolved, nil
}

// Drop removes a tab's snapshot entirely, e.g. when the tab closes.
func (r *Registry) Drop(pageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTab, pageID)
}
