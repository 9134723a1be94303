// Package session implements the broker's session & tab manager (spec
// §4.3): per-client sessions own one browser context and N tabs, enforce
// maxConcurrentSessions, and serialize tool execution within a session
// while allowing different sessions to run concurrently.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/darbotlabs/browser-broker/internal/driver"
	"github.com/darbotlabs/browser-broker/internal/snapshot"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// maxOpReferences bounds in-flight operations per session, mirroring the
// teacher's maxPageReferences safety valve against runaway concurrent use.
const maxOpReferences = 100

// Tab is the live, in-process counterpart of types.Tab: it owns the driver
// Page handle that types.Tab only describes.
type Tab struct {
	ID         string
	Page       driver.Page
	CreatedAt  time.Time
	lastActive atomic.Int64
}

func (t *Tab) touch() { t.lastActive.Store(time.Now().UnixNano()) }

// ToDomain renders the wire-safe snapshot of this tab for reporting/transport.
func (t *Tab) ToDomain() *types.Tab {
	return &types.Tab{
		ID:         t.ID,
		PageID:     t.Page.ID(),
		URL:        t.Page.URL(),
		CreatedAt:  t.CreatedAt,
		LastActive: time.Unix(0, t.lastActive.Load()),
	}
}

// Session is one client's logical conversation (spec §3): one browser
// context, an ordered list of tabs, a current-tab cursor, and a per-session
// snapshot registry. Console/network ring buffers are realized by the
// driver façade's per-page taps rather than duplicated here (see DESIGN.md).
type Session struct {
	ID        string
	CreatedAt time.Time

	driverCtx  driver.Context
	Snapshots  *snapshot.Registry
	lastActive atomic.Int64

	mu         sync.Mutex // serializes tool execution within this session (spec §5)
	tabs       []*Tab
	currentTab int // -1 when tabs is empty

	refCount atomic.Int32
	closing  atomic.Bool
}

func newSession(id string, driverCtx driver.Context) *Session {
	now := time.Now()
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		driverCtx:  driverCtx,
		Snapshots:  snapshot.New(),
		currentTab: -1,
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// Touch records activity for the idle sweeper.
func (s *Session) Touch() { s.lastActive.Store(time.Now().UnixNano()) }

// LastActivityTime returns the last recorded activity time.
func (s *Session) LastActivityTime() time.Time { return time.Unix(0, s.lastActive.Load()) }

// BeginOp marks the start of an in-flight operation, refusing new work once
// the session is closing or the reference cap is hit. Callers MUST call
// EndOp exactly once per successful BeginOp.
func (s *Session) BeginOp() bool {
	if s.closing.Load() {
		return false
	}
	if s.refCount.Load() >= maxOpReferences {
		log.Warn().Str("session_id", s.ID).Msg("session: max concurrent operations reached")
		return false
	}
	s.refCount.Add(1)
	return true
}

// EndOp releases a reference acquired by BeginOp.
func (s *Session) EndOp() {
	if n := s.refCount.Add(-1); n < 0 {
		s.refCount.Store(0)
		log.Error().Str("session_id", s.ID).Msg("session: EndOp called more times than BeginOp (bug)")
	}
}

func (s *Session) waitForReferences(timeout time.Duration) bool {
	if s.refCount.Load() <= 0 {
		return true
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		<-ticker.C
		if s.refCount.Load() <= 0 {
			return true
		}
	}
	return s.refCount.Load() <= 0
}

// Lock serializes tool execution on this session (spec §5: "a per-session
// mutex... a tab cannot be driven by two callers at once"). Callers must
// call Unlock when done.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// CurrentTab returns the active tab, or ErrNoCurrentTab when none exists.
// Caller must hold Lock.
func (s *Session) CurrentTab() (*Tab, error) {
	if s.currentTab < 0 || s.currentTab >= len(s.tabs) {
		return nil, types.ErrNoCurrentTab
	}
	return s.tabs[s.currentTab], nil
}

// EnsureTab returns the current tab, lazily opening "about:blank" when the
// session has none yet (spec §4.3's ensureTab). Caller must hold Lock.
func (s *Session) EnsureTab(ctx context.Context) (*Tab, error) {
	if tab, err := s.CurrentTab(); err == nil {
		return tab, nil
	}
	return s.NewTab(ctx, "about:blank")
}

// NewTab opens a new tab, navigates it to startURL (when non-empty), and
// selects it as current. Caller must hold Lock.
func (s *Session) NewTab(ctx context.Context, startURL string) (*Tab, error) {
	page, err := s.driverCtx.NewPage(ctx, startURL)
	if err != nil {
		return nil, types.NewDriverError("new_tab", err.Error(), err)
	}
	tab := &Tab{ID: uuid.NewString(), Page: page, CreatedAt: time.Now()}
	tab.touch()
	s.tabs = append(s.tabs, tab)
	s.currentTab = len(s.tabs) - 1
	return tab, nil
}

// SelectTab makes the named tab current. Caller must hold Lock.
func (s *Session) SelectTab(id string) (*Tab, error) {
	for i, t := range s.tabs {
		if t.ID == id {
			s.currentTab = i
			t.touch()
			return t, nil
		}
	}
	return nil, types.ErrTabNotFound
}

// CloseTab closes and removes the named tab. If it was current, the cursor
// advances to the previous index, or clears if none remain (spec §4.3).
// Caller must hold Lock.
func (s *Session) CloseTab(ctx context.Context, id string) error {
	idx := -1
	for i, t := range s.tabs {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return types.ErrTabNotFound
	}

	tab := s.tabs[idx]
	s.Snapshots.Drop(tab.Page.ID())
	if err := tab.Page.Close(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Str("tab_id", id).Msg("error closing tab")
	}

	s.tabs = append(s.tabs[:idx], s.tabs[idx+1:]...)

	switch {
	case len(s.tabs) == 0:
		s.currentTab = -1
	case idx <= s.currentTab:
		if s.currentTab > 0 {
			s.currentTab--
		}
		if s.currentTab >= len(s.tabs) {
			s.currentTab = len(s.tabs) - 1
		}
	}
	return nil
}

// ListTabs returns a snapshot slice of live tabs. Caller must hold Lock (or
// tolerate a benign race if called without it, e.g. for read-only listing).
func (s *Session) ListTabs() []*Tab {
	out := make([]*Tab, len(s.tabs))
	copy(out, s.tabs)
	return out
}

// Cookies returns the browser context's current cookie jar. Caller must
// hold Lock.
func (s *Session) Cookies(ctx context.Context) ([]types.Cookie, error) {
	return s.driverCtx.Cookies(ctx)
}

// SetCookies merges cookies into the browser context's jar. Caller must
// hold Lock.
func (s *Session) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	return s.driverCtx.SetCookies(ctx, cookies)
}

// ClearCookies removes every cookie from the browser context. Caller must
// hold Lock.
func (s *Session) ClearCookies(ctx context.Context) error {
	return s.driverCtx.ClearCookies(ctx)
}

// StorageState captures the browser context's cookies and localStorage for
// persistence (spec §4.7). Caller must hold Lock.
func (s *Session) StorageState(ctx context.Context) (types.StorageState, error) {
	return s.driverCtx.StorageState(ctx)
}

func (s *Session) closeAll(ctx context.Context) {
	for _, t := range s.tabs {
		s.Snapshots.Drop(t.Page.ID())
		if err := t.Page.Close(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Str("tab_id", t.ID).Msg("error closing tab during teardown")
		}
	}
	s.tabs = nil
	s.currentTab = -1
	if err := s.driverCtx.Close(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("error closing browser context during teardown")
	}
}
