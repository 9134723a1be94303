package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/session"
	"github.com/darbotlabs/browser-broker/internal/snapshot"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// ProfileStore is the narrow contract internal/tools/profiles needs from
// internal/state, declared here (not imported from internal/state) so
// neither package depends on the other — internal/state depends on
// internal/tools for nothing, and internal/tools never imports
// internal/state directly. The composition root wires a real
// *state.Store in.
type ProfileStore interface {
	Save(ctx context.Context, name string, state types.StorageState, url, title string) (types.SavedSession, error)
	Switch(ctx context.Context, name string) (types.SavedSession, types.StorageState, error)
	List(ctx context.Context) ([]types.SavedSession, error)
	Delete(ctx context.Context, name string) error
}

// CrawlHost is the narrow contract internal/tools/autonomous needs from
// internal/crawl, for the same reason as ProfileStore above.
type CrawlHost interface {
	Start(ctx context.Context, sessionID, startURL, goal string, maxDepth, maxPages int) (*types.CrawlSession, error)
	Cancel(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (*types.CrawlSession, error)
	ConfigureMemory(ctx context.Context, maxStates int, backend string) error
}

// AuditSink is the narrow contract internal/audit needs from the
// dispatcher, declared here for the same narrow-port reason as
// ProfileStore/CrawlHost above. A nil Dispatcher.Audit disables audit
// recording entirely (spec's AUDIT_LOGGING_ENABLED gate lives at the
// composition root, which simply doesn't wire a sink when it's off).
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// MultiAuditSink fans one AuditEvent out to every sink in order — used by
// the composition root to feed both internal/audit's persisted log and
// internal/metrics' counters off the same dispatch hook.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) Record(ctx context.Context, event AuditEvent) {
	for _, sink := range m {
		sink.Record(ctx, event)
	}
}

// AuditEvent is one completed tool dispatch, carrying enough to classify
// verbosity by the tool's SideEffect class (spec §4.4: "side-effect class
// determines audit verbosity").
type AuditEvent struct {
	Timestamp  time.Time
	SessionID  string
	Tool       string
	SideEffect SideEffect
	DurationMS int64
	Err        error // nil on success
}

// HandlerFunc is the signature every tool registers. It receives the
// resolved DispatchContext and raw JSON-decoded arguments.
type HandlerFunc func(ctx context.Context, dc *DispatchContext, args map[string]any) (*Outcome, error)

// Outcome is a handler's result plus the two post-processing flags spec
// §4.4 steps 4-6 describe: whether to refresh the tab's snapshot after the
// action, and whether to await network idle before replying.
type Outcome struct {
	Result          *mcp.CallToolResult
	CaptureSnapshot bool
	WaitForNetwork  bool
}

// DispatchContext threads the resolved session/tab/ref plus the narrow
// ports through to a handler; built fresh per dispatch by Dispatcher.Call.
type DispatchContext struct {
	Session  *session.Session
	Tab      *session.Tab
	Ref      *snapshot.Resolved
	Profiles ProfileStore
	Crawl    CrawlHost
}

// Dispatcher runs the six-step pipeline of spec §4.4 over a Registry.
type Dispatcher struct {
	Registry           *Registry
	Sessions           *session.Manager
	Profiles           ProfileStore
	Crawl              CrawlHost
	Audit              AuditSink // nil disables audit recording
	NetworkIdleTimeout time.Duration // default 30s per spec §5
}

// NewDispatcher wires a ready-to-use Dispatcher.
func NewDispatcher(reg *Registry, sessions *session.Manager, profiles ProfileStore, crawl CrawlHost) *Dispatcher {
	return &Dispatcher{
		Registry:           reg,
		Sessions:           sessions,
		Profiles:           profiles,
		Crawl:              crawl,
		NetworkIdleTimeout: 30 * time.Second,
	}
}

// Call runs one tool invocation against sessionID's current tab (or a
// caller-specified tab id under "tabId" in args). It implements spec §4.4
// steps 1-6 in order: resolve tool, resolve the current tab (left nil when
// there is none; handlers that need one return ErrNoCurrentTab), resolve
// "ref" through the snapshot registry, invoke the handler, refresh the
// snapshot, and wait for network idle.
func (d *Dispatcher) Call(ctx context.Context, sessionID, toolName string, args map[string]any) (result *mcp.CallToolResult, err error) {
	spec, ok := d.Registry.Get(toolName)
	if !ok {
		return nil, types.ErrToolNotFound
	}

	if d.Audit != nil {
		start := time.Now()
		defer func() {
			d.Audit.Record(ctx, AuditEvent{
				Timestamp:  start,
				SessionID:  sessionID,
				Tool:       toolName,
				SideEffect: spec.SideEffect,
				DurationMS: time.Since(start).Milliseconds(),
				Err:        err,
			})
		}()
	}

	sess, err := d.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.BeginOp() {
		return nil, types.NewKindError(types.KindInternal, "session is closing")
	}
	defer sess.EndOp()

	sess.Lock()
	defer sess.Unlock()

	dc := &DispatchContext{Session: sess, Profiles: d.Profiles, Crawl: d.Crawl}

	if tabID, _ := args["tabId"].(string); tabID != "" {
		tab, err := sess.SelectTab(tabID)
		if err != nil {
			return nil, err
		}
		dc.Tab = tab
	} else if tab, err := sess.CurrentTab(); err == nil {
		dc.Tab = tab
	}
	// Tools that don't need a tab (e.g. browser_list_profiles) simply
	// ignore dc.Tab == nil; those that do return ErrNoCurrentTab themselves.

	if spec.RequiresRef {
		refStr, _ := args["ref"].(string)
		if refStr == "" {
			return nil, types.NewKindError(types.KindBadInput, "tool requires a \"ref\" argument")
		}
		if dc.Tab == nil {
			return nil, types.ErrNoCurrentTab
		}
		asOf := sess.Snapshots.CurrentVersion(dc.Tab.Page.ID())
		resolved, err := sess.Snapshots.Resolve(dc.Tab.Page.ID(), asOf, types.ElementRef(refStr))
		if err != nil {
			return nil, err
		}
		dc.Ref = &resolved
	}

	outcome, err := spec.Handler(ctx, dc, args)
	if err != nil {
		return nil, err
	}

	if outcome.CaptureSnapshot && dc.Tab != nil {
		if err := captureSnapshot(ctx, sess, dc.Tab); err != nil {
			return nil, err
		}
	}
	if outcome.WaitForNetwork && dc.Tab != nil {
		waitCtx, cancel := context.WithTimeout(ctx, d.NetworkIdleTimeout)
		defer cancel()
		if err := dc.Tab.Page.WaitForNetworkIdle(waitCtx, 500*time.Millisecond); err != nil {
			return nil, types.NewKindErrorf(types.KindTimeout, "network did not go idle", err.Error(), err)
		}
	}

	return outcome.Result, nil
}

// captureSnapshot refreshes the registry entry for tab after a mutating
// action (spec §4.4 step 5 / §4.5).
func captureSnapshot(ctx context.Context, sess *session.Session, tab *session.Tab) error {
	entries, text, err := tab.Page.AccessibilitySnapshot(ctx)
	if err != nil {
		return types.NewDriverError("accessibility_snapshot", err.Error(), err)
	}
	sess.Snapshots.Capture(tab.Page.ID(), entries, text)
	return nil
}
