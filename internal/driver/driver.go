// Package driver is the browser automation façade of spec §4.1. Everything
// above this package talks to a Driver/Context/Page triplet and never
// imports go-rod directly; rodDriver is the one production implementation,
// mockDriver backs tests (spec §9 design note: one production implementation
// plus a mock, no second real backend).
package driver

import (
	"context"
	"time"

	"github.com/darbotlabs/browser-broker/internal/types"
)

// ContextOptions configures a new browser context (profile, proxy, viewport).
type ContextOptions struct {
	Proxy          string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	StorageState   *types.StorageState // restore cookies/localStorage on creation
	EdgeProfile    string
}

// MediaEmulation mirrors the CDP Emulation.setEmulatedMedia parameters.
type MediaEmulation struct {
	Media         string // "screen" | "print" | ""  (empty clears the override)
	ColorScheme   string // "light" | "dark" | "no-preference"
	ReducedMotion string // "reduce" | "no-preference"
}

// Geolocation mirrors CDP Emulation.setGeolocationOverride.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// DialogAction is the disposition the broker chose for a JS dialog.
type DialogAction string

const (
	DialogAccept DialogAction = "accept"
	DialogDismiss DialogAction = "dismiss"
)

// Driver is the top-level façade; one instance per broker process.
type Driver interface {
	// NewContext creates an isolated browser context (spec §3's "owns one
	// browser context" per Session).
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	// Close shuts down every context and the underlying browser process.
	Close(ctx context.Context) error
}

// Context is one isolated browser profile; owns zero or more Pages.
type Context interface {
	NewPage(ctx context.Context, startURL string) (Page, error)
	Cookies(ctx context.Context) ([]types.Cookie, error)
	SetCookies(ctx context.Context, cookies []types.Cookie) error
	StorageState(ctx context.Context) (types.StorageState, error)
	ClearCookies(ctx context.Context) error
	Close(ctx context.Context) error
}

// Page is a single browser tab. Method names mirror the tool catalog of
// spec §6 so the tools package is a thin translation layer over this
// interface.
type Page interface {
	ID() string

	Navigate(ctx context.Context, url string) error
	NavigateBack(ctx context.Context) error
	NavigateForward(ctx context.Context) error
	Reload(ctx context.Context) error

	// SetExtraHeaders applies caller-supplied HTTP headers to every
	// subsequent request the page issues, replacing whatever set was
	// applied before it. An empty map clears any headers previously set.
	SetExtraHeaders(ctx context.Context, headers map[string]string) error

	URL() string
	Title(ctx context.Context) (string, error)

	// AccessibilitySnapshot returns the current AX tree, already flattened
	// into ref-bound entries by the snapshot package's caller.
	AccessibilitySnapshot(ctx context.Context) (entries []types.SnapshotEntry, text string, err error)

	// ExtractLinks and ExtractClickables feed the crawl planner's observe
	// step (spec §4.6): anchor hrefs in document order (duplicates are not
	// removed) and non-anchor interactive elements on the current page, each
	// capped by the caller.
	ExtractLinks(ctx context.Context, limit int) ([]types.LinkCandidate, error)
	ExtractClickables(ctx context.Context, limit int) ([]types.ClickableCandidate, error)

	Click(ctx context.Context, locator string) error
	Hover(ctx context.Context, locator string) error
	Type(ctx context.Context, locator, text string) error
	PressKey(ctx context.Context, key string) error
	Drag(ctx context.Context, fromLocator, toLocator string) error
	Scroll(ctx context.Context, dx, dy int) error
	ScrollToElement(ctx context.Context, locator string) error
	UploadFile(ctx context.Context, locator string, filePaths []string) error

	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	PDF(ctx context.Context) ([]byte, error)

	EmulateMedia(ctx context.Context, m MediaEmulation) error
	EmulateGeolocation(ctx context.Context, geo Geolocation) error
	EmulateTimezone(ctx context.Context, tz string) error

	ClockInstall(ctx context.Context, fixedAt time.Time) error
	ClockFastForward(ctx context.Context, d time.Duration) error
	ClockPause(ctx context.Context, at time.Time) error
	ClockResume(ctx context.Context) error
	ClockSetFixedTime(ctx context.Context, at time.Time) error

	SetLocalStorage(ctx context.Context, key, value string) error
	GetLocalStorage(ctx context.Context) (map[string]string, error)

	// ConsoleMessages/NetworkRequests drain the page's bounded ring buffers
	// (spec §3 RingEntry) since the last call.
	ConsoleMessages(ctx context.Context) ([]types.RingEntry, error)
	NetworkRequests(ctx context.Context) ([]types.RingEntry, error)

	WaitForNetworkIdle(ctx context.Context, idleFor time.Duration) error
	WaitForText(ctx context.Context, text string, timeout time.Duration) error

	// HandleDialog arms (or disarms) the next JS dialog's disposition.
	HandleDialog(ctx context.Context, action DialogAction, promptText string) error

	Close(ctx context.Context) error
}
