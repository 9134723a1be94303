package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/darbotlabs/browser-broker/internal/types"
)

// mockDriver is the in-memory test double for Driver (spec §9: one
// production implementation plus a mock, never a second real backend).
// It keeps no actual browser state beyond what the tool handlers need to
// assert against: current URL, a synthetic AX tree, and cookie storage.
type mockDriver struct {
	mu     sync.Mutex
	closed bool
}

// NewMockDriver returns a Driver with no external dependencies, suitable
// for unit tests of everything above the driver façade.
func NewMockDriver() Driver {
	return &mockDriver{}
}

func (d *mockDriver) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("driver closed")
	}
	mc := &mockContext{}
	if opts.StorageState != nil {
		mc.cookies = append(mc.cookies, opts.StorageState.Cookies...)
	}
	return mc, nil
}

func (d *mockDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type mockContext struct {
	mu      sync.Mutex
	cookies []types.Cookie
	local   map[string]map[string]string
	pages   []*mockPage
	nextID  int
}

func (c *mockContext) NewPage(ctx context.Context, startURL string) (Page, error) {
	c.mu.Lock()
	c.nextID++
	id := fmt.Sprintf("mock-page-%d", c.nextID)
	c.mu.Unlock()

	mp := &mockPage{id: id, ctx: c, url: startURL, local: map[string]string{}}
	if startURL != "" {
		mp.title = "mock: " + startURL
	}
	c.mu.Lock()
	c.pages = append(c.pages, mp)
	c.mu.Unlock()
	return mp, nil
}

func (c *mockContext) Cookies(ctx context.Context) ([]types.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Cookie(nil), c.cookies...), nil
}

func (c *mockContext) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append(c.cookies, cookies...)
	return nil
}

func (c *mockContext) StorageState(ctx context.Context) (types.StorageState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := types.StorageState{
		Cookies:      append([]types.Cookie(nil), c.cookies...),
		LocalStorage: map[string]map[string]string{},
	}
	for _, p := range c.pages {
		if len(p.local) > 0 {
			state.LocalStorage[p.url] = p.local
		}
	}
	return state, nil
}

func (c *mockContext) ClearCookies(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = nil
	return nil
}

func (c *mockContext) Close(ctx context.Context) error { return nil }

// mockPage simulates just enough browser behavior for dispatcher/tool tests:
// navigation updates URL/Title, a fixed two-entry AX tree, and a no-op for
// every interaction that would otherwise require a live renderer.
type mockPage struct {
	mu      sync.Mutex
	id      string
	ctx     *mockContext
	url     string
	title   string
	closed  bool
	local   map[string]string
	headers map[string]string
	console []types.RingEntry
	network []types.RingEntry
	dialog  DialogAction
}

func (p *mockPage) ID() string { return p.id }

func (p *mockPage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.title = "mock: " + url
	p.network = append(p.network, types.RingEntry{Timestamp: time.Time{}, Kind: "request", Text: "GET " + url})
	return nil
}

func (p *mockPage) NavigateBack(ctx context.Context) error    { return nil }
func (p *mockPage) NavigateForward(ctx context.Context) error { return nil }
func (p *mockPage) Reload(ctx context.Context) error          { return nil }

func (p *mockPage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headers = headers
	return nil
}

func (p *mockPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *mockPage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *mockPage) AccessibilitySnapshot(ctx context.Context) ([]types.SnapshotEntry, string, error) {
	entries := []types.SnapshotEntry{
		{Locator: "node-1", Role: "heading", Name: "Mock Page"},
		{Locator: "node-2", Role: "link", Name: "next"},
	}
	return entries, "heading \"Mock Page\"\nlink \"next\"\n", nil
}

// ExtractLinks fabricates a deterministic, URL-derived anchor list so crawl
// planner tests can exercise eligibility filtering without a live renderer.
func (p *mockPage) ExtractLinks(ctx context.Context, limit int) ([]types.LinkCandidate, error) {
	p.mu.Lock()
	base := p.url
	p.mu.Unlock()
	if base == "" {
		base = "https://example.test/"
	}
	links := []types.LinkCandidate{
		{URL: base + "/next", Text: "next"},
		{URL: base + "/about", Text: "about"},
		{URL: "https://external.test/", Text: "external"},
	}
	if limit > 0 && limit < len(links) {
		links = links[:limit]
	}
	return links, nil
}

// ExtractClickables returns a fixed two-button set (Submit, Cancel); it does
// not depend on the fake AX tree above.
func (p *mockPage) ExtractClickables(ctx context.Context, limit int) ([]types.ClickableCandidate, error) {
	clickables := []types.ClickableCandidate{
		{Ref: "clk-0", Text: "Submit", Role: "button", Locator: "button#submit"},
		{Ref: "clk-1", Text: "Cancel", Role: "button", Locator: "button#cancel"},
	}
	if limit > 0 && limit < len(clickables) {
		clickables = clickables[:limit]
	}
	return clickables, nil
}

func (p *mockPage) Click(ctx context.Context, locator string) error { return nil }
func (p *mockPage) Hover(ctx context.Context, locator string) error { return nil }

func (p *mockPage) Type(ctx context.Context, locator, text string) error { return nil }
func (p *mockPage) PressKey(ctx context.Context, key string) error       { return nil }
func (p *mockPage) Drag(ctx context.Context, from, to string) error      { return nil }
func (p *mockPage) Scroll(ctx context.Context, dx, dy int) error         { return nil }
func (p *mockPage) ScrollToElement(ctx context.Context, locator string) error { return nil }
func (p *mockPage) UploadFile(ctx context.Context, locator string, paths []string) error {
	return nil
}

func (p *mockPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return []byte("mock-png-bytes"), nil
}

func (p *mockPage) PDF(ctx context.Context) ([]byte, error) {
	return []byte("mock-pdf-bytes"), nil
}

func (p *mockPage) EmulateMedia(ctx context.Context, m MediaEmulation) error           { return nil }
func (p *mockPage) EmulateGeolocation(ctx context.Context, geo Geolocation) error      { return nil }
func (p *mockPage) EmulateTimezone(ctx context.Context, tz string) error               { return nil }
func (p *mockPage) ClockInstall(ctx context.Context, fixedAt time.Time) error          { return nil }
func (p *mockPage) ClockFastForward(ctx context.Context, d time.Duration) error        { return nil }
func (p *mockPage) ClockPause(ctx context.Context, at time.Time) error                 { return nil }
func (p *mockPage) ClockResume(ctx context.Context) error                             { return nil }
func (p *mockPage) ClockSetFixedTime(ctx context.Context, at time.Time) error          { return nil }

func (p *mockPage) SetLocalStorage(ctx context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local[key] = value
	return nil
}

func (p *mockPage) GetLocalStorage(ctx context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.local))
	for k, v := range p.local {
		out[k] = v
	}
	return out, nil
}

func (p *mockPage) ConsoleMessages(ctx context.Context) ([]types.RingEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.console
	p.console = nil
	return out, nil
}

func (p *mockPage) NetworkRequests(ctx context.Context) ([]types.RingEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.network
	p.network = nil
	return out, nil
}

func (p *mockPage) WaitForNetworkIdle(ctx context.Context, idleFor time.Duration) error { return nil }

func (p *mockPage) WaitForText(ctx context.Context, text string, timeout time.Duration) error {
	return nil
}

func (p *mockPage) HandleDialog(ctx context.Context, action DialogAction, promptText string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialog = action
	return nil
}

func (p *mockPage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
