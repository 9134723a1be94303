package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/darbotlabs/browser-broker/internal/security"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// LaunchOptions configures the underlying Chrome process, mirroring the
// anti-detection flag set the teacher tunes in internal/browser.Pool.
type LaunchOptions struct {
	Headless         bool
	BrowserPath      string
	IgnoreCertErrors bool
	WindowWidth      int
	WindowHeight     int
	// UserDataDir persists the Chrome profile across restarts; empty uses
	// a fresh temp dir per launch (spec §6's --user-data-dir).
	UserDataDir string
	// CDPEndpoint attaches to an already-running Chrome instead of
	// launching one (spec §6's --cdp-endpoint); when set, BrowserPath and
	// the anti-detection launcher flags are skipped entirely.
	CDPEndpoint string
}

// rodDriver is the production Driver backed by go-rod + stealth.
type rodDriver struct {
	opts    LaunchOptions
	browser *rod.Browser
}

// NewRodDriver launches a browser process and returns the Driver façade.
// There is exactly one rodDriver per broker process (spec §9).
func NewRodDriver(opts LaunchOptions) (Driver, error) {
	controlURL := opts.CDPEndpoint
	if controlURL == "" {
		l := createLauncher(opts)
		launched, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = launched
	} else {
		log.Info().Str("endpoint", opts.CDPEndpoint).Msg("attaching to existing browser via CDP, skipping local launch")
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	if opts.IgnoreCertErrors {
		log.Warn().Msg("certificate validation disabled for this driver")
		if err := browser.IgnoreCertErrors(true); err != nil {
			log.Warn().Err(err).Msg("failed to set IgnoreCertErrors")
		}
	}
	return &rodDriver{opts: opts, browser: browser}, nil
}

// createLauncher builds the Chrome launcher with the same anti-detection
// and container-safety flag set the teacher's browser pool uses, generalized
// away from FlareSolverr-specific proxy/solver options.
func createLauncher(opts LaunchOptions) *launcher.Launcher {
	l := launcher.New()
	if opts.BrowserPath != "" {
		l = l.Bin(opts.BrowserPath)
	}
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}

	if opts.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp").
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation").
		Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees,WebRtcHideLocalIpsWithMdns").
		Set("enable-features", "NetworkService,NetworkServiceInProcess").
		Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader").
		Set("enable-webgl").
		Set("enable-webgl2").
		Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote").
		Set("safebrowsing-disable-auto-update").
		Set("disable-ipc-flooding-protection").
		Set("disable-renderer-backgrounding").
		Set("disable-gpu-sandbox")

	if opts.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors").Set("ignore-ssl-errors")
	}

	w, h := opts.WindowWidth, opts.WindowHeight
	if w == 0 {
		w = 1920
	}
	if h == 0 {
		h = 1080
	}
	l = l.Set("window-size", fmt.Sprintf("%d,%d", w, h))

	if runtime.GOARCH == "arm64" || runtime.GOARCH == "arm" {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

func (d *rodDriver) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	browserCtx := d.browser.Context(ctx)
	if opts.Proxy != "" {
		if err := security.ValidateProxyURL(opts.Proxy, false); err != nil {
			return nil, types.NewKindErrorf(types.KindBadInput, "invalid proxy URL", err.Error(), err)
		}
		log.Debug().Str("proxy", security.RedactProxyURL(opts.Proxy)).Msg("browser context using proxy")
	}
	rc := &rodContext{browser: browserCtx}
	if opts.StorageState != nil {
		if err := rc.SetCookies(ctx, opts.StorageState.Cookies); err != nil {
			return nil, err
		}
	}
	return rc, nil
}

func (d *rodDriver) Close(ctx context.Context) error {
	return d.browser.Close()
}

// rodContext wraps one context.Page()-scoped slice of the shared browser
// process; go-rod has no first-class "browser context" object, so isolation
// is achieved at the session layer (one rodDriver per broker, one set of
// pages per Session) rather than a true CDP browser-context.
type rodContext struct {
	browser *rod.Browser
	mu      sync.Mutex
	pages   []*rodPage
}

func (c *rodContext) NewPage(ctx context.Context, startURL string) (Page, error) {
	page, err := stealth.Page(c.browser)
	if err != nil {
		return nil, fmt.Errorf("create stealth page: %w", err)
	}
	page = page.Context(ctx)
	rp := &rodPage{page: page, id: fmt.Sprintf("page-%p", page)}
	if startURL != "" {
		if err := rp.Navigate(ctx, startURL); err != nil {
			_ = page.Close()
			return nil, err
		}
	}
	c.mu.Lock()
	c.pages = append(c.pages, rp)
	c.mu.Unlock()
	return rp, nil
}

func (c *rodContext) Cookies(ctx context.Context) ([]types.Cookie, error) {
	result, err := proto.NetworkGetAllCookies{}.Call(c.browser)
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return convertCookies(result.Cookies), nil
}

func (c *rodContext) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, ck := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  proto.TimeSinceEpoch(ck.Expires),
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		})
	}
	return proto.NetworkSetCookies{Cookies: params}.Call(c.browser)
}

func (c *rodContext) StorageState(ctx context.Context) (types.StorageState, error) {
	cookies, err := c.Cookies(ctx)
	if err != nil {
		return types.StorageState{}, err
	}
	state := types.StorageState{Cookies: cookies, LocalStorage: map[string]map[string]string{}}
	c.mu.Lock()
	pages := append([]*rodPage(nil), c.pages...)
	c.mu.Unlock()
	for _, p := range pages {
		ls, err := p.GetLocalStorage(ctx)
		if err != nil {
			continue
		}
		if len(ls) > 0 {
			state.LocalStorage[p.URL()] = ls
		}
	}
	return state, nil
}

func (c *rodContext) ClearCookies(ctx context.Context) error {
	return proto.NetworkClearBrowserCookies{}.Call(c.browser)
}

func (c *rodContext) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pages {
		_ = p.Close(ctx)
	}
	return nil
}

func convertCookies(src []*proto.NetworkCookie) []types.Cookie {
	out := make([]types.Cookie, 0, len(src))
	for _, ck := range src {
		out = append(out, types.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  float64(ck.Expires),
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: string(ck.SameSite),
		})
	}
	return out
}

// ringBuffer is a bounded FIFO of RingEntry used for console/network taps.
type ringBuffer struct {
	mu      sync.Mutex
	entries []types.RingEntry
	cap     int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{cap: capacity}
}

func (r *ringBuffer) push(e types.RingEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

func (r *ringBuffer) drain() []types.RingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.entries
	r.entries = nil
	return out
}

const defaultRingCapacity = 200

// rodPage is the production Page implementation.
type rodPage struct {
	id      string
	page    *rod.Page
	console *ringBuffer
	network *ringBuffer
	tapOnce sync.Once

	dialogMu     sync.Mutex
	dialogAction DialogAction
	dialogPrompt string
}

func (p *rodPage) ID() string { return p.id }

func (p *rodPage) startTaps() {
	p.tapOnce.Do(func() {
		p.console = newRingBuffer(defaultRingCapacity)
		p.network = newRingBuffer(defaultRingCapacity)
		go p.page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
			p.console.push(types.RingEntry{Timestamp: time.Now(), Kind: string(e.Type), Text: consoleArgsText(e.Args)})
		}, func(e *proto.NetworkRequestWillBeSent) {
			p.network.push(types.RingEntry{Timestamp: time.Now(), Kind: "request", Text: string(e.Request.Method) + " " + e.Request.URL})
		}, func(e *proto.NetworkResponseReceived) {
			p.network.push(types.RingEntry{Timestamp: time.Now(), Kind: "response", Text: fmt.Sprintf("%d %s", e.Response.Status, e.Response.URL)})
		}, func(e *proto.PageJavascriptDialogOpening) {
			p.dialogMu.Lock()
			action, promptText := p.dialogAction, p.dialogPrompt
			p.dialogMu.Unlock()
			accept := action == DialogAccept
			_ = proto.PageHandleJavaScriptDialog{Accept: accept, PromptText: promptText}.Call(p.page)
		})()
	})
}

func consoleArgsText(args []*proto.RuntimeRemoteObject) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		if a.Value != nil {
			out += fmt.Sprintf("%v", a.Value.Val())
		} else {
			out += a.Description
		}
	}
	return out
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return types.NewDriverError("navigate", err.Error(), err)
	}
	if err := page.WaitLoad(); err != nil {
		return types.NewDriverError("navigate.wait_load", err.Error(), err)
	}
	p.startTaps()
	return nil
}

// SetExtraHeaders replaces the page's extra HTTP headers. Callers must run
// the supplied map through security.ValidateHeaders first; this method
// trusts its input.
func (p *rodPage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		h[k] = gson.New(v)
	}
	if err := (proto.NetworkSetExtraHTTPHeaders{Headers: h}).Call(p.page.Context(ctx)); err != nil {
		return types.NewDriverError("set_extra_headers", err.Error(), err)
	}
	return nil
}

func (p *rodPage) NavigateBack(ctx context.Context) error {
	if err := p.page.Context(ctx).NavigateBack(); err != nil {
		return types.NewDriverError("navigate_back", err.Error(), err)
	}
	return p.page.Context(ctx).WaitLoad()
}

func (p *rodPage) NavigateForward(ctx context.Context) error {
	if err := p.page.Context(ctx).NavigateForward(); err != nil {
		return types.NewDriverError("navigate_forward", err.Error(), err)
	}
	return p.page.Context(ctx).WaitLoad()
}

func (p *rodPage) Reload(ctx context.Context) error {
	if err := p.page.Context(ctx).Reload(); err != nil {
		return types.NewDriverError("reload", err.Error(), err)
	}
	return p.page.Context(ctx).WaitLoad()
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", types.NewDriverError("title", err.Error(), err)
	}
	return info.Title, nil
}

// AccessibilitySnapshot pulls the full AX tree via CDP and flattens it into
// SnapshotEntry rows keyed by accessibility node id; the snapshot package assigns
// the caller-visible "ref-N" strings and owns version bookkeeping.
func (p *rodPage) AccessibilitySnapshot(ctx context.Context) ([]types.SnapshotEntry, string, error) {
	page := p.page.Context(ctx)
	tree, err := proto.AccessibilityGetFullAXTree{}.Call(page)
	if err != nil {
		return nil, "", types.NewDriverError("accessibility_snapshot", err.Error(), err)
	}
	entries := make([]types.SnapshotEntry, 0, len(tree.Nodes))
	text := ""
	for _, n := range tree.Nodes {
		role := ""
		if n.Role != nil {
			role = fmt.Sprintf("%v", n.Role.Value)
		}
		name := ""
		if n.Name != nil {
			name = fmt.Sprintf("%v", n.Name.Value)
		}
		if role == "" && name == "" {
			continue
		}
		entries = append(entries, types.SnapshotEntry{
			Locator: string(n.NodeID),
			Role:    role,
			Name:    name,
		})
		text += fmt.Sprintf("%s %q\n", role, name)
	}
	return entries, text, nil
}

// ExtractLinks evaluates the page's anchor tags directly rather than
// filtering AccessibilitySnapshot's AX-role output, since hrefs have no AX
// role of their own (spec §4.6 observe step needs real URLs to apply
// domain/regex/binary-extension eligibility filters).
func (p *rodPage) ExtractLinks(ctx context.Context, limit int) ([]types.LinkCandidate, error) {
	expr := fmt.Sprintf(`() => {
		const out = [];
		const anchors = document.querySelectorAll('a[href]');
		for (const a of anchors) {
			if (out.length >= %d) break;
			out.push({url: a.href, text: (a.textContent || '').trim().slice(0, 200)});
		}
		return JSON.stringify(out);
	}`, limit)
	result, err := proto.RuntimeCallFunctionOn{
		FunctionDeclaration: expr,
		ReturnByValue:       true,
	}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, types.NewDriverError("extract_links", err.Error(), err)
	}
	var links []types.LinkCandidate
	if result.Result.Value != nil {
		if err := json.Unmarshal([]byte(result.Result.Value.Str()), &links); err != nil {
			return nil, types.NewDriverError("extract_links", "malformed link payload: "+err.Error(), err)
		}
	}
	return links, nil
}

// ExtractClickables surfaces non-anchor interactive elements (buttons,
// inputs, role=button) so the planner can propose click actions beyond
// navigation (spec §4.6: "extracted clickableElements[]"). Refs are
// synthesized from each element's position in this pass and only remain
// valid until the next AccessibilitySnapshot bumps the page's ref epoch.
func (p *rodPage) ExtractClickables(ctx context.Context, limit int) ([]types.ClickableCandidate, error) {
	expr := fmt.Sprintf(`() => {
		function cssPath(el) {
			const parts = [];
			while (el && el.nodeType === 1 && parts.length < 6) {
				let part = el.tagName.toLowerCase();
				if (el.id) { parts.unshift(part + '#' + el.id); break; }
				const parent = el.parentElement;
				if (parent) {
					const siblings = Array.from(parent.children).filter(c => c.tagName === el.tagName);
					if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(el) + 1) + ')';
				}
				parts.unshift(part);
				el = parent;
			}
			return parts.join(' > ');
		}
		const out = [];
		const sel = 'button, input, select, textarea, [role=button], [role=link], [role=tab], [role=menuitem]';
		const els = document.querySelectorAll(sel);
		for (const el of els) {
			if (out.length >= %d) break;
			const text = (el.innerText || el.value || el.getAttribute('aria-label') || '').trim().slice(0, 200);
			const role = el.getAttribute('role') || el.tagName.toLowerCase();
			out.push({text, role, locator: cssPath(el)});
		}
		return JSON.stringify(out);
	}`, limit)
	result, err := proto.RuntimeCallFunctionOn{
		FunctionDeclaration: expr,
		ReturnByValue:       true,
	}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, types.NewDriverError("extract_clickables", err.Error(), err)
	}
	var raw []struct {
		Text    string `json:"text"`
		Role    string `json:"role"`
		Locator string `json:"locator"`
	}
	if result.Result.Value != nil {
		if err := json.Unmarshal([]byte(result.Result.Value.Str()), &raw); err != nil {
			return nil, types.NewDriverError("extract_clickables", "malformed clickable payload: "+err.Error(), err)
		}
	}
	out := make([]types.ClickableCandidate, len(raw))
	for i, r := range raw {
		out[i] = types.ClickableCandidate{
			Ref:     types.ElementRef(fmt.Sprintf("clk-%d", i)),
			Text:    r.Text,
			Role:    r.Role,
			Locator: r.Locator,
		}
	}
	return out, nil
}

func (p *rodPage) elementByLocator(ctx context.Context, locator string) (*rod.Element, error) {
	page := p.page.Context(ctx).Timeout(10 * time.Second)
	el, err := page.ElementX(locator)
	if err == nil {
		return el, nil
	}
	return page.Element(locator)
}

func (p *rodPage) Click(ctx context.Context, locator string) error {
	el, err := p.elementByLocator(ctx, locator)
	if err != nil {
		return types.NewDriverError("click", err.Error(), err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return types.NewDriverError("click", err.Error(), err)
	}
	return nil
}

func (p *rodPage) Hover(ctx context.Context, locator string) error {
	el, err := p.elementByLocator(ctx, locator)
	if err != nil {
		return types.NewDriverError("hover", err.Error(), err)
	}
	if err := el.Hover(); err != nil {
		return types.NewDriverError("hover", err.Error(), err)
	}
	return nil
}

func (p *rodPage) Type(ctx context.Context, locator, text string) error {
	el, err := p.elementByLocator(ctx, locator)
	if err != nil {
		return types.NewDriverError("type", err.Error(), err)
	}
	if err := el.Input(text); err != nil {
		return types.NewDriverError("type", err.Error(), err)
	}
	return nil
}

func (p *rodPage) PressKey(ctx context.Context, key string) error {
	k, ok := keyByName[key]
	if !ok {
		return types.NewKindErrorf(types.KindBadInput, "unknown key name", key, nil)
	}
	if err := p.page.Context(ctx).Keyboard.Press(k); err != nil {
		return types.NewDriverError("press_key", err.Error(), err)
	}
	return nil
}

func (p *rodPage) Drag(ctx context.Context, fromLocator, toLocator string) error {
	from, err := p.elementByLocator(ctx, fromLocator)
	if err != nil {
		return types.NewDriverError("drag", err.Error(), err)
	}
	to, err := p.elementByLocator(ctx, toLocator)
	if err != nil {
		return types.NewDriverError("drag", err.Error(), err)
	}
	fromShape, err := from.Shape()
	if err != nil {
		return types.NewDriverError("drag", err.Error(), err)
	}
	toShape, err := to.Shape()
	if err != nil {
		return types.NewDriverError("drag", err.Error(), err)
	}
	fromPt := fromShape.Box().Center()
	toPt := toShape.Box().Center()
	page := p.page.Context(ctx)
	if err := page.Mouse.MoveTo(fromPt); err != nil {
		return types.NewDriverError("drag", err.Error(), err)
	}
	if err := page.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return types.NewDriverError("drag", err.Error(), err)
	}
	if err := page.Mouse.MoveTo(toPt); err != nil {
		return types.NewDriverError("drag", err.Error(), err)
	}
	if err := page.Mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return types.NewDriverError("drag", err.Error(), err)
	}
	return nil
}

func (p *rodPage) Scroll(ctx context.Context, dx, dy int) error {
	if err := p.page.Context(ctx).Mouse.Scroll(float64(dx), float64(dy), 1); err != nil {
		return types.NewDriverError("scroll", err.Error(), err)
	}
	return nil
}

func (p *rodPage) ScrollToElement(ctx context.Context, locator string) error {
	el, err := p.elementByLocator(ctx, locator)
	if err != nil {
		return types.NewDriverError("scroll_to_element", err.Error(), err)
	}
	if err := el.ScrollIntoView(); err != nil {
		return types.NewDriverError("scroll_to_element", err.Error(), err)
	}
	return nil
}

func (p *rodPage) UploadFile(ctx context.Context, locator string, filePaths []string) error {
	el, err := p.elementByLocator(ctx, locator)
	if err != nil {
		return types.NewDriverError("upload_file", err.Error(), err)
	}
	if err := el.SetFiles(filePaths); err != nil {
		return types.NewDriverError("upload_file", err.Error(), err)
	}
	return nil
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, types.NewDriverError("screenshot", err.Error(), err)
	}
	return data, nil
}

func (p *rodPage) PDF(ctx context.Context) ([]byte, error) {
	reader, err := p.page.Context(ctx).PDF(&proto.PagePrintToPDF{})
	if err != nil {
		return nil, types.NewDriverError("pdf", err.Error(), err)
	}
	defer reader.Close()
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

func (p *rodPage) EmulateMedia(ctx context.Context, m MediaEmulation) error {
	req := &proto.EmulationSetEmulatedMedia{Media: m.Media}
	if m.ColorScheme != "" {
		req.Features = append(req.Features, &proto.EmulationMediaFeature{Name: "prefers-color-scheme", Value: m.ColorScheme})
	}
	if m.ReducedMotion != "" {
		req.Features = append(req.Features, &proto.EmulationMediaFeature{Name: "prefers-reduced-motion", Value: m.ReducedMotion})
	}
	if err := req.Call(p.page.Context(ctx)); err != nil {
		return types.NewDriverError("emulate_media", err.Error(), err)
	}
	return nil
}

func (p *rodPage) EmulateGeolocation(ctx context.Context, geo Geolocation) error {
	req := proto.EmulationSetGeolocationOverride{
		Latitude:  geo.Latitude,
		Longitude: geo.Longitude,
		Accuracy:  geo.Accuracy,
	}
	if err := req.Call(p.page.Context(ctx)); err != nil {
		return types.NewDriverError("emulate_geolocation", err.Error(), err)
	}
	return nil
}

func (p *rodPage) EmulateTimezone(ctx context.Context, tz string) error {
	req := proto.EmulationSetTimezoneOverride{TimezoneID: tz}
	if err := req.Call(p.page.Context(ctx)); err != nil {
		return types.NewDriverError("emulate_timezone", err.Error(), err)
	}
	return nil
}

func (p *rodPage) ClockInstall(ctx context.Context, fixedAt time.Time) error {
	req := proto.EmulationSetVirtualTimePolicy{
		Policy:               proto.EmulationSetVirtualTimePolicyPolicyPause,
		InitialVirtualTime:   proto.TimeSinceEpoch(float64(fixedAt.UnixMilli()) / 1000),
	}
	if err := req.Call(p.page.Context(ctx)); err != nil {
		return types.NewDriverError("clock_install", err.Error(), err)
	}
	return nil
}

func (p *rodPage) ClockFastForward(ctx context.Context, d time.Duration) error {
	req := proto.EmulationSetVirtualTimePolicy{
		Policy:  proto.EmulationSetVirtualTimePolicyPolicyAdvance,
		Budget:  float64(d.Milliseconds()),
	}
	if err := req.Call(p.page.Context(ctx)); err != nil {
		return types.NewDriverError("clock_fast_forward", err.Error(), err)
	}
	return nil
}

func (p *rodPage) ClockPause(ctx context.Context, at time.Time) error {
	req := proto.EmulationSetVirtualTimePolicy{
		Policy:             proto.EmulationSetVirtualTimePolicyPolicyPause,
		InitialVirtualTime: proto.TimeSinceEpoch(float64(at.UnixMilli()) / 1000),
	}
	if err := req.Call(p.page.Context(ctx)); err != nil {
		return types.NewDriverError("clock_pause", err.Error(), err)
	}
	return nil
}

func (p *rodPage) ClockResume(ctx context.Context) error {
	req := proto.EmulationSetVirtualTimePolicy{Policy: proto.EmulationSetVirtualTimePolicyPolicyAdvance}
	if err := req.Call(p.page.Context(ctx)); err != nil {
		return types.NewDriverError("clock_resume", err.Error(), err)
	}
	return nil
}

func (p *rodPage) ClockSetFixedTime(ctx context.Context, at time.Time) error {
	return p.ClockInstall(ctx, at)
}

func (p *rodPage) SetLocalStorage(ctx context.Context, key, value string) error {
	expr := fmt.Sprintf("() => { window.localStorage.setItem(%q, %q) }", key, value)
	_, err := proto.RuntimeCallFunctionOn{
		FunctionDeclaration: expr,
	}.Call(p.page.Context(ctx))
	if err != nil {
		return types.NewDriverError("set_local_storage", err.Error(), err)
	}
	return nil
}

func (p *rodPage) GetLocalStorage(ctx context.Context) (map[string]string, error) {
	result, err := proto.RuntimeEvaluate{
		Expression: "JSON.stringify(window.localStorage)",
		ReturnByValue: true,
	}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, types.NewDriverError("get_local_storage", err.Error(), err)
	}
	if result.Result.Value == nil {
		return map[string]string{}, nil
	}
	raw := result.Result.Value.Str()
	out := map[string]string{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out, nil
}

func (p *rodPage) ConsoleMessages(ctx context.Context) ([]types.RingEntry, error) {
	p.startTaps()
	return p.console.drain(), nil
}

func (p *rodPage) NetworkRequests(ctx context.Context) ([]types.RingEntry, error) {
	p.startTaps()
	return p.network.drain(), nil
}

func (p *rodPage) WaitForNetworkIdle(ctx context.Context, idleFor time.Duration) error {
	wait := p.page.Context(ctx).WaitRequestIdle(idleFor, nil, nil, nil)
	wait()
	return nil
}

func (p *rodPage) WaitForText(ctx context.Context, text string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	_, err := page.ElementR("*", text)
	if err != nil {
		return types.NewKindErrorf(types.KindTimeout, "text not found before timeout", text, err)
	}
	return nil
}

func (p *rodPage) HandleDialog(ctx context.Context, action DialogAction, promptText string) error {
	p.dialogMu.Lock()
	p.dialogAction = action
	p.dialogPrompt = promptText
	p.dialogMu.Unlock()
	p.startTaps()
	return nil
}

func (p *rodPage) Close(ctx context.Context) error {
	return p.page.Close()
}

var keyByName = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	"Space":      input.Space,
}
