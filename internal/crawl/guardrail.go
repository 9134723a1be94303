package crawl

import (
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/darbotlabs/browser-broker/internal/security"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// tokenBucket is a single-key rate limiter, grounded on the shape of
// internal/middleware/ratelimit.go's per-IP client{tokens, lastReset}
// bucket but simplified to the crawl guardrail's one caller (the
// orchestrator's own loop, never a remote IP).
type tokenBucket struct {
	mu        sync.Mutex
	capacity  int
	tokens    int
	rate      int // tokens replenished per window
	window    time.Duration
	lastReset time.Time
}

func newTokenBucket(ratePerSecond, burst int) *tokenBucket {
	return &tokenBucket{
		capacity:  burst,
		tokens:    burst,
		rate:      ratePerSecond,
		window:    time.Second,
		lastReset: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if elapsed := now.Sub(b.lastReset); elapsed >= b.window {
		refill := int(elapsed/b.window) * b.rate
		b.tokens = min(b.capacity, b.tokens+refill)
		b.lastReset = now
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// navHistoryEntry is one allowed navigation, retained only long enough to
// drive loop detection (spec §4.6: "an hour-bounded history used only for
// loop detection").
type navHistoryEntry struct {
	url string
	at  time.Time
}

// guardrailChain evaluates a candidate action against spec §4.6's ordered
// rule list; the first triggering rule wins. One chain is owned per active
// crawl — it is not shared across crawls (spec §5).
type guardrailChain struct {
	rate          *tokenBucket
	deadline      time.Time
	maxDepth      int
	allowedHost   string
	blockedHosts  map[string]bool
	blockedRegex  *regexp.Regexp
	perHostCap    int
	perHostVisits map[string]int

	mu      sync.Mutex
	history []navHistoryEntry
}

func newGuardrailChain(startURL string, maxDepth int, sessionTimeout time.Duration, ratePerSecond, burst int) *guardrailChain {
	g := &guardrailChain{
		rate:          newTokenBucket(ratePerSecond, burst),
		deadline:      time.Now().Add(sessionTimeout),
		maxDepth:      maxDepth,
		blockedHosts:  make(map[string]bool),
		perHostCap:    1000,
		perHostVisits: make(map[string]int),
	}
	if u, err := url.Parse(startURL); err == nil {
		g.allowedHost = u.Hostname()
	}
	return g
}

// Check runs the ordered rule chain for action at depth. It returns nil
// when the action is allowed, or a *types.GuardrailError naming the rule
// that rejected it.
func (g *guardrailChain) Check(action types.PlannedAction, depth int) error {
	if !g.rate.allow() {
		return types.NewGuardrailError("rate_limit", "rate limit exceeded")
	}
	if time.Now().After(g.deadline) {
		return types.NewGuardrailError("session_timeout", "crawl session timeout exceeded")
	}
	if depth > g.maxDepth {
		return types.NewGuardrailError("depth_cap", "maximum crawl depth exceeded")
	}

	switch action.Kind {
	case types.ActionNavigate:
		if err := g.checkNavigate(action.Target); err != nil {
			return err
		}
	case types.ActionClick:
		if containsAny(strings.ToLower(action.Text+" "+action.Reason), destructiveKeywords) {
			return types.NewGuardrailError("destructive_intent", "click target matches a destructive-intent pattern")
		}
	case types.ActionType:
		if containsAny(strings.ToLower(action.Target+" "+action.Text), sensitivePatterns) {
			return types.NewGuardrailError("sensitive_input", "type target or text matches a sensitive-data pattern")
		}
	}
	return nil
}

var sensitivePatterns = []string{"password", "passwd", "token", "secret", "credit-card", "credit card", "ccv", "cvv", "ssn", "social security"}

func (g *guardrailChain) checkNavigate(rawURL string) error {
	// Scheme/private-IP/cloud-metadata SSRF checks are delegated to
	// internal/security, the same validator browser_navigate runs against
	// a caller-supplied URL, so a crawl can't reach anything a direct tool
	// call couldn't.
	if err := security.ValidateURL(rawURL); err != nil {
		return types.NewGuardrailError("ssrf_policy", err.Error())
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return types.NewGuardrailError("scheme", "URL scheme is not http(s)")
	}
	if g.allowedHost != "" && u.Hostname() != g.allowedHost {
		return types.NewGuardrailError("host_allowlist", "host not in allow-list")
	}
	g.mu.Lock()
	blocked := g.blockedHosts[u.Hostname()]
	blockedRegex := g.blockedRegex
	g.mu.Unlock()
	if blocked {
		return types.NewGuardrailError("host_blocklist", "host is block-listed")
	}
	if blockedRegex != nil && blockedRegex.MatchString(rawURL) {
		return types.NewGuardrailError("blocked_regex", "URL matches a blocked pattern")
	}
	if g.perHostVisits[u.Hostname()] >= g.perHostCap {
		return types.NewGuardrailError("per_host_cap", "per-host visit cap exceeded")
	}
	if err := g.checkLoop(rawURL); err != nil {
		return err
	}
	return nil
}

// checkLoop implements spec §4.6's infinite-loop detection: the same URL
// visited 3+ times inside the last 60s, or an A-B oscillation over the last
// six navigations.
func (g *guardrailChain) checkLoop(rawURL string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := time.Now().Add(-60 * time.Second)
	count := 0
	for _, h := range g.history {
		if h.url == rawURL && h.at.After(cutoff) {
			count++
		}
	}
	if count >= 3 {
		return types.NewGuardrailError("loop_repeat", "same URL visited 3 or more times in the last 60 seconds")
	}

	n := len(g.history)
	if n >= 5 {
		window := make([]string, 0, 6)
		for _, h := range g.history[n-5:] {
			window = append(window, h.url)
		}
		window = append(window, rawURL)

		a, b := window[len(window)-1], window[len(window)-2]
		if a != b {
			oscillating := true
			for i, u := range window {
				want := a
				if i%2 != (len(window)-1)%2 {
					want = b
				}
				if u != want {
					oscillating = false
					break
				}
			}
			if oscillating {
				return types.NewGuardrailError("loop_oscillation", "A/B navigation oscillation detected")
			}
		}
	}
	return nil
}

// RecordAllowed appends an allowed navigate action to the loop-detection
// history and its per-host visit tally (spec §4.6: "allowed actions are
// appended to an hour-bounded history used only for loop detection").
func (g *guardrailChain) RecordAllowed(action types.PlannedAction) {
	if action.Kind != types.ActionNavigate {
		return
	}
	if u, err := url.Parse(action.Target); err == nil {
		g.perHostVisits[u.Hostname()]++
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := time.Now().Add(-time.Hour)
	kept := g.history[:0]
	for _, h := range g.history {
		if h.at.After(cutoff) {
			kept = append(kept, h)
		}
	}
	g.history = append(kept, navHistoryEntry{url: action.Target, at: time.Now()})
}
