package crawl

import (
	"regexp"
	"testing"
	"time"

	"github.com/darbotlabs/browser-broker/internal/types"
)

// Tests use literal IPs from the TEST-NET-3 documentation range (RFC 5737)
// rather than hostnames: checkNavigate now runs every target through
// security.ValidateURL first, and that validator resolves any non-literal
// hostname over real DNS. Literal IPs take the no-lookup path so these stay
// deterministic without depending on network access.

func TestCheckNavigateRejectsNonHTTPScheme(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: "javascript:alert(1)"}, 0)
	assertGuardrailRule(t, err, "ssrf_policy")
}

func TestCheckNavigateRejectsOffAllowlistHost(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: "https://203.0.113.11"}, 0)
	assertGuardrailRule(t, err, "host_allowlist")
}

func TestCheckNavigateAllowsSameHost(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: "https://203.0.113.10/page"}, 0)
	if err != nil {
		t.Fatalf("expected same-host navigation allowed, got %v", err)
	}
}

func TestCheckNavigateRejectsBlockedHost(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	g.allowedHost = "" // simulate an unrestricted crawl root
	g.blockedHosts["203.0.113.12"] = true
	err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: "https://203.0.113.12/x"}, 0)
	assertGuardrailRule(t, err, "host_blocklist")
}

func TestCheckNavigateRejectsBlockedRegex(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	g.blockedRegex = regexp.MustCompile(`/logout`)
	err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: "https://203.0.113.10/logout"}, 0)
	assertGuardrailRule(t, err, "blocked_regex")
}

func TestCheckNavigateRejectsPrivateIPTarget(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	g.allowedHost = ""
	err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: "http://169.254.169.254/latest/meta-data"}, 0)
	assertGuardrailRule(t, err, "ssrf_policy")
}

func TestCheckRejectsBeyondMaxDepth(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 3, time.Hour, 100, 100)
	err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: "https://203.0.113.10/page"}, 4)
	assertGuardrailRule(t, err, "depth_cap")
}

func TestCheckRejectsAfterSessionTimeout(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, -time.Second, 100, 100)
	err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: "https://203.0.113.10/page"}, 0)
	assertGuardrailRule(t, err, "session_timeout")
}

func TestCheckRejectsOverRateLimit(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 1, 1)
	action := types.PlannedAction{Kind: types.ActionNavigate, Target: "https://203.0.113.10/page"}
	if err := g.Check(action, 0); err != nil {
		t.Fatalf("expected first call within burst to be allowed, got %v", err)
	}
	err := g.Check(action, 0)
	assertGuardrailRule(t, err, "rate_limit")
}

func TestCheckClickRejectsDestructiveIntent(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	err := g.Check(types.PlannedAction{Kind: types.ActionClick, Text: "Delete my account"}, 0)
	assertGuardrailRule(t, err, "destructive_intent")
}

func TestCheckTypeRejectsSensitiveInput(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	err := g.Check(types.PlannedAction{Kind: types.ActionType, Target: "password field", Text: "hunter2"}, 0)
	assertGuardrailRule(t, err, "sensitive_input")
}

func TestCheckLoopDetectsSameURLRepeated(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	target := "https://203.0.113.10/page"
	for i := 0; i < 3; i++ {
		if err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: target}, 0); err != nil {
			t.Fatalf("unexpected rejection on visit %d: %v", i, err)
		}
		g.RecordAllowed(types.PlannedAction{Kind: types.ActionNavigate, Target: target})
	}
	err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: target}, 0)
	assertGuardrailRule(t, err, "loop_repeat")
}

func TestCheckLoopDetectsABOscillation(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 1000, 1000)
	a, b := "https://203.0.113.10/a", "https://203.0.113.10/b"
	seq := []string{a, b, a, b, a}
	for _, target := range seq {
		if err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: target}, 0); err != nil {
			t.Fatalf("unexpected rejection navigating to %s: %v", target, err)
		}
		g.RecordAllowed(types.PlannedAction{Kind: types.ActionNavigate, Target: target})
	}
	err := g.Check(types.PlannedAction{Kind: types.ActionNavigate, Target: b}, 0)
	assertGuardrailRule(t, err, "loop_oscillation")
}

func TestRecordAllowedIgnoresNonNavigateActions(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	g.RecordAllowed(types.PlannedAction{Kind: types.ActionClick, Target: "ref-1"})
	if len(g.history) != 0 {
		t.Errorf("expected click actions not to enter navigation history, got %d entries", len(g.history))
	}
}

func TestRecordAllowedTracksPerHostVisits(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	g.RecordAllowed(types.PlannedAction{Kind: types.ActionNavigate, Target: "https://203.0.113.10/a"})
	g.RecordAllowed(types.PlannedAction{Kind: types.ActionNavigate, Target: "https://203.0.113.10/b"})
	if g.perHostVisits["203.0.113.10"] != 2 {
		t.Errorf("expected 2 visits tallied for 203.0.113.10, got %d", g.perHostVisits["203.0.113.10"])
	}
}

func assertGuardrailRule(t *testing.T, err error, wantRule string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a guardrail rejection for rule %q, got nil", wantRule)
	}
	ge, ok := err.(*types.GuardrailError)
	if !ok {
		t.Fatalf("expected *types.GuardrailError, got %T: %v", err, err)
	}
	if ge.Rule != wantRule {
		t.Errorf("expected rule %q, got %q (%v)", wantRule, ge.Rule, ge)
	}
}
