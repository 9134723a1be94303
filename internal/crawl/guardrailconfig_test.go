package crawl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadGuardrailPolicyMissingFileIsNotAnError(t *testing.T) {
	p, err := loadGuardrailPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("expected no error for a missing policy file, got %v", err)
	}
	if len(p.BlockedHosts) != 0 || p.BlockedPattern != "" {
		t.Errorf("expected zero-value policy, got %+v", p)
	}
}

func TestLoadGuardrailPolicyParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	yaml := "blockedHosts:\n  - bad.example\n  - 203.0.113.12\nblockedPattern: /logout\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := loadGuardrailPolicy(path)
	if err != nil {
		t.Fatalf("loadGuardrailPolicy: %v", err)
	}
	if len(p.BlockedHosts) != 2 || p.BlockedHosts[1] != "203.0.113.12" {
		t.Errorf("unexpected blocked hosts: %v", p.BlockedHosts)
	}
	if p.BlockedPattern != "/logout" {
		t.Errorf("expected blockedPattern /logout, got %q", p.BlockedPattern)
	}
}

func TestApplyPolicyReplacesBlockedHostsAndPattern(t *testing.T) {
	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	g.ApplyPolicy(GuardrailPolicy{
		BlockedHosts:   []string{"203.0.113.12"},
		BlockedPattern: "/logout",
	})

	if err := g.checkNavigate("https://203.0.113.10/logout"); err == nil {
		t.Fatal("expected blockedPattern to reject /logout")
	}
	g.allowedHost = ""
	if err := g.checkNavigate("https://203.0.113.12/x"); err == nil {
		t.Fatal("expected the reloaded block-list to reject 203.0.113.12")
	}
}

func TestWatchGuardrailPolicyReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("blockedHosts: [203.0.113.12]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	g := newGuardrailChain("https://203.0.113.10", 10, time.Hour, 100, 100)
	g.allowedHost = ""
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchGuardrailPolicy(ctx, path, g.ApplyPolicy)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		loaded := g.blockedHosts["203.0.113.12"]
		g.mu.Unlock()
		if loaded {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := g.checkNavigate("https://203.0.113.12/x"); err == nil {
		t.Fatal("expected initial policy load to reject 203.0.113.12")
	}

	if err := os.WriteFile(path, []byte("blockedHosts: [203.0.113.13]\n"), 0o644); err != nil {
		t.Fatalf("rewrite policy file: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	var reloaded bool
	for time.Now().Before(deadline) {
		g.mu.Lock()
		reloaded = g.blockedHosts["203.0.113.13"] && !g.blockedHosts["203.0.113.12"]
		g.mu.Unlock()
		if reloaded {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !reloaded {
		t.Fatal("expected policy file rewrite to be picked up by the watcher")
	}
}
