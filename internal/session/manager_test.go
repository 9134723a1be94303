package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/darbotlabs/browser-broker/internal/driver"
	"github.com/darbotlabs/browser-broker/internal/types"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(driver.NewMockDriver(), 5, time.Second, 500*time.Millisecond)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestManagerCreateAndGet(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "", driver.ContextOptions{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if s.ID == "" {
		t.Fatal("expected a generated session id")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("expected session %q, got %q", s.ID, got.ID)
	}
}

func TestManagerCreateDuplicateFails(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "dup-session-0001", driver.ContextOptions{}); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}
	_, err := m.Create(ctx, "dup-session-0001", driver.ContextOptions{})
	if !errors.Is(err, types.ErrSessionAlreadyExists) {
		t.Errorf("expected ErrSessionAlreadyExists, got %v", err)
	}
}

func TestManagerMaxSessionsExhausted(t *testing.T) {
	m := NewManager(driver.NewMockDriver(), 1, time.Minute, time.Minute)
	defer m.Close(context.Background())
	ctx := context.Background()

	if _, err := m.Create(ctx, "session-one-0001", driver.ContextOptions{}); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}
	_, err := m.Create(ctx, "session-two-0002", driver.ContextOptions{})
	if !errors.Is(err, types.ErrTooManySessions) {
		t.Errorf("expected ErrTooManySessions, got %v", err)
	}
}

func TestManagerDestroy(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "to-destroy-00001", driver.ContextOptions{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := m.Destroy(ctx, s.ID); err != nil {
		t.Fatalf("Destroy returned error: %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after destroy, got %v", err)
	}
}

func TestSessionTabLifecycle(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "tabs-session-001", driver.ContextOptions{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	s.Lock()
	defer s.Unlock()

	if _, err := s.CurrentTab(); !errors.Is(err, types.ErrNoCurrentTab) {
		t.Errorf("expected ErrNoCurrentTab before any tab exists, got %v", err)
	}

	tab1, err := s.NewTab(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("NewTab returned error: %v", err)
	}
	tab2, err := s.NewTab(ctx, "https://example.com/b")
	if err != nil {
		t.Fatalf("NewTab returned error: %v", err)
	}

	current, err := s.CurrentTab()
	if err != nil {
		t.Fatalf("CurrentTab returned error: %v", err)
	}
	if current.ID != tab2.ID {
		t.Errorf("expected newest tab to be current, got %q", current.ID)
	}

	if err := s.CloseTab(ctx, tab2.ID); err != nil {
		t.Fatalf("CloseTab returned error: %v", err)
	}
	current, err = s.CurrentTab()
	if err != nil {
		t.Fatalf("CurrentTab after close returned error: %v", err)
	}
	if current.ID != tab1.ID {
		t.Errorf("expected cursor to advance to previous tab %q, got %q", tab1.ID, current.ID)
	}

	if err := s.CloseTab(ctx, tab1.ID); err != nil {
		t.Fatalf("CloseTab returned error: %v", err)
	}
	if _, err := s.CurrentTab(); !errors.Is(err, types.ErrNoCurrentTab) {
		t.Errorf("expected ErrNoCurrentTab after closing all tabs, got %v", err)
	}
}
