package driver

import (
	"context"
	"testing"

	"github.com/darbotlabs/browser-broker/internal/types"
)

func TestMockDriverNewContextAndPage(t *testing.T) {
	ctx := context.Background()
	d := NewMockDriver()
	defer d.Close(ctx)

	bctx, err := d.NewContext(ctx, ContextOptions{})
	if err != nil {
		t.Fatalf("NewContext returned error: %v", err)
	}

	page, err := bctx.NewPage(ctx, "https://example.com")
	if err != nil {
		t.Fatalf("NewPage returned error: %v", err)
	}

	if page.URL() != "https://example.com" {
		t.Errorf("expected URL to be set from startURL, got %q", page.URL())
	}

	title, err := page.Title(ctx)
	if err != nil {
		t.Fatalf("Title returned error: %v", err)
	}
	if title == "" {
		t.Error("expected non-empty title after navigation")
	}
}

func TestMockPageAccessibilitySnapshot(t *testing.T) {
	ctx := context.Background()
	d := NewMockDriver()
	bctx, _ := d.NewContext(ctx, ContextOptions{})
	page, _ := bctx.NewPage(ctx, "https://example.com")

	entries, text, err := page.AccessibilitySnapshot(ctx)
	if err != nil {
		t.Fatalf("AccessibilitySnapshot returned error: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected at least one snapshot entry")
	}
	if text == "" {
		t.Error("expected non-empty serialized snapshot text")
	}
}

func TestMockPageLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := NewMockDriver()
	bctx, _ := d.NewContext(ctx, ContextOptions{})
	page, _ := bctx.NewPage(ctx, "https://example.com")

	if err := page.SetLocalStorage(ctx, "k", "v"); err != nil {
		t.Fatalf("SetLocalStorage returned error: %v", err)
	}
	got, err := page.GetLocalStorage(ctx)
	if err != nil {
		t.Fatalf("GetLocalStorage returned error: %v", err)
	}
	if got["k"] != "v" {
		t.Errorf("expected k=v, got %v", got)
	}
}

func TestMockContextCookies(t *testing.T) {
	ctx := context.Background()
	d := NewMockDriver()
	bctx, _ := d.NewContext(ctx, ContextOptions{})

	if err := bctx.SetCookies(ctx, []types.Cookie{{Name: "a", Value: "1"}}); err != nil {
		t.Fatalf("SetCookies returned error: %v", err)
	}
	cookies, err := bctx.Cookies(ctx)
	if err != nil {
		t.Fatalf("Cookies returned error: %v", err)
	}
	if len(cookies) != 1 || cookies[0].Name != "a" {
		t.Errorf("expected one cookie named a, got %v", cookies)
	}
}
