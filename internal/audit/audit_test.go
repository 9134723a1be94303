package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/types"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndQueryRoundTrip(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	l.Record(ctx, tools.AuditEvent{
		Timestamp:  time.Now(),
		SessionID:  "sess-1",
		Tool:       "browser_click",
		SideEffect: tools.Mutating,
		DurationMS: 42,
	})

	events, err := l.Query(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Tool != "browser_click" || e.SessionID != "sess-1" {
		t.Errorf("unexpected event: %+v", e)
	}
	if !e.Success {
		t.Error("expected success=true for an event with no error")
	}
	if e.DurationMS != 42 {
		t.Errorf("expected duration 42, got %d", e.DurationMS)
	}
}

func TestRecordFailureCapturesErrorKind(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	l.Record(ctx, tools.AuditEvent{
		Timestamp:  time.Now(),
		SessionID:  "sess-1",
		Tool:       "browser_navigate",
		SideEffect: tools.Mutating,
		DurationMS: 7,
		Err:        &types.KindError{Kind: types.KindTimeout, Message: "navigation timed out"},
	})

	events, err := l.Query(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Success {
		t.Error("expected success=false for an errored event")
	}
	if events[0].ErrorKind != string(types.KindTimeout) {
		t.Errorf("expected error kind %q, got %q", types.KindTimeout, events[0].ErrorKind)
	}
}

func TestQueryEmptySessionIDReturnsAllSessions(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	l.Record(ctx, tools.AuditEvent{Timestamp: time.Now(), SessionID: "a", Tool: "t1", SideEffect: tools.ReadOnly})
	l.Record(ctx, tools.AuditEvent{Timestamp: time.Now(), SessionID: "b", Tool: "t2", SideEffect: tools.ReadOnly})

	events, err := l.Query(ctx, "", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events across sessions, got %d", len(events))
	}
}

func TestQueryOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Record(ctx, tools.AuditEvent{
			Timestamp:  time.Now(),
			SessionID:  "sess-1",
			Tool:       "tool-" + string(rune('a'+i)),
			SideEffect: tools.ReadOnly,
		})
	}

	events, err := l.Query(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(events))
	}
	if events[0].Tool != "tool-e" {
		t.Errorf("expected newest-first ordering, got %q first", events[0].Tool)
	}
}

func TestKindOfClassifiesDriverAndGuardrailErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want types.Kind
	}{
		{"kind error", &types.KindError{Kind: types.KindBadInput}, types.KindBadInput},
		{"driver error", &types.DriverError{Message: "page crashed"}, types.KindDriver},
		{"guardrail error", &types.GuardrailError{Rule: "blocked-domain"}, types.KindBlocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := kindOf(tc.err); got != string(tc.want) {
				t.Errorf("kindOf(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
