package humanize

import (
	"context"
	"testing"
	"time"
)

func TestPerKeystrokeWithinRange(t *testing.T) {
	p := Pacing{TypingMinMs: 50, TypingMaxMs: 150}
	for i := 0; i < 50; i++ {
		d := p.PerKeystroke()
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("PerKeystroke out of range: %v", d)
		}
	}
}

func TestPerKeystrokeDegenerateRange(t *testing.T) {
	p := Pacing{TypingMinMs: 100, TypingMaxMs: 100}
	if d := p.PerKeystroke(); d != 100*time.Millisecond {
		t.Errorf("expected fixed 100ms, got %v", d)
	}
}

func TestPreActionRespectsCancellation(t *testing.T) {
	p := Pacing{PreActionMinMs: 5000, PreActionMaxMs: 5000}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		p.PreAction(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PreAction did not return promptly on canceled context")
	}
}

func TestDefaultPacingNonZero(t *testing.T) {
	p := DefaultPacing()
	if p.PreActionMaxMs == 0 || p.PostActionMaxMs == 0 || p.TypingMaxMs == 0 {
		t.Error("expected DefaultPacing to populate every range")
	}
}
