// Package humanize paces interact-family tool calls with small randomized
// delays between actions (spec §4.1's interact tools), so a scripted
// sequence of clicks and keystrokes doesn't land on a target page faster
// than its own JS event handlers can settle. Trimmed from the teacher's
// CAPTCHA-evasion timing/mouse/scroll jitter down to the one piece this
// broker's interact tools actually call — see DESIGN.md for what was
// dropped and why.
package humanize

import (
	"context"
	"math/rand"
	"time"
)

// Pacing holds the delay ranges the interact tools draw from.
type Pacing struct {
	PreActionMinMs  int
	PreActionMaxMs  int
	PostActionMinMs int
	PostActionMaxMs int
	TypingMinMs     int
	TypingMaxMs     int
}

// DefaultPacing mirrors the teacher's tuned ranges.
func DefaultPacing() Pacing {
	return Pacing{
		PreActionMinMs:  100,
		PreActionMaxMs:  400,
		PostActionMinMs: 150,
		PostActionMaxMs: 500,
		TypingMinMs:     50,
		TypingMaxMs:     150,
	}
}

// PreAction sleeps a random pre-action beat, or returns early if ctx ends first.
func (p Pacing) PreAction(ctx context.Context) { Sleep(ctx, randomDuration(p.PreActionMinMs, p.PreActionMaxMs)) }

// PostAction sleeps a random post-action dwell, or returns early if ctx ends first.
func (p Pacing) PostAction(ctx context.Context) {
	Sleep(ctx, randomDuration(p.PostActionMinMs, p.PostActionMaxMs))
}

// PerKeystroke returns one randomized inter-keystroke delay.
func (p Pacing) PerKeystroke() time.Duration { return randomDuration(p.TypingMinMs, p.TypingMaxMs) }

// TypingDuration sums chars randomized inter-keystroke delays, approximating
// how long a human would take to compose a string of that length — the
// interact tools' Type handler has no per-character hook into the driver,
// so this stands in as one up-front sleep rather than chars individual ones.
func (p Pacing) TypingDuration(chars int) time.Duration {
	var total time.Duration
	for i := 0; i < chars; i++ {
		total += p.PerKeystroke()
	}
	return total
}

func randomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	ms := minMs + rand.Intn(maxMs-minMs+1)
	return time.Duration(ms) * time.Millisecond
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
