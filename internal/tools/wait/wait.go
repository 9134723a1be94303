// Package wait registers browser_wait and browser_wait_for_text (spec §6's
// wait family).
package wait

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// maxWait caps browser_wait so a single call cannot stall a session's
// per-session mutex indefinitely (spec §5's serialized-tool-execution rule).
const maxWait = 30 * time.Second

// Register adds the wait family to reg.
func Register(reg *tools.Registry) {
	reg.Register(&tools.Spec{
		Name:        "browser_wait",
		Description: "Pause for a fixed number of seconds (max 30).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"seconds": {"type": "number", "default": 1}}
		}`),
		Capability: "wait",
		SideEffect: tools.ReadOnly,
		Handler:    handleWait,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_wait_for_text",
		Description: "Wait until text appears somewhere on the current tab, or time out.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string"},
				"timeoutSeconds": {"type": "number", "default": 10}
			},
			"required": ["text"]
		}`),
		Capability: "wait",
		SideEffect: tools.ReadOnly,
		Handler:    handleWaitForText,
	})
}

func handleWait(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	seconds := tools.ArgFloat(args, "seconds", 1)
	d := time.Duration(seconds * float64(time.Second))
	if d > maxWait {
		d = maxWait
	}
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("waited")}, nil
}

func handleWaitForText(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	text, err := tools.ArgString(args, "text", true)
	if err != nil {
		return nil, err
	}
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	timeoutSeconds := tools.ArgFloat(args, "timeoutSeconds", 10)
	timeout := time.Duration(timeoutSeconds * float64(time.Second))
	if err := dc.Tab.Page.WaitForText(ctx, text, timeout); err != nil {
		return nil, types.NewKindErrorf(types.KindTimeout, "text did not appear", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("found")}, nil
}
