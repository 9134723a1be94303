// Package navigate registers browser_navigate, browser_navigate_back, and
// browser_navigate_forward (spec §6's navigate family).
package navigate

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/security"
	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// Register adds the navigate family to reg.
func Register(reg *tools.Registry) {
	reg.Register(&tools.Spec{
		Name:        "browser_navigate",
		Description: "Navigate the current tab to a URL.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "Absolute URL to navigate to"},
				"headers": {"type": "object", "description": "Custom HTTP headers to send with every request on this page", "additionalProperties": {"type": "string"}},
				"captureSnapshot": {"type": "boolean", "description": "Capture an accessibility snapshot after navigation", "default": true},
				"waitForNetwork": {"type": "boolean", "description": "Wait for network idle before returning", "default": false}
			},
			"required": ["url"]
		}`),
		Capability: "navigate",
		SideEffect: tools.Mutating,
		Handler:    handleNavigate,
	})

	reg.Register(&tools.Spec{
		Name:        "browser_navigate_back",
		Description: "Go back one entry in the current tab's history.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "navigate",
		SideEffect:  tools.Mutating,
		Handler:     handleBack,
	})

	reg.Register(&tools.Spec{
		Name:        "browser_navigate_forward",
		Description: "Go forward one entry in the current tab's history.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "navigate",
		SideEffect:  tools.Mutating,
		Handler:     handleForward,
	})
}

func handleNavigate(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	url, err := tools.ArgString(args, "url", true)
	if err != nil {
		return nil, err
	}
	if err := security.ValidateURLWithContext(ctx, url); err != nil {
		return nil, types.NewKindErrorf(types.KindBlocked, "navigation target blocked", err.Error(), err)
	}
	headers := tools.ArgStringMap(args, "headers")
	if err := security.ValidateHeaders(headers); err != nil {
		return nil, types.NewKindErrorf(types.KindBadInput, "invalid custom header", err.Error(), err)
	}
	tab, err := dc.Session.EnsureTab(ctx)
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := tab.Page.SetExtraHeaders(ctx, headers); err != nil {
			return nil, err
		}
	}
	if err := tab.Page.Navigate(ctx, url); err != nil {
		return nil, err
	}
	return &tools.Outcome{
		Result:          mcp.NewToolResultText("navigated to " + url),
		CaptureSnapshot: tools.ArgBool(args, "captureSnapshot", true),
		WaitForNetwork:  tools.ArgBool(args, "waitForNetwork", false),
	}, nil
}

func handleBack(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	tab, err := dc.Session.CurrentTab()
	if err != nil {
		return nil, err
	}
	if err := tab.Page.NavigateBack(ctx); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("navigated back"), CaptureSnapshot: true}, nil
}

func handleForward(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	tab, err := dc.Session.CurrentTab()
	if err != nil {
		return nil, err
	}
	if err := tab.Page.NavigateForward(ctx); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("navigated forward"), CaptureSnapshot: true}, nil
}
