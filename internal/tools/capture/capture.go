// Package capture registers browser_take_screenshot, browser_snapshot, and
// browser_pdf_save (spec §6's capture family).
package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// Register adds the capture family to reg.
func Register(reg *tools.Registry) {
	reg.Register(&tools.Spec{
		Name:        "browser_take_screenshot",
		Description: "Capture a PNG screenshot of the current tab.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"fullPage": {"type": "boolean", "default": false}
			}
		}`),
		Capability: "capture",
		SideEffect: tools.ReadOnly,
		Handler:    handleScreenshot,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_snapshot",
		Description: "Capture a fresh accessibility-tree snapshot of the current tab and return its element references.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "capture",
		SideEffect:  tools.ReadOnly,
		Handler:     handleSnapshot,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_pdf_save",
		Description: "Render the current tab to a PDF and return it base64-encoded.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "capture",
		SideEffect:  tools.ReadOnly,
		Handler:     handlePDF,
	})
}

func handleScreenshot(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	fullPage := tools.ArgBool(args, "fullPage", false)
	png, err := dc.Tab.Page.Screenshot(ctx, fullPage)
	if err != nil {
		return nil, types.NewDriverError("screenshot", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png))}, nil
}

func handleSnapshot(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	entries, text, err := dc.Tab.Page.AccessibilitySnapshot(ctx)
	if err != nil {
		return nil, types.NewDriverError("accessibility_snapshot", err.Error(), err)
	}
	snap := dc.Session.Snapshots.Capture(dc.Tab.Page.ID(), entries, text)
	encoded, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}

func handlePDF(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	pdf, err := dc.Tab.Page.PDF(ctx)
	if err != nil {
		return nil, types.NewDriverError("pdf", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(base64.StdEncoding.EncodeToString(pdf))}, nil
}
