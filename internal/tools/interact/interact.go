// Package interact registers the element-interaction tools: click, type,
// hover, drag, press_key, scroll, scroll_to_element, upload_file, and
// handle_dialog (spec §6's interact family).
package interact

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/driver"
	"github.com/darbotlabs/browser-broker/internal/humanize"
	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// pacing gives click/type/drag a small randomized beat between the
// dispatcher resolving a ref and the driver acting on it.
var pacing = humanize.DefaultPacing()

// Register adds the interact family to reg.
func Register(reg *tools.Registry) {
	reg.Register(&tools.Spec{
		Name:        "browser_click",
		Description: "Click an element identified by its accessibility snapshot reference.",
		InputSchema: refSchema("Sign-in button"),
		Capability:  "interact",
		SideEffect:  tools.Mutating,
		RequiresRef: true,
		Handler:     handleClick,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_type",
		Description: "Type text into an element identified by its accessibility snapshot reference.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"element": {"type": "string", "description": "Free-form prose for audit, e.g. \"email field\""},
				"ref": {"type": "string", "description": "Snapshot element reference, e.g. ref-4"},
				"text": {"type": "string", "description": "Text to type"}
			},
			"required": ["ref", "text"]
		}`),
		Capability:  "interact",
		SideEffect:  tools.Mutating,
		RequiresRef: true,
		Handler:     handleType,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_hover",
		Description: "Hover over an element identified by its accessibility snapshot reference.",
		InputSchema: refSchema("navigation menu"),
		Capability:  "interact",
		SideEffect:  tools.ReadOnly,
		RequiresRef: true,
		Handler:     handleHover,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_drag",
		Description: "Drag one element to another, both identified by accessibility snapshot references.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"fromRef": {"type": "string"},
				"toRef": {"type": "string"}
			},
			"required": ["fromRef", "toRef"]
		}`),
		Capability: "interact",
		SideEffect: tools.Mutating,
		Handler:    handleDrag,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_press_key",
		Description: "Press a named keyboard key (Enter, Tab, Escape, ArrowDown, ...).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"key": {"type": "string"}},
			"required": ["key"]
		}`),
		Capability: "interact",
		SideEffect: tools.Mutating,
		Handler:    handlePressKey,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_scroll",
		Description: "Scroll the current tab by a pixel offset.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"dx": {"type": "number", "default": 0},
				"dy": {"type": "number", "default": 0}
			}
		}`),
		Capability: "interact",
		SideEffect: tools.Mutating,
		Handler:    handleScroll,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_scroll_to_element",
		Description: "Scroll an element identified by its accessibility snapshot reference into view.",
		InputSchema: refSchema("footer link"),
		Capability:  "interact",
		SideEffect:  tools.Mutating,
		RequiresRef: true,
		Handler:     handleScrollToElement,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_upload_file",
		Description: "Attach local file paths to a file-input element identified by its accessibility snapshot reference.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"element": {"type": "string"},
				"ref": {"type": "string"},
				"paths": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["ref", "paths"]
		}`),
		Capability:  "interact",
		SideEffect:  tools.Mutating,
		RequiresRef: true,
		Handler:     handleUploadFile,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_handle_dialog",
		Description: "Arm the disposition (accept/dismiss) for the next JS dialog the page opens.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["accept", "dismiss"]},
				"promptText": {"type": "string"}
			},
			"required": ["action"]
		}`),
		Capability: "interact",
		SideEffect: tools.Mutating,
		Handler:    handleDialog,
	})
}

func refSchema(elementExample string) json.RawMessage {
	schema := `{
		"type": "object",
		"properties": {
			"element": {"type": "string", "description": "Free-form prose for audit, e.g. \"` + elementExample + `\""},
			"ref": {"type": "string", "description": "Snapshot element reference, e.g. ref-4"}
		},
		"required": ["ref"]
	}`
	return json.RawMessage(schema)
}

func handleClick(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	pacing.PreAction(ctx)
	if err := dc.Tab.Page.Click(ctx, dc.Ref.Locator); err != nil {
		return nil, err
	}
	pacing.PostAction(ctx)
	return &tools.Outcome{Result: mcp.NewToolResultText("clicked"), CaptureSnapshot: true}, nil
}

func handleType(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	text, err := tools.ArgString(args, "text", true)
	if err != nil {
		return nil, err
	}
	pacing.PreAction(ctx)
	if err := dc.Tab.Page.Type(ctx, dc.Ref.Locator, text); err != nil {
		return nil, err
	}
	humanize.Sleep(ctx, pacing.TypingDuration(len(text)))
	return &tools.Outcome{Result: mcp.NewToolResultText("typed")}, nil
}

func handleHover(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if err := dc.Tab.Page.Hover(ctx, dc.Ref.Locator); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("hovered")}, nil
}

func handleDrag(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	fromRef, err := tools.ArgString(args, "fromRef", true)
	if err != nil {
		return nil, err
	}
	toRef, err := tools.ArgString(args, "toRef", true)
	if err != nil {
		return nil, err
	}
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	asOf := dc.Session.Snapshots.CurrentVersion(dc.Tab.Page.ID())
	from, err := dc.Session.Snapshots.Resolve(dc.Tab.Page.ID(), asOf, types.ElementRef(fromRef))
	if err != nil {
		return nil, err
	}
	to, err := dc.Session.Snapshots.Resolve(dc.Tab.Page.ID(), asOf, types.ElementRef(toRef))
	if err != nil {
		return nil, err
	}
	pacing.PreAction(ctx)
	if err := dc.Tab.Page.Drag(ctx, from.Locator, to.Locator); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("dragged"), CaptureSnapshot: true}, nil
}

func handlePressKey(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	key, err := tools.ArgString(args, "key", true)
	if err != nil {
		return nil, err
	}
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	if err := dc.Tab.Page.PressKey(ctx, key); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("pressed " + key)}, nil
}

func handleScroll(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	dx := tools.ArgInt(args, "dx", 0)
	dy := tools.ArgInt(args, "dy", 0)
	if err := dc.Tab.Page.Scroll(ctx, dx, dy); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("scrolled")}, nil
}

func handleScrollToElement(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if err := dc.Tab.Page.ScrollToElement(ctx, dc.Ref.Locator); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("scrolled into view")}, nil
}

func handleUploadFile(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	paths := tools.ArgStringSlice(args, "paths")
	if len(paths) == 0 {
		return nil, types.NewKindError(types.KindBadInput, "paths must be a non-empty array of strings")
	}
	if err := dc.Tab.Page.UploadFile(ctx, dc.Ref.Locator, paths); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("uploaded")}, nil
}

func handleDialog(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	actionStr, err := tools.ArgString(args, "action", true)
	if err != nil {
		return nil, err
	}
	prompt, _ := tools.ArgString(args, "promptText", false)
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	action := driver.DialogDismiss
	if actionStr == "accept" {
		action = driver.DialogAccept
	}
	if err := dc.Tab.Page.HandleDialog(ctx, action, prompt); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("dialog disposition armed: " + actionStr)}, nil
}
