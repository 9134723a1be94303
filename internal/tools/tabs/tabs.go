// Package tabs registers browser_tab_list, browser_tab_new,
// browser_tab_select, and browser_tab_close (spec §6's tabs family / §4.3).
package tabs

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// Register adds the tabs family to reg.
func Register(reg *tools.Registry) {
	reg.Register(&tools.Spec{
		Name:        "browser_tab_list",
		Description: "List every open tab in the current session.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "tabs",
		SideEffect:  tools.ReadOnly,
		Handler:     handleList,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_tab_new",
		Description: "Open a new tab, optionally navigating it, and make it current.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "default": "about:blank"}
			}
		}`),
		Capability: "tabs",
		SideEffect: tools.Mutating,
		Handler:    handleNew,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_tab_select",
		Description: "Make an existing tab current by its tab id.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"tabId": {"type": "string"}},
			"required": ["tabId"]
		}`),
		Capability: "tabs",
		SideEffect: tools.Mutating,
		Handler:    handleSelect,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_tab_close",
		Description: "Close a tab by its tab id; the cursor advances to the previous tab or clears if none remain.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"tabId": {"type": "string"}},
			"required": ["tabId"]
		}`),
		Capability: "tabs",
		SideEffect: tools.Destructive,
		Handler:    handleClose,
	})
}

func handleList(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	tabs := dc.Session.ListTabs()
	domainTabs := make([]*types.Tab, 0, len(tabs))
	for _, t := range tabs {
		domainTabs = append(domainTabs, t.ToDomain())
	}
	encoded, err := json.Marshal(domainTabs)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}

func handleNew(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	url, _ := tools.ArgString(args, "url", false)
	if url == "" {
		url = "about:blank"
	}
	tab, err := dc.Session.NewTab(ctx, url)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(tab.ToDomain())
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded)), CaptureSnapshot: true}, nil
}

func handleSelect(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	tabID, err := tools.ArgString(args, "tabId", true)
	if err != nil {
		return nil, err
	}
	tab, err := dc.Session.SelectTab(tabID)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(tab.ToDomain())
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}

func handleClose(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	tabID, err := tools.ArgString(args, "tabId", true)
	if err != nil {
		return nil, err
	}
	if err := dc.Session.CloseTab(ctx, tabID); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("closed " + tabID)}, nil
}
