// Package storage registers browser_save_storage_state, browser_get_cookies,
// browser_set_cookie, browser_clear_cookies, browser_get_local_storage, and
// browser_set_local_storage (spec §6's storage family / §4.7).
package storage

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// Register adds the storage family to reg.
func Register(reg *tools.Registry) {
	reg.Register(&tools.Spec{
		Name:        "browser_save_storage_state",
		Description: "Capture the session's cookies and localStorage as a portable storage state.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "storage",
		SideEffect:  tools.ReadOnly,
		Handler:     handleSaveStorageState,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_get_cookies",
		Description: "List the session's current cookies.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "storage",
		SideEffect:  tools.ReadOnly,
		Handler:     handleGetCookies,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_set_cookie",
		Description: "Set a single cookie on the session's browser context.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"value": {"type": "string"},
				"domain": {"type": "string"},
				"path": {"type": "string", "default": "/"},
				"httpOnly": {"type": "boolean", "default": false},
				"secure": {"type": "boolean", "default": false}
			},
			"required": ["name", "value", "domain"]
		}`),
		Capability: "storage",
		SideEffect: tools.Mutating,
		Handler:    handleSetCookie,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_clear_cookies",
		Description: "Remove every cookie from the session's browser context.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "storage",
		SideEffect:  tools.Destructive,
		Handler:     handleClearCookies,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_get_local_storage",
		Description: "Read the current tab's localStorage as key/value pairs.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "storage",
		SideEffect:  tools.ReadOnly,
		Handler:     handleGetLocalStorage,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_set_local_storage",
		Description: "Set a key in the current tab's localStorage.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"key": {"type": "string"},
				"value": {"type": "string"}
			},
			"required": ["key", "value"]
		}`),
		Capability: "storage",
		SideEffect: tools.Mutating,
		Handler:    handleSetLocalStorage,
	})
}

func handleSaveStorageState(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	state, err := dc.Session.StorageState(ctx)
	if err != nil {
		return nil, types.NewDriverError("storage_state", err.Error(), err)
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}

func handleGetCookies(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	cookies, err := dc.Session.Cookies(ctx)
	if err != nil {
		return nil, types.NewDriverError("get_cookies", err.Error(), err)
	}
	encoded, err := json.Marshal(cookies)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}

func handleSetCookie(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	name, err := tools.ArgString(args, "name", true)
	if err != nil {
		return nil, err
	}
	value, err := tools.ArgString(args, "value", true)
	if err != nil {
		return nil, err
	}
	domain, err := tools.ArgString(args, "domain", true)
	if err != nil {
		return nil, err
	}
	path, _ := tools.ArgString(args, "path", false)
	if path == "" {
		path = "/"
	}
	cookie := types.Cookie{
		Name:     name,
		Value:    value,
		Domain:   domain,
		Path:     path,
		HTTPOnly: tools.ArgBool(args, "httpOnly", false),
		Secure:   tools.ArgBool(args, "secure", false),
	}
	if err := dc.Session.SetCookies(ctx, []types.Cookie{cookie}); err != nil {
		return nil, types.NewDriverError("set_cookie", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("cookie set")}, nil
}

func handleClearCookies(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if err := dc.Session.ClearCookies(ctx); err != nil {
		return nil, types.NewDriverError("clear_cookies", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("cookies cleared")}, nil
}

func handleGetLocalStorage(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	values, err := dc.Tab.Page.GetLocalStorage(ctx)
	if err != nil {
		return nil, types.NewDriverError("get_local_storage", err.Error(), err)
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}

func handleSetLocalStorage(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	key, err := tools.ArgString(args, "key", true)
	if err != nil {
		return nil, err
	}
	value, err := tools.ArgString(args, "value", true)
	if err != nil {
		return nil, err
	}
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	if err := dc.Tab.Page.SetLocalStorage(ctx, key, value); err != nil {
		return nil, types.NewDriverError("set_local_storage", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("local storage set")}, nil
}
