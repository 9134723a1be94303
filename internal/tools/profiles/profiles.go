// Package profiles registers browser_save_profile, browser_switch_profile,
// browser_list_profiles, and browser_delete_profile (spec §6's profiles
// family / §4.7). Handlers call only the narrow tools.ProfileStore port;
// the composition root wires a real *state.Store in.
package profiles

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// Register adds the profiles family to reg.
func Register(reg *tools.Registry) {
	reg.Register(&tools.Spec{
		Name:        "browser_save_profile",
		Description: "Save the current session's storage state as a named, restorable profile.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"description": {"type": "string"}
			},
			"required": ["name"]
		}`),
		Capability: "profiles",
		SideEffect: tools.Mutating,
		Handler:    handleSave,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_switch_profile",
		Description: "Restore a named profile's storage state into the current session's browser context.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"name": {"type": "string"}},
			"required": ["name"]
		}`),
		Capability: "profiles",
		SideEffect: tools.Mutating,
		Handler:    handleSwitch,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_list_profiles",
		Description: "List every saved profile.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "profiles",
		SideEffect:  tools.ReadOnly,
		Handler:     handleList,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_delete_profile",
		Description: "Delete a named saved profile.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"name": {"type": "string"}},
			"required": ["name"]
		}`),
		Capability: "profiles",
		SideEffect: tools.Destructive,
		Handler:    handleDelete,
	})
}

func handleSave(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	name, err := tools.ArgString(args, "name", true)
	if err != nil {
		return nil, err
	}
	state, err := dc.Session.StorageState(ctx)
	if err != nil {
		return nil, types.NewDriverError("storage_state", err.Error(), err)
	}
	url, title := "", ""
	if dc.Tab != nil {
		url = dc.Tab.Page.URL()
		if t, err := dc.Tab.Page.Title(ctx); err == nil {
			title = t
		}
	}
	saved, err := dc.Profiles.Save(ctx, name, state, url, title)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(saved)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}

// handleSwitch implements spec §4.7's restore: set the saved cookies, open
// or reuse the current tab, navigate to the saved URL, then replay the
// saved URL's origin slice of localStorage. A profile saved without a
// storage-state.json (state is the zero value) degrades to a navigate-only
// restore, per spec.
func handleSwitch(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	name, err := tools.ArgString(args, "name", true)
	if err != nil {
		return nil, err
	}
	saved, state, err := dc.Profiles.Switch(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(state.Cookies) > 0 {
		if err := dc.Session.SetCookies(ctx, state.Cookies); err != nil {
			return nil, types.NewDriverError("switch_profile", err.Error(), err)
		}
	}

	tab, err := dc.Session.EnsureTab(ctx)
	if err != nil {
		return nil, types.NewDriverError("switch_profile", err.Error(), err)
	}
	dc.Tab = tab
	if saved.URL != "" {
		if err := tab.Page.Navigate(ctx, saved.URL); err != nil {
			return nil, types.NewDriverError("switch_profile", err.Error(), err)
		}
	}
	if origin := originOf(saved.URL); origin != "" {
		for k, v := range state.LocalStorage[origin] {
			_ = tab.Page.SetLocalStorage(ctx, k, v)
		}
	}

	return &tools.Outcome{Result: mcp.NewToolResultText("switched to profile " + name), CaptureSnapshot: true}, nil
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func handleList(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	profiles, err := dc.Profiles.List(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(profiles)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}

func handleDelete(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	name, err := tools.ArgString(args, "name", true)
	if err != nil {
		return nil, err
	}
	if err := dc.Profiles.Delete(ctx, name); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("deleted profile " + name)}, nil
}
