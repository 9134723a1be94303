// Package autonomous registers browser_start_autonomous_crawl,
// browser_configure_memory, and browser_cancel_autonomous_crawl (spec §4.6).
// browser_cancel_autonomous_crawl is not named in spec §6's tool list but is
// required by §4.6's "a cancel-crawl RPC flips that flag" language.
// Handlers call only the narrow tools.CrawlHost port; the composition root
// wires a real *crawl.Orchestrator in.
package autonomous

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/tools"
)

// Register adds the autonomous-crawl family to reg.
func Register(reg *tools.Registry) {
	reg.Register(&tools.Spec{
		Name:        "browser_start_autonomous_crawl",
		Description: "Start a goal-directed autonomous crawl from the current (or given) URL. At most one crawl runs per session.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"startUrl": {"type": "string"},
				"goal": {"type": "string"},
				"maxDepth": {"type": "integer", "default": 5},
				"maxPages": {"type": "integer", "default": 50}
			},
			"required": ["startUrl", "goal"]
		}`),
		Capability: "autonomous",
		SideEffect: tools.Mutating,
		Handler:    handleStart,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_configure_memory",
		Description: "Configure the crawl memory store's capacity and backend.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"maxStates": {"type": "integer", "default": 5000},
				"backend": {"type": "string", "default": "disk"}
			}
		}`),
		Capability: "autonomous",
		SideEffect: tools.Mutating,
		Handler:    handleConfigureMemory,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_cancel_autonomous_crawl",
		Description: "Cancel the session's active autonomous crawl, if any.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "autonomous",
		SideEffect:  tools.Mutating,
		Handler:     handleCancel,
	})
}

func handleStart(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	startURL, err := tools.ArgString(args, "startUrl", true)
	if err != nil {
		return nil, err
	}
	goal, err := tools.ArgString(args, "goal", true)
	if err != nil {
		return nil, err
	}
	maxDepth := tools.ArgInt(args, "maxDepth", 5)
	maxPages := tools.ArgInt(args, "maxPages", 50)
	crawlSession, err := dc.Crawl.Start(ctx, dc.Session.ID, startURL, goal, maxDepth, maxPages)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(crawlSession)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}

func handleConfigureMemory(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	maxStates := tools.ArgInt(args, "maxStates", 5000)
	backend, _ := tools.ArgString(args, "backend", false)
	if backend == "" {
		backend = "disk"
	}
	if err := dc.Crawl.ConfigureMemory(ctx, maxStates, backend); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("memory store configured")}, nil
}

func handleCancel(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if err := dc.Crawl.Cancel(ctx, dc.Session.ID); err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("crawl cancelled")}, nil
}
