// Package intent registers the experimental ai-intent surface:
// browser_execute_intent, browser_execute_workflow, and
// browser_analyze_context. Spec §9 flags these as "planned surface" in the
// original system — stub handlers that report what would run without
// touching the browser. Kept here as explicitly-labeled stubs rather than a
// half-finished planner, per the same design note.
package intent

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/tools"
)

// Register adds the experimental ai-intent family to reg.
func Register(reg *tools.Registry) {
	reg.Register(&tools.Spec{
		Name:        "browser_execute_intent",
		Description: "Experimental stub: does not resolve the intent; replies with a not-implemented notice followed by the intent text.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"intent": {"type": "string"}},
			"required": ["intent"]
		}`),
		Capability: "ai-intent",
		SideEffect: tools.ReadOnly,
		Handler:    handleExecuteIntent,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_execute_workflow",
		Description: "Experimental stub: does not run the workflow; replies with a not-implemented notice followed by the workflow name.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"workflow": {"type": "string"}},
			"required": ["workflow"]
		}`),
		Capability: "ai-intent",
		SideEffect: tools.ReadOnly,
		Handler:    handleExecuteWorkflow,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_analyze_context",
		Description: "Experimental stub: does not analyze the page; replies with a not-implemented notice followed by the current tab's URL, or 'no current tab'.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "ai-intent",
		SideEffect:  tools.ReadOnly,
		Handler:     handleAnalyzeContext,
	})
}

func handleExecuteIntent(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	intent, err := tools.ArgString(args, "intent", true)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("planned surface, not implemented: " + intent)}, nil
}

func handleExecuteWorkflow(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	workflow, err := tools.ArgString(args, "workflow", true)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("planned surface, not implemented: " + workflow)}, nil
}

func handleAnalyzeContext(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return &tools.Outcome{Result: mcp.NewToolResultText("planned surface, not implemented: no current tab")}, nil
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("planned surface, not implemented: " + dc.Tab.Page.URL())}, nil
}
