// Package testing registers the emulation, clock-control, and diagnostics
// tools: browser_console_messages, browser_console_filtered,
// browser_network_requests, browser_performance_metrics,
// browser_emulate_media, browser_emulate_geolocation,
// browser_emulate_timezone, browser_clock_install,
// browser_clock_fast_forward, browser_clock_pause, browser_clock_resume,
// and browser_clock_set_fixed_time (spec §6's testing/diagnostics family).
package testing

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/darbotlabs/browser-broker/internal/driver"
	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// Register adds the testing/diagnostics family to reg.
func Register(reg *tools.Registry) {
	reg.Register(&tools.Spec{
		Name:        "browser_console_messages",
		Description: "Drain console messages captured since the last call.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "testing",
		SideEffect:  tools.ReadOnly,
		Handler:     handleConsoleMessages,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_console_filtered",
		Description: "Drain console messages since the last call, filtered to a level (error, warning, log).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"level": {"type": "string"}},
			"required": ["level"]
		}`),
		Capability: "testing",
		SideEffect: tools.ReadOnly,
		Handler:    handleConsoleFiltered,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_network_requests",
		Description: "Drain network request/response records captured since the last call.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "testing",
		SideEffect:  tools.ReadOnly,
		Handler:     handleNetworkRequests,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_performance_metrics",
		Description: "Report request/response counts and console error counts captured since the last call.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "testing",
		SideEffect:  tools.ReadOnly,
		Handler:     handlePerformanceMetrics,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_emulate_media",
		Description: "Override the emulated media type, color scheme, and reduced-motion preference.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"media": {"type": "string"},
				"colorScheme": {"type": "string"},
				"reducedMotion": {"type": "string"}
			}
		}`),
		Capability: "testing",
		SideEffect: tools.Mutating,
		Handler:    handleEmulateMedia,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_emulate_geolocation",
		Description: "Override the page's geolocation.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"latitude": {"type": "number"},
				"longitude": {"type": "number"},
				"accuracy": {"type": "number", "default": 1}
			},
			"required": ["latitude", "longitude"]
		}`),
		Capability: "testing",
		SideEffect: tools.Mutating,
		Handler:    handleEmulateGeolocation,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_emulate_timezone",
		Description: "Override the page's timezone (IANA name, e.g. America/Los_Angeles).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"timezone": {"type": "string"}},
			"required": ["timezone"]
		}`),
		Capability: "testing",
		SideEffect: tools.Mutating,
		Handler:    handleEmulateTimezone,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_clock_install",
		Description: "Install a virtual clock fixed at the given time (RFC3339), freezing Date.now().",
		InputSchema: timeSchema(),
		Capability:  "testing",
		SideEffect:  tools.Mutating,
		Handler:     handleClockInstall,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_clock_fast_forward",
		Description: "Advance the installed virtual clock by a duration, e.g. \"30s\".",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"duration": {"type": "string"}},
			"required": ["duration"]
		}`),
		Capability: "testing",
		SideEffect: tools.Mutating,
		Handler:    handleClockFastForward,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_clock_pause",
		Description: "Pause the installed virtual clock at the given time (RFC3339).",
		InputSchema: timeSchema(),
		Capability:  "testing",
		SideEffect:  tools.Mutating,
		Handler:     handleClockPause,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_clock_resume",
		Description: "Resume the installed virtual clock's normal tick rate.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Capability:  "testing",
		SideEffect:  tools.Mutating,
		Handler:     handleClockResume,
	})
	reg.Register(&tools.Spec{
		Name:        "browser_clock_set_fixed_time",
		Description: "Set the virtual clock to a fixed time (RFC3339) and hold it paused there, as browser_clock_install does.",
		InputSchema: timeSchema(),
		Capability:  "testing",
		SideEffect:  tools.Mutating,
		Handler:     handleClockSetFixedTime,
	})
}

func timeSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"time": {"type": "string", "description": "RFC3339 timestamp"}},
		"required": ["time"]
	}`)
}

func handleConsoleMessages(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	entries, err := dc.Tab.Page.ConsoleMessages(ctx)
	if err != nil {
		return nil, types.NewDriverError("console_messages", err.Error(), err)
	}
	return marshalEntries(entries)
}

func handleConsoleFiltered(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	level, err := tools.ArgString(args, "level", true)
	if err != nil {
		return nil, err
	}
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	entries, err := dc.Tab.Page.ConsoleMessages(ctx)
	if err != nil {
		return nil, types.NewDriverError("console_messages", err.Error(), err)
	}
	filtered := make([]types.RingEntry, 0, len(entries))
	for _, e := range entries {
		if strings.EqualFold(e.Kind, level) {
			filtered = append(filtered, e)
		}
	}
	return marshalEntries(filtered)
}

func handleNetworkRequests(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	entries, err := dc.Tab.Page.NetworkRequests(ctx)
	if err != nil {
		return nil, types.NewDriverError("network_requests", err.Error(), err)
	}
	return marshalEntries(entries)
}

func handlePerformanceMetrics(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	console, err := dc.Tab.Page.ConsoleMessages(ctx)
	if err != nil {
		return nil, types.NewDriverError("console_messages", err.Error(), err)
	}
	network, err := dc.Tab.Page.NetworkRequests(ctx)
	if err != nil {
		return nil, types.NewDriverError("network_requests", err.Error(), err)
	}
	errCount := 0
	for _, e := range console {
		if strings.EqualFold(e.Kind, "error") {
			errCount++
		}
	}
	metrics := map[string]int{
		"consoleMessages": len(console),
		"consoleErrors":   errCount,
		"networkEvents":   len(network),
	}
	encoded, err := json.Marshal(metrics)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}

func handleEmulateMedia(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	media, _ := tools.ArgString(args, "media", false)
	colorScheme, _ := tools.ArgString(args, "colorScheme", false)
	reducedMotion, _ := tools.ArgString(args, "reducedMotion", false)
	m := driver.MediaEmulation{Media: media, ColorScheme: colorScheme, ReducedMotion: reducedMotion}
	if err := dc.Tab.Page.EmulateMedia(ctx, m); err != nil {
		return nil, types.NewDriverError("emulate_media", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("media emulation applied")}, nil
}

func handleEmulateGeolocation(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	lat := tools.ArgFloat(args, "latitude", 0)
	lon := tools.ArgFloat(args, "longitude", 0)
	accuracy := tools.ArgFloat(args, "accuracy", 1)
	geo := driver.Geolocation{Latitude: lat, Longitude: lon, Accuracy: accuracy}
	if err := dc.Tab.Page.EmulateGeolocation(ctx, geo); err != nil {
		return nil, types.NewDriverError("emulate_geolocation", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("geolocation emulation applied")}, nil
}

func handleEmulateTimezone(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	tz, err := tools.ArgString(args, "timezone", true)
	if err != nil {
		return nil, err
	}
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	if err := dc.Tab.Page.EmulateTimezone(ctx, tz); err != nil {
		return nil, types.NewDriverError("emulate_timezone", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("timezone emulation applied")}, nil
}

func handleClockInstall(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	at, err := parseTimeArg(args)
	if err != nil {
		return nil, err
	}
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	if err := dc.Tab.Page.ClockInstall(ctx, at); err != nil {
		return nil, types.NewDriverError("clock_install", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("clock installed")}, nil
}

func handleClockFastForward(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	durStr, err := tools.ArgString(args, "duration", true)
	if err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return nil, types.NewKindError(types.KindBadInput, "duration must be a Go duration string, e.g. \"30s\"")
	}
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	if err := dc.Tab.Page.ClockFastForward(ctx, d); err != nil {
		return nil, types.NewDriverError("clock_fast_forward", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("clock advanced")}, nil
}

func handleClockPause(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	at, err := parseTimeArg(args)
	if err != nil {
		return nil, err
	}
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	if err := dc.Tab.Page.ClockPause(ctx, at); err != nil {
		return nil, types.NewDriverError("clock_pause", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("clock paused")}, nil
}

func handleClockResume(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	if err := dc.Tab.Page.ClockResume(ctx); err != nil {
		return nil, types.NewDriverError("clock_resume", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("clock resumed")}, nil
}

func handleClockSetFixedTime(ctx context.Context, dc *tools.DispatchContext, args map[string]any) (*tools.Outcome, error) {
	at, err := parseTimeArg(args)
	if err != nil {
		return nil, err
	}
	if dc.Tab == nil {
		return nil, types.ErrNoCurrentTab
	}
	if err := dc.Tab.Page.ClockSetFixedTime(ctx, at); err != nil {
		return nil, types.NewDriverError("clock_set_fixed_time", err.Error(), err)
	}
	return &tools.Outcome{Result: mcp.NewToolResultText("clock set")}, nil
}

func parseTimeArg(args map[string]any) (time.Time, error) {
	raw, err := tools.ArgString(args, "time", true)
	if err != nil {
		return time.Time{}, err
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, types.NewKindError(types.KindBadInput, "time must be RFC3339")
	}
	return at, nil
}

func marshalEntries(entries []types.RingEntry) (*tools.Outcome, error) {
	encoded, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return &tools.Outcome{Result: mcp.NewToolResultText(string(encoded))}, nil
}
