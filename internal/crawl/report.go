package crawl

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/darbotlabs/browser-broker/internal/assets"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// reporter accumulates one crawl's CrawlReport in memory (spec §4.6) and
// finalizes it to JSON + HTML under outputDir/sessionID/ on Finalize.
type reporter struct {
	mu        sync.Mutex
	outputDir string
	report    types.CrawlReport
	nodeIDs   map[string]string // URL -> graph node id
	lastNode  string
	start     time.Time
}

func newReporter(outputDir, crawlSessionID, goal, startURL string) *reporter {
	return &reporter{
		outputDir: outputDir,
		report: types.CrawlReport{
			SessionID: crawlSessionID,
			Goal:      goal,
			StartURL:  startURL,
		},
		nodeIDs: make(map[string]string),
		start:   time.Now(),
	}
}

// RecordVisit adds a visited page state to the report and the site graph,
// linking it to the previously visited page with the action that produced
// it (spec §9: graphs modeled as nodes[]/edges[] with string ids, never
// pointers — the site graph legitimately has cycles).
func (r *reporter) RecordVisit(state types.PageState, viaAction types.ActionKind, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.States = append(r.report.States, state)
	r.report.Stats.PagesVisited++
	if depth > r.report.Stats.MaxDepth {
		r.report.Stats.MaxDepth = depth
	}
	if state.ScreenshotPath != "" {
		r.report.Stats.Screenshots++
	}

	nodeID, ok := r.nodeIDs[state.URL]
	if !ok {
		nodeID = nodeIDFor(len(r.nodeIDs))
		r.nodeIDs[state.URL] = nodeID
		r.report.Graph.Nodes = append(r.report.Graph.Nodes, types.ReportGraphNode{
			ID: nodeID, URL: state.URL, Title: state.Title,
		})
	}
	if r.lastNode != "" && r.lastNode != nodeID {
		r.report.Graph.Edges = append(r.report.Graph.Edges, types.ReportGraphEdge{
			From: r.lastNode, To: nodeID, Action: string(viaAction),
		})
	}
	r.lastNode = nodeID
}

// RecordLinksSeen tallies outlinks observed at one step toward
// stats.totalLinks, independent of how many were actually eligible.
func (r *reporter) RecordLinksSeen(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Stats.TotalLinks += n
}

// RecordError appends a recoverable step failure (spec §7: crawl errors are
// logged to the report and the loop continues).
func (r *reporter) RecordError(url string, action types.ActionKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Stats.Errors++
	r.report.Errors = append(r.report.Errors, types.ReportError{
		Timestamp: time.Now(),
		URL:       url,
		Action:    action,
		Message:   err.Error(),
	})
}

func nodeIDFor(i int) string { return "n" + strconv.Itoa(i) }

// Snapshot returns a copy of the report as it stands, safe to serialize
// mid-crawl (used by Status()).
func (r *reporter) Snapshot() types.CrawlReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.report
	cp.Stats.Duration = time.Since(r.start)
	cp.States = append([]types.PageState(nil), r.report.States...)
	cp.Errors = append([]types.ReportError(nil), r.report.Errors...)
	cp.Graph.Nodes = append([]types.ReportGraphNode(nil), r.report.Graph.Nodes...)
	cp.Graph.Edges = append([]types.ReportGraphEdge(nil), r.report.Graph.Edges...)
	return cp
}

// Finalize writes report.json and report.html under
// {outputDir}/{sessionId}/ (spec §6's persisted-layout table).
func (r *reporter) Finalize() (string, error) {
	report := r.Snapshot()

	dir := filepath.Join(r.outputDir, report.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	jsonBytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	jsonPath := filepath.Join(dir, "report.json")
	if err := writeAtomic(jsonPath, jsonBytes); err != nil {
		return "", err
	}

	tmpl, err := assets.GetTemplate("report.html")
	if err != nil {
		return "", err
	}
	var html bytes.Buffer
	if err := tmpl.Execute(&html, report); err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(dir, "report.html"), html.Bytes()); err != nil {
		return "", err
	}

	return jsonPath, nil
}
