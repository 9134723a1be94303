// Package metrics provides Prometheus metrics for the broker: tool-call
// throughput/latency, session and crawl counters, and process health
// gauges. Adapted from the teacher's flaresolverr-specific metric set (pool
// size, challenge counters) onto this domain's equivalents, keeping the
// same CounterVec/HistogramVec/Gauge shapes and the same
// register-in-init/collector-goroutine structure.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darbotlabs/browser-broker/internal/tools"
)

var (
	// ToolCallsTotal counts completed tool dispatches by tool name and
	// outcome ("ok" | "error").
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserbroker_tool_calls_total",
			Help: "Total number of tool dispatches processed",
		},
		[]string{"tool", "status"},
	)

	// ToolCallDuration tracks dispatch latency by tool name.
	ToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "browserbroker_tool_call_duration_seconds",
			Help:    "Tool dispatch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"tool"},
	)

	// ActiveSessions shows the current number of live broker sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserbroker_active_sessions",
			Help: "Number of active browser sessions",
		},
	)

	// SessionsCreatedTotal / SessionsDestroyedTotal count the session
	// manager's lifecycle events (creation, explicit destroy, idle sweep).
	SessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browserbroker_sessions_created_total",
			Help: "Total sessions created",
		},
	)
	SessionsDestroyedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserbroker_sessions_destroyed_total",
			Help: "Total sessions destroyed, by reason",
		},
		[]string{"reason"}, // "explicit" | "idle_timeout"
	)

	// CrawlsStartedTotal / CrawlsFinishedTotal track autonomous crawl
	// lifecycle (spec §4.6).
	CrawlsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browserbroker_crawls_started_total",
			Help: "Total autonomous crawls started",
		},
	)
	CrawlsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserbroker_crawls_finished_total",
			Help: "Total autonomous crawls finished, by terminal status",
		},
		[]string{"status"}, // completed | error | cancelled
	)
	CrawlPagesVisitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browserbroker_crawl_pages_visited_total",
			Help: "Total distinct pages visited across all crawls",
		},
	)
	CrawlGuardrailBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserbroker_crawl_guardrail_blocks_total",
			Help: "Total crawl actions rejected by the guardrail chain, by rule",
		},
		[]string{"rule"},
	)

	// AuthFailuresTotal counts rejected authentication attempts by method.
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserbroker_auth_failures_total",
			Help: "Total authentication failures, by method",
		},
		[]string{"method"}, // none (no method matched) | tunnel | jwt | managed-identity | shared-secret | anonymous (role gate)
	)

	// PeerSyncUploadsTotal / PeerSyncDownloadsTotal count peer-sync archive
	// exchanges (spec §4.7).
	PeerSyncUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserbroker_peer_sync_uploads_total",
			Help: "Total incoming peer-sync session uploads, by outcome",
		},
		[]string{"outcome"}, // applied | rejected | checksum_mismatch
	)
	PeerSyncDownloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browserbroker_peer_sync_downloads_total",
			Help: "Total outgoing peer-sync session downloads served",
		},
	)

	// MemoryUsageBytes / MemorySysBytes / GoroutineCount are process health
	// gauges, refreshed by StartMemoryCollector.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserbroker_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserbroker_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserbroker_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "browserbroker_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		ToolCallsTotal,
		ToolCallDuration,
		ActiveSessions,
		SessionsCreatedTotal,
		SessionsDestroyedTotal,
		CrawlsStartedTotal,
		CrawlsFinishedTotal,
		CrawlPagesVisitedTotal,
		CrawlGuardrailBlocksTotal,
		AuthFailuresTotal,
		PeerSyncUploadsTotal,
		PeerSyncDownloadsTotal,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory
// metrics until stopCh closes.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// UpdateSessionMetrics sets the active-session gauge.
func UpdateSessionMetrics(count int) {
	ActiveSessions.Set(float64(count))
}

// RecordSessionCreated/Destroyed track the session manager's lifecycle.
func RecordSessionCreated() { SessionsCreatedTotal.Inc() }
func RecordSessionDestroyed(reason string) {
	SessionsDestroyedTotal.WithLabelValues(reason).Inc()
}

// RecordCrawlStarted/Finished track internal/crawl's orchestrator.
func RecordCrawlStarted() { CrawlsStartedTotal.Inc() }
func RecordCrawlFinished(status string) {
	CrawlsFinishedTotal.WithLabelValues(status).Inc()
}
func RecordCrawlPageVisited()          { CrawlPagesVisitedTotal.Inc() }
func RecordCrawlGuardrailBlock(rule string) {
	CrawlGuardrailBlocksTotal.WithLabelValues(rule).Inc()
}

// RecordAuthFailure tracks internal/auth's fan-in rejections.
func RecordAuthFailure(method string) { AuthFailuresTotal.WithLabelValues(method).Inc() }

// RecordPeerSyncUpload/Download track internal/peersync's archive traffic.
func RecordPeerSyncUpload(outcome string) { PeerSyncUploadsTotal.WithLabelValues(outcome).Inc() }
func RecordPeerSyncDownload()             { PeerSyncDownloadsTotal.Inc() }

// Sink implements tools.AuditSink, feeding ToolCallsTotal/ToolCallDuration
// straight off the dispatcher's per-call hook (spec §5 generalized: the
// same completed-dispatch event internal/audit persists also drives these
// counters, via tools.MultiAuditSink fanning one event to both).
type Sink struct{}

func (Sink) Record(_ context.Context, event tools.AuditEvent) {
	status := "ok"
	if event.Err != nil {
		status = "error"
	}
	ToolCallsTotal.WithLabelValues(event.Tool, status).Inc()
	ToolCallDuration.WithLabelValues(event.Tool).Observe(float64(event.DurationMS) / 1000)
}
