// Package crawl implements the autonomous crawl orchestrator of spec §4.6:
// a BFS planner with learned priority, an ordered guardrail chain, a
// content-addressed memory store, a driver-translating executor, and a
// JSON+HTML reporter. One Orchestrator is shared by every broker session;
// at most one crawl runs per session at a time.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/darbotlabs/browser-broker/internal/metrics"
	"github.com/darbotlabs/browser-broker/internal/session"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// stepSleep is the per-iteration pause of spec §4.6's loop ("sleep briefly
// ~1s and iterate"), giving the target site breathing room between steps
// independent of the guardrail's own rate limiter.
const stepSleep = time.Second

// Config holds the orchestrator-wide defaults a freshly started crawl
// inherits; ConfigureMemory can adjust the memory side at runtime.
type Config struct {
	OutputDir       string
	RatePerSecond   int
	RateBurst       int
	DefaultTimeout  time.Duration
	ScreenshotEvery int // capture a screenshot every N visited states; 0 disables

	// GuardrailPolicyPath, if set, names a YAML file holding a
	// GuardrailPolicy (block-list host names and a blocked-URL pattern)
	// that is loaded at crawl start and hot-reloaded for the lifetime of
	// the crawl whenever the file changes on disk.
	GuardrailPolicyPath string
}

// DefaultConfig mirrors the guardrail defaults spec §4.6 names explicitly
// (2 req/s, burst 5).
func DefaultConfig(outputDir string) Config {
	return Config{
		OutputDir:       outputDir,
		RatePerSecond:   2,
		RateBurst:       5,
		DefaultTimeout:  10 * time.Minute,
		ScreenshotEvery: 5,
	}
}

// activeCrawl bundles one in-flight or finished crawl's mutable state.
// Reads happen from Status/Cancel concurrently with the run loop's writes,
// so every field access goes through mu.
type activeCrawl struct {
	mu       sync.Mutex
	session  types.CrawlSession
	cancel   context.CancelFunc
	reporter *reporter
}

func (a *activeCrawl) snapshot() types.CrawlSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *activeCrawl) update(fn func(*types.CrawlSession)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.session)
}

// Orchestrator implements tools.CrawlHost against a live session.Manager
// and a Store.
type Orchestrator struct {
	sessions *session.Manager
	memory   Store
	cfg      Config

	mu     sync.Mutex
	active map[string]*activeCrawl // keyed by broker session id
}

// NewOrchestrator wires a ready-to-use Orchestrator.
func NewOrchestrator(sessions *session.Manager, memory Store, cfg Config) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		memory:   memory,
		cfg:      cfg,
		active:   make(map[string]*activeCrawl),
	}
}

// Start begins a new crawl for sessionID (spec §4.6: "one active crawl per
// broker session"). It returns immediately with the crawl's initial state;
// the loop runs on its own goroutine.
func (o *Orchestrator) Start(ctx context.Context, sessionID, startURL, goal string, maxDepth, maxPages int) (*types.CrawlSession, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if existing, ok := o.active[sessionID]; ok && existing.snapshot().Status == types.CrawlRunning {
		o.mu.Unlock()
		return nil, types.ErrActiveCrawl
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	crawlID := uuid.NewString()
	ac := &activeCrawl{
		session: types.CrawlSession{
			ID:        crawlID,
			SessionID: sessionID,
			StartURL:  startURL,
			Goal:      goal,
			StartedAt: time.Now(),
			Status:    types.CrawlRunning,
		},
		cancel:   cancel,
		reporter: newReporter(o.cfg.OutputDir, crawlID, goal, startURL),
	}
	o.active[sessionID] = ac
	o.mu.Unlock()

	metrics.RecordCrawlStarted()
	go o.run(loopCtx, sess, ac, maxDepth, maxPages)

	result := ac.snapshot()
	return &result, nil
}

// Cancel flips the shouldStop flag for sessionID's active crawl (spec §5:
// "a cancel-crawl RPC flips that flag").
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	ac, ok := o.active[sessionID]
	o.mu.Unlock()
	if !ok || ac.snapshot().Status != types.CrawlRunning {
		return types.ErrNoActiveCrawl
	}
	ac.cancel()
	return nil
}

// Status returns the current (or final) state of sessionID's crawl.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (*types.CrawlSession, error) {
	o.mu.Lock()
	ac, ok := o.active[sessionID]
	o.mu.Unlock()
	if !ok {
		return nil, types.ErrNoActiveCrawl
	}
	result := ac.snapshot()
	return &result, nil
}

// ConfigureMemory adjusts the shared memory store's capacity and backend.
// Only the "disk" backend has a production implementation; any other value
// is accepted per spec §9's "implementation optional" note but recorded as
// a warning.
func (o *Orchestrator) ConfigureMemory(ctx context.Context, maxStates int, backend string) error {
	if backend != "" && backend != "disk" {
		log.Warn().Str("backend", backend).Msg("crawl: external memory backend requested but not implemented, using disk")
	}
	o.memory.SetMaxStates(maxStates)
	return nil
}

// run drives spec §4.6's per-step loop until a terminal condition:
// shouldStop (context cancellation), max pages reached, action "finish",
// deadline exceeded, or a fatal (non-recoverable) error.
func (o *Orchestrator) run(ctx context.Context, sess *session.Session, ac *activeCrawl, maxDepth, maxPages int) {
	crawlSession := ac.snapshot()
	deadline := time.Now().Add(o.cfg.DefaultTimeout)

	sess.Lock()
	tab, err := sess.EnsureTab(ctx)
	sess.Unlock()
	if err != nil {
		o.finish(ac, types.CrawlError, fmt.Errorf("ensure tab: %w", err))
		return
	}

	planner := newPlanner(crawlSession.StartURL, crawlSession.Goal, maxDepth, maxPages)
	guardrails := newGuardrailChain(crawlSession.StartURL, maxDepth, o.cfg.DefaultTimeout, o.cfg.RatePerSecond, o.cfg.RateBurst)
	watchGuardrailPolicy(ctx, o.cfg.GuardrailPolicyPath, guardrails.ApplyPolicy)

	sess.Lock()
	navErr := tab.Page.Navigate(ctx, crawlSession.StartURL)
	sess.Unlock()
	if navErr != nil {
		o.finish(ac, types.CrawlError, fmt.Errorf("initial navigate: %w", navErr))
		return
	}

	depth := 0
	var lastObs observation

	for {
		select {
		case <-ctx.Done():
			o.finish(ac, types.CrawlCancelled, nil)
			return
		default:
		}
		if time.Now().After(deadline) {
			o.finish(ac, types.CrawlCompleted, nil)
			return
		}

		sess.Lock()
		obs, obsErr := observe(ctx, tab.Page, sess.Snapshots, depth)
		sess.Unlock()
		if obsErr != nil {
			ac.reporter.RecordError(lastObs.URL, types.ActionSnapshot, obsErr)
			o.finish(ac, types.CrawlError, obsErr)
			return
		}
		lastObs = obs
		ac.reporter.RecordLinksSeen(len(obs.Links))

		alreadySeen := planner.Observe(obs)
		if !alreadySeen {
			metrics.RecordCrawlPageVisited()
			state := types.PageState{
				StateHash: obs.StateHash,
				URL:       obs.URL,
				Title:     obs.Title,
				Timestamp: time.Now(),
				Visited:   true,
			}
			for _, l := range obs.Links {
				state.Links = append(state.Links, l.URL)
			}
			if o.cfg.ScreenshotEvery > 0 && planner.pagesVisited%o.cfg.ScreenshotEvery == 0 {
				sess.Lock()
				shot, shotErr := tab.Page.Screenshot(ctx, false)
				sess.Unlock()
				if shotErr == nil {
					if path, saveErr := o.memory.SaveScreenshot(obs.StateHash, shot); saveErr == nil {
						state.ScreenshotPath = path
					}
				}
			}
			if err := o.memory.StoreState(state); err != nil {
				log.Warn().Err(err).Str("state_hash", obs.StateHash).Msg("crawl: failed to persist page state")
			}
			ac.reporter.RecordVisit(state, types.ActionNavigate, depth)
		}

		action := planner.Next(obs)
		ac.update(func(cs *types.CrawlSession) {
			cs.Stats.PagesVisited = planner.pagesVisited
			cs.Stats.MaxDepth = max(cs.Stats.MaxDepth, depth)
			cs.Stats.TotalLinks += len(obs.Links)
		})

		if action.Kind == types.ActionFinish {
			o.finish(ac, types.CrawlCompleted, nil)
			return
		}

		if err := guardrails.Check(action, depth+1); err != nil {
			var guardErr *types.GuardrailError
			if errors.As(err, &guardErr) {
				metrics.RecordCrawlGuardrailBlock(guardErr.Rule)
			}
			ac.reporter.RecordError(obs.URL, action.Kind, err)
			ac.update(func(cs *types.CrawlSession) { cs.Stats.Errors++ })
			time.Sleep(stepSleep)
			continue
		}
		guardrails.RecordAllowed(action)

		sess.Lock()
		execErr := execute(ctx, tab.Page, action, obs)
		sess.Unlock()

		if execErr != nil {
			planner.Learn(action.Target, false)
			ac.reporter.RecordError(obs.URL, action.Kind, execErr)
			ac.update(func(cs *types.CrawlSession) { cs.Stats.Errors++ })
			time.Sleep(stepSleep)
			continue
		}
		planner.Learn(action.Target, true)
		if action.Kind == types.ActionNavigate {
			depth++
		}

		time.Sleep(stepSleep)
	}
}

func (o *Orchestrator) finish(ac *activeCrawl, status types.CrawlStatus, err error) {
	reportPath, writeErr := ac.reporter.Finalize()
	if writeErr != nil {
		log.Error().Err(writeErr).Msg("crawl: failed to finalize report")
	}
	ac.update(func(cs *types.CrawlSession) {
		cs.Status = status
		cs.EndedAt = time.Now()
		cs.ReportPath = reportPath
		cs.Stats.Duration = cs.EndedAt.Sub(cs.StartedAt)
	})
	metrics.RecordCrawlFinished(string(status))
	if err != nil {
		log.Warn().Err(err).Str("crawl_id", ac.snapshot().ID).Str("status", string(status)).Msg("crawl: terminated")
	} else {
		log.Info().Str("crawl_id", ac.snapshot().ID).Str("status", string(status)).Msg("crawl: terminated")
	}
}
