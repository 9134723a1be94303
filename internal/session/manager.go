package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/darbotlabs/browser-broker/internal/driver"
	"github.com/darbotlabs/browser-broker/internal/metrics"
	"github.com/darbotlabs/browser-broker/internal/security"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// Manager owns every live Session, enforces maxConcurrentSessions, and
// sweeps idle sessions on a timer — generalized from the teacher's
// internal/session.Manager (mutex + refcount + errgroup-parallel cleanup)
// to own a browser context with N tabs instead of a single page.
type Manager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	drv            driver.Driver
	maxSessions    int
	idleTimeout    time.Duration
	sweepInterval  time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// NewManager starts the idle sweeper and returns a ready Manager.
func NewManager(drv driver.Driver, maxSessions int, idleTimeout, sweepInterval time.Duration) *Manager {
	m := &Manager{
		sessions:      make(map[string]*Session),
		drv:           drv,
		maxSessions:   maxSessions,
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sweepLoop()
	}()
	log.Info().
		Int("max_sessions", maxSessions).
		Dur("idle_timeout", idleTimeout).
		Dur("sweep_interval", sweepInterval).
		Msg("session manager initialized")
	return m
}

// GetOrCreate resolves id to a Session, creating one if id is empty or
// unknown — the dual-transport "reconnect with unknown id silently creates
// a new one" rule lives in the transport layer; this method only implements
// the session-manager half of that contract (spec §4.1, §4.3).
func (m *Manager) GetOrCreate(ctx context.Context, id string, opts driver.ContextOptions) (*Session, bool, error) {
	if id != "" {
		if s, err := m.Get(id); err == nil {
			return s, false, nil
		}
	}
	s, err := m.Create(ctx, id, opts)
	return s, true, err
}

// Create allocates a fresh Session. If id is empty, one is minted; a
// caller-supplied id is validated first since it may have arrived over
// the dual-transport reconnect path (spec §4.1, §4.3) from an untrusted client.
func (m *Manager) Create(ctx context.Context, id string, opts driver.ContextOptions) (*Session, error) {
	if id == "" {
		generated, err := security.GenerateSessionID()
		if err != nil {
			return nil, types.NewKindErrorf(types.KindInternal, "failed to generate session id", err.Error(), err)
		}
		id = generated
	} else if msg := security.ValidateSessionID(id); msg != "" {
		return nil, types.NewKindError(types.KindBadInput, msg)
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, types.ErrSessionAlreadyExists
	}
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, types.ErrTooManySessions
	}
	m.mu.Unlock()

	driverCtx, err := m.drv.NewContext(ctx, opts)
	if err != nil {
		return nil, types.NewDriverError("new_context", err.Error(), err)
	}

	s := newSession(id, driverCtx)

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		_ = driverCtx.Close(ctx)
		return nil, types.ErrSessionAlreadyExists
	}
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.RecordSessionCreated()
	metrics.UpdateSessionMetrics(count)
	log.Info().Str("session_id", id).Int("total_sessions", count).Msg("session created")
	return s, nil
}

// Get retrieves a live, non-closing session by id and touches its activity
// clock. Returns ErrSessionNotFound otherwise.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, exists := m.sessions[id]
	if !exists {
		m.mu.RUnlock()
		return nil, types.ErrSessionNotFound
	}
	closing := s.closing.Load()
	m.mu.RUnlock()

	if closing {
		return nil, types.ErrSessionNotFound
	}
	s.Touch()
	return s, nil
}

// Destroy tears down a session: marks it closing, waits for in-flight
// operations to drain, closes every tab and the browser context.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	s, exists := m.sessions[id]
	if exists {
		s.closing.Store(true)
	}
	m.mu.Unlock()

	if !exists {
		return types.ErrSessionNotFound
	}

	if !s.waitForReferences(5 * time.Second) {
		log.Warn().Str("session_id", id).Int32("ref_count", s.refCount.Load()).
			Msg("session destroy: timed out waiting for in-flight operations, will be swept later")
		return nil
	}

	m.mu.Lock()
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	s.Lock()
	s.closeAll(ctx)
	s.Unlock()

	metrics.RecordSessionDestroyed("explicit")
	metrics.UpdateSessionMetrics(count)
	log.Info().Str("session_id", id).Dur("lifetime", time.Since(s.CreatedAt)).Msg("session destroyed")
	return nil
}

// List returns all active session ids.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastActivityTime()) > m.idleTimeout {
			s.closing.Store(true)
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, s := range expired {
		sess := s
		eg.Go(func() error {
			if !sess.waitForReferences(2 * time.Second) {
				log.Warn().Str("session_id", sess.ID).Msg("idle sweep: proceeding with teardown despite in-flight references")
			}
			sess.Lock()
			sess.closeAll(context.Background())
			sess.Unlock()
			metrics.RecordSessionDestroyed("idle_timeout")
			log.Info().Str("session_id", sess.ID).Dur("lifetime", now.Sub(sess.CreatedAt)).Msg("session idle timeout: swept")
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("idle sweep encountered errors")
	}
	metrics.UpdateSessionMetrics(remaining)
	log.Debug().Int("expired", len(expired)).Int("remaining", remaining).Msg("idle sweep completed")
}

// Close shuts down the manager and every session it owns.
func (m *Manager) Close(ctx context.Context) error {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if len(sessions) == 0 {
		log.Info().Msg("session manager closed")
		return nil
	}

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, s := range sessions {
		sess := s
		eg.Go(func() error {
			sess.Lock()
			sess.closeAll(ctx)
			sess.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("session manager shutdown encountered errors")
	}
	log.Info().Msg("session manager closed")
	return nil
}
