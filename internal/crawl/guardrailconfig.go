package crawl

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// GuardrailPolicy is the hot-reloadable half of a guardrail chain's
// navigate rules (spec §4.6's allow/block-list): everything else about a
// crawl (rate, depth, deadline) is fixed for the session's lifetime, but
// the host block-list and the blocked-URL pattern can be edited on disk
// while a long crawl is running.
type GuardrailPolicy struct {
	BlockedHosts   []string `yaml:"blockedHosts"`
	BlockedPattern string   `yaml:"blockedPattern"`
}

// loadGuardrailPolicy reads and parses a policy file. A missing file is not
// an error — it just means no policy overrides apply.
func loadGuardrailPolicy(path string) (GuardrailPolicy, error) {
	var p GuardrailPolicy
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, err
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

// watchGuardrailPolicy applies path's policy once, then watches its parent
// directory for changes (editors typically replace a file via rename
// rather than writing it in place, which fsnotify only observes on the
// containing directory) and reapplies on every write or create event for
// path (a rename onto path arrives as a create) until ctx is cancelled. Errors loading or watching are logged, not fatal:
// a crawl should not abort because its policy file briefly has bad YAML.
func watchGuardrailPolicy(ctx context.Context, path string, apply func(GuardrailPolicy)) {
	if path == "" {
		return
	}

	if p, err := loadGuardrailPolicy(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("guardrail policy: initial load failed")
	} else {
		apply(p)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("guardrail policy: watcher unavailable, hot-reload disabled")
		return
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("guardrail policy: cannot watch directory, hot-reload disabled")
		_ = watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				p, err := loadGuardrailPolicy(path)
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("guardrail policy: reload failed, keeping previous policy")
					continue
				}
				log.Info().Str("path", path).Int("blocked_hosts", len(p.BlockedHosts)).Msg("guardrail policy: reloaded")
				apply(p)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("guardrail policy: watcher error")
			}
		}
	}()
}

// ApplyPolicy replaces the chain's hot-reloadable block-list and blocked
// pattern. Safe to call concurrently with Check/RecordAllowed.
func (g *guardrailChain) ApplyPolicy(p GuardrailPolicy) {
	blocked := make(map[string]bool, len(p.BlockedHosts))
	for _, h := range p.BlockedHosts {
		blocked[h] = true
	}

	var re *regexp.Regexp
	if p.BlockedPattern != "" {
		compiled, err := regexp.Compile(p.BlockedPattern)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p.BlockedPattern).Msg("guardrail policy: invalid blockedPattern, ignoring")
		} else {
			re = compiled
		}
	}

	g.mu.Lock()
	g.blockedHosts = blocked
	g.blockedRegex = re
	g.mu.Unlock()
}
