package crawl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/darbotlabs/browser-broker/internal/driver"
	"github.com/darbotlabs/browser-broker/internal/snapshot"
	"github.com/darbotlabs/browser-broker/internal/types"
)

const (
	maxExtractedLinks      = 50
	maxExtractedClickables = 20
)

// observe gathers spec §4.6 step 1's page state: URL, title, serialized
// accessibility snapshot, and bounded link/clickable extractions.
func observe(ctx context.Context, page driver.Page, snapshots *snapshot.Registry, depth int) (observation, error) {
	title, err := page.Title(ctx)
	if err != nil {
		return observation{}, types.NewDriverError("observe_title", err.Error(), err)
	}
	entries, text, err := page.AccessibilitySnapshot(ctx)
	if err != nil {
		return observation{}, types.NewDriverError("observe_snapshot", err.Error(), err)
	}
	snapshots.Capture(page.ID(), entries, text)

	links, err := page.ExtractLinks(ctx, maxExtractedLinks)
	if err != nil {
		return observation{}, types.NewDriverError("observe_links", err.Error(), err)
	}
	clickables, err := page.ExtractClickables(ctx, maxExtractedClickables)
	if err != nil {
		return observation{}, types.NewDriverError("observe_clickables", err.Error(), err)
	}

	obs := observation{
		URL:        page.URL(),
		Title:      title,
		Links:      links,
		Clickables: clickables,
		Depth:      depth,
	}
	obs.StateHash = canonicalStateHash(obs.URL, title, text)
	return obs, nil
}

// canonicalStateHash implements spec §4.6's "stateHash =
// SHA-256(canonicalSnapshotBytes)[:16]": URL and title disambiguate pages
// whose AX trees happen to coincide (e.g. two blank loading states), while
// the serialized tree text captures the actual content.
func canonicalStateHash(url, title, snapshotText string) string {
	canonical := url + "\x00" + title + "\x00" + snapshotText
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16]
}

// execute translates one planned action into driver calls (spec §4.6's
// Executor). obs is the observation the action was planned from, needed to
// resolve a click action's ref back to the driver-specific locator
// ExtractClickables captured alongside it. It returns any error for the
// caller to feed back into the planner's learning signal and the report's
// error log.
func execute(ctx context.Context, page driver.Page, action types.PlannedAction, obs observation) error {
	switch action.Kind {
	case types.ActionNavigate:
		navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := page.Navigate(navCtx, action.Target); err != nil {
			return types.NewDriverError("navigate", err.Error(), err)
		}
		_ = page.WaitForNetworkIdle(navCtx, 500*time.Millisecond)
		return nil

	case types.ActionClick:
		locator, err := resolveClickable(obs, action.Target)
		if err != nil {
			return err
		}
		if err := page.Click(ctx, locator); err != nil {
			return types.NewDriverError("click", err.Error(), err)
		}
		time.Sleep(300 * time.Millisecond) // settling delay, mirrors the interact tools' post-click pause
		return nil

	case types.ActionType:
		locator, err := resolveClickable(obs, action.Target)
		if err != nil {
			return err
		}
		if err := page.Type(ctx, locator, action.Text); err != nil {
			return types.NewDriverError("type", err.Error(), err)
		}
		return nil

	case types.ActionWait:
		time.Sleep(stepSleep)
		return nil

	case types.ActionSnapshot:
		_, _, err := page.AccessibilitySnapshot(ctx)
		if err != nil {
			return types.NewDriverError("snapshot", err.Error(), err)
		}
		return nil

	case types.ActionFinish:
		return nil

	default:
		return types.NewKindError(types.KindInternal, fmt.Sprintf("unknown planned action kind %q", action.Kind))
	}
}

// resolveClickable finds the driver locator for the clickable candidate
// named by ref within obs, the same observation the planner proposed the
// action from.
func resolveClickable(obs observation, ref string) (string, error) {
	for _, c := range obs.Clickables {
		if string(c.Ref) == ref {
			return c.Locator, nil
		}
	}
	return "", types.NewKindError(types.KindInternal, "planned clickable ref not found in current observation: "+ref)
}
