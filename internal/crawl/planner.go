package crawl

import (
	"math"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/darbotlabs/browser-broker/internal/types"
)

// observation is one step's view of the current page, gathered by the
// orchestrator's observe phase (spec §4.6 step 1).
type observation struct {
	URL         string
	Title       string
	StateHash   string
	Links       []types.LinkCandidate
	Clickables  []types.ClickableCandidate
	Depth       int
}

// queueItem is one BFS frontier entry: a URL waiting to be visited, carrying
// the depth it was discovered at and the learned-plus-heuristic score that
// orders it against its frontier siblings.
type queueItem struct {
	url   string
	depth int
	score float64
}

// binaryExtensions are skipped by the eligibility filter; fetching them
// would burn a navigation step on a download the planner can't reason
// about.
var binaryExtensions = map[string]bool{
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".rar": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".webp": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".webm": true,
	".exe": true, ".dmg": true, ".msi": true, ".apk": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".ico": true, ".css": true,
}

// utilityKeywords mark pages that are rarely useful crawl targets in their
// own right (auth/legal boilerplate) but are still reachable if the goal
// explicitly asks for them.
var utilityKeywords = []string{"login", "signin", "sign-in", "signup", "sign-up", "register", "logout", "terms", "privacy", "cookie"}

// contentKeywords mark URL shapes that look like substantive content pages,
// as opposed to navigation chrome.
var contentKeywords = []string{"article", "blog", "post", "docs", "doc", "guide", "tutorial", "reference", "api", "manual"}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "for": true,
	"and": true, "or": true, "in": true, "on": true, "with": true, "about": true,
	"is": true, "find": true, "get": true,
}

// planner implements spec §4.6's "BFS with learned priority": a depth/score
// ordered frontier, a content-addressed visited set (by stateHash, not raw
// URL — a redirect or client-rendered variant can share a hash), and a
// learned-pattern table nudged by navigation outcomes.
type planner struct {
	allowedHost    string // same-origin default; spec's "whitelist if any"
	maxDepth       int
	maxPages       int
	goalKeywords   map[string]bool
	blockedRegex   *regexp.Regexp // nil when unset
	perHostVisits  map[string]int
	perHostCap     int
	patternVisits  map[string]int
	learnedPattern map[string]float64

	queue        []queueItem
	visitedURL   map[string]bool
	visitedState map[string]bool
	pagesVisited int
}

func newPlanner(startURL, goal string, maxDepth, maxPages int) *planner {
	p := &planner{
		maxDepth:       maxDepth,
		maxPages:       maxPages,
		goalKeywords:   extractKeywords(goal),
		perHostVisits:  make(map[string]int),
		perHostCap:     maxPages, // a single host can't be visited more than the whole budget
		patternVisits:  make(map[string]int),
		learnedPattern: make(map[string]float64),
		visitedURL:     make(map[string]bool),
		visitedState:   make(map[string]bool),
	}
	if u, err := url.Parse(startURL); err == nil {
		p.allowedHost = u.Hostname()
	}
	return p
}

func extractKeywords(goal string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(goal), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if w == "" || stopWords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

// urlPattern collapses numeric and long-hex path segments to "*" so that
// /users/8231/edit and /users/9142/edit share a learned-score bucket (spec
// §4.6: "URL pattern = host + path with numeric segments and long hex ids
// replaced by *").
var hexSegment = regexp.MustCompile(`^[0-9a-fA-F]{8,}$`)

func urlPattern(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, s := range segs {
		if s == "" {
			continue
		}
		if isAllDigits(s) || hexSegment.MatchString(s) {
			segs[i] = "*"
		}
	}
	return u.Hostname() + "/" + strings.Join(segs, "/")
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// eligible reports whether a candidate outlink discovered at depth passes
// spec §4.6's eligibility filter, including the depth cap; the maxPages
// budget is checked by Next, not here.
func (p *planner) eligible(raw string, depth int) bool {
	if depth > p.maxDepth {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if p.allowedHost != "" && u.Hostname() != p.allowedHost {
		return false
	}
	if p.blockedRegex != nil && p.blockedRegex.MatchString(raw) {
		return false
	}
	if ext := pathExt(u.Path); binaryExtensions[ext] {
		return false
	}
	if p.perHostVisits[u.Hostname()] >= p.perHostCap {
		return false
	}
	return true
}

func pathExt(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx == -1 {
		return ""
	}
	return strings.ToLower(path[idx:])
}

// Observe folds one step's page state into the frontier: it enqueues newly
// discovered, eligible outlinks and returns whether this state's content
// hash has been seen before (spec: "if already in memory, still consider
// for new outlinks but do not re-score it").
func (p *planner) Observe(obs observation) (alreadySeen bool) {
	alreadySeen = p.visitedState[obs.StateHash]
	p.visitedState[obs.StateHash] = true
	p.visitedURL[obs.URL] = true

	if !alreadySeen {
		p.pagesVisited++
		if u, err := url.Parse(obs.URL); err == nil {
			p.perHostVisits[u.Hostname()]++
		}
		p.patternVisits[urlPattern(obs.URL)]++
	}

	nextDepth := obs.Depth + 1
	for _, link := range obs.Links {
		if p.visitedURL[link.URL] {
			continue
		}
		if !p.eligible(link.URL, nextDepth) {
			continue
		}
		score := p.score(link.URL, link.Text, nextDepth)
		p.queue = append(p.queue, queueItem{url: link.URL, depth: nextDepth, score: score})
	}
	sort.SliceStable(p.queue, func(i, j int) bool {
		if p.queue[i].depth != p.queue[j].depth {
			return p.queue[i].depth < p.queue[j].depth
		}
		return p.queue[i].score > p.queue[j].score
	})
	return alreadySeen
}

// score implements the fixed-weight feature combination of spec §4.6,
// logistic-squashed and scaled to [0, 10].
func (p *planner) score(rawURL, linkText string, depth int) float64 {
	u, err := url.Parse(rawURL)
	path := ""
	query := 0
	if err == nil {
		path = strings.ToLower(u.Path)
		query = len(u.Query())
	}
	lowerURL := strings.ToLower(rawURL)
	lowerText := strings.ToLower(linkText)
	segments := len(strings.Split(strings.Trim(path, "/"), "/"))

	isUtility := containsAny(lowerURL, utilityKeywords) || containsAny(lowerText, utilityKeywords)
	isContent := containsAny(lowerURL, contentKeywords) || segments >= 3
	isNavigation := !isContent && segments <= 1

	keywordHits := 0
	for kw := range p.goalKeywords {
		if strings.Contains(lowerURL, kw) || strings.Contains(lowerText, kw) {
			keywordHits++
		}
	}
	containsGoalKeyword := keywordHits > 0
	semanticRelevance := 0.0
	if len(p.goalKeywords) > 0 {
		semanticRelevance = float64(keywordHits) / float64(len(p.goalKeywords))
	}

	pattern := urlPattern(rawURL)
	siblings := float64(p.patternVisits[pattern])
	learned := p.learnedPattern[pattern]

	x := 0.0
	x += -0.25 * float64(depth)
	x += -0.003 * float64(len(rawURL))
	x += -0.05 * float64(segments)
	x += -0.05 * float64(query)
	x += boolWeight(isContent, 0.8)
	x += boolWeight(isNavigation, 0.3)
	x += boolWeight(isUtility, -0.6)
	x += boolWeight(containsGoalKeyword, 0.6)
	x += 1.0 * semanticRelevance
	x += -0.1 * siblings
	x += 1.0 * learned

	return logistic(x) * 10
}

func boolWeight(b bool, w float64) float64 {
	if b {
		return w
	}
	return 0
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Learn nudges the learned-pattern score for url's pattern after an
// executed navigation (spec §4.6: "+0.1 on success, −0.05 on failure").
func (p *planner) Learn(rawURL string, success bool) {
	delta := -0.05
	if success {
		delta = 0.1
	}
	pattern := urlPattern(rawURL)
	p.learnedPattern[pattern] += delta
}

// interestingThreshold is the minimum clickable score treated as worth
// acting on when the navigation queue is empty.
const interestingThreshold = 4.0

// destructiveKeywords flag a clickable as too risky to click opportunistically.
var destructiveKeywords = []string{"delete", "remove", "cancel", "logout", "log out", "sign out", "purchase", "buy now", "submit payment", "pay now", "checkout", "confirm order"}

// Next proposes the planner's next action (spec §4.6's "Next target"
// ordering): queue head first, else the best non-destructive clickable
// above threshold, else finish.
func (p *planner) Next(obs observation) types.PlannedAction {
	if p.pagesVisited >= p.maxPages {
		return types.PlannedAction{Kind: types.ActionFinish, Reason: "max pages reached"}
	}
	if len(p.queue) > 0 {
		head := p.queue[0]
		p.queue = p.queue[1:]
		return types.PlannedAction{Kind: types.ActionNavigate, Target: head.url, Priority: head.score, Reason: "frontier head"}
	}

	best := -1.0
	var bestClick types.ClickableCandidate
	for _, c := range obs.Clickables {
		lower := strings.ToLower(c.Text)
		if lower == "" || containsAny(lower, destructiveKeywords) {
			continue
		}
		score := clickableScore(c, p.goalKeywords)
		if score > best {
			best = score
			bestClick = c
		}
	}
	if best >= interestingThreshold {
		return types.PlannedAction{Kind: types.ActionClick, Target: string(bestClick.Ref), Priority: best, Reason: "best non-destructive clickable: " + bestClick.Text}
	}
	return types.PlannedAction{Kind: types.ActionFinish, Reason: "frontier exhausted, no interesting clickable"}
}

func clickableScore(c types.ClickableCandidate, goalKeywords map[string]bool) float64 {
	lower := strings.ToLower(c.Text)
	x := 0.0
	if len(lower) > 2 {
		x += 2.0
	}
	hits := 0
	for kw := range goalKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	if hits > 0 {
		x += 3.0
	}
	return logistic(x) * 10
}
