package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mintarchive/provenance-cli/internal/config"
	"github.com/mintarchive/provenance-cli/internal/model"
)

// galleryJS snapshots every image on the page together with its enclosing
// link. Run after the scroll loop so lazy-loaded items are present.
const galleryJS = `Array.from(document.querySelectorAll('img')).map(img => {
	const a = img.closest('a');
	return {
		src: img.currentSrc || img.src || '',
		alt: img.alt || '',
		href: a ? a.href : '',
		title: img.getAttribute('title') || img.alt || ''
	};
}).filter(i => i.src)`

type pageItem struct {
	Src   string `json:"src"`
	Alt   string `json:"alt"`
	Href  string `json:"href"`
	Title string `json:"title"`
}

// Browser runs platform strategies in a headless browser. Sessions are
// process-heavy, so a global semaphore bounds how many run at once; a
// session is always torn down on exit, whatever the exit path.
type Browser struct {
	sessions *semaphore.Weighted
	cfg      config.ScrapeConfig
}

// NewBrowser creates a Browser honoring the configured session bound.
func NewBrowser(cfg config.ScrapeConfig) *Browser {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 2
	}
	return &Browser{
		sessions: semaphore.NewWeighted(maxSessions),
		cfg:      cfg,
	}
}

// Strategy builds a registry entry for one configured platform.
func (b *Browser) Strategy(sc config.StrategyConfig) Strategy {
	filter := NewItemFilter(sc.Filters)
	return Strategy{
		ID:       sc.ID,
		Priority: sc.Priority,
		Match: func(t model.Target) bool {
			if t.Kind != model.TargetPlatformURL {
				return false
			}
			if sc.Platform != "" && t.Platform != sc.Platform {
				return false
			}
			return true
		},
		Execute: func(ctx context.Context, t model.Target) (*model.Candidate, error) {
			return b.scrape(ctx, t, sc, filter)
		},
	}
}

func (b *Browser) scrape(ctx context.Context, target model.Target, sc config.StrategyConfig, filter *ItemFilter) (*model.Candidate, error) {
	start := time.Now()

	if err := b.sessions.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "browser: acquire session")
	}
	defer b.sessions.Release(1)

	navTimeout := time.Duration(b.cfg.NavTimeoutSecs) * time.Second
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var raw []pageItem
	tasks := chromedp.Tasks{
		chromedp.Navigate(target.URL),
		chromedp.WaitReady("body"),
	}
	tasks = append(tasks, b.scrollTasks()...)
	tasks = append(tasks, chromedp.Evaluate(galleryJS, &raw))

	if err := chromedp.Run(browserCtx, tasks); err != nil {
		return nil, eris.Wrapf(err, "browser: scrape %s", target.URL)
	}

	items := make([]model.Artifact, 0, len(raw))
	for _, pi := range raw {
		items = append(items, pageArtifact(target, pi))
	}

	items, notes := filter.Apply(items)

	candidate := &model.Candidate{
		StrategyID: sc.ID,
		Items:      items,
		Elapsed:    time.Since(start),
		Notes:      notes,
	}
	candidate.Dedup()

	zap.L().Debug("browser: scrape complete",
		zap.String("strategy", sc.ID),
		zap.String("url", target.URL),
		zap.Int("raw", len(raw)),
		zap.Int("kept", len(candidate.Items)),
	)
	return candidate, nil
}

// scrollTasks builds the bounded lazy-load scroll loop: a fixed number of
// viewport scrolls with a fixed inter-scroll delay, never an open-ended
// wait on page events.
func (b *Browser) scrollTasks() chromedp.Tasks {
	maxScrolls := b.cfg.MaxScrolls
	if maxScrolls <= 0 {
		maxScrolls = 8
	}
	delay := time.Duration(b.cfg.ScrollDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = 400 * time.Millisecond
	}

	tasks := make(chromedp.Tasks, 0, 2*maxScrolls)
	for i := 0; i < maxScrolls; i++ {
		tasks = append(tasks,
			chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
			chromedp.Sleep(delay),
		)
	}
	return tasks
}

// pageArtifact normalizes one raw page item. The external id prefers the
// item's detail-page path so repeat acquisitions land on the same dedup key.
func pageArtifact(target model.Target, pi pageItem) model.Artifact {
	return model.Artifact{
		ExternalID: externalID(pi),
		Platform:   target.Platform,
		Title:      strings.TrimSpace(pi.Title),
		SourceURL:  pi.Href,
		MediaURLs:  []string{pi.Src},
		Attributes: map[string]string{"alt": pi.Alt},
		Confidence: 0.9,
	}
}

func externalID(pi pageItem) string {
	if seg := lastPathSegment(pi.Href); seg != "" {
		return seg
	}
	if seg := lastPathSegment(pi.Src); seg != "" {
		return seg
	}
	sum := sha256.Sum256([]byte(pi.Src))
	return hex.EncodeToString(sum[:6])
}

func lastPathSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}
