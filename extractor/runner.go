package extractor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"time"

	"deal-scraper/adapters"
	"deal-scraper/config"
	"deal-scraper/internal/types"
	"deal-scraper/utils"
)

// PauseFunc suspends the run for d or until ctx is done. Every wait the
// runner makes goes through it.
type PauseFunc func(ctx context.Context, d time.Duration) error

// CheckpointFunc receives the records collected so far after each target.
type CheckpointFunc func(records []types.ProductRecord) error

// Option configures a Runner.
type Option func(*Runner)

// WithPause replaces the default timer-based pause.
func WithPause(pause PauseFunc) Option {
	return func(r *Runner) { r.pause = pause }
}

// WithRand sets the random source used for page delays.
func WithRand(rng *rand.Rand) Option {
	return func(r *Runner) { r.rng = rng }
}

// WithMetrics records run activity on m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithCheckpoint flushes partial results after every target.
func WithCheckpoint(fn CheckpointFunc) Option {
	return func(r *Runner) { r.checkpoint = fn }
}

// Runner scrapes every listing target of one site through a single fetcher
// session, one page at a time.
type Runner struct {
	site       *config.SiteConfig
	fetcher    types.PageFetcher
	adapter    *adapters.ListingAdapter
	logger     types.Logger
	pause      PauseFunc
	rng        *rand.Rand
	metrics    *Metrics
	checkpoint CheckpointFunc
	navigated  bool
}

// NewRunner creates a runner for a validated site config.
func NewRunner(site *config.SiteConfig, fetcher types.PageFetcher, logger types.Logger, opts ...Option) *Runner {
	r := &Runner{
		site:    site,
		fetcher: fetcher,
		adapter: adapters.NewListingAdapter(site, logger),
		logger:  logger,
		pause:   Sleep,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PageURL returns the URL of result page n for a listing. Page 1 is the
// listing URL itself.
func PageURL(base string, n int) string {
	if n <= 1 {
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}

// Run scrapes all targets in order. On cancellation the records gathered so
// far are returned together with the context error.
func (r *Runner) Run(ctx context.Context) (*types.RunResult, error) {
	result := &types.RunResult{
		Site:      r.site.ID,
		StartTime: time.Now(),
	}
	targets := r.site.Targets()
	r.logger.Infof("Starting %s run at %v: %d targets, up to %d pages each",
		r.site.ID, result.StartTime.Format("15:04:05.000"), len(targets), r.site.Limits.MaxPages)

	for i, target := range targets {
		r.logger.Infof("Target %d/%d: %s", i+1, len(targets), target.Category)
		if err := r.scrapeTarget(ctx, target, result); err != nil {
			result.EndTime = time.Now()
			return result, err
		}
		if r.checkpoint != nil {
			if err := r.checkpoint(result.Records); err != nil {
				result.EndTime = time.Now()
				return result, fmt.Errorf("failed to write checkpoint: %w", err)
			}
		}
	}

	result.EndTime = time.Now()
	r.logSummary(result)
	return result, nil
}

func (r *Runner) scrapeTarget(ctx context.Context, target config.Target, result *types.RunResult) error {
	for n := 1; n <= r.site.Limits.MaxPages; n++ {
		page, hasNext, err := r.scrapePage(ctx, target, n, result)
		if page.State.Terminal() {
			result.Pages = append(result.Pages, page)
		}
		if err != nil {
			return err
		}
		if page.State != types.PageExtracted {
			return nil
		}
		if !hasNext {
			r.logger.Debugf("No next page after page %d of %s", n, target.Category)
			return nil
		}
	}
	return nil
}

// scrapePage drives one listing page to a terminal state. Timeouts and
// other transient errors are retried with backoff up to MaxRetries attempts;
// a CAPTCHA is waited out once before the page is skipped.
func (r *Runner) scrapePage(ctx context.Context, target config.Target, n int, result *types.RunResult) (types.PageResult, bool, error) {
	pageURL := PageURL(target.URL, n)
	pr := types.PageResult{URL: pageURL, Category: target.Category, Page: n}
	var m pageMachine

	if r.navigated {
		delay := r.pageDelay()
		r.logger.Debugf("Waiting %v before %s", delay, pageURL)
		if err := r.pause(ctx, delay); err != nil {
			return pr, false, err
		}
	}

	var (
		timeouts      int
		captchaWaited bool
		hasNext       bool
		failure       error
	)

	for !m.state.Terminal() && m.err == nil {
		m.to(types.PageLoading)
		pr.Attempts++
		r.navigated = true

		start := time.Now()
		page, err := r.fetcher.Fetch(ctx, pageURL)
		r.metrics.ObserveNavigation(time.Since(start))

		if err != nil && ctx.Err() == nil {
			if challenge := r.challengePage(err); challenge != nil {
				page, err = challenge, nil
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				pr.State = m.state
				return pr, false, ctx.Err()
			}
			if !isTransient(err) {
				m.to(types.PageFailed)
				failure = ErrNavigation{URL: pageURL, Err: err}
				break
			}

			timeouts++
			m.to(types.PageTimedOut)
			if timeouts >= r.site.Limits.MaxRetries {
				m.to(types.PageSkipped)
				failure = ErrNavigationTimeout{URL: pageURL, Attempts: timeouts, Err: err}
				break
			}

			delay := r.backoff(timeouts)
			result.RetryCount++
			r.metrics.IncRetries()
			r.logger.Warnf("Transient error loading %s (attempt %d/%d), retrying in %v: %v",
				pageURL, timeouts, r.site.Limits.MaxRetries, delay, err)
			if err := r.pause(ctx, delay); err != nil {
				pr.State = m.state
				return pr, false, err
			}
			continue
		}

		doc, err := r.adapter.ParseHTML(page.HTML)
		if err != nil {
			m.to(types.PageFailed)
			failure = ErrNavigation{URL: pageURL, Err: fmt.Errorf("failed to parse HTML: %w", err)}
			break
		}

		if r.adapter.IsCaptcha(page, doc) {
			m.to(types.PageCaptchaDetected)
			result.CaptchaCount++
			r.metrics.IncCaptcha()
			if captchaWaited {
				m.to(types.PageSkipped)
				failure = ErrCaptchaBlock{URL: pageURL}
				break
			}
			captchaWaited = true
			r.logger.Warnf("CAPTCHA detected on %s, waiting %v before retrying", pageURL, r.site.Delays.CaptchaWait)
			if err := r.pause(ctx, r.site.Delays.CaptchaWait); err != nil {
				pr.State = m.state
				return pr, false, err
			}
			continue
		}

		m.to(types.PageLoaded)
		if err := r.fetcher.Interact(ctx); err != nil {
			if ctx.Err() != nil {
				pr.State = m.state
				return pr, false, ctx.Err()
			}
			r.logger.Debugf("Interaction on %s failed: %v", pageURL, err)
		}

		if r.adapter.CountCards(doc) == 0 {
			r.logger.Warnf("No product cards found on %s", pageURL)
		}
		records, skipped := r.adapter.ExtractRecords(doc, adapters.RecordMeta{
			Site:     r.site.ID,
			Category: target.Category,
			PageURL:  page.URL,
		})
		for _, e := range skipped {
			r.metrics.IncError(errorTypeLabel(e))
		}
		if r.site.DealsOnly {
			records = adapters.OnlyDeals(records)
		}

		before := len(result.Records)
		result.Records = adapters.RemoveDuplicateIDs(append(result.Records, records...))
		pr.Records = len(result.Records) - before
		hasNext = r.adapter.HasNextPage(doc)
		m.to(types.PageExtracted)
	}

	pr.State = m.state
	if failure != nil {
		pr.Error = failure.Error()
		r.metrics.IncError(errorTypeLabel(failure))
		r.logger.Warnf("Page %s ended %s: %v", pageURL, pr.State, failure)
	} else {
		r.logger.Infof("Page %d of %s: %d new records", n, target.Category, pr.Records)
	}
	r.metrics.IncPage(r.site.ID, pr.State)
	r.metrics.AddRecords(pr.Records)

	return pr, hasNext, m.err
}

// challengePage returns the body of an error response when it is a bot
// challenge, so it is handled as a CAPTCHA rather than a failed load.
func (r *Runner) challengePage(err error) *types.Page {
	var status utils.StatusError
	if !errors.As(err, &status) || status.Body == "" {
		return nil
	}
	page := &types.Page{URL: status.URL, HTML: status.Body}
	doc, perr := r.adapter.ParseHTML(page.HTML)
	if perr != nil || !r.adapter.IsCaptcha(page, doc) {
		return nil
	}
	return page
}

// backoff returns RetryDelay doubled for every previous timeout, capped at
// RetryBackoffMax.
func (r *Runner) backoff(attempt int) time.Duration {
	d := r.site.Delays.RetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.site.Delays.RetryBackoffMax {
			return r.site.Delays.RetryBackoffMax
		}
	}
	if d > r.site.Delays.RetryBackoffMax {
		return r.site.Delays.RetryBackoffMax
	}
	return d
}

func (r *Runner) pageDelay() time.Duration {
	lo, hi := r.site.Delays.MinPageDelay, r.site.Delays.MaxPageDelay
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.rng.Int63n(int64(hi-lo)+1))
}

func (r *Runner) logSummary(result *types.RunResult) {
	s := result.Summary()
	r.logger.Infof("%s run completed in %v", result.Site, result.EndTime.Sub(result.StartTime))
	r.logger.Infof("Pages: %d extracted, %d skipped, %d failed; %d retries, %d captchas",
		result.PagesIn(types.PageExtracted), result.PagesIn(types.PageSkipped), result.PagesIn(types.PageFailed),
		result.RetryCount, result.CaptchaCount)
	r.logger.Infof("Products: %d (%d priced)", s.Products, s.Priced)
	if s.Priced > 0 {
		r.logger.Infof("Price range: $%.2f - $%.2f (avg $%.2f)", s.MinPrice, s.MaxPrice, s.AvgPrice)
	}
	if s.Discounted > 0 {
		r.logger.Infof("Discounts: %d products, %d%% - %d%% (avg %.1f%%)", s.Discounted, s.MinDiscount, s.MaxDiscount, s.AvgDiscount)
	}
}
