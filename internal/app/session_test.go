package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deal-scraper/config"
	"deal-scraper/extractor"
	"deal-scraper/internal/types"
	"deal-scraper/output"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><body>
<div data-component-type="s-search-result" data-asin="B000000001">
  <h2><a href="/dp/B000000001"><span>Acme Headphones</span></a></h2>
  <span class="a-price"><span class="a-offscreen">$59.99</span></span>
</div>
</body></html>`

type staticFetcher struct {
	html   string
	closed bool
}

func (f *staticFetcher) Fetch(ctx context.Context, url string) (*types.Page, error) {
	return &types.Page{URL: url, HTML: f.html}, nil
}

func (f *staticFetcher) Interact(ctx context.Context) error { return nil }

func (f *staticFetcher) Close() error {
	f.closed = true
	return nil
}

type recordingSink struct {
	got []types.ProductRecord
	err error
}

func (s *recordingSink) Upsert(ctx context.Context, records []types.ProductRecord) error {
	s.got = append(s.got, records...)
	return s.err
}

func testSite() *config.SiteConfig {
	site := &config.SiteConfig{ID: "amazon_ca", SearchTerms: []string{"headphones"}}
	site.ApplyDefaults()
	return site
}

func testOptions(dir string, f *staticFetcher) Options {
	return Options{
		OutputDir: dir,
		NewFetcher: func(ctx context.Context, cfg *types.Config, logger types.Logger) (types.PageFetcher, error) {
			return f, nil
		},
		Runner: []extractor.Option{extractor.WithPause(func(ctx context.Context, d time.Duration) error { return nil })},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRunSiteWritesOutput(t *testing.T) {
	dir := t.TempDir()
	f := &staticFetcher{html: listingHTML}
	sink := &recordingSink{}
	opts := testOptions(dir, f)
	opts.Sink = sink

	outcome, err := RunSite(context.Background(), testSite(), opts, quietLogger())
	require.NoError(t, err)

	assert.True(t, f.closed)
	assert.FileExists(t, outcome.Path)
	records, err := output.ReadLatest(dir, "amazon_ca")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "B000000001", records[0].ID)
	assert.Len(t, sink.got, 1)
}

func TestRunSiteSinkFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, &staticFetcher{html: listingHTML})
	opts.Sink = &recordingSink{err: errors.New("no reachable servers")}

	_, err := RunSite(context.Background(), testSite(), opts, quietLogger())
	assert.NoError(t, err)
}

func TestRunSiteWriteFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	opts := testOptions(filepath.Join(blocker, "out"), &staticFetcher{html: listingHTML})
	_, err := RunSite(context.Background(), testSite(), opts, quietLogger())

	var writeErr *output.WriteError
	assert.ErrorAs(t, err, &writeErr)
}

func TestRunSiteFetcherStartFailure(t *testing.T) {
	opts := Options{
		OutputDir: t.TempDir(),
		NewFetcher: func(ctx context.Context, cfg *types.Config, logger types.Logger) (types.PageFetcher, error) {
			return nil, errors.New("chrome not found")
		},
	}
	_, err := RunSite(context.Background(), testSite(), opts, quietLogger())
	assert.ErrorContains(t, err, "chrome not found")
}
