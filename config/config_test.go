package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullSiteYAML = `site: amazon_ca
site_title: Amazon.ca Deals
affiliate_tag: deals-20
deals_only: true
search_terms:
  - wireless headphones
  - laptop
categories:
  - name: electronics-deals
    url: https://www.amazon.ca/deals?category=electronics
selectors:
  product_card: div.s-result-item
delays:
  min_page_delay: 1s
  max_page_delay: 2s
  captcha_wait: 45s
limits:
  max_pages: 5
output:
  dir: out
  format: envelope
browser:
  locale: fr-CA
  viewport:
    width: 1280
    height: 800
deploy:
  enabled: true
  schedule: "0 */6 * * *"
`

func writeSite(t *testing.T, dir, id, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(body), 0644))
}

func TestLoadSiteAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "amazon_ca", fullSiteYAML)

	cfg, err := LoadSite(dir, "amazon_ca")
	require.NoError(t, err)

	assert.Equal(t, "Amazon.ca Deals", cfg.Title)
	assert.Equal(t, DefaultSearchURL, cfg.SearchURL)
	assert.Equal(t, "div.s-result-item", cfg.Selectors.ProductCard)
	assert.Equal(t, "data-asin", cfg.Selectors.IDAttribute)
	assert.Equal(t, time.Second, cfg.Delays.MinPageDelay)
	assert.Equal(t, 2*time.Second, cfg.Delays.MaxPageDelay)
	assert.Equal(t, 45*time.Second, cfg.Delays.CaptchaWait)
	assert.Equal(t, DefaultRetryDelay, cfg.Delays.RetryDelay)
	assert.Equal(t, 5, cfg.Limits.MaxPages)
	assert.Equal(t, DefaultMaxRetries, cfg.Limits.MaxRetries)
	assert.Equal(t, DefaultTimeout, cfg.Limits.Timeout)
	assert.Equal(t, FormatEnvelope, cfg.Output.Format)
	assert.True(t, cfg.Deploy.Enabled)
	assert.Equal(t, "deals-20", cfg.AffiliateTag)
	assert.True(t, cfg.DealsOnly)
}

func TestTargetsOrder(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "amazon_ca", fullSiteYAML)
	cfg, err := LoadSite(dir, "amazon_ca")
	require.NoError(t, err)

	targets := cfg.Targets()
	require.Len(t, targets, 3)
	assert.Equal(t, "electronics-deals", targets[0].Category)
	assert.Equal(t, "wireless headphones", targets[1].Category)
	assert.Equal(t, "https://www.amazon.ca/s?k=wireless+headphones&ref=nb_sb_noss", targets[1].URL)
}

func TestLoadSiteMissing(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "bestbuy_ca", "site: bestbuy_ca\nsearch_terms: [tv]\n")

	_, err := LoadSite(dir, "amazon_ca")
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "bestbuy_ca")
}

func TestLoadSiteRejectsInvalidID(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "sites")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeSite(t, root, "outside", fullSiteYAML)

	for _, id := range []string{"../outside", "a/b", "", "Amazon"} {
		_, err := LoadSite(dir, id)
		assert.ErrorIs(t, err, ErrInvalidSiteID, id)
		assert.False(t, errors.Is(err, os.ErrNotExist), id)
	}
}

func TestLoadSiteRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "amazon_ca", "site: amazon_ca\nsearch_terms: [tv]\nmax_pagez: 4\n")

	_, err := LoadSite(dir, "amazon_ca")
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "max_pagez")
}

func TestLoadSiteIDMismatch(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "amazon_ca", "site: other\nsearch_terms: [tv]\n")

	_, err := LoadSite(dir, "amazon_ca")
	assert.ErrorContains(t, err, "does not match")
}

func TestValidate(t *testing.T) {
	valid := func() *SiteConfig {
		cfg := &SiteConfig{ID: "amazon_ca", SearchTerms: []string{"tv"}}
		cfg.ApplyDefaults()
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*SiteConfig)
		want   string
	}{
		{"bad id", func(c *SiteConfig) { c.ID = "Amazon CA" }, "site id"},
		{"no targets", func(c *SiteConfig) { c.SearchTerms = nil }, "at least one"},
		{"blank term", func(c *SiteConfig) { c.SearchTerms = []string{" "} }, "empty"},
		{"no placeholder", func(c *SiteConfig) { c.SearchURL = "https://www.amazon.ca/s" }, "{query}"},
		{"bad category url", func(c *SiteConfig) { c.Categories = []Category{{Name: "x", URL: "ftp://x"}} }, "http"},
		{"no id placeholder", func(c *SiteConfig) { c.ProductURLTemplate = "https://www.amazon.ca/dp/" }, "{id}"},
		{"inverted delays", func(c *SiteConfig) { c.Delays.MinPageDelay = 9 * time.Second }, "max page delay"},
		{"backoff below delay", func(c *SiteConfig) { c.Delays.RetryBackoffMax = time.Second }, "retry delay"},
		{"zero pages", func(c *SiteConfig) { c.Limits.MaxPages = 0 }, "max pages"},
		{"zero retries", func(c *SiteConfig) { c.Limits.MaxRetries = 0 }, "max retries"},
		{"bad format", func(c *SiteConfig) { c.Output.Format = "csv" }, "output format"},
		{"bad affiliate tag", func(c *SiteConfig) { c.AffiliateTag = "deals 20&x=1" }, "affiliate tag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestListSitesReportsBrokenConfigs(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "amazon_ca", fullSiteYAML)
	writeSite(t, dir, "broken", "site: broken\n")

	infos, err := ListSites(dir)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "amazon_ca", infos[0].ID)
	assert.NoError(t, infos[0].Err)
	assert.Equal(t, "broken", infos[1].ID)
	assert.Error(t, infos[1].Err)
}

func TestLoadLegacyTerms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search_terms.txt")
	require.NoError(t, os.WriteFile(path, []byte("# deals\nlaptop\n\n  monitor  \n"), 0644))

	terms, err := LoadLegacyTerms(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"laptop", "monitor"}, terms)

	site, err := LegacySite(terms)
	require.NoError(t, err)
	assert.Equal(t, "legacy", site.ID)
	assert.Len(t, site.Targets(), 2)
}

func TestLoadLegacyTermsMissingOrEmpty(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadLegacyTerms(filepath.Join(dir, "missing.txt"))
	var cfgErr *Error
	assert.True(t, errors.As(err, &cfgErr))

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n\n"), 0644))
	_, err = LoadLegacyTerms(empty)
	assert.ErrorContains(t, err, "no search terms")
}

func TestLoadProxy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"enabled": true, "server": "http://proxy.local:8080", "username": "u", "password": "p"}`), 0644))

	proxy, err := LoadProxy(path)
	require.NoError(t, err)
	require.NotNil(t, proxy)
	assert.Equal(t, "http://proxy.local:8080", proxy.Server)
	assert.Equal(t, "u", proxy.Username)

	t.Setenv("PROXY_SERVER", "socks5://10.0.0.1:1080")
	t.Setenv("PROXY_PASSWORD", "secret")
	proxy, err = LoadProxy(path)
	require.NoError(t, err)
	assert.Equal(t, "socks5://10.0.0.1:1080", proxy.Server)
	assert.Equal(t, "secret", proxy.Password)
}

func TestLoadProxyDisabled(t *testing.T) {
	t.Setenv("PROXY_SERVER", "")
	proxy, err := LoadProxy(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, proxy)
}

func TestFetchConfig(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "amazon_ca", fullSiteYAML)
	cfg, err := LoadSite(dir, "amazon_ca")
	require.NoError(t, err)

	fc := cfg.FetchConfig(true, false, nil)
	assert.True(t, fc.UseHeadlessBrowser)
	assert.False(t, fc.Headless)
	assert.Equal(t, "fr-CA", fc.Locale)
	assert.Equal(t, "America/Toronto", fc.Timezone)
	assert.Equal(t, 1280, fc.Viewport.Width)
}

func TestShippedSitesAreValid(t *testing.T) {
	infos, err := ListSites(filepath.Join("..", "sites"))
	require.NoError(t, err)
	require.NotEmpty(t, infos)
	for _, info := range infos {
		assert.NoError(t, info.Err, info.ID)
	}
}
