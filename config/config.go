package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"deal-scraper/internal/types"
)

// Output formats understood by the writer.
const (
	FormatArray    = "array"
	FormatEnvelope = "envelope"
)

const (
	DefaultSearchURL          = "https://www.amazon.ca/s?k={query}&ref=nb_sb_noss"
	DefaultProductURLTemplate = "https://www.amazon.ca/dp/{id}"
	DefaultOutputDir          = "data/scraped"
	DefaultMaxPages           = 3
	DefaultMaxRetries         = 3
	DefaultTimeout            = 30 * time.Second
	DefaultMinPageDelay       = 3 * time.Second
	DefaultMaxPageDelay       = 7 * time.Second
	DefaultRetryDelay         = 5 * time.Second
	DefaultRetryBackoffMax    = 60 * time.Second
	DefaultCaptchaWait        = 30 * time.Second
)

var (
	siteIDPattern       = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	affiliateTagPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// SiteConfig describes one scrape target site. It is loaded once per run and
// not modified afterwards.
type SiteConfig struct {
	ID                 string     `yaml:"site"`
	Title              string     `yaml:"site_title"`
	SearchURL          string     `yaml:"search_url"`
	SearchTerms        []string   `yaml:"search_terms"`
	Categories         []Category `yaml:"categories"`
	ProductURLTemplate string     `yaml:"product_url_template"`
	AffiliateTag       string     `yaml:"affiliate_tag"`
	DealsOnly          bool       `yaml:"deals_only"`
	Selectors          Selectors  `yaml:"selectors"`
	Delays             Delays     `yaml:"delays"`
	Limits             Limits     `yaml:"limits"`
	Output             Output     `yaml:"output"`
	Browser            Browser    `yaml:"browser"`
	Deploy             Deploy     `yaml:"deploy"`
}

// Category is a named listing URL.
type Category struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Selectors is the CSS selector set used to read listing pages. Field
// selectors are evaluated relative to a product card.
type Selectors struct {
	ProductCard   string   `yaml:"product_card"`
	IDAttribute   string   `yaml:"id_attribute"`
	Title         string   `yaml:"title"`
	Link          string   `yaml:"link"`
	Image         string   `yaml:"image"`
	PriceCurrent  string   `yaml:"price_current"`
	PriceOriginal string   `yaml:"price_original"`
	Rating        string   `yaml:"rating"`
	ReviewCount   string   `yaml:"review_count"`
	Brand         string   `yaml:"brand"`
	NextPage      string   `yaml:"next_page"`
	Captcha       []string `yaml:"captcha"`
	CaptchaText   []string `yaml:"captcha_text"`
}

// Delays bounds every suspension the runner makes.
type Delays struct {
	MinPageDelay    time.Duration `yaml:"min_page_delay"`
	MaxPageDelay    time.Duration `yaml:"max_page_delay"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
	CaptchaWait     time.Duration `yaml:"captcha_wait"`
}

// Limits caps pagination, retries and page load time.
type Limits struct {
	MaxPages   int           `yaml:"max_pages"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Output controls where and how records are written.
type Output struct {
	Dir               string `yaml:"dir"`
	Format            string `yaml:"format"`
	DisableCheckpoint bool   `yaml:"disable_checkpoint"`
}

// Browser is the fingerprint presented by the headless browser.
type Browser struct {
	UserAgent   string             `yaml:"user_agent"`
	Viewport    *types.Viewport    `yaml:"viewport"`
	Locale      string             `yaml:"locale"`
	Timezone    string             `yaml:"timezone"`
	Geolocation *types.Geolocation `yaml:"geolocation"`
	CookiesPath string             `yaml:"cookies_path"`
}

// Deploy carries scheduling hints consumed by the deployment scripts.
type Deploy struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Target is a single listing entry point.
type Target struct {
	Category string
	URL      string
}

// DefaultSelectors returns the Amazon search result selectors.
func DefaultSelectors() Selectors {
	return Selectors{
		ProductCard:   `[data-component-type="s-search-result"]`,
		IDAttribute:   "data-asin",
		Title:         "h2 span",
		Link:          "h2 a",
		Image:         "img.s-image",
		PriceCurrent:  ".a-price:not(.a-text-price) .a-offscreen",
		PriceOriginal: ".a-price.a-text-price .a-offscreen",
		Rating:        `[aria-label*="out of 5 stars"]`,
		ReviewCount:   `[aria-label*="out of 5 stars"] + span, .a-size-base.s-underline-text`,
		NextPage:      "a.s-pagination-next:not(.s-pagination-disabled)",
		Captcha:       []string{`form[action*="captcha"]`, "#captchacharacters"},
		CaptchaText:   []string{"Enter the characters you see below"},
	}
}

// ApplyDefaults fills every unset field with its documented default.
func (s *SiteConfig) ApplyDefaults() {
	if s.Title == "" {
		s.Title = s.ID
	}
	if s.SearchURL == "" && len(s.SearchTerms) > 0 {
		s.SearchURL = DefaultSearchURL
	}
	if s.ProductURLTemplate == "" {
		s.ProductURLTemplate = DefaultProductURLTemplate
	}

	def := DefaultSelectors()
	sel := &s.Selectors
	setString(&sel.ProductCard, def.ProductCard)
	setString(&sel.IDAttribute, def.IDAttribute)
	setString(&sel.Title, def.Title)
	setString(&sel.Link, def.Link)
	setString(&sel.Image, def.Image)
	setString(&sel.PriceCurrent, def.PriceCurrent)
	setString(&sel.PriceOriginal, def.PriceOriginal)
	setString(&sel.Rating, def.Rating)
	setString(&sel.ReviewCount, def.ReviewCount)
	setString(&sel.NextPage, def.NextPage)
	if sel.Captcha == nil {
		sel.Captcha = def.Captcha
	}
	if sel.CaptchaText == nil {
		sel.CaptchaText = def.CaptchaText
	}

	if s.Delays.MinPageDelay == 0 && s.Delays.MaxPageDelay == 0 {
		s.Delays.MinPageDelay = DefaultMinPageDelay
		s.Delays.MaxPageDelay = DefaultMaxPageDelay
	}
	if s.Delays.RetryDelay == 0 {
		s.Delays.RetryDelay = DefaultRetryDelay
	}
	if s.Delays.RetryBackoffMax == 0 {
		s.Delays.RetryBackoffMax = DefaultRetryBackoffMax
	}
	if s.Delays.CaptchaWait == 0 {
		s.Delays.CaptchaWait = DefaultCaptchaWait
	}

	if s.Limits.MaxPages == 0 {
		s.Limits.MaxPages = DefaultMaxPages
	}
	if s.Limits.MaxRetries == 0 {
		s.Limits.MaxRetries = DefaultMaxRetries
	}
	if s.Limits.Timeout == 0 {
		s.Limits.Timeout = DefaultTimeout
	}

	if s.Output.Dir == "" {
		s.Output.Dir = DefaultOutputDir
	}
	if s.Output.Format == "" {
		s.Output.Format = FormatArray
	}
}

func setString(field *string, def string) {
	if strings.TrimSpace(*field) == "" {
		*field = def
	}
}

// Validate ensures all configuration values are coherent.
func (s *SiteConfig) Validate() error {
	if !siteIDPattern.MatchString(s.ID) {
		return fmt.Errorf("site id %q must be lowercase letters, digits, '-' or '_'", s.ID)
	}
	if len(s.SearchTerms) == 0 && len(s.Categories) == 0 {
		return fmt.Errorf("site %s: at least one search term or category is required", s.ID)
	}
	for i, term := range s.SearchTerms {
		if strings.TrimSpace(term) == "" {
			return fmt.Errorf("search term %d is empty", i+1)
		}
	}
	if len(s.SearchTerms) > 0 {
		if !strings.Contains(s.SearchURL, "{query}") {
			return fmt.Errorf("search url must contain a {query} placeholder")
		}
		if err := checkURL(strings.ReplaceAll(s.SearchURL, "{query}", "x")); err != nil {
			return fmt.Errorf("invalid search url: %w", err)
		}
	}
	for i, cat := range s.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			return fmt.Errorf("category %d has no name", i+1)
		}
		if err := checkURL(cat.URL); err != nil {
			return fmt.Errorf("category %s: %w", cat.Name, err)
		}
	}
	if !strings.Contains(s.ProductURLTemplate, "{id}") {
		return fmt.Errorf("product url template must contain an {id} placeholder")
	}
	if s.AffiliateTag != "" && !affiliateTagPattern.MatchString(s.AffiliateTag) {
		return fmt.Errorf("affiliate tag %q may only hold letters, digits, '-' or '_'", s.AffiliateTag)
	}

	if s.Selectors.ProductCard == "" || s.Selectors.Title == "" || s.Selectors.IDAttribute == "" {
		return fmt.Errorf("selectors product_card, title and id_attribute are required")
	}

	d := s.Delays
	if d.MinPageDelay < 0 || d.MaxPageDelay < 0 {
		return fmt.Errorf("page delays cannot be negative")
	}
	if d.MaxPageDelay < d.MinPageDelay {
		return fmt.Errorf("max page delay (%s) cannot be below min page delay (%s)", d.MaxPageDelay, d.MinPageDelay)
	}
	if d.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if d.RetryBackoffMax < d.RetryDelay {
		return fmt.Errorf("retry delay (%s) cannot exceed retry backoff max (%s)", d.RetryDelay, d.RetryBackoffMax)
	}
	if d.CaptchaWait <= 0 {
		return fmt.Errorf("captcha wait must be positive")
	}

	if s.Limits.MaxPages < 1 {
		return fmt.Errorf("max pages must be at least 1")
	}
	if s.Limits.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if s.Limits.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if s.Output.Format != FormatArray && s.Output.Format != FormatEnvelope {
		return fmt.Errorf("output format must be %s or %s", FormatArray, FormatEnvelope)
	}
	if vp := s.Browser.Viewport; vp != nil && (vp.Width <= 0 || vp.Height <= 0) {
		return fmt.Errorf("browser viewport must have positive dimensions")
	}

	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q must include a host", raw)
	}
	return nil
}

// Targets expands categories and search terms into listing entry points,
// categories first, in configuration order.
func (s *SiteConfig) Targets() []Target {
	targets := make([]Target, 0, len(s.Categories)+len(s.SearchTerms))
	for _, cat := range s.Categories {
		targets = append(targets, Target{Category: cat.Name, URL: cat.URL})
	}
	for _, term := range s.SearchTerms {
		term = strings.TrimSpace(term)
		targets = append(targets, Target{
			Category: term,
			URL:      strings.ReplaceAll(s.SearchURL, "{query}", url.QueryEscape(term)),
		})
	}
	return targets
}

// FetchConfig builds the page fetcher settings for this site.
func (s *SiteConfig) FetchConfig(useBrowser, headless bool, proxy *types.Proxy) *types.Config {
	cfg := types.DefaultConfig()
	cfg.Timeout = s.Limits.Timeout
	cfg.UseHeadlessBrowser = useBrowser
	cfg.Headless = headless
	cfg.UserAgent = s.Browser.UserAgent
	if s.Browser.Viewport != nil {
		cfg.Viewport = *s.Browser.Viewport
	}
	if s.Browser.Locale != "" {
		cfg.Locale = s.Browser.Locale
	}
	if s.Browser.Timezone != "" {
		cfg.Timezone = s.Browser.Timezone
	}
	cfg.Geolocation = s.Browser.Geolocation
	cfg.CookiesPath = s.Browser.CookiesPath
	cfg.Proxy = proxy
	return cfg
}
