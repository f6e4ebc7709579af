package types

import (
	"context"
	"time"
)

// ProductRecord is one product summary extracted from a listing page.
// Optional values are nil when the listing did not carry them.
type ProductRecord struct {
	ID              string    `json:"asin"`
	Title           string    `json:"title"`
	Brand           string    `json:"brand"`
	ImageURL        *string   `json:"image_url"`
	PriceCurrent    *float64  `json:"price_current"`
	PriceOriginal   *float64  `json:"price_original"`
	DiscountPercent int       `json:"discount_percent"`
	Rating          *float64  `json:"rating"`
	ReviewCount     *int      `json:"review_count"`
	ProductURL      string    `json:"product_url"`
	AffiliateTag    string    `json:"affiliate_tag,omitempty"`
	Category        string    `json:"category"`
	Site            string    `json:"site"`
	ScrapedAt       time.Time `json:"scraped_at"`
}

// PageState is a listing page's position in the load/extract lifecycle.
type PageState string

const (
	PageLoading         PageState = "loading"
	PageLoaded          PageState = "loaded"
	PageTimedOut        PageState = "timed_out"
	PageCaptchaDetected PageState = "captcha_detected"
	PageExtracted       PageState = "extracted"
	PageSkipped         PageState = "skipped"
	PageFailed          PageState = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s PageState) Terminal() bool {
	return s == PageExtracted || s == PageSkipped || s == PageFailed
}

// PageResult records how a single listing page ended.
type PageResult struct {
	URL      string    `json:"url"`
	Category string    `json:"category"`
	Page     int       `json:"page"`
	State    PageState `json:"state"`
	Attempts int       `json:"attempts"`
	Records  int       `json:"records"`
	Error    string    `json:"error,omitempty"`
}

// RunResult is the outcome of one site run.
type RunResult struct {
	Site         string          `json:"site"`
	Records      []ProductRecord `json:"records"`
	Pages        []PageResult    `json:"pages"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	RetryCount   int             `json:"retry_count"`
	CaptchaCount int             `json:"captcha_count"`
}

// PagesIn counts the pages that ended in state.
func (r *RunResult) PagesIn(state PageState) int {
	n := 0
	for _, p := range r.Pages {
		if p.State == state {
			n++
		}
	}
	return n
}

// Summary holds price and discount statistics over a run's records.
type Summary struct {
	Products    int     `json:"products"`
	Priced      int     `json:"priced"`
	MinPrice    float64 `json:"min_price"`
	MaxPrice    float64 `json:"max_price"`
	AvgPrice    float64 `json:"avg_price"`
	Discounted  int     `json:"discounted"`
	MinDiscount int     `json:"min_discount"`
	MaxDiscount int     `json:"max_discount"`
	AvgDiscount float64 `json:"avg_discount"`
}

// Summary computes statistics over the run's records.
func (r *RunResult) Summary() Summary {
	s := Summary{Products: len(r.Records)}
	var priceSum float64
	var discountSum int
	for _, rec := range r.Records {
		if rec.PriceCurrent != nil {
			p := *rec.PriceCurrent
			if s.Priced == 0 || p < s.MinPrice {
				s.MinPrice = p
			}
			if s.Priced == 0 || p > s.MaxPrice {
				s.MaxPrice = p
			}
			priceSum += p
			s.Priced++
		}
		if rec.DiscountPercent > 0 {
			d := rec.DiscountPercent
			if s.Discounted == 0 || d < s.MinDiscount {
				s.MinDiscount = d
			}
			if s.Discounted == 0 || d > s.MaxDiscount {
				s.MaxDiscount = d
			}
			discountSum += d
			s.Discounted++
		}
	}
	if s.Priced > 0 {
		s.AvgPrice = priceSum / float64(s.Priced)
	}
	if s.Discounted > 0 {
		s.AvgDiscount = float64(discountSum) / float64(s.Discounted)
	}
	return s
}

// Page is a loaded document: the URL the browser ended on and its HTML.
type Page struct {
	URL  string
	HTML string
}

// PageFetcher loads listing pages. Implementations own the browser session or
// cookie jar for the lifetime of a run.
type PageFetcher interface {
	// Fetch navigates to url and returns the rendered document
	Fetch(ctx context.Context, url string) (*Page, error)

	// Interact performs pointer and scroll activity on the current page
	Interact(ctx context.Context) error

	// Close releases the session
	Close() error
}

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Geolocation is a latitude/longitude pair reported to pages.
type Geolocation struct {
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

// Proxy is an upstream proxy endpoint with optional credentials.
type Proxy struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Config holds the settings used by the page fetchers
type Config struct {
	Timeout            time.Duration
	UseHeadlessBrowser bool
	Headless           bool
	UserAgent          string
	Viewport           Viewport
	Locale             string
	Timezone           string
	Geolocation        *Geolocation
	CookiesPath        string
	Proxy              *Proxy
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:            30 * time.Second,
		UseHeadlessBrowser: true,
		Headless:           true,
		Locale:             "en-CA",
		Timezone:           "America/Toronto",
	}
}

// Logger defines the logging interface
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
