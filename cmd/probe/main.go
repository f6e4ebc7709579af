package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"deal-scraper/adapters"
	"deal-scraper/config"
	"deal-scraper/internal/types"
	"deal-scraper/utils"

	"github.com/PuerkitoBio/goquery"
)

func main() {
	var (
		siteFlag = flag.String("site", "", "Site id to probe")
		sitesDir = flag.String("sites-dir", "sites", "Directory holding <site>.yaml configs")
		headless = flag.Bool("headless", true, "Run the browser without a window")
		httpOnly = flag.Bool("http-only", false, "Use HTTP requests only (disable headless browser)")
		samples  = flag.Int("samples", 3, "Product cards to print per page")
		proxyCfg = flag.String("proxy-config", "proxy_config.json", "Proxy configuration file")
	)
	flag.Parse()

	if *siteFlag == "" {
		log.Fatal("--site is required")
	}
	site, err := config.LoadSite(*sitesDir, *siteFlag)
	if err != nil {
		log.Fatal(err)
	}

	proxy, err := config.LoadProxy(*proxyCfg)
	if err != nil {
		log.Fatalf("Invalid proxy configuration: %v", err)
	}

	logger := &debugLogger{}
	fetcher, err := utils.NewFetcher(context.Background(), site.FetchConfig(!*httpOnly, *headless, proxy), logger)
	if err != nil {
		log.Fatalf("Failed to start fetcher: %v", err)
	}
	defer fetcher.Close()

	adapter := adapters.NewListingAdapter(site, logger)
	for _, target := range site.Targets() {
		fmt.Printf("=== %s ===\n%s\n", target.Category, target.URL)
		probeTarget(fetcher, adapter, site, target, *samples)
		fmt.Println()
	}
}

func probeTarget(fetcher types.PageFetcher, adapter *adapters.ListingAdapter, site *config.SiteConfig, target config.Target, samples int) {
	ctx, cancel := context.WithTimeout(context.Background(), site.Limits.Timeout)
	defer cancel()

	page, err := fetcher.Fetch(ctx, target.URL)
	if err != nil {
		log.Printf("Failed to get listing page: %v", err)
		return
	}
	doc, err := adapter.ParseHTML(page.HTML)
	if err != nil {
		log.Printf("Failed to parse HTML: %v", err)
		return
	}

	fmt.Printf("Final URL: %s\n", page.URL)
	fmt.Printf("CAPTCHA: %t\n", adapter.IsCaptcha(page, doc))
	fmt.Printf("Next page: %t\n", adapter.HasNextPage(doc))

	sel := site.Selectors
	cards := doc.Find(sel.ProductCard)
	fmt.Printf("product_card %q: %d\n", sel.ProductCard, cards.Length())

	fields := []struct{ name, selector string }{
		{"title", sel.Title},
		{"link", sel.Link},
		{"image", sel.Image},
		{"price_current", sel.PriceCurrent},
		{"price_original", sel.PriceOriginal},
		{"rating", sel.Rating},
		{"review_count", sel.ReviewCount},
		{"brand", sel.Brand},
	}
	for _, f := range fields {
		if f.selector == "" {
			continue
		}
		hits := 0
		cards.Each(func(_ int, card *goquery.Selection) {
			if card.Find(f.selector).Length() > 0 {
				hits++
			}
		})
		fmt.Printf("  %-15s %d/%d cards\n", f.name, hits, cards.Length())
	}

	records, skipped := adapter.ExtractRecords(doc, adapters.RecordMeta{Site: site.ID, Category: target.Category, PageURL: page.URL})
	fmt.Printf("Extracted %d records, skipped %d cards\n", len(records), len(skipped))
	for i, r := range records {
		if i >= samples {
			break
		}
		price := "-"
		if r.PriceCurrent != nil {
			price = fmt.Sprintf("%.2f", *r.PriceCurrent)
		}
		fmt.Printf("  %d: %s  %s  price=%s  discount=%d%%\n", i+1, r.ID, truncate(r.Title, 60), price, r.DiscountPercent)
	}
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

type debugLogger struct{}

func (d *debugLogger) Debug(args ...interface{})                 {}
func (d *debugLogger) Info(args ...interface{})                  { fmt.Fprintln(os.Stderr, args...) }
func (d *debugLogger) Warn(args ...interface{})                  { fmt.Fprintln(os.Stderr, args...) }
func (d *debugLogger) Error(args ...interface{})                 { fmt.Fprintln(os.Stderr, args...) }
func (d *debugLogger) Debugf(format string, args ...interface{}) {}
func (d *debugLogger) Infof(format string, args ...interface{})  { fmt.Fprintf(os.Stderr, format+"\n", args...) }
func (d *debugLogger) Warnf(format string, args ...interface{})  { fmt.Fprintf(os.Stderr, format+"\n", args...) }
func (d *debugLogger) Errorf(format string, args ...interface{}) { fmt.Fprintf(os.Stderr, format+"\n", args...) }
