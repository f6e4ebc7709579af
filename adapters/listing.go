package adapters

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"deal-scraper/config"
	"deal-scraper/internal/types"

	"github.com/PuerkitoBio/goquery"
)

var asinInURL = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)

// ExtractionError reports a product card that could not become a record.
type ExtractionError struct {
	Index int
	Field string
}

func (e ExtractionError) Error() string {
	return fmt.Sprintf("product card %d: missing required field %s", e.Index, e.Field)
}

// RecordMeta is the provenance stamped on every record from one page.
type RecordMeta struct {
	Site     string
	Category string
	PageURL  string
}

// ListingAdapter reads listing pages using a site's selector set.
type ListingAdapter struct {
	selectors          config.Selectors
	productURLTemplate string
	affiliateTag       string
	logger             types.Logger
	now                func() time.Time
}

// NewListingAdapter creates an adapter for the site's selectors.
func NewListingAdapter(site *config.SiteConfig, logger types.Logger) *ListingAdapter {
	return &ListingAdapter{
		selectors:          site.Selectors,
		productURLTemplate: site.ProductURLTemplate,
		affiliateTag:       site.AffiliateTag,
		logger:             logger,
		now:                time.Now,
	}
}

// ParseHTML parses HTML content into a goquery document
func (a *ListingAdapter) ParseHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// IsCaptcha reports whether the page is a bot challenge instead of results:
// the final URL mentions captcha, or a configured selector or text marker matches.
func (a *ListingAdapter) IsCaptcha(page *types.Page, doc *goquery.Document) bool {
	if strings.Contains(strings.ToLower(page.URL), "captcha") {
		return true
	}
	for _, sel := range a.selectors.Captcha {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	if len(a.selectors.CaptchaText) == 0 {
		return false
	}
	text := doc.Find("body").Text()
	for _, marker := range a.selectors.CaptchaText {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// HasNextPage reports whether the listing links to a further page.
func (a *ListingAdapter) HasNextPage(doc *goquery.Document) bool {
	return a.selectors.NextPage != "" && doc.Find(a.selectors.NextPage).Length() > 0
}

// CountCards returns how many product cards the page holds.
func (a *ListingAdapter) CountCards(doc *goquery.Document) int {
	return doc.Find(a.selectors.ProductCard).Length()
}

// ExtractRecords converts every product card on the page into a record.
// Cards missing an id or title are skipped with a warning and reported in skipped.
func (a *ListingAdapter) ExtractRecords(doc *goquery.Document, meta RecordMeta) (records []types.ProductRecord, skipped []error) {
	base, err := url.Parse(meta.PageURL)
	if err != nil {
		base = nil
	}

	cards := doc.Find(a.selectors.ProductCard)
	a.logger.Debugf("Found %d product cards on %s", cards.Length(), meta.PageURL)

	cards.Each(func(i int, card *goquery.Selection) {
		record, err := a.ExtractRecord(i+1, card, base, meta)
		if err != nil {
			a.logger.Warnf("Skipping card on %s: %v", meta.PageURL, err)
			skipped = append(skipped, err)
			return
		}
		records = append(records, *record)
	})
	return records, skipped
}

// ExtractRecord reads one product card. Optional fields that are missing stay nil.
func (a *ListingAdapter) ExtractRecord(index int, card *goquery.Selection, base *url.URL, meta RecordMeta) (*types.ProductRecord, error) {
	sel := a.selectors

	link := resolveURL(base, firstAttr(card, sel.Link, "href"))

	id := strings.TrimSpace(card.AttrOr(sel.IDAttribute, ""))
	if id == "" {
		id = strings.TrimSpace(firstAttr(card, "["+sel.IDAttribute+"]", sel.IDAttribute))
	}
	if id == "" {
		if m := asinInURL.FindStringSubmatch(link); m != nil {
			id = m[1]
		}
	}
	if id == "" {
		return nil, ExtractionError{Index: index, Field: "id"}
	}

	title := firstText(card, sel.Title)
	if title == "" {
		return nil, ExtractionError{Index: index, Field: "title"}
	}

	record := &types.ProductRecord{
		ID:        id,
		Title:     title,
		Category:  meta.Category,
		Site:      meta.Site,
		ScrapedAt: a.now(),
	}

	record.Brand = firstText(card, sel.Brand)
	if record.Brand == "" {
		record.Brand = strings.Fields(title)[0]
	}

	if img := firstAttr(card, sel.Image, "src"); img != "" {
		img = resolveURL(base, img)
		record.ImageURL = &img
	} else if img := firstAttr(card, sel.Image, "data-src"); img != "" {
		img = resolveURL(base, img)
		record.ImageURL = &img
	}

	if price, ok := ParsePrice(firstText(card, sel.PriceCurrent)); ok {
		record.PriceCurrent = &price
	}
	if price, ok := ParsePrice(firstText(card, sel.PriceOriginal)); ok {
		record.PriceOriginal = &price
	} else if record.PriceCurrent != nil {
		orig := *record.PriceCurrent
		record.PriceOriginal = &orig
	}
	record.DiscountPercent = DiscountPercent(record.PriceCurrent, record.PriceOriginal)

	ratingText := firstAttr(card, sel.Rating, "aria-label")
	if ratingText == "" {
		ratingText = firstText(card, sel.Rating)
	}
	if rating, ok := ParseRating(ratingText); ok {
		record.Rating = &rating
	}
	if count, ok := ParseCount(firstText(card, sel.ReviewCount)); ok {
		record.ReviewCount = &count
	}

	if link != "" {
		record.ProductURL = link
	} else {
		record.ProductURL = strings.ReplaceAll(a.productURLTemplate, "{id}", url.PathEscape(id))
	}
	if a.affiliateTag != "" {
		record.ProductURL = WithAffiliateTag(record.ProductURL, a.affiliateTag)
		record.AffiliateTag = a.affiliateTag
	}

	return record, nil
}

// RemoveDuplicateIDs keeps the first record for every id, preserving order.
func RemoveDuplicateIDs(records []types.ProductRecord) []types.ProductRecord {
	seen := make(map[string]bool, len(records))
	var unique []types.ProductRecord
	for _, r := range records {
		if !seen[r.ID] {
			seen[r.ID] = true
			unique = append(unique, r)
		}
	}
	return unique
}

// WithAffiliateTag appends a tag query parameter to a product URL. URLs that
// already carry a tag are returned unchanged.
func WithAffiliateTag(productURL, tag string) string {
	u, err := url.Parse(productURL)
	if err != nil || u.Query().Has("tag") {
		return productURL
	}
	param := "tag=" + url.QueryEscape(tag)
	if u.RawQuery == "" {
		u.RawQuery = param
	} else {
		u.RawQuery += "&" + param
	}
	return u.String()
}

// OnlyDeals keeps the records with a positive discount, preserving order.
func OnlyDeals(records []types.ProductRecord) []types.ProductRecord {
	var deals []types.ProductRecord
	for _, r := range records {
		if r.DiscountPercent > 0 {
			deals = append(deals, r)
		}
	}
	return deals
}

func firstText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().Text())
}

func firstAttr(s *goquery.Selection, selector, attr string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().AttrOr(attr, ""))
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
