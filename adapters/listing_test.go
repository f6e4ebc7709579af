package adapters

import (
	"errors"
	"io"
	"testing"
	"time"

	"deal-scraper/config"
	"deal-scraper/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchPage = `<html><body>
<div class="s-main-slot">
  <div data-component-type="s-search-result" data-asin="B0C1234567">
    <h2><a href="/Sony-WH1000XM5/dp/B0C1234567/ref=sr_1_1"><span>Sony WH-1000XM5 Wireless Headphones</span></a></h2>
    <img class="s-image" src="https://m.media-amazon.com/images/I/sony.jpg">
    <span class="a-price"><span class="a-offscreen">$348.00</span></span>
    <span class="a-price a-text-price"><span class="a-offscreen">$499.99</span></span>
    <span aria-label="4.6 out of 5 stars"><i class="a-icon-star"></i></span>
    <span class="a-size-base s-underline-text">12,345</span>
  </div>
  <div data-component-type="s-search-result" data-asin="B0D7654321">
    <h2><a href="/dp/B0D7654321"><span>Anker Soundcore Earbuds</span></a></h2>
    <img class="s-image" data-src="/images/I/anker.jpg">
  </div>
  <div data-component-type="s-search-result" data-asin="">
    <h2><a href="/gp/slredirect"><span>Sponsored without id</span></a></h2>
  </div>
  <div data-component-type="s-search-result" data-asin="B0E0000001">
    <h2><a href="/dp/B0E0000001"></a></h2>
  </div>
</div>
<a class="s-pagination-next" href="/s?k=headphones&page=2">Next</a>
</body></html>`

const captchaPage = `<html><body>
<h4>Enter the characters you see below</h4>
<form action="/errors/validateCaptcha"><input id="captchacharacters" name="field-keywords"></form>
</body></html>`

func newTestAdapter() *ListingAdapter {
	site := &config.SiteConfig{ID: "amazon_ca", SearchTerms: []string{"headphones"}}
	site.ApplyDefaults()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	a := NewListingAdapter(site, logger)
	a.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestExtractRecords(t *testing.T) {
	a := newTestAdapter()
	doc, err := a.ParseHTML(searchPage)
	require.NoError(t, err)

	records, skipped := a.ExtractRecords(doc, RecordMeta{
		Site:     "amazon_ca",
		Category: "headphones",
		PageURL:  "https://www.amazon.ca/s?k=headphones",
	})
	require.Len(t, records, 2)
	require.Len(t, skipped, 2)

	sony := records[0]
	assert.Equal(t, "B0C1234567", sony.ID)
	assert.Equal(t, "Sony WH-1000XM5 Wireless Headphones", sony.Title)
	assert.Equal(t, "Sony", sony.Brand)
	require.NotNil(t, sony.ImageURL)
	assert.Equal(t, "https://m.media-amazon.com/images/I/sony.jpg", *sony.ImageURL)
	require.NotNil(t, sony.PriceCurrent)
	assert.Equal(t, 348.0, *sony.PriceCurrent)
	require.NotNil(t, sony.PriceOriginal)
	assert.Equal(t, 499.99, *sony.PriceOriginal)
	assert.Equal(t, 30, sony.DiscountPercent)
	require.NotNil(t, sony.Rating)
	assert.Equal(t, 4.6, *sony.Rating)
	require.NotNil(t, sony.ReviewCount)
	assert.Equal(t, 12345, *sony.ReviewCount)
	assert.Equal(t, "https://www.amazon.ca/Sony-WH1000XM5/dp/B0C1234567/ref=sr_1_1", sony.ProductURL)
	assert.Equal(t, "headphones", sony.Category)
	assert.Equal(t, "amazon_ca", sony.Site)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), sony.ScrapedAt)

	anker := records[1]
	assert.Equal(t, "B0D7654321", anker.ID)
	require.NotNil(t, anker.ImageURL)
	assert.Equal(t, "https://www.amazon.ca/images/I/anker.jpg", *anker.ImageURL)
	assert.Nil(t, anker.PriceCurrent)
	assert.Nil(t, anker.PriceOriginal)
	assert.Nil(t, anker.Rating)
	assert.Nil(t, anker.ReviewCount)
	assert.Equal(t, 0, anker.DiscountPercent)

	var extractionErr ExtractionError
	require.True(t, errors.As(skipped[0], &extractionErr))
	assert.Equal(t, "id", extractionErr.Field)
	require.True(t, errors.As(skipped[1], &extractionErr))
	assert.Equal(t, "title", extractionErr.Field)
}

func TestOriginalPriceDefaultsToCurrent(t *testing.T) {
	a := newTestAdapter()
	doc, err := a.ParseHTML(`<div data-component-type="s-search-result" data-asin="B0F0000001">
		<h2><a href="/dp/B0F0000001"><span>Plain Cable</span></a></h2>
		<span class="a-price"><span class="a-offscreen">$9.99</span></span>
	</div>`)
	require.NoError(t, err)

	records, _ := a.ExtractRecords(doc, RecordMeta{Site: "amazon_ca", PageURL: "https://www.amazon.ca/s?k=cable"})
	require.Len(t, records, 1)
	assert.Equal(t, *records[0].PriceCurrent, *records[0].PriceOriginal)
	assert.Equal(t, 0, records[0].DiscountPercent)
}

func TestIDFromLinkWhenAttributeMissing(t *testing.T) {
	a := newTestAdapter()
	doc, err := a.ParseHTML(`<div data-component-type="s-search-result">
		<h2><a href="https://www.amazon.ca/dp/B0G0000001?th=1"><span>Linked Only</span></a></h2>
	</div>`)
	require.NoError(t, err)

	records, skipped := a.ExtractRecords(doc, RecordMeta{Site: "amazon_ca", PageURL: "https://www.amazon.ca/s?k=x"})
	assert.Empty(t, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, "B0G0000001", records[0].ID)
}

func TestIsCaptcha(t *testing.T) {
	a := newTestAdapter()

	doc, err := a.ParseHTML(captchaPage)
	require.NoError(t, err)
	assert.True(t, a.IsCaptcha(&types.Page{URL: "https://www.amazon.ca/s?k=x", HTML: captchaPage}, doc))

	doc, err = a.ParseHTML(searchPage)
	require.NoError(t, err)
	assert.False(t, a.IsCaptcha(&types.Page{URL: "https://www.amazon.ca/s?k=x", HTML: searchPage}, doc))
	assert.True(t, a.IsCaptcha(&types.Page{URL: "https://www.amazon.ca/errors/validateCaptcha"}, doc))
}

func TestHasNextPageAndCount(t *testing.T) {
	a := newTestAdapter()
	doc, err := a.ParseHTML(searchPage)
	require.NoError(t, err)
	assert.True(t, a.HasNextPage(doc))
	assert.Equal(t, 4, a.CountCards(doc))

	doc, err = a.ParseHTML(`<a class="s-pagination-next s-pagination-disabled">Next</a>`)
	require.NoError(t, err)
	assert.False(t, a.HasNextPage(doc))
}

func TestRemoveDuplicateIDs(t *testing.T) {
	records := []types.ProductRecord{{ID: "A", Title: "first"}, {ID: "B"}, {ID: "A", Title: "second"}}
	unique := RemoveDuplicateIDs(records)
	require.Len(t, unique, 2)
	assert.Equal(t, "first", unique[0].Title)
}

func TestAffiliateTagAddedToProductURL(t *testing.T) {
	site := &config.SiteConfig{ID: "amazon_ca", SearchTerms: []string{"headphones"}, AffiliateTag: "deals-20"}
	site.ApplyDefaults()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	a := NewListingAdapter(site, logger)

	doc, err := a.ParseHTML(searchPage)
	require.NoError(t, err)
	records, _ := a.ExtractRecords(doc, RecordMeta{Site: "amazon_ca", PageURL: "https://www.amazon.ca/s?k=headphones"})
	require.Len(t, records, 2)

	assert.Equal(t, "https://www.amazon.ca/Sony-WH1000XM5/dp/B0C1234567/ref=sr_1_1?tag=deals-20", records[0].ProductURL)
	assert.Equal(t, "deals-20", records[0].AffiliateTag)
	assert.Equal(t, "https://www.amazon.ca/dp/B0D7654321?tag=deals-20", records[1].ProductURL)
}

func TestWithAffiliateTag(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://www.amazon.ca/dp/B0C1234567", "https://www.amazon.ca/dp/B0C1234567?tag=deals-20"},
		{"https://www.amazon.ca/dp/B0C1234567?th=1", "https://www.amazon.ca/dp/B0C1234567?th=1&tag=deals-20"},
		{"https://www.amazon.ca/dp/B0C1234567?tag=other-20", "https://www.amazon.ca/dp/B0C1234567?tag=other-20"},
		{"https://www.amazon.ca/dp/B0C1234567?dib_tag=se&th=1", "https://www.amazon.ca/dp/B0C1234567?dib_tag=se&th=1&tag=deals-20"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WithAffiliateTag(tt.in, "deals-20"), tt.in)
	}
}

func TestOnlyDeals(t *testing.T) {
	records := []types.ProductRecord{
		{ID: "A", DiscountPercent: 0},
		{ID: "B", DiscountPercent: 25},
		{ID: "C", DiscountPercent: 5},
	}
	deals := OnlyDeals(records)
	require.Len(t, deals, 2)
	assert.Equal(t, "B", deals[0].ID)
	assert.Equal(t, "C", deals[1].ID)
	assert.Empty(t, OnlyDeals(records[:1]))
}
