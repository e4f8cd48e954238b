package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"dealbot/internal/models"

	"github.com/PuerkitoBio/goquery"
)

const craigslistDefaultCap = 120

var postingID = regexp.MustCompile(`/(\d+)\.html`)

// CraigslistScraper reads the static search results page of a Craigslist
// site. Craigslist does not report shipping, so every listing has unknown
// shipping.
type CraigslistScraper struct {
	baseURL  string
	category string
	http     *fetcher
}

var _ Scraper = (*CraigslistScraper)(nil)

// NewCraigslistScraper creates a scraper for one regional site, e.g.
// https://sfbay.craigslist.org. Category defaults to "msa" (musical
// instruments).
func NewCraigslistScraper(baseURL, category string, opts HTTPOptions) *CraigslistScraper {
	if category == "" {
		category = "msa"
	}
	return &CraigslistScraper{
		baseURL:  strings.TrimRight(baseURL, "/"),
		category: category,
		http:     newFetcher(opts),
	}
}

// Name identifies the marketplace.
func (c *CraigslistScraper) Name() string {
	return "craigslist"
}

// Search fetches one results page and parses it.
func (c *CraigslistScraper) Search(ctx context.Context, rule models.ProductRule, settings models.Settings) ([]models.Listing, error) {
	q := url.Values{}
	q.Set("query", rule.SearchQuery())
	searchURL := fmt.Sprintf("%s/search/%s?%s", c.baseURL, c.category, q.Encode())

	body, err := c.http.get(ctx, searchURL, map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	})
	if err != nil {
		return nil, &Error{Marketplace: c.Name(), Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Marketplace: c.Name(), Err: fmt.Errorf("parse document: %w", err)}
	}

	return c.extractListings(doc, settings.ResultCap(c.Name(), craigslistDefaultCap)), nil
}

// resultSelectors covers the static results markup and the older result-row
// markup still served by some sites.
var resultSelectors = []string{
	"li.cl-static-search-result",
	"li.result-row",
}

func (c *CraigslistScraper) extractListings(doc *goquery.Document, limit int) []models.Listing {
	var results *goquery.Selection
	for _, selector := range resultSelectors {
		results = doc.Find(selector)
		if results.Length() > 0 {
			break
		}
	}

	listings := make([]models.Listing, 0, results.Length())
	seen := map[string]struct{}{}
	results.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		listing, ok := c.parseResult(s)
		if !ok {
			return true
		}
		if _, dup := seen[listing.ID]; dup {
			return true
		}
		seen[listing.ID] = struct{}{}
		listings = append(listings, listing)
		return len(listings) < limit
	})

	return listings
}

func (c *CraigslistScraper) parseResult(s *goquery.Selection) (models.Listing, bool) {
	link := s.Find("a[href]").First()
	href, _ := link.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" {
		return models.Listing{}, false
	}
	if strings.HasPrefix(href, "/") {
		href = c.baseURL + href
	}

	id := s.AttrOr("data-pid", "")
	if id == "" {
		if m := postingID.FindStringSubmatch(href); len(m) > 1 {
			id = m[1]
		}
	}
	if id == "" {
		return models.Listing{}, false
	}

	title := firstText(s, ".title", ".result-title", "a")
	if title == "" {
		title = s.AttrOr("title", "")
	}

	price, err := parseUSD(firstText(s, ".price", ".result-price"))
	if err != nil {
		return models.Listing{}, false
	}

	return models.Listing{
		Marketplace: c.Name(),
		ID:          id,
		Title:       title,
		URL:         href,
		Price:       models.Money{Amount: price, Currency: models.CurrencyUSD},
		Shipping:    &models.Shipping{Known: false},
	}, true
}

// firstText returns the trimmed text of the first selector that has any.
func firstText(s *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		text := strings.TrimSpace(s.Find(selector).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}
