package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dealbot/internal/models"
)

const (
	reverbDefaultCap = 50
	reverbMaxPages   = 20
)

// ReverbScraper queries the Reverb listings API.
type ReverbScraper struct {
	baseURL string
	token   string
	http    *fetcher
}

var _ Scraper = (*ReverbScraper)(nil)

// NewReverbScraper creates a scraper for the API at baseURL. The token is
// optional; public search works without it.
func NewReverbScraper(baseURL, token string, opts HTTPOptions) *ReverbScraper {
	return &ReverbScraper{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    newFetcher(opts),
	}
}

// Name identifies the marketplace.
func (r *ReverbScraper) Name() string {
	return "reverb"
}

type reverbMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type reverbLink struct {
	Href string `json:"href"`
}

type reverbListing struct {
	ID        json.Number `json:"id"`
	Title     string      `json:"title"`
	Price     reverbMoney `json:"price"`
	Condition struct {
		DisplayName string `json:"display_name"`
	} `json:"condition"`
	Shipping *struct {
		Free   bool         `json:"free_expedited_shipping"`
		USRate *reverbMoney `json:"us_rate"`
	} `json:"shipping"`
	PublishedAt string `json:"published_at"`
	Photos      []struct {
		Links struct {
			LargeCrop reverbLink `json:"large_crop"`
		} `json:"_links"`
	} `json:"photos"`
	Links struct {
		Web reverbLink `json:"web"`
	} `json:"_links"`
}

type reverbPage struct {
	Listings []reverbListing `json:"listings"`
	Links    struct {
		Next reverbLink `json:"next"`
	} `json:"_links"`
}

// Search pages through the API until the result cap is reached, the pages
// run out or stop yielding new listings, or reverbMaxPages pages were read.
func (r *ReverbScraper) Search(ctx context.Context, rule models.ProductRule, settings models.Settings) ([]models.Listing, error) {
	limit := settings.ResultCap(r.Name(), reverbDefaultCap)
	perPage := limit
	if perPage > 50 {
		perPage = 50
	}

	q := url.Values{}
	q.Set("query", rule.SearchQuery())
	q.Set("per_page", strconv.Itoa(perPage))
	next := r.baseURL + "/api/listings?" + q.Encode()

	headers := map[string]string{
		"Accept":         "application/hal+json",
		"Accept-Version": "3.0",
	}
	if r.token != "" {
		headers["Authorization"] = "Bearer " + r.token
	}

	var listings []models.Listing
	seen := map[string]struct{}{}
	visited := map[string]struct{}{}
	for pages := 0; next != "" && len(listings) < limit && pages < reverbMaxPages; pages++ {
		if _, again := visited[next]; again {
			break
		}
		visited[next] = struct{}{}

		body, err := r.http.get(ctx, next, headers)
		if err != nil {
			return nil, &Error{Marketplace: r.Name(), Err: err}
		}

		var page reverbPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &Error{Marketplace: r.Name(), Err: fmt.Errorf("decode listings: %w", err)}
		}

		added := 0
		for _, raw := range page.Listings {
			listing, ok := r.normalize(raw)
			if !ok {
				continue
			}
			if _, dup := seen[listing.ID]; dup {
				continue
			}
			seen[listing.ID] = struct{}{}
			listings = append(listings, listing)
			added++
			if len(listings) >= limit {
				break
			}
		}

		// An empty page, or one that only repeats earlier listings, ends the search.
		if added == 0 {
			break
		}
		next = page.Links.Next.Href
	}

	return listings, nil
}

func (r *ReverbScraper) normalize(raw reverbListing) (models.Listing, bool) {
	id := strings.TrimSpace(raw.ID.String())
	if id == "" {
		return models.Listing{}, false
	}

	price, err := parseUSD(raw.Price.Amount)
	if err != nil {
		return models.Listing{}, false
	}

	listing := models.Listing{
		Marketplace: r.Name(),
		ID:          id,
		Title:       strings.TrimSpace(raw.Title),
		URL:         strings.TrimSpace(raw.Links.Web.Href),
		Price:       models.Money{Amount: price, Currency: strings.ToUpper(raw.Price.Currency)},
		Condition:   raw.Condition.DisplayName,
	}
	if listing.URL == "" {
		listing.URL = "https://reverb.com/item/" + url.PathEscape(id)
	}

	if raw.Shipping != nil {
		switch {
		case raw.Shipping.Free:
			listing.Shipping = &models.Shipping{Amount: 0, Known: true}
		case raw.Shipping.USRate != nil && strings.EqualFold(raw.Shipping.USRate.Currency, models.CurrencyUSD):
			if amount, err := parseUSD(raw.Shipping.USRate.Amount); err == nil {
				listing.Shipping = &models.Shipping{Amount: amount, Known: true}
			}
		}
	}

	if len(raw.Photos) > 0 {
		listing.ImageURL = raw.Photos[0].Links.LargeCrop.Href
	}

	if raw.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, raw.PublishedAt); err == nil {
			listing.ListedAt = &t
		}
	}

	return listing, true
}
