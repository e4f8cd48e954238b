package scraper

import (
	"context"
	"fmt"
	"sort"

	"dealbot/internal/models"
)

// Scraper searches one marketplace for listings of a product and returns them
// in normalized form.
type Scraper interface {
	Name() string
	Search(ctx context.Context, rule models.ProductRule, settings models.Settings) ([]models.Listing, error)
}

// Registry keeps the scrapers available to the monitor, keyed by marketplace.
type Registry struct {
	scrapers map[string]Scraper
}

// NewRegistry creates a registry with the given scrapers.
func NewRegistry(scrapers ...Scraper) *Registry {
	r := &Registry{scrapers: map[string]Scraper{}}
	for _, s := range scrapers {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a scraper.
func (r *Registry) Register(s Scraper) {
	if r.scrapers == nil {
		r.scrapers = map[string]Scraper{}
	}
	r.scrapers[s.Name()] = s
}

// FindScraper returns the scraper for a marketplace.
func (r *Registry) FindScraper(marketplace string) (Scraper, error) {
	if s, ok := r.scrapers[marketplace]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", models.ErrNoScraper, marketplace)
}

// Names returns the registered marketplace names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
