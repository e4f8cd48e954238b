// Package stats summarizes what the market asks for a product, independent of
// the user's price threshold.
package stats

import (
	"sort"

	"dealbot/internal/matcher"
	"dealbot/internal/models"

	"github.com/shopspring/decimal"
)

// samplePositions are the rank fractions sampled from the sorted listings:
// lowest, quartiles and highest.
var samplePositions = []float64{0, 0.25, 0.5, 0.75, 1}

type priced struct {
	listing models.Listing
	price   float64
}

// Compute summarizes the effective prices of keyword-matching listings.
// Non-USD listings are ignored. An empty input gives a zero count, nil
// numeric fields and no samples.
func Compute(listings []models.Listing, includeShipping bool) models.MarketStats {
	items := make([]priced, 0, len(listings))
	for _, l := range listings {
		price, _, ok := matcher.EffectivePrice(l, includeShipping)
		if !ok {
			continue
		}
		items = append(items, priced{listing: l, price: price})
	}

	result := models.MarketStats{Samples: []models.Sample{}}
	n := len(items)
	if n == 0 {
		return result
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].price < items[j].price })

	sum := 0.0
	for _, it := range items {
		sum += it.price
	}

	var median float64
	if n%2 == 1 {
		median = items[n/2].price
	} else {
		median = (items[n/2-1].price + items[n/2].price) / 2
	}

	result.Count = n
	result.Min = ptr(round2(items[0].price))
	result.Max = ptr(round2(items[n-1].price))
	result.Avg = ptr(round2(sum / float64(n)))
	result.Median = ptr(round2(median))
	result.Samples = samples(items)

	return result
}

// samples picks listings at the fixed rank positions, skipping URLs already
// chosen so few distinct listings are not repeated.
func samples(items []priced) []models.Sample {
	n := len(items)
	seen := make(map[string]struct{}, len(samplePositions))
	out := make([]models.Sample, 0, len(samplePositions))

	for _, pos := range samplePositions {
		idx := int(pos * float64(n))
		if pos == 1 {
			idx = n - 1
		}
		it := items[idx]

		key := it.listing.URL
		if key == "" {
			key = it.listing.Marketplace + "/" + it.listing.ID
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, models.Sample{
			Title:       it.listing.Title,
			URL:         it.listing.URL,
			Marketplace: it.listing.Marketplace,
			Price:       round2(it.price),
		})
	}

	return out
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func ptr(v float64) *float64 {
	return &v
}
