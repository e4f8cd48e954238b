// Package matcher decides which marketplace listings qualify as deals for a
// product rule.
package matcher

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"dealbot/internal/models"
)

// ShippingUnknownCaveat is attached to matches whose shipping cost was not
// reported and therefore is not part of the effective price.
const ShippingUnknownCaveat = "shipping unknown — verify"

// builtinExcludes applies to every rule on top of its own exclude terms.
var builtinExcludes = []string{
	"for parts",
	"parts only",
	"not working",
	"broken",
	"manual only",
	"box only",
	"empty box",
	"power supply only",
	"replacement",
	"faceplate",
	"knob",
	"sticker",
	"decal",
	"stand only",
}

// DefaultAccessoryGuard is used by rules that do not configure their own.
// It was written for Roland synth listings where cases and dust covers share
// the product name.
var DefaultAccessoryGuard = models.AccessoryGuard{
	Words: []string{"case", "cover", "decksaver", "overlay", "template"},
	Brand: "roland",
}

var spaces = regexp.MustCompile(`\s+`)

// Rule is a product rule with its terms compiled for one run.
type Rule struct {
	models.ProductRule

	include   []term
	exclude   []term
	accessory *regexp.Regexp
	brand     string
}

// Compile parses the rule's include/exclude terms once. Invalid regular
// expressions are logged and never match.
func Compile(rule models.ProductRule, logger *slog.Logger) *Rule {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Rule{ProductRule: rule}
	for _, raw := range rule.Include {
		r.include = append(r.include, parseTerm(raw, rule.ID, logger))
	}
	for _, raw := range builtinExcludes {
		r.exclude = append(r.exclude, parseTerm(raw, rule.ID, logger))
	}
	for _, raw := range rule.Exclude {
		r.exclude = append(r.exclude, parseTerm(raw, rule.ID, logger))
	}

	guard := DefaultAccessoryGuard
	if rule.AccessoryGuard != nil {
		guard = *rule.AccessoryGuard
	}
	if !guard.Disabled {
		words := guardWords(guard.Words)
		if len(words) == 0 {
			// A guard that only names a brand keeps the default words.
			words = guardWords(DefaultAccessoryGuard.Words)
		}
		r.accessory = regexp.MustCompile(`\b(?:` + strings.Join(words, "|") + `)s?\b`)
		r.brand = normalize(guard.Brand)
	}

	return r
}

// TitlePasses compiles the rule and evaluates a single title. Callers that
// evaluate many titles should Compile once and use Rule.TitlePasses.
func TitlePasses(rule models.ProductRule, title string) bool {
	return Compile(rule, nil).TitlePasses(title)
}

// TitlePasses reports whether the title satisfies at least one include term
// (or there are none), no exclude term, and the accessory guard.
func (r *Rule) TitlePasses(title string) bool {
	collapsed := strings.TrimSpace(spaces.ReplaceAllString(title, " "))
	normalized := strings.ToLower(collapsed)

	if len(r.include) > 0 {
		included := false
		for _, t := range r.include {
			if t.matches(collapsed, normalized) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	for _, t := range r.exclude {
		if t.matches(collapsed, normalized) {
			return false
		}
	}

	if r.accessory != nil && r.accessory.MatchString(normalized) {
		if r.brand == "" || !strings.Contains(normalized, r.brand) {
			return false
		}
	}

	return true
}

// EffectivePrice returns the price used for thresholds. ok is false for
// listings that are not priced in USD. When shipping should count but was not
// reported, the listed price is returned with a caveat.
func EffectivePrice(listing models.Listing, includeShipping bool) (amount float64, caveat string, ok bool) {
	if !strings.EqualFold(listing.Price.Currency, models.CurrencyUSD) {
		return 0, "", false
	}

	if !includeShipping {
		return listing.Price.Amount, "", true
	}

	if listing.Shipping != nil && listing.Shipping.Known {
		return listing.Price.Amount + listing.Shipping.Amount, "", true
	}

	return listing.Price.Amount, ShippingUnknownCaveat, true
}

// FilterMatches compiles the rule and filters the listings.
func FilterMatches(rule models.ProductRule, listings []models.Listing, includeShipping bool) []models.Match {
	return Compile(rule, nil).FilterMatches(listings, includeShipping)
}

// FilterMatches returns the listings that pass the title check and the
// price bounds, best deal first.
func (r *Rule) FilterMatches(listings []models.Listing, includeShipping bool) []models.Match {
	var matches []models.Match

	for _, listing := range listings {
		if !r.TitlePasses(listing.Title) {
			continue
		}

		price, caveat, ok := EffectivePrice(listing, includeShipping)
		if !ok {
			continue
		}

		if r.MinPrice != nil && price < *r.MinPrice {
			continue
		}
		if price > r.MaxPrice {
			continue
		}

		matches = append(matches, models.Match{
			Listing:        listing,
			Rule:           r.ProductRule,
			ProductID:      r.ID,
			EffectivePrice: price,
			ShippingCaveat: caveat,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].EffectivePrice < matches[j].EffectivePrice
	})

	return matches
}

// guardWords quotes the non-blank accessory words for the guard pattern.
func guardWords(raw []string) []string {
	words := make([]string, 0, len(raw))
	for _, w := range raw {
		w = normalize(w)
		if w == "" {
			continue
		}
		words = append(words, regexp.QuoteMeta(w))
	}
	return words
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(spaces.ReplaceAllString(s, " ")))
}
