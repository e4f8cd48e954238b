// Package lifecycle tracks every matched listing across runs: when it was
// first and last seen, at what price, and whether it has disappeared long
// enough to be considered sold.
package lifecycle

import (
	"math"
	"time"

	"dealbot/internal/models"
)

const (
	// MissedRunsBeforeSold is the number of consecutive runs a listing must be
	// absent before it is declared sold.
	MissedRunsBeforeSold = 3
	// SoldRetention is how long sold entries are kept before Sweep removes them.
	SoldRetention = 5 * 24 * time.Hour
)

// Kind classifies a sighting against the stored entry.
type Kind string

const (
	New       Kind = "new"
	PriceDrop Kind = "price_drop"
	Unchanged Kind = "unchanged"
)

// Transition is the result of reconciling a match with its stored entry.
// Previous and Drop are set only for PriceDrop.
type Transition struct {
	Kind     Kind
	Previous float64
	Drop     float64
}

// Alertable reports whether the transition should be notified.
func (t Transition) Alertable() bool {
	return t.Kind == New || t.Kind == PriceDrop
}

// Annotation returns the price-drop annotation for a match, or nil.
func (t Transition) Annotation() *models.PriceDrop {
	if t.Kind != PriceDrop {
		return nil
	}
	return &models.PriceDrop{Previous: t.Previous, Drop: t.Drop}
}

// Reconcile classifies a match against its existing entry. A nil entry means
// the listing has never been seen. Sold entries are frozen and always
// reconcile as Unchanged.
func Reconcile(existing *models.LifecycleEntry, match models.Match) Transition {
	if existing == nil {
		return Transition{Kind: New}
	}
	if existing.Sold() {
		return Transition{Kind: Unchanged}
	}

	previous := cents(existing.LastEffectivePrice)
	current := cents(match.EffectivePrice)
	if current < previous {
		return Transition{
			Kind:     PriceDrop,
			Previous: existing.LastEffectivePrice,
			Drop:     float64(previous-current) / 100,
		}
	}

	return Transition{Kind: Unchanged}
}

// RecordSighting refreshes an entry from a match seen in the run at now.
// FirstSeenAt is preserved and sold entries are left untouched.
func RecordSighting(entry *models.LifecycleEntry, match models.Match, now time.Time) {
	if entry == nil || entry.Sold() {
		return
	}

	if entry.FirstSeenAt.IsZero() {
		entry.FirstSeenAt = now
	}
	entry.LastSeenAt = now
	entry.LastEffectivePrice = match.EffectivePrice
	entry.Title = match.Listing.Title
	entry.URL = match.Listing.URL
	entry.MissedRuns = 0
}

// MarkMissingIfAbsent updates the entries of one marketplace/product after a
// run. Entries whose listing ID is in seen have their miss counter reset;
// the others gain a miss and are stamped sold on reaching
// MissedRunsBeforeSold. It returns how many entries became sold.
func MarkMissingIfAbsent(entries map[string]*models.LifecycleEntry, seen map[string]struct{}, now time.Time) int {
	sold := 0
	for id, entry := range entries {
		if entry.Sold() {
			continue
		}

		if _, ok := seen[id]; ok {
			entry.MissedRuns = 0
			continue
		}

		entry.MissedRuns++
		if entry.MissedRuns >= MissedRunsBeforeSold {
			soldAt := now
			entry.SoldAt = &soldAt
			sold++
		}
	}
	return sold
}

func cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
