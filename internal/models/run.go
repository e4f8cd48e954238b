package models

import "time"

// LifecycleEntry is the persisted history of one listing for one product on
// one marketplace.
type LifecycleEntry struct {
	FirstSeenAt        time.Time  `json:"first_seen_at"`
	LastSeenAt         time.Time  `json:"last_seen_at"`
	LastEffectivePrice float64    `json:"last_effective_price"`
	Title              string     `json:"title"`
	URL                string     `json:"url"`
	MissedRuns         int        `json:"missed_runs"`
	SoldAt             *time.Time `json:"sold_at,omitempty"`
}

// Sold reports whether the entry has been declared sold.
func (e *LifecycleEntry) Sold() bool {
	return e.SoldAt != nil
}

// Sample is one listing shown as a reference point in market statistics.
type Sample struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Marketplace string  `json:"marketplace"`
	Price       float64 `json:"price"`
}

// MarketStats summarizes effective prices of keyword-matching listings.
// Numeric fields are nil when there were no listings.
type MarketStats struct {
	Count   int      `json:"count"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Avg     *float64 `json:"avg"`
	Median  *float64 `json:"median"`
	Samples []Sample `json:"samples"`
}

// RunError records one failed marketplace query.
type RunError struct {
	Marketplace string `json:"marketplace"`
	ProductID   string `json:"product_id"`
	Message     string `json:"message"`
}

// ProductResult is the per-product part of a run summary.
type ProductResult struct {
	ProductID string      `json:"product_id"`
	Name      string      `json:"name"`
	Threshold float64     `json:"threshold"`
	Matches   []Match     `json:"matches"`
	Stats     MarketStats `json:"stats"`
}

// RunSummary is appended to the history once per run and never changed.
type RunSummary struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  time.Duration   `json:"duration"`
	Scanned   int             `json:"scanned"`
	Matched   int             `json:"matched"`
	Alerted   int             `json:"alerted"` // matches delivered, including partial alerts
	Sold      int             `json:"sold"`
	Swept     int             `json:"swept"`
	Errors    []RunError      `json:"errors"`
	Products  []ProductResult `json:"products"`
}

// Alert is the batch handed to the notifier for one product: the matches
// that are new or dropped in price this run, best price first.
type Alert struct {
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Threshold   float64   `json:"threshold"`
	RunAt       time.Time `json:"run_at"`
	Matches     []Match   `json:"matches"`
}
