package models

import "time"

// CurrencyUSD is the only currency deals are evaluated in.
const CurrencyUSD = "USD"

// Money is an amount tagged with its ISO currency code.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Shipping is the shipping cost reported by a marketplace. Known is false
// when the marketplace did not report a cost, which is different from free
// shipping.
type Shipping struct {
	Amount float64 `json:"amount"`
	Known  bool    `json:"known"`
}

// Listing is a marketplace result normalized by an adapter.
type Listing struct {
	Marketplace string     `json:"marketplace"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Price       Money      `json:"price"`
	Shipping    *Shipping  `json:"shipping,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Condition   string     `json:"condition,omitempty"`
	ListedAt    *time.Time `json:"listed_at,omitempty"`
}

// PriceDrop annotates a match whose effective price fell since the last run.
type PriceDrop struct {
	Previous float64 `json:"previous"`
	Drop     float64 `json:"drop"`
}

// Match is a listing that passed keyword and price filtering for a rule.
type Match struct {
	Listing        Listing     `json:"listing"`
	Rule           ProductRule `json:"-"`
	ProductID      string      `json:"product_id"`
	EffectivePrice float64     `json:"effective_price"`
	ShippingCaveat string      `json:"shipping_caveat,omitempty"`
	PriceDrop      *PriceDrop  `json:"price_drop,omitempty"`
}
