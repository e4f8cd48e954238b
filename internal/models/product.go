package models

// ProductRule describes one watched product: what titles count as the product
// and what price makes a listing a deal.
type ProductRule struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	Query        string   `yaml:"query,omitempty" json:"query,omitempty"`
	MaxPrice     float64  `yaml:"max_price" json:"max_price"`
	MinPrice     *float64 `yaml:"min_price,omitempty" json:"min_price,omitempty"` // filters accessories priced below the real item
	Include      []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude      []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	Marketplaces []string `yaml:"marketplaces" json:"marketplaces"`

	AccessoryGuard *AccessoryGuard `yaml:"accessory_guard,omitempty" json:"accessory_guard,omitempty"`
}

// AccessoryGuard rejects titles that mention accessory words unless they also
// mention the brand. A nil guard on a rule means the default guard applies.
type AccessoryGuard struct {
	Disabled bool     `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Words    []string `yaml:"words,omitempty" json:"words,omitempty"`
	Brand    string   `yaml:"brand,omitempty" json:"brand,omitempty"`
}

// SearchQuery returns the text sent to marketplace search endpoints.
func (r ProductRule) SearchQuery() string {
	if r.Query != "" {
		return r.Query
	}
	return r.Name
}
