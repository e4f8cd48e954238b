package config

import (
	"fmt"
	"os"
	"strings"

	"dealbot/internal/models"

	"gopkg.in/yaml.v3"
)

type productsFile struct {
	Products []models.ProductRule `yaml:"products"`
}

// LoadProducts reads the product rules from a YAML file.
func LoadProducts(path string) ([]models.ProductRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read products file %s: %w", path, err)
	}
	return ParseProducts(raw)
}

// ParseProducts decodes and validates product rules.
func ParseProducts(raw []byte) ([]models.ProductRule, error) {
	var file productsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse products: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Products))
	for i := range file.Products {
		p := &file.Products[i]
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("%w: product #%d has no id", models.ErrInvalidConfig, i+1)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate product id %q", models.ErrInvalidConfig, p.ID)
		}
		seen[p.ID] = struct{}{}

		if p.Name == "" {
			p.Name = p.ID
		}
		if p.MaxPrice <= 0 {
			return nil, fmt.Errorf("%w: product %q needs a positive max_price", models.ErrInvalidConfig, p.ID)
		}
		if p.MinPrice != nil && *p.MinPrice > p.MaxPrice {
			return nil, fmt.Errorf("%w: product %q has min_price above max_price", models.ErrInvalidConfig, p.ID)
		}
		p.Marketplaces = normalizeMarketplaces(p.Marketplaces)
		if len(p.Marketplaces) == 0 {
			return nil, fmt.Errorf("%w: product %q lists no marketplaces", models.ErrInvalidConfig, p.ID)
		}
	}

	return file.Products, nil
}

// normalizeMarketplaces lowercases marketplace names and drops blanks and
// repeats, keeping the configured order.
func normalizeMarketplaces(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, m := range names {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
