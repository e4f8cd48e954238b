package lifecycle

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"dealbot/internal/models"
)

// SchemaVersion is the version written by Encode.
const SchemaVersion = 2

// Entries maps listing IDs to their lifecycle entries.
type Entries map[string]*models.LifecycleEntry

// State is the persisted document: marketplace -> product -> listing ID.
// It is read once at the start of a run, mutated only through Observe,
// MarkMissing and Sweep, and written once at the end.
type State struct {
	Version      int                           `json:"version"`
	UpdatedAt    time.Time                     `json:"updated_at"`
	Marketplaces map[string]map[string]Entries `json:"marketplaces"`
}

// NewState returns an empty state document.
func NewState() *State {
	return &State{
		Version:      SchemaVersion,
		Marketplaces: map[string]map[string]Entries{},
	}
}

// Entries returns the entries for a marketplace/product, or nil.
func (s *State) Entries(marketplace, productID string) Entries {
	products, ok := s.Marketplaces[marketplace]
	if !ok {
		return nil
	}
	return products[productID]
}

// Entry returns a single entry, or nil when the listing was never matched.
func (s *State) Entry(marketplace, productID, listingID string) *models.LifecycleEntry {
	return s.Entries(marketplace, productID)[listingID]
}

// Observe reconciles a match with its stored entry and records the sighting,
// creating the entry for new listings.
func (s *State) Observe(match models.Match, now time.Time) Transition {
	marketplace := match.Listing.Marketplace
	entries := s.ensure(marketplace, match.ProductID)

	existing := entries[match.Listing.ID]
	transition := Reconcile(existing, match)

	if existing == nil {
		existing = &models.LifecycleEntry{FirstSeenAt: now}
		entries[match.Listing.ID] = existing
	}
	RecordSighting(existing, match, now)

	return transition
}

// MarkMissing runs MarkMissingIfAbsent for one marketplace/product.
func (s *State) MarkMissing(marketplace, productID string, seen map[string]struct{}, now time.Time) int {
	return MarkMissingIfAbsent(s.Entries(marketplace, productID), seen, now)
}

// Sweep deletes sold entries whose SoldAt is before now minus retention and
// prunes empty product and marketplace maps. It returns the number removed.
func (s *State) Sweep(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)
	removed := 0

	for marketplace, products := range s.Marketplaces {
		for productID, entries := range products {
			for id, entry := range entries {
				if entry.SoldAt != nil && entry.SoldAt.Before(cutoff) {
					delete(entries, id)
					removed++
				}
			}
			if len(entries) == 0 {
				delete(products, productID)
			}
		}
		if len(products) == 0 {
			delete(s.Marketplaces, marketplace)
		}
	}

	return removed
}

// Keys returns the marketplace/product pairs present in the state, sorted.
func (s *State) Keys() [][2]string {
	var keys [][2]string
	for marketplace, products := range s.Marketplaces {
		for productID := range products {
			keys = append(keys, [2]string{marketplace, productID})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	return keys
}

func (s *State) ensure(marketplace, productID string) Entries {
	if s.Marketplaces == nil {
		s.Marketplaces = map[string]map[string]Entries{}
	}
	products, ok := s.Marketplaces[marketplace]
	if !ok {
		products = map[string]Entries{}
		s.Marketplaces[marketplace] = products
	}
	entries, ok := products[productID]
	if !ok {
		entries = Entries{}
		products[productID] = entries
	}
	return entries
}

// Encode serializes the state at the current schema version.
func (s *State) Encode(now time.Time) ([]byte, error) {
	s.Version = SchemaVersion
	s.UpdatedAt = now
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Decode parses a state document, migrating older versions. Empty input
// yields an empty state.
func Decode(data []byte) (*State, error) {
	if len(data) == 0 {
		return NewState(), nil
	}

	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("decode state header: %w", err)
	}

	switch header.Version {
	case 0, 1:
		return migrateV1(data)
	case SchemaVersion:
		state := NewState()
		if err := json.Unmarshal(data, state); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		if state.Marketplaces == nil {
			state.Marketplaces = map[string]map[string]Entries{}
		}
		return state, nil
	default:
		return nil, fmt.Errorf("%w: %d", models.ErrUnknownStateVersion, header.Version)
	}
}

// v1Entry is the entry shape before miss counting existed.
type v1Entry struct {
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	Price       float64    `json:"price"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	SoldAt      *time.Time `json:"sold_at,omitempty"`
}

func migrateV1(data []byte) (*State, error) {
	var legacy struct {
		UpdatedAt    time.Time                                `json:"updated_at"`
		Marketplaces map[string]map[string]map[string]v1Entry `json:"marketplaces"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("decode v1 state: %w", err)
	}

	state := NewState()
	state.UpdatedAt = legacy.UpdatedAt
	for marketplace, products := range legacy.Marketplaces {
		for productID, entries := range products {
			migrated := state.ensure(marketplace, productID)
			for id, e := range entries {
				migrated[id] = &models.LifecycleEntry{
					FirstSeenAt:        e.FirstSeenAt,
					LastSeenAt:         e.LastSeenAt,
					LastEffectivePrice: e.Price,
					Title:              e.Title,
					URL:                e.URL,
					SoldAt:             e.SoldAt,
				}
			}
		}
	}
	return state, nil
}
