package models

import "time"

// Settings are the global, run-wide options shared by the orchestrator and
// the marketplace adapters.
type Settings struct {
	IncludeShipping bool
	MaxResults      map[string]int // per marketplace
	RequestDelay    time.Duration
	NotifyBatchSize int
}

// ResultCap returns the result cap for a marketplace, or fallback.
func (s Settings) ResultCap(marketplace string, fallback int) int {
	if n, ok := s.MaxResults[marketplace]; ok && n > 0 {
		return n
	}
	return fallback
}
