package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNoScraper is returned when a rule names an unregistered marketplace.
	ErrNoScraper = errors.New("no scraper registered for marketplace")
	// ErrLocked is returned when another run holds the run lock.
	ErrLocked = errors.New("another run is in progress")
	// ErrUnknownStateVersion is returned for state documents newer than this build.
	ErrUnknownStateVersion = errors.New("unknown state document version")
	// ErrNoRuns is returned when the run history is empty.
	ErrNoRuns = errors.New("no runs recorded")
	// ErrInvalidConfig is returned for product rules that cannot be evaluated.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DeliveryError is returned by notifiers when an alert failed after some of
// its matches were already delivered.
type DeliveryError struct {
	Delivered int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%v (%d matches delivered)", e.Err, e.Delivered)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Delivered returns how many matches of an alert of size total reached the
// recipient, given the error its notifier returned.
func Delivered(err error, total int) int {
	if err == nil {
		return total
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Delivered
	}
	return 0
}
