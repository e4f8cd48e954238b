// Package monitor runs the polling cycle: query every marketplace for every
// watched product, filter the results into matches, reconcile them with the
// stored lifecycle state, notify new deals and price drops, and persist the
// state together with a run summary.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dealbot/internal/lifecycle"
	"dealbot/internal/matcher"
	"dealbot/internal/models"
	"dealbot/internal/scraper"
	"dealbot/internal/stats"

	"github.com/google/uuid"
)

// Store persists the lifecycle state and the run history.
type Store interface {
	LoadState(ctx context.Context) (*lifecycle.State, error)
	SaveRun(ctx context.Context, state *lifecycle.State, summary models.RunSummary) error
}

// Notifier delivers alert batches. It is responsible for formatting and for
// splitting a batch into messages.
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// Options configures a Monitor.
type Options struct {
	Store    Store
	Registry *scraper.Registry
	Notifier Notifier
	Products []models.ProductRule
	Settings models.Settings
	// Lock, when set, is held for the duration of every run.
	Lock   *Lock
	Logger *slog.Logger
	Clock  func() time.Time
}

// Monitor runs polling cycles. Runs never overlap: RunOnce is meant to be
// called from a single goroutine, and Start serializes scheduled and
// triggered runs.
type Monitor struct {
	store    Store
	registry *scraper.Registry
	notifier Notifier
	products []models.ProductRule
	settings models.Settings
	lock     *Lock
	logger   *slog.Logger
	now      func() time.Time

	trigger chan struct{}
}

// New creates a monitor.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		store:    opts.Store,
		registry: opts.Registry,
		notifier: opts.Notifier,
		products: opts.Products,
		settings: opts.Settings,
		lock:     opts.Lock,
		logger:   logger.With("component", "monitor"),
		now:      clock,
		trigger:  make(chan struct{}, 1),
	}
}

// Products returns the watched product rules.
func (m *Monitor) Products() []models.ProductRule {
	return m.products
}

// Start runs a cycle immediately and then every interval until ctx is done.
// Trigger requests an extra cycle between ticks.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.logger.Info("monitor started", "interval", interval, "products", len(m.products))

	m.runAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			m.runAndLog(ctx)
		case <-m.trigger:
			m.runAndLog(ctx)
		}
	}
}

// Trigger asks Start to run a cycle as soon as the current one finishes. It
// returns false when a triggered run is already pending.
func (m *Monitor) Trigger() bool {
	select {
	case m.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Monitor) runAndLog(ctx context.Context) {
	summary, err := m.RunOnce(ctx)
	if err != nil {
		m.logger.Error("run failed", "run_id", summary.ID, "error", err)
		return
	}
	m.logger.Info("run finished",
		"run_id", summary.ID,
		"duration", summary.Duration,
		"scanned", summary.Scanned,
		"matched", summary.Matched,
		"alerted", summary.Alerted,
		"sold", summary.Sold,
		"errors", len(summary.Errors))
}

// pair identifies one marketplace/product query.
type pair struct {
	marketplace string
	productID   string
}

// RunOnce executes one polling cycle. Adapter failures are recorded in the
// summary and do not fail the run. Notification failures do not prevent the
// state from being persisted; they are joined into the returned error after
// persistence. Persistence failures are fatal.
func (m *Monitor) RunOnce(ctx context.Context) (models.RunSummary, error) {
	start := m.now()
	summary := models.RunSummary{
		ID:        uuid.NewString(),
		Timestamp: start,
		Errors:    []models.RunError{},
		Products:  []models.ProductResult{},
	}

	if m.lock != nil {
		if err := m.lock.Acquire(); err != nil {
			return summary, err
		}
		defer m.lock.Release()
	}

	state, err := m.store.LoadState(ctx)
	if err != nil {
		return summary, fmt.Errorf("load state: %w", err)
	}

	seen := map[pair]map[string]struct{}{}
	failed := map[pair]bool{}
	var notifyErrs []error
	queried := 0

	for _, product := range m.products {
		rule := matcher.Compile(product, m.logger)
		logger := m.logger.With("product", product.ID)

		var raw []models.Listing
		for _, marketplace := range product.Marketplaces {
			key := pair{marketplace: marketplace, productID: product.ID}

			if queried > 0 {
				if err := sleepContext(ctx, m.settings.RequestDelay); err != nil {
					return summary, err
				}
			}
			queried++

			listings, err := m.search(ctx, marketplace, product)
			if err != nil {
				failed[key] = true
				summary.Errors = append(summary.Errors, models.RunError{
					Marketplace: marketplace,
					ProductID:   product.ID,
					Message:     err.Error(),
				})
				logger.Warn("marketplace query failed", "marketplace", marketplace, "error", err)
				continue
			}

			ids := make(map[string]struct{}, len(listings))
			for _, l := range listings {
				ids[l.ID] = struct{}{}
			}
			seen[key] = ids
			summary.Scanned += len(listings)
			raw = append(raw, listings...)

			logger.Debug("marketplace queried", "marketplace", marketplace, "listings", len(listings))
		}

		keyword := make([]models.Listing, 0, len(raw))
		for _, l := range raw {
			if rule.TitlePasses(l.Title) {
				keyword = append(keyword, l)
			}
		}

		matches := rule.FilterMatches(raw, m.settings.IncludeShipping)
		alerts := make([]models.Match, 0, len(matches))
		for i := range matches {
			transition := state.Observe(matches[i], start)
			matches[i].PriceDrop = transition.Annotation()
			if transition.Alertable() {
				alerts = append(alerts, matches[i])
			}
		}
		summary.Matched += len(matches)

		if len(alerts) > 0 {
			err := m.notifier.Notify(ctx, models.Alert{
				ProductID:   product.ID,
				ProductName: product.Name,
				Threshold:   product.MaxPrice,
				RunAt:       start,
				Matches:     alerts,
			})
			if err != nil {
				logger.Error("notification failed", "alerts", len(alerts), "error", err)
				notifyErrs = append(notifyErrs, fmt.Errorf("notify %s: %w", product.ID, err))
			}
			summary.Alerted += models.Delivered(err, len(alerts))
		}

		if matches == nil {
			matches = []models.Match{}
		}
		summary.Products = append(summary.Products, models.ProductResult{
			ProductID: product.ID,
			Name:      product.Name,
			Threshold: product.MaxPrice,
			Matches:   matches,
			Stats:     stats.Compute(keyword, m.settings.IncludeShipping),
		})
	}

	summary.Sold = m.markMissing(state, seen, failed, start)
	summary.Swept = state.Sweep(start, lifecycle.SoldRetention)
	summary.Duration = m.now().Sub(start)

	if err := m.store.SaveRun(ctx, state, summary); err != nil {
		return summary, fmt.Errorf("save run: %w", err)
	}

	return summary, errors.Join(notifyErrs...)
}

func (m *Monitor) search(ctx context.Context, marketplace string, product models.ProductRule) ([]models.Listing, error) {
	s, err := m.registry.FindScraper(marketplace)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, product, m.settings)
}

// markMissing counts misses for every stored marketplace/product whose query
// succeeded. Pairs no longer configured are treated as queried with no
// results so their entries age out; pairs whose query failed are left alone.
func (m *Monitor) markMissing(state *lifecycle.State, seen map[pair]map[string]struct{}, failed map[pair]bool, now time.Time) int {
	sold := 0
	for _, k := range state.Keys() {
		key := pair{marketplace: k[0], productID: k[1]}
		if failed[key] {
			continue
		}
		n := state.MarkMissing(key.marketplace, key.productID, seen[key], now)
		if n > 0 {
			m.logger.Info("listings marked sold", "marketplace", key.marketplace, "product", key.productID, "count", n)
		}
		sold += n
	}
	return sold
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
