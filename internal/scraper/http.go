package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Error is a marketplace query failure, after retries.
type Error struct {
	Marketplace string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Marketplace, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// retryable reports whether a status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// HTTPOptions configures the HTTP behaviour shared by the scrapers.
type HTTPOptions struct {
	Client         *http.Client
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	UserAgent      string
	Logger         *slog.Logger
}

type fetcher struct {
	client         *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	userAgent      string
	logger         *slog.Logger
}

func newFetcher(opts HTTPOptions) *fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &fetcher{
		client:         client,
		maxAttempts:    attempts,
		initialBackoff: initial,
		userAgent:      ua,
		logger:         logger,
	}
}

// get fetches a URL, retrying transport errors, 429 and 5xx responses with
// exponential backoff.
func (f *fetcher) get(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.initialBackoff
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	var body []byte
	operation := func() error {
		b, err := f.do(ctx, u, headers)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.retryable() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	notify := func(err error, delay time.Duration) {
		f.logger.Warn("request failed, retrying", "url", u, "delay", delay, "error", err)
	}

	retries := uint64(f.maxAttempts - 1)
	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), notify)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *fetcher) do(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

var nonPrice = regexp.MustCompile(`[^0-9.]`)

// parseUSD turns "$1,099.50" or "1099.50" into 1099.5.
func parseUSD(text string) (float64, error) {
	clean := nonPrice.ReplaceAllString(strings.TrimSpace(text), "")
	if clean == "" {
		return 0, fmt.Errorf("no price in %q", text)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	f, _ := d.Float64()
	return f, nil
}
