// Package fetcher loads one URL at a time in a shared browser tab and
// extracts the page's visible text.
//
// A navigation that exceeds its timeout is not a failure: the fetcher waits
// a fixed delay and extracts whatever document the tab holds at that point,
// which may still be the previous page if the navigation never committed.
// Every other error fails the record.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNavigationTimeout marks a navigation that did not reach DOMContentLoaded in time.
var ErrNavigationTimeout = errors.New("navigation timeout")

// Default timings.
const (
	DefaultNavigationTimeout    = 10 * time.Second
	DefaultTimeoutFallbackDelay = 5 * time.Second
)

// Page is the single browser tab a Fetcher drives.
type Page interface {
	ApplyUserAgent(ctx context.Context, userAgent string) error
	// Navigate returns once the new document is DOM-ready, with the main
	// document's HTTP status (0 when unknown).
	Navigate(ctx context.Context, url string) (int, error)
	InnerText(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
}

// Clock provides time and an interruptible sleep.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Config controls the fetch policy.
type Config struct {
	// UserAgent is applied to the page before every navigation when non-empty.
	UserAgent            string
	NavigationTimeout    time.Duration
	TimeoutFallbackDelay time.Duration
}

// Result is the outcome of one fetch: text on success, Err on failure.
type Result struct {
	URL        string
	Text       string
	StatusCode int
	// TimedOut is set when the text was read after a navigation timeout.
	TimedOut bool
	Duration time.Duration
	Err      error
}

// OK reports whether the fetch produced text.
func (r Result) OK() bool {
	return r.Err == nil
}

// Fetcher navigates a Page and extracts its text.
type Fetcher struct {
	page   Page
	clock  Clock
	cfg    Config
	logger *zap.Logger
}

// New builds a Fetcher. A non-positive navigation timeout or a negative
// fallback delay is replaced by its default.
func New(page Page, clock Clock, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.TimeoutFallbackDelay < 0 {
		cfg.TimeoutFallbackDelay = DefaultTimeoutFallbackDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		page:   page,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Fetch loads url and returns its visible text. Failures are carried in the
// Result rather than returned, so callers can move on to the next record.
func (f *Fetcher) Fetch(ctx context.Context, url string) Result {
	start := f.clock.Now()
	res := f.fetch(ctx, url)
	res.Duration = f.clock.Now().Sub(start)
	return res
}

func (f *Fetcher) fetch(ctx context.Context, url string) Result {
	res := Result{URL: url}
	logger := f.logger.With(zap.String("url", url))

	if f.cfg.UserAgent != "" {
		if err := f.page.ApplyUserAgent(ctx, f.cfg.UserAgent); err != nil {
			res.Err = err
			return res
		}
	}

	status, err := f.navigate(ctx, url)
	switch {
	case err == nil:
		res.StatusCode = status
	case errors.Is(err, ErrNavigationTimeout):
		res.TimedOut = true
		logger.Info("navigation timed out; extracting current document",
			zap.Duration("timeout", f.cfg.NavigationTimeout),
			zap.Duration("delay", f.cfg.TimeoutFallbackDelay))
		if err := f.clock.Sleep(ctx, f.cfg.TimeoutFallbackDelay); err != nil {
			res.Err = fmt.Errorf("fallback delay: %w", err)
			return res
		}
		f.noteStaleDocument(ctx, url, logger)
	default:
		res.Err = err
		return res
	}

	text, err := f.page.InnerText(ctx)
	if err != nil {
		res.Err = fmt.Errorf("extract text: %w", err)
		return res
	}
	res.Text = text
	return res
}

func (f *Fetcher) navigate(ctx context.Context, url string) (int, error) {
	navCtx, cancel := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	defer cancel()

	status, err := f.page.Navigate(navCtx, url)
	if err == nil {
		return status, nil
	}
	if ctx.Err() == nil && errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return 0, fmt.Errorf("%w after %s: %w", ErrNavigationTimeout, f.cfg.NavigationTimeout, err)
	}
	return 0, err
}

// noteStaleDocument logs when the tab is not showing the requested URL after
// a timeout. The text is still extracted.
func (f *Fetcher) noteStaleDocument(ctx context.Context, url string, logger *zap.Logger) {
	loc, err := f.page.Location(ctx)
	if err != nil {
		logger.Debug("could not read location after timeout", zap.Error(err))
		return
	}
	if sameDocument(loc, url) {
		return
	}
	logger.Info("navigation did not commit; text may belong to another page",
		zap.String("location", loc))
}

func sameDocument(location, requested string) bool {
	return strings.TrimSuffix(location, "/") == strings.TrimSuffix(requested, "/")
}
