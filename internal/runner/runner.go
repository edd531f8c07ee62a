// Package runner drives the sequential read-fetch-append loop over stdin.
package runner

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagefetch/internal/fetcher"
	"github.com/JakeFAU/pagefetch/internal/input"
	"github.com/JakeFAU/pagefetch/internal/metrics"
)

// Fetcher loads a URL and reports the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, url string) fetcher.Result
}

// Sink appends a record's text to the key's output.
type Sink interface {
	Append(ctx context.Context, key, url, text string) error
}

// Summary counts what happened to the input.
type Summary struct {
	Lines     int
	Skipped   int
	Succeeded int
	Failed    int
	// TimedOut counts succeeded records whose text was read after a navigation timeout.
	TimedOut int
}

// Config tunes input parsing.
type Config struct {
	MaxLineBytes int
}

// Runner processes records one at a time. A failed record is reported on the
// error stream and never stops the run.
type Runner struct {
	fetcher Fetcher
	sink    Sink
	errOut  io.Writer
	cfg     Config
	logger  *zap.Logger
}

// New builds a Runner that writes per-record failures to errOut.
func New(f Fetcher, s Sink, errOut io.Writer, cfg Config, logger *zap.Logger) *Runner {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		fetcher: f,
		sink:    s,
		errOut:  errOut,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run consumes in until EOF. It returns an error only when ctx is canceled or
// the input cannot be read; per-record failures and over-long lines are
// counted in the Summary.
func (r *Runner) Run(ctx context.Context, in io.Reader) (summary Summary, err error) {
	reader := input.NewReader(in, r.cfg.MaxLineBytes)
	defer func() {
		summary.Lines = reader.Lines()
		summary.Skipped = reader.Skipped()
		metrics.ObserveSkipped(summary.Skipped)
		if n := reader.Oversized(); n > 0 {
			r.logger.Warn("skipped input lines longer than the line limit",
				zap.Int("count", n),
				zap.Int("max_line_bytes", r.cfg.MaxLineBytes))
		}
	}()

	for reader.Next() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return summary, fmt.Errorf("run canceled: %w", ctxErr)
		}
		if err := r.process(ctx, reader.Record(), &summary); err != nil {
			return summary, err
		}
	}
	return summary, reader.Err()
}

func (r *Runner) process(ctx context.Context, rec input.Record, summary *Summary) error {
	logger := r.logger.With(
		zap.String("key", rec.Key),
		zap.String("url", rec.URL),
		zap.Int("line", rec.Line),
	)

	res := r.fetcher.Fetch(ctx, rec.URL)
	metrics.ObserveFetchDuration(res.Duration)
	if res.TimedOut {
		metrics.ObserveNavigationTimeout()
	}

	err := res.Err
	if err == nil {
		err = r.sink.Append(ctx, rec.Key, rec.URL, res.Text)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("run canceled: %w", ctxErr)
		}
		summary.Failed++
		metrics.ObserveRecord(rec.URL, metrics.OutcomeFailed)
		r.report(rec.URL, err)
		logger.Debug("record failed", zap.Error(err))
		return nil
	}

	summary.Succeeded++
	outcome := metrics.OutcomeSuccess
	if res.TimedOut {
		summary.TimedOut++
		outcome = metrics.OutcomeTimeoutRecovered
	}
	metrics.ObserveRecord(rec.URL, outcome)
	metrics.ObserveText(rec.URL, len(res.Text))
	logger.Debug("record written",
		zap.Int("status", res.StatusCode),
		zap.Int("text_bytes", len(res.Text)),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("duration", res.Duration))
	return nil
}

func (r *Runner) report(url string, err error) {
	if _, werr := fmt.Fprintf(r.errOut, "Error fetching %s: %v\n", url, err); werr != nil {
		r.logger.Warn("failed to write error report", zap.Error(werr))
	}
}
