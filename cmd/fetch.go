package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagefetch/internal/clock/system"
	"github.com/JakeFAU/pagefetch/internal/config"
	"github.com/JakeFAU/pagefetch/internal/fetcher"
	"github.com/JakeFAU/pagefetch/internal/id/uuid"
	"github.com/JakeFAU/pagefetch/internal/logging"
	"github.com/JakeFAU/pagefetch/internal/metrics"
	"github.com/JakeFAU/pagefetch/internal/runner"
	"github.com/JakeFAU/pagefetch/internal/sink"
)

// runFetch wires the run: config, logger, output directory, browser, then the
// record loop over stdin. Startup failures are returned; per-record failures
// are not.
func runFetch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))
	metrics.Init()

	store, err := sink.New(sink.Config{BaseDir: cfg.Output.Dir})
	if err != nil {
		return fmt.Errorf("init output dir: %w", err)
	}

	session, err := newSession(cmd.Context(), cfg, logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("Failed to close browser", zap.Error(cerr))
		}
	}()

	userAgent := cfg.Browser.UserAgent
	if userAgent == "" {
		userAgent = session.UserAgent()
	}

	f := fetcher.New(session, system.New(), fetcher.Config{
		UserAgent:            userAgent,
		NavigationTimeout:    cfg.Fetch.NavigationTimeout,
		TimeoutFallbackDelay: cfg.Fetch.TimeoutFallbackDelay,
	}, logger.Named("fetcher"))
	r := runner.New(f, store, cmd.ErrOrStderr(), runner.Config{
		MaxLineBytes: cfg.Input.MaxLineBytes,
	}, logger.Named("runner"))

	summary, runErr := r.Run(cmd.Context(), cmd.InOrStdin())
	logger.Info("run finished",
		zap.Int("lines", summary.Lines),
		zap.Int("skipped", summary.Skipped),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("timed_out", summary.TimedOut),
		zap.String("output_dir", cfg.Output.Dir))

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("Failed to write metrics textfile", zap.Error(err))
		}
	}

	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}
