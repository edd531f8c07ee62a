// Package cmd defines and implements the CLI for the pagefetch executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagefetch/internal/browser"
	"github.com/JakeFAU/pagefetch/internal/config"
	"github.com/JakeFAU/pagefetch/internal/fetcher"
)

var cfgFile string

// Session is the browser handle a run drives: one tab, plus the browser's
// advertised user agent and shutdown.
type Session interface {
	fetcher.Page
	UserAgent() string
	Close() error
}

// newSession is the browser factory. It's a variable so tests can replace
// it with a scripted session. Canceling ctx aborts the launch.
var newSession = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Session, error) {
	s, err := browser.Launch(ctx, browser.Config{
		Headless: cfg.Browser.Headless,
		ExecPath: cfg.Browser.ExecPath,
	}, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagefetch",
		Short: "Append the visible text of web pages to per-key files.",
		Long: `pagefetch reads "<key> <url>" lines from standard input, loads each URL
in a single headless Chrome tab, and appends the page's visible text to
data/<key>.txt under a "===== URL: <url> =====" header.

Pages that do not reach DOMContentLoaded within the navigation timeout are
still extracted after a short delay. Any other failure is reported on stderr
as "Error fetching <url>: <reason>" and the run moves on to the next line.`,
		Example:       `  echo "key1 http://example.com" | pagefetch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runFetch,
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "optional config file (env vars use the PAGEFETCH_ prefix)")

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagefetch: %v\n", err)
		os.Exit(1)
	}
}
