// Package browser owns the single headless Chrome process and tab that every
// fetch in a run is driven through.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrClosed is returned by Session methods after Close.
var ErrClosed = errors.New("browser session closed")

// Config controls how the browser process is launched.
type Config struct {
	Headless bool
	// ExecPath points at a Chrome binary; empty lets chromedp discover one.
	ExecPath string
}

// Session is one browser process with one tab. Cookies, storage and history
// persist across navigations for the life of the session.
type Session struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	userAgent     string
	logger        *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Launch starts Chrome, attaches to its first tab and reads the browser's
// default user agent. Canceling ctx aborts a launch in progress and, once
// launched, shuts the browser down.
func Launch(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	var userAgent string
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		_, _, _, ua, _, err := cdpbrowser.GetVersion().Do(cdp.WithExecutor(ctx, c.Browser))
		if err != nil {
			return fmt.Errorf("get browser version: %w", err)
		}
		userAgent = ua
		return nil
	}))
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp launch: %w", err)
	}

	logger.Debug("browser launched", zap.String("user_agent", userAgent), zap.Bool("headless", cfg.Headless))
	return &Session{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		userAgent:     userAgent,
		logger:        logger,
		closed:        make(chan struct{}),
	}, nil
}

// UserAgent returns the user agent the browser advertised at launch.
func (s *Session) UserAgent() string {
	return s.userAgent
}

// Close shuts the browser down and releases the allocator. It is safe to
// call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if cerr := chromedp.Cancel(s.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("close browser: %w", cerr)
		}
		s.browserCancel()
		s.allocCancel()
	})
	return err
}

// ApplyUserAgent overrides the tab's user agent.
func (s *Session) ApplyUserAgent(ctx context.Context, userAgent string) error {
	if err := s.run(ctx, emulation.SetUserAgentOverride(userAgent)); err != nil {
		return fmt.Errorf("set user-agent: %w", err)
	}
	return nil
}

// Navigate points the tab at rawURL and returns once the document created by
// this navigation fires DOMContentLoaded. Subresources may still be loading.
// Lifecycle events left over from an earlier navigation do not count. The
// returned status is that of the main document response, or 0 when none was
// observed.
func (s *Session) Navigate(ctx context.Context, rawURL string) (int, error) {
	watch := newNavigationWatch()

	listenCtx, stopListening := context.WithCancel(s.browserCtx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, watch.handle)

	var loaderID cdp.LoaderID
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		var ret page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(rawURL), &ret); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if ret.ErrorText != "" {
			return fmt.Errorf("page load error %s", ret.ErrorText)
		}
		loaderID = ret.LoaderID
		return watch.wait(ctx, loaderID)
	}))
	if err != nil {
		return 0, err
	}
	return watch.status(loaderID), nil
}

// InnerText returns the rendered visible text of the whole document body.
func (s *Session) InnerText(ctx context.Context) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Evaluate(`document.body.innerText`, &text)); err != nil {
		return "", fmt.Errorf("evaluate innerText: %w", err)
	}
	return text, nil
}

// Location returns the URL of the document currently loaded in the tab.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// run executes actions on the tab under ctx's deadline and cancellation.
// chromedp actions need a context derived from the tab, so ctx is mirrored
// onto one instead of being used directly.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.browserCtx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(s.browserCtx)
	}
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// navigationWatch collects the tab's DOMContentLoaded lifecycle events and
// main-document response codes, keyed by loader. A loader identifies one
// document load, so events from a previous navigation are never mistaken for
// the current one.
type navigationWatch struct {
	mu     sync.Mutex
	ready  map[cdp.LoaderID]struct{}
	codes  map[cdp.LoaderID]int
	notify chan struct{}
}

func newNavigationWatch() *navigationWatch {
	return &navigationWatch{
		ready:  make(map[cdp.LoaderID]struct{}),
		codes:  make(map[cdp.LoaderID]int),
		notify: make(chan struct{}, 1),
	}
}

func (w *navigationWatch) handle(ev any) {
	switch e := ev.(type) {
	case *page.EventLifecycleEvent:
		if e.Name != "DOMContentLoaded" {
			return
		}
		w.mu.Lock()
		w.ready[e.LoaderID] = struct{}{}
		w.mu.Unlock()
		select {
		case w.notify <- struct{}{}:
		default:
		}
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.codes[e.LoaderID]; !ok {
			w.codes[e.LoaderID] = int(e.Response.Status)
		}
	}
}

// wait blocks until loaderID has fired DOMContentLoaded. An empty loaderID
// means a same-document navigation, which has nothing to wait for.
func (w *navigationWatch) wait(ctx context.Context, loaderID cdp.LoaderID) error {
	if loaderID == "" {
		return nil
	}
	for {
		w.mu.Lock()
		_, ok := w.ready[loaderID]
		w.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-w.notify:
		case <-ctx.Done():
			return fmt.Errorf("wait for DOMContentLoaded: %w", ctx.Err())
		}
	}
}

func (w *navigationWatch) status(loaderID cdp.LoaderID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.codes[loaderID]
}
