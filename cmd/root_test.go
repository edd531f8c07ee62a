package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagefetch/internal/config"
)

// fakeSession serves canned page text and records what the command asked of it.
type fakeSession struct {
	mu         sync.Mutex
	pages      map[string]string
	failures   map[string]error
	current    string
	userAgents []string
	closed     int
}

func (f *fakeSession) ApplyUserAgent(_ context.Context, ua string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userAgents = append(f.userAgents, ua)
	return nil
}

func (f *fakeSession) Navigate(_ context.Context, url string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[url]; ok {
		return 0, err
	}
	f.current = url
	return 200, nil
}

func (f *fakeSession) InnerText(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[f.current], nil
}

func (f *fakeSession) Location(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeSession) UserAgent() string { return "FakeChrome/1.0" }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func withSession(t *testing.T, s Session, err error) *config.Config {
	t.Helper()
	var seen config.Config
	orig := newSession
	newSession = func(_ context.Context, cfg config.Config, _ *zap.Logger) (Session, error) {
		seen = cfg
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	t.Cleanup(func() { newSession = orig })
	return &seen
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetErr(&stderr)
	cmd.SetOut(&bytes.Buffer{})
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stderr.String(), err
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRootAppendsRecordsAndReportsFailures(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "data")
	t.Setenv("PAGEFETCH_OUTPUT_DIR", outDir)

	session := &fakeSession{
		pages: map[string]string{
			"http://example.com/1": "first page",
			"http://example.com/2": "second page",
		},
		failures: map[string]error{
			"http://bad.invalid/": errors.New("page load error net::ERR_NAME_NOT_RESOLVED"),
		},
	}
	withSession(t, session, nil)

	stdin := strings.Join([]string{
		"a http://example.com/1",
		"",
		"lonely",
		"b   http://bad.invalid/",
		"a\thttp://example.com/2",
	}, "\n")

	stderr, err := execute(t, stdin)
	require.NoError(t, err)

	assert.Equal(t,
		"===== URL: http://example.com/1 =====\nfirst page\n\n"+
			"===== URL: http://example.com/2 =====\nsecond page\n\n",
		readFile(t, filepath.Join(outDir, "a.txt")))
	assert.NoFileExists(t, filepath.Join(outDir, "b.txt"))

	assert.Contains(t, stderr, "Error fetching http://bad.invalid/: ")
	assert.Contains(t, stderr, "ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, 1, strings.Count(stderr, "Error fetching"))

	assert.Equal(t, 1, session.closed)
	assert.Equal(t, []string{"FakeChrome/1.0", "FakeChrome/1.0", "FakeChrome/1.0"}, session.userAgents)
}

func TestRootConfigFileOverridesUserAgent(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	cfgPath := filepath.Join(dir, "pagefetch.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"output:\n  dir: "+outDir+"\nbrowser:\n  user_agent: custom-agent/2\n  headless: false\n",
	), 0o600))

	session := &fakeSession{pages: map[string]string{"http://example.com/": "hello"}}
	seen := withSession(t, session, nil)

	_, err := execute(t, "k http://example.com/\n", "--config", cfgPath)
	require.NoError(t, err)

	assert.False(t, seen.Browser.Headless)
	assert.Equal(t, []string{"custom-agent/2"}, session.userAgents)
	assert.Equal(t, "===== URL: http://example.com/ =====\nhello\n\n", readFile(t, filepath.Join(outDir, "k.txt")))
}

func TestRootWritesMetricsTextfile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PAGEFETCH_OUTPUT_DIR", filepath.Join(dir, "data"))
	promPath := filepath.Join(dir, "pagefetch.prom")
	t.Setenv("PAGEFETCH_METRICS_TEXTFILE", promPath)

	withSession(t, &fakeSession{pages: map[string]string{"http://example.com/": "hi"}}, nil)

	_, err := execute(t, "k http://example.com/\n")
	require.NoError(t, err)

	assert.Contains(t, readFile(t, promPath), "pagefetch_records_total")
}

func TestRootLaunchFailureIsFatal(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "data")
	t.Setenv("PAGEFETCH_OUTPUT_DIR", outDir)
	withSession(t, nil, errors.New("chrome not found"))

	_, err := execute(t, "k http://example.com/\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch browser")
	assert.DirExists(t, outDir)
}

func TestRootOutputDirFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	t.Setenv("PAGEFETCH_OUTPUT_DIR", blocker)

	launched := false
	orig := newSession
	newSession = func(context.Context, config.Config, *zap.Logger) (Session, error) {
		launched = true
		return &fakeSession{}, nil
	}
	t.Cleanup(func() { newSession = orig })

	_, err := execute(t, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init output dir")
	assert.False(t, launched)
}

func TestRootRejectsArguments(t *testing.T) {
	withSession(t, &fakeSession{}, nil)
	_, err := execute(t, "", "extra")
	require.Error(t, err)
}

func TestRootInvalidConfigIsFatal(t *testing.T) {
	t.Setenv("PAGEFETCH_OUTPUT_DIR", t.TempDir())
	t.Setenv("PAGEFETCH_FETCH_NAVIGATION_TIMEOUT", "0s")
	withSession(t, &fakeSession{}, nil)

	_, err := execute(t, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRootCancelAbortsLaunch(t *testing.T) {
	t.Setenv("PAGEFETCH_OUTPUT_DIR", filepath.Join(t.TempDir(), "data"))

	orig := newSession
	newSession = func(ctx context.Context, _ config.Config, _ *zap.Logger) (Session, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &fakeSession{}, nil
		}
	}
	t.Cleanup(func() { newSession = orig })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(""))
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	err := cmd.ExecuteContext(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "launch browser")
}

func TestRootOverlongLineDoesNotStopRun(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "data")
	t.Setenv("PAGEFETCH_OUTPUT_DIR", outDir)
	t.Setenv("PAGEFETCH_INPUT_MAX_LINE_BYTES", "64")

	withSession(t, &fakeSession{pages: map[string]string{"http://after/": "after text"}}, nil)

	stdin := "k http://" + strings.Repeat("x", 500) + "\nk http://after/\n"
	stderr, err := execute(t, stdin)
	require.NoError(t, err)

	assert.Empty(t, stderr)
	assert.Equal(t, "===== URL: http://after/ =====\nafter text\n\n", readFile(t, filepath.Join(outDir, "k.txt")))
}
