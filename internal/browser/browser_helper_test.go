// internal/browser/browser_helper_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	goruntime "runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/dashcrawl/internal/config"
)

var (
	// globalProcessSemaphore limits the number of concurrent browser processes across tests.
	globalProcessSemaphore     *semaphore.Weighted
	globalProcessSemaphoreOnce sync.Once
)

const (
	maxTestConcurrency        = 2
	shutdownTimeout           = 15 * time.Second
	defaultBrowserTestTimeout = 120 * time.Second
	testCleanupGracePeriod    = time.Second
	semaphoreAcquireTimeout   = 30 * time.Second
)

// chromeCandidates are the binary names probed when no executable is configured.
var chromeCandidates = []string{
	"chromium-browser",
	"chromium",
	"google-chrome",
	"google-chrome-stable",
	"headless-shell",
}

func getGlobalProcessSemaphore() *semaphore.Weighted {
	globalProcessSemaphoreOnce.Do(func() {
		concurrency := int64(goruntime.GOMAXPROCS(0))
		if concurrency > maxTestConcurrency {
			concurrency = maxTestConcurrency
		}
		if concurrency < 1 {
			concurrency = 1
		}
		globalProcessSemaphore = semaphore.NewWeighted(concurrency)
	})
	return globalProcessSemaphore
}

// findChrome returns the first Chrome binary on PATH, or "".
func findChrome() string {
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// testFixture is a launched browser plus the context the test runs under.
type testFixture struct {
	Config  *config.Config
	Browser *Browser
	Page    *Session
	Logger  *zap.Logger
	RootCtx context.Context
}

type fixtureConfigurator func(*config.Config)

// createTestConfig returns defaults tuned for fast local pages.
func createTestConfig(t *testing.T, chrome string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Browser.ExecutablePath = chrome
	cfg.Browser.UserDataDir = t.TempDir()
	cfg.Browser.Viewport = config.ViewportConfig{Width: 1024, Height: 768}
	cfg.Network.NavigationTimeout = 20 * time.Second
	cfg.Network.QuietPeriod = 200 * time.Millisecond
	return cfg
}

// newTestFixture launches a real browser. It skips under -short or when no
// Chrome binary is installed.
func newTestFixture(t *testing.T, configurators ...fixtureConfigurator) *testFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	chrome := findChrome()
	if chrome == "" {
		t.Skip("no Chrome or Chromium binary found on PATH")
	}

	logger := zaptest.NewLogger(t).With(zap.String("test", t.Name()))

	deadline, ok := t.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultBrowserTestTimeout)
	}
	rootCtx, rootCancel := context.WithDeadline(context.Background(), deadline.Add(-testCleanupGracePeriod))
	t.Cleanup(rootCancel)

	cfg := createTestConfig(t, chrome)
	for _, configurator := range configurators {
		configurator(cfg)
	}

	processSemaphore := getGlobalProcessSemaphore()
	acquireCtx, acquireCancel := context.WithTimeout(rootCtx, semaphoreAcquireTimeout)
	err := processSemaphore.Acquire(acquireCtx, 1)
	acquireCancel()
	if err != nil {
		t.Fatalf("Failed to acquire browser semaphore: %v", err)
	}
	t.Cleanup(func() { processSemaphore.Release(1) })

	b, err := Launch(rootCtx, cfg, logger)
	require.NoError(t, err, "browser launch failed")
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := b.Close(shutdownCtx); err != nil {
			t.Logf("Warning: error during browser shutdown: %v", err)
		}
	})

	pages, err := b.Pages(rootCtx)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	return &testFixture{
		Config:  cfg,
		Browser: b,
		Page:    pages[0].(*Session),
		Logger:  logger,
		RootCtx: rootCtx,
	}
}

func createTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func createStaticTestServer(t *testing.T, htmlContent string) *httptest.Server {
	t.Helper()
	return createTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintln(w, htmlContent)
	}))
}
