// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
	"github.com/xkilldash9x/dashcrawl/internal/config"
)

const (
	defaultLaunchTimeout = 60 * time.Second
	shutdownGracePeriod  = 15 * time.Second
)

// Browser owns a Chrome process and the single tab opened on it. It
// implements schemas.Browser.
type Browser struct {
	logger *zap.Logger
	cfg    *config.Config

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	session *Session

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

// Ensure Browser implements the interface.
var _ schemas.Browser = (*Browser)(nil)

// Launch starts Chrome, attaches to its first tab and initializes the
// session on it. ctx bounds the launch only; the process lives until Close.
func Launch(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Browser, error) {
	log := logger.Named("browser")

	// The process must outlive the launch context, so the allocator is rooted
	// in a fresh background context and torn down explicitly by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), ExecAllocatorOptions(cfg.Browser)...)

	sugar := log.Sugar()
	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(sugar.Infof),
		chromedp.WithErrorf(sugar.Errorf),
	}
	if cfg.Browser.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(sugar.Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	b := &Browser{
		logger:      log,
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}

	timeout := cfg.Browser.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	launchCtx, launchCancel := context.WithTimeout(ctx, timeout)
	defer launchCancel()

	log.Info("Launching browser.", zap.Bool("headless", cfg.Browser.Headless), zap.String("executable", cfg.Browser.ExecutablePath))

	// The first Run on a fresh context starts the process and opens the tab.
	// It cannot be bounded by a derived context without tying the tab to it.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx)
	}()

	select {
	case err := <-started:
		if err != nil {
			b.kill()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-launchCtx.Done():
		b.kill()
		<-started
		return nil, fmt.Errorf("timed out starting browser after %s: %w", timeout, launchCtx.Err())
	}

	b.session = NewSession(tabCtx, tabCancel, cfg, log)
	if err := b.session.Initialize(launchCtx); err != nil {
		b.session.Close()
		b.kill()
		return nil, err
	}

	log.Info("Browser launched.", zap.String("session_id", b.session.ID()))
	return b, nil
}

// Pages returns the browser's open pages. A launched browser has exactly one.
func (b *Browser) Pages(ctx context.Context) ([]schemas.Page, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, schemas.ErrSessionClosed
	}
	return []schemas.Page{b.session}, nil
}

// Close shuts the browser down. It first asks Chrome to exit, bounded by ctx
// and the configured close timeout, then kills the process regardless.
// Later calls return the result of the first.
func (b *Browser) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		b.logger.Debug("Closing browser.")
		if b.session != nil {
			b.session.detach()
		}

		grace := b.cfg.Browser.CloseTimeout
		if grace <= 0 {
			grace = shutdownGracePeriod
		}
		closeCtx, cancel := context.WithTimeout(ctx, grace)
		defer cancel()

		// chromedp.Cancel blocks until the browser exits.
		done := make(chan error, 1)
		go func() {
			done <- chromedp.Cancel(b.tabCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				b.closeErr = fmt.Errorf("graceful browser shutdown failed: %w", err)
			}
		case <-closeCtx.Done():
			b.logger.Warn("Graceful browser shutdown timed out. Killing the process.", zap.Duration("grace", grace))
		}

		b.kill()
		b.logger.Debug("Browser closed.")
	})
	return b.closeErr
}

// kill cancels the tab and allocator contexts. Canceling the allocator
// terminates the Chrome process and waits for it to exit.
func (b *Browser) kill() {
	b.tabCancel()
	b.allocCancel()
}
