// Package crawler drives an authenticated browser session through a list of
// dashboards and captures their charts and pivot tables.
package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
	"github.com/xkilldash9x/dashcrawl/internal/browser"
	"github.com/xkilldash9x/dashcrawl/internal/config"
)

// State is the lifecycle state of a Crawler.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateAuthenticated
	StateExtracting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateAuthenticated:
		return "authenticated"
	case StateExtracting:
		return "extracting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Launcher starts a browser.
type Launcher func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.Browser, error)

// LaunchChrome is the default Launcher.
func LaunchChrome(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.Browser, error) {
	return browser.Launch(ctx, cfg, logger)
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLauncher replaces the browser launcher.
func WithLauncher(l Launcher) Option {
	return func(c *Crawler) { c.launcher = l }
}

// WithObserver subscribes o before anything is emitted.
func WithObserver(o Observer) Option {
	return func(c *Crawler) { c.emitter.Subscribe(o) }
}

// DownloadOptions tune a DownloadDashboardComponents call.
type DownloadOptions struct {
	SkipGraphs bool
	SkipTables bool
	// Delay bounds the waits around each dashboard navigation.
	Delay       time.Duration
	LabelPolicy LabelPolicy
	// ContinueOnError records per-dashboard failures in the results instead
	// of aborting the batch.
	ContinueOnError bool
}

// DefaultDownloadOptions returns the options implied by cfg.
func DefaultDownloadOptions(cfg *config.Config) DownloadOptions {
	return DownloadOptions{
		SkipGraphs:  cfg.Extraction.SkipGraphs,
		SkipTables:  cfg.Extraction.SkipTables,
		Delay:       cfg.Extraction.Delay,
		LabelPolicy: LabelPolicy(cfg.Extraction.LabelPolicy),
	}
}

// Crawler owns one browser session from Startup to Shutdown or Panic. Its
// methods are serialized; dashboards are processed strictly one at a time.
type Crawler struct {
	cfg      *config.Config
	logger   *zap.Logger
	launcher Launcher
	emitter  *Emitter

	auth      *Authenticator
	locator   *Locator
	extractor *Extractor

	mu      sync.Mutex
	state   State
	browser schemas.Browser
	page    schemas.Page

	teardownOnce sync.Once
	teardownErr  error
}

// New creates a Crawler. Nothing is launched until Startup.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Crawler, error) {
	log := logger.Named("crawler")
	emitter := NewEmitter(log)
	markers := NewMarkerSource()

	in, err := newInjector(cfg, log)
	if err != nil {
		return nil, err
	}

	c := &Crawler{
		cfg:       cfg,
		logger:    log,
		launcher:  LaunchChrome,
		emitter:   emitter,
		auth:      NewAuthenticator(cfg, log, emitter),
		locator:   newLocator(cfg, log, emitter, markers, in),
		extractor: newExtractor(cfg, log, emitter, markers, in),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Subscribe adds a progress observer and returns a function removing it.
// Observers must not call back into the Crawler; see Observer.
func (c *Crawler) Subscribe(o Observer) (unsubscribe func()) {
	return c.emitter.Subscribe(o)
}

// State returns the current lifecycle state.
func (c *Crawler) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Crawler) requireState(want State) error {
	if c.state != want {
		return fmt.Errorf("%w: crawler is %s, want %s", schemas.ErrInvalidState, c.state, want)
	}
	return nil
}

// Startup launches the browser and takes its first page. Uncaught page
// errors are forwarded as error-tagged events and never end the session.
func (c *Crawler) Startup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState(StateUninitialized); err != nil {
		return err
	}

	c.emitter.Emit(schemas.PhaseStartup, "Spinning up headless Chrome to render the dashboard site.")
	b, err := c.launcher(ctx, c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	pages, err := b.Pages(ctx)
	if err == nil && len(pages) == 0 {
		err = fmt.Errorf("browser has no open page")
	}
	if err != nil {
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), c.cfg.Browser.CloseTimeout)
		defer cancel()
		if cerr := b.Close(closeCtx); cerr != nil {
			c.logger.Warn("Failed to close browser after startup failure.", zap.Error(cerr))
		}
		return fmt.Errorf("failed to acquire page: %w", err)
	}

	c.browser = b
	c.page = pages[0]
	c.page.OnError(func(e *schemas.PageRuntimeError) {
		c.emitter.EmitError(schemas.PhasePage, "An error occurred in page: %s", e.Message)
	})
	c.state = StateReady
	c.logger.Info("Browser session ready.", zap.String("page_id", c.page.ID()))
	return nil
}

// Login authenticates against the configured target URL. On failure the
// session stays Ready and Login may be retried.
func (c *Crawler) Login(ctx context.Context, username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState(StateReady); err != nil {
		return err
	}

	creds := Credentials{Username: username, Password: password}
	if err := c.auth.Login(ctx, c.page, c.cfg.Target.URL, creds); err != nil {
		return err
	}
	c.state = StateAuthenticated
	return nil
}

// DownloadDashboardComponents extracts each referenced dashboard in order and
// returns one result per reference. Without ContinueOnError the first failure
// ends the batch; the results gathered so far are returned with the error.
func (c *Crawler) DownloadDashboardComponents(ctx context.Context, refs []Reference, opts DownloadOptions) ([]schemas.ExtractionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState(StateAuthenticated); err != nil {
		return nil, err
	}

	c.state = StateExtracting
	defer func() { c.state = StateAuthenticated }()

	if opts.Delay <= 0 {
		opts.Delay = c.cfg.Extraction.Delay
	}
	if opts.LabelPolicy == "" {
		opts.LabelPolicy = LabelPolicy(c.cfg.Extraction.LabelPolicy)
	}

	results := make([]schemas.ExtractionResult, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := c.processDashboard(ctx, ref, opts)
		if err != nil {
			if !opts.ContinueOnError {
				return results, fmt.Errorf("dashboard %s: %w", ref, err)
			}
			c.logger.Warn("Dashboard extraction failed; continuing.", zap.Stringer("dashboard", ref), zap.Error(err))
			result.Err = err
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results, nil
}

func (c *Crawler) processDashboard(ctx context.Context, ref Reference, opts DownloadOptions) (schemas.ExtractionResult, error) {
	result := schemas.ExtractionResult{Reference: ref.String(), Title: ref.Title()}

	if err := c.locator.Open(ctx, c.page, ref, opts.Delay); err != nil {
		return result, err
	}

	if !opts.SkipGraphs {
		graphics, err := c.extractor.Graphics(ctx, c.page)
		if err != nil {
			return result, err
		}
		result.Graphics = graphics
	}

	if !opts.SkipTables {
		tables, err := c.extractor.Tables(ctx, c.page, opts.LabelPolicy)
		if err != nil {
			return result, err
		}
		result.Tables = tables
	}

	result.CompletedAt = time.Now()
	return result, nil
}

// Shutdown closes the browser after a successful batch.
func (c *Crawler) Shutdown(ctx context.Context) error {
	return c.teardown(ctx, false)
}

// Panic closes the browser after an unrecoverable error. Like Shutdown it
// always terminates the browser process.
func (c *Crawler) Panic(ctx context.Context) error {
	return c.teardown(ctx, true)
}

// teardown runs at most once. Later calls, of either kind, return nil.
func (c *Crawler) teardown(ctx context.Context, errored bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUninitialized {
		return nil
	}

	c.teardownOnce.Do(func() {
		emit := c.emitter.Emit
		if errored {
			emit = c.emitter.EmitError
			emit(schemas.PhaseShutdown, "An error occurred. Closing the browser.")
		} else {
			emit(schemas.PhaseShutdown, "All dashboards downloaded. Closing the browser.")
		}

		// The caller's context may already be canceled; closing must still happen.
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), c.cfg.Browser.CloseTimeout)
		defer cancel()

		if err := c.browser.Close(closeCtx); err != nil {
			c.teardownErr = fmt.Errorf("browser shutdown: %w", err)
			c.logger.Warn("Browser did not shut down cleanly.", zap.Error(err))
		}
		c.state = StateClosed
		c.page = nil

		emit(schemas.PhaseShutdown, "Browser shutdown successfully.")
		c.emitter.Clear()
	})
	return c.teardownErr
}
