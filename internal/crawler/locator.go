package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
	"github.com/xkilldash9x/dashcrawl/internal/config"
)

// Target is a located dashboard: a selector that matches exactly the element
// to click.
type Target struct {
	Reference Reference
	Selector  string
}

// Locator resolves dashboard references to clickable elements.
type Locator struct {
	cfg      *config.Config
	logger   *zap.Logger
	emitter  *Emitter
	markers  *MarkerSource
	injector *injector
}

func newLocator(cfg *config.Config, logger *zap.Logger, emitter *Emitter, markers *MarkerSource, in *injector) *Locator {
	return &Locator{
		cfg:      cfg,
		logger:   logger.Named("locator"),
		emitter:  emitter,
		markers:  markers,
		injector: in,
	}
}

// Locate finds the element for ref, waiting up to wait for it to appear.
func (l *Locator) Locate(ctx context.Context, page schemas.Page, ref Reference, wait time.Duration) (Target, error) {
	if err := ref.Validate(); err != nil {
		return Target{}, err
	}
	switch ref.Kind {
	case ByID:
		return l.locateByID(ctx, page, ref, wait)
	case ByName:
		return l.locateByName(ctx, page, ref, wait)
	}
	return Target{}, fmt.Errorf("unknown reference kind %d", int(ref.Kind))
}

// Open locates ref, clicks it, waits for the resulting route change to go
// quiet and then for the dashboard content to render.
func (l *Locator) Open(ctx context.Context, page schemas.Page, ref Reference, wait time.Duration) error {
	l.emitter.Emit(schemas.PhaseLocate, "Navigating to find dashboard w/ %s %s.", ref.Kind, ref.Value)

	target, err := l.Locate(ctx, page, ref, wait)
	if err != nil {
		return err
	}
	if err := page.ClickAndWait(ctx, target.Selector); err != nil {
		return fmt.Errorf("failed to open dashboard %s: %w", ref, err)
	}
	l.emitter.Emit(schemas.PhaseLocate, "Clicked on dashboard link %s.", ref)

	return l.awaitRender(ctx, page, wait)
}

func (l *Locator) locateByID(ctx context.Context, page schemas.Page, ref Reference, wait time.Duration) (Target, error) {
	selector := "a[href=" + cssString("#/"+ref.Value) + "]"

	found, err := pollUntil(ctx, page, l.cfg.Extraction.PollInterval, wait, func(ctx context.Context) (bool, error) {
		n, err := page.Count(ctx, selector)
		return n > 0, err
	})
	if err != nil {
		return Target{}, fmt.Errorf("failed to look for dashboard link %s: %w", ref, err)
	}
	if !found {
		return Target{}, fmt.Errorf("%w: no link to dashboard %s within %s", schemas.ErrElementNotFound, ref, wait)
	}
	return Target{Reference: ref, Selector: selector}, nil
}

// locateByName scans the control bar for an element whose text equals the
// display name and tags it with a fresh marker. The whole lookup, including
// waiting for the control bar, is bounded by wait.
func (l *Locator) locateByName(ctx context.Context, page schemas.Page, ref Reference, wait time.Duration) (Target, error) {
	start := time.Now()
	interval := l.cfg.Extraction.PollInterval

	barFound, err := pollUntil(ctx, page, interval, wait, func(ctx context.Context) (bool, error) {
		n, err := page.Count(ctx, l.cfg.Selectors.ControlBar)
		return n > 0, err
	})
	if err != nil {
		return Target{}, fmt.Errorf("failed to wait for the control bar: %w", err)
	}
	if !barFound {
		l.logger.Warn("Control bar did not appear; scanning the whole document.", zap.String("selector", l.cfg.Selectors.ControlBar))
	}

	if err := l.injector.ensureHelpers(ctx, page); err != nil {
		return Target{}, err
	}

	marker := l.markers.Next()
	remaining := max(wait-time.Since(start), 0)
	found, err := pollUntil(ctx, page, interval, remaining, func(ctx context.Context) (bool, error) {
		var ok bool
		err := call(ctx, page, &ok, "findText", ref.Value, marker, !barFound)
		return ok, err
	})
	if err != nil {
		return Target{}, fmt.Errorf("failed to scan for dashboard %q: %w", ref.Value, err)
	}
	if !found {
		return Target{}, fmt.Errorf("%w: no dashboard named %q within %s", schemas.ErrElementNotFound, ref.Value, wait)
	}

	l.logger.Debug("Tagged dashboard link.", zap.String("name", ref.Value), zap.String("marker", marker))
	return Target{Reference: ref, Selector: markerSelector(marker)}, nil
}

// awaitRender waits for charts or tables to appear and stop multiplying.
func (l *Locator) awaitRender(ctx context.Context, page schemas.Page, wait time.Duration) error {
	selector := l.cfg.Selectors.ChartRoot + ", " + l.cfg.Selectors.Table
	n, stable, err := waitForStableCount(ctx, page, selector, l.cfg.Extraction.PollInterval, wait)
	if err != nil {
		return fmt.Errorf("failed waiting for dashboard content: %w", err)
	}
	l.logger.Debug("Dashboard content settled.", zap.Int("elements", n), zap.Bool("stable", stable))
	return nil
}
