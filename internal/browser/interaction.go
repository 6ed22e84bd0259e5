// internal/browser/interaction.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
)

// Navigate loads url and waits until the network has been quiet for the
// configured period. Both steps share the navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.logger.Debug("Navigating to URL", zap.String("url", url))

	timeout := s.cfg.Network.NavigationTimeout
	navCtx, navCancel := context.WithTimeout(ctx, timeout)
	defer navCancel()

	if err := s.runActions(navCtx, chromedp.Navigate(url)); err != nil {
		return s.navigationError(ctx, navCtx, timeout, "navigation to "+url, err)
	}
	if err := s.harvester.WaitNetworkIdle(navCtx, s.cfg.Network.QuietPeriod); err != nil {
		return s.navigationError(ctx, navCtx, timeout, "navigation to "+url, err)
	}
	return nil
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.click(ctx, selector)
}

// ClickAndWait clicks the element and waits for the resulting navigation,
// full page load or in-page route change, to go quiet.
func (s *Session) ClickAndWait(ctx context.Context, selector string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	timeout := s.cfg.Network.NavigationTimeout
	navCtx, navCancel := context.WithTimeout(ctx, timeout)
	defer navCancel()

	if err := s.click(navCtx, selector); err != nil {
		if errors.Is(err, schemas.ErrElementNotFound) {
			return err
		}
		return s.navigationError(ctx, navCtx, timeout, "click on "+selector, err)
	}
	if err := s.harvester.WaitNetworkIdle(navCtx, s.cfg.Network.QuietPeriod); err != nil {
		return s.navigationError(ctx, navCtx, timeout, "navigation after click on "+selector, err)
	}
	return nil
}

func (s *Session) click(ctx context.Context, selector string) error {
	s.logger.Debug("Attempting to click element", zap.String("selector", selector))

	if err := s.requireElement(ctx, selector); err != nil {
		return err
	}
	action := chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	}
	if err := s.runActions(ctx, action); err != nil {
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Type focuses the element and types text one key at a time, pausing delay
// between keystrokes.
func (s *Session) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.logger.Debug("Attempting to type into element", zap.String("selector", selector), zap.Int("text_length", len(text)))

	if err := s.requireElement(ctx, selector); err != nil {
		return err
	}

	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	typeKeys := chromedp.ActionFunc(func(ctx context.Context) error {
		for _, r := range text {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			if err := chromedp.KeyEvent(string(r)).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})

	if err := s.runActions(ctx, chromedp.Focus(selector, chromedp.ByQuery), typeKeys); err != nil {
		return fmt.Errorf("type action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// WaitFor pauses for d unless ctx ends first.
func (s *Session) WaitFor(ctx context.Context, d time.Duration) error {
	if s.closed() {
		return schemas.ErrSessionClosed
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return schemas.ErrSessionClosed
	}
}

// requireElement fails fast with ErrElementNotFound instead of letting
// chromedp wait forever for a selector that will never match.
func (s *Session) requireElement(ctx context.Context, selector string) error {
	n, err := s.count(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
	}
	return nil
}

func (s *Session) navigationError(ctx, navCtx context.Context, timeout time.Duration, what string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s canceled: %w", what, ctx.Err())
	}
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s did not settle within %s", schemas.ErrNavigationTimeout, what, timeout)
	}
	return fmt.Errorf("%s failed: %w", what, err)
}
