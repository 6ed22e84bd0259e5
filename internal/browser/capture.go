// internal/browser/capture.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Screenshot returns a PNG of the viewport, or of the whole scrollable page
// when fullPage is set.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var buf []byte
	var action chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// Quality 100 keeps the output lossless PNG.
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := s.runActions(ctx, action); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	s.logger.Debug("Captured screenshot.", zap.Bool("full_page", fullPage), zap.Int("bytes", len(buf)))
	return buf, nil
}

// CaptureElement returns a PNG of the first element matching selector,
// rendered at the given device scale factor.
func (s *Session) CaptureElement(ctx context.Context, selector string, scale float64) ([]byte, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.requireElement(ctx, selector); err != nil {
		return nil, err
	}
	if scale <= 0 {
		scale = 1
	}

	var buf []byte
	if err := s.runActions(ctx, chromedp.ScreenshotScale(selector, scale, &buf, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("element capture failed for selector '%s': %w", selector, err)
	}
	return buf, nil
}
