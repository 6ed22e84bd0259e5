// internal/browser/scripts.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// addScriptTagJS appends an inline script element. Inline scripts execute
// synchronously on insertion, so the source has run when evaluation returns.
const addScriptTagJS = `(() => {
	const el = document.createElement('script');
	el.type = 'text/javascript';
	el.textContent = %s;
	(document.head || document.documentElement).appendChild(el);
	return true;
})()`

// AddScriptTag appends a <script> element containing source to the document.
func (s *Session) AddScriptTag(ctx context.Context, source string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	quoted, err := json.Marshal(source)
	if err != nil {
		return fmt.Errorf("could not encode script source: %w", err)
	}

	var ok bool
	if err := s.runActions(ctx, chromedp.Evaluate(fmt.Sprintf(addScriptTagJS, quoted), &ok)); err != nil {
		return fmt.Errorf("could not add script tag: %w", err)
	}
	s.logger.Debug("Added script tag.", zap.Int("bytes", len(source)))
	return nil
}

// Evaluate runs script in the page, awaits a returned promise and decodes the
// result into res. res may be nil.
func (s *Session) Evaluate(ctx context.Context, script string, res any) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.evaluate(ctx, script, res)
}

// Count returns the number of elements matching selector.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.count(ctx, selector)
}

func (s *Session) evaluate(ctx context.Context, script string, res any) error {
	return s.runActions(ctx, chromedp.Evaluate(script, res, awaitPromise))
}

func (s *Session) count(ctx context.Context, selector string) (int, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return 0, fmt.Errorf("could not encode selector: %w", err)
	}

	var n int
	if err := s.evaluate(ctx, fmt.Sprintf("document.querySelectorAll(%s).length", quoted), &n); err != nil {
		return 0, fmt.Errorf("could not query selector '%s': %w", selector, err)
	}
	return n, nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}
