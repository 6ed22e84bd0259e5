package schemas

import (
	"context"
	"time"
)

// -- Browser Session Handle --

// Browser is a running browser process. It owns the pages it hands out and
// releases all of them, and the process, on Close.
type Browser interface {
	// Pages returns the open pages (tabs) of the browser. A freshly launched
	// browser always has exactly one.
	Pages(ctx context.Context) ([]Page, error)
	// Close terminates the browser process. Calling it more than once is safe.
	Close(ctx context.Context) error
}

// Page controls a single tab. Implementations must serialize calls; callers
// must not navigate one page from two goroutines.
type Page interface {
	ID() string // Returns the unique ID of the page.
	// Navigate loads url and waits for network quiescence.
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	// ClickAndWait clicks the element and waits for the resulting navigation
	// (full load or in-page route change) to go quiet.
	ClickAndWait(ctx context.Context, selector string) error
	// Type focuses the element and types text, pausing delay between keystrokes.
	Type(ctx context.Context, selector, text string, delay time.Duration) error
	WaitFor(ctx context.Context, d time.Duration) error            // Pauses for d, honoring ctx.
	AddScriptTag(ctx context.Context, source string) error         // Appends a <script> with source to the document.
	Evaluate(ctx context.Context, script string, res any) error    // Runs script (awaiting promises) and decodes the result.
	Count(ctx context.Context, selector string) (int, error)       // Number of elements matching selector.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error) // PNG of the viewport or the full page.
	// CaptureElement returns a PNG of the first element matching selector,
	// rendered at the given device scale factor.
	CaptureElement(ctx context.Context, selector string, scale float64) ([]byte, error)
	// OnError registers a handler for uncaught errors raised inside the page.
	OnError(handler func(*PageRuntimeError))
}

// -- Result Persistence --

// ResultStore persists the results of one extraction run.
type ResultStore interface {
	SaveResults(ctx context.Context, runID string, results []ExtractionResult) error
}
