package crawler

import (
	"context"
	"time"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
)

// pollUntil evaluates cond immediately and then every interval until it
// holds or bound elapses. It reports whether cond held. The pauses go
// through the page so they honor its lifetime.
func pollUntil(ctx context.Context, page schemas.Page, interval, bound time.Duration, cond func(context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(bound)
	for {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := page.WaitFor(ctx, min(interval, remaining)); err != nil {
			return false, err
		}
	}
}

// waitForStableCount polls the number of elements matching selector until it
// is non-zero and unchanged between two consecutive polls. When nothing ever
// shows up this degrades to sleeping for bound.
func waitForStableCount(ctx context.Context, page schemas.Page, selector string, interval, bound time.Duration) (int, bool, error) {
	last := -1
	stable, err := pollUntil(ctx, page, interval, bound, func(ctx context.Context) (bool, error) {
		n, err := page.Count(ctx, selector)
		if err != nil {
			return false, err
		}
		settled := n > 0 && n == last
		last = n
		return settled, nil
	})
	if last < 0 {
		last = 0
	}
	return last, stable, err
}
