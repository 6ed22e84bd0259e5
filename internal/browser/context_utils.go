// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context derived from ctx1 that is also canceled
// when ctx2 is. Values come from ctx1 only, which is what chromedp needs:
// ctx1 carries the tab connection, ctx2 carries the caller's deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

// valueOnlyContext keeps the values of its parent but drops its deadline and
// cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }

func (valueOnlyContext) Done() <-chan struct{} { return nil }

func (valueOnlyContext) Err() error { return nil }

// Detach returns a context that inherits values from ctx but is not canceled
// when ctx is. Teardown uses it so cleanup still runs after the caller gave up.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
