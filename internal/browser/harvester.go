// internal/browser/harvester.go
package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
)

const networkIdleCheckFrequency = 100 * time.Millisecond

// Harvester listens to the tab's DevTools events. It tracks in-flight
// requests for quiescence detection and forwards uncaught page exceptions.
type Harvester struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu       sync.RWMutex
	inflight map[network.RequestID]struct{}
	handlers []func(*schemas.PageRuntimeError)
}

// NewHarvester creates a harvester bound to the lifetime of ctx.
func NewHarvester(ctx context.Context, logger *zap.Logger) *Harvester {
	hCtx, hCancel := context.WithCancel(ctx)
	return &Harvester{
		ctx:      hCtx,
		cancel:   hCancel,
		logger:   logger.Named("harvester"),
		inflight: make(map[network.RequestID]struct{}),
	}
}

// Start registers the event listener on the tab context.
func (h *Harvester) Start(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		select {
		case <-h.ctx.Done():
			return
		default:
		}

		switch ev := ev.(type) {
		case *network.EventRequestWillBeSent:
			h.handleRequestWillBeSent(ev)
		case *network.EventLoadingFinished:
			h.handleLoadingFinished(ev)
		case *network.EventLoadingFailed:
			h.handleLoadingFailed(ev)
		case *runtime.EventExceptionThrown:
			h.handleExceptionThrown(ev)
		}
	})
}

// Stop detaches the harvester. Pending WaitNetworkIdle calls return.
func (h *Harvester) Stop() {
	h.cancel()
}

// OnError adds a handler for uncaught page exceptions. Handlers run on the
// event loop and must not call back into the page.
func (h *Harvester) OnError(handler func(*schemas.PageRuntimeError)) {
	if handler == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, handler)
}

// InFlight returns the number of requests that have started but not finished.
func (h *Harvester) InFlight() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.inflight)
}

// WaitNetworkIdle blocks until no request has been in flight for quietPeriod.
func (h *Harvester) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	h.logger.Debug("Waiting for network to become idle.", zap.Duration("quiet_period", quietPeriod))

	timer := time.NewTimer(quietPeriod)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	isIdle := false
	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	// Evaluate once immediately so an already quiet page does not pay for a tick.
	check := func() {
		if h.InFlight() > 0 {
			if isIdle {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				isIdle = false
			}
			return
		}
		if !isIdle {
			timer.Reset(quietPeriod)
			isIdle = true
		}
	}
	check()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.ctx.Done():
			return schemas.ErrSessionClosed
		case <-ticker.C:
			check()
		case <-timer.C:
			h.logger.Debug("Network is idle.")
			return nil
		}
	}
}

// -- Event Handlers --

func (h *Harvester) handleRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request != nil && strings.HasPrefix(ev.Request.URL, "data:") {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	// Redirects reuse the request ID, so this stays a set rather than a counter.
	h.inflight[ev.RequestID] = struct{}{}
}

func (h *Harvester) handleLoadingFinished(ev *network.EventLoadingFinished) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, ev.RequestID)
}

func (h *Harvester) handleLoadingFailed(ev *network.EventLoadingFailed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, ev.RequestID)
	if !ev.Canceled {
		h.logger.Debug("Request failed.", zap.String("request_id", string(ev.RequestID)), zap.String("error", ev.ErrorText))
	}
}

func (h *Harvester) handleExceptionThrown(ev *runtime.EventExceptionThrown) {
	details := ev.ExceptionDetails
	if details == nil {
		return
	}

	// The description usually carries the message and the stack.
	text := details.Text
	if details.Exception != nil && details.Exception.Description != "" {
		text = details.Exception.Description
	}

	pageErr := &schemas.PageRuntimeError{
		Message: text,
		URL:     details.URL,
		Line:    details.LineNumber,
		Column:  details.ColumnNumber,
	}
	if ev.Timestamp != nil {
		pageErr.Timestamp = ev.Timestamp.Time()
	} else {
		pageErr.Timestamp = time.Now()
	}

	h.mu.RLock()
	handlers := make([]func(*schemas.PageRuntimeError), len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.RUnlock()

	h.logger.Debug("Uncaught exception in page.", zap.Error(pageErr))
	for _, handler := range handlers {
		handler(pageErr)
	}
}
