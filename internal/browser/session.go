// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
	"github.com/xkilldash9x/dashcrawl/internal/config"
)

// Session is one browser tab and implements schemas.Page.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	harvester *Harvester

	// opMu serializes page primitives; a tab cannot navigate and evaluate at once.
	opMu sync.Mutex

	mu       sync.Mutex
	isClosed bool
}

// Ensure Session implements the interface.
var _ schemas.Page = (*Session)(nil)

// NewSession wraps an attached tab context. Call Initialize before use.
func NewSession(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *zap.Logger) *Session {
	sessionID := uuid.New().String()
	sessionLogger := logger.Named("session").With(zap.String("session_id", sessionID))

	return &Session{
		id:        sessionID,
		ctx:       ctx,
		cancel:    cancel,
		logger:    sessionLogger,
		cfg:       cfg,
		harvester: NewHarvester(ctx, sessionLogger),
	}
}

// Initialize starts event collection and applies the page emulation settings.
func (s *Session) Initialize(ctx context.Context) error {
	s.harvester.Start(s.ctx)

	tasks := chromedp.Tasks{
		network.Enable(),
		// Dashboards render a print layout otherwise.
		emulation.SetEmulatedMedia().WithMedia("screen"),
		// Injected helpers must run even on pages with a restrictive CSP.
		page.SetBypassCSP(true),
	}
	if vp := s.cfg.Browser.Viewport; vp.Width > 0 && vp.Height > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)))
	}

	if err := s.runActions(ctx, tasks); err != nil {
		return fmt.Errorf("failed to run session initialization tasks: %w", err)
	}
	return nil
}

func (s *Session) ID() string {
	return s.id
}

// OnError forwards uncaught page exceptions to handler.
func (s *Session) OnError(handler func(*schemas.PageRuntimeError)) {
	s.harvester.OnError(handler)
}

// Close detaches the session and cancels the tab context.
func (s *Session) Close() {
	if s.detach() && s.cancel != nil {
		s.cancel()
	}
}

// detach marks the session closed and stops event collection without
// touching the tab, leaving the browser free to close it gracefully.
// It reports whether this call did the detaching.
func (s *Session) detach() bool {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return false
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	s.harvester.Stop()
	return true
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// runActions executes chromedp actions bounded by both the session lifetime
// and ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed() {
		return schemas.ErrSessionClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if s.ctx.Err() != nil {
			return fmt.Errorf("%w: %v", schemas.ErrSessionClosed, err)
		}
		if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return err
	}
	return nil
}
