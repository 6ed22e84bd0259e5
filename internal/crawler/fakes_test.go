package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
	"github.com/xkilldash9x/dashcrawl/internal/browser/shim"
	"github.com/xkilldash9x/dashcrawl/internal/config"
)

const testURL = "http://dhis.test/"

// fakeDashboard is what the fake page shows after a dashboard link is clicked.
type fakeDashboard struct {
	graphics      []string
	graphicErrors []string
	tables        []fakeTable
}

type fakeTable struct {
	label string
	err   string
}

// fakePage simulates the dashboard application closely enough for the
// crawler's scripted calls: a login form, dashboard links addressed by id,
// a control bar with display names and dashboards full of charts and tables.
type fakePage struct {
	t *testing.T

	mu           sync.Mutex
	cfg          *config.Config
	dashboards   map[string]*fakeDashboard
	names        map[string]string
	rejectLogin  bool
	rasterizer   bool
	bottomAfter  int
	navigateErr  error
	clickErr     map[string]error
	screenshotOK bool
	noControlBar bool

	loginShown bool
	loggedIn   bool
	helpers    bool
	globals    map[string]bool
	current    *fakeDashboard
	tagged     map[string]string
	typed      map[string]string
	navigated  []string
	clicked    []string
	scripts    int
	scrolls    int

	// wholeDocScans counts findText calls allowed outside the control bar.
	wholeDocScans int
	captures   []string
	handlers   []func(*schemas.PageRuntimeError)
}

func newFakePage(t *testing.T, cfg *config.Config) *fakePage {
	return &fakePage{
		t:            t,
		cfg:          cfg,
		dashboards:   make(map[string]*fakeDashboard),
		names:        make(map[string]string),
		bottomAfter:  3,
		clickErr:     make(map[string]error),
		screenshotOK: true,
		globals:      make(map[string]bool),
		tagged:       make(map[string]string),
		typed:        make(map[string]string),
	}
}

// addDashboard registers a dashboard reachable by id and, optionally, name.
func (p *fakePage) addDashboard(id, name string, d *fakeDashboard) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dashboards[id] = d
	if name != "" {
		p.names[name] = id
	}
}

func (p *fakePage) raise(msg string) {
	p.mu.Lock()
	handlers := append([]func(*schemas.PageRuntimeError){}, p.handlers...)
	p.mu.Unlock()
	for _, h := range handlers {
		h(&schemas.PageRuntimeError{Message: msg, Timestamp: time.Now()})
	}
}

func (p *fakePage) ID() string { return "fake-page" }

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navigateErr != nil {
		return p.navigateErr
	}
	p.navigated = append(p.navigated, url)
	p.loginShown = !p.loggedIn
	p.helpers = false
	p.current = nil
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	return p.ClickAndWait(ctx, selector)
}

func (p *fakePage) ClickAndWait(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicked = append(p.clicked, selector)
	if err := p.clickErr[selector]; err != nil {
		return err
	}

	if selector == p.cfg.Selectors.Submit && p.loginShown {
		if !p.rejectLogin {
			p.loggedIn = true
			p.loginShown = false
		}
		return nil
	}
	if id, ok := p.linkID(selector); ok && p.loggedIn {
		p.current = p.dashboards[id]
		return nil
	}
	if marker, ok := p.markerValue(selector); ok {
		if id, ok := p.tagged[marker]; ok {
			p.current = p.dashboards[id]
			return nil
		}
	}
	return fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
}

func (p *fakePage) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed[selector] += text
	return nil
}

func (p *fakePage) WaitFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *fakePage) AddScriptTag(ctx context.Context, source string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts++
	if strings.Contains(source, shim.Namespace+" = {") {
		p.helpers = true
		return nil
	}
	for _, global := range []string{svgHelperGlobal, rasterizerGlobal} {
		if strings.Contains(source, global) {
			p.globals[global] = true
		}
	}
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string, res any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case script == helpersReadyJS:
		return assign(res, p.helpers)
	case strings.HasPrefix(script, "typeof window["):
		for global, ok := range p.globals {
			if strings.Contains(script, `"`+global+`"`) {
				return assign(res, ok)
			}
		}
		return assign(res, false)
	case strings.HasPrefix(script, shim.Namespace+"."):
		if !p.helpers {
			return fmt.Errorf("TypeError: %s is undefined", shim.Namespace)
		}
		return p.helperCall(script, res)
	}
	return fmt.Errorf("unexpected script: %s", script)
}

func (p *fakePage) helperCall(script string, res any) error {
	rest := strings.TrimPrefix(script, shim.Namespace+".")
	open := strings.IndexByte(rest, '(')
	require.Positive(p.t, open, "malformed helper call %s", script)
	fn := rest[:open]

	var args []json.RawMessage
	require.NoError(p.t, json.Unmarshal([]byte("["+rest[open+1:len(rest)-1]+"]"), &args))
	str := func(i int) string {
		var s string
		require.NoError(p.t, json.Unmarshal(args[i], &s))
		return s
	}

	switch fn {
	case "findText":
		var wholeDocument bool
		require.NoError(p.t, json.Unmarshal(args[2], &wholeDocument))
		if wholeDocument {
			p.wholeDocScans++
		} else if p.noControlBar {
			return assign(res, false)
		}
		id, ok := p.names[str(0)]
		if !ok || !p.loggedIn {
			return assign(res, false)
		}
		p.tagged[str(1)] = id
		return assign(res, true)
	case "graphics":
		d := p.dashboard()
		return assign(res, graphicsResult{URIs: d.graphics, Errors: d.graphicErrors})
	case "markTables":
		prefix := str(0)
		out := make([]markedTable, len(p.dashboard().tables))
		for i, tbl := range p.dashboard().tables {
			out[i] = markedTable{Marker: fmt.Sprintf("%s-%d", prefix, i), Label: tbl.label, Error: tbl.err}
		}
		return assign(res, out)
	case "hasRasterizer":
		return assign(res, p.rasterizer || p.globals[rasterizerGlobal])
	case "rasterize":
		return assign(res, schemas.EncodeDataURI("image/png", []byte("canvas:"+str(0))))
	case "scrollStep":
		p.scrolls++
		return assign(res, p.scrolls%p.bottomAfter == 0)
	}
	return fmt.Errorf("unknown helper %s", fn)
}

func (p *fakePage) dashboard() *fakeDashboard {
	if p.current == nil {
		return &fakeDashboard{}
	}
	return p.current
}

func (p *fakePage) Count(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sel := p.cfg.Selectors
	d := p.dashboard()
	switch selector {
	case sel.Username, sel.Password, sel.Submit:
		if p.loginShown {
			return 1, nil
		}
		return 0, nil
	case sel.ControlBar:
		if p.loggedIn && !p.noControlBar {
			return 1, nil
		}
		return 0, nil
	case sel.ChartRoot + ", " + sel.Table:
		return len(d.graphics) + len(d.tables), nil
	case sel.Table:
		return len(d.tables), nil
	}
	if id, ok := p.linkID(selector); ok {
		if _, exists := p.dashboards[id]; exists && p.loggedIn {
			return 1, nil
		}
	}
	return 0, nil
}

func (p *fakePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if !p.screenshotOK {
		return nil, fmt.Errorf("capture failed")
	}
	return []byte("\x89PNG full page"), nil
}

func (p *fakePage) CaptureElement(ctx context.Context, selector string, scale float64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures = append(p.captures, selector)
	return []byte(fmt.Sprintf("element:%s@%g", selector, scale)), nil
}

func (p *fakePage) OnError(handler func(*schemas.PageRuntimeError)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

func (p *fakePage) linkID(selector string) (string, bool) {
	id, ok := strings.CutPrefix(selector, `a[href="#/`)
	if !ok {
		return "", false
	}
	return strings.CutSuffix(id, `"]`)
}

func (p *fakePage) markerValue(selector string) (string, bool) {
	v, ok := strings.CutPrefix(selector, "["+MarkerAttribute+`="`)
	if !ok {
		return "", false
	}
	return strings.CutSuffix(v, `"]`)
}

func assign(res any, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, res)
}

// fakeBrowser hands out one page and records how it was closed.
type fakeBrowser struct {
	page *fakePage

	mu          sync.Mutex
	closeCalls  int
	closeCtxErr error
	hadDeadline bool
}

func (b *fakeBrowser) Pages(ctx context.Context) ([]schemas.Page, error) {
	return []schemas.Page{b.page}, nil
}

func (b *fakeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCalls++
	b.closeCtxErr = ctx.Err()
	_, b.hadDeadline = ctx.Deadline()
	return nil
}

func (b *fakeBrowser) closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCalls
}

// newTestConfig shrinks every wait so the suite runs in milliseconds.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Target.URL = testURL
	cfg.Browser.CloseTimeout = time.Second
	cfg.Extraction.Delay = 150 * time.Millisecond
	cfg.Extraction.SettleDelay = 50 * time.Millisecond
	cfg.Extraction.PollInterval = 5 * time.Millisecond
	cfg.Extraction.TypingDelay = 0
	cfg.Extraction.ScrollInterval = 0
	cfg.Extraction.ScrollMaxSteps = 20
	cfg.Extraction.ScreenshotDir = t.TempDir()
	return cfg
}

// sampleDashboard has two charts and one labelled table.
func sampleDashboard() *fakeDashboard {
	return &fakeDashboard{
		graphics: []string{
			schemas.EncodeDataURI("image/svg+xml", []byte("<svg id=a/>")),
			schemas.EncodeDataURI("image/svg+xml", []byte("<svg id=b/>")),
		},
		tables: []fakeTable{{label: "ANC coverage"}},
	}
}

type harness struct {
	cfg     *config.Config
	page    *fakePage
	browser *fakeBrowser
	crawler *Crawler
	events  *recorder
}

// recorder is an Observer that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []schemas.Event
}

func (r *recorder) OnEvent(e schemas.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Message
	}
	return out
}

func (r *recorder) all() []schemas.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schemas.Event(nil), r.events...)
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := newTestConfig(t)
	for _, m := range mutate {
		m(cfg)
	}
	page := newFakePage(t, cfg)
	b := &fakeBrowser{page: page}
	rec := &recorder{}

	launcher := func(ctx context.Context, _ *config.Config, _ *zap.Logger) (schemas.Browser, error) {
		return b, nil
	}
	c, err := New(cfg, zaptest.NewLogger(t), WithLauncher(launcher), WithObserver(rec))
	require.NoError(t, err)
	return &harness{cfg: cfg, page: page, browser: b, crawler: c, events: rec}
}

// loggedIn starts the crawler and logs in.
func (h *harness) loggedIn(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.crawler.Startup(ctx))
	require.NoError(t, h.crawler.Login(ctx, "admin", "district"))
}
