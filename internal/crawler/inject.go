package crawler

import (
	"context"
	"fmt"
	"os"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
	"github.com/xkilldash9x/dashcrawl/internal/browser/shim"
	"github.com/xkilldash9x/dashcrawl/internal/config"
)

const helpersReadyJS = `typeof window.__dashcrawl === 'object' && window.__dashcrawl !== null && window.__dashcrawl.version === 1`

// Globals installed by the optional third-party helper libraries.
const (
	svgHelperGlobal  = "svgAsDataUri"
	rasterizerGlobal = "html2canvas"
)

// injector puts the page-side helpers into the current document. Scripts are
// only added when missing, since a full navigation discards them.
type injector struct {
	script string
	logger *zap.Logger

	mu    sync.Mutex
	files map[string]string
}

func newInjector(cfg *config.Config, logger *zap.Logger) (*injector, error) {
	script, err := shim.Build(shim.Config{
		MarkerAttribute: MarkerAttribute,
		ControlBar:      cfg.Selectors.ControlBar,
		ChartRoot:       cfg.Selectors.ChartRoot,
		Table:           cfg.Selectors.Table,
		TableLabel:      cfg.Selectors.TableLabel,
		TableLabelDepth: cfg.Selectors.TableLabelDepth,
		Scale:           cfg.Extraction.Scale,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build page helpers: %w", err)
	}
	return &injector{
		script: script,
		logger: logger.Named("injector"),
		files:  make(map[string]string),
	}, nil
}

// ensureHelpers installs the embedded helpers unless already present.
func (in *injector) ensureHelpers(ctx context.Context, page schemas.Page) error {
	var ready bool
	if err := page.Evaluate(ctx, helpersReadyJS, &ready); err != nil {
		return fmt.Errorf("could not check page helpers: %w", err)
	}
	if ready {
		return nil
	}
	if err := page.AddScriptTag(ctx, in.script); err != nil {
		return fmt.Errorf("could not inject page helpers: %w", err)
	}
	in.logger.Debug("Injected page helpers.")
	return nil
}

// ensureLibrary injects the script at path unless global already exists in
// the page. An empty path means the library is not configured.
func (in *injector) ensureLibrary(ctx context.Context, page schemas.Page, path, global string) error {
	if path == "" {
		return nil
	}

	present, err := in.hasGlobal(ctx, page, global)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	source, err := in.readFile(path)
	if err != nil {
		return err
	}
	if err := page.AddScriptTag(ctx, source); err != nil {
		return fmt.Errorf("could not inject %s: %w", global, err)
	}
	in.logger.Debug("Injected helper library.", zap.String("global", global), zap.String("path", path))
	return nil
}

func (in *injector) hasGlobal(ctx context.Context, page schemas.Page, global string) (bool, error) {
	quoted, err := json.Marshal(global)
	if err != nil {
		return false, err
	}
	var present bool
	if err := page.Evaluate(ctx, fmt.Sprintf("typeof window[%s] === 'function'", quoted), &present); err != nil {
		return false, fmt.Errorf("could not check for %s: %w", global, err)
	}
	return present, nil
}

func (in *injector) readFile(path string) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if source, ok := in.files[path]; ok {
		return source, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("could not read helper script: %w", err)
	}
	in.files[path] = string(b)
	return in.files[path], nil
}

// call evaluates a helper function with JSON encoded arguments.
func call(ctx context.Context, page schemas.Page, res any, fn string, args ...interface{}) error {
	expr, err := shim.Call(fn, args...)
	if err != nil {
		return err
	}
	return page.Evaluate(ctx, expr, res)
}
