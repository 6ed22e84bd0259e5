package crawler

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
	"github.com/xkilldash9x/dashcrawl/internal/config"
)

// LabelPolicy decides what a failed table caption lookup does to the batch.
type LabelPolicy string

const (
	// LabelAllOrNothing fails the whole Tables call on the first bad caption.
	LabelAllOrNothing LabelPolicy = config.LabelPolicyAllOrNothing
	// LabelPartial keeps the table with an empty label and records the error.
	LabelPartial LabelPolicy = config.LabelPolicyPartial
)

// Extractor converts the charts and pivot tables of the open dashboard into
// image artifacts.
type Extractor struct {
	cfg      *config.Config
	logger   *zap.Logger
	emitter  *Emitter
	markers  *MarkerSource
	injector *injector
}

func newExtractor(cfg *config.Config, logger *zap.Logger, emitter *Emitter, markers *MarkerSource, in *injector) *Extractor {
	return &Extractor{
		cfg:      cfg,
		logger:   logger.Named("extractor"),
		emitter:  emitter,
		markers:  markers,
		injector: in,
	}
}

type graphicsResult struct {
	URIs   []string `json:"uris"`
	Errors []string `json:"errors"`
}

// Graphics serializes every chart on the page in DOM order. A single failed
// conversion fails the call, since a partial set cannot be told apart from a
// partially rendered dashboard.
func (x *Extractor) Graphics(ctx context.Context, page schemas.Page) ([]schemas.GraphicArtifact, error) {
	x.emitter.Emit(schemas.PhaseGraphics, "Fetching SVG graphs from the dashboard.")

	if err := x.injector.ensureHelpers(ctx, page); err != nil {
		return nil, err
	}
	if err := x.injector.ensureLibrary(ctx, page, x.cfg.Extraction.SVGHelperPath, svgHelperGlobal); err != nil {
		return nil, err
	}

	var res graphicsResult
	if err := call(ctx, page, &res, "graphics"); err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrGraphicConversion, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", schemas.ErrGraphicConversion, strings.Join(res.Errors, "; "))
	}

	graphics := make([]schemas.GraphicArtifact, len(res.URIs))
	for i, uri := range res.URIs {
		graphics[i] = schemas.GraphicArtifact{URI: uri}
	}

	x.emitter.Emit(schemas.PhaseGraphics, "Pulled %d graphs from the dashboard.", len(graphics))
	return graphics, nil
}

type markedTable struct {
	Marker string `json:"marker"`
	Label  string `json:"label"`
	Error  string `json:"error"`
}

// Tables rasterizes every pivot table on the page together with its caption.
func (x *Extractor) Tables(ctx context.Context, page schemas.Page, policy LabelPolicy) ([]schemas.TableArtifact, error) {
	x.emitter.Emit(schemas.PhaseTables, "Fetching pivot tables from the dashboard.")
	ext := x.cfg.Extraction

	if err := x.injector.ensureHelpers(ctx, page); err != nil {
		return nil, err
	}
	if err := x.injector.ensureLibrary(ctx, page, ext.RasterizerPath, rasterizerGlobal); err != nil {
		return nil, err
	}

	// Some layouts only render widgets once they have been scrolled into view.
	if err := x.scrollToBottom(ctx, page); err != nil {
		return nil, err
	}
	if _, _, err := waitForStableCount(ctx, page, x.cfg.Selectors.Table, ext.PollInterval, ext.SettleDelay); err != nil {
		return nil, fmt.Errorf("failed waiting for tables to settle: %w", err)
	}

	// Table rasterization misbehaves on some engines unless a full native
	// screenshot was taken first.
	if err := x.fullPageScreenshot(ctx, page); err != nil {
		return nil, err
	}

	var marked []markedTable
	if err := call(ctx, page, &marked, "markTables", x.markers.Next()); err != nil {
		return nil, fmt.Errorf("failed to collect tables: %w", err)
	}

	if policy != LabelPartial {
		for i, m := range marked {
			if m.Error != "" {
				return nil, fmt.Errorf("%w: table %d: %s", schemas.ErrLabelExtraction, i, m.Error)
			}
		}
	}

	var useRasterizer bool
	if err := call(ctx, page, &useRasterizer, "hasRasterizer"); err != nil {
		return nil, fmt.Errorf("failed to check for a rasterizer: %w", err)
	}

	tables := make([]schemas.TableArtifact, 0, len(marked))
	for i, m := range marked {
		uri, err := x.rasterize(ctx, page, m.Marker, useRasterizer)
		if err != nil {
			return nil, fmt.Errorf("failed to rasterize table %d: %w", i, err)
		}
		if m.Error != "" {
			x.logger.Warn("Table caption unavailable.", zap.Int("table", i), zap.String("reason", m.Error))
		}
		tables = append(tables, schemas.TableArtifact{Label: m.Label, URI: uri, LabelError: m.Error})
	}

	x.emitter.Emit(schemas.PhaseTables, "Pulled %d tables from the dashboard.", len(tables))
	return tables, nil
}

func (x *Extractor) rasterize(ctx context.Context, page schemas.Page, marker string, useRasterizer bool) (string, error) {
	if useRasterizer {
		var uri string
		if err := call(ctx, page, &uri, "rasterize", marker); err != nil {
			return "", err
		}
		return uri, nil
	}
	buf, err := page.CaptureElement(ctx, markerSelector(marker), x.cfg.Extraction.Scale)
	if err != nil {
		return "", err
	}
	return schemas.EncodeDataURI("image/png", buf), nil
}

// scrollToBottom scrolls in fixed steps at a fixed pace until the bottom is
// reached or the step budget runs out.
func (x *Extractor) scrollToBottom(ctx context.Context, page schemas.Page) error {
	ext := x.cfg.Extraction
	limit := rate.Inf
	if ext.ScrollInterval > 0 {
		limit = rate.Every(ext.ScrollInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for step := 0; step < ext.ScrollMaxSteps; step++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		var atBottom bool
		if err := call(ctx, page, &atBottom, "scrollStep", ext.ScrollStep); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if atBottom {
			x.logger.Debug("Reached the bottom of the page.", zap.Int("steps", step+1))
			return nil
		}
	}
	x.logger.Debug("Scroll budget exhausted before the bottom of the page.", zap.Int("steps", ext.ScrollMaxSteps))
	return nil
}

// fullPageScreenshot captures the page into a temporary file, which is
// removed again unless screenshots are kept for debugging.
func (x *Extractor) fullPageScreenshot(ctx context.Context, page schemas.Page) error {
	buf, err := page.Screenshot(ctx, true)
	if err != nil {
		return fmt.Errorf("full page screenshot failed: %w", err)
	}

	ext := x.cfg.Extraction
	f, err := os.CreateTemp(ext.ScreenshotDir, "*-screenshot-full-page.png")
	if err != nil {
		x.logger.Warn("Could not create screenshot file.", zap.Error(err))
		return nil
	}
	path := f.Name()
	_, werr := f.Write(buf)
	cerr := f.Close()

	if !ext.KeepScreenshots {
		if err := os.Remove(path); err != nil {
			x.logger.Warn("Could not remove screenshot file.", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	if werr != nil || cerr != nil {
		x.logger.Warn("Could not write screenshot file.", zap.String("path", path), zap.NamedError("write", werr), zap.NamedError("close", cerr))
		return nil
	}
	x.logger.Info("Kept debug screenshot.", zap.String("path", path))
	return nil
}
