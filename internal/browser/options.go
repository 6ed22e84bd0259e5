// internal/browser/options.go
package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/dashcrawl/internal/config"
)

// ExecAllocatorOptions translates the browser configuration into chromedp
// allocator options. Custom options replace chromedp's defaults entirely, so
// the essentials are listed explicitly.
func ExecAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.Flag("enable-automation", true),
		chromedp.Flag("mute-audio", true),
	}

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}

	for _, arg := range cfg.Args {
		if name, value, ok := parseFlag(arg); ok {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	return opts
}

// parseFlag turns "--name" into (name, true) and "--name=value" into
// (name, "value"). chromedp adds the leading dashes itself.
func parseFlag(arg string) (string, interface{}, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil, false
	}
	key, value, found := strings.Cut(arg, "=")
	if !found {
		return key, true, true
	}
	return key, strings.Trim(value, `"'`), true
}
