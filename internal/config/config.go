// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Network    NetworkConfig    `mapstructure:"network" yaml:"network"`
	Target     TargetConfig     `mapstructure:"target" yaml:"target"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Selectors  SelectorsConfig  `mapstructure:"selectors" yaml:"selectors"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless       bool           `mapstructure:"headless" yaml:"headless"`
	ExecutablePath string         `mapstructure:"executable_path" yaml:"executable_path"`
	Args           []string       `mapstructure:"args" yaml:"args"`
	UserDataDir    string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Viewport       ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	LaunchTimeout  time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	CloseTimeout   time.Duration  `mapstructure:"close_timeout" yaml:"close_timeout"`
	Debug          bool           `mapstructure:"debug" yaml:"debug"`
}

// ViewportConfig is the emulated window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// NetworkConfig tunes how long navigations may take and what counts as quiet.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// QuietPeriod is how long the page must have no in-flight requests to be considered loaded.
	QuietPeriod time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
}

// TargetConfig points at the dashboard application.
type TargetConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
}

// AuthConfig controls the login flow.
type AuthConfig struct {
	VerifyLogin bool `mapstructure:"verify_login" yaml:"verify_login"`
}

// SelectorsConfig holds the CSS selectors of the target application's DOM.
type SelectorsConfig struct {
	Username   string `mapstructure:"username" yaml:"username"`
	Password   string `mapstructure:"password" yaml:"password"`
	Submit     string `mapstructure:"submit" yaml:"submit"`
	ControlBar string `mapstructure:"control_bar" yaml:"control_bar"`
	ChartRoot  string `mapstructure:"chart_root" yaml:"chart_root"`
	Table      string `mapstructure:"table" yaml:"table"`
	TableLabel string `mapstructure:"table_label" yaml:"table_label"`
	// TableLabelDepth is how many ancestors above a table the label query starts from.
	TableLabelDepth int `mapstructure:"table_label_depth" yaml:"table_label_depth"`
}

// Label policies for pivot table captions.
const (
	LabelPolicyAllOrNothing = "all_or_nothing"
	LabelPolicyPartial      = "partial"
)

// ExtractionConfig tunes the dashboard extraction pipeline.
type ExtractionConfig struct {
	// Delay is the post-navigation settle bound applied around dashboard navigation.
	Delay           time.Duration `mapstructure:"delay" yaml:"delay"`
	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	TypingDelay     time.Duration `mapstructure:"typing_delay" yaml:"typing_delay"`
	Scale           float64       `mapstructure:"scale" yaml:"scale"`
	ScrollStep      int           `mapstructure:"scroll_step" yaml:"scroll_step"`
	ScrollInterval  time.Duration `mapstructure:"scroll_interval" yaml:"scroll_interval"`
	ScrollMaxSteps  int           `mapstructure:"scroll_max_steps" yaml:"scroll_max_steps"`
	KeepScreenshots bool          `mapstructure:"keep_screenshots" yaml:"keep_screenshots"`
	ScreenshotDir   string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	SVGHelperPath   string        `mapstructure:"svg_helper_path" yaml:"svg_helper_path"`
	RasterizerPath  string        `mapstructure:"rasterizer_path" yaml:"rasterizer_path"`
	LabelPolicy     string        `mapstructure:"label_policy" yaml:"label_policy"`
	SkipGraphs      bool          `mapstructure:"skip_graphs" yaml:"skip_graphs"`
	SkipTables      bool          `mapstructure:"skip_tables" yaml:"skip_tables"`
}

// StoreConfig configures the optional PostgreSQL result sink.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"-"`
}

// defaultExecutablePath is used when present on the host and nothing else is configured.
const defaultExecutablePath = "/usr/bin/chromium-browser"

// DefaultBrowserArgs are the launch flags the target application is known to need.
var DefaultBrowserArgs = []string{
	"--bwsi",
	"--disable-default-apps",
	"--disable-dev-shm-usage",
	"--disable-setuid-sandbox",
	"--hide-scrollbars",
	"--disable-web-security",
	"--no-sandbox",
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "dashcrawl")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", DefaultBrowserArgs)
	v.SetDefault("browser.viewport.width", 1920)
	v.SetDefault("browser.viewport.height", 1080)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.close_timeout", "15s")
	v.SetDefault("browser.debug", false)
	if _, err := os.Stat(defaultExecutablePath); err == nil {
		v.SetDefault("browser.executable_path", defaultExecutablePath)
	}

	// -- Network --
	v.SetDefault("network.navigation_timeout", "5m")
	v.SetDefault("network.quiet_period", "500ms")

	// -- Auth --
	v.SetDefault("auth.verify_login", true)

	// -- Selectors (DHIS2 dashboard app) --
	v.SetDefault("selectors.username", "input[id=j_username]")
	v.SetDefault("selectors.password", "input[id=j_password]")
	v.SetDefault("selectors.submit", "input[type=submit]")
	v.SetDefault("selectors.control_bar", `[class*="controlbar" i]`)
	v.SetDefault("selectors.chart_root", "svg.highcharts-root")
	v.SetDefault("selectors.table", "table.pivot")
	v.SetDefault("selectors.table_label", "span")
	v.SetDefault("selectors.table_label_depth", 4)

	// -- Extraction --
	v.SetDefault("extraction.delay", "5s")
	v.SetDefault("extraction.settle_delay", "5s")
	v.SetDefault("extraction.poll_interval", "250ms")
	v.SetDefault("extraction.typing_delay", "5ms")
	v.SetDefault("extraction.scale", 3.0)
	v.SetDefault("extraction.scroll_step", 50)
	v.SetDefault("extraction.scroll_interval", "250ms")
	v.SetDefault("extraction.scroll_max_steps", 400)
	v.SetDefault("extraction.keep_screenshots", false)
	v.SetDefault("extraction.screenshot_dir", os.TempDir())
	v.SetDefault("extraction.label_policy", LabelPolicyAllOrNothing)
	v.SetDefault("extraction.skip_graphs", false)
	v.SetDefault("extraction.skip_tables", false)

	// -- Store --
	v.SetDefault("store.enabled", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("target.password", "DASHCRAWL_TARGET_PASSWORD")
	v.BindEnv("store.url", "DASHCRAWL_STORE_URL")
	v.BindEnv("extraction.keep_screenshots", "DASHCRAWL_DEBUG_SCREENSHOT")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	cfg.Extraction.LabelPolicy = strings.ToLower(strings.TrimSpace(cfg.Extraction.LabelPolicy))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in every user supplied path.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.Browser.ExecutablePath,
		&c.Browser.UserDataDir,
		&c.Logger.LogFile,
		&c.Extraction.ScreenshotDir,
		&c.Extraction.SVGHelperPath,
		&c.Extraction.RasterizerPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.Network.QuietPeriod <= 0 {
		return fmt.Errorf("network.quiet_period must be a positive duration")
	}
	if c.Extraction.Delay < 0 || c.Extraction.SettleDelay < 0 {
		return fmt.Errorf("extraction delays must not be negative")
	}
	if c.Extraction.PollInterval <= 0 {
		return fmt.Errorf("extraction.poll_interval must be a positive duration")
	}
	if c.Extraction.Scale <= 0 {
		return fmt.Errorf("extraction.scale must be greater than 0")
	}
	if c.Extraction.ScrollStep <= 0 || c.Extraction.ScrollMaxSteps <= 0 {
		return fmt.Errorf("extraction.scroll_step and extraction.scroll_max_steps must be positive integers")
	}
	switch c.Extraction.LabelPolicy {
	case LabelPolicyAllOrNothing, LabelPolicyPartial:
	default:
		return fmt.Errorf("extraction.label_policy must be %q or %q", LabelPolicyAllOrNothing, LabelPolicyPartial)
	}
	if c.Selectors.TableLabelDepth < 0 {
		return fmt.Errorf("selectors.table_label_depth must not be negative")
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store.url is required when the store is enabled. Ensure DASHCRAWL_STORE_URL is set")
	}
	return nil
}
