// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "dashcrawl", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, DefaultBrowserArgs, cfg.Browser.Args)
	assert.Equal(t, 5*time.Minute, cfg.Network.NavigationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Network.QuietPeriod)
	assert.True(t, cfg.Auth.VerifyLogin)
	assert.Equal(t, "input[id=j_username]", cfg.Selectors.Username)
	assert.Equal(t, "svg.highcharts-root", cfg.Selectors.ChartRoot)
	assert.Equal(t, "table.pivot", cfg.Selectors.Table)
	assert.Equal(t, 4, cfg.Selectors.TableLabelDepth)
	assert.Equal(t, 5*time.Second, cfg.Extraction.Delay)
	assert.Equal(t, 5*time.Millisecond, cfg.Extraction.TypingDelay)
	assert.Equal(t, 3.0, cfg.Extraction.Scale)
	assert.Equal(t, LabelPolicyAllOrNothing, cfg.Extraction.LabelPolicy)
	assert.False(t, cfg.Extraction.KeepScreenshots)
	assert.False(t, cfg.Store.Enabled)

	require.NoError(t, cfg.Validate(), "defaults must always validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ZeroNavigationTimeout", func(c *Config) { c.Network.NavigationTimeout = 0 }, "network.navigation_timeout"},
		{"ZeroQuietPeriod", func(c *Config) { c.Network.QuietPeriod = 0 }, "network.quiet_period"},
		{"NegativeDelay", func(c *Config) { c.Extraction.Delay = -time.Second }, "must not be negative"},
		{"ZeroPollInterval", func(c *Config) { c.Extraction.PollInterval = 0 }, "extraction.poll_interval"},
		{"ZeroScale", func(c *Config) { c.Extraction.Scale = 0 }, "extraction.scale"},
		{"ZeroScrollStep", func(c *Config) { c.Extraction.ScrollStep = 0 }, "extraction.scroll_step"},
		{"UnknownLabelPolicy", func(c *Config) { c.Extraction.LabelPolicy = "sometimes" }, "extraction.label_policy"},
		{"MixedCaseLabelPolicy", func(c *Config) { c.Extraction.LabelPolicy = "Partial" }, "extraction.label_policy"},
		{"NegativeLabelDepth", func(c *Config) { c.Selectors.TableLabelDepth = -1 }, "selectors.table_label_depth"},
		{"StoreWithoutURL", func(c *Config) { c.Store.Enabled = true }, "store.url is required"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("PartialLabelPolicyIsValid", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Extraction.LabelPolicy = LabelPolicyPartial
		assert.NoError(t, cfg.Validate())
	})
}

// -- Viper Loading Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("YAMLOverridesDefaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yamlConfig := []byte(`
target:
  url: https://play.dhis2.org/demo
  username: admin
network:
  navigation_timeout: 45s
extraction:
  delay: 10s
  label_policy: partial
selectors:
  control_bar: .dashboard-bar
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "https://play.dhis2.org/demo", cfg.Target.URL)
		assert.Equal(t, "admin", cfg.Target.Username)
		assert.Equal(t, 45*time.Second, cfg.Network.NavigationTimeout)
		assert.Equal(t, 10*time.Second, cfg.Extraction.Delay)
		assert.Equal(t, LabelPolicyPartial, cfg.Extraction.LabelPolicy)
		assert.Equal(t, ".dashboard-bar", cfg.Selectors.ControlBar)
		// Untouched keys keep their defaults.
		assert.Equal(t, "table.pivot", cfg.Selectors.Table)
	})

	t.Run("SecretsFromEnvironment", func(t *testing.T) {
		t.Setenv("DASHCRAWL_TARGET_PASSWORD", "district")
		t.Setenv("DASHCRAWL_STORE_URL", "postgres://crawler@localhost/dashboards")
		t.Setenv("DASHCRAWL_DEBUG_SCREENSHOT", "true")

		v := viper.New()
		SetDefaults(v)
		v.Set("store.enabled", true)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "district", cfg.Target.Password)
		assert.Equal(t, "postgres://crawler@localhost/dashboards", cfg.Store.URL)
		assert.True(t, cfg.Extraction.KeepScreenshots)
	})

	t.Run("ExpandsHomeDirectory", func(t *testing.T) {
		home, err := homedir.Dir()
		if err != nil {
			t.Skipf("no home directory available: %v", err)
		}

		v := viper.New()
		SetDefaults(v)
		v.Set("extraction.screenshot_dir", "~/dashcrawl-shots")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "dashcrawl-shots"), cfg.Extraction.ScreenshotDir)
	})

	t.Run("NormalizesLabelPolicy", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("extraction.label_policy", " Partial ")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, LabelPolicyPartial, cfg.Extraction.LabelPolicy)
	})

	t.Run("InvalidConfigRejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("extraction.scale", 0)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}
