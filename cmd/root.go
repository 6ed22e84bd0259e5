// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/internal/config"
	"github.com/xkilldash9x/dashcrawl/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// Execute builds the command tree and runs it with ctx, which carries the
// process signal handling.
func Execute(ctx context.Context) error {
	rootCmd := newRootCmd(defaultDeps())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		observability.Sync()
		return err
	}
	observability.Sync()
	return nil
}

// newRootCmd creates the root command with its own viper instance so that
// tests never share configuration state.
func newRootCmd(deps extractDeps) *cobra.Command {
	var cfgFile string
	v := viper.New()
	config.SetDefaults(v)

	rootCmd := &cobra.Command{
		Use:   "dashcrawl",
		Short: "dashcrawl exports the charts and pivot tables of web dashboards as images.",
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "dashcrawl"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting dashcrawl", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newExtractCmd(v, deps), newVersionCmd())
	return rootCmd
}

// initializeConfig reads in the config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DASHCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}

// configFromContext returns the configuration stored by the root command.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}
