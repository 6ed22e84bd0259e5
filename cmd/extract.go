package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
	"github.com/xkilldash9x/dashcrawl/internal/config"
	"github.com/xkilldash9x/dashcrawl/internal/crawler"
	"github.com/xkilldash9x/dashcrawl/internal/observability"
	"github.com/xkilldash9x/dashcrawl/internal/store"
)

// extractDeps are the outside-world dependencies of the extract command.
type extractDeps struct {
	launcher  crawler.Launcher
	openStore func(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.ResultStore, func(), error)
}

func defaultDeps() extractDeps {
	return extractDeps{launcher: crawler.LaunchChrome, openStore: openPostgresStore}
}

// runOutput is the JSON document written by the extract command.
type runOutput struct {
	RunID      string                     `json:"run_id"`
	Target     string                     `json:"target"`
	Version    string                     `json:"version"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Dashboards []schemas.ExtractionResult `json:"dashboards"`
}

type extractOptions struct {
	dashboards      []string
	dashboardsFile  string
	continueOnError bool
	output          string
}

// newExtractCmd creates and configures the `extract` command.
func newExtractCmd(v *viper.Viper, deps extractDeps) *cobra.Command {
	var opts extractOptions

	extractCmd := &cobra.Command{
		Use:     "extract",
		Short:   "Logs in to the dashboard site and exports the charts and tables of each dashboard",
		Example: `  DASHCRAWL_TARGET_PASSWORD=district dashcrawl extract --url https://play.dhis2.org/ --user admin -d id:nTOA4x3nBtJ -d "name:Malaria" -o out.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			return runExtract(ctx, cmd.OutOrStdout(), cfg, opts, deps, observability.GetLogger())
		},
	}

	flags := extractCmd.Flags()
	flags.String("url", "", "URL of the dashboard site login page. (Overrides config/env)")
	flags.StringP("user", "u", "", "Username to log in with. The password is read from DASHCRAWL_TARGET_PASSWORD.")
	flags.StringArrayVarP(&opts.dashboards, "dashboard", "d", nil, "Dashboard to extract, as id:<id>, name:<display name> or a bare id. Repeatable.")
	flags.StringVar(&opts.dashboardsFile, "dashboards-file", "", "YAML or JSON file with a 'dashboards' list of {id, name, label} entries.")
	flags.Bool("skip-graphs", false, "Do not extract charts.")
	flags.Bool("skip-tables", false, "Do not extract pivot tables.")
	flags.Duration("delay", 0, "Bound on the waits around each dashboard navigation. (Overrides config/env)")
	flags.String("label-policy", "", "What a missing table caption does: 'all_or_nothing' or 'partial'. (Overrides config/env)")
	flags.Bool("keep-screenshots", false, "Keep the full page debug screenshots.")
	flags.BoolVar(&opts.continueOnError, "continue-on-error", false, "Record per-dashboard failures and keep going.")
	flags.StringVarP(&opts.output, "output", "o", "-", "Output file for the JSON results. '-' writes to stdout.")

	// Bind flags to their corresponding Viper keys so they override values
	// from the config file and environment variables.
	for key, flag := range map[string]string{
		"target.url":                  "url",
		"target.username":             "user",
		"extraction.skip_graphs":      "skip-graphs",
		"extraction.skip_tables":      "skip-tables",
		"extraction.delay":            "delay",
		"extraction.label_policy":     "label-policy",
		"extraction.keep_screenshots": "keep-screenshots",
	} {
		// Lookup cannot fail for flags defined above.
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return extractCmd
}

func runExtract(ctx context.Context, stdout io.Writer, cfg *config.Config, opts extractOptions, deps extractDeps, logger *zap.Logger) error {
	refs, err := collectReferences(opts.dashboards, opts.dashboardsFile)
	if err != nil {
		return err
	}
	if cfg.Target.URL == "" {
		return fmt.Errorf("no target URL configured (--url or DASHCRAWL_TARGET_URL)")
	}
	if cfg.Target.Username == "" || cfg.Target.Password == "" {
		return fmt.Errorf("credentials are required (--user and DASHCRAWL_TARGET_PASSWORD)")
	}

	c, err := crawler.New(cfg, logger,
		crawler.WithLauncher(deps.launcher),
		crawler.WithObserver(crawler.NewLogObserver(logger)))
	if err != nil {
		return fmt.Errorf("failed to create crawler: %w", err)
	}

	downloadOpts := crawler.DefaultDownloadOptions(cfg)
	downloadOpts.ContinueOnError = opts.continueOnError

	out := runOutput{
		RunID:     uuid.NewString(),
		Target:    cfg.Target.URL,
		Version:   Version,
		StartedAt: time.Now().UTC(),
	}
	logger.Info("Starting extraction run",
		zap.String("run_id", out.RunID),
		zap.String("target", cfg.Target.URL),
		zap.Int("dashboards", len(refs)))

	results, runErr := crawl(ctx, c, cfg, refs, downloadOpts, logger)
	out.FinishedAt = time.Now().UTC()
	out.Dashboards = results

	// Partial results are still written so a long run is not lost.
	if err := writeOutput(stdout, opts.output, out); err != nil {
		return errors.Join(runErr, err)
	}
	if cfg.Store.Enabled && len(results) > 0 {
		if err := saveResults(ctx, cfg, deps, out.RunID, results, logger); err != nil {
			return errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		return runErr
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d dashboards failed", failed, len(results))
	}
	logger.Info("Extraction run completed successfully", zap.String("run_id", out.RunID))
	return nil
}

// crawl drives one session. The browser is always torn down: gracefully
// after success, through Panic after any failure.
func crawl(ctx context.Context, c *crawler.Crawler, cfg *config.Config, refs []crawler.Reference, opts crawler.DownloadOptions, logger *zap.Logger) ([]schemas.ExtractionResult, error) {
	if err := c.Startup(ctx); err != nil {
		return nil, err
	}

	results, err := func() ([]schemas.ExtractionResult, error) {
		if err := c.Login(ctx, cfg.Target.Username, cfg.Target.Password); err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
		return c.DownloadDashboardComponents(ctx, refs, opts)
	}()
	if err != nil {
		if perr := c.Panic(ctx); perr != nil {
			logger.Warn("Error during browser teardown", zap.Error(perr))
		}
		return results, err
	}
	return results, c.Shutdown(ctx)
}

// collectReferences merges the --dashboard flags and the dashboards file,
// flags first.
func collectReferences(args []string, file string) ([]crawler.Reference, error) {
	refs := make([]crawler.Reference, 0, len(args))
	for _, arg := range args {
		ref, err := crawler.ParseReference(arg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	if file != "" {
		fromFile, err := loadDashboardsFile(file)
		if err != nil {
			return nil, err
		}
		refs = append(refs, fromFile...)
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("no dashboards given (use --dashboard or --dashboards-file)")
	}
	return refs, nil
}

func loadDashboardsFile(path string) ([]crawler.Reference, error) {
	fv := viper.New()
	fv.SetConfigFile(path)
	if err := fv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading dashboards file: %w", err)
	}

	var specs []crawler.DashboardSpec
	if err := fv.UnmarshalKey("dashboards", &specs); err != nil {
		return nil, fmt.Errorf("error decoding dashboards file: %w", err)
	}

	refs := make([]crawler.Reference, 0, len(specs))
	for i, spec := range specs {
		ref, err := spec.Reference()
		if err != nil {
			return nil, fmt.Errorf("dashboards file entry %d: %w", i, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func writeOutput(stdout io.Writer, path string, out runOutput) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	observability.GetLogger().Info("Results written.", zap.String("path", path))
	return nil
}

func saveResults(ctx context.Context, cfg *config.Config, deps extractDeps, runID string, results []schemas.ExtractionResult, logger *zap.Logger) error {
	s, closeStore, err := deps.openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := s.SaveResults(ctx, runID, results); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	return nil
}

// openPostgresStore connects to the configured database and prepares the schema.
func openPostgresStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.ResultStore, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}
