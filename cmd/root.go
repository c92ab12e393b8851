package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/app"
	"github.com/JakeFAU/hood-archiver/internal/config"
	"github.com/JakeFAU/hood-archiver/internal/crawler"
	"github.com/JakeFAU/hood-archiver/internal/document"
	collyfetcher "github.com/JakeFAU/hood-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/hood-archiver/internal/flatten"
	"github.com/JakeFAU/hood-archiver/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. It allows a fake app in tests.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Engine() *crawler.Engine
	Fetcher() *collyfetcher.Fetcher
	Documents() *document.FileStore
	Flattener(chunkSize int) (*flatten.Flattener, error)
	Reader() *flatten.Reader
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

type rootOptions struct {
	configPath string
	envFile    string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "hood-archiver",
		Short: "Archive crawler and flattener for the Geocities mirror.",
		Long: `hood-archiver walks the neighborhood catalog of a Geocities mirror page by
page, writes one JSON document per neighborhood with resumable checkpoints,
and repackages finished documents into gzip chunks with an offset index.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before config, ignored if absent")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newFlattenCmd())
	cmd.AddCommand(newCatalogCmd())
	cmd.AddCommand(newPickCmd())
	return cmd
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so a crawl stops between durable steps.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
