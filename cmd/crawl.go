// Package cmd defines and implements the CLI commands for the hood-archiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/api"
	"github.com/JakeFAU/hood-archiver/internal/catalog"
	"github.com/JakeFAU/hood-archiver/internal/crawler"
)

type crawlOptions struct {
	collections    []string
	subCollections []string
	resume         bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the catalog into per-neighborhood documents",
		Long: `Walks every neighborhood in the catalog (or the ones named with --collection),
paginating each listing politely and writing one JSON document per
neighborhood. With --resume, units recorded in the checkpoint are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.collections, "collection", nil, "neighborhood to crawl (repeatable)")
	cmd.Flags().StringSliceVar(&opts.subCollections, "sub", nil, "suburb to crawl inside the selected neighborhoods (repeatable)")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "skip units already recorded as complete")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if cat.BaseURL == "" {
		cat.BaseURL = cfg.Catalog.BaseURL
	}

	if err := appInstance.Documents().Prepare(); err != nil {
		return err
	}

	engine := appInstance.Engine()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var wg sync.WaitGroup
	if cfg.Status.ListenAddr != "" {
		server := api.NewServer(engine, logger.Named("status"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(ctx, cfg.Status.ListenAddr); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	summary, runErr := engine.Run(ctx, cat, crawler.RunOptions{
		Collections:    opts.collections,
		SubCollections: opts.subCollections,
		Resume:         opts.resume,
	})
	cancel()
	wg.Wait()

	printSummary(cmd.OutOrStdout(), summary)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("crawl interrupted; rerun with --resume to continue")
			return nil
		}
		return fmt.Errorf("run crawler: %w", runErr)
	}
	if n := len(summary.Failed); n > 0 {
		return fmt.Errorf("%d unit(s) failed; rerun with --resume to retry them", n)
	}
	return nil
}

func printSummary(w io.Writer, s crawler.Summary) {
	_, _ = fmt.Fprintf(w, "run %s: %d completed, %d skipped, %d failed (%d pages, %d items, %s)\n",
		s.RunID, len(s.Completed), len(s.Skipped), len(s.Failed),
		s.Stats.PagesFetched, s.Stats.ItemsSeen, s.Stats.Elapsed.Round(time.Millisecond))
	for _, res := range s.Skipped {
		if res.Reason == crawler.ReasonAlreadyComplete {
			continue
		}
		_, _ = fmt.Fprintf(w, "  skipped %s: %s\n", res.Unit, res.Reason)
	}
	for _, res := range s.Failed {
		_, _ = fmt.Fprintf(w, "  failed  %s: %s\n", res.Unit, res.Reason)
	}
}
