package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/atomicfile"
	"github.com/JakeFAU/hood-archiver/internal/catalog"
	"github.com/JakeFAU/hood-archiver/internal/crawler"
)

// newCatalogCmd creates the 'catalog' subcommand.
func newCatalogCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Discover neighborhoods and suburbs from the mirror's index page",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			if out == "" {
				out = cfg.Catalog.Path
			}

			resp, err := appInstance.Fetcher().Fetch(cmd.Context(), crawler.FetchRequest{URL: cfg.Catalog.BaseURL})
			if err != nil {
				return fmt.Errorf("fetch index page: %w", err)
			}
			cat, err := catalog.Discover(resp.Body, cfg.Catalog.BaseURL)
			if err != nil {
				return fmt.Errorf("discover catalog: %w", err)
			}
			if err := atomicfile.Write(out, 0o644, cat.Encode); err != nil {
				return fmt.Errorf("write catalog: %w", err)
			}

			subs := 0
			for _, c := range cat.Collections {
				subs += len(c.SubCollections)
			}
			appInstance.Logger().Info("catalog written",
				zap.String("path", out),
				zap.Int("collections", len(cat.Collections)),
				zap.Int("sub_collections", subs),
			)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d neighborhoods, %d suburbs\n", out, len(cat.Collections), subs)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "catalog file to write (default catalog.path)")
	return cmd
}
