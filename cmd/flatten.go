package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/catalog"
)

// newFlattenCmd creates the 'flatten' subcommand.
func newFlattenCmd() *cobra.Command {
	var chunkSize int
	cmd := &cobra.Command{
		Use:   "flatten",
		Short: "Repackage crawled documents into gzip chunks plus an index",
		Long: `Reads every finished neighborhood document, concatenates their cards in
catalog order, and writes fixed-size gzip chunks followed by a metadata
index to the configured storage backend. Do not run while a crawl of the
same output directory is in progress.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			logger := appInstance.Logger()

			var order []string
			cat, err := catalog.Load(cfg.Catalog.Path)
			switch {
			case err == nil:
				order = cat.Names()
			case errors.Is(err, catalog.ErrCatalogMissing):
				logger.Warn("no catalog; documents are flattened in name order", zap.String("path", cfg.Catalog.Path))
			default:
				return fmt.Errorf("load catalog: %w", err)
			}

			docs, err := appInstance.Documents().LoadAll(cmd.Context(), order)
			if err != nil {
				return fmt.Errorf("load documents: %w", err)
			}
			flattener, err := appInstance.Flattener(chunkSize)
			if err != nil {
				return fmt.Errorf("init flattener: %w", err)
			}
			idx, err := flattener.Flatten(cmd.Context(), docs)
			if err != nil {
				return fmt.Errorf("flatten: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records from %d neighborhoods in %d chunks of up to %d\n",
				idx.Name, idx.TotalRecords, idx.TotalHoods, idx.ChunkCount, idx.ChunkSize)
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "maximum records per chunk (default flatten.chunk_size)")
	return cmd
}
