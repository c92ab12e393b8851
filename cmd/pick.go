package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"
)

// newPickCmd creates the 'pick' subcommand.
func newPickCmd() *cobra.Command {
	var offset int
	cmd := &cobra.Command{
		Use:   "pick",
		Short: "Print one flattened record, chosen at random or by offset",
		Long: `Reads the flattened index, locates the chunk holding the requested offset
(a uniformly random one when --offset is omitted) and decompresses only that
chunk.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			reader := appInstance.Reader()
			idx, err := reader.ReadIndex(cmd.Context())
			if err != nil {
				return err
			}
			if idx.TotalRecords == 0 {
				return errors.New("flattened set is empty")
			}
			if offset < 0 {
				offset = rand.IntN(idx.TotalRecords) //nolint:gosec // sampling, not security
			}
			rec, err := reader.Record(cmd.Context(), idx, offset)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{
				"offset": offset,
				"of":     idx.TotalRecords,
				"record": rec,
			}); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", -1, "logical record offset (default random)")
	return cmd
}
