package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cesargomez89/stemdeck/internal/storage"
)

var hashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Print the content hash used as cache key",
	Long: `Print the SHA-256 content hash of each file, the key under which the
server caches separation and analysis results for it.

Examples:
  stemctl hash song.mp3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHash,
}

func runHash(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		h, err := storage.HashFile(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", h, path)
	}
	return nil
}
