package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/store"
)

var (
	cacheKind string
	cacheJSON bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the content cache index",
}

var cacheListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cache entries, least recently used first",
	Long: `List indexed cache entries, least recently used first.

Examples:
  stemctl cache ls
  stemctl cache ls --kind separation
  stemctl cache ls --json`,
	Args: cobra.NoArgs,
	RunE: runCacheList,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry counts, sizes and hits per cache",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <hash>",
	Short: "Show the cache entries indexed under a content hash",
	Long: `Show the cache entries indexed under a content hash, one per kind.

Examples:
  stemctl cache show 0123456789abcdef...
  stemctl cache show --kind analysis 0123456789abcdef...`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheShow,
}

func init() {
	cacheListCmd.Flags().StringVarP(&cacheKind, "kind", "k", "", "only list one kind (separation or analysis)")
	cacheListCmd.Flags().BoolVar(&cacheJSON, "json", false, "print JSON")
	cacheStatsCmd.Flags().BoolVar(&cacheJSON, "json", false, "print JSON")
	cacheShowCmd.Flags().StringVarP(&cacheKind, "kind", "k", "", "only show one kind (separation or analysis)")
	cacheShowCmd.Flags().BoolVar(&cacheJSON, "json", false, "print JSON")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheShowCmd)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	if cacheKind != "" && !domain.TaskKind(cacheKind).Valid() {
		return fmt.Errorf("unknown kind %q", cacheKind)
	}

	entries, err := db.ListEntries(cmd.Context(), cacheKind)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	if cacheJSON {
		return printJSON(cmd, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No cache entries.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tHASH\tSIZE\tHITS\tLAST USED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			e.Kind, shortHash(e.Hash), humanBytes(e.SizeBytes), e.Hits, e.LastAccessedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	stats, err := db.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}
	if cacheJSON {
		return printJSON(cmd, stats)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tENTRIES\tSIZE\tHITS")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", s.Kind, s.Entries, humanBytes(s.SizeBytes), s.Hits)
	}
	return tw.Flush()
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	hash := args[0]
	kinds := []string{string(domain.KindSeparation), string(domain.KindAnalysis)}
	if cacheKind != "" {
		if !domain.TaskKind(cacheKind).Valid() {
			return fmt.Errorf("unknown kind %q", cacheKind)
		}
		kinds = []string{cacheKind}
	}

	var found []store.CacheEntry
	for _, kind := range kinds {
		e, err := db.GetEntry(cmd.Context(), hash, kind)
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}
		if e != nil {
			found = append(found, *e)
		}
	}
	if len(found) == 0 {
		return fmt.Errorf("no cache entry for %s", hash)
	}
	if cacheJSON {
		return printJSON(cmd, found)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for i, e := range found {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "Kind:\t%s\n", e.Kind)
		fmt.Fprintf(tw, "Hash:\t%s\n", e.Hash)
		fmt.Fprintf(tw, "Path:\t%s\n", e.Path)
		fmt.Fprintf(tw, "Size:\t%s\n", humanBytes(e.SizeBytes))
		fmt.Fprintf(tw, "Artifacts:\t%d\n", e.Artifacts)
		fmt.Fprintf(tw, "Hits:\t%d\n", e.Hits)
		fmt.Fprintf(tw, "Created:\t%s\n", e.CreatedAt.Local().Format(time.DateTime))
		fmt.Fprintf(tw, "Last used:\t%s\n", e.LastAccessedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
