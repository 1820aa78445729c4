package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cesargomez89/stemdeck/internal/cache"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/reaper"
	"github.com/cesargomez89/stemdeck/internal/registry"
)

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one cleanup pass over downloads and caches",
	Long: `Run one reaper pass: remove downloads older than the task expiry, trim
the downloads directory to its disk quota and, when a cache quota is set,
evict least recently used cache entries. The report is printed as JSON.

stemctl does not see the server's running tasks, so run it while the server
is stopped or use --dry-run.

Examples:
  stemctl sweep --dry-run
  stemctl sweep -c /etc/stemdeck.yaml`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVarP(&sweepDryRun, "dry-run", "n", false, "report what would be removed without removing it")
}

func runSweep(cmd *cobra.Command, args []string) error {
	stems := cache.New(cfg.StemsCacheDir, domain.KindSeparation, db, appLogger)
	bpm := cache.New(cfg.BPMCacheDir, domain.KindAnalysis, db, appLogger)

	r := reaper.New(reaper.Config{
		DownloadsDir: cfg.DownloadsDir,
		Interval:     cfg.ReapInterval,
		Expiry:       cfg.TaskExpiry,
		Quota:        cfg.DiskQuota,
		CacheQuota:   cfg.CacheQuota,
		DryRun:       sweepDryRun,
	}, registry.New(), appLogger).WithCaches(db, stems, bpm)

	rep := r.Sweep(cmd.Context())

	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if len(rep.Errors) > 0 {
		return fmt.Errorf("sweep finished with %d errors", len(rep.Errors))
	}
	return nil
}
