// Package cli provides the stemctl maintenance commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cesargomez89/stemdeck/internal/config"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/store"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configFile string
	verbose    bool

	cfg       *config.Config
	db        *store.DB
	appLogger *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stemctl",
	Short: "Maintenance tool for the stemdeck media server",
	Long: `stemctl inspects and maintains the directories and cache index of a
stemdeck server. It reads the same configuration as the server: defaults,
an optional stemdeck.yaml and STEMDECK_* environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "hash" {
			return nil
		}

		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		appLogger = logger.New(logger.Config{Level: level, Format: "text"})

		closeDB()
		db, err = store.NewSQLiteDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open cache index: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeDB()
	},
}

func closeDB() {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
	}
	db = nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer closeDB()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(hashCmd)
}
