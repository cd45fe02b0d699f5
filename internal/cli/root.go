// Package cli implements the uniload command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nishad/uniload/internal/config"
)

var (
	flagConfig   string
	flagLogLevel string
	flagVerbose  bool
	flagQuiet    bool
)

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "uniload",
		Short: "UniProtKB to PostgreSQL bulk loader",
		Long: `uniload streams UniProtKB XML releases (Swiss-Prot and TrEMBL) into
PostgreSQL: a parallel transform turns entries into per-table spool files,
COPY loads them into a staging schema, and the load strategy either swaps
staging into production atomically (full) or merges it in place (delta).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # Full load of Swiss-Prot from the UniProt mirror
  uniload run --mode full --dataset swissprot

  # Delta merge from a local archive
  uniload run --mode delta --input ./uniprot_sprot.xml.gz

  # Show the loaded release and recent runs
  uniload status

  # Serve the status API
  uniload serve`,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: $UNILOAD_CONFIG, ./uniload.yaml)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Shorthand for --log-level debug")
	root.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress everything below errors")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddCommand(NewRunCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewDownloadCmd())
	root.AddCommand(NewServeCmd())
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// loadConfig resolves and loads the configuration for a command.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = config.Path()
	}
	return config.Load(path)
}

// newLogger builds the console logger honoring --log-level over the config.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if flagVerbose {
		lvl = zerolog.DebugLevel
	}
	if flagQuiet {
		lvl = zerolog.ErrorLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).With().Timestamp().Logger()
}
