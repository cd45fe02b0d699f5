package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nishad/uniload/internal/load"
	"github.com/nishad/uniload/internal/pipeline"
	"github.com/nishad/uniload/internal/transform"
)

var (
	runMode       string
	runDataset    string
	runProfile    string
	runInputs     []string
	runPurge      bool
	runNoProgress bool
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full or delta load",
		Long: `Run one load end to end: download (or open) the dataset archives,
transform them into spool files and load them into PostgreSQL.

A full load builds a complete staging schema and swaps it into production in
one transaction. A delta load merges the staging rows into the live production
schema, replacing each protein's relation sets wholesale.`,
		Example: `  # Full Swiss-Prot load using the mirror
  uniload run --mode full --dataset swissprot

  # Delta load of both corpora, removing deprecated entries
  uniload run --mode delta --dataset all --purge-obsolete

  # Load local files without downloading
  uniload run --mode full --input sprot.xml.gz --input trembl.xml.gz`,
		RunE: runRun,
	}

	cmd.Flags().StringVar(&runMode, "mode", "full", "Load strategy (full|delta)")
	cmd.Flags().StringVar(&runDataset, "dataset", "", "Dataset to load (swissprot|trembl|all; default from config)")
	cmd.Flags().StringVar(&runProfile, "profile", "", "Column profile (standard|full; default from config)")
	cmd.Flags().StringArrayVar(&runInputs, "input", nil, "Local gzip XML file (repeatable; skips download)")
	cmd.Flags().BoolVar(&runPurge, "purge-obsolete", false, "On delta loads, delete proteins absent from the input")
	cmd.Flags().BoolVar(&runNoProgress, "no-progress", false, "Disable progress output")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\ninterrupted, rolling back...")
		cancel()
	}()

	var progress transform.ProgressFunc
	if !runNoProgress {
		progress = func(p transform.Progress) {
			fmt.Fprintf(os.Stderr, "\r%s: %d entries (%d skipped), %d rows, %s ",
				p.Source, p.Entries, p.BadEntries, p.Rows, p.Elapsed.Round(time.Second))
		}
	}

	start := time.Now()
	report, err := pipeline.Run(ctx, pipeline.Options{
		Config:        cfg,
		Mode:          load.Mode(runMode),
		InputFiles:    runInputs,
		Dataset:       runDataset,
		Profile:       runProfile,
		PurgeObsolete: runPurge,
		Progress:      progress,
		Logger:        logger,
	})
	if !runNoProgress {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	if report.Skipped {
		fmt.Printf("Already at release %s, nothing to do.\n", report.ReleaseTag)
		return nil
	}
	fmt.Printf("Loaded release %s in %s\n", report.ReleaseTag, time.Since(start).Round(time.Second))
	fmt.Printf("  entries:      %d (%d skipped)\n", report.Entries, report.BadEntries)
	for _, table := range tableOrder(report.RowsLoaded) {
		fmt.Printf("  %-22s %d rows\n", table, report.RowsLoaded[table])
	}
	if report.Purged > 0 {
		fmt.Printf("  purged:       %d obsolete proteins\n", report.Purged)
	}
	return nil
}
