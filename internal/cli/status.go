package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nishad/uniload/internal/db"
	"github.com/nishad/uniload/internal/schema"
)

var statusLimit int

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the loaded release and recent runs",
		RunE:  runStatus,
	}
	cmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of history rows to show")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()

	adapter, err := db.Connect(ctx, cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer adapter.Close()

	exists, err := adapter.SchemaExists(ctx, cfg.Database.Schema)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Printf("Schema %s does not exist; no release has been loaded.\n", cfg.Database.Schema)
		return nil
	}

	rel, err := adapter.CurrentRelease(ctx, cfg.Database.Schema)
	if err != nil {
		return err
	}
	if rel == nil {
		fmt.Printf("Schema %s exists but holds no release metadata.\n", cfg.Database.Schema)
	} else {
		fmt.Printf("Schema:     %s\n", cfg.Database.Schema)
		fmt.Printf("Release:    %s (released %s)\n", rel.Version, rel.ReleaseDate.Format("2006-01-02"))
		fmt.Printf("Loaded at:  %s\n", rel.LoadTimestamp.Format(time.RFC3339))
		if rel.SwissprotEntryCount > 0 || rel.TremblEntryCount > 0 {
			fmt.Printf("Entries:    %d Swiss-Prot, %d TrEMBL\n",
				rel.SwissprotEntryCount, rel.TremblEntryCount)
		}
	}

	runs, err := adapter.History(ctx, cfg.Database.Schema, statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	fmt.Println("\nRecent runs:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tMODE\tDATASET\tSTATUS\tDURATION")
	for _, run := range runs {
		dur := "-"
		if !run.EndTime.IsZero() && run.EndTime.After(run.StartTime) {
			dur = run.EndTime.Sub(run.StartTime).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			run.StartTime.Format("2006-01-02 15:04"), run.Mode, run.Dataset, run.Status, dur)
	}
	return w.Flush()
}

// tableOrder returns the report's tables in catalog load order, with any
// stragglers sorted at the end.
func tableOrder(rows map[string]int64) []string {
	var out []string
	seen := make(map[string]bool)
	for _, table := range schema.LoadOrder() {
		if _, ok := rows[table]; ok {
			out = append(out, table)
			seen[table] = true
		}
	}
	var rest []string
	for table := range rows {
		if !seen[table] {
			rest = append(rest, table)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
