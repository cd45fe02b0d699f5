package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nishad/uniload/internal/fetch"
)

var (
	downloadDataset string
	downloadNoCheck bool
)

// NewDownloadCmd creates the download command.
func NewDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download dataset archives without loading them",
		Long: `Download the dataset archives from the UniProt mirror into the data
directory. Interrupted downloads resume where they left off. Checksums are
verified against the mirror's MD5SUMS file when it is published.`,
		RunE: runDownload,
	}
	cmd.Flags().StringVar(&downloadDataset, "dataset", "", "Dataset to fetch (swissprot|trembl|all; default from config)")
	cmd.Flags().BoolVar(&downloadNoCheck, "no-verify", false, "Skip checksum verification")
	return cmd
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	dataset := downloadDataset
	if dataset == "" {
		dataset = cfg.Load.Dataset
	}
	files, err := fetch.DatasetFiles(dataset)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\ninterrupted; partial files resume on the next run")
		cancel()
	}()

	client := fetch.NewClient(cfg.Source.BaseURL, cfg.DataDirectory, logger)

	if meta, err := client.ReleaseInfo(ctx); err == nil {
		fmt.Printf("Current release: %s (%s)\n", meta.Version, meta.Date.Format("2006-01-02"))
	}

	for _, name := range files {
		path, err := client.Download(ctx, name)
		if err != nil {
			return err
		}
		if !downloadNoCheck {
			if err := client.Verify(ctx, path); err != nil {
				return err
			}
		}
		fmt.Printf("Downloaded %s\n", path)
	}
	return nil
}
