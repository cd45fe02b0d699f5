// Package pipeline is the programmatic entry point: it wires the mirror
// client, the transform coordinator and the load director into one run the
// CLI and embedding callers share.
package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/nishad/uniload/internal/config"
	"github.com/nishad/uniload/internal/db"
	"github.com/nishad/uniload/internal/encoder"
	"github.com/nishad/uniload/internal/errors"
	"github.com/nishad/uniload/internal/fetch"
	"github.com/nishad/uniload/internal/load"
	"github.com/nishad/uniload/internal/transform"
)

// Options describes one pipeline run. Zero values fall back to the config.
type Options struct {
	Config *config.Config
	Mode   load.Mode
	// InputFiles are local gzip XML files to load instead of downloading.
	InputFiles    []string
	Dataset       string
	Profile       string
	PurgeObsolete bool
	Progress      transform.ProgressFunc
	Logger        zerolog.Logger
}

// Run executes one full or delta load end to end.
func Run(ctx context.Context, opts Options) (*load.Report, error) {
	const op = errors.Op("pipeline.Run")

	cfg := opts.Config
	if cfg == nil {
		return nil, errors.E(op, errors.KindConfig, "no configuration")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(op, err)
	}

	dataset := opts.Dataset
	if dataset == "" {
		dataset = cfg.Load.Dataset
	}
	profile := encoder.Profile(opts.Profile)
	if opts.Profile == "" {
		profile = encoder.Profile(cfg.Load.Profile)
	}
	if !profile.Valid() {
		return nil, errors.E(op, errors.KindConfig, "unknown profile "+string(profile))
	}

	logger := opts.Logger.With().Str("component", "pipeline").Logger()

	inputs := opts.InputFiles
	var release load.ReleaseInfo
	if len(inputs) == 0 {
		var err error
		inputs, release, err = download(ctx, cfg, dataset, opts.Logger)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
	}

	adapter, err := db.Connect(ctx, cfg.Database.URL, opts.Logger)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	defer adapter.Close()

	director := load.New(adapter, opts.Logger)
	report, err := director.Run(ctx, load.Request{
		Mode:          opts.Mode,
		Dataset:       dataset,
		Production:    cfg.Database.Schema,
		Release:       release,
		PurgeObsolete: opts.PurgeObsolete || cfg.Load.PurgeObsolete,
		Transform: func(ctx context.Context) (*transform.Result, error) {
			return runTransform(ctx, cfg, inputs, profile, opts)
		},
	})
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	cleanSpool(cfg.SpoolDirectory, logger)
	logger.Info().Str("release", report.ReleaseTag).Int64("entries", report.Entries).
		Bool("skipped", report.Skipped).Msg("pipeline finished")
	return report, nil
}

// download fetches the dataset archives and release metadata from the mirror.
func download(ctx context.Context, cfg *config.Config, dataset string, logger zerolog.Logger) ([]string, load.ReleaseInfo, error) {
	files, err := fetch.DatasetFiles(dataset)
	if err != nil {
		return nil, load.ReleaseInfo{}, err
	}

	client := fetch.NewClient(cfg.Source.BaseURL, cfg.DataDirectory, logger)

	var release load.ReleaseInfo
	if meta, err := client.ReleaseInfo(ctx); err == nil {
		release = load.ReleaseInfo{
			Version:          meta.Version,
			Date:             meta.Date,
			SwissprotEntries: meta.SwissprotEntries,
			TremblEntries:    meta.TremblEntries,
		}
	} else {
		logger.Warn().Err(err).Msg("no mirror release metadata, relying on the XML release attribute")
	}

	var paths []string
	for _, name := range files {
		path, err := client.Download(ctx, name)
		if err != nil {
			return nil, release, err
		}
		if err := client.Verify(ctx, path); err != nil {
			return nil, release, err
		}
		paths = append(paths, path)
	}
	return paths, release, nil
}

func runTransform(ctx context.Context, cfg *config.Config, inputs []string, profile encoder.Profile, opts Options) (*transform.Result, error) {
	const op = errors.Op("pipeline.runTransform")

	sources := make([]transform.Source, 0, len(inputs))
	for _, path := range inputs {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.E(op, errors.KindIO, "open input "+path, err)
		}
		defer f.Close()
		sources = append(sources, transform.Source{Name: filepath.Base(path), Reader: f})
	}

	return transform.Run(ctx, sources, transform.Options{
		Workers:    cfg.Load.Workers,
		QueueDepth: cfg.Load.QueueDepth,
		Profile:    profile,
		SpoolDir:   cfg.SpoolDirectory,
		Progress:   opts.Progress,
		Logger:     opts.Logger,
	})
}

// cleanSpool removes the spool files once a run finishes. A delta skipped by
// the version guard still spooled the whole transform, so the skip path
// cleans up too.
func cleanSpool(dir string, logger zerolog.Logger) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.tsv.gz"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("could not remove spool file")
		}
	}
}
