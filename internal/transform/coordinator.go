// Package transform is the parallel transform coordinator: one reader
// splitting the XML stream into raw entry fragments, a pool of workers
// parsing and encoding them, and a single writer appending rows to per-table
// spool files. Bounded queues on both sides keep memory proportional to
// worker count times the largest entry, never to file size.
package transform

import (
	"compress/gzip"
	"context"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nishad/uniload/internal/encoder"
	"github.com/nishad/uniload/internal/errors"
	"github.com/nishad/uniload/internal/parser"
)

// Source is one gzip-compressed UniProtKB XML input.
type Source struct {
	Name   string
	Reader io.Reader
}

// Progress is a periodic snapshot of coordinator throughput.
type Progress struct {
	Source     string
	Entries    int64
	BadEntries int64
	Rows       int64
	Elapsed    time.Duration
}

// ProgressFunc receives progress snapshots. Called from the writer goroutine.
type ProgressFunc func(Progress)

// Options configures a coordinator run.
type Options struct {
	// Workers is the transform pool size. Defaults to GOMAXPROCS.
	Workers int
	// QueueDepth bounds both queues, in entries. Defaults to 2 x Workers.
	QueueDepth int
	Profile    encoder.Profile
	SpoolDir   string
	Progress   ProgressFunc
	Logger     zerolog.Logger
}

// Result reports a completed coordinator run.
type Result struct {
	ReleaseTag  string
	Entries     int64
	BadEntries  int64
	RowsByTable map[string]int64
	SpoolFiles  map[string]string
}

// progressEvery is how many entries pass between progress callbacks.
const progressEvery = 10000

// batch carries all rows of one entry. The writer never splits a batch, so an
// entry is always fully spooled or not at all.
type batch struct {
	rows []encoder.Row
}

// Run transforms every source into the per-table spool files under
// opts.SpoolDir. On any failure other than a malformed entry it cancels the
// pool, deletes all spool files and returns the originating error.
func Run(ctx context.Context, sources []Source, opts Options) (*Result, error) {
	const op = errors.Op("transform.Run")

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = 2 * workers
	}

	sp, err := openSpool(opts.SpoolDir)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	logger := opts.Logger.With().Str("component", "transform").Logger()
	logger.Info().Int("workers", workers).Int("queue_depth", depth).
		Str("spool_dir", opts.SpoolDir).Msg("starting transform")

	var (
		entries    atomic.Int64
		badEntries atomic.Int64
		releaseTag string
		current    atomic.Value // name of the source being read
	)
	current.Store("")

	fragments := make(chan []byte, depth)
	batches := make(chan batch, depth)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)

	// Reader: boundary-scan each source into raw entry fragments.
	g.Go(func() error {
		defer close(fragments)
		for _, src := range sources {
			current.Store(src.Name)
			gz, err := gzip.NewReader(src.Reader)
			if err != nil {
				return errors.E(op, errors.KindTransformFailure, "open "+src.Name, err)
			}
			stream, err := parser.NewStream(gz)
			if err != nil {
				return errors.Wrap(op, err)
			}
			if releaseTag == "" {
				releaseTag = stream.ReleaseTag()
			}
			for {
				frag, err := stream.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return errors.Wrap(op, err)
				}
				select {
				case fragments <- frag:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := gz.Close(); err != nil {
				return errors.E(op, errors.KindTransformFailure, "close "+src.Name, err)
			}
		}
		return nil
	})

	// Workers: parse and encode fragments. Malformed entries are counted and
	// skipped; everything else aborts the run.
	var workerWG sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerWG.Add(1)
		g.Go(func() error {
			defer workerWG.Done()
			for frag := range fragments {
				entry, err := parser.ParseEntry(frag)
				if err != nil {
					if errors.Is(errors.KindInvalidEntry, err) {
						badEntries.Add(1)
						logger.Warn().Err(err).Msg("skipping malformed entry")
						continue
					}
					return errors.Wrap(op, err)
				}
				rows, err := encoder.EncodeEntry(entry, opts.Profile)
				if err != nil {
					if errors.Is(errors.KindInvalidEntry, err) {
						badEntries.Add(1)
						logger.Warn().Err(err).Str("accession", entry.PrimaryAccession).
							Msg("skipping unencodable entry")
						continue
					}
					return errors.Wrap(op, err)
				}
				entries.Add(1)
				select {
				case batches <- batch{rows: rows}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		workerWG.Wait()
		close(batches)
		return nil
	})

	// Writer: the only goroutine touching the spool files.
	g.Go(func() error {
		var written int64
		var sinceReport int64
		for b := range batches {
			for _, row := range b.rows {
				if err := sp.writeRow(row); err != nil {
					return errors.Wrap(op, err)
				}
				written++
			}
			sinceReport++
			if opts.Progress != nil && sinceReport >= progressEvery {
				sinceReport = 0
				opts.Progress(Progress{
					Source:     current.Load().(string),
					Entries:    entries.Load(),
					BadEntries: badEntries.Load(),
					Rows:       written,
					Elapsed:    time.Since(start),
				})
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		sp.discard()
		if err == context.Canceled || ctx.Err() == context.Canceled {
			logger.Info().Msg("transform cancelled, spool files deleted")
			return nil, err
		}
		logger.Error().Err(err).Msg("transform failed, spool files deleted")
		return nil, err
	}

	if err := sp.finalize(); err != nil {
		sp.discard()
		return nil, errors.Wrap(op, err)
	}

	res := &Result{
		ReleaseTag:  releaseTag,
		Entries:     entries.Load(),
		BadEntries:  badEntries.Load(),
		RowsByTable: sp.rows,
		SpoolFiles:  sp.paths(),
	}
	logger.Info().Int64("entries", res.Entries).Int64("bad_entries", res.BadEntries).
		Str("release", res.ReleaseTag).Dur("elapsed", time.Since(start)).
		Msg("transform complete")
	return res, nil
}
