package db

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nishad/uniload/internal/errors"
	"github.com/nishad/uniload/internal/schema"
)

// LoadSpoolsOptions configures one bulk-load pass over a spool directory.
type LoadSpoolsOptions struct {
	// SchemaName is the target schema, normally a staging schema.
	SchemaName string
	// SpoolFiles maps table name to spool file path.
	SpoolFiles map[string]string
	// ExpectedRows, when non-nil, is checked against the COPY row counts.
	ExpectedRows map[string]int64
	Logger       zerolog.Logger
}

// LoadSpools streams every spool file into its target table, parents before
// children. It stops at the first failing table; nothing loaded so far is
// rolled back because the whole staging schema is dropped on failure anyway.
func LoadSpools(ctx context.Context, ad Adapter, opts LoadSpoolsOptions) (map[string]int64, error) {
	const op = errors.Op("db.LoadSpools")

	logger := opts.Logger.With().Str("component", "bulkload").Logger()
	loaded := make(map[string]int64, len(opts.SpoolFiles))

	for _, table := range schema.LoadOrder() {
		path, ok := opts.SpoolFiles[table]
		if !ok {
			continue
		}
		start := time.Now()
		n, err := loadOne(ctx, ad, opts.SchemaName, table, path)
		if err != nil {
			return loaded, errors.Wrap(op, err)
		}
		loaded[table] = n

		if opts.ExpectedRows != nil {
			if want := opts.ExpectedRows[table]; want != n {
				return loaded, errors.E(op, errors.KindBulkIngestFailure,
					fmt.Sprintf("table %s loaded %d rows, spool has %d", table, n, want))
			}
		}
		logger.Info().Str("table", table).Int64("rows", n).
			Dur("elapsed", time.Since(start)).Msg("table loaded")
	}
	return loaded, nil
}

func loadOne(ctx context.Context, ad Adapter, schemaName, table, path string) (int64, error) {
	const op = errors.Op("db.loadOne")

	f, err := os.Open(path)
	if err != nil {
		return 0, errors.E(op, errors.KindIO, "open spool for "+table, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, errors.E(op, errors.KindIO, "read spool for "+table, err)
	}
	defer gz.Close()

	return ad.BulkIngest(ctx, schemaName, table, gz)
}
