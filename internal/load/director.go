// Package load is the strategy director: it sequences schema management, bulk
// ingest and cutover for full loads, and the staged merge for delta loads. It
// owns run bookkeeping in load_history but delegates every database mutation
// to the adapter.
package load

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nishad/uniload/internal/db"
	"github.com/nishad/uniload/internal/errors"
	"github.com/nishad/uniload/internal/schema"
	"github.com/nishad/uniload/internal/transform"
)

// Mode selects the load strategy.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeDelta Mode = "delta"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	return m == ModeFull || m == ModeDelta
}

// ReleaseInfo is what the mirror metadata files say about the release being
// loaded. All fields are optional; the XML release attribute fills the gaps.
type ReleaseInfo struct {
	Version          string
	Date             time.Time
	SwissprotEntries int64
	TremblEntries    int64
}

// TransformFunc produces the spool files for a run. The director calls it
// exactly once, after run bookkeeping has started.
type TransformFunc func(ctx context.Context) (*transform.Result, error)

// Request describes one load run.
type Request struct {
	Mode       Mode
	Dataset    string
	Production string
	Release    ReleaseInfo
	Transform  TransformFunc
	// PurgeObsolete removes production proteins absent from a delta's input.
	// Off by default: deprecated entries are retained.
	PurgeObsolete bool
}

// Report summarizes a finished run.
type Report struct {
	RunID      uuid.UUID
	ReleaseTag string
	Entries    int64
	BadEntries int64
	RowsLoaded map[string]int64
	Purged     int64
	// Skipped is set when a delta load found production already at the
	// incoming release version and did nothing.
	Skipped bool
}

// Director runs load strategies against one adapter.
type Director struct {
	adapter db.Adapter
	logger  zerolog.Logger
	now     func() time.Time
}

// New returns a Director using ad for all database work.
func New(ad db.Adapter, logger zerolog.Logger) *Director {
	return &Director{
		adapter: ad,
		logger:  logger.With().Str("component", "load").Logger(),
		now:     time.Now,
	}
}

// Run dispatches to the strategy named by req.Mode.
func (d *Director) Run(ctx context.Context, req Request) (*Report, error) {
	const op = errors.Op("load.Run")
	if !req.Mode.Valid() {
		return nil, errors.E(op, errors.KindConfig, "unknown load mode "+string(req.Mode))
	}
	if req.Production == "" {
		return nil, errors.E(op, errors.KindConfig, "production schema name is empty")
	}
	if req.Transform == nil {
		return nil, errors.E(op, errors.KindConfig, "no transform source")
	}
	if req.Mode == ModeDelta {
		return d.delta(ctx, req)
	}
	return d.full(ctx, req)
}

// full runs the swap strategy: everything lands in a staging schema, then one
// transaction renames production aside and staging into its place.
func (d *Director) full(ctx context.Context, req Request) (*Report, error) {
	const op = errors.Op("load.full")

	run := db.RunRecord{
		RunID:     uuid.New(),
		Mode:      string(ModeFull),
		Dataset:   req.Dataset,
		StartTime: d.now().UTC(),
	}
	logger := d.logger.With().Stringer("run_id", run.RunID).Str("mode", "full").Logger()

	prodExists, err := d.adapter.SchemaExists(ctx, req.Production)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	// On the very first load there is no schema to host the running row; the
	// terminal row lands in the new production after cutover.
	if prodExists {
		if err := d.adapter.BeginRun(ctx, req.Production, run); err != nil {
			return nil, errors.Wrap(op, err)
		}
	}

	report, err := d.fullBody(ctx, req, logger)
	if err != nil {
		d.markFailed(ctx, req.Production, run, err)
		return nil, errors.Wrap(op, err)
	}

	run.Status = db.RunSucceeded
	run.EndTime = d.now().UTC()
	if err := d.adapter.FinishRun(ctx, req.Production, run); err != nil {
		logger.Error().Err(err).Msg("run succeeded but history update failed")
	}
	report.RunID = run.RunID
	return report, nil
}

func (d *Director) fullBody(ctx context.Context, req Request, logger zerolog.Logger) (*Report, error) {
	res, err := req.Transform(ctx)
	if err != nil {
		return nil, err
	}
	tag := releaseTag(res, req.Release, d.now())

	staging, err := d.prepareStaging(ctx, req.Production, tag, res, logger)
	if err != nil {
		return nil, err
	}

	if err := d.adapter.CreateIndexes(ctx, staging); err != nil {
		d.dropStaging(ctx, staging, logger)
		return nil, err
	}
	if err := d.adapter.Analyze(ctx, staging); err != nil {
		d.dropStaging(ctx, staging, logger)
		return nil, err
	}

	archive := ArchiveSchemaName(req.Production, d.now())
	rel := releaseRecord(tag, req.Release, d.now())
	if err := d.adapter.SwapSchemas(ctx, req.Production, archive, staging, rel); err != nil {
		d.dropStaging(ctx, staging, logger)
		return nil, err
	}
	logger.Info().Str("release", tag).Str("archive", archive).Msg("full load cut over")

	return &Report{
		ReleaseTag: tag,
		Entries:    res.Entries,
		BadEntries: res.BadEntries,
		RowsLoaded: res.RowsByTable,
	}, nil
}

// delta runs the merge strategy: staging is loaded the same way, then merged
// into the live production schema parents first and dropped.
func (d *Director) delta(ctx context.Context, req Request) (*Report, error) {
	const op = errors.Op("load.delta")

	prodExists, err := d.adapter.SchemaExists(ctx, req.Production)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if !prodExists {
		return nil, errors.E(op, errors.KindConfig,
			"no production schema "+req.Production+"; run a full load first")
	}

	current, err := d.adapter.CurrentRelease(ctx, req.Production)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	// Guard before any work when the mirror metadata already names a version.
	if req.Release.Version != "" {
		skip, err := checkVersionGuard(op, current, req.Release.Version)
		if err != nil {
			return nil, err
		}
		if skip {
			return skippedReport(req.Release.Version), nil
		}
	}

	run := db.RunRecord{
		RunID:     uuid.New(),
		Mode:      string(ModeDelta),
		Dataset:   req.Dataset,
		StartTime: d.now().UTC(),
	}
	logger := d.logger.With().Stringer("run_id", run.RunID).Str("mode", "delta").Logger()
	if err := d.adapter.BeginRun(ctx, req.Production, run); err != nil {
		return nil, errors.Wrap(op, err)
	}

	report, err := d.deltaBody(ctx, req, current, logger)
	if err != nil {
		d.markFailed(ctx, req.Production, run, err)
		return nil, errors.Wrap(op, err)
	}

	run.Status = db.RunSucceeded
	run.EndTime = d.now().UTC()
	if err := d.adapter.FinishRun(ctx, req.Production, run); err != nil {
		logger.Error().Err(err).Msg("run succeeded but history update failed")
	}
	report.RunID = run.RunID
	return report, nil
}

func (d *Director) deltaBody(ctx context.Context, req Request, current *db.ReleaseRecord, logger zerolog.Logger) (*Report, error) {
	const op = errors.Op("load.delta")

	res, err := req.Transform(ctx)
	if err != nil {
		return nil, err
	}
	tag := releaseTag(res, req.Release, d.now())
	// Re-check with the tag the data actually carries.
	if skip, err := checkVersionGuard(op, current, tag); err != nil {
		return nil, err
	} else if skip {
		return skippedReport(tag), nil
	}

	staging, err := d.prepareStaging(ctx, req.Production, tag, res, logger)
	if err != nil {
		return nil, err
	}
	defer d.dropStaging(ctx, staging, logger)

	if err := d.adapter.Analyze(ctx, staging); err != nil {
		return nil, err
	}

	merged := make(map[string]int64, len(schema.Tables))
	setValued := make(map[string]bool)
	for _, name := range schema.SetValuedChildTables() {
		setValued[name] = true
	}
	for _, t := range schema.Tables {
		var n int64
		var err error
		if setValued[t.Name] {
			n, err = d.adapter.ReplaceRelationSets(ctx, staging, req.Production, t)
		} else {
			n, err = d.adapter.UpsertFromStaging(ctx, staging, req.Production, t)
		}
		if err != nil {
			return nil, err
		}
		merged[t.Name] = n
		logger.Info().Str("table", t.Name).Int64("rows", n).Msg("table merged")
	}

	var purged int64
	if req.PurgeObsolete {
		purged, err = d.adapter.PurgeObsolete(ctx, staging, req.Production)
		if err != nil {
			return nil, err
		}
		logger.Info().Int64("proteins", purged).Msg("obsolete entries purged")
	}

	if err := d.adapter.WriteRelease(ctx, req.Production, releaseRecord(tag, req.Release, d.now())); err != nil {
		return nil, err
	}

	return &Report{
		ReleaseTag: tag,
		Entries:    res.Entries,
		BadEntries: res.BadEntries,
		RowsLoaded: merged,
		Purged:     purged,
	}, nil
}

// prepareStaging creates a fresh staging schema and bulk-loads every spool
// file into it. A leftover staging schema from an aborted run with the same
// tag is dropped first.
func (d *Director) prepareStaging(ctx context.Context, production, tag string, res *transform.Result, logger zerolog.Logger) (string, error) {
	staging := StagingSchemaName(production, tag)

	exists, err := d.adapter.SchemaExists(ctx, staging)
	if err != nil {
		return "", err
	}
	if exists {
		logger.Warn().Str("schema", staging).Msg("dropping leftover staging schema")
		if err := d.adapter.DropSchema(ctx, staging); err != nil {
			return "", err
		}
	}
	if err := d.adapter.CreateSchema(ctx, staging); err != nil {
		return "", err
	}
	if err := d.adapter.ApplyTableDefinitions(ctx, staging); err != nil {
		d.dropStaging(ctx, staging, logger)
		return "", err
	}

	_, err = db.LoadSpools(ctx, d.adapter, db.LoadSpoolsOptions{
		SchemaName:   staging,
		SpoolFiles:   res.SpoolFiles,
		ExpectedRows: res.RowsByTable,
		Logger:       logger,
	})
	if err != nil {
		d.dropStaging(ctx, staging, logger)
		return "", err
	}
	return staging, nil
}

func (d *Director) dropStaging(ctx context.Context, staging string, logger zerolog.Logger) {
	// Cleanup runs even when the run's context is already cancelled.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
	}
	if err := d.adapter.DropSchema(ctx, staging); err != nil {
		logger.Error().Err(err).Str("schema", staging).Msg("failed to drop staging schema")
	}
}

func (d *Director) markFailed(ctx context.Context, production string, run db.RunRecord, cause error) {
	run.Status = db.RunFailed
	if ctx.Err() != nil {
		if context.Cause(ctx) == context.Canceled {
			run.Status = db.RunCancelled
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
	}
	run.EndTime = d.now().UTC()
	run.ErrorMessage = cause.Error()
	if exists, err := d.adapter.SchemaExists(ctx, production); err != nil || !exists {
		return
	}
	if err := d.adapter.FinishRun(ctx, production, run); err != nil {
		d.logger.Error().Err(err).Msg("failed to record run failure")
	}
}

// checkVersionGuard compares the incoming release tag with the registry's
// current version: equal means nothing to do, older is an error.
func checkVersionGuard(op errors.Op, current *db.ReleaseRecord, incoming string) (skip bool, err error) {
	if current == nil || incoming == "" {
		return false, nil
	}
	switch strings.Compare(incoming, current.Version) {
	case 0:
		return true, nil
	case -1:
		return false, errors.E(op, errors.KindConfig,
			"incoming release "+incoming+" is older than loaded release "+current.Version)
	}
	return false, nil
}

func skippedReport(tag string) *Report {
	return &Report{ReleaseTag: tag, Skipped: true}
}

// releaseTag picks the tag to stamp the run with: the XML release attribute
// wins, then the mirror metadata, then a timestamp so staging names stay
// unique.
func releaseTag(res *transform.Result, rel ReleaseInfo, now time.Time) string {
	if res.ReleaseTag != "" {
		return res.ReleaseTag
	}
	if rel.Version != "" {
		return rel.Version
	}
	return now.UTC().Format("20060102150405")
}

func releaseRecord(tag string, rel ReleaseInfo, now time.Time) db.ReleaseRecord {
	date := rel.Date
	if date.IsZero() {
		date = now.UTC()
	}
	return db.ReleaseRecord{
		Version:             tag,
		ReleaseDate:         date,
		LoadTimestamp:       now.UTC(),
		SwissprotEntryCount: rel.SwissprotEntries,
		TremblEntryCount:    rel.TremblEntries,
	}
}

// StagingSchemaName derives the staging schema for one release tag.
func StagingSchemaName(production, tag string) string {
	return production + "_staging_" + sanitizeTag(tag)
}

// ArchiveSchemaName derives the archive name a full load renames production to.
func ArchiveSchemaName(production string, now time.Time) string {
	return production + "_archive_" + now.UTC().Format("20060102150405")
}

// sanitizeTag keeps release tags safe inside schema identifiers.
func sanitizeTag(tag string) string {
	var b strings.Builder
	b.Grow(len(tag))
	for _, r := range strings.ToLower(tag) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
