package db

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/nishad/uniload/internal/errors"
	"github.com/nishad/uniload/internal/schema"
)

// Postgres implements Adapter on top of a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ Adapter = (*Postgres)(nil)

// Connect opens a pool against dsn and verifies connectivity with one ping.
func Connect(ctx context.Context, dsn string, logger zerolog.Logger) (*Postgres, error) {
	const op = errors.Op("db.Connect")

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.E(op, errors.KindConfig, "parse database url", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.E(op, errors.KindAdapterUnavailable, err)
	}
	p := &Postgres{
		pool:   pool,
		logger: logger.With().Str("component", "db").Logger(),
	}
	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return errors.E(errors.Op("db.Ping"), errors.KindAdapterUnavailable, err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) SchemaExists(ctx context.Context, name string) (bool, error) {
	const op = errors.Op("db.SchemaExists")
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		name).Scan(&exists)
	if err != nil {
		return false, errors.E(op, kindFor(err, errors.KindAdapterUnavailable), err)
	}
	return exists, nil
}

func (p *Postgres) CreateSchema(ctx context.Context, name string) error {
	const op = errors.Op("db.CreateSchema")
	if _, err := p.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(name)); err != nil {
		return errors.E(op, kindFor(err, errors.KindBulkIngestFailure), "create schema "+name, err)
	}
	p.logger.Debug().Str("schema", name).Msg("schema created")
	return nil
}

func (p *Postgres) DropSchema(ctx context.Context, name string) error {
	const op = errors.Op("db.DropSchema")
	if _, err := p.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+quoteIdent(name)+" CASCADE"); err != nil {
		return errors.E(op, kindFor(err, errors.KindBulkIngestFailure), "drop schema "+name, err)
	}
	p.logger.Debug().Str("schema", name).Msg("schema dropped")
	return nil
}

func (p *Postgres) ApplyTableDefinitions(ctx context.Context, schemaName string) error {
	const op = errors.Op("db.ApplyTableDefinitions")
	for _, t := range schema.Tables {
		if _, err := p.pool.Exec(ctx, t.CreateDDL(schemaName)); err != nil {
			return errors.E(op, kindFor(err, errors.KindBulkIngestFailure), "create table "+t.Name, err)
		}
	}
	for _, t := range schema.MetadataTables {
		if _, err := p.pool.Exec(ctx, t.CreateDDL(schemaName)); err != nil {
			return errors.E(op, kindFor(err, errors.KindBulkIngestFailure), "create table "+t.Name, err)
		}
	}
	return nil
}

func (p *Postgres) CreateIndexes(ctx context.Context, schemaName string) error {
	const op = errors.Op("db.CreateIndexes")
	for _, ix := range schema.Indexes {
		start := time.Now()
		if _, err := p.pool.Exec(ctx, ix.CreateDDL(schemaName)); err != nil {
			return errors.E(op, kindFor(err, errors.KindBulkIngestFailure), "create index "+ix.Name, err)
		}
		p.logger.Debug().Str("index", ix.Name).Dur("elapsed", time.Since(start)).Msg("index built")
	}
	return nil
}

func (p *Postgres) Analyze(ctx context.Context, schemaName string) error {
	const op = errors.Op("db.Analyze")
	for _, table := range schema.LoadOrder() {
		stmt := "ANALYZE " + qualified(schemaName, table)
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return errors.E(op, kindFor(err, errors.KindBulkIngestFailure), "analyze "+table, err)
		}
	}
	return nil
}

// BulkIngest streams data through the COPY protocol on a dedicated connection.
func (p *Postgres) BulkIngest(ctx context.Context, schemaName, table string, data io.Reader) (int64, error) {
	const op = errors.Op("db.BulkIngest")

	t, ok := schema.DataTable(table)
	if !ok {
		return 0, errors.E(op, errors.KindBulkIngestFailure, "unknown table "+table)
	}
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return 0, errors.E(op, errors.KindAdapterUnavailable, err)
	}
	defer conn.Release()

	tag, err := conn.Conn().PgConn().CopyFrom(ctx, data, copySQL(schemaName, t))
	if err != nil {
		return 0, errors.E(op, kindFor(err, errors.KindBulkIngestFailure), "copy into "+table, err)
	}
	return tag.RowsAffected(), nil
}

// SwapSchemas runs the cutover transaction. Both renames and the release row
// commit together, so no reader of the production name can observe a
// half-swapped state.
func (p *Postgres) SwapSchemas(ctx context.Context, production, archive, staging string, release ReleaseRecord) error {
	const op = errors.Op("db.SwapSchemas")

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
			production).Scan(&exists); err != nil {
			return err
		}
		if exists {
			if _, err := tx.Exec(ctx,
				"ALTER SCHEMA "+quoteIdent(production)+" RENAME TO "+quoteIdent(archive)); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx,
			"ALTER SCHEMA "+quoteIdent(staging)+" RENAME TO "+quoteIdent(production)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, writeReleaseSQL(production), release.Version, release.ReleaseDate,
			release.LoadTimestamp, release.SwissprotEntryCount, release.TremblEntryCount)
		return err
	})
	if err != nil {
		return errors.E(op, errors.KindCutoverFailure, err)
	}
	p.logger.Info().Str("production", production).Str("archive", archive).
		Str("release", release.Version).Msg("schema cutover committed")
	return nil
}

func (p *Postgres) UpsertFromStaging(ctx context.Context, staging, production string, t schema.Table) (int64, error) {
	const op = errors.Op("db.UpsertFromStaging")
	tag, err := p.pool.Exec(ctx, upsertSQL(staging, production, t))
	if err != nil {
		return 0, errors.E(op, kindFor(err, errors.KindBulkIngestFailure), "merge "+t.Name, err)
	}
	return tag.RowsAffected(), nil
}

// ReplaceRelationSets deletes and reinserts a child table's rows for every
// protein present in staging. Delete and insert share one transaction so a
// concurrent reader never sees a protein with no relations.
func (p *Postgres) ReplaceRelationSets(ctx context.Context, staging, production string, t schema.Table) (int64, error) {
	const op = errors.Op("db.ReplaceRelationSets")

	var inserted int64
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteSetSQL(staging, production, t)); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, insertSetSQL(staging, production, t))
		if err != nil {
			return err
		}
		inserted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, errors.E(op, kindFor(err, errors.KindBulkIngestFailure), "replace sets in "+t.Name, err)
	}
	return inserted, nil
}

func (p *Postgres) PurgeObsolete(ctx context.Context, staging, production string) (int64, error) {
	const op = errors.Op("db.PurgeObsolete")
	stmt := fmt.Sprintf(
		"DELETE FROM %s WHERE %s NOT IN (SELECT %s FROM %s)",
		qualified(production, schema.TableProteins), quoteIdent("primary_accession"),
		quoteIdent("primary_accession"), qualified(staging, schema.TableProteins))
	tag, err := p.pool.Exec(ctx, stmt)
	if err != nil {
		return 0, errors.E(op, kindFor(err, errors.KindBulkIngestFailure), "purge obsolete proteins", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) CurrentRelease(ctx context.Context, schemaName string) (*ReleaseRecord, error) {
	const op = errors.Op("db.CurrentRelease")
	row := p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT version, release_date, load_timestamp, swissprot_entry_count, trembl_entry_count
		 FROM %s ORDER BY load_timestamp DESC LIMIT 1`,
		qualified(schemaName, schema.TableMetadata)))

	var rel ReleaseRecord
	err := row.Scan(&rel.Version, &rel.ReleaseDate, &rel.LoadTimestamp,
		&rel.SwissprotEntryCount, &rel.TremblEntryCount)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(op, kindFor(err, errors.KindAdapterUnavailable), err)
	}
	return &rel, nil
}

func (p *Postgres) WriteRelease(ctx context.Context, schemaName string, release ReleaseRecord) error {
	const op = errors.Op("db.WriteRelease")
	_, err := p.pool.Exec(ctx, writeReleaseSQL(schemaName), release.Version, release.ReleaseDate,
		release.LoadTimestamp, release.SwissprotEntryCount, release.TremblEntryCount)
	if err != nil {
		return errors.E(op, kindFor(err, errors.KindBulkIngestFailure), err)
	}
	return nil
}

func (p *Postgres) BeginRun(ctx context.Context, schemaName string, run RunRecord) error {
	const op = errors.Op("db.BeginRun")
	stmt := fmt.Sprintf(
		`INSERT INTO %s (run_id, status, mode, dataset, start_time) VALUES ($1, $2, $3, $4, $5)`,
		qualified(schemaName, schema.TableLoadHistory))
	if _, err := p.pool.Exec(ctx, stmt, run.RunID, RunRunning, run.Mode, run.Dataset, run.StartTime); err != nil {
		return errors.E(op, kindFor(err, errors.KindAdapterUnavailable), err)
	}
	return nil
}

func (p *Postgres) FinishRun(ctx context.Context, schemaName string, run RunRecord) error {
	const op = errors.Op("db.FinishRun")
	history := qualified(schemaName, schema.TableLoadHistory)

	tag, err := p.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = $2, end_time = $3, error_message = NULLIF($4, '') WHERE run_id = $1`,
		history), run.RunID, run.Status, run.EndTime, run.ErrorMessage)
	if err != nil {
		return errors.E(op, kindFor(err, errors.KindAdapterUnavailable), err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// The running row swapped away with the old production schema. Record the
	// whole run in the current one.
	_, err = p.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (run_id, status, mode, dataset, start_time, end_time, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		history), run.RunID, run.Status, run.Mode, run.Dataset, run.StartTime, run.EndTime, run.ErrorMessage)
	if err != nil {
		return errors.E(op, kindFor(err, errors.KindAdapterUnavailable), err)
	}
	return nil
}

func (p *Postgres) History(ctx context.Context, schemaName string, limit int) ([]RunRecord, error) {
	const op = errors.Op("db.History")
	rows, err := p.pool.Query(ctx, historySQL(schemaName), limit)
	if err != nil {
		return nil, errors.E(op, kindFor(err, errors.KindAdapterUnavailable), err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		// end_time stays NULL while a run is in flight; a sentinel here would
		// leak into the zero-value check callers use to detect running runs.
		var end *time.Time
		if err := rows.Scan(&r.ID, &r.RunID, &r.Status, &r.Mode, &r.Dataset,
			&r.StartTime, &end, &r.ErrorMessage); err != nil {
			return nil, errors.E(op, errors.KindAdapterUnavailable, err)
		}
		if end != nil {
			r.EndTime = *end
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(op, errors.KindAdapterUnavailable, err)
	}
	return out, nil
}

// kindFor maps database errors onto the error taxonomy: integrity violations
// (SQLSTATE class 23) become constraint violations, everything else keeps the
// caller's fallback kind.
func kindFor(err error, fallback errors.Kind) errors.Kind {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return errors.KindConstraintViolation
	}
	return fallback
}

// copySQL emits the COPY statement for one catalog table.
func copySQL(schemaName string, t schema.Table) string {
	return fmt.Sprintf("COPY %s (%s) FROM STDIN", qualified(schemaName, t.Name), joinIdents(t.Columns))
}

// upsertSQL emits the staging to production merge for one table. Tables whose
// every column is part of the key degrade to insert-if-absent.
func upsertSQL(staging, production string, t schema.Table) string {
	cols := joinIdents(t.Columns)
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) ",
		qualified(production, t.Name), cols, cols, qualified(staging, t.Name), joinIdents(t.PrimaryKey))

	nonKey := t.NonKeyColumns()
	if len(nonKey) == 0 {
		return stmt + "DO NOTHING"
	}
	sets := make([]string, len(nonKey))
	for i, c := range nonKey {
		sets[i] = quoteIdent(c) + " = EXCLUDED." + quoteIdent(c)
	}
	return stmt + "DO UPDATE SET " + strings.Join(sets, ", ")
}

// deleteSetSQL clears a child table's production rows for every protein that
// staging knows about, so sets can shrink as well as grow.
func deleteSetSQL(staging, production string, t schema.Table) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s IN (SELECT %s FROM %s)",
		qualified(production, t.Name), quoteIdent(t.Columns[0]),
		quoteIdent("primary_accession"), qualified(staging, schema.TableProteins))
}

func insertSetSQL(staging, production string, t schema.Table) string {
	cols := joinIdents(t.Columns)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		qualified(production, t.Name), cols, cols, qualified(staging, t.Name))
}

// historySQL selects end_time unconverted so rows still running come back
// with a NULL the scan can turn into a zero time.
func historySQL(schemaName string) string {
	return fmt.Sprintf(
		`SELECT id, run_id, status, mode, dataset, start_time, end_time, COALESCE(error_message, '')
		 FROM %s ORDER BY start_time DESC LIMIT $1`,
		qualified(schemaName, schema.TableLoadHistory))
}

func writeReleaseSQL(schemaName string) string {
	return fmt.Sprintf(
		`INSERT INTO %s (version, release_date, load_timestamp, swissprot_entry_count, trembl_entry_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (version) DO UPDATE SET
		   release_date = EXCLUDED.release_date,
		   load_timestamp = EXCLUDED.load_timestamp,
		   swissprot_entry_count = EXCLUDED.swissprot_entry_count,
		   trembl_entry_count = EXCLUDED.trembl_entry_count`,
		qualified(schemaName, schema.TableMetadata))
}

func qualified(schemaName, table string) string {
	return quoteIdent(schemaName) + "." + quoteIdent(table)
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
