// Package db defines the database adapter capabilities the load director
// drives, and the PostgreSQL implementation behind them. The director never
// builds SQL; everything schema-shaped comes out of the catalog and everything
// SQL-shaped lives here.
package db

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/nishad/uniload/internal/schema"
)

// ReleaseRecord is one row of the release registry table.
type ReleaseRecord struct {
	Version             string
	ReleaseDate         time.Time
	LoadTimestamp       time.Time
	SwissprotEntryCount int64
	TremblEntryCount    int64
}

// RunRecord is one row of the load_history table.
type RunRecord struct {
	ID           int64
	RunID        uuid.UUID
	Status       string
	Mode         string
	Dataset      string
	StartTime    time.Time
	EndTime      time.Time
	ErrorMessage string
}

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Adapter is the capability surface a target database must provide. All
// methods take the schema name explicitly because a run works with up to
// three schemas at once: production, staging and archive.
type Adapter interface {
	// Ping verifies the target is reachable. Returns KindAdapterUnavailable
	// when it is not.
	Ping(ctx context.Context) error
	Close()

	SchemaExists(ctx context.Context, name string) (bool, error)
	CreateSchema(ctx context.Context, name string) error
	DropSchema(ctx context.Context, name string) error

	// ApplyTableDefinitions creates every catalog table, data and registry
	// alike, inside the named schema.
	ApplyTableDefinitions(ctx context.Context, schemaName string) error
	CreateIndexes(ctx context.Context, schemaName string) error
	Analyze(ctx context.Context, schemaName string) error

	// BulkIngest streams COPY text-format rows into schemaName.table and
	// returns the row count. The column list comes from the catalog.
	BulkIngest(ctx context.Context, schemaName, table string, data io.Reader) (int64, error)

	// SwapSchemas promotes staging to production in one transaction: the
	// current production schema (if any) is renamed to archive, staging is
	// renamed to production, and the release row is written into the freshly
	// promoted schema. Failures surface as KindCutoverFailure and leave the
	// previous production untouched.
	SwapSchemas(ctx context.Context, production, archive, staging string, release ReleaseRecord) error

	// UpsertFromStaging merges one table from staging into production using
	// the table's primary key as the conflict target.
	UpsertFromStaging(ctx context.Context, staging, production string, t schema.Table) (int64, error)

	// ReplaceRelationSets replaces, per protein present in staging, the
	// production rows of a set-valued child table with the staging rows.
	ReplaceRelationSets(ctx context.Context, staging, production string, t schema.Table) (int64, error)

	// PurgeObsolete deletes production proteins absent from staging. Child
	// rows go with them through the cascading foreign keys.
	PurgeObsolete(ctx context.Context, staging, production string) (int64, error)

	CurrentRelease(ctx context.Context, schemaName string) (*ReleaseRecord, error)
	WriteRelease(ctx context.Context, schemaName string, release ReleaseRecord) error

	BeginRun(ctx context.Context, schemaName string, run RunRecord) error
	// FinishRun records the terminal state of a run, matching on run_id. If
	// no running row exists in schemaName (it was left behind in an archived
	// schema by a full-load swap) a complete row is inserted instead.
	FinishRun(ctx context.Context, schemaName string, run RunRecord) error
	History(ctx context.Context, schemaName string, limit int) ([]RunRecord, error)
}
