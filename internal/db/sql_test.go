package db

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nishad/uniload/internal/errors"
	"github.com/nishad/uniload/internal/schema"
)

func mustTable(t *testing.T, name string) schema.Table {
	t.Helper()
	tab, ok := schema.DataTable(name)
	if !ok {
		t.Fatalf("no catalog entry for %s", name)
	}
	return tab
}

func TestCopySQL(t *testing.T) {
	got := copySQL("uniprot_public", mustTable(t, schema.TableSequences))
	want := `COPY "uniprot_public"."sequences" ("primary_accession", "sequence") FROM STDIN`
	if got != want {
		t.Errorf("copySQL =\n%s\nwant\n%s", got, want)
	}
}

func TestUpsertSQLWithNonKeyColumns(t *testing.T) {
	got := upsertSQL("stg", "prod", mustTable(t, schema.TableTaxonomy))

	for _, frag := range []string{
		`INSERT INTO "prod"."taxonomy"`,
		`SELECT "ncbi_taxid", "scientific_name", "lineage" FROM "stg"."taxonomy"`,
		`ON CONFLICT ("ncbi_taxid") DO UPDATE SET`,
		`"scientific_name" = EXCLUDED."scientific_name"`,
		`"lineage" = EXCLUDED."lineage"`,
	} {
		if !strings.Contains(got, frag) {
			t.Errorf("upsertSQL missing %q:\n%s", frag, got)
		}
	}
}

func TestUpsertSQLAllKeyColumns(t *testing.T) {
	got := upsertSQL("stg", "prod", mustTable(t, schema.TableProteinToGo))
	if !strings.HasSuffix(got, "DO NOTHING") {
		t.Errorf("all-key table should degrade to DO NOTHING:\n%s", got)
	}
}

func TestHistorySQLKeepsEndTimeNullable(t *testing.T) {
	got := historySQL("uniprot_public")
	if !strings.Contains(got, `FROM "uniprot_public"."load_history"`) {
		t.Errorf("historySQL targets the wrong table:\n%s", got)
	}
	if !strings.Contains(got, "start_time, end_time,") {
		t.Errorf("historySQL must select end_time as-is:\n%s", got)
	}
	// A running run has a NULL end_time; substituting a timestamp would make
	// it look finished to every reader of the scanned record.
	if strings.Contains(got, "COALESCE(end_time") {
		t.Errorf("historySQL must not substitute a sentinel for NULL end_time:\n%s", got)
	}
}

func TestDeleteSetSQLScopesToStagingProteins(t *testing.T) {
	got := deleteSetSQL("stg", "prod", mustTable(t, schema.TableGenes))
	want := `DELETE FROM "prod"."genes" WHERE "protein_accession" IN (SELECT "primary_accession" FROM "stg"."proteins")`
	if got != want {
		t.Errorf("deleteSetSQL =\n%s\nwant\n%s", got, want)
	}
}

func TestDeleteSetSQLSequencesUsesOwnKeyColumn(t *testing.T) {
	// The sequences table names its accession column differently.
	got := deleteSetSQL("stg", "prod", mustTable(t, schema.TableSequences))
	if !strings.Contains(got, `"prod"."sequences" WHERE "primary_accession" IN`) {
		t.Errorf("deleteSetSQL should use the table's first column:\n%s", got)
	}
}

func TestWriteReleaseSQLUpserts(t *testing.T) {
	got := writeReleaseSQL("uniprot_public")
	if !strings.Contains(got, `"uniprot_public"."py_load_uniprot_metadata"`) {
		t.Errorf("writeReleaseSQL targets wrong table:\n%s", got)
	}
	if !strings.Contains(got, "ON CONFLICT (version) DO UPDATE") {
		t.Errorf("writeReleaseSQL should upsert on version:\n%s", got)
	}
}

func TestKindForConstraintViolations(t *testing.T) {
	fkErr := &pgconn.PgError{Code: "23503"}
	if got := kindFor(fkErr, errors.KindBulkIngestFailure); got != errors.KindConstraintViolation {
		t.Errorf("kindFor(23503) = %v", got)
	}
	wrapped := stderrors.Join(stderrors.New("copy failed"), &pgconn.PgError{Code: "23505"})
	if got := kindFor(wrapped, errors.KindBulkIngestFailure); got != errors.KindConstraintViolation {
		t.Errorf("kindFor(wrapped 23505) = %v", got)
	}
	if got := kindFor(stderrors.New("timeout"), errors.KindBulkIngestFailure); got != errors.KindBulkIngestFailure {
		t.Errorf("kindFor(plain error) = %v", got)
	}
	if got := kindFor(&pgconn.PgError{Code: "42P01"}, errors.KindBulkIngestFailure); got != errors.KindBulkIngestFailure {
		t.Errorf("kindFor(42P01) = %v, want fallback", got)
	}
}
