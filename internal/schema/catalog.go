// Package schema is the declarative catalog of the target tables: ordered
// columns, primary keys, foreign keys and post-load index definitions. All
// DDL the adapter executes is emitted from here, so schema names are never
// hand-spliced into SQL elsewhere.
package schema

import "fmt"

// ForeignKey declares a reference from Columns to the parent table's key.
// References stay inside one schema so schema renames are self-contained.
type ForeignKey struct {
	Columns       []string
	ParentTable   string
	ParentColumns []string
	OnDelete      string // "CASCADE" or "" for the default RESTRICT
}

// Index is a post-load index definition.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Using   string // "" for B-tree, "GIN" for inverted
}

// Table declares one target table: name, ordered column definitions and keys.
// Column order matches the row encoder's output and the COPY column list.
type Table struct {
	Name        string
	Columns     []string
	ColumnTypes []string
	PrimaryKey  []string
	ForeignKeys []ForeignKey
}

const (
	TableProteins          = "proteins"
	TableSequences         = "sequences"
	TableAccessions        = "accessions"
	TableTaxonomy          = "taxonomy"
	TableGenes             = "genes"
	TableKeywords          = "keywords"
	TableProteinToGo       = "protein_to_go"
	TableProteinToTaxonomy = "protein_to_taxonomy"
	TableMetadata          = "py_load_uniprot_metadata"
	TableLoadHistory       = "load_history"
)

// Tables lists every data table in bulk-load order: parents before children
// so FK validation succeeds during delta merges.
var Tables = []Table{
	{
		Name:        TableTaxonomy,
		Columns:     []string{"ncbi_taxid", "scientific_name", "lineage"},
		ColumnTypes: []string{"BIGINT", "TEXT", "TEXT"},
		PrimaryKey:  []string{"ncbi_taxid"},
	},
	{
		Name: TableProteins,
		Columns: []string{
			"primary_accession", "uniprot_id", "ncbi_taxid",
			"sequence_length", "molecular_weight",
			"created_date", "modified_date",
			"comments_data", "features_data", "db_references_data", "evidence_data",
		},
		ColumnTypes: []string{
			"VARCHAR(32)", "VARCHAR(32)", "BIGINT",
			"INTEGER", "INTEGER",
			"DATE", "DATE",
			"JSONB", "JSONB", "JSONB", "JSONB",
		},
		PrimaryKey: []string{"primary_accession"},
		ForeignKeys: []ForeignKey{
			{Columns: []string{"ncbi_taxid"}, ParentTable: TableTaxonomy, ParentColumns: []string{"ncbi_taxid"}},
		},
	},
	{
		Name:        TableSequences,
		Columns:     []string{"primary_accession", "sequence"},
		ColumnTypes: []string{"VARCHAR(32)", "TEXT"},
		PrimaryKey:  []string{"primary_accession"},
		ForeignKeys: []ForeignKey{
			{Columns: []string{"primary_accession"}, ParentTable: TableProteins, ParentColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
		},
	},
	{
		Name:        TableAccessions,
		Columns:     []string{"protein_accession", "secondary_accession"},
		ColumnTypes: []string{"VARCHAR(32)", "VARCHAR(32)"},
		PrimaryKey:  []string{"protein_accession", "secondary_accession"},
		ForeignKeys: []ForeignKey{
			{Columns: []string{"protein_accession"}, ParentTable: TableProteins, ParentColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
		},
	},
	{
		Name:        TableGenes,
		Columns:     []string{"protein_accession", "gene_name", "is_primary"},
		ColumnTypes: []string{"VARCHAR(32)", "TEXT", "BOOLEAN"},
		PrimaryKey:  []string{"protein_accession", "gene_name"},
		ForeignKeys: []ForeignKey{
			{Columns: []string{"protein_accession"}, ParentTable: TableProteins, ParentColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
		},
	},
	{
		Name:        TableKeywords,
		Columns:     []string{"protein_accession", "keyword_id", "keyword_label"},
		ColumnTypes: []string{"VARCHAR(32)", "VARCHAR(16)", "TEXT"},
		PrimaryKey:  []string{"protein_accession", "keyword_id"},
		ForeignKeys: []ForeignKey{
			{Columns: []string{"protein_accession"}, ParentTable: TableProteins, ParentColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
		},
	},
	{
		Name:        TableProteinToGo,
		Columns:     []string{"protein_accession", "go_term_id"},
		ColumnTypes: []string{"VARCHAR(32)", "VARCHAR(16)"},
		PrimaryKey:  []string{"protein_accession", "go_term_id"},
		ForeignKeys: []ForeignKey{
			{Columns: []string{"protein_accession"}, ParentTable: TableProteins, ParentColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
		},
	},
	{
		Name:        TableProteinToTaxonomy,
		Columns:     []string{"protein_accession", "ncbi_taxid"},
		ColumnTypes: []string{"VARCHAR(32)", "BIGINT"},
		PrimaryKey:  []string{"protein_accession", "ncbi_taxid"},
		ForeignKeys: []ForeignKey{
			{Columns: []string{"protein_accession"}, ParentTable: TableProteins, ParentColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
			{Columns: []string{"ncbi_taxid"}, ParentTable: TableTaxonomy, ParentColumns: []string{"ncbi_taxid"}},
		},
	},
}

// MetadataTables are the two small registry tables. They live inside the
// swapped schema, so a full load re-creates them fresh in staging.
var MetadataTables = []Table{
	{
		Name: TableMetadata,
		Columns: []string{
			"version", "release_date", "load_timestamp",
			"swissprot_entry_count", "trembl_entry_count",
		},
		ColumnTypes: []string{
			"VARCHAR(32)", "DATE", "TIMESTAMPTZ",
			"BIGINT", "BIGINT",
		},
		PrimaryKey: []string{"version"},
	},
	{
		Name: TableLoadHistory,
		Columns: []string{
			"id", "run_id", "status", "mode", "dataset",
			"start_time", "end_time", "error_message",
		},
		ColumnTypes: []string{
			"BIGSERIAL", "UUID", "VARCHAR(16)", "VARCHAR(8)", "VARCHAR(16)",
			"TIMESTAMPTZ", "TIMESTAMPTZ", "TEXT",
		},
		PrimaryKey: []string{"id"},
	},
}

// Indexes lists the post-load index definitions, built after bulk ingest so
// COPY runs against bare tables.
var Indexes = []Index{
	{Name: "idx_proteins_uniprot_id", Table: TableProteins, Columns: []string{"uniprot_id"}},
	{Name: "idx_accessions_secondary", Table: TableAccessions, Columns: []string{"secondary_accession"}},
	{Name: "idx_genes_gene_name", Table: TableGenes, Columns: []string{"gene_name"}},
	{Name: "idx_keywords_label", Table: TableKeywords, Columns: []string{"keyword_label"}},
	{Name: "idx_protein_to_go_term", Table: TableProteinToGo, Columns: []string{"go_term_id"}},
	{Name: "idx_protein_to_taxonomy_taxid", Table: TableProteinToTaxonomy, Columns: []string{"ncbi_taxid"}},
	{Name: "idx_proteins_comments_gin", Table: TableProteins, Columns: []string{"comments_data"}, Using: "GIN"},
	{Name: "idx_proteins_features_gin", Table: TableProteins, Columns: []string{"features_data"}, Using: "GIN"},
	{Name: "idx_proteins_db_references_gin", Table: TableProteins, Columns: []string{"db_references_data"}, Using: "GIN"},
}

// LoadOrder returns data table names in bulk-load and merge order.
func LoadOrder() []string {
	names := make([]string, len(Tables))
	for i, t := range Tables {
		names[i] = t.Name
	}
	return names
}

// DataTable returns the catalog entry for a data table name.
func DataTable(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// SetValuedChildTables lists the tables whose rows model "the current set of
// relations for a protein". Delta merges replace these sets wholesale instead
// of upserting row by row, because set membership can shrink.
func SetValuedChildTables() []string {
	return []string{
		TableSequences, TableAccessions, TableGenes,
		TableKeywords, TableProteinToGo, TableProteinToTaxonomy,
	}
}

// NonKeyColumns returns the table's columns that are not part of its primary
// key, in catalog order. Used as the updatable column set for upserts.
func (t Table) NonKeyColumns() []string {
	isKey := make(map[string]bool, len(t.PrimaryKey))
	for _, k := range t.PrimaryKey {
		isKey[k] = true
	}
	var out []string
	for _, c := range t.Columns {
		if !isKey[c] {
			out = append(out, c)
		}
	}
	return out
}

// CreateDDL emits the CREATE TABLE statement for the table inside schema.
func (t Table) CreateDDL(schemaName string) string {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (\n", quoteIdent(schemaName), quoteIdent(t.Name))
	for i, col := range t.Columns {
		ddl += fmt.Sprintf("    %s %s", quoteIdent(col), t.ColumnTypes[i])
		if i < len(t.Columns)-1 || len(t.PrimaryKey) > 0 || len(t.ForeignKeys) > 0 {
			ddl += ","
		}
		ddl += "\n"
	}
	if len(t.PrimaryKey) > 0 {
		ddl += fmt.Sprintf("    PRIMARY KEY (%s)", joinIdents(t.PrimaryKey))
		if len(t.ForeignKeys) > 0 {
			ddl += ","
		}
		ddl += "\n"
	}
	for i, fk := range t.ForeignKeys {
		ddl += fmt.Sprintf("    FOREIGN KEY (%s) REFERENCES %s.%s (%s)",
			joinIdents(fk.Columns), quoteIdent(schemaName), quoteIdent(fk.ParentTable), joinIdents(fk.ParentColumns))
		if fk.OnDelete != "" {
			ddl += " ON DELETE " + fk.OnDelete
		}
		if i < len(t.ForeignKeys)-1 {
			ddl += ","
		}
		ddl += "\n"
	}
	ddl += ")"
	return ddl
}

// CreateDDL emits the CREATE INDEX statement for the index inside schema.
func (ix Index) CreateDDL(schemaName string) string {
	using := ""
	if ix.Using != "" {
		using = " USING " + ix.Using
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s.%s%s (%s)",
		quoteIdent(ix.Name), quoteIdent(schemaName), quoteIdent(ix.Table), using, joinIdents(ix.Columns))
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func joinIdents(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += quoteIdent(n)
	}
	return out
}
