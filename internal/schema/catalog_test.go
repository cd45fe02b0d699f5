package schema

import (
	"strings"
	"testing"
)

func TestLoadOrderParentsFirst(t *testing.T) {
	order := LoadOrder()
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}

	if pos[TableTaxonomy] > pos[TableProteins] {
		t.Error("taxonomy must load before proteins")
	}
	for _, child := range SetValuedChildTables() {
		if pos[child] < pos[TableProteins] {
			t.Errorf("%s must load after proteins", child)
		}
	}
}

func TestEveryForeignKeyTargetsEarlierTable(t *testing.T) {
	pos := make(map[string]int)
	for i, tbl := range Tables {
		pos[tbl.Name] = i
	}
	for _, tbl := range Tables {
		for _, fk := range tbl.ForeignKeys {
			parentPos, ok := pos[fk.ParentTable]
			if !ok {
				t.Errorf("%s references unknown table %s", tbl.Name, fk.ParentTable)
				continue
			}
			if parentPos >= pos[tbl.Name] {
				t.Errorf("%s references %s which loads later", tbl.Name, fk.ParentTable)
			}
		}
	}
}

func TestColumnTypesAligned(t *testing.T) {
	all := append(append([]Table{}, Tables...), MetadataTables...)
	for _, tbl := range all {
		if len(tbl.Columns) != len(tbl.ColumnTypes) {
			t.Errorf("%s: %d columns but %d types", tbl.Name, len(tbl.Columns), len(tbl.ColumnTypes))
		}
	}
}

func TestCreateDDL(t *testing.T) {
	tbl, ok := DataTable(TableAccessions)
	if !ok {
		t.Fatal("accessions table missing from catalog")
	}
	ddl := tbl.CreateDDL("uniprot_staging_2024_03")

	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "uniprot_staging_2024_03"."accessions"`,
		`PRIMARY KEY ("protein_accession", "secondary_accession")`,
		`REFERENCES "uniprot_staging_2024_03"."proteins" ("primary_accession")`,
		`ON DELETE CASCADE`,
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("DDL missing %q:\n%s", want, ddl)
		}
	}
}

func TestIndexDDL(t *testing.T) {
	var gin, btree Index
	for _, ix := range Indexes {
		switch ix.Name {
		case "idx_proteins_comments_gin":
			gin = ix
		case "idx_genes_gene_name":
			btree = ix
		}
	}

	ginDDL := gin.CreateDDL("uniprot_public")
	if !strings.Contains(ginDDL, `USING GIN ("comments_data")`) {
		t.Errorf("GIN index DDL wrong: %s", ginDDL)
	}

	btreeDDL := btree.CreateDDL("uniprot_public")
	if strings.Contains(btreeDDL, "USING") {
		t.Errorf("B-tree index should not name an access method: %s", btreeDDL)
	}
}

func TestNonKeyColumns(t *testing.T) {
	tbl, _ := DataTable(TableGenes)
	got := tbl.NonKeyColumns()
	if len(got) != 1 || got[0] != "is_primary" {
		t.Errorf("NonKeyColumns(genes) = %v, want [is_primary]", got)
	}

	link, _ := DataTable(TableProteinToGo)
	if cols := link.NonKeyColumns(); len(cols) != 0 {
		t.Errorf("NonKeyColumns(protein_to_go) = %v, want empty", cols)
	}
}
