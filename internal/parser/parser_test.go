package parser

import (
	"io"
	"strings"
	"testing"

	"github.com/nishad/uniload/internal/errors"
)

const docHeader = `<?xml version="1.0" encoding="UTF-8"?>
<uniprot xmlns="http://uniprot.org/uniprot" release="2024_03">
`

const docFooter = `</uniprot>
`

const entryP11111 = `<entry dataset="Swiss-Prot" created="1990-04-01" modified="2024-03-27" version="180">
  <accession>P11111</accession>
  <accession>Q00001</accession>
  <name>TEST1_HUMAN</name>
  <gene>
    <name type="primary">GENEA</name>
    <name type="synonym">GENEA2</name>
  </gene>
  <organism>
    <name type="scientific">Homo sapiens</name>
    <name type="common">Human</name>
    <dbReference type="NCBI Taxonomy" id="9606"/>
    <lineage>
      <taxon>Eukaryota</taxon>
      <taxon>Metazoa</taxon>
      <taxon>Chordata</taxon>
    </lineage>
  </organism>
  <comment type="function">
    <text evidence="1">Binds stuff.</text>
  </comment>
  <comment type="similarity">
    <text>Belongs to a family.</text>
  </comment>
  <dbReference type="GO" id="GO:0005515">
    <property type="term" value="F:protein binding"/>
  </dbReference>
  <dbReference type="PDB" id="1ABC"/>
  <keyword id="KW-0001">2Fe-2S</keyword>
  <feature type="chain" id="PRO_0000001">
    <location>
      <begin position="1"/>
      <end position="8"/>
    </location>
  </feature>
  <evidence key="1" type="ECO:0000269"/>
  <sequence length="8" mass="1024" checksum="ABCDEF" modified="1990-04-01" version="1">MKVA
LLGG</sequence>
</entry>
`

func testDocument(entries ...string) string {
	return docHeader + strings.Join(entries, "") + docFooter
}

func collectFragments(t *testing.T, doc string) (*Stream, [][]byte) {
	t.Helper()
	s, err := NewStream(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	var frags [][]byte
	for {
		frag, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frags = append(frags, frag)
	}
	return s, frags
}

func TestStreamReleaseTag(t *testing.T) {
	s, _ := collectFragments(t, testDocument(entryP11111))
	if got := s.ReleaseTag(); got != "2024_03" {
		t.Errorf("ReleaseTag() = %q, want 2024_03", got)
	}
}

func TestStreamSplitsEntries(t *testing.T) {
	second := strings.Replace(entryP11111, "P11111", "P22222", 1)
	_, frags := collectFragments(t, testDocument(entryP11111, second))

	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}
	for i, frag := range frags {
		if !strings.HasPrefix(string(frag), "<entry") || !strings.HasSuffix(string(frag), "</entry>") {
			t.Errorf("fragment %d is not a complete entry element", i)
		}
	}
	if !strings.Contains(string(frags[1]), "P22222") {
		t.Error("second fragment should contain the second accession")
	}
}

func TestStreamEmptyDocument(t *testing.T) {
	s, frags := collectFragments(t, docHeader+docFooter)
	if len(frags) != 0 {
		t.Errorf("got %d fragments from empty document", len(frags))
	}
	if s.ReleaseTag() != "2024_03" {
		t.Errorf("ReleaseTag() = %q", s.ReleaseTag())
	}
}

func TestStreamTruncatedEntryFails(t *testing.T) {
	torn := entryP11111[:len(entryP11111)/2]
	s, err := NewStream(strings.NewReader(docHeader + entryP11111 + torn))
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	if _, err := s.Next(); err != nil {
		t.Fatalf("first entry: %v", err)
	}

	_, err = s.Next()
	if err == nil || err == io.EOF {
		t.Fatal("input cut off inside an entry reported as a clean end of stream")
	}
	if !errors.Is(errors.KindTransformFailure, err) {
		t.Errorf("error = %v, want a transform failure", err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Next after failure = %v, want io.EOF", err)
	}
}

func TestStreamMissingRootCloseFails(t *testing.T) {
	s, err := NewStream(strings.NewReader(docHeader + entryP11111))
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	_, err = s.Next()
	if err == nil || err == io.EOF {
		t.Fatal("input cut off before the root close tag reported as a clean end of stream")
	}
	if !errors.Is(errors.KindTransformFailure, err) {
		t.Errorf("error = %v, want a transform failure", err)
	}
}

func TestStreamTruncatedPrologueFails(t *testing.T) {
	_, err := NewStream(strings.NewReader(docHeader))
	if err == nil {
		t.Fatal("entryless input without a root close tag should not stream")
	}
	if !errors.Is(errors.KindTransformFailure, err) {
		t.Errorf("error = %v, want a transform failure", err)
	}
}

func TestStreamNoReleaseAttribute(t *testing.T) {
	doc := strings.Replace(testDocument(entryP11111), ` release="2024_03"`, "", 1)
	s, frags := collectFragments(t, doc)
	if s.ReleaseTag() != "" {
		t.Errorf("ReleaseTag() = %q, want empty", s.ReleaseTag())
	}
	if len(frags) != 1 {
		t.Errorf("got %d fragments, want 1", len(frags))
	}
}

func TestParseEntryFields(t *testing.T) {
	e, err := ParseEntry([]byte(entryP11111))
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}

	if e.PrimaryAccession != "P11111" {
		t.Errorf("PrimaryAccession = %q", e.PrimaryAccession)
	}
	if len(e.SecondaryAccessions) != 1 || e.SecondaryAccessions[0] != "Q00001" {
		t.Errorf("SecondaryAccessions = %v", e.SecondaryAccessions)
	}
	if e.UniprotID != "TEST1_HUMAN" {
		t.Errorf("UniprotID = %q", e.UniprotID)
	}
	if e.NCBITaxID != 9606 {
		t.Errorf("NCBITaxID = %d", e.NCBITaxID)
	}
	if e.OrganismScientificName != "Homo sapiens" {
		t.Errorf("OrganismScientificName = %q", e.OrganismScientificName)
	}
	if e.OrganismLineage != "Eukaryota; Metazoa; Chordata" {
		t.Errorf("OrganismLineage = %q", e.OrganismLineage)
	}
	if e.SequenceLength != 8 || e.MolecularWeight != 1024 {
		t.Errorf("sequence length/mass = %d/%d", e.SequenceLength, e.MolecularWeight)
	}
	if e.Sequence != "MKVALLGG" {
		t.Errorf("Sequence = %q, want whitespace stripped", e.Sequence)
	}
	if e.CreatedDate.Format("2006-01-02") != "1990-04-01" {
		t.Errorf("CreatedDate = %v", e.CreatedDate)
	}
	if e.ModifiedDate.Format("2006-01-02") != "2024-03-27" {
		t.Errorf("ModifiedDate = %v", e.ModifiedDate)
	}

	if len(e.Genes) != 2 {
		t.Fatalf("Genes = %v", e.Genes)
	}
	if !e.Genes[0].IsPrimary || e.Genes[0].Name != "GENEA" {
		t.Errorf("first gene = %+v, want primary GENEA", e.Genes[0])
	}
	if e.Genes[1].IsPrimary {
		t.Error("synonym gene must not be primary")
	}

	if len(e.Keywords) != 1 || e.Keywords[0].ID != "KW-0001" || e.Keywords[0].Label != "2Fe-2S" {
		t.Errorf("Keywords = %v", e.Keywords)
	}
	if len(e.GoTerms) != 1 || e.GoTerms[0] != "GO:0005515" {
		t.Errorf("GoTerms = %v", e.GoTerms)
	}
}

func TestParseEntryPayloads(t *testing.T) {
	e, err := ParseEntry([]byte(entryP11111))
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}

	if len(e.Comments) != 2 {
		t.Errorf("Comments = %d nodes, want 2", len(e.Comments))
	}
	if e.Comments[0].Attr("type") != "function" {
		t.Errorf("first comment type = %q", e.Comments[0].Attr("type"))
	}
	if got := e.Comments[0].FindText("text"); got != "Binds stuff." {
		t.Errorf("comment text = %q", got)
	}

	if len(e.Features) != 1 || e.Features[0].Attr("type") != "chain" {
		t.Errorf("Features = %v", e.Features)
	}
	if len(e.Evidence) != 1 || e.Evidence[0].Attr("type") != "ECO:0000269" {
		t.Errorf("Evidence = %v", e.Evidence)
	}

	// GO and NCBI Taxonomy references are normalized, everything else stays.
	if len(e.DbReferences) != 1 || e.DbReferences[0].Attr("type") != "PDB" {
		t.Errorf("DbReferences = %v", e.DbReferences)
	}
}

func TestParseEntryFirstScientificNameWins(t *testing.T) {
	doubled := strings.Replace(entryP11111,
		`<name type="scientific">Homo sapiens</name>`,
		`<name type="scientific">Homo sapiens</name><name type="scientific">Homo sapiens neanderthalensis</name>`, 1)
	e, err := ParseEntry([]byte(doubled))
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	if e.OrganismScientificName != "Homo sapiens" {
		t.Errorf("OrganismScientificName = %q, want the first", e.OrganismScientificName)
	}
}

func TestParseEntryNoAccession(t *testing.T) {
	bad := `<entry created="2000-01-01" modified="2000-01-01"><name>GHOST_HUMAN</name></entry>`
	_, err := ParseEntry([]byte(bad))
	if !errors.Is(errors.KindInvalidEntry, err) {
		t.Errorf("want KindInvalidEntry, got %v", err)
	}
}

func TestParseEntryMissingOptionals(t *testing.T) {
	minimal := `<entry created="2000-01-01" modified="2001-01-01"><accession>P77777</accession></entry>`
	e, err := ParseEntry([]byte(minimal))
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	if e.MolecularWeight != 0 || e.SequenceLength != 0 || e.Sequence != "" {
		t.Error("sequence fields should be zero for an entry without <sequence>")
	}
	if e.NCBITaxID != 0 || len(e.Genes) != 0 || len(e.GoTerms) != 0 {
		t.Error("optional collections should be empty")
	}
}

func TestParseEntryMalformedXML(t *testing.T) {
	_, err := ParseEntry([]byte(`<entry><accession>P1</accession>`))
	if !errors.Is(errors.KindInvalidEntry, err) {
		t.Errorf("want KindInvalidEntry for truncated fragment, got %v", err)
	}
}
