// Package encoder turns in-memory entry records into per-table rows in the
// text format understood by PostgreSQL's COPY FROM STDIN: tab-separated
// fields, backslash escapes, \N for null. Encoding is pure and deterministic
// so repeat runs over the same input produce identical spool files.
package encoder

import (
	"strconv"
	"strings"

	"github.com/nishad/uniload/internal/errors"
	"github.com/nishad/uniload/internal/model"
	"github.com/nishad/uniload/internal/schema"
)

// Profile gates how much semi-structured payload is retained.
type Profile string

const (
	// ProfileStandard keeps only the function, disease and subcellular
	// location comment kinds and nulls the other JSON columns.
	ProfileStandard Profile = "standard"
	// ProfileFull keeps all four JSON columns.
	ProfileFull Profile = "full"
)

// Valid reports whether p names a known profile.
func (p Profile) Valid() bool {
	return p == ProfileStandard || p == ProfileFull
}

// standardCommentKinds are the comment types the standard profile retains.
var standardCommentKinds = map[string]bool{
	"function":             true,
	"disease":              true,
	"subcellular location": true,
}

// Null is the COPY text-format null marker.
const Null = `\N`

// dateLayout matches UniProt entry date attributes.
const dateLayout = "2006-01-02"

// Row is one encoded row destined for a single target table. Fields follow
// the catalog's column order and are already escaped.
type Row struct {
	Table  string
	Fields []string
}

// Line renders the row as one spool-file line, without the trailing newline.
func (r Row) Line() string {
	return strings.Join(r.Fields, "\t")
}

// EncodeEntry produces every target-table row for one entry. All rows for an
// entry form one indivisible batch: the coordinator never splits them across
// a failure boundary. An entry without a primary accession fails with
// KindInvalidEntry.
func EncodeEntry(e *model.Entry, profile Profile) ([]Row, error) {
	const op = errors.Op("encoder.EncodeEntry")
	if e.PrimaryAccession == "" {
		return nil, errors.E(op, errors.KindInvalidEntry, "entry has no primary accession")
	}
	if !profile.Valid() {
		return nil, errors.E(op, errors.KindConfig, "unknown profile "+string(profile))
	}

	rows := make([]Row, 0, 8)

	if e.NCBITaxID != 0 {
		rows = append(rows, Row{
			Table: schema.TableTaxonomy,
			Fields: []string{
				strconv.FormatInt(e.NCBITaxID, 10),
				nullable(e.OrganismScientificName),
				nullable(e.OrganismLineage),
			},
		})
	}

	proteinRow, err := encodeProteinRow(e, profile)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	rows = append(rows, proteinRow)

	if e.HasSequence() {
		rows = append(rows, Row{
			Table:  schema.TableSequences,
			Fields: []string{Escape(e.PrimaryAccession), Escape(e.Sequence)},
		})
	}

	for _, sec := range e.SecondaryAccessions {
		// A secondary accession never references itself.
		if sec == "" || sec == e.PrimaryAccession {
			continue
		}
		rows = append(rows, Row{
			Table:  schema.TableAccessions,
			Fields: []string{Escape(e.PrimaryAccession), Escape(sec)},
		})
	}

	rows = append(rows, encodeGenes(e)...)
	rows = append(rows, encodeKeywords(e)...)
	rows = append(rows, encodeGoTerms(e)...)

	if e.NCBITaxID != 0 {
		rows = append(rows, Row{
			Table:  schema.TableProteinToTaxonomy,
			Fields: []string{Escape(e.PrimaryAccession), strconv.FormatInt(e.NCBITaxID, 10)},
		})
	}

	return rows, nil
}

func encodeProteinRow(e *model.Entry, profile Profile) (Row, error) {
	comments := e.Comments
	features := e.Features
	dbRefs := e.DbReferences
	evidence := e.Evidence

	if profile == ProfileStandard {
		comments = filterComments(comments)
		features, dbRefs, evidence = nil, nil, nil
	}

	commentsJSON, err := model.MarshalNodes(comments)
	if err != nil {
		return Row{}, err
	}
	featuresJSON, err := model.MarshalNodes(features)
	if err != nil {
		return Row{}, err
	}
	dbRefsJSON, err := model.MarshalNodes(dbRefs)
	if err != nil {
		return Row{}, err
	}
	evidenceJSON, err := model.MarshalNodes(evidence)
	if err != nil {
		return Row{}, err
	}

	return Row{
		Table: schema.TableProteins,
		Fields: []string{
			Escape(e.PrimaryAccession),
			nullable(e.UniprotID),
			nullableInt64(e.NCBITaxID),
			nullableInt(e.SequenceLength),
			nullableInt(e.MolecularWeight),
			nullableDate(e.CreatedDate.Format(dateLayout), e.CreatedDate.IsZero()),
			nullableDate(e.ModifiedDate.Format(dateLayout), e.ModifiedDate.IsZero()),
			nullable(commentsJSON),
			nullable(featuresJSON),
			nullable(dbRefsJSON),
			nullable(evidenceJSON),
		},
	}, nil
}

func encodeGenes(e *model.Entry) []Row {
	var rows []Row
	seen := make(map[string]bool, len(e.Genes))
	primaryTaken := false
	for _, g := range e.Genes {
		if g.Name == "" || seen[g.Name] {
			continue
		}
		seen[g.Name] = true
		isPrimary := g.IsPrimary && !primaryTaken
		if isPrimary {
			primaryTaken = true
		}
		rows = append(rows, Row{
			Table:  schema.TableGenes,
			Fields: []string{Escape(e.PrimaryAccession), Escape(g.Name), boolField(isPrimary)},
		})
	}
	return rows
}

func encodeKeywords(e *model.Entry) []Row {
	var rows []Row
	seen := make(map[string]bool, len(e.Keywords))
	for _, kw := range e.Keywords {
		if kw.ID == "" || seen[kw.ID] {
			continue
		}
		seen[kw.ID] = true
		rows = append(rows, Row{
			Table:  schema.TableKeywords,
			Fields: []string{Escape(e.PrimaryAccession), Escape(kw.ID), nullable(kw.Label)},
		})
	}
	return rows
}

func encodeGoTerms(e *model.Entry) []Row {
	var rows []Row
	seen := make(map[string]bool, len(e.GoTerms))
	for _, term := range e.GoTerms {
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		rows = append(rows, Row{
			Table:  schema.TableProteinToGo,
			Fields: []string{Escape(e.PrimaryAccession), Escape(term)},
		})
	}
	return rows
}

func filterComments(comments []*model.Node) []*model.Node {
	var kept []*model.Node
	for _, c := range comments {
		if standardCommentKinds[c.Attr("type")] {
			kept = append(kept, c)
		}
	}
	return kept
}

// Escape applies the COPY text-format escapes: backslash, tab and newline.
func Escape(s string) string {
	if !strings.ContainsAny(s, "\\\t\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Unescape reverses Escape. \N is handled by the caller, not here.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func nullable(s string) string {
	if s == "" {
		return Null
	}
	return Escape(s)
}

func nullableInt(v int) string {
	if v == 0 {
		return Null
	}
	return strconv.Itoa(v)
}

func nullableInt64(v int64) string {
	if v == 0 {
		return Null
	}
	return strconv.FormatInt(v, 10)
}

func nullableDate(formatted string, zero bool) string {
	if zero {
		return Null
	}
	return formatted
}

func boolField(v bool) string {
	if v {
		return "t"
	}
	return "f"
}
