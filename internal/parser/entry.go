package parser

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nishad/uniload/internal/errors"
	"github.com/nishad/uniload/internal/model"
)

const dateLayout = "2006-01-02"

// ParseEntry decodes one raw <entry> fragment into an entry record. The
// fragment's element tree is materialized once, walked once, and dropped when
// this function returns; nothing from it is retained beyond the Entry.
func ParseEntry(fragment []byte) (*model.Entry, error) {
	const op = errors.Op("parser.ParseEntry")

	root, err := decodeFragment(fragment)
	if err != nil {
		return nil, errors.E(op, errors.KindInvalidEntry, err)
	}
	if root.Tag != "entry" {
		return nil, errors.E(op, errors.KindInvalidEntry, "fragment root is <"+root.Tag+">, not <entry>")
	}

	e := &model.Entry{}
	if v := root.Attr("created"); v != "" {
		e.CreatedDate, _ = time.Parse(dateLayout, v)
	}
	if v := root.Attr("modified"); v != "" {
		e.ModifiedDate, _ = time.Parse(dateLayout, v)
	}

	for i, acc := range root.FindAll("accession") {
		if i == 0 {
			e.PrimaryAccession = acc.Text
		} else {
			e.SecondaryAccessions = append(e.SecondaryAccessions, acc.Text)
		}
	}
	if e.PrimaryAccession == "" {
		return nil, errors.E(op, errors.KindInvalidEntry, "entry has no primary accession")
	}

	e.UniprotID = root.FindText("name")
	parseOrganism(root.Find("organism"), e)
	parseSequence(root.Find("sequence"), e)
	parseGenes(root, e)
	parseKeywords(root, e)

	for _, child := range root.Children {
		switch child.Tag {
		case "comment":
			e.Comments = append(e.Comments, child)
		case "feature":
			e.Features = append(e.Features, child)
		case "evidence":
			e.Evidence = append(e.Evidence, child)
		case "dbReference":
			switch child.Attr("type") {
			case "GO":
				e.GoTerms = append(e.GoTerms, child.Attr("id"))
			case "NCBI Taxonomy":
				// Normalized into ncbi_taxid via <organism>.
			default:
				e.DbReferences = append(e.DbReferences, child)
			}
		}
	}

	return e, nil
}

func parseOrganism(organism *model.Node, e *model.Entry) {
	if organism == nil {
		return
	}
	for _, name := range organism.FindAll("name") {
		if name.Attr("type") == "scientific" {
			e.OrganismScientificName = name.Text
			break
		}
	}
	for _, ref := range organism.FindAll("dbReference") {
		if ref.Attr("type") == "NCBI Taxonomy" {
			e.NCBITaxID, _ = strconv.ParseInt(ref.Attr("id"), 10, 64)
			break
		}
	}
	if lineage := organism.Find("lineage"); lineage != nil {
		var taxa []string
		for _, taxon := range lineage.FindAll("taxon") {
			taxa = append(taxa, taxon.Text)
		}
		e.OrganismLineage = strings.Join(taxa, "; ")
	}
}

func parseSequence(seq *model.Node, e *model.Entry) {
	if seq == nil {
		return
	}
	e.SequenceLength, _ = strconv.Atoi(seq.Attr("length"))
	e.MolecularWeight, _ = strconv.Atoi(seq.Attr("mass"))
	// Sequence text wraps across lines in the source XML.
	e.Sequence = stripWhitespace(seq.Text)
}

func parseGenes(root *model.Node, e *model.Entry) {
	for _, gene := range root.FindAll("gene") {
		for _, name := range gene.FindAll("name") {
			if name.Text == "" {
				continue
			}
			e.Genes = append(e.Genes, model.Gene{
				Name:      name.Text,
				IsPrimary: name.Attr("type") == "primary",
			})
		}
	}
}

func parseKeywords(root *model.Node, e *model.Entry) {
	for _, kw := range root.FindAll("keyword") {
		e.Keywords = append(e.Keywords, model.Keyword{
			ID:    kw.Attr("id"),
			Label: kw.Text,
		})
	}
}

// decodeFragment builds the element tree for one fragment.
func decodeFragment(fragment []byte) (*model.Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(fragment))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return buildNode(dec, se)
		}
	}
}

// buildNode recursively materializes the subtree rooted at start.
func buildNode(dec *xml.Decoder, start xml.StartElement) (*model.Node, error) {
	n := &model.Node{Tag: start.Name.Local}
	for _, attr := range start.Attr {
		if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
			continue
		}
		n.Attrs = append(n.Attrs, model.Attr{Name: attr.Name.Local, Value: attr.Value})
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := buildNode(dec, t)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			n.Text = strings.TrimSpace(text.String())
			return n, nil
		}
	}
}

func stripWhitespace(s string) string {
	if !strings.ContainsAny(s, " \t\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
