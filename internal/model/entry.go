// Package model defines the in-memory records exchanged between the parser,
// the row encoder and the load pipeline.
package model

import "time"

// Gene is a single gene name attached to an entry. At most one gene per entry
// is primary.
type Gene struct {
	Name      string
	IsPrimary bool
}

// Keyword is a controlled-vocabulary keyword attached to an entry.
type Keyword struct {
	ID    string
	Label string
}

// Entry is one UniProtKB protein record, extracted from a single <entry>
// element. Entries are immutable once emitted by the parser.
type Entry struct {
	PrimaryAccession    string
	SecondaryAccessions []string
	UniprotID           string

	NCBITaxID              int64
	OrganismScientificName string
	OrganismLineage        string

	SequenceLength  int
	MolecularWeight int
	Sequence        string

	CreatedDate  time.Time
	ModifiedDate time.Time

	Genes    []Gene
	Keywords []Keyword
	GoTerms  []string

	// Semi-structured side payloads, kept as element trees and serialized to
	// JSON by the row encoder. DbReferences excludes the GO and NCBI Taxonomy
	// types, which are normalized into GoTerms and NCBITaxID instead.
	Comments     []*Node
	Features     []*Node
	DbReferences []*Node
	Evidence     []*Node
}

// HasSequence reports whether the entry carried a <sequence> element.
func (e *Entry) HasSequence() bool {
	return e.Sequence != ""
}
