package transform

import (
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"

	"github.com/nishad/uniload/internal/encoder"
	"github.com/nishad/uniload/internal/errors"
	"github.com/nishad/uniload/internal/schema"
)

// SpoolFileName returns the spool file name for a table.
func SpoolFileName(table string) string {
	return table + ".tsv.gz"
}

// spool owns one gzip-compressed TSV file per data table. It is used only by
// the coordinator's writer goroutine, so it needs no locking.
type spool struct {
	dir   string
	files map[string]*spoolFile
	rows  map[string]int64
	// seenTaxa dedupes taxonomy rows: many entries share one organism, and
	// the taxonomy table is keyed on ncbi_taxid alone.
	seenTaxa map[string]bool
}

type spoolFile struct {
	f  *os.File
	gz *gzip.Writer
	bw *bufio.Writer
}

func openSpool(dir string) (*spool, error) {
	const op = errors.Op("transform.openSpool")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.E(op, errors.KindIO, err)
	}

	s := &spool{
		dir:      dir,
		files:    make(map[string]*spoolFile, len(schema.Tables)),
		rows:     make(map[string]int64, len(schema.Tables)),
		seenTaxa: make(map[string]bool),
	}
	for _, table := range schema.LoadOrder() {
		f, err := os.Create(filepath.Join(dir, SpoolFileName(table)))
		if err != nil {
			s.discard()
			return nil, errors.E(op, errors.KindIO, err)
		}
		gz := gzip.NewWriter(f)
		s.files[table] = &spoolFile{f: f, gz: gz, bw: bufio.NewWriter(gz)}
		s.rows[table] = 0
	}
	return s, nil
}

// writeRow appends one encoded row to its table's spool file.
func (s *spool) writeRow(row encoder.Row) error {
	sf, ok := s.files[row.Table]
	if !ok {
		return errors.E(errors.Op("transform.writeRow"), errors.KindTransformFailure,
			"row for unknown table "+row.Table)
	}
	if row.Table == schema.TableTaxonomy && len(row.Fields) > 0 {
		if s.seenTaxa[row.Fields[0]] {
			return nil
		}
		s.seenTaxa[row.Fields[0]] = true
	}
	if _, err := sf.bw.WriteString(row.Line()); err != nil {
		return errors.E(errors.Op("transform.writeRow"), errors.KindIO, err)
	}
	if err := sf.bw.WriteByte('\n'); err != nil {
		return errors.E(errors.Op("transform.writeRow"), errors.KindIO, err)
	}
	s.rows[row.Table]++
	return nil
}

// finalize flushes and closes every spool file, leaving them on disk for the
// bulk loader.
func (s *spool) finalize() error {
	const op = errors.Op("transform.spool.finalize")
	for _, sf := range s.files {
		if err := sf.bw.Flush(); err != nil {
			return errors.E(op, errors.KindIO, err)
		}
		if err := sf.gz.Close(); err != nil {
			return errors.E(op, errors.KindIO, err)
		}
		if err := sf.f.Close(); err != nil {
			return errors.E(op, errors.KindIO, err)
		}
	}
	return nil
}

// discard closes and deletes every spool file. Used on failure and
// cancellation so no partial spools are left behind.
func (s *spool) discard() {
	for table, sf := range s.files {
		sf.gz.Close()
		sf.f.Close()
		os.Remove(filepath.Join(s.dir, SpoolFileName(table)))
		delete(s.files, table)
	}
}

// paths returns table → spool file path for every table with a file.
func (s *spool) paths() map[string]string {
	out := make(map[string]string, len(s.files))
	for table := range s.files {
		out[table] = filepath.Join(s.dir, SpoolFileName(table))
	}
	return out
}
