// Package parser streams UniProtKB XML and turns each <entry> element into an
// in-memory entry record. The stream splitter hands raw entry fragments to the
// transform workers so the CPU-heavy XML decode runs on the pool, and memory
// stays bounded by the largest single entry.
package parser

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/nishad/uniload/internal/errors"
)

const readChunk = 64 * 1024

var (
	entryOpen  = []byte("<entry")
	entryClose = []byte("</entry>")
	rootClose  = []byte("</uniprot>")
)

// Stream splits a decompressed UniProtKB XML byte stream into raw <entry>
// fragments. The split is a byte-level boundary scan: the UniProtKB schema is
// fixed and entry close tags never occur inside character data, which is what
// makes the cheap scan safe. The release tag is read from the root element
// before the first fragment is produced.
//
// A Stream is single-pass and not restartable.
type Stream struct {
	r       *bufio.Reader
	buf     []byte
	release string
	done    bool
}

// NewStream wraps r and consumes the document prologue up to the first entry,
// capturing the root element's release attribute.
func NewStream(r io.Reader) (*Stream, error) {
	const op = errors.Op("parser.NewStream")
	s := &Stream{r: bufio.NewReaderSize(r, readChunk)}

	prefix, err := s.readUntil(entryOpen, false)
	if err == io.EOF {
		// Document with no entries. The whole input is the prologue and must
		// still close the root element, or the file was cut short.
		s.done = true
		prefix = s.buf
		s.buf = nil
		if !bytes.Contains(prefix, rootClose) {
			return nil, errors.E(op, errors.KindTransformFailure, "input ends before the root close tag")
		}
	} else if err != nil {
		return nil, errors.E(op, errors.KindTransformFailure, err)
	}

	s.release = releaseFromProlog(prefix)
	return s, nil
}

// ReleaseTag returns the release attribute of the root element, or "" when
// the document does not carry one.
func (s *Stream) ReleaseTag() string {
	return s.release
}

// Next returns the next raw <entry>...</entry> fragment. It returns io.EOF
// after the last entry, and a transform failure when the input runs out
// mid-entry or before the root close tag. Treating a torn document as a clean
// end of stream would load a partial corpus as a complete release.
func (s *Stream) Next() ([]byte, error) {
	const op = errors.Op("parser.Stream.Next")
	if s.done {
		return nil, io.EOF
	}

	frag, err := s.readUntil(entryClose, true)
	if err == io.EOF {
		// An <entry open tag is already buffered, so running out of bytes
		// here means the document was cut off inside an entry.
		s.done = true
		return nil, errors.E(op, errors.KindTransformFailure, "input truncated inside an entry")
	}
	if err != nil {
		return nil, errors.E(op, errors.KindTransformFailure, err)
	}

	// Skip inter-entry whitespace and stop cleanly at the closing root tag.
	if _, err := s.readUntil(entryOpen, false); err == io.EOF {
		s.done = true
		if !bytes.Contains(s.buf, rootClose) {
			return nil, errors.E(op, errors.KindTransformFailure, "input ends before the root close tag")
		}
	} else if err != nil {
		return nil, errors.E(op, errors.KindTransformFailure, err)
	}
	return frag, nil
}

// readUntil scans forward until marker is found. With keep=true it returns
// everything up to and including the marker and discards it from the buffer;
// with keep=false the marker stays buffered for the next call. io.EOF means
// the marker never appeared.
func (s *Stream) readUntil(marker []byte, keep bool) ([]byte, error) {
	searched := 0
	for {
		if idx := bytes.Index(s.buf[searched:], marker); idx >= 0 {
			idx += searched
			var out []byte
			if keep {
				end := idx + len(marker)
				out = append([]byte(nil), s.buf[:end]...)
				s.buf = s.buf[end:]
			} else {
				out = append([]byte(nil), s.buf[:idx]...)
				s.buf = s.buf[idx:]
			}
			return out, nil
		}
		// Resume the search where it left off, minus a possible partial
		// marker at the buffer tail.
		searched = len(s.buf) - len(marker) + 1
		if searched < 0 {
			searched = 0
		}

		chunk := make([]byte, readChunk)
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err == io.EOF && n == 0 {
			return nil, io.EOF
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
	}
}

// releaseFromProlog extracts the release attribute from the root start tag
// found in the document prologue.
func releaseFromProlog(prolog []byte) string {
	start := bytes.Index(prolog, []byte("<uniprot"))
	if start < 0 {
		return ""
	}
	end := bytes.IndexByte(prolog[start:], '>')
	if end < 0 {
		return ""
	}
	tag := string(prolog[start:start+end]) + "></uniprot>"

	dec := xml.NewDecoder(strings.NewReader(tag))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			for _, attr := range se.Attr {
				if attr.Name.Local == "release" {
					return attr.Value
				}
			}
			return ""
		}
	}
}
