// Package fetch is the UniProt mirror client: resumable downloads of the
// knowledgebase archives plus the small release metadata files next to them.
package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nishad/uniload/internal/errors"
)

// DefaultBaseURL is the UniProt current-release mirror directory.
const DefaultBaseURL = "https://ftp.uniprot.org/pub/databases/uniprot/current_release/knowledgebase/complete/"

// File names under the mirror directory.
const (
	SwissprotFile = "uniprot_sprot.xml.gz"
	TremblFile    = "uniprot_trembl.xml.gz"
	reldateFile   = "reldate.txt"
	relnotesFile  = "relnotes.txt"
	checksumsFile = "MD5SUMS"
)

// ReleaseMeta is what the mirror's metadata files say about the current
// release.
type ReleaseMeta struct {
	Version          string
	Date             time.Time
	SwissprotEntries int64
	TremblEntries    int64
}

var (
	checksumLine = regexp.MustCompile(`^\s*([a-f0-9]{32})\s+([\w.\-]+\.gz)\s*$`)
	reldateLine  = regexp.MustCompile(`Release\s+(\S+)\s+of\s+(\S+)`)
	relnotesLine = regexp.MustCompile(`UniProtKB/Swiss-Prot:\s+([\d,]+)\s+entries and UniProtKB/TrEMBL:\s+([\d,]+)\s+entries`)
)

// reldateLayout matches dates like 29-May-2024.
const reldateLayout = "02-Jan-2006"

// Client downloads from one mirror into one data directory.
type Client struct {
	baseURL   string
	dataDir   string
	http      *http.Client
	logger    zerolog.Logger
	checksums map[string]string
}

// NewClient returns a mirror client. baseURL defaults to the UniProt mirror
// when empty.
func NewClient(baseURL, dataDir string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		dataDir: dataDir,
		// No timeout: the archives are tens of gigabytes. Cancellation comes
		// from the request context.
		http:   &http.Client{},
		logger: logger.With().Str("component", "fetch").Logger(),
	}
}

// Download fetches filename into the data directory. A partial file from an
// earlier attempt is resumed with a Range request when the server supports it.
func (c *Client) Download(ctx context.Context, filename string) (string, error) {
	const op = errors.Op("fetch.Download")

	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return "", errors.E(op, errors.KindIO, err)
	}
	dest := filepath.Join(c.dataDir, filename)

	var offset int64
	if st, err := os.Stat(dest); err == nil && st.Size() > 0 {
		offset = st.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+filename, nil)
	if err != nil {
		return "", errors.E(op, errors.KindIO, err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		c.logger.Info().Str("file", filename).Int64("offset", offset).Msg("resuming download")
	} else {
		c.logger.Info().Str("file", filename).Str("url", c.baseURL+filename).Msg("starting download")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.E(op, errors.KindIO, "download "+filename, err)
	}
	defer resp.Body.Close()

	var f *os.File
	switch resp.StatusCode {
	case http.StatusPartialContent:
		f, err = os.OpenFile(dest, os.O_WRONLY|os.O_APPEND, 0o644)
	case http.StatusOK:
		// Server ignored the range request, start over.
		offset = 0
		f, err = os.Create(dest)
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file is already complete.
		return dest, nil
	default:
		return "", errors.E(op, errors.KindIO,
			fmt.Sprintf("download %s: unexpected status %s", filename, resp.Status))
	}
	if err != nil {
		return "", errors.E(op, errors.KindIO, err)
	}
	defer f.Close()

	written, err := io.Copy(f, resp.Body)
	if err != nil {
		return "", errors.E(op, errors.KindIO, "download "+filename, err)
	}
	c.logger.Info().Str("file", filename).Int64("bytes", offset+written).Msg("download complete")
	return dest, nil
}

// Checksums fetches and parses the MD5SUMS file. A missing file is not an
// error; verification is skipped with a warning.
func (c *Client) Checksums(ctx context.Context) (map[string]string, error) {
	const op = errors.Op("fetch.Checksums")
	if c.checksums != nil {
		return c.checksums, nil
	}

	body, status, err := c.fetchText(ctx, checksumsFile)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if status == http.StatusNotFound {
		c.logger.Warn().Msg("no MD5SUMS on the mirror, skipping checksum verification")
		c.checksums = map[string]string{}
		return c.checksums, nil
	}

	sums := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		if m := checksumLine.FindStringSubmatch(line); m != nil {
			sums[m[2]] = m[1]
		}
	}
	c.checksums = sums
	return sums, nil
}

// Verify compares path's MD5 digest against the mirror's checksum file. Files
// the mirror publishes no checksum for pass with a warning.
func (c *Client) Verify(ctx context.Context, path string) error {
	const op = errors.Op("fetch.Verify")

	sums, err := c.Checksums(ctx)
	if err != nil {
		return errors.Wrap(op, err)
	}
	want, ok := sums[filepath.Base(path)]
	if !ok {
		c.logger.Warn().Str("file", filepath.Base(path)).Msg("no checksum published, skipping verification")
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.E(op, errors.KindIO, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return errors.E(op, errors.KindIO, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return errors.E(op, errors.KindIO,
			fmt.Sprintf("checksum mismatch for %s: want %s, got %s", filepath.Base(path), want, got))
	}
	c.logger.Debug().Str("file", filepath.Base(path)).Msg("checksum verified")
	return nil
}

// ReleaseInfo parses reldate.txt for version and date, and relnotes.txt for
// entry counts. Missing counts degrade to zero; a missing version is an error.
func (c *Client) ReleaseInfo(ctx context.Context) (*ReleaseMeta, error) {
	const op = errors.Op("fetch.ReleaseInfo")

	body, status, err := c.fetchText(ctx, reldateFile)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if status != http.StatusOK {
		return nil, errors.E(op, errors.KindIO, "fetch reldate.txt: status "+strconv.Itoa(status))
	}
	m := reldateLine.FindStringSubmatch(body)
	if m == nil {
		return nil, errors.E(op, errors.KindIO, "no release version in reldate.txt")
	}
	meta := &ReleaseMeta{Version: m[1]}
	if d, err := time.Parse(reldateLayout, m[2]); err == nil {
		meta.Date = d
	}

	notes, status, err := c.fetchText(ctx, relnotesFile)
	if err != nil || status != http.StatusOK {
		c.logger.Warn().Msg("could not fetch relnotes.txt, entry counts unset")
		return meta, nil
	}
	if m := relnotesLine.FindStringSubmatch(notes); m != nil {
		meta.SwissprotEntries = parseCount(m[1])
		meta.TremblEntries = parseCount(m[2])
	} else {
		c.logger.Warn().Msg("could not parse entry counts from relnotes.txt")
	}
	return meta, nil
}

func (c *Client) fetchText(ctx context.Context, filename string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+filename, nil)
	if err != nil {
		return "", 0, errors.E(errors.Op("fetch.fetchText"), errors.KindIO, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, errors.E(errors.Op("fetch.fetchText"), errors.KindIO, "fetch "+filename, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, errors.E(errors.Op("fetch.fetchText"), errors.KindIO, err)
	}
	return string(body), resp.StatusCode, nil
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	return n
}

// DatasetFiles maps a dataset selector to the archive files it needs.
func DatasetFiles(dataset string) ([]string, error) {
	switch dataset {
	case "swissprot":
		return []string{SwissprotFile}, nil
	case "trembl":
		return []string{TremblFile}, nil
	case "all":
		return []string{SwissprotFile, TremblFile}, nil
	}
	return nil, errors.E(errors.Op("fetch.DatasetFiles"), errors.KindConfig,
		"unknown dataset "+dataset+" (want swissprot, trembl or all)")
}
